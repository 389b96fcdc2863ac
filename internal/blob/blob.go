// Package blob deletes stored media objects addressed by bucket and path.
package blob

import (
	"context"
	"errors"
)

// ErrNotFound is returned when the object to delete does not exist.
var ErrNotFound = errors.New("object not found")

// Deleter removes one object from a bucket.
type Deleter interface {
	Delete(ctx context.Context, bucket, path string) error
}
