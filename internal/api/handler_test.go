package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/kalambet/keepsake/internal/cleanup"
	"github.com/kalambet/keepsake/internal/logging"
	"github.com/kalambet/keepsake/internal/pipeline"
	"github.com/kalambet/keepsake/internal/storage"
)

type mockProcessor struct {
	momentFn func(ctx context.Context, owner, id string) (pipeline.Result, error)
	storyFn  func(ctx context.Context, owner, id string) (pipeline.Result, error)
	titleFn  func(ctx context.Context, transcript string, t storage.MemoryType) (pipeline.TitleResult, error)
}

func (m *mockProcessor) ProcessMoment(ctx context.Context, owner, id string) (pipeline.Result, error) {
	return m.momentFn(ctx, owner, id)
}

func (m *mockProcessor) ProcessStory(ctx context.Context, owner, id string) (pipeline.Result, error) {
	return m.storyFn(ctx, owner, id)
}

func (m *mockProcessor) GenerateTitle(ctx context.Context, transcript string, t storage.MemoryType) (pipeline.TitleResult, error) {
	return m.titleFn(ctx, transcript, t)
}

type mockBatch struct {
	fn func(ctx context.Context) (cleanup.BatchResult, error)
}

func (m *mockBatch) ProcessBatch(ctx context.Context) (cleanup.BatchResult, error) {
	return m.fn(ctx)
}

type mockTokens map[string]string

func (m mockTokens) LookupToken(_ context.Context, token string) (string, error) {
	if id, ok := m[token]; ok {
		return id, nil
	}
	return "", storage.ErrNotFound
}

const (
	testUserToken    = "user-token"
	testServiceToken = "service-token"
)

var generatedAt = time.Date(2025, 3, 4, 5, 6, 7, 890_000_000, time.UTC)

func newTestHandler(t *testing.T, proc *mockProcessor, batch *mockBatch) http.Handler {
	t.Helper()
	if proc == nil {
		proc = &mockProcessor{}
	}
	if batch == nil {
		batch = &mockBatch{}
	}
	return NewHandler(Deps{
		Processor:    proc,
		Cleanup:      batch,
		Tokens:       mockTokens{testUserToken: "u1"},
		ServiceToken: testServiceToken,
		Logger:       logging.Discard(),
	})
}

func doRequest(h http.Handler, method, path, token, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func decodeError(t *testing.T, rec *httptest.ResponseRecorder) errorResponse {
	t.Helper()
	var e errorResponse
	if err := json.NewDecoder(rec.Body).Decode(&e); err != nil {
		t.Fatalf("decoding error body: %v", err)
	}
	return e
}

func TestHealth(t *testing.T) {
	h := newTestHandler(t, nil, nil)
	rec := doRequest(h, http.MethodGet, "/health", "", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), `"ok"`) {
		t.Errorf("body = %s", rec.Body.String())
	}
}

func TestMethodCheckedBeforeAuth(t *testing.T) {
	h := newTestHandler(t, nil, nil)
	for _, path := range []string{"/process-moment", "/process-story", "/generate-title", "/cleanup-media"} {
		rec := doRequest(h, http.MethodGet, path, "", "")
		if rec.Code != http.StatusMethodNotAllowed {
			t.Errorf("%s: status = %d, want 405", path, rec.Code)
			continue
		}
		if e := decodeError(t, rec); e.Code != CodeMethodNotAllowed {
			t.Errorf("%s: code = %q", path, e.Code)
		}
	}
}

func TestUserAuth(t *testing.T) {
	h := newTestHandler(t, nil, nil)

	tests := []struct {
		name   string
		header string
		want   string
	}{
		{"missing", "", "Missing authorization header"},
		{"wrong scheme", "Basic abc", "Invalid authorization header format"},
		{"unknown token", "Bearer nope", "Invalid or expired token"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodPost, "/process-moment", strings.NewReader(`{"memoryId":"m1"}`))
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			rec := httptest.NewRecorder()
			h.ServeHTTP(rec, req)
			if rec.Code != http.StatusUnauthorized {
				t.Fatalf("status = %d, want 401", rec.Code)
			}
			e := decodeError(t, rec)
			if e.Code != CodeUnauthorized || e.Message != tt.want {
				t.Errorf("got %+v, want message %q", e, tt.want)
			}
		})
	}
}

func TestProcessMoment_Success(t *testing.T) {
	var gotOwner, gotID string
	proc := &mockProcessor{momentFn: func(_ context.Context, owner, id string) (pipeline.Result, error) {
		gotOwner, gotID = owner, id
		return pipeline.Result{
			Title:         "Morning Walk",
			ProcessedText: "I walked.",
			Status:        pipeline.OutcomeSuccess,
			GeneratedAt:   generatedAt,
		}, nil
	}}
	h := newTestHandler(t, proc, nil)

	rec := doRequest(h, http.MethodPost, "/process-moment", testUserToken, `{"memoryId":"m1"}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body.String())
	}
	if gotOwner != "u1" || gotID != "m1" {
		t.Errorf("called with owner=%q id=%q", gotOwner, gotID)
	}

	var resp processResponse
	json.NewDecoder(rec.Body).Decode(&resp)
	if resp.Title != "Morning Walk" || resp.Status != "success" {
		t.Errorf("resp = %+v", resp)
	}
	if resp.GeneratedAt != "2025-03-04T05:06:07.890Z" {
		t.Errorf("generatedAt = %q", resp.GeneratedAt)
	}
}

func TestProcess_InvalidBody(t *testing.T) {
	h := newTestHandler(t, &mockProcessor{}, nil)

	tests := []struct {
		name string
		body string
	}{
		{"not json", `{`},
		{"missing id", `{}`},
		{"numeric id", `{"memoryId":42}`},
		{"empty id", `{"memoryId":""}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := doRequest(h, http.MethodPost, "/process-moment", testUserToken, tt.body)
			if rec.Code != http.StatusBadRequest {
				t.Fatalf("status = %d, want 400", rec.Code)
			}
			if e := decodeError(t, rec); e.Code != CodeInvalidRequest {
				t.Errorf("code = %q", e.Code)
			}
		})
	}
}

func TestProcess_PipelineErrors(t *testing.T) {
	tests := []struct {
		name       string
		err        error
		wantStatus int
		wantCode   string
		wantMsg    string
	}{
		{
			name:       "not found",
			err:        &pipeline.Error{Code: pipeline.CodeNotFound, Message: "Memory not found"},
			wantStatus: http.StatusNotFound,
			wantCode:   CodeNotFound,
			wantMsg:    "Memory not found",
		},
		{
			name:       "wrong type",
			err:        &pipeline.Error{Code: pipeline.CodeInvalidRequest, Message: "This function only processes stories"},
			wantStatus: http.StatusBadRequest,
			wantCode:   CodeInvalidRequest,
			wantMsg:    "This function only processes stories",
		},
		{
			name:       "processing failed hides cause",
			err:        &pipeline.Error{Code: pipeline.CodeProcessingFailed, Message: "Failed to generate narrative", Err: errors.New("upstream 500: secret detail")},
			wantStatus: http.StatusInternalServerError,
			wantCode:   CodeProcessingFailed,
			wantMsg:    "Failed to generate narrative",
		},
		{
			name:       "untyped error",
			err:        errors.New("boom"),
			wantStatus: http.StatusInternalServerError,
			wantCode:   CodeInternal,
			wantMsg:    "An unexpected error occurred",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			proc := &mockProcessor{storyFn: func(context.Context, string, string) (pipeline.Result, error) {
				return pipeline.Result{}, tt.err
			}}
			h := newTestHandler(t, proc, nil)

			rec := doRequest(h, http.MethodPost, "/process-story", testUserToken, `{"memoryId":"s1"}`)
			if rec.Code != tt.wantStatus {
				t.Fatalf("status = %d, want %d", rec.Code, tt.wantStatus)
			}
			body := rec.Body.String()
			if strings.Contains(body, "secret detail") {
				t.Errorf("response leaked cause: %s", body)
			}
			var e errorResponse
			json.Unmarshal([]byte(body), &e)
			if e.Code != tt.wantCode || e.Message != tt.wantMsg {
				t.Errorf("got %+v", e)
			}
		})
	}
}

func TestGenerateTitle(t *testing.T) {
	var gotType storage.MemoryType
	proc := &mockProcessor{titleFn: func(_ context.Context, transcript string, mt storage.MemoryType) (pipeline.TitleResult, error) {
		gotType = mt
		return pipeline.TitleResult{Title: "Lake Walk", Status: pipeline.OutcomeSuccess, GeneratedAt: generatedAt}, nil
	}}
	h := newTestHandler(t, proc, nil)

	rec := doRequest(h, http.MethodPost, "/generate-title", testUserToken, `{"transcript":"we walked","memoryType":"story"}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body.String())
	}
	if gotType != storage.MemoryStory {
		t.Errorf("memoryType = %q", gotType)
	}
	var resp titleResponse
	json.NewDecoder(rec.Body).Decode(&resp)
	if resp.Title != "Lake Walk" {
		t.Errorf("title = %q", resp.Title)
	}
}

func TestGenerateTitle_MissingTranscript(t *testing.T) {
	h := newTestHandler(t, &mockProcessor{}, nil)
	for _, body := range []string{`{"memoryType":"moment"}`, `{"transcript":7,"memoryType":"moment"}`} {
		rec := doRequest(h, http.MethodPost, "/generate-title", testUserToken, body)
		if rec.Code != http.StatusBadRequest {
			t.Errorf("%s: status = %d, want 400", body, rec.Code)
		}
	}
}

func TestCleanup_ServiceAuth(t *testing.T) {
	batch := &mockBatch{fn: func(context.Context) (cleanup.BatchResult, error) {
		t.Fatal("batch should not run without a valid token")
		return cleanup.BatchResult{}, nil
	}}
	h := newTestHandler(t, nil, batch)

	for _, token := range []string{"", testUserToken, "wrong"} {
		rec := doRequest(h, http.MethodPost, "/cleanup-media", token, "")
		if rec.Code != http.StatusUnauthorized {
			t.Errorf("token %q: status = %d, want 401", token, rec.Code)
		}
	}
}

func TestCleanup_NoServiceTokenConfigured(t *testing.T) {
	h := NewHandler(Deps{
		Processor: &mockProcessor{},
		Cleanup:   &mockBatch{},
		Tokens:    mockTokens{},
		Logger:    logging.Discard(),
	})
	rec := doRequest(h, http.MethodPost, "/cleanup-media", "anything", "")
	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("status = %d, want 500", rec.Code)
	}
	if e := decodeError(t, rec); e.Message != "Server configuration error" {
		t.Errorf("message = %q", e.Message)
	}
}

func TestCleanup_Responses(t *testing.T) {
	tests := []struct {
		name    string
		result  cleanup.BatchResult
		wantMsg string
	}{
		{"empty", cleanup.BatchResult{}, "No items to process"},
		{"mixed", cleanup.BatchResult{Processed: 2, Succeeded: 1, Failed: 1, Errors: []string{"a.jpg: DELETION_FAILED: denied"}}, "Cleanup processing completed"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			batch := &mockBatch{fn: func(context.Context) (cleanup.BatchResult, error) { return tt.result, nil }}
			h := newTestHandler(t, nil, batch)

			rec := doRequest(h, http.MethodPost, "/cleanup-media", testServiceToken, "")
			if rec.Code != http.StatusOK {
				t.Fatalf("status = %d", rec.Code)
			}
			var resp map[string]any
			json.NewDecoder(rec.Body).Decode(&resp)
			if resp["message"] != tt.wantMsg {
				t.Errorf("message = %v, want %q", resp["message"], tt.wantMsg)
			}
			if resp["processed"] != float64(tt.result.Processed) {
				t.Errorf("processed = %v", resp["processed"])
			}
			if errs, ok := resp["errors"].([]any); !ok || len(errs) != len(tt.result.Errors) {
				t.Errorf("errors = %v", resp["errors"])
			}
		})
	}
}

func TestCleanup_FetchFailure(t *testing.T) {
	batch := &mockBatch{fn: func(context.Context) (cleanup.BatchResult, error) {
		return cleanup.BatchResult{}, errors.New("db locked")
	}}
	h := newTestHandler(t, nil, batch)

	rec := doRequest(h, http.MethodPost, "/cleanup-media", testServiceToken, "")
	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("status = %d, want 500", rec.Code)
	}
	if e := decodeError(t, rec); e.Message != "Failed to fetch cleanup queue" {
		t.Errorf("message = %q", e.Message)
	}
}

func TestPanicRecovered(t *testing.T) {
	proc := &mockProcessor{momentFn: func(context.Context, string, string) (pipeline.Result, error) {
		panic("unexpected")
	}}
	h := newTestHandler(t, proc, nil)

	rec := doRequest(h, http.MethodPost, "/process-moment", testUserToken, `{"memoryId":"m1"}`)
	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("status = %d, want 500", rec.Code)
	}
	if e := decodeError(t, rec); e.Code != CodeInternal {
		t.Errorf("code = %q", e.Code)
	}
}
