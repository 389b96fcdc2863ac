package api

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/kalambet/keepsake/internal/cleanup"
	"github.com/kalambet/keepsake/internal/pipeline"
	"github.com/kalambet/keepsake/internal/storage"
)

const maxRequestBodySize = 1 << 20 // 1MB

// timeFormat matches JavaScript's Date.toISOString.
const timeFormat = "2006-01-02T15:04:05.000Z"

// MemoryProcessor runs the generation pipeline.
type MemoryProcessor interface {
	ProcessMoment(ctx context.Context, owner, memoryID string) (pipeline.Result, error)
	ProcessStory(ctx context.Context, owner, memoryID string) (pipeline.Result, error)
	GenerateTitle(ctx context.Context, transcript string, memoryType storage.MemoryType) (pipeline.TitleResult, error)
}

// BatchProcessor drains the cleanup queue.
type BatchProcessor interface {
	ProcessBatch(ctx context.Context) (cleanup.BatchResult, error)
}

type Deps struct {
	Processor    MemoryProcessor
	Cleanup      BatchProcessor
	Tokens       TokenVerifier
	ServiceToken string
	Logger       *slog.Logger
}

// NewHandler returns the HTTP API. Method checks run before authentication.
func NewHandler(deps Deps) http.Handler {
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	r := chi.NewRouter()
	r.Use(recoverer(deps.Logger))
	r.MethodNotAllowed(handleMethodNotAllowed)
	r.NotFound(handleNotFound)

	userAuth := UserAuth(deps.Tokens, deps.Logger)

	r.Get("/health", handleHealth)
	r.With(userAuth).Post("/process-moment", handleProcess(deps, deps.Processor.ProcessMoment))
	r.With(userAuth).Post("/process-story", handleProcess(deps, deps.Processor.ProcessStory))
	r.With(userAuth).Post("/generate-title", handleGenerateTitle(deps))
	r.With(ServiceAuth(deps.ServiceToken)).Post("/cleanup-media", handleCleanup(deps))

	return r
}

func handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.Write([]byte(`{"status":"ok"}`))
}

type processRequest struct {
	MemoryID any `json:"memoryId"`
}

type processResponse struct {
	Title         string `json:"title"`
	ProcessedText string `json:"processedText"`
	Status        string `json:"status"`
	GeneratedAt   string `json:"generatedAt"`
}

type processFunc func(ctx context.Context, owner, memoryID string) (pipeline.Result, error)

func handleProcess(deps Deps, run processFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)
		defer r.Body.Close()

		var req processRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			httpError(w, http.StatusBadRequest, CodeInvalidRequest, "Invalid JSON in request body")
			return
		}
		memoryID, ok := req.MemoryID.(string)
		if !ok || memoryID == "" {
			httpError(w, http.StatusBadRequest, CodeInvalidRequest, "memoryId is required and must be a string")
			return
		}

		res, err := run(r.Context(), UserFromContext(r.Context()), memoryID)
		if err != nil {
			writePipelineError(w, deps.Logger, err)
			return
		}
		writeJSON(w, http.StatusOK, processResponse{
			Title:         res.Title,
			ProcessedText: res.ProcessedText,
			Status:        string(res.Status),
			GeneratedAt:   formatTime(res.GeneratedAt),
		})
	}
}

type titleResponse struct {
	Title       string `json:"title"`
	Status      string `json:"status"`
	GeneratedAt string `json:"generatedAt"`
}

func handleGenerateTitle(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)
		defer r.Body.Close()

		var raw map[string]json.RawMessage
		if err := json.NewDecoder(r.Body).Decode(&raw); err != nil {
			httpError(w, http.StatusBadRequest, CodeInvalidRequest, "Invalid JSON in request body")
			return
		}
		var transcript string
		if raw["transcript"] == nil || json.Unmarshal(raw["transcript"], &transcript) != nil {
			httpError(w, http.StatusBadRequest, CodeInvalidRequest, "transcript is required and must be a string")
			return
		}
		var memoryType string
		json.Unmarshal(raw["memoryType"], &memoryType)

		res, err := deps.Processor.GenerateTitle(r.Context(), transcript, storage.MemoryType(memoryType))
		if err != nil {
			writePipelineError(w, deps.Logger, err)
			return
		}
		writeJSON(w, http.StatusOK, titleResponse{
			Title:       res.Title,
			Status:      string(res.Status),
			GeneratedAt: formatTime(res.GeneratedAt),
		})
	}
}

type cleanupResponse struct {
	Message string `json:"message"`
	cleanup.BatchResult
}

func handleCleanup(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		res, err := deps.Cleanup.ProcessBatch(r.Context())
		if err != nil {
			deps.Logger.Error("fetching cleanup queue", "error", err)
			httpError(w, http.StatusInternalServerError, CodeInternal, "Failed to fetch cleanup queue")
			return
		}
		if res.Errors == nil {
			res.Errors = []string{}
		}
		msg := "Cleanup processing completed"
		if res.Processed == 0 {
			msg = "No items to process"
		}
		writeJSON(w, http.StatusOK, cleanupResponse{Message: msg, BatchResult: res})
	}
}

func formatTime(t time.Time) string {
	return t.UTC().Format(timeFormat)
}
