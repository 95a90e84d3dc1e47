// Package api exposes the memory assistant over HTTP and MCP.
package api

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/kalambet/orb/internal/ingest"
	"github.com/kalambet/orb/internal/llm"
	"github.com/kalambet/orb/internal/storage"
)

const maxRequestBodySize = 1 << 20 // 1MB

// fallbackPersona is the system prompt of plain chat when no agent is available.
const fallbackPersona = "You are the ORB Kernel. You are assisting the user."

// Asker answers questions, recording both sides of the exchange.
type Asker interface {
	HandleQuery(ctx context.Context, query string) string
}

// Ingestor accepts thoughts and file ingestion requests.
type Ingestor interface {
	LogThought(ctx context.Context, text string) string
	EnqueueFile(path string, kind ingest.Kind) (string, error)
}

// RecordLister lists the append-only record tables, newest first.
type RecordLister interface {
	ListJournal(ctx context.Context, limit int) ([]storage.JournalEntry, error)
	ListInteractions(ctx context.Context, limit int) ([]storage.Interaction, error)
	ListIngestedFiles(ctx context.Context, limit int) ([]storage.IngestedFile, error)
	ListQueryLogs(ctx context.Context, limit int) ([]storage.QueryLog, error)
}

// Deps holds dependencies for the HTTP bridge. Agent and Ingest are optional:
// without an agent /chat falls back to plain chat on Fallback, and without an
// ingestor /thoughts reports that nothing is configured.
type Deps struct {
	Agent    Asker
	Fallback llm.Client
	Ingest   Ingestor
	Records  RecordLister
	Token    string
	Origins  []string
	Logger   *slog.Logger
}

// NewRouter returns the HTTP bridge handler.
func NewRouter(deps Deps) http.Handler {
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(RequestLogger(logger))
	r.Use(middleware.Recoverer)
	r.Use(CORS(deps.Origins))

	r.Get("/health", handleHealth)

	r.Group(func(r chi.Router) {
		r.Use(BearerAuth(deps.Token))

		r.Post("/chat", handleChat(deps, logger))
		r.Post("/thoughts", handleThought(deps, logger))
		r.Post("/files", handleEnqueueFile(deps))
		r.Get("/files", needRecords(deps, handleListFiles(deps)))
		r.Get("/journal", needRecords(deps, handleListJournal(deps)))
		r.Get("/interactions", needRecords(deps, handleListInteractions(deps)))
		r.Get("/query-logs", needRecords(deps, handleListQueryLogs(deps)))
	})

	return r
}

func handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.Write([]byte(`{"status":"ok"}`))
}

// needRecords answers 503 when the server runs without a store.
func needRecords(deps Deps, h http.HandlerFunc) http.HandlerFunc {
	if deps.Records != nil {
		return h
	}
	return func(w http.ResponseWriter, r *http.Request) {
		httpError(w, http.StatusServiceUnavailable, "api_error", "storage not configured")
	}
}

// decodeBody decodes a size-limited JSON request body into v, writing a 400 on
// failure.
func decodeBody(w http.ResponseWriter, r *http.Request, v any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)
	defer r.Body.Close()
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		httpError(w, http.StatusBadRequest, "invalid_request_error", "invalid request body: %v", err)
		return false
	}
	return true
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v)
}

func httpError(w http.ResponseWriter, code int, errType string, format string, args ...any) {
	writeJSON(w, code, map[string]any{
		"error": map[string]any{
			"message": fmt.Sprintf(format, args...),
			"type":    errType,
		},
	})
}
