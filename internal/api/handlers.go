package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5/middleware"

	"github.com/kalambet/orb/internal/agent"
	"github.com/kalambet/orb/internal/ingest"
	"github.com/kalambet/orb/internal/llm"
	"github.com/kalambet/orb/internal/storage"
)

type ChatRequest struct {
	Message string `json:"message"`
}

type ChatResponse struct {
	Reply string `json:"reply"`
}

type ThoughtRequest struct {
	Content string `json:"content"`
}

type ThoughtResponse struct {
	Status string `json:"status"`
}

type FileRequest struct {
	Path string      `json:"path"`
	Kind ingest.Kind `json:"kind"`
}

type FileResponse struct {
	JobID string `json:"job_id"`
}

// statusNotConfigured is the /thoughts status when no ingestor is wired.
const statusNotConfigured = "no-brain-configured"

func handleChat(deps Deps, logger *slog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req ChatRequest
		if !decodeBody(w, r, &req) {
			return
		}
		if strings.TrimSpace(req.Message) == "" {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "message is required")
			return
		}

		if deps.Agent != nil {
			ctx := agent.WithRequestID(r.Context(), middleware.GetReqID(r.Context()))
			writeJSON(w, http.StatusOK, ChatResponse{Reply: deps.Agent.HandleQuery(ctx, req.Message)})
			return
		}

		if deps.Fallback == nil {
			httpError(w, http.StatusServiceUnavailable, "api_error", "no agent or language model configured")
			return
		}
		logger.Info("falling back to plain chat")
		reply, err := deps.Fallback.Complete(r.Context(), llm.Request{System: fallbackPersona, User: req.Message})
		if err != nil {
			logger.Error("fallback chat failed", "error", err)
			httpError(w, http.StatusBadGateway, "api_error", "language model error: %v", err)
			return
		}
		writeJSON(w, http.StatusOK, ChatResponse{Reply: reply})
	}
}

func handleThought(deps Deps, logger *slog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req ThoughtRequest
		if !decodeBody(w, r, &req) {
			return
		}
		if deps.Ingest == nil {
			logger.Warn("could not post thought, no ingestor configured")
			writeJSON(w, http.StatusOK, ThoughtResponse{Status: statusNotConfigured})
			return
		}
		writeJSON(w, http.StatusOK, ThoughtResponse{Status: deps.Ingest.LogThought(r.Context(), req.Content)})
	}
}

func handleEnqueueFile(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req FileRequest
		if !decodeBody(w, r, &req) {
			return
		}
		if deps.Ingest == nil {
			httpError(w, http.StatusServiceUnavailable, "api_error", "ingestion not configured")
			return
		}
		id, err := deps.Ingest.EnqueueFile(req.Path, req.Kind)
		if errors.Is(err, ingest.ErrUnsupported) {
			httpError(w, http.StatusUnsupportedMediaType, "invalid_request_error", "%v", err)
			return
		}
		if err != nil {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "%v", err)
			return
		}
		writeJSON(w, http.StatusAccepted, FileResponse{JobID: id})
	}
}

// Record views carry the stored fields without embeddings.

type JournalView struct {
	ID        int64          `json:"id"`
	Content   string         `json:"content"`
	Metadata  map[string]any `json:"metadata,omitempty"`
	CreatedAt time.Time      `json:"created_at"`
}

type InteractionView struct {
	ID        int64     `json:"id"`
	Content   string    `json:"content"`
	Category  string    `json:"category"`
	CreatedAt time.Time `json:"created_at"`
}

type FileView struct {
	ID        int64     `json:"id"`
	Name      string    `json:"name"`
	Content   string    `json:"content"`
	CreatedAt time.Time `json:"created_at"`
}

type QueryLogView struct {
	ID          int64           `json:"id"`
	UserQuery   string          `json:"user_query"`
	AgentPlan   json.RawMessage `json:"agent_plan"`
	ToolOutputs string          `json:"tool_outputs"`
	AIResponse  string          `json:"ai_response"`
	CreatedAt   time.Time       `json:"created_at"`
}

func handleListJournal(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		entries, err := deps.Records.ListJournal(r.Context(), parseIntParam(r, "limit", 20, 100))
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to list journal: %v", err)
			return
		}
		views := make([]JournalView, len(entries))
		for i, e := range entries {
			views[i] = JournalView{ID: e.ID, Content: e.Content, Metadata: e.Metadata, CreatedAt: e.CreatedAt}
		}
		writeJSON(w, http.StatusOK, views)
	}
}

func handleListInteractions(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		rows, err := deps.Records.ListInteractions(r.Context(), parseIntParam(r, "limit", 20, 100))
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to list interactions: %v", err)
			return
		}
		views := make([]InteractionView, len(rows))
		for i, ix := range rows {
			views[i] = InteractionView{ID: ix.ID, Content: ix.Content, Category: string(ix.Category), CreatedAt: ix.CreatedAt}
		}
		writeJSON(w, http.StatusOK, views)
	}
}

func handleListFiles(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		files, err := deps.Records.ListIngestedFiles(r.Context(), parseIntParam(r, "limit", 20, 100))
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to list files: %v", err)
			return
		}
		views := make([]FileView, len(files))
		for i, f := range files {
			views[i] = FileView{ID: f.ID, Name: f.Name, Content: f.Content, CreatedAt: f.CreatedAt}
		}
		writeJSON(w, http.StatusOK, views)
	}
}

func handleListQueryLogs(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		logs, err := deps.Records.ListQueryLogs(r.Context(), parseIntParam(r, "limit", 20, 100))
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to list query logs: %v", err)
			return
		}
		writeJSON(w, http.StatusOK, queryLogViews(logs))
	}
}

func queryLogViews(logs []storage.QueryLog) []QueryLogView {
	views := make([]QueryLogView, len(logs))
	for i, l := range logs {
		plan := l.AgentPlan
		if len(plan) == 0 {
			plan = json.RawMessage(`{}`)
		}
		views[i] = QueryLogView{
			ID:          l.ID,
			UserQuery:   l.UserQuery,
			AgentPlan:   plan,
			ToolOutputs: l.ToolOutputs,
			AIResponse:  l.AIResponse,
			CreatedAt:   l.CreatedAt,
		}
	}
	return views
}

func parseIntParam(r *http.Request, key string, defaultVal, maxVal int) int {
	s := r.URL.Query().Get(key)
	if s == "" {
		return defaultVal
	}
	v, err := strconv.Atoi(s)
	if err != nil || v <= 0 {
		return defaultVal
	}
	if maxVal > 0 && v > maxVal {
		return maxVal
	}
	return v
}
