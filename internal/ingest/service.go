// Package ingest is the write side of the memory store: thoughts, chat turns,
// diary pages and files are embedded and appended, never updated.
package ingest

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/kalambet/orb/internal/storage"
)

// Status strings returned to the caller of a write.
const (
	StatusThoughtSaved = "💡 Thought Saved"
	StatusDiarySaved   = "📓 Diary Saved"
	StatusFileSaved    = "📄 File Saved"
)

// DefaultMaxFileChars bounds the stored content of an ingested file.
const DefaultMaxFileChars = 2000

// JobTypeIngestFile is the job type handled by Worker.
const JobTypeIngestFile = "ingest_file"

// Kind selects how an enqueued file is stored.
type Kind string

const (
	KindFile  Kind = "file"
	KindDiary Kind = "diary"
)

func (k Kind) Valid() bool {
	return k == KindFile || k == KindDiary
}

var errEmpty = errors.New("empty thought")

// Store is the persistence the ingestion path appends to.
type Store interface {
	InsertJournal(ctx context.Context, e storage.JournalEntry) (int64, error)
	InsertInteraction(ctx context.Context, i storage.Interaction) (int64, error)
	InsertIngestedFile(ctx context.Context, f storage.IngestedFile) (int64, error)
	EnqueueJob(job storage.Job) error
}

// ContentEmbedder generates embeddings for text.
type ContentEmbedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

// Service embeds and stores incoming content.
type Service struct {
	store        Store
	embedder     ContentEmbedder
	maxFileChars int
	logger       *slog.Logger
	now          func() time.Time
}

// NewService creates a Service. If maxFileChars is <= 0, it defaults to
// DefaultMaxFileChars.
func NewService(store Store, embedder ContentEmbedder, maxFileChars int) *Service {
	if maxFileChars <= 0 {
		maxFileChars = DefaultMaxFileChars
	}
	return &Service{
		store:        store,
		embedder:     embedder,
		maxFileChars: maxFileChars,
		logger:       slog.Default().With("component", "ingest"),
		now:          func() time.Time { return time.Now().UTC() },
	}
}

// LogThought stores text as an unprocessed journal entry and returns a status
// string. Failures are reported in the string, never as an error.
func (s *Service) LogThought(ctx context.Context, text string) string {
	text = strings.TrimSpace(text)
	if text == "" {
		return statusError(errEmpty)
	}
	err := s.insertJournal(ctx, text, map[string]any{"is_processed": false})
	if err != nil {
		s.logger.Error("saving thought failed", "error", err)
		return statusError(err)
	}
	s.logger.Info("thought saved", "preview", preview(text))
	return StatusThoughtSaved
}

// LogDiaryEntry stores text extracted from a diary page as a journal entry
// tagged with its source file.
func (s *Service) LogDiaryEntry(ctx context.Context, sourceFile, text string) string {
	text = strings.TrimSpace(text)
	if text == "" {
		return statusError(errors.New("empty diary entry"))
	}
	err := s.insertJournal(ctx, text, map[string]any{
		"source_file":  filepath.Base(sourceFile),
		"source_type":  "diary_entry",
		"processed_at": s.now().Format(time.RFC3339),
	})
	if err != nil {
		s.logger.Error("saving diary entry failed", "source", sourceFile, "error", err)
		return statusError(err)
	}
	s.logger.Info("diary entry saved", "source", filepath.Base(sourceFile))
	return StatusDiarySaved
}

// LogInteraction stores one chat turn. Errors are logged and swallowed so
// they never interrupt the conversation.
func (s *Service) LogInteraction(ctx context.Context, text string, category storage.Category) {
	if !category.Valid() {
		s.logger.Error("dropping interaction with invalid category", "category", category)
		return
	}
	vec, err := s.embedder.Embed(ctx, text)
	if err != nil {
		s.logger.Error("embedding interaction failed", "category", category, "error", err)
		return
	}
	if _, err := s.store.InsertInteraction(ctx, storage.Interaction{
		Content:   text,
		Category:  category,
		CreatedAt: s.now(),
		Embedding: vec,
	}); err != nil {
		s.logger.Error("saving interaction failed", "category", category, "error", err)
		return
	}
	s.logger.Debug("interaction logged", "category", category)
}

// LogFile stores extracted file text, truncated to the configured maximum.
func (s *Service) LogFile(ctx context.Context, name, text string) string {
	text = truncateRunes(strings.TrimSpace(text), s.maxFileChars)
	if text == "" {
		return statusError(errors.New("no text extracted"))
	}
	vec, err := s.embedder.Embed(ctx, text)
	if err != nil {
		s.logger.Error("embedding file failed", "name", name, "error", err)
		return statusError(fmt.Errorf("embedding file: %w", err))
	}
	if _, err := s.store.InsertIngestedFile(ctx, storage.IngestedFile{
		Name:      filepath.Base(name),
		Content:   text,
		CreatedAt: s.now(),
		Embedding: vec,
	}); err != nil {
		s.logger.Error("saving file failed", "name", name, "error", err)
		return statusError(fmt.Errorf("saving file: %w", err))
	}
	s.logger.Info("file saved", "name", filepath.Base(name), "chars", len(text))
	return StatusFileSaved
}

type filePayload struct {
	Path string `json:"path"`
	Kind Kind   `json:"kind"`
}

// EnqueueFile schedules path for extraction by the Worker and returns the job
// id. Unsupported extensions are rejected up front.
func (s *Service) EnqueueFile(path string, kind Kind) (string, error) {
	if path == "" {
		return "", errors.New("path is required")
	}
	if kind == "" {
		kind = KindFile
	}
	if !kind.Valid() {
		return "", fmt.Errorf("invalid kind %q: must be file or diary", kind)
	}
	if ext := filepath.Ext(path); !Supported(ext) {
		return "", fmt.Errorf("%w: %q", ErrUnsupported, ext)
	}

	payload, err := json.Marshal(filePayload{Path: path, Kind: kind})
	if err != nil {
		return "", fmt.Errorf("encoding payload: %w", err)
	}
	job := storage.Job{
		ID:          uuid.New().String(),
		Type:        JobTypeIngestFile,
		PayloadJSON: string(payload),
	}
	if err := s.store.EnqueueJob(job); err != nil {
		return "", fmt.Errorf("enqueueing job: %w", err)
	}
	s.logger.Info("file enqueued", "job_id", job.ID, "path", path, "kind", kind)
	return job.ID, nil
}

func (s *Service) insertJournal(ctx context.Context, text string, metadata map[string]any) error {
	vec, err := s.embedder.Embed(ctx, text)
	if err != nil {
		return fmt.Errorf("embedding: %w", err)
	}
	if _, err := s.store.InsertJournal(ctx, storage.JournalEntry{
		Content:   text,
		CreatedAt: s.now(),
		Embedding: vec,
		Metadata:  metadata,
	}); err != nil {
		return fmt.Errorf("saving journal entry: %w", err)
	}
	return nil
}

// IsError reports whether a status string returned by a Log method signals a
// failure.
func IsError(status string) bool {
	return strings.HasPrefix(status, "Error: ")
}

func statusError(err error) string {
	return "Error: " + err.Error()
}

func preview(s string) string {
	return truncateRunes(s, 40)
}
