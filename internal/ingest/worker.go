package ingest

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/kalambet/orb/internal/storage"
)

// JobStore abstracts the job queue operations.
type JobStore interface {
	ClaimNextJob(types []string) (*storage.Job, error)
	CompleteJob(id string) error
	FailJob(id string, errMsg string) error
}

// TextExtractor reads the text of a file.
type TextExtractor interface {
	Extract(path string) (string, error)
}

// FileSink stores extracted text.
type FileSink interface {
	LogFile(ctx context.Context, name, text string) string
	LogDiaryEntry(ctx context.Context, sourceFile, text string) string
}

// Worker processes ingest_file jobs from the job queue.
type Worker struct {
	store     JobStore
	extractor TextExtractor
	sink      FileSink
	poll      time.Duration
	logger    *slog.Logger
}

// NewWorker creates a Worker with the given dependencies.
// If pollInterval is <= 0, it defaults to 500ms.
func NewWorker(store JobStore, extractor TextExtractor, sink FileSink, pollInterval time.Duration) *Worker {
	if pollInterval <= 0 {
		pollInterval = 500 * time.Millisecond
	}
	return &Worker{
		store:     store,
		extractor: extractor,
		sink:      sink,
		poll:      pollInterval,
		logger:    slog.Default().With("component", "ingest_worker"),
	}
}

// Run polls for jobs until ctx is cancelled.
func (w *Worker) Run(ctx context.Context) {
	for {
		if ctx.Err() != nil {
			return
		}

		done, err := w.RunOnce(ctx)
		if err != nil {
			w.logger.Error("worker iteration failed", "error", err)
		}
		if done {
			continue
		}

		select {
		case <-ctx.Done():
			return
		case <-time.After(w.poll):
		}
	}
}

// RunOnce claims and processes a single ingest_file job.
// Returns true if a job was processed (regardless of success/failure).
func (w *Worker) RunOnce(ctx context.Context) (bool, error) {
	job, err := w.store.ClaimNextJob([]string{JobTypeIngestFile})
	if err != nil {
		return false, fmt.Errorf("claiming job: %w", err)
	}
	if job == nil {
		return false, nil
	}

	if err := w.processJob(ctx, job); err != nil {
		w.logger.Warn("job failed", "job_id", job.ID, "attempt", job.Attempts+1, "error", err)
		if failErr := w.store.FailJob(job.ID, err.Error()); failErr != nil {
			w.logger.Error("failed to mark job as failed", "job_id", job.ID, "error", failErr)
		}
		return true, nil
	}

	if err := w.store.CompleteJob(job.ID); err != nil {
		return true, fmt.Errorf("completing job %s: %w", job.ID, err)
	}
	w.logger.Info("job completed", "job_id", job.ID)
	return true, nil
}

func (w *Worker) processJob(ctx context.Context, job *storage.Job) error {
	var payload filePayload
	if err := json.Unmarshal([]byte(job.PayloadJSON), &payload); err != nil {
		return fmt.Errorf("parsing payload: %w", err)
	}
	if payload.Path == "" {
		return errors.New("payload has no path")
	}

	text, err := w.extractor.Extract(payload.Path)
	if err != nil {
		return fmt.Errorf("extracting %s: %w", payload.Path, err)
	}

	var status string
	switch payload.Kind {
	case KindDiary:
		status = w.sink.LogDiaryEntry(ctx, payload.Path, text)
	case KindFile, "":
		status = w.sink.LogFile(ctx, payload.Path, text)
	default:
		return fmt.Errorf("unknown kind %q", payload.Kind)
	}
	if IsError(status) {
		return errors.New(status)
	}
	return nil
}
