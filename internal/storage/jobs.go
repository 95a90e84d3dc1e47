package storage

import (
	"database/sql"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/lib/pq"
)

func (s *Store) EnqueueJob(job Job) error {
	now := time.Now().UTC()
	runAfter := now
	if !job.RunAfter.IsZero() {
		runAfter = job.RunAfter.UTC()
	}
	maxAttempts := job.MaxAttempts
	if maxAttempts == 0 {
		maxAttempts = 3
	}
	_, err := s.db.Exec(s.dialect.rebind(`
		INSERT INTO job (id, type, payload_json, status, attempts, max_attempts, run_after, created_at, updated_at)
		VALUES (?, ?, ?, 'pending', 0, ?, ?, ?, ?)`),
		job.ID, job.Type, job.PayloadJSON, maxAttempts,
		s.dialect.timeArg(runAfter), s.dialect.timeArg(now), s.dialect.timeArg(now),
	)
	return err
}

const jobColumns = `id, type, payload_json, status, attempts, max_attempts, run_after, created_at, updated_at, last_error`

func scanJob(row interface{ Scan(...any) error }) (*Job, error) {
	var j Job
	var runAfter, createdAt, updatedAt dbTime
	var lastError sql.NullString
	if err := row.Scan(
		&j.ID, &j.Type, &j.PayloadJSON, &j.Status, &j.Attempts, &j.MaxAttempts,
		&runAfter, &createdAt, &updatedAt, &lastError,
	); err != nil {
		return nil, err
	}
	j.RunAfter = runAfter.t
	j.CreatedAt = createdAt.t
	j.UpdatedAt = updatedAt.t
	j.LastError = lastError.String
	return &j, nil
}

// ClaimNextJob atomically moves the oldest runnable pending job of one of the
// given types to "running" and returns it. It returns nil when nothing is due.
func (s *Store) ClaimNextJob(types []string) (*Job, error) {
	if len(types) == 0 {
		return nil, nil
	}
	if s.dialect.name == DialectPostgres {
		return s.claimNextJobPostgres(types)
	}

	now := s.dialect.timeArg(time.Now().UTC())
	placeholders := strings.Repeat(",?", len(types)-1)
	query := `SELECT ` + jobColumns + `
		FROM job
		WHERE status = 'pending' AND run_after <= ? AND type IN (?` + placeholders + `)
		ORDER BY run_after ASC, created_at ASC
		LIMIT 1`

	args := make([]any, 0, len(types)+1)
	args = append(args, now)
	for _, t := range types {
		args = append(args, t)
	}

	tx, err := s.db.Begin()
	if err != nil {
		return nil, fmt.Errorf("beginning claim transaction: %w", err)
	}

	j, err := scanJob(tx.QueryRow(query, args...))
	if err == sql.ErrNoRows {
		tx.Rollback()
		return nil, nil
	}
	if err != nil {
		tx.Rollback()
		return nil, fmt.Errorf("selecting next job: %w", err)
	}

	res, err := tx.Exec(`UPDATE job SET status = 'running', updated_at = ? WHERE id = ? AND status = 'pending'`, now, j.ID)
	if err != nil {
		tx.Rollback()
		return nil, fmt.Errorf("updating job status: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		tx.Rollback()
		return nil, fmt.Errorf("checking updated job rows: %w", err)
	}
	if n != 1 {
		tx.Rollback()
		return nil, nil
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("committing claim: %w", err)
	}

	j.Status = "running"
	return j, nil
}

func (s *Store) claimNextJobPostgres(types []string) (*Job, error) {
	now := time.Now().UTC()
	row := s.db.QueryRow(`
		UPDATE job SET status = 'running', updated_at = $1
		WHERE id = (
			SELECT id FROM job
			WHERE status = 'pending' AND run_after <= $1 AND type = ANY($2)
			ORDER BY run_after ASC, created_at ASC
			LIMIT 1
			FOR UPDATE SKIP LOCKED
		)
		RETURNING `+jobColumns, now, pq.Array(types))

	j, err := scanJob(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("claiming next job: %w", err)
	}
	return j, nil
}

func (s *Store) CompleteJob(id string) error {
	now := s.dialect.timeArg(time.Now().UTC())
	res, err := s.db.Exec(s.dialect.rebind(`UPDATE job SET status = 'completed', updated_at = ? WHERE id = ?`), now, id)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// FailJob records a failed attempt. The job is retried with exponential
// backoff until max_attempts is reached, then marked "failed".
func (s *Store) FailJob(id string, errMsg string) error {
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("beginning fail transaction: %w", err)
	}
	defer tx.Rollback()

	var attempts, maxAttempts int
	err = tx.QueryRow(s.dialect.rebind(`SELECT attempts, max_attempts FROM job WHERE id = ?`), id).Scan(&attempts, &maxAttempts)
	if err == sql.ErrNoRows {
		return ErrNotFound
	}
	if err != nil {
		return err
	}

	now := time.Now().UTC()
	attempts++

	if attempts >= maxAttempts {
		_, err = tx.Exec(s.dialect.rebind(`UPDATE job SET status = 'failed', attempts = ?, last_error = ?, updated_at = ? WHERE id = ?`),
			attempts, errMsg, s.dialect.timeArg(now), id)
	} else {
		backoff := time.Duration(math.Pow(2, float64(attempts))) * time.Second
		runAfter := now.Add(backoff)
		_, err = tx.Exec(s.dialect.rebind(`UPDATE job SET status = 'pending', attempts = ?, last_error = ?, run_after = ?, updated_at = ? WHERE id = ?`),
			attempts, errMsg, s.dialect.timeArg(runAfter), s.dialect.timeArg(now), id)
	}

	if err != nil {
		return err
	}

	return tx.Commit()
}

// GetJob returns a job by id.
func (s *Store) GetJob(id string) (*Job, error) {
	j, err := scanJob(s.db.QueryRow(s.dialect.rebind(`SELECT `+jobColumns+` FROM job WHERE id = ?`), id))
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return j, nil
}
