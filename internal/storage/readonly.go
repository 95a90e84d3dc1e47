package storage

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"unicode/utf8"
)

// ExecuteReadOnly runs an already-validated query in a session that refuses
// writes and returns its rows. Embedding columns are dropped from the result.
//
// On SQLite the connection is switched to PRAGMA query_only for the duration
// of the query; on Postgres the query runs inside a READ ONLY transaction that
// is always rolled back.
func (s *Store) ExecuteReadOnly(ctx context.Context, query string) ([]Row, error) {
	if s.dialect.name == DialectPostgres {
		return s.executeReadOnlyTx(ctx, query)
	}
	return s.executeQueryOnly(ctx, query)
}

func (s *Store) executeQueryOnly(ctx context.Context, query string) ([]Row, error) {
	conn, err := s.db.Conn(ctx)
	if err != nil {
		return nil, fmt.Errorf("acquiring connection: %w", err)
	}
	defer conn.Close()

	if _, err := conn.ExecContext(ctx, "PRAGMA query_only = ON"); err != nil {
		return nil, fmt.Errorf("enabling query_only: %w", err)
	}
	// The connection is shared with writers; always switch it back.
	defer conn.ExecContext(context.Background(), "PRAGMA query_only = OFF")

	rows, err := conn.QueryContext(ctx, query)
	if err != nil {
		return nil, err
	}
	return scanRows(rows)
}

func (s *Store) executeReadOnlyTx(ctx context.Context, query string) ([]Row, error) {
	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{ReadOnly: true})
	if err != nil {
		return nil, fmt.Errorf("beginning read-only transaction: %w", err)
	}
	defer tx.Rollback()

	rows, err := tx.QueryContext(ctx, query)
	if err != nil {
		return nil, err
	}
	return scanRows(rows)
}

func scanRows(rows *sql.Rows) ([]Row, error) {
	defer rows.Close()

	cols, err := rows.Columns()
	if err != nil {
		return nil, err
	}

	results := []Row{}
	for rows.Next() {
		values := make([]any, len(cols))
		ptrs := make([]any, len(cols))
		for i := range values {
			ptrs[i] = &values[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return nil, err
		}

		row := make(Row, len(cols))
		for i, col := range cols {
			if strings.EqualFold(col, "embedding") {
				continue
			}
			row[col] = normalizeValue(values[i])
		}
		results = append(results, row)
	}
	return results, rows.Err()
}

// normalizeValue turns driver byte slices into strings when they hold text
// (Postgres returns JSONB and numeric as []byte) and summarises binary blobs.
func normalizeValue(v any) any {
	b, ok := v.([]byte)
	if !ok {
		return v
	}
	if utf8.Valid(b) {
		return string(b)
	}
	return fmt.Sprintf("<%d bytes>", len(b))
}
