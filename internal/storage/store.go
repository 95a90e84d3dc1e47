package storage

import (
	"context"
	"database/sql"
	"embed"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	_ "github.com/lib/pq"
	_ "modernc.org/sqlite"
)

//go:embed migrations/sqlite/*.sql migrations/postgres/*.sql
var migrationsFS embed.FS

// Store persists the journal, interaction, ingested-file and query-log
// records plus the ingest job queue, on SQLite or Postgres.
type Store struct {
	db      *sql.DB
	dialect dialect
}

// Open opens (or creates) a SQLite database in dataDir and runs pending migrations.
// Pass ":memory:" as dataDir for an in-memory database (used by tests).
func Open(dataDir string) (*Store, error) {
	var dsn string
	if dataDir == ":memory:" {
		dsn = ":memory:"
	} else {
		if err := os.MkdirAll(dataDir, 0o755); err != nil {
			return nil, fmt.Errorf("creating data directory: %w", err)
		}
		dsn = filepath.Join(dataDir, "orb.db")
	}

	registerVectorFunctions()

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("pinging database: %w", err)
	}

	// Limit to single connection to avoid "database is locked" errors.
	db.SetMaxOpenConns(1)

	// Set busy timeout so concurrent access waits briefly instead of failing immediately.
	if _, err := db.Exec("PRAGMA busy_timeout = 5000"); err != nil {
		db.Close()
		return nil, fmt.Errorf("setting busy timeout: %w", err)
	}

	// Enable WAL mode for better concurrent read performance.
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("setting journal mode: %w", err)
	}

	s := &Store{db: db, dialect: sqliteDialect}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("running migrations: %w", err)
	}

	return s, nil
}

// OpenPostgres connects to a Postgres database with the pgvector extension
// available and runs pending migrations.
func OpenPostgres(ctx context.Context, dsn string) (*Store, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("pinging database: %w", err)
	}

	db.SetMaxOpenConns(10)
	db.SetConnMaxIdleTime(5 * time.Minute)

	s := &Store{db: db, dialect: postgresDialect}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("running migrations: %w", err)
	}
	return s, nil
}

// Close closes the underlying database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// DB exposes the underlying handle for tests and administrative commands.
func (s *Store) DB() *sql.DB {
	return s.db
}

// Dialect returns "sqlite" or "postgres".
func (s *Store) Dialect() string {
	return s.dialect.name
}

// migrate reads embedded SQL migration files and applies any that haven't been run yet.
func (s *Store) migrate() error {
	// Ensure schema_version table exists (bootstrap).
	if _, err := s.db.Exec(`CREATE TABLE IF NOT EXISTS schema_version (
		version INTEGER PRIMARY KEY,
		applied_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
	)`); err != nil {
		return fmt.Errorf("creating schema_version table: %w", err)
	}

	dir := s.dialect.migrationsDir
	entries, err := migrationsFS.ReadDir(dir)
	if err != nil {
		return fmt.Errorf("reading migrations directory: %w", err)
	}

	// Sort by filename to guarantee ascending order.
	sort.Slice(entries, func(i, j int) bool {
		return entries[i].Name() < entries[j].Name()
	})

	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".sql") {
			continue
		}

		version, err := parseMigrationVersion(entry.Name())
		if err != nil {
			return err
		}

		// Check if already applied.
		var exists int
		if err := s.db.QueryRow(s.dialect.rebind("SELECT COUNT(*) FROM schema_version WHERE version = ?"), version).Scan(&exists); err != nil {
			return fmt.Errorf("checking migration %d: %w", version, err)
		}
		if exists > 0 {
			continue
		}

		content, err := migrationsFS.ReadFile(dir + "/" + entry.Name())
		if err != nil {
			return fmt.Errorf("reading migration %s: %w", entry.Name(), err)
		}

		tx, err := s.db.Begin()
		if err != nil {
			return fmt.Errorf("beginning transaction for migration %d: %w", version, err)
		}

		if _, err := tx.Exec(string(content)); err != nil {
			tx.Rollback()
			return fmt.Errorf("applying migration %d: %w", version, err)
		}

		if _, err := tx.Exec(s.dialect.rebind("INSERT INTO schema_version (version) VALUES (?)"), version); err != nil {
			tx.Rollback()
			return fmt.Errorf("recording migration %d: %w", version, err)
		}

		if err := tx.Commit(); err != nil {
			return fmt.Errorf("committing migration %d: %w", version, err)
		}
	}

	return nil
}

func parseMigrationVersion(filename string) (int, error) {
	var version int
	if _, err := fmt.Sscanf(filename, "%d_", &version); err != nil {
		return 0, fmt.Errorf("parsing migration version from %q: %w", filename, err)
	}
	return version, nil
}

// AppliedMigrations returns the list of applied migration versions in ascending order.
func (s *Store) AppliedMigrations() ([]int, error) {
	rows, err := s.db.Query("SELECT version FROM schema_version ORDER BY version ASC")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var versions []int
	for rows.Next() {
		var v int
		if err := rows.Scan(&v); err != nil {
			return nil, err
		}
		versions = append(versions, v)
	}
	return versions, rows.Err()
}

func (s *Store) insertReturningID(ctx context.Context, query string, args ...any) (int64, error) {
	var id int64
	if err := s.db.QueryRowContext(ctx, s.dialect.rebind(query+" RETURNING id"), args...).Scan(&id); err != nil {
		return 0, err
	}
	return id, nil
}

func createdAtOrNow(t time.Time) time.Time {
	if t.IsZero() {
		return time.Now().UTC()
	}
	return t.UTC()
}

// --- Journal ---

func (s *Store) InsertJournal(ctx context.Context, e JournalEntry) (int64, error) {
	meta := e.Metadata
	if meta == nil {
		meta = map[string]any{}
	}
	metaJSON, err := json.Marshal(meta)
	if err != nil {
		return 0, fmt.Errorf("marshalling metadata: %w", err)
	}
	return s.insertReturningID(ctx,
		`INSERT INTO journal (content, created_at, embedding, metadata) VALUES (?, ?, ?, ?)`,
		e.Content, s.dialect.timeArg(createdAtOrNow(e.CreatedAt)), s.dialect.vectorArg(e.Embedding), string(metaJSON),
	)
}

func (s *Store) ListJournal(ctx context.Context, limit int) ([]JournalEntry, error) {
	rows, err := s.db.QueryContext(ctx, s.dialect.rebind(
		`SELECT id, content, created_at, metadata FROM journal ORDER BY id DESC LIMIT ?`), limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var results []JournalEntry
	for rows.Next() {
		var e JournalEntry
		var createdAt dbTime
		var meta dbText
		if err := rows.Scan(&e.ID, &e.Content, &createdAt, &meta); err != nil {
			return nil, err
		}
		e.CreatedAt = createdAt.t
		if meta.s != "" {
			if err := json.Unmarshal([]byte(meta.s), &e.Metadata); err != nil {
				return nil, fmt.Errorf("parsing metadata for journal %d: %w", e.ID, err)
			}
		}
		results = append(results, e)
	}
	return results, rows.Err()
}

// --- Interactions ---

func (s *Store) InsertInteraction(ctx context.Context, i Interaction) (int64, error) {
	if !i.Category.Valid() {
		return 0, fmt.Errorf("invalid interaction category %q", i.Category)
	}
	return s.insertReturningID(ctx,
		`INSERT INTO interaction (content, category, created_at, embedding) VALUES (?, ?, ?, ?)`,
		i.Content, string(i.Category), s.dialect.timeArg(createdAtOrNow(i.CreatedAt)), s.dialect.vectorArg(i.Embedding),
	)
}

func (s *Store) ListInteractions(ctx context.Context, limit int) ([]Interaction, error) {
	rows, err := s.db.QueryContext(ctx, s.dialect.rebind(
		`SELECT id, content, category, created_at FROM interaction ORDER BY id DESC LIMIT ?`), limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var results []Interaction
	for rows.Next() {
		var i Interaction
		var category string
		var createdAt dbTime
		if err := rows.Scan(&i.ID, &i.Content, &category, &createdAt); err != nil {
			return nil, err
		}
		i.Category = Category(category)
		i.CreatedAt = createdAt.t
		results = append(results, i)
	}
	return results, rows.Err()
}

// --- Ingested files ---

func (s *Store) InsertIngestedFile(ctx context.Context, f IngestedFile) (int64, error) {
	return s.insertReturningID(ctx,
		`INSERT INTO ingested_file (name, content, created_at, embedding) VALUES (?, ?, ?, ?)`,
		f.Name, f.Content, s.dialect.timeArg(createdAtOrNow(f.CreatedAt)), s.dialect.vectorArg(f.Embedding),
	)
}

func (s *Store) ListIngestedFiles(ctx context.Context, limit int) ([]IngestedFile, error) {
	rows, err := s.db.QueryContext(ctx, s.dialect.rebind(
		`SELECT id, name, content, created_at FROM ingested_file ORDER BY id DESC LIMIT ?`), limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var results []IngestedFile
	for rows.Next() {
		var f IngestedFile
		var createdAt dbTime
		if err := rows.Scan(&f.ID, &f.Name, &f.Content, &createdAt); err != nil {
			return nil, err
		}
		f.CreatedAt = createdAt.t
		results = append(results, f)
	}
	return results, rows.Err()
}

// --- Query logs ---

func (s *Store) InsertQueryLog(ctx context.Context, l QueryLog) (int64, error) {
	plan := string(l.AgentPlan)
	if plan == "" {
		plan = "{}"
	} else if !json.Valid(l.AgentPlan) {
		b, _ := json.Marshal(map[string]string{"raw": plan})
		plan = string(b)
	}
	return s.insertReturningID(ctx,
		`INSERT INTO query_log (user_query, agent_plan, tool_outputs, ai_response, created_at) VALUES (?, ?, ?, ?, ?)`,
		l.UserQuery, plan, l.ToolOutputs, l.AIResponse, s.dialect.timeArg(createdAtOrNow(l.CreatedAt)),
	)
}

func (s *Store) ListQueryLogs(ctx context.Context, limit int) ([]QueryLog, error) {
	rows, err := s.db.QueryContext(ctx, s.dialect.rebind(
		`SELECT id, user_query, agent_plan, tool_outputs, ai_response, created_at FROM query_log ORDER BY id DESC LIMIT ?`), limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var results []QueryLog
	for rows.Next() {
		var l QueryLog
		var plan dbText
		var createdAt dbTime
		if err := rows.Scan(&l.ID, &l.UserQuery, &plan, &l.ToolOutputs, &l.AIResponse, &createdAt); err != nil {
			return nil, err
		}
		l.AgentPlan = json.RawMessage(plan.s)
		l.CreatedAt = createdAt.t
		results = append(results, l)
	}
	return results, rows.Err()
}

// --- Vector search ---

// NearestContent returns the content of the k rows in table whose embedding
// is closest to vec by Euclidean distance, nearest first.
func (s *Store) NearestContent(ctx context.Context, table string, vec []float32, k int) ([]string, error) {
	if !vectorTables[table] {
		return nil, fmt.Errorf("%w: %q has no embedding column", ErrUnknownTable, table)
	}
	if k <= 0 {
		return nil, nil
	}

	rows, err := s.db.QueryContext(ctx, s.dialect.rebind(s.dialect.nearestSQL(table)), s.dialect.vectorArg(vec), k)
	if err != nil {
		return nil, fmt.Errorf("nearest-neighbour query on %s: %w", table, err)
	}
	defer rows.Close()

	var results []string
	for rows.Next() {
		var content string
		if err := rows.Scan(&content); err != nil {
			return nil, err
		}
		results = append(results, content)
	}
	return results, rows.Err()
}
