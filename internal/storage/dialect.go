package storage

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/pgvector/pgvector-go"
)

// Dialect names.
const (
	DialectSQLite   = "sqlite"
	DialectPostgres = "postgres"
)

// sqliteTimeLayout is fixed width so that text comparison orders the same
// way as time.
const sqliteTimeLayout = "2006-01-02T15:04:05.000000000Z"

// dialect captures the differences between the SQLite and Postgres backends.
// Queries are written with '?' placeholders and rebound per dialect.
type dialect struct {
	name          string
	migrationsDir string
	numbered      bool // $1, $2 ... placeholders
	vectorArg     func(v []float32) any
	timeArg       func(t time.Time) any
	nearestSQL    func(table string) string
}

var sqliteDialect = dialect{
	name:          DialectSQLite,
	migrationsDir: "migrations/sqlite",
	vectorArg: func(v []float32) any {
		if v == nil {
			return nil
		}
		return encodeEmbedding(v)
	},
	timeArg: func(t time.Time) any { return t.UTC().Format(sqliteTimeLayout) },
	nearestSQL: func(table string) string {
		return fmt.Sprintf(`SELECT content FROM (
			SELECT id, content, vec_l2(embedding, ?) AS dist FROM %s WHERE embedding IS NOT NULL
		) WHERE dist IS NOT NULL ORDER BY dist ASC, id DESC LIMIT ?`, table)
	},
}

var postgresDialect = dialect{
	name:          DialectPostgres,
	migrationsDir: "migrations/postgres",
	numbered:      true,
	vectorArg: func(v []float32) any {
		if v == nil {
			return nil
		}
		return pgvector.NewVector(v)
	},
	timeArg: func(t time.Time) any { return t.UTC() },
	nearestSQL: func(table string) string {
		return fmt.Sprintf(`SELECT content FROM %s WHERE embedding IS NOT NULL
			ORDER BY embedding <-> ? ASC, id DESC LIMIT ?`, table)
	},
}

// rebind rewrites '?' placeholders to $n for numbered dialects.
func (d dialect) rebind(query string) string {
	if !d.numbered {
		return query
	}
	var sb strings.Builder
	sb.Grow(len(query) + 8)
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			sb.WriteByte('$')
			sb.WriteString(strconv.Itoa(n))
			continue
		}
		sb.WriteRune(r)
	}
	return sb.String()
}

// dbTime scans timestamps stored as text (SQLite) or native (Postgres).
type dbTime struct {
	t time.Time
}

func (d *dbTime) Scan(src any) error {
	switch v := src.(type) {
	case nil:
		d.t = time.Time{}
	case time.Time:
		d.t = v.UTC()
	case string:
		return d.parse(v)
	case []byte:
		return d.parse(string(v))
	default:
		return fmt.Errorf("unsupported time value %T", src)
	}
	return nil
}

func (d *dbTime) parse(s string) error {
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return fmt.Errorf("parsing time %q: %w", s, err)
	}
	d.t = t.UTC()
	return nil
}

// dbText scans TEXT, JSON and JSONB columns, which arrive as either string
// or []byte depending on the driver.
type dbText struct {
	s string
}

func (d *dbText) Scan(src any) error {
	switch v := src.(type) {
	case nil:
		d.s = ""
	case string:
		d.s = v
	case []byte:
		d.s = string(v)
	default:
		return fmt.Errorf("unsupported text value %T", src)
	}
	return nil
}
