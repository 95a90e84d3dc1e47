package storage

import (
	"encoding/json"
	"errors"
	"time"
)

// ErrNotFound is returned when a requested record does not exist.
var ErrNotFound = errors.New("not found")

// ErrUnknownTable is returned for table names outside the fixed schema.
var ErrUnknownTable = errors.New("unknown table")

// Table names of the four append-only record kinds.
const (
	TableJournal      = "journal"
	TableInteraction  = "interaction"
	TableIngestedFile = "ingested_file"
	TableQueryLog     = "query_log"
)

// RecordTables returns the four record tables, in schema order.
func RecordTables() []string {
	return []string{TableJournal, TableInteraction, TableIngestedFile, TableQueryLog}
}

// vectorTables carry an embedding column and support nearest-neighbour reads.
var vectorTables = map[string]bool{
	TableJournal:      true,
	TableInteraction:  true,
	TableIngestedFile: true,
}

// Category classifies an Interaction. It is fixed at creation.
type Category string

const (
	CategoryUserInput  Category = "user_input"
	CategoryAIResponse Category = "ai_response"
)

func (c Category) Valid() bool {
	return c == CategoryUserInput || c == CategoryAIResponse
}

type JournalEntry struct {
	ID        int64
	Content   string
	CreatedAt time.Time
	Embedding []float32
	Metadata  map[string]any
}

type Interaction struct {
	ID        int64
	Content   string
	Category  Category
	CreatedAt time.Time
	Embedding []float32
}

type IngestedFile struct {
	ID        int64
	Name      string
	Content   string
	CreatedAt time.Time
	Embedding []float32
}

type QueryLog struct {
	ID          int64
	UserQuery   string
	AgentPlan   json.RawMessage
	ToolOutputs string
	AIResponse  string
	CreatedAt   time.Time
}

type Job struct {
	ID          string
	Type        string
	PayloadJSON string
	Status      string // "pending", "running", "completed", "failed"
	Attempts    int
	MaxAttempts int
	RunAfter    time.Time
	CreatedAt   time.Time
	UpdatedAt   time.Time
	LastError   string
}

// Row is one result row of an ad-hoc read-only query, keyed by column name.
type Row map[string]any
