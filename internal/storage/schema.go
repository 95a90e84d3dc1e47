package storage

import "fmt"

const schemaTables = `TABLES (read-only):
1. journal: personal journal and diary entries, loose thoughts.
   Columns: id (integer), content (text), created_at (timestamp), embedding (vector), metadata (json)
2. interaction: chat history between the user and the assistant.
   Columns: id (integer), content (text), category (text: 'user_input' or 'ai_response'), created_at (timestamp), embedding (vector)
3. ingested_file: text extracted from documents the user dropped in.
   Columns: id (integer), name (text), content (text), created_at (timestamp), embedding (vector)
4. query_log: audit trail of past question answering.
   Columns: id (integer), user_query (text), agent_plan (json), tool_outputs (text), ai_response (text), created_at (timestamp)`

// SchemaDescription is the schema summary given to the language model when it
// plans and writes SQL. It names the SQL dialect so generated queries use the
// right date and JSON functions.
func (s *Store) SchemaDescription() string {
	return DescribeSchema(s.dialect.name)
}

// DescribeSchema returns the schema summary for the named dialect.
func DescribeSchema(dialectName string) string {
	switch dialectName {
	case DialectPostgres:
		return fmt.Sprintf("%s\nDIALECT: PostgreSQL. created_at is timestamptz; metadata and agent_plan are jsonb.", schemaTables)
	default:
		return fmt.Sprintf("%s\nDIALECT: SQLite. created_at is ISO-8601 text in UTC; use date() and datetime() for comparisons; use json_extract() on metadata and agent_plan.", schemaTables)
	}
}
