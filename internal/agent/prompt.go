package agent

import "fmt"

// noPreviousError stands in for the previous error on the first attempt.
const noPreviousError = "none"

const planPromptTemplate = `ROLE: Lead Architect of the ORB memory kernel.
SYSTEM DESIGN:
%s
PROBLEM: %s
RECOLLECTION:
%s
PREVIOUS ERROR: %s
TASK: Decide if answering needs specific facts from the tables (sql) or the general picture from the recollection (semantic).
If the previous error shows a rejected query, pick a different table or switch to semantic.
JSON ONLY: {
  "consideration": "Briefly explain WHY you are choosing SQL or Semantic.",
  "approach": "sql" | "semantic",
  "sql_intent": "what the query must find, empty for semantic"
}`

func buildPlanPrompt(schema, query, recollection, previousError string) string {
	return fmt.Sprintf(planPromptTemplate, schema, query, recollection, previousError)
}

func buildSQLPrompt(schema, intent string) string {
	return fmt.Sprintf("SYSTEM: %s\nINTENT: %s\nGENERATE READ-ONLY SQL. NO EXPLANATION.", schema, intent)
}

func buildSynthesisPrompt(data, query string) string {
	return fmt.Sprintf("DATA: %s\nUSER: %s\nAnswer as a helpful peer. No internal logic mentions.", data, query)
}
