// Package llm wraps the external LLM collaborator — a text-completion
// service invoked synchronously — behind the three call shapes the Query
// Orchestrator needs: SQL generation, routing classification, and result
// summarization. Each call shape sends a system prompt and a single user
// message through anthropic-sdk-go's Messages.New and extracts the first
// text block; only the system prompt and input construction differ per
// call.
package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"

	"github.com/custard/gateway/internal/models"
)

// Client invokes the external LLM for Custard's three call sites.
type Client struct {
	model string
}

// New constructs a Client targeting model (e.g. "claude-sonnet-4-5"). The
// underlying anthropic SDK client reads its API key from the environment,
// matching the reference pack's convention.
func New(model string) *Client {
	return &Client{model: model}
}

func (c *Client) complete(ctx context.Context, system, user string, maxTokens int64) (string, error) {
	client := anthropic.NewClient()
	msg, err := client.Messages.New(ctx, anthropic.MessageNewParams{
		Model:     anthropic.Model(c.model),
		MaxTokens: maxTokens,
		System:    []anthropic.TextBlockParam{{Text: system}},
		Messages:  []anthropic.MessageParam{anthropic.NewUserMessage(anthropic.NewTextBlock(user))},
	})
	if err != nil {
		return "", fmt.Errorf("anthropic messages: %w", err)
	}
	for _, block := range msg.Content {
		if block.Type == "text" {
			return block.Text, nil
		}
	}
	return "", fmt.Errorf("no text block in response")
}

const sqlGenerationSystemPrompt = `You translate a natural-language question into a single read-only SQL
query against the schema provided. Respond with SQL only, no commentary,
no markdown fences, no trailing semicolon explanation. Never write DDL,
never write a destructive statement, and never reference a table not
present in the schema.`

// GenerateSQL turns (schema, question) into a single SQL statement
// intended for either an agent_sql or csv_sql route. tableHint, when
// non-empty, is the one table name the generated SQL must reference
// (used by the csv_sql route, where the table name is the pool's
// deterministic name rather than the agent's own schema).
func (c *Client) GenerateSQL(ctx context.Context, schema []models.SchemaTable, question, tableHint string) (string, error) {
	var b strings.Builder
	if tableHint != "" {
		fmt.Fprintf(&b, "The only table available is named %q.\n", tableHint)
	}
	b.WriteString("Schema:\n")
	for _, t := range schema {
		fmt.Fprintf(&b, "- %s(", t.Table)
		for i, col := range t.Columns {
			if i > 0 {
				b.WriteString(", ")
			}
			fmt.Fprintf(&b, "%s %s", col.Name, col.Type)
		}
		b.WriteString(")\n")
	}
	fmt.Fprintf(&b, "\nQuestion: %s\n", question)

	sql, err := c.complete(ctx, sqlGenerationSystemPrompt, b.String(), 500)
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(strings.Trim(sql, "`")), nil
}

const classifierSystemPrompt = `You choose which backend should answer a question about an uploaded CSV
file: "csv_sql" for questions answerable by a precise SQL aggregation or
filter, or "csv_analytic" for open-ended exploratory or statistical
questions better served by a full analysis engine. Respond with a JSON
object only: {"service": "csv_sql"|"csv_analytic", "reasoning": string,
"confidence": number between 0 and 1}.`

// Classification is the structured output of the case-5 routing classifier.
type Classification struct {
	Service    string  `json:"service"`
	Reasoning  string  `json:"reasoning"`
	Confidence float64 `json:"confidence"`
}

// ClassifyRoute asks the LLM to choose between csv_sql and csv_analytic
// when the caller expressed no explicit preference. The classifier's
// output is echoed to the UI for transparency but is not authoritative
// beyond its own choice.
func (c *Client) ClassifyRoute(ctx context.Context, question string) (Classification, error) {
	raw, err := c.complete(ctx, classifierSystemPrompt, question, 200)
	if err != nil {
		return Classification{}, err
	}
	var out Classification
	if err := json.Unmarshal([]byte(strings.TrimSpace(raw)), &out); err != nil {
		return Classification{}, fmt.Errorf("parse classifier output: %w", err)
	}
	return out, nil
}

const summarizeSystemPrompt = `You summarize a tabular query result into one or two plain-English
sentences answering the user's original question. Be concise and never
invent values not present in the table.`

// Summarize turns a tabular result plus the original question into a
// natural-language answer.
func (c *Client) Summarize(ctx context.Context, question string, columns []string, rows [][]models.CellValue) (string, error) {
	var b strings.Builder
	fmt.Fprintf(&b, "Question: %s\n\nColumns: %s\nRows:\n", question, strings.Join(columns, ", "))
	for _, row := range rows {
		cells := make([]string, len(row))
		for i, v := range row {
			cells[i] = cellText(v)
		}
		fmt.Fprintf(&b, "%s\n", strings.Join(cells, " | "))
	}
	return c.complete(ctx, summarizeSystemPrompt, b.String(), 200)
}

func cellText(v models.CellValue) string {
	switch {
	case v.IsNull:
		return "NULL"
	case v.Int != nil:
		return fmt.Sprintf("%d", *v.Int)
	case v.Float != nil:
		return fmt.Sprintf("%v", *v.Float)
	case v.Str != nil:
		return *v.Str
	case v.Bool != nil:
		return fmt.Sprintf("%v", *v.Bool)
	default:
		return ""
	}
}
