package llm

import (
	"encoding/json"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/custard/gateway/internal/models"
)

// The three system prompts are the contract the external LLM is held to;
// Client.complete talks to the real network and is not exercised by
// these tests.

func TestSQLGenerationSystemPromptForbidsWritesAndUnknownTables(t *testing.T) {
	keywords := []string{"read-only", "DDL", "destructive", "schema"}
	for _, kw := range keywords {
		assert.Contains(t, sqlGenerationSystemPrompt, kw)
	}
}

func TestClassifierSystemPromptNamesBothRoutes(t *testing.T) {
	assert.Contains(t, classifierSystemPrompt, "csv_sql")
	assert.Contains(t, classifierSystemPrompt, "csv_analytic")
}

func TestSummarizeSystemPromptForbidsInventingValues(t *testing.T) {
	assert.Contains(t, strings.ToLower(summarizeSystemPrompt), "invent")
}

func TestNewSetsModel(t *testing.T) {
	c := New("claude-sonnet-4-5")
	assert.Equal(t, "claude-sonnet-4-5", c.model)
}

func TestCellTextRendersEachVariant(t *testing.T) {
	i := int64(5)
	f := 2.5
	s := "hi"
	b := true

	tests := map[string]struct {
		cell models.CellValue
		want string
	}{
		"null":  {models.CellValue{IsNull: true}, "NULL"},
		"int":   {models.CellValue{Int: &i}, "5"},
		"float": {models.CellValue{Float: &f}, "2.5"},
		"str":   {models.CellValue{Str: &s}, "hi"},
		"bool":  {models.CellValue{Bool: &b}, "true"},
		"empty": {models.CellValue{}, ""},
	}
	for name, tc := range tests {
		t.Run(name, func(t *testing.T) {
			assert.Equal(t, tc.want, cellText(tc.cell))
		})
	}
}

func TestClassificationUnmarshalsClassifierJSON(t *testing.T) {
	raw := `{"service": "csv_sql", "reasoning": "aggregation", "confidence": 0.9}`
	var c Classification
	assert.NoError(t, json.Unmarshal([]byte(raw), &c))
	assert.Equal(t, "csv_sql", c.Service)
	assert.Equal(t, "aggregation", c.Reasoning)
	assert.InDelta(t, 0.9, c.Confidence, 0.0001)
}
