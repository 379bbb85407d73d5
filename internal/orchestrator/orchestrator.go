// Package orchestrator implements the Query Orchestrator: the decision
// procedure that turns a user question into an answer, selecting among the
// agent_sql, csv_sql, and csv_analytic backends, invoking the external LLM,
// dispatching through the Correlator, and formatting the reply.
package orchestrator

import (
	"context"
	"encoding/json"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/microcosm-cc/bluemonday"

	"github.com/custard/gateway/internal/correlator"
	apperrors "github.com/custard/gateway/internal/errors"
	"github.com/custard/gateway/internal/csvpool"
	"github.com/custard/gateway/internal/llm"
	"github.com/custard/gateway/internal/logger"
	"github.com/custard/gateway/internal/models"
	"github.com/custard/gateway/internal/schemacache"
)

// DefaultDispatchDeadline is the Correlator deadline used when the caller
// does not override it.
const DefaultDispatchDeadline = 30 * time.Second

// LLM is the subset of llm.Client the Orchestrator needs. A narrow
// interface keeps this package testable without a real LLM collaborator.
type LLM interface {
	GenerateSQL(ctx context.Context, schema []models.SchemaTable, question, tableHint string) (string, error)
	ClassifyRoute(ctx context.Context, question string) (llm.Classification, error)
	Summarize(ctx context.Context, question string, columns []string, rows [][]models.CellValue) (string, error)
}

// Classification is an alias of llm.Classification so callers outside this
// package never need to import llm directly to read a Result's Routing field.
type Classification = llm.Classification

// AnalyticEngine is the external, interface-only CSV analytic backend used
// by the csv_analytic route. The csv_sql route does not go through it: it
// runs generated SQL against the CSV Session Pool.
type AnalyticEngine interface {
	Analyze(ctx context.Context, fileID, question string) (answer string, err error)
}

// Dispatcher is the Correlator surface the Orchestrator dispatches
// schema_refresh_request / query_request frames through.
type Dispatcher interface {
	Dispatch(ctx context.Context, agentID string, encode correlator.FrameEncoder, deadline time.Duration) ([]byte, *apperrors.AppError)
}

// Request is one user question submitted to the Orchestrator.
type Request struct {
	UserID       string
	Question     string
	ConnectionID string   // set for the agent_sql route
	FileID       string   // set for csv_sql / csv_analytic routes
	DataSource   string   // explicit override, routing case 1
	Preference   string   // "sql" | "analytic", routing cases 3/4
	AgentID      string   // resolved by the caller from ConnectionID
	Deadline     time.Duration
}

// Result is the Orchestrator's formatted answer, the Query response shape.
type Result struct {
	Answer     string              `json:"answer"`
	SQL        string              `json:"sql,omitempty"`
	Columns    []string            `json:"columns,omitempty"`
	Rows       [][]models.CellValue `json:"rows,omitempty"`
	RowCount   int                 `json:"row_count,omitempty"`
	Routing    *Classification     `json:"routing,omitempty"`
}

// Route is the decision made by the routing table.
type Route string

const (
	RouteAgentSQL    Route = "agent_sql"
	RouteCSVSQL      Route = "csv_sql"
	RouteCSVAnalytic Route = "csv_analytic"
)

// Orchestrator wires the routing decision to its LLM, Correlator, Schema
// Cache, and CSV pool collaborators.
type Orchestrator struct {
	dispatcher Dispatcher
	schemas    *schemacache.Cache
	pool       *csvpool.Pool
	llm        LLM
	analytic   AnalyticEngine
	sanitizer  *bluemonday.Policy
}

// New constructs an Orchestrator.
func New(dispatcher Dispatcher, schemas *schemacache.Cache, pool *csvpool.Pool, llmClient LLM, analytic AnalyticEngine) *Orchestrator {
	return &Orchestrator{
		dispatcher: dispatcher,
		schemas:    schemas,
		pool:       pool,
		llm:        llmClient,
		analytic:   analytic,
		sanitizer:  bluemonday.StrictPolicy(),
	}
}

// Resolve evaluates the routing decision table in order; the first match
// wins.
func Resolve(req Request) (Route, *apperrors.AppError) {
	switch {
	case req.DataSource != "":
		switch req.DataSource {
		case string(RouteAgentSQL):
			return RouteAgentSQL, nil
		case string(RouteCSVSQL):
			return RouteCSVSQL, nil
		case string(RouteCSVAnalytic):
			return RouteCSVAnalytic, nil
		default:
			return "", apperrors.NoDataSource("unrecognized data_source: " + req.DataSource)
		}
	case req.ConnectionID != "":
		return RouteAgentSQL, nil
	case req.FileID != "" && req.Preference == "sql":
		return RouteCSVSQL, nil
	case req.FileID != "" && req.Preference == "analytic":
		return RouteCSVAnalytic, nil
	case req.FileID != "":
		return "", nil // signals "call the classifier"; handled by caller
	default:
		return "", apperrors.NoDataSource("no connection_id or file_id given")
	}
}

// denylist blocks destructive SQL verbs from ever reaching an agent or the
// in-memory CSV engine. Matches are case-insensitive and word-bounded to
// avoid false positives on identifiers that merely contain a banned
// substring.
var denylist = regexp.MustCompile(`(?i)\b(drop|delete|update|insert|alter|truncate|create|grant|revoke|attach|detach|pragma|vacuum)\b`)

func isSafeSQL(sqlText string) bool {
	return !denylist.MatchString(sqlText)
}

// Execute runs the full routing + dispatch + summarization pipeline for
// req and returns the formatted Result.
func (o *Orchestrator) Execute(ctx context.Context, req Request) (*Result, *apperrors.AppError) {
	if req.Deadline <= 0 {
		req.Deadline = DefaultDispatchDeadline
	}

	route, appErr := Resolve(req)
	if appErr != nil {
		return nil, appErr
	}

	var classification *Classification
	if route == "" {
		// Routing case 5: delegate to the LLM-based classifier.
		c, err := o.llm.ClassifyRoute(ctx, req.Question)
		if err != nil {
			return nil, apperrors.Wrap(apperrors.CodeInternal, "route classification failed", err)
		}
		classification = &c
		switch c.Service {
		case string(RouteCSVSQL):
			route = RouteCSVSQL
		case string(RouteCSVAnalytic):
			route = RouteCSVAnalytic
		default:
			return nil, apperrors.NoDataSource("classifier returned unrecognized service: " + c.Service)
		}
	}

	var result *Result
	switch route {
	case RouteAgentSQL:
		result, appErr = o.executeAgentSQL(ctx, req)
	case RouteCSVSQL:
		result, appErr = o.executeCSVSQL(ctx, req)
	case RouteCSVAnalytic:
		result, appErr = o.executeCSVAnalytic(ctx, req)
	}
	if appErr != nil {
		return nil, appErr
	}
	result.Routing = classification
	return result, nil
}

// RefreshSchema forces a fresh schema_refresh_request to the agent,
// discarding any cached snapshot for connectionID, and returns the new
// snapshot's tables. Used by the connection refresh-schema API endpoint,
// where a stale cache hit would defeat the caller's intent.
func (o *Orchestrator) RefreshSchema(ctx context.Context, connectionID, agentID string, deadline time.Duration) ([]models.SchemaTable, *apperrors.AppError) {
	o.schemas.Invalidate(connectionID)
	if deadline <= 0 {
		deadline = DefaultDispatchDeadline
	}
	return o.ensureSchema(ctx, connectionID, agentID, deadline)
}

func (o *Orchestrator) ensureSchema(ctx context.Context, connectionID, agentID string, deadline time.Duration) ([]models.SchemaTable, *apperrors.AppError) {
	if snap, ok := o.schemas.Get(connectionID); ok {
		return snap.Tables, nil
	}
	payload, appErr := o.dispatcher.Dispatch(ctx, agentID, encodeSchemaRefreshRequest, deadline)
	if appErr != nil {
		return nil, appErr
	}
	var resp models.SchemaRefreshResponsePayload
	if err := json.Unmarshal(payload, &resp); err != nil {
		return nil, apperrors.Internal(err)
	}
	snapshot := models.SchemaSnapshot{ConnectionID: connectionID}
	for _, t := range resp.Schema {
		cols := make([]models.SchemaColumn, len(t.Columns))
		for i, c := range t.Columns {
			cols[i] = models.SchemaColumn{Name: c.Name, Type: c.Type, Nullable: c.Nullable}
		}
		snapshot.Tables = append(snapshot.Tables, models.SchemaTable{Table: t.Table, Columns: cols, RowCountEstimate: t.RowCountEstimate})
	}
	o.schemas.Put(connectionID, snapshot)
	return snapshot.Tables, nil
}

func (o *Orchestrator) executeAgentSQL(ctx context.Context, req Request) (*Result, *apperrors.AppError) {
	schema, appErr := o.ensureSchema(ctx, req.ConnectionID, req.AgentID, req.Deadline)
	if appErr != nil {
		return nil, appErr
	}

	sqlText, err := o.llm.GenerateSQL(ctx, schema, req.Question, "")
	if err != nil {
		return nil, apperrors.Wrap(apperrors.CodeInternal, "SQL generation failed", err)
	}
	if !isSafeSQL(sqlText) {
		logger.Orchestrator().Warn().Str("connection_id", req.ConnectionID).Msg("generated SQL rejected by denylist")
		return nil, apperrors.UnsafeQuery("generated SQL contains a disallowed statement")
	}

	payload, appErr := o.dispatcher.Dispatch(ctx, req.AgentID, encodeQueryRequest(sqlText), req.Deadline)
	if appErr != nil {
		return nil, appErr
	}
	var resp models.QueryResponsePayload
	if err := json.Unmarshal(payload, &resp); err != nil {
		return nil, apperrors.Internal(err)
	}

	answer, err := o.llm.Summarize(ctx, req.Question, resp.Columns, resp.Rows)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.CodeInternal, "summarization failed", err)
	}

	return &Result{
		Answer:   o.sanitizer.Sanitize(answer),
		SQL:      sqlText,
		Columns:  resp.Columns,
		Rows:     resp.Rows,
		RowCount: resp.RowCount,
	}, nil
}

func (o *Orchestrator) executeCSVSQL(ctx context.Context, req Request) (*Result, *apperrors.AppError) {
	session, appErr := o.pool.Acquire(ctx, req.FileID)
	if appErr != nil {
		return nil, appErr
	}

	sqlText, err := o.llm.GenerateSQL(ctx, nil, req.Question, session.TableName)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.CodeInternal, "SQL generation failed", err)
	}
	if !isSafeSQL(sqlText) {
		logger.Orchestrator().Warn().Str("file_id", req.FileID).Msg("generated SQL rejected by denylist")
		return nil, apperrors.UnsafeQuery("generated SQL contains a disallowed statement")
	}

	rows, err := session.DB().QueryContext(ctx, sqlText)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.CodeInternal, "CSV SQL execution failed", err)
	}
	defer rows.Close()

	columns, err := rows.Columns()
	if err != nil {
		return nil, apperrors.Internal(err)
	}

	var result [][]models.CellValue
	for rows.Next() {
		raw := make([]interface{}, len(columns))
		ptrs := make([]interface{}, len(columns))
		for i := range raw {
			ptrs[i] = &raw[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return nil, apperrors.Internal(err)
		}
		result = append(result, toCellRow(raw))
	}

	answer, err := o.llm.Summarize(ctx, req.Question, columns, result)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.CodeInternal, "summarization failed", err)
	}

	return &Result{
		Answer:   o.sanitizer.Sanitize(answer),
		SQL:      sqlText,
		Columns:  columns,
		Rows:     result,
		RowCount: len(result),
	}, nil
}

func (o *Orchestrator) executeCSVAnalytic(ctx context.Context, req Request) (*Result, *apperrors.AppError) {
	if o.analytic == nil {
		return nil, apperrors.NoDataSource("no analytic engine configured for this deployment")
	}
	answer, err := o.analytic.Analyze(ctx, req.FileID, req.Question)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.CodeInternal, "analytic engine failed", err)
	}
	return &Result{Answer: o.sanitizer.Sanitize(answer)}, nil
}

func toCellRow(raw []interface{}) []models.CellValue {
	row := make([]models.CellValue, len(raw))
	for i, v := range raw {
		switch t := v.(type) {
		case nil:
			row[i] = models.CellValue{IsNull: true}
		case int64:
			n := t
			row[i] = models.CellValue{Int: &n}
		case float64:
			f := t
			row[i] = models.CellValue{Float: &f}
		case string:
			s := t
			row[i] = models.CellValue{Str: &s}
		case []byte:
			s := string(t)
			row[i] = models.CellValue{Str: &s}
		case bool:
			b := t
			row[i] = models.CellValue{Bool: &b}
		default:
			s := strings.TrimSpace(fmt.Sprint(v))
			row[i] = models.CellValue{Str: &s}
		}
	}
	return row
}

func encodeSchemaRefreshRequest(requestID string) ([]byte, error) {
	return json.Marshal(models.Frame{Kind: models.FrameSchemaRefreshRequest, RequestID: requestID})
}

func encodeQueryRequest(sqlText string) correlator.FrameEncoder {
	return func(requestID string) ([]byte, error) {
		payload, err := json.Marshal(models.QueryRequestPayload{SQL: sqlText})
		if err != nil {
			return nil, err
		}
		return json.Marshal(models.Frame{Kind: models.FrameQueryRequest, RequestID: requestID, Payload: payload})
	}
}
