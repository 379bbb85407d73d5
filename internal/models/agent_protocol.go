// Package models defines the wire protocol and domain records for Custard's
// agent-gateway control plane.
//
// Agent Wire Protocol
//
// Every frame exchanged between the gateway and a connector agent is a
// single JSON object with a `kind` discriminator and a `payload` carrying
// kind-specific fields. This is the one compatibility surface that must be
// preserved exactly across implementations.
//
// Frame kinds:
//
//	hello                     agent -> gateway, first frame   {agent_id, agent_key}
//	hello_ok                  gateway -> agent                {}
//	schema_refresh_request    gateway -> agent                {request_id}
//	schema_refresh_response   agent -> gateway                {request_id, schema}
//	query_request             gateway -> agent                {request_id, sql}
//	query_response            agent -> gateway                {request_id, columns, rows, row_count}
//	error                     agent -> gateway                {request_id?, code, message}
//	heartbeat                 either direction                {}
package models

import (
	"encoding/json"
)

// Frame kinds, wire-visible in both directions.
const (
	FrameHello                  = "hello"
	FrameHelloOK                = "hello_ok"
	FrameSchemaRefreshRequest   = "schema_refresh_request"
	FrameSchemaRefreshResponse  = "schema_refresh_response"
	FrameQueryRequest           = "query_request"
	FrameQueryResponse          = "query_response"
	FrameError                  = "error"
	FrameHeartbeat              = "heartbeat"
)

// Frame is the top-level envelope for every message on the agent channel.
type Frame struct {
	Kind      string          `json:"kind"`
	RequestID string          `json:"request_id,omitempty"`
	Payload   json.RawMessage `json:"payload,omitempty"`
}

// HelloPayload is the agent's handshake frame: agent_id + agent_key.
type HelloPayload struct {
	AgentID  string `json:"agent_id"`
	AgentKey string `json:"agent_key"`
}

// ColumnDef describes one column of one table in a Schema Snapshot.
type ColumnDef struct {
	Name     string `json:"name"`
	Type     string `json:"type"`
	Nullable bool   `json:"nullable"`
}

// TableDef describes one table in a Schema Snapshot.
type TableDef struct {
	Table           string      `json:"table"`
	Columns         []ColumnDef `json:"columns"`
	RowCountEstimate int64      `json:"row_count_estimate"`
}

// SchemaRefreshResponsePayload carries the agent's whole-database schema.
type SchemaRefreshResponsePayload struct {
	Schema []TableDef `json:"schema"`
}

// QueryRequestPayload carries LLM-generated SQL to the agent.
type QueryRequestPayload struct {
	SQL string `json:"sql"`
}

// CellValue is a tagged-union value: exactly one of its fields is set,
// mirroring the closed set {null, int, float, string, bool, bytes} that a
// query result cell may take. The wire encoding is the JSON value itself
// (MarshalJSON/UnmarshalJSON implement the tagging), never a wrapper object.
type CellValue struct {
	IsNull bool
	Int    *int64
	Float  *float64
	Str    *string
	Bool   *bool
	Bytes  []byte
}

// MarshalJSON renders the cell as its bare JSON value.
func (c CellValue) MarshalJSON() ([]byte, error) {
	switch {
	case c.IsNull:
		return []byte("null"), nil
	case c.Int != nil:
		return json.Marshal(*c.Int)
	case c.Float != nil:
		return json.Marshal(*c.Float)
	case c.Str != nil:
		return json.Marshal(*c.Str)
	case c.Bool != nil:
		return json.Marshal(*c.Bool)
	case c.Bytes != nil:
		return json.Marshal(c.Bytes)
	default:
		return []byte("null"), nil
	}
}

// UnmarshalJSON recovers the tagged union from a bare JSON value.
func (c *CellValue) UnmarshalJSON(data []byte) error {
	var raw interface{}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	switch v := raw.(type) {
	case nil:
		c.IsNull = true
	case float64:
		if v == float64(int64(v)) {
			i := int64(v)
			c.Int = &i
		} else {
			c.Float = &v
		}
	case string:
		c.Str = &v
	case bool:
		c.Bool = &v
	default:
		c.IsNull = true
	}
	return nil
}

// QueryResponsePayload carries the agent's tabular query result.
type QueryResponsePayload struct {
	Columns  []string      `json:"columns"`
	Rows     [][]CellValue `json:"rows"`
	RowCount int           `json:"row_count"`
}

// ErrorPayload carries a structured failure attached to a request_id, or
// a session-wide failure if RequestID is empty.
type ErrorPayload struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}
