package models

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCellValueMarshalJSONEncodesBareValuePerVariant(t *testing.T) {
	i := int64(42)
	f := 3.5
	s := "hello"
	b := true

	tests := map[string]struct {
		cell CellValue
		want string
	}{
		"null":  {CellValue{IsNull: true}, "null"},
		"zero":  {CellValue{}, "null"},
		"int":   {CellValue{Int: &i}, "42"},
		"float": {CellValue{Float: &f}, "3.5"},
		"str":   {CellValue{Str: &s}, `"hello"`},
		"bool":  {CellValue{Bool: &b}, "true"},
		"bytes": {CellValue{Bytes: []byte("ab")}, `"YWI="`},
	}
	for name, tc := range tests {
		t.Run(name, func(t *testing.T) {
			raw, err := json.Marshal(tc.cell)
			require.NoError(t, err)
			assert.JSONEq(t, tc.want, string(raw))
		})
	}
}

func TestCellValueUnmarshalJSONRecoversTaggedUnion(t *testing.T) {
	t.Run("null", func(t *testing.T) {
		var c CellValue
		require.NoError(t, json.Unmarshal([]byte("null"), &c))
		assert.True(t, c.IsNull)
	})

	t.Run("whole number float decodes as int", func(t *testing.T) {
		var c CellValue
		require.NoError(t, json.Unmarshal([]byte("42"), &c))
		require.NotNil(t, c.Int)
		assert.Equal(t, int64(42), *c.Int)
		assert.Nil(t, c.Float)
	})

	t.Run("fractional number decodes as float", func(t *testing.T) {
		var c CellValue
		require.NoError(t, json.Unmarshal([]byte("3.5"), &c))
		require.NotNil(t, c.Float)
		assert.Equal(t, 3.5, *c.Float)
		assert.Nil(t, c.Int)
	})

	t.Run("string", func(t *testing.T) {
		var c CellValue
		require.NoError(t, json.Unmarshal([]byte(`"hi"`), &c))
		require.NotNil(t, c.Str)
		assert.Equal(t, "hi", *c.Str)
	})

	t.Run("bool", func(t *testing.T) {
		var c CellValue
		require.NoError(t, json.Unmarshal([]byte("false"), &c))
		require.NotNil(t, c.Bool)
		assert.False(t, *c.Bool)
	})

	t.Run("malformed JSON propagates the decode error", func(t *testing.T) {
		var c CellValue
		err := json.Unmarshal([]byte("{not json"), &c)
		assert.Error(t, err)
	})
}

func TestCellValueRoundTripsThroughQueryResponsePayload(t *testing.T) {
	i := int64(7)
	payload := QueryResponsePayload{
		Columns: []string{"id", "name"},
		Rows: [][]CellValue{
			{{Int: &i}, {IsNull: true}},
		},
		RowCount: 1,
	}

	raw, err := json.Marshal(payload)
	require.NoError(t, err)

	var decoded QueryResponsePayload
	require.NoError(t, json.Unmarshal(raw, &decoded))

	require.Len(t, decoded.Rows, 1)
	require.Len(t, decoded.Rows[0], 2)
	require.NotNil(t, decoded.Rows[0][0].Int)
	assert.Equal(t, int64(7), *decoded.Rows[0][0].Int)
	assert.True(t, decoded.Rows[0][1].IsNull)
}

func TestFrameRoundTripsPayloadAsRawMessage(t *testing.T) {
	hello := HelloPayload{AgentID: "agent-1", AgentKey: "key"}
	body, err := json.Marshal(hello)
	require.NoError(t, err)

	frame := Frame{Kind: FrameHello, Payload: body}
	raw, err := json.Marshal(frame)
	require.NoError(t, err)

	var decoded Frame
	require.NoError(t, json.Unmarshal(raw, &decoded))
	assert.Equal(t, FrameHello, decoded.Kind)
	assert.Empty(t, decoded.RequestID)

	var decodedHello HelloPayload
	require.NoError(t, json.Unmarshal(decoded.Payload, &decodedHello))
	assert.Equal(t, hello, decodedHello)
}
