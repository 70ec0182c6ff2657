// ABOUTME: Tests for JSON Schema input validators.
// ABOUTME: Checks required fields, type mismatches, and empty-params normalization.

package tools

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const messageSchema = `{
	"type": "object",
	"properties": {
		"message": {"type": "string", "minLength": 1}
	},
	"required": ["message"]
}`

func TestCompileSchema(t *testing.T) {
	v, err := CompileSchema("echo", json.RawMessage(messageSchema))
	require.NoError(t, err)

	tests := []struct {
		name    string
		params  string
		wantErr bool
	}{
		{"valid", `{"message":"hi"}`, false},
		{"missing field", `{}`, true},
		{"wrong type", `{"message":42}`, true},
		{"empty string", `{"message":""}`, true},
		{"absent params", ``, true},
		{"null params", `null`, true},
		{"not json", `{"message":`, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := v.Validate(json.RawMessage(tt.params))
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestCompileSchema_EmptyParamsAgainstOpenObject(t *testing.T) {
	v, err := CompileSchema("server_time", json.RawMessage(`{"type":"object"}`))
	require.NoError(t, err)

	assert.NoError(t, v.Validate(nil))
	assert.NoError(t, v.Validate(json.RawMessage("null")))
	assert.Error(t, v.Validate(json.RawMessage(`[1,2]`)))
}

func TestCompileSchema_InvalidDocument(t *testing.T) {
	_, err := CompileSchema("bad", json.RawMessage(`{"type": 12}`))
	assert.Error(t, err)
}
