package client

import (
	"context"
	"encoding/json"
	"os/exec"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// ===========================================================================
// BaseParser Tests
// ===========================================================================

func TestNewBaseParser_SetsContextWindowSize(t *testing.T) {
	p := NewBaseParser(200000)
	assert.Equal(t, 200000, p.ContextWindowSize())

	p2 := NewBaseParser(1000000)
	assert.Equal(t, 1000000, p2.ContextWindowSize())
}

func TestBaseParser_IsContextExhausted_NoError(t *testing.T) {
	p := NewBaseParser(200000)
	event := OutputEvent{Type: EventAssistant}
	assert.False(t, p.IsContextExhausted(event))
}

func TestBaseParser_IsContextExhausted_StructuredReason(t *testing.T) {
	p := NewBaseParser(200000)
	event := OutputEvent{
		Type:  EventError,
		Error: &ErrorInfo{Reason: ErrReasonContextExceeded},
	}
	assert.True(t, p.IsContextExhausted(event))
}

func TestBaseParser_IsContextExhausted_MessagePatterns(t *testing.T) {
	tests := []struct {
		name    string
		message string
		want    bool
	}{
		{"prompt too long", "Prompt is too long: 250000 tokens", true},
		{"context window exceeded", "context window exceeded", true},
		{"context exceeded", "Context exceeded limit", true},
		{"context limit", "hit the context limit", true},
		{"token limit", "token limit reached", true},
		{"maximum context length", "This model's maximum context length is 200000", true},
		{"mixed case", "PROMPT IS TOO LONG", true},
		{"unrelated error", "connection refused", false},
		{"empty", "", false},
	}

	p := NewBaseParser(200000)
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			event := OutputEvent{
				Type:  EventError,
				Error: &ErrorInfo{Message: tt.message},
			}
			assert.Equal(t, tt.want, p.IsContextExhausted(event))
		})
	}
}

// ===========================================================================
// ParsePolymorphicError Tests
// ===========================================================================

func TestParsePolymorphicError_Nil(t *testing.T) {
	assert.Nil(t, ParsePolymorphicError(nil))
	assert.Nil(t, ParsePolymorphicError(json.RawMessage{}))
}

func TestParsePolymorphicError_Object(t *testing.T) {
	raw := json.RawMessage(`{"message":"something broke","code":"internal"}`)
	info := ParsePolymorphicError(raw)
	require.NotNil(t, info)
	assert.Equal(t, "something broke", info.Message)
	assert.Equal(t, "internal", info.Code)
}

func TestParsePolymorphicError_PlainString(t *testing.T) {
	raw := json.RawMessage(`"Connection refused"`)
	info := ParsePolymorphicError(raw)
	require.NotNil(t, info)
	assert.Equal(t, "Connection refused", info.Message)
}

func TestParsePolymorphicError_StringWithEmbeddedJSON(t *testing.T) {
	raw := json.RawMessage(`"413 {\"type\":\"error\",\"error\":{\"type\":\"invalid_request_error\",\"message\":\"Prompt is too long\"}}"`)
	info := ParsePolymorphicError(raw)
	require.NotNil(t, info)
	assert.Equal(t, "Prompt is too long", info.Message)
	assert.Equal(t, "invalid_request_error", info.Code)
}

func TestParsePolymorphicError_StringWithMalformedJSON(t *testing.T) {
	raw := json.RawMessage(`"500 {not valid json"`)
	info := ParsePolymorphicError(raw)
	require.NotNil(t, info)
	// Falls back to the whole string as the message
	assert.Equal(t, `500 {not valid json`, info.Message)
}

// ===========================================================================
// WithEventParser Tests
// ===========================================================================

func TestWithEventParser_SetsParseEventFn(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	mockParser := newMockParser()

	cmd := exec.Command("echo", "test")
	stdout, _ := cmd.StdoutPipe()
	stderr, _ := cmd.StderrPipe()

	bp := NewBaseProcess(ctx, cancel, cmd, stdout, stderr, "/tmp",
		WithEventParser(mockParser))

	require.NotNil(t, bp.ParseEventFn())
	require.NotNil(t, bp.ExtractSessionFn())

	event, err := bp.ParseEventFn()([]byte(`{"type":"system"}`))
	require.NoError(t, err)
	assert.Equal(t, EventSystem, event.Type)
}
