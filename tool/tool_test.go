package tool

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type echoArgs struct {
	Text string `json:"text" description:"Text to echo back"`
}

func newEchoTool() *FunctionTool {
	return NewFunctionToolFromStruct(
		"echo",
		"Echo the given text back to the caller.",
		echoArgs{},
		func(ctx context.Context, args map[string]any) (any, error) {
			return args["text"], nil
		},
	)
}

// -------------------- FunctionTool Tests --------------------

func TestFunctionTool_Call(t *testing.T) {
	echo := newEchoTool()

	assert.Equal(t, "echo", echo.Name())
	assert.Equal(t, "Echo the given text back to the caller.", echo.Description())

	props := echo.Parameters()["properties"].(map[string]any)
	assert.Contains(t, props, "text")

	out, err := echo.Call(context.Background(), map[string]any{"text": "hello"})
	require.NoError(t, err)
	assert.Equal(t, "hello", out)
}

func TestFunctionTool_ValidationError(t *testing.T) {
	echo := newEchoTool()

	_, err := echo.Call(context.Background(), map[string]any{})
	require.Error(t, err)

	var toolErr *ToolError
	require.ErrorAs(t, err, &toolErr)
	assert.Equal(t, "echo", toolErr.Tool)
	assert.Equal(t, "VALIDATION_ERROR", toolErr.Code)

	_, ok := toolErr.Details.(*ValidationError)
	assert.True(t, ok)
}

func TestFunctionTool_ExecutionError(t *testing.T) {
	boom := NewFunctionTool(
		"boom",
		"Always fails.",
		map[string]any{"type": "object", "properties": map[string]any{}},
		func(ctx context.Context, args map[string]any) (any, error) {
			return nil, errors.New("kaput")
		},
	)

	_, err := boom.Call(context.Background(), map[string]any{})
	var toolErr *ToolError
	require.ErrorAs(t, err, &toolErr)
	assert.Equal(t, "EXECUTION_ERROR", toolErr.Code)
	assert.Equal(t, "kaput", toolErr.Message)
}

func TestFunctionTool_CustomToolErrorPassthrough(t *testing.T) {
	custom := NewFunctionTool(
		"custom",
		"Fails with a custom code.",
		map[string]any{"type": "object", "properties": map[string]any{}},
		func(ctx context.Context, args map[string]any) (any, error) {
			return nil, NewToolError("custom", "rate limited", "RATE_LIMITED")
		},
	)

	_, err := custom.Call(context.Background(), map[string]any{})
	var toolErr *ToolError
	require.ErrorAs(t, err, &toolErr)
	assert.Equal(t, "RATE_LIMITED", toolErr.Code)
}
