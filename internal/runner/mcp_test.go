package runner

import (
	"context"
	"errors"
	"testing"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/rendis/weave/pkg/schema"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeToolCaller struct {
	lastReq mcp.CallToolRequest
	result  *mcp.CallToolResult
	err     error
}

func (f *fakeToolCaller) CallTool(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	f.lastReq = req
	return f.result, f.err
}

func textResult(text string, isError bool) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		Content: []mcp.Content{mcp.TextContent{Type: "text", Text: text}},
		IsError: isError,
	}
}

func mcpRunnerWith(caller toolCaller) *MCPToolRunner {
	r := NewMCPToolRunner(MCPConfig{})
	r.clients["srv"] = caller
	return r
}

func TestMCPToolRunner_JSONOutput(t *testing.T) {
	caller := &fakeToolCaller{result: textResult(`{"status":"ok","count":3}`, false)}
	r := mcpRunnerWith(caller)

	inputs := map[string]any{
		"server":    "srv",
		"tool":      "search",
		"arguments": map[string]any{"q": "weave"},
	}

	out, err := r.Execute(context.Background(), blockInv("m1", "mcp.tool", inputs, nil))
	require.NoError(t, err)
	assert.Equal(t, "ok", dataMap(t, out)["status"])
	assert.Equal(t, float64(3), dataMap(t, out)["count"])
	assert.Equal(t, "search", caller.lastReq.Params.Name)
}

func TestMCPToolRunner_PlainTextOutput(t *testing.T) {
	caller := &fakeToolCaller{result: textResult("hello world", false)}
	r := mcpRunnerWith(caller)

	inputs := map[string]any{"server": "srv", "tool": "echo"}

	out, err := r.Execute(context.Background(), blockInv("m1", "mcp.tool", inputs, nil))
	require.NoError(t, err)
	assert.Equal(t, "hello world", dataMap(t, out)["text"])
}

func TestMCPToolRunner_ToolError(t *testing.T) {
	caller := &fakeToolCaller{result: textResult("boom", true)}
	r := mcpRunnerWith(caller)

	inputs := map[string]any{"server": "srv", "tool": "explode"}

	_, err := r.Execute(context.Background(), blockInv("m1", "mcp.tool", inputs, nil))
	require.Error(t, err)
	var werr *schema.WeaveError
	require.ErrorAs(t, err, &werr)
	assert.Equal(t, schema.ErrCodeBlockFailed, werr.Code)
	assert.Contains(t, werr.Message, "boom")
}

func TestMCPToolRunner_TransportError(t *testing.T) {
	caller := &fakeToolCaller{err: errors.New("pipe closed")}
	r := mcpRunnerWith(caller)

	inputs := map[string]any{"server": "srv", "tool": "search"}

	_, err := r.Execute(context.Background(), blockInv("m1", "mcp.tool", inputs, nil))
	require.Error(t, err)
	var werr *schema.WeaveError
	require.ErrorAs(t, err, &werr)
	assert.Equal(t, schema.ErrCodeExecution, werr.Code)
}

func TestMCPToolRunner_UnknownServer(t *testing.T) {
	r := NewMCPToolRunner(MCPConfig{})

	inputs := map[string]any{"server": "ghost", "tool": "search"}

	_, err := r.Execute(context.Background(), blockInv("m1", "mcp.tool", inputs, nil))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not configured")
}

func TestMCPToolRunner_MissingInputs(t *testing.T) {
	r := NewMCPToolRunner(MCPConfig{})

	_, err := r.Execute(context.Background(), blockInv("m1", "mcp.tool", map[string]any{}, nil))
	require.Error(t, err)
}
