package runner

import (
	"context"
	"encoding/json"
	"strings"
	"sync"

	"github.com/mark3labs/mcp-go/client"
	"github.com/mark3labs/mcp-go/mcp"
	"github.com/rendis/weave/pkg/schema"
)

// MCPConfig declares the external MCP servers tool blocks may call.
type MCPConfig struct {
	Servers map[string]MCPServerConfig `json:"servers"`
}

// MCPServerConfig describes how to launch one stdio MCP server.
type MCPServerConfig struct {
	Command string   `json:"command"`
	Args    []string `json:"args,omitempty"`
	Env     []string `json:"env,omitempty"`
}

// toolCaller is the slice of the MCP client the runner needs. Tests
// substitute a fake; production uses a stdio-backed mcp-go client.
type toolCaller interface {
	CallTool(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error)
}

// MCPToolRunner invokes a tool on a configured MCP server.
//
// Inputs:
//
//	server:    name of a configured server
//	tool:      tool name to invoke
//	arguments: optional object passed as tool arguments
type MCPToolRunner struct {
	cfg MCPConfig

	mu      sync.Mutex
	clients map[string]toolCaller
}

// NewMCPToolRunner creates an MCP tool runner. Server connections are
// established lazily on first use and reused afterwards.
func NewMCPToolRunner(cfg MCPConfig) *MCPToolRunner {
	return &MCPToolRunner{
		cfg:     cfg,
		clients: make(map[string]toolCaller),
	}
}

func (r *MCPToolRunner) Type() string        { return "mcp.tool" }
func (r *MCPToolRunner) Description() string { return "Invoke a tool on a configured MCP server" }

func (r *MCPToolRunner) Execute(ctx context.Context, inv Invocation) (*schema.BlockOutput, error) {
	serverName, _ := inv.Inputs["server"].(string)
	toolName, _ := inv.Inputs["tool"].(string)
	if serverName == "" || toolName == "" {
		return nil, schema.NewError(schema.ErrCodeValidation,
			"mcp.tool block requires non-empty 'server' and 'tool' string inputs").
			WithBlock(inv.Block.ID)
	}

	arguments, _ := inv.Inputs["arguments"].(map[string]any)

	caller, err := r.clientFor(ctx, serverName)
	if err != nil {
		return nil, err
	}

	req := mcp.CallToolRequest{}
	req.Params.Name = toolName
	req.Params.Arguments = arguments

	result, err := caller.CallTool(ctx, req)
	if err != nil {
		return nil, schema.NewErrorf(schema.ErrCodeExecution,
			"mcp tool %q on server %q failed: %v", toolName, serverName, err).
			WithBlock(inv.Block.ID).
			WithCause(err)
	}

	text := collectText(result)
	if result.IsError {
		return nil, schema.NewErrorf(schema.ErrCodeBlockFailed,
			"mcp tool %q returned an error: %s", toolName, text).
			WithBlock(inv.Block.ID)
	}

	return &schema.BlockOutput{Data: encodeData(decodeToolText(text))}, nil
}

// clientFor returns a cached client for the server, dialing on first use.
func (r *MCPToolRunner) clientFor(ctx context.Context, serverName string) (toolCaller, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if c, ok := r.clients[serverName]; ok {
		return c, nil
	}

	serverCfg, ok := r.cfg.Servers[serverName]
	if !ok {
		return nil, schema.NewErrorf(schema.ErrCodeValidation,
			"mcp server %q is not configured", serverName)
	}

	c, err := client.NewStdioMCPClient(serverCfg.Command, serverCfg.Env, serverCfg.Args...)
	if err != nil {
		return nil, schema.NewErrorf(schema.ErrCodeExecution,
			"start mcp server %q: %v", serverName, err).WithCause(err)
	}

	initReq := mcp.InitializeRequest{}
	initReq.Params.ProtocolVersion = mcp.LATEST_PROTOCOL_VERSION
	initReq.Params.ClientInfo = mcp.Implementation{Name: "weave", Version: "1.0.0"}
	if _, err := c.Initialize(ctx, initReq); err != nil {
		return nil, schema.NewErrorf(schema.ErrCodeExecution,
			"initialize mcp server %q: %v", serverName, err).WithCause(err)
	}

	r.clients[serverName] = c
	return c, nil
}

// collectText concatenates all text content items of a tool result.
func collectText(result *mcp.CallToolResult) string {
	var parts []string
	for _, content := range result.Content {
		if tc, ok := mcp.AsTextContent(content); ok {
			parts = append(parts, tc.Text)
		}
	}
	return strings.Join(parts, "\n")
}

// decodeToolText exposes structured tool output when the text parses as
// a JSON object, and wraps everything else under "text".
func decodeToolText(text string) map[string]any {
	trimmed := strings.TrimSpace(text)
	if strings.HasPrefix(trimmed, "{") {
		var obj map[string]any
		if err := json.Unmarshal([]byte(trimmed), &obj); err == nil {
			return obj
		}
	}
	return map[string]any{"text": text}
}

var _ BlockRunner = (*MCPToolRunner)(nil)
