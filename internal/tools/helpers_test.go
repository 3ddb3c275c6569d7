package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"testing"

	"github.com/dyluth/chalk/internal/board"
	"github.com/dyluth/chalk/internal/board/boardtest"
	"github.com/dyluth/chalk/internal/logging"
	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
	"github.com/stretchr/testify/require"
)

func testServer(t *testing.T) (*server.MCPServer, *board.Board) {
	t.Helper()
	b, _ := boardtest.New(t, "")
	return NewServer(b, "test", logging.Nop()), b
}

// callTool sends a tools/call request through HandleMessage. RPC errors are
// returned as errors.
func callTool(t *testing.T, s *server.MCPServer, name string, args map[string]any) (*mcp.CallToolResult, error) {
	t.Helper()

	reqJSON, err := json.Marshal(map[string]any{
		"jsonrpc": "2.0",
		"id":      1,
		"method":  "tools/call",
		"params": map[string]any{
			"name":      name,
			"arguments": args,
		},
	})
	require.NoError(t, err)

	respBytes, err := json.Marshal(s.HandleMessage(context.Background(), reqJSON))
	require.NoError(t, err)

	var resp struct {
		Result json.RawMessage `json:"result"`
		Error  *struct {
			Code    int    `json:"code"`
			Message string `json:"message"`
		} `json:"error"`
	}
	require.NoError(t, json.Unmarshal(respBytes, &resp))
	if resp.Error != nil {
		return nil, fmt.Errorf("RPC error %d: %s", resp.Error.Code, resp.Error.Message)
	}

	var result mcp.CallToolResult
	require.NoError(t, json.Unmarshal(resp.Result, &result))
	return &result, nil
}

// callJSON calls a tool that must succeed and decodes its JSON text result.
func callJSON(t *testing.T, s *server.MCPServer, name string, args map[string]any) map[string]any {
	t.Helper()
	res, err := callTool(t, s, name, args)
	require.NoError(t, err)
	require.NotEmpty(t, res.Content)
	tc, ok := res.Content[0].(mcp.TextContent)
	require.True(t, ok, "first content block is not text")

	var out map[string]any
	require.NoError(t, json.Unmarshal([]byte(tc.Text), &out))
	return out
}
