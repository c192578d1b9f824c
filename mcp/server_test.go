package mcp

import (
	"testing"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/rs/zerolog"
)

// Helper to create a CallToolRequest with arguments
func makeToolRequest(args map[string]interface{}) mcp.CallToolRequest {
	return mcp.CallToolRequest{
		Params: mcp.CallToolParams{
			Arguments: args,
		},
	}
}

// Helper to get text content from result
func getTextContent(result *mcp.CallToolResult) string {
	if result == nil || len(result.Content) == 0 {
		return ""
	}
	for _, c := range result.Content {
		if tc, ok := c.(mcp.TextContent); ok {
			return tc.Text
		}
	}
	return ""
}

func newTestServer(mock *MockEngineApp) *MCPServer {
	return NewMCPServer(mock, zerolog.Nop())
}

// TestNewMCPServer tests server creation
func TestNewMCPServer(t *testing.T) {
	mock := NewMockEngineApp()
	server := newTestServer(mock)

	if server == nil {
		t.Fatal("NewMCPServer should not return nil")
	}
	if server.server == nil {
		t.Error("server.server (underlying MCP server) should not be nil")
	}
	if !mock.WasMethodCalled("Version") {
		t.Error("Version should be called during server creation")
	}
	if server.IsRunning() {
		t.Error("Server should not be running initially")
	}
}

func TestMockEngineApp_Interface(t *testing.T) {
	var _ EngineApp = (*MockEngineApp)(nil)
}

func TestMockEngineApp_RecordsCalls(t *testing.T) {
	mock := NewMockEngineApp()

	mock.Targets()
	mock.Target("com.instagram.android")
	mock.AddKeyword("com.instagram.android", "Ad")

	calls := mock.GetCalls()
	if len(calls) != 3 {
		t.Fatalf("Expected 3 calls, got %d", len(calls))
	}
	if calls[1].Method != "Target" || calls[1].Args[0] != "com.instagram.android" {
		t.Errorf("unexpected second call: %+v", calls[1])
	}
}
