package mcp

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/mark3labs/mcp-go/mcp"

	"adsweep/pkg/engine"
)

// registerEngineTools registers scheduler control tools
func (s *MCPServer) registerEngineTools() {
	s.server.AddTool(
		mcp.NewTool("engine_status",
			mcp.WithDescription(`Report the scan scheduler state.

Returns whether the loop is running, the tick period, the post-trigger policy,
the scan state (in-flight, cooldown timestamp, actively scanning) and the
report of the most recent evaluation.`),
		),
		s.handleEngineStatus,
	)

	s.server.AddTool(
		mcp.NewTool("engine_pause",
			mcp.WithDescription("Pause scanning. Ticks keep firing but nothing is evaluated until engine_resume."),
		),
		s.handleEnginePause,
	)

	s.server.AddTool(
		mcp.NewTool("engine_resume",
			mcp.WithDescription("Resume scanning after engine_pause or a pause-policy trigger."),
		),
		s.handleEngineResume,
	)

	s.server.AddTool(
		mcp.NewTool("evaluate_now",
			mcp.WithDescription(`Run one scan/detect/trigger evaluation immediately.

The evaluation goes through the same cooldown and in-flight gate as timer ticks,
so it never triggers twice for one ad.

EXAMPLE:
  app_id: "com.google.android.youtube"`),
			mcp.WithString("app_id",
				mcp.Description("App to evaluate (default: current foreground app)"),
			),
		),
		s.handleEvaluateNow,
	)

	s.server.AddTool(
		mcp.NewTool("trigger_history",
			mcp.WithDescription("List recent triggers, newest first, with execution mode and outcome."),
			mcp.WithString("app_id",
				mcp.Description("Only show triggers for this app"),
			),
			mcp.WithNumber("limit",
				mcp.Description("Maximum number of entries (default: 50)"),
			),
		),
		s.handleTriggerHistory,
	)
}

func (s *MCPServer) handleEngineStatus(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	st := s.app.Status(ctx)
	data, _ := json.MarshalIndent(st, "", "  ")
	return textResult("%s", data), nil
}

func (s *MCPServer) handleEnginePause(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	if err := s.app.Pause(ctx); err != nil {
		return errorResult("%v", err), nil
	}
	return textResult("Scanning paused"), nil
}

func (s *MCPServer) handleEngineResume(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	if err := s.app.Resume(ctx); err != nil {
		return errorResult("%v", err), nil
	}
	return textResult("Scanning resumed"), nil
}

func (s *MCPServer) handleEvaluateNow(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args := request.GetArguments()
	appID, _ := args["app_id"].(string)

	rep, err := s.app.EvaluateNow(ctx, appID)
	if err != nil {
		if errors.Is(err, engine.ErrNotRunning) {
			return errorResult("engine is not running"), nil
		}
		return errorResult("%v", err), nil
	}

	data, _ := json.MarshalIndent(rep, "", "  ")
	return textResult("%s", data), nil
}

func (s *MCPServer) handleTriggerHistory(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args := request.GetArguments()
	appID, _ := args["app_id"].(string)
	limit := 50
	if l, ok := args["limit"].(float64); ok && l > 0 && l <= 500 {
		limit = int(l)
	}

	records, err := s.app.TriggerHistory(appID, limit)
	if err != nil {
		return errorResult("%v", err), nil
	}
	if len(records) == 0 {
		return textResult("No triggers recorded"), nil
	}

	data, _ := json.MarshalIndent(records, "", "  ")
	return textResult("%s", data), nil
}
