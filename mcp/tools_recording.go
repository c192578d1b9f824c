package mcp

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/mark3labs/mcp-go/mcp"

	"adsweep/pkg/engine"
)

func (s *MCPServer) registerMacroTools() {
	s.server.AddTool(
		mcp.NewTool("macro_record_start",
			mcp.WithDescription(`Start recording a skip macro for an app.

Scanning is paused first so the engine does not act on the screen while you
demonstrate. Every touch on the device is captured as a tap, in order.
Call macro_record_stop to save the macro; it then replaces the automatic
action for that app.

EXAMPLE:
  app_id: "com.ss.android.ugc.aweme"`),
			mcp.WithString("app_id",
				mcp.Required(),
				mcp.Description("App the macro belongs to"),
			),
		),
		s.handleMacroRecordStart,
	)

	s.server.AddTool(
		mcp.NewTool("macro_record_stop",
			mcp.WithDescription(`Stop recording, save the macro and resume scanning.

Returns the recorded actions in their stored text form (e.g. "tap:540,1800;tap:980,2040").`),
		),
		s.handleMacroRecordStop,
	)

	s.server.AddTool(
		mcp.NewTool("macro_record_status",
			mcp.WithDescription("Report whether a macro recording is in progress and how many touches it has captured."),
		),
		s.handleMacroRecordStatus,
	)

	s.server.AddTool(
		mcp.NewTool("macro_show",
			mcp.WithDescription("Show the saved macro for an app."),
			mcp.WithString("app_id",
				mcp.Required(),
				mcp.Description("App to show"),
			),
		),
		s.handleMacroShow,
	)

	s.server.AddTool(
		mcp.NewTool("macro_delete",
			mcp.WithDescription("Delete the saved macro for an app, restoring the automatic action."),
			mcp.WithString("app_id",
				mcp.Required(),
				mcp.Description("App whose macro to delete"),
			),
		),
		s.handleMacroDelete,
	)
}

func (s *MCPServer) handleMacroRecordStart(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args := request.GetArguments()
	appID, _ := args["app_id"].(string)
	if appID == "" {
		return errorResult("app_id is required"), nil
	}

	// a stopped scheduler has nothing to pause
	if err := s.app.Pause(ctx); err != nil && !errors.Is(err, engine.ErrNotRunning) {
		return errorResult("failed to pause scanning: %v", err), nil
	}
	if err := s.app.StartMacroRecording(ctx, appID); err != nil {
		s.resumeAfterRecording(ctx)
		return errorResult("%v", err), nil
	}

	return textResult("Recording macro for %s. Scanning is paused. Touch the device screen, then call macro_record_stop.", appID), nil
}

func (s *MCPServer) handleMacroRecordStop(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	appID, macro, err := s.app.StopMacroRecording(ctx)
	if err != nil {
		return errorResult("%v", err), nil
	}
	s.resumeAfterRecording(ctx)

	result := map[string]interface{}{
		"appId":   appID,
		"actions": len(macro),
		"macro":   macro.String(),
	}
	data, _ := json.MarshalIndent(result, "", "  ")
	return textResult("%s", data), nil
}

func (s *MCPServer) resumeAfterRecording(ctx context.Context) {
	if err := s.app.Resume(ctx); err != nil && !errors.Is(err, engine.ErrNotRunning) {
		s.logger.Warn().Err(err).Msg("failed to resume scanning after recording")
	}
}

func (s *MCPServer) handleMacroRecordStatus(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	appID, actions, recording := s.app.RecordingStatus()
	if !recording {
		return textResult("Not recording"), nil
	}
	return textResult("Recording %s: %d actions captured", appID, actions), nil
}

func (s *MCPServer) handleMacroShow(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args := request.GetArguments()
	appID, _ := args["app_id"].(string)
	if appID == "" {
		return errorResult("app_id is required"), nil
	}

	macro, ok := s.app.Macro(appID)
	if !ok {
		return textResult("No macro saved for %s", appID), nil
	}
	return textResult("%s", macro.String()), nil
}

func (s *MCPServer) handleMacroDelete(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args := request.GetArguments()
	appID, _ := args["app_id"].(string)
	if appID == "" {
		return errorResult("app_id is required"), nil
	}

	deleted, err := s.app.DeleteMacro(appID)
	if err != nil {
		return errorResult("%v", err), nil
	}
	if !deleted {
		return errorResult("no macro saved for %s", appID), nil
	}
	return textResult("Macro for %s deleted", appID), nil
}
