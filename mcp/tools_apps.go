package mcp

import (
	"context"
	"encoding/json"
	"strings"

	"github.com/mark3labs/mcp-go/mcp"
)

// registerKeywordTools registers keyword table maintenance tools
func (s *MCPServer) registerKeywordTools() {
	s.server.AddTool(
		mcp.NewTool("keywords_list",
			mcp.WithDescription(`List ad keywords.

Without app_id, returns every configured app with its keywords.
With app_id, returns that app's keywords and scroll settings.`),
			mcp.WithString("app_id",
				mcp.Description("App to show (optional)"),
			),
		),
		s.handleKeywordsList,
	)

	s.server.AddTool(
		mcp.NewTool("keyword_add",
			mcp.WithDescription(`Add an ad keyword for an app.

Matching is case-insensitive and duplicates are ignored. Unknown apps are
created with default scroll settings. The change is persisted and takes
effect on the next tick.

EXAMPLE:
  app_id: "com.instagram.android"
  keyword: "Sponsored"`),
			mcp.WithString("app_id",
				mcp.Required(),
				mcp.Description("Target app package"),
			),
			mcp.WithString("keyword",
				mcp.Required(),
				mcp.Description("Keyword to add"),
			),
		),
		s.handleKeywordAdd,
	)

	s.server.AddTool(
		mcp.NewTool("keyword_remove",
			mcp.WithDescription("Remove an ad keyword from an app (case-insensitive)."),
			mcp.WithString("app_id",
				mcp.Required(),
				mcp.Description("Target app package"),
			),
			mcp.WithString("keyword",
				mcp.Required(),
				mcp.Description("Keyword to remove"),
			),
		),
		s.handleKeywordRemove,
	)
}

func (s *MCPServer) handleKeywordsList(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args := request.GetArguments()
	appID, _ := args["app_id"].(string)

	if appID != "" {
		target, ok := s.app.Target(appID)
		if !ok {
			return errorResult("app '%s' has no keywords configured", appID), nil
		}
		data, _ := json.MarshalIndent(target, "", "  ")
		return textResult("%s", data), nil
	}

	targets := s.app.Targets()
	if len(targets) == 0 {
		return textResult("No apps configured"), nil
	}

	var sb strings.Builder
	for _, t := range targets {
		sb.WriteString(t.AppID)
		sb.WriteString(": ")
		sb.WriteString(strings.Join(t.Keywords, ", "))
		sb.WriteString("\n")
	}
	return textResult("%s", sb.String()), nil
}

func (s *MCPServer) keywordArgs(request mcp.CallToolRequest) (string, string, *mcp.CallToolResult) {
	args := request.GetArguments()
	appID, _ := args["app_id"].(string)
	keyword, _ := args["keyword"].(string)
	if appID == "" || strings.TrimSpace(keyword) == "" {
		return "", "", errorResult("app_id and keyword are required")
	}
	return appID, keyword, nil
}

func (s *MCPServer) handleKeywordAdd(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	appID, keyword, bad := s.keywordArgs(request)
	if bad != nil {
		return bad, nil
	}

	added, err := s.app.AddKeyword(appID, keyword)
	if err != nil {
		return errorResult("%v", err), nil
	}
	if !added {
		return textResult("Keyword '%s' already present for %s", keyword, appID), nil
	}
	return textResult("Keyword '%s' added for %s", keyword, appID), nil
}

func (s *MCPServer) handleKeywordRemove(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	appID, keyword, bad := s.keywordArgs(request)
	if bad != nil {
		return bad, nil
	}

	removed, err := s.app.RemoveKeyword(appID, keyword)
	if err != nil {
		return errorResult("%v", err), nil
	}
	if !removed {
		return errorResult("keyword '%s' not found for %s", keyword, appID), nil
	}
	return textResult("Keyword '%s' removed from %s", keyword, appID), nil
}
