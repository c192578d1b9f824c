package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/mark3labs/mcp-go/mcp"

	"adsweep/pkg/types"
)

// handleAppsResource handles the adsweep://apps resource
func (s *MCPServer) handleAppsResource(ctx context.Context, request mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
	jsonData, err := json.MarshalIndent(s.app.Targets(), "", "  ")
	if err != nil {
		return nil, fmt.Errorf("failed to serialize targets: %w", err)
	}

	return []mcp.ResourceContents{
		mcp.TextResourceContents{
			URI:      request.Params.URI,
			MIMEType: "application/json",
			Text:     string(jsonData),
		},
	}, nil
}

// handleAppResource handles the adsweep://apps/{appId} resource template
func (s *MCPServer) handleAppResource(ctx context.Context, request mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
	uri := request.Params.URI
	appID := strings.TrimPrefix(uri, "adsweep://apps/")
	if appID == "" || appID == uri {
		return nil, fmt.Errorf("invalid app URI format: %s", uri)
	}

	target, ok := s.app.Target(appID)
	if !ok {
		return nil, fmt.Errorf("app not found: %s", appID)
	}

	view := struct {
		Target   types.AppTarget `json:"target"`
		Macro    string          `json:"macro,omitempty"`
		HasMacro bool            `json:"hasMacro"`
	}{Target: target}
	if m, ok := s.app.Macro(appID); ok {
		view.Macro = m.String()
		view.HasMacro = true
	}

	jsonData, err := json.MarshalIndent(view, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("failed to serialize app: %w", err)
	}

	return []mcp.ResourceContents{
		mcp.TextResourceContents{
			URI:      request.Params.URI,
			MIMEType: "application/json",
			Text:     string(jsonData),
		},
	}, nil
}
