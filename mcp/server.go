// Package mcp exposes the ad skip engine to MCP clients over stdio, so an
// agent can inspect the scheduler, maintain keywords and record macros.
package mcp

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"sync"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
	"github.com/rs/zerolog"

	"adsweep/pkg/engine"
	"adsweep/pkg/gesture"
	"adsweep/pkg/securestore"
	"adsweep/pkg/types"
)

// EngineApp is what the MCP server needs from the running daemon
type EngineApp interface {
	// Scheduler
	Status(ctx context.Context) engine.Status
	Pause(ctx context.Context) error
	Resume(ctx context.Context) error
	EvaluateNow(ctx context.Context, appID string) (engine.TickReport, error)

	// Keywords
	Targets() []types.AppTarget
	Target(appID string) (types.AppTarget, bool)
	AddKeyword(appID, keyword string) (bool, error)
	RemoveKeyword(appID, keyword string) (bool, error)

	// Macros
	StartMacroRecording(ctx context.Context, appID string) error
	StopMacroRecording(ctx context.Context) (string, gesture.Macro, error)
	RecordingStatus() (appID string, actions int, recording bool)
	Macro(appID string) (gesture.Macro, bool)
	DeleteMacro(appID string) (bool, error)

	// History
	TriggerHistory(appID string, limit int) ([]securestore.TriggerRecord, error)

	Version() string
}

// MCPServer wraps the MCP protocol server
type MCPServer struct {
	app    EngineApp
	server *server.MCPServer
	stdio  *server.StdioServer
	logger zerolog.Logger

	mu        sync.Mutex
	isRunning bool
}

func NewMCPServer(app EngineApp, logger zerolog.Logger) *MCPServer {
	mcpServer := server.NewMCPServer(
		"adsweep",
		app.Version(),
		server.WithToolCapabilities(true),
		server.WithResourceCapabilities(true, true),
		server.WithLogging(),
	)

	s := &MCPServer{
		app:    app,
		server: mcpServer,
		logger: logger.With().Str("module", "mcp").Logger(),
	}

	s.registerEngineTools()
	s.registerKeywordTools()
	s.registerMacroTools()
	s.registerResources()

	return s
}

func (s *MCPServer) registerResources() {
	s.server.AddResource(
		mcp.NewResource(
			"adsweep://apps",
			"Configured target apps with their keywords and scroll settings",
			mcp.WithMIMEType("application/json"),
		),
		s.handleAppsResource,
	)

	s.server.AddResourceTemplate(
		mcp.NewResourceTemplate(
			"adsweep://apps/{appId}",
			"One target app",
		),
		s.handleAppResource,
	)
}

// Serve blocks serving stdio until ctx ends, stdin closes or SIGINT arrives
func (s *MCPServer) Serve(ctx context.Context) error {
	s.mu.Lock()
	if s.isRunning {
		s.mu.Unlock()
		return fmt.Errorf("MCP server is already running")
	}
	s.isRunning = true
	s.stdio = server.NewStdioServer(s.server)
	s.mu.Unlock()

	defer func() {
		s.mu.Lock()
		s.isRunning = false
		s.mu.Unlock()
	}()

	ctx, cancel := signal.NotifyContext(ctx, os.Interrupt)
	defer cancel()

	s.logger.Info().Msg("MCP server started on stdio")
	err := s.stdio.Listen(ctx, os.Stdin, os.Stdout)
	if err != nil && ctx.Err() == nil {
		s.logger.Error().Err(err).Msg("MCP server error")
		return err
	}
	return nil
}

// IsRunning returns whether Serve is active
func (s *MCPServer) IsRunning() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.isRunning
}

func textResult(format string, args ...any) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		Content: []mcp.Content{mcp.NewTextContent(fmt.Sprintf(format, args...))},
	}
}

func errorResult(format string, args ...any) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		Content: []mcp.Content{mcp.NewTextContent("Error: " + fmt.Sprintf(format, args...))},
		IsError: true,
	}
}
