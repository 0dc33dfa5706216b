package mcpserver

import (
	"encoding/json"
	"fmt"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
	"github.com/sirupsen/logrus"

	"usageexport/internal/service"
)

const (
	serverName    = "usage-export-mcp"
	serverVersion = "1.0.0"

	instructions = "Exports therapy usage records (JSON files, HTTP APIs or databases) to CSV. " +
		"Call preview_usage_source to check a source, then export_usage_csv. " +
		"Past runs are listed by list_export_runs."
)

// Server exposes the export service to MCP clients over stdio.
type Server struct {
	mcp    *server.MCPServer
	export *service.ExportService
	logger logrus.FieldLogger
}

type Deps struct {
	Export *service.ExportService
	Logger logrus.FieldLogger
}

func New(deps Deps) *Server {
	s := &Server{export: deps.Export, logger: deps.Logger}
	if s.logger == nil {
		s.logger = logrus.StandardLogger()
	}

	s.mcp = server.NewMCPServer(serverName, serverVersion,
		server.WithInstructions(instructions),
		server.WithToolCapabilities(true),
		server.WithResourceCapabilities(true, false),
		server.WithRecovery(),
	)
	s.registerExportTools()
	s.registerResources()
	return s
}

// ServeStdio blocks serving requests on stdin/stdout.
func (s *Server) ServeStdio() error {
	s.logger.WithField("server", serverName).Info("[MCP] serving on stdio")
	return server.ServeStdio(s.mcp)
}

// ── Result helpers ─────────────────────────────────────────

func textResult(text string) *mcp.CallToolResult {
	return mcp.NewToolResultText(text)
}

func jsonResult(v any) (*mcp.CallToolResult, error) {
	data, err := marshalIndented(v)
	if err != nil {
		return nil, fmt.Errorf("marshal result: %w", err)
	}
	return textResult(data), nil
}

func marshalIndented(v any) (string, error) {
	data, err := json.MarshalIndent(v, "", "  ")
	return string(data), err
}

func boolPtr(v bool) *bool { return &v }
