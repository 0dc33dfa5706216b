package app

import (
	mcpserver "usageexport/internal/mcp"
)

// ServeMCP runs the exporter as an MCP server on stdin/stdout until the
// client disconnects.
func (a *App) ServeMCP() error {
	a.serveMetrics()

	srv := mcpserver.New(mcpserver.Deps{
		Export: a.export,
		Logger: a.logger,
	})
	return srv.ServeStdio()
}
