package mcpserver

import (
	"context"
	"fmt"

	"github.com/mark3labs/mcp-go/mcp"
)

const (
	sourcesURI = "usage-export://sources"
	runsURI    = "usage-export://runs"
)

func (s *Server) registerResources() {
	// ── usage-export://sources ─────────────────────────
	s.mcp.AddResource(mcp.NewResource(
		sourcesURI,
		"Export Sources",
		mcp.WithMIMEType("application/json"),
	), s.handleSourcesResource)

	// ── usage-export://runs ────────────────────────────
	s.mcp.AddResource(mcp.NewResource(
		runsURI,
		"Recent Export Runs",
		mcp.WithMIMEType("application/json"),
	), s.handleRunsResource)
}

func (s *Server) handleSourcesResource(ctx context.Context, req mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
	return jsonResource(sourcesURI, s.export.ListSources())
}

func (s *Server) handleRunsResource(ctx context.Context, req mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
	runs, err := s.export.ListRuns(20)
	if err != nil {
		return nil, err
	}

	type runSummary struct {
		ID     string `json:"id"`
		Output string `json:"output"`
		Status string `json:"status"`
		Rows   int    `json:"rows"`
	}
	summaries := make([]runSummary, 0, len(runs))
	for _, r := range runs {
		summaries = append(summaries, runSummary{ID: r.ID, Output: r.Output, Status: string(r.Status), Rows: r.RowsWritten})
	}
	return jsonResource(runsURI, summaries)
}

func jsonResource(uri string, v any) ([]mcp.ResourceContents, error) {
	text, err := marshalIndented(v)
	if err != nil {
		return nil, fmt.Errorf("marshal %s: %w", uri, err)
	}
	return []mcp.ResourceContents{mcp.TextResourceContents{URI: uri, MIMEType: "application/json", Text: text}}, nil
}
