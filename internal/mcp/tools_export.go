package mcpserver

import (
	"context"
	"fmt"

	"github.com/mark3labs/mcp-go/mcp"

	"usageexport/internal/domain"
	"usageexport/internal/etl"
	"usageexport/internal/service"
)

func (s *Server) registerExportTools() {
	s.mcp.AddTool(mcp.NewTool("export_usage_csv",
		mcp.WithDescription("Export usage records to a CSV file. Reads from input (a JSON file path or http(s) URL) or from sourceType + sourceConfigJSON. Missing fields become empty cells. Overwrites the output file."),
		mcp.WithString("input", mcp.Description("JSON file path or http(s) URL (optional when sourceType is given)")),
		mcp.WithString("dataPath", mcp.Description("Path to the records array inside the JSON document, e.g. data.items")),
		mcp.WithString("sourceType", mcp.Description("Source type (use list_export_sources to see available types)")),
		mcp.WithString("sourceConfigJSON", mcp.Description("Source configuration as JSON")),
		mcp.WithString("output", mcp.Description("Output CSV path"), mcp.Required()),
		mcp.WithString("columns", mcp.Description("Comma-separated column list (default: date,usage_hours,AHI,mask_leak_rate,pressure_settings)")),
		mcp.WithString("transformsJSON", mcp.Description(`Optional JSON array of transforms applied before export. Each has {type, config}:
- filter: {field, op (eq|neq|gt|gte|lt|lte|contains), value}
- rename: {mapping: {oldName: newName}}
- type_cast: {field, castType (number|string|bool)}
- sort: {field, direction (asc|desc)}
- limit: {count}
- dedupe: {key}`)),
		mcp.WithToolAnnotation(mcp.ToolAnnotation{DestructiveHint: boolPtr(true)}),
	), s.handleExportUsageCSV)

	s.mcp.AddTool(mcp.NewTool("preview_usage_source",
		mcp.WithDescription("Preview records from a source without exporting anything"),
		mcp.WithString("input", mcp.Description("JSON file path or http(s) URL (optional when sourceType is given)")),
		mcp.WithString("dataPath", mcp.Description("Path to the records array inside the JSON document")),
		mcp.WithString("sourceType", mcp.Description("Source type")),
		mcp.WithString("sourceConfigJSON", mcp.Description("Source configuration as JSON")),
		mcp.WithNumber("maxRows", mcp.Description("Maximum records to return (default 10)")),
	), s.handlePreviewUsageSource)

	s.mcp.AddTool(mcp.NewTool("list_export_sources",
		mcp.WithDescription("List available source types with their configuration schemas"),
	), s.handleListExportSources)

	s.mcp.AddTool(mcp.NewTool("list_export_runs",
		mcp.WithDescription("List recent export runs, newest first"),
		mcp.WithNumber("limit", mcp.Description("Maximum runs to return (default 20)")),
	), s.handleListExportRuns)
}

// resolveSource returns the source selected by the tool arguments.
func resolveSource(req mcp.CallToolRequest) (string, etl.SourceConfig, error) {
	args := req.GetArguments()
	if sourceType := req.GetString("sourceType", ""); sourceType != "" {
		cfg := etl.SourceConfig{}
		if err := parseJSONArg(args, "sourceConfigJSON", &cfg); err != nil {
			return "", nil, err
		}
		return sourceType, cfg, nil
	}
	input := req.GetString("input", "")
	if input == "" {
		return "", nil, fmt.Errorf("input or sourceType is required")
	}
	sourceType, cfg := service.InputSource(input, req.GetString("dataPath", ""))
	return sourceType, cfg, nil
}

func (s *Server) handleExportUsageCSV(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	output := req.GetString("output", "")
	if output == "" {
		return nil, fmt.Errorf("output is required")
	}
	sourceType, cfg, err := resolveSource(req)
	if err != nil {
		return nil, err
	}

	var transforms []etl.TransformConfig
	if err := parseJSONArg(req.GetArguments(), "transformsJSON", &transforms); err != nil {
		return nil, err
	}

	job := &etl.ExportJob{
		SourceType: sourceType,
		SourceCfg:  cfg,
		Transforms: transforms,
		Output:     output,
		Columns:    domain.ParseColumns(req.GetString("columns", "")),
	}
	result, err := s.export.RunExport(ctx, job)
	if err != nil {
		return nil, fmt.Errorf("export: %w", err)
	}
	return jsonResult(map[string]any{
		"message": fmt.Sprintf("Successfully exported %d records to %s", result.RowsWritten, result.Output),
		"result":  result,
	})
}

func (s *Server) handlePreviewUsageSource(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	sourceType, cfg, err := resolveSource(req)
	if err != nil {
		return nil, err
	}
	preview, err := s.export.Preview(ctx, sourceType, cfg, req.GetInt("maxRows", 10))
	if err != nil {
		return nil, fmt.Errorf("preview source: %w", err)
	}
	return jsonResult(preview)
}

func (s *Server) handleListExportSources(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	return jsonResult(s.export.ListSources())
}

func (s *Server) handleListExportRuns(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	runs, err := s.export.ListRuns(req.GetInt("limit", 20))
	if err != nil {
		return nil, fmt.Errorf("list runs: %w", err)
	}
	if len(runs) == 0 {
		return textResult("No export runs recorded yet"), nil
	}
	return jsonResult(runs)
}
