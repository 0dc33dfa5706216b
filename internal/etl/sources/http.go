package sources

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"usageexport/internal/etl"
)

// maxResponseBytes bounds how much of a response body is decoded.
const maxResponseBytes = 64 << 20

// httpClient is swapped in tests.
var httpClient = &http.Client{Timeout: 30 * time.Second}

// httpAPI pulls usage records from a REST endpoint such as a device cloud
// export.
type httpAPI struct{}

func init() { etl.RegisterSource(httpAPI{}) }

func (httpAPI) Spec() etl.SourceSpec {
	return etl.SourceSpec{
		Type:  "http",
		Label: "HTTP API",
		ConfigFields: []etl.ConfigField{
			{Key: "url", Label: "URL", Type: "string", Required: true, Help: "Endpoint answering with usage records as JSON"},
			{Key: "method", Label: "Method", Type: "select", Options: []string{"GET", "POST"}, Default: "GET"},
			{Key: "headers", Label: "Headers", Type: "textarea", Help: `Extra headers as a JSON object, e.g. {"Authorization": "Bearer ..."}`},
			{Key: "token", Label: "Bearer Token", Type: "string", Help: "Sent as Authorization: Bearer <token> unless headers set one"},
			{Key: "body", Label: "Body", Type: "textarea", Help: "Request body for POST"},
			{Key: "dataPath", Label: "Data Path", Type: "string", Help: "gjson path to the record array in the response"},
		},
	}
}

func (h httpAPI) Discover(ctx context.Context, cfg etl.SourceConfig) (*etl.Schema, error) {
	records, err := h.fetch(ctx, cfg)
	if err != nil {
		return nil, err
	}
	return etl.DeriveSchema(records), nil
}

func (h httpAPI) Read(ctx context.Context, cfg etl.SourceConfig) (<-chan etl.Record, <-chan error) {
	return readWith(ctx, func() ([]etl.Record, error) { return h.fetch(ctx, cfg) })
}

func (httpAPI) fetch(ctx context.Context, cfg etl.SourceConfig) ([]etl.Record, error) {
	req, err := newUsageRequest(ctx, cfg)
	if err != nil {
		return nil, err
	}

	resp, err := httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("http request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= http.StatusBadRequest {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return nil, fmt.Errorf("http %d: %s", resp.StatusCode, strings.TrimSpace(string(snippet)))
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes+1))
	if err != nil {
		return nil, fmt.Errorf("read body: %w", err)
	}
	if len(data) > maxResponseBytes {
		return nil, fmt.Errorf("read body: response exceeds %d bytes", maxResponseBytes)
	}
	return decodeRecords(data, cfg.String("dataPath"))
}

func newUsageRequest(ctx context.Context, cfg etl.SourceConfig) (*http.Request, error) {
	target := cfg.String("url")
	if target == "" {
		return nil, fmt.Errorf("url is required")
	}
	method := http.MethodGet
	if m := cfg.String("method"); m != "" {
		method = strings.ToUpper(m)
	}

	var body io.Reader
	if b := cfg.String("body"); b != "" {
		body = strings.NewReader(b)
	}
	req, err := http.NewRequestWithContext(ctx, method, target, body)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}

	headers, err := parseHeaders(cfg.Get("headers"))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")
	if token := cfg.String("token"); token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	return req, nil
}

// parseHeaders takes a JSON object string from flags or MCP, or a map
// from a config file.
func parseHeaders(v any) (map[string]string, error) {
	if s, ok := v.(string); ok {
		if s == "" {
			return nil, nil
		}
		var out map[string]string
		if err := json.Unmarshal([]byte(s), &out); err != nil {
			return nil, fmt.Errorf("parse headers: %w", err)
		}
		return out, nil
	}

	switch m := v.(type) {
	case nil:
		return nil, nil
	case map[string]string:
		return m, nil
	case map[string]any:
		out := make(map[string]string, len(m))
		for k, val := range m {
			out[k] = fmt.Sprint(val)
		}
		return out, nil
	}
	return nil, fmt.Errorf("headers must be a JSON object, got %T", v)
}
