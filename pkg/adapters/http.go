package adapters

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"text/template"
	"time"

	"github.com/tidwall/gjson"

	"github.com/resetting-eu/Crowding-Visualization-STToolkit/pkg/timeline"
)

// HTTPSource is a generic source that can call any REST API endpoint and
// extract records using JSON path expressions.
//
// It supports:
//   - Configurable HTTP method (GET, POST, etc.)
//   - Template-based URL, body and headers with variables: {{.Start}}, {{.End}}, {{.Step}},
//     {{.StartRFC3339}}, {{.EndRFC3339}}, {{.Entities}}
//   - JSON path extraction for timestamps, values, entities and metrics using gjson syntax
//   - Flexible timestamp parsing (RFC3339, Unix seconds, Unix milliseconds)
//
// Example configuration for a people-counter API:
//
//	src := &HTTPSource{
//	    URL: "https://api.example.com/counts?from={{.StartRFC3339}}",
//	    ValuePath: "data.#.count",
//	    TimestampPath: "data.#.time",
//	    EntityPath: "data.#.sensor",
//	}
type HTTPSource struct {
	// URL is the endpoint to call (required). Supports template variables.
	URL string

	// Method is the HTTP method (GET, POST, etc.). Defaults to GET if empty.
	Method string

	// Headers are custom HTTP headers to include in the request.
	// Values can use template variables like {{.Token}}.
	Headers map[string]string

	// Body is the request body template (for POST/PUT).
	Body string

	// ValuePath is the gjson path to the values, e.g. "data.#.value".
	ValuePath string

	// TimestampPath is the gjson path to the timestamps. Must return the same
	// number of elements as ValuePath.
	TimestampPath string

	// EntityPath is the optional gjson path to the entity ids. Without it
	// every value belongs to the entity "total".
	EntityPath string

	// MetricPath is the optional gjson path to the metric names.
	MetricPath string

	// TimestampFormat specifies how to parse timestamps:
	//   "rfc3339"    - RFC3339 strings (default)
	//   "unix"       - Unix seconds (float or int)
	//   "unix_milli" - Unix milliseconds (float or int)
	TimestampFormat string

	// StepSeconds is the default resolution (60s if <= 0).
	StepSeconds int

	// HTTPClient is optional; if nil a default client with timeout is used.
	HTTPClient *http.Client

	// TemplateVars are custom variables available in URL, Body and Headers templates.
	// Use this to pass tokens, API keys, etc.
	TemplateVars map[string]string
}

func (h *HTTPSource) Name() string { return "http" }

// FetchSince implements Source.
func (h *HTTPSource) FetchSince(ctx context.Context, since time.Time) ([]timeline.Record, error) {
	return h.FetchRange(ctx, Query{Start: since})
}

// FetchRange implements Source. It calls the configured HTTP endpoint and
// extracts records using the configured JSON paths.
func (h *HTTPSource) FetchRange(ctx context.Context, q Query) ([]timeline.Record, error) {
	if err := h.ValidateConfig(); err != nil {
		return nil, fmt.Errorf("http source: %w", err)
	}

	end := endOrNow(q.End)
	start := q.Start.UTC()

	templateData := map[string]any{
		"Start":        start.Unix(),
		"End":          end.Unix(),
		"Step":         stepOr(q.Every, h.StepSeconds),
		"StartRFC3339": start.Format(time.RFC3339),
		"EndRFC3339":   end.Format(time.RFC3339),
		"Entities":     strings.Join(q.Entities, ","),
	}
	for k, v := range h.TemplateVars {
		templateData[k] = v
	}

	method := h.Method
	if method == "" {
		method = http.MethodGet
	}

	target, err := renderTemplate(h.URL, templateData)
	if err != nil {
		return nil, fmt.Errorf("render url template: %w", err)
	}

	var bodyReader io.Reader
	if h.Body != "" {
		renderedBody, err := renderTemplate(h.Body, templateData)
		if err != nil {
			return nil, fmt.Errorf("render body template: %w", err)
		}
		bodyReader = bytes.NewBufferString(renderedBody)
	}

	cli := h.HTTPClient
	if cli == nil {
		cli = &http.Client{Timeout: 10 * time.Second}
	}

	req, err := http.NewRequestWithContext(ctx, method, target, bodyReader)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}

	req.Header.Set("Accept", "application/json")
	for key, value := range h.Headers {
		rendered, err := renderTemplate(value, templateData)
		if err != nil {
			return nil, fmt.Errorf("render header %s: %w", key, err)
		}
		req.Header.Set(key, rendered)
	}

	resp, err := cli.Do(req)
	if err != nil {
		return nil, fmt.Errorf("http request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return nil, fmt.Errorf("http status %d: %s", resp.StatusCode, string(body))
	}

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}

	records, err := h.extract(respBody)
	if err != nil {
		return nil, err
	}
	return filterEntities(records, q.Entities), nil
}

func (h *HTTPSource) extract(body []byte) ([]timeline.Record, error) {
	values := gjson.GetBytes(body, h.ValuePath)
	timestamps := gjson.GetBytes(body, h.TimestampPath)

	if !values.Exists() {
		return nil, fmt.Errorf("value path %q not found in response", h.ValuePath)
	}
	if !timestamps.Exists() {
		return nil, fmt.Errorf("timestamp path %q not found in response", h.TimestampPath)
	}

	valArray := values.Array()
	tsArray := timestamps.Array()
	if len(valArray) != len(tsArray) {
		return nil, fmt.Errorf("value count (%d) != timestamp count (%d)", len(valArray), len(tsArray))
	}

	entities, err := h.column(body, h.EntityPath, len(valArray), "entity")
	if err != nil {
		return nil, err
	}
	metrics, err := h.column(body, h.MetricPath, len(valArray), "metric")
	if err != nil {
		return nil, err
	}

	records := make([]timeline.Record, 0, len(valArray))
	for i := range valArray {
		ts, err := h.parseTimestamp(tsArray[i])
		if err != nil {
			return nil, fmt.Errorf("parse timestamp[%d]: %w", i, err)
		}

		r := timeline.Record{
			Timestamp: timeline.FormatTime(ts),
			Entity:    "total",
		}
		if entities != nil {
			r.Entity = entities[i]
		}
		if metrics != nil {
			r.Metric = metrics[i]
		}
		if valArray[i].Type != gjson.Null {
			r.Value = timeline.Float(valArray[i].Float())
		}
		records = append(records, r)
	}
	return records, nil
}

// column extracts an optional per-value string column.
func (h *HTTPSource) column(body []byte, path string, n int, what string) ([]string, error) {
	if path == "" {
		return nil, nil
	}
	res := gjson.GetBytes(body, path)
	if !res.Exists() {
		return nil, fmt.Errorf("%s path %q not found in response", what, path)
	}
	arr := res.Array()
	if len(arr) != n {
		return nil, fmt.Errorf("%s count (%d) != value count (%d)", what, len(arr), n)
	}
	out := make([]string, n)
	for i, v := range arr {
		out[i] = v.String()
	}
	return out, nil
}

// parseTimestamp parses a timestamp according to the configured format
func (h *HTTPSource) parseTimestamp(value gjson.Result) (time.Time, error) {
	format := h.TimestampFormat
	if format == "" {
		format = "rfc3339"
	}

	switch format {
	case "rfc3339":
		return time.Parse(time.RFC3339, value.String())

	case "unix":
		// Unix seconds (supports both int and float)
		sec := value.Float()
		return time.Unix(int64(sec), 0).UTC(), nil

	case "unix_milli":
		ms := value.Float()
		return time.UnixMilli(int64(ms)).UTC(), nil

	default:
		return time.Time{}, fmt.Errorf("unsupported timestamp format: %s", format)
	}
}

// renderTemplate renders a text template with the given data
func renderTemplate(tmplStr string, data map[string]any) (string, error) {
	if !strings.Contains(tmplStr, "{{") {
		return tmplStr, nil
	}

	tmpl, err := template.New("").Parse(tmplStr)
	if err != nil {
		return "", err
	}

	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, data); err != nil {
		return "", err
	}

	return buf.String(), nil
}

// ValidateConfig checks if the source configuration is valid
func (h *HTTPSource) ValidateConfig() error {
	if h.URL == "" {
		return errors.New("url is required")
	}
	if h.ValuePath == "" {
		return errors.New("valuePath is required")
	}
	if h.TimestampPath == "" {
		return errors.New("timestampPath is required")
	}

	validFormats := map[string]bool{
		"":           true,
		"rfc3339":    true,
		"unix":       true,
		"unix_milli": true,
	}
	if !validFormats[h.TimestampFormat] {
		return fmt.Errorf("invalid timestampFormat: %s (must be rfc3339, unix, or unix_milli)", h.TimestampFormat)
	}

	return nil
}
