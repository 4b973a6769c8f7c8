package adapters

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// New creates a source based on kind and a generic configuration map.
// This is the central extension point for adding new source types.
//
// Supported kinds:
//   - "influxdb": InfluxDB v2 source
//   - "prometheus": Prometheus source
//   - "victoriametrics": VictoriaMetrics source
//   - "http": Generic HTTP source
//   - "opendatasoft": OpenDataSoft dataset source
//   - "static": JSON file source
//
// Returns error if kind is unknown or required fields are missing.
func New(kind string, config map[string]string, stepSeconds int) (Source, error) {
	switch kind {
	case "influxdb":
		return newInflux(config, stepSeconds)
	case "prometheus":
		return newPrometheus(config, stepSeconds)
	case "victoriametrics":
		return newVictoriaMetrics(config, stepSeconds)
	case "http":
		return newHTTP(config, stepSeconds)
	case "opendatasoft":
		return newOpenDataSoft(config)
	case "static":
		return newStatic(config)
	default:
		return nil, fmt.Errorf("unknown source kind: %s (must be influxdb, prometheus, victoriametrics, http, opendatasoft, or static)", kind)
	}
}

// newInflux creates an InfluxDB source from generic config.
func newInflux(config map[string]string, stepSeconds int) (Source, error) {
	for _, key := range []string{"url", "org", "bucket", "entityColumn"} {
		if config[key] == "" {
			return nil, fmt.Errorf("influxdb source requires '%s' config", key)
		}
	}

	var filters []string
	if raw := config["filters"]; raw != "" {
		if err := json.Unmarshal([]byte(raw), &filters); err != nil {
			return nil, fmt.Errorf("invalid 'filters' JSON: %w", err)
		}
	}

	src := NewInfluxSource(config["url"], config["token"], config["org"], config["bucket"])
	src.EntityColumn = config["entityColumn"]
	src.MetricColumn = config["metricColumn"]
	src.Filters = filters
	if stepSeconds > 0 {
		src.Every = time.Duration(stepSeconds) * time.Second
	}
	if raw := config["latestLookback"]; raw != "" {
		d, err := time.ParseDuration(raw)
		if err != nil {
			return nil, fmt.Errorf("invalid 'latestLookback': %w", err)
		}
		src.LatestLookback = d
	}
	return src, nil
}

// newPrometheus creates a Prometheus source from generic config.
func newPrometheus(config map[string]string, stepSeconds int) (Source, error) {
	query := config["query"]
	if query == "" {
		return nil, fmt.Errorf("prometheus source requires 'query' config")
	}

	url := config["url"]
	if url == "" {
		url = "http://localhost:9090"
	}

	return &PrometheusSource{
		ServerURL:   url,
		Query:       query,
		EntityLabel: config["entityLabel"],
		MetricLabel: config["metricLabel"],
		StepSeconds: stepSeconds,
	}, nil
}

// newVictoriaMetrics creates a VictoriaMetrics source from generic config.
func newVictoriaMetrics(config map[string]string, stepSeconds int) (Source, error) {
	query := config["query"]
	if query == "" {
		return nil, fmt.Errorf("victoriametrics source requires 'query' config")
	}

	url := config["url"]
	if url == "" {
		url = "http://localhost:8428"
	}

	return &VictoriaMetricsSource{
		ServerURL:   url,
		Query:       query,
		EntityLabel: config["entityLabel"],
		MetricLabel: config["metricLabel"],
		StepSeconds: stepSeconds,
	}, nil
}

// newHTTP creates a generic HTTP source from generic config.
func newHTTP(config map[string]string, stepSeconds int) (Source, error) {
	url := config["url"]
	if url == "" {
		return nil, fmt.Errorf("http source requires 'url' config")
	}

	valuePath := config["valuePath"]
	timestampPath := config["timestampPath"]
	if valuePath == "" || timestampPath == "" {
		return nil, fmt.Errorf("http source requires 'valuePath' and 'timestampPath' config")
	}

	method := config["method"]
	if method == "" {
		method = "GET"
	}

	timestampFormat := config["timestampFormat"]
	if timestampFormat == "" {
		timestampFormat = "rfc3339"
	}

	var headers map[string]string
	if headersJSON := config["headers"]; headersJSON != "" {
		if err := json.Unmarshal([]byte(headersJSON), &headers); err != nil {
			return nil, fmt.Errorf("invalid 'headers' JSON: %w", err)
		}
	}

	var templateVars map[string]string
	if varsJSON := config["templateVars"]; varsJSON != "" {
		if err := json.Unmarshal([]byte(varsJSON), &templateVars); err != nil {
			return nil, fmt.Errorf("invalid 'templateVars' JSON: %w", err)
		}
	}

	src := &HTTPSource{
		URL:             url,
		Method:          method,
		Headers:         headers,
		Body:            config["body"],
		ValuePath:       valuePath,
		TimestampPath:   timestampPath,
		EntityPath:      config["entityPath"],
		MetricPath:      config["metricPath"],
		TimestampFormat: timestampFormat,
		StepSeconds:     stepSeconds,
		TemplateVars:    templateVars,
	}
	if err := src.ValidateConfig(); err != nil {
		return nil, fmt.Errorf("http source: %w", err)
	}
	return src, nil
}

// newOpenDataSoft creates an OpenDataSoft source from generic config.
func newOpenDataSoft(config map[string]string) (Source, error) {
	for _, key := range []string{"url", "dataset", "timestampField", "entityField", "metricFields"} {
		if config[key] == "" {
			return nil, fmt.Errorf("opendatasoft source requires '%s' config", key)
		}
	}

	src := &OpenDataSoftSource{
		ServerURL:      config["url"],
		Dataset:        config["dataset"],
		TimestampField: config["timestampField"],
		EntityField:    config["entityField"],
		MetricFields:   splitList(config["metricFields"]),
	}
	if raw := config["pageSize"]; raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil {
			return nil, fmt.Errorf("invalid 'pageSize': %w", err)
		}
		src.PageSize = n
	}
	return src, nil
}

// newStatic creates a file source from generic config.
func newStatic(config map[string]string) (Source, error) {
	path := config["path"]
	if path == "" {
		return nil, fmt.Errorf("static source requires 'path' config")
	}
	return &StaticSource{Path: path}, nil
}

// splitList splits a comma-separated list, dropping blanks.
func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
