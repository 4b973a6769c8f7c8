package adapters

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/tidwall/gjson"

	"github.com/resetting-eu/Crowding-Visualization-STToolkit/pkg/timeline"
)

// OpenDataSoftSource reads dataset records from an OpenDataSoft portal
// (Explore API v2) and follows "next" links until the result is exhausted.
//
// Every record contributes one timeline record per field in MetricFields.
type OpenDataSoftSource struct {
	// ServerURL is the portal base URL, e.g. https://data.melbourne.vic.gov.au
	ServerURL      string
	Dataset        string
	TimestampField string
	EntityField    string
	MetricFields   []string
	// PageSize is the per-request limit (default 100).
	PageSize int
	// MaxPages bounds pagination (default 1000).
	MaxPages   int
	HTTPClient *http.Client
}

func (o *OpenDataSoftSource) Name() string { return "opendatasoft" }

// FetchSince implements Source.
func (o *OpenDataSoftSource) FetchSince(ctx context.Context, since time.Time) ([]timeline.Record, error) {
	return o.FetchRange(ctx, Query{Start: since})
}

// FetchRange implements Source.
func (o *OpenDataSoftSource) FetchRange(ctx context.Context, q Query) ([]timeline.Record, error) {
	if o.ServerURL == "" || o.Dataset == "" {
		return nil, errors.New("opendatasoft source: ServerURL and Dataset are required")
	}
	if o.TimestampField == "" || o.EntityField == "" || len(o.MetricFields) == 0 {
		return nil, errors.New("opendatasoft source: TimestampField, EntityField and MetricFields are required")
	}

	next, err := o.firstPage(q)
	if err != nil {
		return nil, err
	}

	maxPages := o.MaxPages
	if maxPages <= 0 {
		maxPages = 1000
	}

	var records []timeline.Record
	for page := 0; next != "" && page < maxPages; page++ {
		body, err := o.get(ctx, next)
		if err != nil {
			return nil, err
		}
		records = append(records, o.extract(body)...)
		next = gjson.GetBytes(body, `links.#(rel=="next").href`).String()
	}
	return filterEntities(records, q.Entities), nil
}

func (o *OpenDataSoftSource) firstPage(q Query) (string, error) {
	u, err := url.Parse(o.ServerURL)
	if err != nil {
		return "", fmt.Errorf("invalid ServerURL: %w", err)
	}
	u.Path = strings.TrimRight(u.Path, "/") + "/api/v2/catalog/datasets/" + url.PathEscape(o.Dataset) + "/records"

	where := fmt.Sprintf("%s >= date'%s'", o.TimestampField, q.Start.UTC().Format(time.RFC3339))
	if !q.End.IsZero() {
		where += fmt.Sprintf(" AND %s <= date'%s'", o.TimestampField, q.End.UTC().Format(time.RFC3339))
	}

	limit := o.PageSize
	if limit <= 0 {
		limit = 100
	}

	params := u.Query()
	params.Set("where", where)
	params.Set("order_by", o.TimestampField)
	params.Set("limit", strconv.Itoa(limit))
	u.RawQuery = params.Encode()
	return u.String(), nil
}

func (o *OpenDataSoftSource) get(ctx context.Context, target string) ([]byte, error) {
	cli := o.HTTPClient
	if cli == nil {
		cli = &http.Client{Timeout: 30 * time.Second}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := cli.Do(req)
	if err != nil {
		return nil, fmt.Errorf("opendatasoft request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return nil, fmt.Errorf("opendatasoft status %d: %s", resp.StatusCode, string(body))
	}
	return io.ReadAll(resp.Body)
}

// extract converts one page. Records missing the timestamp or entity are
// passed through with the field empty so the indexer can reject and log them.
func (o *OpenDataSoftSource) extract(body []byte) []timeline.Record {
	var out []timeline.Record
	gjson.GetBytes(body, "records").ForEach(func(_, item gjson.Result) bool {
		fields := item.Get("record.fields")
		ts := fields.Get(o.TimestampField).String()
		if parsed, err := timeline.ParseTime(ts); err == nil {
			ts = timeline.FormatTime(parsed)
		}
		entity := fields.Get(o.EntityField).String()

		for _, metric := range o.MetricFields {
			r := timeline.Record{Timestamp: ts, Entity: entity, Metric: metric}
			if v := fields.Get(metric); v.Exists() && v.Type != gjson.Null {
				r.Value = timeline.Float(v.Float())
			}
			out = append(out, r)
		}
		return true
	})
	return out
}
