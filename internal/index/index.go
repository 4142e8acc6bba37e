// Package index searches and prunes the GRQ Elasticsearch index of the SDS.
package index

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/elastic/go-elasticsearch/v8"
	"github.com/elastic/go-elasticsearch/v8/esapi"
	"github.com/podaac/swodlr-raster-create/internal/jobset"
	"github.com/podaac/swodlr-raster-create/internal/metrics"
)

// Dataset names and types used by the raster pipeline.
const (
	DatasetTypeSDP = "SDP"
	DatasetTypeAUX = "AUX"
	DatasetOrbit   = "XDF_ORBIT_REV_FILE"
)

// TileDatasets are the per-tile inputs of a raster product.
var TileDatasets = []string{"L2_HR_PIXC", "L2_HR_PIXCVec"}

// Hit is one indexed granule: its identifier and its storage location.
type Hit struct {
	ID  string
	URL string
}

// Config configures a Client.
type Config struct {
	// URL is the Elasticsearch base, e.g. https://sds.example/grq_es.
	URL       string
	Index     string
	Username  string
	Password  string
	CACert    []byte
	Transport http.RoundTripper
	Metrics   *metrics.Collector
}

// Client wraps an Elasticsearch client bound to one index.
type Client struct {
	es      *elasticsearch.Client
	index   string
	metrics *metrics.Collector
}

// New creates an index client.
func New(cfg Config) (*Client, error) {
	if cfg.URL == "" {
		return nil, fmt.Errorf("index url is required")
	}
	if cfg.Index == "" {
		cfg.Index = "grq"
	}

	es, err := elasticsearch.NewClient(elasticsearch.Config{
		Addresses: []string{strings.TrimSuffix(cfg.URL, "/")},
		Username:  cfg.Username,
		Password:  cfg.Password,
		CACert:    cfg.CACert,
		Transport: cfg.Transport,
	})
	if err != nil {
		return nil, fmt.Errorf("create elasticsearch client: %w", err)
	}

	return &Client{es: es, index: cfg.Index, metrics: cfg.Metrics}, nil
}

// Index returns the index name the client reads and writes.
func (c *Client) Index() string {
	return c.index
}

// TileQuery builds the search body for the tile granules of (cycle, pass).
func TileQuery(cycle, pass int, tiles []string) map[string]any {
	return map[string]any{
		"query": map[string]any{
			"bool": map[string]any{
				"must": []any{
					term("dataset_type.keyword", DatasetTypeSDP),
					terms("dataset.keyword", TileDatasets),
					term("metadata.CycleID", fmt.Sprintf("%03d", cycle)),
					term("metadata.PassID", fmt.Sprintf("%03d", pass)),
					terms("metadata.TileID", tiles),
				},
			},
		},
	}
}

// OrbitQuery builds the search body for the newest orbit file.
func OrbitQuery() map[string]any {
	return map[string]any{
		"query": map[string]any{
			"bool": map[string]any{
				"must": []any{
					term("dataset_type.keyword", DatasetTypeAUX),
					term("dataset.keyword", DatasetOrbit),
				},
			},
		},
		"sort": map[string]any{
			"endtime": map[string]any{"order": "desc"},
		},
	}
}

func term(field string, value any) map[string]any {
	return map[string]any{"term": map[string]any{field: value}}
}

func terms[T any](field string, values []T) map[string]any {
	return map[string]any{"terms": map[string]any{field: values}}
}

// SearchTileGranules returns the indexed PIXC and PIXCVec granules of the tiles.
func (c *Client) SearchTileGranules(ctx context.Context, cycle, pass int, tiles []string) ([]Hit, error) {
	return c.searchGranules(ctx, TileQuery(cycle, pass, tiles), 100)
}

// LatestOrbitGranule returns the newest orbit file, or nothing if none is indexed.
func (c *Client) LatestOrbitGranule(ctx context.Context) ([]Hit, error) {
	return c.searchGranules(ctx, OrbitQuery(), 1)
}

type searchResponse struct {
	Hits struct {
		Hits []struct {
			ID     string          `json:"_id"`
			Source json.RawMessage `json:"_source"`
		} `json:"hits"`
	} `json:"hits"`
}

type granuleSource struct {
	Metadata struct {
		ID      string          `json:"id"`
		ISLURLs json.RawMessage `json:"ISL_urls"`
	} `json:"metadata"`
}

func (c *Client) searchGranules(ctx context.Context, query map[string]any, size int) ([]Hit, error) {
	resp, err := c.search(ctx, query, size)
	if err != nil {
		return nil, err
	}

	hits := make([]Hit, 0, len(resp.Hits.Hits))
	for _, h := range resp.Hits.Hits {
		var src granuleSource
		if err := json.Unmarshal(h.Source, &src); err != nil {
			return nil, fmt.Errorf("%w: decode hit %s: %w", jobset.ErrTransport, h.ID, err)
		}
		hits = append(hits, Hit{
			ID:  src.Metadata.ID,
			URL: firstURL(src.Metadata.ISLURLs),
		})
	}
	return hits, nil
}

// firstURL accepts ISL_urls as either a string or a list of strings.
func firstURL(raw json.RawMessage) string {
	if len(raw) == 0 {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	var list []string
	if err := json.Unmarshal(raw, &list); err == nil && len(list) > 0 {
		return list[0]
	}
	return ""
}

// SearchDataset finds a dataset by id and returns its source document.
// With wildcard set, id may contain * patterns; otherwise it must match exactly.
// A search with no hits returns an error wrapping jobset.ErrNotFound.
func (c *Client) SearchDataset(ctx context.Context, id string, wildcard bool) (map[string]any, error) {
	kind := "term"
	if wildcard {
		kind = "wildcard"
	}
	query := map[string]any{
		"query": map[string]any{
			kind: map[string]any{"id.keyword": id},
		},
	}

	resp, err := c.search(ctx, query, 1)
	if err != nil {
		return nil, err
	}
	if len(resp.Hits.Hits) == 0 {
		return nil, fmt.Errorf("%w: dataset %s", jobset.ErrNotFound, id)
	}

	var source map[string]any
	if err := json.Unmarshal(resp.Hits.Hits[0].Source, &source); err != nil {
		return nil, fmt.Errorf("%w: decode dataset %s: %w", jobset.ErrTransport, id, err)
	}
	return source, nil
}

func (c *Client) search(ctx context.Context, query map[string]any, size int) (_ searchResponse, err error) {
	defer func(start time.Time) { c.metrics.Track(metrics.OpIndexSearch, start, err) }(time.Now())

	body, err := json.Marshal(query)
	if err != nil {
		return searchResponse{}, fmt.Errorf("marshal query: %w", err)
	}

	res, err := c.es.Search(
		c.es.Search.WithContext(ctx),
		c.es.Search.WithIndex(c.index),
		c.es.Search.WithBody(bytes.NewReader(body)),
		c.es.Search.WithSize(size),
	)
	if err != nil {
		return searchResponse{}, fmt.Errorf("%w: search: %w", jobset.ErrTransport, err)
	}
	defer res.Body.Close()

	if err := responseError(res); err != nil {
		return searchResponse{}, err
	}

	var out searchResponse
	if err := json.NewDecoder(res.Body).Decode(&out); err != nil {
		return searchResponse{}, fmt.Errorf("%w: decode search response: %w", jobset.ErrTransport, err)
	}
	return out, nil
}

// DeleteByIDs removes documents by id. Ids that are not indexed are ignored;
// an empty list issues no request.
func (c *Client) DeleteByIDs(ctx context.Context, ids []string) (deleted int, err error) {
	if len(ids) == 0 {
		return 0, nil
	}
	defer func(start time.Time) { c.metrics.Track(metrics.OpIndexDelete, start, err) }(time.Now())

	body, err := json.Marshal(map[string]any{
		"query": map[string]any{
			"ids": map[string]any{"values": ids},
		},
	})
	if err != nil {
		return 0, fmt.Errorf("marshal query: %w", err)
	}

	res, err := c.es.DeleteByQuery(
		[]string{c.index},
		bytes.NewReader(body),
		c.es.DeleteByQuery.WithContext(ctx),
		c.es.DeleteByQuery.WithConflicts("proceed"),
		c.es.DeleteByQuery.WithRefresh(true),
	)
	if err != nil {
		return 0, fmt.Errorf("%w: delete by query: %w", jobset.ErrTransport, err)
	}
	defer res.Body.Close()

	if err := responseError(res); err != nil {
		return 0, err
	}

	var out struct {
		Deleted int `json:"deleted"`
	}
	if err := json.NewDecoder(res.Body).Decode(&out); err != nil {
		return 0, fmt.Errorf("%w: decode delete response: %w", jobset.ErrTransport, err)
	}
	return out.Deleted, nil
}

func responseError(res *esapi.Response) error {
	if !res.IsError() {
		return nil
	}
	msg, _ := io.ReadAll(io.LimitReader(res.Body, 1024))
	return fmt.Errorf("%w: elasticsearch %s: %s", jobset.ErrTransport, res.Status(), strings.TrimSpace(string(msg)))
}
