// Package catalog queries the CMR GraphQL API for the granules of a scene.
package catalog

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/99designs/gqlgen/graphql"
	"github.com/podaac/swodlr-raster-create/internal/jobset"
	"github.com/podaac/swodlr-raster-create/internal/metrics"
	"github.com/vektah/gqlparser/v2/ast"
	"github.com/vektah/gqlparser/v2/parser"
)

// DefaultTimeout bounds a single catalog request.
const DefaultTimeout = 15 * time.Second

// granulesQuery fetches the scene's tile granules and the newest orbit file in one round trip.
const granulesQuery = `
query($tileParams: GranulesInput, $orbitParams: GranulesInput) {
    tiles: granules(params: $tileParams) {
        items {
            granuleUr
            relatedUrls
        }
    }

    orbit: granules(params: $orbitParams) {
        items {
            granuleUr
            relatedUrls
        }
    }
}
`

// RelatedURL is one entry of a granule's relatedUrls.
type RelatedURL struct {
	Type string `json:"type"`
	URL  string `json:"url"`
}

// Item is one catalog granule.
type Item struct {
	GranuleUR   string       `json:"granuleUr"`
	RelatedURLs []RelatedURL `json:"relatedUrls"`
}

// Result holds both halves of a granule query.
type Result struct {
	Tiles []Item
	Orbit []Item
}

type itemList struct {
	Items []Item `json:"items"`
}

type granulesData struct {
	Tiles *itemList `json:"tiles"`
	Orbit *itemList `json:"orbit"`
}

// Options configures a Client.
type Options struct {
	Endpoint          string
	Token             string
	PIXCConceptID     string
	PIXCVecConceptID  string
	XDFOrbitConceptID string
	HTTPClient        *http.Client
	Metrics           *metrics.Collector
}

// Client is a CMR GraphQL client.
type Client struct {
	opts       Options
	httpClient *http.Client
}

// New creates a catalog client. The embedded query is checked up front so a
// malformed document fails at startup rather than on the first request.
func New(opts Options) (*Client, error) {
	if opts.Endpoint == "" {
		return nil, fmt.Errorf("catalog endpoint is required")
	}
	if err := checkQuery(granulesQuery, "tiles", "orbit"); err != nil {
		return nil, err
	}

	httpClient := opts.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: DefaultTimeout}
	}
	return &Client{opts: opts, httpClient: httpClient}, nil
}

// checkQuery parses q and verifies it selects every alias in want.
func checkQuery(q string, want ...string) error {
	doc, perr := parser.ParseQuery(&ast.Source{Name: "granules", Input: q})
	if perr != nil {
		return fmt.Errorf("parse catalog query: %w", perr)
	}
	if len(doc.Operations) != 1 {
		return fmt.Errorf("catalog query must define one operation, got %d", len(doc.Operations))
	}

	aliases := make(map[string]bool)
	for _, sel := range doc.Operations[0].SelectionSet {
		if f, ok := sel.(*ast.Field); ok {
			aliases[f.Alias] = true
		}
	}
	for _, a := range want {
		if !aliases[a] {
			return fmt.Errorf("catalog query missing selection %q", a)
		}
	}
	return nil
}

// Variables builds the query variables for a scene. tiles is the tile list
// sent to the catalog, e.g. 005L,005R,...
func (c *Client) Variables(cycle, pass int, tiles []string) map[string]any {
	return map[string]any{
		"tileParams": map[string]any{
			"collectionConceptIds": []string{c.opts.PIXCConceptID, c.opts.PIXCVecConceptID},
			"cycle":                cycle,
			"passes": map[string]any{
				"0": map[string]any{
					"pass":  pass,
					"tiles": strings.Join(tiles, ","),
				},
			},
			"limit": 100,
		},
		"orbitParams": map[string]any{
			"collectionConceptId": c.opts.XDFOrbitConceptID,
			"sortKey":             "-end_date",
			"limit":               1,
		},
	}
}

// FindGranules returns the tile granules of (cycle, pass) within tiles and the
// most recent orbit granule. Every failure wraps jobset.ErrTransport; an empty
// response is not an error.
func (c *Client) FindGranules(ctx context.Context, cycle, pass int, tiles []string) (res Result, err error) {
	defer func(start time.Time) { c.opts.Metrics.Track(metrics.OpCatalogQuery, start, err) }(time.Now())

	var data granulesData
	if err := c.execute(ctx, granulesQuery, c.Variables(cycle, pass, tiles), &data); err != nil {
		return Result{}, err
	}
	if data.Tiles == nil || data.Orbit == nil {
		return Result{}, fmt.Errorf("%w: catalog response missing tiles or orbit", jobset.ErrTransport)
	}

	return Result{Tiles: data.Tiles.Items, Orbit: data.Orbit.Items}, nil
}

// graphQLRequest is the request payload for GraphQL operations.
type graphQLRequest struct {
	Query     string         `json:"query"`
	Variables map[string]any `json:"variables,omitempty"`
}

// execute sends a GraphQL query and decodes the data member into result.
func (c *Client) execute(ctx context.Context, query string, variables map[string]any, result any) error {
	reqBody, err := json.Marshal(graphQLRequest{
		Query:     query,
		Variables: variables,
	})
	if err != nil {
		return fmt.Errorf("marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.opts.Endpoint, bytes.NewReader(reqBody))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.opts.Token != "" {
		req.Header.Set("Authorization", "Bearer "+c.opts.Token)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%w: execute request: %w", jobset.ErrTransport, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("%w: read response: %w", jobset.ErrTransport, err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("%w: catalog error: %s", jobset.ErrTransport, resp.Status)
	}

	var gqlResp graphql.Response
	if err := json.Unmarshal(body, &gqlResp); err != nil {
		return fmt.Errorf("%w: unmarshal response: %w", jobset.ErrTransport, err)
	}

	if len(gqlResp.Errors) > 0 {
		return fmt.Errorf("%w: graphql error: %s", jobset.ErrTransport, gqlResp.Errors[0].Message)
	}

	if result != nil && len(gqlResp.Data) > 0 {
		if err := json.Unmarshal(gqlResp.Data, result); err != nil {
			return fmt.Errorf("%w: unmarshal data: %w", jobset.ErrTransport, err)
		}
	}

	return nil
}
