package catalog

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/podaac/swodlr-raster-create/internal/jobset"
	"github.com/podaac/swodlr-raster-create/internal/metrics"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestClient(t *testing.T, handler http.HandlerFunc) (*Client, *metrics.Collector) {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	m := metrics.NewCollector()
	c, err := New(Options{
		Endpoint:          srv.URL,
		Token:             "edl-token",
		PIXCConceptID:     "C-PIXC",
		PIXCVecConceptID:  "C-PIXCVEC",
		XDFOrbitConceptID: "C-ORBIT",
		Metrics:           m,
	})
	require.NoError(t, err)
	return c, m
}

func TestFindGranules(t *testing.T) {
	var got graphQLRequest
	c, m := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer edl-token", r.Header.Get("Authorization"))
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&got))

		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"data": {
			"tiles": {"items": [{"granuleUr": "SWODLR_TEST_GRANULE_1",
				"relatedUrls": [{"type": "GET DATA", "url": "s3://dummy-bucket/test_1.nc"}]}]},
			"orbit": {"items": [{"granuleUr": "SWODLR_TEST_ORBIT",
				"relatedUrls": [{"type": "GET DATA", "url": "s3://dummy-bucket/orbit.xdf"}]}]}
		}}`))
	})

	res, err := c.FindGranules(context.Background(), 1, 2, []string{"005L", "005R"})
	require.NoError(t, err)

	require.Len(t, res.Tiles, 1)
	assert.Equal(t, "SWODLR_TEST_GRANULE_1", res.Tiles[0].GranuleUR)
	assert.Equal(t, "s3://dummy-bucket/test_1.nc", res.Tiles[0].RelatedURLs[0].URL)
	require.Len(t, res.Orbit, 1)

	tileParams := got.Variables["tileParams"].(map[string]any)
	assert.Equal(t, []any{"C-PIXC", "C-PIXCVEC"}, tileParams["collectionConceptIds"])
	passes := tileParams["passes"].(map[string]any)["0"].(map[string]any)
	assert.Equal(t, "005L,005R", passes["tiles"])
	assert.Equal(t, float64(2), passes["pass"])

	orbitParams := got.Variables["orbitParams"].(map[string]any)
	assert.Equal(t, "-end_date", orbitParams["sortKey"])
	assert.Equal(t, float64(1), orbitParams["limit"])

	snap := m.Snapshot()
	require.Len(t, snap.Ops, 1)
	assert.Equal(t, metrics.OpCatalogQuery, snap.Ops[0].Op)
}

func TestFindGranulesEmpty(t *testing.T) {
	c, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"data": {"tiles": {"items": []}, "orbit": {"items": []}}}`))
	})

	res, err := c.FindGranules(context.Background(), 1, 2, nil)
	require.NoError(t, err)
	assert.Empty(t, res.Tiles)
	assert.Empty(t, res.Orbit)
}

func TestFindGranulesTransportErrors(t *testing.T) {
	tests := []struct {
		name    string
		handler http.HandlerFunc
	}{
		{"http status", func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusBadGateway)
		}},
		{"graphql errors", func(w http.ResponseWriter, r *http.Request) {
			_, _ = w.Write([]byte(`{"errors": [{"message": "token expired"}], "data": null}`))
		}},
		{"missing data", func(w http.ResponseWriter, r *http.Request) {
			_, _ = w.Write([]byte(`{"data": {}}`))
		}},
		{"garbage", func(w http.ResponseWriter, r *http.Request) {
			_, _ = w.Write([]byte(`<html>`))
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c, m := newTestClient(t, tt.handler)
			_, err := c.FindGranules(context.Background(), 1, 2, []string{"005L"})
			assert.ErrorIs(t, err, jobset.ErrTransport)
			assert.Equal(t, int64(1), m.Snapshot().Ops[0].Errors)
		})
	}
}

func TestNewRequiresEndpoint(t *testing.T) {
	_, err := New(Options{})
	assert.Error(t, err)
}

func TestCheckQuery(t *testing.T) {
	require.NoError(t, checkQuery(granulesQuery, "tiles", "orbit"))
	assert.Error(t, checkQuery(granulesQuery, "missing"))
	assert.Error(t, checkQuery("query { tiles", "tiles"))
}
