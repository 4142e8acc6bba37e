package stage

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/podaac/swodlr-raster-create/internal/jobset"
	"github.com/podaac/swodlr-raster-create/internal/sds"
	"github.com/podaac/swodlr-raster-create/internal/storage"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeProducts struct {
	products map[string][]sds.Product
	err      error
}

func (f *fakeProducts) GeneratedProducts(_ context.Context, id string) ([]sds.Product, error) {
	return f.products[id], f.err
}

type copied struct {
	src, dst storage.Location
}

type fakeStore struct {
	objects map[storage.Location][]string
	listed  []storage.Location
	copies  []copied
	copyErr error
}

func (f *fakeStore) List(_ context.Context, prefix storage.Location) ([]string, error) {
	f.listed = append(f.listed, prefix)
	return f.objects[prefix], nil
}

func (f *fakeStore) Copy(_ context.Context, src, dst storage.Location) error {
	if f.copyErr != nil {
		return f.copyErr
	}
	f.copies = append(f.copies, copied{src, dst})
	return nil
}

func newTestPublish(products *fakeProducts, store *fakeStore) *PublishData {
	p := NewPublishData(jobset.MustValidator(), products, store, "public", nil)
	p.now = fixedClock(time.Unix(1700000000, 0))
	return p
}

func TestPublishData(t *testing.T) {
	products := &fakeProducts{products: map[string][]sds.Product{
		"raster-1": {{
			Dataset: "SWOT_L2_HR_Raster",
			URLs: []string{
				"http://example.com/browse",
				"s3://s3-us-west-2.amazonaws.com:80/sds-bucket/products/raster-1",
			},
		}},
	}}
	prefix := storage.Location{Bucket: "sds-bucket", Key: "products/raster-1"}
	store := &fakeStore{objects: map[storage.Location][]string{
		prefix: {
			"products/raster-1/granule_100m.nc",
			"products/raster-1/granule_100m.NC",
			"products/raster-1/granule_100m.met.json",
			"products/raster-1/browse.png",
		},
	}}
	p := newTestPublish(products, store)

	in := testJobset(
		rasterJob("raster-1", jobset.StatusCompleted),
		rasterJob("raster-2", jobset.StatusFailed),
	)
	out, err := p.Handler().Run(context.Background(), mustJSON(t, in))
	require.NoError(t, err)

	js := out.(jobset.Jobset)
	assert.Equal(t, []storage.Location{prefix}, store.listed)
	require.Len(t, store.copies, 2)
	assert.Equal(t, storage.Location{Bucket: "sds-bucket", Key: "products/raster-1/granule_100m.nc"}, store.copies[0].src)
	assert.Equal(t, storage.Location{
		Bucket: "public",
		Key:    "SWOT_L2_HR_Raster/" + productID + "/1700000000/granule_100m.nc",
	}, store.copies[0].dst)

	assert.Equal(t, []string{
		"s3://public/SWOT_L2_HR_Raster/" + productID + "/1700000000/granule_100m.nc",
		"s3://public/SWOT_L2_HR_Raster/" + productID + "/1700000000/granule_100m.NC",
	}, js.Jobs[0].Granules)
	assert.Empty(t, js.Jobs[1].Granules, "failed jobs are not published")
}

func TestPublishDataNoProducts(t *testing.T) {
	p := newTestPublish(&fakeProducts{}, &fakeStore{})

	js, err := p.Process(context.Background(), testJobset(rasterJob("raster-1", jobset.StatusCompleted)))
	require.NoError(t, err)
	assert.Empty(t, js.Jobs[0].Granules)
}

func TestPublishDataErrorsAbort(t *testing.T) {
	boom := errors.New("boom")

	t.Run("products", func(t *testing.T) {
		p := newTestPublish(&fakeProducts{err: boom}, &fakeStore{})
		_, err := p.Process(context.Background(), testJobset(rasterJob("raster-1", jobset.StatusCompleted)))
		require.ErrorIs(t, err, boom)
	})

	t.Run("copy", func(t *testing.T) {
		products := &fakeProducts{products: map[string][]sds.Product{
			"raster-1": {{Dataset: "D", URLs: []string{"s3://host/bucket/prefix"}}},
		}}
		store := &fakeStore{
			objects: map[storage.Location][]string{{Bucket: "bucket", Key: "prefix"}: {"prefix/a.nc"}},
			copyErr: boom,
		}
		p := newTestPublish(products, store)
		_, err := p.Process(context.Background(), testJobset(rasterJob("raster-1", jobset.StatusCompleted)))
		require.ErrorIs(t, err, boom)
	})
}
