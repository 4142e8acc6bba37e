package stage

import (
	"context"
	"fmt"
	"log/slog"
	"path"
	"strconv"
	"strings"
	"time"

	"github.com/podaac/swodlr-raster-create/internal/jobset"
	"github.com/podaac/swodlr-raster-create/internal/sds"
	"github.com/podaac/swodlr-raster-create/internal/storage"
)

// publishedExts are the file extensions copied to the publication bucket.
var publishedExts = map[string]bool{".nc": true}

// ProductFetcher fetches the datasets a job generated.
type ProductFetcher interface {
	GeneratedProducts(ctx context.Context, id string) ([]sds.Product, error)
}

// ObjectStore lists and copies objects.
type ObjectStore interface {
	List(ctx context.Context, prefix storage.Location) ([]string, error)
	Copy(ctx context.Context, src, dst storage.Location) error
}

// PublishData copies each successful job's granules to the publication bucket.
type PublishData struct {
	validator *jobset.Validator
	products  ProductFetcher
	store     ObjectStore
	bucket    string
	now       func() time.Time
	logger    *slog.Logger
}

// NewPublishData creates the publish_data stage.
func NewPublishData(v *jobset.Validator, products ProductFetcher, store ObjectStore, bucket string, logger *slog.Logger) *PublishData {
	if logger == nil {
		logger = slog.Default()
	}
	return &PublishData{validator: v, products: products, store: store, bucket: bucket, now: time.Now, logger: logger}
}

// Handler returns the stage as a Handler.
func (p *PublishData) Handler() Handler {
	return jobsetHandler(p.validator, p.Process)
}

// granule is one file to publish.
type granule struct {
	collection string
	source     storage.Location
}

// Process publishes every successful job and records the published URLs on it.
// A storage or batch system failure aborts the invocation.
func (p *PublishData) Process(ctx context.Context, js jobset.Jobset) (jobset.Jobset, error) {
	for i := range js.Jobs {
		job := &js.Jobs[i]
		if !job.Status.IsSuccess() {
			continue
		}
		urls, err := p.publish(ctx, job)
		if err != nil {
			return jobset.Jobset{}, fmt.Errorf("publish %s: %w", job.ProductID, err)
		}
		job.Granules = urls
	}
	return js, nil
}

func (p *PublishData) publish(ctx context.Context, job *jobset.Job) ([]string, error) {
	logger := p.logger.With("product_id", job.ProductID, "job_id", job.JobID)

	products, err := p.products.GeneratedProducts(ctx, job.JobID)
	if err != nil {
		return nil, err
	}

	granules, err := p.findGranules(ctx, products)
	if err != nil {
		return nil, err
	}
	logger.Debug("extracted granules", "count", len(granules))

	stamp := strconv.FormatInt(p.now().Unix(), 10)
	urls := make([]string, 0, len(granules))
	for _, g := range granules {
		dst := storage.Location{
			Bucket: p.bucket,
			Key:    path.Join(g.collection, job.ProductID, stamp, path.Base(g.source.Key)),
		}
		logger.Info("upload starting", "source", g.source.URL(), "dest", dst.URL())
		if err := p.store.Copy(ctx, g.source, dst); err != nil {
			return nil, err
		}
		urls = append(urls, dst.URL())
	}
	return urls, nil
}

// findGranules lists every s3 product location and keeps published file types.
func (p *PublishData) findGranules(ctx context.Context, products []sds.Product) ([]granule, error) {
	var out []granule
	for _, product := range products {
		for _, raw := range product.URLs {
			loc, ok := storage.ParseSDSURL(raw)
			if !ok {
				continue
			}
			keys, err := p.store.List(ctx, loc)
			if err != nil {
				return nil, err
			}
			for _, key := range keys {
				if !publishedExts[strings.ToLower(path.Ext(key))] {
					continue
				}
				out = append(out, granule{
					collection: product.Dataset,
					source:     storage.Location{Bucket: loc.Bucket, Key: key},
				})
			}
		}
	}
	return out, nil
}
