package reconcile

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/podaac/swodlr-raster-create/internal/catalog"
	"github.com/podaac/swodlr-raster-create/internal/index"
	"github.com/podaac/swodlr-raster-create/internal/jobset"
)

// Catalog is the authoritative source of granules.
type Catalog interface {
	FindGranules(ctx context.Context, cycle, pass int, tiles []string) (catalog.Result, error)
}

// Index is the SDS copy of the catalog.
type Index interface {
	SearchTileGranules(ctx context.Context, cycle, pass int, tiles []string) ([]index.Hit, error)
	LatestOrbitGranule(ctx context.Context) ([]index.Hit, error)
	DeleteByIDs(ctx context.Context, ids []string) (int, error)
}

// Ingester submits one ingest job and reports its outcome as a job record.
type Ingester interface {
	Ingest(ctx context.Context, g Granule) jobset.Job
}

// IngestTag is the submission tag for a granule. Resubmitting the same tag is
// accepted by the batch system.
func IngestTag(g Granule) string {
	return "ingest_file_otello__" + g.Name
}

// IngestParams are the ingest job parameters for a granule.
func IngestParams(g Granule) map[string]any {
	filename := g.Filename()
	return map[string]any{
		"id":        filename,
		"data_url":  g.URL,
		"data_file": filename,
		"prod_met": map[string]any{
			"tags":         []string{"ISL", g.URL},
			"met_required": false,
			"restaged":     false,
			"ISL_urls":     g.URL,
		},
		"create_hash":   "false",
		"update_s3_tag": "false",
	}
}

// Snapshot holds both sources' view of a scene.
type Snapshot struct {
	CatalogTiles GranuleSet
	CatalogOrbit GranuleSet
	IndexTiles   GranuleSet
	IndexOrbit   GranuleSet
}

// Diff computes the repair plan for the snapshot.
func (s Snapshot) Diff() Diff {
	return ComputeDiff(s.CatalogTiles, s.CatalogOrbit, s.IndexTiles, s.IndexOrbit)
}

// Reconciler repairs the index one scene at a time.
type Reconciler struct {
	catalog  Catalog
	index    Index
	ingester Ingester
	logger   *slog.Logger
}

// New creates a Reconciler. ingester may be nil when only planning.
func New(cat Catalog, idx Index, ingester Ingester, logger *slog.Logger) *Reconciler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Reconciler{catalog: cat, index: idx, ingester: ingester, logger: logger}
}

// SourceError names which side of the reconciliation failed.
type SourceError struct {
	Source string // "catalog" or "index"
	Err    error
}

func (e *SourceError) Error() string {
	return fmt.Sprintf("%s: %v", e.Source, e.Err)
}

func (e *SourceError) Unwrap() error { return e.Err }

// Reason is the job failure reason for the failed source.
func (e *SourceError) Reason() string {
	if e.Source == "catalog" {
		return jobset.ReasonCatalogFailed
	}
	return jobset.ReasonSearchFailed
}

// Snapshot queries the catalog and the index for a scene.
func (r *Reconciler) Snapshot(ctx context.Context, cycle, pass, scene int) (Snapshot, error) {
	res, err := r.catalog.FindGranules(ctx, cycle, pass, CatalogTiles(scene))
	if err != nil {
		return Snapshot{}, &SourceError{Source: "catalog", Err: err}
	}

	idxTiles, err := r.index.SearchTileGranules(ctx, cycle, pass, TileNumbers(scene))
	if err != nil {
		return Snapshot{}, &SourceError{Source: "index", Err: err}
	}
	idxOrbit, err := r.index.LatestOrbitGranule(ctx)
	if err != nil {
		return Snapshot{}, &SourceError{Source: "index", Err: err}
	}

	snap := Snapshot{
		CatalogTiles: r.catalogSet(res.Tiles),
		CatalogOrbit: r.catalogSet(res.Orbit),
		IndexTiles:   hitSet(idxTiles),
		IndexOrbit:   hitSet(idxOrbit),
	}
	r.logger.Debug("reconcile snapshot",
		"cycle", cycle, "pass", pass, "scene", scene,
		"catalog_tiles", len(snap.CatalogTiles), "catalog_orbit", len(snap.CatalogOrbit),
		"index_tiles", len(snap.IndexTiles), "index_orbit", len(snap.IndexOrbit),
	)
	return snap, nil
}

// catalogSet keeps items with an s3 link; the rest cannot be ingested.
func (r *Reconciler) catalogSet(items []catalog.Item) GranuleSet {
	out := make(GranuleSet, len(items))
	for _, item := range items {
		link, ok := FindS3Link(item.RelatedURLs)
		if !ok {
			r.logger.Warn("no s3 link found", "granule", item.GranuleUR)
			continue
		}
		out[Granule{Name: item.GranuleUR, URL: link}] = struct{}{}
	}
	return out
}

func hitSet(hits []index.Hit) GranuleSet {
	out := make(GranuleSet, len(hits))
	for _, h := range hits {
		out[Granule{Name: h.ID, URL: h.URL}] = struct{}{}
	}
	return out
}

// Plan computes the repair plan for a scene without changing anything.
func (r *Reconciler) Plan(ctx context.Context, cycle, pass, scene int) (Diff, error) {
	snap, err := r.Snapshot(ctx, cycle, pass, scene)
	if err != nil {
		return Diff{}, err
	}
	return snap.Diff(), nil
}

// Reconcile repairs the index for an input: one ingest job per granule to
// ingest, then a single deletion of stale tile granules. Source failures and a
// failed deletion are reported as failed preflight jobs.
func (r *Reconciler) Reconcile(ctx context.Context, in jobset.Input) (Diff, []jobset.Job) {
	logger := r.logger.With("product_id", in.ProductID)

	diff, err := r.Plan(ctx, in.Cycle, in.Pass, in.Scene)
	if err != nil {
		reason := jobset.ReasonSearchFailed
		var se *SourceError
		if errors.As(err, &se) {
			reason = se.Reason()
		}
		logger.Error("reconcile lookup failed", "error", err)
		return Diff{}, []jobset.Job{r.failed(in, reason)}
	}

	logger.Info("reconcile plan", "to_ingest", len(diff.ToIngest), "to_delete", len(diff.ToDelete))

	jobs := make([]jobset.Job, 0, len(diff.ToIngest))
	for _, g := range diff.ToIngest.Sorted() {
		job := r.ingester.Ingest(ctx, g)
		job.Stage = jobset.StagePreflight
		job.ProductID = in.ProductID
		jobs = append(jobs, job)
	}

	if len(diff.ToDelete) > 0 {
		n, err := r.index.DeleteByIDs(ctx, diff.ToDelete.Names())
		if err != nil {
			logger.Error("index delete failed", "error", err, "granules", diff.ToDelete.Names())
			jobs = append(jobs, r.failed(in, jobset.ReasonSearchFailed))
		} else {
			logger.Info("deleted stale granules", "requested", len(diff.ToDelete), "deleted", n)
		}
	}

	return diff, jobs
}

func (r *Reconciler) failed(in jobset.Input, reason string) jobset.Job {
	job := jobset.Job{Stage: jobset.StagePreflight, ProductID: in.ProductID}
	job.Fail(reason)
	return job
}
