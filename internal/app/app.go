// Package app builds stage handlers from configuration.
package app

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/sfn"
	"github.com/aws/aws-sdk-go-v2/service/sns"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/podaac/swodlr-raster-create/internal/catalog"
	"github.com/podaac/swodlr-raster-create/internal/config"
	"github.com/podaac/swodlr-raster-create/internal/dispatch"
	"github.com/podaac/swodlr-raster-create/internal/index"
	"github.com/podaac/swodlr-raster-create/internal/jobset"
	"github.com/podaac/swodlr-raster-create/internal/metrics"
	"github.com/podaac/swodlr-raster-create/internal/reconcile"
	"github.com/podaac/swodlr-raster-create/internal/sds"
	"github.com/podaac/swodlr-raster-create/internal/stage"
	"github.com/podaac/swodlr-raster-create/internal/storage"
)

// App wires configuration to stage handlers. Clients are created on first use
// and shared between handlers.
type App struct {
	cfg       config.Config
	logger    *slog.Logger
	metrics   *metrics.Collector
	validator *jobset.Validator

	loadAWS func(ctx context.Context) (aws.Config, error)

	mu     sync.Mutex
	aws    *aws.Config
	sds    *sds.Client
	index  *index.Client
	stages map[string]stage.Handler
}

// Option configures an App.
type Option func(*App)

// WithAWSConfig uses cfg instead of loading the shared AWS configuration.
func WithAWSConfig(cfg aws.Config) Option {
	return func(a *App) {
		a.loadAWS = func(context.Context) (aws.Config, error) { return cfg, nil }
	}
}

// New creates an App.
func New(cfg config.Config, logger *slog.Logger, m *metrics.Collector, opts ...Option) *App {
	if logger == nil {
		logger = slog.Default()
	}
	a := &App{
		cfg:       cfg,
		logger:    logger,
		metrics:   m,
		validator: jobset.MustValidator(),
		loadAWS:   config.LoadAWS,
		stages:    make(map[string]stage.Handler),
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Validator returns the jobset validator shared by every stage.
func (a *App) Validator() *jobset.Validator {
	return a.validator
}

// Metrics returns the collector the clients record into.
func (a *App) Metrics() *metrics.Collector {
	return a.metrics
}

// Handler returns the handler for the named stage, building it on first use.
func (a *App) Handler(ctx context.Context, name string) (stage.Handler, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if h, ok := a.stages[name]; ok {
		return h, nil
	}

	build, ok := a.builders()[name]
	if !ok {
		return nil, fmt.Errorf("unknown stage %q (known: %s)", name, strings.Join(stage.Names(), ", "))
	}
	h, err := build(ctx)
	if err != nil {
		return nil, fmt.Errorf("build %s: %w", name, err)
	}
	a.stages[name] = h
	return h, nil
}

type builder func(ctx context.Context) (stage.Handler, error)

func (a *App) builders() map[string]builder {
	return map[string]builder{
		stage.NamePreflight:       a.preflight,
		stage.NameSubmitEvaluate:  a.submitEvaluate,
		stage.NameSubmitRaster:    a.submitRaster,
		stage.NameWaitForComplete: a.waitForComplete,
		stage.NamePublishData:     a.publishData,
		stage.NameNotifyUpdate:    a.notifyUpdate,
		stage.NameQueueUpdate:     a.queueUpdate,
		stage.NameBootstrap:       a.bootstrap,
	}
}

// Reconciler builds a reconciler over the catalog and the index. Ingest jobs
// are submitted with the latest ingest job type.
func (a *App) Reconciler(ctx context.Context) (*reconcile.Reconciler, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.reconciler(ctx)
}

func (a *App) reconciler(ctx context.Context) (*reconcile.Reconciler, error) {
	if err := config.Require(
		"cmr_graphql_endpoint", a.cfg.CMRGraphQLEndpoint,
		"pixc_concept_id", a.cfg.PIXCConceptID,
		"pixcvec_concept_id", a.cfg.PIXCVecConceptID,
		"xdf_orbit_concept_id", a.cfg.XDFOrbitConceptID,
	); err != nil {
		return nil, err
	}

	cat, err := catalog.New(catalog.Options{
		Endpoint:          a.cfg.CMRGraphQLEndpoint,
		Token:             a.cfg.EDLToken,
		PIXCConceptID:     a.cfg.PIXCConceptID,
		PIXCVecConceptID:  a.cfg.PIXCVecConceptID,
		XDFOrbitConceptID: a.cfg.XDFOrbitConceptID,
		Metrics:           a.metrics,
	})
	if err != nil {
		return nil, err
	}
	idx, err := a.indexClient()
	if err != nil {
		return nil, err
	}
	submitter, spec, err := a.latestSpec(ctx, stage.IngestJobName)
	if err != nil {
		return nil, err
	}

	ingester := stage.Ingester{Submitter: submitter, Spec: spec}
	return reconcile.New(cat, idx, ingester, a.logger), nil
}

func (a *App) preflight(ctx context.Context) (stage.Handler, error) {
	r, err := a.reconciler(ctx)
	if err != nil {
		return nil, err
	}
	return stage.NewPreflight(a.validator, r, a.logger), nil
}

func (a *App) submitEvaluate(ctx context.Context) (stage.Handler, error) {
	idx, err := a.indexClient()
	if err != nil {
		return nil, err
	}
	submitter, spec, err := a.latestSpec(ctx, stage.EvaluateJobName)
	if err != nil {
		return nil, err
	}
	return stage.NewSubmitEvaluate(a.validator, submitter, idx, spec, a.logger).Handler(), nil
}

func (a *App) submitRaster(ctx context.Context) (stage.Handler, error) {
	if err := config.Require("sds_pcm_release_tag", a.cfg.PCMReleaseTag); err != nil {
		return nil, err
	}
	idx, err := a.indexClient()
	if err != nil {
		return nil, err
	}
	client, err := a.sdsClient()
	if err != nil {
		return nil, err
	}

	jobType := stage.RasterJobType(a.cfg.PCMReleaseTag)
	queue, err := client.RecommendedQueue(ctx, jobType)
	if err != nil {
		return nil, fmt.Errorf("resolve queue for %s: %w", jobType, err)
	}
	spec := stage.JobSpec{Type: jobType, Queue: queue}
	a.logger.Debug("resolved job type", "job_type", spec.Type, "queue", spec.Queue)

	return stage.NewSubmitRaster(a.validator, a.submitter(client), idx, spec, a.logger).Handler(), nil
}

func (a *App) waitForComplete(context.Context) (stage.Handler, error) {
	client, err := a.sdsClient()
	if err != nil {
		return nil, err
	}
	return stage.NewWaitForComplete(a.validator, client, a.logger).Handler(), nil
}

func (a *App) publishData(ctx context.Context) (stage.Handler, error) {
	if err := config.Require("publish_bucket", a.cfg.PublishBucket); err != nil {
		return nil, err
	}
	client, err := a.sdsClient()
	if err != nil {
		return nil, err
	}
	awsCfg, err := a.awsConfig(ctx)
	if err != nil {
		return nil, err
	}
	store := storage.New(s3.NewFromConfig(awsCfg), a.metrics)
	return stage.NewPublishData(a.validator, client, store, a.cfg.PublishBucket, a.logger).Handler(), nil
}

func (a *App) notifyUpdate(ctx context.Context) (stage.Handler, error) {
	if err := config.Require("update_topic_arn", a.cfg.UpdateTopicARN); err != nil {
		return nil, err
	}
	awsCfg, err := a.awsConfig(ctx)
	if err != nil {
		return nil, err
	}
	sink := dispatch.SNSSink{Client: sns.NewFromConfig(awsCfg), TopicARN: a.cfg.UpdateTopicARN}
	d := dispatch.New(sink, a.cfg.UpdateMaxAttempts, a.logger, a.metrics).WithDelay(a.cfg.UpdateRetryDelay)
	return stage.NewUpdate(a.validator, d).Handler(), nil
}

func (a *App) queueUpdate(ctx context.Context) (stage.Handler, error) {
	if err := config.Require("update_queue_url", a.cfg.UpdateQueueURL); err != nil {
		return nil, err
	}
	awsCfg, err := a.awsConfig(ctx)
	if err != nil {
		return nil, err
	}
	sink := dispatch.SQSSink{Client: sqs.NewFromConfig(awsCfg), QueueURL: a.cfg.UpdateQueueURL}
	d := dispatch.New(sink, a.cfg.UpdateQueueMaxAttempts, a.logger, a.metrics).WithDelay(a.cfg.UpdateRetryDelay)
	return stage.NewUpdate(a.validator, d).Handler(), nil
}

func (a *App) bootstrap(ctx context.Context) (stage.Handler, error) {
	if err := config.Require("stepfunction_arn", a.cfg.StepFunctionARN); err != nil {
		return nil, err
	}
	awsCfg, err := a.awsConfig(ctx)
	if err != nil {
		return nil, err
	}
	return stage.NewBootstrap(sfn.NewFromConfig(awsCfg), a.cfg.StepFunctionARN, a.metrics, a.logger), nil
}

// latestSpec resolves the newest version of a job type and its queue.
func (a *App) latestSpec(ctx context.Context, name string) (*stage.Submitter, stage.JobSpec, error) {
	client, err := a.sdsClient()
	if err != nil {
		return nil, stage.JobSpec{}, err
	}

	jobType, err := client.LatestJobVersion(ctx, name)
	if err != nil {
		return nil, stage.JobSpec{}, fmt.Errorf("resolve job type %s: %w", name, err)
	}
	queue, err := client.RecommendedQueue(ctx, jobType)
	if err != nil {
		return nil, stage.JobSpec{}, fmt.Errorf("resolve queue for %s: %w", jobType, err)
	}
	a.logger.Debug("resolved job type", "job_type", jobType, "queue", queue)

	return a.submitter(client), stage.JobSpec{Type: jobType, Queue: queue}, nil
}

func (a *App) submitter(client *sds.Client) *stage.Submitter {
	return stage.NewSubmitter(client, a.cfg.SubmitMaxAttempts, a.cfg.SubmitTimeout, a.logger)
}

func (a *App) sdsClient() (*sds.Client, error) {
	if a.sds != nil {
		return a.sds, nil
	}
	if err := config.Require(
		"sds_host", a.cfg.SDSHost,
		"sds_username", a.cfg.SDSUsername,
		"sds_password", a.cfg.SDSPassword,
	); err != nil {
		return nil, err
	}
	client, err := sds.New(sds.Config{
		Host:     a.cfg.SDSHost,
		Username: a.cfg.SDSUsername,
		Password: a.cfg.SDSPassword,
		CACert:   a.cfg.SDSCACert,
		Metrics:  a.metrics,
	})
	if err != nil {
		return nil, err
	}
	a.sds = client
	return client, nil
}

func (a *App) indexClient() (*index.Client, error) {
	if a.index != nil {
		return a.index, nil
	}
	if err := config.Require(
		"sds_host", a.cfg.SDSHost,
		"sds_username", a.cfg.SDSUsername,
		"sds_password", a.cfg.SDSPassword,
	); err != nil {
		return nil, err
	}
	var caCert []byte
	if a.cfg.SDSCACert != "" {
		caCert = []byte(a.cfg.SDSCACert)
	}
	client, err := index.New(index.Config{
		URL:      strings.TrimSuffix(a.cfg.SDSHost, "/") + a.cfg.GRQESPath,
		Index:    a.cfg.GRQESIndex,
		Username: a.cfg.SDSUsername,
		Password: a.cfg.SDSPassword,
		CACert:   caCert,
		Metrics:  a.metrics,
	})
	if err != nil {
		return nil, err
	}
	a.index = client
	return client, nil
}

func (a *App) awsConfig(ctx context.Context) (aws.Config, error) {
	if a.aws != nil {
		return *a.aws, nil
	}
	cfg, err := a.loadAWS(ctx)
	if err != nil {
		return aws.Config{}, err
	}
	a.aws = &cfg
	return cfg, nil
}
