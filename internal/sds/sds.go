// Package sds is a client for the Mozart REST API of the science data system.
package sds

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/podaac/swodlr-raster-create/internal/jobset"
	"github.com/podaac/swodlr-raster-create/internal/metrics"
	"golang.org/x/mod/semver"
)

// APIPath is the Mozart API root below the SDS host.
const APIPath = "/mozart/api/v0.1"

// DefaultTimeout bounds a single Mozart request.
const DefaultTimeout = time.Minute

// DefaultQueue is used when a job type recommends no queue.
const DefaultQueue = "factotum-job_worker-small"

// Config configures a Client.
type Config struct {
	Host       string
	Username   string
	Password   string
	CACert     string // PEM; empty uses the system pool
	HTTPClient *http.Client
	Metrics    *metrics.Collector
}

// Client talks to Mozart over HTTP basic auth.
type Client struct {
	base       string
	username   string
	password   string
	httpClient *http.Client
	metrics    *metrics.Collector
}

// New creates a Mozart client.
func New(cfg Config) (*Client, error) {
	if cfg.Host == "" {
		return nil, fmt.Errorf("sds host is required")
	}

	httpClient := cfg.HTTPClient
	if httpClient == nil {
		transport := http.DefaultTransport.(*http.Transport).Clone()
		if cfg.CACert != "" {
			pool := x509.NewCertPool()
			if !pool.AppendCertsFromPEM([]byte(cfg.CACert)) {
				return nil, fmt.Errorf("sds_ca_cert contains no certificates")
			}
			transport.TLSClientConfig = &tls.Config{RootCAs: pool, MinVersion: tls.VersionTLS12}
		}
		httpClient = &http.Client{Transport: transport, Timeout: DefaultTimeout}
	}

	return &Client{
		base:       strings.TrimSuffix(cfg.Host, "/") + APIPath,
		username:   cfg.Username,
		password:   cfg.Password,
		httpClient: httpClient,
		metrics:    cfg.Metrics,
	}, nil
}

// envelope is the common Mozart response shape.
type envelope struct {
	Success bool            `json:"success"`
	Message string          `json:"message"`
	Result  json.RawMessage `json:"result"`
}

// do issues a request and decodes the envelope. Network failures, non-2xx
// statuses and undecodable bodies wrap jobset.ErrTransport.
func (c *Client) do(ctx context.Context, method, path string, query url.Values, form url.Values) (envelope, error) {
	u := c.base + path
	if len(query) > 0 {
		u += "?" + query.Encode()
	}

	var body io.Reader
	if form != nil {
		body = strings.NewReader(form.Encode())
	}

	req, err := http.NewRequestWithContext(ctx, method, u, body)
	if err != nil {
		return envelope{}, fmt.Errorf("create request: %w", err)
	}
	if form != nil {
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	}
	if c.username != "" {
		req.SetBasicAuth(c.username, c.password)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return envelope{}, fmt.Errorf("%w: %s %s: %w", jobset.ErrTransport, method, path, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return envelope{}, fmt.Errorf("%w: read response: %w", jobset.ErrTransport, err)
	}

	var env envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		if resp.StatusCode < 200 || resp.StatusCode > 299 {
			return envelope{}, fmt.Errorf("%w: %s %s: %s", jobset.ErrTransport, method, path, resp.Status)
		}
		return envelope{}, fmt.Errorf("%w: decode response: %w", jobset.ErrTransport, err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return env, fmt.Errorf("%w: %s %s: %s: %s", jobset.ErrTransport, method, path, resp.Status, env.Message)
	}
	return env, nil
}

// JobSpecs lists the registered job types as name:version strings.
func (c *Client) JobSpecs(ctx context.Context) (specs []string, err error) {
	defer func(start time.Time) { c.metrics.Track(metrics.OpSDSSpecs, start, err) }(time.Now())

	env, err := c.do(ctx, http.MethodGet, "/job_spec/list", nil, nil)
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal(env.Result, &specs); err != nil {
		return nil, fmt.Errorf("%w: decode job specs: %w", jobset.ErrTransport, err)
	}
	return specs, nil
}

// LatestJobVersion returns the newest name:version registered for name.
// Semantic versions win over non-semantic ones; ties fall back to string order.
func (c *Client) LatestJobVersion(ctx context.Context, name string) (string, error) {
	specs, err := c.JobSpecs(ctx)
	if err != nil {
		return "", err
	}
	best, ok := LatestVersion(specs, name)
	if !ok {
		return "", fmt.Errorf("%w: job type %s", jobset.ErrNotFound, name)
	}
	return best, nil
}

// LatestVersion picks the newest name:version entry from specs.
func LatestVersion(specs []string, name string) (string, bool) {
	prefix := name + ":"
	var best string
	for _, spec := range specs {
		if !strings.HasPrefix(spec, prefix) {
			continue
		}
		if best == "" || newer(strings.TrimPrefix(spec, prefix), strings.TrimPrefix(best, prefix)) {
			best = spec
		}
	}
	return best, best != ""
}

func newer(a, b string) bool {
	va, vb := canonical(a), canonical(b)
	switch {
	case semver.IsValid(va) && semver.IsValid(vb):
		if c := semver.Compare(va, vb); c != 0 {
			return c > 0
		}
		return a > b
	case semver.IsValid(va):
		return true
	case semver.IsValid(vb):
		return false
	default:
		return a > b
	}
}

func canonical(v string) string {
	if !strings.HasPrefix(v, "v") {
		v = "v" + v
	}
	return v
}

// RecommendedQueue returns the first queue Mozart recommends for jobType.
func (c *Client) RecommendedQueue(ctx context.Context, jobType string) (string, error) {
	env, err := c.do(ctx, http.MethodGet, "/queue/list", url.Values{"id": {jobType}}, nil)
	if err != nil {
		return "", err
	}

	var res struct {
		Queues      []string `json:"queues"`
		Recommended []string `json:"recommended"`
	}
	if err := json.Unmarshal(env.Result, &res); err != nil {
		return "", fmt.Errorf("%w: decode queues: %w", jobset.ErrTransport, err)
	}
	switch {
	case len(res.Recommended) > 0:
		return res.Recommended[0], nil
	case len(res.Queues) > 0:
		return res.Queues[0], nil
	default:
		return DefaultQueue, nil
	}
}

// Submission describes one job submission.
type Submission struct {
	Type     string
	Queue    string
	Priority int
	Tag      string
	Params   map[string]any
	// Dataset is the input dataset document, if the job type takes one.
	Dataset map[string]any
	// PublishOverwriteOK lets a resubmitted job replace what an earlier run published.
	PublishOverwriteOK bool
}

// ErrRejected indicates Mozart answered but refused the job.
var ErrRejected = errors.New("job rejected")

// Submit queues a job and returns its id. A deduplicated submission is
// accepted and returns the id of the existing job.
func (c *Client) Submit(ctx context.Context, s Submission) (id string, err error) {
	defer func(start time.Time) { c.metrics.Track(metrics.OpSDSSubmit, start, err) }(time.Now())

	params := make(map[string]any, len(s.Params)+2)
	for k, v := range s.Params {
		params[k] = v
	}
	if s.Dataset != nil {
		params["dataset"] = s.Dataset
		if dsID, ok := s.Dataset["id"]; ok {
			params["dataset_id"] = dsID
		}
	}
	if s.PublishOverwriteOK {
		params["publish_overwrite_ok"] = true
	}

	paramsJSON, err := json.Marshal(params)
	if err != nil {
		return "", fmt.Errorf("marshal params: %w", err)
	}
	tags := []string{}
	if s.Tag != "" {
		tags = append(tags, s.Tag)
	}
	tagsJSON, err := json.Marshal(tags)
	if err != nil {
		return "", fmt.Errorf("marshal tags: %w", err)
	}

	queue := s.Queue
	if queue == "" {
		queue = DefaultQueue
	}
	name := s.Type
	if s.Tag != "" {
		name = s.Type + "-" + s.Tag
	}

	form := url.Values{
		"type":         {s.Type},
		"queue":        {queue},
		"priority":     {strconv.Itoa(s.Priority)},
		"tags":         {string(tagsJSON)},
		"params":       {string(paramsJSON)},
		"name":         {name},
		"enable_dedup": {"true"},
	}

	env, err := c.do(ctx, http.MethodPost, "/job/submit", nil, form)
	if err != nil {
		return "", err
	}

	if len(env.Result) > 0 && string(env.Result) != "null" {
		if err := json.Unmarshal(env.Result, &id); err != nil {
			return "", fmt.Errorf("%w: decode job id: %w", jobset.ErrTransport, err)
		}
	}
	if !env.Success {
		if id != "" && strings.Contains(strings.ToLower(env.Message), "dedup") {
			return id, nil
		}
		return "", fmt.Errorf("%w: %s", ErrRejected, env.Message)
	}
	if id == "" {
		return "", fmt.Errorf("%w: submit returned no job id", jobset.ErrTransport)
	}
	return id, nil
}

// Timing holds the batch system's job timestamps.
type Timing struct {
	TimeQueued string `json:"time_queued,omitempty"`
	TimeStart  string `json:"time_start,omitempty"`
	TimeEnd    string `json:"time_end,omitempty"`
}

// Product is one dataset a job staged.
type Product struct {
	Dataset string   `json:"dataset"`
	ID      string   `json:"id,omitempty"`
	URLs    []string `json:"urls"`
}

// JobInfo is the status record of a job.
type JobInfo struct {
	Status    string   `json:"status"`
	Tags      []string `json:"tags"`
	Traceback *string  `json:"traceback"`
	Job       struct {
		JobInfo struct {
			Timing
			Metrics struct {
				ProductsStaged []Product `json:"products_staged"`
			} `json:"metrics"`
		} `json:"job_info"`
	} `json:"job"`
}

// HasTag reports whether the job carries tag.
func (i JobInfo) HasTag(tag string) bool {
	for _, t := range i.Tags {
		if t == tag {
			return true
		}
	}
	return false
}

// Timing returns the job timestamps.
func (i JobInfo) Timing() Timing {
	return i.Job.JobInfo.Timing
}

// Products returns the datasets the job staged.
func (i JobInfo) Products() []Product {
	return i.Job.JobInfo.Metrics.ProductsStaged
}

// JobInfo fetches the status record of a job.
func (c *Client) JobInfo(ctx context.Context, id string) (info JobInfo, err error) {
	defer func(start time.Time) { c.metrics.Track(metrics.OpSDSInfo, start, err) }(time.Now())

	env, err := c.do(ctx, http.MethodGet, "/job/info", url.Values{"id": {id}}, nil)
	if err != nil {
		return JobInfo{}, err
	}
	if !env.Success {
		return JobInfo{}, fmt.Errorf("%w: job info %s: %s", jobset.ErrTransport, id, env.Message)
	}
	if err := json.Unmarshal(env.Result, &info); err != nil {
		return JobInfo{}, fmt.Errorf("%w: decode job info: %w", jobset.ErrTransport, err)
	}
	return info, nil
}

// GeneratedProducts returns the datasets a finished job produced.
func (c *Client) GeneratedProducts(ctx context.Context, id string) ([]Product, error) {
	info, err := c.JobInfo(ctx, id)
	if err != nil {
		return nil, err
	}
	return info.Products(), nil
}
