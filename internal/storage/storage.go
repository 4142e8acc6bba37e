// Package storage lists and copies objects in S3.
package storage

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/podaac/swodlr-raster-create/internal/metrics"
)

// S3API is the subset of the S3 client used here.
type S3API interface {
	s3.ListObjectsV2APIClient
	CopyObject(ctx context.Context, in *s3.CopyObjectInput, opts ...func(*s3.Options)) (*s3.CopyObjectOutput, error)
}

// Store reads and writes objects.
type Store struct {
	client  S3API
	metrics *metrics.Collector
}

// New creates a Store.
func New(client S3API, m *metrics.Collector) *Store {
	return &Store{client: client, metrics: m}
}

// Location is a bucket and key (or key prefix).
type Location struct {
	Bucket string
	Key    string
}

// URL renders the location as s3://bucket/key.
func (l Location) URL() string {
	return (&url.URL{Scheme: "s3", Host: l.Bucket, Path: "/" + l.Key}).String()
}

// ParseSDSURL splits an SDS product URL of the form
// s3://<endpoint>/<bucket>/<prefix> into bucket and prefix. The host names the
// S3 endpoint, so the bucket is the first path segment.
func ParseSDSURL(raw string) (Location, bool) {
	u, err := url.Parse(raw)
	if err != nil || !strings.EqualFold(u.Scheme, "s3") {
		return Location{}, false
	}
	parts := strings.SplitN(strings.TrimPrefix(u.Path, "/"), "/", 2)
	if parts[0] == "" {
		return Location{}, false
	}
	loc := Location{Bucket: parts[0]}
	if len(parts) == 2 {
		loc.Key = parts[1]
	}
	return loc, true
}

// List returns every key under prefix.
func (s *Store) List(ctx context.Context, prefix Location) (keys []string, err error) {
	defer func(start time.Time) { s.metrics.Track(metrics.OpStorageList, start, err) }(time.Now())

	pager := s3.NewListObjectsV2Paginator(s.client, &s3.ListObjectsV2Input{
		Bucket: aws.String(prefix.Bucket),
		Prefix: aws.String(prefix.Key),
	})
	for pager.HasMorePages() {
		page, err := pager.NextPage(ctx)
		if err != nil {
			return nil, fmt.Errorf("list s3://%s/%s: %w", prefix.Bucket, prefix.Key, err)
		}
		for _, obj := range page.Contents {
			keys = append(keys, aws.ToString(obj.Key))
		}
	}
	return keys, nil
}

// Copy copies one object between buckets.
func (s *Store) Copy(ctx context.Context, src, dst Location) (err error) {
	defer func(start time.Time) { s.metrics.Track(metrics.OpStorageCopy, start, err) }(time.Now())

	_, err = s.client.CopyObject(ctx, &s3.CopyObjectInput{
		CopySource: aws.String(url.PathEscape(src.Bucket) + "/" + escapeKey(src.Key)),
		Bucket:     aws.String(dst.Bucket),
		Key:        aws.String(dst.Key),
	})
	if err != nil {
		return fmt.Errorf("copy %s to %s: %w", src.URL(), dst.URL(), err)
	}
	return nil
}

// escapeKey URL-encodes each path segment of key.
func escapeKey(key string) string {
	segs := strings.Split(key, "/")
	for i, seg := range segs {
		segs[i] = url.PathEscape(seg)
	}
	return strings.Join(segs, "/")
}
