// Package config turns resolved parameters into typed configuration.
package config

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/podaac/swodlr-raster-create/internal/params"
)

// Config holds all configuration values.
type Config struct {
	// SDS (batch system + GRQ index)
	SDSHost           string
	SDSUsername       string
	SDSPassword       string
	SDSCACert         string
	GRQESPath         string
	GRQESIndex        string
	PCMReleaseTag     string
	SubmitMaxAttempts int
	SubmitTimeout     time.Duration

	// CMR GraphQL catalog
	CMRGraphQLEndpoint string
	EDLToken           string
	PIXCConceptID      string
	PIXCVecConceptID   string
	XDFOrbitConceptID  string

	// Update delivery
	UpdateTopicARN         string
	UpdateMaxAttempts      int
	UpdateQueueURL         string
	UpdateQueueMaxAttempts int
	UpdateRetryDelay       time.Duration

	// Publication and orchestration
	PublishBucket   string
	StepFunctionARN string

	// Logging
	LogFile  string
	LogLevel slog.Level
}

// Load reads configuration from the parameter store.
func Load(store params.Store) Config {
	return Config{
		SDSHost:           get(store, "sds_host", ""),
		SDSUsername:       get(store, "sds_username", ""),
		SDSPassword:       get(store, "sds_password", ""),
		SDSCACert:         get(store, "sds_ca_cert", ""),
		GRQESPath:         get(store, "sds_grq_es_path", "/grq_es"),
		GRQESIndex:        get(store, "sds_grq_es_index", "grq"),
		PCMReleaseTag:     get(store, "sds_pcm_release_tag", ""),
		SubmitMaxAttempts: getInt(store, "sds_submit_max_attempts", 3),
		SubmitTimeout:     time.Duration(getInt(store, "sds_submit_timeout", 30)) * time.Second,

		CMRGraphQLEndpoint: get(store, "cmr_graphql_endpoint", ""),
		EDLToken:           get(store, "edl_token", ""),
		PIXCConceptID:      get(store, "pixc_concept_id", ""),
		PIXCVecConceptID:   get(store, "pixcvec_concept_id", ""),
		XDFOrbitConceptID:  get(store, "xdf_orbit_concept_id", ""),

		UpdateTopicARN:         get(store, "update_topic_arn", ""),
		UpdateMaxAttempts:      getInt(store, "update_max_attempts", 3),
		UpdateQueueURL:         get(store, "update_queue_url", ""),
		UpdateQueueMaxAttempts: getInt(store, "update_queue_max_attempts", 3),
		UpdateRetryDelay:       time.Duration(getInt(store, "update_retry_delay", 0)) * time.Second,

		PublishBucket:   get(store, "publish_bucket", ""),
		StepFunctionARN: get(store, "stepfunction_arn", ""),

		LogFile:  get(store, "log_file", "/tmp/swodlr.log"),
		LogLevel: parseLogLevel(get(store, "log_level", "INFO")),
	}
}

// Require returns an error naming every listed parameter that is empty.
func Require(pairs ...string) error {
	var missing []string
	for i := 0; i+1 < len(pairs); i += 2 {
		if pairs[i+1] == "" {
			missing = append(missing, pairs[i])
		}
	}
	if len(missing) > 0 {
		return fmt.Errorf("missing parameters: %s", strings.Join(missing, ", "))
	}
	return nil
}

// LoadAWS loads the shared AWS configuration from the environment.
func LoadAWS(ctx context.Context) (aws.Config, error) {
	cfg, err := awsconfig.LoadDefaultConfig(ctx)
	if err != nil {
		return aws.Config{}, fmt.Errorf("load aws config: %w", err)
	}
	return cfg, nil
}

func get(store params.Store, key, defaultVal string) string {
	if val, ok := store.Get(key); ok && val != "" {
		return val
	}
	return defaultVal
}

func getInt(store params.Store, key string, defaultVal int) int {
	val, ok := store.Get(key)
	if !ok || val == "" {
		return defaultVal
	}
	n, err := strconv.Atoi(strings.TrimSpace(val))
	if err != nil {
		slog.Warn("invalid integer parameter, using default", "param", key, "value", val, "default", defaultVal)
		return defaultVal
	}
	return n
}

func parseLogLevel(s string) slog.Level {
	switch strings.ToUpper(s) {
	case "DEBUG":
		return slog.LevelDebug
	case "INFO":
		return slog.LevelInfo
	case "WARN", "WARNING":
		return slog.LevelWarn
	case "ERROR":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
