// Package config reads process configuration from the environment.
package config

import (
	"errors"
	"fmt"
	"slices"

	"github.com/caarlos0/env/v11"
)

// Backend choices.
const (
	KVSQL    = "sql"
	KVDynamo = "dynamodb"

	BlobMemory = "memory"
	BlobS3     = "s3"
	BlobGCS    = "gcs"

	NotifyLog   = "log"
	NotifySNS   = "sns"
	NotifyRedis = "redis"

	WorkflowLocal = "local"
	WorkflowSFN   = "sfn"
)

// Config is the full process configuration.
type Config struct {
	Env     string `env:"NODE_ENV" envDefault:"local"`
	AppName string `env:"APP_NAME" envDefault:"cmdsync"`

	// AttributeLimitSize is the largest inline attributes payload in bytes.
	// Zero disables overflow.
	AttributeLimitSize int `env:"ATTRIBUTE_LIMIT_SIZE" envDefault:"389120"`

	KVBackend string `env:"KV_BACKEND" envDefault:"sql"`
	SQLDriver string `env:"SQL_DRIVER" envDefault:"sqlite"`
	SQLDSN    string `env:"SQL_DSN" envDefault:"cmdsync.db"`

	BlobBackend  string `env:"BLOB_BACKEND" envDefault:"memory"`
	S3BucketName string `env:"S3_BUCKET_NAME"`
	GCSBucket    string `env:"GCS_BUCKET"`

	NotifyBackend string `env:"NOTIFY_BACKEND" envDefault:"log"`
	SNSTopicARN   string `env:"SNS_TOPIC_ARN"`
	RedisAddr     string `env:"REDIS_ADDR" envDefault:"localhost:6379"`
	RedisChannel  string `env:"REDIS_CHANNEL" envDefault:"cmdsync:notifications"`

	WorkflowBackend string `env:"WORKFLOW_BACKEND" envDefault:"local"`
	SFNCommandARN   string `env:"SFN_COMMAND_ARN"`

	AWS AWSConfig `envPrefix:"AWS_"`
}

// AWSConfig holds per-service endpoint overrides, used against localstack
// and other emulators.
type AWSConfig struct {
	Region           string `env:"REGION"`
	DynamoDBEndpoint string `env:"DYNAMODB_ENDPOINT"`
	S3Endpoint       string `env:"S3_ENDPOINT"`
	S3PathStyle      bool   `env:"S3_PATH_STYLE"`
	SNSEndpoint      string `env:"SNS_ENDPOINT"`
	SFNEndpoint      string `env:"SFN_ENDPOINT"`
}

// Load parses the environment and validates the result.
func Load() (Config, error) {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return Config{}, fmt.Errorf("parse env: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// LoadFrom parses the given variables instead of the process environment.
func LoadFrom(vars map[string]string) (Config, error) {
	var cfg Config
	if err := env.ParseWithOptions(&cfg, env.Options{Environment: vars}); err != nil {
		return Config{}, fmt.Errorf("parse env: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks backend names and the settings each backend needs.
func (c Config) Validate() error {
	var errs []error
	check := func(name, value string, allowed ...string) {
		if !slices.Contains(allowed, value) {
			errs = append(errs, fmt.Errorf("%s: unknown backend %q, want one of %v", name, value, allowed))
		}
	}
	check("KV_BACKEND", c.KVBackend, KVSQL, KVDynamo)
	check("BLOB_BACKEND", c.BlobBackend, BlobMemory, BlobS3, BlobGCS)
	check("NOTIFY_BACKEND", c.NotifyBackend, NotifyLog, NotifySNS, NotifyRedis)
	check("WORKFLOW_BACKEND", c.WorkflowBackend, WorkflowLocal, WorkflowSFN)

	if c.AttributeLimitSize < 0 {
		errs = append(errs, errors.New("ATTRIBUTE_LIMIT_SIZE must not be negative"))
	}
	if c.BlobBackend == BlobS3 && c.S3BucketName == "" {
		errs = append(errs, errors.New("S3_BUCKET_NAME is required for the s3 blob backend"))
	}
	if c.BlobBackend == BlobGCS && c.GCSBucket == "" {
		errs = append(errs, errors.New("GCS_BUCKET is required for the gcs blob backend"))
	}
	if c.NotifyBackend == NotifySNS && c.SNSTopicARN == "" {
		errs = append(errs, errors.New("SNS_TOPIC_ARN is required for the sns notify backend"))
	}
	if c.WorkflowBackend == WorkflowSFN && c.SFNCommandARN == "" {
		errs = append(errs, errors.New("SFN_COMMAND_ARN is required for the sfn workflow backend"))
	}
	return errors.Join(errs...)
}

// UsesAWS reports whether any configured backend talks to AWS.
func (c Config) UsesAWS() bool {
	return c.KVBackend == KVDynamo || c.BlobBackend == BlobS3 ||
		c.NotifyBackend == NotifySNS || c.WorkflowBackend == WorkflowSFN
}
