package models

import (
	"fmt"

	"github.com/caarlos0/env/v11"
)

// Config is the worker's environment-derived configuration (§6 "Environment-
// configurable options"). Values are bound declaratively with struct tags
// instead of a hand-rolled os.Getenv/switch chain.
type Config struct {
	TenantConfigTable             string `env:"TENANT_CONFIG_TABLE" envDefault:"tenant-configurations"`
	MaxBatchSize                  int    `env:"MAX_BATCH_SIZE" envDefault:"1000"`
	RetryAttempts                 int    `env:"RETRY_ATTEMPTS" envDefault:"3"`
	CentralLogDistributionRoleArn string `env:"CENTRAL_LOG_DISTRIBUTION_ROLE_ARN"`
	SQSQueueURL                   string `env:"SQS_QUEUE_URL"`
	AWSRegion                     string `env:"AWS_REGION" envDefault:"us-east-1"`
	ExecutionMode                 string `env:"EXECUTION_MODE"` // batch, poll, manual, scan
	SourceBucket                  string `env:"SOURCE_BUCKET"`
	ScanInterval                  int    `env:"SCAN_INTERVAL" envDefault:"10"`
	S3UsePathStyle                bool   `env:"AWS_S3_USE_PATH_STYLE" envDefault:"false"`
	AWSEndpointURL                string `env:"AWS_ENDPOINT_URL"`
	TenantConfigCacheTTLSeconds   int    `env:"TENANT_CONFIG_CACHE_TTL_SECONDS" envDefault:"300"`
}

// DefaultConfig returns a Config with every field at its documented default,
// used by tests and as the base LoadConfig binds onto.
func DefaultConfig() *Config {
	cfg := &Config{}
	// Parsing against an empty environment applies only the envDefault tags,
	// whatever the process environment holds.
	_ = env.ParseWithOptions(cfg, env.Options{Environment: map[string]string{}})
	return cfg
}

// LoadConfig binds the process environment onto a Config, returning an error
// if a typed field (int, bool) fails to parse — matching the fail-fast
// behavior of the original's manual conversion chain.
func LoadConfig() (*Config, error) {
	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("failed to parse configuration from environment: %w", err)
	}
	return cfg, nil
}
