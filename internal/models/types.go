// Package models defines data structures, error types, and configuration for the log delivery worker.
package models

import (
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"
)

// TenantInfo is the set of attributes recovered from an object key (§3 Object Key Schema).
type TenantInfo struct {
	ClusterID   string `json:"cluster_id"`
	Namespace   string `json:"namespace"`
	TenantID    string `json:"tenant_id"` // same as Namespace; the configuration table's partition key
	Application string `json:"application"`
	PodName     string `json:"pod_name"`
	Environment string `json:"environment"` // informational only, inferred from a cluster-id prefix; never used for routing
}

// DeliveryConfig is one tenant_id x type row from the configuration table: a
// tagged variant over {stream, bucket}. Only the fields belonging to Type are
// meaningful; tenant.ValidateTenantDeliveryConfig enforces that.
type DeliveryConfig struct {
	TenantID     string   `json:"tenant_id" dynamodbav:"tenant_id"`
	Type         string   `json:"type" dynamodbav:"type"` // "stream" or "bucket"
	Enabled      bool     `json:"enabled" dynamodbav:"enabled"`
	TargetRegion string   `json:"target_region,omitempty" dynamodbav:"target_region,omitempty"`
	DesiredLogs  []string `json:"desired_logs,omitempty" dynamodbav:"desired_logs,omitempty"`
	Groups       []string `json:"groups,omitempty" dynamodbav:"groups,omitempty"`
	TTL          int64    `json:"ttl,omitempty" dynamodbav:"ttl,omitempty"`

	// stream variant
	LogDistributionRoleArn string `json:"log_distribution_role_arn,omitempty" dynamodbav:"log_distribution_role_arn,omitempty"`
	LogGroupName            string `json:"log_group_name,omitempty" dynamodbav:"log_group_name,omitempty"`

	// bucket variant
	BucketName   string `json:"bucket_name,omitempty" dynamodbav:"bucket_name,omitempty"`
	BucketPrefix string `json:"bucket_prefix,omitempty" dynamodbav:"bucket_prefix,omitempty"`

	CreatedAt time.Time `json:"created_at,omitempty" dynamodbav:"created_at,omitempty"`
	UpdatedAt time.Time `json:"updated_at,omitempty" dynamodbav:"updated_at,omitempty"`
}

// Delivery kind tags. The source used "cloudwatch"/"s3"; the spec's canonical
// names are "stream"/"bucket" — both the managed log-stream API and the
// customer bucket backing those kinds remain CloudWatch Logs and S3.
const (
	DeliveryTypeStream = "stream"
	DeliveryTypeBucket = "bucket"
)

// DefaultBucketPrefix is used when a bucket delivery config omits bucket_prefix.
const DefaultBucketPrefix = "ROSA/cluster-logs/"

// NormalizeBucketPrefix ensures a bucket prefix ends in a single trailing slash.
// Idempotent: NormalizeBucketPrefix(NormalizeBucketPrefix(p)) == NormalizeBucketPrefix(p).
func NormalizeBucketPrefix(prefix string) string {
	if prefix == "" {
		return DefaultBucketPrefix
	}
	if strings.HasSuffix(prefix, "/") {
		return prefix
	}
	return prefix + "/"
}

// LogEvent represents a single normalized event prior to delivery.
type LogEvent struct {
	Timestamp interface{} `json:"timestamp"` // int64, float64, or ISO string prior to normalization
	Message   interface{} `json:"message"`   // string or map[string]interface{}
}

// ProcessingMetadata carries the self-reinjection offset/retry bookkeeping (§4.8).
type ProcessingMetadata struct {
	Offset                int       `json:"offset"`
	RetryCount            int       `json:"retry_count"`
	OriginalReceiptHandle string    `json:"original_receipt_handle"`
	RequeuedAt            time.Time `json:"requeued_at,omitempty"`
}

// DeliveryStats tracks delivery success/failure statistics for one record.
type DeliveryStats struct {
	SuccessfulDeliveries int `json:"successful_deliveries"`
	FailedDeliveries     int `json:"failed_deliveries"`
	SuccessfulEvents     int `json:"successful_events,omitempty"`
	FailedEvents         int `json:"failed_events,omitempty"`
	TotalProcessed       int `json:"total_processed,omitempty"`
}

// S3BucketInfo, S3ObjectInfo, S3Info, S3EventRecord, S3Event, SNSMessage model
// the notification envelopes described in §3 "Notification Envelope".
type S3BucketInfo struct {
	Name string `json:"name"`
}

type S3ObjectInfo struct {
	Key string `json:"key"`
}

type S3Info struct {
	Bucket S3BucketInfo `json:"bucket"`
	Object S3ObjectInfo `json:"object"`
}

type S3EventRecord struct {
	S3 S3Info `json:"s3"`
}

type S3Event struct {
	Records []S3EventRecord `json:"Records"`
}

type SNSMessage struct {
	Message string `json:"Message"`
}

// TransportMetadataFields are the fields stripped from a record when building
// a fallback message from the whole record (§4.4 Message resolution).
var TransportMetadataFields = map[string]bool{
	"cluster_id":       true,
	"namespace":        true,
	"application":      true,
	"pod_name":         true,
	"ingest_timestamp": true,
	"timestamp":        true,
	"kubernetes":       true,
}

// ApplicationGroups is the built-in bundle dictionary (§3 "groups"):
// a group name expands to a fixed set of application names. Lookup is
// case-insensitive (see tenant.ExpandGroupsToApplications).
var ApplicationGroups = map[string][]string{
	"API":                 {"kube-apiserver", "openshift-apiserver"},
	"Authentication":      {"oauth-openshift", "openshift-oauth-apiserver"},
	"Controller Manager":  {"kube-controller-manager", "openshift-controller-manager", "openshift-route-controller-manager"},
	"Scheduler":           {"kube-scheduler"},
}

// NewDefaultLogger creates a logger for tests and for manual/stdin modes.
func NewDefaultLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
}

// String implements fmt.Stringer for DeliveryConfig, useful in log fields.
func (c *DeliveryConfig) String() string {
	return fmt.Sprintf("DeliveryConfig{tenant=%s type=%s enabled=%t}", c.TenantID, c.Type, c.Enabled)
}
