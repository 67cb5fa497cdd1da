// Package awsmetrics publishes per-tenant delivery counters to CloudWatch.
package awsmetrics

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/cloudwatch"
	"github.com/aws/aws-sdk-go-v2/service/cloudwatch/types"

	"github.com/cloudlogs/log-router/internal/models"
)

// MetricsNamespace is the CloudWatch namespace for log delivery metrics.
const MetricsNamespace = "ROSA/LogDelivery"

// MetricsPublisher publishes delivery counters to CloudWatch.
type MetricsPublisher struct {
	client *cloudwatch.Client
	logger *slog.Logger
}

// NewMetricsPublisher creates a metrics publisher bound to the given CloudWatch client.
func NewMetricsPublisher(client *cloudwatch.Client, logger *slog.Logger) *MetricsPublisher {
	return &MetricsPublisher{client: client, logger: logger}
}

// PushMetrics publishes metricsData (metric name -> value) under
// LogCount/{deliveryType}/{dimension}, tagged with the Tenant dimension.
func (p *MetricsPublisher) PushMetrics(ctx context.Context, tenantID, deliveryType string, metricsData map[string]float64) error {
	if len(metricsData) == 0 {
		p.logger.Debug("no metrics to push")
		return nil
	}

	metricData := make([]types.MetricDatum, 0, len(metricsData))

	for dimension, value := range metricsData {
		metricName := fmt.Sprintf("LogCount/%s/%s", deliveryType, dimension)

		metricData = append(metricData, types.MetricDatum{
			MetricName: aws.String(metricName),
			Dimensions: []types.Dimension{
				{Name: aws.String("Tenant"), Value: aws.String(tenantID)},
			},
			Value: aws.Float64(value),
			Unit:  types.StandardUnitCount,
		})
	}

	_, err := p.client.PutMetricData(ctx, &cloudwatch.PutMetricDataInput{
		Namespace:  aws.String(MetricsNamespace),
		MetricData: metricData,
	})
	if err != nil {
		p.logger.Error("failed to publish metric to CloudWatch",
			"tenant_id", tenantID, "delivery_type", deliveryType, "error", err)
		return fmt.Errorf("failed to publish metrics: %w", err)
	}

	p.logger.Debug("successfully published metrics to CloudWatch",
		"tenant_id", tenantID, "delivery_type", deliveryType, "metric_count", len(metricData))

	return nil
}

// PushStreamDeliveryMetrics reports event-level counters for a stream delivery attempt.
func (p *MetricsPublisher) PushStreamDeliveryMetrics(ctx context.Context, tenantID string, successfulEvents, failedEvents int) {
	metrics := map[string]float64{
		"successful_events": float64(successfulEvents),
		"failed_events":     float64(failedEvents),
	}

	if successfulEvents > 0 || failedEvents > 0 {
		if failedEvents == 0 {
			metrics["successful_delivery"] = 1
		} else {
			metrics["failed_delivery"] = 1
		}
	}

	if err := p.PushMetrics(ctx, tenantID, models.DeliveryTypeStream, metrics); err != nil {
		p.logger.Error("failed to write metrics for stream delivery", "tenant_id", tenantID, "error", err)
	}
}

// PushStreamLatencyMetrics reports end-to-end delivery latency in milliseconds.
func (p *MetricsPublisher) PushStreamLatencyMetrics(ctx context.Context, tenantID string, latencyMs int64) {
	if err := p.PushMetrics(ctx, tenantID, models.DeliveryTypeStream, map[string]float64{"latency_ms": float64(latencyMs)}); err != nil {
		p.logger.Error("failed to write latency metrics for stream delivery", "tenant_id", tenantID, "error", err)
	}
}

// PushBucketDeliveryMetrics reports success/failure for a bucket (S3 copy) delivery attempt.
func (p *MetricsPublisher) PushBucketDeliveryMetrics(ctx context.Context, tenantID string, success bool) {
	var metrics map[string]float64
	if success {
		metrics = map[string]float64{"successful_delivery": 1}
	} else {
		metrics = map[string]float64{"failed_delivery": 1}
	}

	if err := p.PushMetrics(ctx, tenantID, models.DeliveryTypeBucket, metrics); err != nil {
		p.logger.Error("failed to write metrics for bucket delivery", "tenant_id", tenantID, "error", err)
	}
}

// PushBucketLatencyMetrics reports end-to-end delivery latency in milliseconds.
func (p *MetricsPublisher) PushBucketLatencyMetrics(ctx context.Context, tenantID string, latencyMs int64) {
	if err := p.PushMetrics(ctx, tenantID, models.DeliveryTypeBucket, map[string]float64{"latency_ms": float64(latencyMs)}); err != nil {
		p.logger.Error("failed to write latency metrics for bucket delivery", "tenant_id", tenantID, "error", err)
	}
}
