package processor

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/aws/aws-lambda-go/events"
	"github.com/aws/aws-sdk-go-v2/service/cloudwatch"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/aws/aws-sdk-go-v2/service/sts"

	"github.com/cloudlogs/log-router/internal/awsmetrics"
	"github.com/cloudlogs/log-router/internal/delivery"
	"github.com/cloudlogs/log-router/internal/models"
	"github.com/cloudlogs/log-router/internal/notification"
	"github.com/cloudlogs/log-router/internal/tenant"
)

// Processor is the worker loop (C8): it ties notification decoding, tenant
// configuration lookup, object fetch/parse, and delivery together for one
// record at a time.
type Processor struct {
	s3Client         *s3.Client
	sqsClient        *sqs.Client
	tenantConfig     *tenant.ConfigManager
	streamDeliverer  *delivery.StreamDeliverer
	bucketDeliverer  *delivery.BucketDeliverer
	metricsPublisher *awsmetrics.MetricsPublisher
	config           *models.Config
	logger           *slog.Logger
}

// NewProcessor wires a Processor from already-constructed AWS clients and config.
func NewProcessor(
	s3Client *s3.Client,
	dynamoClient tenant.DynamoDBQueryAPI,
	sqsClient *sqs.Client,
	stsClient *sts.Client,
	cwClient *cloudwatch.Client,
	endpointURL string,
	config *models.Config,
	logger *slog.Logger,
) *Processor {
	cacheTTL := time.Duration(config.TenantConfigCacheTTLSeconds) * time.Second
	return &Processor{
		s3Client:         s3Client,
		sqsClient:        sqsClient,
		tenantConfig:     tenant.NewConfigManager(dynamoClient, config.TenantConfigTable, cacheTTL, logger),
		streamDeliverer:  delivery.NewStreamDeliverer(stsClient, config.CentralLogDistributionRoleArn, endpointURL, config.RetryAttempts, logger),
		bucketDeliverer:  delivery.NewBucketDeliverer(stsClient, config.CentralLogDistributionRoleArn, config.S3UsePathStyle, endpointURL, logger),
		metricsPublisher: awsmetrics.NewMetricsPublisher(cwClient, logger),
		config:           config,
		logger:           logger,
	}
}

// HandleLambdaEvent processes one Lambda invocation's batch of SQS records
// and reports the subset that failed via BatchItemFailures, so Lambda
// retries only those records instead of the whole batch.
func (p *Processor) HandleLambdaEvent(ctx context.Context, event events.SQSEvent) (events.SQSEventResponse, error) {
	var (
		batchItemFailures = []events.SQSBatchItemFailure{}

		successfulRecords         = 0
		failedRecords             = 0
		undeliverableRecords      = 0
		totalSuccessfulDeliveries = 0
		totalFailedDeliveries     = 0
	)

	p.logger.Info("processing SQS batch", "message_count", len(event.Records))

	for _, record := range event.Records {
		deliveryStats, err := p.ProcessSQSRecord(ctx, record.Body, record.MessageId, record.ReceiptHandle)

		switch {
		case models.IsPoison(err):
			p.logger.Warn("poison record, removing from queue without retry",
				"message_id", record.MessageId, "error", err)
			undeliverableRecords++
		case err != nil:
			p.logger.Error("retryable error processing record",
				"message_id", record.MessageId, "error", err)
			failedRecords++
			batchItemFailures = append(batchItemFailures, events.SQSBatchItemFailure{ItemIdentifier: record.MessageId})
		default:
			successfulRecords++
			if deliveryStats != nil {
				totalSuccessfulDeliveries += deliveryStats.SuccessfulDeliveries
				totalFailedDeliveries += deliveryStats.FailedDeliveries
			}
		}
	}

	p.logger.Info("batch complete",
		"successful_records", successfulRecords,
		"failed_records", failedRecords,
		"undeliverable_records", undeliverableRecords,
		"successful_deliveries", totalSuccessfulDeliveries,
		"failed_deliveries", totalFailedDeliveries)

	return events.SQSEventResponse{BatchItemFailures: batchItemFailures}, nil
}

// ProcessSQSRecord decodes one SQS message body (an SNS-wrapped S3 event
// notification) and delivers every object it references.
func (p *Processor) ProcessSQSRecord(ctx context.Context, messageBody, messageID, receiptHandle string) (*models.DeliveryStats, error) {
	deliveryStats := &models.DeliveryStats{}

	s3Event, err := notification.DecodeS3Event(messageBody)
	if err != nil {
		return nil, err
	}

	metadata, err := notification.ExtractProcessingMetadata(messageBody)
	if err != nil {
		return deliveryStats, err
	}

	for _, s3Record := range s3Event.Records {
		bucketName := s3Record.S3.Bucket.Name
		objectKey, err := notification.DecodeObjectKey(s3Record.S3.Object.Key)
		if err != nil {
			return nil, err
		}

		p.logger.Info("processing object notification", "bucket", bucketName, "key", objectKey)

		if err := p.processObject(ctx, bucketName, objectKey, messageBody, receiptHandle, metadata, deliveryStats); err != nil {
			if models.IsPoison(err) {
				p.logger.Warn("poison error processing object, continuing with remaining records",
					"object_key", objectKey, "error", err)
				continue
			}
			return deliveryStats, err
		}
	}

	return deliveryStats, nil
}

// processObject resolves tenant delivery configurations for one object and
// delivers it through each enabled, filtering-matched configuration.
func (p *Processor) processObject(ctx context.Context, bucketName, objectKey, messageBody, receiptHandle string, metadata *models.ProcessingMetadata, deliveryStats *models.DeliveryStats) error {
	tenantInfo, err := ExtractTenantInfoFromKey(objectKey, p.logger)
	if err != nil {
		return err
	}

	deliveryConfigs, err := p.tenantConfig.GetTenantDeliveryConfigs(ctx, tenantInfo.TenantID)
	if err != nil {
		return err
	}

	for _, deliveryConfig := range deliveryConfigs {
		if !tenant.ShouldProcessApplication(deliveryConfig, tenantInfo.Application, p.logger) {
			p.logger.Info("skipping delivery, application filtered out",
				"delivery_type", deliveryConfig.Type, "application", tenantInfo.Application)
			continue
		}

		p.logger.Info("delivering", "tenant_id", tenantInfo.TenantID, "delivery_type", deliveryConfig.Type, "application", tenantInfo.Application)

		if err := p.deliverLogs(ctx, bucketName, objectKey, deliveryConfig, tenantInfo, messageBody, receiptHandle, metadata); err != nil {
			p.logger.Error("delivery failed", "tenant_id", tenantInfo.TenantID, "delivery_type", deliveryConfig.Type, "error", err)
			deliveryStats.FailedDeliveries++

			if deliveryConfig.Type == models.DeliveryTypeStream && receiptHandle != "" && p.config.SQSQueueURL != "" {
				if err := RequeueSQSMessageWithOffset(ctx, p.sqsClient, p.config.SQSQueueURL, messageBody, receiptHandle, metadata.Offset, p.config.RetryAttempts, p.logger); err != nil {
					p.logger.Error("failed to requeue message", "error", err)
				} else {
					p.logger.Info("requeued message for retry", "offset", metadata.Offset)
				}
			}
			continue
		}

		deliveryStats.SuccessfulDeliveries++
	}

	return nil
}

// deliverLogs fetches the object (stream delivery only — bucket delivery
// copies server-side without downloading) and dispatches to the delivery
// engine named by deliveryConfig.Type.
func (p *Processor) deliverLogs(ctx context.Context, bucketName, objectKey string, deliveryConfig *models.DeliveryConfig, tenantInfo *models.TenantInfo, messageBody, receiptHandle string, metadata *models.ProcessingMetadata) error {
	switch deliveryConfig.Type {
	case models.DeliveryTypeStream:
		body, uploadTime, err := FetchObject(ctx, p.s3Client, bucketName, objectKey)
		if err != nil {
			return fmt.Errorf("failed to retrieve object %q from bucket %q: %w", objectKey, bucketName, err)
		}
		defer body.Close()

		logEvents, err := ParseRecords(objectKey, body, p.logger)
		if err != nil {
			p.metricsPublisher.PushStreamDeliveryMetrics(ctx, tenantInfo.TenantID, 0, 1)
			return err
		}

		if metadata.Offset > 0 {
			logEvents = ShouldSkipProcessedEvents(logEvents, metadata.Offset, p.logger)
		}
		if len(logEvents) == 0 {
			p.logger.Info("all events already delivered, skipping")
			return nil
		}

		stats, err := p.streamDeliverer.DeliverLogs(ctx, logEvents, deliveryConfig, tenantInfo, uploadTime)
		if err != nil {
			p.metricsPublisher.PushStreamDeliveryMetrics(ctx, tenantInfo.TenantID, 0, len(logEvents))
			return err
		}

		latency := time.Now().UnixMilli() - uploadTime
		p.metricsPublisher.PushStreamLatencyMetrics(ctx, tenantInfo.TenantID, latency)
		p.metricsPublisher.PushStreamDeliveryMetrics(ctx, tenantInfo.TenantID, stats.SuccessfulEvents, stats.FailedEvents)

	case models.DeliveryTypeBucket:
		uploadTime := p.headObjectUploadTime(ctx, bucketName, objectKey)

		if err := p.bucketDeliverer.DeliverLogs(ctx, bucketName, objectKey, deliveryConfig, tenantInfo); err != nil {
			p.metricsPublisher.PushBucketDeliveryMetrics(ctx, tenantInfo.TenantID, false)
			return err
		}

		if uploadTime > 0 {
			p.metricsPublisher.PushBucketLatencyMetrics(ctx, tenantInfo.TenantID, time.Now().UnixMilli()-uploadTime)
		}
		p.metricsPublisher.PushBucketDeliveryMetrics(ctx, tenantInfo.TenantID, true)

	default:
		return models.NewPoisonError(tenantInfo.TenantID, fmt.Sprintf("unknown delivery type %q", deliveryConfig.Type))
	}

	return nil
}

// headObjectUploadTime fetches an object's LastModified without downloading
// its body, purely to compute bucket-delivery latency; a failure here is
// logged and treated as "no latency metric", not a delivery failure.
func (p *Processor) headObjectUploadTime(ctx context.Context, bucketName, objectKey string) int64 {
	result, err := p.s3Client.HeadObject(ctx, &s3.HeadObjectInput{Bucket: &bucketName, Key: &objectKey})
	if err != nil {
		p.logger.Warn("failed to head object for latency metric", "error", err)
		return 0
	}
	if result.LastModified == nil {
		return 0
	}
	return result.LastModified.UnixMilli()
}
