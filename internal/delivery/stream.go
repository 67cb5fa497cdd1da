package delivery

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/cloudwatchlogs"
	"github.com/aws/aws-sdk-go-v2/service/cloudwatchlogs/types"
	stytypes "github.com/aws/aws-sdk-go-v2/service/sts/types"
	"github.com/aws/smithy-go"
	"github.com/cenkalti/backoff/v5"

	"github.com/cloudlogs/log-router/internal/models"
)

// CloudWatchLogsAPI is the subset of the CloudWatch Logs client StreamDeliverer needs.
type CloudWatchLogsAPI interface {
	CreateLogGroup(ctx context.Context, params *cloudwatchlogs.CreateLogGroupInput, optFns ...func(*cloudwatchlogs.Options)) (*cloudwatchlogs.CreateLogGroupOutput, error)
	CreateLogStream(ctx context.Context, params *cloudwatchlogs.CreateLogStreamInput, optFns ...func(*cloudwatchlogs.Options)) (*cloudwatchlogs.CreateLogStreamOutput, error)
	PutLogEvents(ctx context.Context, params *cloudwatchlogs.PutLogEventsInput, optFns ...func(*cloudwatchlogs.Options)) (*cloudwatchlogs.PutLogEventsOutput, error)
	DescribeLogGroups(ctx context.Context, params *cloudwatchlogs.DescribeLogGroupsInput, optFns ...func(*cloudwatchlogs.Options)) (*cloudwatchlogs.DescribeLogGroupsOutput, error)
	DescribeLogStreams(ctx context.Context, params *cloudwatchlogs.DescribeLogStreamsInput, optFns ...func(*cloudwatchlogs.Options)) (*cloudwatchlogs.DescribeLogStreamsOutput, error)
}

const (
	maxEventsPerBatch = 1000
	maxBytesPerBatch  = 1_047_576
	perEventOverhead  = 26
	batchTimeWindow   = 5 * time.Second
)

// StreamDeliverer delivers log events to a customer's CloudWatch Logs log
// group/stream via the two-hop central-role/customer-role credential broker.
type StreamDeliverer struct {
	broker      credentialBroker
	endpointURL string
	logger      *slog.Logger
	maxRetries  int
}

// NewStreamDeliverer creates a stream deliverer bound to the given STS client
// and central role ARN. maxRetries is the per-flush retry ceiling (§6
// RETRY_ATTEMPTS); callers passing 0 get the documented default of 3.
func NewStreamDeliverer(stsClient STSAssumeRoleAPI, centralRoleArn string, endpointURL string, maxRetries int, logger *slog.Logger) *StreamDeliverer {
	if maxRetries <= 0 {
		maxRetries = 3
	}
	return &StreamDeliverer{
		broker:      credentialBroker{stsClient: stsClient, centralRoleArn: centralRoleArn, endpointURL: endpointURL},
		endpointURL: endpointURL,
		logger:      logger,
		maxRetries:  maxRetries,
	}
}

// DeliverLogs delivers logEvents to the customer's log group/stream named by
// deliveryConfig, using tenantInfo.PodName as the log stream name.
func (d *StreamDeliverer) DeliverLogs(ctx context.Context, logEvents []*models.LogEvent, deliveryConfig *models.DeliveryConfig, tenantInfo *models.TenantInfo, s3Timestamp int64) (*models.DeliveryStats, error) {
	d.logger.Info("starting stream delivery",
		"event_count", len(logEvents),
		"tenant_id", tenantInfo.TenantID,
		"log_group", deliveryConfig.LogGroupName)

	centralCreds, accountID, err := d.broker.assumeCentralRole(ctx, "CentralLogDistribution")
	if err != nil {
		return nil, err
	}

	targetRegion := deliveryConfig.TargetRegion
	if targetRegion == "" {
		targetRegion = "us-east-1"
	}

	stats, err := d.deliverLogsNative(ctx, logEvents, centralCreds, deliveryConfig.LogDistributionRoleArn, accountID, targetRegion, deliveryConfig.LogGroupName, tenantInfo.PodName, s3Timestamp)
	if err != nil {
		return nil, err
	}

	d.logger.Info("successfully delivered logs to stream",
		"tenant_id", tenantInfo.TenantID,
		"successful_events", stats.SuccessfulEvents,
		"failed_events", stats.FailedEvents)

	return stats, nil
}

func (d *StreamDeliverer) deliverLogsNative(ctx context.Context, logEvents []*models.LogEvent, centralCreds *stytypes.Credentials, customerRoleArn, externalID, region, logGroup, logStream string, s3Timestamp int64) (*models.DeliveryStats, error) {
	customerCreds, err := assumeCustomerRole(ctx, region, centralCreds, customerRoleArn, externalID, d.endpointURL, "StreamLogDelivery")
	if err != nil {
		return nil, err
	}

	customerConfig, err := buildConfigWithEndpoint(ctx, region, aws.Credentials{
		AccessKeyID:     *customerCreds.AccessKeyId,
		SecretAccessKey: *customerCreds.SecretAccessKey,
		SessionToken:    *customerCreds.SessionToken,
	}, d.endpointURL)
	if err != nil {
		return nil, fmt.Errorf("failed to create CloudWatch config: %w", err)
	}

	logsClient := cloudwatchlogs.NewFromConfig(customerConfig)

	processedEvents := make([]types.InputLogEvent, 0, len(logEvents))
	for _, event := range logEvents {
		timestamp := event.Timestamp
		if timestamp == nil || models.IsZeroTimestamp(timestamp) {
			timestamp = s3Timestamp
		}

		processedTimestamp := models.NormalizeTimestamp(timestamp, d.logger)

		var messageStr string
		switch msg := event.Message.(type) {
		case string:
			messageStr = msg
		default:
			jsonBytes, err := json.Marshal(msg)
			if err != nil {
				d.logger.Warn("failed to marshal message to JSON", "error", err)
				messageStr = fmt.Sprintf("%v", msg)
			} else {
				messageStr = string(jsonBytes)
			}
		}

		processedEvents = append(processedEvents, types.InputLogEvent{
			Timestamp: aws.Int64(processedTimestamp),
			Message:   aws.String(messageStr),
		})
	}

	sort.Slice(processedEvents, func(i, j int) bool {
		return *processedEvents[i].Timestamp < *processedEvents[j].Timestamp
	})

	if err := ensureLogGroupAndStreamExist(ctx, logsClient, logGroup, logStream, d.logger); err != nil {
		return nil, err
	}

	stats, err := d.deliverEventsInBatches(ctx, logsClient, logGroup, logStream, processedEvents)
	if err != nil {
		return nil, err
	}

	d.logger.Info("stream delivery complete", "successful_events", stats.SuccessfulEvents, "failed_events", stats.FailedEvents)

	if stats.FailedEvents > 0 {
		return stats, fmt.Errorf("failed to deliver %d out of %d events to stream", stats.FailedEvents, stats.TotalProcessed)
	}

	return stats, nil
}

func ensureLogGroupAndStreamExist(ctx context.Context, client CloudWatchLogsAPI, logGroup, logStream string, logger *slog.Logger) error {
	groupsResp, err := client.DescribeLogGroups(ctx, &cloudwatchlogs.DescribeLogGroupsInput{
		LogGroupNamePrefix: aws.String(logGroup),
	})
	if err != nil {
		return fmt.Errorf("failed to describe log groups: %w", err)
	}

	groupExists := false
	for _, group := range groupsResp.LogGroups {
		if *group.LogGroupName == logGroup {
			groupExists = true
			break
		}
	}

	if !groupExists {
		logger.Info("creating log group", "log_group", logGroup)
		_, err = client.CreateLogGroup(ctx, &cloudwatchlogs.CreateLogGroupInput{LogGroupName: aws.String(logGroup)})
		if err != nil {
			var alreadyExists *types.ResourceAlreadyExistsException
			if !errors.As(err, &alreadyExists) {
				return fmt.Errorf("failed to create log group: %w", err)
			}
			logger.Info("log group already exists (concurrent creation)", "log_group", logGroup)
		}
	}

	streamsResp, err := client.DescribeLogStreams(ctx, &cloudwatchlogs.DescribeLogStreamsInput{
		LogGroupName:        aws.String(logGroup),
		LogStreamNamePrefix: aws.String(logStream),
	})
	if err != nil {
		return fmt.Errorf("failed to describe log streams: %w", err)
	}

	streamExists := false
	for _, stream := range streamsResp.LogStreams {
		if *stream.LogStreamName == logStream {
			streamExists = true
			break
		}
	}

	if !streamExists {
		logger.Info("creating log stream", "log_group", logGroup, "log_stream", logStream)
		_, err = client.CreateLogStream(ctx, &cloudwatchlogs.CreateLogStreamInput{
			LogGroupName:  aws.String(logGroup),
			LogStreamName: aws.String(logStream),
		})
		if err != nil {
			var alreadyExists *types.ResourceAlreadyExistsException
			if !errors.As(err, &alreadyExists) {
				return fmt.Errorf("failed to create log stream: %w", err)
			}
			logger.Info("log stream already exists (concurrent creation)", "log_stream", logStream)
		}
	}

	return nil
}

// deliverEventsInBatches groups events into CloudWatch-legal batches, in
// append-then-decide order: each event is added to the current batch first,
// and the batch is flushed and a new one started once it holds
// maxEventsPerBatch events, its size exceeds maxBytesPerBatch, or
// batchTimeWindow has elapsed since it was started (§ batching semantics).
func (d *StreamDeliverer) deliverEventsInBatches(ctx context.Context, client CloudWatchLogsAPI, logGroup, logStream string, events []types.InputLogEvent) (*models.DeliveryStats, error) {
	stats := &models.DeliveryStats{}

	if len(events) == 0 {
		return stats, nil
	}

	batchStartTime := time.Now()
	currentBatch := make([]types.InputLogEvent, 0, maxEventsPerBatch)
	var currentBatchSize int64

	flush := func() error {
		if len(currentBatch) == 0 {
			return nil
		}
		return d.sendBatch(ctx, client, logGroup, logStream, currentBatch, stats)
	}

	for _, event := range events {
		eventSize := int64(len(*event.Message)) + perEventOverhead

		currentBatch = append(currentBatch, event)
		currentBatchSize += eventSize
		stats.TotalProcessed++

		nextWouldExceedSize := currentBatchSize > maxBytesPerBatch
		nextWouldExceedCount := len(currentBatch) >= maxEventsPerBatch
		timeoutReached := time.Since(batchStartTime) >= batchTimeWindow

		if nextWouldExceedSize || nextWouldExceedCount || timeoutReached {
			if err := flush(); err != nil {
				return stats, err
			}
			currentBatch = make([]types.InputLogEvent, 0, maxEventsPerBatch)
			currentBatchSize = 0
			batchStartTime = time.Now()
		}
	}

	if err := flush(); err != nil {
		return stats, err
	}

	return stats, nil
}

// retryableCloudWatchError reports whether err is a throttling or
// service-unavailable signal — the only PutLogEvents failures the flush
// retries. Every other API error aborts the flush immediately.
func retryableCloudWatchError(err error) bool {
	var apiErr smithy.APIError
	if !errors.As(err, &apiErr) {
		return false
	}
	switch apiErr.ErrorCode() {
	case "Throttling", "ThrottlingException", "ServiceUnavailable", "ServiceUnavailableException":
		return true
	default:
		return false
	}
}

func (d *StreamDeliverer) sendBatch(ctx context.Context, client CloudWatchLogsAPI, logGroup, logStream string, batch []types.InputLogEvent, stats *models.DeliveryStats) error {
	d.logger.Info("sending batch to CloudWatch", "event_count", len(batch))

	backOff := backoff.NewExponentialBackOff(
		backoff.WithInitialInterval(time.Second),
		backoff.WithMultiplier(2),
		backoff.WithMaxInterval(30*time.Second),
	)

	resp, err := backoff.Retry(ctx, func() (*cloudwatchlogs.PutLogEventsOutput, error) {
		out, err := client.PutLogEvents(ctx, &cloudwatchlogs.PutLogEventsInput{
			LogGroupName:  aws.String(logGroup),
			LogStreamName: aws.String(logStream),
			LogEvents:     batch,
		})
		if err != nil {
			if !retryableCloudWatchError(err) {
				d.logger.Warn("CloudWatch PutLogEvents failed with non-retryable error, aborting flush", "error", err)
				return nil, backoff.Permanent(err)
			}
			d.logger.Warn("CloudWatch PutLogEvents throttled, retrying", "error", err)
			return nil, err
		}
		return out, nil
	}, backoff.WithBackOff(backOff), backoff.WithMaxTries(uint(d.maxRetries)))

	if err != nil {
		d.logger.Error("failed after max retries", "error", err)
		stats.FailedEvents += len(batch)
		return fmt.Errorf("failed to deliver batch after %d attempts: %w", d.maxRetries, err)
	}

	rejectedCount := 0
	if resp.RejectedLogEventsInfo != nil {
		info := resp.RejectedLogEventsInfo
		if info.TooNewLogEventStartIndex != nil {
			rejectedCount += len(batch) - int(*info.TooNewLogEventStartIndex)
		}
		if info.TooOldLogEventEndIndex != nil {
			rejectedCount += int(*info.TooOldLogEventEndIndex) + 1
		}
		if info.ExpiredLogEventEndIndex != nil {
			rejectedCount += int(*info.ExpiredLogEventEndIndex) + 1
		}
	}

	batchSuccessful := len(batch) - rejectedCount
	if batchSuccessful < 0 {
		batchSuccessful = 0
	}
	if rejectedCount < 0 {
		rejectedCount = 0
	}
	stats.SuccessfulEvents += batchSuccessful
	stats.FailedEvents += rejectedCount

	d.logger.Info("successfully sent batch", "successful", batchSuccessful, "rejected", rejectedCount)

	return nil
}
