package processor

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"math"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/aws/aws-sdk-go-v2/service/sqs/types"

	"github.com/cloudlogs/log-router/internal/models"
)

// SQSClientAPI is the subset of the SQS client the self-reinjection path needs.
type SQSClientAPI interface {
	SendMessage(ctx context.Context, params *sqs.SendMessageInput, optFns ...func(*sqs.Options)) (*sqs.SendMessageOutput, error)
}

// ShouldSkipProcessedEvents drops the first offset events, the offset carried
// in a requeued message's processing_metadata (§4.8). The worker requeues
// with the offset the failed attempt started from, not advanced by the
// events that attempt delivered.
func ShouldSkipProcessedEvents(events []*models.LogEvent, offset int, logger *slog.Logger) []*models.LogEvent {
	if offset <= 0 {
		return events
	}
	if offset >= len(events) {
		logger.Warn("offset >= event count, nothing left to process", "offset", offset, "event_count", len(events))
		return []*models.LogEvent{}
	}

	logger.Info("skipping already-delivered events", "offset", offset, "remaining", len(events)-offset)
	return events[offset:]
}

// RequeueSQSMessageWithOffset re-publishes messageBody onto queueURL with an
// updated processing_metadata block carrying processingOffset and an
// incremented retry count, delayed by an exponential backoff capped at 15
// minutes. Silently no-ops when queueURL is unconfigured (standalone modes
// with no queue to requeue onto), and drops the message once retryCount
// exceeds maxRetries rather than requeuing forever.
func RequeueSQSMessageWithOffset(ctx context.Context, sqsClient SQSClientAPI, queueURL, messageBody, originalReceiptHandle string, processingOffset, maxRetries int, logger *slog.Logger) error {
	if queueURL == "" {
		logger.Warn("no SQS queue configured, cannot requeue message")
		return nil
	}

	var messageData map[string]interface{}
	if err := json.Unmarshal([]byte(messageBody), &messageData); err != nil {
		return fmt.Errorf("failed to parse message body for requeuing: %w", err)
	}

	procMetadata, ok := messageData["processing_metadata"].(map[string]interface{})
	if !ok {
		procMetadata = make(map[string]interface{})
		messageData["processing_metadata"] = procMetadata
	}

	currentRetryCount := 0
	if rc, ok := procMetadata["retry_count"].(float64); ok {
		currentRetryCount = int(rc)
	}
	newRetryCount := currentRetryCount + 1

	procMetadata["offset"] = processingOffset
	procMetadata["retry_count"] = newRetryCount
	procMetadata["original_receipt_handle"] = originalReceiptHandle
	procMetadata["requeued_at"] = time.Now().Format(time.RFC3339)

	if newRetryCount > maxRetries {
		logger.Error("message exceeded max retry count, dropping", "max_retries", maxRetries, "retry_count", newRetryCount)
		return nil
	}

	delaySeconds := int32(math.Min(math.Pow(2, float64(newRetryCount+1)), 900))

	updatedBody, err := json.Marshal(messageData)
	if err != nil {
		return fmt.Errorf("failed to marshal updated message body: %w", err)
	}

	_, err = sqsClient.SendMessage(ctx, &sqs.SendMessageInput{
		QueueUrl:     aws.String(queueURL),
		MessageBody:  aws.String(string(updatedBody)),
		DelaySeconds: delaySeconds,
		MessageAttributes: map[string]types.MessageAttributeValue{
			"ProcessingOffset": {StringValue: aws.String(fmt.Sprintf("%d", processingOffset)), DataType: aws.String("Number")},
			"RetryCount":       {StringValue: aws.String(fmt.Sprintf("%d", newRetryCount)), DataType: aws.String("Number")},
		},
	})
	if err != nil {
		return fmt.Errorf("failed to send message to SQS: %w", err)
	}

	logger.Info("requeued message", "offset", processingOffset, "retry_count", newRetryCount, "delay_seconds", delaySeconds)
	return nil
}
