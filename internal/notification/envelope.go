// Package notification decodes the SNS-wrapped S3 event-notification envelope
// an SQS message body carries, plus the self-reinjection processing metadata
// attached to a requeued message.
package notification

import (
	"encoding/json"
	"fmt"
	"net/url"
	"time"

	"github.com/cloudlogs/log-router/internal/models"
)

// DecodeS3Event unmarshals an SQS message body as an SNS envelope wrapping an
// S3 event notification, per the notification envelope described in the data
// model. Returns a poison DeliveryError on malformed JSON at either layer,
// since a message that can never parse can never be retried into success.
func DecodeS3Event(messageBody string) (*models.S3Event, error) {
	var snsMessage models.SNSMessage
	if err := json.Unmarshal([]byte(messageBody), &snsMessage); err != nil {
		return nil, models.NewInvalidNotificationError(fmt.Sprintf("invalid SQS message format: %v", err))
	}

	var s3Event models.S3Event
	if err := json.Unmarshal([]byte(snsMessage.Message), &s3Event); err != nil {
		return nil, models.NewInvalidNotificationError(fmt.Sprintf("invalid S3 event format: %v", err))
	}

	return &s3Event, nil
}

// DecodeObjectKey undoes the URL percent-encoding S3 event notifications
// apply to object keys (notably spaces become "+").
func DecodeObjectKey(encodedKey string) (string, error) {
	key, err := url.QueryUnescape(encodedKey)
	if err != nil {
		return "", models.NewInvalidNotificationError(fmt.Sprintf("failed to unescape object key %q: %v", encodedKey, err))
	}
	return key, nil
}

// ExtractProcessingMetadata reads the processing_metadata block a requeued
// message carries (§4.8 self-reinjection). A message with no such block, or
// one that fails to parse at all, is treated as offset 0 / retry 0 — the
// first attempt at this message.
func ExtractProcessingMetadata(messageBody string) (*models.ProcessingMetadata, error) {
	var body map[string]interface{}
	if err := json.Unmarshal([]byte(messageBody), &body); err != nil {
		return &models.ProcessingMetadata{}, nil
	}

	raw, ok := body["processing_metadata"].(map[string]interface{})
	if !ok {
		return &models.ProcessingMetadata{}, nil
	}

	metadata := &models.ProcessingMetadata{}

	if offset, ok := raw["offset"].(float64); ok {
		metadata.Offset = int(offset)
	}
	if retryCount, ok := raw["retry_count"].(float64); ok {
		metadata.RetryCount = int(retryCount)
	}
	if receiptHandle, ok := raw["original_receipt_handle"].(string); ok {
		metadata.OriginalReceiptHandle = receiptHandle
	}
	if requeuedAt, ok := raw["requeued_at"].(string); ok {
		if t, err := time.Parse(time.RFC3339, requeuedAt); err == nil {
			metadata.RequeuedAt = t
		}
	}

	return metadata, nil
}
