// Package processor implements the object-store reader, event normalizer,
// and worker loop that tie notification decoding, tenant configuration, and
// delivery together.
package processor

import (
	"compress/gzip"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/service/s3"

	"github.com/cloudlogs/log-router/internal/models"
)

// ExtractTenantInfoFromKey parses an object key of the form
// cluster_id/namespace/application/pod_name/file, per the Object Key Schema.
// The namespace segment doubles as the tenant ID the configuration table is
// keyed by.
func ExtractTenantInfoFromKey(objectKey string, logger *slog.Logger) (*models.TenantInfo, error) {
	pathParts := strings.Split(objectKey, "/")

	if len(pathParts) < 5 {
		return nil, models.NewInvalidNotificationError(
			fmt.Sprintf("object key has %d path segments, need at least 5: %s", len(pathParts), objectKey))
	}

	requiredSegments := []struct {
		name  string
		index int
	}{
		{"cluster_id", 0},
		{"namespace", 1},
		{"application", 2},
		{"pod_name", 3},
	}

	for _, segment := range requiredSegments {
		if strings.TrimSpace(pathParts[segment.index]) == "" {
			return nil, models.NewInvalidNotificationError(
				fmt.Sprintf("%s (segment %d) is empty in object key: %s", segment.name, segment.index, objectKey))
		}
	}

	tenantInfo := &models.TenantInfo{
		ClusterID:   pathParts[0],
		Namespace:   pathParts[1],
		TenantID:    pathParts[1],
		Application: pathParts[2],
		PodName:     pathParts[3],
		Environment: "production",
	}

	if strings.Contains(tenantInfo.ClusterID, "-") {
		envPrefix := strings.Split(tenantInfo.ClusterID, "-")[0]
		envMap := map[string]string{"prod": "production", "stg": "staging", "dev": "development"}
		if env, ok := envMap[envPrefix]; ok {
			tenantInfo.Environment = env
		}
	}

	logger.Info("extracted tenant info from object key",
		"object_key", objectKey,
		"cluster_id", tenantInfo.ClusterID,
		"tenant_id", tenantInfo.TenantID,
		"application", tenantInfo.Application,
		"pod_name", tenantInfo.PodName)

	return tenantInfo, nil
}

// FetchObject downloads objectKey from bucketName, returning the object body
// and its upload time in epoch milliseconds. Stream delivery uses the upload
// time in place of an event timestamp that is absent or zero; a record with
// no timestamp field already carries the parse-time clock reading from
// ConvertLogRecordToEvent, so the upload time does not replace it.
func FetchObject(ctx context.Context, s3Client *s3.Client, bucketName, objectKey string) (io.ReadCloser, int64, error) {
	result, err := s3Client.GetObject(ctx, &s3.GetObjectInput{Bucket: &bucketName, Key: &objectKey})
	if err != nil {
		return nil, 0, fmt.Errorf("failed to download s3://%s/%s: %w", bucketName, objectKey, err)
	}
	return result.Body, result.LastModified.UnixMilli(), nil
}

// ParseRecords reads content, gzip-decompressing it when filename ends in
// ".gz", and extracts log events via ParseJSON.
func ParseRecords(filename string, content io.Reader, logger *slog.Logger) ([]*models.LogEvent, error) {
	fileContent, err := io.ReadAll(content)
	if err != nil {
		return nil, fmt.Errorf("failed to read object content: %w", err)
	}

	if strings.HasSuffix(filename, ".gz") {
		gzReader, err := gzip.NewReader(strings.NewReader(string(fileContent)))
		if err != nil {
			return nil, fmt.Errorf("failed to create gzip reader: %w", err)
		}
		defer gzReader.Close()

		decompressed, err := io.ReadAll(gzReader)
		if err != nil {
			return nil, fmt.Errorf("failed to decompress gzip content: %w", err)
		}
		fileContent = decompressed
		logger.Info("decompressed object", "size_bytes", len(fileContent))
	}

	return ParseJSON(fileContent, logger)
}

// ParseJSON extracts log events from fileContent, preferring NDJSON
// (line-delimited JSON, Vector's native format) and falling back to parsing
// the whole content as one JSON document or array when no line parses.
func ParseJSON(fileContent []byte, logger *slog.Logger) ([]*models.LogEvent, error) {
	content := string(fileContent)
	lines := strings.Split(strings.TrimSpace(content), "\n")

	var logEvents []*models.LogEvent
	lineParseSuccess, lineParseErrors := 0, 0

	for lineNum, line := range lines {
		if strings.TrimSpace(line) == "" {
			continue
		}

		var parsedData interface{}
		if err := json.Unmarshal([]byte(line), &parsedData); err != nil {
			lineParseErrors++
			if lineNum < 3 {
				logger.Warn("line JSON parse error", "line_num", lineNum, "error", err)
			}
			continue
		}
		lineParseSuccess++

		if arr, ok := parsedData.([]interface{}); ok {
			for _, logRecord := range arr {
				if event := ConvertLogRecordToEvent(logRecord, logger); event != nil {
					logEvents = append(logEvents, event)
				}
			}
		} else if event := ConvertLogRecordToEvent(parsedData, logger); event != nil {
			logEvents = append(logEvents, event)
		}
	}

	logger.Info("line parsing results", "successful", lineParseSuccess, "errors", lineParseErrors)

	if len(logEvents) == 0 && lineParseErrors > 0 {
		logger.Info("no events from line parsing, trying whole-document fallback")
		var data interface{}
		if err := json.Unmarshal(fileContent, &data); err != nil {
			return nil, fmt.Errorf("fallback JSON parsing failed: %w", err)
		}

		if arr, ok := data.([]interface{}); ok {
			for _, logRecord := range arr {
				if event := ConvertLogRecordToEvent(logRecord, logger); event != nil {
					logEvents = append(logEvents, event)
				}
			}
		} else if event := ConvertLogRecordToEvent(data, logger); event != nil {
			logEvents = append(logEvents, event)
		}
	}

	logger.Info("processed log events", "event_count", len(logEvents))
	return logEvents, nil
}

// ConvertLogRecordToEvent resolves a parsed JSON record to a LogEvent, per
// §4.4's message-resolution rule: use the record's "message" field verbatim,
// or fall back to the whole record with transport metadata fields stripped.
func ConvertLogRecordToEvent(logRecord interface{}, logger *slog.Logger) *models.LogEvent {
	record, ok := logRecord.(map[string]interface{})
	if !ok {
		logger.Warn("log record is not an object", "type", fmt.Sprintf("%T", logRecord))
		return nil
	}

	var timestampMS int64
	if ts, ok := record["timestamp"]; ok {
		timestampMS = models.NormalizeTimestamp(ts, logger)
	} else {
		timestampMS = time.Now().UnixMilli()
	}

	var message interface{}
	if msg, ok := record["message"]; ok {
		message = msg
	} else {
		cleanRecord := make(map[string]interface{})
		for k, v := range record {
			if !models.TransportMetadataFields[k] {
				cleanRecord[k] = v
			}
		}
		message = cleanRecord
	}

	return &models.LogEvent{Timestamp: timestampMS, Message: message}
}
