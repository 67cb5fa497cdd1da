package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/aws/aws-lambda-go/lambda"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/cloudwatch"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/aws/aws-sdk-go-v2/service/sts"

	"github.com/cloudlogs/log-router/internal/models"
	"github.com/cloudlogs/log-router/internal/processor"
)

func main() {
	mode := flag.String("mode", "", "Execution mode: batch, poll, scan, or manual (default: batch)")
	flag.Parse()

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: parseLogLevel()}))
	slog.SetDefault(logger)

	logger.Info("worker starting")

	cfg, err := models.LoadConfig()
	if err != nil {
		logger.Error("failed to load configuration", "error", err)
		os.Exit(1)
	}

	executionMode := cfg.ExecutionMode
	if *mode != "" {
		executionMode = *mode
	}
	if executionMode == "" {
		executionMode = "batch"
	}

	ctx := context.Background()
	awsCfg, err := config.LoadDefaultConfig(ctx, config.WithRegion(cfg.AWSRegion))
	if err != nil {
		logger.Error("failed to load AWS config", "error", err)
		os.Exit(1)
	}

	s3Client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		o.UsePathStyle = cfg.S3UsePathStyle
		if cfg.AWSEndpointURL != "" {
			o.BaseEndpoint = &cfg.AWSEndpointURL
		}
	})
	dynamoClient := dynamodb.NewFromConfig(awsCfg)
	sqsClient := sqs.NewFromConfig(awsCfg)
	stsClient := sts.NewFromConfig(awsCfg)
	cwClient := cloudwatch.NewFromConfig(awsCfg)

	proc := processor.NewProcessor(s3Client, dynamoClient, sqsClient, stsClient, cwClient, cfg.AWSEndpointURL, cfg, logger)

	switch executionMode {
	case "batch":
		logger.Info("starting in Lambda batch mode")
		lambda.Start(proc.HandleLambdaEvent)

	case "poll":
		logger.Info("starting in poll mode")
		if err := pollMode(ctx, proc, sqsClient, cfg, logger); err != nil {
			logger.Error("poll mode failed", "error", err)
			os.Exit(1)
		}

	case "manual":
		logger.Info("starting in manual input mode")
		if err := manualMode(ctx, proc, logger); err != nil {
			logger.Error("manual mode failed", "error", err)
			os.Exit(1)
		}

	case "scan":
		logger.Info("starting in scan mode")
		if err := scanMode(ctx, proc, s3Client, cfg, logger); err != nil {
			logger.Error("scan mode failed", "error", err)
			os.Exit(1)
		}

	default:
		logger.Error("invalid execution mode", "mode", executionMode)
		os.Exit(1)
	}

	logger.Info("worker shutting down")
}

// pollMode runs the standalone long-poll receive/delete loop (§6 `poll`
// mode): each long-poll batch of up to 10 messages is processed
// concurrently, one goroutine per message, and the loop waits for every
// message's delete/retry bookkeeping to finish before the next receive.
func pollMode(ctx context.Context, proc *processor.Processor, sqsClient *sqs.Client, cfg *models.Config, logger *slog.Logger) error {
	if cfg.SQSQueueURL == "" {
		return fmt.Errorf("SQS_QUEUE_URL environment variable not set")
	}

	logger.Info("polling", "queue_url", cfg.SQSQueueURL)

	for {
		resp, err := sqsClient.ReceiveMessage(ctx, &sqs.ReceiveMessageInput{
			QueueUrl:            &cfg.SQSQueueURL,
			MaxNumberOfMessages: 10,
			WaitTimeSeconds:     20,
			VisibilityTimeout:   300,
		})
		if err != nil {
			logger.Error("failed to receive messages", "error", err)
			time.Sleep(5 * time.Second)
			continue
		}

		if len(resp.Messages) == 0 {
			continue
		}

		logger.Info("received messages", "count", len(resp.Messages))

		var wg sync.WaitGroup
		for _, message := range resp.Messages {
			wg.Add(1)
			go func(messageID, body, receiptHandle string) {
				defer wg.Done()
				handlePolledMessage(ctx, proc, sqsClient, cfg, messageID, body, receiptHandle, logger)
			}(*message.MessageId, *message.Body, *message.ReceiptHandle)
		}
		wg.Wait()
	}
}

func handlePolledMessage(ctx context.Context, proc *processor.Processor, sqsClient *sqs.Client, cfg *models.Config, messageID, body, receiptHandle string, logger *slog.Logger) {
	deliveryStats, err := proc.ProcessSQSRecord(ctx, body, messageID, receiptHandle)

	shouldDelete := true
	switch {
	case models.IsPoison(err):
		logger.Warn("poison message, deleting to prevent infinite retries", "message_id", messageID, "error", err)
	case err != nil:
		logger.Error("retryable error, message will be redelivered", "message_id", messageID, "error", err)
		shouldDelete = false
	default:
		if deliveryStats != nil {
			logger.Info("message processed",
				"message_id", messageID,
				"successful_deliveries", deliveryStats.SuccessfulDeliveries,
				"failed_deliveries", deliveryStats.FailedDeliveries)
		}
	}

	if !shouldDelete {
		return
	}

	if _, err := sqsClient.DeleteMessage(ctx, &sqs.DeleteMessageInput{
		QueueUrl:      &cfg.SQSQueueURL,
		ReceiptHandle: &receiptHandle,
	}); err != nil {
		logger.Error("failed to delete message", "message_id", messageID, "error", err)
	}
}

// manualMode reads one notification body from stdin, for local development.
func manualMode(ctx context.Context, proc *processor.Processor, logger *slog.Logger) error {
	inputData, err := io.ReadAll(os.Stdin)
	if err != nil {
		return fmt.Errorf("failed to read stdin: %w", err)
	}
	if len(inputData) == 0 {
		return fmt.Errorf("no input data provided")
	}

	deliveryStats, err := proc.ProcessSQSRecord(ctx, string(inputData), "manual-input", "manual")
	if err != nil {
		return fmt.Errorf("failed to process manual input: %w", err)
	}

	if deliveryStats != nil {
		logger.Info("processed manual input",
			"successful_deliveries", deliveryStats.SuccessfulDeliveries,
			"failed_deliveries", deliveryStats.FailedDeliveries)
	}
	return nil
}

// scanMode lists SOURCE_BUCKET for .json.gz objects not yet seen this
// process's lifetime and synthesizes a notification for each.
func scanMode(ctx context.Context, proc *processor.Processor, s3Client *s3.Client, cfg *models.Config, logger *slog.Logger) error {
	if cfg.SourceBucket == "" {
		return fmt.Errorf("SOURCE_BUCKET environment variable not set")
	}

	logger.Info("scanning", "source_bucket", cfg.SourceBucket, "scan_interval", cfg.ScanInterval)

	seen := make(map[string]bool)

	for {
		resp, err := s3Client.ListObjectsV2(ctx, &s3.ListObjectsV2Input{Bucket: &cfg.SourceBucket})
		if err != nil {
			logger.Error("failed to list bucket", "error", err)
			time.Sleep(time.Duration(cfg.ScanInterval) * time.Second)
			continue
		}

		found := 0
		for _, obj := range resp.Contents {
			objectKey := *obj.Key
			if seen[objectKey] || !endsWithJSONGZ(objectKey) {
				continue
			}

			found++
			messageBody, err := synthesizeNotification(cfg.SourceBucket, objectKey)
			if err != nil {
				logger.Error("failed to synthesize notification", "key", objectKey, "error", err)
				continue
			}

			stats, err := proc.ProcessSQSRecord(ctx, messageBody, "scan-"+objectKey, "")
			if err != nil {
				logger.Error("failed to process scanned object", "key", objectKey, "error", err)
				continue
			}

			seen[objectKey] = true
			if stats != nil {
				logger.Info("processed scanned object", "key", objectKey,
					"successful_deliveries", stats.SuccessfulDeliveries, "failed_deliveries", stats.FailedDeliveries)
			}
		}

		if found > 0 {
			logger.Info("scan pass complete", "new_objects", found)
		}
		time.Sleep(time.Duration(cfg.ScanInterval) * time.Second)
	}
}

func synthesizeNotification(bucketName, objectKey string) (string, error) {
	s3Event := models.S3Event{
		Records: []models.S3EventRecord{
			{S3: models.S3Info{
				Bucket: models.S3BucketInfo{Name: bucketName},
				Object: models.S3ObjectInfo{Key: objectKey},
			}},
		},
	}

	s3EventJSON, err := json.Marshal(s3Event)
	if err != nil {
		return "", err
	}

	snsJSON, err := json.Marshal(models.SNSMessage{Message: string(s3EventJSON)})
	if err != nil {
		return "", err
	}
	return string(snsJSON), nil
}

func endsWithJSONGZ(key string) bool {
	return len(key) >= 8 && key[len(key)-8:] == ".json.gz"
}

func parseLogLevel() slog.Level {
	switch os.Getenv("LOG_LEVEL") {
	case "DEBUG", "debug":
		return slog.LevelDebug
	case "WARN", "warn", "WARNING", "warning":
		return slog.LevelWarn
	case "ERROR", "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
