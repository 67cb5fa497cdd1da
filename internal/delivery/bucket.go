package delivery

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"

	"github.com/cloudlogs/log-router/internal/models"
)

// BucketDeliverer delivers a log object from the central bucket to a
// customer's S3 bucket via direct server-side CopyObject — no data passes
// through the worker process.
type BucketDeliverer struct {
	broker       credentialBroker
	usePathStyle bool
	endpointURL  string
	logger       *slog.Logger
}

// NewBucketDeliverer creates a bucket deliverer bound to the given STS
// client and central role ARN.
func NewBucketDeliverer(stsClient STSAssumeRoleAPI, centralRoleArn string, usePathStyle bool, endpointURL string, logger *slog.Logger) *BucketDeliverer {
	return &BucketDeliverer{
		broker:       credentialBroker{stsClient: stsClient, centralRoleArn: centralRoleArn, endpointURL: endpointURL},
		usePathStyle: usePathStyle,
		endpointURL:  endpointURL,
		logger:       logger,
	}
}

// DeliverLogs copies sourceKey from sourceBucket to the customer bucket named
// by deliveryConfig, under {prefix}{tenant_id}/{application}/{pod_name}/{filename}.
// Single-hop: the central role alone needs PutObject on the customer bucket,
// granted by the customer's bucket policy, so no second role assumption runs.
func (d *BucketDeliverer) DeliverLogs(ctx context.Context, sourceBucket, sourceKey string, deliveryConfig *models.DeliveryConfig, tenantInfo *models.TenantInfo) error {
	d.logger.Info("starting bucket copy for tenant",
		"tenant_id", tenantInfo.TenantID, "source_bucket", sourceBucket, "source_key", sourceKey)

	centralCreds, _, err := d.broker.assumeCentralRole(ctx, "BucketLogDelivery")
	if err != nil {
		return err
	}

	targetRegion := deliveryConfig.TargetRegion
	if targetRegion == "" {
		targetRegion = "us-east-1"
	}

	s3Config, err := buildConfigWithEndpoint(ctx, targetRegion, aws.Credentials{
		AccessKeyID:     *centralCreds.AccessKeyId,
		SecretAccessKey: *centralCreds.SecretAccessKey,
		SessionToken:    *centralCreds.SessionToken,
	}, d.endpointURL)
	if err != nil {
		return fmt.Errorf("failed to create S3 config: %w", err)
	}

	s3Client := s3.NewFromConfig(s3Config, func(o *s3.Options) {
		o.UsePathStyle = d.usePathStyle
	})

	destinationBucket := deliveryConfig.BucketName
	bucketPrefix := models.NormalizeBucketPrefix(deliveryConfig.BucketPrefix)

	sourceFilename := sourceKey[strings.LastIndex(sourceKey, "/")+1:]
	destinationKey := fmt.Sprintf("%s%s/%s/%s/%s",
		bucketPrefix, tenantInfo.TenantID, tenantInfo.Application, tenantInfo.PodName, sourceFilename)

	d.logger.Info("bucket copy details",
		"source", fmt.Sprintf("s3://%s/%s", sourceBucket, sourceKey),
		"destination", fmt.Sprintf("s3://%s/%s", destinationBucket, destinationKey))

	copySource := fmt.Sprintf("%s/%s", sourceBucket, sourceKey)

	metadata := map[string]string{
		"source-bucket":      sourceBucket,
		"source-key":         sourceKey,
		"tenant-id":          tenantInfo.TenantID,
		"application":        tenantInfo.Application,
		"pod-name":           tenantInfo.PodName,
		"delivery-timestamp": fmt.Sprintf("%d", time.Now().Unix()),
	}

	_, err = s3Client.CopyObject(ctx, &s3.CopyObjectInput{
		Bucket:            aws.String(destinationBucket),
		Key:               aws.String(destinationKey),
		CopySource:        aws.String(copySource),
		ACL:               types.ObjectCannedACLBucketOwnerFullControl,
		Metadata:          metadata,
		MetadataDirective: types.MetadataDirectiveReplace,
	})

	if err != nil {
		errMsg := err.Error()
		switch {
		case strings.Contains(errMsg, "NoSuchBucket"):
			return models.NewPoisonError(tenantInfo.TenantID, fmt.Sprintf("destination S3 bucket '%s' does not exist", destinationBucket))
		case strings.Contains(errMsg, "AccessDenied"):
			return models.NewPoisonError(tenantInfo.TenantID, fmt.Sprintf("access denied to S3 bucket '%s'. Check bucket policy and Central Role permissions", destinationBucket))
		case strings.Contains(errMsg, "NoSuchKey"):
			return models.NewPoisonError(tenantInfo.TenantID, fmt.Sprintf("source S3 object s3://%s/%s not found", sourceBucket, sourceKey))
		default:
			d.logger.Error("S3 copy operation failed", "error", err)
			return models.WrapRetryableError("S3 copy failed", err)
		}
	}

	d.logger.Info("successfully copied log file to S3",
		"tenant_id", tenantInfo.TenantID, "destination", fmt.Sprintf("s3://%s/%s", destinationBucket, destinationKey))

	return nil
}
