package tenant

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/cloudlogs/log-router/internal/models"
)

func TestValidateTenantDeliveryConfigMissingType(t *testing.T) {
	err := ValidateTenantDeliveryConfig(&models.DeliveryConfig{TenantID: "tenant-a"}, "tenant-a")
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "missing 'type' field")
}

func TestValidateTenantDeliveryConfigUnknownType(t *testing.T) {
	err := ValidateTenantDeliveryConfig(&models.DeliveryConfig{TenantID: "tenant-a", Type: "unknown"}, "tenant-a")
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "invalid delivery type: unknown")
}

func TestValidateStreamConfigMissingFields(t *testing.T) {
	config := &models.DeliveryConfig{TenantID: "tenant-a", Type: models.DeliveryTypeStream}
	err := ValidateTenantDeliveryConfig(config, "tenant-a")
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "log_distribution_role_arn")

	config.LogDistributionRoleArn = "arn:aws:iam::111122223333:role/LogRole"
	err = ValidateTenantDeliveryConfig(config, "tenant-a")
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "log_group_name")
}

func TestValidateStreamConfigComplete(t *testing.T) {
	config := &models.DeliveryConfig{
		TenantID:               "tenant-a",
		Type:                   models.DeliveryTypeStream,
		LogDistributionRoleArn: "arn:aws:iam::111122223333:role/LogRole",
		LogGroupName:           "/aws/logs/tenant-a",
	}
	assert.NoError(t, ValidateTenantDeliveryConfig(config, "tenant-a"))
}

func TestValidateBucketConfigMissingBucketName(t *testing.T) {
	config := &models.DeliveryConfig{TenantID: "tenant-a", Type: models.DeliveryTypeBucket}
	err := ValidateTenantDeliveryConfig(config, "tenant-a")
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "bucket_name")
}

func TestValidateBucketConfigComplete(t *testing.T) {
	config := &models.DeliveryConfig{
		TenantID:   "tenant-a",
		Type:       models.DeliveryTypeBucket,
		BucketName: "tenant-a-logs",
	}
	assert.NoError(t, ValidateTenantDeliveryConfig(config, "tenant-a"))
}
