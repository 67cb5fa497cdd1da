package tenant

import (
	"fmt"
	"strings"

	"github.com/cloudlogs/log-router/internal/models"
)

// ValidateTenantDeliveryConfig checks that config carries every field its
// Type requires. An unrecognized type, or a missing required field, is
// treated as if the tenant had no usable configuration at all (fail closed).
func ValidateTenantDeliveryConfig(config *models.DeliveryConfig, tenantID string) error {
	if config.Type == "" {
		return models.NewTenantNotFoundError(tenantID, "delivery configuration missing 'type' field")
	}

	switch config.Type {
	case models.DeliveryTypeStream:
		return validateStreamConfig(config, tenantID)
	case models.DeliveryTypeBucket:
		return validateBucketConfig(config, tenantID)
	default:
		return models.NewTenantNotFoundError(tenantID, fmt.Sprintf("invalid delivery type: %s", config.Type))
	}
}

func validateStreamConfig(config *models.DeliveryConfig, tenantID string) error {
	requiredFields := []struct{ name, value string }{
		{"log_distribution_role_arn", config.LogDistributionRoleArn},
		{"log_group_name", config.LogGroupName},
	}

	for _, field := range requiredFields {
		if strings.TrimSpace(field.value) == "" {
			return models.NewTenantNotFoundError(tenantID,
				fmt.Sprintf("stream delivery config missing or has empty value for required field: %s", field.name))
		}
	}

	return nil
}

func validateBucketConfig(config *models.DeliveryConfig, tenantID string) error {
	if strings.TrimSpace(config.BucketName) == "" {
		return models.NewTenantNotFoundError(tenantID,
			"bucket delivery config missing or has empty value for required field: bucket_name")
	}

	return nil
}
