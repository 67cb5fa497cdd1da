// Package tenant resolves a tenant_id to its delivery configurations and
// applies the desired_logs/groups filter against individual applications.
package tenant

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	"github.com/cloudlogs/log-router/internal/models"
)

// DynamoDBQueryAPI is the subset of the DynamoDB client ConfigManager needs.
type DynamoDBQueryAPI interface {
	Query(ctx context.Context, params *dynamodb.QueryInput, optFns ...func(*dynamodb.Options)) (*dynamodb.QueryOutput, error)
}

type cacheEntry struct {
	configs   []*models.DeliveryConfig
	expiresAt time.Time
}

// ConfigManager retrieves tenant delivery configurations from DynamoDB,
// caching the enabled, validated result per tenant for a bounded TTL (§6
// TENANT_CONFIG_CACHE_TTL_SECONDS) so a burst of objects for the same tenant
// doesn't re-query DynamoDB per object.
type ConfigManager struct {
	client    DynamoDBQueryAPI
	tableName string
	ttl       time.Duration
	logger    *slog.Logger

	mu    sync.Mutex
	cache map[string]cacheEntry
}

// NewConfigManager creates a tenant configuration manager. A zero ttl
// disables caching — every lookup hits DynamoDB.
func NewConfigManager(client DynamoDBQueryAPI, tableName string, ttl time.Duration, logger *slog.Logger) *ConfigManager {
	return &ConfigManager{
		client:    client,
		tableName: tableName,
		ttl:       ttl,
		logger:    logger,
		cache:     make(map[string]cacheEntry),
	}
}

// GetTenantDeliveryConfigs returns the enabled, validated delivery
// configurations for tenantID, fail-closed: any validation failure for any
// one config aborts the whole lookup rather than silently dropping it.
func (cm *ConfigManager) GetTenantDeliveryConfigs(ctx context.Context, tenantID string) ([]*models.DeliveryConfig, error) {
	if tenantID == "" {
		cm.logger.Warn("invalid tenant_id (empty string) for DynamoDB lookup - indicates malformed S3 path")
		return nil, models.NewTenantNotFoundError(tenantID, "invalid tenant_id (empty string) from malformed S3 path")
	}

	if cached, ok := cm.fromCache(tenantID); ok {
		return cached, nil
	}

	configs, err := cm.queryAndValidate(ctx, tenantID)
	if err != nil {
		return nil, err
	}

	cm.storeInCache(tenantID, configs)
	return configs, nil
}

func (cm *ConfigManager) fromCache(tenantID string) ([]*models.DeliveryConfig, bool) {
	if cm.ttl <= 0 {
		return nil, false
	}
	cm.mu.Lock()
	defer cm.mu.Unlock()
	entry, ok := cm.cache[tenantID]
	if !ok || time.Now().After(entry.expiresAt) {
		return nil, false
	}
	return entry.configs, true
}

func (cm *ConfigManager) storeInCache(tenantID string, configs []*models.DeliveryConfig) {
	if cm.ttl <= 0 {
		return
	}
	cm.mu.Lock()
	defer cm.mu.Unlock()
	cm.cache[tenantID] = cacheEntry{configs: configs, expiresAt: time.Now().Add(cm.ttl)}
}

func (cm *ConfigManager) queryAndValidate(ctx context.Context, tenantID string) ([]*models.DeliveryConfig, error) {
	input := &dynamodb.QueryInput{
		TableName:              aws.String(cm.tableName),
		KeyConditionExpression: aws.String("tenant_id = :tenant_id"),
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":tenant_id": &types.AttributeValueMemberS{Value: tenantID},
		},
	}

	result, err := cm.client.Query(ctx, input)
	if err != nil {
		if strings.Contains(err.Error(), "ValidationException") && strings.Contains(err.Error(), "empty string value") {
			cm.logger.Warn("DynamoDB ValidationException for empty string tenant_id", "tenant_id", tenantID)
			return nil, models.NewTenantNotFoundError(tenantID, "invalid tenant_id (empty string) from malformed S3 path")
		}
		cm.logger.Error("failed to query DynamoDB for tenant configs", "tenant_id", tenantID, "error", err)
		return nil, fmt.Errorf("failed to get tenant delivery configurations for %s: %w", tenantID, err)
	}

	if len(result.Items) == 0 {
		return nil, models.NewTenantNotFoundError(tenantID, "no delivery configurations found for tenant")
	}

	var configs []*models.DeliveryConfig
	for _, item := range result.Items {
		var config models.DeliveryConfig
		if err := attributevalue.UnmarshalMap(item, &config); err != nil {
			cm.logger.Error("failed to unmarshal delivery config", "tenant_id", tenantID, "error", err)
			continue
		}

		// Absent enabled defaults to true (backward compatibility).
		if item["enabled"] == nil {
			config.Enabled = true
		}

		configs = append(configs, &config)
	}

	enabledConfigs := make([]*models.DeliveryConfig, 0, len(configs))
	for _, config := range configs {
		if !config.Enabled {
			continue
		}
		if err := ValidateTenantDeliveryConfig(config, tenantID); err != nil {
			return nil, err
		}
		enabledConfigs = append(enabledConfigs, config)
	}

	if len(enabledConfigs) == 0 {
		return nil, models.NewTenantNotFoundError(tenantID, "no enabled delivery configurations found for tenant")
	}

	configTypes := make([]string, len(enabledConfigs))
	for i, config := range enabledConfigs {
		configTypes[i] = config.Type
	}
	cm.logger.Info("retrieved enabled delivery configs for tenant",
		"tenant_id", tenantID, "count", len(enabledConfigs), "types", configTypes)

	for _, config := range enabledConfigs {
		if len(config.DesiredLogs) > 0 || len(config.Groups) > 0 {
			cm.logger.Info("delivery config with filtering",
				"type", config.Type, "desired_logs", config.DesiredLogs, "groups", config.Groups)
		} else {
			cm.logger.Info("delivery config without filtering (all applications will be processed)", "type", config.Type)
		}
	}

	return enabledConfigs, nil
}

// InvalidateCache drops any cached entry for tenantID, forcing the next
// lookup to re-query DynamoDB.
func (cm *ConfigManager) InvalidateCache(tenantID string) {
	cm.mu.Lock()
	defer cm.mu.Unlock()
	delete(cm.cache, tenantID)
}
