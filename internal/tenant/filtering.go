package tenant

import (
	"log/slog"
	"strings"

	"github.com/cloudlogs/log-router/internal/models"
)

// ExpandGroupsToApplications expands group names to their corresponding
// application lists via models.ApplicationGroups. Lookup is case-insensitive;
// unrecognized groups are skipped and logged, not treated as an error.
func ExpandGroupsToApplications(groups []string, logger *slog.Logger) []string {
	var expandedApplications []string

	for _, group := range groups {
		if group == "" {
			logger.Warn("empty group name in groups list, skipping")
			continue
		}

		groupFound := false
		for key, applications := range models.ApplicationGroups {
			if strings.EqualFold(key, group) {
				expandedApplications = append(expandedApplications, applications...)
				logger.Info("expanded group to applications", "group", group, "applications", applications)
				groupFound = true
				break
			}
		}

		if !groupFound {
			availableGroups := make([]string, 0, len(models.ApplicationGroups))
			for k := range models.ApplicationGroups {
				availableGroups = append(availableGroups, k)
			}
			logger.Warn("group not found in APPLICATION_GROUPS dictionary",
				"group", group, "available_groups", availableGroups)
		}
	}

	return expandedApplications
}

// ShouldProcessApplication reports whether applicationName should be
// delivered under config, per the desired_logs ∪ expand(groups) union.
// A config with neither field set processes every application.
func ShouldProcessApplication(config *models.DeliveryConfig, applicationName string, logger *slog.Logger) bool {
	if len(config.DesiredLogs) == 0 && len(config.Groups) == 0 {
		return true
	}

	allowedApplications := make(map[string]bool)

	for _, app := range config.DesiredLogs {
		if app != "" {
			allowedApplications[app] = true
		}
	}

	if len(config.Groups) > 0 {
		for _, app := range ExpandGroupsToApplications(config.Groups, logger) {
			allowedApplications[app] = true
		}
	}

	if len(allowedApplications) == 0 {
		logger.Warn("no valid applications found in desired_logs or groups, processing all applications")
		return true
	}

	shouldProcess := allowedApplications[applicationName]
	if shouldProcess {
		logger.Info("application matches filtering criteria - will process", "application", applicationName)
	} else {
		logger.Info("application does NOT match filtering criteria - will skip processing", "application", applicationName)
	}

	return shouldProcess
}

// ShouldProcessDeliveryConfig reports whether config is active at all. Kept
// distinct from GetTenantDeliveryConfigs' own filter so callers holding a
// config from elsewhere (e.g. a cache) can re-check it cheaply.
func ShouldProcessDeliveryConfig(config *models.DeliveryConfig) bool {
	return config.Enabled
}
