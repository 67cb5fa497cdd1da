package processor

import (
	"log/slog"

	"github.com/cloudlogs/log-router/internal/models"
)

func getTestLogger() *slog.Logger {
	return models.NewDefaultLogger()
}
