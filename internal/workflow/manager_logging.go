package workflow

import (
	"context"
	"fmt"
	"log/slog"

	"speecheval/internal/logging"
	"speecheval/internal/queue"
	"speecheval/internal/services"
)

func (m *Manager) workerLogger(index int) *slog.Logger {
	return m.logger.With(
		logging.String(logging.FieldComponent, fmt.Sprintf("workflow-worker-%d", index)),
	)
}

func (m *Manager) stageLogger(ctx context.Context) *slog.Logger {
	base := m.logger
	if base == nil {
		base = logging.NewNop()
	}
	return logging.WithContext(ctx, base.With(logging.String(logging.FieldComponent, "workflow-manager")))
}

func withStageContext(ctx context.Context, stageName string, job *queue.Job, requestID string) context.Context {
	if ctx == nil {
		ctx = context.Background()
	}
	if job != nil {
		ctx = services.WithJobID(ctx, job.ID)
	}
	if stageName != "" {
		ctx = services.WithStage(ctx, stageName)
	}
	if requestID != "" {
		ctx = services.WithRequestID(ctx, requestID)
	}
	return ctx
}
