package workflow

import (
	"context"
	"errors"

	"github.com/rotisserie/eris"
	"go.temporal.io/sdk/client"
	"go.temporal.io/sdk/temporal"
	"go.uber.org/zap"
)

// ScheduleConfig describes the recurring scan.
type ScheduleConfig struct {
	ID        string
	Cron      string
	TaskQueue string
	Input     ScanInput
}

// EnsureSchedule creates the scan schedule unless one with the same id
// already exists. An empty cron expression disables scheduling.
func EnsureSchedule(ctx context.Context, c client.Client, cfg ScheduleConfig) error {
	if cfg.Cron == "" {
		return nil
	}
	if cfg.TaskQueue == "" {
		cfg.TaskQueue = DefaultTaskQueue
	}
	_, err := c.ScheduleClient().Create(ctx, client.ScheduleOptions{
		ID: cfg.ID,
		Spec: client.ScheduleSpec{
			CronExpressions: []string{cfg.Cron},
		},
		Action: &client.ScheduleWorkflowAction{
			ID:        cfg.ID + "-run",
			Workflow:  ScanWorkflow,
			Args:      []interface{}{cfg.Input},
			TaskQueue: cfg.TaskQueue,
		},
	})
	if errors.Is(err, temporal.ErrScheduleAlreadyRunning) {
		zap.L().Info("workflow: schedule already exists", zap.String("component", "workflow"), zap.String("schedule_id", cfg.ID))
		return nil
	}
	if err != nil {
		return eris.Wrapf(err, "workflow: create schedule %s", cfg.ID)
	}
	zap.L().Info("workflow: schedule created",
		zap.String("component", "workflow"),
		zap.String("schedule_id", cfg.ID),
		zap.String("cron", cfg.Cron),
	)
	return nil
}
