// Package workflow runs scheduled scans on Temporal.
package workflow

import (
	"context"
	"errors"
	"time"

	"go.temporal.io/sdk/temporal"
	"go.temporal.io/sdk/workflow"
	"go.uber.org/zap"

	"github.com/sells-group/contact-match/internal/model"
	"github.com/sells-group/contact-match/internal/scanjob"
)

// ErrTypeScanRunning marks an activity failure caused by another running
// scan. It is never retried.
const ErrTypeScanRunning = "ScanRunning"

// DefaultTaskQueue is the queue workers poll when none is configured.
const DefaultTaskQueue = "contact-match"

// ScanInput selects the scan mode.
type ScanInput struct {
	DevelopmentMode bool `json:"development_mode"`
}

// ScanOutput summarises a finished job.
type ScanOutput struct {
	JobID  string           `json:"job_id"`
	Status model.ScanStatus `json:"status"`
	Stats  model.ScanStats  `json:"stats"`
}

// Runner runs one scan job to completion.
type Runner interface {
	Run(ctx context.Context, opts scanjob.Options) (*model.ScanJob, error)
}

// Activities holds the activity implementations registered with a worker.
type Activities struct {
	Scans Runner
}

var activities *Activities

// ScanWorkflow runs a single scan job.
func ScanWorkflow(ctx workflow.Context, in ScanInput) (*ScanOutput, error) {
	ctx = workflow.WithActivityOptions(ctx, workflow.ActivityOptions{
		StartToCloseTimeout: 4 * time.Hour,
		RetryPolicy: &temporal.RetryPolicy{
			InitialInterval:        time.Minute,
			BackoffCoefficient:     2,
			MaximumInterval:        15 * time.Minute,
			MaximumAttempts:        3,
			NonRetryableErrorTypes: []string{ErrTypeScanRunning},
		},
	})

	var out ScanOutput
	if err := workflow.ExecuteActivity(ctx, activities.RunScan, in).Get(ctx, &out); err != nil {
		return nil, err
	}
	workflow.GetLogger(ctx).Info("scan workflow finished",
		"job_id", out.JobID,
		"status", string(out.Status),
		"candidates_created", out.Stats.CandidatesCreated,
	)
	return &out, nil
}

// RunScan runs a scan job and reports its outcome. A cancelled job is not an
// error.
func (a *Activities) RunScan(ctx context.Context, in ScanInput) (*ScanOutput, error) {
	log := zap.L().With(zap.String("component", "workflow"))
	job, err := a.Scans.Run(ctx, scanjob.Options{DevelopmentMode: in.DevelopmentMode})
	if errors.Is(err, scanjob.ErrScanRunning) {
		log.Info("workflow: scan skipped, another scan is running")
		return nil, temporal.NewNonRetryableApplicationError(err.Error(), ErrTypeScanRunning, err)
	}
	if err != nil {
		return nil, err
	}
	return &ScanOutput{JobID: job.ID, Status: job.Status, Stats: job.Stats}, nil
}
