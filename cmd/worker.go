package main

import (
	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.temporal.io/sdk/client"
	"go.temporal.io/sdk/worker"
	"go.uber.org/zap"

	"github.com/sells-group/contact-match/internal/workflow"
)

var workerCmd = &cobra.Command{
	Use:   "worker",
	Short: "Run the Temporal worker for scheduled scans",
	Long:  "Registers the scan workflow and activity on the configured task queue. When temporal.schedule_cron is set, the recurring scan schedule is created if missing.",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		env, err := initEnv(ctx, cfg, "worker")
		if err != nil {
			return err
		}
		defer env.Close()

		c, err := client.Dial(client.Options{
			HostPort:  cfg.Temporal.HostPort,
			Namespace: cfg.Temporal.Namespace,
			Logger:    workflow.NewLogger(zap.L()),
		})
		if err != nil {
			return eris.Wrap(err, "temporal: dial")
		}
		defer c.Close()

		if err := workflow.EnsureSchedule(ctx, c, workflow.ScheduleConfig{
			ID:        cfg.Temporal.ScheduleID,
			Cron:      cfg.Temporal.ScheduleCron,
			TaskQueue: cfg.Temporal.TaskQueue,
		}); err != nil {
			return err
		}

		w := worker.New(c, cfg.Temporal.TaskQueue, worker.Options{
			// One scan at a time per worker.
			MaxConcurrentActivityExecutionSize: 1,
		})
		w.RegisterWorkflow(workflow.ScanWorkflow)
		w.RegisterActivity(&workflow.Activities{Scans: env.Scans})

		zap.L().Info("starting worker", zap.String("task_queue", cfg.Temporal.TaskQueue))
		if err := w.Run(worker.InterruptCh()); err != nil {
			return eris.Wrap(err, "temporal: worker")
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(workerCmd)
}
