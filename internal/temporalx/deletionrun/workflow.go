package deletionrun

import (
	"time"

	"go.temporal.io/sdk/temporal"
	"go.temporal.io/sdk/workflow"

	"github.com/yungbote/minirag-backend/internal/services"
)

// AssetWorkflow runs the asset deletion saga step by step. Failed steps are
// recorded and the saga keeps going; the report carries the outcome of every
// step so the caller can see exactly what remains.
func AssetWorkflow(ctx workflow.Context, params services.AssetDeletionParams) (services.DeletionReport, error) {
	return runSteps(ctx, services.AssetDeletionSteps(params))
}

// ProjectWorkflow runs the project deletion saga.
func ProjectWorkflow(ctx workflow.Context, params services.ProjectDeletionParams) (services.DeletionReport, error) {
	return runSteps(ctx, services.ProjectDeletionSteps(params))
}

func runSteps(ctx workflow.Context, steps []services.DeletionStepRequest) (services.DeletionReport, error) {
	ctx = workflow.WithActivityOptions(ctx, workflow.ActivityOptions{
		StartToCloseTimeout: 2 * time.Minute,
		RetryPolicy: &temporal.RetryPolicy{
			InitialInterval:    time.Second,
			BackoffCoefficient: 2,
			MaximumInterval:    30 * time.Second,
			MaximumAttempts:    5,
		},
	})

	report := services.DeletionReport{Succeeded: true}
	for _, step := range steps {
		entry := services.DeletionStep{Step: step.Step, OK: true}
		if err := workflow.ExecuteActivity(ctx, ActivityStep, step).Get(ctx, nil); err != nil {
			entry.OK = false
			entry.Detail = err.Error()
			report.Succeeded = false
		}
		report.Steps = append(report.Steps, entry)
	}
	return report, nil
}
