package deletionrun

import (
	"context"
	"fmt"

	"github.com/yungbote/minirag-backend/internal/platform/logger"
	"github.com/yungbote/minirag-backend/internal/services"
)

type Activities struct {
	Log      *logger.Logger
	Deletion services.DeletionService
}

// Step executes one saga step. Steps are idempotent, so Temporal retrying a
// step that partially ran is safe.
func (a *Activities) Step(ctx context.Context, req services.DeletionStepRequest) error {
	if a == nil || a.Deletion == nil {
		return fmt.Errorf("deletionrun: activity not configured")
	}
	if err := a.Deletion.ExecuteStep(ctx, req); err != nil {
		if a.Log != nil {
			a.Log.Warn("Deletion step failed", "step", req.Step, "error", err)
		}
		return err
	}
	return nil
}
