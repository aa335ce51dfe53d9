package workflow

import (
	"context"

	"bitbucket.org/mmdatafocus/tradeledger_backend/config"
	"bitbucket.org/mmdatafocus/tradeledger_backend/models"
	"github.com/sirupsen/logrus"
)

// ReconcileSummary reports a sweep over every operation.
type ReconcileSummary struct {
	Checked int           `json:"checked"`
	Failed  map[int]error `json:"-"`
}

// ReconcileAll re-runs reconciliation for each operation. One failing
// operation does not stop the sweep; it is recorded in Failed.
func ReconcileAll(ctx context.Context, logger *logrus.Logger) (*ReconcileSummary, error) {
	operations, err := models.ListOperations(ctx, nil)
	if err != nil {
		return nil, err
	}

	summary := &ReconcileSummary{Failed: make(map[int]error)}
	for _, op := range operations {
		if ctx.Err() != nil {
			return summary, ctx.Err()
		}
		summary.Checked++
		if err := models.ReconcileOperation(ctx, op.ID); err != nil {
			config.LogError(logger, "ReconcileAll", "ReconcileAll", "reconciling operation", op.ID, err)
			summary.Failed[op.ID] = err
		}
	}

	config.LogInfo(logger, "ReconcileAll", "ReconcileAll", "reconciliation sweep finished", logrus.Fields{
		"checked": summary.Checked,
		"failed":  len(summary.Failed),
	})
	return summary, nil
}
