package models

import (
	"context"
	"time"

	"bitbucket.org/mmdatafocus/tradeledger_backend/config"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel/attribute"
	"gorm.io/gorm"
)

// ReconcileOperation recomputes PENDING/PAID for every non-cancelled installment of the
// operation from the movements linked to it. Running it again without new movements changes nothing.
func ReconcileOperation(ctx context.Context, operationId int) error {
	ctx, span := tracer.Start(ctx, "models.ReconcileOperation")
	defer span.End()
	span.SetAttributes(attribute.Int("operation.id", operationId))

	db := config.GetDB()
	tx := db.Begin()
	operation, err := getOperation(ctx, tx, operationId, false)
	if err != nil {
		tx.Rollback()
		return err
	}
	if err := reconcileOperation(ctx, tx, operation); err != nil {
		tx.Rollback()
		config.LogError(config.GetLogger(), "models", "ReconcileOperation", "reconcile", operationId, err)
		return wrapPersistence("reconcile operation", err)
	}
	if err := tx.Commit().Error; err != nil {
		return wrapPersistence("commit reconciliation", err)
	}
	invalidateBalanceCache()
	return nil
}

// installmentState is the derived status of one installment.
type installmentState struct {
	status     ScheduledPaymentStatus
	actualDate *time.Time
}

// realizedFlow is one deposit or collection amount on its date.
type realizedFlow struct {
	date   time.Time
	amount decimal.Decimal
}

func reconcileOperation(ctx context.Context, tx *gorm.DB, operation *Operation) error {
	movements, err := operationMovements(ctx, tx, operation.ID, MovementKindOperationDeposit, MovementKindOperationCollection)
	if err != nil {
		return err
	}
	var installments []*ScheduledPayment
	err = tx.WithContext(ctx).
		Where("operation_id = ? AND status <> ?", operation.ID, ScheduledPaymentStatusCancelled).
		Order("sequence_number, id").
		Find(&installments).Error
	if err != nil {
		return err
	}

	flows := map[ScheduledPaymentKind][]realizedFlow{}
	for _, m := range movements {
		if m.Kind == MovementKindOperationDeposit {
			flows[ScheduledPaymentKindPayment] = append(flows[ScheduledPaymentKindPayment], realizedFlow{date: m.Date, amount: m.AmountOut})
		} else {
			flows[ScheduledPaymentKindCollection] = append(flows[ScheduledPaymentKindCollection], realizedFlow{date: m.Date, amount: m.AmountIn})
		}
	}

	sequential := config.SequentialReconciliation()
	changed := 0
	for _, kind := range []ScheduledPaymentKind{ScheduledPaymentKindPayment, ScheduledPaymentKindCollection} {
		var group []*ScheduledPayment
		var amounts []decimal.Decimal
		for _, p := range installments {
			if p.Kind == kind {
				group = append(group, p)
				amounts = append(amounts, p.Amount(operation))
			}
		}
		if len(group) == 0 {
			continue
		}

		var states []installmentState
		if sequential {
			states = sequentialStates(amounts, flows[kind])
		} else {
			states = aggregateStates(amounts, flows[kind])
		}

		for i, p := range group {
			if p.Status == states[i].status && sameDate(p.ActualDate, states[i].actualDate) {
				continue
			}
			err := tx.WithContext(ctx).Model(&ScheduledPayment{}).Where("id = ?", p.ID).Updates(map[string]interface{}{
				"status":      states[i].status,
				"actual_date": states[i].actualDate,
			}).Error
			if err != nil {
				return err
			}
			p.Status = states[i].status
			p.ActualDate = states[i].actualDate
			changed++
		}
	}

	config.GetLogger().WithFields(logrus.Fields{
		"module":       "models",
		"funcName":     "reconcileOperation",
		"operation_id": operation.ID,
		"sequential":   sequential,
		"changed":      changed,
	}).Debug("operation reconciled")
	return nil
}

// aggregateStates compares the running total of all flows with each installment on its own:
// any installment not larger than the total is PAID on the latest flow date.
func aggregateStates(amounts []decimal.Decimal, flows []realizedFlow) []installmentState {
	total := decimal.Zero
	var latest *time.Time
	for _, f := range flows {
		total = total.Add(f.amount)
		if latest == nil || f.date.After(*latest) {
			d := f.date
			latest = &d
		}
	}

	states := make([]installmentState, len(amounts))
	for i, amount := range amounts {
		if total.GreaterThanOrEqual(amount) {
			states[i] = installmentState{status: ScheduledPaymentStatusPaid, actualDate: latest}
		} else {
			states[i] = installmentState{status: ScheduledPaymentStatusPending}
		}
	}
	return states
}

// sequentialStates lets installments consume the flows in order. An installment is PAID on the
// date of the flow that completed it; once one is uncovered, it and all later ones stay PENDING.
// flows must be sorted by date.
func sequentialStates(amounts []decimal.Decimal, flows []realizedFlow) []installmentState {
	states := make([]installmentState, len(amounts))
	consumed := decimal.Zero
	covered := true
	for i, amount := range amounts {
		states[i] = installmentState{status: ScheduledPaymentStatusPending}
		if !covered {
			continue
		}
		need := consumed.Add(amount)
		date, ok := dateReaching(flows, need)
		if !ok {
			covered = false
			continue
		}
		states[i] = installmentState{status: ScheduledPaymentStatusPaid, actualDate: date}
		consumed = need
	}
	return states
}

// dateReaching returns the date on which the cumulative flow first reaches target.
func dateReaching(flows []realizedFlow, target decimal.Decimal) (*time.Time, bool) {
	if !target.IsPositive() {
		if len(flows) == 0 {
			return nil, true
		}
		d := flows[0].date
		return &d, true
	}
	cumulative := decimal.Zero
	for _, f := range flows {
		cumulative = cumulative.Add(f.amount)
		if cumulative.GreaterThanOrEqual(target) {
			d := f.date
			return &d, true
		}
	}
	return nil, false
}

func sameDate(a *time.Time, b *time.Time) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return a.Equal(*b)
}
