package models

import (
	"context"
	"fmt"
	"time"

	"bitbucket.org/mmdatafocus/tradeledger_backend/config"
	"bitbucket.org/mmdatafocus/tradeledger_backend/utils"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel/attribute"
	"gorm.io/gorm"
)

const (
	projectionPoints   = 13
	projectionStepDays = 7

	balanceCacheKeyPrefix     = "balance:"
	balanceCacheSetKey        = "balance-snapshots"
	balanceCacheGenerationKey = "balance-generation"
)

// ProjectionPoint is the expected balance on one projection date,
// counting pending installments due after the cutoff and up to that date.
type ProjectionPoint struct {
	Balance decimal.Decimal `json:"balance"`
	Inflow  decimal.Decimal `json:"inflow"`
	Outflow decimal.Decimal `json:"outflow"`
}

type BalanceSnapshot struct {
	CutoffDate           time.Time                  `json:"cutoff_date"`
	TotalIn              decimal.Decimal            `json:"total_in"`
	TotalOut             decimal.Decimal            `json:"total_out"`
	CurrentBalance       decimal.Decimal            `json:"current_balance"`
	OperationDeposits    decimal.Decimal            `json:"operation_deposits"`
	OperationCollections decimal.Decimal            `json:"operation_collections"`
	OverdueDeposits      decimal.Decimal            `json:"overdue_deposits"`
	OverdueCollections   decimal.Decimal            `json:"overdue_collections"`
	FutureDeposits       decimal.Decimal            `json:"future_deposits"`
	FutureCollections    decimal.Decimal            `json:"future_collections"`
	ProjectedBalance     decimal.Decimal            `json:"projected_balance"`
	Projection           map[string]ProjectionPoint `json:"projection"`
	MovementCount        int                        `json:"movement_count"`
}

// movementTotals are the realized sums of the ledger up to a cutoff.
type movementTotals struct {
	totalIn              decimal.Decimal
	totalOut             decimal.Decimal
	operationDeposits    decimal.Decimal
	operationCollections decimal.Decimal
	count                int
}

func (t movementTotals) currentBalance() decimal.Decimal {
	return t.totalIn.Sub(t.totalOut)
}

func loadMovementTotals(ctx context.Context, db *gorm.DB, cutoff time.Time) (movementTotals, error) {
	var movements []*CashMovement
	err := db.WithContext(ctx).
		Select("id", "kind", "amount_in", "amount_out").
		Where("date <= ?", cutoff).
		Find(&movements).Error
	if err != nil {
		return movementTotals{}, err
	}

	totals := movementTotals{count: len(movements)}
	for _, m := range movements {
		totals.totalIn = totals.totalIn.Add(m.AmountIn)
		totals.totalOut = totals.totalOut.Add(m.AmountOut)
		switch m.Kind {
		case MovementKindOperationDeposit:
			totals.operationDeposits = totals.operationDeposits.Add(m.AmountOut)
		case MovementKindOperationCollection:
			totals.operationCollections = totals.operationCollections.Add(m.AmountIn)
		}
	}
	return totals, nil
}

// pendingAmount is a pending installment resolved to money.
type pendingAmount struct {
	kind   ScheduledPaymentKind
	date   time.Time
	amount decimal.Decimal
}

func loadPendingAmounts(ctx context.Context, db *gorm.DB) ([]pendingAmount, error) {
	var installments []*ScheduledPayment
	err := db.WithContext(ctx).
		Where("status = ?", ScheduledPaymentStatusPending).
		Find(&installments).Error
	if err != nil {
		return nil, err
	}
	if len(installments) == 0 {
		return nil, nil
	}

	var operationIds []int
	for _, p := range installments {
		operationIds = append(operationIds, p.OperationId)
	}
	var operations []*Operation
	if err := db.WithContext(ctx).Where("id IN ?", utils.UniqueSlice(operationIds)).Find(&operations).Error; err != nil {
		return nil, err
	}
	byId := make(map[int]*Operation, len(operations))
	for _, o := range operations {
		byId[o.ID] = o
	}

	amounts := make([]pendingAmount, 0, len(installments))
	for _, p := range installments {
		operation, ok := byId[p.OperationId]
		if !ok {
			continue
		}
		amounts = append(amounts, pendingAmount{
			kind:   p.Kind,
			date:   utils.DateOnly(p.ScheduledDate),
			amount: p.Amount(operation),
		})
	}
	return amounts, nil
}

// ComputeBalance returns the realized balance at cutoff (today when nil), the pending
// installments split into overdue and future, and a 13-point weekly projection.
// Snapshots are cached in Redis for BALANCE_CACHE_TTL_SECONDS and retired on every ledger write.
func ComputeBalance(ctx context.Context, cutoff *time.Time) (*BalanceSnapshot, error) {
	ctx, span := tracer.Start(ctx, "models.ComputeBalance")
	defer span.End()

	cutoffDate := utils.Today()
	if cutoff != nil && !cutoff.IsZero() {
		cutoffDate = utils.DateOnly(*cutoff)
	}
	span.SetAttributes(attribute.String("balance.cutoff", utils.FormatDate(cutoffDate)))

	// The generation is read before computing, so a snapshot that races with a ledger
	// write is stored under a generation that invalidateBalanceCache has already retired.
	var cacheKey string
	useCache := !utils.SkipBalanceCache(ctx) && config.BalanceCacheTTL() > 0
	if useCache {
		generation, err := config.GetRedisCounter(balanceCacheGenerationKey)
		if err != nil {
			config.LogError(config.GetLogger(), "models", "ComputeBalance", "read balance generation", nil, err)
			useCache = false
		}
		cacheKey = balanceCacheKey(generation, cutoffDate)
	}
	if useCache {
		cached, err := utils.RetrieveRedis[BalanceSnapshot](cacheKey)
		if err != nil {
			config.LogError(config.GetLogger(), "models", "ComputeBalance", "read balance cache", cacheKey, err)
		} else if cached != nil {
			return cached, nil
		}
	}

	snapshot, err := computeBalance(ctx, config.GetDB(), cutoffDate)
	if err != nil {
		config.LogError(config.GetLogger(), "models", "ComputeBalance", "compute balance", utils.FormatDate(cutoffDate), err)
		return nil, wrapPersistence("compute balance", err)
	}

	if useCache {
		if err := utils.StoreRedisInSet(balanceCacheSetKey, cacheKey, snapshot, config.BalanceCacheTTL()); err != nil {
			config.LogError(config.GetLogger(), "models", "ComputeBalance", "write balance cache", cacheKey, err)
		}
	}

	config.LogInfo(config.GetLogger(), "models", "ComputeBalance", "balance computed", logrus.Fields{
		"cutoff":            utils.FormatDate(cutoffDate),
		"current_balance":   snapshot.CurrentBalance.StringFixed(2),
		"projected_balance": snapshot.ProjectedBalance.StringFixed(2),
		"movements":         snapshot.MovementCount,
	})
	return snapshot, nil
}

func computeBalance(ctx context.Context, db *gorm.DB, cutoff time.Time) (*BalanceSnapshot, error) {
	totals, err := loadMovementTotals(ctx, db, cutoff)
	if err != nil {
		return nil, err
	}
	pending, err := loadPendingAmounts(ctx, db)
	if err != nil {
		return nil, err
	}

	snapshot := BalanceSnapshot{
		CutoffDate:           cutoff,
		TotalIn:              totals.totalIn,
		TotalOut:             totals.totalOut,
		CurrentBalance:       totals.currentBalance(),
		OperationDeposits:    totals.operationDeposits,
		OperationCollections: totals.operationCollections,
		MovementCount:        totals.count,
	}

	for _, p := range pending {
		overdue := !p.date.After(cutoff)
		switch {
		case p.kind == ScheduledPaymentKindPayment && overdue:
			snapshot.OverdueDeposits = snapshot.OverdueDeposits.Add(p.amount)
		case p.kind == ScheduledPaymentKindPayment:
			snapshot.FutureDeposits = snapshot.FutureDeposits.Add(p.amount)
		case overdue:
			snapshot.OverdueCollections = snapshot.OverdueCollections.Add(p.amount)
		default:
			snapshot.FutureCollections = snapshot.FutureCollections.Add(p.amount)
		}
	}

	snapshot.ProjectedBalance = snapshot.CurrentBalance.
		Add(snapshot.OverdueCollections).Add(snapshot.FutureCollections).
		Sub(snapshot.OverdueDeposits).Sub(snapshot.FutureDeposits)
	snapshot.Projection = project(snapshot.CurrentBalance, cutoff, pending)
	return &snapshot, nil
}

// project recomputes each weekly point independently from the pending installments
// falling strictly after cutoff and on or before the point.
func project(current decimal.Decimal, cutoff time.Time, pending []pendingAmount) map[string]ProjectionPoint {
	projection := make(map[string]ProjectionPoint, projectionPoints)
	for i := 0; i < projectionPoints; i++ {
		point := cutoff.AddDate(0, 0, i*projectionStepDays)
		inflow, outflow := decimal.Zero, decimal.Zero
		for _, p := range pending {
			if !p.date.After(cutoff) || p.date.After(point) {
				continue
			}
			if p.kind == ScheduledPaymentKindCollection {
				inflow = inflow.Add(p.amount)
			} else {
				outflow = outflow.Add(p.amount)
			}
		}
		projection[utils.FormatDate(point)] = ProjectionPoint{
			Balance: current.Add(inflow).Sub(outflow),
			Inflow:  inflow,
			Outflow: outflow,
		}
	}
	return projection
}

func balanceCacheKey(generation int64, cutoff time.Time) string {
	return fmt.Sprintf("%s%d:%s", balanceCacheKeyPrefix, generation, utils.FormatDate(cutoff))
}

// invalidateBalanceCache retires the current snapshot generation and drops every cached
// snapshot; called after each committed ledger write.
func invalidateBalanceCache() {
	if _, err := config.IncrRedisCounter(balanceCacheGenerationKey); err != nil {
		config.LogError(config.GetLogger(), "models", "invalidateBalanceCache", "bump balance generation", nil, err)
	}
	if err := utils.ClearRedisSet(balanceCacheSetKey); err != nil {
		config.LogError(config.GetLogger(), "models", "invalidateBalanceCache", "clear balance cache", nil, err)
	}
}
