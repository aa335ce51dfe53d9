package models

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"bitbucket.org/mmdatafocus/tradeledger_backend/config"
	"bitbucket.org/mmdatafocus/tradeledger_backend/utils"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel/attribute"
	"gorm.io/gorm"
)

// CashMovement is a realized cash inflow or outflow. Rows are never edited, only deleted.
type CashMovement struct {
	ID          int             `gorm:"primary_key" json:"id"`
	Date        time.Time       `gorm:"index;not null" json:"date"`
	Kind        MovementKind    `gorm:"size:30;not null;index" json:"kind"`
	Description string          `gorm:"size:255;not null" json:"description"`
	AmountIn    decimal.Decimal `gorm:"type:decimal(20,4);default:0" json:"amount_in"`
	AmountOut   decimal.Decimal `gorm:"type:decimal(20,4);default:0" json:"amount_out"`
	Reference   string          `gorm:"size:255" json:"reference"`
	Notes       string          `gorm:"type:text" json:"notes"`
	OperationId *int            `gorm:"index" json:"operation_id"`
	CreatedAt   time.Time       `gorm:"autoCreateTime" json:"created_at"`
}

type NewCashMovement struct {
	Date        time.Time       `json:"date" validate:"required"`
	Kind        MovementKind    `json:"kind"`
	Description string          `json:"description"`
	AmountIn    decimal.Decimal `json:"amount_in"`
	AmountOut   decimal.Decimal `json:"amount_out"`
	Reference   string          `json:"reference" validate:"max=255"`
	Notes       string          `json:"notes"`
	OperationId *int            `json:"operation_id"`
}

const (
	ledgerLockKey          = "ledger-lock"
	operationLockKeyPrefix = "operation-lock:"
)

func (input *NewCashMovement) validate() error {
	if !input.Kind.IsValid() {
		return newValidationError("kind", "invalid movement kind '"+string(input.Kind)+"'")
	}
	input.Description = strings.TrimSpace(input.Description)
	if input.Description == "" {
		return newValidationError("description", "description is required")
	}
	if input.AmountIn.IsNegative() || input.AmountOut.IsNegative() {
		return newValidationError("amount", "amounts must not be negative")
	}
	if input.AmountIn.IsPositive() == input.AmountOut.IsPositive() {
		return newValidationError("amount", "exactly one of amount_in and amount_out must be positive")
	}
	if err := utils.ValidateStruct(input); err != nil {
		return fromStructValidation("movement", err)
	}
	return nil
}

// obtainMovementLocks serializes writers that read the balance or an operation's deposits.
// It is a no-op unless OPERATION_LOCKING is set.
func obtainMovementLocks(ctx context.Context, amountOut decimal.Decimal, operationId *int) (func(), error) {
	if !config.OperationLockingEnabled() {
		return func() {}, nil
	}
	var keys []string
	if amountOut.IsPositive() {
		keys = append(keys, ledgerLockKey)
	}
	if operationId != nil {
		keys = append(keys, operationLockKeyPrefix+strconv.Itoa(*operationId))
	}
	if len(keys) == 0 {
		return func() {}, nil
	}
	release, err := utils.ObtainLocks(ctx, "models", "obtainMovementLocks", keys...)
	if err != nil {
		if errors.Is(err, utils.ErrorLockNotObtained) {
			return nil, newValidationError("operation", "operation is busy, try again")
		}
		return nil, err
	}
	return release, nil
}

// RecordMovement appends a movement to the ledger. Deposits and collections linked to an
// operation reconcile its schedule in the same transaction.
func RecordMovement(ctx context.Context, input *NewCashMovement) (*CashMovement, error) {
	ctx, span := tracer.Start(ctx, "models.RecordMovement")
	defer span.End()

	if err := input.validate(); err != nil {
		return nil, err
	}
	release, err := obtainMovementLocks(ctx, input.AmountOut, input.OperationId)
	if err != nil {
		return nil, err
	}
	defer release()

	db := config.GetDB()
	tx := db.Begin()
	movement, err := recordMovement(ctx, tx, input)
	if err != nil {
		tx.Rollback()
		return nil, wrapPersistence("record movement", err)
	}
	if err := tx.Commit().Error; err != nil {
		config.LogError(config.GetLogger(), "models", "RecordMovement", "commit", input, err)
		return nil, wrapPersistence("commit movement", err)
	}
	invalidateBalanceCache()

	span.SetAttributes(attribute.Int("movement.id", movement.ID), attribute.String("movement.kind", string(movement.Kind)))
	config.LogInfo(config.GetLogger(), "models", "RecordMovement", "movement created", logrus.Fields{
		"movement_id":  movement.ID,
		"kind":         movement.Kind,
		"description":  movement.Description,
		"operation_id": movement.OperationId,
	})
	return movement, nil
}

// recordMovement runs the balance and cost basis checks, then writes the movement on tx.
func recordMovement(ctx context.Context, tx *gorm.DB, input *NewCashMovement) (*CashMovement, error) {
	var operation *Operation
	if input.OperationId != nil {
		var err error
		operation, err = getOperation(ctx, tx, *input.OperationId, false)
		if err != nil {
			return nil, err
		}
	}

	if input.AmountOut.IsPositive() {
		totals, err := loadMovementTotals(ctx, tx, utils.Today())
		if err != nil {
			return nil, err
		}
		if input.AmountOut.GreaterThan(totals.currentBalance()) {
			return nil, newValidationError("amount_out", "insufficient balance, available: "+totals.currentBalance().StringFixed(2))
		}
	}

	if input.Kind == MovementKindOperationDeposit && operation != nil {
		deposits, err := operationMovements(ctx, tx, operation.ID, MovementKindOperationDeposit)
		if err != nil {
			return nil, err
		}
		prior := decimal.Zero
		for _, d := range deposits {
			prior = prior.Add(d.AmountOut)
		}
		total := prior.Add(input.AmountOut)
		if total.GreaterThan(operation.CostBasis()) {
			return nil, newValidationError("amount_out", fmt.Sprintf("total deposits (%s) would exceed the operation cost (%s)",
				total.StringFixed(2), operation.CostBasis().StringFixed(2)))
		}
	}

	movement := CashMovement{
		Date:        utils.DateOnly(input.Date),
		Kind:        input.Kind,
		Description: input.Description,
		AmountIn:    input.AmountIn,
		AmountOut:   input.AmountOut,
		Reference:   strings.TrimSpace(input.Reference),
		Notes:       input.Notes,
	}
	if operation != nil {
		id := operation.ID
		movement.OperationId = &id
	}
	if err := tx.WithContext(ctx).Create(&movement).Error; err != nil {
		return nil, err
	}

	if operation != nil && movement.Kind.Reconciles() {
		if err := reconcileOperation(ctx, tx, operation); err != nil {
			return nil, err
		}
	}

	if err := writeLedgerEvent(ctx, tx, LedgerEventReferenceMovement, movement.ID, LedgerEventActionCreate, movement); err != nil {
		return nil, err
	}
	return &movement, nil
}

func operationMovements(ctx context.Context, db *gorm.DB, operationId int, kinds ...MovementKind) ([]*CashMovement, error) {
	dbCtx := db.WithContext(ctx).Where("operation_id = ?", operationId)
	if len(kinds) > 0 {
		dbCtx = dbCtx.Where("kind IN ?", kinds)
	}
	var movements []*CashMovement
	if err := dbCtx.Order("date, id").Find(&movements).Error; err != nil {
		return nil, err
	}
	return movements, nil
}

// ListMovements returns movements newest first, optionally bounded by date.
func ListMovements(ctx context.Context, from *time.Time, to *time.Time) ([]*CashMovement, error) {
	dbCtx := config.GetDB().WithContext(ctx)
	if from != nil {
		dbCtx = dbCtx.Where("date >= ?", utils.DateOnly(*from))
	}
	if to != nil {
		dbCtx = dbCtx.Where("date <= ?", utils.DateOnly(*to))
	}
	var movements []*CashMovement
	if err := dbCtx.Order("date DESC, id DESC").Find(&movements).Error; err != nil {
		return nil, wrapPersistence("list movements", err)
	}
	return movements, nil
}

func ListMovementsByOperation(ctx context.Context, operationId int) ([]*CashMovement, error) {
	db := config.GetDB()
	if err := utils.ValidateResourceId[Operation](ctx, db, operationId); err != nil {
		if errors.Is(err, utils.ErrorRecordNotFound) {
			return nil, newNotFoundError("operation", operationId)
		}
		return nil, wrapPersistence("list operation movements", err)
	}
	movements, err := utils.FetchModelsWhere[CashMovement](ctx, db, "date DESC, id DESC", "operation_id = ?", operationId)
	if err != nil {
		return nil, wrapPersistence("list operation movements", err)
	}
	return movements, nil
}

type OperationCashSummary struct {
	OperationId   int             `json:"operation_id"`
	Deposits      decimal.Decimal `json:"deposits"`
	Collections   decimal.Decimal `json:"collections"`
	Net           decimal.Decimal `json:"net"`
	MovementCount int             `json:"movement_count"`
}

// GetOperationCashSummary nets every movement linked to the operation.
func GetOperationCashSummary(ctx context.Context, operationId int) (*OperationCashSummary, error) {
	movements, err := ListMovementsByOperation(ctx, operationId)
	if err != nil {
		return nil, err
	}
	summary := OperationCashSummary{OperationId: operationId, MovementCount: len(movements)}
	for _, m := range movements {
		switch m.Kind {
		case MovementKindOperationDeposit:
			summary.Deposits = summary.Deposits.Add(m.AmountOut)
		case MovementKindOperationCollection:
			summary.Collections = summary.Collections.Add(m.AmountIn)
		}
		summary.Net = summary.Net.Add(m.AmountIn).Sub(m.AmountOut)
	}
	return &summary, nil
}

// DeleteMovement removes a movement and re-derives the schedule of the operation it was linked to.
func DeleteMovement(ctx context.Context, id int) (*CashMovement, error) {
	db := config.GetDB()
	tx := db.Begin()
	movement, err := utils.FetchModel[CashMovement](ctx, tx, id)
	if err != nil {
		tx.Rollback()
		if errors.Is(err, utils.ErrorRecordNotFound) {
			return nil, newNotFoundError("movement", id)
		}
		return nil, wrapPersistence("delete movement", err)
	}

	if err := tx.WithContext(ctx).Delete(movement).Error; err != nil {
		tx.Rollback()
		return nil, wrapPersistence("delete movement", err)
	}
	if movement.OperationId != nil && movement.Kind.Reconciles() {
		operation, err := getOperation(ctx, tx, *movement.OperationId, false)
		if err == nil {
			err = reconcileOperation(ctx, tx, operation)
		} else if IsNotFound(err) {
			err = nil
		}
		if err != nil {
			tx.Rollback()
			return nil, wrapPersistence("reconcile after delete", err)
		}
	}
	if err := writeLedgerEvent(ctx, tx, LedgerEventReferenceMovement, id, LedgerEventActionDelete, movement); err != nil {
		tx.Rollback()
		return nil, wrapPersistence("delete movement", err)
	}
	if err := tx.Commit().Error; err != nil {
		return nil, wrapPersistence("commit delete movement", err)
	}
	invalidateBalanceCache()
	return movement, nil
}

// SettleScheduledPayment records the full amount of a pending installment as a movement on date.
// The installment's status and actual date come from the reconciliation that follows the movement.
// In sequential mode installments of a kind must be settled in sequence order.
func SettleScheduledPayment(ctx context.Context, id int, date time.Time) (*ScheduledPayment, error) {
	payment, err := GetScheduledPayment(ctx, id)
	if err != nil {
		return nil, err
	}
	if payment.Status != ScheduledPaymentStatusPending {
		return nil, newValidationError("status", "only pending installments can be settled")
	}
	operation, err := GetOperation(ctx, payment.OperationId)
	if err != nil {
		return nil, err
	}

	amount := payment.Amount(operation)
	input := &NewCashMovement{
		Date:        date,
		OperationId: &operation.ID,
	}
	if payment.Kind == ScheduledPaymentKindPayment {
		input.Kind = MovementKindOperationDeposit
		input.Description = fmt.Sprintf("Deposit: %s - Op #%d", payment.Description, operation.ID)
		input.AmountOut = amount
	} else {
		input.Kind = MovementKindOperationCollection
		input.Description = fmt.Sprintf("Collection: %s - Op #%d", payment.Description, operation.ID)
		input.AmountIn = amount
	}
	if err := input.validate(); err != nil {
		return nil, err
	}

	release, err := obtainMovementLocks(ctx, input.AmountOut, input.OperationId)
	if err != nil {
		return nil, err
	}
	defer release()

	db := config.GetDB()
	tx := db.Begin()
	if config.SequentialReconciliation() {
		earlier, err := utils.ResourceCountWhere[ScheduledPayment](ctx, tx,
			"operation_id = ? AND kind = ? AND status = ? AND (sequence_number < ? OR (sequence_number = ? AND id < ?))",
			payment.OperationId, payment.Kind, ScheduledPaymentStatusPending, payment.SequenceNumber, payment.SequenceNumber, payment.ID)
		if err != nil {
			tx.Rollback()
			return nil, wrapPersistence("settle scheduled payment", err)
		}
		if earlier > 0 {
			tx.Rollback()
			return nil, newValidationError("sequence_number", "earlier installments must be settled first")
		}
	}
	if _, err := recordMovement(ctx, tx, input); err != nil {
		tx.Rollback()
		return nil, wrapPersistence("settle scheduled payment", err)
	}
	var settled ScheduledPayment
	if err := tx.WithContext(ctx).First(&settled, id).Error; err != nil {
		tx.Rollback()
		return nil, wrapPersistence("settle scheduled payment", err)
	}
	if settled.Status != ScheduledPaymentStatusPaid {
		tx.Rollback()
		return nil, newValidationError("amount", "movement does not cover the installment")
	}
	event := map[string]interface{}{"status": settled.Status}
	if settled.ActualDate != nil {
		event["actual_date"] = utils.FormatDate(*settled.ActualDate)
	}
	if err := writeLedgerEvent(ctx, tx, LedgerEventReferenceScheduledPayment, id, LedgerEventActionUpdate, event); err != nil {
		tx.Rollback()
		return nil, wrapPersistence("settle scheduled payment", err)
	}
	if err := tx.Commit().Error; err != nil {
		return nil, wrapPersistence("commit settlement", err)
	}
	invalidateBalanceCache()

	return GetScheduledPayment(ctx, id)
}
