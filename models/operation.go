package models

import (
	"context"
	"errors"
	"strings"
	"time"

	"bitbucket.org/mmdatafocus/tradeledger_backend/config"
	"bitbucket.org/mmdatafocus/tradeledger_backend/utils"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"gorm.io/gorm"
)

var tracer = otel.Tracer("tradeledger_backend/models")

// Operation is one buy-sell trade with its commercial terms and the margin derived at creation.
type Operation struct {
	ID                   int                 `gorm:"primary_key" json:"id"`
	SupplierId           int                 `gorm:"index;not null" json:"supplier_id"`
	CustomerId           int                 `gorm:"index;not null" json:"customer_id"`
	LogisticsAgentId     *int                `gorm:"index" json:"logistics_agent_id"`
	HsCodeId             *int                `gorm:"index" json:"hs_code_id"`
	PurchaseIncoterm     PurchaseIncoterm    `gorm:"size:3;not null" json:"purchase_incoterm"`
	PurchaseValue        decimal.Decimal     `gorm:"type:decimal(20,4);default:0" json:"purchase_value"`
	DepositPercentage    *decimal.Decimal    `gorm:"type:decimal(20,4)" json:"deposit_percentage"`
	DepositDate          *time.Time          `json:"deposit_date"`
	EstimatedBalanceDate *time.Time          `json:"estimated_balance_date"`
	FreightCost          decimal.Decimal     `gorm:"type:decimal(20,4);default:0" json:"freight_cost"`
	CustomsAgentCost     decimal.Decimal     `gorm:"type:decimal(20,4);default:0" json:"customs_agent_cost"`
	SaleIncoterm         SaleIncoterm        `gorm:"size:3;not null" json:"sale_incoterm"`
	SaleValue            decimal.Decimal     `gorm:"type:decimal(20,4);default:0" json:"sale_value"`
	GoodsOrigin          string              `gorm:"size:255" json:"goods_origin"`
	SaleDescription      string              `gorm:"type:text" json:"sale_description"`
	Notes                string              `gorm:"type:text" json:"notes"`
	HblDate              *time.Time          `json:"hbl_date"`
	ExternalReference    *string             `gorm:"size:100;uniqueIndex" json:"external_reference"`
	ComputedMargin       decimal.Decimal     `gorm:"type:decimal(20,4);default:0" json:"computed_margin"`
	ComputedMarginPct    decimal.Decimal     `gorm:"type:decimal(20,4);default:0" json:"computed_margin_pct"`
	Status               OperationStatus     `gorm:"size:20;not null;default:'ACTIVE';index" json:"status"`
	ScheduledPayments    []*ScheduledPayment `gorm:"foreignKey:OperationId" json:"scheduled_payments,omitempty"`
	CreatedAt            time.Time           `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt            time.Time           `gorm:"autoUpdateTime" json:"updated_at"`
}

// NewOperation is the complete draft of an operation, schedule included.
type NewOperation struct {
	SupplierId           int                    `json:"supplier_id"`
	CustomerId           int                    `json:"customer_id"`
	LogisticsAgentId     *int                   `json:"logistics_agent_id"`
	HsCodeId             *int                   `json:"hs_code_id"`
	PurchaseIncoterm     PurchaseIncoterm       `json:"purchase_incoterm"`
	PurchaseValue        decimal.Decimal        `json:"purchase_value"`
	FreightCost          decimal.Decimal        `json:"freight_cost"`
	CustomsAgentCost     decimal.Decimal        `json:"customs_agent_cost"`
	SaleIncoterm         SaleIncoterm           `json:"sale_incoterm"`
	SaleValue            decimal.Decimal        `json:"sale_value"`
	DepositPercentage    *decimal.Decimal       `json:"deposit_percentage" validate:"omitempty,gte=0,lte=100"`
	DepositDate          *time.Time             `json:"deposit_date"`
	EstimatedBalanceDate *time.Time             `json:"estimated_balance_date"`
	GoodsOrigin          string                 `json:"goods_origin" validate:"max=255"`
	SaleDescription      string                 `json:"sale_description"`
	Notes                string                 `json:"notes"`
	HblDate              *time.Time             `json:"hbl_date"`
	ExternalReference    string                 `json:"external_reference" validate:"max=100"`
	Schedule             []*NewScheduledPayment `json:"schedule" validate:"dive,required"`
}

// CostBasis is what the supplier side costs: the denominator of PAYMENT installments.
func (o *Operation) CostBasis() decimal.Decimal {
	return o.PurchaseValue.Add(o.FreightCost).Add(o.CustomsAgentCost)
}

// BasisFor returns the amount an installment of kind is a percentage of.
func (o *Operation) BasisFor(kind ScheduledPaymentKind) decimal.Decimal {
	if kind == ScheduledPaymentKindPayment {
		return o.CostBasis()
	}
	return o.SaleValue
}

// CalculateMargin sets ComputedMargin and ComputedMarginPct from the current values.
func (o *Operation) CalculateMargin() {
	o.ComputedMargin, o.ComputedMarginPct = calculateMargin(o.PurchaseValue, o.FreightCost, o.CustomsAgentCost, o.SaleValue)
}

func calculateMargin(purchase, freight, customs, sale decimal.Decimal) (decimal.Decimal, decimal.Decimal) {
	margin := sale.Sub(purchase.Add(freight).Add(customs))
	if !sale.IsPositive() {
		return margin, decimal.Zero
	}
	return margin, margin.Div(sale).Mul(decimal.NewFromInt(100)).Round(4)
}

// validate checks the commercial terms and the schedule entries; references are checked in the transaction.
func (input *NewOperation) validate() error {
	if input.SupplierId <= 0 {
		return newValidationError("supplier_id", "supplier is required")
	}
	if input.CustomerId <= 0 {
		return newValidationError("customer_id", "customer is required")
	}
	if !input.PurchaseValue.IsPositive() {
		return newValidationError("purchase_value", "purchase value must be greater than zero")
	}
	if input.SaleValue.LessThanOrEqual(input.PurchaseValue) {
		return newValidationError("sale_value", "sale value must be greater than purchase value")
	}
	if input.FreightCost.IsNegative() {
		return newValidationError("freight_cost", "freight cost must not be negative")
	}
	if input.CustomsAgentCost.IsNegative() {
		return newValidationError("customs_agent_cost", "customs agent cost must not be negative")
	}
	if !input.PurchaseIncoterm.IsValid() {
		return newValidationError("purchase_incoterm", "invalid purchase incoterm '"+string(input.PurchaseIncoterm)+"'")
	}
	if !input.SaleIncoterm.IsValid() {
		return newValidationError("sale_incoterm", "invalid sale incoterm '"+string(input.SaleIncoterm)+"'")
	}
	if err := utils.ValidateStruct(input); err != nil {
		return fromStructValidation("operation", err)
	}
	return nil
}

// validateReferences checks contacts, hs code and external reference against tx.
func (input *NewOperation) validateReferences(ctx context.Context, tx *gorm.DB) error {
	if err := validateContactRef(ctx, tx, input.SupplierId, ContactKindSupplier); err != nil {
		return err
	}
	if err := validateContactRef(ctx, tx, input.CustomerId, ContactKindCustomer); err != nil {
		return err
	}
	if input.LogisticsAgentId != nil && *input.LogisticsAgentId > 0 {
		if err := validateContactRef(ctx, tx, *input.LogisticsAgentId, ContactKindLogisticsAgent); err != nil {
			return err
		}
	}
	if input.HsCodeId != nil && *input.HsCodeId > 0 {
		if err := utils.ValidateResourceId[HsCode](ctx, tx, *input.HsCodeId); err != nil {
			if errors.Is(err, utils.ErrorRecordNotFound) {
				return newNotFoundError("hs code", *input.HsCodeId)
			}
			return err
		}
	}
	if ref := strings.TrimSpace(input.ExternalReference); ref != "" {
		count, err := utils.ResourceCountWhere[Operation](ctx, tx, "external_reference = ?", ref)
		if err != nil {
			return err
		}
		if count > 0 {
			return newValidationError("external_reference", "an operation with reference '"+ref+"' already exists")
		}
	}
	return nil
}

func validateContactRef(ctx context.Context, tx *gorm.DB, id int, kind ContactKind) error {
	contact, err := utils.FetchModel[Contact](ctx, tx, id)
	if err != nil {
		if errors.Is(err, utils.ErrorRecordNotFound) {
			return newNotFoundError(string(kind), id)
		}
		return err
	}
	if contact.Kind != kind {
		return newValidationError(string(kind)+"_id", "contact "+contact.Name+" is not a "+string(kind))
	}
	return nil
}

// CreateOperation persists an operation and its schedule atomically.
func CreateOperation(ctx context.Context, input *NewOperation) (*Operation, error) {
	ctx, span := tracer.Start(ctx, "models.CreateOperation")
	defer span.End()

	logger := config.GetLogger()
	if err := input.validate(); err != nil {
		return nil, err
	}
	kinds, err := classifySchedule(input.Schedule)
	if err != nil {
		return nil, err
	}
	if err := validateScheduleTotals(input.Schedule, kinds); err != nil {
		return nil, err
	}

	operation := Operation{
		SupplierId:           input.SupplierId,
		CustomerId:           input.CustomerId,
		LogisticsAgentId:     positiveOrNil(input.LogisticsAgentId),
		HsCodeId:             positiveOrNil(input.HsCodeId),
		PurchaseIncoterm:     input.PurchaseIncoterm,
		PurchaseValue:        input.PurchaseValue,
		DepositPercentage:    input.DepositPercentage,
		DepositDate:          dateOnlyPtr(input.DepositDate),
		EstimatedBalanceDate: dateOnlyPtr(input.EstimatedBalanceDate),
		FreightCost:          input.FreightCost,
		CustomsAgentCost:     input.CustomsAgentCost,
		SaleIncoterm:         input.SaleIncoterm,
		SaleValue:            input.SaleValue,
		GoodsOrigin:          input.GoodsOrigin,
		SaleDescription:      input.SaleDescription,
		Notes:                input.Notes,
		HblDate:              dateOnlyPtr(input.HblDate),
		Status:               OperationStatusActive,
	}
	if ref := strings.TrimSpace(input.ExternalReference); ref != "" {
		operation.ExternalReference = &ref
	}
	operation.CalculateMargin()

	db := config.GetDB()
	tx := db.Begin()
	if err := input.validateReferences(ctx, tx); err != nil {
		tx.Rollback()
		return nil, wrapPersistence("create operation", err)
	}

	if err := tx.WithContext(ctx).Omit("ScheduledPayments").Create(&operation).Error; err != nil {
		tx.Rollback()
		config.LogError(logger, "models", "CreateOperation", "create operation", input, err)
		return nil, wrapPersistence("create operation", err)
	}

	payments, err := createScheduledPayments(ctx, tx, operation.ID, input.Schedule, kinds)
	if err != nil {
		tx.Rollback()
		config.LogError(logger, "models", "CreateOperation", "create scheduled payments", operation.ID, err)
		return nil, wrapPersistence("create scheduled payments", err)
	}
	operation.ScheduledPayments = payments

	if err := writeLedgerEvent(ctx, tx, LedgerEventReferenceOperation, operation.ID, LedgerEventActionCreate, operation); err != nil {
		tx.Rollback()
		return nil, wrapPersistence("create operation", err)
	}

	if err := tx.Commit().Error; err != nil {
		config.LogError(logger, "models", "CreateOperation", "commit", operation.ID, err)
		return nil, wrapPersistence("commit operation", err)
	}
	invalidateBalanceCache()

	span.SetAttributes(attribute.Int("operation.id", operation.ID))
	config.LogInfo(logger, "models", "CreateOperation", "operation created", logrus.Fields{
		"operation_id":      operation.ID,
		"margin":            operation.ComputedMargin.StringFixed(2),
		"margin_pct":        operation.ComputedMarginPct.StringFixed(2),
		"scheduled_entries": len(payments),
	})
	return &operation, nil
}

func GetOperation(ctx context.Context, id int) (*Operation, error) {
	return getOperation(ctx, config.GetDB(), id, true)
}

func getOperation(ctx context.Context, db *gorm.DB, id int, withSchedule bool) (*Operation, error) {
	dbCtx := db.WithContext(ctx)
	if withSchedule {
		dbCtx = dbCtx.Preload("ScheduledPayments", func(db *gorm.DB) *gorm.DB {
			return db.Order("sequence_number, id")
		})
	}
	var operation Operation
	if err := dbCtx.First(&operation, id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, newNotFoundError("operation", id)
		}
		return nil, wrapPersistence("get operation", err)
	}
	return &operation, nil
}

// ListOperations returns operations newest first; status is optional.
func ListOperations(ctx context.Context, status *OperationStatus) ([]*Operation, error) {
	dbCtx := config.GetDB().WithContext(ctx).Preload("ScheduledPayments", func(db *gorm.DB) *gorm.DB {
		return db.Order("sequence_number, id")
	})
	if status != nil {
		dbCtx = dbCtx.Where("status = ?", *status)
	}
	var results []*Operation
	if err := dbCtx.Order("created_at DESC, id DESC").Find(&results).Error; err != nil {
		return nil, wrapPersistence("list operations", err)
	}
	return results, nil
}

type MarginSummary struct {
	Count            int             `json:"count"`
	TotalMargin      decimal.Decimal `json:"total_margin"`
	AverageMargin    decimal.Decimal `json:"average_margin"`
	AverageMarginPct decimal.Decimal `json:"average_margin_pct"`
}

// GetMarginSummary aggregates margins of ACTIVE operations created within [from, to].
func GetMarginSummary(ctx context.Context, from *time.Time, to *time.Time) (*MarginSummary, error) {
	dbCtx := config.GetDB().WithContext(ctx).Where("status = ?", OperationStatusActive)
	if from != nil {
		dbCtx = dbCtx.Where("created_at >= ?", utils.DateOnly(*from))
	}
	if to != nil {
		dbCtx = dbCtx.Where("created_at < ?", utils.DateOnly(*to).AddDate(0, 0, 1))
	}
	var operations []*Operation
	if err := dbCtx.Find(&operations).Error; err != nil {
		return nil, wrapPersistence("margin summary", err)
	}

	summary := MarginSummary{Count: len(operations)}
	totalPct := decimal.Zero
	for _, o := range operations {
		summary.TotalMargin = summary.TotalMargin.Add(o.ComputedMargin)
		totalPct = totalPct.Add(o.ComputedMarginPct)
	}
	if summary.Count > 0 {
		n := decimal.NewFromInt(int64(summary.Count))
		summary.AverageMargin = summary.TotalMargin.Div(n).Round(4)
		summary.AverageMarginPct = totalPct.Div(n).Round(4)
	}
	return &summary, nil
}

// UpdateOperationStatus changes the lifecycle status; cancelling also cancels pending installments.
func UpdateOperationStatus(ctx context.Context, id int, status OperationStatus) (*Operation, error) {
	if !status.IsValid() {
		return nil, newValidationError("status", "invalid operation status '"+string(status)+"'")
	}

	db := config.GetDB()
	tx := db.Begin()
	operation, err := getOperation(ctx, tx, id, false)
	if err != nil {
		tx.Rollback()
		return nil, err
	}
	oldStatus := operation.Status

	if err := tx.WithContext(ctx).Model(operation).Update("status", status).Error; err != nil {
		tx.Rollback()
		return nil, wrapPersistence("update operation status", err)
	}
	if status == OperationStatusCancelled {
		err := tx.WithContext(ctx).Model(&ScheduledPayment{}).
			Where("operation_id = ? AND status = ?", id, ScheduledPaymentStatusPending).
			Update("status", ScheduledPaymentStatusCancelled).Error
		if err != nil {
			tx.Rollback()
			return nil, wrapPersistence("cancel scheduled payments", err)
		}
	}
	if err := writeLedgerEvent(ctx, tx, LedgerEventReferenceOperation, id, LedgerEventActionUpdate, map[string]interface{}{
		"old_status": oldStatus,
		"status":     status,
	}); err != nil {
		tx.Rollback()
		return nil, wrapPersistence("update operation status", err)
	}
	if err := tx.Commit().Error; err != nil {
		return nil, wrapPersistence("commit operation status", err)
	}
	invalidateBalanceCache()

	config.LogInfo(config.GetLogger(), "models", "UpdateOperationStatus", "operation status changed", logrus.Fields{
		"operation_id": id,
		"from":         oldStatus,
		"to":           status,
	})
	return GetOperation(ctx, id)
}

// DeleteOperation removes an operation with its installments and invoice.
// Linked movements are kept in the ledger but detached from the operation.
func DeleteOperation(ctx context.Context, id int) (*Operation, error) {
	db := config.GetDB()
	tx := db.Begin()
	operation, err := getOperation(ctx, tx, id, true)
	if err != nil {
		tx.Rollback()
		return nil, err
	}

	steps := []struct {
		name string
		run  func() error
	}{
		{"delete scheduled payments", func() error {
			return tx.WithContext(ctx).Where("operation_id = ?", id).Delete(&ScheduledPayment{}).Error
		}},
		{"delete invoice", func() error {
			return tx.WithContext(ctx).Where("operation_id = ?", id).Delete(&Invoice{}).Error
		}},
		{"detach movements", func() error {
			return tx.WithContext(ctx).Model(&CashMovement{}).Where("operation_id = ?", id).Update("operation_id", nil).Error
		}},
		{"delete operation", func() error {
			return tx.WithContext(ctx).Delete(&Operation{}, id).Error
		}},
		{"write ledger event", func() error {
			return writeLedgerEvent(ctx, tx, LedgerEventReferenceOperation, id, LedgerEventActionDelete, operation)
		}},
	}
	for _, step := range steps {
		if err := step.run(); err != nil {
			tx.Rollback()
			config.LogError(config.GetLogger(), "models", "DeleteOperation", step.name, id, err)
			return nil, wrapPersistence(step.name, err)
		}
	}

	if err := tx.Commit().Error; err != nil {
		return nil, wrapPersistence("commit delete operation", err)
	}
	invalidateBalanceCache()
	return operation, nil
}

func positiveOrNil(id *int) *int {
	if id == nil || *id <= 0 {
		return nil
	}
	v := *id
	return &v
}

func dateOnlyPtr(t *time.Time) *time.Time {
	if t == nil || t.IsZero() {
		return nil
	}
	d := utils.DateOnly(*t)
	return &d
}
