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
	"gorm.io/gorm"
)

// Invoice is the single sales invoice issued for an operation.
type Invoice struct {
	ID            int             `gorm:"primary_key" json:"id"`
	Number        string          `gorm:"size:50;not null;uniqueIndex" json:"number"`
	Date          time.Time       `gorm:"index;not null" json:"date"`
	OperationId   int             `gorm:"not null;uniqueIndex" json:"operation_id"`
	SubtotalFob   decimal.Decimal `gorm:"type:decimal(20,4);default:0" json:"subtotal_fob"`
	TotalIncoterm decimal.Decimal `gorm:"type:decimal(20,4);default:0" json:"total_incoterm"`
	Currency      string          `gorm:"size:3;not null;default:'USD'" json:"currency"`
	Description   string          `gorm:"type:text" json:"description"`
	Notes         string          `gorm:"type:text" json:"notes"`
	CreatedAt     time.Time       `gorm:"autoCreateTime" json:"created_at"`
}

// NewInvoice carries caller-chosen invoice fields.
type NewInvoice struct {
	Number        string          `json:"number" validate:"required,max=50"`
	Date          time.Time       `json:"date" validate:"required"`
	SubtotalFob   decimal.Decimal `json:"subtotal_fob" validate:"gte=0"`
	TotalIncoterm decimal.Decimal `json:"total_incoterm" validate:"gte=0"`
	Currency      string          `json:"currency" validate:"omitempty,len=3"`
	Description   string          `json:"description"`
	Notes         string          `json:"notes"`
}

const (
	defaultInvoiceCurrency = "USD"
	invoiceNumberPrefix    = "INV-"
)

// GenerateInvoice numbers the invoice INV-000001 onwards and bills purchase/sale values.
// date defaults to today.
func GenerateInvoice(ctx context.Context, operationId int, date *time.Time) (*Invoice, error) {
	invoiceDate := utils.Today()
	if date != nil && !date.IsZero() {
		invoiceDate = utils.DateOnly(*date)
	}

	db := config.GetDB()
	tx := db.Begin()
	operation, err := checkInvoiceable(ctx, tx, operationId, invoiceDate)
	if err != nil {
		tx.Rollback()
		return nil, err
	}

	number, err := nextInvoiceNumber(ctx, tx)
	if err != nil {
		tx.Rollback()
		return nil, err
	}

	invoice := Invoice{
		Number:        number,
		Date:          invoiceDate,
		OperationId:   operation.ID,
		SubtotalFob:   operation.PurchaseValue,
		TotalIncoterm: operation.SaleValue,
		Currency:      defaultInvoiceCurrency,
	}
	return createInvoice(ctx, tx, &invoice)
}

// nextInvoiceNumber follows the highest INV- number in use, skipping numbers taken by custom invoices.
func nextInvoiceNumber(ctx context.Context, tx *gorm.DB) (string, error) {
	var numbers []string
	if err := tx.WithContext(ctx).Model(&Invoice{}).Where("number LIKE ?", invoiceNumberPrefix+"%").Pluck("number", &numbers).Error; err != nil {
		return "", wrapPersistence("generate invoice", err)
	}
	next := 1
	for _, n := range numbers {
		seq, err := strconv.Atoi(strings.TrimPrefix(n, invoiceNumberPrefix))
		if err == nil && seq >= next {
			next = seq + 1
		}
	}
	for {
		number := fmt.Sprintf("%s%06d", invoiceNumberPrefix, next)
		count, err := utils.ResourceCountWhere[Invoice](ctx, tx, "number = ?", number)
		if err != nil {
			return "", wrapPersistence("generate invoice", err)
		}
		if count == 0 {
			return number, nil
		}
		next++
	}
}

func GenerateCustomInvoice(ctx context.Context, operationId int, input *NewInvoice) (*Invoice, error) {
	input.Number = strings.TrimSpace(input.Number)
	if err := utils.ValidateStruct(input); err != nil {
		return nil, fromStructValidation("invoice", err)
	}
	invoiceDate := utils.DateOnly(input.Date)

	db := config.GetDB()
	tx := db.Begin()
	operation, err := checkInvoiceable(ctx, tx, operationId, invoiceDate)
	if err != nil {
		tx.Rollback()
		return nil, err
	}
	count, err := utils.ResourceCountWhere[Invoice](ctx, tx, "number = ?", input.Number)
	if err != nil {
		tx.Rollback()
		return nil, wrapPersistence("generate invoice", err)
	}
	if count > 0 {
		tx.Rollback()
		return nil, newValidationError("number", "an invoice numbered '"+input.Number+"' already exists")
	}

	currency := strings.ToUpper(input.Currency)
	if currency == "" {
		currency = defaultInvoiceCurrency
	}
	invoice := Invoice{
		Number:        input.Number,
		Date:          invoiceDate,
		OperationId:   operation.ID,
		SubtotalFob:   input.SubtotalFob,
		TotalIncoterm: input.TotalIncoterm,
		Currency:      currency,
		Description:   input.Description,
		Notes:         input.Notes,
	}
	return createInvoice(ctx, tx, &invoice)
}

// checkInvoiceable requires an existing operation without invoice, and a date before its HBL date.
func checkInvoiceable(ctx context.Context, tx *gorm.DB, operationId int, invoiceDate time.Time) (*Operation, error) {
	operation, err := getOperation(ctx, tx, operationId, false)
	if err != nil {
		return nil, err
	}
	if operation.HblDate != nil && !invoiceDate.Before(utils.DateOnly(*operation.HblDate)) {
		return nil, newValidationError("date", "invoice date must be before the HBL date ("+utils.FormatDate(*operation.HblDate)+")")
	}

	var existing Invoice
	result := tx.WithContext(ctx).Where("operation_id = ?", operationId).Limit(1).Find(&existing)
	if result.Error != nil {
		return nil, wrapPersistence("check invoice", result.Error)
	}
	if result.RowsAffected > 0 {
		return nil, newValidationError("operation_id", "operation already has invoice "+existing.Number)
	}
	return operation, nil
}

// createInvoice finishes the transaction opened by the caller.
func createInvoice(ctx context.Context, tx *gorm.DB, invoice *Invoice) (*Invoice, error) {
	if err := tx.WithContext(ctx).Create(invoice).Error; err != nil {
		tx.Rollback()
		config.LogError(config.GetLogger(), "models", "createInvoice", "create invoice", invoice.Number, err)
		return nil, wrapPersistence("create invoice", err)
	}
	if err := writeLedgerEvent(ctx, tx, LedgerEventReferenceInvoice, invoice.ID, LedgerEventActionCreate, invoice); err != nil {
		tx.Rollback()
		return nil, wrapPersistence("create invoice", err)
	}
	if err := tx.Commit().Error; err != nil {
		return nil, wrapPersistence("commit invoice", err)
	}
	config.LogInfo(config.GetLogger(), "models", "createInvoice", "invoice generated", logrus.Fields{
		"invoice_number": invoice.Number,
		"operation_id":   invoice.OperationId,
	})
	return invoice, nil
}

// ListInvoices returns invoices newest first.
func ListInvoices(ctx context.Context) ([]*Invoice, error) {
	invoices, err := utils.FetchModelsWhere[Invoice](ctx, config.GetDB(), "date DESC, id DESC", "")
	if err != nil {
		return nil, wrapPersistence("list invoices", err)
	}
	return invoices, nil
}

// GetInvoiceByOperation returns the operation's invoice, or NotFoundError when none was issued.
func GetInvoiceByOperation(ctx context.Context, operationId int) (*Invoice, error) {
	var invoice Invoice
	err := config.GetDB().WithContext(ctx).Where("operation_id = ?", operationId).First(&invoice).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, newNotFoundError("invoice for operation", operationId)
		}
		return nil, wrapPersistence("get invoice", err)
	}
	return &invoice, nil
}
