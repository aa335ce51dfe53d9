package models

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"bitbucket.org/mmdatafocus/tradeledger_backend/config"
	"bitbucket.org/mmdatafocus/tradeledger_backend/utils"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

// ScheduledPayment is one percentage-based installment of an operation.
type ScheduledPayment struct {
	ID             int                    `gorm:"primary_key" json:"id"`
	OperationId    int                    `gorm:"index;not null" json:"operation_id"`
	SequenceNumber int                    `gorm:"not null" json:"sequence_number"`
	Description    string                 `gorm:"size:255;not null" json:"description"`
	Percentage     decimal.Decimal        `gorm:"type:decimal(20,4);default:0" json:"percentage"`
	ScheduledDate  time.Time              `gorm:"index;not null" json:"scheduled_date"`
	ActualDate     *time.Time             `json:"actual_date"`
	Status         ScheduledPaymentStatus `gorm:"size:20;not null;default:'PENDING';index" json:"status"`
	Kind           ScheduledPaymentKind   `gorm:"size:20;not null;index" json:"kind"`
	CreatedAt      time.Time              `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt      time.Time              `gorm:"autoUpdateTime" json:"updated_at"`
}

// NewScheduledPayment is one entry of a caller-supplied schedule.
// Kind is optional only for legacy callers; see classifySchedule.
type NewScheduledPayment struct {
	SequenceNumber int                   `json:"sequence_number" validate:"gte=0"`
	Description    string                `json:"description" validate:"required,max=255"`
	Percentage     decimal.Decimal       `json:"percentage" validate:"gte=0,lte=100"`
	ScheduledDate  time.Time             `json:"scheduled_date" validate:"required"`
	Kind           *ScheduledPaymentKind `json:"kind" validate:"omitempty,oneof=PAYMENT COLLECTION"`
}

// Amount is the absolute value of the installment against its kind's basis.
func (p *ScheduledPayment) Amount(operation *Operation) decimal.Decimal {
	return utils.PercentOf(operation.BasisFor(p.Kind), p.Percentage)
}

var percentageTolerance = decimal.NewFromFloat(0.01)

// descriptions that marked supplier-side installments before entries carried a kind
var legacyPaymentMarkers = []string{"Deposit", "Purchase", "Depósito", "Compra"}

// classifySchedule resolves the kind of every entry.
// Entries either all carry a kind or none do; untagged schedules fall back to description matching
// unless STRICT_SCHEDULE_KIND is set.
func classifySchedule(entries []*NewScheduledPayment) ([]ScheduledPaymentKind, error) {
	tagged := 0
	for _, e := range entries {
		if e.Kind != nil {
			tagged++
		}
	}
	if tagged > 0 && tagged < len(entries) {
		return nil, newValidationError("schedule", "either every schedule entry has a kind or none does")
	}

	kinds := make([]ScheduledPaymentKind, len(entries))
	if tagged == len(entries) {
		for i, e := range entries {
			if !e.Kind.IsValid() {
				return nil, newValidationError(fmt.Sprintf("schedule[%d].kind", i), "invalid kind '"+string(*e.Kind)+"'")
			}
			kinds[i] = *e.Kind
		}
		return kinds, nil
	}

	if config.StrictScheduleKind() {
		return nil, newValidationError("schedule", "every schedule entry needs a kind (PAYMENT or COLLECTION)")
	}
	config.GetLogger().WithFields(logrus.Fields{
		"module":   "models",
		"funcName": "classifySchedule",
		"entries":  len(entries),
	}).Warn("schedule entries without kind; classifying by description (deprecated)")
	for i, e := range entries {
		kinds[i] = ScheduledPaymentKindCollection
		for _, marker := range legacyPaymentMarkers {
			if strings.Contains(e.Description, marker) {
				kinds[i] = ScheduledPaymentKindPayment
				break
			}
		}
	}
	return kinds, nil
}

// validateScheduleTotals requires PAYMENT percentages to add up to 100 when a schedule is given.
func validateScheduleTotals(entries []*NewScheduledPayment, kinds []ScheduledPaymentKind) error {
	if len(entries) == 0 {
		return nil
	}
	total := decimal.Zero
	for i, e := range entries {
		if kinds[i] == ScheduledPaymentKindPayment {
			total = total.Add(e.Percentage)
		}
	}
	if total.Sub(decimal.NewFromInt(100)).Abs().GreaterThan(percentageTolerance) {
		return newValidationError("schedule", "payment percentages must add up to 100 (got "+total.String()+")")
	}
	return nil
}

func createScheduledPayments(ctx context.Context, tx *gorm.DB, operationId int, entries []*NewScheduledPayment, kinds []ScheduledPaymentKind) ([]*ScheduledPayment, error) {
	payments := make([]*ScheduledPayment, 0, len(entries))
	for i, e := range entries {
		seq := e.SequenceNumber
		if seq == 0 {
			seq = i + 1
		}
		payments = append(payments, &ScheduledPayment{
			OperationId:    operationId,
			SequenceNumber: seq,
			Description:    strings.TrimSpace(e.Description),
			Percentage:     e.Percentage,
			ScheduledDate:  utils.DateOnly(e.ScheduledDate),
			Status:         ScheduledPaymentStatusPending,
			Kind:           kinds[i],
		})
	}
	if len(payments) == 0 {
		return payments, nil
	}
	if err := tx.WithContext(ctx).Create(&payments).Error; err != nil {
		return nil, err
	}
	return payments, nil
}

func GetScheduledPayment(ctx context.Context, id int) (*ScheduledPayment, error) {
	payment, err := utils.FetchModel[ScheduledPayment](ctx, config.GetDB(), id)
	if err != nil {
		if errors.Is(err, utils.ErrorRecordNotFound) {
			return nil, newNotFoundError("scheduled payment", id)
		}
		return nil, wrapPersistence("get scheduled payment", err)
	}
	return payment, nil
}

func ListScheduledPayments(ctx context.Context, operationId int) ([]*ScheduledPayment, error) {
	payments, err := utils.FetchModelsWhere[ScheduledPayment](ctx, config.GetDB(), "sequence_number, id", "operation_id = ?", operationId)
	if err != nil {
		return nil, wrapPersistence("list scheduled payments", err)
	}
	return payments, nil
}

// ScheduleDraft builds a schedule step by step before the operation is created.
type ScheduleDraft struct {
	entries []*NewScheduledPayment
}

func NewScheduleDraft() *ScheduleDraft {
	return &ScheduleDraft{}
}

func (d *ScheduleDraft) add(description string, percentage decimal.Decimal, date time.Time, kind ScheduledPaymentKind) *ScheduleDraft {
	k := kind
	d.entries = append(d.entries, &NewScheduledPayment{
		SequenceNumber: len(d.entries) + 1,
		Description:    description,
		Percentage:     percentage,
		ScheduledDate:  utils.DateOnly(date),
		Kind:           &k,
	})
	return d
}

// AddDeposit adds the supplier deposit and the remaining purchase balance.
func (d *ScheduleDraft) AddDeposit(percentage decimal.Decimal, depositDate time.Time, balanceDate time.Time) *ScheduleDraft {
	d.add("Initial Deposit", percentage, depositDate, ScheduledPaymentKindPayment)
	return d.add("Purchase Balance", decimal.NewFromInt(100).Sub(percentage), balanceDate, ScheduledPaymentKindPayment)
}

func (d *ScheduleDraft) AddPayment(description string, percentage decimal.Decimal, date time.Time) *ScheduleDraft {
	return d.add(description, percentage, date, ScheduledPaymentKindPayment)
}

func (d *ScheduleDraft) AddCollection(description string, percentage decimal.Decimal, date time.Time) *ScheduleDraft {
	return d.add(description, percentage, date, ScheduledPaymentKindCollection)
}

// SplitCollections spreads 100% of the sale over n collections on dates[0..n-1].
// Percentages are rounded to 2 places; the final collection takes the remainder.
func (d *ScheduleDraft) SplitCollections(n int, dates []time.Time) error {
	if n < 1 {
		return newValidationError("installments", "at least one collection is required")
	}
	if len(dates) < n {
		return newValidationError("installment_dates", fmt.Sprintf("%d collections need %d dates, got %d", n, n, len(dates)))
	}
	share := decimal.NewFromInt(100).Div(decimal.NewFromInt(int64(n))).Round(2)
	assigned := decimal.Zero
	for i := 0; i < n; i++ {
		if i == n-1 {
			d.AddCollection("Final collection", decimal.NewFromInt(100).Sub(assigned), dates[i])
			break
		}
		d.AddCollection(fmt.Sprintf("Collection #%d", i+1), share, dates[i])
		assigned = assigned.Add(share)
	}
	return nil
}

func (d *ScheduleDraft) Entries() []*NewScheduledPayment {
	return d.entries
}
