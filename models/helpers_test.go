package models_test

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"bitbucket.org/mmdatafocus/tradeledger_backend/config"
	"bitbucket.org/mmdatafocus/tradeledger_backend/models"
	"bitbucket.org/mmdatafocus/tradeledger_backend/utils"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
)

// fixed "today" for every ledger test
var testToday = time.Date(2025, 3, 10, 0, 0, 0, 0, time.UTC)

func setupLedgerDB(t *testing.T) context.Context {
	t.Helper()

	t.Setenv("OPERATION_LOCKING", "")
	t.Setenv("STRICT_SCHEDULE_KIND", "")
	t.Setenv("RECONCILIATION_MODE", "")

	require.NoError(t, config.ConnectSQLite(filepath.Join(t.TempDir(), "ledger.db")))
	models.MigrateTable()

	prevNow := utils.Now
	utils.Now = func() time.Time { return testToday.Add(15 * time.Hour) }
	t.Cleanup(func() {
		utils.Now = prevNow
		_ = config.CloseDB()
	})
	return utils.SetCorrelationIdInContext(context.Background(), "test-correlation")
}

func day(offset int) time.Time {
	return testToday.AddDate(0, 0, offset)
}

func dec(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func requireDecimal(t *testing.T, expected string, actual decimal.Decimal, msgAndArgs ...interface{}) {
	t.Helper()
	require.Truef(t, dec(expected).Equal(actual), "expected %s, got %s %v", expected, actual.String(), msgAndArgs)
}

func kindPtr(k models.ScheduledPaymentKind) *models.ScheduledPaymentKind {
	return &k
}

type tradeParties struct {
	supplier int
	customer int
	agent    int
}

func createParties(t *testing.T, ctx context.Context) tradeParties {
	t.Helper()
	supplier, err := models.CreateContact(ctx, &models.NewContact{Name: "Shenzhen Parts Co", Kind: models.ContactKindSupplier, Country: "CN"})
	require.NoError(t, err)
	customer, err := models.CreateContact(ctx, &models.NewContact{Name: "Andes Importaciones", Kind: models.ContactKindCustomer, Country: "AR"})
	require.NoError(t, err)
	agent, err := models.CreateContact(ctx, &models.NewContact{Name: "Pacific Freight", Kind: models.ContactKindLogisticsAgent})
	require.NoError(t, err)
	return tradeParties{supplier: supplier.ID, customer: customer.ID, agent: agent.ID}
}

// newTrade is purchase 1000 / sale 1500 with no extra costs.
func newTrade(p tradeParties, schedule []*models.NewScheduledPayment) *models.NewOperation {
	return &models.NewOperation{
		SupplierId:       p.supplier,
		CustomerId:       p.customer,
		PurchaseIncoterm: models.PurchaseIncotermFOB,
		PurchaseValue:    dec("1000"),
		SaleIncoterm:     models.SaleIncotermCIF,
		SaleValue:        dec("1500"),
		Schedule:         schedule,
	}
}

func payment(seq int, desc string, pct string, date time.Time) *models.NewScheduledPayment {
	return &models.NewScheduledPayment{
		SequenceNumber: seq,
		Description:    desc,
		Percentage:     dec(pct),
		ScheduledDate:  date,
		Kind:           kindPtr(models.ScheduledPaymentKindPayment),
	}
}

func collection(seq int, desc string, pct string, date time.Time) *models.NewScheduledPayment {
	return &models.NewScheduledPayment{
		SequenceNumber: seq,
		Description:    desc,
		Percentage:     dec(pct),
		ScheduledDate:  date,
		Kind:           kindPtr(models.ScheduledPaymentKindCollection),
	}
}

// fund puts cash into the ledger so outflows pass the balance check.
func fund(t *testing.T, ctx context.Context, amount string, date time.Time) *models.CashMovement {
	t.Helper()
	m, err := models.RecordMovement(ctx, &models.NewCashMovement{
		Date:        date,
		Kind:        models.MovementKindInitialContribution,
		Description: "Capital contribution",
		AmountIn:    dec(amount),
	})
	require.NoError(t, err)
	return m
}

func deposit(ctx context.Context, operationId int, amount string, date time.Time) (*models.CashMovement, error) {
	return models.RecordMovement(ctx, &models.NewCashMovement{
		Date:        date,
		Kind:        models.MovementKindOperationDeposit,
		Description: "Supplier deposit",
		AmountOut:   dec(amount),
		OperationId: &operationId,
	})
}

func schedule(t *testing.T, ctx context.Context, operationId int) []*models.ScheduledPayment {
	t.Helper()
	payments, err := models.ListScheduledPayments(ctx, operationId)
	require.NoError(t, err)
	return payments
}

func countOperations(t *testing.T) int64 {
	t.Helper()
	var n int64
	require.NoError(t, config.GetDB().Model(&models.Operation{}).Count(&n).Error)
	return n
}
