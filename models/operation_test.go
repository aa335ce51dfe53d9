package models_test

import (
	"testing"
	"time"

	"bitbucket.org/mmdatafocus/tradeledger_backend/config"
	"bitbucket.org/mmdatafocus/tradeledger_backend/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCalculateMargin(t *testing.T) {
	o := models.Operation{
		PurchaseValue:    dec("1000"),
		FreightCost:      dec("50"),
		CustomsAgentCost: dec("50"),
		SaleValue:        dec("1300"),
	}
	o.CalculateMargin()

	requireDecimal(t, "200", o.ComputedMargin)
	assert.Equal(t, "15.38", o.ComputedMarginPct.StringFixed(2))
	requireDecimal(t, "1100", o.CostBasis())

	zero := models.Operation{PurchaseValue: dec("10")}
	zero.CalculateMargin()
	requireDecimal(t, "0", zero.ComputedMarginPct)
}

func TestCreateOperation(t *testing.T) {
	ctx := setupLedgerDB(t)
	p := createParties(t, ctx)

	input := newTrade(p, []*models.NewScheduledPayment{
		payment(1, "Initial Deposit", "30", day(0)),
		payment(2, "Purchase Balance", "70", day(30)),
		collection(3, "Collection on arrival", "100", day(45)),
	})
	input.LogisticsAgentId = &p.agent
	input.FreightCost = dec("50")
	input.CustomsAgentCost = dec("50")
	input.ExternalReference = "INV-7781"

	op, err := models.CreateOperation(ctx, input)
	require.NoError(t, err)

	assert.Equal(t, models.OperationStatusActive, op.Status)
	requireDecimal(t, "400", op.ComputedMargin)
	require.Len(t, op.ScheduledPayments, 3)

	stored, err := models.GetOperation(ctx, op.ID)
	require.NoError(t, err)
	require.Len(t, stored.ScheduledPayments, 3)
	for _, sp := range stored.ScheduledPayments {
		assert.Equal(t, models.ScheduledPaymentStatusPending, sp.Status)
		assert.Nil(t, sp.ActualDate)
	}
	assert.Equal(t, models.ScheduledPaymentKindPayment, stored.ScheduledPayments[0].Kind)
	assert.Equal(t, models.ScheduledPaymentKindCollection, stored.ScheduledPayments[2].Kind)
	requireDecimal(t, "330", stored.ScheduledPayments[0].Amount(stored))
	requireDecimal(t, "1500", stored.ScheduledPayments[2].Amount(stored))

	events, err := models.ListLedgerEvents(ctx, models.LedgerEventReferenceOperation, op.ID)
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, models.LedgerEventActionCreate, events[0].Action)
	assert.Equal(t, models.OutboxPublishStatusPending, events[0].PublishStatus)
	assert.Equal(t, "test-correlation", events[0].CorrelationId)
}

func TestCreateOperationPaymentPercentages(t *testing.T) {
	ctx := setupLedgerDB(t)
	p := createParties(t, ctx)

	cases := []struct {
		name   string
		first  string
		second string
		ok     bool
	}{
		{"exact", "30", "70", true},
		{"within tolerance below", "30", "69.99", true},
		{"within tolerance above", "30", "70.01", true},
		{"short", "30", "69.98", false},
		{"over", "30", "70.02", false},
		{"half", "30", "20", false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			before := countOperations(t)
			_, err := models.CreateOperation(ctx, newTrade(p, []*models.NewScheduledPayment{
				payment(1, "Initial Deposit", tc.first, day(0)),
				payment(2, "Purchase Balance", tc.second, day(30)),
				collection(3, "Partial collection", "40", day(40)),
			}))
			if tc.ok {
				require.NoError(t, err)
				assert.Equal(t, before+1, countOperations(t))
				return
			}
			require.Error(t, err)
			assert.True(t, models.IsValidation(err), "got %T: %v", err, err)
			assert.Equal(t, before, countOperations(t))
		})
	}
}

func TestCreateOperationWithoutSchedule(t *testing.T) {
	ctx := setupLedgerDB(t)
	p := createParties(t, ctx)

	op, err := models.CreateOperation(ctx, newTrade(p, nil))
	require.NoError(t, err)
	assert.Empty(t, schedule(t, ctx, op.ID))
}

func TestCreateOperationCollectionOnlySchedule(t *testing.T) {
	ctx := setupLedgerDB(t)
	p := createParties(t, ctx)

	before := countOperations(t)
	_, err := models.CreateOperation(ctx, newTrade(p, []*models.NewScheduledPayment{
		collection(1, "Final collection", "100", day(60)),
	}))
	require.Error(t, err)
	assert.True(t, models.IsValidation(err), "a schedule without payments does not reach 100 percent")
	assert.Equal(t, before, countOperations(t))
}

func TestCreateOperationRejectsInvalidInput(t *testing.T) {
	ctx := setupLedgerDB(t)
	p := createParties(t, ctx)
	full := func() []*models.NewScheduledPayment {
		return []*models.NewScheduledPayment{payment(1, "Initial Deposit", "100", day(0))}
	}

	cases := []struct {
		name   string
		mutate func(*models.NewOperation)
	}{
		{"missing supplier", func(o *models.NewOperation) { o.SupplierId = 0 }},
		{"missing customer", func(o *models.NewOperation) { o.CustomerId = 0 }},
		{"sale equal to purchase", func(o *models.NewOperation) { o.SaleValue = dec("1000") }},
		{"sale below purchase", func(o *models.NewOperation) { o.SaleValue = dec("900") }},
		{"zero purchase", func(o *models.NewOperation) { o.PurchaseValue = dec("0") }},
		{"negative freight", func(o *models.NewOperation) { o.FreightCost = dec("-1") }},
		{"bad purchase incoterm", func(o *models.NewOperation) { o.PurchaseIncoterm = "DDP" }},
		{"bad sale incoterm", func(o *models.NewOperation) { o.SaleIncoterm = "EXW" }},
		{"supplier is a customer", func(o *models.NewOperation) { o.SupplierId = p.customer }},
		{"entry without description", func(o *models.NewOperation) { o.Schedule[0].Description = "" }},
		{"entry over 100 percent", func(o *models.NewOperation) { o.Schedule[0].Percentage = dec("120") }},
		{"mixed kind tags", func(o *models.NewOperation) {
			o.Schedule = append(o.Schedule, &models.NewScheduledPayment{Description: "Cobro", Percentage: dec("100"), ScheduledDate: day(10)})
		}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			input := newTrade(p, full())
			tc.mutate(input)
			_, err := models.CreateOperation(ctx, input)
			require.Error(t, err)
			assert.True(t, models.IsValidation(err), "got %T: %v", err, err)
		})
	}
	assert.Equal(t, int64(0), countOperations(t))

	t.Run("unknown customer", func(t *testing.T) {
		input := newTrade(p, full())
		input.CustomerId = 9999
		_, err := models.CreateOperation(ctx, input)
		require.Error(t, err)
		assert.True(t, models.IsNotFound(err), "got %T: %v", err, err)
	})

	t.Run("unknown hs code", func(t *testing.T) {
		input := newTrade(p, full())
		hs := 42
		input.HsCodeId = &hs
		_, err := models.CreateOperation(ctx, input)
		assert.True(t, models.IsNotFound(err), "got %T: %v", err, err)
	})

	t.Run("duplicate external reference", func(t *testing.T) {
		first := newTrade(p, full())
		first.ExternalReference = "A-1"
		_, err := models.CreateOperation(ctx, first)
		require.NoError(t, err)

		second := newTrade(p, full())
		second.ExternalReference = "A-1"
		_, err = models.CreateOperation(ctx, second)
		assert.True(t, models.IsValidation(err), "got %T: %v", err, err)
	})
}

func TestLegacyScheduleClassification(t *testing.T) {
	ctx := setupLedgerDB(t)
	p := createParties(t, ctx)

	untagged := func() []*models.NewScheduledPayment {
		return []*models.NewScheduledPayment{
			{Description: "Depósito Inicial", Percentage: dec("30"), ScheduledDate: day(0)},
			{Description: "Saldo Compra", Percentage: dec("70"), ScheduledDate: day(30)},
			{Description: "Cobro #1", Percentage: dec("100"), ScheduledDate: day(60)},
		}
	}

	op, err := models.CreateOperation(ctx, newTrade(p, untagged()))
	require.NoError(t, err)
	entries := schedule(t, ctx, op.ID)
	require.Len(t, entries, 3)
	assert.Equal(t, models.ScheduledPaymentKindPayment, entries[0].Kind)
	assert.Equal(t, models.ScheduledPaymentKindPayment, entries[1].Kind)
	assert.Equal(t, models.ScheduledPaymentKindCollection, entries[2].Kind)
	assert.Equal(t, []int{1, 2, 3}, []int{entries[0].SequenceNumber, entries[1].SequenceNumber, entries[2].SequenceNumber})

	t.Setenv("STRICT_SCHEDULE_KIND", "true")
	_, err = models.CreateOperation(ctx, newTrade(p, untagged()))
	assert.True(t, models.IsValidation(err), "got %T: %v", err, err)
}

func TestScheduleDraft(t *testing.T) {
	draft := models.NewScheduleDraft().AddDeposit(dec("30"), day(0), day(30))
	require.NoError(t, draft.SplitCollections(3, []time.Time{day(60), day(90), day(120)}))

	entries := draft.Entries()
	require.Len(t, entries, 5)
	assert.Equal(t, "Initial Deposit", entries[0].Description)
	requireDecimal(t, "70", entries[1].Percentage)
	assert.Equal(t, models.ScheduledPaymentKindPayment, *entries[1].Kind)

	requireDecimal(t, "33.33", entries[2].Percentage)
	requireDecimal(t, "33.33", entries[3].Percentage)
	requireDecimal(t, "33.34", entries[4].Percentage)
	assert.Equal(t, models.ScheduledPaymentKindCollection, *entries[4].Kind)
	assert.Equal(t, 5, entries[4].SequenceNumber)

	assert.Error(t, models.NewScheduleDraft().SplitCollections(0, nil))
	assert.Error(t, models.NewScheduleDraft().SplitCollections(2, []time.Time{day(1)}))

	ctx := setupLedgerDB(t)
	p := createParties(t, ctx)
	op, err := models.CreateOperation(ctx, newTrade(p, draft.Entries()))
	require.NoError(t, err)
	assert.Len(t, schedule(t, ctx, op.ID), 5)
}

func TestOperationStatusAndDeletion(t *testing.T) {
	ctx := setupLedgerDB(t)
	p := createParties(t, ctx)
	fund(t, ctx, "5000", day(-10))

	op, err := models.CreateOperation(ctx, newTrade(p, []*models.NewScheduledPayment{
		payment(1, "Initial Deposit", "30", day(-5)),
		payment(2, "Purchase Balance", "70", day(20)),
	}))
	require.NoError(t, err)
	dep, err := deposit(ctx, op.ID, "300", day(-5))
	require.NoError(t, err)

	cancelled, err := models.UpdateOperationStatus(ctx, op.ID, models.OperationStatusCancelled)
	require.NoError(t, err)
	assert.Equal(t, models.OperationStatusCancelled, cancelled.Status)
	entries := schedule(t, ctx, op.ID)
	assert.Equal(t, models.ScheduledPaymentStatusPaid, entries[0].Status)
	assert.Equal(t, models.ScheduledPaymentStatusCancelled, entries[1].Status)

	// cancelled installments are left alone by reconciliation
	require.NoError(t, models.ReconcileOperation(ctx, op.ID))
	assert.Equal(t, models.ScheduledPaymentStatusCancelled, schedule(t, ctx, op.ID)[1].Status)

	_, err = models.UpdateOperationStatus(ctx, op.ID, "ARCHIVED")
	assert.True(t, models.IsValidation(err))

	_, err = models.GenerateInvoice(ctx, op.ID, nil)
	require.NoError(t, err)

	_, err = models.DeleteOperation(ctx, op.ID)
	require.NoError(t, err)

	_, err = models.GetOperation(ctx, op.ID)
	assert.True(t, models.IsNotFound(err))
	assert.Empty(t, schedule(t, ctx, op.ID))
	_, err = models.GetInvoiceByOperation(ctx, op.ID)
	assert.True(t, models.IsNotFound(err))

	var kept models.CashMovement
	require.NoError(t, config.GetDB().First(&kept, dep.ID).Error)
	assert.Nil(t, kept.OperationId)

	_, err = models.DeleteOperation(ctx, op.ID)
	assert.True(t, models.IsNotFound(err))
}

func TestMarginSummary(t *testing.T) {
	ctx := setupLedgerDB(t)
	p := createParties(t, ctx)

	a := newTrade(p, nil)
	_, err := models.CreateOperation(ctx, a)
	require.NoError(t, err)

	b := newTrade(p, nil)
	b.SaleValue = dec("1250")
	_, err = models.CreateOperation(ctx, b)
	require.NoError(t, err)

	c := newTrade(p, nil)
	opC, err := models.CreateOperation(ctx, c)
	require.NoError(t, err)
	_, err = models.UpdateOperationStatus(ctx, opC.ID, models.OperationStatusCompleted)
	require.NoError(t, err)

	summary, err := models.GetMarginSummary(ctx, nil, nil)
	require.NoError(t, err)
	assert.Equal(t, 2, summary.Count)
	requireDecimal(t, "750", summary.TotalMargin)
	requireDecimal(t, "375", summary.AverageMargin)
	// (33.3333 + 20) / 2
	assert.Equal(t, "26.67", summary.AverageMarginPct.StringFixed(2))
}
