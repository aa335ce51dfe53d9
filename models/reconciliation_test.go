package models_test

import (
	"testing"

	"bitbucket.org/mmdatafocus/tradeledger_backend/models"
	"bitbucket.org/mmdatafocus/tradeledger_backend/utils"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestReconcileSingleInstallment(t *testing.T) {
	ctx := setupLedgerDB(t)
	p := createParties(t, ctx)
	fund(t, ctx, "2000", day(-30))

	op, err := models.CreateOperation(ctx, newTrade(p, []*models.NewScheduledPayment{
		payment(1, "Full payment", "100", day(-2)),
	}))
	require.NoError(t, err)

	_, err = deposit(ctx, op.ID, "1000", day(-3))
	require.NoError(t, err)

	entries := schedule(t, ctx, op.ID)
	require.Len(t, entries, 1)
	assert.Equal(t, models.ScheduledPaymentStatusPaid, entries[0].Status)
	require.NotNil(t, entries[0].ActualDate)
	assert.Equal(t, "2025-03-07", utils.FormatDate(*entries[0].ActualDate))
}

func TestReconcileDepositAndBalance(t *testing.T) {
	ctx := setupLedgerDB(t)
	p := createParties(t, ctx)
	fund(t, ctx, "2000", day(-30))

	op, err := models.CreateOperation(ctx, newTrade(p, []*models.NewScheduledPayment{
		payment(1, "Initial Deposit", "30", day(0)),
		payment(2, "Purchase Balance", "70", day(30)),
	}))
	require.NoError(t, err)

	_, err = deposit(ctx, op.ID, "300", day(0))
	require.NoError(t, err)

	entries := schedule(t, ctx, op.ID)
	assert.Equal(t, models.ScheduledPaymentStatusPaid, entries[0].Status)
	assert.Equal(t, "2025-03-10", utils.FormatDate(*entries[0].ActualDate))
	assert.Equal(t, models.ScheduledPaymentStatusPending, entries[1].Status)
	assert.Nil(t, entries[1].ActualDate)
}

func TestReconcileIsIdempotent(t *testing.T) {
	ctx := setupLedgerDB(t)
	p := createParties(t, ctx)
	fund(t, ctx, "5000", day(-30))

	op, err := models.CreateOperation(ctx, newTrade(p, []*models.NewScheduledPayment{
		payment(1, "Initial Deposit", "30", day(-10)),
		payment(2, "Purchase Balance", "70", day(10)),
		collection(3, "Collection #1", "50", day(20)),
		collection(4, "Final collection", "50", day(40)),
	}))
	require.NoError(t, err)
	_, err = deposit(ctx, op.ID, "300", day(-10))
	require.NoError(t, err)
	_, err = models.RecordMovement(ctx, &models.NewCashMovement{
		Date:        day(-1),
		Kind:        models.MovementKindOperationCollection,
		Description: "Customer payment",
		AmountIn:    dec("750"),
		OperationId: &op.ID,
	})
	require.NoError(t, err)

	require.NoError(t, models.ReconcileOperation(ctx, op.ID))
	first := schedule(t, ctx, op.ID)
	require.NoError(t, models.ReconcileOperation(ctx, op.ID))
	second := schedule(t, ctx, op.ID)

	require.Len(t, second, len(first))
	for i := range first {
		assert.Equal(t, first[i].Status, second[i].Status)
		assert.Equal(t, first[i].ActualDate, second[i].ActualDate)
	}
	assert.Equal(t, models.ScheduledPaymentStatusPaid, second[2].Status)
	assert.Equal(t, models.ScheduledPaymentStatusPaid, second[3].Status)

	assert.True(t, models.IsNotFound(models.ReconcileOperation(ctx, 4242)))
}

func TestReconcileAggregateThreshold(t *testing.T) {
	ctx := setupLedgerDB(t)
	p := createParties(t, ctx)
	fund(t, ctx, "5000", day(-30))

	op, err := models.CreateOperation(ctx, newTrade(p, []*models.NewScheduledPayment{
		payment(1, "Initial Deposit", "30", day(-10)),
		payment(2, "Second Deposit", "30", day(-5)),
		payment(3, "Purchase Balance", "40", day(10)),
	}))
	require.NoError(t, err)

	// 400 covers the largest single installment, so every installment counts as paid
	_, err = deposit(ctx, op.ID, "400", day(-4))
	require.NoError(t, err)

	for _, e := range schedule(t, ctx, op.ID) {
		assert.Equal(t, models.ScheduledPaymentStatusPaid, e.Status, e.Description)
		assert.Equal(t, "2025-03-06", utils.FormatDate(*e.ActualDate))
	}
}

func TestReconcileSequential(t *testing.T) {
	ctx := setupLedgerDB(t)
	t.Setenv("RECONCILIATION_MODE", "sequential")
	p := createParties(t, ctx)
	fund(t, ctx, "5000", day(-30))

	op, err := models.CreateOperation(ctx, newTrade(p, []*models.NewScheduledPayment{
		payment(1, "Initial Deposit", "30", day(-10)),
		payment(2, "Second Deposit", "30", day(-5)),
		payment(3, "Purchase Balance", "40", day(10)),
	}))
	require.NoError(t, err)

	_, err = deposit(ctx, op.ID, "200", day(-9))
	require.NoError(t, err)
	_, err = deposit(ctx, op.ID, "200", day(-4))
	require.NoError(t, err)

	entries := schedule(t, ctx, op.ID)
	assert.Equal(t, models.ScheduledPaymentStatusPaid, entries[0].Status)
	assert.Equal(t, "2025-03-06", utils.FormatDate(*entries[0].ActualDate))
	assert.Equal(t, models.ScheduledPaymentStatusPending, entries[1].Status)
	assert.Equal(t, models.ScheduledPaymentStatusPending, entries[2].Status)

	_, err = deposit(ctx, op.ID, "250", day(-1))
	require.NoError(t, err)
	entries = schedule(t, ctx, op.ID)
	assert.Equal(t, models.ScheduledPaymentStatusPaid, entries[1].Status)
	assert.Equal(t, "2025-03-09", utils.FormatDate(*entries[1].ActualDate))
	assert.Equal(t, models.ScheduledPaymentStatusPending, entries[2].Status)
}

func TestDeleteMovementReconciles(t *testing.T) {
	ctx := setupLedgerDB(t)
	p := createParties(t, ctx)
	fund(t, ctx, "2000", day(-30))

	op, err := models.CreateOperation(ctx, newTrade(p, []*models.NewScheduledPayment{
		payment(1, "Full payment", "100", day(-2)),
	}))
	require.NoError(t, err)
	dep, err := deposit(ctx, op.ID, "1000", day(-2))
	require.NoError(t, err)
	require.Equal(t, models.ScheduledPaymentStatusPaid, schedule(t, ctx, op.ID)[0].Status)

	_, err = models.DeleteMovement(ctx, dep.ID)
	require.NoError(t, err)

	entries := schedule(t, ctx, op.ID)
	assert.Equal(t, models.ScheduledPaymentStatusPending, entries[0].Status)
	assert.Nil(t, entries[0].ActualDate)

	_, err = models.DeleteMovement(ctx, dep.ID)
	assert.True(t, models.IsNotFound(err))
}

func TestSettleScheduledPayment(t *testing.T) {
	ctx := setupLedgerDB(t)
	p := createParties(t, ctx)
	fund(t, ctx, "2000", day(-30))

	op, err := models.CreateOperation(ctx, newTrade(p, []*models.NewScheduledPayment{
		payment(1, "Initial Deposit", "30", day(-3)),
		payment(2, "Purchase Balance", "70", day(30)),
		collection(3, "Final collection", "100", day(60)),
	}))
	require.NoError(t, err)
	entries := schedule(t, ctx, op.ID)

	settled, err := models.SettleScheduledPayment(ctx, entries[0].ID, day(-1))
	require.NoError(t, err)
	assert.Equal(t, models.ScheduledPaymentStatusPaid, settled.Status)
	assert.Equal(t, "2025-03-09", utils.FormatDate(*settled.ActualDate))

	summary, err := models.GetOperationCashSummary(ctx, op.ID)
	require.NoError(t, err)
	requireDecimal(t, "300", summary.Deposits)
	requireDecimal(t, "-300", summary.Net)
	assert.Equal(t, 1, summary.MovementCount)

	_, err = models.SettleScheduledPayment(ctx, entries[0].ID, day(0))
	assert.True(t, models.IsValidation(err))

	collected, err := models.SettleScheduledPayment(ctx, entries[2].ID, day(0))
	require.NoError(t, err)
	assert.Equal(t, models.ScheduledPaymentStatusPaid, collected.Status)

	summary, err = models.GetOperationCashSummary(ctx, op.ID)
	require.NoError(t, err)
	requireDecimal(t, "1500", summary.Collections)
	requireDecimal(t, "1200", summary.Net)

	_, err = models.SettleScheduledPayment(ctx, 999, day(0))
	assert.True(t, models.IsNotFound(err))
}

func TestSettleFollowsReconciliation(t *testing.T) {
	ctx := setupLedgerDB(t)
	p := createParties(t, ctx)
	fund(t, ctx, "2000", day(-30))

	op, err := models.CreateOperation(ctx, newTrade(p, []*models.NewScheduledPayment{
		payment(1, "Initial Deposit", "30", day(-10)),
		payment(2, "Purchase Balance", "70", day(30)),
	}))
	require.NoError(t, err)
	entries := schedule(t, ctx, op.ID)

	// 700 covers the 300 deposit too under the aggregate rule
	settled, err := models.SettleScheduledPayment(ctx, entries[1].ID, day(-2))
	require.NoError(t, err)
	assert.Equal(t, models.ScheduledPaymentStatusPaid, settled.Status)

	before := schedule(t, ctx, op.ID)
	require.NoError(t, models.ReconcileOperation(ctx, op.ID))
	after := schedule(t, ctx, op.ID)
	for i := range before {
		assert.Equal(t, before[i].Status, after[i].Status)
		assert.Equal(t, utils.FormatDate(*before[i].ActualDate), utils.FormatDate(*after[i].ActualDate))
	}
}

func TestSettleSequentialInOrder(t *testing.T) {
	ctx := setupLedgerDB(t)
	t.Setenv("RECONCILIATION_MODE", "sequential")
	p := createParties(t, ctx)
	fund(t, ctx, "2000", day(-30))

	op, err := models.CreateOperation(ctx, newTrade(p, []*models.NewScheduledPayment{
		payment(1, "Initial Deposit", "30", day(-10)),
		payment(2, "Purchase Balance", "70", day(30)),
	}))
	require.NoError(t, err)
	entries := schedule(t, ctx, op.ID)

	_, err = models.SettleScheduledPayment(ctx, entries[1].ID, day(-2))
	assert.True(t, models.IsValidation(err), "balance before deposit")
	summary, err := models.GetOperationCashSummary(ctx, op.ID)
	require.NoError(t, err)
	assert.Equal(t, 0, summary.MovementCount)

	first, err := models.SettleScheduledPayment(ctx, entries[0].ID, day(-2))
	require.NoError(t, err)
	assert.Equal(t, models.ScheduledPaymentStatusPaid, first.Status)
	assert.Equal(t, "2025-03-08", utils.FormatDate(*first.ActualDate))

	second, err := models.SettleScheduledPayment(ctx, entries[1].ID, day(-1))
	require.NoError(t, err)
	assert.Equal(t, models.ScheduledPaymentStatusPaid, second.Status)
	assert.Equal(t, "2025-03-09", utils.FormatDate(*second.ActualDate))

	require.NoError(t, models.ReconcileOperation(ctx, op.ID))
	entries = schedule(t, ctx, op.ID)
	assert.Equal(t, models.ScheduledPaymentStatusPaid, entries[0].Status)
	assert.Equal(t, "2025-03-08", utils.FormatDate(*entries[0].ActualDate))
	assert.Equal(t, models.ScheduledPaymentStatusPaid, entries[1].Status)
	assert.Equal(t, "2025-03-09", utils.FormatDate(*entries[1].ActualDate))
}
