package models_test

import (
	"testing"

	"bitbucket.org/mmdatafocus/tradeledger_backend/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGenerateInvoice(t *testing.T) {
	ctx := setupLedgerDB(t)
	p := createParties(t, ctx)

	hbl := day(20)
	input := newTrade(p, nil)
	input.HblDate = &hbl
	first, err := models.CreateOperation(ctx, input)
	require.NoError(t, err)
	second, err := models.CreateOperation(ctx, newTrade(p, nil))
	require.NoError(t, err)

	late := day(20)
	_, err = models.GenerateInvoice(ctx, first.ID, &late)
	assert.True(t, models.IsValidation(err), "invoice on the HBL date is rejected")

	inv, err := models.GenerateInvoice(ctx, first.ID, nil)
	require.NoError(t, err)
	assert.Equal(t, "INV-000001", inv.Number)
	assert.Equal(t, "USD", inv.Currency)
	requireDecimal(t, "1000", inv.SubtotalFob)
	requireDecimal(t, "1500", inv.TotalIncoterm)

	_, err = models.GenerateInvoice(ctx, first.ID, nil)
	assert.True(t, models.IsValidation(err), "one invoice per operation")

	_, err = models.GenerateCustomInvoice(ctx, second.ID, &models.NewInvoice{
		Number: "INV-000001", Date: day(0), SubtotalFob: dec("1000"), TotalIncoterm: dec("1500"),
	})
	assert.True(t, models.IsValidation(err), "duplicate number")

	custom, err := models.GenerateCustomInvoice(ctx, second.ID, &models.NewInvoice{
		Number: "EXP-2025-01", Date: day(1), SubtotalFob: dec("990"), TotalIncoterm: dec("1490"), Currency: "eur",
	})
	require.NoError(t, err)
	assert.Equal(t, "EUR", custom.Currency)

	_, err = models.GenerateInvoice(ctx, 404, nil)
	assert.True(t, models.IsNotFound(err))

	invoices, err := models.ListInvoices(ctx)
	require.NoError(t, err)
	require.Len(t, invoices, 2)
	assert.Equal(t, "EXP-2025-01", invoices[0].Number)

	byOp, err := models.GetInvoiceByOperation(ctx, second.ID)
	require.NoError(t, err)
	assert.Equal(t, custom.ID, byOp.ID)

	status, err := models.GetLedgerEventStatus(ctx, models.LedgerEventReferenceInvoice, custom.ID)
	require.NoError(t, err)
	assert.Equal(t, models.OutboxPublishStatusPending, status.PublishStatus)
}

func TestGenerateInvoiceSkipsTakenNumbers(t *testing.T) {
	ctx := setupLedgerDB(t)
	p := createParties(t, ctx)

	ops := make([]*models.Operation, 4)
	for i := range ops {
		op, err := models.CreateOperation(ctx, newTrade(p, nil))
		require.NoError(t, err)
		ops[i] = op
	}

	_, err := models.GenerateCustomInvoice(ctx, ops[0].ID, &models.NewInvoice{
		Number: "INV-000002", Date: day(0), SubtotalFob: dec("1000"), TotalIncoterm: dec("1500"),
	})
	require.NoError(t, err)

	inv, err := models.GenerateInvoice(ctx, ops[1].ID, nil)
	require.NoError(t, err)
	assert.Equal(t, "INV-000003", inv.Number)

	// deleting the latest invoice frees its number
	_, err = models.DeleteOperation(ctx, ops[1].ID)
	require.NoError(t, err)
	inv, err = models.GenerateInvoice(ctx, ops[2].ID, nil)
	require.NoError(t, err)
	assert.Equal(t, "INV-000003", inv.Number)
	inv, err = models.GenerateInvoice(ctx, ops[3].ID, nil)
	require.NoError(t, err)
	assert.Equal(t, "INV-000004", inv.Number)
}
