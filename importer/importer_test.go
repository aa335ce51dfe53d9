package importer_test

import (
	"bytes"
	"context"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"bitbucket.org/mmdatafocus/tradeledger_backend/config"
	"bitbucket.org/mmdatafocus/tradeledger_backend/importer"
	"bitbucket.org/mmdatafocus/tradeledger_backend/models"
	"bitbucket.org/mmdatafocus/tradeledger_backend/utils"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupImportDB(t *testing.T) context.Context {
	t.Helper()
	t.Setenv("OPERATION_LOCKING", "")
	t.Setenv("STRICT_SCHEDULE_KIND", "")
	t.Setenv("IMPORT_ARCHIVE_BUCKET", "")

	require.NoError(t, config.ConnectSQLite(filepath.Join(t.TempDir(), "import.db")))
	models.MigrateTable()

	prevNow := utils.Now
	utils.Now = func() time.Time { return time.Date(2025, 1, 5, 9, 0, 0, 0, time.UTC) }
	t.Cleanup(func() {
		utils.Now = prevNow
		_ = config.CloseDB()
	})

	ctx := context.Background()
	_, err := models.CreateContact(ctx, &models.NewContact{Name: "Shenzhen Parts Co", Kind: models.ContactKindSupplier})
	require.NoError(t, err)
	_, err = models.CreateContact(ctx, &models.NewContact{Name: "Andes Importaciones", Kind: models.ContactKindCustomer})
	require.NoError(t, err)
	return ctx
}

func date(s string) time.Time {
	t, err := utils.ParseDate(s)
	if err != nil {
		panic(err)
	}
	return t
}

const sampleCSV = `Invoice,Date,Supplier,Customer,Incoterm,Purchase Value,Sale Value,Deposit %,Deposit Date,Balance Due Date,Installments,Installment Dates,Notes
FAC-1,2025-01-15,Shenzhen Parts Co,Andes Importaciones,CIF,"5,000.00",6000,30,2025-01-10,2025-03-15,2,2025-03-20;2025-04-20,first
FAC-2,2025-01-20,Shenzhen Parts Co,Andes Importaciones,,1000,1200,,,,,,
`

func TestReadRowsCSV(t *testing.T) {
	rows, rowErrors, err := importer.ReadRows(strings.NewReader(sampleCSV), "ops.csv")
	require.NoError(t, err)
	assert.Empty(t, rowErrors)
	require.Len(t, rows, 2)

	first := rows[0]
	assert.Equal(t, 2, first.Line)
	assert.Equal(t, "FAC-1", first.Invoice)
	assert.Equal(t, "CIF", first.SaleIncoterm)
	assert.True(t, decimal.NewFromInt(5000).Equal(first.PurchaseValue))
	require.NotNil(t, first.DepositPercentage)
	assert.True(t, decimal.NewFromInt(30).Equal(*first.DepositPercentage))
	assert.Equal(t, 2, first.Installments)
	assert.Equal(t, []time.Time{date("2025-03-20"), date("2025-04-20")}, first.InstallmentDates)

	second := rows[1]
	assert.Nil(t, second.DepositPercentage)
	assert.Nil(t, second.BalanceDate)
	assert.Equal(t, 1, second.Installments)
	assert.Empty(t, second.InstallmentDates)
}

func TestReadRowsSpreadsheetBOM(t *testing.T) {
	rows, rowErrors, err := importer.ReadRows(strings.NewReader("\uFEFF"+sampleCSV), "ops.csv")
	require.NoError(t, err)
	assert.Empty(t, rowErrors)
	require.Len(t, rows, 2)
	assert.Equal(t, "FAC-1", rows[0].Invoice)
}

func TestReadRowsSpanishHeaders(t *testing.T) {
	csv := "Factura,Fecha,Proveedor,Cliente,INCOTERM,Valor_Compra_FOB,Porcentaje_Deposito,Valor_Venta,Numero_Cuotas\n" +
		"FAC-9,2025-02-01,Shenzhen Parts Co,Andes Importaciones,DAP,800,40%,1000,1\n"
	rows, rowErrors, err := importer.ReadRows(strings.NewReader(csv), "ops.CSV")
	require.NoError(t, err)
	assert.Empty(t, rowErrors)
	require.Len(t, rows, 1)
	assert.Equal(t, "FAC-9", rows[0].Invoice)
	assert.True(t, decimal.NewFromInt(40).Equal(*rows[0].DepositPercentage))
}

func TestReadRowsRejects(t *testing.T) {
	_, _, err := importer.ReadRows(strings.NewReader("a,b\n"), "ops.txt")
	assert.Error(t, err)

	_, _, err = importer.ReadRows(strings.NewReader("Invoice,Supplier\nX,Y\n"), "ops.csv")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "customer")

	csv := "Supplier,Customer,Purchase Value,Sale Value,Installments\n" +
		"S,C,abc,100,1\n" +
		"S,C,100,100,0\n" +
		",,,,\n" +
		"S,C,100,120,1\n"
	rows, rowErrors, err := importer.ReadRows(strings.NewReader(csv), "ops.csv")
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, 5, rows[0].Line)
	require.Len(t, rowErrors, 2)
	assert.Equal(t, 2, rowErrors[0].Row)
	assert.Equal(t, 3, rowErrors[1].Row)
}

func TestTemplateRoundTrip(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, importer.WriteTemplate(&buf))

	rows, rowErrors, err := importer.ReadRows(&buf, "template.xlsx")
	require.NoError(t, err)
	assert.Empty(t, rowErrors)
	require.Len(t, rows, 3)
	assert.Equal(t, "FAC-2025-003", rows[2].Invoice)
	assert.Equal(t, 3, rows[2].Installments)
	assert.Len(t, rows[2].InstallmentDates, 3)
	assert.True(t, decimal.RequireFromString("12500.75").Equal(rows[1].PurchaseValue))
}

func TestImport(t *testing.T) {
	ctx := setupImportDB(t)

	csv := sampleCSV + "FAC-3,2025-01-25,Unknown Supplier,Andes Importaciones,FOB,100,120,30,,,1,,\n"
	result, err := importer.ImportFile(ctx, strings.NewReader(csv), "ops.csv")
	require.NoError(t, err)
	require.Len(t, result.Created, 2)
	require.Len(t, result.Errors, 1)
	assert.Equal(t, 4, result.Errors[0].Row)
	var vErr *models.ValidationError
	assert.ErrorAs(t, result.Errors[0], &vErr)

	first := result.Created[0]
	require.NotNil(t, first.ExternalReference)
	assert.Equal(t, "FAC-1", *first.ExternalReference)
	assert.Equal(t, models.SaleIncotermCIF, first.SaleIncoterm)
	assert.Equal(t, models.PurchaseIncotermFOB, first.PurchaseIncoterm)
	require.Len(t, first.ScheduledPayments, 4)
	assert.Equal(t, models.ScheduledPaymentKindPayment, first.ScheduledPayments[0].Kind)
	assert.True(t, decimal.NewFromInt(70).Equal(first.ScheduledPayments[1].Percentage))
	assert.Equal(t, date("2025-04-20"), first.ScheduledPayments[3].ScheduledDate)
	assert.True(t, decimal.NewFromInt(50).Equal(first.ScheduledPayments[3].Percentage))

	// defaults: 30% deposit, one collection, every date falls back to the row date
	second := result.Created[1]
	require.NotNil(t, second.DepositPercentage)
	assert.True(t, decimal.NewFromInt(30).Equal(*second.DepositPercentage))
	assert.Equal(t, models.SaleIncotermFOB, second.SaleIncoterm)
	require.Len(t, second.ScheduledPayments, 3)
	assert.Equal(t, date("2025-01-20"), second.ScheduledPayments[0].ScheduledDate)
	assert.Equal(t, date("2025-01-20"), second.ScheduledPayments[2].ScheduledDate)

	// the same invoice again is rejected without touching committed rows
	again := importer.Import(ctx, []*importer.Row{{Line: 2, Invoice: "FAC-1", Supplier: "Shenzhen Parts Co", Customer: "Andes Importaciones",
		PurchaseValue: decimal.NewFromInt(1), SaleValue: decimal.NewFromInt(2), Installments: 1}})
	assert.Empty(t, again.Created)
	require.Len(t, again.Errors, 1)

	ops, err := models.ListOperations(ctx, nil)
	require.NoError(t, err)
	assert.Len(t, ops, 2)
}
