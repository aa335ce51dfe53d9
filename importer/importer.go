package importer

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"path/filepath"
	"strings"
	"time"

	"bitbucket.org/mmdatafocus/tradeledger_backend/config"
	"bitbucket.org/mmdatafocus/tradeledger_backend/models"
	"bitbucket.org/mmdatafocus/tradeledger_backend/utils"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
)

const moduleName = "importer"

var defaultDepositPercentage = decimal.NewFromInt(30)

// Result lists the operations created and the rows that were skipped.
type Result struct {
	Created []*models.Operation
	Errors  []RowError
}

// Import creates one operation per row. Each row commits on its own, so a bad row
// does not undo the rows before it.
func Import(ctx context.Context, rows []*Row) *Result {
	logger := config.GetLogger()
	result := &Result{}
	for _, row := range rows {
		input, err := row.toNewOperation(ctx)
		if err == nil {
			var op *models.Operation
			op, err = models.CreateOperation(ctx, input)
			if err == nil {
				result.Created = append(result.Created, op)
				continue
			}
		}
		config.LogError(logger, moduleName, "Import", fmt.Sprintf("row %d", row.Line), row.Invoice, err)
		result.Errors = append(result.Errors, RowError{Row: row.Line, Err: err})
	}
	config.LogInfo(logger, moduleName, "Import", "import finished", logrus.Fields{
		"created": len(result.Created),
		"failed":  len(result.Errors),
	})
	return result
}

// ImportFile archives the upload when an archive bucket is configured, then reads and imports it.
// Parse failures are reported alongside creation failures in the result.
func ImportFile(ctx context.Context, r io.Reader, filename string) (*Result, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, err
	}

	if bucket := config.ImportArchiveBucket(); bucket != "" {
		objectName := "imports/" + utils.GenerateUniqueFilename() + strings.ToLower(filepath.Ext(filename))
		if err := utils.ArchiveFileToGCS(ctx, bucket, objectName, data); err != nil {
			config.LogError(config.GetLogger(), moduleName, "ImportFile", "archiving upload", objectName, err)
			return nil, err
		}
	}

	rows, parseErrors, err := ReadRows(bytes.NewReader(data), filename)
	if err != nil {
		return nil, err
	}
	result := Import(ctx, rows)
	result.Errors = append(parseErrors, result.Errors...)
	return result, nil
}

func (row *Row) toNewOperation(ctx context.Context) (*models.NewOperation, error) {
	supplier, err := models.FindContactByName(ctx, models.ContactKindSupplier, row.Supplier)
	if err != nil {
		return nil, err
	}
	customer, err := models.FindContactByName(ctx, models.ContactKindCustomer, row.Customer)
	if err != nil {
		return nil, err
	}

	saleIncoterm := models.SaleIncotermFOB
	if row.SaleIncoterm != "" {
		saleIncoterm = models.SaleIncoterm(row.SaleIncoterm)
	}

	pct := utils.DereferencePtr(row.DepositPercentage, defaultDepositPercentage)
	opDate := utils.Today()
	if row.Date != nil {
		opDate = *row.Date
	}
	depositDate := opDate
	if row.DepositDate != nil {
		depositDate = *row.DepositDate
	}
	balanceDate := depositDate
	if row.BalanceDate != nil {
		balanceDate = *row.BalanceDate
	}

	dates := make([]time.Time, 0, row.Installments)
	dates = append(dates, row.InstallmentDates...)
	for len(dates) < row.Installments {
		dates = append(dates, balanceDate)
	}

	draft := models.NewScheduleDraft().AddDeposit(pct, depositDate, balanceDate)
	if err := draft.SplitCollections(row.Installments, dates); err != nil {
		return nil, err
	}

	return &models.NewOperation{
		SupplierId:           supplier.ID,
		CustomerId:           customer.ID,
		PurchaseIncoterm:     models.PurchaseIncotermFOB,
		PurchaseValue:        row.PurchaseValue,
		SaleIncoterm:         saleIncoterm,
		SaleValue:            row.SaleValue,
		DepositPercentage:    &pct,
		DepositDate:          &depositDate,
		EstimatedBalanceDate: &balanceDate,
		GoodsOrigin:          row.Origin,
		Notes:                row.Notes,
		ExternalReference:    row.Invoice,
		Schedule:             draft.Entries(),
	}, nil
}
