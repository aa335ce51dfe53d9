package importer

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"bitbucket.org/mmdatafocus/tradeledger_backend/utils"
	"github.com/shopspring/decimal"
	"github.com/xuri/excelize/v2"
)

// Row is one operation read from an import sheet, with names not yet resolved to contacts.
type Row struct {
	Line              int
	Invoice           string
	Date              *time.Time
	Supplier          string
	Customer          string
	SaleIncoterm      string
	Origin            string
	PurchaseValue     decimal.Decimal
	SaleValue         decimal.Decimal
	DepositPercentage *decimal.Decimal
	DepositDate       *time.Time
	BalanceDate       *time.Time
	Installments      int
	InstallmentDates  []time.Time
	Notes             string
}

// RowError is a failure tied to a sheet line (header is line 1).
type RowError struct {
	Row int
	Err error
}

func (e RowError) Error() string {
	return fmt.Sprintf("row %d: %v", e.Row, e.Err)
}

func (e RowError) Unwrap() error {
	return e.Err
}

type column string

const (
	colInvoice          column = "invoice"
	colDate             column = "date"
	colSupplier         column = "supplier"
	colCustomer         column = "customer"
	colIncoterm         column = "incoterm"
	colOrigin           column = "origin"
	colPurchaseValue    column = "purchase_value"
	colSaleValue        column = "sale_value"
	colDepositPct       column = "deposit_pct"
	colDepositDate      column = "deposit_date"
	colBalanceDate      column = "balance_date"
	colInstallments     column = "installments"
	colInstallmentDates column = "installment_dates"
	colNotes            column = "notes"
)

// TemplateHeaders is the column order written by WriteTemplate.
var TemplateHeaders = []string{
	"Invoice", "Date", "Supplier", "Customer", "Incoterm", "Origin", "Purchase Value", "Sale Value",
	"Deposit %", "Deposit Date", "Balance Due Date", "Installments", "Installment Dates", "Notes",
}

// header spellings accepted per column, compared after normalizeHeader
var headerAliases = map[string]column{
	"invoice":             colInvoice,
	"factura":             colInvoice,
	"date":                colDate,
	"fecha":               colDate,
	"supplier":            colSupplier,
	"proveedor":           colSupplier,
	"customer":            colCustomer,
	"cliente":             colCustomer,
	"incoterm":            colIncoterm,
	"origin":              colOrigin,
	"origen":              colOrigin,
	"purchase value":      colPurchaseValue,
	"purchase value fob":  colPurchaseValue,
	"valor compra fob":    colPurchaseValue,
	"sale value":          colSaleValue,
	"valor venta":         colSaleValue,
	"deposit %":           colDepositPct,
	"deposit percentage":  colDepositPct,
	"porcentaje deposito": colDepositPct,
	"deposit date":        colDepositDate,
	"fecha deposito":      colDepositDate,
	"balance due date":    colBalanceDate,
	"fecha pago saldo":    colBalanceDate,
	"installments":        colInstallments,
	"numero cuotas":       colInstallments,
	"installment dates":   colInstallmentDates,
	"fechas cuotas":       colInstallmentDates,
	"notes":               colNotes,
	"observaciones":       colNotes,
}

var requiredColumns = []column{colSupplier, colCustomer, colPurchaseValue, colSaleValue}

func normalizeHeader(h string) string {
	h = strings.ToLower(strings.TrimSpace(h))
	h = strings.ReplaceAll(h, "_", " ")
	return strings.Join(strings.Fields(h), " ")
}

// ReadRows parses a .csv or .xlsx upload. Rows that cannot be parsed are returned as RowErrors;
// the error result is reserved for unreadable files and missing columns.
func ReadRows(r io.Reader, filename string) ([]*Row, []RowError, error) {
	var records [][]string
	var err error
	switch strings.ToLower(filepath.Ext(filename)) {
	case ".csv":
		records, err = readCSV(r)
	case ".xlsx":
		records, err = readXLSX(r)
	default:
		return nil, nil, fmt.Errorf("invalid file type %q: only .csv and .xlsx files are allowed", filepath.Ext(filename))
	}
	if err != nil {
		return nil, nil, err
	}
	return parseRecords(records)
}

func readCSV(r io.Reader) ([][]string, error) {
	reader := csv.NewReader(r)
	reader.FieldsPerRecord = -1
	reader.TrimLeadingSpace = true
	records, err := reader.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("unable to read csv: %v", err)
	}
	// drop a UTF-8 BOM left by spreadsheet exports
	if len(records) > 0 && len(records[0]) > 0 {
		records[0][0] = strings.TrimPrefix(records[0][0], "\uFEFF")
	}
	return records, nil
}

func readXLSX(r io.Reader) ([][]string, error) {
	f, err := excelize.OpenReader(r)
	if err != nil {
		return nil, fmt.Errorf("failed to open Excel file: %v", err)
	}
	defer f.Close()

	sheets := f.GetSheetList()
	if len(sheets) == 0 {
		return nil, errors.New("workbook has no sheets")
	}
	rows, err := f.GetRows(sheets[0])
	if err != nil {
		return nil, fmt.Errorf("unable to read sheet: %v", err)
	}
	return rows, nil
}

func parseRecords(records [][]string) ([]*Row, []RowError, error) {
	if len(records) == 0 {
		return nil, nil, errors.New("file is empty")
	}

	index := make(map[column]int)
	for i, h := range records[0] {
		if c, ok := headerAliases[normalizeHeader(h)]; ok {
			if _, seen := index[c]; !seen {
				index[c] = i
			}
		}
	}
	var missing []string
	for _, c := range requiredColumns {
		if _, ok := index[c]; !ok {
			missing = append(missing, string(c))
		}
	}
	if len(missing) > 0 {
		return nil, nil, fmt.Errorf("missing required columns: %s", strings.Join(missing, ", "))
	}

	var rows []*Row
	var rowErrors []RowError
	for i, record := range records[1:] {
		line := i + 2
		if isBlank(record) {
			continue
		}
		row, err := parseRow(line, record, index)
		if err != nil {
			rowErrors = append(rowErrors, RowError{Row: line, Err: err})
			continue
		}
		rows = append(rows, row)
	}
	return rows, rowErrors, nil
}

func isBlank(record []string) bool {
	for _, v := range record {
		if strings.TrimSpace(v) != "" {
			return false
		}
	}
	return true
}

func parseRow(line int, record []string, index map[column]int) (*Row, error) {
	cell := func(c column) string {
		i, ok := index[c]
		if !ok || i >= len(record) {
			return ""
		}
		return strings.TrimSpace(record[i])
	}

	row := &Row{
		Line:         line,
		Invoice:      cell(colInvoice),
		Supplier:     cell(colSupplier),
		Customer:     cell(colCustomer),
		SaleIncoterm: strings.ToUpper(cell(colIncoterm)),
		Origin:       cell(colOrigin),
		Notes:        cell(colNotes),
		Installments: 1,
	}
	if row.Supplier == "" {
		return nil, errors.New("supplier is empty")
	}
	if row.Customer == "" {
		return nil, errors.New("customer is empty")
	}

	var err error
	if row.PurchaseValue, err = utils.ParseDecimal(cell(colPurchaseValue)); err != nil {
		return nil, fmt.Errorf("could not parse purchase value: %v", err)
	}
	if row.SaleValue, err = utils.ParseDecimal(cell(colSaleValue)); err != nil {
		return nil, fmt.Errorf("could not parse sale value: %v", err)
	}
	if v := strings.TrimSuffix(cell(colDepositPct), "%"); v != "" {
		pct, err := utils.ParseDecimal(v)
		if err != nil {
			return nil, fmt.Errorf("could not parse deposit %%: %v", err)
		}
		row.DepositPercentage = &pct
	}

	for _, d := range []struct {
		col  column
		dest **time.Time
	}{
		{colDate, &row.Date},
		{colDepositDate, &row.DepositDate},
		{colBalanceDate, &row.BalanceDate},
	} {
		v := cell(d.col)
		if v == "" {
			continue
		}
		t, err := utils.ParseDate(v)
		if err != nil {
			return nil, fmt.Errorf("%s: %v", d.col, err)
		}
		*d.dest = &t
	}

	if v := cell(colInstallments); v != "" {
		n, err := strconv.Atoi(strings.TrimSuffix(v, ".0"))
		if err != nil || n < 1 {
			return nil, fmt.Errorf("installments must be a positive whole number, got %q", v)
		}
		row.Installments = n
	}
	for _, part := range strings.Split(cell(colInstallmentDates), ";") {
		if strings.TrimSpace(part) == "" {
			continue
		}
		t, err := utils.ParseDate(part)
		if err != nil {
			return nil, fmt.Errorf("installment dates: %v", err)
		}
		row.InstallmentDates = append(row.InstallmentDates, t)
	}
	return row, nil
}

// WriteTemplate writes an example workbook with the expected columns.
func WriteTemplate(w io.Writer) error {
	f := excelize.NewFile()
	defer f.Close()
	sheet := f.GetSheetName(0)

	examples := [][]interface{}{
		{"FAC-2025-001", "2025-01-15", "Shenzhen Parts Co", "Andes Importaciones", "FOB", "China", 5000.00, 6000.00, 30, "2025-01-10", "2025-03-15", 1, "2025-03-15", "Urgent delivery"},
		{"FAC-2025-002", "2025-01-20", "Shenzhen Parts Co", "Andes Importaciones", "CIF", "Brazil", 12500.75, 15000.00, 50, "2025-01-15", "2025-03-20", 2, "2025-03-20;2025-04-20", "Includes insurance"},
		{"FAC-2025-003", "2025-01-25", "Shenzhen Parts Co", "Andes Importaciones", "DAP", "Germany", 8750.50, 10500.00, 40, "2025-01-20", "2025-03-25", 3, "2025-03-25;2025-04-25;2025-05-25", "Cash against documents"},
	}

	for i, h := range TemplateHeaders {
		cellName, err := excelize.CoordinatesToCellName(i+1, 1)
		if err != nil {
			return err
		}
		if err := f.SetCellValue(sheet, cellName, h); err != nil {
			return err
		}
	}
	for r, example := range examples {
		for c, v := range example {
			cellName, err := excelize.CoordinatesToCellName(c+1, r+2)
			if err != nil {
				return err
			}
			if err := f.SetCellValue(sheet, cellName, v); err != nil {
				return err
			}
		}
	}
	return f.Write(w)
}
