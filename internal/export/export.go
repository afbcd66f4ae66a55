// Package export renders extracted statements as downloadable spreadsheets.
package export

import (
	"bytes"
	"encoding/csv"
	"errors"
	"fmt"
	"strings"

	"github.com/gocarina/gocsv"
	"github.com/shopspring/decimal"

	"github.com/wenwu/saas-platform/statement-portal/internal/models"
)

var ErrUnknownFormat = errors.New("unknown export format")

type Format string

const (
	FormatCSV  Format = "csv"  // side-by-side statement layout
	FormatFlat Format = "flat" // one transaction per row
	FormatXLSX Format = "xlsx"
)

const (
	contentTypeCSV  = "text/csv; charset=utf-8"
	contentTypeXLSX = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"
)

func ParseFormat(s string) (Format, error) {
	switch f := Format(strings.ToLower(strings.TrimSpace(s))); f {
	case FormatCSV, FormatFlat, FormatXLSX:
		return f, nil
	case "":
		return FormatCSV, nil
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownFormat, s)
}

// File is a rendered export ready to be served.
type File struct {
	Name        string
	ContentType string
	Data        []byte
}

// Render builds the export for data in the requested format. baseName is the
// uploaded file name; its extension is replaced.
func Render(data *models.StatementData, format Format, baseName string) (*File, error) {
	if data == nil {
		return nil, errors.New("no statement data to export")
	}
	name := strings.TrimSuffix(baseName, ".pdf")
	if name == "" {
		name = "statement"
	}

	switch format {
	case FormatCSV:
		b, err := StatementCSV(data)
		if err != nil {
			return nil, err
		}
		return &File{Name: name + "-converted.csv", ContentType: contentTypeCSV, Data: b}, nil
	case FormatFlat:
		b, err := FlatCSV(data)
		if err != nil {
			return nil, err
		}
		return &File{Name: name + "-transactions.csv", ContentType: contentTypeCSV, Data: b}, nil
	case FormatXLSX:
		b, err := XLSX(data)
		if err != nil {
			return nil, err
		}
		return &File{Name: name + "-converted.xlsx", ContentType: contentTypeXLSX, Data: b}, nil
	}
	return nil, fmt.Errorf("%w: %q", ErrUnknownFormat, format)
}

var statementHeader = []string{
	"Account Summary", "Value", "",
	"Description", "Date Credited", "Amount", "",
	"Description", "Tran Date", "Date Paid", "Amount", "",
	"Date Paid", "Check Number", "Amount", "Reference Number", "",
	"Description", "Tran Date", "Date Paid", "Amount",
}

// statementGrid lays the four transaction sections out side by side, with
// the account summary in the first two columns.
func statementGrid(data *models.StatementData) [][]string {
	grid := [][]string{
		statementHeader,
		{
			"Account Number", data.AccountInfo.AccountNumber, "",
			"DEPOSITS & OTHER CREDITS", "", "", "",
			"ATM WITHDRAWALS & DEBITS", "", "", "", "",
			"CHECKS PAID", "", "", "", "",
			"CARD PURCHASES", "", "", "",
		},
	}

	rows := data.TransactionCount()
	if rows < 3 {
		rows = 3
	}
	for i := 0; i < rows; i++ {
		var summary []string
		switch i {
		case 0:
			summary = []string{"Statement Date", data.AccountInfo.StatementDate, ""}
		case 1:
			summary = []string{"Beginning Balance", dollars(data.AccountInfo.BeginningBalance), ""}
		case 2:
			summary = []string{"Ending Balance", dollars(data.AccountInfo.EndingBalance), ""}
		default:
			summary = []string{"", "", ""}
		}

		row := append(summary, depositCells(data.Deposits, i)...)
		row = append(row, "")
		row = append(row, debitCells(data.ATMWithdrawals, i)...)
		row = append(row, "")
		row = append(row, checkCells(data.ChecksPaid, i)...)
		row = append(row, "")
		row = append(row, debitCells(data.VisaPurchases, i)...)
		grid = append(grid, row)
	}
	return grid
}

// StatementCSV renders the side-by-side statement layout.
func StatementCSV(data *models.StatementData) ([]byte, error) {
	var buf bytes.Buffer
	w := csv.NewWriter(&buf)
	if err := w.WriteAll(statementGrid(data)); err != nil {
		return nil, fmt.Errorf("write csv: %w", err)
	}
	return buf.Bytes(), nil
}

func depositCells(list []models.Deposit, i int) []string {
	if i >= len(list) {
		return []string{"", "", ""}
	}
	d := list[i]
	return []string{d.Description, d.DateCredited, amount(d.Amount)}
}

func debitCells(list []models.CardDebit, i int) []string {
	if i >= len(list) {
		return []string{"", "", "", ""}
	}
	d := list[i]
	return []string{d.Description, d.TranDate, d.DatePosted, amount(d.Amount.Abs())}
}

func checkCells(list []models.CheckPaid, i int) []string {
	if i >= len(list) {
		return []string{"", "", "", ""}
	}
	c := list[i]
	return []string{c.DatePaid, c.CheckNumber, amount(c.Amount), c.ReferenceNumber}
}

// amount leaves zero amounts blank; balances always print.
func amount(d decimal.Decimal) string {
	if d.IsZero() {
		return ""
	}
	return dollars(d)
}

func dollars(d decimal.Decimal) string {
	return "$" + d.StringFixed(2)
}

// Transaction is one row of the flat export.
type Transaction struct {
	Section     string `csv:"section"`
	Date        string `csv:"date"`
	PostedDate  string `csv:"posted_date"`
	Description string `csv:"description"`
	CheckNumber string `csv:"check_number"`
	Reference   string `csv:"reference"`
	Amount      string `csv:"amount"`
}

const (
	SectionDeposit = "deposit"
	SectionATM     = "atm_withdrawal"
	SectionCheck   = "check"
	SectionCard    = "card_purchase"
)

// Transactions flattens the statement. Debits are signed negative.
func Transactions(data *models.StatementData) []Transaction {
	out := make([]Transaction, 0, len(data.Deposits)+len(data.ATMWithdrawals)+len(data.ChecksPaid)+len(data.VisaPurchases))
	for _, d := range data.Deposits {
		out = append(out, Transaction{
			Section:     SectionDeposit,
			Date:        d.DateCredited,
			Description: d.Description,
			Amount:      d.Amount.StringFixed(2),
		})
	}
	for _, d := range data.ATMWithdrawals {
		out = append(out, debitRow(SectionATM, d))
	}
	for _, c := range data.ChecksPaid {
		out = append(out, Transaction{
			Section:     SectionCheck,
			Date:        c.DatePaid,
			CheckNumber: c.CheckNumber,
			Reference:   c.ReferenceNumber,
			Amount:      c.Amount.Abs().Neg().StringFixed(2),
		})
	}
	for _, d := range data.VisaPurchases {
		out = append(out, debitRow(SectionCard, d))
	}
	return out
}

func debitRow(section string, d models.CardDebit) Transaction {
	return Transaction{
		Section:     section,
		Date:        d.TranDate,
		PostedDate:  d.DatePosted,
		Description: d.Description,
		Amount:      d.Amount.Abs().Neg().StringFixed(2),
	}
}

// FlatCSV renders one transaction per row with a header.
func FlatCSV(data *models.StatementData) ([]byte, error) {
	rows := Transactions(data)
	b, err := gocsv.MarshalBytes(&rows)
	if err != nil {
		return nil, fmt.Errorf("marshal transactions: %w", err)
	}
	return b, nil
}
