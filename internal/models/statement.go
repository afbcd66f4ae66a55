package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// ProcessResponse is returned by POST /api/process-pdf and POST /api/anonymous/convert.
type ProcessResponse struct {
	Success        bool           `json:"success"`
	Data           *StatementData `json:"data"`
	PagesProcessed int            `json:"pages_processed,omitempty"`
	PagesUsed      int            `json:"pages_used,omitempty"`
}

// PagesConsumed prefers pages_processed, then pages_used, and assumes one page otherwise.
func (r *ProcessResponse) PagesConsumed() int {
	if r.PagesProcessed > 0 {
		return r.PagesProcessed
	}
	if r.PagesUsed > 0 {
		return r.PagesUsed
	}
	return 1
}

// StatementData is the extraction result for one bank statement.
type StatementData struct {
	AccountInfo    AccountInfo `json:"accountInfo"`
	Deposits       []Deposit   `json:"deposits"`
	ATMWithdrawals []CardDebit `json:"atmWithdrawals"`
	ChecksPaid     []CheckPaid `json:"checksPaid"`
	VisaPurchases  []CardDebit `json:"visaPurchases"`
}

type AccountInfo struct {
	AccountNumber    string          `json:"accountNumber"`
	StatementDate    string          `json:"statementDate"`
	BeginningBalance decimal.Decimal `json:"beginningBalance"`
	EndingBalance    decimal.Decimal `json:"endingBalance"`
}

type Deposit struct {
	Description  string          `json:"description"`
	DateCredited string          `json:"dateCredited"`
	Amount       decimal.Decimal `json:"amount"`
}

// CardDebit covers both ATM withdrawals and card purchases.
type CardDebit struct {
	Description string          `json:"description"`
	TranDate    string          `json:"tranDate"`
	DatePosted  string          `json:"datePosted"`
	Amount      decimal.Decimal `json:"amount"`
}

type CheckPaid struct {
	DatePaid        string          `json:"datePaid"`
	CheckNumber     string          `json:"checkNumber"`
	ReferenceNumber string          `json:"referenceNumber"`
	Amount          decimal.Decimal `json:"amount"`
}

// TransactionCount returns the length of the longest transaction column.
func (d *StatementData) TransactionCount() int {
	n := len(d.Deposits)
	for _, l := range []int{len(d.ATMWithdrawals), len(d.ChecksPaid), len(d.VisaPurchases)} {
		if l > n {
			n = l
		}
	}
	return n
}

// ==================== Document library ====================

type Document struct {
	ID             string    `json:"id"`
	Filename       string    `json:"filename"`
	PagesProcessed int       `json:"pages_processed"`
	Status         string    `json:"status,omitempty"`
	CreatedAt      time.Time `json:"created_at"`
}

// DownloadName is the file name offered for a converted document.
func (d *Document) DownloadName() string {
	const suffix = ".pdf"
	name := d.Filename
	if len(name) > len(suffix) && name[len(name)-len(suffix):] == suffix {
		name = name[:len(name)-len(suffix)]
	}
	return name + "-converted.csv"
}

// Upload is a file selected for conversion.
type Upload struct {
	Filename    string
	ContentType string
	Data        []byte
}

// Size returns the file size in bytes.
func (u *Upload) Size() int64 {
	return int64(len(u.Data))
}
