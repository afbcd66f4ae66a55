package export

import (
	"fmt"
	"reflect"

	"github.com/xuri/excelize/v2"

	"github.com/wenwu/saas-platform/statement-portal/internal/models"
)

const (
	SheetStatement    = "Statement"
	SheetTransactions = "Transactions"
)

// XLSX renders a workbook with the statement layout on the first sheet and
// the flat transaction list on the second.
func XLSX(data *models.StatementData) ([]byte, error) {
	f := excelize.NewFile()
	defer f.Close()

	if err := f.SetSheetName("Sheet1", SheetStatement); err != nil {
		return nil, fmt.Errorf("rename sheet: %w", err)
	}
	bold, err := f.NewStyle(&excelize.Style{Font: &excelize.Font{Bold: true}})
	if err != nil {
		return nil, fmt.Errorf("create style: %w", err)
	}

	grid := statementGrid(data)
	if err := writeRows(f, SheetStatement, grid); err != nil {
		return nil, err
	}
	last, _ := excelize.CoordinatesToCellName(len(statementHeader), 2)
	if err := f.SetCellStyle(SheetStatement, "A1", last, bold); err != nil {
		return nil, fmt.Errorf("style header: %w", err)
	}
	if err := f.SetColWidth(SheetStatement, "A", "U", 18); err != nil {
		return nil, fmt.Errorf("set width: %w", err)
	}

	if _, err := f.NewSheet(SheetTransactions); err != nil {
		return nil, fmt.Errorf("create sheet: %w", err)
	}
	txRows := [][]string{transactionHeader()}
	for _, t := range Transactions(data) {
		txRows = append(txRows, []string{t.Section, t.Date, t.PostedDate, t.Description, t.CheckNumber, t.Reference, t.Amount})
	}
	if err := writeRows(f, SheetTransactions, txRows); err != nil {
		return nil, err
	}
	if err := f.SetCellStyle(SheetTransactions, "A1", "G1", bold); err != nil {
		return nil, fmt.Errorf("style header: %w", err)
	}

	f.SetActiveSheet(0)
	buf, err := f.WriteToBuffer()
	if err != nil {
		return nil, fmt.Errorf("write workbook: %w", err)
	}
	return buf.Bytes(), nil
}

func writeRows(f *excelize.File, sheet string, rows [][]string) error {
	for i, row := range rows {
		cell, err := excelize.CoordinatesToCellName(1, i+1)
		if err != nil {
			return err
		}
		if err := f.SetSheetRow(sheet, cell, &row); err != nil {
			return fmt.Errorf("write %s row %d: %w", sheet, i+1, err)
		}
	}
	return nil
}

// transactionHeader reads the csv tags so both flat renderings agree.
func transactionHeader() []string {
	t := reflect.TypeOf(Transaction{})
	out := make([]string, t.NumField())
	for i := range out {
		out[i] = t.Field(i).Tag.Get("csv")
	}
	return out
}
