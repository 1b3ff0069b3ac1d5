package reconcile

import (
	"fmt"
	"io"

	"github.com/xuri/excelize/v2"
)

const summarySheet = "Summary"

// XLSXContentType is the MIME type of WriteXLSX output.
const XLSXContentType = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"

// WriteXLSX renders reports and pool issues as a workbook: a summary sheet,
// one sheet per location with mismatches, and a cost pool sheet when needed.
func WriteXLSX(w io.Writer, reports []Report, issues []PoolIssue) error {
	f := excelize.NewFile()
	defer func() { _ = f.Close() }()

	if err := f.SetSheetName("Sheet1", summarySheet); err != nil {
		return err
	}
	if err := setRow(f, summarySheet, 1, "Location ID", "Location", "Moves", "Balance Records", "Mismatches"); err != nil {
		return err
	}
	for i, r := range reports {
		if err := setRow(f, summarySheet, i+2, r.LocationID, r.LocationName, r.TotalMoves, r.TotalBalanceRecords, len(r.Mismatches)); err != nil {
			return err
		}
	}

	for _, r := range reports {
		if r.Clean() {
			continue
		}
		sheet := fmt.Sprintf("Location %d", r.LocationID)
		if _, err := f.NewSheet(sheet); err != nil {
			return err
		}
		if err := setRow(f, sheet, 1, "Item ID", "Ledger Qty", "Balance Qty", "Drift"); err != nil {
			return err
		}
		for i, m := range r.Mismatches {
			if err := setRow(f, sheet, i+2, m.ItemID, m.LedgerQty.InexactFloat64(), m.BalanceQty.InexactFloat64(), m.Drift().InexactFloat64()); err != nil {
				return err
			}
		}
	}

	if len(issues) > 0 {
		const sheet = "Cost Pools"
		if _, err := f.NewSheet(sheet); err != nil {
			return err
		}
		if err := setRow(f, sheet, 1, "Item ID", "Item", "On Hand", "Total Value", "Unit Cost", "Problem"); err != nil {
			return err
		}
		for i, is := range issues {
			if err := setRow(f, sheet, i+2, is.ItemID, is.ItemName, is.OnHand.InexactFloat64(),
				is.TotalValue.InexactFloat64(), is.UnitCost.InexactFloat64(), string(is.Problem)); err != nil {
				return err
			}
		}
	}

	_, err := f.WriteTo(w)
	return err
}

func setRow(f *excelize.File, sheet string, row int, values ...any) error {
	cell, err := excelize.CoordinatesToCellName(1, row)
	if err != nil {
		return err
	}
	return f.SetSheetRow(sheet, cell, &values)
}
