package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/odyssey-erp/odyssey-stock/internal/reconcile"
)

var now = time.Now

// Auditor is the reconciliation surface the audit command drives.
type Auditor interface {
	Audit(ctx context.Context, locationID int64) (reconcile.Report, error)
	AuditAll(ctx context.Context) ([]reconcile.Report, error)
	AuditCostPools(ctx context.Context) ([]reconcile.PoolIssue, error)
}

// AuditOptions defines the flags of the audit command.
type AuditOptions struct {
	LocationID int64
	CostPools  bool
	XLSXPath   string
	JSONOutput bool
	Stdout     io.Writer
	Stderr     io.Writer
}

// AuditSummary is the JSON output of the audit command.
type AuditSummary struct {
	OK         bool             `json:"ok"`
	Locations  []AuditLocation  `json:"locations"`
	PoolIssues []AuditPoolIssue `json:"pool_issues,omitempty"`
}

// AuditLocation is one location of the JSON output.
type AuditLocation struct {
	LocationID int64           `json:"location_id"`
	Name       string          `json:"name"`
	Moves      int             `json:"moves"`
	Balances   int             `json:"balances"`
	Mismatches []AuditMismatch `json:"mismatches"`
}

// AuditMismatch is one drifted balance of the JSON output.
type AuditMismatch struct {
	ItemID  int64  `json:"item_id"`
	Ledger  string `json:"ledger_qty"`
	Balance string `json:"balance_qty"`
	Drift   string `json:"drift"`
}

// AuditPoolIssue is one cost pool inconsistency of the JSON output.
type AuditPoolIssue struct {
	ItemID     int64  `json:"item_id"`
	Name       string `json:"name"`
	Problem    string `json:"problem"`
	OnHand     string `json:"on_hand"`
	TotalValue string `json:"total_value"`
	UnitCost   string `json:"unit_cost"`
}

// AuditCommand runs the ledger audit and prints the outcome. It exits 0 when
// the ledger is clean, 10 when drift was found and 1 on failure.
func AuditCommand(ctx context.Context, auditor Auditor, opts AuditOptions) int {
	if opts.Stdout == nil {
		opts.Stdout = os.Stdout
	}
	if opts.Stderr == nil {
		opts.Stderr = os.Stderr
	}
	if opts.LocationID < 0 {
		_, _ = fmt.Fprintln(opts.Stderr, "audit: --location must not be negative")
		return 1
	}

	var reports []reconcile.Report
	if opts.LocationID > 0 {
		report, err := auditor.Audit(ctx, opts.LocationID)
		if err != nil {
			_, _ = fmt.Fprintf(opts.Stderr, "audit: %v\n", err)
			return 1
		}
		reports = []reconcile.Report{report}
	} else {
		all, err := auditor.AuditAll(ctx)
		if err != nil {
			_, _ = fmt.Fprintf(opts.Stderr, "audit: %v\n", err)
			return 1
		}
		reports = all
	}

	var issues []reconcile.PoolIssue
	if opts.CostPools {
		found, err := auditor.AuditCostPools(ctx)
		if err != nil {
			_, _ = fmt.Fprintf(opts.Stderr, "audit: cost pools: %v\n", err)
			return 1
		}
		issues = found
	}

	if opts.XLSXPath != "" {
		if err := writeWorkbook(opts.XLSXPath, reports, issues); err != nil {
			_, _ = fmt.Fprintf(opts.Stderr, "audit: export: %v\n", err)
			return 1
		}
	}

	summary := buildAuditSummary(reports, issues)
	if opts.JSONOutput {
		if err := json.NewEncoder(opts.Stdout).Encode(summary); err != nil {
			_, _ = fmt.Fprintf(opts.Stderr, "audit: encode json: %v\n", err)
			return 1
		}
	} else {
		renderAuditHuman(opts.Stdout, summary)
		if opts.XLSXPath != "" {
			_, _ = fmt.Fprintf(opts.Stdout, "Workbook written to %s\n", opts.XLSXPath)
		}
	}
	if !summary.OK {
		return 10
	}
	return 0
}

func writeWorkbook(path string, reports []reconcile.Report, issues []reconcile.PoolIssue) (err error) {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer func() {
		if closeErr := f.Close(); err == nil {
			err = closeErr
		}
	}()
	return reconcile.WriteXLSX(f, reports, issues)
}

func buildAuditSummary(reports []reconcile.Report, issues []reconcile.PoolIssue) AuditSummary {
	summary := AuditSummary{OK: len(issues) == 0, Locations: make([]AuditLocation, 0, len(reports))}
	for _, report := range reports {
		loc := AuditLocation{
			LocationID: report.LocationID,
			Name:       report.LocationName,
			Moves:      report.TotalMoves,
			Balances:   report.TotalBalanceRecords,
			Mismatches: make([]AuditMismatch, 0, len(report.Mismatches)),
		}
		for _, m := range report.Mismatches {
			loc.Mismatches = append(loc.Mismatches, AuditMismatch{
				ItemID:  m.ItemID,
				Ledger:  m.LedgerQty.String(),
				Balance: m.BalanceQty.String(),
				Drift:   m.Drift().String(),
			})
		}
		if !report.Clean() {
			summary.OK = false
		}
		summary.Locations = append(summary.Locations, loc)
	}
	for _, issue := range issues {
		summary.PoolIssues = append(summary.PoolIssues, AuditPoolIssue{
			ItemID:     issue.ItemID,
			Name:       issue.ItemName,
			Problem:    string(issue.Problem),
			OnHand:     issue.OnHand.String(),
			TotalValue: issue.TotalValue.String(),
			UnitCost:   issue.UnitCost.String(),
		})
	}
	return summary
}

func renderAuditHuman(out io.Writer, summary AuditSummary) {
	for _, loc := range summary.Locations {
		label := fmt.Sprintf("Location %d", loc.LocationID)
		if loc.Name != "" {
			label += " (" + loc.Name + ")"
		}
		_, _ = fmt.Fprintf(out, "%s: %d moves, %d balances", label, loc.Moves, loc.Balances)
		if len(loc.Mismatches) == 0 {
			_, _ = fmt.Fprintln(out, ", clean")
			continue
		}
		_, _ = fmt.Fprintf(out, ", %d mismatch(es)\n", len(loc.Mismatches))
		for _, m := range loc.Mismatches {
			_, _ = fmt.Fprintf(out, " - item %d ledger %s stored %s drift %s\n", m.ItemID, m.Ledger, m.Balance, m.Drift)
		}
	}
	if len(summary.PoolIssues) > 0 {
		_, _ = fmt.Fprintf(out, "%d cost pool issue(s):\n", len(summary.PoolIssues))
		for _, issue := range summary.PoolIssues {
			_, _ = fmt.Fprintf(out, " - item %d %s: %s (on hand %s, value %s, unit cost %s)\n",
				issue.ItemID, issue.Name, issue.Problem, issue.OnHand, issue.TotalValue, issue.UnitCost)
		}
	}
	if summary.OK {
		_, _ = fmt.Fprintln(out, "Ledger and balances agree.")
	}
}
