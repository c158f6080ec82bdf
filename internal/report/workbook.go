package report

import (
	"fmt"

	"github.com/MarkoPoloResearchLab/legacyrecon/pkg/reconcile"
	"github.com/xuri/excelize/v2"
)

const (
	SheetSummary = "Summary"
	SheetChanges = "Changes"

	defaultSheet = "Sheet1"

	ActionReturnToSource = "return_to_source"
	ActionReattribute    = "reattribute"
	ActionMigrate        = "migrate"
	ActionOrphan         = "orphan"

	OutcomeApplied = "applied"
	OutcomePlanned = "planned"
	OutcomeFailed  = "failed"
)

var (
	summaryHeader = []interface{}{
		"Party", "Role",
		"Source Count", "Source Quantity", "Source Value",
		"Destination Count", "Destination Quantity", "Destination Value",
		"Count Diff", "Quantity Diff", "Value Diff", "Verdict",
	}
	changesHeader = []interface{}{"Party", "Role", "Legacy ID", "Action", "Outcome"}
)

// ChangeRow is one record-level line of the Changes sheet.
type ChangeRow struct {
	Party    string
	Role     string
	LegacyID reconcile.LegacyID
	Action   string
	Outcome  string
}

// WriteWorkbook saves an xlsx report of the run to path.
func WriteWorkbook(path string, runReport reconcile.RunReport) error {
	file := excelize.NewFile()
	defer file.Close()

	if err := file.SetSheetName(defaultSheet, SheetSummary); err != nil {
		return fmt.Errorf("report: rename sheet: %w", err)
	}
	if _, err := file.NewSheet(SheetChanges); err != nil {
		return fmt.Errorf("report: new sheet: %w", err)
	}

	if err := writeRows(file, SheetSummary, summaryHeader, summaryRows(runReport)); err != nil {
		return err
	}
	changes := ChangeRows(runReport)
	rows := make([][]interface{}, 0, len(changes))
	for _, change := range changes {
		rows = append(rows, []interface{}{change.Party, change.Role, change.LegacyID.Int64(), change.Action, change.Outcome})
	}
	if err := writeRows(file, SheetChanges, changesHeader, rows); err != nil {
		return err
	}

	if err := file.SaveAs(path); err != nil {
		return fmt.Errorf("report: save %s: %w", path, err)
	}
	return nil
}

func writeRows(file *excelize.File, sheet string, header []interface{}, rows [][]interface{}) error {
	all := append([][]interface{}{header}, rows...)
	for index, row := range all {
		cell, err := excelize.CoordinatesToCellName(1, index+1)
		if err != nil {
			return fmt.Errorf("report: cell name: %w", err)
		}
		values := row
		if err := file.SetSheetRow(sheet, cell, &values); err != nil {
			return fmt.Errorf("report: write %s row %d: %w", sheet, index+1, err)
		}
	}
	return nil
}

func summaryRows(runReport reconcile.RunReport) [][]interface{} {
	rows := [][]interface{}{}
	for _, partyReport := range runReport.Parties {
		for _, role := range partyReport.Verification.Roles {
			rows = append(rows, []interface{}{
				partyReport.Party.Code.String(),
				role.Role.String(),
				role.Source.Count,
				role.Source.Quantity.InexactFloat64(),
				role.Source.Value.InexactFloat64(),
				role.Destination.Count,
				role.Destination.Quantity.InexactFloat64(),
				role.Destination.Value.InexactFloat64(),
				role.CountDelta,
				role.QuantityDelta.InexactFloat64(),
				role.ValueDelta.InexactFloat64(),
				verdict(role.Match),
			})
		}
	}
	return rows
}

// ChangeRows lists every record the run corrected, migrated or refused to touch.
func ChangeRows(runReport reconcile.RunReport) []ChangeRow {
	success := OutcomeApplied
	if runReport.DryRun {
		success = OutcomePlanned
	}
	changes := []ChangeRow{}
	for _, partyReport := range runReport.Parties {
		code := partyReport.Party.Code.String()
		var absent []reconcile.LegacyID
		for _, role := range partyReport.Roles {
			failed := idSet(role.Corrections.Failed)
			orphans := idSet(role.Orphans)
			outcome := func(id reconcile.LegacyID) string {
				if _, found := failed[id]; found {
					return OutcomeFailed
				}
				return success
			}
			if role.Corrections.Requested > 0 || len(role.Orphans) > 0 || len(role.Corrections.Failed) > 0 {
				for _, id := range role.Extra {
					if _, orphan := orphans[id]; orphan {
						changes = append(changes, ChangeRow{Party: code, Role: role.Role.String(), LegacyID: id, Action: ActionOrphan, Outcome: OutcomeFailed})
						continue
					}
					changes = append(changes, ChangeRow{Party: code, Role: role.Role.String(), LegacyID: id, Action: ActionReturnToSource, Outcome: outcome(id)})
				}
			}
			for _, id := range role.Reattributed {
				changes = append(changes, ChangeRow{Party: code, Role: role.Role.String(), LegacyID: id, Action: ActionReattribute, Outcome: outcome(id)})
			}
			absent = append(absent, role.Absent...)
		}
		if partyReport.Migration.Requested == 0 {
			continue
		}
		failed := idSet(partyReport.Migration.FailedIDs)
		seen := map[reconcile.LegacyID]struct{}{}
		for _, id := range absent {
			if _, duplicate := seen[id]; duplicate {
				continue
			}
			seen[id] = struct{}{}
			outcome := success
			if _, found := failed[id]; found {
				outcome = OutcomeFailed
			}
			changes = append(changes, ChangeRow{Party: code, LegacyID: id, Action: ActionMigrate, Outcome: outcome})
		}
	}
	return changes
}

func idSet(ids []reconcile.LegacyID) map[reconcile.LegacyID]struct{} {
	set := make(map[reconcile.LegacyID]struct{}, len(ids))
	for _, id := range ids {
		set[id] = struct{}{}
	}
	return set
}
