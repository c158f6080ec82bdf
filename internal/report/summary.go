// Package report renders reconciliation outcomes for operators.
package report

import (
	"fmt"
	"io"

	"github.com/MarkoPoloResearchLab/legacyrecon/pkg/reconcile"
)

const (
	verdictMatch    = "MATCH"
	verdictMismatch = "MISMATCH"
)

// WriteSummary prints a human-readable account of a run.
func WriteSummary(writer io.Writer, runReport reconcile.RunReport) error {
	printer := &errPrinter{writer: writer}
	printer.printf("Mode: %s\n", runReport.Mode)
	if runReport.DryRun {
		printer.printf("DRY RUN: no changes written\n")
	}
	if !runReport.Defaults.Account.IsZero() {
		printer.printf("Defaults: account %s, user %s\n", runReport.Defaults.Account, runReport.Defaults.User)
	}
	for _, partyReport := range runReport.Parties {
		writeParty(printer, partyReport)
	}
	if runReport.Reconciled() {
		printer.printf("\nResult: RECONCILED\n")
	} else {
		printer.printf("\nResult: NOT RECONCILED\n")
	}
	return printer.err
}

func writeParty(printer *errPrinter, partyReport reconcile.PartyReport) {
	printer.printf("\nParty %s (%s)\n", partyReport.Party.Code, describeParty(partyReport.Party))
	for _, role := range partyReport.Roles {
		printer.printf("  %s: source %d, destination %d, missing %d, extra %d\n",
			role.Role, role.SourceCount, role.DestinationCount, len(role.Missing), len(role.Extra))
		if role.Err != nil {
			printer.printf("    error: %v\n", role.Err)
			continue
		}
		if role.Corrections.Requested > 0 || len(role.Orphans) > 0 {
			printer.printf("    corrected %d rows in %d statements, %d failed, %d orphans, %d fallbacks\n",
				role.Corrections.Changed, role.Corrections.Statements, len(role.Corrections.Failed), len(role.Orphans), role.Fallbacks)
		}
		if len(role.Reattributed) > 0 {
			printer.printf("    re-attributed %d existing rows\n", len(role.Reattributed))
		}
	}
	migration := partyReport.Migration
	if migration.Requested > 0 {
		printer.printf("  migration: %d requested, %d migrated, %d skipped, %d failed, %d fallbacks\n",
			migration.Requested, migration.Migrated, migration.Skipped, migration.Failed, migration.Fallbacks)
	}
	if partyReport.VerifyErr != nil {
		printer.printf("  verify error: %v\n", partyReport.VerifyErr)
		return
	}
	writeVerification(printer, partyReport.Verification)
}

func writeVerification(printer *errPrinter, verification reconcile.PartyVerification) {
	for _, role := range verification.Roles {
		printer.printf("  verify %s: source %d / %s / %s, destination %d / %s / %s\n",
			role.Role,
			role.Source.Count, role.Source.Quantity.StringFixed(3), role.Source.Value.StringFixed(2),
			role.Destination.Count, role.Destination.Quantity.StringFixed(3), role.Destination.Value.StringFixed(2))
		if role.Match {
			printer.printf("    %s\n", verdictMatch)
			continue
		}
		printer.printf("    %s: count diff %d, quantity diff %s, value diff %s\n",
			verdictMismatch, role.CountDelta, role.QuantityDelta.StringFixed(3), role.ValueDelta.StringFixed(2))
	}
}

func describeParty(party reconcile.Party) string {
	if legacyID, ok := party.Legacy(); ok {
		return fmt.Sprintf("legacy %d, %s", legacyID, party.ID)
	}
	return party.ID.String()
}

func verdict(match bool) string {
	if match {
		return verdictMatch
	}
	return verdictMismatch
}

// errPrinter keeps the first write error so callers check once.
type errPrinter struct {
	writer io.Writer
	err    error
}

func (printer *errPrinter) printf(format string, arguments ...interface{}) {
	if printer.err != nil {
		return
	}
	_, printer.err = fmt.Fprintf(printer.writer, format, arguments...)
}
