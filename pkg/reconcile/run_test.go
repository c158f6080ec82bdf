package reconcile

import (
	"context"
	"errors"
	"testing"

	"github.com/google/go-cmp/cmp"
)

type scenario struct {
	source      *stubSource
	destination *stubDestination
	anchor      Party
	other       Party
	fallback    Party
}

// newScenario seeds the wrongly attributed and missing rows for anchor A_33FDF4.
func newScenario(test *testing.T) scenario {
	test.Helper()
	source := newStubSource()
	destination := newStubDestination()
	anchor := destination.addParty(test, "A_33FDF4", legacyRef(159))
	other := destination.addParty(test, "A_8C1D02", legacyRef(160))
	fallback := destination.addParty(test, "A_DEFAULT", nil)
	destination.earliestUser = GenerateNewID()
	destination.users[1] = GenerateNewID()

	source.add(sourceSale(test, 101, 159, 0, "10", "400"))
	source.add(sourceSale(test, 102, 159, 0, "4.5", "400"))
	source.add(sourceSale(test, 103, 159, 0, "7.25", "410"))
	source.add(sourceSale(test, 104, 160, 0, "3", "400"))

	customer := GenerateNewID()
	destination.addRow(destinationSale(test, 101, anchor.ID, customer, "10", "400"))
	destination.addRow(destinationSale(test, 102, other.ID, customer, "4.5", "400"))
	destination.addRow(destinationSale(test, 104, anchor.ID, customer, "3", "400"))
	return scenario{source: source, destination: destination, anchor: anchor, other: other, fallback: fallback}
}

func (fixture scenario) plan(test *testing.T, mode Mode) Plan {
	test.Helper()
	return Plan{
		AnchorCodes:        []PartyCode{mustPartyCode(test, "A_33FDF4")},
		DefaultAccountCode: mustPartyCode(test, "A_DEFAULT"),
		Mode:               mode,
	}
}

func TestRunReconcilesAnchorParty(test *testing.T) {
	test.Parallel()
	fixture := newScenario(test)
	reconciler := mustNewReconciler(test, fixture.source, fixture.destination)

	report, err := reconciler.Run(context.Background(), fixture.plan(test, ModeFull))
	if err != nil {
		test.Fatalf("run: %v", err)
	}
	if len(report.Parties) != 1 {
		test.Fatalf("expected one party report, got %d", len(report.Parties))
	}
	partyReport := report.Parties[0]
	supplier := partyReport.Roles[0]
	if diff := cmp.Diff([]LegacyID{102, 103}, supplier.Missing); diff != "" {
		test.Fatalf("missing mismatch (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff([]LegacyID{104}, supplier.Extra); diff != "" {
		test.Fatalf("extra mismatch (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff([]LegacyID{102}, supplier.Reattributed); diff != "" {
		test.Fatalf("reattributed mismatch (-want +got):\n%s", diff)
	}
	if partyReport.Migration.Migrated != 1 {
		test.Fatalf("expected one migrated record, got %+v", partyReport.Migration)
	}

	if fixture.destination.rows[104].SupplierID != fixture.other.ID {
		test.Fatalf("record 104 was not returned to its source party")
	}
	if fixture.destination.rows[102].SupplierID != fixture.anchor.ID {
		test.Fatalf("record 102 was not re-attributed to the anchor")
	}
	migrated := fixture.destination.rows[103]
	if migrated.SupplierID != fixture.anchor.ID || migrated.CustomerID != fixture.fallback.ID {
		test.Fatalf("unexpected migrated references: %+v", migrated)
	}

	anchorIDs, _ := fixture.destination.RecordIDsForParty(context.Background(), RoleSupplier, fixture.anchor.ID)
	if diff := cmp.Diff([]LegacyID{101, 102, 103}, normalizeIDs(anchorIDs)); diff != "" {
		test.Fatalf("anchor ids mismatch (-want +got):\n%s", diff)
	}
	if !report.Reconciled() {
		test.Fatalf("expected verification to match: %+v", partyReport.Verification)
	}
	if report.Defaults.Account != fixture.fallback.ID || report.Defaults.User != fixture.destination.earliestUser {
		test.Fatalf("unexpected defaults: %+v", report.Defaults)
	}
}

func TestRunIsIdempotent(test *testing.T) {
	test.Parallel()
	fixture := newScenario(test)
	reconciler := mustNewReconciler(test, fixture.source, fixture.destination)
	if _, err := reconciler.Run(context.Background(), fixture.plan(test, ModeFull)); err != nil {
		test.Fatalf("first run: %v", err)
	}
	writes := len(fixture.destination.reassignCalls)
	inserts := fixture.destination.insertCalls

	report, err := reconciler.Run(context.Background(), fixture.plan(test, ModeFull))
	if err != nil {
		test.Fatalf("second run: %v", err)
	}
	if len(fixture.destination.reassignCalls) != writes || fixture.destination.insertCalls != inserts {
		test.Fatalf("second run issued writes")
	}
	if report.Parties[0].Migration.Migrated != 0 || !report.Reconciled() {
		test.Fatalf("unexpected second run report: %+v", report.Parties[0])
	}
}

func TestRunDoesNotRecountSoftDeletedRowsOnTheAnchor(test *testing.T) {
	test.Parallel()
	fixture := newScenario(test)
	fixture.source.add(sourceSale(test, 106, 159, 0, "2", "400"))
	deleted := destinationSale(test, 106, fixture.anchor.ID, GenerateNewID(), "2", "400")
	deleted.Status = StatusDeleted
	fixture.destination.addRow(deleted)
	reconciler := mustNewReconciler(test, fixture.source, fixture.destination)

	first, err := reconciler.Run(context.Background(), fixture.plan(test, ModeFull))
	if err != nil {
		test.Fatalf("first run: %v", err)
	}
	if changed := first.Parties[0].Roles[0].Corrections.Changed; changed != 2 {
		test.Fatalf("expected 2 changed supplier rows on the first run, got %d", changed)
	}

	second, err := reconciler.Run(context.Background(), fixture.plan(test, ModeFull))
	if err != nil {
		test.Fatalf("second run: %v", err)
	}
	supplier := second.Parties[0].Roles[0]
	if diff := cmp.Diff([]LegacyID{106}, supplier.Reattributed); diff != "" {
		test.Fatalf("reattributed mismatch (-want +got):\n%s", diff)
	}
	if supplier.Corrections.Changed != 0 {
		test.Fatalf("expected no changed rows on the second run, got %d", supplier.Corrections.Changed)
	}
	if fixture.destination.rows[106].Status != StatusDeleted {
		test.Fatalf("soft-deleted row must stay deleted")
	}
}

func TestRunUnknownAnchorAbortsBeforeWrites(test *testing.T) {
	test.Parallel()
	fixture := newScenario(test)
	reconciler := mustNewReconciler(test, fixture.source, fixture.destination)
	plan := fixture.plan(test, ModeFull)
	plan.AnchorCodes = append(plan.AnchorCodes, mustPartyCode(test, "A_UNKNOWN"))

	_, err := reconciler.Run(context.Background(), plan)
	if !errors.Is(err, ErrPartyNotFound) {
		test.Fatalf("expected ErrPartyNotFound, got %v", err)
	}
	var operationError OperationError
	if !errors.As(err, &operationError) || operationError.Code() != "A_UNKNOWN" {
		test.Fatalf("expected operation error naming the code, got %v", err)
	}
	if len(fixture.destination.reassignCalls) != 0 || fixture.destination.insertCalls != 0 {
		test.Fatalf("expected no writes")
	}
}

func TestRunRequiresDefaults(test *testing.T) {
	test.Parallel()
	fixture := newScenario(test)
	fixture.destination.earliestUser = NewID{}
	reconciler := mustNewReconciler(test, fixture.source, fixture.destination)
	if _, err := reconciler.Run(context.Background(), fixture.plan(test, ModeFull)); !errors.Is(err, ErrNoDefaultUser) {
		test.Fatalf("expected ErrNoDefaultUser, got %v", err)
	}

	plan := fixture.plan(test, ModeFull)
	plan.DefaultAccountCode = mustPartyCode(test, "A_GONE")
	if _, err := reconciler.Run(context.Background(), plan); !errors.Is(err, ErrPartyNotFound) {
		test.Fatalf("expected ErrPartyNotFound, got %v", err)
	}
}

func TestRunRejectsEmptyPlan(test *testing.T) {
	test.Parallel()
	reconciler := mustNewReconciler(test, newStubSource(), newStubDestination())
	if _, err := reconciler.Run(context.Background(), Plan{}); !errors.Is(err, ErrInvalidPartyCode) {
		test.Fatalf("expected ErrInvalidPartyCode, got %v", err)
	}
	if _, err := reconciler.Run(context.Background(), Plan{Mode: "sideways"}); !errors.Is(err, ErrInvalidMode) {
		test.Fatalf("expected ErrInvalidMode, got %v", err)
	}
}

func TestRunDryRunWritesNothing(test *testing.T) {
	test.Parallel()
	fixture := newScenario(test)
	reconciler := mustNewReconciler(test, fixture.source, fixture.destination, WithDryRun(true))

	report, err := reconciler.Run(context.Background(), fixture.plan(test, ModeFull))
	if err != nil {
		test.Fatalf("run: %v", err)
	}
	if len(fixture.destination.reassignCalls) != 0 || fixture.destination.insertCalls != 0 {
		test.Fatalf("dry run issued writes")
	}
	partyReport := report.Parties[0]
	if partyReport.Migration.Migrated != 1 {
		test.Fatalf("expected one would-be migration, got %+v", partyReport.Migration)
	}
	if partyReport.Roles[0].Corrections.Changed != 2 {
		test.Fatalf("expected two would-be corrections, got %+v", partyReport.Roles[0].Corrections)
	}
	if !report.DryRun || report.Reconciled() {
		test.Fatalf("dry run should report the unchanged mismatch")
	}
}

func TestRunVerifyModeWritesNothing(test *testing.T) {
	test.Parallel()
	fixture := newScenario(test)
	fixture.destination.earliestUser = NewID{}
	reconciler := mustNewReconciler(test, fixture.source, fixture.destination)

	report, err := reconciler.Run(context.Background(), Plan{
		AnchorCodes: []PartyCode{mustPartyCode(test, "A_33FDF4")},
		Mode:        ModeVerifyOnly,
	})
	if err != nil {
		test.Fatalf("run: %v", err)
	}
	if len(fixture.destination.reassignCalls) != 0 || fixture.destination.insertCalls != 0 {
		test.Fatalf("verify mode issued writes")
	}
	supplier := report.Parties[0].Verification.Roles[0]
	if supplier.Match || supplier.CountDelta != -1 {
		test.Fatalf("expected a supplier mismatch, got %+v", supplier)
	}
}

func TestRunLinksModeDoesNotMigrate(test *testing.T) {
	test.Parallel()
	fixture := newScenario(test)
	reconciler := mustNewReconciler(test, fixture.source, fixture.destination)

	report, err := reconciler.Run(context.Background(), fixture.plan(test, ModeLinksOnly))
	if err != nil {
		test.Fatalf("run: %v", err)
	}
	if fixture.destination.insertCalls != 0 {
		test.Fatalf("links mode inserted records")
	}
	if fixture.destination.rows[102].SupplierID != fixture.anchor.ID {
		test.Fatalf("links mode should still re-attribute present rows")
	}
	if diff := cmp.Diff([]LegacyID{103}, report.Parties[0].Roles[0].Absent); diff != "" {
		test.Fatalf("absent mismatch (-want +got):\n%s", diff)
	}
}

func TestRunMigrateModeDoesNotCorrect(test *testing.T) {
	test.Parallel()
	fixture := newScenario(test)
	reconciler := mustNewReconciler(test, fixture.source, fixture.destination)

	if _, err := reconciler.Run(context.Background(), fixture.plan(test, ModeMigrateOnly)); err != nil {
		test.Fatalf("run: %v", err)
	}
	if len(fixture.destination.reassignCalls) != 0 {
		test.Fatalf("migrate mode corrected links")
	}
	if _, found := fixture.destination.rows[103]; !found {
		test.Fatalf("migrate mode did not insert the absent record")
	}
}

func TestReconcilePartyReportsOrphans(test *testing.T) {
	test.Parallel()
	fixture := newScenario(test)
	fixture.destination.addRow(destinationSale(test, 105, fixture.anchor.ID, GenerateNewID(), "1", "1"))
	logger := &recorderLogger{}
	reconciler := mustNewReconciler(test, fixture.source, fixture.destination, WithEventLogger(logger))

	report, err := reconciler.Run(context.Background(), fixture.plan(test, ModeFull))
	if err != nil {
		test.Fatalf("run: %v", err)
	}
	supplier := report.Parties[0].Roles[0]
	if diff := cmp.Diff([]LegacyID{105}, supplier.Orphans); diff != "" {
		test.Fatalf("orphans mismatch (-want +got):\n%s", diff)
	}
	if fixture.destination.rows[105].SupplierID != fixture.anchor.ID {
		test.Fatalf("orphan row must be left untouched")
	}
	if logger.count(EventOrphan) != 1 || report.Parties[0].Failed() != 1 {
		test.Fatalf("expected one orphan failure")
	}
	if report.Reconciled() {
		test.Fatalf("orphan keeps the party unreconciled")
	}
}

func TestReconcilePartyRecordsQueryFailures(test *testing.T) {
	test.Parallel()
	fixture := newScenario(test)
	fixture.source.idsErr = errStubFailure
	fixture.source.aggregateErr = errStubFailure
	reconciler := mustNewReconciler(test, fixture.source, fixture.destination)

	report, err := reconciler.Run(context.Background(), fixture.plan(test, ModeFull))
	if err != nil {
		test.Fatalf("run: %v", err)
	}
	partyReport := report.Parties[0]
	for _, role := range partyReport.Roles {
		if !errors.Is(role.Err, errStubFailure) {
			test.Fatalf("expected role error, got %v", role.Err)
		}
	}
	if !errors.Is(partyReport.VerifyErr, errStubFailure) {
		test.Fatalf("expected verify error, got %v", partyReport.VerifyErr)
	}
}
