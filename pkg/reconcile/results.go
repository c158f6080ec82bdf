package reconcile

import "github.com/shopspring/decimal"

// CorrectionResult accumulates the outcome of grouped party reassignments.
type CorrectionResult struct {
	// Requested counts distinct ids with a single target; conflicting ids only appear in Failed.
	Requested int
	// Changed counts rows whose party column actually moved.
	Changed    int64
	Statements int
	Failed     []LegacyID
}

func (result *CorrectionResult) add(other CorrectionResult) {
	result.Requested += other.Requested
	result.Changed += other.Changed
	result.Statements += other.Statements
	result.Failed = append(result.Failed, other.Failed...)
}

// MigrationResult accumulates the outcome of inserting missing records.
type MigrationResult struct {
	Requested int
	Migrated  int
	// Skipped counts inserts that hit an existing legacy id.
	Skipped   int
	Failed    int
	FailedIDs []LegacyID
	Fallbacks int
}

func (result *MigrationResult) fail(ids ...LegacyID) {
	result.Failed += len(ids)
	result.FailedIDs = append(result.FailedIDs, ids...)
}

// RoleVerification compares one role's aggregates across both stores.
type RoleVerification struct {
	Role          Role
	Source        Aggregate
	Destination   Aggregate
	CountDelta    int64
	QuantityDelta decimal.Decimal
	ValueDelta    decimal.Decimal
	Match         bool
}

// PartyVerification holds the per-role verdicts for one party.
type PartyVerification struct {
	Party Party
	Roles []RoleVerification
}

// Match reports whether every role matched.
func (verification PartyVerification) Match() bool {
	if len(verification.Roles) == 0 {
		return false
	}
	for _, role := range verification.Roles {
		if !role.Match {
			return false
		}
	}
	return true
}

// RoleReport records what reconciliation found and changed for one role.
type RoleReport struct {
	Role             Role
	SourceCount      int
	DestinationCount int
	Missing          []LegacyID
	Extra            []LegacyID
	Reattributed     []LegacyID
	Absent           []LegacyID
	Orphans          []LegacyID
	Corrections      CorrectionResult
	Fallbacks        int
	Err              error
}

// PartyReport records a complete reconciliation of one anchor party.
type PartyReport struct {
	Party        Party
	Roles        []RoleReport
	Migration    MigrationResult
	Verification PartyVerification
	VerifyErr    error
}

// Failed counts every record-level failure in the report.
func (report PartyReport) Failed() int {
	failed := report.Migration.Failed
	for _, role := range report.Roles {
		failed += len(role.Corrections.Failed) + len(role.Orphans)
	}
	return failed
}

// Fallbacks counts every foreign key that fell back to a default.
func (report PartyReport) Fallbacks() int {
	fallbacks := report.Migration.Fallbacks
	for _, role := range report.Roles {
		fallbacks += role.Fallbacks
	}
	return fallbacks
}

// RunReport is the outcome of Run.
type RunReport struct {
	Mode     Mode
	DryRun   bool
	Defaults Defaults
	Parties  []PartyReport
}

// Reconciled reports whether every party verified as matching.
func (report RunReport) Reconciled() bool {
	if len(report.Parties) == 0 {
		return false
	}
	for _, party := range report.Parties {
		if party.VerifyErr != nil || !party.Verification.Match() {
			return false
		}
	}
	return true
}
