package reconcile

import (
	"context"
	"fmt"
)

// Run resolves every party the plan names and then reconciles each anchor in order.
// Only resolution failures abort the run; everything later is recorded in the report.
func (reconciler *Reconciler) Run(ctx context.Context, plan Plan) (RunReport, error) {
	mode := plan.Mode
	if mode == "" {
		mode = ModeFull
	}
	if _, err := ParseMode(string(mode)); err != nil {
		return RunReport{}, err
	}
	if len(plan.AnchorCodes) == 0 {
		return RunReport{}, fmt.Errorf("%w: no anchor party codes", ErrInvalidPartyCode)
	}

	report := RunReport{Mode: mode, DryRun: reconciler.dryRun}
	if mode != ModeVerifyOnly {
		defaults, err := reconciler.resolveDefaults(ctx, plan.DefaultAccountCode)
		if err != nil {
			return RunReport{}, err
		}
		report.Defaults = defaults
	}

	anchors := make([]Party, 0, len(plan.AnchorCodes))
	for _, code := range plan.AnchorCodes {
		anchor, err := reconciler.ResolveAnchor(ctx, code)
		if err != nil {
			return RunReport{}, WrapError(operationResolveParty, "anchor", code.String(), err)
		}
		anchors = append(anchors, anchor)
	}

	for _, anchor := range anchors {
		report.Parties = append(report.Parties, reconciler.ReconcileParty(ctx, anchor, report.Defaults, mode))
	}
	return report, nil
}

func (reconciler *Reconciler) resolveDefaults(ctx context.Context, accountCode PartyCode) (Defaults, error) {
	account, err := reconciler.ResolveParty(ctx, accountCode)
	if err != nil {
		return Defaults{}, WrapError(operationResolveParty, "default_account", accountCode.String(), err)
	}
	userID, err := reconciler.destination.EarliestUserID(ctx)
	if err != nil {
		return Defaults{}, WrapError(operationResolveParty, "default_user", "earliest", err)
	}
	return Defaults{Account: account.ID, User: userID}, nil
}

// ReconcileParty diffs, corrects, migrates and verifies one anchor party.
func (reconciler *Reconciler) ReconcileParty(ctx context.Context, party Party, defaults Defaults, mode Mode) PartyReport {
	report := PartyReport{Party: party}
	legacyID, ok := party.Legacy()
	if !ok {
		report.VerifyErr = fmt.Errorf("%w: %s", ErrPartyWithoutLegacyID, party.Code.String())
		return report
	}

	var absent []LegacyID
	for _, role := range Roles() {
		roleReport := reconciler.reconcileRole(ctx, party, legacyID, role, defaults, mode)
		absent = union(absent, roleReport.Absent)
		report.Roles = append(report.Roles, roleReport)
	}

	if mode.migrates() && len(absent) > 0 {
		report.Migration = reconciler.MigrateMissing(ctx, absent, defaults)
	}

	verification, err := reconciler.Verify(ctx, party)
	if err != nil {
		report.VerifyErr = WrapError(operationVerify, "party", party.Code.String(), err)
		return report
	}
	report.Verification = verification
	return report
}

func (reconciler *Reconciler) reconcileRole(ctx context.Context, party Party, legacyID LegacyID, role Role, defaults Defaults, mode Mode) RoleReport {
	report := RoleReport{Role: role}
	fail := func(subject string, err error) RoleReport {
		report.Err = WrapError(operationReconcileParty, subject, role.String(), err)
		reconciler.logger.LogEvent(ctx, Event{
			Kind:      EventFailure,
			Operation: operationReconcileParty,
			Role:      role,
			NewID:     party.ID,
			Error:     report.Err,
		})
		return report
	}

	sourceIDs, err := reconciler.source.RecordIDsForParty(ctx, role, legacyID)
	if err != nil {
		return fail("source_ids", err)
	}
	destinationIDs, err := reconciler.destination.RecordIDsForParty(ctx, role, party.ID)
	if err != nil {
		return fail("destination_ids", err)
	}
	report.SourceCount = len(normalizeIDs(sourceIDs))
	report.DestinationCount = len(normalizeIDs(destinationIDs))
	report.Missing = FindMissing(sourceIDs, destinationIDs)
	report.Extra = FindExtra(destinationIDs, sourceIDs)

	if mode == ModeVerifyOnly {
		return report
	}

	if mode.correctsLinks() && len(report.Extra) > 0 {
		corrections, err := reconciler.planExtraCorrections(ctx, role, report.Extra, defaults, &report)
		if err != nil {
			return fail("source_references", err)
		}
		report.Corrections.add(reconciler.ApplyCorrections(ctx, role, corrections))
	}

	if len(report.Missing) == 0 {
		return report
	}
	present, err := reconciler.destination.ExistingLegacyIDs(ctx, report.Missing)
	if err != nil {
		return fail("existing_ids", err)
	}
	present = normalizeIDs(present)
	report.Absent = difference(report.Missing, present)
	if mode.correctsLinks() && len(present) > 0 {
		report.Reattributed = present
		report.Corrections.add(reconciler.ApplyCorrection(ctx, role, present, party.ID))
	}
	return report
}

// planExtraCorrections points each wrongly attributed row at the party the source names.
func (reconciler *Reconciler) planExtraCorrections(ctx context.Context, role Role, extra []LegacyID, defaults Defaults, report *RoleReport) ([]Correction, error) {
	references, err := reconciler.source.PartyReferences(ctx, role, extra)
	if err != nil {
		return nil, err
	}
	corrections := make([]Correction, 0, len(extra))
	for _, recordID := range extra {
		reference, found := references[recordID]
		if !found {
			report.Orphans = append(report.Orphans, recordID)
			reconciler.logger.LogEvent(ctx, Event{
				Kind:      EventOrphan,
				Operation: operationApplyCorrections,
				Role:      role,
				LegacyID:  recordID,
			})
			continue
		}
		target, fellBack, err := reconciler.resolveForeignKey(ctx, recordID, reference, EntityAccount, defaults.Account)
		if fellBack {
			report.Fallbacks++
		}
		if err != nil {
			report.Corrections.Failed = append(report.Corrections.Failed, recordID)
			reconciler.logger.LogEvent(ctx, Event{
				Kind:      EventFailure,
				Operation: operationApplyCorrections,
				Role:      role,
				LegacyID:  recordID,
				Error:     err,
			})
			continue
		}
		corrections = append(corrections, Correction{LegacyID: recordID, Target: target})
	}
	return corrections, nil
}
