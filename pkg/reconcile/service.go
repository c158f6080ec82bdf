package reconcile

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/shopspring/decimal"
)

// Reconciler brings destination records for anchor parties into agreement with the source of record.
type Reconciler struct {
	source      Source
	destination Destination
	index       LegacyIndex
	nowFn       func() time.Time
	newIDFn     func() NewID
	logger      EventLogger
	batchSize   int
	tolerance   decimal.Decimal
	dryRun      bool
}

// NewReconciler wires a Reconciler.
func NewReconciler(source Source, destination Destination, now func() time.Time, options ...Option) (*Reconciler, error) {
	if source == nil {
		return nil, fmt.Errorf("%w: source dependency is nil", ErrInvalidReconcilerConf)
	}
	if destination == nil {
		return nil, fmt.Errorf("%w: destination dependency is nil", ErrInvalidReconcilerConf)
	}
	if now == nil {
		return nil, fmt.Errorf("%w: clock dependency is nil", ErrInvalidReconcilerConf)
	}
	reconciler := &Reconciler{
		source:      source,
		destination: destination,
		index:       destination,
		nowFn:       now,
		newIDFn:     GenerateNewID,
		logger:      noopEventLogger{},
		batchSize:   defaultBatchSize,
		tolerance:   decimal.RequireFromString(defaultToleranceText),
	}
	for _, option := range options {
		if option != nil {
			option(reconciler)
		}
	}
	if reconciler.batchSize <= 0 {
		return nil, fmt.Errorf("%w: batch size must be positive", ErrInvalidReconcilerConf)
	}
	if reconciler.tolerance.IsNegative() {
		return nil, fmt.Errorf("%w: tolerance must not be negative", ErrInvalidReconcilerConf)
	}
	return reconciler, nil
}

// ResolveParty looks up a party's identifiers by code.
func (reconciler *Reconciler) ResolveParty(ctx context.Context, code PartyCode) (Party, error) {
	if code.String() == "" {
		return Party{}, fmt.Errorf("%w: empty value", ErrInvalidPartyCode)
	}
	return reconciler.destination.PartyByCode(ctx, code)
}

// ResolveAnchor resolves a party that source queries will be keyed on.
func (reconciler *Reconciler) ResolveAnchor(ctx context.Context, code PartyCode) (Party, error) {
	party, err := reconciler.ResolveParty(ctx, code)
	if err != nil {
		return Party{}, err
	}
	if _, ok := party.Legacy(); !ok {
		return Party{}, fmt.Errorf("%w: %s", ErrPartyWithoutLegacyID, code.String())
	}
	return party, nil
}

// ResolveForeignKey maps a legacy reference to a new identifier, substituting fallback
// for the unattributed sentinel and for references the index does not know.
func (reconciler *Reconciler) ResolveForeignKey(ctx context.Context, legacyID LegacyID, entity EntityType, fallback NewID) (NewID, error) {
	resolved, _, err := reconciler.resolveForeignKey(ctx, UnattributedLegacyID, legacyID, entity, fallback)
	return resolved, err
}

// resolveForeignKey reports true when the fallback was substituted for an unmapped reference.
func (reconciler *Reconciler) resolveForeignKey(ctx context.Context, recordID LegacyID, legacyID LegacyID, entity EntityType, fallback NewID) (NewID, bool, error) {
	if legacyID == UnattributedLegacyID {
		return fallback, false, nil
	}
	resolved, found, err := reconciler.index.LookupNewID(ctx, entity, legacyID)
	if err != nil {
		return NewID{}, false, err
	}
	if found {
		return resolved, false, nil
	}
	reconciler.logger.LogEvent(ctx, Event{
		Kind:        EventFallback,
		Operation:   operationResolveForeignKey,
		Entity:      entity,
		LegacyID:    recordID,
		ReferenceID: legacyID,
		NewID:       fallback,
	})
	return fallback, true, nil
}

// ApplyCorrections re-points rows at their targets with one statement per distinct target.
// A failing statement fails its group only.
func (reconciler *Reconciler) ApplyCorrections(ctx context.Context, role Role, corrections []Correction) CorrectionResult {
	result := CorrectionResult{}
	targets := make(map[LegacyID]NewID, len(corrections))
	conflicting := make(map[LegacyID]struct{})
	for _, correction := range corrections {
		existing, seen := targets[correction.LegacyID]
		if seen && existing != correction.Target {
			conflicting[correction.LegacyID] = struct{}{}
			continue
		}
		targets[correction.LegacyID] = correction.Target
	}
	result.Requested = len(targets) - len(conflicting)

	groups := make(map[NewID][]LegacyID)
	for legacyID, target := range targets {
		if _, conflict := conflicting[legacyID]; conflict {
			continue
		}
		groups[target] = append(groups[target], legacyID)
	}
	if len(conflicting) > 0 {
		conflictIDs := make([]LegacyID, 0, len(conflicting))
		for legacyID := range conflicting {
			conflictIDs = append(conflictIDs, legacyID)
		}
		conflictIDs = normalizeIDs(conflictIDs)
		result.Failed = append(result.Failed, conflictIDs...)
		reconciler.logger.LogEvent(ctx, Event{
			Kind:      EventFailure,
			Operation: operationApplyCorrections,
			Role:      role,
			IDs:       conflictIDs,
			Error:     fmt.Errorf("conflicting correction targets"),
		})
	}

	orderedTargets := make([]NewID, 0, len(groups))
	for target := range groups {
		orderedTargets = append(orderedTargets, target)
	}
	sort.Slice(orderedTargets, func(left, right int) bool {
		return orderedTargets[left].String() < orderedTargets[right].String()
	})

	for _, target := range orderedTargets {
		ids := normalizeIDs(groups[target])
		result.Statements++
		if reconciler.dryRun {
			result.Changed += int64(len(ids))
			continue
		}
		changed, err := reconciler.destination.ReassignParty(ctx, role, ids, target)
		if err != nil {
			result.Failed = append(result.Failed, ids...)
			reconciler.logger.LogEvent(ctx, Event{
				Kind:      EventFailure,
				Operation: operationApplyCorrections,
				Role:      role,
				NewID:     target,
				IDs:       ids,
				Error:     err,
			})
			continue
		}
		result.Changed += changed
		reconciler.logger.LogEvent(ctx, Event{
			Kind:      EventCorrection,
			Operation: operationApplyCorrections,
			Role:      role,
			NewID:     target,
			IDs:       ids,
			Processed: int(changed),
			Total:     len(ids),
		})
	}
	result.Failed = normalizeIDs(result.Failed)
	return result
}

// ApplyCorrection re-points every listed row at a single target.
func (reconciler *Reconciler) ApplyCorrection(ctx context.Context, role Role, ids []LegacyID, target NewID) CorrectionResult {
	corrections := make([]Correction, 0, len(ids))
	for _, id := range ids {
		corrections = append(corrections, Correction{LegacyID: id, Target: target})
	}
	return reconciler.ApplyCorrections(ctx, role, corrections)
}

// MigrateMissing inserts source records the destination lacks. Each chunk is fetched once;
// a failed row or chunk is logged and counted without stopping the rest.
func (reconciler *Reconciler) MigrateMissing(ctx context.Context, ids []LegacyID, defaults Defaults) MigrationResult {
	pending := normalizeIDs(ids)
	result := MigrationResult{Requested: len(pending)}
	processed := 0
	for _, chunk := range chunkIDs(pending, reconciler.batchSize) {
		if err := ctx.Err(); err != nil {
			remaining := pending[processed:]
			result.fail(remaining...)
			reconciler.logger.LogEvent(ctx, Event{
				Kind:      EventFailure,
				Operation: operationMigrateMissing,
				IDs:       remaining,
				Error:     err,
			})
			return result
		}
		reconciler.migrateChunk(ctx, chunk, defaults, &result)
		processed += len(chunk)
		reconciler.logger.LogEvent(ctx, Event{
			Kind:      EventBatch,
			Operation: operationMigrateMissing,
			Processed: processed,
			Total:     len(pending),
		})
	}
	return result
}

func (reconciler *Reconciler) migrateChunk(ctx context.Context, chunk []LegacyID, defaults Defaults, result *MigrationResult) {
	records, err := reconciler.source.RecordsByIDs(ctx, chunk)
	if err != nil {
		result.fail(chunk...)
		reconciler.logger.LogEvent(ctx, Event{
			Kind:      EventFailure,
			Operation: operationMigrateMissing,
			IDs:       chunk,
			Error:     err,
		})
		return
	}
	byID := make(map[LegacyID]SourceRecord, len(records))
	for _, record := range records {
		byID[record.LegacyID] = record
	}

	present := map[LegacyID]struct{}{}
	if reconciler.dryRun {
		existing, err := reconciler.destination.ExistingLegacyIDs(ctx, chunk)
		if err != nil {
			result.fail(chunk...)
			reconciler.logger.LogEvent(ctx, Event{
				Kind:      EventFailure,
				Operation: operationMigrateMissing,
				IDs:       chunk,
				Error:     err,
			})
			return
		}
		for _, id := range existing {
			present[id] = struct{}{}
		}
	}

	for _, legacyID := range chunk {
		sourceRecord, found := byID[legacyID]
		if !found {
			result.fail(legacyID)
			reconciler.logger.LogEvent(ctx, Event{
				Kind:      EventFailure,
				Operation: operationMigrateMissing,
				LegacyID:  legacyID,
				Error:     ErrSourceRecordMissing,
			})
			continue
		}
		record, fallbacks, err := reconciler.buildRecord(ctx, sourceRecord, defaults)
		result.Fallbacks += fallbacks
		if err != nil {
			result.fail(legacyID)
			reconciler.logger.LogEvent(ctx, Event{
				Kind:      EventFailure,
				Operation: operationMigrateMissing,
				LegacyID:  legacyID,
				Error:     err,
			})
			continue
		}
		if reconciler.dryRun {
			if _, exists := present[legacyID]; exists {
				result.Skipped++
			} else {
				result.Migrated++
			}
			continue
		}
		inserted, err := reconciler.destination.InsertRecordIfAbsent(ctx, record)
		if err != nil {
			result.fail(legacyID)
			reconciler.logger.LogEvent(ctx, Event{
				Kind:      EventFailure,
				Operation: operationMigrateMissing,
				LegacyID:  legacyID,
				Error:     err,
			})
			continue
		}
		if !inserted {
			result.Skipped++
			reconciler.logger.LogEvent(ctx, Event{
				Kind:      EventSkipped,
				Operation: operationMigrateMissing,
				LegacyID:  legacyID,
			})
			continue
		}
		result.Migrated++
	}
}

func (reconciler *Reconciler) buildRecord(ctx context.Context, source SourceRecord, defaults Defaults) (Record, int, error) {
	fallbacks := 0
	resolveRequired := func(reference LegacyID, entity EntityType, fallback NewID) (NewID, error) {
		resolved, fellBack, err := reconciler.resolveForeignKey(ctx, source.LegacyID, reference, entity, fallback)
		if fellBack {
			fallbacks++
		}
		return resolved, err
	}
	supplierID, err := resolveRequired(source.SupplierLegacyID, EntityAccount, defaults.Account)
	if err != nil {
		return Record{}, fallbacks, err
	}
	customerID, err := resolveRequired(source.CustomerLegacyID, EntityAccount, defaults.Account)
	if err != nil {
		return Record{}, fallbacks, err
	}
	recordedByID, err := resolveRequired(source.RecordedByLegacyID, EntityUser, defaults.User)
	if err != nil {
		return Record{}, fallbacks, err
	}
	createdByID, fellBack, err := reconciler.resolveOptionalUser(ctx, source.LegacyID, source.CreatedByLegacyID)
	if fellBack {
		fallbacks++
	}
	if err != nil {
		return Record{}, fallbacks, err
	}
	updatedByID, fellBack, err := reconciler.resolveOptionalUser(ctx, source.LegacyID, source.UpdatedByLegacyID)
	if fellBack {
		fallbacks++
	}
	if err != nil {
		return Record{}, fallbacks, err
	}
	status, err := ParseRecordStatus(source.Status)
	if err != nil {
		return Record{}, fallbacks, err
	}

	now := reconciler.nowFn().UTC()
	return Record{
		ID:           reconciler.newIDFn(),
		LegacyID:     source.LegacyID,
		SupplierID:   supplierID,
		CustomerID:   customerID,
		RecordedByID: recordedByID,
		CreatedByID:  createdByID,
		UpdatedByID:  updatedByID,
		Quantity:     source.Quantity,
		UnitPrice:    source.UnitPrice,
		Status:       status,
		SaleAt:       reconciler.timestamp(ctx, source.LegacyID, timestampFieldSaleAt, source.SaleAt, now),
		CreatedAt:    reconciler.timestamp(ctx, source.LegacyID, timestampFieldCreatedAt, source.CreatedAt, now),
		UpdatedAt:    reconciler.timestamp(ctx, source.LegacyID, timestampFieldUpdatedAt, source.UpdatedAt, now),
		Notes:        source.Notes,
	}, fallbacks, nil
}

// resolveOptionalUser leaves audit references empty instead of substituting a default user.
func (reconciler *Reconciler) resolveOptionalUser(ctx context.Context, recordID LegacyID, reference LegacyID) (*NewID, bool, error) {
	if reference == UnattributedLegacyID {
		return nil, false, nil
	}
	resolved, fellBack, err := reconciler.resolveForeignKey(ctx, recordID, reference, EntityUser, NewID{})
	if err != nil || fellBack {
		return nil, fellBack, err
	}
	return &resolved, false, nil
}

func (reconciler *Reconciler) timestamp(ctx context.Context, recordID LegacyID, field string, raw string, now time.Time) time.Time {
	parsed, ok := parseLegacyTimestamp(raw, now)
	if !ok {
		reconciler.logger.LogEvent(ctx, Event{
			Kind:      EventTimestampFallback,
			Operation: operationMigrateMissing,
			LegacyID:  recordID,
			Field:     field,
		})
	}
	return parsed
}

// Verify computes the party's aggregates in both roles against both stores.
func (reconciler *Reconciler) Verify(ctx context.Context, party Party) (PartyVerification, error) {
	legacyID, ok := party.Legacy()
	if !ok {
		return PartyVerification{}, fmt.Errorf("%w: %s", ErrPartyWithoutLegacyID, party.Code.String())
	}
	verification := PartyVerification{Party: party, Roles: make([]RoleVerification, 0, len(Roles()))}
	for _, role := range Roles() {
		sourceAggregate, err := reconciler.source.AggregateForParty(ctx, role, legacyID)
		if err != nil {
			return PartyVerification{}, err
		}
		destinationAggregate, err := reconciler.destination.AggregateForParty(ctx, role, party.ID)
		if err != nil {
			return PartyVerification{}, err
		}
		verification.Roles = append(verification.Roles, reconciler.compare(role, sourceAggregate, destinationAggregate))
	}
	return verification, nil
}

func (reconciler *Reconciler) compare(role Role, source Aggregate, destination Aggregate) RoleVerification {
	quantityDelta := destination.Quantity.Sub(source.Quantity)
	valueDelta := destination.Value.Sub(source.Value)
	countDelta := destination.Count - source.Count
	return RoleVerification{
		Role:          role,
		Source:        source,
		Destination:   destination,
		CountDelta:    countDelta,
		QuantityDelta: quantityDelta,
		ValueDelta:    valueDelta,
		Match: countDelta == 0 &&
			quantityDelta.Abs().LessThanOrEqual(reconciler.tolerance) &&
			valueDelta.Abs().LessThanOrEqual(reconciler.tolerance),
	}
}
