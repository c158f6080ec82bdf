package reconcile

import "context"

// Source is the read-only contract of the source of record. Parties are
// addressed by their legacy identifiers.
type Source interface {
	RecordIDsForParty(ctx context.Context, role Role, partyLegacyID LegacyID) ([]LegacyID, error)
	PartyReferences(ctx context.Context, role Role, ids []LegacyID) (map[LegacyID]LegacyID, error)
	RecordsByIDs(ctx context.Context, ids []LegacyID) ([]SourceRecord, error)
	AggregateForParty(ctx context.Context, role Role, partyLegacyID LegacyID) (Aggregate, error)
}

// LegacyIndex maps (entity type, legacy id) to a new identifier.
type LegacyIndex interface {
	LookupNewID(ctx context.Context, entity EntityType, legacyID LegacyID) (NewID, bool, error)
}

// Destination is the read/write contract of the partially migrated schema.
// Record queries exclude deleted rows unless stated otherwise.
type Destination interface {
	LegacyIndex
	PartyByCode(ctx context.Context, code PartyCode) (Party, error)
	EarliestUserID(ctx context.Context) (NewID, error)
	RecordIDsForParty(ctx context.Context, role Role, partyID NewID) ([]LegacyID, error)
	// ExistingLegacyIDs returns the subset of ids present in any status.
	ExistingLegacyIDs(ctx context.Context, ids []LegacyID) ([]LegacyID, error)
	ReassignParty(ctx context.Context, role Role, ids []LegacyID, target NewID) (int64, error)
	// InsertRecordIfAbsent reports false when a row with the same legacy id already exists.
	InsertRecordIfAbsent(ctx context.Context, record Record) (bool, error)
	AggregateForParty(ctx context.Context, role Role, partyID NewID) (Aggregate, error)
}
