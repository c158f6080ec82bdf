package reconcile

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"
)

var errStubFailure = errors.New("stub failure")

type stubSource struct {
	records         map[LegacyID]SourceRecord
	fetchCalls      int
	fetchErrOnCall  int
	idsErr          error
	referencesErr   error
	aggregateErr    error
	fetchedChunkLen []int
}

func newStubSource() *stubSource {
	return &stubSource{records: map[LegacyID]SourceRecord{}}
}

func (source *stubSource) add(record SourceRecord) {
	source.records[record.LegacyID] = record
}

func sourceReference(role Role, record SourceRecord) LegacyID {
	if role == RoleSupplier {
		return record.SupplierLegacyID
	}
	return record.CustomerLegacyID
}

func (source *stubSource) RecordIDsForParty(_ context.Context, role Role, partyLegacyID LegacyID) ([]LegacyID, error) {
	if source.idsErr != nil {
		return nil, source.idsErr
	}
	ids := []LegacyID{}
	for id, record := range source.records {
		if sourceReference(role, record) == partyLegacyID {
			ids = append(ids, id)
		}
	}
	return ids, nil
}

func (source *stubSource) PartyReferences(_ context.Context, role Role, ids []LegacyID) (map[LegacyID]LegacyID, error) {
	if source.referencesErr != nil {
		return nil, source.referencesErr
	}
	references := map[LegacyID]LegacyID{}
	for _, id := range ids {
		if record, found := source.records[id]; found {
			references[id] = sourceReference(role, record)
		}
	}
	return references, nil
}

func (source *stubSource) RecordsByIDs(_ context.Context, ids []LegacyID) ([]SourceRecord, error) {
	source.fetchCalls++
	source.fetchedChunkLen = append(source.fetchedChunkLen, len(ids))
	if source.fetchErrOnCall == source.fetchCalls {
		return nil, errStubFailure
	}
	records := []SourceRecord{}
	for _, id := range ids {
		if record, found := source.records[id]; found {
			records = append(records, record)
		}
	}
	return records, nil
}

func (source *stubSource) AggregateForParty(_ context.Context, role Role, partyLegacyID LegacyID) (Aggregate, error) {
	if source.aggregateErr != nil {
		return Aggregate{}, source.aggregateErr
	}
	aggregate := Aggregate{Quantity: decimal.Zero, Value: decimal.Zero}
	for _, record := range source.records {
		if sourceReference(role, record) != partyLegacyID {
			continue
		}
		aggregate.Count++
		aggregate.Quantity = aggregate.Quantity.Add(record.Quantity)
		aggregate.Value = aggregate.Value.Add(record.Quantity.Mul(record.UnitPrice))
	}
	return aggregate, nil
}

type reassignCall struct {
	role   Role
	ids    []LegacyID
	target NewID
}

type stubDestination struct {
	parties        map[string]Party
	accounts       map[LegacyID]NewID
	users          map[LegacyID]NewID
	earliestUser   NewID
	rows           map[LegacyID]Record
	lookupCalls    int
	insertCalls    int
	reassignCalls  []reassignCall
	insertErrors   map[LegacyID]error
	reassignErrors map[NewID]error
	lookupErr      error
	aggregateErr   error
}

func newStubDestination() *stubDestination {
	return &stubDestination{
		parties:        map[string]Party{},
		accounts:       map[LegacyID]NewID{},
		users:          map[LegacyID]NewID{},
		rows:           map[LegacyID]Record{},
		insertErrors:   map[LegacyID]error{},
		reassignErrors: map[NewID]error{},
	}
}

func (destination *stubDestination) addParty(test *testing.T, code string, legacyID *LegacyID) Party {
	test.Helper()
	party := Party{ID: GenerateNewID(), Code: mustPartyCode(test, code), LegacyID: legacyID}
	destination.parties[code] = party
	if legacyID != nil {
		destination.accounts[*legacyID] = party.ID
	}
	return party
}

func (destination *stubDestination) addRow(record Record) {
	destination.rows[record.LegacyID] = record
}

func destinationReference(role Role, record Record) NewID {
	if role == RoleSupplier {
		return record.SupplierID
	}
	return record.CustomerID
}

func (destination *stubDestination) LookupNewID(_ context.Context, entity EntityType, legacyID LegacyID) (NewID, bool, error) {
	destination.lookupCalls++
	if destination.lookupErr != nil {
		return NewID{}, false, destination.lookupErr
	}
	index := destination.accounts
	if entity == EntityUser {
		index = destination.users
	}
	id, found := index[legacyID]
	return id, found, nil
}

func (destination *stubDestination) PartyByCode(_ context.Context, code PartyCode) (Party, error) {
	party, found := destination.parties[code.String()]
	if !found {
		return Party{}, ErrPartyNotFound
	}
	return party, nil
}

func (destination *stubDestination) EarliestUserID(context.Context) (NewID, error) {
	if destination.earliestUser.IsZero() {
		return NewID{}, ErrNoDefaultUser
	}
	return destination.earliestUser, nil
}

func (destination *stubDestination) RecordIDsForParty(_ context.Context, role Role, partyID NewID) ([]LegacyID, error) {
	ids := []LegacyID{}
	for id, record := range destination.rows {
		if record.Status != StatusDeleted && destinationReference(role, record) == partyID {
			ids = append(ids, id)
		}
	}
	return ids, nil
}

func (destination *stubDestination) ExistingLegacyIDs(_ context.Context, ids []LegacyID) ([]LegacyID, error) {
	existing := []LegacyID{}
	for _, id := range ids {
		if _, found := destination.rows[id]; found {
			existing = append(existing, id)
		}
	}
	return existing, nil
}

func (destination *stubDestination) ReassignParty(_ context.Context, role Role, ids []LegacyID, target NewID) (int64, error) {
	destination.reassignCalls = append(destination.reassignCalls, reassignCall{role: role, ids: ids, target: target})
	if err := destination.reassignErrors[target]; err != nil {
		return 0, err
	}
	var changed int64
	for _, id := range ids {
		record, found := destination.rows[id]
		if !found || destinationReference(role, record) == target {
			continue
		}
		if role == RoleSupplier {
			record.SupplierID = target
		} else {
			record.CustomerID = target
		}
		destination.rows[id] = record
		changed++
	}
	return changed, nil
}

func (destination *stubDestination) InsertRecordIfAbsent(_ context.Context, record Record) (bool, error) {
	destination.insertCalls++
	if err := destination.insertErrors[record.LegacyID]; err != nil {
		return false, err
	}
	if _, found := destination.rows[record.LegacyID]; found {
		return false, nil
	}
	destination.rows[record.LegacyID] = record
	return true, nil
}

func (destination *stubDestination) AggregateForParty(_ context.Context, role Role, partyID NewID) (Aggregate, error) {
	if destination.aggregateErr != nil {
		return Aggregate{}, destination.aggregateErr
	}
	aggregate := Aggregate{Quantity: decimal.Zero, Value: decimal.Zero}
	for _, record := range destination.rows {
		if record.Status == StatusDeleted || destinationReference(role, record) != partyID {
			continue
		}
		aggregate.Count++
		aggregate.Quantity = aggregate.Quantity.Add(record.Quantity)
		aggregate.Value = aggregate.Value.Add(record.Quantity.Mul(record.UnitPrice))
	}
	return aggregate, nil
}

type recorderLogger struct {
	events []Event
}

func (logger *recorderLogger) LogEvent(_ context.Context, event Event) {
	logger.events = append(logger.events, event)
}

func (logger *recorderLogger) count(kind EventKind) int {
	total := 0
	for _, event := range logger.events {
		if event.Kind == kind {
			total++
		}
	}
	return total
}

var fixedNow = time.Date(2024, time.March, 1, 12, 0, 0, 0, time.UTC)

func fixedClock() time.Time {
	return fixedNow
}

func mustNewReconciler(test *testing.T, source Source, destination Destination, options ...Option) *Reconciler {
	test.Helper()
	reconciler, err := NewReconciler(source, destination, fixedClock, options...)
	if err != nil {
		test.Fatalf("reconciler init: %v", err)
	}
	return reconciler
}

func mustPartyCode(test *testing.T, raw string) PartyCode {
	test.Helper()
	code, err := NewPartyCode(raw)
	if err != nil {
		test.Fatalf("party code: %v", err)
	}
	return code
}

func mustDecimal(test *testing.T, raw string) decimal.Decimal {
	test.Helper()
	value, err := decimal.NewFromString(raw)
	if err != nil {
		test.Fatalf("decimal: %v", err)
	}
	return value
}

func legacyRef(raw int64) *LegacyID {
	id := LegacyID(raw)
	return &id
}

func sourceSale(test *testing.T, id int64, supplier int64, customer int64, quantity string, unitPrice string) SourceRecord {
	test.Helper()
	return SourceRecord{
		LegacyID:           LegacyID(id),
		SupplierLegacyID:   LegacyID(supplier),
		CustomerLegacyID:   LegacyID(customer),
		RecordedByLegacyID: 1,
		Quantity:           mustDecimal(test, quantity),
		UnitPrice:          mustDecimal(test, unitPrice),
		Status:             "accepted",
		SaleAt:             "2023-05-01 08:30:00",
		CreatedAt:          "2023-05-01 08:30:00",
		UpdatedAt:          "2023-05-01 08:30:00",
	}
}

func destinationSale(test *testing.T, id int64, supplier NewID, customer NewID, quantity string, unitPrice string) Record {
	test.Helper()
	return Record{
		ID:         GenerateNewID(),
		LegacyID:   LegacyID(id),
		SupplierID: supplier,
		CustomerID: customer,
		Quantity:   mustDecimal(test, quantity),
		UnitPrice:  mustDecimal(test, unitPrice),
		Status:     StatusAccepted,
	}
}
