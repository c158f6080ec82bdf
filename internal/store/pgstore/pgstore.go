package pgstore

import (
	"context"
	"errors"
	"fmt"

	"github.com/MarkoPoloResearchLab/legacyrecon/pkg/reconcile"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
)

const (
	errorOperationStore   = "store"
	errorSubjectAccount   = "account"
	errorSubjectUser      = "user"
	errorSubjectIndex     = "legacy_index"
	errorSubjectSale      = "milk_sale"
	errorSubjectAggregate = "aggregate"
	errorCodeGet          = "get"
	errorCodeInsert       = "insert"
	errorCodeInvalid      = "invalid"
	errorCodeList         = "list"
	errorCodeLookup       = "lookup"
	errorCodeReassign     = "reassign"
	errorCodeSum          = "sum"

	sqlLookupAccount = `select id::text from accounts where legacy_id = $1 limit 1`
	sqlLookupUser    = `select id::text from users where legacy_id = $1 limit 1`

	sqlSelectAccountByCode = `
		select id::text, code, legacy_id
		from accounts
		where code = $1
		limit 1
	`

	sqlSelectEarliestUser = `
		select id::text from users
		order by created_at asc, id asc
		limit 1
	`

	sqlSupplierRecordIDs = `
		select legacy_id from milk_sales
		where supplier_account_id = $1 and status <> 'deleted' and legacy_id is not null
		order by legacy_id
	`

	sqlCustomerRecordIDs = `
		select legacy_id from milk_sales
		where customer_account_id = $1 and status <> 'deleted' and legacy_id is not null
		order by legacy_id
	`

	sqlExistingLegacyIDs = `
		select legacy_id from milk_sales
		where legacy_id = any($1)
		order by legacy_id
	`

	sqlReassignSupplier = `update milk_sales set supplier_account_id = $1 where legacy_id = any($2) and supplier_account_id is distinct from $1`
	sqlReassignCustomer = `update milk_sales set customer_account_id = $1 where legacy_id = any($2) and customer_account_id is distinct from $1`

	sqlInsertSale = `
		insert into milk_sales(
			id, legacy_id, supplier_account_id, customer_account_id, quantity, unit_price,
			status, sale_at, notes, recorded_by, created_by, updated_by, created_at, updated_at
		)
		values(
			$1, $2, $3, $4, $5::numeric, $6::numeric,
			$7, $8, nullif($9,''), $10, $11, $12, $13, $14
		)
		on conflict (legacy_id) do nothing
	`

	sqlSupplierAggregate = `
		select count(*), coalesce(sum(quantity),0)::text, coalesce(sum(quantity * unit_price),0)::text
		from milk_sales
		where supplier_account_id = $1 and status <> 'deleted'
	`

	sqlCustomerAggregate = `
		select count(*), coalesce(sum(quantity),0)::text, coalesce(sum(quantity * unit_price),0)::text
		from milk_sales
		where customer_account_id = $1 and status <> 'deleted'
	`
)

// roleStatements holds the statements parameterized by party column.
type roleStatements struct {
	recordIDs string
	reassign  string
	aggregate string
}

func statementsFor(role reconcile.Role) (roleStatements, error) {
	switch role {
	case reconcile.RoleSupplier:
		return roleStatements{recordIDs: sqlSupplierRecordIDs, reassign: sqlReassignSupplier, aggregate: sqlSupplierAggregate}, nil
	case reconcile.RoleCustomer:
		return roleStatements{recordIDs: sqlCustomerRecordIDs, reassign: sqlReassignCustomer, aggregate: sqlCustomerAggregate}, nil
	default:
		return roleStatements{}, fmt.Errorf("%w: %q", reconcile.ErrInvalidRole, role)
	}
}

// Store implements reconcile.Destination using a pgx connection pool (autocommit).
type Store struct {
	pool *pgxpool.Pool
}

// New returns a Store backed by a pgx pool.
func New(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

func (store *Store) LookupNewID(ctx context.Context, entity reconcile.EntityType, legacyID reconcile.LegacyID) (reconcile.NewID, bool, error) {
	query := sqlLookupAccount
	switch entity {
	case reconcile.EntityAccount:
	case reconcile.EntityUser:
		query = sqlLookupUser
	default:
		return reconcile.NewID{}, false, wrapStoreError(errorSubjectIndex, errorCodeLookup, fmt.Errorf("%w: %q", reconcile.ErrInvalidEntityType, entity))
	}
	var idValue string
	err := store.pool.QueryRow(ctx, query, legacyID.Int64()).Scan(&idValue)
	if errors.Is(err, pgx.ErrNoRows) {
		return reconcile.NewID{}, false, nil
	}
	if err != nil {
		return reconcile.NewID{}, false, wrapStoreError(errorSubjectIndex, errorCodeLookup, err)
	}
	newID, err := reconcile.ParseNewID(idValue)
	if err != nil {
		return reconcile.NewID{}, false, wrapStoreError(errorSubjectIndex, errorCodeInvalid, err)
	}
	return newID, true, nil
}

func (store *Store) PartyByCode(ctx context.Context, code reconcile.PartyCode) (reconcile.Party, error) {
	var (
		idValue   string
		codeValue string
		legacyID  *int64
	)
	err := store.pool.QueryRow(ctx, sqlSelectAccountByCode, code.String()).Scan(&idValue, &codeValue, &legacyID)
	if errors.Is(err, pgx.ErrNoRows) {
		return reconcile.Party{}, wrapStoreError(errorSubjectAccount, errorCodeGet, reconcile.ErrPartyNotFound)
	}
	if err != nil {
		return reconcile.Party{}, wrapStoreError(errorSubjectAccount, errorCodeGet, err)
	}
	party, err := mapParty(idValue, codeValue, legacyID)
	if err != nil {
		return reconcile.Party{}, wrapStoreError(errorSubjectAccount, errorCodeInvalid, err)
	}
	return party, nil
}

func (store *Store) EarliestUserID(ctx context.Context) (reconcile.NewID, error) {
	var idValue string
	err := store.pool.QueryRow(ctx, sqlSelectEarliestUser).Scan(&idValue)
	if errors.Is(err, pgx.ErrNoRows) {
		return reconcile.NewID{}, wrapStoreError(errorSubjectUser, errorCodeGet, reconcile.ErrNoDefaultUser)
	}
	if err != nil {
		return reconcile.NewID{}, wrapStoreError(errorSubjectUser, errorCodeGet, err)
	}
	userID, err := reconcile.ParseNewID(idValue)
	if err != nil {
		return reconcile.NewID{}, wrapStoreError(errorSubjectUser, errorCodeInvalid, err)
	}
	return userID, nil
}

func (store *Store) RecordIDsForParty(ctx context.Context, role reconcile.Role, partyID reconcile.NewID) ([]reconcile.LegacyID, error) {
	statements, err := statementsFor(role)
	if err != nil {
		return nil, wrapStoreError(errorSubjectSale, errorCodeList, err)
	}
	return store.queryLegacyIDs(ctx, statements.recordIDs, partyID.String())
}

func (store *Store) ExistingLegacyIDs(ctx context.Context, ids []reconcile.LegacyID) ([]reconcile.LegacyID, error) {
	if len(ids) == 0 {
		return []reconcile.LegacyID{}, nil
	}
	return store.queryLegacyIDs(ctx, sqlExistingLegacyIDs, fromLegacyIDs(ids))
}

func (store *Store) queryLegacyIDs(ctx context.Context, query string, argument any) ([]reconcile.LegacyID, error) {
	rows, err := store.pool.Query(ctx, query, argument)
	if err != nil {
		return nil, wrapStoreError(errorSubjectSale, errorCodeList, err)
	}
	raw, err := pgx.CollectRows(rows, pgx.RowTo[int64])
	if err != nil {
		return nil, wrapStoreError(errorSubjectSale, errorCodeList, err)
	}
	ids := make([]reconcile.LegacyID, 0, len(raw))
	for _, value := range raw {
		ids = append(ids, reconcile.LegacyID(value))
	}
	return ids, nil
}

func (store *Store) ReassignParty(ctx context.Context, role reconcile.Role, ids []reconcile.LegacyID, target reconcile.NewID) (int64, error) {
	statements, err := statementsFor(role)
	if err != nil {
		return 0, wrapStoreError(errorSubjectSale, errorCodeReassign, err)
	}
	if len(ids) == 0 {
		return 0, nil
	}
	tag, err := store.pool.Exec(ctx, statements.reassign, target.String(), fromLegacyIDs(ids))
	if err != nil {
		return 0, wrapStoreError(errorSubjectSale, errorCodeReassign, err)
	}
	return tag.RowsAffected(), nil
}

func (store *Store) InsertRecordIfAbsent(ctx context.Context, record reconcile.Record) (bool, error) {
	tag, err := store.pool.Exec(ctx, sqlInsertSale,
		record.ID.String(),
		record.LegacyID.Int64(),
		record.SupplierID.String(),
		record.CustomerID.String(),
		record.Quantity.String(),
		record.UnitPrice.String(),
		record.Status.String(),
		record.SaleAt.UTC(),
		record.Notes,
		record.RecordedByID.String(),
		optionalID(record.CreatedByID),
		optionalID(record.UpdatedByID),
		record.CreatedAt.UTC(),
		record.UpdatedAt.UTC(),
	)
	if err != nil {
		return false, wrapStoreError(errorSubjectSale, errorCodeInsert, err)
	}
	return tag.RowsAffected() > 0, nil
}

func (store *Store) AggregateForParty(ctx context.Context, role reconcile.Role, partyID reconcile.NewID) (reconcile.Aggregate, error) {
	statements, err := statementsFor(role)
	if err != nil {
		return reconcile.Aggregate{}, wrapStoreError(errorSubjectAggregate, errorCodeSum, err)
	}
	var (
		count         int64
		quantityValue string
		totalValue    string
	)
	if err := store.pool.QueryRow(ctx, statements.aggregate, partyID.String()).Scan(&count, &quantityValue, &totalValue); err != nil {
		return reconcile.Aggregate{}, wrapStoreError(errorSubjectAggregate, errorCodeSum, err)
	}
	quantity, err := decimal.NewFromString(quantityValue)
	if err != nil {
		return reconcile.Aggregate{}, wrapStoreError(errorSubjectAggregate, errorCodeInvalid, err)
	}
	value, err := decimal.NewFromString(totalValue)
	if err != nil {
		return reconcile.Aggregate{}, wrapStoreError(errorSubjectAggregate, errorCodeInvalid, err)
	}
	return reconcile.Aggregate{Count: count, Quantity: quantity, Value: value}, nil
}

func wrapStoreError(subject string, code string, err error) error {
	return reconcile.WrapError(errorOperationStore, subject, code, err)
}

func mapParty(idValue string, codeValue string, legacyValue *int64) (reconcile.Party, error) {
	partyID, err := reconcile.ParseNewID(idValue)
	if err != nil {
		return reconcile.Party{}, err
	}
	code, err := reconcile.NewPartyCode(codeValue)
	if err != nil {
		return reconcile.Party{}, err
	}
	party := reconcile.Party{ID: partyID, Code: code}
	if legacyValue != nil {
		legacyID, err := reconcile.NewLegacyID(*legacyValue)
		if err != nil {
			return reconcile.Party{}, err
		}
		party.LegacyID = &legacyID
	}
	return party, nil
}

func optionalID(id *reconcile.NewID) *string {
	if id == nil || id.IsZero() {
		return nil
	}
	value := id.String()
	return &value
}

func fromLegacyIDs(ids []reconcile.LegacyID) []int64 {
	raw := make([]int64, 0, len(ids))
	for _, id := range ids {
		raw = append(raw, id.Int64())
	}
	return raw
}
