package gormstore

import (
	"context"
	"errors"
	"fmt"

	"github.com/MarkoPoloResearchLab/legacyrecon/pkg/reconcile"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

const (
	columnLegacyID          = "legacy_id"
	columnSupplierAccountID = "supplier_account_id"
	columnCustomerAccountID = "customer_account_id"
	errorOperationStore     = "store"
	errorSubjectAccount     = "account"
	errorSubjectUser        = "user"
	errorSubjectIndex       = "legacy_index"
	errorSubjectSale        = "milk_sale"
	errorSubjectAggregate   = "aggregate"
	errorCodeGet            = "get"
	errorCodeInsert         = "insert"
	errorCodeInvalid        = "invalid"
	errorCodeList           = "list"
	errorCodeLookup         = "lookup"
	errorCodeReassign       = "reassign"
	errorCodeSum            = "sum"
)

// Store implements reconcile.Destination using GORM.
type Store struct {
	db *gorm.DB
}

// New returns a Store backed by gorm.DB.
func New(db *gorm.DB) *Store {
	return &Store{db: db}
}

func (store *Store) LookupNewID(ctx context.Context, entity reconcile.EntityType, legacyID reconcile.LegacyID) (reconcile.NewID, bool, error) {
	var model interface{}
	switch entity {
	case reconcile.EntityAccount:
		model = &Account{}
	case reconcile.EntityUser:
		model = &User{}
	default:
		return reconcile.NewID{}, false, wrapStoreError(errorSubjectIndex, errorCodeLookup, fmt.Errorf("%w: %q", reconcile.ErrInvalidEntityType, entity))
	}
	var ids []string
	err := store.db.WithContext(ctx).
		Model(model).
		Where("legacy_id = ?", legacyID.Int64()).
		Limit(1).
		Pluck("id", &ids).Error
	if err != nil {
		return reconcile.NewID{}, false, wrapStoreError(errorSubjectIndex, errorCodeLookup, err)
	}
	if len(ids) == 0 {
		return reconcile.NewID{}, false, nil
	}
	newID, err := reconcile.ParseNewID(ids[0])
	if err != nil {
		return reconcile.NewID{}, false, wrapStoreError(errorSubjectIndex, errorCodeInvalid, err)
	}
	return newID, true, nil
}

func (store *Store) PartyByCode(ctx context.Context, code reconcile.PartyCode) (reconcile.Party, error) {
	var account Account
	err := store.db.WithContext(ctx).Where("code = ?", code.String()).Take(&account).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return reconcile.Party{}, wrapStoreError(errorSubjectAccount, errorCodeGet, reconcile.ErrPartyNotFound)
		}
		return reconcile.Party{}, wrapStoreError(errorSubjectAccount, errorCodeGet, err)
	}
	party, err := mapAccount(account)
	if err != nil {
		return reconcile.Party{}, wrapStoreError(errorSubjectAccount, errorCodeInvalid, err)
	}
	return party, nil
}

func (store *Store) EarliestUserID(ctx context.Context) (reconcile.NewID, error) {
	var user User
	err := store.db.WithContext(ctx).Order("created_at asc").Order("id asc").Take(&user).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return reconcile.NewID{}, wrapStoreError(errorSubjectUser, errorCodeGet, reconcile.ErrNoDefaultUser)
		}
		return reconcile.NewID{}, wrapStoreError(errorSubjectUser, errorCodeGet, err)
	}
	userID, err := reconcile.ParseNewID(user.ID)
	if err != nil {
		return reconcile.NewID{}, wrapStoreError(errorSubjectUser, errorCodeInvalid, err)
	}
	return userID, nil
}

func (store *Store) RecordIDsForParty(ctx context.Context, role reconcile.Role, partyID reconcile.NewID) ([]reconcile.LegacyID, error) {
	column, err := partyColumn(role)
	if err != nil {
		return nil, wrapStoreError(errorSubjectSale, errorCodeList, err)
	}
	var raw []int64
	err = store.db.WithContext(ctx).
		Model(&MilkSale{}).
		Where(clause.Eq{Column: clause.Column{Name: column}, Value: partyID.String()}).
		Where("status <> ?", reconcile.StatusDeleted.String()).
		Where("legacy_id IS NOT NULL").
		Order(columnLegacyID).
		Pluck(columnLegacyID, &raw).Error
	if err != nil {
		return nil, wrapStoreError(errorSubjectSale, errorCodeList, err)
	}
	return toLegacyIDs(raw), nil
}

func (store *Store) ExistingLegacyIDs(ctx context.Context, ids []reconcile.LegacyID) ([]reconcile.LegacyID, error) {
	if len(ids) == 0 {
		return []reconcile.LegacyID{}, nil
	}
	var raw []int64
	err := store.db.WithContext(ctx).
		Model(&MilkSale{}).
		Where("legacy_id IN ?", fromLegacyIDs(ids)).
		Order(columnLegacyID).
		Pluck(columnLegacyID, &raw).Error
	if err != nil {
		return nil, wrapStoreError(errorSubjectSale, errorCodeList, err)
	}
	return toLegacyIDs(raw), nil
}

func (store *Store) ReassignParty(ctx context.Context, role reconcile.Role, ids []reconcile.LegacyID, target reconcile.NewID) (int64, error) {
	column, err := partyColumn(role)
	if err != nil {
		return 0, wrapStoreError(errorSubjectSale, errorCodeReassign, err)
	}
	if len(ids) == 0 {
		return 0, nil
	}
	result := store.db.WithContext(ctx).
		Model(&MilkSale{}).
		Where("legacy_id IN ?", fromLegacyIDs(ids)).
		Where(clause.Neq{Column: clause.Column{Name: column}, Value: target.String()}).
		UpdateColumn(column, target.String())
	if result.Error != nil {
		return 0, wrapStoreError(errorSubjectSale, errorCodeReassign, result.Error)
	}
	return result.RowsAffected, nil
}

func (store *Store) InsertRecordIfAbsent(ctx context.Context, record reconcile.Record) (bool, error) {
	model := mapRecord(record)
	result := store.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: columnLegacyID}},
			DoNothing: true,
		}).
		Create(&model)
	if result.Error != nil {
		return false, wrapStoreError(errorSubjectSale, errorCodeInsert, result.Error)
	}
	return result.RowsAffected > 0, nil
}

func (store *Store) AggregateForParty(ctx context.Context, role reconcile.Role, partyID reconcile.NewID) (reconcile.Aggregate, error) {
	column, err := partyColumn(role)
	if err != nil {
		return reconcile.Aggregate{}, wrapStoreError(errorSubjectAggregate, errorCodeSum, err)
	}
	var sum sqlAggregate
	err = store.db.WithContext(ctx).
		Model(&MilkSale{}).
		Select("count(*) as count, coalesce(sum(quantity),0) as quantity, coalesce(sum(quantity * unit_price),0) as value").
		Where(clause.Eq{Column: clause.Column{Name: column}, Value: partyID.String()}).
		Where("status <> ?", reconcile.StatusDeleted.String()).
		Scan(&sum).Error
	if err != nil {
		return reconcile.Aggregate{}, wrapStoreError(errorSubjectAggregate, errorCodeSum, err)
	}
	return reconcile.Aggregate{Count: sum.Count, Quantity: sum.Quantity, Value: sum.Value}, nil
}

func wrapStoreError(subject string, code string, err error) error {
	return reconcile.WrapError(errorOperationStore, subject, code, err)
}

type sqlAggregate struct {
	Count    int64
	Quantity decimal.Decimal
	Value    decimal.Decimal
}

func partyColumn(role reconcile.Role) (string, error) {
	switch role {
	case reconcile.RoleSupplier:
		return columnSupplierAccountID, nil
	case reconcile.RoleCustomer:
		return columnCustomerAccountID, nil
	default:
		return "", fmt.Errorf("%w: %q", reconcile.ErrInvalidRole, role)
	}
}

func mapAccount(account Account) (reconcile.Party, error) {
	accountID, err := reconcile.ParseNewID(account.ID)
	if err != nil {
		return reconcile.Party{}, err
	}
	code, err := reconcile.NewPartyCode(account.Code)
	if err != nil {
		return reconcile.Party{}, err
	}
	party := reconcile.Party{ID: accountID, Code: code}
	if account.LegacyID != nil {
		legacyID, err := reconcile.NewLegacyID(*account.LegacyID)
		if err != nil {
			return reconcile.Party{}, err
		}
		party.LegacyID = &legacyID
	}
	return party, nil
}

func mapRecord(record reconcile.Record) MilkSale {
	legacyID := record.LegacyID.Int64()
	var notes *string
	if record.Notes != "" {
		value := record.Notes
		notes = &value
	}
	return MilkSale{
		ID:                record.ID.String(),
		LegacyID:          &legacyID,
		SupplierAccountID: record.SupplierID.String(),
		CustomerAccountID: record.CustomerID.String(),
		Quantity:          record.Quantity,
		UnitPrice:         record.UnitPrice,
		Status:            record.Status.String(),
		SaleAt:            record.SaleAt.UTC(),
		Notes:             notes,
		RecordedBy:        record.RecordedByID.String(),
		CreatedBy:         optionalID(record.CreatedByID),
		UpdatedBy:         optionalID(record.UpdatedByID),
		CreatedAt:         record.CreatedAt.UTC(),
		UpdatedAt:         record.UpdatedAt.UTC(),
	}
}

func optionalID(id *reconcile.NewID) *string {
	if id == nil || id.IsZero() {
		return nil
	}
	value := id.String()
	return &value
}

func toLegacyIDs(raw []int64) []reconcile.LegacyID {
	ids := make([]reconcile.LegacyID, 0, len(raw))
	for _, value := range raw {
		ids = append(ids, reconcile.LegacyID(value))
	}
	return ids
}

func fromLegacyIDs(ids []reconcile.LegacyID) []int64 {
	raw := make([]int64, 0, len(ids))
	for _, id := range ids {
		raw = append(raw, id.Int64())
	}
	return raw
}
