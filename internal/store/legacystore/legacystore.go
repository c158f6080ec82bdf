// Package legacystore reads the source-of-record milk_sales table through GORM.
// The store never writes.
package legacystore

import (
	"context"
	"fmt"

	"github.com/MarkoPoloResearchLab/legacyrecon/pkg/reconcile"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

const (
	columnID                = "id"
	columnSupplierAccountID = "supplier_account_id"
	columnCustomerAccountID = "customer_account_id"
	referenceBatchSize      = 500
	errorOperationStore     = "source"
	errorSubjectSale        = "milk_sale"
	errorSubjectAggregate   = "aggregate"
	errorCodeList           = "list"
	errorCodeFetch          = "fetch"
	errorCodeReferences     = "references"
	errorCodeInvalid        = "invalid"
	errorCodeSum            = "sum"
)

// Store implements reconcile.Source using GORM.
type Store struct {
	db *gorm.DB
}

// New returns a Store backed by gorm.DB.
func New(db *gorm.DB) *Store {
	return &Store{db: db}
}

func (store *Store) RecordIDsForParty(ctx context.Context, role reconcile.Role, partyLegacyID reconcile.LegacyID) ([]reconcile.LegacyID, error) {
	column, err := partyColumn(role)
	if err != nil {
		return nil, wrapSourceError(errorSubjectSale, errorCodeList, err)
	}
	var raw []int64
	err = store.db.WithContext(ctx).
		Model(&MilkSale{}).
		Where(clause.Eq{Column: clause.Column{Name: column}, Value: partyLegacyID.Int64()}).
		Order(columnID).
		Pluck(columnID, &raw).Error
	if err != nil {
		return nil, wrapSourceError(errorSubjectSale, errorCodeList, err)
	}
	ids := make([]reconcile.LegacyID, 0, len(raw))
	for _, value := range raw {
		ids = append(ids, reconcile.LegacyID(value))
	}
	return ids, nil
}

type partyReference struct {
	ID      int64
	PartyID *int64
}

func (store *Store) PartyReferences(ctx context.Context, role reconcile.Role, ids []reconcile.LegacyID) (map[reconcile.LegacyID]reconcile.LegacyID, error) {
	column, err := partyColumn(role)
	if err != nil {
		return nil, wrapSourceError(errorSubjectSale, errorCodeReferences, err)
	}
	references := make(map[reconcile.LegacyID]reconcile.LegacyID, len(ids))
	for start := 0; start < len(ids); start += referenceBatchSize {
		end := start + referenceBatchSize
		if end > len(ids) {
			end = len(ids)
		}
		var rows []partyReference
		err := store.db.WithContext(ctx).
			Model(&MilkSale{}).
			Select(fmt.Sprintf("%s as id, %s as party_id", columnID, column)).
			Where("id IN ?", fromLegacyIDs(ids[start:end])).
			Scan(&rows).Error
		if err != nil {
			return nil, wrapSourceError(errorSubjectSale, errorCodeReferences, err)
		}
		for _, row := range rows {
			references[reconcile.LegacyID(row.ID)] = legacyOrUnattributed(row.PartyID)
		}
	}
	return references, nil
}

func (store *Store) RecordsByIDs(ctx context.Context, ids []reconcile.LegacyID) ([]reconcile.SourceRecord, error) {
	if len(ids) == 0 {
		return []reconcile.SourceRecord{}, nil
	}
	var sales []MilkSale
	err := store.db.WithContext(ctx).
		Where("id IN ?", fromLegacyIDs(ids)).
		Order(columnID).
		Find(&sales).Error
	if err != nil {
		return nil, wrapSourceError(errorSubjectSale, errorCodeFetch, err)
	}
	records := make([]reconcile.SourceRecord, 0, len(sales))
	for _, sale := range sales {
		if sale.ID < 0 {
			return nil, wrapSourceError(errorSubjectSale, errorCodeInvalid, fmt.Errorf("%w: %d", reconcile.ErrInvalidLegacyID, sale.ID))
		}
		records = append(records, mapSale(sale))
	}
	return records, nil
}

type sqlAggregate struct {
	Count    int64
	Quantity decimal.Decimal
	Value    decimal.Decimal
}

func (store *Store) AggregateForParty(ctx context.Context, role reconcile.Role, partyLegacyID reconcile.LegacyID) (reconcile.Aggregate, error) {
	column, err := partyColumn(role)
	if err != nil {
		return reconcile.Aggregate{}, wrapSourceError(errorSubjectAggregate, errorCodeSum, err)
	}
	var sum sqlAggregate
	err = store.db.WithContext(ctx).
		Model(&MilkSale{}).
		Select("count(*) as count, coalesce(sum(quantity),0) as quantity, coalesce(sum(quantity * unit_price),0) as value").
		Where(clause.Eq{Column: clause.Column{Name: column}, Value: partyLegacyID.Int64()}).
		Scan(&sum).Error
	if err != nil {
		return reconcile.Aggregate{}, wrapSourceError(errorSubjectAggregate, errorCodeSum, err)
	}
	return reconcile.Aggregate{Count: sum.Count, Quantity: sum.Quantity, Value: sum.Value}, nil
}

func wrapSourceError(subject string, code string, err error) error {
	return reconcile.WrapError(errorOperationStore, subject, code, err)
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

func mapSale(sale MilkSale) reconcile.SourceRecord {
	return reconcile.SourceRecord{
		LegacyID:           reconcile.LegacyID(sale.ID),
		SupplierLegacyID:   legacyOrUnattributed(sale.SupplierAccountID),
		CustomerLegacyID:   legacyOrUnattributed(sale.CustomerAccountID),
		RecordedByLegacyID: legacyOrUnattributed(sale.RecordedBy),
		CreatedByLegacyID:  legacyOrUnattributed(sale.CreatedBy),
		UpdatedByLegacyID:  legacyOrUnattributed(sale.UpdatedBy),
		Quantity:           sale.Quantity,
		UnitPrice:          sale.UnitPrice,
		Status:             stringOrEmpty(sale.Status),
		SaleAt:             stringOrEmpty(sale.SaleAt),
		CreatedAt:          stringOrEmpty(sale.CreatedAt),
		UpdatedAt:          stringOrEmpty(sale.UpdatedAt),
		Notes:              stringOrEmpty(sale.Notes),
	}
}

// legacyOrUnattributed maps NULL and negative references to the unattributed sentinel.
func legacyOrUnattributed(value *int64) reconcile.LegacyID {
	if value == nil || *value < 0 {
		return reconcile.UnattributedLegacyID
	}
	return reconcile.LegacyID(*value)
}

func stringOrEmpty(value *string) string {
	if value == nil {
		return ""
	}
	return *value
}

func fromLegacyIDs(ids []reconcile.LegacyID) []int64 {
	raw := make([]int64, 0, len(ids))
	for _, id := range ids {
		raw = append(raw, id.Int64())
	}
	return raw
}
