package legacystore

import "github.com/shopspring/decimal"

// MilkSale mirrors the source milk_sales table. Timestamps stay raw text so that
// zero dates and other malformed values reach the reconciler unparsed.
type MilkSale struct {
	ID                int64 `gorm:"primaryKey;autoIncrement:false"`
	SupplierAccountID *int64
	CustomerAccountID *int64
	Quantity          decimal.Decimal `gorm:"type:decimal(10,2);not null"`
	UnitPrice         decimal.Decimal `gorm:"type:decimal(10,2);not null"`
	Status            *string
	SaleAt            *string
	Notes             *string
	RecordedBy        *int64
	CreatedAt         *string
	UpdatedAt         *string
	CreatedBy         *int64
	UpdatedBy         *int64
}

func (MilkSale) TableName() string { return "milk_sales" }
