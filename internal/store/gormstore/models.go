package gormstore

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// Account represents the accounts table.
type Account struct {
	ID        string    `gorm:"type:uuid;primaryKey"`
	Code      string    `gorm:"not null;uniqueIndex"`
	LegacyID  *int64    `gorm:"index"`
	CreatedAt time.Time `gorm:"not null"`
}

func (Account) TableName() string { return "accounts" }

func (account *Account) BeforeCreate(tx *gorm.DB) error {
	if account.ID == "" {
		account.ID = uuid.NewString()
	}
	return nil
}

// User represents the users table.
type User struct {
	ID        string    `gorm:"type:uuid;primaryKey"`
	LegacyID  *int64    `gorm:"index"`
	CreatedAt time.Time `gorm:"not null;index"`
}

func (User) TableName() string { return "users" }

func (user *User) BeforeCreate(tx *gorm.DB) error {
	if user.ID == "" {
		user.ID = uuid.NewString()
	}
	return nil
}

// MilkSale mirrors the milk_sales table.
type MilkSale struct {
	ID                string          `gorm:"type:uuid;primaryKey"`
	LegacyID          *int64          `gorm:"uniqueIndex"`
	SupplierAccountID string          `gorm:"type:uuid;not null;index"`
	CustomerAccountID string          `gorm:"type:uuid;not null;index"`
	Quantity          decimal.Decimal `gorm:"type:decimal(12,3);not null"`
	UnitPrice         decimal.Decimal `gorm:"type:decimal(12,2);not null"`
	Status            string          `gorm:"not null;default:accepted"`
	SaleAt            time.Time       `gorm:"not null"`
	Notes             *string
	RecordedBy        string    `gorm:"type:uuid;not null"`
	CreatedBy         *string   `gorm:"type:uuid"`
	UpdatedBy         *string   `gorm:"type:uuid"`
	CreatedAt         time.Time `gorm:"not null"`
	UpdatedAt         time.Time `gorm:"not null"`
}

func (MilkSale) TableName() string { return "milk_sales" }

func (sale *MilkSale) BeforeCreate(tx *gorm.DB) error {
	if sale.ID == "" {
		sale.ID = uuid.NewString()
	}
	return nil
}

// Models lists every table the store touches, in migration order.
func Models() []interface{} {
	return []interface{}{&Account{}, &User{}, &MilkSale{}}
}
