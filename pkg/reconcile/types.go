package reconcile

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// LegacyID is the integer primary key assigned by the predecessor schema.
type LegacyID int64

// UnattributedLegacyID marks a party reference the legacy system never recorded.
const UnattributedLegacyID LegacyID = 0

// NewLegacyID validates a raw legacy identifier.
func NewLegacyID(raw int64) (LegacyID, error) {
	if raw < 0 {
		return 0, fmt.Errorf("%w: must not be negative", ErrInvalidLegacyID)
	}
	return LegacyID(raw), nil
}

// Int64 returns the raw identifier.
func (id LegacyID) Int64() int64 {
	return int64(id)
}

// NewID is the opaque identifier assigned by the current schema.
type NewID struct {
	value string
}

// ParseNewID validates and normalizes a uuid string.
func ParseNewID(raw string) (NewID, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return NewID{}, fmt.Errorf("%w: empty value", ErrInvalidNewID)
	}
	parsed, err := uuid.Parse(trimmed)
	if err != nil {
		return NewID{}, fmt.Errorf("%w: %v", ErrInvalidNewID, err)
	}
	return NewID{value: parsed.String()}, nil
}

// GenerateNewID returns a fresh random identifier.
func GenerateNewID() NewID {
	return NewID{value: uuid.NewString()}
}

// String returns the canonical uuid text.
func (id NewID) String() string {
	return id.value
}

// IsZero reports whether the identifier is unset.
func (id NewID) IsZero() bool {
	return id.value == ""
}

// PartyCode is the short human-referenceable account code.
type PartyCode struct {
	value string
}

// NewPartyCode validates and normalizes a party code.
func NewPartyCode(raw string) (PartyCode, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return PartyCode{}, fmt.Errorf("%w: empty value", ErrInvalidPartyCode)
	}
	return PartyCode{value: trimmed}, nil
}

// String returns the normalized code.
func (code PartyCode) String() string {
	return code.value
}

// Party is an account in the destination schema.
type Party struct {
	ID       NewID
	Code     PartyCode
	LegacyID *LegacyID
}

// Legacy returns the party's legacy identifier when it has one.
func (party Party) Legacy() (LegacyID, bool) {
	if party.LegacyID == nil {
		return 0, false
	}
	return *party.LegacyID, true
}

// EntityType selects which table the Legacy-ID Index consults.
type EntityType string

const (
	EntityAccount EntityType = "account"
	EntityUser    EntityType = "user"
)

// String returns the entity type token.
func (entity EntityType) String() string {
	return string(entity)
}

// Role names the party column of a record a Party occupies.
type Role string

const (
	// RoleSupplier covers records where the party is the supplier (its sales).
	RoleSupplier Role = "supplier"
	// RoleCustomer covers records where the party is the customer (its collections).
	RoleCustomer Role = "customer"
)

// Roles lists every role in reporting order.
func Roles() []Role {
	return []Role{RoleSupplier, RoleCustomer}
}

// String returns the role token.
func (role Role) String() string {
	return string(role)
}

// RecordStatus is the lifecycle state of a record.
type RecordStatus string

const (
	StatusAccepted RecordStatus = "accepted"
	StatusDeleted  RecordStatus = "deleted"
)

// ParseRecordStatus normalizes a status token; empty values default to accepted.
func ParseRecordStatus(raw string) (RecordStatus, error) {
	normalized := strings.ToLower(strings.TrimSpace(raw))
	if normalized == "" {
		return StatusAccepted, nil
	}
	for _, character := range normalized {
		if (character < 'a' || character > 'z') && character != '_' {
			return "", fmt.Errorf("%w: %q", ErrInvalidRecordStatus, raw)
		}
	}
	return RecordStatus(normalized), nil
}

// String returns the status token.
func (status RecordStatus) String() string {
	return string(status)
}

// SourceRecord is a full row fetched from the source of record.
type SourceRecord struct {
	LegacyID           LegacyID
	SupplierLegacyID   LegacyID
	CustomerLegacyID   LegacyID
	RecordedByLegacyID LegacyID
	CreatedByLegacyID  LegacyID
	UpdatedByLegacyID  LegacyID
	Quantity           decimal.Decimal
	UnitPrice          decimal.Decimal
	Status             string
	SaleAt             string
	CreatedAt          string
	UpdatedAt          string
	Notes              string
}

// Record is a destination row ready to be inserted.
type Record struct {
	ID           NewID
	LegacyID     LegacyID
	SupplierID   NewID
	CustomerID   NewID
	RecordedByID NewID
	CreatedByID  *NewID
	UpdatedByID  *NewID
	Quantity     decimal.Decimal
	UnitPrice    decimal.Decimal
	Status       RecordStatus
	SaleAt       time.Time
	CreatedAt    time.Time
	UpdatedAt    time.Time
	Notes        string
}

// Aggregate summarizes the non-deleted records of a party in one role.
type Aggregate struct {
	Count    int64
	Quantity decimal.Decimal
	Value    decimal.Decimal
}

// Correction re-points one destination row at a new party.
type Correction struct {
	LegacyID LegacyID
	Target   NewID
}

// Defaults are the identifiers substituted when a foreign key cannot be resolved.
type Defaults struct {
	Account NewID
	User    NewID
}

// Mode selects which phases a run performs.
type Mode string

const (
	ModeFull        Mode = "full"
	ModeLinksOnly   Mode = "links"
	ModeMigrateOnly Mode = "migrate"
	ModeVerifyOnly  Mode = "verify"
)

// ParseMode validates a mode string.
func ParseMode(raw string) (Mode, error) {
	switch Mode(strings.ToLower(strings.TrimSpace(raw))) {
	case ModeFull:
		return ModeFull, nil
	case ModeLinksOnly:
		return ModeLinksOnly, nil
	case ModeMigrateOnly:
		return ModeMigrateOnly, nil
	case ModeVerifyOnly:
		return ModeVerifyOnly, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrInvalidMode, raw)
	}
}

func (mode Mode) correctsLinks() bool {
	return mode == ModeFull || mode == ModeLinksOnly
}

func (mode Mode) migrates() bool {
	return mode == ModeFull || mode == ModeMigrateOnly
}

// Plan describes one reconciliation run.
type Plan struct {
	AnchorCodes        []PartyCode
	DefaultAccountCode PartyCode
	Mode               Mode
}
