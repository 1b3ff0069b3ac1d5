package inventory

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// ItemKind classifies a stock keeping unit.
type ItemKind string

const (
	// ItemKindRaw marks ingredients and reprocessed goods.
	ItemKindRaw ItemKind = "raw_material"
	// ItemKindFinished marks goods produced from a recipe.
	ItemKindFinished ItemKind = "finished_good"
)

// LocationKind classifies where stock resides.
type LocationKind string

const (
	LocationWarehouse LocationKind = "warehouse"
	LocationTransit   LocationKind = "transit"
	LocationClient    LocationKind = "client"
)

// Pooled reports whether stock at this kind of location is valued in the cost pool.
// Client locations hold consigned or sold stock and are excluded.
func (k LocationKind) Pooled() bool {
	return k == LocationWarehouse || k == LocationTransit
}

// Valid reports whether the kind is one of the known location kinds.
func (k LocationKind) Valid() bool {
	switch k {
	case LocationWarehouse, LocationTransit, LocationClient:
		return true
	}
	return false
}

// MoveType enumerates ledger movement kinds.
type MoveType string

const (
	MoveTypePurchase   MoveType = "purchase"
	MoveTypeSale       MoveType = "sale"
	MoveTypeTransfer   MoveType = "transfer"
	MoveTypeProduction MoveType = "production"
)

// PaymentStatus tracks settlement of client-facing moves.
type PaymentStatus string

const (
	PaymentNone    PaymentStatus = ""
	PaymentPending PaymentStatus = "pending"
	PaymentPartial PaymentStatus = "partial"
	PaymentPaid    PaymentStatus = "paid"
)

// Valid reports whether the status is known. The empty status is valid.
func (s PaymentStatus) Valid() bool {
	switch s {
	case PaymentNone, PaymentPending, PaymentPartial, PaymentPaid:
		return true
	}
	return false
}

// Direction of a move relative to the ledger.
type Direction string

const (
	DirectionIn       Direction = "in"
	DirectionOut      Direction = "out"
	DirectionTransfer Direction = "transfer"
)

// Item is a stock keeping unit together with its cost pool columns.
type Item struct {
	ID         int64
	Name       string
	Kind       ItemKind
	UnitCost   decimal.Decimal
	TotalValue decimal.Decimal
	IsWeighted bool
	SalePrice  decimal.Decimal
}

// Location is a place stock can reside.
type Location struct {
	ID   int64
	Name string
	Kind LocationKind
}

// Move is an immutable ledger entry. Quantity is always positive; the
// populated location fields encode the direction.
type Move struct {
	ID             int64
	ItemID         int64
	FromLocationID *int64
	ToLocationID   *int64
	Quantity       decimal.Decimal
	Type           MoveType
	UnitPrice      decimal.Decimal
	BatchID        uuid.NullUUID
	PaymentStatus  PaymentStatus
	CreatedAt      time.Time
}

// Direction derives the move direction from its location fields.
func (m Move) Direction() Direction {
	switch {
	case m.FromLocationID != nil && m.ToLocationID != nil:
		return DirectionTransfer
	case m.FromLocationID != nil:
		return DirectionOut
	default:
		return DirectionIn
	}
}

// Delta returns the signed quantity change the move applies to locationID.
func (m Move) Delta(locationID int64) decimal.Decimal {
	delta := decimal.Zero
	if m.ToLocationID != nil && *m.ToLocationID == locationID {
		delta = delta.Add(m.Quantity)
	}
	if m.FromLocationID != nil && *m.FromLocationID == locationID {
		delta = delta.Sub(m.Quantity)
	}
	return delta
}

// Touches reports whether the move references locationID on either side.
func (m Move) Touches(locationID int64) bool {
	return (m.FromLocationID != nil && *m.FromLocationID == locationID) ||
		(m.ToLocationID != nil && *m.ToLocationID == locationID)
}

// Balance is the materialised on-hand quantity for an item at a location.
type Balance struct {
	ItemID     int64
	LocationID int64
	Quantity   decimal.Decimal
}

// BalanceKey identifies a balance row.
type BalanceKey struct {
	ItemID     int64
	LocationID int64
}

// MoveFilter narrows ledger listings. Zero values mean "any".
type MoveFilter struct {
	ItemID     int64
	LocationID int64
	BatchID    uuid.NullUUID
	Limit      int
}

// Epsilon absorbs floating noise from gram arithmetic on weighted goods.
var Epsilon = decimal.New(1, -2)

var (
	// ErrInvalidQuantity indicates a non-positive quantity.
	ErrInvalidQuantity = errors.New("inventory: quantity must be positive")
	// ErrInvalidUnitCost indicates a negative price or cost.
	ErrInvalidUnitCost = errors.New("inventory: unit cost must be >= 0")
	// ErrInsufficientStock indicates on-hand stock below the requested quantity.
	ErrInsufficientStock = errors.New("inventory: insufficient stock")
	// ErrItemNotFound indicates a missing item.
	ErrItemNotFound = errors.New("inventory: item not found")
	// ErrLocationNotFound indicates a missing location.
	ErrLocationNotFound = errors.New("inventory: location not found")
	// ErrMoveNotFound indicates a missing ledger entry.
	ErrMoveNotFound = errors.New("inventory: move not found")
	// ErrInvalidLocation indicates a location unsuitable for the posting.
	ErrInvalidLocation = errors.New("inventory: invalid location for movement")
	// ErrInvalidPaymentStatus indicates an unknown or misplaced payment status.
	ErrInvalidPaymentStatus = errors.New("inventory: invalid payment status")
	// ErrDuplicateCredit is raised when a production credit for a batch already exists.
	ErrDuplicateCredit = errors.New("inventory: production credit already recorded for batch")
	// ErrStorageWrite marks retryable persistence failures.
	ErrStorageWrite = errors.New("inventory: storage write failed")
)

// InsufficientStockError carries the shortfall details.
type InsufficientStockError struct {
	ItemID    int64
	ItemName  string
	Required  decimal.Decimal
	Available decimal.Decimal
}

func (e *InsufficientStockError) Error() string {
	return fmt.Sprintf("inventory: insufficient stock for %s: required %s, available %s", e.ItemName, e.Required.String(), e.Available.String())
}

// Is lets errors.Is match ErrInsufficientStock.
func (e *InsufficientStockError) Is(target error) bool {
	return target == ErrInsufficientStock
}

// StorageError wraps a persistence failure during an atomic operation.
type StorageError struct {
	Op  string
	Err error
}

func (e *StorageError) Error() string {
	return fmt.Sprintf("inventory: storage write failed during %s: %v", e.Op, e.Err)
}

func (e *StorageError) Unwrap() error { return e.Err }

// Is lets errors.Is match ErrStorageWrite.
func (e *StorageError) Is(target error) bool {
	return target == ErrStorageWrite
}

// IsDomainError reports whether err is one of the package's business errors,
// as opposed to an infrastructure failure.
func IsDomainError(err error) bool {
	for _, target := range []error{
		ErrInvalidQuantity, ErrInvalidUnitCost, ErrInsufficientStock, ErrItemNotFound,
		ErrLocationNotFound, ErrMoveNotFound, ErrInvalidLocation, ErrInvalidPaymentStatus,
		ErrDuplicateCredit, ErrStorageWrite,
	} {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}

// WrapStorage converts infrastructure errors into StorageError, leaving
// business errors untouched.
func WrapStorage(op string, err error) error {
	if err == nil || IsDomainError(err) {
		return err
	}
	return &StorageError{Op: op, Err: err}
}

func int64Ptr(v int64) *int64 { return &v }
