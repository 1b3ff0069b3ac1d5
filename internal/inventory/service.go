package inventory

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/odyssey-stock/internal/shared"
)

// RepositoryPort abstracts repository usage for service.
type RepositoryPort interface {
	LedgerReader
	WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error
	GetItem(ctx context.Context, itemID int64) (Item, error)
	GetLocation(ctx context.Context, locationID int64) (Location, error)
}

// AuditPort abstracts audit logging functionality.
type AuditPort interface {
	Record(ctx context.Context, log shared.AuditLog) error
}

// IdempotencyPort guards client supplied references against replays.
type IdempotencyPort interface {
	CheckAndInsert(ctx context.Context, key, module string) error
	Delete(ctx context.Context, key string) error
}

// Service coordinates stock postings against the ledger.
type Service struct {
	repo        RepositoryPort
	audit       AuditPort
	idempotency IdempotencyPort
	projector   *Projector
	accountor   Accountor
	logger      *slog.Logger
}

// NewService builds Service. audit, idem and logger may be nil.
func NewService(repo RepositoryPort, audit AuditPort, idem IdempotencyPort, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		repo:        repo,
		audit:       audit,
		idempotency: idem,
		projector:   NewProjector(repo),
		logger:      logger.With(slog.String("component", "inventory")),
	}
}

// Projector exposes the ledger fold used by this service.
func (s *Service) Projector() *Projector {
	return s.projector
}

// PurchaseInput describes an inbound purchase.
type PurchaseInput struct {
	ItemID     int64
	LocationID int64
	Qty        decimal.Decimal
	UnitPrice  decimal.Decimal
	Reference  string
	ActorID    int64
}

// TransferInput describes a movement between two locations.
type TransferInput struct {
	ItemID         int64
	FromLocationID int64
	ToLocationID   int64
	Qty            decimal.Decimal
	PaymentStatus  PaymentStatus
	ActorID        int64
}

// SaleInput describes stock leaving the business.
type SaleInput struct {
	ItemID         int64
	FromLocationID int64
	Qty            decimal.Decimal
	PaymentStatus  PaymentStatus
	ActorID        int64
}

// PostPurchase credits purchased stock to a pooled location and re-averages cost.
func (s *Service) PostPurchase(ctx context.Context, input PurchaseInput) (Move, error) {
	if input.ItemID == 0 || input.LocationID == 0 {
		return Move{}, fmt.Errorf("%w: item and location required", ErrInvalidLocation)
	}
	if !input.Qty.IsPositive() {
		return Move{}, ErrInvalidQuantity
	}
	if input.UnitPrice.IsNegative() {
		return Move{}, ErrInvalidUnitCost
	}
	key := ""
	if input.Reference != "" && s.idempotency != nil {
		key = fmt.Sprintf("purchase:%s:%d", input.Reference, input.ItemID)
		if err := s.idempotency.CheckAndInsert(ctx, key, "inventory"); err != nil {
			return Move{}, err
		}
	}
	var posted Move
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		loc, err := tx.GetLocation(ctx, input.LocationID)
		if err != nil {
			return err
		}
		if !loc.Kind.Pooled() {
			return ErrInvalidLocation
		}
		if _, err := s.accountor.ApplyInbound(ctx, tx, input.ItemID, input.Qty, input.Qty.Mul(input.UnitPrice)); err != nil {
			return err
		}
		posted, err = tx.AppendMove(ctx, Move{
			ItemID:       input.ItemID,
			ToLocationID: int64Ptr(input.LocationID),
			Quantity:     input.Qty,
			Type:         MoveTypePurchase,
			UnitPrice:    input.UnitPrice,
		})
		return err
	})
	if err != nil {
		if key != "" {
			_ = s.idempotency.Delete(ctx, key)
		}
		return Move{}, WrapStorage("purchase", err)
	}
	s.recordAudit(ctx, input.ActorID, posted, map[string]any{"reference": input.Reference})
	return posted, nil
}

// PostTransfer moves stock between locations. Value leaves the cost pool when
// stock goes to a client location and re-enters when it comes back.
func (s *Service) PostTransfer(ctx context.Context, input TransferInput) (Move, error) {
	if input.ItemID == 0 || input.FromLocationID == 0 || input.ToLocationID == 0 {
		return Move{}, fmt.Errorf("%w: item and both locations required", ErrInvalidLocation)
	}
	if input.FromLocationID == input.ToLocationID {
		return Move{}, fmt.Errorf("%w: source and destination must differ", ErrInvalidLocation)
	}
	if !input.Qty.IsPositive() {
		return Move{}, ErrInvalidQuantity
	}
	if !input.PaymentStatus.Valid() {
		return Move{}, ErrInvalidPaymentStatus
	}
	var posted Move
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		from, err := tx.GetLocation(ctx, input.FromLocationID)
		if err != nil {
			return err
		}
		to, err := tx.GetLocation(ctx, input.ToLocationID)
		if err != nil {
			return err
		}
		if input.PaymentStatus != PaymentNone && to.Kind != LocationClient {
			return ErrInvalidPaymentStatus
		}
		item, err := s.checkAvailable(ctx, tx, input.ItemID, from.ID, input.Qty)
		if err != nil {
			return err
		}
		unitPrice := item.UnitCost
		switch {
		case from.Kind.Pooled() && !to.Kind.Pooled():
			unitPrice, err = s.accountor.ApplyOutbound(ctx, tx, item.ID, input.Qty)
		case !from.Kind.Pooled() && to.Kind.Pooled():
			_, err = s.accountor.ApplyInbound(ctx, tx, item.ID, input.Qty, input.Qty.Mul(item.UnitCost))
		}
		if err != nil {
			return err
		}
		posted, err = tx.AppendMove(ctx, Move{
			ItemID:         item.ID,
			FromLocationID: int64Ptr(from.ID),
			ToLocationID:   int64Ptr(to.ID),
			Quantity:       input.Qty,
			Type:           MoveTypeTransfer,
			UnitPrice:      unitPrice,
			PaymentStatus:  input.PaymentStatus,
		})
		return err
	})
	if err != nil {
		return Move{}, WrapStorage("transfer", err)
	}
	s.recordAudit(ctx, input.ActorID, posted, nil)
	return posted, nil
}

// PostSale deducts sold stock. Sales from pooled locations remove value at the
// current average cost; consigned stock at a client location already left the pool.
func (s *Service) PostSale(ctx context.Context, input SaleInput) (Move, error) {
	if input.ItemID == 0 || input.FromLocationID == 0 {
		return Move{}, fmt.Errorf("%w: item and location required", ErrInvalidLocation)
	}
	if !input.Qty.IsPositive() {
		return Move{}, ErrInvalidQuantity
	}
	if !input.PaymentStatus.Valid() {
		return Move{}, ErrInvalidPaymentStatus
	}
	var posted Move
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		from, err := tx.GetLocation(ctx, input.FromLocationID)
		if err != nil {
			return err
		}
		item, err := s.checkAvailable(ctx, tx, input.ItemID, from.ID, input.Qty)
		if err != nil {
			return err
		}
		unitPrice := item.UnitCost
		if from.Kind.Pooled() {
			unitPrice, err = s.accountor.ApplyOutbound(ctx, tx, item.ID, input.Qty)
			if err != nil {
				return err
			}
		}
		posted, err = tx.AppendMove(ctx, Move{
			ItemID:         item.ID,
			FromLocationID: int64Ptr(from.ID),
			Quantity:       input.Qty,
			Type:           MoveTypeSale,
			UnitPrice:      unitPrice,
			PaymentStatus:  input.PaymentStatus,
		})
		return err
	})
	if err != nil {
		return Move{}, WrapStorage("sale", err)
	}
	s.recordAudit(ctx, input.ActorID, posted, nil)
	return posted, nil
}

// UpdatePaymentStatus records settlement on a client-facing move. Paying a
// consignment transfer turns it into a sale. Quantities are never touched.
func (s *Service) UpdatePaymentStatus(ctx context.Context, moveID int64, status PaymentStatus, actorID int64) (Move, error) {
	if moveID == 0 {
		return Move{}, ErrMoveNotFound
	}
	if status == PaymentNone || !status.Valid() {
		return Move{}, ErrInvalidPaymentStatus
	}
	var updated Move
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		move, err := tx.GetMoveForUpdate(ctx, moveID)
		if err != nil {
			return err
		}
		switch move.Type {
		case MoveTypeSale:
		case MoveTypeTransfer:
			if move.ToLocationID == nil {
				return ErrInvalidPaymentStatus
			}
			to, err := tx.GetLocation(ctx, *move.ToLocationID)
			if err != nil {
				return err
			}
			if to.Kind != LocationClient {
				return ErrInvalidPaymentStatus
			}
			if status == PaymentPaid {
				move.Type = MoveTypeSale
			}
		default:
			return ErrInvalidPaymentStatus
		}
		move.PaymentStatus = status
		if err := tx.UpdateMoveSettlement(ctx, move.ID, move.Type, move.PaymentStatus); err != nil {
			return err
		}
		updated = move
		return nil
	})
	if err != nil {
		return Move{}, WrapStorage("payment status", err)
	}
	s.recordAudit(ctx, actorID, updated, map[string]any{"payment_status": string(status)})
	return updated, nil
}

// Balance returns the ledger balance for an item at a location.
func (s *Service) Balance(ctx context.Context, itemID, locationID int64) (decimal.Decimal, error) {
	return s.projector.Balance(ctx, itemID, locationID)
}

// TotalOnHand returns the ledger balance across locations.
func (s *Service) TotalOnHand(ctx context.Context, itemID int64, excludeClient bool) (decimal.Decimal, error) {
	return s.projector.TotalOnHand(ctx, itemID, excludeClient)
}

// ListMoves lists ledger entries.
func (s *Service) ListMoves(ctx context.Context, filter MoveFilter) ([]Move, error) {
	if filter.Limit <= 0 {
		filter.Limit = 200
	}
	return s.repo.ListMoves(ctx, filter)
}

// GetItem loads an item with its current cost pool columns.
func (s *Service) GetItem(ctx context.Context, itemID int64) (Item, error) {
	return s.repo.GetItem(ctx, itemID)
}

func (s *Service) checkAvailable(ctx context.Context, tx TxRepository, itemID, locationID int64, qty decimal.Decimal) (Item, error) {
	item, err := tx.GetItemForUpdate(ctx, itemID)
	if err != nil {
		return Item{}, err
	}
	available, err := tx.LockBalance(ctx, itemID, locationID)
	if err != nil {
		return Item{}, err
	}
	if available.LessThan(qty) {
		return Item{}, &InsufficientStockError{ItemID: item.ID, ItemName: item.Name, Required: qty, Available: available}
	}
	return item, nil
}

func (s *Service) recordAudit(ctx context.Context, actorID int64, move Move, extra map[string]any) {
	if s.audit == nil {
		return
	}
	meta := map[string]any{
		"item_id":    move.ItemID,
		"quantity":   move.Quantity.String(),
		"unit_price": move.UnitPrice.String(),
	}
	if move.FromLocationID != nil {
		meta["from_location_id"] = *move.FromLocationID
	}
	if move.ToLocationID != nil {
		meta["to_location_id"] = *move.ToLocationID
	}
	for k, v := range extra {
		meta[k] = v
	}
	if err := s.audit.Record(ctx, shared.AuditLog{
		ActorID:  actorID,
		Action:   fmt.Sprintf("inventory:%s", move.Type),
		Entity:   "inventory_moves",
		EntityID: fmt.Sprintf("%d", move.ID),
		Meta:     meta,
	}); err != nil {
		s.logger.Warn("audit record", slog.Int64("move_id", move.ID), slog.Any("error", err))
	}
}
