package core

import (
	"context"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
)

// TransferService moves stock between warehouses through
// PENDING → IN_TRANSIT → COMPLETED, or PENDING → CANCELLED.
type TransferService interface {
	// CreateTransfer creates a PENDING transfer after checking that the source
	// warehouse holds enough on-hand quantity for every item.
	CreateTransfer(ctx context.Context, fromWarehouseID, toWarehouseID int, createdBy string, items []TransferItemInput) (*StockTransfer, error)
	// UpdateTransferItems replaces the item set of a PENDING transfer.
	UpdateTransferItems(ctx context.Context, transferID int, items []TransferItemInput) (*StockTransfer, error)
	// MarkInTransit takes the items out of the source's on-hand quantity and
	// books them as incoming at the destination.
	MarkInTransit(ctx context.Context, transferID int) (*StockTransfer, error)
	// ReceiveTransfer records received/rejected counts. Repeatable while IN_TRANSIT.
	ReceiveTransfer(ctx context.Context, transferID int, receipts []ItemReceipt) (*StockTransfer, error)
	// MarkCompleted requires every item to be reconciled, then moves received
	// units into the destination's on-hand quantity.
	MarkCompleted(ctx context.Context, transferID int) (*StockTransfer, error)
	CancelTransfer(ctx context.Context, transferID int) (*StockTransfer, error)
	GetTransfer(ctx context.Context, transferID int) (*StockTransfer, error)
	ListTransfers(ctx context.Context, status TransferStatus) ([]StockTransfer, error)
}

type transferService struct {
	pool   *pgxpool.Pool
	ledger StockLedger
	notifier
}

// NewTransferService constructs a TransferService backed by PostgreSQL.
func NewTransferService(pool *pgxpool.Pool, ledger StockLedger, publisher EventPublisher, logger *zap.Logger) TransferService {
	return &transferService{pool: pool, ledger: ledger, notifier: newNotifier(publisher, logger)}
}

func transferRef(id int) string {
	return fmt.Sprintf("transfer:%d", id)
}

func (s *transferService) CreateTransfer(ctx context.Context, fromWarehouseID, toWarehouseID int, createdBy string, items []TransferItemInput) (*StockTransfer, error) {
	if fromWarehouseID == toWarehouseID {
		return nil, fmt.Errorf("%w: source and destination warehouse must differ (both %d)", ErrInvalidInput, fromWarehouseID)
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	if err := requireExistsTx(ctx, tx, "warehouses", fromWarehouseID, "source warehouse"); err != nil {
		return nil, err
	}
	if err := requireExistsTx(ctx, tx, "warehouses", toWarehouseID, "destination warehouse"); err != nil {
		return nil, err
	}
	if err := validateTransferItemsTx(ctx, tx, fromWarehouseID, items); err != nil {
		return nil, err
	}

	var id int
	err = tx.QueryRow(ctx, `
		INSERT INTO stock_transfers (from_warehouse_id, to_warehouse_id, status, created_by)
		VALUES ($1, $2, $3, $4) RETURNING id
	`, fromWarehouseID, toWarehouseID, TransferPending, strings.TrimSpace(createdBy)).Scan(&id)
	if err != nil {
		return nil, classifyPgError(err, "insert transfer")
	}
	if err := insertTransferItemsTx(ctx, tx, id, items); err != nil {
		return nil, err
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("failed to commit transfer creation: %w", err)
	}

	s.logger.Info("transfer created",
		zap.Int("transfer_id", id),
		zap.Int("from_warehouse_id", fromWarehouseID),
		zap.Int("to_warehouse_id", toWarehouseID),
		zap.Int("items", len(items)),
	)
	return s.GetTransfer(ctx, id)
}

func (s *transferService) UpdateTransferItems(ctx context.Context, transferID int, items []TransferItemInput) (*StockTransfer, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	t, err := lockTransferTx(ctx, tx, transferID)
	if err != nil {
		return nil, err
	}
	if !t.Status.Editable() {
		return nil, fmt.Errorf("%w: transfer %d cannot be edited: status is %s (must be PENDING)",
			ErrInvalidTransition, transferID, t.Status)
	}
	if err := validateTransferItemsTx(ctx, tx, t.FromWarehouseID, items); err != nil {
		return nil, err
	}

	if _, err := tx.Exec(ctx, "DELETE FROM stock_transfer_items WHERE transfer_id = $1", transferID); err != nil {
		return nil, fmt.Errorf("failed to clear transfer %d items: %w", transferID, err)
	}
	if err := insertTransferItemsTx(ctx, tx, transferID, items); err != nil {
		return nil, err
	}
	if _, err := tx.Exec(ctx, "UPDATE stock_transfers SET updated_at = NOW() WHERE id = $1", transferID); err != nil {
		return nil, fmt.Errorf("failed to touch transfer %d: %w", transferID, err)
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("failed to commit transfer update: %w", err)
	}
	return s.GetTransfer(ctx, transferID)
}

// validateTransferItemsTx checks the request shape and that the source
// warehouse has enough on-hand quantity for every item.
func validateTransferItemsTx(ctx context.Context, tx pgx.Tx, fromWarehouseID int, items []TransferItemInput) error {
	if len(items) == 0 {
		return fmt.Errorf("%w: transfer must have at least one item", ErrInvalidInput)
	}
	seen := make(map[int]bool, len(items))
	for i, it := range items {
		if it.Quantity <= 0 {
			return fmt.Errorf("%w: item %d: quantity must be positive, got %d", ErrInvalidInput, i+1, it.Quantity)
		}
		if seen[it.VariantID] {
			return fmt.Errorf("%w: variant %d appears more than once", ErrInvalidInput, it.VariantID)
		}
		seen[it.VariantID] = true

		var onHand int
		err := tx.QueryRow(ctx,
			"SELECT quantity FROM stock_records WHERE warehouse_id = $1 AND variant_id = $2",
			fromWarehouseID, it.VariantID,
		).Scan(&onHand)
		if err != nil && !isNoRows(err) {
			return fmt.Errorf("failed to read source stock for variant %d: %w", it.VariantID, err)
		}
		if onHand < it.Quantity {
			return fmt.Errorf("%w: variant %d: warehouse %d has %d on hand, transfer needs %d",
				ErrInsufficientStock, it.VariantID, fromWarehouseID, onHand, it.Quantity)
		}
	}
	return nil
}

func insertTransferItemsTx(ctx context.Context, tx pgx.Tx, transferID int, items []TransferItemInput) error {
	for _, it := range items {
		_, err := tx.Exec(ctx, `
			INSERT INTO stock_transfer_items (transfer_id, variant_id, quantity)
			VALUES ($1, $2, $3)
		`, transferID, it.VariantID, it.Quantity)
		if err != nil {
			return classifyPgError(err, fmt.Sprintf("insert transfer item for variant %d", it.VariantID))
		}
	}
	return nil
}

// ── Lifecycle ───────────────────────────────────────────────────────────────

func (s *transferService) MarkInTransit(ctx context.Context, transferID int) (*StockTransfer, error) {
	return s.advance(ctx, transferID, TransferInTransit, "transfer.mark_in_transit",
		func(ctx context.Context, tx pgx.Tx, t *StockTransfer) error {
			srcIDs, err := stockIDsByVariantTx(ctx, tx, t.FromWarehouseID, itemVariants(t.Items))
			if err != nil {
				return err
			}
			destIDs := make(map[int]int, len(t.Items))
			all := make([]int, 0, 2*len(t.Items))
			for _, it := range t.Items {
				dest, err := s.ledger.GetOrCreateStockTx(ctx, tx, t.ToWarehouseID, it.VariantID)
				if err != nil {
					return err
				}
				destIDs[it.VariantID] = dest.ID
				all = append(all, srcIDs[it.VariantID], dest.ID)
			}
			if _, err := s.ledger.LockStockTx(ctx, tx, all); err != nil {
				return err
			}

			ref := transferRef(transferID)
			for _, it := range t.Items {
				if _, err := s.ledger.AdjustStockTx(ctx, tx, srcIDs[it.VariantID], StockDelta{Quantity: -it.Quantity}, MovementTransferOut, ref); err != nil {
					return fmt.Errorf("transfer %d: variant %d: %w", transferID, it.VariantID, err)
				}
				if _, err := s.ledger.AdjustStockTx(ctx, tx, destIDs[it.VariantID], StockDelta{Incoming: it.Quantity}, MovementTransferIn, ref); err != nil {
					return err
				}
			}
			return nil
		})
}

func (s *transferService) ReceiveTransfer(ctx context.Context, transferID int, receipts []ItemReceipt) (st *StockTransfer, err error) {
	ctx, span := startSpan(ctx, "transfer.receive", attribute.Int("transfer.id", transferID))
	defer func() { endSpan(span, err) }()

	byID, err := indexReceipts(receipts)
	if err != nil {
		return nil, err
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	t, err := lockTransferTx(ctx, tx, transferID)
	if err != nil {
		return nil, err
	}
	if t.Status != TransferInTransit {
		return nil, fmt.Errorf("%w: transfer %d cannot be received: status is %s (must be IN_TRANSIT)",
			ErrInvalidTransition, transferID, t.Status)
	}

	matched := 0
	for _, it := range t.Items {
		r, ok := byID[it.ID]
		if !ok {
			continue
		}
		matched++
		if err := validateReceipt(it.ID, it.Quantity, it.Received, it.Rejected, r.Received, r.Rejected); err != nil {
			return nil, err
		}
		if _, err := tx.Exec(ctx,
			"UPDATE stock_transfer_items SET received = $1, rejected = $2 WHERE id = $3",
			r.Received, r.Rejected, it.ID,
		); err != nil {
			return nil, classifyPgError(err, fmt.Sprintf("update transfer item %d", it.ID))
		}
	}
	if matched != len(byID) {
		return nil, fmt.Errorf("%w: receipt references items not on transfer %d", ErrNotFound, transferID)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("failed to commit transfer receipt: %w", err)
	}
	s.logger.Info("transfer items received", zap.Int("transfer_id", transferID), zap.Int("items", matched))
	return s.GetTransfer(ctx, transferID)
}

func (s *transferService) MarkCompleted(ctx context.Context, transferID int) (*StockTransfer, error) {
	return s.advance(ctx, transferID, TransferCompleted, "transfer.mark_completed",
		func(ctx context.Context, tx pgx.Tx, t *StockTransfer) error {
			for _, it := range t.Items {
				if !isReconciled(it.Quantity, it.Received, it.Rejected) {
					return fmt.Errorf("%w: transfer %d item %d is not reconciled: received %d + rejected %d != %d",
						ErrInvalidTransition, transferID, it.ID, it.Received, it.Rejected, it.Quantity)
				}
			}
			destIDs, err := lockWarehouseStockTx(ctx, tx, s.ledger, t.ToWarehouseID, itemVariants(t.Items))
			if err != nil {
				return err
			}
			ref := transferRef(transferID)
			for _, it := range t.Items {
				delta := StockDelta{Quantity: it.Received, Incoming: -it.Quantity}
				if _, err := s.ledger.AdjustStockTx(ctx, tx, destIDs[it.VariantID], delta, MovementTransferReceipt, ref); err != nil {
					return err
				}
			}
			return nil
		})
}

func (s *transferService) CancelTransfer(ctx context.Context, transferID int) (*StockTransfer, error) {
	return s.advance(ctx, transferID, TransferCancelled, "transfer.cancel", nil)
}

// advance runs one guarded status transition with its stock effect.
func (s *transferService) advance(ctx context.Context, transferID int, next TransferStatus, spanName string,
	effect func(context.Context, pgx.Tx, *StockTransfer) error) (st *StockTransfer, err error) {
	ctx, span := startSpan(ctx, spanName, attribute.Int("transfer.id", transferID))
	defer func() { endSpan(span, err) }()

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	t, err := lockTransferTx(ctx, tx, transferID)
	if err != nil {
		return nil, err
	}
	if !t.Status.CanTransitionTo(next) {
		return nil, fmt.Errorf("%w: transfer %d cannot move from %s to %s", ErrInvalidTransition, transferID, t.Status, next)
	}
	if effect != nil {
		if err := effect(ctx, tx, t); err != nil {
			return nil, err
		}
	}
	if _, err := tx.Exec(ctx,
		"UPDATE stock_transfers SET status = $1, updated_at = NOW() WHERE id = $2", next, transferID,
	); err != nil {
		return nil, fmt.Errorf("failed to set transfer %d status: %w", transferID, err)
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("failed to commit transfer %d transition to %s: %w", transferID, next, err)
	}

	s.logger.Info("transfer status changed",
		zap.Int("transfer_id", transferID),
		zap.String("from", string(t.Status)),
		zap.String("to", string(next)),
	)
	s.emit(ctx, EventTransferStatusChanged, transferID, string(next))
	return s.GetTransfer(ctx, transferID)
}

// lockWarehouseStockTx locks the existing stock records of the variants in
// one warehouse and returns their ids keyed by variant.
func lockWarehouseStockTx(ctx context.Context, tx pgx.Tx, ledger StockLedger, warehouseID int, variantIDs []int) (map[int]int, error) {
	byVariant, err := stockIDsByVariantTx(ctx, tx, warehouseID, variantIDs)
	if err != nil {
		return nil, err
	}
	ids := make([]int, 0, len(byVariant))
	for _, id := range byVariant {
		ids = append(ids, id)
	}
	if _, err := ledger.LockStockTx(ctx, tx, ids); err != nil {
		return nil, err
	}
	return byVariant, nil
}

func itemVariants(items []TransferItem) []int {
	out := make([]int, 0, len(items))
	for _, it := range items {
		out = append(out, it.VariantID)
	}
	return out
}

// ── Queries ─────────────────────────────────────────────────────────────────

const transferSelect = `
	SELECT id, from_warehouse_id, to_warehouse_id, status, created_by, created_at, updated_at
	FROM stock_transfers`

func scanTransfer(row pgx.Row) (*StockTransfer, error) {
	var t StockTransfer
	if err := row.Scan(&t.ID, &t.FromWarehouseID, &t.ToWarehouseID, &t.Status, &t.CreatedBy, &t.CreatedAt, &t.UpdatedAt); err != nil {
		return nil, err
	}
	return &t, nil
}

// lockTransferTx locks the transfer row and its items.
func lockTransferTx(ctx context.Context, tx pgx.Tx, transferID int) (*StockTransfer, error) {
	t, err := scanTransfer(tx.QueryRow(ctx, transferSelect+" WHERE id = $1 FOR UPDATE", transferID))
	if err != nil {
		return nil, notFoundOr(err, fmt.Sprintf("transfer %d", transferID), fmt.Sprintf("fetch transfer %d", transferID))
	}
	t.Items, err = fetchTransferItemsQ(ctx, tx, transferID, true)
	if err != nil {
		return nil, err
	}
	return t, nil
}

func fetchTransferItemsQ(ctx context.Context, q querier, transferID int, lock bool) ([]TransferItem, error) {
	query := `
		SELECT id, transfer_id, variant_id, quantity, received, rejected
		FROM stock_transfer_items
		WHERE transfer_id = $1
		ORDER BY variant_id, id`
	if lock {
		query += " FOR UPDATE"
	}
	rows, err := q.Query(ctx, query, transferID)
	if err != nil {
		return nil, fmt.Errorf("failed to query transfer items: %w", err)
	}
	defer rows.Close()

	var items []TransferItem
	for rows.Next() {
		var it TransferItem
		if err := rows.Scan(&it.ID, &it.TransferID, &it.VariantID, &it.Quantity, &it.Received, &it.Rejected); err != nil {
			return nil, fmt.Errorf("failed to scan transfer item: %w", err)
		}
		items = append(items, it)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating transfer items: %w", err)
	}
	return items, nil
}

func (s *transferService) GetTransfer(ctx context.Context, transferID int) (*StockTransfer, error) {
	t, err := scanTransfer(s.pool.QueryRow(ctx, transferSelect+" WHERE id = $1", transferID))
	if err != nil {
		return nil, notFoundOr(err, fmt.Sprintf("transfer %d", transferID), fmt.Sprintf("fetch transfer %d", transferID))
	}
	t.Items, err = fetchTransferItemsQ(ctx, s.pool, transferID, false)
	if err != nil {
		return nil, err
	}
	return t, nil
}

func (s *transferService) ListTransfers(ctx context.Context, status TransferStatus) ([]StockTransfer, error) {
	query := transferSelect
	var args []any
	if status != "" {
		query += " WHERE status = $1"
		args = append(args, status)
	}
	query += " ORDER BY id DESC"

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query transfers: %w", err)
	}
	defer rows.Close()

	var out []StockTransfer
	for rows.Next() {
		t, err := scanTransfer(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan transfer: %w", err)
		}
		out = append(out, *t)
	}
	return out, rows.Err()
}
