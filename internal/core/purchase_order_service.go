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

// PurchaseOrderService brings supplier stock into a warehouse through
// DRAFT → PENDING → RECEIVED_AND_CLOSED, or DRAFT → CANCELLED.
type PurchaseOrderService interface {
	// CreatePurchaseOrder creates a DRAFT purchase order. TotalCost is the sum
	// of ordered quantity times unit cost.
	CreatePurchaseOrder(ctx context.Context, supplier string, warehouseID int, createdBy string, items []PurchaseItemInput) (*PurchaseOrder, error)
	// UpdatePurchaseOrder rewrites a DRAFT order. Items are diffed by ID:
	// existing items missing from the payload are deleted, known IDs are
	// updated and ID 0 creates a new item.
	UpdatePurchaseOrder(ctx context.Context, poID int, supplier string, items []PurchaseItemInput) (*PurchaseOrder, error)
	// MarkAsOrdered books every item's ordered quantity as incoming at the
	// destination warehouse and moves the order to PENDING.
	MarkAsOrdered(ctx context.Context, poID int) (*PurchaseOrder, error)
	// ReceivePurchaseOrder records received/rejected counts. Repeatable while PENDING.
	ReceivePurchaseOrder(ctx context.Context, poID int, receipts []ItemReceipt) (*PurchaseOrder, error)
	// MarkAsReceived requires every item to be reconciled, then converts
	// incoming into on-hand quantity and closes the order.
	MarkAsReceived(ctx context.Context, poID int) (*PurchaseOrder, error)
	// CancelPurchaseOrder is only permitted from DRAFT.
	CancelPurchaseOrder(ctx context.Context, poID int) (*PurchaseOrder, error)
	GetPurchaseOrder(ctx context.Context, poID int) (*PurchaseOrder, error)
	ListPurchaseOrders(ctx context.Context, status PurchaseOrderStatus) ([]PurchaseOrder, error)
}

type purchaseOrderService struct {
	pool   *pgxpool.Pool
	ledger StockLedger
	notifier
}

// NewPurchaseOrderService constructs a PurchaseOrderService backed by PostgreSQL.
func NewPurchaseOrderService(pool *pgxpool.Pool, ledger StockLedger, publisher EventPublisher, logger *zap.Logger) PurchaseOrderService {
	return &purchaseOrderService{pool: pool, ledger: ledger, notifier: newNotifier(publisher, logger)}
}

func purchaseRef(id int) string {
	return fmt.Sprintf("purchase_order:%d", id)
}

func validatePurchaseItems(items []PurchaseItemInput) error {
	if len(items) == 0 {
		return fmt.Errorf("%w: purchase order must have at least one item", ErrInvalidInput)
	}
	for i, it := range items {
		if it.Ordered <= 0 {
			return fmt.Errorf("%w: item %d: ordered quantity must be positive, got %d", ErrInvalidInput, i+1, it.Ordered)
		}
		if it.UnitCost.IsNegative() {
			return fmt.Errorf("%w: item %d: unit cost cannot be negative", ErrInvalidInput, i+1)
		}
	}
	return nil
}

func (s *purchaseOrderService) CreatePurchaseOrder(ctx context.Context, supplier string, warehouseID int, createdBy string, items []PurchaseItemInput) (*PurchaseOrder, error) {
	supplier = strings.TrimSpace(supplier)
	if supplier == "" {
		return nil, fmt.Errorf("%w: supplier is required", ErrInvalidInput)
	}
	if err := validatePurchaseItems(items); err != nil {
		return nil, err
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	if err := requireExistsTx(ctx, tx, "warehouses", warehouseID, "warehouse"); err != nil {
		return nil, err
	}

	var poID int
	err = tx.QueryRow(ctx, `
		INSERT INTO purchase_orders (supplier, warehouse_id, status, created_by, total_cost)
		VALUES ($1, $2, $3, $4, $5) RETURNING id
	`, supplier, warehouseID, PurchaseDraft, strings.TrimSpace(createdBy), totalCost(items)).Scan(&poID)
	if err != nil {
		return nil, classifyPgError(err, "insert purchase order")
	}
	for i, it := range items {
		if err := insertPurchaseItemTx(ctx, tx, poID, it); err != nil {
			return nil, fmt.Errorf("item %d: %w", i+1, err)
		}
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("failed to commit purchase order: %w", err)
	}

	s.logger.Info("purchase order created",
		zap.Int("purchase_order_id", poID),
		zap.String("supplier", supplier),
		zap.Int("warehouse_id", warehouseID),
	)
	return s.GetPurchaseOrder(ctx, poID)
}

func insertPurchaseItemTx(ctx context.Context, tx pgx.Tx, poID int, it PurchaseItemInput) error {
	_, err := tx.Exec(ctx, `
		INSERT INTO purchase_order_items (purchase_order_id, variant_id, ordered, unit_cost)
		VALUES ($1, $2, $3, $4)
	`, poID, it.VariantID, it.Ordered, it.UnitCost)
	if err != nil {
		return classifyPgError(err, fmt.Sprintf("insert purchase item for variant %d", it.VariantID))
	}
	return nil
}

func (s *purchaseOrderService) UpdatePurchaseOrder(ctx context.Context, poID int, supplier string, items []PurchaseItemInput) (*PurchaseOrder, error) {
	if err := validatePurchaseItems(items); err != nil {
		return nil, err
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	po, err := lockPurchaseOrderTx(ctx, tx, poID)
	if err != nil {
		return nil, err
	}
	if po.Status != PurchaseDraft {
		return nil, fmt.Errorf("%w: purchase order %d cannot be edited: status is %s (must be DRAFT)",
			ErrInvalidTransition, poID, po.Status)
	}

	existing := make(map[int]bool, len(po.Items))
	for _, it := range po.Items {
		existing[it.ID] = true
	}
	kept := make(map[int]bool, len(items))
	for i, it := range items {
		if it.ID == 0 {
			if err := insertPurchaseItemTx(ctx, tx, poID, it); err != nil {
				return nil, fmt.Errorf("item %d: %w", i+1, err)
			}
			continue
		}
		if !existing[it.ID] {
			return nil, fmt.Errorf("%w: item %d is not on purchase order %d", ErrNotFound, it.ID, poID)
		}
		if kept[it.ID] {
			return nil, fmt.Errorf("%w: item %d appears more than once", ErrInvalidInput, it.ID)
		}
		kept[it.ID] = true
		if _, err := tx.Exec(ctx, `
			UPDATE purchase_order_items SET variant_id = $1, ordered = $2, unit_cost = $3
			WHERE id = $4
		`, it.VariantID, it.Ordered, it.UnitCost, it.ID); err != nil {
			return nil, classifyPgError(err, fmt.Sprintf("update purchase item %d", it.ID))
		}
	}
	for id := range existing {
		if kept[id] {
			continue
		}
		if _, err := tx.Exec(ctx, "DELETE FROM purchase_order_items WHERE id = $1", id); err != nil {
			return nil, fmt.Errorf("failed to delete purchase item %d: %w", id, err)
		}
	}

	if supplier = strings.TrimSpace(supplier); supplier == "" {
		supplier = po.Supplier
	}
	if _, err := tx.Exec(ctx, `
		UPDATE purchase_orders SET supplier = $1, total_cost = $2, updated_at = NOW()
		WHERE id = $3
	`, supplier, totalCost(items), poID); err != nil {
		return nil, fmt.Errorf("failed to update purchase order %d: %w", poID, err)
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("failed to commit purchase order update: %w", err)
	}
	return s.GetPurchaseOrder(ctx, poID)
}

// ── Lifecycle ───────────────────────────────────────────────────────────────

func (s *purchaseOrderService) MarkAsOrdered(ctx context.Context, poID int) (*PurchaseOrder, error) {
	return s.advance(ctx, poID, PurchasePending, "purchase_order.mark_as_ordered",
		func(ctx context.Context, tx pgx.Tx, po *PurchaseOrder) error {
			stockIDs := make([]int, len(po.Items))
			for i, it := range po.Items {
				rec, err := s.ledger.GetOrCreateStockTx(ctx, tx, po.WarehouseID, it.VariantID)
				if err != nil {
					return err
				}
				stockIDs[i] = rec.ID
			}
			if _, err := s.ledger.LockStockTx(ctx, tx, stockIDs); err != nil {
				return err
			}
			for i, it := range po.Items {
				if _, err := s.ledger.AdjustStockTx(ctx, tx, stockIDs[i], StockDelta{Incoming: it.Ordered},
					MovementPurchaseOrdered, purchaseRef(po.ID)); err != nil {
					return err
				}
			}
			return nil
		})
}

func (s *purchaseOrderService) ReceivePurchaseOrder(ctx context.Context, poID int, receipts []ItemReceipt) (po *PurchaseOrder, err error) {
	ctx, span := startSpan(ctx, "purchase_order.receive", attribute.Int("purchase_order.id", poID))
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

	current, err := lockPurchaseOrderTx(ctx, tx, poID)
	if err != nil {
		return nil, err
	}
	if current.Status != PurchasePending {
		return nil, fmt.Errorf("%w: purchase order %d cannot be received: status is %s (must be PENDING)",
			ErrInvalidTransition, poID, current.Status)
	}

	matched := 0
	for _, it := range current.Items {
		r, ok := byID[it.ID]
		if !ok {
			continue
		}
		matched++
		if err := validateReceipt(it.ID, it.Ordered, it.Received, it.Rejected, r.Received, r.Rejected); err != nil {
			return nil, err
		}
		if _, err := tx.Exec(ctx,
			"UPDATE purchase_order_items SET received = $1, rejected = $2 WHERE id = $3",
			r.Received, r.Rejected, it.ID,
		); err != nil {
			return nil, classifyPgError(err, fmt.Sprintf("update purchase item %d", it.ID))
		}
	}
	if matched != len(byID) {
		return nil, fmt.Errorf("%w: receipt references items not on purchase order %d", ErrNotFound, poID)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("failed to commit purchase receipt: %w", err)
	}
	s.logger.Info("purchase items received", zap.Int("purchase_order_id", poID), zap.Int("items", matched))
	return s.GetPurchaseOrder(ctx, poID)
}

func (s *purchaseOrderService) MarkAsReceived(ctx context.Context, poID int) (*PurchaseOrder, error) {
	return s.advance(ctx, poID, PurchaseReceivedAndClosed, "purchase_order.mark_as_received",
		func(ctx context.Context, tx pgx.Tx, po *PurchaseOrder) error {
			for _, it := range po.Items {
				if !isReconciled(it.Ordered, it.Received, it.Rejected) {
					return fmt.Errorf("%w: purchase order %d item %d is not reconciled: received %d + rejected %d != %d",
						ErrInvalidTransition, poID, it.ID, it.Received, it.Rejected, it.Ordered)
				}
			}
			variants := make([]int, 0, len(po.Items))
			for _, it := range po.Items {
				variants = append(variants, it.VariantID)
			}
			stockIDs, err := lockWarehouseStockTx(ctx, tx, s.ledger, po.WarehouseID, variants)
			if err != nil {
				return err
			}
			for _, it := range po.Items {
				delta := StockDelta{Quantity: it.Received, Incoming: -it.Ordered}
				if _, err := s.ledger.AdjustStockTx(ctx, tx, stockIDs[it.VariantID], delta, MovementPurchaseReceipt, purchaseRef(poID)); err != nil {
					return err
				}
			}
			return nil
		})
}

func (s *purchaseOrderService) CancelPurchaseOrder(ctx context.Context, poID int) (*PurchaseOrder, error) {
	return s.advance(ctx, poID, PurchaseCancelled, "purchase_order.cancel", nil)
}

func (s *purchaseOrderService) advance(ctx context.Context, poID int, next PurchaseOrderStatus, spanName string,
	effect func(context.Context, pgx.Tx, *PurchaseOrder) error) (po *PurchaseOrder, err error) {
	ctx, span := startSpan(ctx, spanName, attribute.Int("purchase_order.id", poID))
	defer func() { endSpan(span, err) }()

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	current, err := lockPurchaseOrderTx(ctx, tx, poID)
	if err != nil {
		return nil, err
	}
	if !current.Status.CanTransitionTo(next) {
		return nil, fmt.Errorf("%w: purchase order %d cannot move from %s to %s",
			ErrInvalidTransition, poID, current.Status, next)
	}
	if effect != nil {
		if err := effect(ctx, tx, current); err != nil {
			return nil, err
		}
	}
	if _, err := tx.Exec(ctx,
		"UPDATE purchase_orders SET status = $1, updated_at = NOW() WHERE id = $2", next, poID,
	); err != nil {
		return nil, fmt.Errorf("failed to set purchase order %d status: %w", poID, err)
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("failed to commit purchase order %d transition to %s: %w", poID, next, err)
	}

	s.logger.Info("purchase order status changed",
		zap.Int("purchase_order_id", poID),
		zap.String("from", string(current.Status)),
		zap.String("to", string(next)),
	)
	s.emit(ctx, EventPurchaseOrderStatusChanged, poID, string(next))
	return s.GetPurchaseOrder(ctx, poID)
}

// ── Queries ─────────────────────────────────────────────────────────────────

const purchaseOrderSelect = `
	SELECT id, supplier, warehouse_id, status, created_by, total_cost, created_at, updated_at
	FROM purchase_orders`

func scanPurchaseOrder(row pgx.Row) (*PurchaseOrder, error) {
	var po PurchaseOrder
	if err := row.Scan(&po.ID, &po.Supplier, &po.WarehouseID, &po.Status, &po.CreatedBy,
		&po.TotalCost, &po.CreatedAt, &po.UpdatedAt); err != nil {
		return nil, err
	}
	return &po, nil
}

func lockPurchaseOrderTx(ctx context.Context, tx pgx.Tx, poID int) (*PurchaseOrder, error) {
	po, err := scanPurchaseOrder(tx.QueryRow(ctx, purchaseOrderSelect+" WHERE id = $1 FOR UPDATE", poID))
	if err != nil {
		return nil, notFoundOr(err, fmt.Sprintf("purchase order %d", poID), fmt.Sprintf("fetch purchase order %d", poID))
	}
	po.Items, err = fetchPurchaseItemsQ(ctx, tx, poID, true)
	if err != nil {
		return nil, err
	}
	return po, nil
}

func fetchPurchaseItemsQ(ctx context.Context, q querier, poID int, lock bool) ([]PurchaseItem, error) {
	query := `
		SELECT id, purchase_order_id, variant_id, ordered, received, rejected, unit_cost
		FROM purchase_order_items
		WHERE purchase_order_id = $1
		ORDER BY variant_id, id`
	if lock {
		query += " FOR UPDATE"
	}
	rows, err := q.Query(ctx, query, poID)
	if err != nil {
		return nil, fmt.Errorf("failed to query purchase items: %w", err)
	}
	defer rows.Close()

	var items []PurchaseItem
	for rows.Next() {
		var it PurchaseItem
		if err := rows.Scan(&it.ID, &it.PurchaseOrderID, &it.VariantID, &it.Ordered,
			&it.Received, &it.Rejected, &it.UnitCost); err != nil {
			return nil, fmt.Errorf("failed to scan purchase item: %w", err)
		}
		items = append(items, it)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating purchase items: %w", err)
	}
	return items, nil
}

func (s *purchaseOrderService) GetPurchaseOrder(ctx context.Context, poID int) (*PurchaseOrder, error) {
	po, err := scanPurchaseOrder(s.pool.QueryRow(ctx, purchaseOrderSelect+" WHERE id = $1", poID))
	if err != nil {
		return nil, notFoundOr(err, fmt.Sprintf("purchase order %d", poID), fmt.Sprintf("fetch purchase order %d", poID))
	}
	po.Items, err = fetchPurchaseItemsQ(ctx, s.pool, poID, false)
	if err != nil {
		return nil, err
	}
	return po, nil
}

func (s *purchaseOrderService) ListPurchaseOrders(ctx context.Context, status PurchaseOrderStatus) ([]PurchaseOrder, error) {
	query := purchaseOrderSelect
	var args []any
	if status != "" {
		query += " WHERE status = $1"
		args = append(args, status)
	}
	query += " ORDER BY id DESC"

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query purchase orders: %w", err)
	}
	defer rows.Close()

	var out []PurchaseOrder
	for rows.Next() {
		po, err := scanPurchaseOrder(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan purchase order: %w", err)
		}
		out = append(out, *po)
	}
	return out, rows.Err()
}
