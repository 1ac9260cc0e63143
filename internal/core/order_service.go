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

// OrderService drives the order fulfillment state machine. Transitions that
// affect stock call into the ReservationEngine inside the same transaction.
type OrderService interface {
	// CreateOrder creates a PENDING order. Each line copies the variant's
	// track_inventory flag at creation time.
	CreateOrder(ctx context.Context, createdBy string, lines []OrderLineInput) (*Order, error)
	GetOrder(ctx context.Context, orderID int) (*Order, error)
	// ListOrders returns orders, optionally filtered by status. An empty
	// status returns all orders.
	ListOrders(ctx context.Context, status OrderStatus) ([]Order, error)

	ApproveOrder(ctx context.Context, orderID int) (*Order, error)
	// PackOrder moves APPROVED → PACKED and deducts reserved stock.
	PackOrder(ctx context.Context, orderID int) (*Order, error)
	ShipOrder(ctx context.Context, orderID int) (*Order, error)
	DeliverOrder(ctx context.Context, orderID int) (*Order, error)
	// CancelOrder moves PENDING|APPROVED → CANCELLED and releases any reservation.
	CancelOrder(ctx context.Context, orderID int) (*Order, error)
	RequestReturn(ctx context.Context, orderID int) (*Order, error)
	MarkReturned(ctx context.Context, orderID int) (*Order, error)
	// ForceFulfill dispatches stock if needed and jumps straight to DELIVERED.
	ForceFulfill(ctx context.Context, orderID int) (*Order, error)
}

type orderService struct {
	pool   *pgxpool.Pool
	engine ReservationEngine
	notifier
}

// NewOrderService constructs an OrderService backed by PostgreSQL.
func NewOrderService(pool *pgxpool.Pool, engine ReservationEngine, publisher EventPublisher, logger *zap.Logger) OrderService {
	return &orderService{pool: pool, engine: engine, notifier: newNotifier(publisher, logger)}
}

func (s *orderService) CreateOrder(ctx context.Context, createdBy string, lines []OrderLineInput) (*Order, error) {
	if len(lines) == 0 {
		return nil, fmt.Errorf("%w: order must have at least one line", ErrInvalidInput)
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	var orderID int
	err = tx.QueryRow(ctx,
		"INSERT INTO orders (status, created_by) VALUES ($1, $2) RETURNING id",
		OrderPending, strings.TrimSpace(createdBy),
	).Scan(&orderID)
	if err != nil {
		return nil, fmt.Errorf("failed to insert order: %w", err)
	}

	for i, in := range lines {
		if in.Quantity <= 0 {
			return nil, fmt.Errorf("%w: line %d: quantity must be positive, got %d", ErrInvalidInput, i+1, in.Quantity)
		}
		var track bool
		err := tx.QueryRow(ctx, "SELECT track_inventory FROM variants WHERE id = $1", in.VariantID).Scan(&track)
		if err != nil {
			return nil, notFoundOr(err, fmt.Sprintf("line %d: variant %d", i+1, in.VariantID), "resolve variant")
		}
		_, err = tx.Exec(ctx, `
			INSERT INTO order_lines (order_id, variant_id, quantity, track_inventory)
			VALUES ($1, $2, $3, $4)
		`, orderID, in.VariantID, in.Quantity, track)
		if err != nil {
			return nil, fmt.Errorf("failed to insert order line %d: %w", i+1, err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("failed to commit order creation: %w", err)
	}
	return s.GetOrder(ctx, orderID)
}

// ── Transitions ─────────────────────────────────────────────────────────────

func (s *orderService) ApproveOrder(ctx context.Context, orderID int) (*Order, error) {
	return s.transition(ctx, orderID, OrderApproved, nil)
}

func (s *orderService) PackOrder(ctx context.Context, orderID int) (*Order, error) {
	return s.transition(ctx, orderID, OrderPacked, func(ctx context.Context, tx pgx.Tx) (ReservationStatus, error) {
		status, err := s.engine.DeductOnDispatchTx(ctx, tx, orderID)
		if err != nil || status != ReservationDispatched {
			return "", err
		}
		return status, nil
	})
}

func (s *orderService) ShipOrder(ctx context.Context, orderID int) (*Order, error) {
	return s.transition(ctx, orderID, OrderShipped, nil)
}

func (s *orderService) DeliverOrder(ctx context.Context, orderID int) (*Order, error) {
	return s.transition(ctx, orderID, OrderDelivered, nil)
}

func (s *orderService) CancelOrder(ctx context.Context, orderID int) (*Order, error) {
	return s.transition(ctx, orderID, OrderCancelled, func(ctx context.Context, tx pgx.Tx) (ReservationStatus, error) {
		_, current, err := lockOrderTx(ctx, tx, orderID)
		if err != nil {
			return "", err
		}
		// Only a RESERVED order holds stock; the other statuses have nothing to release.
		if current != ReservationReserved {
			return "", nil
		}
		return s.engine.ReleaseTx(ctx, tx, orderID)
	})
}

func (s *orderService) RequestReturn(ctx context.Context, orderID int) (*Order, error) {
	return s.transition(ctx, orderID, OrderPendingReturn, nil)
}

func (s *orderService) MarkReturned(ctx context.Context, orderID int) (*Order, error) {
	return s.transition(ctx, orderID, OrderReturned, nil)
}

// transition locks the order, checks the state table, runs the optional
// side effect and writes the new status, all in one transaction. effect
// returns the reservation status it moved the order to, or "" when the
// reservation was left alone.
func (s *orderService) transition(ctx context.Context, orderID int, next OrderStatus,
	effect func(context.Context, pgx.Tx) (ReservationStatus, error)) (order *Order, err error) {
	ctx, span := startSpan(ctx, "order.transition",
		attribute.Int("order.id", orderID),
		attribute.String("order.next_status", string(next)),
	)
	defer func() { endSpan(span, err) }()

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	current, _, err := lockOrderTx(ctx, tx, orderID)
	if err != nil {
		return nil, err
	}
	if !current.CanTransitionTo(next) {
		return nil, fmt.Errorf("%w: order %d cannot move from %s to %s", ErrInvalidTransition, orderID, current, next)
	}

	var reservation ReservationStatus
	if effect != nil {
		if reservation, err = effect(ctx, tx); err != nil {
			return nil, err
		}
	}

	if err := setOrderStatusTx(ctx, tx, orderID, next); err != nil {
		return nil, err
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("failed to commit order %d transition to %s: %w", orderID, next, err)
	}

	s.logger.Info("order status changed",
		zap.Int("order_id", orderID),
		zap.String("from", string(current)),
		zap.String("to", string(next)),
	)
	s.emit(ctx, EventOrderStatusChanged, orderID, string(next))
	if reservation != "" {
		s.emit(ctx, EventReservationStatusChanged, orderID, string(reservation))
	}
	return s.GetOrder(ctx, orderID)
}

func (s *orderService) ForceFulfill(ctx context.Context, orderID int) (order *Order, err error) {
	ctx, span := startSpan(ctx, "order.force_fulfill", attribute.Int("order.id", orderID))
	defer func() { endSpan(span, err) }()

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	current, reservation, err := lockOrderTx(ctx, tx, orderID)
	if err != nil {
		return nil, err
	}
	if !current.CanForceFulfill() {
		return nil, fmt.Errorf("%w: order %d cannot be force-fulfilled from %s", ErrInvalidTransition, orderID, current)
	}
	var dispatched bool
	if reservation != ReservationDispatched {
		status, err := s.engine.DeductOnDispatchTx(ctx, tx, orderID)
		if err != nil {
			return nil, err
		}
		dispatched = status == ReservationDispatched
	}
	if err := setOrderStatusTx(ctx, tx, orderID, OrderDelivered); err != nil {
		return nil, err
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("failed to commit force fulfillment of order %d: %w", orderID, err)
	}

	s.logger.Info("order force-fulfilled",
		zap.Int("order_id", orderID),
		zap.String("from", string(current)),
	)
	s.emit(ctx, EventOrderStatusChanged, orderID, string(OrderDelivered))
	if dispatched {
		s.emit(ctx, EventReservationStatusChanged, orderID, string(ReservationDispatched))
	}
	return s.GetOrder(ctx, orderID)
}

func setOrderStatusTx(ctx context.Context, tx pgx.Tx, orderID int, status OrderStatus) error {
	if _, err := tx.Exec(ctx, "UPDATE orders SET status = $1, updated_at = NOW() WHERE id = $2", status, orderID); err != nil {
		return fmt.Errorf("failed to set order %d status to %s: %w", orderID, status, err)
	}
	return nil
}

// ── Queries ─────────────────────────────────────────────────────────────────

const orderSelect = `
	SELECT id, status, COALESCE(reservation_status, ''), created_by, created_at, updated_at
	FROM orders`

func (s *orderService) GetOrder(ctx context.Context, orderID int) (*Order, error) {
	var o Order
	err := s.pool.QueryRow(ctx, orderSelect+" WHERE id = $1", orderID).Scan(
		&o.ID, &o.Status, &o.ReservationStatus, &o.CreatedBy, &o.CreatedAt, &o.UpdatedAt,
	)
	if err != nil {
		return nil, notFoundOr(err, fmt.Sprintf("order %d", orderID), fmt.Sprintf("fetch order %d", orderID))
	}

	lines, err := fetchOrderLinesQ(ctx, s.pool, orderID)
	if err != nil {
		return nil, err
	}
	o.Lines = lines
	return &o, nil
}

func (s *orderService) ListOrders(ctx context.Context, status OrderStatus) ([]Order, error) {
	query := orderSelect
	var args []any
	if status != "" {
		query += " WHERE status = $1"
		args = append(args, status)
	}
	query += " ORDER BY id DESC"

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query orders: %w", err)
	}
	defer rows.Close()

	var orders []Order
	for rows.Next() {
		var o Order
		if err := rows.Scan(&o.ID, &o.Status, &o.ReservationStatus, &o.CreatedBy, &o.CreatedAt, &o.UpdatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan order: %w", err)
		}
		orders = append(orders, o)
	}
	return orders, rows.Err()
}

func fetchOrderLinesQ(ctx context.Context, q querier, orderID int) ([]OrderLine, error) {
	rows, err := q.Query(ctx, `
		SELECT ol.id, ol.order_id, ol.variant_id, v.sku, ol.quantity, ol.track_inventory
		FROM order_lines ol
		JOIN variants v ON v.id = ol.variant_id
		WHERE ol.order_id = $1
		ORDER BY ol.id
	`, orderID)
	if err != nil {
		return nil, fmt.Errorf("failed to query order lines: %w", err)
	}
	defer rows.Close()

	var lines []OrderLine
	for rows.Next() {
		var l OrderLine
		if err := rows.Scan(&l.ID, &l.OrderID, &l.VariantID, &l.SKU, &l.Quantity, &l.TrackInventory); err != nil {
			return nil, fmt.Errorf("failed to scan order line: %w", err)
		}
		lines = append(lines, l)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating order lines: %w", err)
	}
	return lines, nil
}
