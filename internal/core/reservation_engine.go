package core

import (
	"context"
	"errors"
	"fmt"
	"slices"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
)

// ReservationEngine commits, releases and consumes stock on behalf of orders.
// It is the only writer of orders.reservation_status.
type ReservationEngine interface {
	// Reserve commits stock for every inventory-tracked line of the order.
	// All lines are covered or none are: on shortfall the attempt is rolled
	// back, the order is marked FAILED and an ErrInsufficientStock error
	// naming the variant is returned together with ReservationFailed.
	Reserve(ctx context.Context, orderID int) (ReservationStatus, error)
	// RetryReservation re-runs Reserve for an order in FAILED.
	RetryReservation(ctx context.Context, orderID int) (ReservationStatus, error)
	// Release un-commits a RESERVED order's stock. On-hand quantity is untouched.
	Release(ctx context.Context, orderID int) (ReservationStatus, error)
	// DeductOnDispatch converts the order's reservations into consumed stock.
	DeductOnDispatch(ctx context.Context, orderID int) (ReservationStatus, error)
	// TransferReservation moves one reservation to the same variant's stock
	// record in another warehouse.
	TransferReservation(ctx context.Context, reservationID, warehouseID int) (*Reservation, error)
	ListReservations(ctx context.Context, orderID int) ([]Reservation, error)

	// TX-scoped operations used by OrderService to stay atomic with order
	// status transitions.
	ReleaseTx(ctx context.Context, tx pgx.Tx, orderID int) (ReservationStatus, error)
	DeductOnDispatchTx(ctx context.Context, tx pgx.Tx, orderID int) (ReservationStatus, error)
}

type reservationEngine struct {
	pool     *pgxpool.Pool
	ledger   StockLedger
	strategy AllocationStrategy
	notifier
}

// NewReservationEngine constructs a ReservationEngine. A nil strategy selects
// AscendingQuantity.
func NewReservationEngine(pool *pgxpool.Pool, ledger StockLedger, strategy AllocationStrategy,
	publisher EventPublisher, logger *zap.Logger) ReservationEngine {
	if strategy == nil {
		strategy = AscendingQuantity{}
	}
	return &reservationEngine{
		pool:     pool,
		ledger:   ledger,
		strategy: strategy,
		notifier: newNotifier(publisher, logger),
	}
}

func orderRef(orderID int) string {
	return fmt.Sprintf("order:%d", orderID)
}

// lockOrderTx locks the order row and returns its current statuses.
func lockOrderTx(ctx context.Context, tx pgx.Tx, orderID int) (OrderStatus, ReservationStatus, error) {
	var status OrderStatus
	var reservation ReservationStatus
	err := tx.QueryRow(ctx,
		"SELECT status, COALESCE(reservation_status, '') FROM orders WHERE id = $1 FOR UPDATE",
		orderID,
	).Scan(&status, &reservation)
	if err != nil {
		return "", "", notFoundOr(err, fmt.Sprintf("order %d", orderID), fmt.Sprintf("fetch order %d", orderID))
	}
	return status, reservation, nil
}

func setReservationStatusTx(ctx context.Context, tx pgx.Tx, orderID int, status ReservationStatus) error {
	_, err := tx.Exec(ctx,
		"UPDATE orders SET reservation_status = $1, updated_at = NOW() WHERE id = $2",
		status, orderID,
	)
	if err != nil {
		return fmt.Errorf("failed to set reservation status of order %d to %s: %w", orderID, status, err)
	}
	return nil
}

// ── Reserve ─────────────────────────────────────────────────────────────────

func (e *reservationEngine) Reserve(ctx context.Context, orderID int) (status ReservationStatus, err error) {
	ctx, span := startSpan(ctx, "reservation.reserve", attribute.Int("order.id", orderID))
	defer func() {
		span.SetAttributes(attribute.String("reservation.status", string(status)))
		endSpan(span, err)
	}()
	return e.reserve(ctx, orderID, false)
}

func (e *reservationEngine) RetryReservation(ctx context.Context, orderID int) (status ReservationStatus, err error) {
	ctx, span := startSpan(ctx, "reservation.retry", attribute.Int("order.id", orderID))
	defer func() {
		span.SetAttributes(attribute.String("reservation.status", string(status)))
		endSpan(span, err)
	}()
	return e.reserve(ctx, orderID, true)
}

func (e *reservationEngine) reserve(ctx context.Context, orderID int, retry bool) (ReservationStatus, error) {
	tx, err := e.pool.Begin(ctx)
	if err != nil {
		return "", fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	orderStatus, current, err := lockOrderTx(ctx, tx, orderID)
	if err != nil {
		return "", err
	}
	if retry && current != ReservationFailed {
		return current, fmt.Errorf("%w: order %d cannot retry reservation: reservation status is %s (must be FAILED)",
			ErrInvalidTransition, orderID, displayReservation(current))
	}
	if !orderStatus.AcceptsReservation() {
		return current, fmt.Errorf("%w: order %d cannot be reserved: status is %s",
			ErrInvalidTransition, orderID, orderStatus)
	}
	if !current.CanTransitionTo(ReservationReserved) {
		return current, fmt.Errorf("%w: order %d cannot be reserved: reservation status is %s",
			ErrInvalidTransition, orderID, displayReservation(current))
	}

	lines, err := fetchOrderLinesQ(ctx, tx, orderID)
	if err != nil {
		return "", err
	}

	var tracked []OrderLine
	for _, l := range lines {
		if l.TrackInventory {
			tracked = append(tracked, l)
		}
	}

	if len(tracked) == 0 {
		if !current.CanTransitionTo(ReservationNotRequired) {
			return current, fmt.Errorf("%w: order %d has no inventory-tracked lines but reservation status is %s",
				ErrInvalidTransition, orderID, displayReservation(current))
		}
		if err := setReservationStatusTx(ctx, tx, orderID, ReservationNotRequired); err != nil {
			return "", err
		}
		if err := tx.Commit(ctx); err != nil {
			return "", fmt.Errorf("failed to commit reservation: %w", err)
		}
		e.emit(ctx, EventReservationStatusChanged, orderID, string(ReservationNotRequired))
		return ReservationNotRequired, nil
	}

	slices.SortStableFunc(tracked, func(a, b OrderLine) int {
		if a.VariantID != b.VariantID {
			return a.VariantID - b.VariantID
		}
		return a.ID - b.ID
	})
	variantIDs := make([]int, 0, len(tracked))
	for _, l := range tracked {
		variantIDs = append(variantIDs, l.VariantID)
	}
	variantIDs = slices.Compact(variantIDs)

	// Every candidate record is locked here, in id order, before any is changed.
	locked, err := e.ledger.LockVariantStockTx(ctx, tx, variantIDs)
	if err != nil {
		return "", err
	}
	stockIDs := make(map[int][]int, len(variantIDs))
	for _, rec := range locked {
		stockIDs[rec.VariantID] = append(stockIDs[rec.VariantID], rec.ID)
	}

	touched := make(map[int]struct{})
	var shortfall error
	for _, line := range tracked {
		// Re-read so a second line of the same variant sees the first's allocations.
		var candidates []StockRecord
		if ids := stockIDs[line.VariantID]; len(ids) > 0 {
			if candidates, err = e.ledger.LockStockTx(ctx, tx, ids); err != nil {
				return "", err
			}
		}
		allocations, residual := allocate(e.strategy.Rank(candidates), line.Quantity)
		if residual > 0 {
			shortfall = fmt.Errorf("%w: variant %d (%s): required %d, available %d",
				ErrInsufficientStock, line.VariantID, line.SKU, line.Quantity, line.Quantity-residual)
			break
		}
		for _, a := range allocations {
			if _, err := e.ledger.AdjustStockTx(ctx, tx, a.StockRecordID,
				StockDelta{Reserved: a.Quantity}, MovementReservation, orderRef(orderID)); err != nil {
				return "", err
			}
			if _, err := tx.Exec(ctx, `
				INSERT INTO reservations (stock_record_id, order_line_id, quantity, purpose)
				VALUES ($1, $2, $3, $4)
			`, a.StockRecordID, line.ID, a.Quantity, DefaultReservationPurpose); err != nil {
				return "", classifyPgError(err, fmt.Sprintf("create reservation for order line %d", line.ID))
			}
			touched[a.StockRecordID] = struct{}{}
		}
	}

	if shortfall != nil {
		// Discard every allocation of this attempt, then record FAILED
		// outside the rolled-back transaction.
		if err := tx.Rollback(ctx); err != nil {
			return "", fmt.Errorf("failed to roll back reservation attempt: %w", err)
		}
		if err := e.markFailed(ctx, orderID); err != nil {
			return "", errors.Join(shortfall, err)
		}
		e.logger.Info("reservation failed",
			zap.Int("order_id", orderID),
			zap.String("reason", shortfall.Error()),
		)
		e.emit(ctx, EventReservationStatusChanged, orderID, string(ReservationFailed))
		return ReservationFailed, shortfall
	}

	if err := e.reconcileTx(ctx, tx, touched); err != nil {
		return "", err
	}
	if err := setReservationStatusTx(ctx, tx, orderID, ReservationReserved); err != nil {
		return "", err
	}
	if err := tx.Commit(ctx); err != nil {
		return "", fmt.Errorf("failed to commit reservation: %w", err)
	}

	e.logger.Info("order reserved",
		zap.Int("order_id", orderID),
		zap.String("strategy", e.strategy.Name()),
		zap.Int("stock_records", len(touched)),
	)
	e.emit(ctx, EventReservationStatusChanged, orderID, string(ReservationReserved))
	return ReservationReserved, nil
}

func (e *reservationEngine) markFailed(ctx context.Context, orderID int) error {
	_, err := e.pool.Exec(ctx, `
		UPDATE orders SET reservation_status = $1, updated_at = NOW()
		WHERE id = $2 AND (reservation_status IS NULL OR reservation_status = $1)
	`, ReservationFailed, orderID)
	if err != nil {
		return fmt.Errorf("failed to mark order %d reservation FAILED: %w", orderID, err)
	}
	return nil
}

// reconcileTx runs the reserved-vs-reservations invariant check on every
// stock record touched by a reservation mutation.
func (e *reservationEngine) reconcileTx(ctx context.Context, tx pgx.Tx, touched map[int]struct{}) error {
	ids := make([]int, 0, len(touched))
	for id := range touched {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	for _, id := range ids {
		if _, err := e.ledger.ReconcileReservedTx(ctx, tx, id); err != nil {
			return err
		}
	}
	return nil
}

// ── Release / Dispatch ──────────────────────────────────────────────────────

func (e *reservationEngine) Release(ctx context.Context, orderID int) (status ReservationStatus, err error) {
	ctx, span := startSpan(ctx, "reservation.release", attribute.Int("order.id", orderID))
	defer func() { endSpan(span, err) }()

	tx, err := e.pool.Begin(ctx)
	if err != nil {
		return "", fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	status, err = e.ReleaseTx(ctx, tx, orderID)
	if err != nil {
		return status, err
	}
	if err := tx.Commit(ctx); err != nil {
		return "", fmt.Errorf("failed to commit release: %w", err)
	}
	e.emit(ctx, EventReservationStatusChanged, orderID, string(status))
	return status, nil
}

func (e *reservationEngine) ReleaseTx(ctx context.Context, tx pgx.Tx, orderID int) (ReservationStatus, error) {
	_, current, err := lockOrderTx(ctx, tx, orderID)
	if err != nil {
		return "", err
	}
	if !current.CanTransitionTo(ReservationReleased) {
		return current, fmt.Errorf("%w: order %d cannot be released: reservation status is %s (must be RESERVED)",
			ErrInvalidTransition, orderID, displayReservation(current))
	}

	if err := e.consumeReservationsTx(ctx, tx, orderID, false); err != nil {
		return "", err
	}
	if err := setReservationStatusTx(ctx, tx, orderID, ReservationReleased); err != nil {
		return "", err
	}
	e.logger.Info("order reservation released", zap.Int("order_id", orderID))
	return ReservationReleased, nil
}

func (e *reservationEngine) DeductOnDispatch(ctx context.Context, orderID int) (status ReservationStatus, err error) {
	ctx, span := startSpan(ctx, "reservation.deduct_on_dispatch", attribute.Int("order.id", orderID))
	defer func() { endSpan(span, err) }()

	tx, err := e.pool.Begin(ctx)
	if err != nil {
		return "", fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	status, err = e.DeductOnDispatchTx(ctx, tx, orderID)
	if err != nil {
		return status, err
	}
	if err := tx.Commit(ctx); err != nil {
		return "", fmt.Errorf("failed to commit dispatch: %w", err)
	}
	if status == ReservationDispatched {
		e.emit(ctx, EventReservationStatusChanged, orderID, string(status))
	}
	return status, nil
}

func (e *reservationEngine) DeductOnDispatchTx(ctx context.Context, tx pgx.Tx, orderID int) (ReservationStatus, error) {
	_, current, err := lockOrderTx(ctx, tx, orderID)
	if err != nil {
		return "", err
	}
	if current == ReservationNotRequired {
		return ReservationNotRequired, nil
	}
	if err := current.dispatchGuard(orderID); err != nil {
		return current, err
	}

	if err := e.consumeReservationsTx(ctx, tx, orderID, true); err != nil {
		return "", err
	}
	if err := setReservationStatusTx(ctx, tx, orderID, ReservationDispatched); err != nil {
		return "", err
	}
	e.logger.Info("order stock dispatched", zap.Int("order_id", orderID))
	return ReservationDispatched, nil
}

// consumeReservationsTx deletes every reservation of the order. When
// dispatch is true the on-hand quantity is decremented together with
// reserved; otherwise only reserved is.
func (e *reservationEngine) consumeReservationsTx(ctx context.Context, tx pgx.Tx, orderID int, dispatch bool) error {
	reservations, err := listOrderReservations(ctx, tx, orderID, true)
	if err != nil {
		return err
	}

	reason := MovementRelease
	if dispatch {
		reason = MovementDispatch
	}

	stockIDs := make([]int, 0, len(reservations))
	for _, r := range reservations {
		stockIDs = append(stockIDs, r.StockRecordID)
	}
	if _, err := e.ledger.LockStockTx(ctx, tx, stockIDs); err != nil {
		return err
	}

	touched := make(map[int]struct{})
	for _, r := range reservations {
		delta := StockDelta{Reserved: -r.Quantity}
		if dispatch {
			delta.Quantity = -r.Quantity
		}
		if _, err := e.ledger.AdjustStockTx(ctx, tx, r.StockRecordID, delta, reason, orderRef(orderID)); err != nil {
			return err
		}
		if _, err := tx.Exec(ctx, "DELETE FROM reservations WHERE id = $1", r.ID); err != nil {
			return fmt.Errorf("failed to delete reservation %d: %w", r.ID, err)
		}
		touched[r.StockRecordID] = struct{}{}
	}
	return e.reconcileTx(ctx, tx, touched)
}

// ── Reservation transfer ────────────────────────────────────────────────────

func (e *reservationEngine) TransferReservation(ctx context.Context, reservationID, warehouseID int) (res *Reservation, err error) {
	ctx, span := startSpan(ctx, "reservation.transfer",
		attribute.Int("reservation.id", reservationID),
		attribute.Int("warehouse.id", warehouseID),
	)
	defer func() { endSpan(span, err) }()

	tx, err := e.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	// The order row goes first, as in every other reservation mutation.
	var orderID int
	err = tx.QueryRow(ctx, `
		SELECT ol.order_id FROM reservations r
		JOIN order_lines ol ON ol.id = r.order_line_id
		WHERE r.id = $1
	`, reservationID).Scan(&orderID)
	if err != nil {
		return nil, notFoundOr(err, fmt.Sprintf("reservation %d", reservationID), "fetch reservation")
	}
	if _, _, err := lockOrderTx(ctx, tx, orderID); err != nil {
		return nil, err
	}
	src, err := scanReservation(tx.QueryRow(ctx,
		reservationSelect+" WHERE r.id = $1 FOR UPDATE OF r", reservationID,
	))
	if err != nil {
		return nil, notFoundOr(err, fmt.Sprintf("reservation %d", reservationID), "fetch reservation")
	}
	if src.WarehouseID == warehouseID {
		return nil, fmt.Errorf("%w: reservation %d is already in warehouse %d",
			ErrInvalidInput, reservationID, warehouseID)
	}

	var destID int
	err = tx.QueryRow(ctx,
		"SELECT id FROM stock_records WHERE warehouse_id = $1 AND variant_id = $2",
		warehouseID, src.VariantID,
	).Scan(&destID)
	if err != nil {
		return nil, notFoundOr(err,
			fmt.Sprintf("stock for variant %d in warehouse %d", src.VariantID, warehouseID), "fetch destination stock")
	}

	recs, err := e.ledger.LockStockTx(ctx, tx, []int{src.StockRecordID, destID})
	if err != nil {
		return nil, err
	}
	var dest StockRecord
	for _, rec := range recs {
		if rec.ID == destID {
			dest = rec
		}
	}
	if dest.Quantity < src.Quantity || dest.Reserved+src.Quantity > dest.Quantity {
		return nil, fmt.Errorf("%w: warehouse %d can take %d of variant %d, reservation needs %d",
			ErrInsufficientStock, warehouseID, dest.Available(), src.VariantID, src.Quantity)
	}

	ref := fmt.Sprintf("reservation:%d", reservationID)
	if _, err := e.ledger.AdjustStockTx(ctx, tx, src.StockRecordID, StockDelta{Reserved: -src.Quantity}, MovementReservationMove, ref); err != nil {
		return nil, err
	}
	if _, err := e.ledger.AdjustStockTx(ctx, tx, destID, StockDelta{Reserved: src.Quantity}, MovementReservationMove, ref); err != nil {
		return nil, err
	}

	var existingID int
	err = tx.QueryRow(ctx,
		"SELECT id FROM reservations WHERE stock_record_id = $1 AND order_line_id = $2 FOR UPDATE",
		destID, src.OrderLineID,
	).Scan(&existingID)
	switch {
	case err == nil:
		if _, err := tx.Exec(ctx, "UPDATE reservations SET quantity = quantity + $1 WHERE id = $2", src.Quantity, existingID); err != nil {
			return nil, fmt.Errorf("failed to merge reservation %d into %d: %w", reservationID, existingID, err)
		}
		if _, err := tx.Exec(ctx, "DELETE FROM reservations WHERE id = $1", reservationID); err != nil {
			return nil, fmt.Errorf("failed to delete merged reservation %d: %w", reservationID, err)
		}
	case errors.Is(err, pgx.ErrNoRows):
		existingID = reservationID
		if _, err := tx.Exec(ctx, "UPDATE reservations SET stock_record_id = $1 WHERE id = $2", destID, reservationID); err != nil {
			return nil, fmt.Errorf("failed to move reservation %d: %w", reservationID, err)
		}
	default:
		return nil, fmt.Errorf("failed to look up destination reservation: %w", err)
	}

	if err := e.reconcileTx(ctx, tx, map[int]struct{}{src.StockRecordID: {}, destID: {}}); err != nil {
		return nil, err
	}

	res, err = scanReservation(tx.QueryRow(ctx, reservationSelect+" WHERE r.id = $1", existingID))
	if err != nil {
		return nil, fmt.Errorf("failed to reload reservation %d: %w", existingID, err)
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("failed to commit reservation transfer: %w", err)
	}

	e.logger.Info("reservation transferred",
		zap.Int("reservation_id", reservationID),
		zap.Int("from_warehouse_id", src.WarehouseID),
		zap.Int("to_warehouse_id", warehouseID),
		zap.Int("quantity", src.Quantity),
	)
	return res, nil
}

// ── Queries ─────────────────────────────────────────────────────────────────

const reservationSelect = `
	SELECT r.id, r.stock_record_id, r.order_line_id, sr.warehouse_id, sr.variant_id,
	       r.quantity, r.purpose, r.created_at
	FROM reservations r
	JOIN stock_records sr ON sr.id = r.stock_record_id`

func scanReservation(row pgx.Row) (*Reservation, error) {
	var r Reservation
	if err := row.Scan(&r.ID, &r.StockRecordID, &r.OrderLineID, &r.WarehouseID, &r.VariantID,
		&r.Quantity, &r.Purpose, &r.CreatedAt); err != nil {
		return nil, err
	}
	return &r, nil
}

func (e *reservationEngine) ListReservations(ctx context.Context, orderID int) ([]Reservation, error) {
	if err := requireExistsTx(ctx, e.pool, "orders", orderID, "order"); err != nil {
		return nil, err
	}
	return listOrderReservations(ctx, e.pool, orderID, false)
}

func listOrderReservations(ctx context.Context, q querier, orderID int, lock bool) ([]Reservation, error) {
	query := reservationSelect + `
		JOIN order_lines ol ON ol.id = r.order_line_id
		WHERE ol.order_id = $1
		ORDER BY r.stock_record_id, r.id`
	if lock {
		query += " FOR UPDATE OF r"
	}
	rows, err := q.Query(ctx, query, orderID)
	if err != nil {
		return nil, fmt.Errorf("failed to query reservations for order %d: %w", orderID, err)
	}
	defer rows.Close()

	var out []Reservation
	for rows.Next() {
		r, err := scanReservation(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan reservation: %w", err)
		}
		out = append(out, *r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating reservations: %w", err)
	}
	return out, nil
}

func displayReservation(s ReservationStatus) string {
	if s == ReservationNone {
		return "unset"
	}
	return string(s)
}
