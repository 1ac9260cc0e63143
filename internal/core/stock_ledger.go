package core

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
)

// StockLedger owns warehouses and stock records. Every change to a stock
// record's quantity, reserved or incoming column goes through AdjustStockTx.
type StockLedger interface {
	// Standalone operations (manage their own transactions).
	CreateWarehouse(ctx context.Context, in WarehouseInput) (*Warehouse, error)
	// SetDefaultWarehouse marks the warehouse as default and clears the previous one.
	SetDefaultWarehouse(ctx context.Context, warehouseID int) (*Warehouse, error)
	// DeleteWarehouse fails with ErrConstraintViolation while stock, transfers or
	// purchase orders still reference the warehouse.
	DeleteWarehouse(ctx context.Context, warehouseID int) error
	ListWarehouses(ctx context.Context) ([]Warehouse, error)
	UpsertVariant(ctx context.Context, sku, name string, trackInventory bool) (*Variant, error)
	GetStock(ctx context.Context, warehouseID, variantID int) (*StockRecord, error)
	// ListStock returns every stock record of a variant, or all records when variantID is 0.
	ListStock(ctx context.Context, variantID int) ([]StockRecord, error)
	ListMovements(ctx context.Context, stockID int) ([]StockMovement, error)
	// AdjustStock applies an operator adjustment, creating the record if absent.
	AdjustStock(ctx context.Context, warehouseID, variantID int, delta StockDelta, reason MovementReason) (*StockRecord, error)
	// AuditReservations reports records whose reserved column drifted from
	// the sum of their reservations, without changing anything.
	AuditReservations(ctx context.Context) ([]ReservationDrift, error)
	// ReconcileAll corrects every drifted record and returns what it fixed.
	ReconcileAll(ctx context.Context) ([]ReservationDrift, error)

	// TX-scoped operations: work within a caller-provided transaction.

	// Stock records are always locked in ascending id order, all of an
	// operation's records in one statement, after any order, transfer,
	// purchase order or reservation rows the operation locks.

	// AdjustStockTx locks the record, validates the invariant and persists the
	// delta together with an audit movement. Callers touching more than one
	// record lock them first with LockStockTx.
	AdjustStockTx(ctx context.Context, tx pgx.Tx, stockID int, delta StockDelta, reason MovementReason, reference string) (*StockRecord, error)
	// GetOrCreateStockTx returns the record for the pair, inserting an empty
	// one when absent. It takes no lock on an existing record.
	GetOrCreateStockTx(ctx context.Context, tx pgx.Tx, warehouseID, variantID int) (*StockRecord, error)
	// LockStockTx locks the given records, ordered by id. Unknown ids are ErrNotFound.
	LockStockTx(ctx context.Context, tx pgx.Tx, stockIDs []int) ([]StockRecord, error)
	// LockVariantStockTx locks every stock record of the variants, ordered by id.
	LockVariantStockTx(ctx context.Context, tx pgx.Tx, variantIDs []int) ([]StockRecord, error)
	// ReconcileReservedTx resets reserved to the sum of the record's reservations
	// when they disagree. Returns nil drift when the record is consistent.
	ReconcileReservedTx(ctx context.Context, tx pgx.Tx, stockID int) (*ReservationDrift, error)
}

type stockLedger struct {
	pool   *pgxpool.Pool
	logger *zap.Logger
}

// NewStockLedger constructs a StockLedger backed by PostgreSQL.
func NewStockLedger(pool *pgxpool.Pool, logger *zap.Logger) StockLedger {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &stockLedger{pool: pool, logger: logger}
}

const stockColumns = `id, warehouse_id, variant_id, quantity, reserved, incoming, updated_at`

func scanStock(row pgx.Row) (*StockRecord, error) {
	var r StockRecord
	if err := row.Scan(&r.ID, &r.WarehouseID, &r.VariantID, &r.Quantity, &r.Reserved, &r.Incoming, &r.UpdatedAt); err != nil {
		return nil, err
	}
	return &r, nil
}

func collectStock(rows pgx.Rows) ([]StockRecord, error) {
	defer rows.Close()
	var out []StockRecord
	for rows.Next() {
		r, err := scanStock(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan stock record: %w", err)
		}
		out = append(out, *r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating stock records: %w", err)
	}
	return out, nil
}

// ── Warehouses and variants ─────────────────────────────────────────────────

func (l *stockLedger) CreateWarehouse(ctx context.Context, in WarehouseInput) (*Warehouse, error) {
	name := strings.TrimSpace(in.Name)
	if name == "" {
		return nil, fmt.Errorf("%w: warehouse name is required", ErrInvalidInput)
	}

	tx, err := l.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	if in.IsDefault {
		if _, err := tx.Exec(ctx, "UPDATE warehouses SET is_default = false WHERE is_default"); err != nil {
			return nil, fmt.Errorf("failed to clear default warehouse: %w", err)
		}
	}

	var w Warehouse
	err = tx.QueryRow(ctx, `
		INSERT INTO warehouses (name, location, is_default)
		VALUES ($1, $2, $3)
		RETURNING id, name, location, is_default, created_at
	`, name, in.Location, in.IsDefault).Scan(&w.ID, &w.Name, &w.Location, &w.IsDefault, &w.CreatedAt)
	if err != nil {
		return nil, classifyPgError(err, "create warehouse "+name)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("failed to commit warehouse creation: %w", err)
	}
	return &w, nil
}

func (l *stockLedger) SetDefaultWarehouse(ctx context.Context, warehouseID int) (*Warehouse, error) {
	tx, err := l.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	var exists bool
	if err := tx.QueryRow(ctx, "SELECT EXISTS(SELECT 1 FROM warehouses WHERE id = $1)", warehouseID).Scan(&exists); err != nil {
		return nil, fmt.Errorf("failed to look up warehouse %d: %w", warehouseID, err)
	}
	if !exists {
		return nil, fmt.Errorf("%w: warehouse %d", ErrNotFound, warehouseID)
	}

	if _, err := tx.Exec(ctx, "UPDATE warehouses SET is_default = false WHERE is_default AND id <> $1", warehouseID); err != nil {
		return nil, fmt.Errorf("failed to clear default warehouse: %w", err)
	}

	var w Warehouse
	err = tx.QueryRow(ctx, `
		UPDATE warehouses SET is_default = true WHERE id = $1
		RETURNING id, name, location, is_default, created_at
	`, warehouseID).Scan(&w.ID, &w.Name, &w.Location, &w.IsDefault, &w.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("failed to set default warehouse %d: %w", warehouseID, err)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("failed to commit default warehouse: %w", err)
	}
	l.logger.Info("default warehouse changed", zap.Int("warehouse_id", warehouseID))
	return &w, nil
}

func (l *stockLedger) DeleteWarehouse(ctx context.Context, warehouseID int) error {
	tag, err := l.pool.Exec(ctx, "DELETE FROM warehouses WHERE id = $1", warehouseID)
	if err != nil {
		return classifyPgError(err, fmt.Sprintf("delete warehouse %d", warehouseID))
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: warehouse %d", ErrNotFound, warehouseID)
	}
	return nil
}

func (l *stockLedger) ListWarehouses(ctx context.Context) ([]Warehouse, error) {
	rows, err := l.pool.Query(ctx, `
		SELECT id, name, location, is_default, created_at
		FROM warehouses
		ORDER BY id
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to query warehouses: %w", err)
	}
	defer rows.Close()

	var warehouses []Warehouse
	for rows.Next() {
		var w Warehouse
		if err := rows.Scan(&w.ID, &w.Name, &w.Location, &w.IsDefault, &w.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan warehouse: %w", err)
		}
		warehouses = append(warehouses, w)
	}
	return warehouses, rows.Err()
}

func (l *stockLedger) UpsertVariant(ctx context.Context, sku, name string, trackInventory bool) (*Variant, error) {
	sku = strings.TrimSpace(sku)
	if sku == "" {
		return nil, fmt.Errorf("%w: variant sku is required", ErrInvalidInput)
	}
	var v Variant
	err := l.pool.QueryRow(ctx, `
		INSERT INTO variants (sku, name, track_inventory)
		VALUES ($1, $2, $3)
		ON CONFLICT (sku) DO UPDATE SET name = EXCLUDED.name, track_inventory = EXCLUDED.track_inventory
		RETURNING id, sku, name, track_inventory
	`, sku, name, trackInventory).Scan(&v.ID, &v.SKU, &v.Name, &v.TrackInventory)
	if err != nil {
		return nil, classifyPgError(err, "upsert variant "+sku)
	}
	return &v, nil
}

// ── Stock queries ───────────────────────────────────────────────────────────

func (l *stockLedger) GetStock(ctx context.Context, warehouseID, variantID int) (*StockRecord, error) {
	r, err := scanStock(l.pool.QueryRow(ctx,
		"SELECT "+stockColumns+" FROM stock_records WHERE warehouse_id = $1 AND variant_id = $2",
		warehouseID, variantID,
	))
	if err != nil {
		return nil, notFoundOr(err,
			fmt.Sprintf("stock for variant %d in warehouse %d", variantID, warehouseID), "fetch stock record")
	}
	return r, nil
}

func (l *stockLedger) ListStock(ctx context.Context, variantID int) ([]StockRecord, error) {
	query := "SELECT " + stockColumns + " FROM stock_records"
	var args []any
	if variantID != 0 {
		query += " WHERE variant_id = $1"
		args = append(args, variantID)
	}
	query += " ORDER BY variant_id, warehouse_id"

	rows, err := l.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query stock records: %w", err)
	}
	return collectStock(rows)
}

func (l *stockLedger) ListMovements(ctx context.Context, stockID int) ([]StockMovement, error) {
	rows, err := l.pool.Query(ctx, `
		SELECT id, stock_record_id, reason, reference, quantity_delta, reserved_delta, incoming_delta, created_at
		FROM stock_movements
		WHERE stock_record_id = $1
		ORDER BY id
	`, stockID)
	if err != nil {
		return nil, fmt.Errorf("failed to query stock movements: %w", err)
	}
	defer rows.Close()

	var movements []StockMovement
	for rows.Next() {
		var m StockMovement
		if err := rows.Scan(&m.ID, &m.StockRecordID, &m.Reason, &m.Reference,
			&m.QuantityDelta, &m.ReservedDelta, &m.IncomingDelta, &m.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan stock movement: %w", err)
		}
		movements = append(movements, m)
	}
	return movements, rows.Err()
}

// ── Adjustment primitive ────────────────────────────────────────────────────

func (l *stockLedger) AdjustStock(ctx context.Context, warehouseID, variantID int, delta StockDelta, reason MovementReason) (rec *StockRecord, err error) {
	ctx, span := startSpan(ctx, "stock.adjust",
		attribute.Int("warehouse.id", warehouseID),
		attribute.Int("variant.id", variantID),
	)
	defer func() { endSpan(span, err) }()

	if reason == "" {
		reason = MovementManual
	}

	tx, err := l.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	stock, err := l.GetOrCreateStockTx(ctx, tx, warehouseID, variantID)
	if err != nil {
		return nil, err
	}
	rec, err = l.AdjustStockTx(ctx, tx, stock.ID, delta, reason, "operator")
	if err != nil {
		return nil, err
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("failed to commit stock adjustment: %w", err)
	}
	return rec, nil
}

func (l *stockLedger) AdjustStockTx(ctx context.Context, tx pgx.Tx, stockID int, delta StockDelta, reason MovementReason, reference string) (*StockRecord, error) {
	current, err := scanStock(tx.QueryRow(ctx,
		"SELECT "+stockColumns+" FROM stock_records WHERE id = $1 FOR UPDATE", stockID,
	))
	if err != nil {
		return nil, notFoundOr(err, fmt.Sprintf("stock record %d", stockID), "lock stock record")
	}
	if delta.IsZero() {
		return current, nil
	}

	next, err := current.Apply(delta)
	if err != nil {
		return nil, err
	}

	err = tx.QueryRow(ctx, `
		UPDATE stock_records
		SET quantity = $1, reserved = $2, incoming = $3, updated_at = NOW()
		WHERE id = $4
		RETURNING updated_at
	`, next.Quantity, next.Reserved, next.Incoming, stockID).Scan(&next.UpdatedAt)
	if err != nil {
		return nil, classifyPgError(err, fmt.Sprintf("update stock record %d", stockID))
	}

	_, err = tx.Exec(ctx, `
		INSERT INTO stock_movements (stock_record_id, reason, reference, quantity_delta, reserved_delta, incoming_delta)
		VALUES ($1, $2, $3, $4, $5, $6)
	`, stockID, reason, reference, delta.Quantity, delta.Reserved, delta.Incoming)
	if err != nil {
		return nil, fmt.Errorf("failed to insert stock movement for record %d: %w", stockID, err)
	}
	return &next, nil
}

func (l *stockLedger) GetOrCreateStockTx(ctx context.Context, tx pgx.Tx, warehouseID, variantID int) (*StockRecord, error) {
	if err := requireExistsTx(ctx, tx, "warehouses", warehouseID, "warehouse"); err != nil {
		return nil, err
	}
	if err := requireExistsTx(ctx, tx, "variants", variantID, "variant"); err != nil {
		return nil, err
	}

	// DO NOTHING leaves an existing row unlocked; a new row is visible to
	// nobody else until commit.
	if _, err := tx.Exec(ctx, `
		INSERT INTO stock_records (warehouse_id, variant_id, quantity, reserved, incoming)
		VALUES ($1, $2, 0, 0, 0)
		ON CONFLICT (warehouse_id, variant_id) DO NOTHING
	`, warehouseID, variantID); err != nil {
		return nil, classifyPgError(err, fmt.Sprintf("insert stock for variant %d in warehouse %d", variantID, warehouseID))
	}
	r, err := scanStock(tx.QueryRow(ctx,
		"SELECT "+stockColumns+" FROM stock_records WHERE warehouse_id = $1 AND variant_id = $2",
		warehouseID, variantID,
	))
	if err != nil {
		return nil, notFoundOr(err,
			fmt.Sprintf("stock for variant %d in warehouse %d", variantID, warehouseID), "fetch stock record")
	}
	return r, nil
}

func (l *stockLedger) LockStockTx(ctx context.Context, tx pgx.Tx, stockIDs []int) ([]StockRecord, error) {
	ids := slices.Clone(stockIDs)
	slices.Sort(ids)
	ids = slices.Compact(ids)
	rows, err := tx.Query(ctx,
		"SELECT "+stockColumns+" FROM stock_records WHERE id = ANY($1) ORDER BY id FOR UPDATE",
		ids,
	)
	if err != nil {
		return nil, classifyPgError(err, "lock stock records")
	}
	recs, err := collectStock(rows)
	if err != nil {
		return nil, err
	}
	if len(recs) != len(ids) {
		for i, id := range ids {
			if i >= len(recs) || recs[i].ID != id {
				return nil, fmt.Errorf("%w: stock record %d", ErrNotFound, id)
			}
		}
	}
	return recs, nil
}

func (l *stockLedger) LockVariantStockTx(ctx context.Context, tx pgx.Tx, variantIDs []int) ([]StockRecord, error) {
	rows, err := tx.Query(ctx,
		"SELECT "+stockColumns+" FROM stock_records WHERE variant_id = ANY($1) ORDER BY id FOR UPDATE",
		variantIDs,
	)
	if err != nil {
		return nil, classifyPgError(err, fmt.Sprintf("lock stock for variants %v", variantIDs))
	}
	return collectStock(rows)
}

// stockIDsByVariantTx resolves the stock record of each variant in one
// warehouse without locking. A variant with no record is ErrNotFound.
func stockIDsByVariantTx(ctx context.Context, q querier, warehouseID int, variantIDs []int) (map[int]int, error) {
	rows, err := q.Query(ctx,
		"SELECT variant_id, id FROM stock_records WHERE warehouse_id = $1 AND variant_id = ANY($2)",
		warehouseID, variantIDs,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to look up stock in warehouse %d: %w", warehouseID, err)
	}
	defer rows.Close()

	byVariant := make(map[int]int, len(variantIDs))
	for rows.Next() {
		var variantID, stockID int
		if err := rows.Scan(&variantID, &stockID); err != nil {
			return nil, fmt.Errorf("failed to scan stock id: %w", err)
		}
		byVariant[variantID] = stockID
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating stock ids: %w", err)
	}
	for _, v := range variantIDs {
		if _, ok := byVariant[v]; !ok {
			return nil, fmt.Errorf("%w: stock for variant %d in warehouse %d", ErrNotFound, v, warehouseID)
		}
	}
	return byVariant, nil
}

// ── Reservation reconciliation ──────────────────────────────────────────────

func (l *stockLedger) ReconcileReservedTx(ctx context.Context, tx pgx.Tx, stockID int) (*ReservationDrift, error) {
	var recorded, expected int
	err := tx.QueryRow(ctx, `
		SELECT sr.reserved,
		       COALESCE((SELECT SUM(r.quantity) FROM reservations r WHERE r.stock_record_id = sr.id), 0)
		FROM stock_records sr
		WHERE sr.id = $1
		FOR UPDATE OF sr
	`, stockID).Scan(&recorded, &expected)
	if err != nil {
		return nil, notFoundOr(err, fmt.Sprintf("stock record %d", stockID), "reconcile stock record")
	}
	if recorded == expected {
		return nil, nil
	}

	drift := &ReservationDrift{StockRecordID: stockID, Recorded: recorded, Expected: expected}
	l.logger.Warn("reserved quantity drifted from reservations, correcting",
		zap.Int("stock_record_id", stockID),
		zap.Int("recorded", recorded),
		zap.Int("expected", expected),
	)
	if _, err := l.AdjustStockTx(ctx, tx, stockID, StockDelta{Reserved: expected - recorded}, MovementReconcile, ""); err != nil {
		return nil, fmt.Errorf("failed to correct reserved on stock record %d: %w", stockID, err)
	}
	return drift, nil
}

func (l *stockLedger) AuditReservations(ctx context.Context) ([]ReservationDrift, error) {
	return queryDrift(ctx, l.pool)
}

func (l *stockLedger) ReconcileAll(ctx context.Context) (fixed []ReservationDrift, err error) {
	ctx, span := startSpan(ctx, "stock.reconcile_all")
	defer func() { endSpan(span, err) }()

	tx, err := l.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	drifts, err := queryDrift(ctx, tx)
	if err != nil {
		return nil, err
	}
	for _, d := range drifts {
		got, err := l.ReconcileReservedTx(ctx, tx, d.StockRecordID)
		if err != nil {
			return nil, err
		}
		if got != nil {
			fixed = append(fixed, *got)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("failed to commit reconciliation: %w", err)
	}
	return fixed, nil
}

func queryDrift(ctx context.Context, q querier) ([]ReservationDrift, error) {
	rows, err := q.Query(ctx, `
		SELECT sr.id, sr.reserved, COALESCE(SUM(r.quantity), 0) AS expected
		FROM stock_records sr
		LEFT JOIN reservations r ON r.stock_record_id = sr.id
		GROUP BY sr.id, sr.reserved
		HAVING sr.reserved <> COALESCE(SUM(r.quantity), 0)
		ORDER BY sr.id
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to audit reservations: %w", err)
	}
	defer rows.Close()

	var drifts []ReservationDrift
	for rows.Next() {
		var d ReservationDrift
		if err := rows.Scan(&d.StockRecordID, &d.Recorded, &d.Expected); err != nil {
			return nil, fmt.Errorf("failed to scan reservation drift: %w", err)
		}
		drifts = append(drifts, d)
	}
	return drifts, rows.Err()
}

// requireExistsTx returns ErrNotFound when no row with the id exists in table.
// table is always a package constant, never caller input.
func requireExistsTx(ctx context.Context, q querier, table string, id int, subject string) error {
	var exists bool
	if err := q.QueryRow(ctx, "SELECT EXISTS(SELECT 1 FROM "+table+" WHERE id = $1)", id).Scan(&exists); err != nil {
		return fmt.Errorf("failed to look up %s %d: %w", subject, id, err)
	}
	if !exists {
		return fmt.Errorf("%w: %s %d", ErrNotFound, subject, id)
	}
	return nil
}

// isNoRows reports a query that matched nothing, for branches where a
// missing row is a valid answer.
func isNoRows(err error) bool {
	return errors.Is(err, pgx.ErrNoRows)
}
