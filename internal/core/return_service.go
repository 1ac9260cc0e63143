package core

import (
	"context"
	"fmt"
	"slices"

	"github.com/jackc/pgx/v5/pgxpool"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
)

// ReturnService feeds physically received returned units back into stock.
type ReturnService interface {
	// CreateReturnRequest records a customer return against a delivered
	// order. Each line is bounded by the order line quantity not already
	// claimed by another return.
	CreateReturnRequest(ctx context.Context, orderID, warehouseID int, lines []ReturnLineInput) (*ReturnRequest, error)
	// AdjustReturnLineItems moves a batch of lines to status. Lines becoming
	// RECEIVED put their quantity back on hand at the return's warehouse when
	// the variant tracks inventory. Lines already RECEIVED are not counted twice.
	AdjustReturnLineItems(ctx context.Context, lineIDs []int, status ReceivingStatus) ([]ReturnLineItem, error)
	GetReturnRequest(ctx context.Context, returnID int) (*ReturnRequest, error)
}

type returnService struct {
	pool   *pgxpool.Pool
	ledger StockLedger
	notifier
}

// NewReturnService constructs a ReturnService backed by PostgreSQL.
func NewReturnService(pool *pgxpool.Pool, ledger StockLedger, publisher EventPublisher, logger *zap.Logger) ReturnService {
	return &returnService{pool: pool, ledger: ledger, notifier: newNotifier(publisher, logger)}
}

func (s *returnService) CreateReturnRequest(ctx context.Context, orderID, warehouseID int, lines []ReturnLineInput) (*ReturnRequest, error) {
	if len(lines) == 0 {
		return nil, fmt.Errorf("%w: return must have at least one line", ErrInvalidInput)
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	status, _, err := lockOrderTx(ctx, tx, orderID)
	if err != nil {
		return nil, err
	}
	if status != OrderDelivered && status != OrderPendingReturn {
		return nil, fmt.Errorf("%w: order %d cannot accept returns: status is %s (must be DELIVERED or PENDING_RETURN)",
			ErrInvalidTransition, orderID, status)
	}
	if err := requireExistsTx(ctx, tx, "warehouses", warehouseID, "warehouse"); err != nil {
		return nil, err
	}

	orderLines, err := fetchOrderLinesQ(ctx, tx, orderID)
	if err != nil {
		return nil, err
	}
	byLine := make(map[int]OrderLine, len(orderLines))
	for _, l := range orderLines {
		byLine[l.ID] = l
	}

	var returnID int
	err = tx.QueryRow(ctx,
		"INSERT INTO return_requests (order_id, warehouse_id) VALUES ($1, $2) RETURNING id",
		orderID, warehouseID,
	).Scan(&returnID)
	if err != nil {
		return nil, classifyPgError(err, "insert return request")
	}

	// claimed is read before this request inserts anything for the line, so
	// requested alone carries this request's share.
	claimedByLine := make(map[int]int, len(lines))
	requested := make(map[int]int, len(lines))
	for i, in := range lines {
		line, ok := byLine[in.OrderLineID]
		if !ok {
			return nil, fmt.Errorf("%w: order line %d on order %d", ErrNotFound, in.OrderLineID, orderID)
		}
		if in.Quantity <= 0 {
			return nil, fmt.Errorf("%w: line %d: quantity must be positive, got %d", ErrInvalidInput, i+1, in.Quantity)
		}
		claimed, seen := claimedByLine[line.ID]
		if !seen {
			err := tx.QueryRow(ctx,
				"SELECT COALESCE(SUM(quantity), 0) FROM return_line_items WHERE order_line_id = $1",
				line.ID,
			).Scan(&claimed)
			if err != nil {
				return nil, fmt.Errorf("failed to sum returns for order line %d: %w", line.ID, err)
			}
			claimedByLine[line.ID] = claimed
		}
		requested[line.ID] += in.Quantity
		if claimed+requested[line.ID] > line.Quantity {
			return nil, fmt.Errorf("%w: order line %d: returning %d would exceed ordered %d (%d already returned)",
				ErrInvalidInput, line.ID, requested[line.ID], line.Quantity, claimed)
		}
		if _, err := tx.Exec(ctx, `
			INSERT INTO return_line_items (return_request_id, order_line_id, quantity, status)
			VALUES ($1, $2, $3, $4)
		`, returnID, line.ID, in.Quantity, ReturnNotReceived); err != nil {
			return nil, classifyPgError(err, fmt.Sprintf("insert return line for order line %d", line.ID))
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("failed to commit return request: %w", err)
	}
	s.logger.Info("return request created",
		zap.Int("return_request_id", returnID),
		zap.Int("order_id", orderID),
		zap.Int("lines", len(lines)),
	)
	return s.GetReturnRequest(ctx, returnID)
}

func (s *returnService) AdjustReturnLineItems(ctx context.Context, lineIDs []int, status ReceivingStatus) (out []ReturnLineItem, err error) {
	ctx, span := startSpan(ctx, "return.adjust_line_items",
		attribute.Int("return.lines", len(lineIDs)),
		attribute.String("return.status", string(status)),
	)
	defer func() { endSpan(span, err) }()

	if !status.Valid() {
		return nil, fmt.Errorf("%w: unknown receiving status %q", ErrInvalidInput, status)
	}
	if len(lineIDs) == 0 {
		return nil, fmt.Errorf("%w: no return lines given", ErrInvalidInput)
	}
	ids := slices.Clone(lineIDs)
	slices.Sort(ids)
	ids = slices.Compact(ids)

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	lines, err := queryReturnLines(ctx, tx, "rli.id = ANY($1)", ids, true)
	if err != nil {
		return nil, err
	}
	if len(lines) != len(ids) {
		found := make(map[int]bool, len(lines))
		for _, l := range lines {
			found[l.ID] = true
		}
		for _, id := range ids {
			if !found[id] {
				return nil, fmt.Errorf("%w: return line %d", ErrNotFound, id)
			}
		}
	}

	restock := make(map[int]int)
	for _, line := range lines {
		if !line.Status.CanTransitionTo(status) {
			return nil, fmt.Errorf("%w: return line %d cannot move from %s to %s",
				ErrInvalidTransition, line.ID, line.Status, status)
		}
		if line.Status != status && status == ReturnReceived && line.TrackInventory {
			rec, err := s.ledger.GetOrCreateStockTx(ctx, tx, line.WarehouseID, line.VariantID)
			if err != nil {
				return nil, err
			}
			restock[line.ID] = rec.ID
		}
	}
	if len(restock) > 0 {
		stockIDs := make([]int, 0, len(restock))
		for _, id := range restock {
			stockIDs = append(stockIDs, id)
		}
		if _, err := s.ledger.LockStockTx(ctx, tx, stockIDs); err != nil {
			return nil, err
		}
	}

	var changed []int
	for _, line := range lines {
		if line.Status == status {
			continue
		}
		if stockID, ok := restock[line.ID]; ok {
			if _, err := s.ledger.AdjustStockTx(ctx, tx, stockID, StockDelta{Quantity: line.Quantity},
				MovementReturn, fmt.Sprintf("return_line:%d", line.ID)); err != nil {
				return nil, err
			}
		}
		if _, err := tx.Exec(ctx,
			"UPDATE return_line_items SET status = $1, updated_at = NOW() WHERE id = $2", status, line.ID,
		); err != nil {
			return nil, fmt.Errorf("failed to update return line %d: %w", line.ID, err)
		}
		changed = append(changed, line.ID)
	}

	out, err = queryReturnLines(ctx, tx, "rli.id = ANY($1)", ids, false)
	if err != nil {
		return nil, err
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("failed to commit return adjustment: %w", err)
	}

	s.logger.Info("return lines adjusted",
		zap.String("status", string(status)),
		zap.Ints("changed", changed),
		zap.Int("unchanged", len(ids)-len(changed)),
	)
	for _, id := range changed {
		s.emit(ctx, EventReturnLineStatusChanged, id, string(status))
	}
	return out, nil
}

func (s *returnService) GetReturnRequest(ctx context.Context, returnID int) (*ReturnRequest, error) {
	var r ReturnRequest
	err := s.pool.QueryRow(ctx,
		"SELECT id, order_id, warehouse_id, created_at FROM return_requests WHERE id = $1", returnID,
	).Scan(&r.ID, &r.OrderID, &r.WarehouseID, &r.CreatedAt)
	if err != nil {
		return nil, notFoundOr(err, fmt.Sprintf("return request %d", returnID), fmt.Sprintf("fetch return request %d", returnID))
	}
	r.Lines, err = queryReturnLines(ctx, s.pool, "rli.return_request_id = $1", returnID, false)
	if err != nil {
		return nil, err
	}
	return &r, nil
}

// queryReturnLines loads return lines joined with their variant and
// destination warehouse. where is a package constant with one parameter.
func queryReturnLines(ctx context.Context, q querier, where string, arg any, lock bool) ([]ReturnLineItem, error) {
	query := `
		SELECT rli.id, rli.return_request_id, rli.order_line_id, ol.variant_id, rr.warehouse_id,
		       rli.quantity, rli.status, v.track_inventory, rli.updated_at
		FROM return_line_items rli
		JOIN return_requests rr ON rr.id = rli.return_request_id
		JOIN order_lines ol ON ol.id = rli.order_line_id
		JOIN variants v ON v.id = ol.variant_id
		WHERE ` + where + `
		ORDER BY rli.id`
	if lock {
		query += " FOR UPDATE OF rli"
	}
	rows, err := q.Query(ctx, query, arg)
	if err != nil {
		return nil, fmt.Errorf("failed to query return lines: %w", err)
	}
	defer rows.Close()

	var lines []ReturnLineItem
	for rows.Next() {
		var l ReturnLineItem
		if err := rows.Scan(&l.ID, &l.ReturnRequestID, &l.OrderLineID, &l.VariantID, &l.WarehouseID,
			&l.Quantity, &l.Status, &l.TrackInventory, &l.UpdatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan return line: %w", err)
		}
		lines = append(lines, l)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating return lines: %w", err)
	}
	return lines, nil
}
