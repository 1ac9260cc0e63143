package app

import (
	"context"

	"inventory-ledger/internal/core"
)

// ApplicationService is the single interface the HTTP and CLI adapters call.
// It decouples transport from the ledger services. Implementations must
// contain no display or encoding logic.
type ApplicationService interface {
	// ── Orders ──────────────────────────────────────────────────────────────

	// CreateOrder creates a PENDING order.
	CreateOrder(ctx context.Context, req CreateOrderRequest) (*OrderResult, error)
	// GetOrder returns the order with its lines and current reservations.
	GetOrder(ctx context.Context, orderID int) (*OrderResult, error)
	// ListOrders returns orders, optionally filtered by status.
	ListOrders(ctx context.Context, status string) (*OrderListResult, error)
	// TransitionOrder applies one fulfillment transition (approve, pack, ship,
	// deliver, cancel, request-return, mark-returned, force-fulfill).
	TransitionOrder(ctx context.Context, orderID int, action OrderAction) (*OrderResult, error)

	// ── Reservations ────────────────────────────────────────────────────────

	// ReserveOrder commits stock for the order. On shortfall the result
	// carries FAILED and the error wraps core.ErrInsufficientStock.
	ReserveOrder(ctx context.Context, orderID int) (*ReservationResult, error)
	// RetryReservation re-runs reservation for a FAILED order.
	RetryReservation(ctx context.Context, orderID int) (*ReservationResult, error)
	ReleaseOrder(ctx context.Context, orderID int) (*ReservationResult, error)
	DispatchOrder(ctx context.Context, orderID int) (*ReservationResult, error)
	TransferReservation(ctx context.Context, reservationID, warehouseID int) (*core.Reservation, error)

	// ── Stock and warehouses ────────────────────────────────────────────────

	ListWarehouses(ctx context.Context) (*WarehouseListResult, error)
	CreateWarehouse(ctx context.Context, req CreateWarehouseRequest) (*core.Warehouse, error)
	SetDefaultWarehouse(ctx context.Context, warehouseID int) (*core.Warehouse, error)
	DeleteWarehouse(ctx context.Context, warehouseID int) error
	UpsertVariant(ctx context.Context, req UpsertVariantRequest) (*core.Variant, error)
	// ListStock returns stock for one variant, or all stock when variantID is 0.
	ListStock(ctx context.Context, variantID int) (*StockResult, error)
	AdjustStock(ctx context.Context, req AdjustStockRequest) (*core.StockRecord, error)
	ListMovements(ctx context.Context, stockID int) ([]core.StockMovement, error)
	// RunAudit reports reservation drift, or heals it when reconcile is true.
	RunAudit(ctx context.Context, reconcile bool) (*AuditResult, error)

	// ── Transfers ───────────────────────────────────────────────────────────

	CreateTransfer(ctx context.Context, req CreateTransferRequest) (*core.StockTransfer, error)
	GetTransfer(ctx context.Context, transferID int) (*core.StockTransfer, error)
	ListTransfers(ctx context.Context, status string) ([]core.StockTransfer, error)
	UpdateTransferItems(ctx context.Context, transferID int, items []core.TransferItemInput) (*core.StockTransfer, error)
	MarkTransferInTransit(ctx context.Context, transferID int) (*core.StockTransfer, error)
	ReceiveTransfer(ctx context.Context, transferID int, receipts []core.ItemReceipt) (*core.StockTransfer, error)
	CompleteTransfer(ctx context.Context, transferID int) (*core.StockTransfer, error)
	CancelTransfer(ctx context.Context, transferID int) (*core.StockTransfer, error)

	// ── Purchase orders ─────────────────────────────────────────────────────

	CreatePurchaseOrder(ctx context.Context, req CreatePurchaseOrderRequest) (*core.PurchaseOrder, error)
	GetPurchaseOrder(ctx context.Context, poID int) (*core.PurchaseOrder, error)
	ListPurchaseOrders(ctx context.Context, status string) ([]core.PurchaseOrder, error)
	UpdatePurchaseOrder(ctx context.Context, poID int, req UpdatePurchaseOrderRequest) (*core.PurchaseOrder, error)
	MarkPurchaseOrdered(ctx context.Context, poID int) (*core.PurchaseOrder, error)
	ReceivePurchaseOrder(ctx context.Context, poID int, receipts []core.ItemReceipt) (*core.PurchaseOrder, error)
	MarkPurchaseReceived(ctx context.Context, poID int) (*core.PurchaseOrder, error)
	CancelPurchaseOrder(ctx context.Context, poID int) (*core.PurchaseOrder, error)

	// ── Returns ─────────────────────────────────────────────────────────────

	CreateReturn(ctx context.Context, req CreateReturnRequest) (*core.ReturnRequest, error)
	GetReturn(ctx context.Context, returnID int) (*core.ReturnRequest, error)
	AdjustReturnLines(ctx context.Context, req AdjustReturnLinesRequest) ([]core.ReturnLineItem, error)
}
