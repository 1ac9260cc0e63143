package app

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"inventory-ledger/internal/core"
)

// Services bundles the ledger services the application facade drives.
type Services struct {
	Ledger       core.StockLedger
	Reservations core.ReservationEngine
	Orders       core.OrderService
	Transfers    core.TransferService
	Purchases    core.PurchaseOrderService
	Returns      core.ReturnService
}

// NewServices wires every ledger service onto one pool.
func NewServices(pool *pgxpool.Pool, strategy core.AllocationStrategy, publisher core.EventPublisher, logger *zap.Logger) Services {
	ledger := core.NewStockLedger(pool, logger)
	engine := core.NewReservationEngine(pool, ledger, strategy, publisher, logger)
	return Services{
		Ledger:       ledger,
		Reservations: engine,
		Orders:       core.NewOrderService(pool, engine, publisher, logger),
		Transfers:    core.NewTransferService(pool, ledger, publisher, logger),
		Purchases:    core.NewPurchaseOrderService(pool, ledger, publisher, logger),
		Returns:      core.NewReturnService(pool, ledger, publisher, logger),
	}
}

type appService struct {
	svc    Services
	logger *zap.Logger
}

// NewAppService constructs an appService that satisfies ApplicationService.
func NewAppService(svc Services, logger *zap.Logger) ApplicationService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &appService{svc: svc, logger: logger}
}

// ── Orders ──────────────────────────────────────────────────────────────────

func (s *appService) CreateOrder(ctx context.Context, req CreateOrderRequest) (*OrderResult, error) {
	order, err := s.svc.Orders.CreateOrder(ctx, req.CreatedBy, req.Lines)
	if err != nil {
		return nil, err
	}
	return &OrderResult{Order: order}, nil
}

func (s *appService) GetOrder(ctx context.Context, orderID int) (*OrderResult, error) {
	order, err := s.svc.Orders.GetOrder(ctx, orderID)
	if err != nil {
		return nil, err
	}
	reservations, err := s.svc.Reservations.ListReservations(ctx, orderID)
	if err != nil {
		return nil, err
	}
	return &OrderResult{Order: order, Reservations: reservations}, nil
}

func (s *appService) ListOrders(ctx context.Context, status string) (*OrderListResult, error) {
	orders, err := s.svc.Orders.ListOrders(ctx, core.OrderStatus(status))
	if err != nil {
		return nil, err
	}
	return &OrderListResult{Orders: orders}, nil
}

func (s *appService) TransitionOrder(ctx context.Context, orderID int, action OrderAction) (*OrderResult, error) {
	var (
		order *core.Order
		err   error
	)
	switch action {
	case ActionApprove:
		order, err = s.svc.Orders.ApproveOrder(ctx, orderID)
	case ActionPack:
		order, err = s.svc.Orders.PackOrder(ctx, orderID)
	case ActionShip:
		order, err = s.svc.Orders.ShipOrder(ctx, orderID)
	case ActionDeliver:
		order, err = s.svc.Orders.DeliverOrder(ctx, orderID)
	case ActionCancel:
		order, err = s.svc.Orders.CancelOrder(ctx, orderID)
	case ActionRequestReturn:
		order, err = s.svc.Orders.RequestReturn(ctx, orderID)
	case ActionMarkReturned:
		order, err = s.svc.Orders.MarkReturned(ctx, orderID)
	case ActionForceFulfill:
		order, err = s.svc.Orders.ForceFulfill(ctx, orderID)
	default:
		return nil, fmt.Errorf("%w: unknown order action %q", core.ErrInvalidInput, action)
	}
	if err != nil {
		return nil, err
	}
	return &OrderResult{Order: order}, nil
}

// ── Reservations ────────────────────────────────────────────────────────────

func (s *appService) ReserveOrder(ctx context.Context, orderID int) (*ReservationResult, error) {
	return s.reservationResult(ctx, orderID, s.svc.Reservations.Reserve)
}

func (s *appService) RetryReservation(ctx context.Context, orderID int) (*ReservationResult, error) {
	return s.reservationResult(ctx, orderID, s.svc.Reservations.RetryReservation)
}

func (s *appService) ReleaseOrder(ctx context.Context, orderID int) (*ReservationResult, error) {
	return s.reservationResult(ctx, orderID, s.svc.Reservations.Release)
}

func (s *appService) DispatchOrder(ctx context.Context, orderID int) (*ReservationResult, error) {
	return s.reservationResult(ctx, orderID, s.svc.Reservations.DeductOnDispatch)
}

// reservationResult runs op and attaches the order's remaining reservations.
// A stock shortfall still yields a result so callers can show FAILED.
func (s *appService) reservationResult(ctx context.Context, orderID int,
	op func(context.Context, int) (core.ReservationStatus, error)) (*ReservationResult, error) {
	status, err := op(ctx, orderID)
	if err != nil {
		if errors.Is(err, core.ErrInsufficientStock) {
			return &ReservationResult{OrderID: orderID, Status: status}, err
		}
		return nil, err
	}
	reservations, err := s.svc.Reservations.ListReservations(ctx, orderID)
	if err != nil {
		return nil, err
	}
	return &ReservationResult{OrderID: orderID, Status: status, Reservations: reservations}, nil
}

func (s *appService) TransferReservation(ctx context.Context, reservationID, warehouseID int) (*core.Reservation, error) {
	return s.svc.Reservations.TransferReservation(ctx, reservationID, warehouseID)
}

// ── Stock and warehouses ────────────────────────────────────────────────────

func (s *appService) ListWarehouses(ctx context.Context) (*WarehouseListResult, error) {
	warehouses, err := s.svc.Ledger.ListWarehouses(ctx)
	if err != nil {
		return nil, err
	}
	return &WarehouseListResult{Warehouses: warehouses}, nil
}

func (s *appService) CreateWarehouse(ctx context.Context, req CreateWarehouseRequest) (*core.Warehouse, error) {
	return s.svc.Ledger.CreateWarehouse(ctx, core.WarehouseInput{
		Name:      req.Name,
		Location:  req.Location,
		IsDefault: req.IsDefault,
	})
}

func (s *appService) SetDefaultWarehouse(ctx context.Context, warehouseID int) (*core.Warehouse, error) {
	return s.svc.Ledger.SetDefaultWarehouse(ctx, warehouseID)
}

func (s *appService) DeleteWarehouse(ctx context.Context, warehouseID int) error {
	return s.svc.Ledger.DeleteWarehouse(ctx, warehouseID)
}

func (s *appService) UpsertVariant(ctx context.Context, req UpsertVariantRequest) (*core.Variant, error) {
	return s.svc.Ledger.UpsertVariant(ctx, req.SKU, req.Name, req.TrackInventory)
}

func (s *appService) ListStock(ctx context.Context, variantID int) (*StockResult, error) {
	records, err := s.svc.Ledger.ListStock(ctx, variantID)
	if err != nil {
		return nil, err
	}
	return &StockResult{Records: records}, nil
}

func (s *appService) AdjustStock(ctx context.Context, req AdjustStockRequest) (*core.StockRecord, error) {
	delta := core.StockDelta{Quantity: req.QuantityDelta, Incoming: req.IncomingDelta}
	if delta.IsZero() {
		return nil, fmt.Errorf("%w: adjustment changes nothing", core.ErrInvalidInput)
	}
	return s.svc.Ledger.AdjustStock(ctx, req.WarehouseID, req.VariantID, delta, core.MovementManual)
}

func (s *appService) ListMovements(ctx context.Context, stockID int) ([]core.StockMovement, error) {
	return s.svc.Ledger.ListMovements(ctx, stockID)
}

func (s *appService) RunAudit(ctx context.Context, reconcile bool) (*AuditResult, error) {
	var (
		drift []core.ReservationDrift
		err   error
	)
	if reconcile {
		drift, err = s.svc.Ledger.ReconcileAll(ctx)
	} else {
		drift, err = s.svc.Ledger.AuditReservations(ctx)
	}
	if err != nil {
		return nil, err
	}
	if len(drift) > 0 {
		s.logger.Warn("reservation drift detected",
			zap.Int("records", len(drift)),
			zap.Bool("reconciled", reconcile),
		)
	}
	return &AuditResult{Reconciled: reconcile, Drift: drift}, nil
}

// ── Transfers ───────────────────────────────────────────────────────────────

func (s *appService) CreateTransfer(ctx context.Context, req CreateTransferRequest) (*core.StockTransfer, error) {
	return s.svc.Transfers.CreateTransfer(ctx, req.FromWarehouseID, req.ToWarehouseID, req.CreatedBy, req.Items)
}

func (s *appService) GetTransfer(ctx context.Context, transferID int) (*core.StockTransfer, error) {
	return s.svc.Transfers.GetTransfer(ctx, transferID)
}

func (s *appService) ListTransfers(ctx context.Context, status string) ([]core.StockTransfer, error) {
	return s.svc.Transfers.ListTransfers(ctx, core.TransferStatus(status))
}

func (s *appService) UpdateTransferItems(ctx context.Context, transferID int, items []core.TransferItemInput) (*core.StockTransfer, error) {
	return s.svc.Transfers.UpdateTransferItems(ctx, transferID, items)
}

func (s *appService) MarkTransferInTransit(ctx context.Context, transferID int) (*core.StockTransfer, error) {
	return s.svc.Transfers.MarkInTransit(ctx, transferID)
}

func (s *appService) ReceiveTransfer(ctx context.Context, transferID int, receipts []core.ItemReceipt) (*core.StockTransfer, error) {
	return s.svc.Transfers.ReceiveTransfer(ctx, transferID, receipts)
}

func (s *appService) CompleteTransfer(ctx context.Context, transferID int) (*core.StockTransfer, error) {
	return s.svc.Transfers.MarkCompleted(ctx, transferID)
}

func (s *appService) CancelTransfer(ctx context.Context, transferID int) (*core.StockTransfer, error) {
	return s.svc.Transfers.CancelTransfer(ctx, transferID)
}

// ── Purchase orders ─────────────────────────────────────────────────────────

func (s *appService) CreatePurchaseOrder(ctx context.Context, req CreatePurchaseOrderRequest) (*core.PurchaseOrder, error) {
	return s.svc.Purchases.CreatePurchaseOrder(ctx, req.Supplier, req.WarehouseID, req.CreatedBy, req.Items)
}

func (s *appService) GetPurchaseOrder(ctx context.Context, poID int) (*core.PurchaseOrder, error) {
	return s.svc.Purchases.GetPurchaseOrder(ctx, poID)
}

func (s *appService) ListPurchaseOrders(ctx context.Context, status string) ([]core.PurchaseOrder, error) {
	return s.svc.Purchases.ListPurchaseOrders(ctx, core.PurchaseOrderStatus(status))
}

func (s *appService) UpdatePurchaseOrder(ctx context.Context, poID int, req UpdatePurchaseOrderRequest) (*core.PurchaseOrder, error) {
	return s.svc.Purchases.UpdatePurchaseOrder(ctx, poID, req.Supplier, req.Items)
}

func (s *appService) MarkPurchaseOrdered(ctx context.Context, poID int) (*core.PurchaseOrder, error) {
	return s.svc.Purchases.MarkAsOrdered(ctx, poID)
}

func (s *appService) ReceivePurchaseOrder(ctx context.Context, poID int, receipts []core.ItemReceipt) (*core.PurchaseOrder, error) {
	return s.svc.Purchases.ReceivePurchaseOrder(ctx, poID, receipts)
}

func (s *appService) MarkPurchaseReceived(ctx context.Context, poID int) (*core.PurchaseOrder, error) {
	return s.svc.Purchases.MarkAsReceived(ctx, poID)
}

func (s *appService) CancelPurchaseOrder(ctx context.Context, poID int) (*core.PurchaseOrder, error) {
	return s.svc.Purchases.CancelPurchaseOrder(ctx, poID)
}

// ── Returns ─────────────────────────────────────────────────────────────────

func (s *appService) CreateReturn(ctx context.Context, req CreateReturnRequest) (*core.ReturnRequest, error) {
	return s.svc.Returns.CreateReturnRequest(ctx, req.OrderID, req.WarehouseID, req.Lines)
}

func (s *appService) GetReturn(ctx context.Context, returnID int) (*core.ReturnRequest, error) {
	return s.svc.Returns.GetReturnRequest(ctx, returnID)
}

func (s *appService) AdjustReturnLines(ctx context.Context, req AdjustReturnLinesRequest) ([]core.ReturnLineItem, error) {
	return s.svc.Returns.AdjustReturnLineItems(ctx, req.LineIDs, req.Status)
}
