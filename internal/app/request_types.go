package app

import (
	"fmt"

	"inventory-ledger/internal/core"
)

// OrderAction names an order fulfillment transition.
type OrderAction string

const (
	ActionApprove       OrderAction = "approve"
	ActionPack          OrderAction = "pack"
	ActionShip          OrderAction = "ship"
	ActionDeliver       OrderAction = "deliver"
	ActionCancel        OrderAction = "cancel"
	ActionRequestReturn OrderAction = "request-return"
	ActionMarkReturned  OrderAction = "mark-returned"
	ActionForceFulfill  OrderAction = "force-fulfill"
)

// ParseOrderAction validates a transition name taken from a URL or flag.
func ParseOrderAction(s string) (OrderAction, error) {
	switch a := OrderAction(s); a {
	case ActionApprove, ActionPack, ActionShip, ActionDeliver, ActionCancel,
		ActionRequestReturn, ActionMarkReturned, ActionForceFulfill:
		return a, nil
	}
	return "", fmt.Errorf("%w: unknown order action %q", core.ErrInvalidInput, s)
}

// CreateOrderRequest is the input for creating a new order.
type CreateOrderRequest struct {
	CreatedBy string                `json:"created_by"`
	Lines     []core.OrderLineInput `json:"lines"`
}

// CreateWarehouseRequest is the input for creating a warehouse.
type CreateWarehouseRequest struct {
	Name      string `json:"name"`
	Location  string `json:"location"`
	IsDefault bool   `json:"is_default"`
}

// UpsertVariantRequest is the catalog feed's input for a variant.
type UpsertVariantRequest struct {
	SKU            string `json:"sku"`
	Name           string `json:"name"`
	TrackInventory bool   `json:"track_inventory"`
}

// AdjustStockRequest is an operator stock correction. Only on-hand quantity
// and incoming may be changed; reserved is owned by the reservation engine.
type AdjustStockRequest struct {
	WarehouseID   int `json:"warehouse_id"`
	VariantID     int `json:"variant_id"`
	QuantityDelta int `json:"quantity_delta"`
	IncomingDelta int `json:"incoming_delta"`
}

// CreateTransferRequest is the input for creating a stock transfer.
type CreateTransferRequest struct {
	FromWarehouseID int                      `json:"from_warehouse_id"`
	ToWarehouseID   int                      `json:"to_warehouse_id"`
	CreatedBy       string                   `json:"created_by"`
	Items           []core.TransferItemInput `json:"items"`
}

// CreatePurchaseOrderRequest is the input for creating a purchase order.
type CreatePurchaseOrderRequest struct {
	Supplier    string                   `json:"supplier"`
	WarehouseID int                      `json:"warehouse_id"`
	CreatedBy   string                   `json:"created_by"`
	Items       []core.PurchaseItemInput `json:"items"`
}

// UpdatePurchaseOrderRequest rewrites a DRAFT purchase order. Items missing
// from the list are deleted.
type UpdatePurchaseOrderRequest struct {
	Supplier string                   `json:"supplier"`
	Items    []core.PurchaseItemInput `json:"items"`
}

// CreateReturnRequest records a customer return.
type CreateReturnRequest struct {
	OrderID     int                    `json:"order_id"`
	WarehouseID int                    `json:"warehouse_id"`
	Lines       []core.ReturnLineInput `json:"lines"`
}

// AdjustReturnLinesRequest moves a batch of return lines to one status.
type AdjustReturnLinesRequest struct {
	LineIDs []int                `json:"line_ids"`
	Status  core.ReceivingStatus `json:"status"`
}
