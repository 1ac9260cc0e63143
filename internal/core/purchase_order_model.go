package core

import (
	"time"

	"github.com/shopspring/decimal"
)

// PurchaseOrderStatus is the lifecycle state of a PurchaseOrder.
type PurchaseOrderStatus string

const (
	PurchaseDraft             PurchaseOrderStatus = "DRAFT"
	PurchasePending           PurchaseOrderStatus = "PENDING"
	PurchaseReceivedAndClosed PurchaseOrderStatus = "RECEIVED_AND_CLOSED"
	PurchaseCancelled         PurchaseOrderStatus = "CANCELLED"
)

// CanTransitionTo reports whether a purchase order may move from s to next.
// Cancellation is only possible before the order is placed with the supplier.
func (s PurchaseOrderStatus) CanTransitionTo(next PurchaseOrderStatus) bool {
	switch s {
	case PurchaseDraft:
		return next == PurchasePending || next == PurchaseCancelled
	case PurchasePending:
		return next == PurchaseReceivedAndClosed
	case PurchaseReceivedAndClosed, PurchaseCancelled:
		return false
	}
	return false
}

// PurchaseOrder brings supplier stock into one destination warehouse.
type PurchaseOrder struct {
	ID          int                 `json:"id"`
	Supplier    string              `json:"supplier"`
	WarehouseID int                 `json:"warehouse_id"`
	Status      PurchaseOrderStatus `json:"status"`
	CreatedBy   string              `json:"created_by"`
	TotalCost   decimal.Decimal     `json:"total_cost"`
	Items       []PurchaseItem      `json:"items"`
	CreatedAt   time.Time           `json:"created_at"`
	UpdatedAt   time.Time           `json:"updated_at"`
}

// PurchaseItem is one variant line of a purchase order.
type PurchaseItem struct {
	ID              int             `json:"id"`
	PurchaseOrderID int             `json:"purchase_order_id"`
	VariantID       int             `json:"variant_id"`
	Ordered         int             `json:"ordered"`
	Received        int             `json:"received"`
	Rejected        int             `json:"rejected"`
	UnitCost        decimal.Decimal `json:"unit_cost"`
}

// LineCost is Ordered × UnitCost.
func (i PurchaseItem) LineCost() decimal.Decimal {
	return i.UnitCost.Mul(decimal.NewFromInt(int64(i.Ordered)))
}

// PurchaseItemInput is a requested purchase line. ID 0 creates a new item on
// update; a known ID updates that item in place.
type PurchaseItemInput struct {
	ID        int             `json:"id,omitempty"`
	VariantID int             `json:"variant_id"`
	Ordered   int             `json:"ordered"`
	UnitCost  decimal.Decimal `json:"unit_cost"`
}

// totalCost sums ordered quantity times unit cost over the inputs.
func totalCost(items []PurchaseItemInput) decimal.Decimal {
	total := decimal.Zero
	for _, it := range items {
		total = total.Add(it.UnitCost.Mul(decimal.NewFromInt(int64(it.Ordered))))
	}
	return total
}
