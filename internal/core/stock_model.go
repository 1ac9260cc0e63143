package core

import (
	"fmt"
	"time"
)

// Warehouse is a physical location holding stock. At most one warehouse is
// the default.
type Warehouse struct {
	ID        int       `json:"id"`
	Name      string    `json:"name"`
	Location  string    `json:"location"`
	IsDefault bool      `json:"is_default"`
	CreatedAt time.Time `json:"created_at"`
}

// WarehouseInput holds the fields required to create a warehouse.
type WarehouseInput struct {
	Name      string
	Location  string
	IsDefault bool
}

// Variant is the catalog identity of a purchasable SKU. TrackInventory=false
// marks a backorder-allowed variant whose demand is never reserved.
type Variant struct {
	ID             int    `json:"id"`
	SKU            string `json:"sku"`
	Name           string `json:"name"`
	TrackInventory bool   `json:"track_inventory"`
}

// StockRecord is the stock of one variant in one warehouse.
// Invariant: Quantity >= Reserved >= 0 and Incoming >= 0.
type StockRecord struct {
	ID          int       `json:"id"`
	WarehouseID int       `json:"warehouse_id"`
	VariantID   int       `json:"variant_id"`
	Quantity    int       `json:"quantity"`
	Reserved    int       `json:"reserved"`
	Incoming    int       `json:"incoming"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// Available is the on-hand quantity not yet committed to orders.
func (r StockRecord) Available() int {
	return r.Quantity - r.Reserved
}

// StockDelta is a signed change applied to a StockRecord by AdjustStockTx.
type StockDelta struct {
	Quantity int `json:"quantity"`
	Reserved int `json:"reserved"`
	Incoming int `json:"incoming"`
}

// IsZero reports whether the delta changes nothing.
func (d StockDelta) IsZero() bool {
	return d.Quantity == 0 && d.Reserved == 0 && d.Incoming == 0
}

// Apply returns the record with the delta applied, or ErrConstraintViolation
// if the result would break the stock invariant. The receiver is not modified.
func (r StockRecord) Apply(d StockDelta) (StockRecord, error) {
	next := r
	next.Quantity += d.Quantity
	next.Reserved += d.Reserved
	next.Incoming += d.Incoming

	switch {
	case next.Quantity < 0:
		return r, fmt.Errorf("%w: stock %d: quantity would become %d", ErrConstraintViolation, r.ID, next.Quantity)
	case next.Reserved < 0:
		return r, fmt.Errorf("%w: stock %d: reserved would become %d", ErrConstraintViolation, r.ID, next.Reserved)
	case next.Reserved > next.Quantity:
		return r, fmt.Errorf("%w: stock %d: reserved %d would exceed quantity %d",
			ErrConstraintViolation, r.ID, next.Reserved, next.Quantity)
	case next.Incoming < 0:
		return r, fmt.Errorf("%w: stock %d: incoming would become %d", ErrConstraintViolation, r.ID, next.Incoming)
	}
	return next, nil
}

// MovementReason tags a stock_movements audit row.
type MovementReason string

const (
	MovementManual          MovementReason = "MANUAL"
	MovementReservation     MovementReason = "RESERVATION"
	MovementRelease         MovementReason = "RESERVATION_RELEASE"
	MovementReservationMove MovementReason = "RESERVATION_TRANSFER"
	MovementDispatch        MovementReason = "DISPATCH"
	MovementReconcile       MovementReason = "RECONCILE"
	MovementTransferOut     MovementReason = "TRANSFER_OUT"
	MovementTransferIn      MovementReason = "TRANSFER_IN"
	MovementTransferReceipt MovementReason = "TRANSFER_RECEIPT"
	MovementPurchaseOrdered MovementReason = "PURCHASE_ORDERED"
	MovementPurchaseReceipt MovementReason = "PURCHASE_RECEIPT"
	MovementReturn          MovementReason = "RETURN"
)

// StockMovement is one append-only audit row written by AdjustStockTx.
type StockMovement struct {
	ID            int            `json:"id"`
	StockRecordID int            `json:"stock_record_id"`
	Reason        MovementReason `json:"reason"`
	Reference     string         `json:"reference"`
	QuantityDelta int            `json:"quantity_delta"`
	ReservedDelta int            `json:"reserved_delta"`
	IncomingDelta int            `json:"incoming_delta"`
	CreatedAt     time.Time      `json:"created_at"`
}

// ReservationDrift reports a StockRecord whose reserved column disagrees with
// the sum of its reservations.
type ReservationDrift struct {
	StockRecordID int `json:"stock_record_id"`
	Recorded      int `json:"recorded"`
	Expected      int `json:"expected"`
}
