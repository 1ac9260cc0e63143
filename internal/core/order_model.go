package core

import (
	"fmt"
	"time"
)

// OrderStatus is the fulfillment status of an order.
//
//	PENDING → APPROVED → PACKED → SHIPPED → DELIVERED → PENDING_RETURN → RETURNED
//	PENDING | APPROVED → CANCELLED
type OrderStatus string

const (
	OrderPending       OrderStatus = "PENDING"
	OrderApproved      OrderStatus = "APPROVED"
	OrderPacked        OrderStatus = "PACKED"
	OrderShipped       OrderStatus = "SHIPPED"
	OrderDelivered     OrderStatus = "DELIVERED"
	OrderCancelled     OrderStatus = "CANCELLED"
	OrderPendingReturn OrderStatus = "PENDING_RETURN"
	OrderReturned      OrderStatus = "RETURNED"
)

// CanTransitionTo reports whether the fulfillment state machine permits
// moving from s to next.
func (s OrderStatus) CanTransitionTo(next OrderStatus) bool {
	switch next {
	case OrderPending:
		return false
	case OrderApproved:
		return s == OrderPending
	case OrderPacked:
		return s == OrderApproved
	case OrderShipped:
		return s == OrderPacked
	case OrderDelivered:
		return s == OrderShipped
	case OrderCancelled:
		return s == OrderPending || s == OrderApproved
	case OrderPendingReturn:
		return s == OrderDelivered
	case OrderReturned:
		return s == OrderPendingReturn
	}
	return false
}

// CanForceFulfill reports whether the force-fulfill bypass may jump from s
// straight to DELIVERED.
func (s OrderStatus) CanForceFulfill() bool {
	switch s {
	case OrderPending, OrderApproved, OrderPacked, OrderShipped:
		return true
	case OrderDelivered, OrderCancelled, OrderPendingReturn, OrderReturned:
		return false
	}
	return false
}

// AcceptsReservation reports whether stock may still be committed to an
// order in status s.
func (s OrderStatus) AcceptsReservation() bool {
	return s == OrderPending || s == OrderApproved
}

// ReservationStatus tracks the order's stock commitment. The zero value
// ReservationNone means no reservation has been attempted yet.
type ReservationStatus string

const (
	ReservationNone        ReservationStatus = ""
	ReservationNotRequired ReservationStatus = "NOT_REQUIRED"
	ReservationReserved    ReservationStatus = "RESERVED"
	ReservationReleased    ReservationStatus = "RELEASED"
	ReservationFailed      ReservationStatus = "FAILED"
	ReservationDispatched  ReservationStatus = "DISPATCHED"
)

// CanTransitionTo reports whether the reservation engine may move from s to next.
func (s ReservationStatus) CanTransitionTo(next ReservationStatus) bool {
	switch next {
	case ReservationNone:
		return false
	case ReservationNotRequired:
		return s == ReservationNone
	case ReservationReserved, ReservationFailed:
		return s == ReservationNone || s == ReservationFailed
	case ReservationReleased, ReservationDispatched:
		return s == ReservationReserved
	}
	return false
}

// dispatchGuard explains why an order in reservation status s cannot be
// dispatched, or returns nil when dispatch may proceed. NOT_REQUIRED is
// handled by the caller as a no-op.
func (s ReservationStatus) dispatchGuard(orderID int) error {
	switch s {
	case ReservationReserved, ReservationNotRequired:
		return nil
	case ReservationNone, ReservationFailed:
		return fmt.Errorf("%w: order %d must be reserved before dispatch", ErrInvalidTransition, orderID)
	case ReservationReleased:
		return fmt.Errorf("%w: cannot dispatch released order %d", ErrInvalidTransition, orderID)
	case ReservationDispatched:
		return fmt.Errorf("%w: order %d already dispatched", ErrInvalidTransition, orderID)
	}
	return fmt.Errorf("%w: order %d has unknown reservation status %q", ErrInvalidTransition, orderID, s)
}

// Order is the fulfillment view of a customer order.
type Order struct {
	ID                int               `json:"id"`
	Status            OrderStatus       `json:"status"`
	ReservationStatus ReservationStatus `json:"reservation_status"`
	CreatedBy         string            `json:"created_by"`
	Lines             []OrderLine       `json:"lines"`
	CreatedAt         time.Time         `json:"created_at"`
	UpdatedAt         time.Time         `json:"updated_at"`
}

// OrderLine is one line of an order. TrackInventory is copied from the
// variant when the order is created.
type OrderLine struct {
	ID             int    `json:"id"`
	OrderID        int    `json:"order_id"`
	VariantID      int    `json:"variant_id"`
	SKU            string `json:"sku"`
	Quantity       int    `json:"quantity"`
	TrackInventory bool   `json:"track_inventory"`
}

// OrderLineInput is used when creating a new order.
type OrderLineInput struct {
	VariantID int `json:"variant_id"`
	Quantity  int `json:"quantity"`
}

// Reservation commits part of one stock record to one order line.
type Reservation struct {
	ID            int       `json:"id"`
	StockRecordID int       `json:"stock_record_id"`
	OrderLineID   int       `json:"order_line_id"`
	WarehouseID   int       `json:"warehouse_id"`
	VariantID     int       `json:"variant_id"`
	Quantity      int       `json:"quantity"`
	Purpose       string    `json:"purpose"`
	CreatedAt     time.Time `json:"created_at"`
}

// DefaultReservationPurpose tags reservations created by Reserve.
const DefaultReservationPurpose = "Pending Order"
