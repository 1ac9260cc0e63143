package core

import "time"

// ReceivingStatus tracks physical receipt of a returned line.
type ReceivingStatus string

const (
	ReturnNotReceived        ReceivingStatus = "NOT_RECEIVED"
	ReturnReceived           ReceivingStatus = "RECEIVED"
	ReturnReceivedWithIssues ReceivingStatus = "RECEIVED_WITH_ISSUES"
)

// Valid reports whether s is a known receiving status.
func (s ReceivingStatus) Valid() bool {
	switch s {
	case ReturnNotReceived, ReturnReceived, ReturnReceivedWithIssues:
		return true
	}
	return false
}

// CanTransitionTo reports whether a line may move from s to next. RECEIVED
// is final since its units are already back on hand.
func (s ReceivingStatus) CanTransitionTo(next ReceivingStatus) bool {
	switch s {
	case ReturnNotReceived, ReturnReceivedWithIssues:
		return next.Valid()
	case ReturnReceived:
		return next == ReturnReceived
	}
	return false
}

// ReturnRequest groups the lines of one customer return.
type ReturnRequest struct {
	ID          int              `json:"id"`
	OrderID     int              `json:"order_id"`
	WarehouseID int              `json:"warehouse_id"`
	Lines       []ReturnLineItem `json:"lines"`
	CreatedAt   time.Time        `json:"created_at"`
}

// ReturnLineItem is one returned order line. Units re-enter stock at
// WarehouseID when the line becomes RECEIVED.
type ReturnLineItem struct {
	ID              int             `json:"id"`
	ReturnRequestID int             `json:"return_request_id"`
	OrderLineID     int             `json:"order_line_id"`
	VariantID       int             `json:"variant_id"`
	WarehouseID     int             `json:"warehouse_id"`
	Quantity        int             `json:"quantity"`
	Status          ReceivingStatus `json:"status"`
	TrackInventory  bool            `json:"track_inventory"`
	UpdatedAt       time.Time       `json:"updated_at"`
}

// ReturnLineInput is a requested return line.
type ReturnLineInput struct {
	OrderLineID int `json:"order_line_id"`
	Quantity    int `json:"quantity"`
}
