package core

import "time"

// TransferStatus is the lifecycle state of a StockTransfer.
type TransferStatus string

const (
	TransferPending   TransferStatus = "PENDING"
	TransferInTransit TransferStatus = "IN_TRANSIT"
	TransferCompleted TransferStatus = "COMPLETED"
	TransferCancelled TransferStatus = "CANCELLED"
)

// CanTransitionTo reports whether a transfer may move from s to next.
func (s TransferStatus) CanTransitionTo(next TransferStatus) bool {
	switch s {
	case TransferPending:
		return next == TransferInTransit || next == TransferCancelled
	case TransferInTransit:
		return next == TransferCompleted
	case TransferCompleted, TransferCancelled:
		return false
	}
	return false
}

// Editable reports whether items may still be added, removed or resized.
func (s TransferStatus) Editable() bool {
	return s == TransferPending
}

// StockTransfer moves stock between two different warehouses.
type StockTransfer struct {
	ID              int            `json:"id"`
	FromWarehouseID int            `json:"from_warehouse_id"`
	ToWarehouseID   int            `json:"to_warehouse_id"`
	Status          TransferStatus `json:"status"`
	CreatedBy       string         `json:"created_by"`
	Items           []TransferItem `json:"items"`
	CreatedAt       time.Time      `json:"created_at"`
	UpdatedAt       time.Time      `json:"updated_at"`
}

// TransferItem is one variant line of a transfer.
type TransferItem struct {
	ID         int `json:"id"`
	TransferID int `json:"transfer_id"`
	VariantID  int `json:"variant_id"`
	Quantity   int `json:"quantity"`
	Received   int `json:"received"`
	Rejected   int `json:"rejected"`
}

// TransferItemInput is a requested transfer line.
type TransferItemInput struct {
	VariantID int `json:"variant_id"`
	Quantity  int `json:"quantity"`
}
