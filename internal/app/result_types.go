package app

import "inventory-ledger/internal/core"

// OrderResult is returned by order lifecycle operations.
type OrderResult struct {
	Order        *core.Order        `json:"order"`
	Reservations []core.Reservation `json:"reservations"`
}

// OrderListResult is returned by ListOrders.
type OrderListResult struct {
	Orders []core.Order `json:"orders"`
}

// ReservationResult is returned by the reservation operations.
type ReservationResult struct {
	OrderID      int                    `json:"order_id"`
	Status       core.ReservationStatus `json:"reservation_status"`
	Reservations []core.Reservation     `json:"reservations"`
}

// WarehouseListResult is returned by ListWarehouses.
type WarehouseListResult struct {
	Warehouses []core.Warehouse `json:"warehouses"`
}

// StockResult is returned by ListStock.
type StockResult struct {
	Records []core.StockRecord `json:"records"`
}

// AuditResult is returned by RunAudit.
type AuditResult struct {
	Reconciled bool                    `json:"reconciled"`
	Drift      []core.ReservationDrift `json:"drift"`
}
