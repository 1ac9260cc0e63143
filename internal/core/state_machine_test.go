package core

import (
	"errors"
	"testing"

	"github.com/shopspring/decimal"
)

func TestOrderStatus_CanTransitionTo(t *testing.T) {
	all := []OrderStatus{OrderPending, OrderApproved, OrderPacked, OrderShipped,
		OrderDelivered, OrderCancelled, OrderPendingReturn, OrderReturned}
	allowed := map[[2]OrderStatus]bool{
		{OrderPending, OrderApproved}:        true,
		{OrderApproved, OrderPacked}:         true,
		{OrderPacked, OrderShipped}:          true,
		{OrderShipped, OrderDelivered}:       true,
		{OrderPending, OrderCancelled}:       true,
		{OrderApproved, OrderCancelled}:      true,
		{OrderDelivered, OrderPendingReturn}: true,
		{OrderPendingReturn, OrderReturned}:  true,
	}
	for _, from := range all {
		for _, to := range all {
			if got, want := from.CanTransitionTo(to), allowed[[2]OrderStatus{from, to}]; got != want {
				t.Errorf("%s -> %s = %v, want %v", from, to, got, want)
			}
		}
	}
}

func TestOrderStatus_CanForceFulfill(t *testing.T) {
	for s, want := range map[OrderStatus]bool{
		OrderPending: true, OrderApproved: true, OrderPacked: true, OrderShipped: true,
		OrderDelivered: false, OrderCancelled: false, OrderPendingReturn: false, OrderReturned: false,
	} {
		if got := s.CanForceFulfill(); got != want {
			t.Errorf("%s.CanForceFulfill() = %v, want %v", s, got, want)
		}
	}
}

func TestReservationStatus_CanTransitionTo(t *testing.T) {
	tests := []struct {
		from, to ReservationStatus
		want     bool
	}{
		{ReservationNone, ReservationReserved, true},
		{ReservationNone, ReservationFailed, true},
		{ReservationNone, ReservationNotRequired, true},
		{ReservationFailed, ReservationReserved, true},
		{ReservationFailed, ReservationFailed, true},
		{ReservationReserved, ReservationReleased, true},
		{ReservationReserved, ReservationDispatched, true},
		{ReservationReserved, ReservationReserved, false},
		{ReservationReleased, ReservationReserved, false},
		{ReservationDispatched, ReservationReleased, false},
		{ReservationNotRequired, ReservationReserved, false},
		{ReservationFailed, ReservationReleased, false},
		{ReservationReserved, ReservationNone, false},
	}
	for _, tt := range tests {
		if got := tt.from.CanTransitionTo(tt.to); got != tt.want {
			t.Errorf("%q -> %q = %v, want %v", tt.from, tt.to, got, tt.want)
		}
	}
}

func TestReservationStatus_DispatchGuard(t *testing.T) {
	for _, s := range []ReservationStatus{ReservationReserved, ReservationNotRequired} {
		if err := s.dispatchGuard(1); err != nil {
			t.Errorf("%s: unexpected error %v", s, err)
		}
	}
	for _, s := range []ReservationStatus{ReservationNone, ReservationFailed, ReservationReleased, ReservationDispatched} {
		if err := s.dispatchGuard(1); !errors.Is(err, ErrInvalidTransition) {
			t.Errorf("%q: expected ErrInvalidTransition, got %v", s, err)
		}
	}
}

func TestTransferStatus_CanTransitionTo(t *testing.T) {
	tests := []struct {
		from, to TransferStatus
		want     bool
	}{
		{TransferPending, TransferInTransit, true},
		{TransferPending, TransferCancelled, true},
		{TransferPending, TransferCompleted, false},
		{TransferInTransit, TransferCompleted, true},
		{TransferInTransit, TransferCancelled, false},
		{TransferCompleted, TransferInTransit, false},
		{TransferCompleted, TransferCompleted, false},
		{TransferCancelled, TransferPending, false},
	}
	for _, tt := range tests {
		if got := tt.from.CanTransitionTo(tt.to); got != tt.want {
			t.Errorf("%s -> %s = %v, want %v", tt.from, tt.to, got, tt.want)
		}
	}
	if !TransferPending.Editable() || TransferInTransit.Editable() || TransferCompleted.Editable() {
		t.Error("only PENDING transfers are editable")
	}
}

func TestPurchaseOrderStatus_CanTransitionTo(t *testing.T) {
	tests := []struct {
		from, to PurchaseOrderStatus
		want     bool
	}{
		{PurchaseDraft, PurchasePending, true},
		{PurchaseDraft, PurchaseCancelled, true},
		{PurchaseDraft, PurchaseReceivedAndClosed, false},
		{PurchasePending, PurchaseReceivedAndClosed, true},
		{PurchasePending, PurchaseCancelled, false},
		{PurchaseReceivedAndClosed, PurchasePending, false},
		{PurchaseCancelled, PurchaseDraft, false},
	}
	for _, tt := range tests {
		if got := tt.from.CanTransitionTo(tt.to); got != tt.want {
			t.Errorf("%s -> %s = %v, want %v", tt.from, tt.to, got, tt.want)
		}
	}
}

func TestReceivingStatus(t *testing.T) {
	if ReceivingStatus("LOST").Valid() {
		t.Error("unknown status reported valid")
	}
	if !ReturnNotReceived.CanTransitionTo(ReturnReceived) || !ReturnReceivedWithIssues.CanTransitionTo(ReturnReceived) {
		t.Error("non-final statuses must reach RECEIVED")
	}
	if ReturnReceived.CanTransitionTo(ReturnNotReceived) || ReturnReceived.CanTransitionTo(ReturnReceivedWithIssues) {
		t.Error("RECEIVED is final")
	}
	if !ReturnReceived.CanTransitionTo(ReturnReceived) {
		t.Error("RECEIVED -> RECEIVED is a no-op and must be allowed")
	}
	if ReturnNotReceived.CanTransitionTo("LOST") {
		t.Error("transition to an unknown status allowed")
	}
}

func TestValidateReceipt(t *testing.T) {
	tests := []struct {
		name                                   string
		expected, prevRecv, prevRej, recv, rej int
		want                                   error
	}{
		{"partial", 10, 0, 0, 7, 2, nil},
		{"complete", 10, 7, 2, 7, 3, nil},
		{"over expected", 10, 0, 0, 8, 3, ErrInvalidInput},
		{"negative", 10, 0, 0, -1, 0, ErrInvalidInput},
		{"received decreases", 10, 5, 0, 4, 0, ErrInvalidTransition},
		{"rejected decreases", 10, 0, 2, 0, 1, ErrInvalidTransition},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := validateReceipt(1, tt.expected, tt.prevRecv, tt.prevRej, tt.recv, tt.rej)
			if tt.want == nil {
				if err != nil {
					t.Fatalf("unexpected error: %v", err)
				}
				return
			}
			if !errors.Is(err, tt.want) {
				t.Fatalf("expected %v, got %v", tt.want, err)
			}
		})
	}

	if isReconciled(10, 7, 2) {
		t.Error("7+2 of 10 reported reconciled")
	}
	if !isReconciled(10, 7, 3) {
		t.Error("7+3 of 10 not reconciled")
	}
}

func TestIndexReceipts(t *testing.T) {
	if _, err := indexReceipts(nil); !errors.Is(err, ErrInvalidInput) {
		t.Errorf("empty receipts: got %v", err)
	}
	if _, err := indexReceipts([]ItemReceipt{{ItemID: 1}, {ItemID: 1}}); !errors.Is(err, ErrInvalidInput) {
		t.Errorf("duplicate receipts: got %v", err)
	}
	byID, err := indexReceipts([]ItemReceipt{{ItemID: 1, Received: 2}, {ItemID: 2, Rejected: 1}})
	if err != nil || len(byID) != 2 || byID[1].Received != 2 {
		t.Errorf("byID = %+v, err = %v", byID, err)
	}
}

func TestPurchaseCosts(t *testing.T) {
	items := []PurchaseItemInput{
		{VariantID: 1, Ordered: 10, UnitCost: decimal.RequireFromString("2.50")},
		{VariantID: 2, Ordered: 3, UnitCost: decimal.RequireFromString("0.3333")},
	}
	if got, want := totalCost(items), decimal.RequireFromString("25.9999"); !got.Equal(want) {
		t.Errorf("totalCost = %s, want %s", got, want)
	}
	line := PurchaseItem{Ordered: 4, UnitCost: decimal.RequireFromString("1.25")}
	if got := line.LineCost(); !got.Equal(decimal.NewFromInt(5)) {
		t.Errorf("LineCost = %s, want 5", got)
	}
}
