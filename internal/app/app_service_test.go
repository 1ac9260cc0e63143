package app

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"inventory-ledger/internal/core"
)

type fakeOrders struct {
	core.OrderService
	called []string
}

func (f *fakeOrders) record(name string, id int) (*core.Order, error) {
	f.called = append(f.called, name)
	return &core.Order{ID: id}, nil
}

func (f *fakeOrders) ApproveOrder(_ context.Context, id int) (*core.Order, error) {
	return f.record("approve", id)
}
func (f *fakeOrders) PackOrder(_ context.Context, id int) (*core.Order, error) {
	return f.record("pack", id)
}
func (f *fakeOrders) ShipOrder(_ context.Context, id int) (*core.Order, error) {
	return f.record("ship", id)
}
func (f *fakeOrders) DeliverOrder(_ context.Context, id int) (*core.Order, error) {
	return f.record("deliver", id)
}
func (f *fakeOrders) CancelOrder(_ context.Context, id int) (*core.Order, error) {
	return f.record("cancel", id)
}
func (f *fakeOrders) RequestReturn(_ context.Context, id int) (*core.Order, error) {
	return f.record("request-return", id)
}
func (f *fakeOrders) MarkReturned(_ context.Context, id int) (*core.Order, error) {
	return f.record("mark-returned", id)
}
func (f *fakeOrders) ForceFulfill(_ context.Context, id int) (*core.Order, error) {
	return f.record("force-fulfill", id)
}

type fakeEngine struct {
	core.ReservationEngine
	reserveErr error
	listed     int
}

func (f *fakeEngine) Reserve(context.Context, int) (core.ReservationStatus, error) {
	if f.reserveErr != nil {
		return core.ReservationFailed, f.reserveErr
	}
	return core.ReservationReserved, nil
}

func (f *fakeEngine) ListReservations(_ context.Context, orderID int) ([]core.Reservation, error) {
	f.listed++
	return []core.Reservation{{ID: 1, Quantity: 2}}, nil
}

type fakeLedger struct {
	core.StockLedger
	drift    []core.ReservationDrift
	adjusted *core.StockDelta
}

func (f *fakeLedger) AuditReservations(context.Context) ([]core.ReservationDrift, error) {
	return f.drift, nil
}

func (f *fakeLedger) ReconcileAll(context.Context) ([]core.ReservationDrift, error) {
	return f.drift, nil
}

func (f *fakeLedger) AdjustStock(_ context.Context, w, v int, d core.StockDelta, _ core.MovementReason) (*core.StockRecord, error) {
	f.adjusted = &d
	return &core.StockRecord{WarehouseID: w, VariantID: v, Quantity: d.Quantity}, nil
}

func TestParseOrderAction(t *testing.T) {
	for _, s := range []string{"approve", "pack", "ship", "deliver", "cancel", "request-return", "mark-returned", "force-fulfill"} {
		a, err := ParseOrderAction(s)
		if err != nil || string(a) != s {
			t.Errorf("ParseOrderAction(%q) = (%q, %v)", s, a, err)
		}
	}
	for _, s := range []string{"", "reserve", "APPROVE"} {
		if _, err := ParseOrderAction(s); !errors.Is(err, core.ErrInvalidInput) {
			t.Errorf("ParseOrderAction(%q): expected ErrInvalidInput, got %v", s, err)
		}
	}
}

func TestTransitionOrder_Dispatch(t *testing.T) {
	orders := &fakeOrders{}
	svc := NewAppService(Services{Orders: orders}, nil)

	actions := []OrderAction{ActionApprove, ActionPack, ActionShip, ActionDeliver,
		ActionCancel, ActionRequestReturn, ActionMarkReturned, ActionForceFulfill}
	for _, a := range actions {
		res, err := svc.TransitionOrder(context.Background(), 42, a)
		if err != nil {
			t.Fatalf("%s: %v", a, err)
		}
		if res.Order.ID != 42 {
			t.Errorf("%s: order id = %d", a, res.Order.ID)
		}
	}
	for i, a := range actions {
		if orders.called[i] != string(a) {
			t.Errorf("call %d = %s, want %s", i, orders.called[i], a)
		}
	}

	if _, err := svc.TransitionOrder(context.Background(), 42, "teleport"); !errors.Is(err, core.ErrInvalidInput) {
		t.Errorf("unknown action: expected ErrInvalidInput, got %v", err)
	}
}

func TestReserveOrder(t *testing.T) {
	engine := &fakeEngine{}
	svc := NewAppService(Services{Reservations: engine}, nil)

	res, err := svc.ReserveOrder(context.Background(), 5)
	if err != nil {
		t.Fatalf("ReserveOrder: %v", err)
	}
	if res.Status != core.ReservationReserved || len(res.Reservations) != 1 {
		t.Errorf("result = %+v", res)
	}

	engine.reserveErr = fmt.Errorf("%w: variant 1", core.ErrInsufficientStock)
	res, err = svc.ReserveOrder(context.Background(), 5)
	if !errors.Is(err, core.ErrInsufficientStock) {
		t.Fatalf("expected ErrInsufficientStock, got %v", err)
	}
	if res == nil || res.Status != core.ReservationFailed {
		t.Errorf("shortfall result = %+v, want FAILED", res)
	}

	engine.reserveErr = fmt.Errorf("%w: order 5", core.ErrNotFound)
	if res, err := svc.ReserveOrder(context.Background(), 5); res != nil || !errors.Is(err, core.ErrNotFound) {
		t.Errorf("not found = (%+v, %v), want (nil, ErrNotFound)", res, err)
	}
}

func TestAdjustStock(t *testing.T) {
	ledger := &fakeLedger{}
	svc := NewAppService(Services{Ledger: ledger}, nil)

	if _, err := svc.AdjustStock(context.Background(), AdjustStockRequest{WarehouseID: 1, VariantID: 1}); !errors.Is(err, core.ErrInvalidInput) {
		t.Fatalf("zero adjustment: expected ErrInvalidInput, got %v", err)
	}
	if ledger.adjusted != nil {
		t.Fatal("ledger called for a zero adjustment")
	}

	if _, err := svc.AdjustStock(context.Background(), AdjustStockRequest{WarehouseID: 1, VariantID: 1, QuantityDelta: 3, IncomingDelta: -1}); err != nil {
		t.Fatalf("AdjustStock: %v", err)
	}
	if *ledger.adjusted != (core.StockDelta{Quantity: 3, Incoming: -1}) {
		t.Errorf("delta = %+v", *ledger.adjusted)
	}
}

func TestRunAudit_LogsDrift(t *testing.T) {
	obs, logs := observer.New(zap.InfoLevel)
	ledger := &fakeLedger{drift: []core.ReservationDrift{{StockRecordID: 2, Recorded: 4, Expected: 1}}}
	svc := NewAppService(Services{Ledger: ledger}, zap.New(obs))

	res, err := svc.RunAudit(context.Background(), false)
	if err != nil {
		t.Fatalf("RunAudit: %v", err)
	}
	if res.Reconciled || len(res.Drift) != 1 {
		t.Errorf("result = %+v", res)
	}
	if logs.FilterMessage("reservation drift detected").Len() != 1 {
		t.Error("drift was not logged")
	}

	res, err = svc.RunAudit(context.Background(), true)
	if err != nil || !res.Reconciled {
		t.Errorf("reconcile = (%+v, %v)", res, err)
	}
}
