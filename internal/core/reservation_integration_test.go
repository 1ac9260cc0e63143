package core_test

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"

	"inventory-ledger/internal/core"
)

func createOrder(t *testing.T, env *testEnv, lines ...core.OrderLineInput) *core.Order {
	t.Helper()
	order, err := env.orders.CreateOrder(env.ctx, "test", lines)
	if err != nil {
		t.Fatalf("CreateOrder: %v", err)
	}
	return order
}

func reservedBy(t *testing.T, env *testEnv, orderID int) map[int]int {
	t.Helper()
	reservations, err := env.engine.ListReservations(env.ctx, orderID)
	if err != nil {
		t.Fatalf("ListReservations: %v", err)
	}
	byWarehouse := make(map[int]int)
	for _, r := range reservations {
		byWarehouse[r.WarehouseID] += r.Quantity
	}
	return byWarehouse
}

// recordingPublisher keeps every published event in order.
type recordingPublisher struct {
	mu     sync.Mutex
	events []core.LedgerEvent
}

func (p *recordingPublisher) Publish(_ context.Context, evt core.LedgerEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, evt)
	return nil
}

// statuses returns the statuses published for one entity and event type.
func (p *recordingPublisher) statuses(typ core.EventType, entityID int) []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	var out []string
	for _, e := range p.events {
		if e.Type == typ && e.EntityID == entityID {
			out = append(out, e.Status)
		}
	}
	return out
}

// ── Tests ─────────────────────────────────────────────────────────────────────

func TestReserve_DrainsSmallestWarehouseFirst(t *testing.T) {
	env := setupTestDB(t)
	order := createOrder(t, env, core.OrderLineInput{VariantID: env.variant, Quantity: 7})

	status, err := env.engine.Reserve(env.ctx, order.ID)
	if err != nil {
		t.Fatalf("Reserve: %v", err)
	}
	if status != core.ReservationReserved {
		t.Fatalf("status = %s, want RESERVED", status)
	}

	assertStock(t, env.stock(t, env.w1, env.variant), 5, 5, 0)
	assertStock(t, env.stock(t, env.w2, env.variant), 6, 2, 0)

	got := reservedBy(t, env, order.ID)
	if got[env.w1] != 5 || got[env.w2] != 2 {
		t.Errorf("reservations by warehouse = %v, want W1:5 W2:2", got)
	}

	reloaded, err := env.orders.GetOrder(env.ctx, order.ID)
	if err != nil {
		t.Fatalf("GetOrder: %v", err)
	}
	if reloaded.ReservationStatus != core.ReservationReserved {
		t.Errorf("order reservation status = %q, want RESERVED", reloaded.ReservationStatus)
	}

	if _, err := env.engine.Reserve(env.ctx, order.ID); !errors.Is(err, core.ErrInvalidTransition) {
		t.Errorf("second Reserve: expected ErrInvalidTransition, got %v", err)
	}
}

func TestReserve_ShortfallLeavesNothingBehind(t *testing.T) {
	env := setupTestDB(t)
	order := createOrder(t, env, core.OrderLineInput{VariantID: env.variant, Quantity: 15})

	status, err := env.engine.Reserve(env.ctx, order.ID)
	if !errors.Is(err, core.ErrInsufficientStock) {
		t.Fatalf("expected ErrInsufficientStock, got %v", err)
	}
	if status != core.ReservationFailed {
		t.Errorf("status = %q, want FAILED", status)
	}
	if !strings.Contains(err.Error(), "SKU-V") {
		t.Errorf("error %q does not name the variant", err)
	}

	assertStock(t, env.stock(t, env.w1, env.variant), 5, 0, 0)
	assertStock(t, env.stock(t, env.w2, env.variant), 6, 0, 0)
	if got := reservedBy(t, env, order.ID); len(got) != 0 {
		t.Errorf("reservations persisted after shortfall: %v", got)
	}

	reloaded, err := env.orders.GetOrder(env.ctx, order.ID)
	if err != nil {
		t.Fatalf("GetOrder: %v", err)
	}
	if reloaded.ReservationStatus != core.ReservationFailed {
		t.Errorf("order reservation status = %q, want FAILED", reloaded.ReservationStatus)
	}

	// Restock and retry.
	env.adjust(t, env.w2, env.variant, core.StockDelta{Quantity: 4})
	status, err = env.engine.RetryReservation(env.ctx, order.ID)
	if err != nil {
		t.Fatalf("RetryReservation: %v", err)
	}
	if status != core.ReservationReserved {
		t.Errorf("retry status = %q, want RESERVED", status)
	}
	assertStock(t, env.stock(t, env.w1, env.variant), 5, 5, 0)
	assertStock(t, env.stock(t, env.w2, env.variant), 10, 10, 0)
}

func TestReserve_MultiLineIsAllOrNothing(t *testing.T) {
	env := setupTestDB(t)
	scarce, err := env.ledger.UpsertVariant(env.ctx, "SKU-S", "Scarce", true)
	if err != nil {
		t.Fatalf("UpsertVariant: %v", err)
	}
	env.adjust(t, env.w1, scarce.ID, core.StockDelta{Quantity: 1})

	order := createOrder(t, env,
		core.OrderLineInput{VariantID: env.variant, Quantity: 3},
		core.OrderLineInput{VariantID: scarce.ID, Quantity: 2},
	)
	if _, err := env.engine.Reserve(env.ctx, order.ID); !errors.Is(err, core.ErrInsufficientStock) {
		t.Fatalf("expected ErrInsufficientStock, got %v", err)
	}
	assertStock(t, env.stock(t, env.w1, env.variant), 5, 0, 0)
	assertStock(t, env.stock(t, env.w1, scarce.ID), 1, 0, 0)
}

func TestReserve_UntrackedOnlyIsNotRequired(t *testing.T) {
	env := setupTestDB(t)
	digital, err := env.ledger.UpsertVariant(env.ctx, "SKU-D", "Gift card", false)
	if err != nil {
		t.Fatalf("UpsertVariant: %v", err)
	}
	order := createOrder(t, env, core.OrderLineInput{VariantID: digital.ID, Quantity: 100})

	status, err := env.engine.Reserve(env.ctx, order.ID)
	if err != nil {
		t.Fatalf("Reserve: %v", err)
	}
	if status != core.ReservationNotRequired {
		t.Errorf("status = %q, want NOT_REQUIRED", status)
	}
	status, err = env.engine.DeductOnDispatch(env.ctx, order.ID)
	if err != nil || status != core.ReservationNotRequired {
		t.Errorf("dispatch of untracked order = (%q, %v), want NOT_REQUIRED no-op", status, err)
	}
}

func TestRelease(t *testing.T) {
	env := setupTestDB(t)
	order := createOrder(t, env, core.OrderLineInput{VariantID: env.variant, Quantity: 7})

	if _, err := env.engine.Release(env.ctx, order.ID); !errors.Is(err, core.ErrInvalidTransition) {
		t.Fatalf("release before reserve: expected ErrInvalidTransition, got %v", err)
	}
	if _, err := env.engine.Reserve(env.ctx, order.ID); err != nil {
		t.Fatalf("Reserve: %v", err)
	}

	status, err := env.engine.Release(env.ctx, order.ID)
	if err != nil {
		t.Fatalf("Release: %v", err)
	}
	if status != core.ReservationReleased {
		t.Errorf("status = %q, want RELEASED", status)
	}
	assertStock(t, env.stock(t, env.w1, env.variant), 5, 0, 0)
	assertStock(t, env.stock(t, env.w2, env.variant), 6, 0, 0)
	if got := reservedBy(t, env, order.ID); len(got) != 0 {
		t.Errorf("reservations survive release: %v", got)
	}

	if _, err := env.engine.Release(env.ctx, order.ID); !errors.Is(err, core.ErrInvalidTransition) {
		t.Errorf("second release: expected ErrInvalidTransition, got %v", err)
	}
}

func TestDeductOnDispatch(t *testing.T) {
	env := setupTestDB(t)
	order := createOrder(t, env, core.OrderLineInput{VariantID: env.variant, Quantity: 7})

	if _, err := env.engine.DeductOnDispatch(env.ctx, order.ID); !errors.Is(err, core.ErrInvalidTransition) {
		t.Fatalf("dispatch before reserve: expected ErrInvalidTransition, got %v", err)
	}
	if _, err := env.engine.Reserve(env.ctx, order.ID); err != nil {
		t.Fatalf("Reserve: %v", err)
	}

	status, err := env.engine.DeductOnDispatch(env.ctx, order.ID)
	if err != nil {
		t.Fatalf("DeductOnDispatch: %v", err)
	}
	if status != core.ReservationDispatched {
		t.Errorf("status = %q, want DISPATCHED", status)
	}
	assertStock(t, env.stock(t, env.w1, env.variant), 0, 0, 0)
	assertStock(t, env.stock(t, env.w2, env.variant), 4, 0, 0)

	// A second dispatch must not deduct again.
	if _, err := env.engine.DeductOnDispatch(env.ctx, order.ID); !errors.Is(err, core.ErrInvalidTransition) {
		t.Errorf("second dispatch: expected ErrInvalidTransition, got %v", err)
	}
	assertStock(t, env.stock(t, env.w2, env.variant), 4, 0, 0)
	if _, err := env.engine.Release(env.ctx, order.ID); !errors.Is(err, core.ErrInvalidTransition) {
		t.Errorf("release after dispatch: expected ErrInvalidTransition, got %v", err)
	}
}

func TestTransferReservation(t *testing.T) {
	env := setupTestDB(t)
	order := createOrder(t, env, core.OrderLineInput{VariantID: env.variant, Quantity: 3})
	if _, err := env.engine.Reserve(env.ctx, order.ID); err != nil {
		t.Fatalf("Reserve: %v", err)
	}
	reservations, err := env.engine.ListReservations(env.ctx, order.ID)
	if err != nil || len(reservations) != 1 {
		t.Fatalf("ListReservations = %+v, %v", reservations, err)
	}
	src := reservations[0]
	if src.WarehouseID != env.w1 {
		t.Fatalf("reservation in warehouse %d, want W1", src.WarehouseID)
	}

	moved, err := env.engine.TransferReservation(env.ctx, src.ID, env.w2)
	if err != nil {
		t.Fatalf("TransferReservation: %v", err)
	}
	if moved.WarehouseID != env.w2 || moved.Quantity != 3 {
		t.Errorf("moved reservation = %+v", moved)
	}
	assertStock(t, env.stock(t, env.w1, env.variant), 5, 0, 0)
	assertStock(t, env.stock(t, env.w2, env.variant), 6, 3, 0)

	if _, err := env.engine.TransferReservation(env.ctx, moved.ID, env.w2); !errors.Is(err, core.ErrInvalidInput) {
		t.Errorf("same-warehouse transfer: expected ErrInvalidInput, got %v", err)
	}

	// Fill W1 so the moved reservation no longer fits back.
	big := createOrder(t, env, core.OrderLineInput{VariantID: env.variant, Quantity: 3})
	if _, err := env.engine.Reserve(env.ctx, big.ID); err != nil {
		t.Fatalf("Reserve: %v", err)
	}
	env.adjust(t, env.w1, env.variant, core.StockDelta{Quantity: -2})
	if _, err := env.engine.TransferReservation(env.ctx, moved.ID, env.w1); !errors.Is(err, core.ErrInsufficientStock) {
		t.Errorf("expected ErrInsufficientStock moving into a full warehouse, got %v", err)
	}

	if _, err := env.engine.TransferReservation(env.ctx, 9999, env.w1); !errors.Is(err, core.ErrNotFound) {
		t.Errorf("unknown reservation: expected ErrNotFound, got %v", err)
	}
}

func TestTransferReservation_MergesIntoExisting(t *testing.T) {
	env := setupTestDB(t)
	order := createOrder(t, env, core.OrderLineInput{VariantID: env.variant, Quantity: 7})
	if _, err := env.engine.Reserve(env.ctx, order.ID); err != nil {
		t.Fatalf("Reserve: %v", err)
	}
	// Scenario A split: W1 holds 5, W2 holds 2.
	reservations, err := env.engine.ListReservations(env.ctx, order.ID)
	if err != nil || len(reservations) != 2 {
		t.Fatalf("ListReservations = %+v, %v", reservations, err)
	}
	var atW1, atW2 core.Reservation
	for _, r := range reservations {
		switch r.WarehouseID {
		case env.w1:
			atW1 = r
		case env.w2:
			atW2 = r
		}
	}
	if atW1.Quantity != 5 || atW2.Quantity != 2 {
		t.Fatalf("split = W1:%d W2:%d, want 5/2", atW1.Quantity, atW2.Quantity)
	}

	env.adjust(t, env.w1, env.variant, core.StockDelta{Quantity: 2})
	merged, err := env.engine.TransferReservation(env.ctx, atW2.ID, env.w1)
	if err != nil {
		t.Fatalf("TransferReservation: %v", err)
	}
	if merged.ID != atW1.ID || merged.Quantity != 7 || merged.WarehouseID != env.w1 {
		t.Errorf("merged reservation = %+v, want id %d with 7 at W1", merged, atW1.ID)
	}

	after, err := env.engine.ListReservations(env.ctx, order.ID)
	if err != nil {
		t.Fatalf("ListReservations: %v", err)
	}
	if len(after) != 1 || after[0].Quantity != 7 {
		t.Errorf("reservations after merge = %+v, want one of 7", after)
	}
	assertStock(t, env.stock(t, env.w1, env.variant), 7, 7, 0)
	assertStock(t, env.stock(t, env.w2, env.variant), 6, 0, 0)

	drift, err := env.ledger.AuditReservations(env.ctx)
	if err != nil || len(drift) != 0 {
		t.Errorf("AuditReservations = %+v, %v; want no drift", drift, err)
	}
}

func TestOrder_TransitionsPublishReservationEvents(t *testing.T) {
	env := setupTestDB(t)
	pub := &recordingPublisher{}
	engine := core.NewReservationEngine(env.pool, env.ledger, core.AscendingQuantity{}, pub, nil)
	orders := core.NewOrderService(env.pool, engine, pub, nil)

	reserve := func(qty int) *core.Order {
		t.Helper()
		o, err := orders.CreateOrder(env.ctx, "test", []core.OrderLineInput{{VariantID: env.variant, Quantity: qty}})
		if err != nil {
			t.Fatalf("CreateOrder: %v", err)
		}
		if _, err := engine.Reserve(env.ctx, o.ID); err != nil {
			t.Fatalf("Reserve: %v", err)
		}
		return o
	}

	packed := reserve(2)
	if _, err := orders.ApproveOrder(env.ctx, packed.ID); err != nil {
		t.Fatalf("ApproveOrder: %v", err)
	}
	if _, err := orders.PackOrder(env.ctx, packed.ID); err != nil {
		t.Fatalf("PackOrder: %v", err)
	}
	if got := pub.statuses(core.EventReservationStatusChanged, packed.ID); strings.Join(got, ",") != "RESERVED,DISPATCHED" {
		t.Errorf("pack reservation events = %v, want [RESERVED DISPATCHED]", got)
	}
	if got := pub.statuses(core.EventOrderStatusChanged, packed.ID); strings.Join(got, ",") != "APPROVED,PACKED" {
		t.Errorf("pack order events = %v, want [APPROVED PACKED]", got)
	}

	cancelled := reserve(1)
	if _, err := orders.CancelOrder(env.ctx, cancelled.ID); err != nil {
		t.Fatalf("CancelOrder: %v", err)
	}
	if got := pub.statuses(core.EventReservationStatusChanged, cancelled.ID); strings.Join(got, ",") != "RESERVED,RELEASED" {
		t.Errorf("cancel reservation events = %v, want [RESERVED RELEASED]", got)
	}

	forced := reserve(1)
	if _, err := orders.ForceFulfill(env.ctx, forced.ID); err != nil {
		t.Fatalf("ForceFulfill: %v", err)
	}
	if got := pub.statuses(core.EventReservationStatusChanged, forced.ID); strings.Join(got, ",") != "RESERVED,DISPATCHED" {
		t.Errorf("force-fulfill reservation events = %v, want [RESERVED DISPATCHED]", got)
	}

	// Cancelling an order that never reserved publishes no reservation event.
	idle, err := orders.CreateOrder(env.ctx, "test", []core.OrderLineInput{{VariantID: env.variant, Quantity: 1}})
	if err != nil {
		t.Fatalf("CreateOrder: %v", err)
	}
	if _, err := orders.CancelOrder(env.ctx, idle.ID); err != nil {
		t.Fatalf("CancelOrder: %v", err)
	}
	if got := pub.statuses(core.EventReservationStatusChanged, idle.ID); len(got) != 0 {
		t.Errorf("idle cancel reservation events = %v, want none", got)
	}
}

func TestOrder_FulfillmentFlow(t *testing.T) {
	env := setupTestDB(t)
	order := createOrder(t, env, core.OrderLineInput{VariantID: env.variant, Quantity: 4})

	if _, err := env.orders.PackOrder(env.ctx, order.ID); !errors.Is(err, core.ErrInvalidTransition) {
		t.Fatalf("pack from PENDING: expected ErrInvalidTransition, got %v", err)
	}
	if _, err := env.orders.ApproveOrder(env.ctx, order.ID); err != nil {
		t.Fatalf("ApproveOrder: %v", err)
	}
	if _, err := env.engine.Reserve(env.ctx, order.ID); err != nil {
		t.Fatalf("Reserve: %v", err)
	}

	packed, err := env.orders.PackOrder(env.ctx, order.ID)
	if err != nil {
		t.Fatalf("PackOrder: %v", err)
	}
	if packed.Status != core.OrderPacked || packed.ReservationStatus != core.ReservationDispatched {
		t.Errorf("packed order = %s/%s, want PACKED/DISPATCHED", packed.Status, packed.ReservationStatus)
	}
	assertStock(t, env.stock(t, env.w1, env.variant), 1, 0, 0)

	for _, step := range []func() (*core.Order, error){
		func() (*core.Order, error) { return env.orders.ShipOrder(env.ctx, order.ID) },
		func() (*core.Order, error) { return env.orders.DeliverOrder(env.ctx, order.ID) },
		func() (*core.Order, error) { return env.orders.RequestReturn(env.ctx, order.ID) },
		func() (*core.Order, error) { return env.orders.MarkReturned(env.ctx, order.ID) },
	} {
		if _, err := step(); err != nil {
			t.Fatalf("transition failed: %v", err)
		}
	}
	final, err := env.orders.GetOrder(env.ctx, order.ID)
	if err != nil {
		t.Fatalf("GetOrder: %v", err)
	}
	if final.Status != core.OrderReturned {
		t.Errorf("status = %s, want RETURNED", final.Status)
	}
	if _, err := env.orders.CancelOrder(env.ctx, order.ID); !errors.Is(err, core.ErrInvalidTransition) {
		t.Errorf("cancel RETURNED order: expected ErrInvalidTransition, got %v", err)
	}
}

func TestOrder_CancelReleasesStock(t *testing.T) {
	env := setupTestDB(t)
	order := createOrder(t, env, core.OrderLineInput{VariantID: env.variant, Quantity: 7})
	if _, err := env.engine.Reserve(env.ctx, order.ID); err != nil {
		t.Fatalf("Reserve: %v", err)
	}

	cancelled, err := env.orders.CancelOrder(env.ctx, order.ID)
	if err != nil {
		t.Fatalf("CancelOrder: %v", err)
	}
	if cancelled.Status != core.OrderCancelled || cancelled.ReservationStatus != core.ReservationReleased {
		t.Errorf("cancelled order = %s/%s, want CANCELLED/RELEASED", cancelled.Status, cancelled.ReservationStatus)
	}
	assertStock(t, env.stock(t, env.w1, env.variant), 5, 0, 0)
	assertStock(t, env.stock(t, env.w2, env.variant), 6, 0, 0)

	if _, err := env.engine.Reserve(env.ctx, order.ID); !errors.Is(err, core.ErrInvalidTransition) {
		t.Errorf("reserve cancelled order: expected ErrInvalidTransition, got %v", err)
	}
}

func TestOrder_ForceFulfill(t *testing.T) {
	env := setupTestDB(t)
	order := createOrder(t, env, core.OrderLineInput{VariantID: env.variant, Quantity: 2})

	// Unreserved orders cannot skip the reservation step.
	if _, err := env.orders.ForceFulfill(env.ctx, order.ID); !errors.Is(err, core.ErrInvalidTransition) {
		t.Fatalf("force-fulfill unreserved: expected ErrInvalidTransition, got %v", err)
	}
	if _, err := env.engine.Reserve(env.ctx, order.ID); err != nil {
		t.Fatalf("Reserve: %v", err)
	}

	delivered, err := env.orders.ForceFulfill(env.ctx, order.ID)
	if err != nil {
		t.Fatalf("ForceFulfill: %v", err)
	}
	if delivered.Status != core.OrderDelivered || delivered.ReservationStatus != core.ReservationDispatched {
		t.Errorf("order = %s/%s, want DELIVERED/DISPATCHED", delivered.Status, delivered.ReservationStatus)
	}
	assertStock(t, env.stock(t, env.w1, env.variant), 3, 0, 0)

	if _, err := env.orders.ForceFulfill(env.ctx, order.ID); !errors.Is(err, core.ErrInvalidTransition) {
		t.Errorf("force-fulfill DELIVERED: expected ErrInvalidTransition, got %v", err)
	}
}

func TestOrder_ListAndValidation(t *testing.T) {
	env := setupTestDB(t)

	if _, err := env.orders.CreateOrder(env.ctx, "test", nil); !errors.Is(err, core.ErrInvalidInput) {
		t.Errorf("empty order: expected ErrInvalidInput, got %v", err)
	}
	if _, err := env.orders.CreateOrder(env.ctx, "test", []core.OrderLineInput{{VariantID: env.variant, Quantity: 0}}); !errors.Is(err, core.ErrInvalidInput) {
		t.Errorf("zero quantity: expected ErrInvalidInput, got %v", err)
	}
	if _, err := env.orders.GetOrder(env.ctx, 9999); !errors.Is(err, core.ErrNotFound) {
		t.Errorf("unknown order: expected ErrNotFound, got %v", err)
	}

	a := createOrder(t, env, core.OrderLineInput{VariantID: env.variant, Quantity: 1})
	createOrder(t, env, core.OrderLineInput{VariantID: env.variant, Quantity: 1})
	if _, err := env.orders.ApproveOrder(env.ctx, a.ID); err != nil {
		t.Fatalf("ApproveOrder: %v", err)
	}

	pending, err := env.orders.ListOrders(env.ctx, core.OrderPending)
	if err != nil {
		t.Fatalf("ListOrders: %v", err)
	}
	if len(pending) != 1 {
		t.Errorf("pending orders = %d, want 1", len(pending))
	}
	all, err := env.orders.ListOrders(env.ctx, "")
	if err != nil {
		t.Fatalf("ListOrders(all): %v", err)
	}
	if len(all) != 2 {
		t.Errorf("all orders = %d, want 2", len(all))
	}
}
