package core

import (
	"errors"
	"testing"
)

func TestStockRecord_Apply(t *testing.T) {
	base := StockRecord{ID: 1, Quantity: 10, Reserved: 4, Incoming: 2}

	tests := []struct {
		name    string
		delta   StockDelta
		want    StockRecord
		wantErr bool
	}{
		{"reserve within available", StockDelta{Reserved: 6}, StockRecord{ID: 1, Quantity: 10, Reserved: 10, Incoming: 2}, false},
		{"reserve beyond quantity", StockDelta{Reserved: 7}, base, true},
		{"release more than reserved", StockDelta{Reserved: -5}, base, true},
		{"dispatch consumes both", StockDelta{Quantity: -4, Reserved: -4}, StockRecord{ID: 1, Quantity: 6, Reserved: 0, Incoming: 2}, false},
		{"quantity below reserved", StockDelta{Quantity: -7}, base, true},
		{"quantity negative", StockDelta{Quantity: -11}, base, true},
		{"incoming negative", StockDelta{Incoming: -3}, base, true},
		{"receive incoming", StockDelta{Quantity: 2, Incoming: -2}, StockRecord{ID: 1, Quantity: 12, Reserved: 4, Incoming: 0}, false},
		{"zero delta", StockDelta{}, base, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := base.Apply(tt.delta)
			if tt.wantErr {
				if !errors.Is(err, ErrConstraintViolation) {
					t.Fatalf("expected ErrConstraintViolation, got %v", err)
				}
				if got != base {
					t.Errorf("record changed on failure: %+v", got)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if got != tt.want {
				t.Errorf("got %+v, want %+v", got, tt.want)
			}
		})
	}

	if base.Quantity != 10 || base.Reserved != 4 {
		t.Error("Apply mutated its receiver")
	}
}

func TestStockRecord_Available(t *testing.T) {
	if got := (StockRecord{Quantity: 9, Reserved: 9}).Available(); got != 0 {
		t.Errorf("Available = %d, want 0", got)
	}
	if got := (StockRecord{Quantity: 9, Reserved: 2}).Available(); got != 7 {
		t.Errorf("Available = %d, want 7", got)
	}
}

func TestStockDelta_IsZero(t *testing.T) {
	if !(StockDelta{}).IsZero() {
		t.Error("empty delta should be zero")
	}
	if (StockDelta{Incoming: 1}).IsZero() {
		t.Error("incoming-only delta should not be zero")
	}
}
