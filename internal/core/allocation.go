package core

import (
	"fmt"
	"slices"
	"strings"
)

// AllocationStrategy decides the order in which a variant's stock records are
// drawn from when reserving an order line. Implementations must not modify
// the input slice.
type AllocationStrategy interface {
	Name() string
	Rank(candidates []StockRecord) []StockRecord
}

// AscendingQuantity drains the warehouses holding the least on-hand stock
// first, consolidating what remains in the larger ones. Ties keep id order.
type AscendingQuantity struct{}

func (AscendingQuantity) Name() string { return "ascending-quantity" }

func (AscendingQuantity) Rank(candidates []StockRecord) []StockRecord {
	out := slices.Clone(candidates)
	slices.SortStableFunc(out, func(a, b StockRecord) int {
		if a.Quantity != b.Quantity {
			return a.Quantity - b.Quantity
		}
		return a.ID - b.ID
	})
	return out
}

// DescendingQuantity serves each line from the fullest warehouse first,
// minimising the number of warehouses an order is split across.
type DescendingQuantity struct{}

func (DescendingQuantity) Name() string { return "descending-quantity" }

func (DescendingQuantity) Rank(candidates []StockRecord) []StockRecord {
	out := slices.Clone(candidates)
	slices.SortStableFunc(out, func(a, b StockRecord) int {
		if a.Quantity != b.Quantity {
			return b.Quantity - a.Quantity
		}
		return a.ID - b.ID
	})
	return out
}

// WarehousePriority draws from warehouses in the listed order. Warehouses
// not listed come last, in ascending-quantity order.
type WarehousePriority struct {
	WarehouseIDs []int
}

func (WarehousePriority) Name() string { return "warehouse-priority" }

func (p WarehousePriority) Rank(candidates []StockRecord) []StockRecord {
	rank := make(map[int]int, len(p.WarehouseIDs))
	for i, id := range p.WarehouseIDs {
		if _, seen := rank[id]; !seen {
			rank[id] = i
		}
	}
	out := AscendingQuantity{}.Rank(candidates)
	slices.SortStableFunc(out, func(a, b StockRecord) int {
		ra, okA := rank[a.WarehouseID]
		rb, okB := rank[b.WarehouseID]
		switch {
		case okA && okB:
			return ra - rb
		case okA:
			return -1
		case okB:
			return 1
		}
		return 0
	})
	return out
}

// StrategyByName resolves a configured strategy name. An empty name yields
// the default AscendingQuantity.
func StrategyByName(name string, priority []int) (AllocationStrategy, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "", AscendingQuantity{}.Name():
		return AscendingQuantity{}, nil
	case DescendingQuantity{}.Name():
		return DescendingQuantity{}, nil
	case WarehousePriority{}.Name():
		return WarehousePriority{WarehouseIDs: priority}, nil
	}
	return nil, fmt.Errorf("%w: unknown allocation strategy %q", ErrInvalidInput, name)
}

// Allocation is one partial reservation of a line against a stock record.
type Allocation struct {
	StockRecordID int
	WarehouseID   int
	Quantity      int
}

// allocate greedily takes available stock from the ranked candidates until
// required is covered. It returns the allocations made and the residual
// quantity that could not be covered.
func allocate(ranked []StockRecord, required int) ([]Allocation, int) {
	var allocations []Allocation
	remaining := required
	for _, rec := range ranked {
		if remaining <= 0 {
			break
		}
		available := rec.Available()
		if available <= 0 {
			continue
		}
		take := min(available, remaining)
		allocations = append(allocations, Allocation{
			StockRecordID: rec.ID,
			WarehouseID:   rec.WarehouseID,
			Quantity:      take,
		})
		remaining -= take
	}
	return allocations, remaining
}
