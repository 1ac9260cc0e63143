package core

import "fmt"

// ItemReceipt records received and rejected counts for one transfer or
// purchase item. Counts are absolute totals, not increments.
type ItemReceipt struct {
	ItemID   int `json:"item_id"`
	Received int `json:"received"`
	Rejected int `json:"rejected"`
}

// validateReceipt checks a new receipt against the item's expected quantity
// and its previously recorded counts. Receiving is monotonic: neither count
// may decrease, and together they may not exceed expected.
func validateReceipt(itemID, expected, prevReceived, prevRejected, received, rejected int) error {
	switch {
	case received < 0 || rejected < 0:
		return fmt.Errorf("%w: item %d: received and rejected must be non-negative (got %d/%d)",
			ErrInvalidInput, itemID, received, rejected)
	case received+rejected > expected:
		return fmt.Errorf("%w: item %d: received %d + rejected %d exceeds expected %d",
			ErrInvalidInput, itemID, received, rejected, expected)
	case received < prevReceived:
		return fmt.Errorf("%w: item %d: received cannot decrease from %d to %d",
			ErrInvalidTransition, itemID, prevReceived, received)
	case rejected < prevRejected:
		return fmt.Errorf("%w: item %d: rejected cannot decrease from %d to %d",
			ErrInvalidTransition, itemID, prevRejected, rejected)
	}
	return nil
}

// isReconciled reports whether every expected unit is accounted for.
func isReconciled(expected, received, rejected int) bool {
	return received+rejected == expected
}

// indexReceipts rejects duplicate item IDs in one receive request.
func indexReceipts(receipts []ItemReceipt) (map[int]ItemReceipt, error) {
	if len(receipts) == 0 {
		return nil, fmt.Errorf("%w: no receipts given", ErrInvalidInput)
	}
	byID := make(map[int]ItemReceipt, len(receipts))
	for _, r := range receipts {
		if _, dup := byID[r.ItemID]; dup {
			return nil, fmt.Errorf("%w: item %d appears more than once", ErrInvalidInput, r.ItemID)
		}
		byID[r.ItemID] = r
	}
	return byID, nil
}
