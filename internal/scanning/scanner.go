package scanning

import "context"

// ReceiptFields contains the structured purchase data extracted from a receipt
type ReceiptFields struct {
	MerchantName string  `json:"merchant_name"`
	PurchasedAt  string  `json:"purchased_at"` // ISO 8601 date (YYYY-MM-DD)
	TotalAmount  float64 `json:"total_amount"`
}

// Extractor turns validated receipt bytes into structured fields. It is a
// black box: on failure it returns an opaque error and the caller decides
// whether to retry. Cancellation is governed by the caller's context.
type Extractor interface {
	Extract(ctx context.Context, data []byte) (*ReceiptFields, error)
	// Close releases any resources held by the extractor
	Close() error
}
