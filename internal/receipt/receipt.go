package receipt

import "time"

// Validity is the tri-state verdict on a file's suitability for extraction.
type Validity string

const (
	ValidityUnvalidated Validity = "unvalidated"
	ValidityValid       Validity = "valid"
	ValidityInvalid     Validity = "invalid"
)

// ReceiptFile tracks one uploaded document through its lifecycle:
// unvalidated -> valid|invalid -> processed.
type ReceiptFile struct {
	ID            string    `json:"id"`
	FileName      string    `json:"file_name"`
	StorageKey    string    `json:"file_path"`
	Validity      Validity  `json:"validity"`
	InvalidReason string    `json:"invalid_reason,omitempty"` // set iff Validity == invalid
	Processed     bool      `json:"is_processed"`
	CreatedAt     time.Time `json:"created_at"`
}

// Receipt holds the structured purchase data extracted from a processed file.
// At most one Receipt exists per file, and it is immutable once created.
type Receipt struct {
	ID           string    `json:"id"`
	FileID       string    `json:"file_id"`
	MerchantName string    `json:"merchant_name"`
	TotalAmount  int       `json:"total_amount"` // Amount in cents
	PurchasedAt  time.Time `json:"purchased_at"`
	FilePath     string    `json:"file_path"`
	CreatedAt    time.Time `json:"created_at"`
}
