package scanning

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// dateLayouts are the formats models hand back despite the prompt asking for
// ISO 8601
var dateLayouts = []string{
	"2006-01-02",
	"2006/01/02",
	"01/02/2006",
	"02-01-2006",
}

// parseFieldsJSON parses a model response into ReceiptFields. The response
// may be wrapped in markdown fences or surrounded by prose; only the first
// JSON object is considered. A response with no merchant name, a negative
// total, or an unusable date is rejected: the contract requires well-formed
// fields, and the caller treats a rejection as a retryable extraction
// failure.
func parseFieldsJSON(text string) (*ReceiptFields, error) {
	text = strings.TrimSpace(text)
	text = strings.TrimPrefix(text, "```json")
	text = strings.TrimPrefix(text, "```")
	text = strings.TrimSpace(text)

	startIdx := strings.Index(text, "{")
	if startIdx == -1 {
		return nil, fmt.Errorf("no JSON object found in response")
	}

	endIdx := strings.LastIndex(text, "}")
	if endIdx == -1 || endIdx < startIdx {
		return nil, fmt.Errorf("invalid JSON object in response")
	}

	text = text[startIdx : endIdx+1]

	var fields ReceiptFields
	if err := json.Unmarshal([]byte(text), &fields); err != nil {
		return nil, fmt.Errorf("unmarshaling json: %w", err)
	}

	fields.MerchantName = strings.TrimSpace(fields.MerchantName)
	if fields.MerchantName == "" {
		return nil, fmt.Errorf("response has no merchant name")
	}

	if fields.TotalAmount < 0 {
		return nil, fmt.Errorf("response has negative total amount %v", fields.TotalAmount)
	}

	date, err := parseDate(fields.PurchasedAt)
	if err != nil {
		return nil, err
	}
	fields.PurchasedAt = date

	return &fields, nil
}

// parseDate normalizes a model-supplied date to YYYY-MM-DD
func parseDate(s string) (string, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return "", fmt.Errorf("response has no purchase date")
	}
	for _, layout := range dateLayouts {
		if d, err := time.Parse(layout, s); err == nil {
			return d.Format("2006-01-02"), nil
		}
	}
	return "", fmt.Errorf("response has unusable purchase date %q", s)
}
