package scanning

import (
	"bytes"
	"fmt"
	"image/png"

	"github.com/gen2brain/go-fitz"
)

// extractionPrompt is the shared prompt used by all model providers
const extractionPrompt = `You are analyzing a receipt or invoice document. Carefully read all text in the image and extract the following information:

1. **Merchant Name**: Look for the store name or business name at the top of the receipt. This is usually the largest text or in a header. Examples: "Walmart", "CVS Pharmacy", "Walgreens", "Target".

2. **Purchase Date**: Find the transaction date, purchase date, or invoice date on the receipt. Convert it to ISO 8601 format (YYYY-MM-DD). Look for dates near the top or bottom of the receipt. Common formats: MM/DD/YYYY, DD/MM/YYYY, or written dates.

3. **Total Amount**: Find the final total, grand total, or amount due. This is usually at the bottom of the receipt, often labeled as "TOTAL", "Amount Due", "Grand Total", or similar. Extract only the numeric value (e.g., 42.75 for $42.75).

Return ONLY valid JSON in this exact format:
{
  "merchant_name": "Store Name",
  "purchased_at": "YYYY-MM-DD",
  "total_amount": 0.00
}

Important:
- The merchant_name must be the actual store/business name from the receipt
- The purchased_at date must be in YYYY-MM-DD format
- The total_amount must be a number (not a string), representing dollars and cents
- If you cannot find a field, use null for that field
- Do not include any text before or after the JSON
- Do not use markdown code blocks`

// pdfToImage renders the first page of a PDF as PNG. Receipts are single
// page in practice, and the models take images, not PDFs.
func pdfToImage(pdfData []byte) ([]byte, error) {
	doc, err := fitz.NewFromMemory(pdfData)
	if err != nil {
		return nil, fmt.Errorf("opening PDF: %w", err)
	}
	defer doc.Close()

	img, err := doc.Image(0)
	if err != nil {
		return nil, fmt.Errorf("rendering PDF page: %w", err)
	}

	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return nil, fmt.Errorf("encoding PNG: %w", err)
	}

	return buf.Bytes(), nil
}
