// Package validation decides whether stored bytes are a processable PDF
// receipt. It always produces a verdict plus a diagnostic reason; it never
// returns an error, because the pipeline persists the verdict unconditionally.
package validation

import (
	"errors"
	"fmt"
	"image"
	"strings"

	"github.com/gen2brain/go-fitz"
)

// Verdict reasons, first failing check wins.
const (
	ReasonNotPDF    = "not a valid PDF"
	ReasonEmpty     = "empty document"
	ReasonEncrypted = "encrypted document"
	ReasonNoContent = "no extractable content"
)

// PDF validates receipt files with MuPDF.
type PDF struct{}

// NewPDF creates a new PDF validator
func NewPDF() *PDF {
	return &PDF{}
}

// Validate runs the ordered checks: parseable PDF, at least one page, not
// password-protected, and some extractable content (text on any page, or ink
// on the first page for image-only scans). Internal failures are folded into
// an invalid verdict.
func (v *PDF) Validate(data []byte) (isValid bool, reason string) {
	defer func() {
		if r := recover(); r != nil {
			isValid = false
			reason = fmt.Sprintf("validation error: %v", r)
		}
	}()

	if len(data) == 0 {
		return false, ReasonNotPDF
	}

	doc, err := fitz.NewFromMemory(data)
	if err != nil {
		if errors.Is(err, fitz.ErrNeedsPassword) {
			return false, ReasonEncrypted
		}
		return false, ReasonNotPDF
	}
	defer doc.Close()

	if doc.NumPage() == 0 {
		return false, ReasonEmpty
	}

	for n := 0; n < doc.NumPage(); n++ {
		text, err := doc.Text(n)
		if err != nil {
			return false, fmt.Sprintf("validation error: %v", err)
		}
		if strings.TrimSpace(text) != "" {
			return true, ""
		}
	}

	// No text anywhere. Scanned receipts are often pure images, so render
	// the first page and look for ink before giving up.
	img, err := doc.Image(0)
	if err != nil {
		return false, fmt.Sprintf("validation error: %v", err)
	}
	if hasInk(img) {
		return true, ""
	}

	return false, ReasonNoContent
}

// hasInk reports whether a rendered page contains any non-white pixels.
// Samples on a coarse grid; receipts are not pixel art.
func hasInk(img *image.RGBA) bool {
	const step = 4
	const white = 245

	b := img.Bounds()
	for y := b.Min.Y; y < b.Max.Y; y += step {
		for x := b.Min.X; x < b.Max.X; x += step {
			c := img.RGBAAt(x, y)
			if c.R < white || c.G < white || c.B < white {
				return true
			}
		}
	}
	return false
}
