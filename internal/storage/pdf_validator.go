package storage

import (
	"fmt"

	"github.com/gen2brain/go-fitz"
)

// ValidatePDF checks that downloaded bytes are a readable document with at
// least one page. The portal occasionally serves an HTML error page where
// the invoice PDF should be; those must not reach the bucket.
func ValidatePDF(data []byte) error {
	if len(data) == 0 {
		return fmt.Errorf("empty document")
	}

	doc, err := fitz.NewFromMemory(data)
	if err != nil {
		return fmt.Errorf("unreadable document: %w", err)
	}
	defer doc.Close()

	if doc.NumPage() < 1 {
		return fmt.Errorf("document has no pages")
	}
	return nil
}
