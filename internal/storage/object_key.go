package storage

import (
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

var keyFolder = transform.Chain(
	norm.NFD,
	runes.Remove(runes.In(unicode.Mn)),
	norm.NFC,
)

// InvoiceObjectKey derives the bucket key for a downloaded invoice file from
// (property name, invoice number). The derivation is deterministic so a
// repeated download of the same invoice maps to the same key and is detected
// as a duplicate instead of being re-uploaded.
func InvoiceObjectKey(prefix, propertyName, invoiceNumber string) string {
	parts := []string{
		sanitizeKeyPart(propertyName),
		sanitizeKeyPart(invoiceNumber) + ".pdf",
	}
	if prefix != "" {
		parts = append([]string{strings.Trim(prefix, "/")}, parts...)
	}
	return strings.Join(parts, "/")
}

// sanitizeKeyPart makes a text fragment safe for object keys: diacritics
// and ordinal markers stripped, spaces to underscores, anything outside
// [a-zA-Z0-9._-] dropped.
func sanitizeKeyPart(text string) string {
	folded, _, err := transform.String(keyFolder, text)
	if err != nil {
		folded = text
	}

	var b strings.Builder
	b.Grow(len(folded))
	for _, r := range folded {
		switch {
		case r == 'º' || r == 'ª' || r == '°':
			// dropped entirely, matching how property names are keyed
		case r == ' ' || r == '/':
			b.WriteByte('_')
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9',
			r == '.', r == '_', r == '-':
			b.WriteRune(r)
		}
	}
	return strings.Trim(b.String(), "_")
}
