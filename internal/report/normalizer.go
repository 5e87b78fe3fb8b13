package report

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/casaflow/utility-recon/internal/domain/entity"
	"github.com/casaflow/utility-recon/internal/portal"
	"go.uber.org/zap"
)

// serviceAliases maps portal service labels (the column is free text and
// bilingual) onto the closed service type enum.
var serviceAliases = map[string]string{
	"electricity":  entity.ServiceElectricity,
	"electric":     entity.ServiceElectricity,
	"electricidad": entity.ServiceElectricity,
	"luz":          entity.ServiceElectricity,
	"power":        entity.ServiceElectricity,
	"water":        entity.ServiceWater,
	"agua":         entity.ServiceWater,
	"gas":          entity.ServiceGas,
	"gas natural":  entity.ServiceGas,
	"natural gas":  entity.ServiceGas,
}

// dateLayouts are the formats the portal has been seen rendering, most
// common first.
var dateLayouts = []string{
	"2006-01-02",
	"02/01/2006",
	"2006-01-02 15:04:05",
	"02-01-2006",
}

// Normalizer converts raw portal rows into Invoice records.
type Normalizer struct {
	logger *zap.Logger
}

// NewNormalizer creates a row normalizer.
func NewNormalizer(logger *zap.Logger) *Normalizer {
	return &Normalizer{logger: logger}
}

// NormalizeRows converts all rows, in input order. Rows that cannot yield a
// usable invoice (no reference or unparseable amount) are skipped; the notes
// returned alongside explain every skip and every unrecognized service so
// they can be surfaced in the property's reasoning.
func (n *Normalizer) NormalizeRows(rows []portal.RawInvoiceRow) ([]entity.Invoice, []string) {
	invoices := make([]entity.Invoice, 0, len(rows))
	var notes []string

	for i, row := range rows {
		inv, err := n.NormalizeRow(row)
		if err != nil {
			notes = append(notes, fmt.Sprintf("row %d skipped: %v", i+1, err))
			n.logger.Warn("Skipping unusable invoice row",
				zap.Int("row", i+1),
				zap.String("reference", row.InvoiceReference),
				zap.Error(err))
			continue
		}
		if inv.ServiceType == entity.ServiceUnrecognized {
			notes = append(notes, fmt.Sprintf(
				"invoice %s has unrecognized service %q and is excluded from selection",
				inv.InvoiceNumber, strings.TrimSpace(row.Service)))
		}
		invoices = append(invoices, *inv)
	}
	return invoices, notes
}

// NormalizeRow converts one raw row.
func (n *Normalizer) NormalizeRow(row portal.RawInvoiceRow) (*entity.Invoice, error) {
	reference := strings.TrimSpace(row.InvoiceReference)
	if reference == "" {
		return nil, fmt.Errorf("missing invoice reference")
	}

	amount, err := ParseAmount(row.Total)
	if err != nil {
		return nil, fmt.Errorf("invoice %s: %w", reference, err)
	}
	if amount < 0 {
		return nil, fmt.Errorf("invoice %s: negative amount %.2f", reference, amount)
	}

	inv := &entity.Invoice{
		InvoiceNumber: reference,
		ServiceType:   MapServiceType(row.Service),
		Amount:        amount,
		Provider:      strings.TrimSpace(row.Provider),
		ContractCode:  strings.TrimSpace(row.ContractCode),
		CreatedAt:     time.Now().UTC(),
	}
	inv.InvoiceDate = parseDate(row.IssueDate)
	inv.PeriodStart = parseDate(row.InitialDate)
	inv.PeriodEnd = parseDate(row.FinalDate)
	return inv, nil
}

// MapServiceType folds a free-text service label onto the closed enum,
// falling back to unrecognized.
func MapServiceType(raw string) string {
	key := strings.ToLower(strings.TrimSpace(raw))
	if mapped, ok := serviceAliases[key]; ok {
		return mapped
	}
	return entity.ServiceUnrecognized
}

// ParseAmount parses portal money text. The portal mixes European and plain
// formats: "1.234,56 €", "123,45", "1234.56".
func ParseAmount(raw string) (float64, error) {
	cleaned := strings.Map(func(r rune) rune {
		switch r {
		case '€', '$', ' ', ' ':
			return -1
		}
		return r
	}, strings.TrimSpace(raw))

	if cleaned == "" {
		return 0, fmt.Errorf("empty amount")
	}

	lastComma := strings.LastIndex(cleaned, ",")
	lastDot := strings.LastIndex(cleaned, ".")
	switch {
	case lastComma >= 0 && lastDot >= 0:
		// Rightmost separator is the decimal mark, the other groups thousands.
		if lastComma > lastDot {
			cleaned = strings.ReplaceAll(cleaned, ".", "")
			cleaned = strings.Replace(cleaned, ",", ".", 1)
		} else {
			cleaned = strings.ReplaceAll(cleaned, ",", "")
		}
	case lastComma >= 0:
		cleaned = strings.ReplaceAll(cleaned, ".", "")
		cleaned = strings.Replace(cleaned, ",", ".", 1)
	}

	amount, err := strconv.ParseFloat(cleaned, 64)
	if err != nil {
		return 0, fmt.Errorf("unparseable amount %q", raw)
	}
	return amount, nil
}

func parseDate(raw string) *time.Time {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return nil
	}
	// Some portal cells carry a trailing time component on a date column.
	if fields := strings.Fields(trimmed); len(fields) > 0 {
		for _, layout := range dateLayouts {
			if t, err := time.Parse(layout, trimmed); err == nil {
				return &t
			}
			if t, err := time.Parse(layout, fields[0]); err == nil {
				return &t
			}
		}
	}
	return nil
}
