package entity

import "time"

// Invoice is one normalized row from the portal's invoice listing. Rows are
// append-only once fetched; only the selection and download flags mutate
// after creation.
type Invoice struct {
	ID               string     `json:"id"`
	PropertyResultID string     `json:"property_result_id"`
	InvoiceNumber    string     `json:"invoice_number"`
	ServiceType      string     `json:"service_type"`
	Amount           float64    `json:"amount"`
	InvoiceDate      *time.Time `json:"invoice_date,omitempty"`
	PeriodStart      *time.Time `json:"period_start,omitempty"`
	PeriodEnd        *time.Time `json:"period_end,omitempty"`
	Provider         string     `json:"provider,omitempty"`
	ContractCode     string     `json:"contract_code,omitempty"`
	IsSelected       bool       `json:"is_selected"`
	IsDownloaded     bool       `json:"is_downloaded"`
	FilePath         string     `json:"file_path,omitempty"`
	FileSize         int64      `json:"file_size,omitempty"`
	CreatedAt        time.Time  `json:"created_at"`
}

// HasPeriod reports whether both billing period bounds are known. Invoices
// without a period cannot overlap a billing window and are never candidates
// for selection.
func (i *Invoice) HasPeriod() bool {
	return i.PeriodStart != nil && i.PeriodEnd != nil
}

// OverlapsWindow reports whether the invoice billing period intersects the
// given window.
func (i *Invoice) OverlapsWindow(w Window) bool {
	if !i.HasPeriod() {
		return false
	}
	return !i.PeriodStart.After(w.End) && !i.PeriodEnd.Before(w.Start)
}
