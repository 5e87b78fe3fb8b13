// Package portal abstracts the external billing portal. The concrete portal
// surface is unstable, so every operation runs against an ordered list of
// fallback strategies and the rest of the pipeline only sees this interface.
package portal

import (
	"context"
	"time"
)

// Credentials identifies the shared portal account that gates all
// properties.
type Credentials struct {
	Email    string
	Password string
}

// Session is the authenticated portal state owned by exactly one worker for
// the duration of that worker's properties. Sessions must never be shared
// across goroutines.
type Session struct {
	Token     string
	ExpiresAt time.Time
}

// RawInvoiceRow is one unparsed row from the portal's invoice listing, text
// exactly as the portal renders it. Normalization into an Invoice record
// happens in the report package.
type RawInvoiceRow struct {
	Asset            string `json:"asset"`
	InvoiceReference string `json:"invoice_reference"`
	Provider         string `json:"provider"`
	ContractCode     string `json:"contract_code"`
	Service          string `json:"service"`
	IssueDate        string `json:"issue_date"`
	InitialDate      string `json:"initial_date"`
	FinalDate        string `json:"final_date"`
	Total            string `json:"total"`
	DownloadRef      string `json:"download_ref"`
}

// InvoiceRef identifies one downloadable invoice document.
type InvoiceRef struct {
	InvoiceNumber string
	DownloadRef   string
}

// Client is the portal automation capability consumed by the pipeline.
//
// Login failure is batch-fatal (AuthenticationError). SetDateRange must use
// an explicit start/end pair, never a relative preset, because billing
// windows are arbitrary. SearchProperty tolerates diacritics and minor
// naming variants. All operations report *UIError only after exhausting
// their fallback strategies.
type Client interface {
	Login(ctx context.Context) (*Session, error)
	SetDateRange(ctx context.Context, sess *Session, start, end time.Time) error
	SearchProperty(ctx context.Context, sess *Session, name string) ([]RawInvoiceRow, error)
	DownloadInvoiceFile(ctx context.Context, sess *Session, ref InvoiceRef) ([]byte, error)
	Close() error
}

// Factory creates isolated clients. Each batch worker obtains its own client
// so no mutable portal state is shared between workers.
type Factory interface {
	NewClient() (Client, error)
}
