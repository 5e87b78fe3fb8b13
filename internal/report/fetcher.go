// Package report drives the portal through one property's extraction
// sequence and normalizes the raw listing into invoice records.
package report

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/casaflow/utility-recon/internal/domain/entity"
	"github.com/casaflow/utility-recon/internal/portal"
	"go.uber.org/zap"
)

// FetchError means one property's extraction failed for good. It is local
// to that property: the batch marks the slot failed and moves on.
type FetchError struct {
	Property string
	Step     string
	Cause    error
}

func (e *FetchError) Error() string {
	return fmt.Sprintf("fetch for property %q failed at %s: %v", e.Property, e.Step, e.Cause)
}

func (e *FetchError) Unwrap() error { return e.Cause }

// Result is the outcome of one property's extraction.
type Result struct {
	Invoices []entity.Invoice
	Notes    []string // normalization quality notes, folded into reasoning

	// DownloadRefs maps invoice numbers to the portal's opaque download
	// handles. Handles are session-scoped and never persisted.
	DownloadRefs map[string]string
}

// Fetcher runs the extraction sequence for single properties against a
// portal client it does not own; the owning worker passes its client and
// session in.
type Fetcher struct {
	retry      RetryPolicy
	normalizer *Normalizer
	logger     *zap.Logger
}

// NewFetcher creates a fetcher with the given retry policy.
func NewFetcher(retry RetryPolicy, logger *zap.Logger) *Fetcher {
	if retry.MaxAttempts <= 0 {
		retry = DefaultRetryPolicy()
	}
	return &Fetcher{
		retry:      retry,
		normalizer: NewNormalizer(logger),
		logger:     logger,
	}
}

// Fetch applies the billing window, searches the property and normalizes
// every visible row. Transient portal failures are retried with bounded
// exponential backoff; exhaustion or a non-transient failure degrades to a
// *FetchError. Authentication errors pass through untouched, they are
// batch-fatal.
func (f *Fetcher) Fetch(ctx context.Context, client portal.Client, sess *portal.Session, property *entity.Property, window entity.Window) (*Result, error) {
	var rows []portal.RawInvoiceRow

	var lastErr error
	for attempt := 1; attempt <= f.retry.MaxAttempts; attempt++ {
		step, err := f.extractOnce(ctx, client, sess, property.Name, window, &rows)
		if err == nil {
			lastErr = nil
			break
		}
		if portal.IsAuthenticationError(err) {
			return nil, err
		}
		if !IsTransient(err) {
			return nil, &FetchError{Property: property.Name, Step: step, Cause: err}
		}

		lastErr = &FetchError{Property: property.Name, Step: step, Cause: err}
		if attempt == f.retry.MaxAttempts {
			break
		}

		backoff := f.retry.Backoff(attempt)
		f.logger.Warn("Transient portal failure, backing off",
			zap.String("property", property.Name),
			zap.String("step", step),
			zap.Int("attempt", attempt),
			zap.Duration("backoff", backoff),
			zap.Error(err))
		if err := sleepCtx(ctx, backoff); err != nil {
			return nil, &FetchError{Property: property.Name, Step: step, Cause: err}
		}
	}
	if lastErr != nil {
		return nil, lastErr
	}

	invoices, notes := f.normalizer.NormalizeRows(rows)

	refs := make(map[string]string, len(rows))
	for _, row := range rows {
		reference := strings.TrimSpace(row.InvoiceReference)
		if reference != "" && row.DownloadRef != "" {
			refs[reference] = row.DownloadRef
		}
	}

	f.logger.Info("Property extraction completed",
		zap.String("property", property.Name),
		zap.Int("rows", len(rows)),
		zap.Int("invoices", len(invoices)))

	return &Result{Invoices: invoices, Notes: notes, DownloadRefs: refs}, nil
}

// extractOnce runs one attempt of the date-range + search sequence and
// reports which step failed.
func (f *Fetcher) extractOnce(ctx context.Context, client portal.Client, sess *portal.Session, name string, window entity.Window, rows *[]portal.RawInvoiceRow) (string, error) {
	if err := client.SetDateRange(ctx, sess, window.Start, window.End); err != nil {
		return "set_date_range", err
	}

	found, err := client.SearchProperty(ctx, sess, name)
	if err != nil {
		return "search_property", err
	}

	*rows = found
	return "", nil
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
