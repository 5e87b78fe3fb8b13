// Package selection picks the invoices that count toward a billing period.
//
// Selection is a pure, deterministic function of its inputs: identical
// invoice sets always yield identical selections and reasoning text. This
// replaces an earlier approach that delegated the choice to a language
// model, which could not be reproduced run to run.
package selection

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/casaflow/utility-recon/internal/domain/entity"
)

// Targets maps a service type to the number of invoices required for one
// billing period.
type Targets map[string]int

// DefaultTargets returns the standard per-period counts: two monthly
// electricity bills, one bimonthly water bill.
func DefaultTargets() Targets {
	return Targets{
		entity.ServiceElectricity: 2,
		entity.ServiceWater:       1,
	}
}

// Result is the outcome of selecting invoices for one property.
type Result struct {
	// Invoices is the full input set with IsSelected set on the chosen rows,
	// in input order, ready for persistence.
	Invoices []entity.Invoice
	// Selected contains only the chosen invoices, ordered by service type
	// then rank.
	Selected []entity.Invoice
	// Reasoning explains the selection per service type, including
	// insufficient-data flags.
	Reasoning string
}

// Select picks up to targets[service] invoices per service type from the
// rows whose billing period overlaps the window.
//
// Ranking per service type: proximity of period_end to window.End (closer
// wins), then latest invoice_date, then largest amount, then invoice_number
// ascending. The final key makes the order total, so ties cannot introduce
// nondeterminism.
func Select(invoices []entity.Invoice, window entity.Window, targets Targets) Result {
	flagged := make([]entity.Invoice, len(invoices))
	copy(flagged, invoices)
	for i := range flagged {
		flagged[i].IsSelected = false
	}

	var reasons []string
	var selected []entity.Invoice

	for _, service := range sortedServices(targets) {
		target := targets[service]
		if target <= 0 {
			continue
		}

		candidates := candidateIndexes(flagged, service, window)
		rankCandidates(flagged, candidates, window)

		take := target
		if take > len(candidates) {
			take = len(candidates)
		}
		for _, idx := range candidates[:take] {
			flagged[idx].IsSelected = true
			selected = append(selected, flagged[idx])
		}

		reasons = append(reasons, describeService(flagged, candidates[:take], service, target, len(candidates), window))
	}

	if n := countUnrecognized(flagged); n > 0 {
		reasons = append(reasons, fmt.Sprintf("%d invoice(s) with unrecognized service type excluded from selection", n))
	}

	return Result{
		Invoices:  flagged,
		Selected:  selected,
		Reasoning: strings.Join(reasons, "; "),
	}
}

// candidateIndexes returns the indexes of invoices of the given service
// whose period overlaps the window, in input order.
func candidateIndexes(invoices []entity.Invoice, service string, window entity.Window) []int {
	var idxs []int
	for i := range invoices {
		if invoices[i].ServiceType != service {
			continue
		}
		if !invoices[i].OverlapsWindow(window) {
			continue
		}
		idxs = append(idxs, i)
	}
	return idxs
}

// rankCandidates sorts candidate indexes best-first.
func rankCandidates(invoices []entity.Invoice, idxs []int, window entity.Window) {
	sort.SliceStable(idxs, func(a, b int) bool {
		ia, ib := &invoices[idxs[a]], &invoices[idxs[b]]

		da := absDuration(ia.PeriodEnd.Sub(window.End))
		db := absDuration(ib.PeriodEnd.Sub(window.End))
		if da != db {
			return da < db
		}

		ta, tb := invoiceDateOrZero(ia), invoiceDateOrZero(ib)
		if !ta.Equal(tb) {
			return ta.After(tb)
		}

		if ia.Amount != ib.Amount {
			return ia.Amount > ib.Amount
		}
		return ia.InvoiceNumber < ib.InvoiceNumber
	})
}

func describeService(invoices []entity.Invoice, chosen []int, service string, target, available int, window entity.Window) string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s: selected %d of %d candidate(s) in window %s", service, len(chosen), available, window)

	if len(chosen) > 0 {
		refs := make([]string, 0, len(chosen))
		for _, idx := range chosen {
			inv := &invoices[idx]
			refs = append(refs, fmt.Sprintf("%s [%s..%s, %.2f]",
				inv.InvoiceNumber,
				inv.PeriodStart.Format("2006-01-02"),
				inv.PeriodEnd.Format("2006-01-02"),
				inv.Amount))
		}
		fmt.Fprintf(&b, ": %s", strings.Join(refs, ", "))
	}

	if available < target {
		fmt.Fprintf(&b, " (insufficient data: found %d of %d)", available, target)
	}
	return b.String()
}

func sortedServices(targets Targets) []string {
	services := make([]string, 0, len(targets))
	for service := range targets {
		services = append(services, service)
	}
	sort.Strings(services)
	return services
}

func countUnrecognized(invoices []entity.Invoice) int {
	count := 0
	for i := range invoices {
		if invoices[i].ServiceType == entity.ServiceUnrecognized {
			count++
		}
	}
	return count
}

func absDuration(d time.Duration) time.Duration {
	if d < 0 {
		return -d
	}
	return d
}

func invoiceDateOrZero(inv *entity.Invoice) time.Time {
	if inv.InvoiceDate == nil {
		return time.Time{}
	}
	return *inv.InvoiceDate
}
