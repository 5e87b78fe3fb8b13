package entity

import (
	"fmt"
	"time"
)

// Window is the explicit billing date range invoices are considered for.
// Billing windows are arbitrary (e.g. the last 60 days), never a portal
// preset like "last month".
type Window struct {
	Start time.Time `json:"start"`
	End   time.Time `json:"end"`
}

// NewWindow builds a window and rejects inverted ranges.
func NewWindow(start, end time.Time) (Window, error) {
	if end.Before(start) {
		return Window{}, fmt.Errorf("window end %s before start %s",
			end.Format("2006-01-02"), start.Format("2006-01-02"))
	}
	return Window{Start: start, End: end}, nil
}

// String renders the window the way it appears in reasoning text and logs.
func (w Window) String() string {
	return w.Start.Format("2006-01-02") + ".." + w.End.Format("2006-01-02")
}
