package entity

import "time"

// ProcessingSession is one end-to-end batch run over a property list and a
// billing window. A re-run always produces a new session; prior sessions are
// never mutated.
type ProcessingSession struct {
	ID                   string     `json:"id"`
	SessionName          string     `json:"session_name,omitempty"`
	StartDate            time.Time  `json:"start_date"`
	EndDate              time.Time  `json:"end_date"`
	Status               string     `json:"status"`
	TotalProperties      int        `json:"total_properties"`
	SuccessfulProperties int        `json:"successful_properties"`
	FailedProperties     int        `json:"failed_properties"`
	TotalCost            float64    `json:"total_cost"`
	TotalOveruse         float64    `json:"total_overuse"`
	CreatedAt            time.Time  `json:"created_at"`
	CompletedAt          *time.Time `json:"completed_at,omitempty"`
}

// Window returns the billing window the session was run for.
func (s *ProcessingSession) Window() Window {
	return Window{Start: s.StartDate, End: s.EndDate}
}

// PropertyResult is the per-property outcome slot within a session. Slots
// are created pending at batch start and advance independently; one failed
// slot never rolls back the others.
type PropertyResult struct {
	ID                    string     `json:"id"`
	SessionID             string     `json:"session_id"`
	PropertyID            string     `json:"property_id"`
	PropertyName          string     `json:"property_name"`
	RoomCount             int        `json:"room_count"`
	Allowance             float64    `json:"allowance"`
	ElectricityCost       float64    `json:"electricity_cost"`
	WaterCost             float64    `json:"water_cost"`
	GasCost               float64    `json:"gas_cost"`
	TotalCost             float64    `json:"total_cost"`
	Overuse               float64    `json:"overuse"`
	SelectedInvoicesCount int        `json:"selected_invoices_count"`
	DownloadedFilesCount  int        `json:"downloaded_files_count"`
	Reasoning             string     `json:"reasoning,omitempty"`
	Status                string     `json:"status"`
	ErrorMessage          string     `json:"error_message,omitempty"`
	CreatedAt             time.Time  `json:"created_at"`
	UpdatedAt             *time.Time `json:"updated_at,omitempty"`
}
