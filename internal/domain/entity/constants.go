package entity

// Status constants for ProcessingSession and PropertyResult.
// Transitions are monotonic: pending -> processing -> completed/failed.
const (
	StatusPending    = "pending"
	StatusProcessing = "processing"
	StatusCompleted  = "completed"
	StatusFailed     = "failed"
)

// Service type constants for Invoice
const (
	ServiceElectricity  = "electricity"
	ServiceWater        = "water"
	ServiceGas          = "gas"
	ServiceUnrecognized = "unrecognized"
)

// DefaultAllowance applies when a property's room count has no entry in the
// room limits table.
const DefaultAllowance = 50.0
