// Package allowance derives the cost breakdown and overage for one property
// from its selected invoices. Pure computation, no I/O.
package allowance

import (
	"github.com/casaflow/utility-recon/internal/domain/entity"
)

// Breakdown carries the computed cost fields for a PropertyResult.
// Invariants: TotalCost is the sum of the per-service costs and
// Overuse = max(0, TotalCost - Allowance).
type Breakdown struct {
	ElectricityCost float64
	WaterCost       float64
	GasCost         float64
	TotalCost       float64
	Allowance       float64
	Overuse         float64
}

// Compute sums the selected invoice amounts per service type and resolves
// the property's allowance: special allowance when set, otherwise the room
// tier, otherwise the default.
func Compute(property *entity.Property, limits entity.RoomLimits, selected []entity.Invoice) Breakdown {
	var b Breakdown

	for i := range selected {
		inv := &selected[i]
		switch inv.ServiceType {
		case entity.ServiceElectricity:
			b.ElectricityCost += inv.Amount
		case entity.ServiceWater:
			b.WaterCost += inv.Amount
		case entity.ServiceGas:
			b.GasCost += inv.Amount
		}
	}

	b.TotalCost = b.ElectricityCost + b.WaterCost + b.GasCost
	b.Allowance = limits.AllowanceFor(property)

	b.Overuse = b.TotalCost - b.Allowance
	if b.Overuse < 0 {
		b.Overuse = 0
	}
	return b
}
