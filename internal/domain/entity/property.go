package entity

import "time"

// Property is the reference record for one rental unit. The pipeline only
// reads properties; they are created and updated by configuration import.
type Property struct {
	ID               string     `json:"id"`
	Name             string     `json:"name"`
	RoomCount        int        `json:"room_count"`
	SpecialAllowance *float64   `json:"special_allowance,omitempty"`
	BuildingKey      string     `json:"building_key"`
	FloorCode        string     `json:"floor_code"`
	CreatedAt        *time.Time `json:"created_at,omitempty"`
	UpdatedAt        *time.Time `json:"updated_at,omitempty"`
}

// RoomLimits maps a room count to its monthly utility allowance in euros.
type RoomLimits map[int]float64

// DefaultRoomLimits returns the standard tier table.
func DefaultRoomLimits() RoomLimits {
	return RoomLimits{
		1: 50,
		2: 70,
		3: 100,
		4: 130,
	}
}

// AllowanceFor resolves the allowance for a property: the special allowance
// when set, otherwise the room tier, otherwise DefaultAllowance.
func (rl RoomLimits) AllowanceFor(p *Property) float64 {
	if p.SpecialAllowance != nil {
		return *p.SpecialAllowance
	}
	if limit, ok := rl[p.RoomCount]; ok {
		return limit
	}
	return DefaultAllowance
}
