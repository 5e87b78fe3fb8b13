package config

import (
	"fmt"

	"github.com/spf13/viper"

	"github.com/casaflow/utility-recon/internal/domain/entity"
)

// PropertySpec is one entry of the canonical property list file. The
// pipeline never writes this list; it is imported on startup.
type PropertySpec struct {
	Name             string   `mapstructure:"name"`
	RoomCount        int      `mapstructure:"room_count"`
	SpecialAllowance *float64 `mapstructure:"special_allowance"`
	BuildingKey      string   `mapstructure:"building_key"`
	FloorCode        string   `mapstructure:"floor_code"`
}

// LoadProperties reads the property reference list from a YAML file.
func LoadProperties(path string) ([]*entity.Property, error) {
	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("yaml")

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("failed to read properties file: %w", err)
	}

	var specs []PropertySpec
	if err := v.UnmarshalKey("properties", &specs); err != nil {
		return nil, fmt.Errorf("failed to unmarshal properties: %w", err)
	}

	properties := make([]*entity.Property, 0, len(specs))
	seen := make(map[string]bool, len(specs))
	for i, spec := range specs {
		if spec.Name == "" {
			return nil, fmt.Errorf("property %d has no name", i+1)
		}
		if seen[spec.Name] {
			return nil, fmt.Errorf("duplicate property name: %s", spec.Name)
		}
		seen[spec.Name] = true

		rooms := spec.RoomCount
		if rooms < 1 {
			rooms = 1
		}

		properties = append(properties, &entity.Property{
			Name:             spec.Name,
			RoomCount:        rooms,
			SpecialAllowance: spec.SpecialAllowance,
			BuildingKey:      spec.BuildingKey,
			FloorCode:        spec.FloorCode,
		})
	}

	return properties, nil
}
