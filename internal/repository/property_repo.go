package repository

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/casaflow/utility-recon/internal/domain/entity"
)

// PropertyRepository handles property reference data persistence.
type PropertyRepository struct {
	db     *sql.DB
	logger *zap.Logger
}

// NewPropertyRepository creates a new property repository
func NewPropertyRepository(db *sql.DB, logger *zap.Logger) *PropertyRepository {
	return &PropertyRepository{
		db:     db,
		logger: logger,
	}
}

// Upsert inserts a property or updates the existing row with the same name.
// The property list is configuration-driven, so imports are idempotent.
func (r *PropertyRepository) Upsert(tx *sql.Tx, property *entity.Property) error {
	if property.ID == "" {
		property.ID = uuid.NewString()
	}

	query := `
		INSERT INTO properties (
			id, name, room_count, special_allowance, building_key, floor_code,
			created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(name) DO UPDATE SET
			room_count = excluded.room_count,
			special_allowance = excluded.special_allowance,
			building_key = excluded.building_key,
			floor_code = excluded.floor_code,
			updated_at = excluded.updated_at
	`

	now := time.Now()

	var err error
	if tx != nil {
		_, err = tx.Exec(query,
			property.ID,
			property.Name,
			property.RoomCount,
			property.SpecialAllowance,
			property.BuildingKey,
			property.FloorCode,
			now,
			now,
		)
	} else {
		_, err = r.db.Exec(query,
			property.ID,
			property.Name,
			property.RoomCount,
			property.SpecialAllowance,
			property.BuildingKey,
			property.FloorCode,
			now,
			now,
		)
	}

	if err != nil {
		r.logger.Error("Failed to upsert property",
			zap.String("name", property.Name),
			zap.Error(err))
		return fmt.Errorf("failed to upsert property: %w", err)
	}

	return nil
}

// GetByName retrieves a property by its exact name
func (r *PropertyRepository) GetByName(name string) (*entity.Property, error) {
	query := `
		SELECT id, name, room_count, special_allowance, building_key, floor_code,
		       created_at, updated_at
		FROM properties
		WHERE name = ?
	`

	property, err := r.scanProperty(r.db.QueryRow(query, name))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get property by name: %w", err)
	}

	return property, nil
}

// List returns all properties ordered by name
func (r *PropertyRepository) List() ([]*entity.Property, error) {
	query := `
		SELECT id, name, room_count, special_allowance, building_key, floor_code,
		       created_at, updated_at
		FROM properties
		ORDER BY name
	`

	rows, err := r.db.Query(query)
	if err != nil {
		return nil, fmt.Errorf("failed to list properties: %w", err)
	}
	defer rows.Close()

	var properties []*entity.Property
	for rows.Next() {
		property, err := r.scanProperty(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan property: %w", err)
		}
		properties = append(properties, property)
	}

	return properties, rows.Err()
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func (r *PropertyRepository) scanProperty(row rowScanner) (*entity.Property, error) {
	var property entity.Property
	var special sql.NullFloat64
	var createdAt, updatedAt sql.NullTime

	err := row.Scan(
		&property.ID,
		&property.Name,
		&property.RoomCount,
		&special,
		&property.BuildingKey,
		&property.FloorCode,
		&createdAt,
		&updatedAt,
	)
	if err != nil {
		return nil, err
	}

	if special.Valid {
		property.SpecialAllowance = &special.Float64
	}
	if createdAt.Valid {
		property.CreatedAt = &createdAt.Time
	}
	if updatedAt.Valid {
		property.UpdatedAt = &updatedAt.Time
	}

	return &property, nil
}
