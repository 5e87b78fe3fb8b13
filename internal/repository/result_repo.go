package repository

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/casaflow/utility-recon/internal/domain/entity"
)

// ResultRepository handles per-property result persistence. Result slots are
// created pending when a batch starts and updated in place as each property
// finishes, so a crashed run still shows which properties never ran.
type ResultRepository struct {
	db     *sql.DB
	logger *zap.Logger
}

// NewResultRepository creates a new result repository
func NewResultRepository(db *sql.DB, logger *zap.Logger) *ResultRepository {
	return &ResultRepository{
		db:     db,
		logger: logger,
	}
}

// Create creates a pending result slot for a property within a session
func (r *ResultRepository) Create(tx *sql.Tx, result *entity.PropertyResult) error {
	if result.ID == "" {
		result.ID = uuid.NewString()
	}
	if result.Status == "" {
		result.Status = entity.StatusPending
	}

	now := time.Now()
	if result.CreatedAt.IsZero() {
		result.CreatedAt = now
	} else {
		now = result.CreatedAt
	}

	query := `
		INSERT INTO property_results (
			id, session_id, property_id, property_name, room_count, allowance,
			electricity_cost, water_cost, gas_cost, total_cost, overuse,
			selected_invoices_count, downloaded_files_count,
			reasoning, status, error_message, created_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	var err error
	if tx != nil {
		_, err = tx.Exec(query,
			result.ID, result.SessionID, result.PropertyID, result.PropertyName,
			result.RoomCount, result.Allowance,
			result.ElectricityCost, result.WaterCost, result.GasCost,
			result.TotalCost, result.Overuse,
			result.SelectedInvoicesCount, result.DownloadedFilesCount,
			result.Reasoning, result.Status, result.ErrorMessage, now,
		)
	} else {
		_, err = r.db.Exec(query,
			result.ID, result.SessionID, result.PropertyID, result.PropertyName,
			result.RoomCount, result.Allowance,
			result.ElectricityCost, result.WaterCost, result.GasCost,
			result.TotalCost, result.Overuse,
			result.SelectedInvoicesCount, result.DownloadedFilesCount,
			result.Reasoning, result.Status, result.ErrorMessage, now,
		)
	}

	if err != nil {
		r.logger.Error("Failed to create property result",
			zap.String("property_name", result.PropertyName),
			zap.Error(err))
		return fmt.Errorf("failed to create property result: %w", err)
	}

	return nil
}

// Update writes the final outcome of a processed property into its slot
func (r *ResultRepository) Update(tx *sql.Tx, result *entity.PropertyResult) error {
	now := time.Now()
	result.UpdatedAt = &now

	query := `
		UPDATE property_results
		SET allowance = ?, electricity_cost = ?, water_cost = ?, gas_cost = ?,
		    total_cost = ?, overuse = ?,
		    selected_invoices_count = ?, downloaded_files_count = ?,
		    reasoning = ?, status = ?, error_message = ?, updated_at = ?
		WHERE id = ?
	`

	var err error
	if tx != nil {
		_, err = tx.Exec(query,
			result.Allowance, result.ElectricityCost, result.WaterCost, result.GasCost,
			result.TotalCost, result.Overuse,
			result.SelectedInvoicesCount, result.DownloadedFilesCount,
			result.Reasoning, result.Status, result.ErrorMessage, now,
			result.ID,
		)
	} else {
		_, err = r.db.Exec(query,
			result.Allowance, result.ElectricityCost, result.WaterCost, result.GasCost,
			result.TotalCost, result.Overuse,
			result.SelectedInvoicesCount, result.DownloadedFilesCount,
			result.Reasoning, result.Status, result.ErrorMessage, now,
			result.ID,
		)
	}

	if err != nil {
		r.logger.Error("Failed to update property result",
			zap.String("result_id", result.ID),
			zap.Error(err))
		return fmt.Errorf("failed to update property result: %w", err)
	}

	return nil
}

// ListBySession returns all result slots for a session ordered by property name
func (r *ResultRepository) ListBySession(sessionID string) ([]*entity.PropertyResult, error) {
	query := `
		SELECT id, session_id, property_id, property_name, room_count, allowance,
		       electricity_cost, water_cost, gas_cost, total_cost, overuse,
		       selected_invoices_count, downloaded_files_count,
		       reasoning, status, error_message, created_at, updated_at
		FROM property_results
		WHERE session_id = ?
		ORDER BY property_name
	`

	rows, err := r.db.Query(query, sessionID)
	if err != nil {
		return nil, fmt.Errorf("failed to list property results: %w", err)
	}
	defer rows.Close()

	var results []*entity.PropertyResult
	for rows.Next() {
		result, err := r.scanResult(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan property result: %w", err)
		}
		results = append(results, result)
	}

	return results, rows.Err()
}

func (r *ResultRepository) scanResult(row rowScanner) (*entity.PropertyResult, error) {
	var result entity.PropertyResult
	var reasoning, errorMessage sql.NullString
	var updatedAt sql.NullTime

	err := row.Scan(
		&result.ID,
		&result.SessionID,
		&result.PropertyID,
		&result.PropertyName,
		&result.RoomCount,
		&result.Allowance,
		&result.ElectricityCost,
		&result.WaterCost,
		&result.GasCost,
		&result.TotalCost,
		&result.Overuse,
		&result.SelectedInvoicesCount,
		&result.DownloadedFilesCount,
		&reasoning,
		&result.Status,
		&errorMessage,
		&result.CreatedAt,
		&updatedAt,
	)
	if err != nil {
		return nil, err
	}

	result.Reasoning = reasoning.String
	result.ErrorMessage = errorMessage.String
	if updatedAt.Valid {
		result.UpdatedAt = &updatedAt.Time
	}

	return &result, nil
}
