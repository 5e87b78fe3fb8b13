package repository

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/casaflow/utility-recon/internal/domain/entity"
)

// SessionRepository handles processing session persistence. Sessions are
// append-only: re-running a window creates a new row rather than mutating
// the previous run.
type SessionRepository struct {
	db     *sql.DB
	logger *zap.Logger
}

// NewSessionRepository creates a new session repository
func NewSessionRepository(db *sql.DB, logger *zap.Logger) *SessionRepository {
	return &SessionRepository{
		db:     db,
		logger: logger,
	}
}

// Create creates a new processing session record
func (r *SessionRepository) Create(tx *sql.Tx, session *entity.ProcessingSession) error {
	if session.ID == "" {
		session.ID = uuid.NewString()
	}
	if session.Status == "" {
		session.Status = entity.StatusPending
	}

	now := time.Now()
	if session.CreatedAt.IsZero() {
		session.CreatedAt = now
	} else {
		now = session.CreatedAt
	}

	query := `
		INSERT INTO processing_sessions (
			id, session_name, start_date, end_date, status,
			total_properties, successful_properties, failed_properties,
			total_cost, total_overuse, created_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	var err error
	if tx != nil {
		_, err = tx.Exec(query,
			session.ID, session.SessionName, session.StartDate, session.EndDate,
			session.Status, session.TotalProperties, session.SuccessfulProperties,
			session.FailedProperties, session.TotalCost, session.TotalOveruse, now,
		)
	} else {
		_, err = r.db.Exec(query,
			session.ID, session.SessionName, session.StartDate, session.EndDate,
			session.Status, session.TotalProperties, session.SuccessfulProperties,
			session.FailedProperties, session.TotalCost, session.TotalOveruse, now,
		)
	}

	if err != nil {
		r.logger.Error("Failed to create session", zap.Error(err))
		return fmt.Errorf("failed to create session: %w", err)
	}

	return nil
}

// UpdateStatus transitions the session status. A nil completedAt leaves the
// completion timestamp untouched.
func (r *SessionRepository) UpdateStatus(id, status string, completedAt *time.Time) error {
	query := `
		UPDATE processing_sessions
		SET status = ?, completed_at = COALESCE(?, completed_at)
		WHERE id = ?
	`

	result, err := r.db.Exec(query, status, completedAt, id)
	if err != nil {
		r.logger.Error("Failed to update session status",
			zap.String("session_id", id),
			zap.Error(err))
		return fmt.Errorf("failed to update session status: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to check affected rows: %w", err)
	}
	if rows == 0 {
		return fmt.Errorf("session not found: %s", id)
	}

	return nil
}

// UpdateCounters writes the final aggregate counters for a session
func (r *SessionRepository) UpdateCounters(session *entity.ProcessingSession) error {
	query := `
		UPDATE processing_sessions
		SET total_properties = ?, successful_properties = ?, failed_properties = ?,
		    total_cost = ?, total_overuse = ?
		WHERE id = ?
	`

	_, err := r.db.Exec(query,
		session.TotalProperties,
		session.SuccessfulProperties,
		session.FailedProperties,
		session.TotalCost,
		session.TotalOveruse,
		session.ID,
	)
	if err != nil {
		r.logger.Error("Failed to update session counters",
			zap.String("session_id", session.ID),
			zap.Error(err))
		return fmt.Errorf("failed to update session counters: %w", err)
	}

	return nil
}

// GetByID retrieves a session by ID, returning nil when it does not exist
func (r *SessionRepository) GetByID(id string) (*entity.ProcessingSession, error) {
	query := `
		SELECT id, session_name, start_date, end_date, status,
		       total_properties, successful_properties, failed_properties,
		       total_cost, total_overuse, created_at, completed_at
		FROM processing_sessions
		WHERE id = ?
	`

	session, err := r.scanSession(r.db.QueryRow(query, id))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get session: %w", err)
	}

	return session, nil
}

// List returns the most recent sessions, newest first
func (r *SessionRepository) List(limit int) ([]*entity.ProcessingSession, error) {
	if limit <= 0 {
		limit = 50
	}

	query := `
		SELECT id, session_name, start_date, end_date, status,
		       total_properties, successful_properties, failed_properties,
		       total_cost, total_overuse, created_at, completed_at
		FROM processing_sessions
		ORDER BY created_at DESC
		LIMIT ?
	`

	rows, err := r.db.Query(query, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list sessions: %w", err)
	}
	defer rows.Close()

	var sessions []*entity.ProcessingSession
	for rows.Next() {
		session, err := r.scanSession(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan session: %w", err)
		}
		sessions = append(sessions, session)
	}

	return sessions, rows.Err()
}

func (r *SessionRepository) scanSession(row rowScanner) (*entity.ProcessingSession, error) {
	var session entity.ProcessingSession
	var name sql.NullString
	var completedAt sql.NullTime

	err := row.Scan(
		&session.ID,
		&name,
		&session.StartDate,
		&session.EndDate,
		&session.Status,
		&session.TotalProperties,
		&session.SuccessfulProperties,
		&session.FailedProperties,
		&session.TotalCost,
		&session.TotalOveruse,
		&session.CreatedAt,
		&completedAt,
	)
	if err != nil {
		return nil, err
	}

	session.SessionName = name.String
	if completedAt.Valid {
		session.CompletedAt = &completedAt.Time
	}

	return &session, nil
}
