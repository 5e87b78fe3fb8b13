package repository

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/casaflow/utility-recon/internal/domain/entity"
)

// InvoiceRepository handles invoice row persistence. Every row fetched from
// the portal is stored, selected or not, so a session can be audited later.
type InvoiceRepository struct {
	db     *sql.DB
	logger *zap.Logger
}

// NewInvoiceRepository creates a new invoice repository
func NewInvoiceRepository(db *sql.DB, logger *zap.Logger) *InvoiceRepository {
	return &InvoiceRepository{
		db:     db,
		logger: logger,
	}
}

// CreateBatch inserts all invoice rows for one property result
func (r *InvoiceRepository) CreateBatch(tx *sql.Tx, invoices []entity.Invoice) error {
	if len(invoices) == 0 {
		return nil
	}

	query := `
		INSERT INTO invoices (
			id, property_result_id, invoice_number, service_type, amount,
			invoice_date, period_start, period_end, provider, contract_code,
			is_selected, is_downloaded, file_path, file_size, created_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	exec := r.db.Exec
	if tx != nil {
		exec = tx.Exec
	}

	now := time.Now()
	for i := range invoices {
		inv := &invoices[i]
		if inv.ID == "" {
			inv.ID = uuid.NewString()
		}
		if inv.CreatedAt.IsZero() {
			inv.CreatedAt = now
		}

		_, err := exec(query,
			inv.ID, inv.PropertyResultID, inv.InvoiceNumber, inv.ServiceType,
			inv.Amount, inv.InvoiceDate, inv.PeriodStart, inv.PeriodEnd,
			inv.Provider, inv.ContractCode,
			inv.IsSelected, inv.IsDownloaded, inv.FilePath, inv.FileSize,
			inv.CreatedAt,
		)
		if err != nil {
			r.logger.Error("Failed to insert invoice",
				zap.String("invoice_number", inv.InvoiceNumber),
				zap.Error(err))
			return fmt.Errorf("failed to insert invoice: %w", err)
		}
	}

	return nil
}

// ListByResult returns all invoice rows stored for one property result
func (r *InvoiceRepository) ListByResult(propertyResultID string) ([]*entity.Invoice, error) {
	query := `
		SELECT id, property_result_id, invoice_number, service_type, amount,
		       invoice_date, period_start, period_end, provider, contract_code,
		       is_selected, is_downloaded, file_path, file_size, created_at
		FROM invoices
		WHERE property_result_id = ?
		ORDER BY service_type, invoice_number
	`

	rows, err := r.db.Query(query, propertyResultID)
	if err != nil {
		return nil, fmt.Errorf("failed to list invoices: %w", err)
	}
	defer rows.Close()

	var invoices []*entity.Invoice
	for rows.Next() {
		invoice, err := r.scanInvoice(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan invoice: %w", err)
		}
		invoices = append(invoices, invoice)
	}

	return invoices, rows.Err()
}

func (r *InvoiceRepository) scanInvoice(row rowScanner) (*entity.Invoice, error) {
	var invoice entity.Invoice
	var invoiceDate, periodStart, periodEnd sql.NullTime
	var provider, contractCode, filePath sql.NullString
	var fileSize sql.NullInt64

	err := row.Scan(
		&invoice.ID,
		&invoice.PropertyResultID,
		&invoice.InvoiceNumber,
		&invoice.ServiceType,
		&invoice.Amount,
		&invoiceDate,
		&periodStart,
		&periodEnd,
		&provider,
		&contractCode,
		&invoice.IsSelected,
		&invoice.IsDownloaded,
		&filePath,
		&fileSize,
		&invoice.CreatedAt,
	)
	if err != nil {
		return nil, err
	}

	if invoiceDate.Valid {
		invoice.InvoiceDate = &invoiceDate.Time
	}
	if periodStart.Valid {
		invoice.PeriodStart = &periodStart.Time
	}
	if periodEnd.Valid {
		invoice.PeriodEnd = &periodEnd.Time
	}
	invoice.Provider = provider.String
	invoice.ContractCode = contractCode.String
	invoice.FilePath = filePath.String
	invoice.FileSize = fileSize.Int64

	return &invoice, nil
}
