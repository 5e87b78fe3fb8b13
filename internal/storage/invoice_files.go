package storage

import (
	"context"

	"go.uber.org/zap"
)

// PDFValidator checks downloaded bytes before they are persisted.
type PDFValidator func(data []byte) error

// InvoiceFileStore saves downloaded invoice documents under deterministic
// keys with duplicate detection.
type InvoiceFileStore struct {
	store    ObjectStore
	prefix   string
	validate PDFValidator
	logger   *zap.Logger
}

// NewInvoiceFileStore creates a file store over the given bucket.
func NewInvoiceFileStore(store ObjectStore, prefix string, logger *zap.Logger) *InvoiceFileStore {
	return &InvoiceFileStore{
		store:    store,
		prefix:   prefix,
		validate: ValidatePDF,
		logger:   logger,
	}
}

// SetValidator replaces the document validator (for testing).
func (s *InvoiceFileStore) SetValidator(v PDFValidator) { s.validate = v }

// Save validates and stores one invoice document. The key is derived from
// (property name, invoice number); when an object already exists under that
// key the upload is skipped and uploaded is false.
func (s *InvoiceFileStore) Save(ctx context.Context, propertyName, invoiceNumber string, data []byte) (key string, uploaded bool, err error) {
	key = InvoiceObjectKey(s.prefix, propertyName, invoiceNumber)

	if err := s.validate(data); err != nil {
		return key, false, &StorageError{Key: key, Cause: err}
	}

	exists, err := s.store.Exists(ctx, key)
	if err != nil {
		return key, false, err
	}
	if exists {
		s.logger.Debug("Invoice file already stored, skipping upload",
			zap.String("key", key))
		return key, false, nil
	}

	if err := s.store.Upload(ctx, key, "application/pdf", data); err != nil {
		return key, false, err
	}
	return key, true, nil
}
