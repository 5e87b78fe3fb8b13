package repository

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/casaflow/utility-recon/internal/domain/entity"
	"github.com/casaflow/utility-recon/pkg/database"
)

func testDB(t *testing.T) *database.DB {
	t.Helper()

	db, err := database.New(database.Config{
		Path:            filepath.Join(t.TempDir(), "test.db"),
		MaxOpenConns:    4,
		MaxIdleConns:    2,
		ConnMaxLifetime: time.Minute,
	}, zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	migrator := database.NewMigrator(db, zap.NewNop())
	require.NoError(t, migrator.RunMigrations("../../migrations"))

	return db
}

func date(t *testing.T, s string) time.Time {
	t.Helper()
	parsed, err := time.Parse("2006-01-02", s)
	require.NoError(t, err)
	return parsed
}

func TestPropertyRepository_UpsertAndGet(t *testing.T) {
	db := testDB(t)
	repo := NewPropertyRepository(db.DB, zap.NewNop())

	special := 150.0
	property := &entity.Property{
		Name:             "Padilla 1º 3ª",
		RoomCount:        2,
		SpecialAllowance: &special,
		BuildingKey:      "padilla",
		FloorCode:        "1-3",
	}
	require.NoError(t, repo.Upsert(nil, property))
	require.NotEmpty(t, property.ID)

	got, err := repo.GetByName("Padilla 1º 3ª")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, property.ID, got.ID)
	assert.Equal(t, 2, got.RoomCount)
	require.NotNil(t, got.SpecialAllowance)
	assert.Equal(t, 150.0, *got.SpecialAllowance)

	// Re-import with changed data keeps the row unique by name.
	property.RoomCount = 3
	property.SpecialAllowance = nil
	require.NoError(t, repo.Upsert(nil, property))

	all, err := repo.List()
	require.NoError(t, err)
	require.Len(t, all, 1)
	assert.Equal(t, 3, all[0].RoomCount)
	assert.Nil(t, all[0].SpecialAllowance)
}

func TestPropertyRepository_GetByNameMissing(t *testing.T) {
	db := testDB(t)
	repo := NewPropertyRepository(db.DB, zap.NewNop())

	got, err := repo.GetByName("nope")
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestSessionRepository_Lifecycle(t *testing.T) {
	db := testDB(t)
	repo := NewSessionRepository(db.DB, zap.NewNop())

	session := &entity.ProcessingSession{
		SessionName:     "june",
		StartDate:       date(t, "2025-05-01"),
		EndDate:         date(t, "2025-06-30"),
		TotalProperties: 3,
	}
	require.NoError(t, repo.Create(nil, session))
	require.NotEmpty(t, session.ID)
	assert.Equal(t, entity.StatusPending, session.Status)

	require.NoError(t, repo.UpdateStatus(session.ID, entity.StatusProcessing, nil))

	session.SuccessfulProperties = 2
	session.FailedProperties = 1
	session.TotalCost = 250.50
	session.TotalOveruse = 70.00
	require.NoError(t, repo.UpdateCounters(session))

	now := time.Now()
	require.NoError(t, repo.UpdateStatus(session.ID, entity.StatusCompleted, &now))

	got, err := repo.GetByID(session.ID)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, entity.StatusCompleted, got.Status)
	assert.Equal(t, 2, got.SuccessfulProperties)
	assert.InDelta(t, 250.50, got.TotalCost, 0.001)
	assert.NotNil(t, got.CompletedAt)
	assert.Equal(t, "june", got.SessionName)
}

func TestSessionRepository_UpdateStatusMissingSession(t *testing.T) {
	db := testDB(t)
	repo := NewSessionRepository(db.DB, zap.NewNop())

	err := repo.UpdateStatus("ghost", entity.StatusFailed, nil)
	assert.Error(t, err)
}

func TestSessionRepository_ListNewestFirst(t *testing.T) {
	db := testDB(t)
	repo := NewSessionRepository(db.DB, zap.NewNop())

	older := &entity.ProcessingSession{
		StartDate: date(t, "2025-04-01"),
		EndDate:   date(t, "2025-04-30"),
		CreatedAt: time.Now().Add(-time.Hour),
	}
	newer := &entity.ProcessingSession{
		StartDate: date(t, "2025-05-01"),
		EndDate:   date(t, "2025-05-31"),
		CreatedAt: time.Now(),
	}
	require.NoError(t, repo.Create(nil, older))
	require.NoError(t, repo.Create(nil, newer))

	sessions, err := repo.List(10)
	require.NoError(t, err)
	require.Len(t, sessions, 2)
	assert.Equal(t, newer.ID, sessions[0].ID)
	assert.Equal(t, older.ID, sessions[1].ID)
}

func TestResultAndInvoiceRepositories(t *testing.T) {
	db := testDB(t)
	sessionRepo := NewSessionRepository(db.DB, zap.NewNop())
	resultRepo := NewResultRepository(db.DB, zap.NewNop())
	invoiceRepo := NewInvoiceRepository(db.DB, zap.NewNop())
	propertyRepo := NewPropertyRepository(db.DB, zap.NewNop())

	property := &entity.Property{Name: "Aribau 1º 1ª", RoomCount: 1}
	require.NoError(t, propertyRepo.Upsert(nil, property))

	session := &entity.ProcessingSession{
		StartDate: date(t, "2025-05-01"),
		EndDate:   date(t, "2025-06-30"),
	}
	require.NoError(t, sessionRepo.Create(nil, session))

	slot := &entity.PropertyResult{
		SessionID:    session.ID,
		PropertyID:   property.ID,
		PropertyName: property.Name,
		RoomCount:    1,
	}
	require.NoError(t, resultRepo.Create(nil, slot))
	assert.Equal(t, entity.StatusPending, slot.Status)

	slot.Allowance = 50
	slot.ElectricityCost = 80
	slot.WaterCost = 40
	slot.TotalCost = 120
	slot.Overuse = 70
	slot.SelectedInvoicesCount = 2
	slot.DownloadedFilesCount = 1
	slot.Reasoning = "electricity: selected 1 of 1"
	slot.Status = entity.StatusCompleted
	require.NoError(t, resultRepo.Update(nil, slot))

	periodStart := date(t, "2025-06-01")
	periodEnd := date(t, "2025-06-30")
	invoices := []entity.Invoice{
		{
			PropertyResultID: slot.ID,
			InvoiceNumber:    "E-1",
			ServiceType:      entity.ServiceElectricity,
			Amount:           80,
			PeriodStart:      &periodStart,
			PeriodEnd:        &periodEnd,
			Provider:         "Endesa",
			IsSelected:       true,
			IsDownloaded:     true,
			FilePath:         "invoices/Aribau_1_1/E-1.pdf",
			FileSize:         1024,
		},
		{
			PropertyResultID: slot.ID,
			InvoiceNumber:    "W-1",
			ServiceType:      entity.ServiceWater,
			Amount:           40,
			IsSelected:       true,
		},
	}
	require.NoError(t, invoiceRepo.CreateBatch(nil, invoices))

	results, err := resultRepo.ListBySession(session.ID)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, entity.StatusCompleted, results[0].Status)
	assert.InDelta(t, 70.0, results[0].Overuse, 0.001)
	assert.NotNil(t, results[0].UpdatedAt)

	stored, err := invoiceRepo.ListByResult(slot.ID)
	require.NoError(t, err)
	require.Len(t, stored, 2)

	// Ordered by service type, electricity first.
	assert.Equal(t, "E-1", stored[0].InvoiceNumber)
	require.NotNil(t, stored[0].PeriodStart)
	assert.True(t, stored[0].IsDownloaded)
	assert.Equal(t, int64(1024), stored[0].FileSize)

	assert.Equal(t, "W-1", stored[1].InvoiceNumber)
	assert.Nil(t, stored[1].PeriodStart)
	assert.False(t, stored[1].IsDownloaded)
}
