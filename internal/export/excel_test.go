package export

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"
	"go.uber.org/zap"

	"github.com/casaflow/utility-recon/internal/domain/entity"
)

func TestExport_WritesSummaryAndRows(t *testing.T) {
	start, _ := time.Parse("2006-01-02", "2025-05-01")
	end, _ := time.Parse("2006-01-02", "2025-06-30")

	session := &entity.ProcessingSession{
		ID:                   "sess-1",
		StartDate:            start,
		EndDate:              end,
		Status:               entity.StatusCompleted,
		TotalProperties:      2,
		SuccessfulProperties: 1,
		FailedProperties:     1,
		TotalCost:            120.00,
		TotalOveruse:         70.00,
	}
	results := []*entity.PropertyResult{
		{
			PropertyName:          "Aribau 1º 1ª",
			RoomCount:             1,
			Allowance:             50,
			ElectricityCost:       80,
			WaterCost:             40,
			TotalCost:             120,
			Overuse:               70,
			SelectedInvoicesCount: 2,
			DownloadedFilesCount:  2,
			Status:                entity.StatusCompleted,
			Reasoning:             "electricity: selected 2 of 2",
		},
		{
			PropertyName: "Llull 3º 4ª",
			RoomCount:    3,
			Status:       entity.StatusFailed,
			ErrorMessage: "property not found in portal",
		},
	}

	outputPath := filepath.Join(t.TempDir(), "report.xlsx")
	exporter := NewExcelExporter(zap.NewNop())
	require.NoError(t, exporter.Export(session, results, outputPath))

	f, err := excelize.OpenFile(outputPath)
	require.NoError(t, err)
	defer f.Close()

	get := func(cell string) string {
		v, err := f.GetCellValue("Results", cell)
		require.NoError(t, err)
		return v
	}

	assert.Equal(t, "sess-1", get("B1"))
	assert.Equal(t, "2025-05-01..2025-06-30", get("B2"))
	assert.Equal(t, entity.StatusCompleted, get("B3"))
	assert.Equal(t, "1/1/2", get("B4"))

	assert.Equal(t, "Property", get("A7"))
	assert.Equal(t, "Aribau 1º 1ª", get("A8"))
	assert.Equal(t, "70", get("H8"))
	assert.Equal(t, "Llull 3º 4ª", get("A9"))
	assert.Equal(t, "failed", get("K9"))
	assert.Equal(t, "property not found in portal", get("L9"))
}
