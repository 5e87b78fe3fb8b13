// Package export renders finished sessions as Excel workbooks for the
// accounting team.
package export

import (
	"fmt"

	"github.com/xuri/excelize/v2"
	"go.uber.org/zap"

	"github.com/casaflow/utility-recon/internal/domain/entity"
)

// ExcelExporter writes session reports as .xlsx workbooks
type ExcelExporter struct {
	logger *zap.Logger
}

// NewExcelExporter creates a new Excel exporter
func NewExcelExporter(logger *zap.Logger) *ExcelExporter {
	return &ExcelExporter{logger: logger}
}

var resultHeaders = []string{
	"Property", "Rooms", "Allowance (€)",
	"Electricity (€)", "Water (€)", "Gas (€)", "Total (€)", "Overuse (€)",
	"Selected", "Downloaded", "Status", "Error", "Reasoning",
}

// Export writes the session and its per-property results to outputPath
func (e *ExcelExporter) Export(session *entity.ProcessingSession, results []*entity.PropertyResult, outputPath string) error {
	f := excelize.NewFile()
	defer f.Close()

	const sheet = "Results"
	if err := f.SetSheetName(f.GetSheetName(0), sheet); err != nil {
		return fmt.Errorf("failed to rename sheet: %w", err)
	}

	e.writeSummary(f, sheet, session)

	headerRow := 7
	for col, header := range resultHeaders {
		e.setCell(f, sheet, cellRef(col, headerRow), header)
	}

	for i, result := range results {
		row := headerRow + 1 + i
		e.setCell(f, sheet, cellRef(0, row), result.PropertyName)
		e.setCell(f, sheet, cellRef(1, row), result.RoomCount)
		e.setCell(f, sheet, cellRef(2, row), result.Allowance)
		e.setCell(f, sheet, cellRef(3, row), result.ElectricityCost)
		e.setCell(f, sheet, cellRef(4, row), result.WaterCost)
		e.setCell(f, sheet, cellRef(5, row), result.GasCost)
		e.setCell(f, sheet, cellRef(6, row), result.TotalCost)
		e.setCell(f, sheet, cellRef(7, row), result.Overuse)
		e.setCell(f, sheet, cellRef(8, row), result.SelectedInvoicesCount)
		e.setCell(f, sheet, cellRef(9, row), result.DownloadedFilesCount)
		e.setCell(f, sheet, cellRef(10, row), result.Status)
		e.setCell(f, sheet, cellRef(11, row), result.ErrorMessage)
		e.setCell(f, sheet, cellRef(12, row), result.Reasoning)
	}

	if err := f.SaveAs(outputPath); err != nil {
		return fmt.Errorf("failed to save Excel file: %w", err)
	}

	e.logger.Info("Session exported",
		zap.String("session_id", session.ID),
		zap.Int("results", len(results)),
		zap.String("output_path", outputPath))

	return nil
}

func (e *ExcelExporter) writeSummary(f *excelize.File, sheet string, session *entity.ProcessingSession) {
	window := session.Window()

	e.setCell(f, sheet, "A1", "Session")
	e.setCell(f, sheet, "B1", session.ID)
	e.setCell(f, sheet, "A2", "Billing window")
	e.setCell(f, sheet, "B2", window.String())
	e.setCell(f, sheet, "A3", "Status")
	e.setCell(f, sheet, "B3", session.Status)
	e.setCell(f, sheet, "A4", "Properties (ok/failed/total)")
	e.setCell(f, sheet, "B4", fmt.Sprintf("%d/%d/%d",
		session.SuccessfulProperties, session.FailedProperties, session.TotalProperties))
	e.setCell(f, sheet, "A5", "Total cost (€)")
	e.setCell(f, sheet, "B5", session.TotalCost)
	e.setCell(f, sheet, "A6", "Total overuse (€)")
	e.setCell(f, sheet, "B6", session.TotalOveruse)
}

func (e *ExcelExporter) setCell(f *excelize.File, sheet, cell string, value interface{}) {
	if err := f.SetCellValue(sheet, cell, value); err != nil {
		e.logger.Warn("Failed to set cell value",
			zap.String("sheet", sheet),
			zap.String("cell", cell),
			zap.Error(err))
	}
}

// cellRef converts zero-based column/row to an Excel reference like "C8".
func cellRef(col, row int) string {
	name, err := excelize.CoordinatesToCellName(col+1, row)
	if err != nil {
		return ""
	}
	return name
}
