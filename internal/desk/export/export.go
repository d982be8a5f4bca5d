// Package export renders filtered repair records as a spreadsheet.
package export

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/bitfantasy/repairdesk/internal/desk/entity"
	"github.com/bitfantasy/repairdesk/internal/shared/backend"
	"github.com/shopspring/decimal"
	"github.com/xuri/excelize/v2"
	"go.uber.org/zap"
)

const (
	sheet         = "Records"
	batchSize     = 100
	DefaultMaxRow = 1000
)

var headers = []string{
	"ID", "客户", "电话", "设备", "故障", "状态", "维修人员",
	"预计完成", "接收日期", "预估费用", "预付金额", "最终费用", "物料行数", "物料合计",
}

// Lister pages through records.
type Lister interface {
	ListRecords(ctx context.Context, f backend.ListFilter) (*backend.RecordPage, error)
}

// Exporter 维修记录导出
type Exporter struct {
	api     Lister
	maxRows int
	logger  *zap.Logger
}

func New(api Lister, maxRows int, logger *zap.Logger) *Exporter {
	if maxRows <= 0 {
		maxRows = DefaultMaxRow
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Exporter{api: api, maxRows: maxRows, logger: logger}
}

// Collect walks the backend in batches until every match, or maxRows, is read.
// Limit and Offset of f are ignored.
func (e *Exporter) Collect(ctx context.Context, f backend.ListFilter) ([]entity.RepairRecord, error) {
	var out []entity.RepairRecord
	f.Offset = 0
	for len(out) < e.maxRows {
		f.Limit = min(batchSize, e.maxRows-len(out))
		page, err := e.api.ListRecords(ctx, f)
		if err != nil {
			return nil, fmt.Errorf("collect records at offset %d: %w", f.Offset, err)
		}
		out = append(out, page.Records...)
		f.Offset += len(page.Records)
		if len(page.Records) == 0 || f.Offset >= page.Total {
			break
		}
	}
	return out, nil
}

// Export builds the workbook and a download filename.
func (e *Exporter) Export(ctx context.Context, f backend.ListFilter) (*excelize.File, string, error) {
	recs, err := e.Collect(ctx, f)
	if err != nil {
		return nil, "", err
	}

	x := excelize.NewFile()
	x.SetSheetName("Sheet1", sheet)

	// 表头样式: 加粗
	boldStyle, _ := x.NewStyle(&excelize.Style{
		Font: &excelize.Font{Bold: true, Size: 11},
		Fill: excelize.Fill{Type: "pattern", Pattern: 1, Color: []string{"#D9E1F2"}},
		Border: []excelize.Border{
			{Type: "bottom", Color: "000000", Style: 1},
		},
	})
	for i, h := range headers {
		col, _ := excelize.ColumnNumberToName(i + 1)
		cell := col + "1"
		x.SetCellValue(sheet, cell, h)
		x.SetCellStyle(sheet, cell, cell, boldStyle)
	}

	finalTotal := decimal.Zero
	itemsTotal := decimal.Zero
	for i, rec := range recs {
		row := i + 2
		lineTotal := rec.LineItemTotal()
		itemsTotal = itemsTotal.Add(lineTotal)

		x.SetCellValue(sheet, fmt.Sprintf("A%d", row), rec.ID)
		x.SetCellValue(sheet, fmt.Sprintf("B%d", row), rec.CustomerName)
		x.SetCellValue(sheet, fmt.Sprintf("C%d", row), rec.CustomerNumber)
		x.SetCellValue(sheet, fmt.Sprintf("D%d", row), device(rec))
		x.SetCellValue(sheet, fmt.Sprintf("E%d", row), rec.DeviceIssue)
		x.SetCellValue(sheet, fmt.Sprintf("F%d", row), string(rec.Status))
		if rec.Assigned() {
			x.SetCellValue(sheet, fmt.Sprintf("G%d", row), rec.AssignedTo.Name)
		}
		x.SetCellValue(sheet, fmt.Sprintf("H%d", row), day(rec.ExpectedRepairDate))
		x.SetCellValue(sheet, fmt.Sprintf("I%d", row), day(rec.DeviceTakenOn))
		setMoney(x, fmt.Sprintf("J%d", row), rec.EstimatedCost)
		setMoney(x, fmt.Sprintf("K%d", row), rec.AdvanceAmount)
		setMoney(x, fmt.Sprintf("L%d", row), rec.FinalCost)
		if rec.FinalCost.Valid {
			finalTotal = finalTotal.Add(rec.FinalCost.Decimal)
		}
		x.SetCellValue(sheet, fmt.Sprintf("M%d", row), len(rec.RepairItems))
		x.SetCellValue(sheet, fmt.Sprintf("N%d", row), lineTotal.InexactFloat64())
	}

	// 底部汇总行
	summaryRow := len(recs) + 2
	summaryStyle, _ := x.NewStyle(&excelize.Style{
		Font: &excelize.Font{Bold: true},
	})
	x.SetCellValue(sheet, fmt.Sprintf("A%d", summaryRow), "汇总")
	x.SetCellValue(sheet, fmt.Sprintf("B%d", summaryRow), fmt.Sprintf("记录数: %d", len(recs)))
	x.SetCellValue(sheet, fmt.Sprintf("L%d", summaryRow), finalTotal.InexactFloat64())
	x.SetCellValue(sheet, fmt.Sprintf("N%d", summaryRow), itemsTotal.InexactFloat64())
	x.SetCellStyle(sheet, fmt.Sprintf("A%d", summaryRow), fmt.Sprintf("N%d", summaryRow), summaryStyle)

	colWidths := []float64{8, 18, 14, 22, 28, 12, 14, 12, 12, 10, 10, 10, 8, 10}
	for i, w := range colWidths {
		col, _ := excelize.ColumnNumberToName(i + 1)
		x.SetColWidth(sheet, col, col, w)
	}

	e.logger.Info("records exported", zap.Int("rows", len(recs)))
	return x, filename(f), nil
}

func device(rec entity.RepairRecord) string {
	parts := make([]string, 0, 3)
	for _, p := range []string{rec.DeviceCompany, rec.DeviceModel, rec.DeviceColor} {
		if p != "" {
			parts = append(parts, p)
		}
	}
	return strings.Join(parts, " ")
}

func day(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.Format("2006-01-02")
}

func setMoney(x *excelize.File, cell string, v decimal.NullDecimal) {
	if v.Valid {
		x.SetCellValue(sheet, cell, v.Decimal.InexactFloat64())
	}
}

func filename(f backend.ListFilter) string {
	name := "repair_records"
	if f.Status != "" {
		name += "_" + string(f.Status)
	}
	if !f.StartDate.IsZero() {
		name += "_" + f.StartDate.Format("2006-01")
	}
	return name + ".xlsx"
}
