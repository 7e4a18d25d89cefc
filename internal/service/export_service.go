package service

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/xuri/excelize/v2"
	"go.uber.org/zap"

	"hsgrowth/backend/internal/dto"
	"hsgrowth/backend/internal/model"
)

// ── 导出模块业务错误 ──

var (
	ErrExportNoExecutions = errors.New("筛选范围内暂无执行记录")
	ErrExportGenerateFail = errors.New("生成 Excel 文件失败")
)

// exportMaxRows 单次导出上限，超出部分截断
const exportMaxRows = 5000

// ═══════════════════════════════════════════════════════════
// Export 导出执行日志为 Excel
// ═══════════════════════════════════════════════════════════
//
// 输出格式：
//   - Sheet "执行日志"，首行为标题，第二行为表头
//   - 每条执行一行：时间、规则、来源、作用对象、状态、结论、成功/失败数、耗时、错误
//   - 失败与部分成功的行使用底色标出
//
// 返回值：buf（Excel 内容）, filename（建议文件名）, error

func (s *executionService) Export(ctx context.Context, accountID string, req *dto.ExecutionListRequest) (*bytes.Buffer, string, error) {
	// 1. 查询执行日志（复用列表筛选）
	filter, err := toExecutionFilter(req)
	if err != nil {
		return nil, "", err
	}
	execs, _, err := s.repo.AutomationExecution.List(ctx, accountID, filter, 0, exportMaxRows)
	if err != nil {
		s.logger.Error("查询执行日志失败", zap.Error(err))
		return nil, "", err
	}
	if len(execs) == 0 {
		return nil, "", ErrExportNoExecutions
	}

	// 2. 生成 Excel
	f := excelize.NewFile()
	defer f.Close()

	sheetName := "执行日志"
	idx, _ := f.NewSheet(sheetName)
	f.SetActiveSheet(idx)
	f.DeleteSheet("Sheet1")

	headers := []string{"执行时间", "规则", "触发来源", "作用对象", "状态", "结论", "成功动作", "失败动作", "耗时(ms)", "错误详情"}
	widths := []float64{20, 24, 18, 38, 10, 10, 10, 10, 10, 60}
	for i, w := range widths {
		col := colName(i)
		f.SetColWidth(sheetName, col, col, w)
	}

	headerStyle, _ := f.NewStyle(&excelize.Style{
		Font:      &excelize.Font{Bold: true, Size: 11},
		Fill:      excelize.Fill{Type: "pattern", Color: []string{"#4472C4"}, Pattern: 1},
		Alignment: &excelize.Alignment{Horizontal: "center", Vertical: "center"},
	})
	failedStyle, _ := f.NewStyle(&excelize.Style{
		Fill: excelize.Fill{Type: "pattern", Color: []string{"#F8CBAD"}, Pattern: 1},
	})
	partialStyle, _ := f.NewStyle(&excelize.Style{
		Fill: excelize.Fill{Type: "pattern", Color: []string{"#FFE699"}, Pattern: 1},
	})

	// 标题行
	now := s.clock.Now()
	f.SetCellValue(sheetName, "A1", fmt.Sprintf("自动化执行日志（导出于 %s）", now.Format("2006-01-02 15:04")))
	f.MergeCell(sheetName, "A1", cell(colName(len(headers)-1), 1))
	f.SetCellStyle(sheetName, "A1", "A1", headerStyle)

	// 表头
	row := 2
	for i, h := range headers {
		f.SetCellValue(sheetName, cell(colName(i), row), h)
	}
	f.SetCellStyle(sheetName, cell("A", row), cell(colName(len(headers)-1), row), headerStyle)

	// 数据行
	row = 3
	for i := range execs {
		resp := toExecutionResponse(&execs[i])
		subject := "-"
		if resp.SubjectID != "" {
			subject = resp.SubjectType + ":" + resp.SubjectID
		}
		var duration any = "-"
		if resp.DurationMS != nil {
			duration = *resp.DurationMS
		}
		values := []any{
			execs[i].CreatedAt.Format(time.DateTime),
			resp.RuleName,
			resp.TriggerSource,
			subject,
			resp.Status,
			resp.Outcome,
			resp.SucceededActions,
			resp.FailedActions,
			duration,
			resp.ErrorDetail,
		}
		for c, v := range values {
			f.SetCellValue(sheetName, cell(colName(c), row), v)
		}
		switch resp.Outcome {
		case model.OutcomeFailed:
			f.SetCellStyle(sheetName, cell("A", row), cell(colName(len(headers)-1), row), failedStyle)
		case model.OutcomePartial:
			f.SetCellStyle(sheetName, cell("A", row), cell(colName(len(headers)-1), row), partialStyle)
		}
		row++
	}

	// 3. 写入 buffer
	buf := new(bytes.Buffer)
	if err := f.Write(buf); err != nil {
		s.logger.Error("写入 Excel 失败", zap.Error(err))
		return nil, "", ErrExportGenerateFail
	}

	filename := fmt.Sprintf("automation_executions_%s.xlsx", now.Format("20060102_150405"))
	return buf, filename, nil
}

// ── 辅助函数 ──

func colName(idx int) string {
	name, _ := excelize.ColumnNumberToName(idx + 1)
	return name
}

func cell(col string, row int) string {
	return fmt.Sprintf("%s%d", col, row)
}
