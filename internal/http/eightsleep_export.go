package httpapi

import (
	"bytes"
	"fmt"

	"singularity-sleep/internal/domain"

	"github.com/xuri/excelize/v2"
)

// SleepSessionsExportHeader 睡眠会话导出表头
var SleepSessionsExportHeader = []string{
	"Date",
	"Sleep Score",
	"Time Slept (min)",
	"Light Sleep (min)",
	"Deep Sleep (min)",
	"REM Sleep (min)",
	"Awake (min)",
	"Light %",
	"Deep %",
	"REM %",
	"Wake Events",
	"Woke 2-4 AM",
	"Avg Heart Rate",
	"Avg HRV",
	"Avg Breath Rate",
	"Toss & Turns",
	"Session Start",
	"Session End",
}

// GenerateSleepSessionsExport 生成睡眠会话导出 Excel 文件
// sessions 为空时只生成表头
func GenerateSleepSessionsExport(sessions []*domain.SleepSession) ([]byte, error) {
	f := excelize.NewFile()
	// Write 之后才能 Close，不能 defer

	sheetName := "Sleep Sessions"
	index, err := f.NewSheet(sheetName)
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("failed to create sheet: %w", err)
	}

	f.DeleteSheet("Sheet1")
	f.SetActiveSheet(index)

	headerStyle, err := f.NewStyle(&excelize.Style{
		Font: &excelize.Font{
			Bold: true,
		},
		Fill: excelize.Fill{
			Type:    "pattern",
			Color:   []string{"#E6F3FF"},
			Pattern: 1,
		},
		Border: []excelize.Border{
			{Type: "left", Color: "000000", Style: 1},
			{Type: "top", Color: "000000", Style: 1},
			{Type: "bottom", Color: "000000", Style: 1},
			{Type: "right", Color: "000000", Style: 1},
		},
		Alignment: &excelize.Alignment{
			Horizontal: "center",
			Vertical:   "center",
		},
	})
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("failed to create header style: %w", err)
	}

	for col, header := range SleepSessionsExportHeader {
		cell, err := excelize.CoordinatesToCellName(col+1, 1)
		if err != nil {
			f.Close()
			return nil, fmt.Errorf("failed to build header cell name: %w", err)
		}
		if err := f.SetCellValue(sheetName, cell, header); err != nil {
			f.Close()
			return nil, fmt.Errorf("failed to write header: %w", err)
		}
		if err := f.SetCellStyle(sheetName, cell, cell, headerStyle); err != nil {
			f.Close()
			return nil, fmt.Errorf("failed to style header: %w", err)
		}
	}

	for row, sess := range sessions {
		values := sessionExportRow(sess)
		for col, value := range values {
			cell, err := excelize.CoordinatesToCellName(col+1, row+2)
			if err != nil {
				f.Close()
				return nil, fmt.Errorf("failed to build cell name: %w", err)
			}
			if err := f.SetCellValue(sheetName, cell, value); err != nil {
				f.Close()
				return nil, fmt.Errorf("failed to write row: %w", err)
			}
		}
	}

	// 日期列稍宽一些
	_ = f.SetColWidth(sheetName, "A", "A", 12)
	_ = f.SetColWidth(sheetName, "Q", "R", 20)

	var buf bytes.Buffer
	if err := f.Write(&buf); err != nil {
		f.Close()
		return nil, fmt.Errorf("failed to write excel file: %w", err)
	}
	if err := f.Close(); err != nil {
		return nil, fmt.Errorf("failed to close excel file: %w", err)
	}
	return buf.Bytes(), nil
}

// sessionExportRow 单行导出值；空指针字段导出为空单元格
func sessionExportRow(sess *domain.SleepSession) []any {
	woke := "no"
	if sess.WokeBetween2And4AM {
		woke = "yes"
	}
	sessionStart := ""
	if sess.SessionStart != nil {
		sessionStart = sess.SessionStart.UTC().Format("2006-01-02 15:04:05")
	}
	sessionEnd := ""
	if sess.SessionEnd != nil {
		sessionEnd = sess.SessionEnd.UTC().Format("2006-01-02 15:04:05")
	}

	return []any{
		sess.Date,
		cellInt(sess.SleepScore),
		cellInt(sess.TimeSlept),
		sess.LightSleepMinutes,
		sess.DeepSleepMinutes,
		sess.RemSleepMinutes,
		sess.AwakeMinutes,
		cellFloat(sess.LightSleepPct),
		cellFloat(sess.DeepSleepPct),
		cellFloat(sess.RemSleepPct),
		sess.WakeEvents,
		woke,
		cellFloat(sess.HeartRate.Avg),
		cellFloat(sess.HRV.Avg),
		cellFloat(sess.BreathRate.Avg),
		cellInt(sess.TossAndTurnCount),
		sessionStart,
		sessionEnd,
	}
}

func cellInt(v *int) any {
	if v == nil {
		return ""
	}
	return *v
}

func cellFloat(v *float64) any {
	if v == nil {
		return ""
	}
	return *v
}
