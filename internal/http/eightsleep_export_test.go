package httpapi

import (
	"bytes"
	"testing"
	"time"

	"singularity-sleep/internal/domain"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"
)

func TestGenerateSleepSessionsExport_WritesRows(t *testing.T) {
	score := 85
	slept := 90
	deepPct := 31.6
	hr := 62.17
	start := time.Date(2026, 8, 15, 23, 0, 0, 0, time.UTC)

	sessions := []*domain.SleepSession{
		{
			SessionID:          "sess-1",
			Date:               "2026-08-15",
			SleepScore:         &score,
			TimeSlept:          &slept,
			LightSleepMinutes:  60,
			DeepSleepMinutes:   30,
			RemSleepMinutes:    0,
			AwakeMinutes:       5,
			DeepSleepPct:       &deepPct,
			WakeEvents:         1,
			WokeBetween2And4AM: true,
			HeartRate:          domain.VitalSummary{Avg: &hr},
			SessionStart:       &start,
		},
		// 指针字段全空的会话导出为空单元格
		{SessionID: "sess-2", Date: "2026-08-16"},
	}

	data, err := GenerateSleepSessionsExport(sessions)
	require.NoError(t, err)

	f, err := excelize.OpenReader(bytes.NewReader(data))
	require.NoError(t, err)
	defer f.Close()

	sheet := "Sleep Sessions"
	cell := func(ref string) string {
		v, err := f.GetCellValue(sheet, ref)
		require.NoError(t, err)
		return v
	}

	assert.Equal(t, "Date", cell("A1"))
	assert.Equal(t, "2026-08-15", cell("A2"))
	assert.Equal(t, "85", cell("B2"))
	assert.Equal(t, "90", cell("C2"))

	// 阶段分钟列为非指针字段，0 也要落成数值
	assert.Equal(t, "60", cell("D2"))
	assert.Equal(t, "30", cell("E2"))
	assert.Equal(t, "0", cell("F2"))
	assert.Equal(t, "5", cell("G2"))

	assert.Equal(t, "31.6", cell("I2"))
	assert.Equal(t, "yes", cell("L2"))
	assert.Equal(t, "62.17", cell("M2"))
	assert.Equal(t, "2026-08-15 23:00:00", cell("Q2"))

	assert.Equal(t, "2026-08-16", cell("A3"))
	assert.Equal(t, "", cell("B3"))
	assert.Equal(t, "no", cell("L3"))
	assert.Equal(t, "", cell("Q3"))
}

func TestGenerateSleepSessionsExport_EmptyHasHeaderOnly(t *testing.T) {
	data, err := GenerateSleepSessionsExport(nil)
	require.NoError(t, err)

	f, err := excelize.OpenReader(bytes.NewReader(data))
	require.NoError(t, err)
	defer f.Close()

	rows, err := f.GetRows("Sleep Sessions")
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, SleepSessionsExportHeader, rows[0])
}
