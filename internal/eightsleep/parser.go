package eightsleep

import (
	"math"
	"time"

	"singularity-sleep/internal/domain"
)

// ParseInterval 将一条厂家 interval 记录展开为每晚指标。
// 纯函数：相同输入产出相同结果；不合法的输入降级为零值/nil 字段，不报错。
//
// 阶段占比以 (light+deep+rem+awake) 总分钟数为分母，永远不用固定的
// 24 小时分母；总分钟为零时所有占比字段为 nil。
func ParseInterval(iv *Interval) *domain.SleepSession {
	s := &domain.SleepSession{}
	if iv == nil {
		return s
	}

	start, err := time.Parse(time.RFC3339, iv.TS)
	hasStart := iv.TS != "" && err == nil
	if hasStart {
		// 日历日期取开始时间的 UTC 日期部分
		s.Date = start.UTC().Format("2006-01-02")
		t := start
		s.SessionStart = &t
	}

	if iv.Score != nil {
		score := *iv.Score
		s.SleepScore = &score
	}

	// 按序累计各阶段分钟数；awake 阶段同时记为一次觉醒事件，
	// 事件时间为运行时钟推进到该阶段时的开始时间
	clock := start
	var light, deep, rem, awake int
	for _, st := range iv.Stages {
		minutes := int(math.Round(float64(st.Duration) / 60.0))
		switch st.Stage {
		case "light":
			light += minutes
		case "deep":
			deep += minutes
		case "rem":
			rem += minutes
		case "awake":
			awake += minutes
			s.WakeEvents++
			if hasStart {
				s.WakeEventTimes = append(s.WakeEventTimes, clock)
			}
		}
		clock = clock.Add(time.Duration(st.Duration) * time.Second)
	}
	if hasStart {
		end := clock
		s.SessionEnd = &end
	}

	s.LightSleepMinutes = light
	s.DeepSleepMinutes = deep
	s.RemSleepMinutes = rem
	s.AwakeMinutes = awake

	timeSlept := light + deep + rem
	s.TimeSlept = &timeSlept

	total := timeSlept + awake
	if total > 0 {
		s.LightSleepPct = pct(light, total)
		s.DeepSleepPct = pct(deep, total)
		s.RemSleepPct = pct(rem, total)
		s.AwakePct = pct(awake, total)
	}

	// 2–4 点觉醒：取首个本地小时落在 [2,4) 的事件，后续匹配忽略
	for _, wt := range s.WakeEventTimes {
		h := wt.Hour()
		if h >= 2 && h < 4 {
			s.WokeBetween2And4AM = true
			t := wt
			s.WakeTimeBetween2And4AM = &t
			break
		}
	}

	s.HeartRate = summarize(iv.Timeseries.HeartRate)
	s.HRV = summarize(iv.Timeseries.HRV)
	s.BreathRate = summarize(iv.Timeseries.RespiratoryRate)
	s.AvgBedTemp = summarize(iv.Timeseries.BedTempC).Avg
	s.AvgRoomTemp = summarize(iv.Timeseries.RoomTempC).Avg

	if values := numericValues(iv.Timeseries.TossAndTurns); len(values) > 0 {
		sum := 0
		for _, v := range values {
			sum += int(v)
		}
		s.TossAndTurnCount = &sum
	}

	// time_to_fall_asleep 和 avg_room_humidity 无法由源数据推导，保持 nil

	if len(iv.Raw) > 0 {
		s.RawPayload = string(iv.Raw)
	}

	return s
}

// summarize 对单个时序计算平均（两位小数）/最小/最大，过滤无效值；
// 空序列返回三个 nil
func summarize(points []TimeseriesPoint) domain.VitalSummary {
	values := numericValues(points)
	if len(values) == 0 {
		return domain.VitalSummary{}
	}

	min, max, sum := values[0], values[0], 0.0
	for _, v := range values {
		if v < min {
			min = v
		}
		if v > max {
			max = v
		}
		sum += v
	}
	avg := math.Round(sum/float64(len(values))*100) / 100

	return domain.VitalSummary{Avg: &avg, Min: &min, Max: &max}
}

// numericValues 提取时序里的有效数值
func numericValues(points []TimeseriesPoint) []float64 {
	values := make([]float64, 0, len(points))
	for _, p := range points {
		if p.Value != nil {
			values = append(values, *p.Value)
		}
	}
	return values
}

// pct 占比，保留一位小数
func pct(part, total int) *float64 {
	v := math.Round(float64(part)/float64(total)*1000) / 10
	return &v
}
