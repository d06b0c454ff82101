// Package timeutil 提供交易日历相关的时间工具。
// 日期键、美东交易时区、到期日选择与毫秒配置转换。
package timeutil

import (
	"time"
)

// DateLayout 日期键格式
const DateLayout = "2006-01-02"

// marketLoc 美东时区；容器内缺少 tzdata 时退化为固定 -5 小时
var marketLoc = loadMarketLocation()

func loadMarketLocation() *time.Location {
	loc, err := time.LoadLocation("America/New_York")
	if err != nil {
		return time.FixedZone("EST", -5*60*60)
	}
	return loc
}

// Market 返回交易所时区
func Market() *time.Location {
	return marketLoc
}

// DateKey 返回交易所时区下的日期键（YYYY-MM-DD）
// 参数 t: 任意时刻
func DateKey(t time.Time) string {
	return t.In(marketLoc).Format(DateLayout)
}

// SameDay 两个时刻是否落在同一个交易日
func SameDay(a, b time.Time) bool {
	return DateKey(a) == DateKey(b)
}

// StartOfDay 交易所时区当日零点
func StartOfDay(t time.Time) time.Time {
	t = t.In(marketLoc)
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, marketLoc)
}

// IsWeekend 是否为周末
func IsWeekend(t time.Time) bool {
	wd := t.In(marketLoc).Weekday()
	return wd == time.Saturday || wd == time.Sunday
}

// ExpirationInRange 选择 dteMin 之后第一个周五到期日（16:00 美东）
// 周五间隔为 7 天，区间宽度不足 7 天时结果可能超出 dteMax
// 参数 now: 当前时间
// 参数 dteMin: 最少到期天数
// 返回: 到期时间
func ExpirationInRange(now time.Time, dteMin int) time.Time {
	if dteMin < 0 {
		dteMin = 0
	}
	start := StartOfDay(now).AddDate(0, 0, dteMin)
	for i := 0; i < 7; i++ {
		d := start.AddDate(0, 0, i)
		if d.Weekday() == time.Friday {
			return closeOf(d)
		}
	}
	return closeOf(start)
}

func closeOf(d time.Time) time.Time {
	y, m, day := d.Date()
	return time.Date(y, m, day, 16, 0, 0, 0, marketLoc)
}

// Ms 毫秒配置值转换为 Duration
func Ms(ms int) time.Duration {
	return time.Duration(ms) * time.Millisecond
}

// DurationMs 计算两个时刻之间的毫秒差（浮点数以保留精度）
func DurationMs(start, end time.Time) float64 {
	return float64(end.Sub(start)) / float64(time.Millisecond)
}
