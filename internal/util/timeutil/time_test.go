package timeutil

import (
	"testing"
	"time"
)

func TestDateKeyUsesMarketZone(t *testing.T) {
	// 02:00 UTC 仍是美东前一天
	ts := time.Date(2026, 3, 10, 2, 0, 0, 0, time.UTC)
	if got := DateKey(ts); got != "2026-03-09" {
		t.Fatalf("DateKey=%s, want 2026-03-09", got)
	}
}

func TestExpirationInRangeIsFriday(t *testing.T) {
	now := time.Date(2026, 10, 14, 15, 0, 0, 0, Market()) // 周三
	for _, dte := range []int{0, 1, 7, 30, 45} {
		exp := ExpirationInRange(now, dte)
		if exp.Weekday() != time.Friday {
			t.Errorf("dte=%d: %v 不是周五", dte, exp.Weekday())
		}
		days := int(StartOfDay(exp).Sub(StartOfDay(now)).Hours() / 24)
		if days < dte || days > dte+6 {
			t.Errorf("dte=%d: 实际 %d 天", dte, days)
		}
	}
}

func TestSameDayAndWeekend(t *testing.T) {
	a := time.Date(2026, 10, 17, 9, 0, 0, 0, Market())
	b := time.Date(2026, 10, 17, 23, 0, 0, 0, Market())
	if !SameDay(a, b) {
		t.Error("同一交易日应返回 true")
	}
	if !IsWeekend(a) {
		t.Error("2026-10-17 是周六")
	}
	if Ms(1500) != 1500*time.Millisecond {
		t.Error("Ms 转换错误")
	}
}
