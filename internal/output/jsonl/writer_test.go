// Package jsonl 输出模块测试
package jsonl

import (
	"bufio"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"go.uber.org/zap"

	"adaptive-options-engine/internal/core/model"
)

func readLines(t *testing.T, path string) []map[string]any {
	t.Helper()
	f, err := os.Open(path)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer f.Close()

	var out []map[string]any
	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 0, 64<<10), 1<<20)
	for sc.Scan() {
		var m map[string]any
		if err := json.Unmarshal(sc.Bytes(), &m); err != nil {
			t.Fatalf("Unmarshal: %v", err)
		}
		out = append(out, m)
	}
	if err := sc.Err(); err != nil {
		t.Fatalf("Scan: %v", err)
	}
	return out
}

func TestClosedTrade_OutputCompleteness_Property(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 100
	properties := gopter.NewProperties(parameters)

	properties.Property("已平仓交易 JSON 必含退出字段", prop.ForAll(
		func(entry float64, exit float64, qty int) bool {
			now := time.Now()
			pnl := (exit - entry) * float64(qty) * model.ContractMultiplier
			pct := (exit - entry) / entry * 100
			tr := &model.Trade{
				ID:         "20261014-001",
				Ticker:     "SPY",
				Quantity:   qty,
				EntryPrice: entry,
				NetPremium: -entry,
				Status:     model.StatusClosed,
				ExitPrice:  &exit,
				ExitTime:   &now,
				ExitReason: model.ExitTakeProfit,
				PnLDollars: &pnl,
				PnLPct:     &pct,
			}
			b, err := json.Marshal(tr)
			if err != nil {
				return false
			}
			var m map[string]any
			if err := json.Unmarshal(b, &m); err != nil {
				return false
			}
			for _, k := range []string{"id", "status", "exit_price", "exit_time", "exit_reason", "pnl_dollars", "pnl_pct"} {
				if _, ok := m[k]; !ok {
					return false
				}
			}
			return true
		},
		gen.Float64Range(0.05, 50),
		gen.Float64Range(0, 100),
		gen.IntRange(1, 20),
	))

	properties.TestingRun(t)
}

func TestWriter_WriteAndClose(t *testing.T) {
	path := filepath.Join(t.TempDir(), "test.jsonl")

	w, err := NewWriter(path, 100)
	if err != nil {
		t.Fatalf("NewWriter: %v", err)
	}
	for i := 0; i < 10; i++ {
		if err := w.Write(map[string]any{"i": i}); err != nil {
			t.Fatalf("Write: %v", err)
		}
	}
	if err := w.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if lines := readLines(t, path); len(lines) != 10 {
		t.Fatalf("lines=%d, want 10", len(lines))
	}
	if err := w.Write(1); err == nil {
		t.Fatal("关闭后写入应返回错误")
	}
	if w.TryWrite(1) {
		t.Fatal("关闭后 TryWrite 应返回 false")
	}
}

func TestWriter_EncodeErrorsCounted(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.jsonl")
	w, err := NewWriter(path, 10)
	if err != nil {
		t.Fatal(err)
	}
	_ = w.Write(func() {}) // 无法编码
	_ = w.Write(map[string]int{"ok": 1})
	if err := w.Flush(); err != nil {
		t.Fatal(err)
	}
	if w.EncodeErrors() != 1 {
		t.Fatalf("EncodeErrors=%d, want 1", w.EncodeErrors())
	}
	_ = w.Close()
	if lines := readLines(t, path); len(lines) != 1 {
		t.Fatalf("lines=%d, want 1", len(lines))
	}
}

func TestStreams_TradeEvents(t *testing.T) {
	dir := t.TempDir()
	s, err := OpenStreams(StreamOptions{Dir: dir, BufferSize: 10, Trades: true, Signals: true}, zap.NewNop())
	if err != nil {
		t.Fatal(err)
	}

	tr := &model.Trade{ID: "20261014-001", Ticker: "SPY", Status: model.StatusOpen}
	s.TradeOpened(tr)
	s.Signal(&model.Signal{ID: "sig-1", Ticker: "SPY"})
	s.Metrics(map[string]int{"ignored": 1}) // 未启用
	if err := s.Close(); err != nil {
		t.Fatal(err)
	}

	trades := readLines(t, filepath.Join(dir, "trades.jsonl"))
	if len(trades) != 1 || trades[0]["type"] != EventTradeOpen {
		t.Fatalf("trades.jsonl 内容错误: %+v", trades)
	}
	data := trades[0]["data"].(map[string]any)
	if data["id"] != "20261014-001" {
		t.Fatalf("事件数据错误: %+v", data)
	}
	if _, err := os.Stat(filepath.Join(dir, "metrics.jsonl")); !os.IsNotExist(err) {
		t.Fatal("未启用的流不应创建文件")
	}
}

func TestStreams_NilSafe(t *testing.T) {
	var s *Streams
	s.Signal(&model.Signal{})
	s.TradeClosed(&model.Trade{})
	if err := s.Close(); err != nil {
		t.Fatal(err)
	}
}
