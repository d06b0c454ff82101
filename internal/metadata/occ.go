// Package metadata 负责期权合约元数据：OCC 代码的构建与解析、标的行业映射。
package metadata

import (
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"adaptive-options-engine/internal/core/model"
)

// occRootWidth OCC 代码中标的部分固定宽度（不足补空格）
const occRootWidth = 6

// Contract OCC 代码解析结果
type Contract struct {
	// Root 标的代码
	Root string
	// Expiration 到期日
	Expiration time.Time
	// Type 期权类型
	Type model.OptionType
	// Strike 行权价
	Strike float64
}

// NormalizeTicker 标准化标的代码（去空格、大写，BRK.B -> BRKB）
func NormalizeTicker(t string) string {
	t = strings.ToUpper(strings.TrimSpace(t))
	return strings.NewReplacer(".", "", "/", "", " ", "").Replace(t)
}

// OCCSymbol 构建 OCC 标准合约代码
// 格式: ROOT(6位补空格) + YYMMDD + C/P + 行权价×1000(8位)
// 例: SPY 2024-12-20 450 call -> "SPY   241220C00450000"
func OCCSymbol(root string, exp time.Time, t model.OptionType, strike float64) string {
	root = NormalizeTicker(root)
	if len(root) < occRootWidth {
		root += strings.Repeat(" ", occRootWidth-len(root))
	}
	cp := "C"
	if t == model.OptionPut {
		cp = "P"
	}
	milli := int64(math.Round(strike * 1000))
	return fmt.Sprintf("%s%s%s%08d", root, exp.Format("060102"), cp, milli)
}

// ParseOCC 解析 OCC 合约代码
// 同时接受补空格格式与紧凑格式（如 "SPY241220C00450000"）
func ParseOCC(sym string) (Contract, error) {
	s := strings.TrimSpace(sym)
	if len(s) < 16 {
		return Contract{}, fmt.Errorf("OCC 代码长度不足: %q", sym)
	}
	tail := s[len(s)-15:]
	root := strings.TrimSpace(s[:len(s)-15])
	if root == "" {
		return Contract{}, fmt.Errorf("OCC 代码缺少标的: %q", sym)
	}

	exp, err := time.Parse("060102", tail[:6])
	if err != nil {
		return Contract{}, fmt.Errorf("解析到期日失败: %w", err)
	}

	var typ model.OptionType
	switch tail[6] {
	case 'C', 'c':
		typ = model.OptionCall
	case 'P', 'p':
		typ = model.OptionPut
	default:
		return Contract{}, fmt.Errorf("未知期权类型: %q", tail[6])
	}

	milli, err := strconv.ParseInt(tail[7:], 10, 64)
	if err != nil {
		return Contract{}, fmt.Errorf("解析行权价失败: %w", err)
	}

	return Contract{
		Root:       root,
		Expiration: exp,
		Type:       typ,
		Strike:     float64(milli) / 1000,
	}, nil
}
