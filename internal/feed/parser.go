package feed

import (
	"encoding/json"
	"fmt"
	"strconv"
	"time"
)

// Mark 解析出的合约中间价
type Mark struct {
	Symbol string
	Price  float64
	At     time.Time
}

// Parse 解析 quotes 频道消息
// 价格优先使用 mark，缺失时取 bid/ask 中点；两者都无效的条目被跳过
func Parse(data []byte) ([]Mark, error) {
	var msg QuoteMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		return nil, fmt.Errorf("解析报价消息失败: %w", err)
	}
	if msg.Arg.Channel != "quotes" || len(msg.Data) == 0 {
		return nil, nil
	}

	out := make([]Mark, 0, len(msg.Data))
	for _, d := range msg.Data {
		if d.Symbol == "" {
			continue
		}
		px, ok := markPrice(d)
		if !ok {
			continue
		}
		m := Mark{Symbol: d.Symbol, Price: px}
		if ms, err := strconv.ParseInt(d.Ts, 10, 64); err == nil && ms > 0 {
			m.At = time.UnixMilli(ms)
		}
		out = append(out, m)
	}
	return out, nil
}

func markPrice(d QuoteData) (float64, bool) {
	if v, err := strconv.ParseFloat(d.Mark, 64); err == nil && v > 0 {
		return v, true
	}
	bid, err1 := strconv.ParseFloat(d.Bid, 64)
	ask, err2 := strconv.ParseFloat(d.Ask, 64)
	if err1 != nil || err2 != nil || bid <= 0 || ask <= 0 || ask < bid {
		return 0, false
	}
	return (bid + ask) / 2, true
}

// IsSubscribeResponse 判断是否为订阅响应
func IsSubscribeResponse(data []byte) bool {
	var resp SubscribeResponse
	if err := json.Unmarshal(data, &resp); err != nil {
		return false
	}
	return resp.Event == "subscribe" || resp.Event == "unsubscribe" || resp.Event == "error"
}

// IsPong 判断是否为 pong 响应
func IsPong(data []byte) bool {
	return string(data) == "pong"
}
