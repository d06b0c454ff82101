package feed

// SubscribeRequest 订阅/退订请求
type SubscribeRequest struct {
	// Op subscribe 或 unsubscribe
	Op string `json:"op"`
	// Args 订阅参数列表
	Args []SubscribeArg `json:"args"`
}

// SubscribeArg 订阅参数
type SubscribeArg struct {
	// Channel 频道名称: quotes
	Channel string `json:"channel"`
	// Symbol OCC 合约代码
	Symbol string `json:"symbol"`
}

// SubscribeResponse 订阅响应
type SubscribeResponse struct {
	// Event subscribe / unsubscribe / error
	Event string        `json:"event"`
	Arg   *SubscribeArg `json:"arg,omitempty"`
	Code  string        `json:"code,omitempty"`
	Msg   string        `json:"msg,omitempty"`
}

// QuoteMessage quotes 频道推送
type QuoteMessage struct {
	Arg  SubscribeArg `json:"arg"`
	Data []QuoteData  `json:"data"`
}

// QuoteData 单个合约报价
// 价格字段为字符串: bid / ask / mark；ts 为毫秒时间戳字符串
type QuoteData struct {
	Symbol string `json:"symbol"`
	Bid    string `json:"bid"`
	Ask    string `json:"ask"`
	Mark   string `json:"mark"`
	Ts     string `json:"ts"`
}

// ConnectionMetrics 连接质量指标
type ConnectionMetrics struct {
	// ReconnectCount 重连次数
	ReconnectCount int64
	// ParseErrorCount 解析错误次数
	ParseErrorCount int64
	// Updates 累计写入缓存的报价数
	Updates int64
	// LastMessageAgeMs 最后消息距今时间（毫秒）
	LastMessageAgeMs int64
	// WsRttMs 心跳 RTT（毫秒）
	WsRttMs int64
}
