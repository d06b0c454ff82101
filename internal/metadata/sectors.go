package metadata

// 行业分类
const (
	SectorTech        = "technology"
	SectorComm        = "communication"
	SectorConsumer    = "consumer_discretionary"
	SectorStaples     = "consumer_staples"
	SectorFinancials  = "financials"
	SectorHealth      = "healthcare"
	SectorEnergy      = "energy"
	SectorIndustrials = "industrials"
	SectorIndex       = "index"
	SectorUnknown     = ""
)

// sectorMap 静态行业映射（用于同行业集中度检查）
var sectorMap = map[string]string{
	"AAPL": SectorTech, "MSFT": SectorTech, "NVDA": SectorTech, "AMD": SectorTech,
	"AVGO": SectorTech, "INTC": SectorTech, "CRM": SectorTech, "ORCL": SectorTech,
	"ADBE": SectorTech, "QCOM": SectorTech, "MU": SectorTech, "SMCI": SectorTech,
	"QQQ": SectorIndex, "SPY": SectorIndex, "IWM": SectorIndex, "DIA": SectorIndex,
	"SPX": SectorIndex, "XSP": SectorIndex,
	"GOOGL": SectorComm, "GOOG": SectorComm, "META": SectorComm, "NFLX": SectorComm, "DIS": SectorComm,
	"AMZN": SectorConsumer, "TSLA": SectorConsumer, "HD": SectorConsumer, "NKE": SectorConsumer, "SBUX": SectorConsumer,
	"WMT": SectorStaples, "COST": SectorStaples, "KO": SectorStaples, "PG": SectorStaples,
	"JPM": SectorFinancials, "BAC": SectorFinancials, "GS": SectorFinancials, "MS": SectorFinancials,
	"V": SectorFinancials, "MA": SectorFinancials, "COIN": SectorFinancials, "XLF": SectorFinancials,
	"UNH": SectorHealth, "JNJ": SectorHealth, "LLY": SectorHealth, "PFE": SectorHealth, "MRNA": SectorHealth,
	"XOM": SectorEnergy, "CVX": SectorEnergy, "OXY": SectorEnergy, "XLE": SectorEnergy,
	"BA": SectorIndustrials, "CAT": SectorIndustrials, "GE": SectorIndustrials, "UPS": SectorIndustrials,
}

// Sector 查询标的所属行业；未知返回空字符串
func Sector(ticker string) string {
	return sectorMap[NormalizeTicker(ticker)]
}

// SameSector 两个标的是否属于同一已知行业
func SameSector(a, b string) bool {
	sa := Sector(a)
	return sa != SectorUnknown && sa == Sector(b)
}
