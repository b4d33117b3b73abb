package guardrail

// DefaultWhitelist is the curated set of symbols eligible for trading. The
// engine only ever routes orders for liquid, well-known names; anything else
// is rejected before it reaches the broker.
var DefaultWhitelist = []string{
	"AAPL", "MSFT", "GOOGL", "AMZN", "META", "NVDA", "TSLA", "AMD", "INTC",
	"NFLX", "CRM", "ORCL", "ADBE", "AVGO", "QCOM",
	"JPM", "BAC", "GS", "MS", "V", "MA",
	"JNJ", "PFE", "UNH", "ABBV", "LLY",
	"XOM", "CVX",
	"WMT", "COST", "HD", "MCD", "KO", "PEP", "PG", "DIS",
	"BA", "CAT", "GE", "UPS",
	"SPY", "QQQ", "IWM", "DIA", "VTI",
}

// SectorOf maps a whitelisted symbol to its GICS-style sector, used for
// exposure aggregation. Unknown symbols report "Other".
func SectorOf(symbol string) string {
	if sector, ok := sectorMap[symbol]; ok {
		return sector
	}
	return "Other"
}

var sectorMap = map[string]string{
	"AAPL": "Technology", "MSFT": "Technology", "GOOGL": "Technology",
	"META": "Technology", "NVDA": "Technology", "AMD": "Technology",
	"INTC": "Technology", "CRM": "Technology", "ORCL": "Technology",
	"ADBE": "Technology", "AVGO": "Technology", "QCOM": "Technology",
	"AMZN": "Consumer Discretionary", "TSLA": "Consumer Discretionary",
	"HD": "Consumer Discretionary", "MCD": "Consumer Discretionary",
	"DIS": "Consumer Discretionary", "NFLX": "Consumer Discretionary",
	"JPM": "Financials", "BAC": "Financials", "GS": "Financials",
	"MS": "Financials", "V": "Financials", "MA": "Financials",
	"JNJ": "Health Care", "PFE": "Health Care", "UNH": "Health Care",
	"ABBV": "Health Care", "LLY": "Health Care",
	"XOM": "Energy", "CVX": "Energy",
	"WMT": "Consumer Staples", "COST": "Consumer Staples",
	"KO": "Consumer Staples", "PEP": "Consumer Staples", "PG": "Consumer Staples",
	"BA": "Industrials", "CAT": "Industrials", "GE": "Industrials",
	"UPS": "Industrials",
	"SPY": "ETF", "QQQ": "ETF", "IWM": "ETF", "DIA": "ETF", "VTI": "ETF",
}
