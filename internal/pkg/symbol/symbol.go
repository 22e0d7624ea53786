package symbol

import "strings"

// 决策入口同时见过 "BTC/USDT" 和 "btcusdt" 两种写法，
// 统一归一到交易所格式（无分隔符大写）。

type Symbol struct {
	Base  string
	Quote string
}

// Internal 返回 "BASE/QUOTE" 形式，日志和报表用。
func (s Symbol) Internal() string {
	if s.Base == "" || s.Quote == "" {
		return ""
	}
	return s.Base + "/" + s.Quote
}

// Venue 返回交易所下单格式，如 "BTCUSDT"。
func (s Symbol) Venue() string {
	if s.Base == "" || s.Quote == "" {
		return ""
	}
	return s.Base + s.Quote
}

var quoteCurrencies = []string{"USDT", "USDC", "FDUSD", "TUSD", "BTC", "ETH", "BNB"}

func Parse(s string) Symbol {
	s = strings.ToUpper(strings.TrimSpace(s))
	if s == "" {
		return Symbol{}
	}
	// 去掉 "BTC/USDT:USDT" 这类合约结算后缀
	if idx := strings.Index(s, ":"); idx >= 0 {
		s = s[:idx]
	}

	if parts := strings.SplitN(s, "/", 2); len(parts) == 2 {
		return Symbol{
			Base:  strings.TrimSpace(parts[0]),
			Quote: strings.TrimSpace(parts[1]),
		}
	}

	for _, quote := range quoteCurrencies {
		if strings.HasSuffix(s, quote) && len(s) > len(quote) {
			return Symbol{
				Base:  s[:len(s)-len(quote)],
				Quote: quote,
			}
		}
	}
	return Symbol{}
}

// VenueString 把任意写法归一到交易所格式；解析不了就原样大写返回。
func VenueString(s string) string {
	if sym := Parse(s); sym.Base != "" {
		return sym.Venue()
	}
	return strings.ToUpper(strings.TrimSpace(s))
}

func IsValid(s string) bool {
	sym := Parse(s)
	return sym.Base != "" && sym.Quote != ""
}
