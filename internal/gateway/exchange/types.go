package exchange

import "time"

type Side string

const (
	SideBuy  Side = "BUY"
	SideSell Side = "SELL"
)

type Ticker struct {
	Symbol    string
	Price     float64
	Bid       float64
	Ask       float64
	Volume    float64
	Timestamp time.Time
}

// OrderResult 单腿下单结果。Price 为实际成交均价，可能与下单前报价不同。
type OrderResult struct {
	VenueOrderID string
	Symbol       string
	Side         Side
	Amount       float64
	Price        float64
	Fee          float64
	Status       string
}

// OCOResult 一组 OCO：group_id 加各腿。
type OCOResult struct {
	GroupID string
	Legs    []OrderResult
}

type OrderStatus struct {
	VenueOrderID string
	Status       string
	FilledAmount float64
	FilledPrice  float64
}

// Candle is [timestamp, open, high, low, close, volume] in struct form.
type Candle struct {
	OpenTime time.Time
	Open     float64
	High     float64
	Low      float64
	Close    float64
	Volume   float64
}

type BookLevel struct {
	Price  float64
	Amount float64
}

type OrderBook struct {
	Bids []BookLevel
	Asks []BookLevel
}
