package domain

import "time"

// Bar is one OHLCV candle. Slices of bars are ordered most recent first.
type Bar struct {
	Time   time.Time
	Open   float64
	High   float64
	Low    float64
	Close  float64
	Volume float64
}

// ExchangePosition is the exchange's authoritative view of one position.
// Quantity is in base-asset units and always non-negative.
type ExchangePosition struct {
	Instrument string  `json:"instrument"`
	Side       Side    `json:"side"`
	Quantity   float64 `json:"quantity"`
	AvgPrice   float64 `json:"avg_price"`
	Margin     float64 `json:"margin"`
}

// Instrument holds the contract specification used for order sizing.
type Instrument struct {
	ID        string
	FaceValue float64 // base units per contract
	LotSize   float64 // contract count granularity
	MinSize   float64 // minimum contract count
}

// OrderType enumerates supported order types.
type OrderType string

const (
	OrderTypeMarket OrderType = "market"
	OrderTypeLimit  OrderType = "limit"
)

// OrderRequest is an exchange order expressed in base-asset quantity.
type OrderRequest struct {
	Instrument string
	Side       Side // position side the order acts on
	Close      bool // reduce the position instead of growing it
	Type       OrderType
	Quantity   float64
	Price      float64 // limit orders only
	MarginMode string
	ClientID   string
	StopLoss   float64 // optional trigger price, 0 = none
	TakeProfit float64 // optional trigger price, 0 = none
}

// OrderAck is the exchange acknowledgement of an accepted order.
type OrderAck struct {
	OrderID   string
	ClientID  string
	Contracts string
}
