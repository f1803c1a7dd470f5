package domain

import "time"

// PositionStatus tracks whether a position is active or closed.
type PositionStatus string

const (
	PositionStatusActive PositionStatus = "active"
	PositionStatusClosed PositionStatus = "closed"
)

// Side is the direction of a position.
type Side string

const (
	SideLong  Side = "long"
	SideShort Side = "short"
)

// Opposite returns the other side.
func (s Side) Opposite() Side {
	if s == SideLong {
		return SideShort
	}
	return SideLong
}

// Valid reports whether s is long or short.
func (s Side) Valid() bool {
	return s == SideLong || s == SideShort
}

// FillAction distinguishes the first fill of a position from later adds.
type FillAction string

const (
	FillOpen FillAction = "open"
	FillAdd  FillAction = "add"
)

// Fill is one execution that contributed to a position.
type Fill struct {
	Action    FillAction `json:"action"`
	Price     float64    `json:"price"`
	Quantity  float64    `json:"quantity"`
	Margin    float64    `json:"margin"`
	Timestamp time.Time  `json:"timestamp"`
}

// Correction records a reconciliation overwrite of local state with
// exchange-reported values.
type Correction struct {
	ID               string    `json:"id"`
	Instrument       string    `json:"instrument"`
	LocalQuantity    float64   `json:"local_quantity"`
	ExchangeQuantity float64   `json:"exchange_quantity"`
	LocalEntry       float64   `json:"local_entry"`
	ExchangeEntry    float64   `json:"exchange_entry,omitempty"`
	At               time.Time `json:"at"`
}

// Position is the local record of exposure on one instrument. EntryPrice is
// always TotalCost / Quantity.
type Position struct {
	Instrument  string         `json:"instrument"`
	Status      PositionStatus `json:"status"`
	Side        Side           `json:"side"`
	EntryPrice  float64        `json:"entry_price"`
	Quantity    float64        `json:"quantity"`
	Margin      float64        `json:"margin"`
	TotalCost   float64        `json:"total_cost"`
	OpenTime    time.Time      `json:"open_time"`
	CloseTime   *time.Time     `json:"close_time,omitempty"`
	AddCount    int            `json:"add_count"`
	Fills       []Fill         `json:"fills"`
	ExitPrice   *float64       `json:"exit_price,omitempty"`
	PnL         *float64       `json:"pnl,omitempty"`
	CloseReason string         `json:"close_reason,omitempty"`
	Corrections []Correction   `json:"corrections,omitempty"`
}

// Active reports whether the position is still open.
func (p Position) Active() bool {
	return p.Status == PositionStatusActive
}

// Clone returns a deep copy so callers cannot mutate ledger state through
// shared slices or pointers.
func (p Position) Clone() Position {
	out := p
	out.Fills = append([]Fill(nil), p.Fills...)
	out.Corrections = append([]Correction(nil), p.Corrections...)
	if p.CloseTime != nil {
		t := *p.CloseTime
		out.CloseTime = &t
	}
	if p.ExitPrice != nil {
		v := *p.ExitPrice
		out.ExitPrice = &v
	}
	if p.PnL != nil {
		v := *p.PnL
		out.PnL = &v
	}
	return out
}

// TradeRecord is an immutable history entry written when a position closes.
type TradeRecord struct {
	ID          string    `json:"id"`
	Strategy    string    `json:"strategy"`
	Position    Position  `json:"position"`
	ExitPrice   float64   `json:"exit_price"`
	PnL         float64   `json:"pnl"`
	CloseReason string    `json:"close_reason"`
	ClosedAt    time.Time `json:"closed_at"`
}

// LedgerStats summarises a ledger for status reporting.
type LedgerStats struct {
	ActivePositions int     `json:"active_positions"`
	TotalTrades     int     `json:"total_trades"`
	TotalPnL        float64 `json:"total_pnl"`
	WinRate         float64 `json:"win_rate"`
	HighWaterMark   float64 `json:"high_water_mark"`
}
