package domain

import (
	"fmt"
	"strings"
	"time"
)

// IntentAction is what a trade intent asks for.
type IntentAction string

const (
	IntentOpen  IntentAction = "open"
	IntentClose IntentAction = "close"
)

// TradeIntent is an inbound request to change a position.
type TradeIntent struct {
	ID         string       `json:"id"`
	Strategy   string       `json:"strategy"`
	Instrument string       `json:"instrument"`
	Action     IntentAction `json:"action"`
	Side       Side         `json:"side"`
	Quantity   float64      `json:"quantity"`
	ReceivedAt time.Time    `json:"received_at"`
}

// Validate checks the intent is well formed.
func (t TradeIntent) Validate() error {
	if strings.TrimSpace(t.Instrument) == "" {
		return fmt.Errorf("%w: instrument is required", ErrInvalidIntent)
	}
	switch t.Action {
	case IntentOpen:
		if !t.Side.Valid() {
			return fmt.Errorf("%w: side must be long or short, got %q", ErrInvalidIntent, t.Side)
		}
		if t.Quantity <= 0 {
			return fmt.Errorf("%w: quantity must be positive", ErrInvalidIntent)
		}
	case IntentClose:
	default:
		return fmt.Errorf("%w: unknown action %q", ErrInvalidIntent, t.Action)
	}
	return nil
}

// DecisionStatus is the outcome of processing an intent.
type DecisionStatus string

const (
	DecisionSuccess  DecisionStatus = "success"
	DecisionRejected DecisionStatus = "rejected"
	DecisionSkipped  DecisionStatus = "skipped"
	DecisionError    DecisionStatus = "error"
)

// Decision is the outbound answer for one intent.
type Decision struct {
	Status     DecisionStatus  `json:"status"`
	Reason     string          `json:"reason"`
	IntentID   string          `json:"intent_id"`
	Strategy   string          `json:"strategy"`
	Instrument string          `json:"instrument"`
	Action     IntentAction    `json:"action"`
	Side       Side            `json:"side,omitempty"`
	Quantity   float64         `json:"quantity,omitempty"`
	Price      float64         `json:"price,omitempty"`
	OrderID    string          `json:"order_id,omitempty"`
	Regime     *RegimeSnapshot `json:"regime,omitempty"`
	DecidedAt  time.Time       `json:"decided_at"`
}

// NormalizeInstrument converts chart-style tickers such as "SOONUSDT.P" or
// "SOONUSDT" into perpetual swap IDs ("SOON-USDT-SWAP"). IDs that already
// contain a dash are returned upper-cased and otherwise unchanged.
func NormalizeInstrument(raw string) string {
	s := strings.ToUpper(strings.TrimSpace(raw))
	if s == "" || strings.Contains(s, "-") {
		return s
	}
	s = strings.TrimSuffix(s, ".P")
	for _, quote := range []string{"USDT", "USDC", "USD"} {
		if base, ok := strings.CutSuffix(s, quote); ok && base != "" {
			return base + "-" + quote + "-SWAP"
		}
	}
	return s
}
