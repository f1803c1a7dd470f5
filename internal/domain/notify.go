package domain

import "context"

// Notification event types.
const (
	EventOrderOpened    = "order_opened"
	EventOrderClosed    = "order_closed"
	EventOrderFailed    = "order_failed"
	EventRegimeChange   = "regime_change"
	EventReconcileDrift = "reconcile_drift"
)

// Notifier delivers operator alerts.
type Notifier interface {
	Notify(ctx context.Context, event, title, message string) error
}
