package domain

import (
	"context"
	"time"
)

// StreamMessage represents a single entry from a Redis stream.
type StreamMessage struct {
	ID      string
	Payload []byte
}

// SignalBus provides pub/sub and durable streams.
type SignalBus interface {
	Publish(ctx context.Context, channel string, payload []byte) error
	Subscribe(ctx context.Context, channel string) (<-chan []byte, error)
	StreamAppend(ctx context.Context, stream string, payload []byte) error
	StreamRead(ctx context.Context, stream string, lastID string, count int) ([]StreamMessage, error)
}

// RegimeCache shares the most recent regime snapshot with other readers.
// It is a publication target only; the detector never reads from it.
type RegimeCache interface {
	SetLatest(ctx context.Context, snap RegimeSnapshot, ttl time.Duration) error
	Latest(ctx context.Context) (RegimeSnapshot, error)
}
