package service

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/alanyoungcy/riskgate/internal/domain"
)

// Intake consumes trade intents appended to the intents stream and routes
// each to its strategy by name. Decisions are reported through Events, so
// Intake never waits on a handle.
type Intake struct {
	bus        domain.SignalBus
	strategies map[string]*TradeService
	poll       time.Duration
	batch      int
	dedup      *Dedup
	logger     *slog.Logger
	lastID     string
}

// intentDedupTTL bounds how long an intent ID is remembered.
const intentDedupTTL = 10 * time.Minute

// NewIntake creates a consumer that starts after the stream entries that
// exist at construction time, so a restart never replays old intents.
func NewIntake(bus domain.SignalBus, strategies []*TradeService, poll time.Duration, logger *slog.Logger) *Intake {
	byName := make(map[string]*TradeService, len(strategies))
	for _, s := range strategies {
		byName[s.Name()] = s
	}
	if poll <= 0 {
		poll = time.Second
	}
	return &Intake{
		bus:        bus,
		strategies: byName,
		poll:       poll,
		batch:      100,
		dedup:      NewDedup(intentDedupTTL),
		logger:     logger.With(slog.String("component", "intake")),
		lastID:     fmt.Sprintf("%d-0", time.Now().UnixMilli()),
	}
}

// Run polls the stream until ctx is done.
func (in *Intake) Run(ctx context.Context) error {
	in.logger.InfoContext(ctx, "service: intake started", slog.String("stream", StreamIntents))
	return every(ctx, in.poll, func(ctx context.Context) {
		if _, err := in.Poll(ctx); err != nil && ctx.Err() == nil {
			in.logger.ErrorContext(ctx, "service: intake poll failed", slog.String("error", err.Error()))
		}
	})
}

// Poll reads one batch and submits every intent in it. It returns the
// number of intents submitted.
func (in *Intake) Poll(ctx context.Context) (int, error) {
	msgs, err := in.bus.StreamRead(ctx, StreamIntents, in.lastID, in.batch)
	if err != nil {
		return 0, fmt.Errorf("service: read intents: %w", err)
	}
	if len(msgs) > 0 {
		in.dedup.Prune()
	}
	submitted := 0
	for _, msg := range msgs {
		in.lastID = msg.ID
		if in.dispatch(ctx, msg) {
			submitted++
		}
	}
	return submitted, nil
}

func (in *Intake) dispatch(ctx context.Context, msg domain.StreamMessage) bool {
	var intent domain.TradeIntent
	if err := json.Unmarshal(msg.Payload, &intent); err != nil {
		in.logger.WarnContext(ctx, "service: malformed intent",
			slog.String("id", msg.ID),
			slog.String("error", err.Error()),
		)
		return false
	}
	if intent.ID != "" && in.dedup.Seen(intent.ID) {
		in.logger.WarnContext(ctx, "service: duplicate intent ignored",
			slog.String("id", msg.ID),
			slog.String("intent_id", intent.ID),
		)
		return false
	}
	svc, ok := in.strategies[intent.Strategy]
	if !ok {
		in.logger.WarnContext(ctx, "service: intent for unknown strategy",
			slog.String("id", msg.ID),
			slog.String("strategy", intent.Strategy),
		)
		return false
	}
	if _, err := svc.Submit(ctx, intent); err != nil {
		in.logger.WarnContext(ctx, "service: intent rejected",
			slog.String("id", msg.ID),
			slog.String("strategy", intent.Strategy),
			slog.String("error", err.Error()),
		)
		return false
	}
	return true
}

// PublishIntent appends an intent to the intents stream.
func PublishIntent(ctx context.Context, bus domain.SignalBus, intent domain.TradeIntent) error {
	payload, err := json.Marshal(intent)
	if err != nil {
		return fmt.Errorf("service: encode intent: %w", err)
	}
	if err := bus.StreamAppend(ctx, StreamIntents, payload); err != nil {
		return fmt.Errorf("service: publish intent: %w", err)
	}
	return nil
}
