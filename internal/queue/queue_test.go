package queue

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/alanyoungcy/riskgate/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func waitCtx(t *testing.T) context.Context {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	t.Cleanup(cancel)
	return ctx
}

func TestQueue_FailureDoesNotStallLaterTasks(t *testing.T) {
	t.Parallel()

	q := New[string]("test", nil, testLogger())

	var mu sync.Mutex
	var events []string
	record := func(ev string) {
		mu.Lock()
		events = append(events, ev)
		mu.Unlock()
	}

	started := make(chan struct{})
	release := make(chan struct{})
	h1 := q.Enqueue(context.Background(), func(ctx context.Context) (string, error) {
		record("t1 start")
		close(started)
		<-release
		record("t1 end")
		return "one", nil
	}, Meta{Instrument: "BTC-USDT-SWAP"})
	h2 := q.Enqueue(context.Background(), func(ctx context.Context) (string, error) {
		record("t2 start")
		return "", errors.New("boom")
	}, Meta{Instrument: "ETH-USDT-SWAP"})
	h3 := q.Enqueue(context.Background(), func(ctx context.Context) (string, error) {
		record("t3 start")
		return "three", nil
	}, Meta{Instrument: "SOL-USDT-SWAP"})

	<-started
	st := q.Status()
	assert.True(t, st.Active)
	assert.Equal(t, 2, st.Pending)

	close(release)

	v1, err := h1.Wait(waitCtx(t))
	require.NoError(t, err)
	assert.Equal(t, "one", v1)

	_, err = h2.Wait(waitCtx(t))
	require.EqualError(t, err, "boom")

	v3, err := h3.Wait(waitCtx(t))
	require.NoError(t, err)
	assert.Equal(t, "three", v3)

	require.NoError(t, q.Drain(waitCtx(t)))
	assert.Equal(t, []string{"t1 start", "t1 end", "t2 start", "t3 start"}, events)

	st = q.Status()
	assert.False(t, st.Active)
	assert.Zero(t, st.Pending)
	assert.Empty(t, st.InFlight)
}

func TestQueue_PanicSettlesHandle(t *testing.T) {
	t.Parallel()

	q := New[int]("panics", nil, testLogger())
	h1 := q.Enqueue(context.Background(), func(ctx context.Context) (int, error) {
		panic("bad task")
	}, Meta{})
	h2 := q.Enqueue(context.Background(), func(ctx context.Context) (int, error) {
		return 2, nil
	}, Meta{})

	_, err := h1.Wait(waitCtx(t))
	require.ErrorIs(t, err, domain.ErrTaskPanicked)

	v, err := h2.Wait(waitCtx(t))
	require.NoError(t, err)
	assert.Equal(t, 2, v)
}

func TestQueue_StatusReportsInFlight(t *testing.T) {
	t.Parallel()

	q := New[struct{}]("inflight", nil, testLogger())
	started := make(chan struct{})
	release := make(chan struct{})
	h := q.Enqueue(context.Background(), func(ctx context.Context) (struct{}, error) {
		close(started)
		<-release
		return struct{}{}, nil
	}, Meta{Instrument: "DOGE-USDT-SWAP", Side: domain.SideLong, Quantity: 10})

	<-started
	st := q.Status()
	require.Len(t, st.InFlight, 1)
	assert.Equal(t, "DOGE-USDT-SWAP", st.InFlight[0].Instrument)
	assert.Equal(t, domain.SideLong, st.InFlight[0].Side)
	assert.NotEmpty(t, st.InFlight[0].ID)

	close(release)
	_, err := h.Wait(waitCtx(t))
	require.NoError(t, err)
}

func TestQueue_ClearSettlesPending(t *testing.T) {
	t.Parallel()

	q := New[int]("clear", nil, testLogger())
	started := make(chan struct{})
	release := make(chan struct{})
	running := q.Enqueue(context.Background(), func(ctx context.Context) (int, error) {
		close(started)
		<-release
		return 1, nil
	}, Meta{})
	<-started

	dropped := q.Enqueue(context.Background(), func(ctx context.Context) (int, error) {
		t.Error("cleared task must not run")
		return 0, nil
	}, Meta{})

	assert.Equal(t, 1, q.Clear())
	_, err := dropped.Wait(waitCtx(t))
	require.ErrorIs(t, err, domain.ErrQueueCleared)

	close(release)
	v, err := running.Wait(waitCtx(t))
	require.NoError(t, err)
	assert.Equal(t, 1, v)
}

func TestQueue_TaskIgnoresSubmitterCancellation(t *testing.T) {
	t.Parallel()

	q := New[bool]("detached", nil, testLogger())
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	h := q.Enqueue(ctx, func(ctx context.Context) (bool, error) {
		return ctx.Err() == nil, nil
	}, Meta{})

	ok, err := h.Wait(waitCtx(t))
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestHandle_WaitHonoursContext(t *testing.T) {
	t.Parallel()

	q := New[int]("wait", nil, testLogger())
	release := make(chan struct{})
	defer close(release)
	h := q.Enqueue(context.Background(), func(ctx context.Context) (int, error) {
		<-release
		return 0, nil
	}, Meta{})

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	_, err := h.Wait(ctx)
	require.ErrorIs(t, err, context.DeadlineExceeded)
}
