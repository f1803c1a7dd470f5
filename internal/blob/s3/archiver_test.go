package s3blob

import (
	"bytes"
	"context"
	"io"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/riskgate/internal/domain"
)

type memBlobs struct {
	objects map[string][]byte
	puts    []string
}

func newMemBlobs() *memBlobs { return &memBlobs{objects: map[string][]byte{}} }

func (m *memBlobs) Put(_ context.Context, path string, data io.Reader, _ string) error {
	b, err := io.ReadAll(data)
	if err != nil {
		return err
	}
	m.objects[path] = b
	m.puts = append(m.puts, path)
	return nil
}

func (m *memBlobs) Get(_ context.Context, path string) (io.ReadCloser, error) {
	b, ok := m.objects[path]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return io.NopCloser(bytes.NewReader(b)), nil
}

func (m *memBlobs) Exists(_ context.Context, path string) (bool, error) {
	_, ok := m.objects[path]
	return ok, nil
}

func trade(id string, at time.Time) domain.TradeRecord {
	return domain.TradeRecord{ID: id, Strategy: "trend", ClosedAt: at}
}

func TestArchivePath(t *testing.T) {
	t.Parallel()
	assert.Equal(t, "archive/trades/trend/2025-03-04.jsonl", ArchivePath("trend", "2025-03-04"))
}

func TestArchiveStrategy(t *testing.T) {
	t.Parallel()

	day1 := time.Date(2025, 3, 3, 10, 0, 0, 0, time.UTC)
	day2 := time.Date(2025, 3, 4, 9, 0, 0, 0, time.UTC)
	history := []domain.TradeRecord{trade("a", day1), trade("b", day1.Add(time.Hour)), trade("c", day2)}

	blobs := newMemBlobs()
	arch := NewArchiver(blobs, blobs, nil, slog.New(slog.DiscardHandler))

	n, err := arch.ArchiveStrategy(context.Background(), "trend", history, day2)
	require.NoError(t, err)
	assert.Equal(t, 3, n)

	body := string(blobs.objects["archive/trades/trend/2025-03-03.jsonl"])
	assert.Equal(t, 2, strings.Count(body, "\n"))
	assert.Contains(t, body, `"id":"a"`)

	// Completed day is skipped, the current day is rewritten.
	blobs.puts = nil
	n, err = arch.ArchiveStrategy(context.Background(), "trend", history, day2)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Equal(t, []string{"archive/trades/trend/2025-03-04.jsonl"}, blobs.puts)
}

func TestNormaliseEndpoint(t *testing.T) {
	t.Parallel()
	assert.Equal(t, "https://s3.example.com", normaliseEndpoint("s3.example.com", true))
	assert.Equal(t, "http://localhost:9000", normaliseEndpoint("localhost:9000", false))
	assert.Equal(t, "http://minio:9000", normaliseEndpoint("http://minio:9000", true))
}
