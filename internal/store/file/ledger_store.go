// Package file persists ledgers on local disk: one positions document per
// strategy, replaced atomically, and one append-only JSONL trade history.
package file

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"

	"github.com/alanyoungcy/riskgate/internal/domain"
)

// LedgerStore implements domain.LedgerStore on a directory.
type LedgerStore struct {
	dir string
	mu  sync.Mutex
}

var _ domain.LedgerStore = (*LedgerStore)(nil)

// NewLedgerStore creates dir if needed.
func NewLedgerStore(dir string) (*LedgerStore, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("file: create data dir: %w", err)
	}
	return &LedgerStore{dir: dir}, nil
}

func (s *LedgerStore) positionsPath(strategy string) string {
	return filepath.Join(s.dir, strategy+"-positions.json")
}

func (s *LedgerStore) tradesPath(strategy string) string {
	return filepath.Join(s.dir, strategy+"-trades.jsonl")
}

// LoadPositions reads the positions document. A missing file is an empty
// ledger.
func (s *LedgerStore) LoadPositions(_ context.Context, strategy string) (map[string]domain.Position, error) {
	data, err := os.ReadFile(s.positionsPath(strategy))
	if errors.Is(err, fs.ErrNotExist) {
		return map[string]domain.Position{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("file: read positions: %w", err)
	}
	positions := map[string]domain.Position{}
	if len(bytes.TrimSpace(data)) == 0 {
		return positions, nil
	}
	if err := json.Unmarshal(data, &positions); err != nil {
		return nil, fmt.Errorf("file: decode positions: %w", err)
	}
	return positions, nil
}

// SavePositions replaces the positions document via write-to-temp and
// rename, so readers never observe a partial file.
func (s *LedgerStore) SavePositions(_ context.Context, strategy string, positions map[string]domain.Position) error {
	data, err := json.MarshalIndent(positions, "", "  ")
	if err != nil {
		return fmt.Errorf("file: encode positions: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	tmp, err := os.CreateTemp(s.dir, strategy+"-positions-*.tmp")
	if err != nil {
		return fmt.Errorf("file: create temp: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("file: write temp: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("file: sync temp: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("file: close temp: %w", err)
	}
	if err := os.Rename(tmp.Name(), s.positionsPath(strategy)); err != nil {
		return fmt.Errorf("file: rename positions: %w", err)
	}
	return nil
}

// LoadTrades reads every history line. A missing file is an empty history.
func (s *LedgerStore) LoadTrades(_ context.Context, strategy string) ([]domain.TradeRecord, error) {
	f, err := os.Open(s.tradesPath(strategy))
	if errors.Is(err, fs.ErrNotExist) {
		return []domain.TradeRecord{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("file: open trades: %w", err)
	}
	defer f.Close()

	var out []domain.TradeRecord
	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 64*1024), 4*1024*1024)
	line := 0
	for sc.Scan() {
		line++
		b := bytes.TrimSpace(sc.Bytes())
		if len(b) == 0 {
			continue
		}
		var rec domain.TradeRecord
		if err := json.Unmarshal(b, &rec); err != nil {
			return nil, fmt.Errorf("file: decode trade line %d: %w", line, err)
		}
		out = append(out, rec)
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("file: scan trades: %w", err)
	}
	return out, nil
}

// AppendTrade appends one record as a JSON line.
func (s *LedgerStore) AppendTrade(_ context.Context, strategy string, rec domain.TradeRecord) error {
	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("file: encode trade: %w", err)
	}
	data = append(data, '\n')

	s.mu.Lock()
	defer s.mu.Unlock()

	f, err := os.OpenFile(s.tradesPath(strategy), os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("file: open trades: %w", err)
	}
	if _, err := f.Write(data); err != nil {
		f.Close()
		return fmt.Errorf("file: append trade: %w", err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("file: close trades: %w", err)
	}
	return nil
}
