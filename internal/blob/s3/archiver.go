package s3blob

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/alanyoungcy/riskgate/internal/domain"
)

// Archiver exports closed trades as JSONL, one object per strategy per UTC
// day, at archive/trades/<strategy>/<YYYY-MM-DD>.jsonl.
//
// Objects for completed days are written once and then skipped. The current
// day's object is rewritten on every run since it is still growing.
type Archiver struct {
	writer domain.BlobWriter
	reader domain.BlobReader
	audit  domain.AuditStore
	logger *slog.Logger
}

// NewArchiver creates an Archiver. audit may be nil.
func NewArchiver(writer domain.BlobWriter, reader domain.BlobReader, audit domain.AuditStore, logger *slog.Logger) *Archiver {
	return &Archiver{
		writer: writer,
		reader: reader,
		audit:  audit,
		logger: logger.With(slog.String("component", "archiver")),
	}
}

// ArchiveStrategy uploads every day of a strategy's trade history up to and
// including the day of now. It returns the number of records uploaded.
func (a *Archiver) ArchiveStrategy(ctx context.Context, strategy string, history []domain.TradeRecord, now time.Time) (int, error) {
	today := now.UTC().Format(time.DateOnly)
	uploaded := 0

	for _, day := range groupByDay(history) {
		path := ArchivePath(strategy, day.date)
		if day.date != today {
			exists, err := a.reader.Exists(ctx, path)
			if err != nil {
				return uploaded, err
			}
			if exists {
				continue
			}
		}

		buf, err := marshalJSONL(day.records)
		if err != nil {
			return uploaded, fmt.Errorf("s3blob: archive %s: %w", path, err)
		}
		if err := a.writer.Put(ctx, path, bytes.NewReader(buf), domain.ContentTypeJSONL); err != nil {
			return uploaded, err
		}
		uploaded += len(day.records)

		a.logger.InfoContext(ctx, "s3blob: archived trades",
			slog.String("strategy", strategy),
			slog.String("path", path),
			slog.Int("count", len(day.records)),
		)
		if a.audit != nil {
			if err := a.audit.Log(ctx, "archive.trades", map[string]any{
				"strategy": strategy,
				"path":     path,
				"count":    len(day.records),
			}); err != nil {
				a.logger.WarnContext(ctx, "s3blob: audit log failed", slog.String("error", err.Error()))
			}
		}
	}
	return uploaded, nil
}

// ArchivePath returns the object key for one strategy-day.
func ArchivePath(strategy, date string) string {
	return fmt.Sprintf("archive/trades/%s/%s.jsonl", strategy, date)
}

type dayBatch struct {
	date    string
	records []domain.TradeRecord
}

// groupByDay buckets records by UTC close date, preserving order.
func groupByDay(records []domain.TradeRecord) []dayBatch {
	var out []dayBatch
	index := make(map[string]int)
	for _, rec := range records {
		date := rec.ClosedAt.UTC().Format(time.DateOnly)
		i, ok := index[date]
		if !ok {
			i = len(out)
			index[date] = i
			out = append(out, dayBatch{date: date})
		}
		out[i].records = append(out[i].records, rec)
	}
	return out
}

// marshalJSONL serialises records as newline-delimited JSON.
func marshalJSONL[T any](records []T) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)

	for i, rec := range records {
		if err := enc.Encode(rec); err != nil {
			return nil, fmt.Errorf("jsonl encode record %d: %w", i, err)
		}
	}
	return buf.Bytes(), nil
}
