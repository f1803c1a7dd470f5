package service

import (
	"context"
	"log/slog"
	"time"

	"github.com/alanyoungcy/riskgate/internal/domain"
)

// HistoryArchiver uploads a strategy's trade history.
type HistoryArchiver interface {
	ArchiveStrategy(ctx context.Context, strategy string, history []domain.TradeRecord, now time.Time) (int, error)
}

// ArchiveJob periodically archives every strategy's trade history.
type ArchiveJob struct {
	archiver   HistoryArchiver
	strategies []*TradeService
	interval   time.Duration
	logger     *slog.Logger
}

// NewArchiveJob creates an ArchiveJob.
func NewArchiveJob(archiver HistoryArchiver, strategies []*TradeService, interval time.Duration, logger *slog.Logger) *ArchiveJob {
	return &ArchiveJob{
		archiver:   archiver,
		strategies: strategies,
		interval:   interval,
		logger:     logger.With(slog.String("component", "archive_job")),
	}
}

// Run archives now and then every interval until ctx is done.
func (j *ArchiveJob) Run(ctx context.Context) error {
	return every(ctx, j.interval, func(ctx context.Context) { j.RunOnce(ctx) })
}

// RunOnce archives each strategy, continuing past failures.
func (j *ArchiveJob) RunOnce(ctx context.Context) int {
	total := 0
	now := time.Now()
	for _, s := range j.strategies {
		n, err := j.archiver.ArchiveStrategy(ctx, s.Name(), s.Ledger().History(), now)
		total += n
		if err != nil {
			j.logger.ErrorContext(ctx, "service: archive failed",
				slog.String("strategy", s.Name()),
				slog.String("error", err.Error()),
			)
		}
	}
	return total
}
