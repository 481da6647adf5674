package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/alanyoungcy/rwamarket/internal/domain"
)

// SnapshotSource produces the snapshot to archive.
type SnapshotSource interface {
	Export(ctx context.Context) (domain.MarketSnapshot, error)
}

// Archiver exports market snapshots to cold storage.
type Archiver struct {
	source  SnapshotSource
	archive domain.SnapshotArchiver
	logger  *slog.Logger
	now     func() time.Time
}

// NewArchiver creates a new Archiver.
func NewArchiver(source SnapshotSource, archive domain.SnapshotArchiver, logger *slog.Logger) *Archiver {
	return &Archiver{
		source:  source,
		archive: archive,
		logger:  logger.With(slog.String("component", "archiver")),
		now:     time.Now,
	}
}

// Run exports the latest snapshot once.
func (a *Archiver) Run(ctx context.Context) error {
	snap, err := a.source.Export(ctx)
	if err != nil {
		return fmt.Errorf("archiver: snapshot: %w", err)
	}
	path, err := a.archive.Export(ctx, snap)
	if err != nil {
		return fmt.Errorf("archiver: export seq %d: %w", snap.Seq, err)
	}
	a.logger.InfoContext(ctx, "snapshot archived",
		slog.Uint64("seq", snap.Seq),
		slog.String("path", path),
		slog.Int("listings", len(snap.Listings)),
		slog.Int("markets", len(snap.Markets)),
	)
	return nil
}

// RunCron runs the archiver on a standard 5-field cron schedule
// ("minute hour day-of-month month day-of-week") until ctx is cancelled.
func (a *Archiver) RunCron(ctx context.Context, cronExpr string) error {
	sched, err := cron.ParseStandard(cronExpr)
	if err != nil {
		return fmt.Errorf("parsing cron expression %q: %w", cronExpr, err)
	}
	a.logger.InfoContext(ctx, "archiver cron started", slog.String("cron", cronExpr))

	for {
		next := sched.Next(a.now().UTC())
		wait := time.Until(next)
		a.logger.DebugContext(ctx, "archiver waiting for next cron trigger",
			slog.Time("next_run", next),
			slog.Duration("wait", wait),
		)

		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			a.logger.InfoContext(ctx, "archiver cron stopped")
			return ctx.Err()
		case <-timer.C:
			if err := a.Run(ctx); err != nil {
				a.logger.ErrorContext(ctx, "archive run failed", slog.String("error", err.Error()))
			}
		}
	}
}
