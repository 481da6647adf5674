package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"
)

// Sweeper is housekeeping run on every refresh interval.
type Sweeper interface {
	Sweep()
}

// Orchestrator manages the pipeline goroutines: the refresher, the snapshot
// archiver and periodic housekeeping.
type Orchestrator struct {
	refresher   *Refresher
	archiver    *Archiver
	archiveCron string
	sweepers    []Sweeper
	logger      *slog.Logger
}

// NewOrchestrator creates an Orchestrator. archiver may be nil.
func NewOrchestrator(refresher *Refresher, archiver *Archiver, archiveCron string, logger *slog.Logger, sweepers ...Sweeper) *Orchestrator {
	return &Orchestrator{
		refresher:   refresher,
		archiver:    archiver,
		archiveCron: archiveCron,
		sweepers:    sweepers,
		logger:      logger.With(slog.String("component", "pipeline")),
	}
}

// Trigger requests an immediate refresh.
func (o *Orchestrator) Trigger() bool { return o.refresher.Trigger() }

// Run starts all sub-pipelines under an errgroup. Each goroutine respects ctx
// cancellation; a non-context error cancels the others and is returned.
func (o *Orchestrator) Run(ctx context.Context) error {
	o.logger.InfoContext(ctx, "pipeline orchestrator starting",
		slog.Duration("refresh_interval", o.refresher.interval),
		slog.Bool("archive", o.archiver != nil),
		slog.String("archive_cron", o.archiveCron),
	)

	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		err := o.refresher.Run(ctx)
		if ctx.Err() != nil {
			return nil
		}
		return fmt.Errorf("refresher: %w", err)
	})

	if o.archiver != nil {
		g.Go(func() error {
			err := o.archiver.RunCron(ctx, o.archiveCron)
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("archiver: %w", err)
		})
	}

	if len(o.sweepers) > 0 {
		g.Go(func() error {
			ticker := time.NewTicker(max(o.refresher.interval, time.Minute))
			defer ticker.Stop()
			for {
				select {
				case <-ctx.Done():
					return nil
				case <-ticker.C:
					for _, s := range o.sweepers {
						s.Sweep()
					}
				}
			}
		})
	}

	if err := g.Wait(); err != nil {
		o.logger.Error("pipeline orchestrator stopped with error", slog.String("error", err.Error()))
		return err
	}
	o.logger.Info("pipeline orchestrator stopped cleanly")
	return nil
}
