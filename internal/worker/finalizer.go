package worker

import (
	"context"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"
)

// ExpiredFinalizer is the part of service.ProctorService the finalizer runs.
type ExpiredFinalizer interface {
	FinalizeExpired(ctx context.Context) (int, error)
}

// Finalizer periodically closes registrations whose window has passed, so
// students who never submit still end up final.
type Finalizer struct {
	cron    *cron.Cron
	target  ExpiredFinalizer
	log     zerolog.Logger
	timeout time.Duration
}

// NewFinalizer schedules target on spec, a standard cron expression or an
// "@every" descriptor. Overlapping runs are skipped.
func NewFinalizer(spec string, target ExpiredFinalizer, log zerolog.Logger) (*Finalizer, error) {
	f := &Finalizer{
		target:  target,
		log:     log.With().Str("component", "finalizer").Logger(),
		timeout: 30 * time.Second,
	}
	f.cron = cron.New(cron.WithChain(cron.Recover(cron.DefaultLogger), cron.SkipIfStillRunning(cron.DefaultLogger)))
	if _, err := f.cron.AddFunc(spec, f.run); err != nil {
		return nil, err
	}
	return f, nil
}

func (f *Finalizer) run() {
	ctx, cancel := context.WithTimeout(context.Background(), f.timeout)
	defer cancel()
	f.RunOnce(ctx)
}

// RunOnce finalizes expired registrations immediately.
func (f *Finalizer) RunOnce(ctx context.Context) {
	n, err := f.target.FinalizeExpired(ctx)
	if err != nil {
		f.log.Error().Err(err).Int("closed", n).Msg("Finalize run failed")
		return
	}
	if n > 0 {
		f.log.Info().Int("closed", n).Msg("Finalized expired registrations")
	}
}

// Start runs the schedule until ctx ends, then waits for a running job.
func (f *Finalizer) Start(ctx context.Context) {
	f.log.Info().Msg("Finalizer started")
	f.cron.Start()
	<-ctx.Done()
	<-f.cron.Stop().Done()
	f.log.Info().Msg("Finalizer stopped")
}
