package worker

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/stemsi/hourglass/internal/cache"
	"github.com/stemsi/hourglass/internal/config"
)

// SnapshotAppender stores an autosave unless the registration is already
// final, reporting whether a row was written.
type SnapshotAppender interface {
	Append(ctx context.Context, registrationID int64, answers json.RawMessage, at time.Time) (bool, error)
}

// SnapshotWorker consumes persist_snapshots_queue and appends each snapshot
// to the snapshots table.
type SnapshotWorker struct {
	snapshots SnapshotAppender
	rdb       *redis.Client
	log       zerolog.Logger
}

// NewSnapshotWorker creates a new SnapshotWorker.
func NewSnapshotWorker(snapshots SnapshotAppender, rdb *redis.Client, log zerolog.Logger) *SnapshotWorker {
	return &SnapshotWorker{
		snapshots: snapshots,
		rdb:       rdb,
		log:       log.With().Str("component", "snapshot_worker").Logger(),
	}
}

// Start begins the worker loop. Call in a goroutine.
func (w *SnapshotWorker) Start(ctx context.Context) {
	w.log.Info().Msg("Worker started")

	for {
		select {
		case <-ctx.Done():
			w.log.Info().Msg("Worker stopping...")
			drainCtx, cancel := context.WithTimeout(context.Background(), ShutdownTimeout)
			w.drain(drainCtx)
			cancel()
			w.log.Info().Msg("Worker stopped")
			return
		default:
			w.processNext(ctx)
		}
	}
}

func (w *SnapshotWorker) processNext(ctx context.Context) {
	result, err := w.rdb.BLPop(ctx, PollTimeout, config.WorkerKey.PersistSnapshotsQueue).Result()
	if err != nil {
		if !errors.Is(err, redis.Nil) && ctx.Err() == nil {
			w.log.Error().Err(err).Msg("BLPop error, sleeping 3s")
			time.Sleep(3 * time.Second)
		}
		return
	}
	if len(result) < 2 {
		return
	}

	job, ok := decodeSnapshotJob(result[1])
	if !ok {
		w.log.Error().Str("data", result[1]).Msg("Discarding malformed snapshot job")
		return
	}

	if err := w.persist(ctx, job); err != nil {
		w.log.Error().Err(err).
			Int64("registration_id", job.RegistrationID).
			Msg("Persist error, retrying in 5s")
		w.rdb.RPush(ctx, config.WorkerKey.PersistSnapshotsQueue, result[1])
		time.Sleep(5 * time.Second)
	}
}

// decodeSnapshotJob rejects jobs that can never be stored.
func decodeSnapshotJob(raw string) (*cache.SnapshotJob, bool) {
	var job cache.SnapshotJob
	if err := json.Unmarshal([]byte(raw), &job); err != nil {
		return nil, false
	}
	if job.RegistrationID <= 0 || len(job.Answers) == 0 || !json.Valid(job.Answers) {
		return nil, false
	}
	return &job, true
}

// persist keeps the time the student took the snapshot, not the time it
// reached the database, so "latest" stays correct when the queue lags.
// Autosaves that arrive after submit are dropped.
func (w *SnapshotWorker) persist(ctx context.Context, job *cache.SnapshotJob) error {
	stored, err := w.snapshots.Append(ctx, job.RegistrationID, job.Answers, time.Unix(job.Timestamp, 0))
	if err != nil {
		return err
	}
	if !stored {
		w.log.Debug().Int64("registration_id", job.RegistrationID).Msg("Dropped snapshot for final registration")
	}
	return nil
}

// drain persists what is left in the queue before shutdown.
func (w *SnapshotWorker) drain(ctx context.Context) {
	drained := 0
	for ctx.Err() == nil {
		raw, err := w.rdb.LPop(ctx, config.WorkerKey.PersistSnapshotsQueue).Result()
		if err != nil {
			break
		}

		job, ok := decodeSnapshotJob(raw)
		if !ok {
			w.log.Error().Str("data", raw).Msg("Drain discarding malformed job")
			continue
		}
		if err := w.persist(ctx, job); err != nil {
			w.log.Error().Err(err).Msg("Drain persist error")
			w.rdb.RPush(context.Background(), config.WorkerKey.PersistSnapshotsQueue, raw)
			break
		}
		drained++
	}

	if drained > 0 {
		w.log.Info().Int("count", drained).Msg("Drained remaining items")
	}
}
