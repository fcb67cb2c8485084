package worker

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/stemsi/hourglass/internal/cache"
	"github.com/stemsi/hourglass/internal/config"
)

const (
	BatchTimeout    = 2 * time.Second
	PollTimeout     = 1 * time.Second // Must be >= 1s to satisfy Redis
	ShutdownTimeout = 5 * time.Second
)

// AnomalyWorker batches persist_anomalies_queue into the anomalies table.
type AnomalyWorker struct {
	pool      *pgxpool.Pool
	rdb       *redis.Client
	log       zerolog.Logger
	batchSize int
}

func NewAnomalyWorker(pool *pgxpool.Pool, rdb *redis.Client, log zerolog.Logger, batchSize int) *AnomalyWorker {
	if batchSize <= 0 {
		batchSize = 50
	}
	return &AnomalyWorker{
		pool:      pool,
		rdb:       rdb,
		log:       log.With().Str("component", "anomaly_worker").Logger(),
		batchSize: batchSize,
	}
}

func (w *AnomalyWorker) Start(ctx context.Context) {
	w.log.Info().Int("batch_size", w.batchSize).Msg("Worker started")

	buffer := make([]*cache.AnomalyJob, 0, w.batchSize)
	lastFlushTime := time.Now()

	for {
		// 1. Flush on size or age
		if len(buffer) > 0 {
			if len(buffer) >= w.batchSize || time.Since(lastFlushTime) >= BatchTimeout {
				w.flushSafe(ctx, buffer)
				buffer = buffer[:0]
				lastFlushTime = time.Now()
			}
		}

		// 2. Graceful shutdown
		select {
		case <-ctx.Done():
			w.shutdown(buffer)
			return
		default:
		}

		// 3. Fetch from Redis
		result, err := w.rdb.BLPop(ctx, PollTimeout, config.WorkerKey.PersistAnomaliesQueue).Result()
		if err != nil {
			if errors.Is(err, redis.Nil) {
				continue
			}
			if ctx.Err() != nil {
				continue
			}
			w.log.Error().Err(err).Msg("Redis connection error, sleeping 3s")
			time.Sleep(3 * time.Second)
			continue
		}
		if len(result) < 2 {
			continue
		}

		job, ok := decodeAnomalyJob(result[1])
		if !ok {
			// Malformed jobs can never succeed.
			w.log.Error().Str("data", result[1]).Msg("Discarding malformed anomaly job")
			continue
		}
		buffer = append(buffer, job)
	}
}

func decodeAnomalyJob(raw string) (*cache.AnomalyJob, bool) {
	var job cache.AnomalyJob
	if err := json.Unmarshal([]byte(raw), &job); err != nil {
		return nil, false
	}
	if job.RegistrationID <= 0 || strings.TrimSpace(job.Reason) == "" {
		return nil, false
	}
	return &job, true
}

// anomalyRows converts a batch into CopyFrom rows.
func anomalyRows(batch []*cache.AnomalyJob) [][]interface{} {
	rows := make([][]interface{}, 0, len(batch))
	for _, j := range batch {
		rows = append(rows, []interface{}{j.RegistrationID, j.Reason, time.Unix(j.Timestamp, 0)})
	}
	return rows
}

// flushSafe attempts bulk insert, then row-by-row insert, then requeue.
func (w *AnomalyWorker) flushSafe(ctx context.Context, batch []*cache.AnomalyJob) {
	if err := w.bulkInsert(ctx, batch); err != nil {
		w.log.Warn().Err(err).Int("count", len(batch)).Msg("Bulk insert failed, attempting row-by-row recovery")
		w.fallbackInsert(ctx, batch)
	}
}

func (w *AnomalyWorker) bulkInsert(ctx context.Context, batch []*cache.AnomalyJob) error {
	_, err := w.pool.CopyFrom(
		ctx,
		pgx.Identifier{"anomalies"},
		[]string{"registration_id", "reason", "created_at"},
		pgx.CopyFromRows(anomalyRows(batch)),
	)
	return err
}

func (w *AnomalyWorker) fallbackInsert(ctx context.Context, batch []*cache.AnomalyJob) {
	requeueList := make([]*cache.AnomalyJob, 0)

	for _, j := range batch {
		_, err := w.pool.Exec(ctx,
			`INSERT INTO anomalies (registration_id, reason, created_at) VALUES ($1, $2, $3)`,
			j.RegistrationID, j.Reason, time.Unix(j.Timestamp, 0),
		)
		if err != nil {
			w.log.Error().Err(err).Int64("registration_id", j.RegistrationID).Msg("Insert failed, requeueing")
			requeueList = append(requeueList, j)
		}
	}

	if len(requeueList) > 0 {
		w.requeue(ctx, requeueList)
	}
}

func (w *AnomalyWorker) requeue(ctx context.Context, items []*cache.AnomalyJob) {
	// The worker context may already be cancelled during shutdown.
	ctx = context.WithoutCancel(ctx)
	pipe := w.rdb.Pipeline()
	for _, j := range items {
		data, _ := json.Marshal(j)
		pipe.RPush(ctx, config.WorkerKey.PersistAnomaliesQueue, data)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		w.log.Error().Err(err).Int("count", len(items)).Msg("CRITICAL: Failed to requeue anomalies to Redis. Data loss occurred.")
		return
	}
	w.log.Info().Int("count", len(items)).Msg("Requeued failed items back to Redis")
	time.Sleep(2 * time.Second)
}

func (w *AnomalyWorker) shutdown(buffer []*cache.AnomalyJob) {
	w.log.Info().Msg("Worker stopping, flushing remaining buffer...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), ShutdownTimeout)
	defer cancel()

	if len(buffer) > 0 {
		w.flushSafe(shutdownCtx, buffer)
	}
}
