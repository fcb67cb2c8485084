// Package cache keeps the hot path of the take endpoint in Redis: version
// content, latest snapshots, lockout flags, persistence queues and the
// message fan-out channel.
package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/stemsi/hourglass/internal/config"
	"github.com/stemsi/hourglass/internal/model"
)

// ErrMiss is returned when a key is absent.
var ErrMiss = errors.New("cache miss")

// SnapshotJob is queued for the snapshot worker.
type SnapshotJob struct {
	RegistrationID int64           `json:"registration_id"`
	Answers        json.RawMessage `json:"answers"`
	Timestamp      int64           `json:"timestamp"`
}

// AnomalyJob is queued for the anomaly worker.
type AnomalyJob struct {
	RegistrationID int64  `json:"registration_id"`
	Reason         string `json:"reason"`
	Timestamp      int64  `json:"timestamp"`
}

// Store wraps a Redis client.
type Store struct {
	rdb        *redis.Client
	contentTTL time.Duration
}

func NewStore(rdb *redis.Client, contentTTL time.Duration) *Store {
	return &Store{rdb: rdb, contentTTL: contentTTL}
}

// Content returns the cached content of a version.
func (s *Store) Content(ctx context.Context, versionID int64) (*model.ExamVersionContent, error) {
	raw, err := s.rdb.Get(ctx, config.CacheKey.VersionContentKey(versionID)).Bytes()
	if err != nil {
		return nil, translate(err)
	}
	var content model.ExamVersionContent
	if err := json.Unmarshal(raw, &content); err != nil {
		return nil, fmt.Errorf("decode cached content: %w", err)
	}
	return &content, nil
}

// SetContent caches the content of a version.
func (s *Store) SetContent(ctx context.Context, versionID int64, content *model.ExamVersionContent) error {
	raw, err := json.Marshal(content)
	if err != nil {
		return err
	}
	return s.rdb.Set(ctx, config.CacheKey.VersionContentKey(versionID), raw, s.contentTTL).Err()
}

// LatestSnapshot returns the newest answers received for a registration.
func (s *Store) LatestSnapshot(ctx context.Context, registrationID int64) (json.RawMessage, error) {
	raw, err := s.rdb.Get(ctx, config.CacheKey.RegistrationSnapshotKey(registrationID)).Bytes()
	if err != nil {
		return nil, translate(err)
	}
	return raw, nil
}

// SaveSnapshot stores the answers as the latest and queues them for persistence.
func (s *Store) SaveSnapshot(ctx context.Context, registrationID int64, answers json.RawMessage, at time.Time) error {
	job, err := json.Marshal(SnapshotJob{RegistrationID: registrationID, Answers: answers, Timestamp: at.Unix()})
	if err != nil {
		return err
	}
	pipe := s.rdb.TxPipeline()
	pipe.Set(ctx, config.CacheKey.RegistrationSnapshotKey(registrationID), []byte(answers), 0)
	pipe.RPush(ctx, config.WorkerKey.PersistSnapshotsQueue, job)
	_, err = pipe.Exec(ctx)
	return err
}

// LockedOut reports whether the registration carries the lockout flag.
func (s *Store) LockedOut(ctx context.Context, registrationID int64) (bool, error) {
	n, err := s.rdb.Exists(ctx, config.CacheKey.RegistrationLockoutKey(registrationID)).Result()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// ClearLockout removes the lockout flag.
func (s *Store) ClearLockout(ctx context.Context, registrationID int64) error {
	return s.rdb.Del(ctx, config.CacheKey.RegistrationLockoutKey(registrationID)).Err()
}

// RecordAnomaly sets the lockout flag and queues the anomaly for persistence.
func (s *Store) RecordAnomaly(ctx context.Context, registrationID int64, reason string, at time.Time) error {
	job, err := json.Marshal(AnomalyJob{RegistrationID: registrationID, Reason: reason, Timestamp: at.Unix()})
	if err != nil {
		return err
	}
	pipe := s.rdb.TxPipeline()
	pipe.Set(ctx, config.CacheKey.RegistrationLockoutKey(registrationID), at.Unix(), 0)
	pipe.RPush(ctx, config.WorkerKey.PersistAnomaliesQueue, job)
	_, err = pipe.Exec(ctx)
	return err
}

// PublishMessage fans a message out to every push channel of its exam.
func (s *Store) PublishMessage(ctx context.Context, m *model.AddressedMessage) error {
	raw, err := json.Marshal(m)
	if err != nil {
		return err
	}
	return s.rdb.Publish(ctx, config.CacheKey.ExamMessagesChannel(m.ExamID.String()), raw).Err()
}

// SubscribeMessages delivers the messages published for an exam until ctx
// ends. Undecodable payloads are skipped.
func (s *Store) SubscribeMessages(ctx context.Context, examID uuid.UUID) (<-chan model.AddressedMessage, error) {
	sub := s.rdb.Subscribe(ctx, config.CacheKey.ExamMessagesChannel(examID.String()))
	if _, err := sub.Receive(ctx); err != nil {
		sub.Close()
		return nil, fmt.Errorf("subscribe: %w", err)
	}

	out := make(chan model.AddressedMessage)
	go func() {
		defer close(out)
		defer sub.Close()
		ch := sub.Channel()
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-ch:
				if !ok {
					return
				}
				var m model.AddressedMessage
				if err := json.Unmarshal([]byte(msg.Payload), &m); err != nil {
					continue
				}
				select {
				case out <- m:
				case <-ctx.Done():
					return
				}
			}
		}
	}()
	return out, nil
}

func translate(err error) error {
	if errors.Is(err, redis.Nil) {
		return ErrMiss
	}
	return err
}
