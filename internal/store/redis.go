// Package store persists session snapshots and calibration runs beyond
// the local JSON file: Redis for live state and the event stream, SQLite
// for history.
package store

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
	"go.uber.org/zap"

	"github.com/relabs-tech/step_computer/internal/session"
)

// streamMaxLen caps the event stream (approximate trimming).
const streamMaxLen = 10000

// RedisOptions configures a RedisStore.
type RedisOptions struct {
	Addr        string
	Password    string
	DB          int
	KeyPrefix   string
	EventStream string
}

// RedisStore keeps the latest snapshot per session and appends every
// event to a stream.
type RedisStore struct {
	client *redis.Client
	prefix string
	stream string
	log    *zap.Logger
}

// NewRedisStore connects to Redis. The connection is checked lazily;
// call Ping to fail fast.
func NewRedisStore(o RedisOptions, log *zap.Logger) *RedisStore {
	client := redis.NewClient(&redis.Options{
		Addr:     o.Addr,
		Password: o.Password,
		DB:       o.DB,
	})
	return newRedisStore(client, o, log)
}

func newRedisStore(client *redis.Client, o RedisOptions, log *zap.Logger) *RedisStore {
	if log == nil {
		log = zap.NewNop()
	}
	return &RedisStore{
		client: client,
		prefix: o.KeyPrefix,
		stream: o.EventStream,
		log:    log.With(zap.String("component", "redis_store")),
	}
}

func (s *RedisStore) snapshotKey(id string) string {
	return s.prefix + "session:" + id
}

func (s *RedisStore) Ping(ctx context.Context) error {
	if err := s.client.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("redis ping: %w", err)
	}
	return nil
}

func (s *RedisStore) Close() error {
	return s.client.Close()
}

// SaveSnapshot stores f under <prefix>session:<id>, replacing any previous one.
func (s *RedisStore) SaveSnapshot(ctx context.Context, f session.File) error {
	b, err := json.Marshal(f)
	if err != nil {
		return fmt.Errorf("encode snapshot: %w", err)
	}
	if err := s.client.Set(ctx, s.snapshotKey(f.SessionID), b, 0).Err(); err != nil {
		return fmt.Errorf("store snapshot %s: %w", f.SessionID, err)
	}
	s.log.Debug("snapshot stored", zap.String("session_id", f.SessionID), zap.Int("events", len(f.Events)))
	return nil
}

// AppendEvent adds one event to the stream and returns its entry id.
func (s *RedisStore) AppendEvent(ctx context.Context, sessionID string, ev session.Event) (string, error) {
	data, err := json.Marshal(ev.Result())
	if err != nil {
		return "", err
	}
	id, err := s.client.XAdd(ctx, &redis.XAddArgs{
		Stream: s.stream,
		MaxLen: streamMaxLen,
		Approx: true,
		Values: map[string]interface{}{
			"session_id": sessionID,
			"data":       string(data),
			"timestamp":  ev.Timestamp.UnixNano() / int64(time.Millisecond),
		},
	}).Result()
	if err != nil {
		return "", fmt.Errorf("append event: %w", err)
	}
	return id, nil
}
