package jobs

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const recordTTL = 24 * time.Hour

// RedisStore keeps job records and logs in Redis so every API replica sees them.
type RedisStore struct {
	redis *redis.Client
}

var newRedisClient = redis.NewClient

func NewRedisStore(redisURL string) (*RedisStore, error) {
	opt, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("invalid redis URL: %w", err)
	}

	client := newRedisClient(opt)
	if err := client.Ping(context.Background()).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	return &RedisStore{redis: client}, nil
}

func recordKey(id string) string {
	return fmt.Sprintf("build:%s", id)
}

func logsKey(id string) string {
	return fmt.Sprintf("build:%s:logs", id)
}

func (s *RedisStore) Create(ctx context.Context, rec Record) error {
	return s.save(ctx, rec)
}

func (s *RedisStore) SetState(ctx context.Context, id string, state State, errMsg string) error {
	rec, err := s.Get(ctx, id)
	if err != nil {
		return err
	}
	applyState(&rec, state, errMsg, time.Now().UTC())
	return s.save(ctx, rec)
}

func (s *RedisStore) SetArtifact(ctx context.Context, id string, url string) error {
	rec, err := s.Get(ctx, id)
	if err != nil {
		return err
	}
	rec.ArtifactURL = url
	rec.UpdatedAt = time.Now().UTC()
	return s.save(ctx, rec)
}

func (s *RedisStore) AppendLog(ctx context.Context, id string, line string) error {
	key := logsKey(id)
	pipe := s.redis.TxPipeline()
	pipe.RPush(ctx, key, line)
	pipe.Expire(ctx, key, recordTTL)
	_, err := pipe.Exec(ctx)
	return err
}

func (s *RedisStore) Get(ctx context.Context, id string) (Record, error) {
	data, err := s.redis.Get(ctx, recordKey(id)).Bytes()
	if err == redis.Nil {
		return Record{}, ErrNotFound
	}
	if err != nil {
		return Record{}, err
	}

	var rec Record
	if err := json.Unmarshal(data, &rec); err != nil {
		return Record{}, fmt.Errorf("decode build record: %w", err)
	}
	return rec, nil
}

func (s *RedisStore) Logs(ctx context.Context, id string) ([]string, error) {
	if _, err := s.Get(ctx, id); err != nil {
		return nil, err
	}
	return s.redis.LRange(ctx, logsKey(id), 0, -1).Result()
}

func (s *RedisStore) Close() error {
	return s.redis.Close()
}

func (s *RedisStore) save(ctx context.Context, rec Record) error {
	data, err := json.Marshal(rec)
	if err != nil {
		return err
	}
	return s.redis.Set(ctx, recordKey(rec.ID), data, recordTTL).Err()
}
