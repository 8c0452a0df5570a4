package jobs

import (
	"context"
	"errors"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// Runs against a live Redis when DATASHEET_TEST_REDIS_URL is set.
func TestRedisStoreRoundTrip(t *testing.T) {
	url := os.Getenv("DATASHEET_TEST_REDIS_URL")
	if url == "" {
		t.Skip("DATASHEET_TEST_REDIS_URL not set")
	}

	store, err := NewRedisStore(url)
	if err != nil {
		t.Fatalf("connect: %v", err)
	}
	defer store.Close()

	ctx := context.Background()
	id := uuid.NewString()
	now := time.Now().UTC()
	if err := store.Create(ctx, Record{ID: id, Dialect: "latex", Scope: "series_1", State: StateCreated, CreatedAt: now, UpdatedAt: now}); err != nil {
		t.Fatalf("create: %v", err)
	}
	if err := store.AppendLog(ctx, id, "line one"); err != nil {
		t.Fatalf("append: %v", err)
	}
	if err := store.SetState(ctx, id, StateFailed, "exit code 1"); err != nil {
		t.Fatalf("set state: %v", err)
	}

	rec, err := store.Get(ctx, id)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if rec.State != StateFailed || rec.Error != "exit code 1" || rec.FinishedAt.IsZero() {
		t.Fatalf("unexpected record %#v", rec)
	}

	logs, err := store.Logs(ctx, id)
	if err != nil {
		t.Fatalf("logs: %v", err)
	}
	if len(logs) != 1 || logs[0] != "line one" {
		t.Fatalf("unexpected logs %#v", logs)
	}

	if _, err := store.Get(ctx, uuid.NewString()); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestNewRedisStoreRejectsBadURL(t *testing.T) {
	if _, err := NewRedisStore("not a url"); err == nil {
		t.Fatalf("expected error for invalid url")
	}
}

func TestNewRedisStoreClosesClientOnPingFailure(t *testing.T) {
	var opened *redis.Client
	newRedisClient = func(opt *redis.Options) *redis.Client {
		opt.MaxRetries = -1
		opt.DialTimeout = time.Second
		opened = redis.NewClient(opt)
		return opened
	}
	t.Cleanup(func() { newRedisClient = redis.NewClient })

	if _, err := NewRedisStore("redis://127.0.0.1:1/0"); err == nil {
		t.Fatalf("expected error for unreachable redis")
	}
	if opened == nil {
		t.Fatalf("client was never opened")
	}
	if err := opened.Ping(context.Background()).Err(); !errors.Is(err, redis.ErrClosed) {
		t.Fatalf("expected closed client, got %v", err)
	}
}
