package db

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"

	"github.com/dialectica/dialectica/pkg/models"
)

func testRedisStore(t *testing.T) *RedisStore {
	t.Helper()
	srv := miniredis.RunT(t)
	store, err := OpenRedis(context.Background(), "redis://"+srv.Addr())
	if err != nil {
		t.Fatalf("open redis store: %v", err)
	}
	t.Cleanup(func() { store.Close() })
	return store
}

func redisSession(id string, createdAt time.Time) *models.DebateSession {
	return &models.DebateSession{
		ID:        id,
		CreatedAt: createdAt,
		Topic:     "topic",
		Title:     "title",
		Personas: models.Personas{
			{Name: "Ada"},
			{Name: "Grace"},
		},
		ChatLog: models.ChatLog{
			{PersonaName: "Ada", Message: "hi", Timestamp: 1},
		},
	}
}

func TestRedisStore_PutGetRoundTrip(t *testing.T) {
	store := testRedisStore(t)
	ctx := context.Background()

	want := redisSession("s1", time.Now())
	if err := store.Put(ctx, want); err != nil {
		t.Fatalf("put: %v", err)
	}

	got, err := store.Get(ctx, "s1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Topic != want.Topic || len(got.ChatLog) != 1 || len(got.Personas) != 2 {
		t.Fatalf("round trip mismatch: %+v", got)
	}
}

func TestRedisStore_ListOrderedByCreation(t *testing.T) {
	store := testRedisStore(t)
	ctx := context.Background()

	base := time.UnixMilli(1700000000000)
	if err := store.Put(ctx, redisSession("newer", base.Add(time.Minute))); err != nil {
		t.Fatalf("put: %v", err)
	}
	if err := store.Put(ctx, redisSession("older", base)); err != nil {
		t.Fatalf("put: %v", err)
	}

	sessions, err := store.List(ctx)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(sessions) != 2 || sessions[0].ID != "older" || sessions[1].ID != "newer" {
		t.Fatalf("list order %+v, want oldest first", sessions)
	}
}

func TestRedisStore_DeleteRemovesValueAndIndex(t *testing.T) {
	store := testRedisStore(t)
	ctx := context.Background()

	if err := store.Put(ctx, redisSession("s1", time.Now())); err != nil {
		t.Fatalf("put: %v", err)
	}
	if err := store.Delete(ctx, "s1"); err != nil {
		t.Fatalf("delete: %v", err)
	}

	if _, err := store.Get(ctx, "s1"); !errors.Is(err, ErrSessionNotFound) {
		t.Fatalf("get after delete returned %v, want ErrSessionNotFound", err)
	}
	sessions, err := store.List(ctx)
	if err != nil {
		t.Fatalf("list after delete: %v", err)
	}
	if len(sessions) != 0 {
		t.Fatalf("index still lists %d sessions after delete", len(sessions))
	}
}

func TestRedisStore_DeleteMissing(t *testing.T) {
	store := testRedisStore(t)

	if err := store.Delete(context.Background(), "nope"); !errors.Is(err, ErrSessionNotFound) {
		t.Fatalf("delete of missing session returned %v, want ErrSessionNotFound", err)
	}
}
