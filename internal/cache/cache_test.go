package cache

import (
	"context"
	"errors"
	"io"
	"log"
	"testing"
	"time"
)

type failingKV struct{}

func (failingKV) Get(context.Context, string) (string, bool, error) {
	return "", false, errors.New("backend unreachable")
}

func (failingKV) Set(context.Context, string, string, time.Duration) error {
	return errors.New("backend unreachable")
}

func discardLogger() *log.Logger {
	return log.New(io.Discard, "", 0)
}

func TestServiceRoundtrip(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	svc := NewService(NewMemoryKV(), discardLogger())

	svc.Set(ctx, "emb:abc", "[0.1,0.2]", 24*time.Hour)
	got, ok := svc.Get(ctx, "emb:abc")
	if !ok {
		t.Fatal("expected hit within TTL")
	}
	if got != "[0.1,0.2]" {
		t.Fatalf("value = %q, want [0.1,0.2]", got)
	}
}

func TestServiceTTLExpiry(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	kv := NewMemoryKV()
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	kv.SetClock(func() time.Time { return now })
	svc := NewService(kv, discardLogger())

	svc.Set(ctx, "emb:abc", "[0.1,0.2]", 24*time.Hour)
	if _, ok := svc.Get(ctx, "emb:abc"); !ok {
		t.Fatal("expected hit before expiry")
	}

	now = now.Add(24*time.Hour + time.Second)
	if _, ok := svc.Get(ctx, "emb:abc"); ok {
		t.Fatal("expected miss after TTL expiry")
	}
}

func TestServiceSwallowsBackendFailures(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	svc := NewService(failingKV{}, discardLogger())

	// Neither call may panic or surface an error; reads degrade to a miss.
	svc.Set(ctx, "resp:k", "v", time.Minute)
	if _, ok := svc.Get(ctx, "resp:k"); ok {
		t.Fatal("expected miss from failing backend")
	}
}

func TestServiceNilBackend(t *testing.T) {
	t.Parallel()
	svc := NewService(nil, discardLogger())
	svc.Set(context.Background(), "k", "v", time.Minute)
	if _, ok := svc.Get(context.Background(), "k"); ok {
		t.Fatal("nil backend should always miss")
	}
}
