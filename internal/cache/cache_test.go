package cache

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"bondhon/backend/internal/domain"
)

var (
	_ SummaryCache = NoopSummaryCache{}
	_ SummaryCache = (*RedisSummaryCache)(nil)
)

func TestNoopSummaryCacheNeverHits(t *testing.T) {
	ctx := context.Background()
	var c NoopSummaryCache
	if err := c.Set(ctx, SummaryKey, &domain.Summary{Customers: 3}, time.Minute); err != nil {
		t.Fatalf("set: %v", err)
	}
	if _, ok, err := c.Get(ctx, SummaryKey); ok || err != nil {
		t.Fatalf("expected miss, got ok=%v err=%v", ok, err)
	}
}

func TestIntegrationRedisSummaryCache(t *testing.T) {
	addr := os.Getenv("BONDHON_TEST_REDIS_ADDR")
	if addr == "" {
		t.Skip("BONDHON_TEST_REDIS_ADDR is not set")
	}

	ctx := context.Background()
	c := NewRedisSummaryCache(addr, "", 0)
	t.Cleanup(func() { _ = c.Close() })
	if err := c.Ping(ctx); err != nil {
		t.Fatalf("ping: %v", err)
	}

	key := SummaryKey + ":test"
	want := &domain.Summary{Customers: 2, Totals: domain.Totals{Qty: 5, Due: decimal.NewFromInt(250)}}
	if err := c.Set(ctx, key, want, time.Minute); err != nil {
		t.Fatalf("set: %v", err)
	}
	got, ok, err := c.Get(ctx, key)
	if err != nil || !ok {
		t.Fatalf("expected hit, got ok=%v err=%v", ok, err)
	}
	if got.Customers != 2 || !got.Totals.Due.Equal(want.Totals.Due) {
		t.Fatalf("unexpected summary: %+v", got)
	}

	if err := c.Invalidate(ctx, key); err != nil {
		t.Fatalf("invalidate: %v", err)
	}
	if _, ok, _ := c.Get(ctx, key); ok {
		t.Fatalf("expected miss after invalidate")
	}
}
