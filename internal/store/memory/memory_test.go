package memory

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"bondhon/backend/internal/domain"
	"bondhon/backend/internal/store"
)

var _ store.Repository = (*Store)(nil)

func sampleCustomer(id string) domain.Customer {
	return domain.Customer{
		ID:        id,
		Name:      "Karim",
		Phone:     "01710000000",
		CreatedAt: time.Now().UTC(),
		History: []domain.Transaction{
			{ID: "txn_1", Qty: 100, Bill: decimal.NewFromInt(5000), Cash: decimal.NewFromInt(3000)},
		},
	}
}

func TestGetMissingCustomerReturnsNotFound(t *testing.T) {
	s := New()
	if _, err := s.GetCustomer(context.Background(), "nope"); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestUpsertIsolatesCallerSlices(t *testing.T) {
	s := New()
	ctx := context.Background()
	c := sampleCustomer("cus_1")
	if err := s.UpsertCustomer(ctx, c); err != nil {
		t.Fatalf("upsert: %v", err)
	}
	c.History[0].Qty = 1

	got, err := s.GetCustomer(ctx, "cus_1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.History[0].Qty != 100 {
		t.Fatalf("store shares history with caller")
	}
}

func TestMoveAndRestoreCustomer(t *testing.T) {
	s := New()
	ctx := context.Background()
	c := sampleCustomer("cus_1")
	_ = s.UpsertCustomer(ctx, c)

	entry, err := s.MoveCustomerToBin(ctx, "cus_1", time.Now().UTC())
	if err != nil {
		t.Fatalf("move: %v", err)
	}
	if entry.EntityType != domain.BinEntityCustomer || entry.Customer == nil {
		t.Fatalf("unexpected bin entry: %+v", entry)
	}
	if _, err := s.GetCustomer(ctx, "cus_1"); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("customer should be gone from active set")
	}

	restored, err := s.RestoreCustomer(ctx, "cus_1")
	if err != nil {
		t.Fatalf("restore: %v", err)
	}
	if restored.Name != c.Name || len(restored.History) != 1 {
		t.Fatalf("restored customer differs: %+v", restored)
	}
	bin, _ := s.ListBinEntries(ctx)
	if len(bin) != 0 {
		t.Fatalf("expected empty bin, got %d", len(bin))
	}
}

func TestSyncQueueOrderingAndCursor(t *testing.T) {
	s := New()
	ctx := context.Background()
	for _, id := range []string{"a", "b", "c"} {
		if _, err := s.EnqueueSync(ctx, domain.SyncItem{ID: id, Action: domain.SyncAddCustomer}); err != nil {
			t.Fatalf("enqueue %s: %v", id, err)
		}
	}

	first, _ := s.ListSyncItems(ctx, 0, 2)
	if len(first) != 2 || first[0].ID != "a" || first[1].ID != "b" {
		t.Fatalf("unexpected first page: %+v", first)
	}
	rest, _ := s.ListSyncItems(ctx, first[1].Seq, 10)
	if len(rest) != 1 || rest[0].ID != "c" {
		t.Fatalf("unexpected second page: %+v", rest)
	}

	item := first[0]
	item.Status = domain.SyncStatusInFlight
	_ = s.UpdateSyncItem(ctx, item)
	if n, _ := s.ResetInFlightSync(ctx); n != 1 {
		t.Fatalf("expected 1 reset, got %d", n)
	}
	if err := s.DeleteSyncItem(ctx, "b"); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if n, _ := s.CountSyncItems(ctx); n != 2 {
		t.Fatalf("expected 2 items, got %d", n)
	}
}

func TestSnapshotRestoreRoundTrip(t *testing.T) {
	s := New()
	ctx := context.Background()
	_ = s.UpsertCustomer(ctx, sampleCustomer("cus_1"))
	_, _ = s.EnqueueSync(ctx, domain.SyncItem{ID: "a", Action: domain.SyncAddCustomer})

	state := s.Snapshot()
	_ = s.DeleteCustomer(ctx, "cus_1")
	_ = s.DeleteSyncItem(ctx, "a")

	s.Restore(state)
	if _, err := s.GetCustomer(ctx, "cus_1"); err != nil {
		t.Fatalf("customer lost after restore: %v", err)
	}
	item, err := s.EnqueueSync(ctx, domain.SyncItem{ID: "b", Action: domain.SyncAddCustomer})
	if err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	if item.Seq != 2 {
		t.Fatalf("expected seq to continue at 2, got %d", item.Seq)
	}
}
