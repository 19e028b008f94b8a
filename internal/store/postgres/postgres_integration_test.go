package postgres

import (
	"context"
	"errors"
	"os"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"bondhon/backend/internal/domain"
	"bondhon/backend/internal/store"
	"bondhon/backend/internal/xid"
)

var _ store.Repository = (*Store)(nil)

func newIntegrationStore(t *testing.T) *Store {
	t.Helper()

	databaseURL := os.Getenv("BONDHON_TEST_DATABASE_URL")
	if databaseURL == "" {
		t.Skip("BONDHON_TEST_DATABASE_URL is not set")
	}

	ctx := context.Background()
	repo, err := New(ctx, databaseURL)
	if err != nil {
		t.Fatalf("connect postgres: %v", err)
	}
	t.Cleanup(func() { _ = repo.Close() })

	for _, table := range []string{"customer_transactions", "customers", "recycle_bin", "sync_queue", "app_settings"} {
		if _, err := repo.db.ExecContext(ctx, "DELETE FROM "+table); err != nil {
			t.Fatalf("reset %s: %v", table, err)
		}
	}
	return repo
}

func sampleCustomer(name string) domain.Customer {
	now := time.Now().UTC().Truncate(time.Microsecond)
	bill := decimal.NewFromInt(1000)
	cash := decimal.NewFromInt(400)
	return domain.Customer{
		ID:        xid.New("cus"),
		Name:      name,
		Phone:     "01711000000",
		CreatedAt: now,
		UpdatedAt: now,
		History: []domain.Transaction{{
			ID:        xid.New("txn"),
			CreatedAt: now,
			Qty:       10,
			Bill:      bill,
			Cash:      cash,
			Due:       bill.Sub(cash),
		}},
		Totals: domain.Totals{Qty: 10, Bill: bill, Cash: cash, Due: bill.Sub(cash)},
	}
}

func TestIntegrationCustomerRoundTrip(t *testing.T) {
	repo := newIntegrationStore(t)
	ctx := context.Background()

	customer := sampleCustomer("Karim")
	if err := repo.UpsertCustomer(ctx, customer); err != nil {
		t.Fatalf("upsert: %v", err)
	}

	got, err := repo.GetCustomer(ctx, customer.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if len(got.History) != 1 || !got.History[0].Due.Equal(decimal.NewFromInt(600)) {
		t.Fatalf("unexpected history: %+v", got.History)
	}

	list, err := repo.ListCustomers(ctx)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(list) != 1 || len(list[0].History) != 1 {
		t.Fatalf("unexpected list: %+v", list)
	}
}

func TestIntegrationKeepsSubCentAmounts(t *testing.T) {
	repo := newIntegrationStore(t)
	ctx := context.Background()

	bill := decimal.RequireFromString("1234.567")
	cash := decimal.RequireFromString("0.125")
	customer := sampleCustomer("Rahim")
	customer.History[0].Bill = bill
	customer.History[0].Cash = cash
	customer.History[0].Due = bill.Sub(cash)
	customer.Totals = domain.Totals{Qty: 10, Bill: bill, Cash: cash, Due: bill.Sub(cash)}

	if err := repo.UpsertCustomer(ctx, customer); err != nil {
		t.Fatalf("upsert: %v", err)
	}
	got, err := repo.GetCustomer(ctx, customer.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	tx := got.History[0]
	if !tx.Bill.Equal(bill) || !tx.Cash.Equal(cash) || !tx.Due.Equal(decimal.RequireFromString("1234.442")) {
		t.Fatalf("amounts rounded: bill=%s cash=%s due=%s", tx.Bill, tx.Cash, tx.Due)
	}
	if !got.Totals.Due.Equal(decimal.RequireFromString("1234.442")) {
		t.Fatalf("totals rounded: %s", got.Totals.Due)
	}
}

func TestIntegrationMoveAndRestoreCustomer(t *testing.T) {
	repo := newIntegrationStore(t)
	ctx := context.Background()

	customer := sampleCustomer("Rahim")
	if err := repo.UpsertCustomer(ctx, customer); err != nil {
		t.Fatalf("upsert: %v", err)
	}

	entry, err := repo.MoveCustomerToBin(ctx, customer.ID, time.Now().UTC())
	if err != nil {
		t.Fatalf("move: %v", err)
	}
	if _, err := repo.GetCustomer(ctx, customer.ID); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("expected customer gone, got %v", err)
	}

	restored, err := repo.RestoreCustomer(ctx, entry.ID)
	if err != nil {
		t.Fatalf("restore: %v", err)
	}
	if restored.ID != customer.ID || len(restored.History) != 1 {
		t.Fatalf("unexpected restored customer: %+v", restored)
	}
	bin, err := repo.ListBinEntries(ctx)
	if err != nil {
		t.Fatalf("list bin: %v", err)
	}
	if len(bin) != 0 {
		t.Fatalf("expected empty bin, got %d", len(bin))
	}
}

func TestIntegrationSyncQueueOrder(t *testing.T) {
	repo := newIntegrationStore(t)
	ctx := context.Background()

	for _, action := range []domain.SyncAction{domain.SyncAddCustomer, domain.SyncAddTransaction} {
		if _, err := repo.EnqueueSync(ctx, domain.SyncItem{ID: xid.New("sq"), Action: action, EntityID: "cus_1"}); err != nil {
			t.Fatalf("enqueue: %v", err)
		}
	}

	items, err := repo.ListSyncItems(ctx, 0, 10)
	if err != nil {
		t.Fatalf("list sync: %v", err)
	}
	if len(items) != 2 || items[0].Action != domain.SyncAddCustomer || items[0].Seq >= items[1].Seq {
		t.Fatalf("unexpected queue order: %+v", items)
	}

	items[0].Status = domain.SyncStatusInFlight
	if err := repo.UpdateSyncItem(ctx, items[0]); err != nil {
		t.Fatalf("update: %v", err)
	}
	reset, err := repo.ResetInFlightSync(ctx)
	if err != nil || reset != 1 {
		t.Fatalf("reset in flight: %d %v", reset, err)
	}
}
