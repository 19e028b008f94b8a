package store

import (
	"context"
	"errors"
	"time"

	"bondhon/backend/internal/domain"
)

var (
	ErrNotFound     = errors.New("not found")
	ErrInvalidInput = errors.New("invalid input")
	// ErrPersistence wraps any failure of the underlying storage. The prior
	// value is retained when it is returned.
	ErrPersistence = errors.New("persistence failure")
)

type CustomerStore interface {
	UpsertCustomer(ctx context.Context, customer domain.Customer) error
	GetCustomer(ctx context.Context, id string) (*domain.Customer, error)
	DeleteCustomer(ctx context.Context, id string) error
	ListCustomers(ctx context.Context) ([]domain.Customer, error)
}

type BinStore interface {
	UpsertBinEntry(ctx context.Context, entry domain.BinEntry) error
	GetBinEntry(ctx context.Context, id string) (*domain.BinEntry, error)
	DeleteBinEntry(ctx context.Context, id string) error
	ListBinEntries(ctx context.Context) ([]domain.BinEntry, error)

	// The move operations commit both sides or neither.
	MoveCustomerToBin(ctx context.Context, id string, deletedAt time.Time) (*domain.BinEntry, error)
	RestoreCustomer(ctx context.Context, binID string) (*domain.Customer, error)
	MoveTransactionToBin(ctx context.Context, customer domain.Customer, entry domain.BinEntry) error
	RestoreTransaction(ctx context.Context, customer domain.Customer, binID string) error
}

// SyncStore persists the outbound replication queue. Items are ordered by the
// Seq assigned in EnqueueSync.
type SyncStore interface {
	EnqueueSync(ctx context.Context, item domain.SyncItem) (*domain.SyncItem, error)
	ListSyncItems(ctx context.Context, afterSeq int64, limit int) ([]domain.SyncItem, error)
	UpdateSyncItem(ctx context.Context, item domain.SyncItem) error
	DeleteSyncItem(ctx context.Context, id string) error
	CountSyncItems(ctx context.Context) (int, error)
	ResetInFlightSync(ctx context.Context) (int, error)
}

type SettingsStore interface {
	GetSettings(ctx context.Context) (domain.Settings, error)
	SaveSettings(ctx context.Context, settings domain.Settings) error
}

type Repository interface {
	CustomerStore
	BinStore
	SyncStore
	SettingsStore

	// ReplaceLedger swaps the whole active set and bin in one step.
	ReplaceLedger(ctx context.Context, customers []domain.Customer, bin []domain.BinEntry) error
}
