// Package file is a durable local store: the memory backend persisted as
// versioned JSON dataset files in one directory.
package file

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"bondhon/backend/internal/domain"
	"bondhon/backend/internal/store"
	"bondhon/backend/internal/store/memory"
)

// Dataset keys. Customers and bin share one file so moves between them are a
// single rename.
const (
	LedgerKey   = "bondhon_v5_ledger"
	QueueKey    = "bondhon_v5_sync_queue"
	SettingsKey = "bondhon_v5_settings"
)

const formatVersion = 5

type dataset uint8

const (
	ledgerData dataset = 1 << iota
	queueData
	settingsData
)

type ledgerFile struct {
	Version   int               `json:"version"`
	UpdatedAt time.Time         `json:"updated_at"`
	Customers []domain.Customer `json:"customers"`
	Bin       []domain.BinEntry `json:"bin"`
}

type queueFile struct {
	Version int               `json:"version"`
	NextSeq int64             `json:"next_seq"`
	Items   []domain.SyncItem `json:"items"`
}

type Store struct {
	mu  sync.Mutex
	dir string
	mem *memory.Store
}

func Open(dir string) (*Store, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}
	s := &Store{dir: dir, mem: memory.New()}
	if err := s.load(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *Store) Close() error { return nil }

func (s *Store) Dir() string { return s.dir }

func (s *Store) path(key string) string {
	return filepath.Join(s.dir, key+".json")
}

func (s *Store) load() error {
	state := memory.State{
		Customers: make(map[string]domain.Customer),
		Bin:       make(map[string]domain.BinEntry),
	}

	var ledger ledgerFile
	if ok, err := readJSON(s.path(LedgerKey), &ledger); err != nil {
		return fmt.Errorf("load %s: %w", LedgerKey, err)
	} else if ok {
		for _, c := range ledger.Customers {
			state.Customers[c.ID] = c
		}
		for _, e := range ledger.Bin {
			state.Bin[e.ID] = e
		}
	}

	var queue queueFile
	if ok, err := readJSON(s.path(QueueKey), &queue); err != nil {
		return fmt.Errorf("load %s: %w", QueueKey, err)
	} else if ok {
		state.Queue = queue.Items
		state.NextSeq = queue.NextSeq
	}

	if _, err := readJSON(s.path(SettingsKey), &state.Settings); err != nil {
		return fmt.Errorf("load %s: %w", SettingsKey, err)
	}

	s.mem.Restore(state)
	return nil
}

// mutate applies fn to the memory state and persists the touched datasets.
// On a write failure the memory state is rolled back.
func (s *Store) mutate(which dataset, fn func() error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	before := s.mem.Snapshot()
	if err := fn(); err != nil {
		return err
	}
	if err := s.persist(which); err != nil {
		s.mem.Restore(before)
		return fmt.Errorf("%w: %v", store.ErrPersistence, err)
	}
	return nil
}

func (s *Store) persist(which dataset) error {
	state := s.mem.Snapshot()

	if which&ledgerData != 0 {
		ledger := ledgerFile{
			Version:   formatVersion,
			UpdatedAt: time.Now().UTC(),
			Customers: make([]domain.Customer, 0, len(state.Customers)),
			Bin:       make([]domain.BinEntry, 0, len(state.Bin)),
		}
		customers, _ := s.mem.ListCustomers(context.Background())
		ledger.Customers = append(ledger.Customers, customers...)
		bin, _ := s.mem.ListBinEntries(context.Background())
		ledger.Bin = append(ledger.Bin, bin...)
		if err := writeJSON(s.dir, LedgerKey, ledger); err != nil {
			return err
		}
	}
	if which&queueData != 0 {
		queue := queueFile{Version: formatVersion, NextSeq: state.NextSeq, Items: state.Queue}
		if err := writeJSON(s.dir, QueueKey, queue); err != nil {
			return err
		}
	}
	if which&settingsData != 0 {
		if err := writeJSON(s.dir, SettingsKey, state.Settings); err != nil {
			return err
		}
	}
	return nil
}

func (s *Store) UpsertCustomer(ctx context.Context, customer domain.Customer) error {
	return s.mutate(ledgerData, func() error { return s.mem.UpsertCustomer(ctx, customer) })
}

func (s *Store) GetCustomer(ctx context.Context, id string) (*domain.Customer, error) {
	return s.mem.GetCustomer(ctx, id)
}

func (s *Store) DeleteCustomer(ctx context.Context, id string) error {
	return s.mutate(ledgerData, func() error { return s.mem.DeleteCustomer(ctx, id) })
}

func (s *Store) ListCustomers(ctx context.Context) ([]domain.Customer, error) {
	return s.mem.ListCustomers(ctx)
}

func (s *Store) UpsertBinEntry(ctx context.Context, entry domain.BinEntry) error {
	return s.mutate(ledgerData, func() error { return s.mem.UpsertBinEntry(ctx, entry) })
}

func (s *Store) GetBinEntry(ctx context.Context, id string) (*domain.BinEntry, error) {
	return s.mem.GetBinEntry(ctx, id)
}

func (s *Store) DeleteBinEntry(ctx context.Context, id string) error {
	return s.mutate(ledgerData, func() error { return s.mem.DeleteBinEntry(ctx, id) })
}

func (s *Store) ListBinEntries(ctx context.Context) ([]domain.BinEntry, error) {
	return s.mem.ListBinEntries(ctx)
}

func (s *Store) MoveCustomerToBin(ctx context.Context, id string, deletedAt time.Time) (*domain.BinEntry, error) {
	var entry *domain.BinEntry
	err := s.mutate(ledgerData, func() error {
		var err error
		entry, err = s.mem.MoveCustomerToBin(ctx, id, deletedAt)
		return err
	})
	if err != nil {
		return nil, err
	}
	return entry, nil
}

func (s *Store) RestoreCustomer(ctx context.Context, binID string) (*domain.Customer, error) {
	var customer *domain.Customer
	err := s.mutate(ledgerData, func() error {
		var err error
		customer, err = s.mem.RestoreCustomer(ctx, binID)
		return err
	})
	if err != nil {
		return nil, err
	}
	return customer, nil
}

func (s *Store) MoveTransactionToBin(ctx context.Context, customer domain.Customer, entry domain.BinEntry) error {
	return s.mutate(ledgerData, func() error { return s.mem.MoveTransactionToBin(ctx, customer, entry) })
}

func (s *Store) RestoreTransaction(ctx context.Context, customer domain.Customer, binID string) error {
	return s.mutate(ledgerData, func() error { return s.mem.RestoreTransaction(ctx, customer, binID) })
}

func (s *Store) ReplaceLedger(ctx context.Context, customers []domain.Customer, bin []domain.BinEntry) error {
	return s.mutate(ledgerData, func() error { return s.mem.ReplaceLedger(ctx, customers, bin) })
}

func (s *Store) EnqueueSync(ctx context.Context, item domain.SyncItem) (*domain.SyncItem, error) {
	var queued *domain.SyncItem
	err := s.mutate(queueData, func() error {
		var err error
		queued, err = s.mem.EnqueueSync(ctx, item)
		return err
	})
	if err != nil {
		return nil, err
	}
	return queued, nil
}

func (s *Store) ListSyncItems(ctx context.Context, afterSeq int64, limit int) ([]domain.SyncItem, error) {
	return s.mem.ListSyncItems(ctx, afterSeq, limit)
}

func (s *Store) UpdateSyncItem(ctx context.Context, item domain.SyncItem) error {
	return s.mutate(queueData, func() error { return s.mem.UpdateSyncItem(ctx, item) })
}

func (s *Store) DeleteSyncItem(ctx context.Context, id string) error {
	return s.mutate(queueData, func() error { return s.mem.DeleteSyncItem(ctx, id) })
}

func (s *Store) CountSyncItems(ctx context.Context) (int, error) {
	return s.mem.CountSyncItems(ctx)
}

func (s *Store) ResetInFlightSync(ctx context.Context) (int, error) {
	var reset int
	err := s.mutate(queueData, func() error {
		var err error
		reset, err = s.mem.ResetInFlightSync(ctx)
		return err
	})
	return reset, err
}

func (s *Store) GetSettings(ctx context.Context) (domain.Settings, error) {
	return s.mem.GetSettings(ctx)
}

func (s *Store) SaveSettings(ctx context.Context, settings domain.Settings) error {
	return s.mutate(settingsData, func() error { return s.mem.SaveSettings(ctx, settings) })
}

func readJSON(path string, dest any) (bool, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return false, nil
		}
		return false, err
	}
	if len(raw) == 0 {
		return false, nil
	}
	if err := json.Unmarshal(raw, dest); err != nil {
		return false, err
	}
	return true, nil
}

// writeJSON replaces dir/key.json through a synced temp file and a rename, so
// readers see either the old or the new dataset.
func writeJSON(dir string, key string, value any) error {
	payload, err := json.MarshalIndent(value, "", "  ")
	if err != nil {
		return err
	}

	tmp, err := os.CreateTemp(dir, key+".*.tmp")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	defer func() { _ = os.Remove(tmpName) }()

	if _, err := tmp.Write(payload); err != nil {
		_ = tmp.Close()
		return err
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmpName, filepath.Join(dir, key+".json"))
}
