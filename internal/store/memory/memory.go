package memory

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"
	"time"

	"bondhon/backend/internal/domain"
	"bondhon/backend/internal/store"
)

// State is a detached copy of everything the store holds.
type State struct {
	Customers map[string]domain.Customer
	Bin       map[string]domain.BinEntry
	Queue     []domain.SyncItem
	NextSeq   int64
	Settings  domain.Settings
}

type Store struct {
	mu        sync.RWMutex
	customers map[string]domain.Customer
	bin       map[string]domain.BinEntry
	queue     []domain.SyncItem
	nextSeq   int64
	settings  domain.Settings
}

func New() *Store {
	return &Store{
		customers: make(map[string]domain.Customer),
		bin:       make(map[string]domain.BinEntry),
		queue:     make([]domain.SyncItem, 0, 64),
	}
}

// Snapshot returns a deep copy of the current state.
func (s *Store) Snapshot() State {
	s.mu.RLock()
	defer s.mu.RUnlock()

	state := State{
		Customers: make(map[string]domain.Customer, len(s.customers)),
		Bin:       make(map[string]domain.BinEntry, len(s.bin)),
		Queue:     make([]domain.SyncItem, 0, len(s.queue)),
		NextSeq:   s.nextSeq,
		Settings:  s.settings,
	}
	for id, c := range s.customers {
		state.Customers[id] = c.Clone()
	}
	for id, e := range s.bin {
		state.Bin[id] = cloneBinEntry(e)
	}
	for _, item := range s.queue {
		state.Queue = append(state.Queue, cloneSyncItem(item))
	}
	return state
}

// Restore replaces the whole state. The caller hands over ownership of state.
func (s *Store) Restore(state State) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.customers = state.Customers
	if s.customers == nil {
		s.customers = make(map[string]domain.Customer)
	}
	s.bin = state.Bin
	if s.bin == nil {
		s.bin = make(map[string]domain.BinEntry)
	}
	s.queue = state.Queue
	if s.queue == nil {
		s.queue = make([]domain.SyncItem, 0, 64)
	}
	sort.SliceStable(s.queue, func(i, j int) bool { return s.queue[i].Seq < s.queue[j].Seq })
	s.nextSeq = state.NextSeq
	for _, item := range s.queue {
		if item.Seq > s.nextSeq {
			s.nextSeq = item.Seq
		}
	}
	s.settings = state.Settings
}

func (s *Store) UpsertCustomer(_ context.Context, customer domain.Customer) error {
	if customer.ID == "" {
		return store.ErrInvalidInput
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.customers[customer.ID] = customer.Clone()
	return nil
}

func (s *Store) GetCustomer(_ context.Context, id string) (*domain.Customer, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.customers[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	out := c.Clone()
	return &out, nil
}

func (s *Store) DeleteCustomer(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.customers[id]; !ok {
		return store.ErrNotFound
	}
	delete(s.customers, id)
	return nil
}

func (s *Store) ListCustomers(_ context.Context) ([]domain.Customer, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]domain.Customer, 0, len(s.customers))
	for _, c := range s.customers {
		out = append(out, c.Clone())
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out, nil
}

func (s *Store) UpsertBinEntry(_ context.Context, entry domain.BinEntry) error {
	if entry.ID == "" || (entry.EntityType != domain.BinEntityCustomer && entry.EntityType != domain.BinEntityTransaction) {
		return store.ErrInvalidInput
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.bin[entry.ID] = cloneBinEntry(entry)
	return nil
}

func (s *Store) GetBinEntry(_ context.Context, id string) (*domain.BinEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.bin[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	out := cloneBinEntry(e)
	return &out, nil
}

func (s *Store) DeleteBinEntry(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.bin[id]; !ok {
		return store.ErrNotFound
	}
	delete(s.bin, id)
	return nil
}

func (s *Store) ListBinEntries(_ context.Context) ([]domain.BinEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]domain.BinEntry, 0, len(s.bin))
	for _, e := range s.bin {
		out = append(out, cloneBinEntry(e))
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].DeletedAt.Equal(out[j].DeletedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].DeletedAt.After(out[j].DeletedAt)
	})
	return out, nil
}

func (s *Store) MoveCustomerToBin(_ context.Context, id string, deletedAt time.Time) (*domain.BinEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	c, ok := s.customers[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	snapshot := c.Clone()
	entry := domain.BinEntry{
		ID:           c.ID,
		EntityType:   domain.BinEntityCustomer,
		CustomerID:   c.ID,
		CustomerName: c.Name,
		Customer:     &snapshot,
		DeletedAt:    deletedAt,
	}
	s.bin[entry.ID] = entry
	delete(s.customers, id)

	out := cloneBinEntry(entry)
	return &out, nil
}

func (s *Store) RestoreCustomer(_ context.Context, binID string) (*domain.Customer, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.bin[binID]
	if !ok {
		return nil, store.ErrNotFound
	}
	if e.EntityType != domain.BinEntityCustomer || e.Customer == nil {
		return nil, store.ErrInvalidInput
	}
	if _, exists := s.customers[e.Customer.ID]; exists {
		return nil, fmt.Errorf("%w: customer %s is already active", store.ErrInvalidInput, e.Customer.ID)
	}
	restored := e.Customer.Clone()
	s.customers[restored.ID] = restored
	delete(s.bin, binID)

	out := restored.Clone()
	return &out, nil
}

func (s *Store) MoveTransactionToBin(_ context.Context, customer domain.Customer, entry domain.BinEntry) error {
	if entry.ID == "" || entry.EntityType != domain.BinEntityTransaction || entry.Transaction == nil {
		return store.ErrInvalidInput
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.customers[customer.ID]; !ok {
		return store.ErrNotFound
	}
	s.customers[customer.ID] = customer.Clone()
	s.bin[entry.ID] = cloneBinEntry(entry)
	return nil
}

func (s *Store) RestoreTransaction(_ context.Context, customer domain.Customer, binID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.bin[binID]
	if !ok {
		return store.ErrNotFound
	}
	if e.EntityType != domain.BinEntityTransaction {
		return store.ErrInvalidInput
	}
	if _, ok := s.customers[customer.ID]; !ok {
		return store.ErrNotFound
	}
	s.customers[customer.ID] = customer.Clone()
	delete(s.bin, binID)
	return nil
}

func (s *Store) ReplaceLedger(_ context.Context, customers []domain.Customer, bin []domain.BinEntry) error {
	nextCustomers := make(map[string]domain.Customer, len(customers))
	for _, c := range customers {
		if c.ID == "" {
			return store.ErrInvalidInput
		}
		nextCustomers[c.ID] = c.Clone()
	}
	nextBin := make(map[string]domain.BinEntry, len(bin))
	for _, e := range bin {
		if e.ID == "" {
			return store.ErrInvalidInput
		}
		nextBin[e.ID] = cloneBinEntry(e)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.customers = nextCustomers
	s.bin = nextBin
	return nil
}

func (s *Store) EnqueueSync(_ context.Context, item domain.SyncItem) (*domain.SyncItem, error) {
	if item.ID == "" || item.Action == "" {
		return nil, store.ErrInvalidInput
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	s.nextSeq++
	item.Seq = s.nextSeq
	if item.Status == "" {
		item.Status = domain.SyncStatusPending
	}
	if item.EnqueuedAt.IsZero() {
		item.EnqueuedAt = time.Now().UTC()
	}
	s.queue = append(s.queue, cloneSyncItem(item))

	out := cloneSyncItem(item)
	return &out, nil
}

func (s *Store) ListSyncItems(_ context.Context, afterSeq int64, limit int) ([]domain.SyncItem, error) {
	if limit < 1 {
		limit = 50
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]domain.SyncItem, 0, limit)
	for _, item := range s.queue {
		if item.Seq <= afterSeq {
			continue
		}
		out = append(out, cloneSyncItem(item))
		if len(out) == limit {
			break
		}
	}
	return out, nil
}

func (s *Store) UpdateSyncItem(_ context.Context, item domain.SyncItem) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range s.queue {
		if s.queue[i].ID == item.ID {
			item.Seq = s.queue[i].Seq
			s.queue[i] = cloneSyncItem(item)
			return nil
		}
	}
	return store.ErrNotFound
}

func (s *Store) DeleteSyncItem(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range s.queue {
		if s.queue[i].ID == id {
			s.queue = append(s.queue[:i], s.queue[i+1:]...)
			return nil
		}
	}
	return store.ErrNotFound
}

func (s *Store) CountSyncItems(_ context.Context) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.queue), nil
}

func (s *Store) ResetInFlightSync(_ context.Context) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	reset := 0
	for i := range s.queue {
		if s.queue[i].Status == domain.SyncStatusInFlight {
			s.queue[i].Status = domain.SyncStatusPending
			reset++
		}
	}
	return reset, nil
}

func (s *Store) GetSettings(_ context.Context) (domain.Settings, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.settings, nil
}

func (s *Store) SaveSettings(_ context.Context, settings domain.Settings) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.settings = settings
	return nil
}

func cloneBinEntry(e domain.BinEntry) domain.BinEntry {
	out := e
	if e.Customer != nil {
		c := e.Customer.Clone()
		out.Customer = &c
	}
	if e.Transaction != nil {
		tx := *e.Transaction
		out.Transaction = &tx
	}
	return out
}

func cloneSyncItem(item domain.SyncItem) domain.SyncItem {
	out := item
	if item.Payload != nil {
		out.Payload = append(json.RawMessage(nil), item.Payload...)
	}
	if item.LastAttemptAt != nil {
		at := *item.LastAttemptAt
		out.LastAttemptAt = &at
	}
	return out
}
