package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"bondhon/backend/internal/cache"
	"bondhon/backend/internal/domain"
	"bondhon/backend/internal/ledger"
	"bondhon/backend/internal/store"
	"bondhon/backend/internal/xid"
)

var (
	ErrConfirmationRequired = errors.New("confirmation phrase does not match")
	ErrResyncBlocked        = errors.New("sync queue still holds undelivered changes")
)

const DefaultConfirmPhrase = "DELETE"

// Replicator queues committed mutations for the remote ledger.
type Replicator interface {
	Enqueue(ctx context.Context, action domain.SyncAction, entityID string, payload any) (*domain.SyncItem, error)
	Drain(ctx context.Context) (domain.DrainResult, error)
	SetOnline(online bool)
	Online() bool
	Status(ctx context.Context) (domain.SyncStatus, error)
}

// RemoteSource pulls the full remote dataset.
type RemoteSource interface {
	FetchRows(ctx context.Context) ([]domain.RemoteRow, error)
}

type Options struct {
	Logger        *slog.Logger
	Cache         cache.SummaryCache
	CacheTTL      time.Duration
	ConfirmPhrase string
	Remote        RemoteSource
}

type Service struct {
	repo          store.Repository
	replicator    Replicator
	remote        RemoteSource
	cache         cache.SummaryCache
	cacheTTL      time.Duration
	confirmPhrase string
	logger        *slog.Logger
	now           func() time.Time

	// mu serialises every mutation.
	mu sync.Mutex
}

func New(repo store.Repository, replicator Replicator, opts Options) *Service {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Cache == nil {
		opts.Cache = cache.NoopSummaryCache{}
	}
	if opts.CacheTTL <= 0 {
		opts.CacheTTL = 5 * time.Minute
	}
	if opts.ConfirmPhrase == "" {
		opts.ConfirmPhrase = DefaultConfirmPhrase
	}

	return &Service{
		repo:          repo,
		replicator:    replicator,
		remote:        opts.Remote,
		cache:         opts.Cache,
		cacheTTL:      opts.CacheTTL,
		confirmPhrase: opts.ConfirmPhrase,
		logger:        opts.Logger.With("component", "service"),
		now:           func() time.Time { return time.Now().UTC() },
	}
}

func (s *Service) CreateCustomer(ctx context.Context, req domain.CustomerCreateRequest) (domain.Customer, error) {
	name := ledger.NormalizeName(req.Name)
	if name == "" {
		return domain.Customer{}, fmt.Errorf("%w: name is required", store.ErrInvalidInput)
	}
	tag, err := ledger.ParseTag(req.Tag)
	if err != nil {
		return domain.Customer{}, fmt.Errorf("%w: %w", store.ErrInvalidInput, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	customer := domain.Customer{
		ID:        xid.New("cus"),
		Name:      name,
		Phone:     ledger.NormalizePhone(req.Phone),
		Tag:       tag,
		Notes:     strings.TrimSpace(req.Notes),
		CreatedAt: now,
		UpdatedAt: now,
		History:   []domain.Transaction{},
	}
	ledger.Refresh(&customer)

	if err := s.repo.UpsertCustomer(ctx, customer); err != nil {
		return domain.Customer{}, err
	}
	s.committed(ctx, domain.SyncAddCustomer, customer.ID, customerRecord(domain.SyncAddCustomer, customer, now))
	return customer, nil
}

func (s *Service) UpdateCustomer(ctx context.Context, id string, req domain.CustomerUpdateRequest) (domain.Customer, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	customer, err := s.repo.GetCustomer(ctx, id)
	if err != nil {
		return domain.Customer{}, err
	}

	if req.Name != nil {
		name := ledger.NormalizeName(*req.Name)
		if name == "" {
			return domain.Customer{}, fmt.Errorf("%w: name is required", store.ErrInvalidInput)
		}
		customer.Name = name
	}
	if req.Phone != nil {
		customer.Phone = ledger.NormalizePhone(*req.Phone)
	}
	if req.Tag != nil {
		tag, err := ledger.ParseTag(*req.Tag)
		if err != nil {
			return domain.Customer{}, fmt.Errorf("%w: %w", store.ErrInvalidInput, err)
		}
		customer.Tag = tag
	}
	if req.Notes != nil {
		customer.Notes = strings.TrimSpace(*req.Notes)
	}

	now := s.now()
	customer.UpdatedAt = now
	ledger.Refresh(customer)

	if err := s.repo.UpsertCustomer(ctx, *customer); err != nil {
		return domain.Customer{}, err
	}
	s.committed(ctx, domain.SyncUpdateCustomer, customer.ID, customerRecord(domain.SyncUpdateCustomer, *customer, now))
	return *customer, nil
}

func (s *Service) GetCustomer(ctx context.Context, id string) (domain.Customer, error) {
	customer, err := s.repo.GetCustomer(ctx, id)
	if err != nil {
		return domain.Customer{}, err
	}
	ledger.Refresh(customer)
	return *customer, nil
}

// ListCustomers returns the active customers matching query, ordered by name.
func (s *Service) ListCustomers(ctx context.Context, query string) ([]domain.Customer, error) {
	customers, err := s.repo.ListCustomers(ctx)
	if err != nil {
		return nil, err
	}

	out := make([]domain.Customer, 0, len(customers))
	for _, c := range customers {
		if !ledger.Matches(c, query) {
			continue
		}
		ledger.Refresh(&c)
		out = append(out, c)
	}
	sortByName(out)
	return out, nil
}

func (s *Service) AddTransaction(ctx context.Context, customerID string, req domain.TransactionCreateRequest) (domain.Customer, error) {
	if err := ledger.ValidateTransaction(req.Qty, req.Bill, req.Cash); err != nil {
		if errors.Is(err, ledger.ErrEmptyTransaction) {
			return domain.Customer{}, err
		}
		return domain.Customer{}, fmt.Errorf("%w: %w", store.ErrInvalidInput, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	customer, err := s.repo.GetCustomer(ctx, customerID)
	if err != nil {
		return domain.Customer{}, err
	}

	now := s.now()
	tx := domain.Transaction{
		ID:        xid.New("txn"),
		CreatedAt: now,
		Qty:       req.Qty,
		Bill:      req.Bill,
		Cash:      req.Cash,
		Detail:    strings.TrimSpace(req.Detail),
	}
	customer.History = append(customer.History, tx)
	customer.UpdatedAt = now
	ledger.Refresh(customer)

	if err := s.repo.UpsertCustomer(ctx, *customer); err != nil {
		return domain.Customer{}, err
	}
	s.committed(ctx, domain.SyncAddTransaction, customer.ID, transactionRecord(domain.SyncAddTransaction, *customer, tx, now))
	return *customer, nil
}

// ListTransactions returns the customer's history newest first.
func (s *Service) ListTransactions(ctx context.Context, customerID string) ([]domain.Transaction, error) {
	customer, err := s.repo.GetCustomer(ctx, customerID)
	if err != nil {
		return nil, err
	}
	ledger.Refresh(customer)

	out := make([]domain.Transaction, 0, len(customer.History))
	for i := len(customer.History) - 1; i >= 0; i-- {
		out = append(out, customer.History[i])
	}
	return out, nil
}

// DeleteTransaction moves a transaction into the recycle bin.
func (s *Service) DeleteTransaction(ctx context.Context, customerID string, txID string) (domain.BinEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	customer, err := s.repo.GetCustomer(ctx, customerID)
	if err != nil {
		return domain.BinEntry{}, err
	}

	index := -1
	for i, tx := range customer.History {
		if tx.ID == txID {
			index = i
			break
		}
	}
	if index < 0 {
		return domain.BinEntry{}, store.ErrNotFound
	}

	removed := customer.History[index]
	removed.Due = removed.Bill.Sub(removed.Cash)
	customer.History = append(customer.History[:index], customer.History[index+1:]...)
	now := s.now()
	customer.UpdatedAt = now
	ledger.Refresh(customer)

	binID := removed.ID
	if _, err := s.repo.GetBinEntry(ctx, binID); err == nil {
		binID = xid.New("bin")
	}
	entry := domain.BinEntry{
		ID:           binID,
		EntityType:   domain.BinEntityTransaction,
		CustomerID:   customer.ID,
		CustomerName: customer.Name,
		Transaction:  &removed,
		DeletedAt:    now,
	}
	if err := s.repo.MoveTransactionToBin(ctx, *customer, entry); err != nil {
		return domain.BinEntry{}, err
	}
	s.committed(ctx, domain.SyncDeleteTransaction, customer.ID, transactionRecord(domain.SyncDeleteTransaction, *customer, removed, now))
	return entry, nil
}

// committed runs after a mutation is durable locally. Failing to queue it for
// replication or to drop the cached summary is logged and never undoes it.
func (s *Service) committed(ctx context.Context, action domain.SyncAction, entityID string, record domain.SyncRecord) {
	s.invalidateSummary(ctx)
	if s.replicator == nil {
		return
	}
	if _, err := s.replicator.Enqueue(ctx, action, entityID, record); err != nil {
		s.logger.Error("queue sync item", "action", action, "entity_id", entityID, "error", err)
	}
}

func (s *Service) invalidateSummary(ctx context.Context) {
	if err := s.cache.Invalidate(ctx, cache.SummaryKey); err != nil {
		s.logger.Warn("invalidate summary cache", "error", err)
	}
}

func customerRecord(action domain.SyncAction, c domain.Customer, at time.Time) domain.SyncRecord {
	stamp := at.UTC().Format(time.RFC3339)
	phone := c.Phone
	if phone == "" {
		phone = "N/A"
	}
	return domain.SyncRecord{
		Action:   action,
		ID:       c.ID,
		Name:     c.Name,
		Phone:    phone,
		Tag:      string(c.Tag),
		Notes:    c.Notes,
		Date:     stamp,
		QueuedAt: stamp,
	}
}

func transactionRecord(action domain.SyncAction, c domain.Customer, tx domain.Transaction, at time.Time) domain.SyncRecord {
	record := customerRecord(action, c, at)
	record.TransactionID = tx.ID
	record.Date = tx.CreatedAt.UTC().Format(time.RFC3339)
	record.Qty = tx.Qty
	record.Bill = tx.Bill.InexactFloat64()
	record.Cash = tx.Cash.InexactFloat64()
	record.Due = tx.Bill.Sub(tx.Cash).InexactFloat64()
	return record
}

func sortByName(customers []domain.Customer) {
	sort.SliceStable(customers, func(i, j int) bool {
		left := strings.ToLower(customers[i].Name)
		right := strings.ToLower(customers[j].Name)
		if left != right {
			return left < right
		}
		return customers[i].ID < customers[j].ID
	})
}
