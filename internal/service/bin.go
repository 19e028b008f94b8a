package service

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"bondhon/backend/internal/domain"
	"bondhon/backend/internal/ledger"
	"bondhon/backend/internal/store"
)

func (s *Service) confirmed(confirmation string) bool {
	return confirmation == s.confirmPhrase
}

// SoftDeleteCustomer moves an active customer into the recycle bin. The
// confirmation must equal the configured phrase exactly.
func (s *Service) SoftDeleteCustomer(ctx context.Context, id string, confirmation string) (domain.BinEntry, error) {
	if !s.confirmed(confirmation) {
		return domain.BinEntry{}, ErrConfirmationRequired
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	entry, err := s.repo.MoveCustomerToBin(ctx, id, s.now())
	if err != nil {
		return domain.BinEntry{}, err
	}
	s.committed(ctx, domain.SyncDeleteCustomer, id, customerRecord(domain.SyncDeleteCustomer, *entry.Customer, entry.DeletedAt))
	s.logger.Info("customer moved to bin", "customer_id", id)
	return *entry, nil
}

func (s *Service) ListBin(ctx context.Context) ([]domain.BinEntry, error) {
	return s.repo.ListBinEntries(ctx)
}

// RestoreBinEntry brings a bin entry back. Customers rejoin the active set;
// transactions return to their parent's history in chronological position.
func (s *Service) RestoreBinEntry(ctx context.Context, binID string) (domain.Customer, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	entry, err := s.repo.GetBinEntry(ctx, binID)
	if err != nil {
		return domain.Customer{}, err
	}

	switch entry.EntityType {
	case domain.BinEntityCustomer:
		customer, err := s.repo.RestoreCustomer(ctx, binID)
		if err != nil {
			return domain.Customer{}, err
		}
		ledger.Refresh(customer)
		s.committed(ctx, domain.SyncRestoreCustomer, customer.ID, customerRecord(domain.SyncRestoreCustomer, *customer, s.now()))
		return *customer, nil

	case domain.BinEntityTransaction:
		if entry.Transaction == nil {
			return domain.Customer{}, fmt.Errorf("%w: bin entry has no transaction", store.ErrInvalidInput)
		}
		parent, err := s.repo.GetCustomer(ctx, entry.CustomerID)
		if errors.Is(err, store.ErrNotFound) {
			return domain.Customer{}, fmt.Errorf("%w: customer %s is not active", store.ErrInvalidInput, entry.CustomerID)
		}
		if err != nil {
			return domain.Customer{}, err
		}

		tx := *entry.Transaction
		for _, existing := range parent.History {
			if existing.ID == tx.ID {
				return domain.Customer{}, fmt.Errorf("%w: transaction %s already present", store.ErrInvalidInput, tx.ID)
			}
		}
		parent.History = insertChronological(parent.History, tx)
		parent.UpdatedAt = s.now()
		ledger.Refresh(parent)

		if err := s.repo.RestoreTransaction(ctx, *parent, binID); err != nil {
			return domain.Customer{}, err
		}
		s.committed(ctx, domain.SyncRestoreTransaction, parent.ID, transactionRecord(domain.SyncRestoreTransaction, *parent, tx, parent.UpdatedAt))
		return *parent, nil
	}

	return domain.Customer{}, fmt.Errorf("%w: unknown bin entry type %q", store.ErrInvalidInput, entry.EntityType)
}

// PurgeBinEntry deletes a bin entry for good.
func (s *Service) PurgeBinEntry(ctx context.Context, binID string, confirmation string) error {
	if !s.confirmed(confirmation) {
		return ErrConfirmationRequired
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	entry, err := s.repo.GetBinEntry(ctx, binID)
	if err != nil {
		return err
	}
	if err := s.repo.DeleteBinEntry(ctx, binID); err != nil {
		return err
	}

	if entry.EntityType == domain.BinEntityCustomer && entry.Customer != nil {
		s.committed(ctx, domain.SyncPurgeCustomer, entry.CustomerID, customerRecord(domain.SyncPurgeCustomer, *entry.Customer, s.now()))
	}
	s.logger.Info("bin entry purged", "bin_id", binID, "entity_type", entry.EntityType)
	return nil
}

func insertChronological(history []domain.Transaction, tx domain.Transaction) []domain.Transaction {
	i := sort.Search(len(history), func(i int) bool {
		return history[i].CreatedAt.After(tx.CreatedAt)
	})
	out := make([]domain.Transaction, 0, len(history)+1)
	out = append(out, history[:i]...)
	out = append(out, tx)
	return append(out, history[i:]...)
}
