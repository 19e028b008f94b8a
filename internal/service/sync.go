package service

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"bondhon/backend/internal/domain"
	"bondhon/backend/internal/legacy"
	"bondhon/backend/internal/ledger"
	"bondhon/backend/internal/store"
	"bondhon/backend/internal/xid"
)

var remoteDateLayouts = []string{time.RFC3339, "2006-01-02 15:04:05", "2006-01-02"}

// ResyncFromRemote rebuilds the active customer set from the remote dataset.
// It refuses while local changes are still queued, and an empty remote
// dataset leaves local state untouched.
func (s *Service) ResyncFromRemote(ctx context.Context) (domain.ResyncResponse, error) {
	if s.remote == nil {
		return domain.ResyncResponse{}, fmt.Errorf("%w: no remote endpoint configured", store.ErrInvalidInput)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	pending, err := s.repo.CountSyncItems(ctx)
	if err != nil {
		return domain.ResyncResponse{}, err
	}
	if pending > 0 {
		return domain.ResyncResponse{}, fmt.Errorf("%w: %d pending", ErrResyncBlocked, pending)
	}

	rows, err := s.remote.FetchRows(ctx)
	if err != nil {
		return domain.ResyncResponse{}, err
	}
	if len(rows) == 0 {
		s.logger.Info("remote dataset empty, keeping local ledger")
		return domain.ResyncResponse{}, nil
	}

	local, err := s.repo.ListCustomers(ctx)
	if err != nil {
		return domain.ResyncResponse{}, err
	}
	known := make(map[string]domain.Customer, len(local))
	for _, c := range local {
		known[c.ID] = c
	}
	bin, err := s.repo.ListBinEntries(ctx)
	if err != nil {
		return domain.ResyncResponse{}, err
	}
	binned := make(map[string]bool, len(bin))
	for _, e := range bin {
		if e.EntityType == domain.BinEntityCustomer {
			binned[e.CustomerID] = true
		}
	}

	customers := s.replayRemoteRows(rows, known, binned)
	transactions := 0
	for _, c := range customers {
		transactions += len(c.History)
	}
	if err := s.repo.ReplaceLedger(ctx, customers, bin); err != nil {
		return domain.ResyncResponse{}, err
	}
	s.invalidateSummary(ctx)
	s.logger.Info("ledger resynced from remote", "customers", len(customers), "transactions", transactions)
	return domain.ResyncResponse{Customers: len(customers), Transactions: transactions, Replaced: true}, nil
}

// remoteCustomer is a customer being rebuilt from the remote log. removed
// holds deleted transactions so a later restore record can bring them back.
type remoteCustomer struct {
	customer domain.Customer
	active   bool
	removed  map[string]domain.Transaction
}

func (rc *remoteCustomer) hasTransaction(id string) bool {
	for _, tx := range rc.customer.History {
		if tx.ID == id {
			return true
		}
	}
	return false
}

func (rc *remoteCustomer) dropTransaction(id string) {
	for i, tx := range rc.customer.History {
		if tx.ID == id {
			rc.removed[id] = tx
			rc.customer.History = append(rc.customer.History[:i:i], rc.customer.History[i+1:]...)
			return
		}
	}
}

// replayRemoteRows rebuilds customers from the remote rows in row order.
//
// Rows carrying an action are the records this service replicated and are
// replayed as a log: transactions are added, deleted and restored by
// transaction id, customer records update name and contact fields, and
// delete/purge records drop the customer. Rows without an action come from
// clients that only appended sales: the first row for an id creates the
// customer and every row with a quantity, bill or cash becomes a history entry.
func (s *Service) replayRemoteRows(rows []domain.RemoteRow, known map[string]domain.Customer, binned map[string]bool) []domain.Customer {
	now := s.now()
	order := make([]string, 0)
	byID := make(map[string]*remoteCustomer)

	lookup := func(id string, row domain.RemoteRow) *remoteCustomer {
		if rc, ok := byID[id]; ok {
			return rc
		}
		name := ledger.NormalizeName(row.Name)
		if name == "" {
			return nil
		}
		c := domain.Customer{
			ID:        id,
			Name:      name,
			Phone:     ledger.NormalizePhone(row.Phone),
			CreatedAt: parseRemoteDate(row.Date, now),
			UpdatedAt: now,
			History:   []domain.Transaction{},
		}
		if prev, found := known[id]; found {
			c.Tag = prev.Tag
			c.Notes = prev.Notes
			c.CreatedAt = prev.CreatedAt
		}
		rc := &remoteCustomer{customer: c, active: true, removed: make(map[string]domain.Transaction)}
		byID[id] = rc
		order = append(order, id)
		return rc
	}

	for _, row := range rows {
		id := strings.TrimSpace(row.ID)
		if id == "" || binned[id] {
			continue
		}

		if row.Action == domain.SyncPurgeCustomer {
			delete(byID, id)
			continue
		}

		rc := lookup(id, row)
		if rc == nil {
			continue
		}

		if row.Action == "" {
			if tx, ok := remoteTransaction(row, xid.New("txn"), rc.customer.CreatedAt); ok {
				rc.customer.History = append(rc.customer.History, tx)
			}
			continue
		}

		applyRemoteContact(&rc.customer, row)

		switch row.Action {
		case domain.SyncAddCustomer, domain.SyncRestoreCustomer:
			rc.active = true
		case domain.SyncUpdateCustomer:
		case domain.SyncDeleteCustomer:
			rc.active = false
		case domain.SyncAddTransaction:
			txID := row.TransactionID
			if txID == "" {
				txID = xid.New("txn")
			}
			if rc.hasTransaction(txID) {
				continue
			}
			if tx, ok := remoteTransaction(row, txID, rc.customer.CreatedAt); ok {
				rc.customer.History = append(rc.customer.History, tx)
			}
		case domain.SyncDeleteTransaction:
			rc.dropTransaction(row.TransactionID)
		case domain.SyncRestoreTransaction:
			if row.TransactionID == "" || rc.hasTransaction(row.TransactionID) {
				continue
			}
			tx, ok := rc.removed[row.TransactionID]
			if ok {
				delete(rc.removed, row.TransactionID)
			} else if tx, ok = remoteTransaction(row, row.TransactionID, rc.customer.CreatedAt); !ok {
				continue
			}
			rc.customer.History = insertChronological(rc.customer.History, tx)
		default:
			s.logger.Debug("unknown remote action ignored", "action", row.Action, "customer_id", id)
		}
	}

	customers := make([]domain.Customer, 0, len(order))
	emitted := make(map[string]bool, len(order))
	for _, id := range order {
		rc, ok := byID[id]
		if !ok || !rc.active || emitted[id] {
			continue
		}
		emitted[id] = true
		ledger.Refresh(&rc.customer)
		customers = append(customers, rc.customer)
	}
	return customers
}

func remoteTransaction(row domain.RemoteRow, id string, fallback time.Time) (domain.Transaction, bool) {
	if ledger.ValidateTransaction(row.Qty, row.Bill, row.Cash) != nil {
		return domain.Transaction{}, false
	}
	return domain.Transaction{
		ID:        id,
		CreatedAt: parseRemoteDate(row.Date, fallback),
		Qty:       row.Qty,
		Bill:      row.Bill,
		Cash:      row.Cash,
		Due:       row.Bill.Sub(row.Cash),
	}, true
}

// applyRemoteContact copies the customer fields a replicated record carries.
// Blank tag or notes keep the current value since older sheets drop those
// columns.
func applyRemoteContact(c *domain.Customer, row domain.RemoteRow) {
	if name := ledger.NormalizeName(row.Name); name != "" {
		c.Name = name
	}
	c.Phone = ledger.NormalizePhone(row.Phone)
	if tag, err := ledger.ParseTag(row.Tag); err == nil && tag != domain.TagNone {
		c.Tag = tag
	}
	if notes := strings.TrimSpace(row.Notes); notes != "" {
		c.Notes = notes
	}
}

func parseRemoteDate(raw string, fallback time.Time) time.Time {
	raw = strings.TrimSpace(raw)
	for _, layout := range remoteDateLayouts {
		if t, err := time.Parse(layout, raw); err == nil {
			return t.UTC()
		}
	}
	if d, err := decimal.NewFromString(raw); err == nil && d.GreaterThan(decimal.Zero) {
		return time.UnixMilli(d.IntPart()).UTC()
	}
	return fallback
}

func (s *Service) SyncStatus(ctx context.Context) (domain.SyncStatus, error) {
	if s.replicator == nil {
		pending, err := s.repo.CountSyncItems(ctx)
		if err != nil {
			return domain.SyncStatus{}, err
		}
		return domain.SyncStatus{Pending: pending}, nil
	}
	return s.replicator.Status(ctx)
}

func (s *Service) DrainNow(ctx context.Context) (domain.DrainResult, error) {
	if s.replicator == nil {
		return domain.DrainResult{Skipped: true, Reason: "replication disabled"}, nil
	}
	return s.replicator.Drain(ctx)
}

// SetConnectivity lets a client report connectivity changes it observed.
func (s *Service) SetConnectivity(ctx context.Context, online bool) (domain.SyncStatus, error) {
	if s.replicator != nil {
		s.replicator.SetOnline(online)
	}
	return s.SyncStatus(ctx)
}

// MigrateLegacy folds the browser-era datasets in dir into the store and
// deletes the files. Customers already present locally are left untouched.
func (s *Service) MigrateLegacy(ctx context.Context, dir string) (domain.ImportResponse, error) {
	ds, err := legacy.Load(dir, s.now())
	if err != nil {
		return domain.ImportResponse{}, err
	}
	if ds == nil {
		return domain.ImportResponse{}, nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	var resp domain.ImportResponse
	for _, c := range ds.Customers {
		if _, err := s.repo.GetCustomer(ctx, c.ID); err == nil {
			continue
		}
		if err := s.repo.UpsertCustomer(ctx, c); err != nil {
			return resp, err
		}
		resp.Customers++
	}
	for _, e := range ds.Bin {
		if _, err := s.repo.GetBinEntry(ctx, e.ID); err == nil {
			continue
		}
		if _, err := s.repo.GetCustomer(ctx, e.CustomerID); err == nil {
			continue
		}
		if err := s.repo.UpsertBinEntry(ctx, e); err != nil {
			return resp, err
		}
		resp.Bin++
	}
	s.invalidateSummary(ctx)

	if err := legacy.Remove(ds); err != nil {
		s.logger.Warn("remove legacy files", "error", err)
	}
	s.logger.Info("legacy data migrated",
		"customers", resp.Customers,
		"bin", resp.Bin,
		"skipped_entries", ds.Skipped,
	)
	return resp, nil
}
