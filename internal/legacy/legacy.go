// Package legacy reads the datasets written by the browser-only version of the
// ledger so they can be folded into the store on first start.
package legacy

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/shopspring/decimal"

	"bondhon/backend/internal/domain"
	"bondhon/backend/internal/ledger"
	"bondhon/backend/internal/xid"
)

const (
	DataFile = "supari_v4_data.json"
	BinFile  = "supari_v4_bin.json"
)

// Ids written by the browser client are Date.now() values; anything below this
// is not a plausible millisecond timestamp.
var minMillis = decimal.NewFromInt(946684800000)

type wireEntry struct {
	ID   ledger.Text   `json:"id"`
	Qty  ledger.Int    `json:"qty"`
	Bill ledger.Number `json:"bill"`
	Cash ledger.Number `json:"cash"`
}

type wireCustomer struct {
	ID      ledger.Text `json:"id"`
	Name    ledger.Text `json:"name"`
	Phone   ledger.Text `json:"phone"`
	History []wireEntry `json:"history"`
}

type Dataset struct {
	Customers []domain.Customer
	Bin       []domain.BinEntry
	// Skipped counts history entries dropped because they carried no amounts.
	Skipped int
	Files   []string
}

// Load reads the legacy files found in dir. It returns nil when neither file
// exists.
func Load(dir string, now time.Time) (*Dataset, error) {
	ds := &Dataset{}

	active, found, err := readCustomers(filepath.Join(dir, DataFile))
	if err != nil {
		return nil, err
	}
	if found {
		ds.Files = append(ds.Files, filepath.Join(dir, DataFile))
	}
	binned, binFound, err := readCustomers(filepath.Join(dir, BinFile))
	if err != nil {
		return nil, err
	}
	if binFound {
		ds.Files = append(ds.Files, filepath.Join(dir, BinFile))
	}
	if !found && !binFound {
		return nil, nil
	}

	seen := make(map[string]bool)
	for _, w := range active {
		c, skipped := convert(w, now)
		ds.Skipped += skipped
		if c.Name == "" || seen[c.ID] {
			continue
		}
		seen[c.ID] = true
		ds.Customers = append(ds.Customers, c)
	}
	for _, w := range binned {
		c, skipped := convert(w, now)
		ds.Skipped += skipped
		if c.Name == "" || seen[c.ID] {
			continue
		}
		seen[c.ID] = true
		customer := c
		ds.Bin = append(ds.Bin, domain.BinEntry{
			ID:           c.ID,
			EntityType:   domain.BinEntityCustomer,
			CustomerID:   c.ID,
			CustomerName: c.Name,
			Customer:     &customer,
			DeletedAt:    now,
		})
	}
	return ds, nil
}

// Remove deletes the files the dataset was read from.
func Remove(ds *Dataset) error {
	if ds == nil {
		return nil
	}
	var errs []error
	for _, path := range ds.Files {
		if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func readCustomers(path string) ([]wireCustomer, bool, error) {
	raw, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("read legacy file %s: %w", filepath.Base(path), err)
	}
	var customers []wireCustomer
	if err := json.Unmarshal(raw, &customers); err != nil {
		return nil, true, fmt.Errorf("decode legacy file %s: %w", filepath.Base(path), err)
	}
	return customers, true, nil
}

func convert(w wireCustomer, now time.Time) (domain.Customer, int) {
	id := string(w.ID)
	if id == "" {
		id = xid.New("cus")
	}
	createdAt, ok := millisTime(id)
	if !ok {
		createdAt = now
	}

	c := domain.Customer{
		ID:        id,
		Name:      ledger.NormalizeName(string(w.Name)),
		Phone:     ledger.NormalizePhone(string(w.Phone)),
		CreatedAt: createdAt,
		UpdatedAt: now,
		History:   make([]domain.Transaction, 0, len(w.History)),
	}

	skipped := 0
	txIDs := make(map[string]bool)
	for _, h := range w.History {
		qty := int64(h.Qty)
		if err := ledger.ValidateTransaction(qty, h.Bill.Decimal, h.Cash.Decimal); err != nil {
			skipped++
			continue
		}
		txID := string(h.ID)
		if txID == "" || txIDs[txID] {
			txID = xid.New("txn")
		}
		txIDs[txID] = true
		at, ok := millisTime(string(h.ID))
		if !ok {
			at = createdAt
		}
		c.History = append(c.History, domain.Transaction{
			ID:        txID,
			CreatedAt: at,
			Qty:       qty,
			Bill:      h.Bill.Decimal,
			Cash:      h.Cash.Decimal,
		})
	}

	// The browser client kept history newest first.
	sort.SliceStable(c.History, func(i, j int) bool {
		return c.History[i].CreatedAt.Before(c.History[j].CreatedAt)
	})
	ledger.Refresh(&c)
	return c, skipped
}

func millisTime(id string) (time.Time, bool) {
	d, err := decimal.NewFromString(id)
	if err != nil || d.LessThan(minMillis) {
		return time.Time{}, false
	}
	return time.UnixMilli(d.IntPart()).UTC(), true
}
