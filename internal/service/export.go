package service

import (
	"context"
	"encoding/csv"
	"fmt"
	"html/template"
	"io"
	"strconv"
	"time"

	"github.com/shopspring/decimal"

	"bondhon/backend/internal/cache"
	"bondhon/backend/internal/domain"
	"bondhon/backend/internal/ledger"
	"bondhon/backend/internal/store"
	"bondhon/backend/internal/xid"
)

// Summary returns the ledger-wide totals over active customers. The totals
// are cached; pending sync count and connectivity are always live.
func (s *Service) Summary(ctx context.Context) (domain.Summary, error) {
	summary, hit, err := s.cache.Get(ctx, cache.SummaryKey)
	if err != nil {
		s.logger.Warn("read summary cache", "error", err)
		hit = false
	}

	if !hit {
		customers, err := s.repo.ListCustomers(ctx)
		if err != nil {
			return domain.Summary{}, err
		}
		summary = &domain.Summary{
			Customers:  len(customers),
			Totals:     ledger.Global(customers),
			ComputedAt: s.now(),
		}
		if err := s.cache.Set(ctx, cache.SummaryKey, summary, s.cacheTTL); err != nil {
			s.logger.Warn("write summary cache", "error", err)
		}
	}

	out := *summary
	pending, err := s.repo.CountSyncItems(ctx)
	if err != nil {
		return domain.Summary{}, err
	}
	out.PendingSync = pending
	if s.replicator != nil {
		out.Online = s.replicator.Online()
	}
	return out, nil
}

func (s *Service) ExportSnapshot(ctx context.Context) (domain.Snapshot, error) {
	customers, err := s.repo.ListCustomers(ctx)
	if err != nil {
		return domain.Snapshot{}, err
	}
	for i := range customers {
		ledger.Refresh(&customers[i])
	}
	bin, err := s.repo.ListBinEntries(ctx)
	if err != nil {
		return domain.Snapshot{}, err
	}

	return domain.Snapshot{
		Version:    domain.SnapshotVersion,
		ExportedAt: s.now(),
		Customers:  customers,
		Bin:        bin,
	}, nil
}

var csvHeader = []string{"name", "phone", "quantity", "bill", "cash", "due", "tag", "notes"}

// ExportCSV writes one row per active customer, ordered by name.
func (s *Service) ExportCSV(ctx context.Context, w io.Writer) error {
	customers, err := s.ListCustomers(ctx, "")
	if err != nil {
		return err
	}

	writer := csv.NewWriter(w)
	if err := writer.Write(csvHeader); err != nil {
		return err
	}
	for _, c := range customers {
		record := []string{
			c.Name,
			c.Phone,
			strconv.FormatInt(c.Totals.Qty, 10),
			c.Totals.Bill.String(),
			c.Totals.Cash.String(),
			c.Totals.Due.String(),
			string(c.Tag),
			c.Notes,
		}
		if err := writer.Write(record); err != nil {
			return err
		}
	}
	writer.Flush()
	return writer.Error()
}

var printableTmpl = template.Must(template.New("ledger-report").Parse(`<!doctype html>
<html lang="{{.Language}}">
<head>
  <meta charset="utf-8" />
  <title>{{.ShopName}}</title>
  <style>
    body { font-family: sans-serif; margin: 24px; }
    table { width: 100%; border-collapse: collapse; margin-top: 8px; }
    th, td { border: 1px solid #ddd; padding: 6px; font-size: 13px; }
    td.num { text-align: right; }
    tfoot td { font-weight: bold; }
  </style>
</head>
<body>
  <h2>{{.ShopName}}</h2>
  <p>{{.GeneratedAt}}</p>
  <table>
    <thead><tr><th>Name</th><th>Phone</th><th>Quantity</th><th>Bill</th><th>Cash</th><th>Due</th></tr></thead>
    <tbody>{{range .Customers}}<tr><td>{{.Name}}</td><td>{{.Phone}}</td><td class="num">{{.Totals.Qty}}</td><td class="num">{{.Totals.Bill.StringFixed 2}}</td><td class="num">{{.Totals.Cash.StringFixed 2}}</td><td class="num">{{.Totals.Due.StringFixed 2}}</td></tr>{{end}}</tbody>
    <tfoot><tr><td colspan="2">{{len .Customers}}</td><td class="num">{{.Totals.Qty}}</td><td class="num">{{.Totals.Bill.StringFixed 2}}</td><td class="num">{{.Totals.Cash.StringFixed 2}}</td><td class="num">{{.Totals.Due.StringFixed 2}}</td></tr></tfoot>
  </table>
</body>
</html>
`))

type printableReport struct {
	ShopName    string
	Language    string
	GeneratedAt string
	Customers   []domain.Customer
	Totals      domain.Totals
}

// ExportPrintable renders the customer list as a printable HTML page.
func (s *Service) ExportPrintable(ctx context.Context, w io.Writer) error {
	customers, err := s.ListCustomers(ctx, "")
	if err != nil {
		return err
	}
	settings, err := s.Settings(ctx)
	if err != nil {
		return err
	}

	return printableTmpl.Execute(w, printableReport{
		ShopName:    settings.ShopName,
		Language:    settings.Language,
		GeneratedAt: s.now().Format(time.RFC1123),
		Customers:   customers,
		Totals:      ledger.Global(customers),
	})
}

// ImportSnapshot replaces the active set and the bin with the snapshot's
// contents. It is a local restore and is not replicated.
func (s *Service) ImportSnapshot(ctx context.Context, snapshot domain.Snapshot) (domain.ImportResponse, error) {
	if snapshot.Version < 0 || snapshot.Version > domain.SnapshotVersion {
		return domain.ImportResponse{}, fmt.Errorf("%w: unsupported snapshot version %d", store.ErrInvalidInput, snapshot.Version)
	}

	customers, err := s.prepareImport(snapshot.Customers)
	if err != nil {
		return domain.ImportResponse{}, err
	}
	bin := make([]domain.BinEntry, 0, len(snapshot.Bin))
	seenBin := make(map[string]bool, len(snapshot.Bin))
	for _, e := range snapshot.Bin {
		if e.ID == "" || seenBin[e.ID] {
			return domain.ImportResponse{}, fmt.Errorf("%w: bin entry id missing or duplicated", store.ErrInvalidInput)
		}
		switch {
		case e.EntityType == domain.BinEntityCustomer && e.Customer != nil:
			ledger.Refresh(e.Customer)
		case e.EntityType == domain.BinEntityTransaction && e.Transaction != nil:
		default:
			return domain.ImportResponse{}, fmt.Errorf("%w: malformed bin entry %s", store.ErrInvalidInput, e.ID)
		}
		seenBin[e.ID] = true
		bin = append(bin, e)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.repo.ReplaceLedger(ctx, customers, bin); err != nil {
		return domain.ImportResponse{}, err
	}
	s.invalidateSummary(ctx)
	s.logger.Info("snapshot imported", "customers", len(customers), "bin", len(bin))
	return domain.ImportResponse{Customers: len(customers), Bin: len(bin)}, nil
}

func (s *Service) prepareImport(in []domain.Customer) ([]domain.Customer, error) {
	now := s.now()
	out := make([]domain.Customer, 0, len(in))
	seen := make(map[string]bool, len(in))
	for _, src := range in {
		c := src.Clone()
		c.Name = ledger.NormalizeName(c.Name)
		if c.ID == "" || c.Name == "" || seen[c.ID] {
			return nil, fmt.Errorf("%w: customer id or name missing or duplicated", store.ErrInvalidInput)
		}
		seen[c.ID] = true
		if c.CreatedAt.IsZero() {
			c.CreatedAt = now
		}
		if c.UpdatedAt.IsZero() {
			c.UpdatedAt = c.CreatedAt
		}

		txIDs := make(map[string]bool, len(c.History))
		for i := range c.History {
			tx := &c.History[i]
			if tx.ID == "" || txIDs[tx.ID] {
				tx.ID = xid.New("txn")
			}
			txIDs[tx.ID] = true
			if tx.Qty < 0 || tx.Bill.LessThan(decimal.Zero) || tx.Cash.LessThan(decimal.Zero) {
				return nil, fmt.Errorf("%w: negative amounts for customer %s", store.ErrInvalidInput, c.ID)
			}
			if tx.CreatedAt.IsZero() {
				tx.CreatedAt = c.CreatedAt
			}
		}
		ledger.Refresh(&c)
		out = append(out, c)
	}
	return out, nil
}
