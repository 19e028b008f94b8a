package legacy

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/shopspring/decimal"
)

func writeFile(t *testing.T, dir, name, body string) {
	t.Helper()
	if err := os.WriteFile(filepath.Join(dir, name), []byte(body), 0o600); err != nil {
		t.Fatalf("write %s: %v", name, err)
	}
}

func TestLoadReturnsNilWithoutFiles(t *testing.T) {
	ds, err := Load(t.TempDir(), time.Now())
	if err != nil || ds != nil {
		t.Fatalf("expected nil dataset, got %+v %v", ds, err)
	}
}

func TestLoadConvertsBrowserData(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, DataFile, `[
		{"id": 1712000000000, "name": "  Karim  Uddin ", "phone": "N/A", "history": [
			{"id": 1712000300000, "date": "৩/৪/২০২৪", "qty": 50, "bill": 2500, "cash": "2500", "due": 0},
			{"id": 1712000200000, "date": "২/৪/২০২৪", "qty": "100", "bill": 5000, "cash": 3000, "due": 2000},
			{"id": 1712000400000, "qty": 0, "bill": 0, "cash": 0}
		]}
	]`)
	writeFile(t, dir, BinFile, `[{"id": 1712000500000, "name": "Rahim", "phone": "01711-000000", "history": []}]`)

	now := time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC)
	ds, err := Load(dir, now)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if len(ds.Customers) != 1 || len(ds.Bin) != 1 || len(ds.Files) != 2 {
		t.Fatalf("unexpected dataset: %+v", ds)
	}
	if ds.Skipped != 1 {
		t.Fatalf("expected empty entry skipped, got %d", ds.Skipped)
	}

	karim := ds.Customers[0]
	if karim.ID != "1712000000000" || karim.Name != "Karim Uddin" || karim.Phone != "" {
		t.Fatalf("unexpected customer: %+v", karim)
	}
	if !karim.CreatedAt.Equal(time.UnixMilli(1712000000000)) {
		t.Fatalf("unexpected created_at %s", karim.CreatedAt)
	}
	if len(karim.History) != 2 || karim.History[0].ID != "1712000200000" {
		t.Fatalf("expected history oldest first, got %+v", karim.History)
	}
	if karim.Totals.Qty != 150 || !karim.Totals.Due.Equal(decimal.NewFromInt(2000)) {
		t.Fatalf("unexpected totals: %+v", karim.Totals)
	}

	rahim := ds.Bin[0]
	if rahim.Customer == nil || rahim.Customer.Phone != "01711000000" || !rahim.DeletedAt.Equal(now) {
		t.Fatalf("unexpected bin entry: %+v", rahim)
	}

	if err := Remove(ds); err != nil {
		t.Fatalf("remove: %v", err)
	}
	if _, err := os.Stat(filepath.Join(dir, DataFile)); !errors.Is(err, os.ErrNotExist) {
		t.Fatalf("expected data file removed, got %v", err)
	}
}

func TestLoadRejectsCorruptFile(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, DataFile, `{not json`)

	if _, err := Load(dir, time.Now()); err == nil {
		t.Fatalf("expected decode error")
	}
}
