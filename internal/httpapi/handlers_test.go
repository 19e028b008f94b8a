package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"bondhon/backend/internal/domain"
	"bondhon/backend/internal/service"
	"bondhon/backend/internal/store/memory"
	"bondhon/backend/internal/syncq"
)

// newTestAPI wires the real service, queue and in-memory store so handler
// tests exercise the complete request path.
func newTestAPI(t *testing.T) http.Handler {
	t.Helper()

	repo := memory.New()
	queue := syncq.New(repo, nil, syncq.Options{})
	svc := service.New(repo, queue, service.Options{})
	return New(svc, "*", nil).Handler()
}

func do(t *testing.T, handler http.Handler, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()

	var reader *bytes.Reader
	switch v := body.(type) {
	case nil:
		reader = bytes.NewReader(nil)
	case string:
		reader = bytes.NewReader([]byte(v))
	default:
		payload, err := json.Marshal(v)
		if err != nil {
			t.Fatalf("marshal: %v", err)
		}
		reader = bytes.NewReader(payload)
	}

	req := httptest.NewRequest(method, path, reader)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var out T
	if err := json.NewDecoder(rec.Body).Decode(&out); err != nil {
		t.Fatalf("decode body: %v (body: %s)", err, rec.Body.String())
	}
	return out
}

func createCustomer(t *testing.T, handler http.Handler, name string) domain.Customer {
	t.Helper()
	rec := do(t, handler, http.MethodPost, "/api/v1/customers", map[string]string{"name": name, "phone": "01711000000"})
	if rec.Code != http.StatusCreated {
		t.Fatalf("create customer: expected 201, got %d (body: %s)", rec.Code, rec.Body.String())
	}
	return decode[struct {
		Customer domain.Customer `json:"customer"`
	}](t, rec).Customer
}

func TestHandleHealth(t *testing.T) {
	handler := newTestAPI(t)

	rec := do(t, handler, http.MethodGet, "/healthz", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	body := decode[map[string]any](t, rec)
	if body["ok"] != true {
		t.Fatalf("expected ok:true, got %v", body["ok"])
	}
}

func TestCustomerLifecycle(t *testing.T) {
	handler := newTestAPI(t)
	karim := createCustomer(t, handler, "Karim")

	rec := do(t, handler, http.MethodPost, "/api/v1/customers/"+karim.ID+"/transactions", map[string]any{"qty": 100, "bill": 5000, "cash": "3000"})
	if rec.Code != http.StatusCreated {
		t.Fatalf("add transaction: expected 201, got %d (body: %s)", rec.Code, rec.Body.String())
	}
	updated := decode[struct {
		Customer domain.Customer `json:"customer"`
	}](t, rec).Customer
	if updated.Totals.Qty != 100 || updated.Totals.Due.String() != "2000" {
		t.Fatalf("unexpected totals: %+v", updated.Totals)
	}

	rec = do(t, handler, http.MethodGet, "/api/v1/summary", nil)
	summary := decode[domain.Summary](t, rec)
	if summary.Customers != 1 || summary.Totals.Due.String() != "2000" || summary.PendingSync != 2 {
		t.Fatalf("unexpected summary: %+v", summary)
	}

	rec = do(t, handler, http.MethodGet, "/api/v1/customers?q=kar", nil)
	list := decode[struct {
		Customers []domain.Customer `json:"customers"`
	}](t, rec).Customers
	if len(list) != 1 {
		t.Fatalf("expected search hit, got %d", len(list))
	}

	rec = do(t, handler, http.MethodPatch, "/api/v1/customers/"+karim.ID, map[string]string{"tag": "VIP"})
	if rec.Code != http.StatusOK {
		t.Fatalf("update: expected 200, got %d (body: %s)", rec.Code, rec.Body.String())
	}
}

func TestTransactionValidationErrors(t *testing.T) {
	handler := newTestAPI(t)
	karim := createCustomer(t, handler, "Karim")
	path := "/api/v1/customers/" + karim.ID + "/transactions"

	if rec := do(t, handler, http.MethodPost, path, map[string]any{"qty": 0, "bill": 0, "cash": 0}); rec.Code != http.StatusBadRequest {
		t.Fatalf("empty transaction: expected 400, got %d", rec.Code)
	}
	if rec := do(t, handler, http.MethodPost, path, map[string]any{"qty": 1, "unknown": true}); rec.Code != http.StatusBadRequest {
		t.Fatalf("unknown field: expected 400, got %d", rec.Code)
	}
	if rec := do(t, handler, http.MethodPost, "/api/v1/customers/missing/transactions", map[string]any{"qty": 1}); rec.Code != http.StatusNotFound {
		t.Fatalf("missing customer: expected 404, got %d", rec.Code)
	}
	if rec := do(t, handler, http.MethodPut, path, nil); rec.Code != http.StatusMethodNotAllowed {
		t.Fatalf("PUT: expected 405, got %d", rec.Code)
	}
}

func TestSoftDeleteRestoreAndPurge(t *testing.T) {
	handler := newTestAPI(t)
	karim := createCustomer(t, handler, "Karim")

	if rec := do(t, handler, http.MethodDelete, "/api/v1/customers/"+karim.ID, nil); rec.Code != http.StatusPreconditionFailed {
		t.Fatalf("missing confirmation: expected 412, got %d", rec.Code)
	}
	if rec := do(t, handler, http.MethodDelete, "/api/v1/customers/"+karim.ID, map[string]string{"confirmation": "delete"}); rec.Code != http.StatusPreconditionFailed {
		t.Fatalf("wrong confirmation: expected 412, got %d", rec.Code)
	}

	rec := do(t, handler, http.MethodDelete, "/api/v1/customers/"+karim.ID, map[string]string{"confirmation": "DELETE"})
	if rec.Code != http.StatusOK {
		t.Fatalf("soft delete: expected 200, got %d (body: %s)", rec.Code, rec.Body.String())
	}
	entry := decode[struct {
		Entry domain.BinEntry `json:"bin_entry"`
	}](t, rec).Entry

	if rec := do(t, handler, http.MethodGet, "/api/v1/customers/"+karim.ID, nil); rec.Code != http.StatusNotFound {
		t.Fatalf("binned customer: expected 404, got %d", rec.Code)
	}

	rec = do(t, handler, http.MethodGet, "/api/v1/bin", nil)
	bin := decode[struct {
		Bin []domain.BinEntry `json:"bin"`
	}](t, rec).Bin
	if len(bin) != 1 || bin[0].CustomerName != "Karim" {
		t.Fatalf("unexpected bin: %+v", bin)
	}

	if rec := do(t, handler, http.MethodPost, "/api/v1/bin/"+entry.ID+"/restore", nil); rec.Code != http.StatusOK {
		t.Fatalf("restore: expected 200, got %d (body: %s)", rec.Code, rec.Body.String())
	}
	if rec := do(t, handler, http.MethodGet, "/api/v1/customers/"+karim.ID, nil); rec.Code != http.StatusOK {
		t.Fatalf("restored customer: expected 200, got %d", rec.Code)
	}

	do(t, handler, http.MethodDelete, "/api/v1/customers/"+karim.ID, map[string]string{"confirmation": "DELETE"})
	if rec := do(t, handler, http.MethodDelete, "/api/v1/bin/"+entry.ID, nil); rec.Code != http.StatusPreconditionFailed {
		t.Fatalf("purge without confirmation: expected 412, got %d", rec.Code)
	}
	if rec := do(t, handler, http.MethodDelete, "/api/v1/bin/"+entry.ID, map[string]string{"confirmation": "DELETE"}); rec.Code != http.StatusOK {
		t.Fatalf("purge: expected 200, got %d", rec.Code)
	}
	if rec := do(t, handler, http.MethodPost, "/api/v1/bin/"+entry.ID+"/restore", nil); rec.Code != http.StatusNotFound {
		t.Fatalf("restore after purge: expected 404, got %d", rec.Code)
	}
}

func TestDeleteTransactionGoesToBin(t *testing.T) {
	handler := newTestAPI(t)
	karim := createCustomer(t, handler, "Karim")

	rec := do(t, handler, http.MethodPost, "/api/v1/customers/"+karim.ID+"/transactions", map[string]any{"qty": 10, "bill": 100, "cash": 0})
	txID := decode[struct {
		Customer domain.Customer `json:"customer"`
	}](t, rec).Customer.History[0].ID

	rec = do(t, handler, http.MethodDelete, "/api/v1/customers/"+karim.ID+"/transactions/"+txID, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("delete transaction: expected 200, got %d (body: %s)", rec.Code, rec.Body.String())
	}

	rec = do(t, handler, http.MethodGet, "/api/v1/customers/"+karim.ID+"/transactions", nil)
	txs := decode[struct {
		Transactions []domain.Transaction `json:"transactions"`
	}](t, rec).Transactions
	if len(txs) != 0 {
		t.Fatalf("expected empty history, got %d", len(txs))
	}
}

func TestExportFormats(t *testing.T) {
	handler := newTestAPI(t)
	createCustomer(t, handler, "Karim")

	rec := do(t, handler, http.MethodGet, "/api/v1/export?format=csv", nil)
	if rec.Code != http.StatusOK || !strings.HasPrefix(rec.Header().Get("Content-Type"), "text/csv") {
		t.Fatalf("csv export: got %d %s", rec.Code, rec.Header().Get("Content-Type"))
	}
	if !strings.HasPrefix(rec.Body.String(), "name,phone,quantity,bill,cash,due,tag,notes\n") {
		t.Fatalf("unexpected csv body: %q", rec.Body.String())
	}

	rec = do(t, handler, http.MethodGet, "/api/v1/export?format=print", nil)
	if rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), "<table>") {
		t.Fatalf("printable export failed: %d", rec.Code)
	}

	rec = do(t, handler, http.MethodGet, "/api/v1/export", nil)
	snapshot := decode[domain.Snapshot](t, rec)
	if snapshot.Version != domain.SnapshotVersion || len(snapshot.Customers) != 1 {
		t.Fatalf("unexpected snapshot: %+v", snapshot)
	}

	if rec := do(t, handler, http.MethodGet, "/api/v1/export?format=xml", nil); rec.Code != http.StatusBadRequest {
		t.Fatalf("unknown format: expected 400, got %d", rec.Code)
	}
}

func TestImportReplacesLedger(t *testing.T) {
	source := newTestAPI(t)
	createCustomer(t, source, "Karim")
	createCustomer(t, source, "Rahim")
	snapshot := decode[domain.Snapshot](t, do(t, source, http.MethodGet, "/api/v1/export?format=json", nil))

	target := newTestAPI(t)
	createCustomer(t, target, "Someone Else")

	rec := do(t, target, http.MethodPost, "/api/v1/import", snapshot)
	if rec.Code != http.StatusOK {
		t.Fatalf("import: expected 200, got %d (body: %s)", rec.Code, rec.Body.String())
	}

	list := decode[struct {
		Customers []domain.Customer `json:"customers"`
	}](t, do(t, target, http.MethodGet, "/api/v1/customers", nil)).Customers
	if len(list) != 2 || list[0].Name != "Karim" || list[1].Name != "Rahim" {
		t.Fatalf("unexpected customers after import: %+v", list)
	}
}

func TestSyncEndpoints(t *testing.T) {
	handler := newTestAPI(t)
	createCustomer(t, handler, "Karim")

	status := decode[domain.SyncStatus](t, do(t, handler, http.MethodGet, "/api/v1/sync/status", nil))
	if status.Pending != 1 || status.Online {
		t.Fatalf("unexpected status: %+v", status)
	}

	result := decode[domain.DrainResult](t, do(t, handler, http.MethodPost, "/api/v1/sync/drain", nil))
	if !result.Skipped || result.Remaining != 1 {
		t.Fatalf("expected skipped drain without remote, got %+v", result)
	}

	if rec := do(t, handler, http.MethodPost, "/api/v1/sync/connectivity", map[string]bool{"online": true}); rec.Code != http.StatusOK {
		t.Fatalf("connectivity: expected 200, got %d", rec.Code)
	}

	if rec := do(t, handler, http.MethodPost, "/api/v1/sync/resync", nil); rec.Code != http.StatusBadRequest {
		t.Fatalf("resync without remote: expected 400, got %d", rec.Code)
	}
}

type unreachableRemote struct{}

func (unreachableRemote) FetchRows(context.Context) ([]domain.RemoteRow, error) {
	return nil, fmt.Errorf("%w: connection refused", syncq.ErrConnectivity)
}

func TestServerErrorsLogThroughInjectedLogger(t *testing.T) {
	var logs bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&logs, nil))

	repo := memory.New()
	queue := syncq.New(repo, nil, syncq.Options{})
	svc := service.New(repo, queue, service.Options{Remote: unreachableRemote{}})
	handler := New(svc, "*", logger).Handler()

	rec := do(t, handler, http.MethodPost, "/api/v1/sync/resync", nil)
	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503, got %d (body: %s)", rec.Code, rec.Body.String())
	}
	if strings.Contains(rec.Body.String(), "connection refused") {
		t.Fatalf("transport detail leaked to client: %s", rec.Body.String())
	}

	out := logs.String()
	if !strings.Contains(out, "remote unavailable") || !strings.Contains(out, "component=http") {
		t.Fatalf("expected component-tagged error log, got %q", out)
	}
}

func TestSettingsEndpoint(t *testing.T) {
	handler := newTestAPI(t)

	settings := decode[domain.Settings](t, do(t, handler, http.MethodGet, "/api/v1/settings", nil))
	if settings.ShopName != "Bondhon Enterprise" {
		t.Fatalf("unexpected default shop name %q", settings.ShopName)
	}

	if rec := do(t, handler, http.MethodPatch, "/api/v1/settings", map[string]string{"language": "fr"}); rec.Code != http.StatusBadRequest {
		t.Fatalf("bad language: expected 400, got %d", rec.Code)
	}
	rec := do(t, handler, http.MethodPatch, "/api/v1/settings", map[string]string{"shop_name": "Bondhon Store"})
	if rec.Code != http.StatusOK || decode[domain.Settings](t, rec).ShopName != "Bondhon Store" {
		t.Fatalf("update settings failed: %d", rec.Code)
	}
}

func TestMiddlewareHeadersAndPreflight(t *testing.T) {
	handler := newTestAPI(t)

	rec := do(t, handler, http.MethodOptions, "/api/v1/customers", nil)
	if rec.Code != http.StatusNoContent {
		t.Fatalf("preflight: expected 204, got %d", rec.Code)
	}
	if rec.Header().Get("Access-Control-Allow-Origin") != "*" {
		t.Fatalf("missing CORS origin header")
	}
	if !strings.Contains(rec.Header().Get("Access-Control-Allow-Methods"), "DELETE") {
		t.Fatalf("DELETE must be allowed cross-origin")
	}
	if rec.Header().Get("X-Content-Type-Options") != "nosniff" {
		t.Fatalf("missing nosniff header")
	}
}

func TestOversizedBodyRejected(t *testing.T) {
	handler := newTestAPI(t)

	huge := `{"name":"` + strings.Repeat("a", maxBodyBytes) + `"}`
	rec := do(t, handler, http.MethodPost, "/api/v1/customers", huge)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for oversized body, got %d", rec.Code)
	}
}

func TestUnknownPathsReturnNotFound(t *testing.T) {
	handler := newTestAPI(t)

	for _, path := range []string{"/api/v1/customers/a/b", "/api/v1/customers/a/transactions/b/c", "/api/v1/bin/a/b"} {
		if rec := do(t, handler, http.MethodGet, path, nil); rec.Code != http.StatusNotFound {
			t.Fatalf("%s: expected 404, got %d", path, rec.Code)
		}
	}
}
