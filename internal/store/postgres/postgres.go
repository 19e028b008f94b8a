package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	_ "github.com/jackc/pgx/v5/stdlib"

	"bondhon/backend/internal/domain"
	"bondhon/backend/internal/store"
)

const settingsKey = "settings"

type Store struct {
	db *sql.DB
}

// queryer is satisfied by both *sql.DB and *sql.Tx.
type queryer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func New(ctx context.Context, databaseURL string) (*Store, error) {
	db, err := sql.Open("pgx", databaseURL)
	if err != nil {
		return nil, err
	}

	db.SetMaxIdleConns(4)
	db.SetMaxOpenConns(10)
	db.SetConnMaxLifetime(30 * time.Minute)

	pingCtx, cancel := context.WithTimeout(ctx, 6*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, err
	}

	if _, err := db.ExecContext(ctx, schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("apply schema: %w", err)
	}

	return &Store{db: db}, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) UpsertCustomer(ctx context.Context, customer domain.Customer) error {
	if customer.ID == "" {
		return store.ErrInvalidInput
	}
	return s.inTx(ctx, func(tx *sql.Tx) error {
		return upsertCustomer(ctx, tx, customer)
	})
}

func (s *Store) GetCustomer(ctx context.Context, id string) (*domain.Customer, error) {
	return getCustomer(ctx, s.db, id)
}

func (s *Store) DeleteCustomer(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM customers WHERE id = $1`, id)
	if err != nil {
		return persistence(err)
	}
	return expectAffected(res)
}

func (s *Store) ListCustomers(ctx context.Context) ([]domain.Customer, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, name, phone, tag, notes, created_at, updated_at,
		       total_qty, total_bill, total_cash, total_due
		FROM customers
		ORDER BY created_at, id
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	customers := make([]domain.Customer, 0, 64)
	index := make(map[string]int)
	for rows.Next() {
		c, err := scanCustomer(rows)
		if err != nil {
			return nil, err
		}
		index[c.ID] = len(customers)
		customers = append(customers, c)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	txRows, err := s.db.QueryContext(ctx, `
		SELECT customer_id, id, created_at, qty, bill, cash, due, detail
		FROM customer_transactions
		ORDER BY customer_id, position
	`)
	if err != nil {
		return nil, err
	}
	defer txRows.Close()

	for txRows.Next() {
		var customerID string
		var t domain.Transaction
		if err := txRows.Scan(&customerID, &t.ID, &t.CreatedAt, &t.Qty, &t.Bill, &t.Cash, &t.Due, &t.Detail); err != nil {
			return nil, err
		}
		t.CreatedAt = t.CreatedAt.UTC()
		if i, ok := index[customerID]; ok {
			customers[i].History = append(customers[i].History, t)
		}
	}
	if err := txRows.Err(); err != nil {
		return nil, err
	}

	return customers, nil
}

func (s *Store) UpsertBinEntry(ctx context.Context, entry domain.BinEntry) error {
	if entry.ID == "" {
		return store.ErrInvalidInput
	}
	return insertBinEntry(ctx, s.db, entry)
}

func (s *Store) GetBinEntry(ctx context.Context, id string) (*domain.BinEntry, error) {
	return getBinEntry(ctx, s.db, id, false)
}

func (s *Store) DeleteBinEntry(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM recycle_bin WHERE id = $1`, id)
	if err != nil {
		return persistence(err)
	}
	return expectAffected(res)
}

func (s *Store) ListBinEntries(ctx context.Context) ([]domain.BinEntry, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT payload
		FROM recycle_bin
		ORDER BY deleted_at DESC, id
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	entries := make([]domain.BinEntry, 0, 16)
	for rows.Next() {
		var payload []byte
		if err := rows.Scan(&payload); err != nil {
			return nil, err
		}
		var entry domain.BinEntry
		if err := json.Unmarshal(payload, &entry); err != nil {
			return nil, err
		}
		entries = append(entries, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return entries, nil
}

func (s *Store) MoveCustomerToBin(ctx context.Context, id string, deletedAt time.Time) (*domain.BinEntry, error) {
	var entry domain.BinEntry
	err := s.inTx(ctx, func(tx *sql.Tx) error {
		customer, err := getCustomer(ctx, tx, id)
		if err != nil {
			return err
		}
		entry = domain.BinEntry{
			ID:           customer.ID,
			EntityType:   domain.BinEntityCustomer,
			CustomerID:   customer.ID,
			CustomerName: customer.Name,
			Customer:     customer,
			DeletedAt:    deletedAt,
		}
		if err := insertBinEntry(ctx, tx, entry); err != nil {
			return err
		}
		_, err = tx.ExecContext(ctx, `DELETE FROM customers WHERE id = $1`, id)
		return err
	})
	if err != nil {
		return nil, err
	}
	return &entry, nil
}

func (s *Store) RestoreCustomer(ctx context.Context, binID string) (*domain.Customer, error) {
	var restored domain.Customer
	err := s.inTx(ctx, func(tx *sql.Tx) error {
		entry, err := getBinEntry(ctx, tx, binID, true)
		if err != nil {
			return err
		}
		if entry.EntityType != domain.BinEntityCustomer || entry.Customer == nil {
			return store.ErrInvalidInput
		}
		var exists bool
		if err := tx.QueryRowContext(ctx, `SELECT EXISTS (SELECT 1 FROM customers WHERE id = $1)`, entry.Customer.ID).Scan(&exists); err != nil {
			return err
		}
		if exists {
			return fmt.Errorf("%w: customer %s is already active", store.ErrInvalidInput, entry.Customer.ID)
		}
		if _, err := tx.ExecContext(ctx, `DELETE FROM recycle_bin WHERE id = $1`, binID); err != nil {
			return err
		}
		restored = *entry.Customer
		return upsertCustomer(ctx, tx, restored)
	})
	if err != nil {
		return nil, err
	}
	return &restored, nil
}

func (s *Store) MoveTransactionToBin(ctx context.Context, customer domain.Customer, entry domain.BinEntry) error {
	if entry.ID == "" || entry.EntityType != domain.BinEntityTransaction || entry.Transaction == nil {
		return store.ErrInvalidInput
	}
	return s.inTx(ctx, func(tx *sql.Tx) error {
		if err := lockCustomer(ctx, tx, customer.ID); err != nil {
			return err
		}
		if err := upsertCustomer(ctx, tx, customer); err != nil {
			return err
		}
		return insertBinEntry(ctx, tx, entry)
	})
}

func (s *Store) RestoreTransaction(ctx context.Context, customer domain.Customer, binID string) error {
	return s.inTx(ctx, func(tx *sql.Tx) error {
		entry, err := getBinEntry(ctx, tx, binID, true)
		if err != nil {
			return err
		}
		if entry.EntityType != domain.BinEntityTransaction {
			return store.ErrInvalidInput
		}
		if err := lockCustomer(ctx, tx, customer.ID); err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx, `DELETE FROM recycle_bin WHERE id = $1`, binID); err != nil {
			return err
		}
		return upsertCustomer(ctx, tx, customer)
	})
}

func (s *Store) ReplaceLedger(ctx context.Context, customers []domain.Customer, bin []domain.BinEntry) error {
	return s.inTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, `DELETE FROM customers`); err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx, `DELETE FROM recycle_bin`); err != nil {
			return err
		}
		for _, c := range customers {
			if c.ID == "" {
				return store.ErrInvalidInput
			}
			if err := upsertCustomer(ctx, tx, c); err != nil {
				return err
			}
		}
		for _, e := range bin {
			if e.ID == "" {
				return store.ErrInvalidInput
			}
			if err := insertBinEntry(ctx, tx, e); err != nil {
				return err
			}
		}
		return nil
	})
}

func (s *Store) EnqueueSync(ctx context.Context, item domain.SyncItem) (*domain.SyncItem, error) {
	if item.ID == "" || item.Action == "" {
		return nil, store.ErrInvalidInput
	}
	if item.Status == "" {
		item.Status = domain.SyncStatusPending
	}
	if item.EnqueuedAt.IsZero() {
		item.EnqueuedAt = time.Now().UTC()
	}
	payload := item.Payload
	if len(payload) == 0 {
		payload = json.RawMessage("{}")
	}

	err := s.db.QueryRowContext(ctx, `
		INSERT INTO sync_queue (id, action, entity_id, payload, status, attempts, last_error, enqueued_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8)
		RETURNING seq
	`, item.ID, string(item.Action), item.EntityID, string(payload), item.Status, item.Attempts, item.LastError, item.EnqueuedAt).Scan(&item.Seq)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, store.ErrInvalidInput
		}
		return nil, persistence(err)
	}
	item.Payload = payload
	return &item, nil
}

func (s *Store) ListSyncItems(ctx context.Context, afterSeq int64, limit int) ([]domain.SyncItem, error) {
	if limit < 1 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT seq, id, action, entity_id, payload, status, attempts, last_error, enqueued_at, last_attempt_at
		FROM sync_queue
		WHERE seq > $1
		ORDER BY seq
		LIMIT $2
	`, afterSeq, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	items := make([]domain.SyncItem, 0, limit)
	for rows.Next() {
		var item domain.SyncItem
		var action string
		var payload []byte
		var lastAttempt sql.NullTime
		if err := rows.Scan(&item.Seq, &item.ID, &action, &item.EntityID, &payload, &item.Status, &item.Attempts, &item.LastError, &item.EnqueuedAt, &lastAttempt); err != nil {
			return nil, err
		}
		item.Action = domain.SyncAction(action)
		item.Payload = json.RawMessage(payload)
		item.EnqueuedAt = item.EnqueuedAt.UTC()
		if lastAttempt.Valid {
			at := lastAttempt.Time.UTC()
			item.LastAttemptAt = &at
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return items, nil
}

func (s *Store) UpdateSyncItem(ctx context.Context, item domain.SyncItem) error {
	var lastAttempt sql.NullTime
	if item.LastAttemptAt != nil {
		lastAttempt = sql.NullTime{Time: *item.LastAttemptAt, Valid: true}
	}
	res, err := s.db.ExecContext(ctx, `
		UPDATE sync_queue
		SET status = $2, attempts = $3, last_error = $4, last_attempt_at = $5
		WHERE id = $1
	`, item.ID, item.Status, item.Attempts, item.LastError, lastAttempt)
	if err != nil {
		return persistence(err)
	}
	return expectAffected(res)
}

func (s *Store) DeleteSyncItem(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM sync_queue WHERE id = $1`, id)
	if err != nil {
		return persistence(err)
	}
	return expectAffected(res)
}

func (s *Store) CountSyncItems(ctx context.Context) (int, error) {
	var count int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM sync_queue`).Scan(&count); err != nil {
		return 0, err
	}
	return count, nil
}

func (s *Store) ResetInFlightSync(ctx context.Context) (int, error) {
	res, err := s.db.ExecContext(ctx, `
		UPDATE sync_queue SET status = $1 WHERE status = $2
	`, domain.SyncStatusPending, domain.SyncStatusInFlight)
	if err != nil {
		return 0, persistence(err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return 0, err
	}
	return int(affected), nil
}

func (s *Store) GetSettings(ctx context.Context) (domain.Settings, error) {
	var payload []byte
	err := s.db.QueryRowContext(ctx, `SELECT value FROM app_settings WHERE key = $1`, settingsKey).Scan(&payload)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.Settings{}, nil
		}
		return domain.Settings{}, err
	}
	var settings domain.Settings
	if err := json.Unmarshal(payload, &settings); err != nil {
		return domain.Settings{}, err
	}
	return settings, nil
}

func (s *Store) SaveSettings(ctx context.Context, settings domain.Settings) error {
	payload, err := json.Marshal(settings)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO app_settings (key, value, updated_at)
		VALUES ($1,$2,now())
		ON CONFLICT (key)
		DO UPDATE SET value = EXCLUDED.value, updated_at = now()
	`, settingsKey, string(payload))
	if err != nil {
		return persistence(err)
	}
	return nil
}

func (s *Store) inTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		return persistence(err)
	}
	defer func() { _ = tx.Rollback() }()

	if err := fn(tx); err != nil {
		if errors.Is(err, store.ErrNotFound) || errors.Is(err, store.ErrInvalidInput) || errors.Is(err, store.ErrPersistence) {
			return err
		}
		return persistence(err)
	}
	if err := tx.Commit(); err != nil {
		return persistence(err)
	}
	return nil
}

func upsertCustomer(ctx context.Context, q queryer, c domain.Customer) error {
	_, err := q.ExecContext(ctx, `
		INSERT INTO customers (id, name, phone, tag, notes, created_at, updated_at, total_qty, total_bill, total_cash, total_due)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11)
		ON CONFLICT (id)
		DO UPDATE SET name = EXCLUDED.name, phone = EXCLUDED.phone, tag = EXCLUDED.tag, notes = EXCLUDED.notes,
			updated_at = EXCLUDED.updated_at, total_qty = EXCLUDED.total_qty, total_bill = EXCLUDED.total_bill,
			total_cash = EXCLUDED.total_cash, total_due = EXCLUDED.total_due
	`, c.ID, c.Name, c.Phone, string(c.Tag), c.Notes, c.CreatedAt, c.UpdatedAt,
		c.Totals.Qty, c.Totals.Bill, c.Totals.Cash, c.Totals.Due)
	if err != nil {
		return err
	}

	if _, err := q.ExecContext(ctx, `DELETE FROM customer_transactions WHERE customer_id = $1`, c.ID); err != nil {
		return err
	}
	for i, t := range c.History {
		_, err := q.ExecContext(ctx, `
			INSERT INTO customer_transactions (customer_id, id, position, created_at, qty, bill, cash, due, detail)
			VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)
		`, c.ID, t.ID, i, t.CreatedAt, t.Qty, t.Bill, t.Cash, t.Due, t.Detail)
		if err != nil {
			return err
		}
	}
	return nil
}

func getCustomer(ctx context.Context, q queryer, id string) (*domain.Customer, error) {
	row := q.QueryRowContext(ctx, `
		SELECT id, name, phone, tag, notes, created_at, updated_at,
		       total_qty, total_bill, total_cash, total_due
		FROM customers
		WHERE id = $1
	`, id)
	c, err := scanCustomer(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}

	rows, err := q.QueryContext(ctx, `
		SELECT id, created_at, qty, bill, cash, due, detail
		FROM customer_transactions
		WHERE customer_id = $1
		ORDER BY position
	`, id)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	for rows.Next() {
		var t domain.Transaction
		if err := rows.Scan(&t.ID, &t.CreatedAt, &t.Qty, &t.Bill, &t.Cash, &t.Due, &t.Detail); err != nil {
			return nil, err
		}
		t.CreatedAt = t.CreatedAt.UTC()
		c.History = append(c.History, t)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return &c, nil
}

func lockCustomer(ctx context.Context, tx *sql.Tx, id string) error {
	var locked string
	err := tx.QueryRowContext(ctx, `SELECT id FROM customers WHERE id = $1 FOR UPDATE`, id).Scan(&locked)
	if errors.Is(err, sql.ErrNoRows) {
		return store.ErrNotFound
	}
	return err
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanCustomer(row rowScanner) (domain.Customer, error) {
	var c domain.Customer
	var tag string
	err := row.Scan(&c.ID, &c.Name, &c.Phone, &tag, &c.Notes, &c.CreatedAt, &c.UpdatedAt,
		&c.Totals.Qty, &c.Totals.Bill, &c.Totals.Cash, &c.Totals.Due)
	if err != nil {
		return domain.Customer{}, err
	}
	c.Tag = domain.Tag(tag)
	c.CreatedAt = c.CreatedAt.UTC()
	c.UpdatedAt = c.UpdatedAt.UTC()
	c.History = make([]domain.Transaction, 0, 8)
	return c, nil
}

func insertBinEntry(ctx context.Context, q queryer, entry domain.BinEntry) error {
	payload, err := json.Marshal(entry)
	if err != nil {
		return err
	}
	_, err = q.ExecContext(ctx, `
		INSERT INTO recycle_bin (id, entity_type, customer_id, customer_name, payload, deleted_at)
		VALUES ($1,$2,$3,$4,$5,$6)
		ON CONFLICT (id)
		DO UPDATE SET entity_type = EXCLUDED.entity_type, customer_id = EXCLUDED.customer_id,
			customer_name = EXCLUDED.customer_name, payload = EXCLUDED.payload, deleted_at = EXCLUDED.deleted_at
	`, entry.ID, string(entry.EntityType), entry.CustomerID, entry.CustomerName, string(payload), entry.DeletedAt)
	return err
}

func getBinEntry(ctx context.Context, q queryer, id string, forUpdate bool) (*domain.BinEntry, error) {
	query := `SELECT payload FROM recycle_bin WHERE id = $1`
	if forUpdate {
		query += ` FOR UPDATE`
	}
	var payload []byte
	if err := q.QueryRowContext(ctx, query, id).Scan(&payload); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	var entry domain.BinEntry
	if err := json.Unmarshal(payload, &entry); err != nil {
		return nil, err
	}
	return &entry, nil
}

func expectAffected(res sql.Result) error {
	affected, err := res.RowsAffected()
	if err != nil {
		return persistence(err)
	}
	if affected == 0 {
		return store.ErrNotFound
	}
	return nil
}

func persistence(err error) error {
	return fmt.Errorf("%w: %v", store.ErrPersistence, err)
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23505"
	}
	return false
}
