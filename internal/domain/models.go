package domain

import (
	"encoding/json"
	"time"

	"github.com/shopspring/decimal"
)

type Tag string

const (
	TagNone    Tag = ""
	TagVIP     Tag = "VIP"
	TagRegular Tag = "Regular"
	TagNew     Tag = "New"
)

type Transaction struct {
	ID        string          `json:"id"`
	CreatedAt time.Time       `json:"created_at"`
	Qty       int64           `json:"qty"`
	Bill      decimal.Decimal `json:"bill"`
	Cash      decimal.Decimal `json:"cash"`
	Due       decimal.Decimal `json:"due"`
	Detail    string          `json:"detail,omitempty"`
}

// Totals is the quantity/bill/cash/due aggregate of a transaction history.
type Totals struct {
	Qty  int64           `json:"qty"`
	Bill decimal.Decimal `json:"bill"`
	Cash decimal.Decimal `json:"cash"`
	Due  decimal.Decimal `json:"due"`
}

func (t Totals) Add(other Totals) Totals {
	return Totals{
		Qty:  t.Qty + other.Qty,
		Bill: t.Bill.Add(other.Bill),
		Cash: t.Cash.Add(other.Cash),
		Due:  t.Due.Add(other.Due),
	}
}

type Customer struct {
	ID        string        `json:"id"`
	Name      string        `json:"name"`
	Phone     string        `json:"phone,omitempty"`
	Tag       Tag           `json:"tag,omitempty"`
	Notes     string        `json:"notes,omitempty"`
	CreatedAt time.Time     `json:"created_at"`
	UpdatedAt time.Time     `json:"updated_at"`
	History   []Transaction `json:"history"`
	// Totals mirrors the history sums. It is rewritten before every write and
	// must never be read as a source of truth.
	Totals Totals `json:"totals"`
}

// Clone returns a copy whose history can be modified without touching c.
func (c Customer) Clone() Customer {
	out := c
	out.History = make([]Transaction, len(c.History))
	copy(out.History, c.History)
	return out
}

type CustomerCreateRequest struct {
	Name  string `json:"name"`
	Phone string `json:"phone"`
	Tag   string `json:"tag"`
	Notes string `json:"notes"`
}

type CustomerUpdateRequest struct {
	Name  *string `json:"name,omitempty"`
	Phone *string `json:"phone,omitempty"`
	Tag   *string `json:"tag,omitempty"`
	Notes *string `json:"notes,omitempty"`
}

type TransactionCreateRequest struct {
	Qty    int64           `json:"qty"`
	Bill   decimal.Decimal `json:"bill"`
	Cash   decimal.Decimal `json:"cash"`
	Detail string          `json:"detail"`
}

type ConfirmRequest struct {
	Confirmation string `json:"confirmation"`
}

type BinEntityType string

const (
	BinEntityCustomer    BinEntityType = "customer"
	BinEntityTransaction BinEntityType = "transaction"
)

type BinEntry struct {
	ID           string        `json:"id"`
	EntityType   BinEntityType `json:"entity_type"`
	CustomerID   string        `json:"customer_id"`
	CustomerName string        `json:"customer_name"`
	Customer     *Customer     `json:"customer,omitempty"`
	Transaction  *Transaction  `json:"transaction,omitempty"`
	DeletedAt    time.Time     `json:"deleted_at"`
}

type SyncAction string

const (
	SyncAddCustomer        SyncAction = "add_customer"
	SyncUpdateCustomer     SyncAction = "update_customer"
	SyncDeleteCustomer     SyncAction = "delete_customer"
	SyncRestoreCustomer    SyncAction = "restore_customer"
	SyncPurgeCustomer      SyncAction = "purge_customer"
	SyncAddTransaction     SyncAction = "add_transaction"
	SyncDeleteTransaction  SyncAction = "delete_transaction"
	SyncRestoreTransaction SyncAction = "restore_transaction"
)

const (
	SyncStatusPending  = "pending"
	SyncStatusInFlight = "in_flight"
)

type SyncItem struct {
	ID            string          `json:"id"`
	Seq           int64           `json:"seq"`
	Action        SyncAction      `json:"action"`
	EntityID      string          `json:"entity_id"`
	Payload       json.RawMessage `json:"payload"`
	Status        string          `json:"status"`
	Attempts      int             `json:"attempts"`
	LastError     string          `json:"last_error,omitempty"`
	EnqueuedAt    time.Time       `json:"enqueued_at"`
	LastAttemptAt *time.Time      `json:"last_attempt_at,omitempty"`
}

// SyncRecord is the row shape the remote ledger endpoint accepts. Amounts are
// plain JSON numbers because the remote side is a spreadsheet.
type SyncRecord struct {
	Action        SyncAction `json:"action"`
	ID            string     `json:"id"`
	Name          string     `json:"name"`
	Phone         string     `json:"phone"`
	Tag           string     `json:"tag,omitempty"`
	Notes         string     `json:"notes,omitempty"`
	TransactionID string     `json:"transaction_id,omitempty"`
	Date          string     `json:"date"`
	Qty           int64      `json:"qty"`
	Bill          float64    `json:"bill"`
	Cash          float64    `json:"cash"`
	Due           float64    `json:"due"`
	QueuedAt      string     `json:"queued_at"`
}

// RemoteRow is one row of the remote dataset returned by a bulk pull. Rows
// written by this service carry the Action and TransactionID of the record
// that produced them; rows written by older clients leave both empty.
type RemoteRow struct {
	Action        SyncAction
	ID            string
	TransactionID string
	Name          string
	Phone         string
	Tag           string
	Notes         string
	Date          string
	Qty           int64
	Bill          decimal.Decimal
	Cash          decimal.Decimal
	Due           decimal.Decimal
}

type DrainResult struct {
	Skipped   bool   `json:"skipped"`
	Delivered int    `json:"delivered"`
	Failed    int    `json:"failed"`
	Halted    bool   `json:"halted"`
	Remaining int    `json:"remaining"`
	Reason    string `json:"reason,omitempty"`
}

type SyncStatus struct {
	Online      bool       `json:"online"`
	Draining    bool       `json:"draining"`
	Pending     int        `json:"pending"`
	LastDrainAt *time.Time `json:"last_drain_at,omitempty"`
	LastError   string     `json:"last_error,omitempty"`
}

type ConnectivityRequest struct {
	Online bool `json:"online"`
}

type Summary struct {
	Customers   int       `json:"customers"`
	Totals      Totals    `json:"totals"`
	PendingSync int       `json:"pending_sync"`
	Online      bool      `json:"online"`
	ComputedAt  time.Time `json:"computed_at"`
}

type ResyncResponse struct {
	Customers    int  `json:"customers"`
	Transactions int  `json:"transactions"`
	Replaced     bool `json:"replaced"`
}

type Settings struct {
	ShopName  string    `json:"shop_name"`
	Language  string    `json:"language"`
	Theme     string    `json:"theme"`
	UpdatedAt time.Time `json:"updated_at"`
}

type SettingsUpdateRequest struct {
	ShopName *string `json:"shop_name,omitempty"`
	Language *string `json:"language,omitempty"`
	Theme    *string `json:"theme,omitempty"`
}

const SnapshotVersion = 5

// Snapshot is the full JSON export of the ledger.
type Snapshot struct {
	Version    int        `json:"version"`
	ExportedAt time.Time  `json:"exported_at"`
	Customers  []Customer `json:"customers"`
	Bin        []BinEntry `json:"bin"`
}

type ImportResponse struct {
	Customers int `json:"customers"`
	Bin       int `json:"bin"`
}
