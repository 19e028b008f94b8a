// Package remote talks to the spreadsheet-backed ledger endpoint.
package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"bondhon/backend/internal/domain"
	"bondhon/backend/internal/ledger"
	"bondhon/backend/internal/syncq"
)

type Config struct {
	Endpoint string
	Timeout  time.Duration
	Logger   *slog.Logger
}

type Client struct {
	endpoint string
	client   *http.Client
	logger   *slog.Logger
}

func New(cfg Config) *Client {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 15 * time.Second
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	return &Client{
		endpoint: cfg.Endpoint,
		client:   &http.Client{Timeout: cfg.Timeout},
		logger:   cfg.Logger.With("component", "remote"),
	}
}

// Deliver posts the queued record. Any HTTP response counts as delivered: the
// endpoint answers opaquely and its status carries no acceptance signal.
func (c *Client) Deliver(ctx context.Context, item domain.SyncItem) error {
	body := item.Payload
	if len(body) == 0 {
		body = json.RawMessage("{}")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", syncq.ErrConnectivity, err)
	}
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 1<<16))
	_ = resp.Body.Close()

	c.logger.Debug("sync record dispatched",
		"item_id", item.ID,
		"action", item.Action,
		"status_code", resp.StatusCode,
	)
	return nil
}

// Ping reports whether the endpoint answers at all.
func (c *Client) Ping(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodHead, c.endpoint, nil)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", syncq.ErrConnectivity, err)
	}
	_ = resp.Body.Close()
	return nil
}

type wireRow struct {
	Action        ledger.Text   `json:"action"`
	ID            ledger.Text   `json:"id"`
	TransactionID ledger.Text   `json:"transaction_id"`
	Name          ledger.Text   `json:"name"`
	Phone         ledger.Text   `json:"phone"`
	Tag           ledger.Text   `json:"tag"`
	Notes         ledger.Text   `json:"notes"`
	Date          ledger.Text   `json:"date"`
	Qty           ledger.Int    `json:"qty"`
	Bill          ledger.Number `json:"bill"`
	Cash          ledger.Number `json:"cash"`
	Due           ledger.Number `json:"due"`
}

// FetchRows pulls the whole remote dataset. Rows are returned in the order the
// endpoint lists them; malformed numeric cells decode as zero.
func (c *Client) FetchRows(ctx context.Context) ([]domain.RemoteRow, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", syncq.ErrConnectivity, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, fmt.Errorf("remote pull: unexpected status %d", resp.StatusCode)
	}

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 32<<20))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", syncq.ErrConnectivity, err)
	}
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 {
		return nil, nil
	}

	var wire []wireRow
	if err := json.Unmarshal(raw, &wire); err != nil {
		return nil, fmt.Errorf("decode remote rows: %w", err)
	}

	rows := make([]domain.RemoteRow, 0, len(wire))
	for _, w := range wire {
		rows = append(rows, domain.RemoteRow{
			Action:        domain.SyncAction(w.Action),
			ID:            string(w.ID),
			TransactionID: string(w.TransactionID),
			Name:          string(w.Name),
			Phone:         string(w.Phone),
			Tag:           string(w.Tag),
			Notes:         string(w.Notes),
			Date:          string(w.Date),
			Qty:           int64(w.Qty),
			Bill:          w.Bill.Decimal,
			Cash:          w.Cash.Decimal,
			Due:           w.Due.Decimal,
		})
	}
	c.logger.Info("remote rows fetched", "rows", len(rows))
	return rows, nil
}
