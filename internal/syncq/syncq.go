// Package syncq replicates committed ledger mutations to the remote endpoint.
//
// Items are persisted before any delivery is attempted and are delivered
// strictly in enqueue order. A connectivity failure halts the pass and marks
// the queue offline; the item stays pending for the next pass.
package syncq

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/robfig/cron/v3"
	"golang.org/x/sync/semaphore"

	"bondhon/backend/internal/domain"
	"bondhon/backend/internal/store"
	"bondhon/backend/internal/xid"
)

// ErrConnectivity marks a delivery that never reached the remote side.
var ErrConnectivity = errors.New("remote unreachable")

// errQueueStore marks a local store fault while handling an item. The pass
// stops on it so later items never overtake the one that could not be tracked.
var errQueueStore = errors.New("sync store")

// Transport delivers a single queued item to the remote ledger.
type Transport interface {
	Deliver(ctx context.Context, item domain.SyncItem) error
	Ping(ctx context.Context) error
}

type Options struct {
	Logger    *slog.Logger
	Timeout   time.Duration
	Interval  time.Duration
	BatchSize int
}

type Queue struct {
	store     store.SyncStore
	transport Transport
	logger    *slog.Logger
	timeout   time.Duration
	interval  time.Duration
	batchSize int

	guard    *semaphore.Weighted
	rerun    atomic.Bool
	online   atomic.Bool
	draining atomic.Bool

	mu          sync.Mutex
	lastDrainAt *time.Time
	lastError   string

	scheduler *cron.Cron
	wg        sync.WaitGroup
	ctx       context.Context
	cancel    context.CancelFunc
}

// New builds a queue over the given store. A nil transport means no remote is
// configured: items are kept and never drained.
func New(syncStore store.SyncStore, transport Transport, opts Options) *Queue {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 15 * time.Second
	}
	if opts.Interval <= 0 {
		opts.Interval = 30 * time.Second
	}
	if opts.BatchSize < 1 {
		opts.BatchSize = 50
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Queue{
		store:     syncStore,
		transport: transport,
		logger:    opts.Logger.With("component", "syncq"),
		timeout:   opts.Timeout,
		interval:  opts.Interval,
		batchSize: opts.BatchSize,
		guard:     semaphore.NewWeighted(1),
		ctx:       ctx,
		cancel:    cancel,
	}
}

// Enqueue persists a snapshot of payload and, when online, schedules a drain.
func (q *Queue) Enqueue(ctx context.Context, action domain.SyncAction, entityID string, payload any) (*domain.SyncItem, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal sync payload: %w", err)
	}

	item, err := q.store.EnqueueSync(ctx, domain.SyncItem{
		ID:         xid.New("sq"),
		Action:     action,
		EntityID:   entityID,
		Payload:    raw,
		Status:     domain.SyncStatusPending,
		EnqueuedAt: time.Now().UTC(),
	})
	if err != nil {
		return nil, err
	}

	q.logger.Debug("sync item queued", "id", item.ID, "seq", item.Seq, "action", item.Action)
	q.trigger()
	return item, nil
}

func (q *Queue) Online() bool {
	return q.transport != nil && q.online.Load()
}

// SetOnline records a connectivity change. Coming back online starts a drain.
func (q *Queue) SetOnline(online bool) {
	was := q.online.Swap(online)
	if was == online {
		return
	}
	q.logger.Info("connectivity changed", "online", online)
	if online {
		q.trigger()
	}
}

// Drain delivers pending items in order until the queue is empty, the remote
// becomes unreachable or ctx is done. It returns immediately with Skipped set
// when offline or when another drain is already running.
func (q *Queue) Drain(ctx context.Context) (domain.DrainResult, error) {
	if q.transport == nil {
		return q.skipped(ctx, "no remote endpoint configured"), nil
	}
	if !q.Online() {
		return q.skipped(ctx, "offline"), nil
	}
	if !q.guard.TryAcquire(1) {
		q.rerun.Store(true)
		return q.skipped(ctx, "drain already running"), nil
	}
	q.draining.Store(true)
	defer func() {
		q.draining.Store(false)
		q.guard.Release(1)
		// A trigger may have landed after the last pass checked for it.
		if q.rerun.Swap(false) {
			q.trigger()
		}
	}()

	var result domain.DrainResult
	var drainErr error
	for {
		q.rerun.Store(false)
		pass, err := q.pass(ctx)
		result.Delivered += pass.Delivered
		result.Failed += pass.Failed
		result.Halted = pass.Halted
		if err != nil {
			drainErr = err
			break
		}
		if pass.Halted || !q.rerun.Load() || !q.Online() {
			break
		}
	}

	if remaining, err := q.store.CountSyncItems(ctx); err == nil {
		result.Remaining = remaining
	}
	switch {
	case drainErr != nil:
		result.Reason = "sync store failure"
	case result.Halted:
		result.Reason = "remote unreachable"
	}

	now := time.Now().UTC()
	q.mu.Lock()
	q.lastDrainAt = &now
	if drainErr != nil {
		q.lastError = drainErr.Error()
	}
	q.mu.Unlock()

	q.logger.Info("drain finished",
		"delivered", result.Delivered,
		"failed", result.Failed,
		"halted", result.Halted,
		"remaining", result.Remaining,
	)
	return result, drainErr
}

func (q *Queue) pass(ctx context.Context) (domain.DrainResult, error) {
	var result domain.DrainResult
	var cursor int64
	for {
		items, err := q.store.ListSyncItems(ctx, cursor, q.batchSize)
		if err != nil {
			return result, err
		}
		if len(items) == 0 {
			return result, nil
		}

		for _, item := range items {
			cursor = item.Seq
			if err := ctx.Err(); err != nil {
				result.Halted = true
				return result, nil
			}

			delivered, err := q.deliver(ctx, item)
			if delivered {
				result.Delivered++
				continue
			}
			if errors.Is(err, errQueueStore) {
				result.Halted = true
				return result, err
			}
			result.Failed++
			if isConnectivity(err) {
				q.SetOnline(false)
				result.Halted = true
				return result, nil
			}
		}
	}
}

func (q *Queue) deliver(ctx context.Context, item domain.SyncItem) (bool, error) {
	now := time.Now().UTC()
	item.Status = domain.SyncStatusInFlight
	item.Attempts++
	item.LastAttemptAt = &now
	if err := q.store.UpdateSyncItem(ctx, item); err != nil {
		return false, fmt.Errorf("%w: mark %s in flight: %w", errQueueStore, item.ID, err)
	}

	deliverCtx, cancel := context.WithTimeout(ctx, q.timeout)
	err := q.transport.Deliver(deliverCtx, item)
	cancel()

	if err == nil {
		if err := q.store.DeleteSyncItem(ctx, item.ID); err != nil {
			q.logger.Error("delete delivered item", "id", item.ID, "error", err)
		}
		return true, nil
	}

	item.Status = domain.SyncStatusPending
	item.LastError = err.Error()
	if uerr := q.store.UpdateSyncItem(ctx, item); uerr != nil {
		q.logger.Error("revert sync item", "id", item.ID, "error", uerr)
	}

	q.mu.Lock()
	q.lastError = err.Error()
	q.mu.Unlock()

	q.logger.Warn("sync delivery failed",
		"id", item.ID,
		"seq", item.Seq,
		"action", item.Action,
		"attempts", item.Attempts,
		"error", err,
	)
	return false, err
}

func (q *Queue) skipped(ctx context.Context, reason string) domain.DrainResult {
	result := domain.DrainResult{Skipped: true, Reason: reason}
	if remaining, err := q.store.CountSyncItems(ctx); err == nil {
		result.Remaining = remaining
	}
	return result
}

func (q *Queue) trigger() {
	if !q.Online() {
		return
	}
	if q.ctx.Err() != nil {
		return
	}
	q.wg.Add(1)
	go func() {
		defer q.wg.Done()
		if _, err := q.Drain(q.ctx); err != nil {
			q.logger.Error("background drain", "error", err)
		}
	}()
}

// Start recovers items left in flight by a previous process, probes the remote
// and schedules the periodic drain.
func (q *Queue) Start(ctx context.Context) error {
	reset, err := q.store.ResetInFlightSync(ctx)
	if err != nil {
		return fmt.Errorf("reset in-flight sync items: %w", err)
	}
	if reset > 0 {
		q.logger.Warn("recovered in-flight sync items", "count", reset)
	}

	if q.transport == nil {
		q.logger.Info("no remote endpoint configured, sync disabled")
		return nil
	}

	q.probe(ctx)

	q.scheduler = cron.New()
	if _, err := q.scheduler.AddFunc(fmt.Sprintf("@every %s", q.interval), q.tick); err != nil {
		return fmt.Errorf("schedule sync: %w", err)
	}
	q.scheduler.Start()
	q.logger.Info("sync scheduler started", "interval", q.interval.String())
	return nil
}

func (q *Queue) tick() {
	if !q.Online() {
		q.probe(q.ctx)
		return
	}
	if _, err := q.Drain(q.ctx); err != nil {
		q.logger.Error("scheduled drain", "error", err)
	}
}

func (q *Queue) probe(ctx context.Context) {
	probeCtx, cancel := context.WithTimeout(ctx, q.timeout)
	defer cancel()
	if err := q.transport.Ping(probeCtx); err != nil {
		q.logger.Debug("remote probe failed", "error", err)
		q.SetOnline(false)
		return
	}
	q.SetOnline(true)
}

// Stop halts the scheduler and waits for running drains until ctx is done,
// then cancels whatever is still in flight.
func (q *Queue) Stop(ctx context.Context) error {
	defer q.cancel()

	if q.scheduler != nil {
		select {
		case <-q.scheduler.Stop().Done():
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	done := make(chan struct{})
	go func() {
		q.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Wait blocks until background drains started so far have returned.
func (q *Queue) Wait() {
	q.wg.Wait()
}

func (q *Queue) Status(ctx context.Context) (domain.SyncStatus, error) {
	pending, err := q.store.CountSyncItems(ctx)
	if err != nil {
		return domain.SyncStatus{}, err
	}

	q.mu.Lock()
	defer q.mu.Unlock()
	status := domain.SyncStatus{
		Online:    q.Online(),
		Draining:  q.draining.Load(),
		Pending:   pending,
		LastError: q.lastError,
	}
	if q.lastDrainAt != nil {
		at := *q.lastDrainAt
		status.LastDrainAt = &at
	}
	return status, nil
}

func isConnectivity(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrConnectivity) || errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}
