package stream

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/kemiade/salon-stock-engine/internal/domain"
	"github.com/kemiade/salon-stock-engine/internal/idempotency"
	"github.com/kemiade/salon-stock-engine/internal/models"
	"github.com/kemiade/salon-stock-engine/internal/observability"
	"github.com/kemiade/salon-stock-engine/internal/service"
	"go.uber.org/zap"
)

const defaultQueueSize = 256

var (
	ErrAlreadySubscribed = errors.New("branch already subscribed")
	ErrNotSubscribed     = errors.New("branch not subscribed")
	ErrNotStarted        = errors.New("stream manager not started")
)

// MarkerCache is the redis tier consulted before loading a transaction.
type MarkerCache interface {
	CachedApplied(ctx context.Context, txID string, path idempotency.Path) bool
	CacheApplied(ctx context.Context, txID string, path idempotency.Path)
}

// Manager routes change events to per-branch consumers. Each subscribed
// branch gets a buffered queue and a single consumer goroutine, so events for
// one branch are processed strictly in arrival order.
type Manager struct {
	source  Source
	txs     TransactionLoader
	proc    TxProcessor
	markers MarkerCache

	mu        sync.Mutex
	listeners map[string]*branchListener
	ctx       context.Context

	events chan Event
	wg     sync.WaitGroup
}

func NewManager(source Source, txs TransactionLoader, proc TxProcessor, markers MarkerCache) *Manager {
	return &Manager{
		source:    source,
		txs:       txs,
		proc:      proc,
		markers:   markers,
		listeners: map[string]*branchListener{},
		events:    make(chan Event),
	}
}

type branchListener struct {
	branchID string
	queue    chan Event
	cancel   context.CancelFunc
	done     chan struct{}

	dedupMu sync.Mutex
	dedup   map[string]struct{}

	received  atomic.Int64
	processed atomic.Int64
	skipped   atomic.Int64
	failed    atomic.Int64
}

// ListenerStatus is a point-in-time view of one branch subscription.
type ListenerStatus struct {
	BranchID   string `json:"branch_id"`
	QueueDepth int    `json:"queue_depth"`
	Received   int64  `json:"received"`
	Processed  int64  `json:"processed"`
	Skipped    int64  `json:"skipped"`
	Failed     int64  `json:"failed"`
}

// Start launches the feed and dispatch goroutines. Must be called before any
// branch is subscribed.
func (m *Manager) Start(ctx context.Context) {
	m.mu.Lock()
	m.ctx = ctx
	m.mu.Unlock()

	m.wg.Add(2)
	go m.feed(ctx)
	go m.dispatch(ctx)
}

// Wait blocks until the feed and dispatch goroutines and every consumer have
// exited. Call after canceling the Start context.
func (m *Manager) Wait() {
	m.wg.Wait()
}

func (m *Manager) feed(ctx context.Context) {
	defer m.wg.Done()
	for {
		err := m.source.Subscribe(ctx, m.events)
		if ctx.Err() != nil {
			return
		}
		zap.L().Error("change stream source exited, restarting", zap.Error(err))
		select {
		case <-ctx.Done():
			return
		case <-time.After(time.Second):
		}
	}
}

func (m *Manager) dispatch(ctx context.Context) {
	defer m.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case ev := <-m.events:
			m.mu.Lock()
			l := m.listeners[ev.BranchID]
			m.mu.Unlock()
			if l == nil {
				observability.IncrementListenerEvent(ev.BranchID, "unsubscribed")
				continue
			}
			select {
			case l.queue <- ev:
				observability.SetListenerQueueDepth(ev.BranchID, len(l.queue))
			case <-ctx.Done():
				return
			}
		}
	}
}

// Listen subscribes a branch and starts its consumer.
func (m *Manager) Listen(branchID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.ctx == nil {
		return ErrNotStarted
	}
	if _, ok := m.listeners[branchID]; ok {
		return fmt.Errorf("branch %s: %w", branchID, ErrAlreadySubscribed)
	}

	ctx, cancel := context.WithCancel(m.ctx)
	l := &branchListener{
		branchID: branchID,
		queue:    make(chan Event, defaultQueueSize),
		cancel:   cancel,
		done:     make(chan struct{}),
		dedup:    map[string]struct{}{},
	}
	m.listeners[branchID] = l

	m.wg.Add(1)
	go m.consume(ctx, l)
	zap.L().Info("branch subscribed to change stream", zap.String("branch_id", branchID))
	return nil
}

// Stop unsubscribes a branch. Its in-process dedup state is discarded; the
// persisted markers remain the idempotency backstop.
func (m *Manager) Stop(branchID string) error {
	m.mu.Lock()
	l, ok := m.listeners[branchID]
	if ok {
		delete(m.listeners, branchID)
	}
	m.mu.Unlock()
	if !ok {
		return fmt.Errorf("branch %s: %w", branchID, ErrNotSubscribed)
	}

	l.cancel()
	<-l.done
	zap.L().Info("branch unsubscribed from change stream", zap.String("branch_id", branchID))
	return nil
}

// StopAll unsubscribes every branch.
func (m *Manager) StopAll() {
	m.mu.Lock()
	all := make([]*branchListener, 0, len(m.listeners))
	for _, l := range m.listeners {
		all = append(all, l)
	}
	m.listeners = map[string]*branchListener{}
	m.mu.Unlock()

	for _, l := range all {
		l.cancel()
		<-l.done
	}
}

// Status reports every active subscription, ordered by branch id.
func (m *Manager) Status() []ListenerStatus {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make([]ListenerStatus, 0, len(m.listeners))
	for _, l := range m.listeners {
		out = append(out, ListenerStatus{
			BranchID:   l.branchID,
			QueueDepth: len(l.queue),
			Received:   l.received.Load(),
			Processed:  l.processed.Load(),
			Skipped:    l.skipped.Load(),
			Failed:     l.failed.Load(),
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].BranchID < out[j].BranchID })
	return out
}

// Subscribed reports whether the branch has an active listener.
func (m *Manager) Subscribed(branchID string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.listeners[branchID]
	return ok
}

func (m *Manager) consume(ctx context.Context, l *branchListener) {
	defer m.wg.Done()
	defer close(l.done)

	for {
		select {
		case <-ctx.Done():
			return
		case ev := <-l.queue:
			observability.SetListenerQueueDepth(l.branchID, len(l.queue))
			m.handle(ctx, l, ev)
		}
	}
}

func (m *Manager) handle(ctx context.Context, l *branchListener, ev Event) {
	l.received.Add(1)

	var (
		path idempotency.Path
		key  string
	)
	switch {
	case domain.IsSaleStatus(ev.Status):
		path, key = idempotency.PathDeduct, domain.DeductionKey(ev.TransactionID)
	case domain.IsVoidStatus(ev.Status):
		path, key = idempotency.PathReturn, domain.ReturnKey(ev.TransactionID)
	default:
		l.skipped.Add(1)
		observability.IncrementListenerEvent(l.branchID, "ignored")
		return
	}

	if l.seen(key) {
		l.skipped.Add(1)
		observability.IncrementListenerEvent(l.branchID, "duplicate")
		return
	}
	if m.markers != nil && m.markers.CachedApplied(ctx, ev.TransactionID, path) {
		l.skipped.Add(1)
		observability.IncrementListenerEvent(l.branchID, "cached")
		return
	}

	tx, err := m.txs.GetTransaction(ctx, ev.TransactionID)
	if err != nil {
		if errors.Is(err, models.ErrNotFound) {
			l.skipped.Add(1)
			observability.IncrementListenerEvent(l.branchID, "missing")
			zap.L().Warn("change event references unknown transaction",
				zap.String("branch_id", l.branchID),
				zap.String("transaction_id", ev.TransactionID),
			)
			return
		}
		l.failed.Add(1)
		observability.IncrementListenerEvent(l.branchID, "load_failed")
		zap.L().Error("failed to load transaction for change event",
			zap.String("branch_id", l.branchID),
			zap.String("transaction_id", ev.TransactionID),
			zap.Error(err),
		)
		return
	}

	if !m.eligible(tx, path) {
		if m.applied(tx, path) && m.markers != nil {
			m.markers.CacheApplied(ctx, ev.TransactionID, path)
		}
		l.skipped.Add(1)
		observability.IncrementListenerEvent(l.branchID, "not_eligible")
		return
	}

	// Claim the key before mutating so a duplicate arriving mid-flight is
	// dropped by the dedup check above.
	l.mark(key)

	if path == idempotency.PathDeduct {
		err = m.proc.ProcessSale(ctx, tx)
	} else {
		err = m.proc.ProcessVoid(ctx, tx)
	}

	switch {
	case err == nil:
		l.processed.Add(1)
		observability.IncrementListenerEvent(l.branchID, "processed")
		if m.markers != nil {
			m.markers.CacheApplied(ctx, ev.TransactionID, path)
		}
	case errors.Is(err, service.ErrMarkerNotPersisted):
		// Mutation applied; keep the key so this process never re-applies.
		l.failed.Add(1)
		observability.IncrementListenerEvent(l.branchID, "marker_failed")
		zap.L().Error("mutation applied but marker write failed",
			zap.String("branch_id", l.branchID),
			zap.String("transaction_id", ev.TransactionID),
			zap.Error(err),
		)
	default:
		// Nothing durable happened for at least one item; release the key so
		// a re-delivery can retry.
		l.forget(key)
		l.failed.Add(1)
		observability.IncrementListenerEvent(l.branchID, "failed")
		zap.L().Error("change event processing failed",
			zap.String("branch_id", l.branchID),
			zap.String("transaction_id", ev.TransactionID),
			zap.Error(err),
		)
	}
}

func (m *Manager) eligible(tx *models.Transaction, path idempotency.Path) bool {
	if path == idempotency.PathDeduct {
		return domain.DeductionEligible(tx)
	}
	return domain.ReturnEligible(tx)
}

func (m *Manager) applied(tx *models.Transaction, path idempotency.Path) bool {
	if path == idempotency.PathDeduct {
		return tx.StockDeducted
	}
	return tx.StockReturned
}

func (l *branchListener) seen(key string) bool {
	l.dedupMu.Lock()
	defer l.dedupMu.Unlock()
	_, ok := l.dedup[key]
	return ok
}

func (l *branchListener) mark(key string) {
	l.dedupMu.Lock()
	l.dedup[key] = struct{}{}
	l.dedupMu.Unlock()
}

func (l *branchListener) forget(key string) {
	l.dedupMu.Lock()
	delete(l.dedup, key)
	l.dedupMu.Unlock()
}
