package scheduler

import (
	"context"
	"log/slog"
	"sort"
	"sync"

	"trados-tasks-go/internal/metrics"
	"trados-tasks-go/internal/models"
)

const defaultHubBuffer = 64

type hubMessage struct {
	snapshot Snapshot
	remove   string
}

// Hub collects snapshots from every coordinator on one channel, keeps the
// latest per tenant and fans them out to subscribers.
type Hub struct {
	in     chan hubMessage
	done   chan struct{}
	logger *slog.Logger

	mu     sync.RWMutex
	latest map[string]Snapshot
	subs   map[int]chan Snapshot
	nextID int
}

// NewHub creates a new Hub. Run must be called for snapshots to flow.
func NewHub(logger *slog.Logger) *Hub {
	if logger == nil {
		logger = slog.Default()
	}
	return &Hub{
		in:     make(chan hubMessage, defaultHubBuffer),
		done:   make(chan struct{}),
		logger: logger.With("component", "hub"),
		latest: make(map[string]Snapshot),
		subs:   make(map[int]chan Snapshot),
	}
}

// Publish hands a snapshot to the hub. It gives up when ctx is done or the
// hub has stopped.
func (h *Hub) Publish(ctx context.Context, s Snapshot) {
	h.send(ctx, hubMessage{snapshot: s})
}

// Remove drops a tenant. It is ordered after every snapshot already
// published for it.
func (h *Hub) Remove(ctx context.Context, tenantID string) {
	h.send(ctx, hubMessage{remove: tenantID})
}

func (h *Hub) send(ctx context.Context, msg hubMessage) {
	select {
	case h.in <- msg:
	case <-ctx.Done():
	case <-h.done:
	}
}

// Run processes messages until ctx is cancelled.
func (h *Hub) Run(ctx context.Context) error {
	defer close(h.done)
	for {
		select {
		case <-ctx.Done():
			h.closeSubscribers()
			return ctx.Err()
		case msg := <-h.in:
			if msg.remove != "" {
				h.drop(msg.remove)
				continue
			}
			h.store(msg.snapshot)
		}
	}
}

func (h *Hub) store(s Snapshot) {
	h.mu.Lock()
	h.latest[s.TenantID] = s
	h.mu.Unlock()

	if s.Aggregate != nil {
		recordAggregate(s.TenantID, s.Aggregate)
	}

	// Delivery never blocks; holding the read lock keeps cancelled
	// subscriptions from closing a channel mid-send.
	h.mu.RLock()
	for _, ch := range h.subs {
		deliver(ch, s)
	}
	h.mu.RUnlock()
}

func (h *Hub) drop(tenantID string) {
	h.mu.Lock()
	delete(h.latest, tenantID)
	h.mu.Unlock()

	forgetTenantMetrics(tenantID)
	h.logger.Debug("tenant removed", "tenant", tenantID)
}

// deliver sends without blocking; a slow subscriber loses the older
// snapshot, never the newer one.
func deliver(ch chan Snapshot, s Snapshot) {
	select {
	case ch <- s:
		return
	default:
	}
	select {
	case <-ch:
	default:
	}
	select {
	case ch <- s:
	default:
	}
}

// Latest returns the newest snapshot for a tenant.
func (h *Hub) Latest(tenantID string) (Snapshot, bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	s, ok := h.latest[tenantID]
	return s, ok
}

// All returns the newest snapshot of every tenant, ordered by tenant ID.
func (h *Hub) All() []Snapshot {
	h.mu.RLock()
	out := make([]Snapshot, 0, len(h.latest))
	for _, s := range h.latest {
		out = append(out, s)
	}
	h.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return out[i].TenantID < out[j].TenantID })
	return out
}

// Subscribe returns a channel of snapshots and a function that ends the
// subscription. The channel is closed when the hub stops or the
// subscription is cancelled.
func (h *Hub) Subscribe(buffer int) (<-chan Snapshot, func()) {
	if buffer < 1 {
		buffer = 1
	}
	ch := make(chan Snapshot, buffer)

	h.mu.Lock()
	id := h.nextID
	h.nextID++
	h.subs[id] = ch
	h.mu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			h.mu.Lock()
			if _, ok := h.subs[id]; ok {
				delete(h.subs, id)
				close(ch)
			}
			h.mu.Unlock()
		})
	}
}

func (h *Hub) closeSubscribers() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for id, ch := range h.subs {
		close(ch)
		delete(h.subs, id)
	}
}

func recordAggregate(tenantID string, agg *models.Aggregate) {
	for _, status := range models.Statuses {
		metrics.TasksByStatus.WithLabelValues(tenantID, status.String()).Set(float64(agg.CountsByStatus[status]))
		metrics.WordsByStatus.WithLabelValues(tenantID, status.String()).Set(float64(agg.WordsByStatus[status]))
	}
	metrics.OverdueTasks.WithLabelValues(tenantID).Set(float64(len(agg.OverdueTasks)))
}

func forgetTenantMetrics(tenantID string) {
	for _, status := range models.Statuses {
		metrics.TasksByStatus.DeleteLabelValues(tenantID, status.String())
		metrics.WordsByStatus.DeleteLabelValues(tenantID, status.String())
	}
	metrics.OverdueTasks.DeleteLabelValues(tenantID)
	metrics.ConsecutiveFailures.DeleteLabelValues(tenantID)
	metrics.TenantAvailable.DeleteLabelValues(tenantID)
	metrics.CycleDuration.DeleteLabelValues(tenantID)
	for _, r := range []Result{ResultSuccess, ResultAuthError, ResultAPIError, ResultCancelled} {
		metrics.CyclesTotal.DeleteLabelValues(tenantID, string(r))
	}
}
