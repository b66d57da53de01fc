package stream

import (
	"sync"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/dgnsrekt/catalog-stream/internal/metrics"
	"github.com/dgnsrekt/catalog-stream/internal/store"
)

// DefaultQueueCapacity is the per-session delivery queue size.
const DefaultQueueCapacity = 100

// PublishResult reports how a publish fanned out.
type PublishResult struct {
	Delivered int
	Dropped   int
}

// DropFunc is called once per subscriber whose queue was full. It runs on
// the publishing goroutine after the registry lock is released and must
// not block.
type DropFunc func(kind store.Kind, sessionID string)

// Registry fans snapshots out to per-session delivery queues, partitioned
// by resource kind. Publishing never blocks: a full queue drops the new
// snapshot for that subscriber only.
type Registry struct {
	mu         sync.RWMutex
	partitions map[store.Kind]map[string]chan store.Snapshot
	capacity   int
	onDrop     DropFunc
	logger     *zap.Logger
}

// NewRegistry creates a registry whose queues hold capacity snapshots.
func NewRegistry(capacity int, logger *zap.Logger) *Registry {
	if capacity < 1 {
		capacity = DefaultQueueCapacity
	}
	partitions := make(map[store.Kind]map[string]chan store.Snapshot)
	for _, kind := range store.Kinds() {
		partitions[kind] = make(map[string]chan store.Snapshot)
	}
	return &Registry{
		partitions: partitions,
		capacity:   capacity,
		logger:     logger,
	}
}

// OnDrop installs the drop hook. Call before the registry is shared.
func (r *Registry) OnDrop(fn DropFunc) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.onDrop = fn
}

// Subscribe registers a new session for kind and returns its id and queue.
func (r *Registry) Subscribe(kind store.Kind) (string, <-chan store.Snapshot) {
	id := uuid.NewString()
	queue := make(chan store.Snapshot, r.capacity)

	r.mu.Lock()
	partition, ok := r.partitions[kind]
	if !ok {
		partition = make(map[string]chan store.Snapshot)
		r.partitions[kind] = partition
	}
	partition[id] = queue
	count := len(partition)
	r.mu.Unlock()

	r.logger.Debug("session subscribed",
		zap.String("kind", kind.String()),
		zap.String("session_id", id),
		zap.Int("subscribers", count),
	)
	return id, queue
}

// Unsubscribe removes the session. Removing an unknown id is a no-op.
func (r *Registry) Unsubscribe(kind store.Kind, id string) {
	r.mu.Lock()
	partition := r.partitions[kind]
	_, ok := partition[id]
	if ok {
		delete(partition, id)
	}
	count := len(partition)
	r.mu.Unlock()

	if ok {
		r.logger.Debug("session unsubscribed",
			zap.String("kind", kind.String()),
			zap.String("session_id", id),
			zap.Int("subscribers", count),
		)
	}
}

// Publish offers snap to every subscriber of kind.
func (r *Registry) Publish(kind store.Kind, snap store.Snapshot) PublishResult {
	var (
		result  PublishResult
		dropped []string
	)

	r.mu.RLock()
	for id, queue := range r.partitions[kind] {
		select {
		case queue <- snap:
			result.Delivered++
		default:
			result.Dropped++
			dropped = append(dropped, id)
		}
	}
	onDrop := r.onDrop
	r.mu.RUnlock()

	metrics.SnapshotsPublished.WithLabelValues(kind.Event()).Inc()

	for _, id := range dropped {
		metrics.SnapshotsDropped.WithLabelValues(kind.Event()).Inc()
		r.logger.Warn("delivery queue full, dropping snapshot",
			zap.String("kind", kind.String()),
			zap.String("session_id", id),
		)
		if onDrop != nil {
			onDrop(kind, id)
		}
	}

	return result
}

// Subscribers returns the number of sessions registered for kind.
func (r *Registry) Subscribers(kind store.Kind) int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.partitions[kind])
}
