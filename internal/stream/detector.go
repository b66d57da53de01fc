package stream

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/cespare/xxhash/v2"
	"github.com/jonboulle/clockwork"
	"go.uber.org/zap"

	"github.com/dgnsrekt/catalog-stream/internal/metrics"
	"github.com/dgnsrekt/catalog-stream/internal/store"
)

// fallbackLookback positions the initial watermark when the last update
// time cannot be read.
const fallbackLookback = time.Hour

// Snapshotter fetches the full current collection of one kind.
type Snapshotter interface {
	Snapshot(ctx context.Context) (store.Snapshot, error)
}

// Source is what a Detector polls.
type Source interface {
	Snapshotter
	Kind() store.Kind
	ChangedSince(ctx context.Context, since time.Time) (bool, error)
	LastModified(ctx context.Context) (time.Time, bool, error)
}

// Publisher receives the snapshots a Detector produces.
type Publisher interface {
	Publish(kind store.Kind, snap store.Snapshot) PublishResult
}

// Detector polls one source on a fixed interval and publishes a full
// snapshot whenever rows changed at or after its watermark.
//
// Row timestamps have one-second resolution, so the watermark is floored
// to the second and compared inclusively. A row stamped in the same second
// as the previous cycle is seen again; the snapshot digest keeps that from
// turning into a duplicate publish.
type Detector struct {
	source    Source
	publisher Publisher
	interval  time.Duration
	clock     clockwork.Clock
	logger    *zap.Logger

	mu        sync.RWMutex
	watermark time.Time

	// digest of the last published snapshot; owned by the Run goroutine.
	digest    uint64
	published bool
}

// NewDetector creates a detector for source.
func NewDetector(source Source, publisher Publisher, interval time.Duration, clock clockwork.Clock, logger *zap.Logger) *Detector {
	return &Detector{
		source:    source,
		publisher: publisher,
		interval:  interval,
		clock:     clock,
		logger:    logger.With(zap.String("kind", source.Kind().String())),
	}
}

// Run publishes once, then polls until ctx is cancelled.
func (d *Detector) Run(ctx context.Context) {
	d.logger.Info("change detector starting", zap.Duration("interval", d.interval))

	d.publishInitial(ctx)
	d.setWatermark(d.initialWatermark(ctx))

	for {
		select {
		case <-ctx.Done():
			d.logger.Info("change detector stopping")
			return
		case <-d.clock.After(d.interval):
			d.poll(ctx)
		}
	}
}

// Watermark returns the time changes are currently compared against.
func (d *Detector) Watermark() time.Time {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.watermark
}

func (d *Detector) setWatermark(t time.Time) {
	d.mu.Lock()
	d.watermark = t
	d.mu.Unlock()
}

func (d *Detector) publishInitial(ctx context.Context) {
	snap, err := d.fetch(ctx)
	if err != nil {
		d.logger.Error("initial snapshot fetch failed", zap.Error(err))
		return
	}
	digest, err := snapshotDigest(snap)
	if err != nil {
		d.logger.Error("initial snapshot encode failed", zap.Error(err))
		return
	}
	result := d.publisher.Publish(snap.Kind, snap)
	d.digest, d.published = digest, true
	d.logger.Debug("published initial snapshot",
		zap.Int("records", snap.Count),
		zap.Int("delivered", result.Delivered),
	)
}

func (d *Detector) initialWatermark(ctx context.Context) time.Time {
	fallback := d.clock.Now().Add(-fallbackLookback)

	last, ok, err := d.source.LastModified(ctx)
	if err != nil {
		d.logger.Error("reading last update time failed, using fallback watermark",
			zap.Time("watermark", fallback),
			zap.Error(err),
		)
		return fallback
	}
	if !ok {
		d.logger.Info("no rows yet, using fallback watermark", zap.Time("watermark", fallback))
		return fallback
	}
	return last
}

// poll runs one detection cycle. Any error skips the cycle and leaves the
// watermark untouched.
func (d *Detector) poll(ctx context.Context) {
	kind := d.source.Kind().Event()
	watermark := d.Watermark()

	// Read before querying: rows written while the cycle runs must still
	// be at or after the next watermark.
	next := d.clock.Now().Truncate(time.Second)
	if next.Before(watermark) {
		next = watermark
	}

	start := time.Now()
	changed, err := d.source.ChangedSince(ctx, watermark)
	metrics.StoreQueryDuration.WithLabelValues(kind, "changed_since").Observe(time.Since(start).Seconds())
	if err != nil {
		metrics.DetectorCycles.WithLabelValues(kind, "error").Inc()
		d.logger.Error("change check failed", zap.Time("watermark", watermark), zap.Error(err))
		return
	}
	if !changed {
		metrics.DetectorCycles.WithLabelValues(kind, "unchanged").Inc()
		return
	}

	snap, err := d.fetch(ctx)
	if err != nil {
		metrics.DetectorCycles.WithLabelValues(kind, "error").Inc()
		d.logger.Error("snapshot fetch failed", zap.Error(err))
		return
	}

	digest, err := snapshotDigest(snap)
	if err != nil {
		metrics.DetectorCycles.WithLabelValues(kind, "error").Inc()
		d.logger.Error("snapshot encode failed", zap.Error(err))
		return
	}
	if d.published && digest == d.digest {
		d.setWatermark(next)
		metrics.DetectorCycles.WithLabelValues(kind, "unchanged").Inc()
		d.logger.Debug("rows touched but snapshot unchanged", zap.Time("watermark", next))
		return
	}

	result := d.publisher.Publish(snap.Kind, snap)
	d.digest, d.published = digest, true
	d.setWatermark(next)
	metrics.DetectorCycles.WithLabelValues(kind, "changed").Inc()

	d.logger.Debug("published changed snapshot",
		zap.Int("records", snap.Count),
		zap.Int("delivered", result.Delivered),
		zap.Int("dropped", result.Dropped),
		zap.Time("watermark", next),
	)
}

func (d *Detector) fetch(ctx context.Context) (store.Snapshot, error) {
	start := time.Now()
	snap, err := d.source.Snapshot(ctx)
	metrics.StoreQueryDuration.WithLabelValues(d.source.Kind().Event(), "snapshot").Observe(time.Since(start).Seconds())
	if err != nil {
		return store.Snapshot{}, err
	}
	snap.Kind = d.source.Kind()
	return snap, nil
}

func snapshotDigest(snap store.Snapshot) (uint64, error) {
	payload, err := json.Marshal(snap.Records)
	if err != nil {
		return 0, fmt.Errorf("encoding %s snapshot: %w", snap.Kind, err)
	}
	return xxhash.Sum64(payload), nil
}
