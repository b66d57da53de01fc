package store

import (
	"context"
	"time"
)

// Source binds the store to a single resource kind. It satisfies the
// snapshot source contract the change detector and sessions depend on.
type Source struct {
	store *Store
	kind  Kind
	now   func() time.Time
}

// Source returns a snapshot source for kind.
func (s *Store) Source(kind Kind) *Source {
	return &Source{store: s, kind: kind, now: time.Now}
}

func (src *Source) Kind() Kind {
	return src.kind
}

// Snapshot fetches the full current collection.
func (src *Source) Snapshot(ctx context.Context) (Snapshot, error) {
	var (
		records any
		count   int
	)

	switch src.kind {
	case Items:
		items, err := src.store.Items(ctx)
		if err != nil {
			return Snapshot{}, err
		}
		records, count = items, len(items)
	case Orders:
		orders, err := src.store.Orders(ctx)
		if err != nil {
			return Snapshot{}, err
		}
		records, count = orders, len(orders)
	default:
		return Snapshot{}, ErrUnknownKind
	}

	return Snapshot{Kind: src.kind, Records: records, Count: count, TakenAt: src.now()}, nil
}

// ChangedSince reports whether any row was updated at or after since.
func (src *Source) ChangedSince(ctx context.Context, since time.Time) (bool, error) {
	switch src.kind {
	case Items:
		items, err := src.store.ItemsSince(ctx, since)
		return len(items) > 0, err
	case Orders:
		orders, err := src.store.OrdersSince(ctx, since)
		return len(orders) > 0, err
	default:
		return false, ErrUnknownKind
	}
}

// LastModified returns the most recent updated_at of the kind's table.
func (src *Source) LastModified(ctx context.Context) (time.Time, bool, error) {
	return src.store.LastUpdated(ctx, src.kind)
}

// EmptySnapshot is what sessions fall back to when a fetch fails.
func EmptySnapshot(kind Kind, at time.Time) Snapshot {
	var records any
	switch kind {
	case Orders:
		records = []Order{}
	default:
		records = []Item{}
	}
	return Snapshot{Kind: kind, Records: records, TakenAt: at}
}
