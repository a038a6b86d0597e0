package results

import (
	"context"
	"errors"

	"golang.org/x/sync/errgroup"
)

// MultiStore writes every record to all backends concurrently.
type MultiStore struct {
	stores []Store
}

// NewMultiStore drops nil entries.
func NewMultiStore(stores ...Store) *MultiStore {
	m := &MultiStore{}
	for _, s := range stores {
		if s != nil {
			m.stores = append(m.stores, s)
		}
	}
	return m
}

// Len reports the number of configured backends.
func (m *MultiStore) Len() int {
	if m == nil {
		return 0
	}
	return len(m.stores)
}

// Record waits for all backends and joins their failures. A failure in one
// backend does not stop the others.
func (m *MultiStore) Record(ctx context.Context, rec PredictionRecord) error {
	errs := make([]error, len(m.stores))
	var g errgroup.Group
	for i, store := range m.stores {
		i, store := i, store
		g.Go(func() error {
			errs[i] = store.Record(ctx, rec)
			return nil
		})
	}
	_ = g.Wait()
	return errors.Join(errs...)
}
