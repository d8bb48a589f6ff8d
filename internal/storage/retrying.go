package storage

import (
	"context"
	"errors"

	"github.com/justestif/soundshelf/internal/metrics"
	"github.com/justestif/soundshelf/internal/retry"
)

// RetryingStore retries every call of the wrapped store. All four operations
// are idempotent: puts go to deterministic paths, deletes of missing objects
// succeed, and metadata writes carry the full desired state.
type RetryingStore struct {
	next    Store
	policy  retry.Policy
	metrics *metrics.Metrics
}

// NewRetryingStore wraps next. m may be nil.
func NewRetryingStore(next Store, policy retry.Policy, m *metrics.Metrics) *RetryingStore {
	return &RetryingStore{next: next, policy: policy, metrics: m}
}

// Put implements Store.
func (s *RetryingStore) Put(ctx context.Context, objectPath string, data []byte, meta Metadata) error {
	err := retry.Do(ctx, s.policy, func(ctx context.Context) error {
		return s.next.Put(ctx, objectPath, data, meta)
	})
	s.record("put", err)
	return err
}

// Delete implements Store.
func (s *RetryingStore) Delete(ctx context.Context, objectPath string) error {
	err := retry.Do(ctx, s.policy, func(ctx context.Context) error {
		return s.next.Delete(ctx, objectPath)
	})
	s.record("delete", err)
	return err
}

// Metadata implements Store.
func (s *RetryingStore) Metadata(ctx context.Context, objectPath string) (Metadata, error) {
	meta, err := retry.Value(ctx, s.policy, func(ctx context.Context) (Metadata, error) {
		return s.next.Metadata(ctx, objectPath)
	}, ErrObjectNotFound)
	s.record("stat", err)
	return meta, err
}

// SetMetadata implements Store.
func (s *RetryingStore) SetMetadata(ctx context.Context, objectPath string, meta Metadata) error {
	err := retry.Do(ctx, s.policy, func(ctx context.Context) error {
		return s.next.SetMetadata(ctx, objectPath, meta)
	}, ErrObjectNotFound)
	s.record("set_metadata", err)
	return err
}

func (s *RetryingStore) record(op string, err error) {
	if s.metrics == nil {
		return
	}
	status := "ok"
	switch {
	case isNotFound(err):
		status = "not_found"
	case err != nil:
		status = "error"
	}
	s.metrics.StoreOps.WithLabelValues(op, status).Inc()
}

func isNotFound(err error) bool {
	return errors.Is(err, ErrObjectNotFound)
}

var (
	_ Store = (*MemoryStore)(nil)
	_ Store = (*MinioStore)(nil)
	_ Store = (*RetryingStore)(nil)
)
