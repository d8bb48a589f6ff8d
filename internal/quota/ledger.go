// Package quota meters per-user storage usage against a fixed cap.
package quota

import (
	"context"
	"errors"
	"fmt"

	"github.com/dustin/go-humanize"

	"github.com/justestif/soundshelf/internal/db"
	"github.com/justestif/soundshelf/internal/metrics"
)

// DefaultLimit is the per-user storage cap (100 MiB).
const DefaultLimit int64 = 100 * 1024 * 1024

// Sentinel errors.
var (
	// ErrQuotaExceeded is returned when a reservation would push usage past the cap.
	ErrQuotaExceeded = errors.New("storage limit exceeded")

	// ErrUserNotFound is returned when no usage record exists for the user.
	ErrUserNotFound = errors.New("user not found")
)

// Store is the persistence needed by the ledger. ReserveStorage must apply the
// check and the increment atomically and return db.ErrQuotaExceeded when the
// cap would be exceeded.
type Store interface {
	ReserveStorage(ctx context.Context, userID string, bytes, limit int64) (int64, error)
	ReleaseStorage(ctx context.Context, userID string, bytes int64) (int64, error)
	Get(ctx context.Context, userID string) (*db.User, error)
}

// Reservation is a granted charge against a user's quota.
type Reservation struct {
	UserID   string
	Bytes    int64
	NewTotal int64
}

// Ledger charges and credits storage usage.
type Ledger struct {
	store   Store
	limit   int64
	metrics *metrics.Metrics
}

// Option configures a Ledger.
type Option func(*Ledger)

// WithLimit sets the per-user cap in bytes.
func WithLimit(limit int64) Option {
	return func(l *Ledger) {
		if limit > 0 {
			l.limit = limit
		}
	}
}

// WithMetrics records reservations on m.
func WithMetrics(m *metrics.Metrics) Option {
	return func(l *Ledger) {
		l.metrics = m
	}
}

// NewLedger creates a ledger over store.
func NewLedger(store Store, opts ...Option) *Ledger {
	l := &Ledger{
		store: store,
		limit: DefaultLimit,
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Limit returns the per-user cap in bytes.
func (l *Ledger) Limit() int64 {
	return l.limit
}

// Reserve charges bytes to userID. A denied reservation leaves usage untouched
// and returns an error wrapping ErrQuotaExceeded.
func (l *Ledger) Reserve(ctx context.Context, userID string, bytes int64) (Reservation, error) {
	if bytes < 0 {
		return Reservation{}, fmt.Errorf("reserve %d bytes: negative size", bytes)
	}

	total, err := l.store.ReserveStorage(ctx, userID, bytes, l.limit)
	switch {
	case errors.Is(err, db.ErrNotFound):
		return Reservation{}, fmt.Errorf("%w: %s", ErrUserNotFound, userID)
	case errors.Is(err, db.ErrQuotaExceeded):
		if l.metrics != nil {
			l.metrics.QuotaDenials.Inc()
		}
		return Reservation{}, fmt.Errorf("%w: %s used of %s, file needs %s",
			ErrQuotaExceeded,
			humanize.IBytes(uint64(total)),
			humanize.IBytes(uint64(l.limit)),
			humanize.IBytes(uint64(bytes)),
		)
	case err != nil:
		return Reservation{}, fmt.Errorf("reserving storage: %w", err)
	}

	if l.metrics != nil {
		l.metrics.BytesReserved.Add(float64(bytes))
	}
	return Reservation{UserID: userID, Bytes: bytes, NewTotal: total}, nil
}

// Release credits bytes back to userID.
func (l *Ledger) Release(ctx context.Context, userID string, bytes int64) error {
	if bytes <= 0 {
		return nil
	}
	if _, err := l.store.ReleaseStorage(ctx, userID, bytes); err != nil {
		if errors.Is(err, db.ErrNotFound) {
			return fmt.Errorf("%w: %s", ErrUserNotFound, userID)
		}
		return fmt.Errorf("releasing storage: %w", err)
	}
	if l.metrics != nil {
		l.metrics.BytesReleased.Add(float64(bytes))
	}
	return nil
}

// ReleaseAll credits every reservation back, returning the joined errors.
func (l *Ledger) ReleaseAll(ctx context.Context, reservations []Reservation) error {
	var errs []error
	for _, r := range reservations {
		if err := l.Release(ctx, r.UserID, r.Bytes); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Usage returns the user's current usage in bytes.
func (l *Ledger) Usage(ctx context.Context, userID string) (int64, error) {
	user, err := l.store.Get(ctx, userID)
	if errors.Is(err, db.ErrNotFound) {
		return 0, fmt.Errorf("%w: %s", ErrUserNotFound, userID)
	}
	if err != nil {
		return 0, fmt.Errorf("getting user: %w", err)
	}
	return user.UsedStorageBytes, nil
}
