package transcode

import (
	"errors"

	"golang.org/x/sync/semaphore"

	"github.com/justestif/soundshelf/internal/metrics"
)

// DefaultWorkers bounds concurrent encoder processes across all requests.
const DefaultWorkers = 4

// ErrBusy is returned when every encoder slot is taken.
var ErrBusy = errors.New("transcode pool saturated")

// Pool bounds the number of encoder processes running at once.
type Pool struct {
	size    int64
	sem     *semaphore.Weighted
	metrics *metrics.Metrics
}

// NewPool creates a pool with size slots. m may be nil.
func NewPool(size int, m *metrics.Metrics) *Pool {
	if size <= 0 {
		size = DefaultWorkers
	}
	return &Pool{
		size:    int64(size),
		sem:     semaphore.NewWeighted(int64(size)),
		metrics: m,
	}
}

// Size returns the number of slots.
func (p *Pool) Size() int {
	return int(p.size)
}

// TryAcquire takes n slots without waiting, capped at the pool size so a
// request never asks for more than can exist. It returns the number taken.
func (p *Pool) TryAcquire(n int) (int, error) {
	w := min(int64(n), p.size)
	if w <= 0 {
		w = 1
	}
	if !p.sem.TryAcquire(w) {
		return 0, ErrBusy
	}
	if p.metrics != nil {
		p.metrics.TranscodesActive.Add(float64(w))
	}
	return int(w), nil
}

// Release returns n slots taken by TryAcquire.
func (p *Pool) Release(n int) {
	if n <= 0 {
		return
	}
	p.sem.Release(int64(n))
	if p.metrics != nil {
		p.metrics.TranscodesActive.Sub(float64(n))
	}
}
