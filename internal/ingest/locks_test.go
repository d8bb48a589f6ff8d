package ingest

import (
	"sync"
	"testing"
)

func TestKeyedMutex(t *testing.T) {
	var k keyedMutex
	var wg sync.WaitGroup
	keys := []string{"a", "b"}
	counts := make([]int, len(keys))

	for i := 0; i < 50; i++ {
		idx := i % len(keys)
		wg.Add(1)
		go func() {
			defer wg.Done()
			unlock := k.Lock(keys[idx])
			counts[idx]++
			unlock()
		}()
	}
	wg.Wait()

	if counts[0] != 25 || counts[1] != 25 {
		t.Errorf("counts = %v, want 25 each", counts)
	}
	if len(k.locks) != 0 {
		t.Errorf("%d lock entries left after all unlocks", len(k.locks))
	}
}
