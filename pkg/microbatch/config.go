package microbatch

import (
	"os"
	"strconv"
	"sync"
)

// DefaultCapacity is used when neither the caller nor the MBSIZE
// environment variable specify a microbatch capacity.
const DefaultCapacity = 1024

var (
	capacityOnce sync.Once
	capacityMu   sync.RWMutex
	capacity     = DefaultCapacity
)

// InitCapacity sets the process-wide microbatch capacity exactly once, the
// first time it is called. A positive MBSIZE environment variable, if set,
// overrides the requested default. This is the only process-wide mutable
// state in the core, and it is read-only once the executor has started
// stages.
func InitCapacity(requestedDefault int) int {
	capacityOnce.Do(func() {
		capacityMu.Lock()
		defer capacityMu.Unlock()
		capacity = requestedDefault
		if v := os.Getenv("MBSIZE"); v != "" {
			if n, err := strconv.Atoi(v); err == nil && n > 0 {
				capacity = n
			}
		}
	})
	return Capacity()
}

// Capacity returns the currently configured microbatch capacity.
func Capacity() int {
	capacityMu.RLock()
	defer capacityMu.RUnlock()
	return capacity
}

// ResetCapacityForTest restores the package to its never-initialized state.
// Only used by tests in this package and pkg/kernels.
func ResetCapacityForTest() {
	capacityMu.Lock()
	defer capacityMu.Unlock()
	capacity = DefaultCapacity
	capacityOnce = sync.Once{}
}
