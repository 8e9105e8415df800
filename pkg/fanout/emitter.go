package fanout

import (
	"context"
	"hash/fnv"

	"github.com/flowcore/dataflow/pkg/microbatch"
)

// Emitter fans a single input edge out across p worker input channels.
// Control tokens are broadcast to every worker by default so each worker's
// local BEGIN/END/C_BEGIN/C_END bookkeeping observes every boundary; a
// TargetedSync emitter (key-partitioned stages) instead delivers per-tag
// C_BEGIN/C_END only to the tag's owning worker, while BEGIN/END still
// broadcast. Data
// dispatch depends on mode: Unordered load-balances with a non-blocking
// probe starting right after the last worker that accepted data, falling
// back to a blocking send on the next worker in round-robin order when
// every worker is momentarily busy (work-stealing); Ordered dispatches in
// strict round-robin with no probing, so that the paired Collector's
// matching round-robin drain reconstructs the same FIFO order.
//
// A single shared channel cannot serve both roles: a control token sent on
// it would be consumed by exactly one worker instead of all of them, so each
// worker is given its own dedicated input channel and Dispatch writes to
// whichever channels the token requires.
type Emitter[T any] struct {
	mode Mode
	sync SyncRouting
	next int
}

// NewEmitter returns an Emitter with its round-robin cursor at zero,
// dispatching data per mode and broadcasting all control tokens.
func NewEmitter[T any](mode Mode) *Emitter[T] { return &Emitter[T]{mode: mode} }

// NewTargetedSyncEmitter returns an Emitter that delivers per-tag
// C_BEGIN/C_END to the single worker owning the tag (see TagWorker) instead
// of broadcasting them; BEGIN/END still reach every worker.
func NewTargetedSyncEmitter[T any](mode Mode) *Emitter[T] {
	return &Emitter[T]{mode: mode, sync: TargetedSync}
}

// Dispatch sends env to chs according to the rules above. It returns false
// if ctx is canceled before the send completes.
func (e *Emitter[T]) Dispatch(ctx context.Context, env *microbatch.Envelope[T], chs []chan *microbatch.Envelope[T]) bool {
	if env.IsControl() {
		if e.sync == TargetedSync {
			switch env.Control.Kind {
			case microbatch.CStreamBegin, microbatch.CStreamEnd:
				target := chs[TagWorker(env.Control.Tag, len(chs))]
				select {
				case target <- env:
					return true
				case <-ctx.Done():
					return false
				}
			}
		}
		for _, ch := range chs {
			select {
			case ch <- env:
			case <-ctx.Done():
				return false
			}
		}
		return true
	}

	if e.mode == Ordered {
		return e.dispatchOrdered(ctx, env, chs)
	}
	return e.dispatchUnordered(ctx, env, chs)
}

// dispatchOrdered sends env to the next worker in strict rotation, never
// probing ahead: the paired Collector drains the same rotation, so skipping
// a busy worker here would desynchronize the two and reorder the stream.
func (e *Emitter[T]) dispatchOrdered(ctx context.Context, env *microbatch.Envelope[T], chs []chan *microbatch.Envelope[T]) bool {
	idx := e.next
	e.next = (idx + 1) % len(chs)
	select {
	case chs[idx] <- env:
		return true
	case <-ctx.Done():
		return false
	}
}

// dispatchUnordered load-balances: it probes starting at the worker after
// the last one that accepted data, falling back to a blocking send on the
// next worker in rotation when every worker is momentarily busy.
func (e *Emitter[T]) dispatchUnordered(ctx context.Context, env *microbatch.Envelope[T], chs []chan *microbatch.Envelope[T]) bool {
	n := len(chs)
	for i := 0; i < n; i++ {
		idx := (e.next + i) % n
		select {
		case chs[idx] <- env:
			e.next = (idx + 1) % n
			return true
		default:
		}
	}

	idx := e.next
	e.next = (idx + 1) % n
	select {
	case chs[idx] <- env:
		return true
	case <-ctx.Done():
		return false
	}
}

// TagWorker maps a tag onto the index of the worker that owns its state in
// a key-partitioned farm. The mapping is an FNV-1a hash of the tag, stable
// for the lifetime of the run so a tag's C_BEGIN and C_END land on the same
// worker. Data microbatches are dispatched per Mode, not by tag.
func TagWorker(tag microbatch.Tag, n int) int {
	h := fnv.New32a()
	_, _ = h.Write([]byte(tag.String()))
	return int(h.Sum32() % uint32(n))
}
