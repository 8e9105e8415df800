package fanout

import (
	"context"
	"sync"

	"github.com/flowcore/dataflow/pkg/metrics"
	"github.com/flowcore/dataflow/pkg/microbatch"
)

// Collector merges the p output channels of a farm's workers back into a
// single output edge, deduplicating control tokens with a Coalescer so a
// downstream stage observes exactly one BEGIN, one END and one matched
// C_BEGIN/C_END pair per logical sync boundary regardless of parallelism.
// Data envelopes need no deduplication since Emitter sends each one to
// exactly one worker. Mode selects how chs are merged: Unordered merges in
// arrival order; Ordered drains chs in the same strict round-robin the
// paired Emitter dispatched in, so that per-worker FIFO composes to a
// global FIFO.
type Collector[T any] struct {
	coalescer *Coalescer
	mode      Mode

	// Label names the logical stage this collector fans in for; Metrics
	// receives one ObserveCoalesced per forwarded sync token and one
	// ObserveBatchOut per forwarded data microbatch. Metrics may be nil,
	// which disables reporting.
	Label   string
	Metrics *metrics.Metrics
}

// NewCollector returns a Collector expecting parallelism independent
// arrivals per sync boundary, merging per mode.
func NewCollector[T any](parallelism int, mode Mode) *Collector[T] {
	return &Collector[T]{coalescer: NewCoalescer(parallelism), mode: mode}
}

// NewTargetedSyncCollector returns a Collector paired with a
// TargetedSync emitter: per-tag sync arrives from exactly one worker, so
// it is forwarded on sight, while BEGIN/END still coalesce across all
// parallelism workers.
func NewTargetedSyncCollector[T any](parallelism int, mode Mode) *Collector[T] {
	return &Collector[T]{coalescer: NewTargetedCoalescer(parallelism), mode: mode}
}

// Run merges chs into out until every channel in chs is closed or ctx is
// done. It does not close out; the caller does that once Run returns.
func (co *Collector[T]) Run(ctx context.Context, chs []chan *microbatch.Envelope[T], out chan<- *microbatch.Envelope[T]) {
	if co.mode == Ordered {
		co.runOrdered(ctx, chs, out)
		return
	}
	co.runUnordered(ctx, chs, out)
}

// runUnordered merges chs via a shared channel fed by one goroutine per
// worker, forwarding whichever envelope arrives first, which is correct
// whenever downstream order doesn't matter (BAG flows).
func (co *Collector[T]) runUnordered(ctx context.Context, chs []chan *microbatch.Envelope[T], out chan<- *microbatch.Envelope[T]) {
	merged := make(chan *microbatch.Envelope[T])
	var wg sync.WaitGroup
	for _, ch := range chs {
		wg.Add(1)
		go func(ch chan *microbatch.Envelope[T]) {
			defer wg.Done()
			for {
				select {
				case env, ok := <-ch:
					if !ok {
						return
					}
					select {
					case merged <- env:
					case <-ctx.Done():
						return
					}
				case <-ctx.Done():
					return
				}
			}
		}(ch)
	}
	go func() {
		wg.Wait()
		close(merged)
	}()

	for {
		select {
		case env, ok := <-merged:
			if !ok {
				return
			}
			co.forward(ctx, env, out)
		case <-ctx.Done():
			return
		}
	}
}

// runOrdered drains chs in strict round-robin (worker 0, worker 1, ...,
// worker p-1, worker 0, ...), blocking on whichever worker's turn it is and
// skipping workers whose channel has already closed. Since the paired
// Emitter dispatches data in the same rotation (broadcasting control tokens
// to every worker in between), replaying that rotation on read reconstructs
// the exact global order the data and control tokens were offloaded in.
func (co *Collector[T]) runOrdered(ctx context.Context, chs []chan *microbatch.Envelope[T], out chan<- *microbatch.Envelope[T]) {
	n := len(chs)
	closed := make([]bool, n)
	remaining := n
	turn := 0
	for remaining > 0 {
		if closed[turn] {
			turn = (turn + 1) % n
			continue
		}
		select {
		case env, ok := <-chs[turn]:
			if !ok {
				closed[turn] = true
				remaining--
				turn = (turn + 1) % n
				continue
			}
			co.forward(ctx, env, out)
			turn = (turn + 1) % n
		case <-ctx.Done():
			return
		}
	}
}

func (co *Collector[T]) forward(ctx context.Context, env *microbatch.Envelope[T], out chan<- *microbatch.Envelope[T]) {
	if !env.IsControl() {
		co.Metrics.ObserveBatchOut(co.Label)
		Send(ctx, env, out)
		return
	}
	switch env.Control.Kind {
	case microbatch.Begin:
		if co.coalescer.Begin() {
			co.sendSync(ctx, env, out)
		}
	case microbatch.End:
		if co.coalescer.End() {
			co.sendSync(ctx, env, out)
		}
	case microbatch.CStreamBegin:
		if co.coalescer.CStreamBegin(env.Control.Tag) {
			co.sendSync(ctx, env, out)
		}
	case microbatch.CStreamEnd:
		if co.coalescer.CStreamEnd(env.Control.Tag) {
			co.sendSync(ctx, env, out)
		}
	default:
		// FromLeft/FromRight origin markers only matter immediately before a
		// pair farm's binary operator; pkg/pairfarm owns its own collector
		// for those and never routes them through this one.
		Send(ctx, env, out)
	}
}

// sendSync forwards a sync token that survived coalescing, counting it.
func (co *Collector[T]) sendSync(ctx context.Context, env *microbatch.Envelope[T], out chan<- *microbatch.Envelope[T]) {
	co.Metrics.ObserveCoalesced(env.Control.Kind.String())
	Send(ctx, env, out)
}

// Send attempts to forward env to out, giving up if ctx is canceled first.
// Shared by fanout.Collector and pairfarm.Collector.
func Send[T any](ctx context.Context, env *microbatch.Envelope[T], out chan<- *microbatch.Envelope[T]) {
	select {
	case out <- env:
	case <-ctx.Done():
	}
}
