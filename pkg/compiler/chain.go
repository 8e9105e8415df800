package compiler

import (
	"context"
	"sync"

	"github.com/flowcore/dataflow/pkg/fanout"
	"github.com/flowcore/dataflow/pkg/metrics"
	"github.com/flowcore/dataflow/pkg/microbatch"
	"github.com/flowcore/dataflow/pkg/stage"
)

// passthroughKernel implements the Empty term: every microbatch is emitted
// unchanged.
func passthroughKernel[T any]() stage.Kernel[T, T] {
	return stage.KernelFunc[T, T](func(_ context.Context, mb *microbatch.Microbatch[T], emit func(*microbatch.Microbatch[T])) error {
		emit(mb)
		return nil
	})
}

// replicate wraps factory in a fanout.Farm when p calls for more than one
// worker, and returns a single replica directly otherwise; every operator
// site in the compiled network goes through this so Pardeg()==1 never pays
// for a farm's emitter/collector indirection. st selects the farm variant:
// STREAM gets the ordered farm (strict round-robin dispatch and matching
// drain, preserving global FIFO across workers); BAG gets the unordered,
// work-stealing farm.
func replicate[T any](p int, st StructureType, class OperatorClass, m *metrics.Metrics, factory func() stage.Runner[T, T]) stage.Runner[T, T] {
	if p <= 1 {
		return factory()
	}
	farm := fanout.New(p, factory, fanoutMode(st))
	farm.Sync = syncRouting(class)
	farm.Label = class.String()
	farm.Metrics = m
	return farm
}

// syncRouting maps an operator class onto the farm's sync-forwarding
// variant: classes whose stages partition per-tag state across workers get
// targeted per-tag sync; everything else broadcasts.
func syncRouting(class OperatorClass) fanout.SyncRouting {
	if class == ClassPReduce {
		return fanout.TargetedSync
	}
	return fanout.BroadcastSync
}

// fanoutMode maps a Term's structural discipline onto the fanout package's
// dispatch/drain mode.
func fanoutMode(st StructureType) fanout.Mode {
	if st == Stream {
		return fanout.Ordered
	}
	return fanout.Unordered
}

// chain wires a sequence of runners back-to-back with internal channels:
// the output of stage i is the input of stage i+1, and each internal
// channel is closed once its upstream runner's Run returns.
type chain[T any] struct {
	runners []stage.Runner[T, T]
}

func newChain[T any](runners []stage.Runner[T, T]) stage.Runner[T, T] {
	if len(runners) == 1 {
		return runners[0]
	}
	return &chain[T]{runners: runners}
}

// Run implements stage.Runner.
func (c *chain[T]) Run(ctx context.Context, p stage.Params[T, T]) {
	n := len(c.runners)
	links := make([]chan *microbatch.Envelope[T], n+1)
	links[0] = nil
	links[n] = nil

	for i := 1; i < n; i++ {
		links[i] = make(chan *microbatch.Envelope[T])
	}

	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		var in <-chan *microbatch.Envelope[T]
		var out chan<- *microbatch.Envelope[T]
		if i == 0 {
			in = p.Input()
		} else {
			in = links[i]
		}
		if i == n-1 {
			out = p.Output()
		} else {
			out = links[i+1]
		}

		wg.Add(1)
		go func(idx int, in <-chan *microbatch.Envelope[T], out chan<- *microbatch.Envelope[T]) {
			defer wg.Done()
			c.runners[idx].Run(ctx, &stage.WorkerParams[T, T]{
				Index: p.StageIndex(),
				InCh:  in,
				OutCh: out,
				ErrCh: p.Error(),
			})
			if idx < n-1 {
				close(links[idx+1])
			}
		}(i, in, out)
	}
	wg.Wait()
}
