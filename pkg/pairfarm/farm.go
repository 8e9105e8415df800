package pairfarm

import (
	"context"
	"sync"

	"github.com/flowcore/dataflow/pkg/metrics"
	"github.com/flowcore/dataflow/pkg/microbatch"
	"github.com/flowcore/dataflow/pkg/stage"
)

// Farm is a two-worker pair farm implementing a binary operator: Left and
// Right are independent pipelines, at most one of which receives data from
// the farm's single external input edge (selected by Mode); the other is
// expected to be wired to its own source. Their outputs are merged by a
// Collector that tags each per-tag stream's origin.
type Farm[In, Out any] struct {
	Left, Right stage.Runner[In, Out]
	Mode        Side

	// Label names this construct in the counters its collector reports;
	// Metrics may be nil, which disables reporting.
	Label   string
	Metrics *metrics.Metrics
}

// New returns a Farm wiring left and right as the two sides of a binary
// operator, with mode selecting which one owns the shared external edge.
func New[In, Out any](left, right stage.Runner[In, Out], mode Side) *Farm[In, Out] {
	return &Farm[In, Out]{Left: left, Right: right, Mode: mode}
}

// Run implements stage.Runner.
func (f *Farm[In, Out]) Run(ctx context.Context, p stage.Params[In, Out]) {
	leftIn := make(chan *microbatch.Envelope[In])
	rightIn := make(chan *microbatch.Envelope[In])
	leftOut := make(chan *microbatch.Envelope[Out])
	rightOut := make(chan *microbatch.Envelope[Out])

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		f.Left.Run(ctx, &stage.WorkerParams[In, Out]{Index: p.StageIndex(), InCh: leftIn, OutCh: leftOut, ErrCh: p.Error()})
	}()
	go func() {
		defer wg.Done()
		f.Right.Run(ctx, &stage.WorkerParams[In, Out]{Index: p.StageIndex(), InCh: rightIn, OutCh: rightOut, ErrCh: p.Error()})
	}()

	collector := NewCollector[Out]()
	collector.Label, collector.Metrics = f.Label, f.Metrics

	var collectWG sync.WaitGroup
	collectWG.Add(1)
	go func() {
		defer collectWG.Done()
		collector.Run(ctx, leftOut, rightOut, p.Output())
	}()

	emitter := NewEmitter[In](f.Mode)
dispatch:
	for {
		select {
		case <-ctx.Done():
			break dispatch
		case env, ok := <-p.Input():
			if !ok {
				break dispatch
			}
			if !env.IsControl() {
				f.Metrics.ObserveBatchIn(f.Label)
			}
			if !emitter.Dispatch(ctx, env, leftIn, rightIn) {
				break dispatch
			}
		}
	}

	close(leftIn)
	close(rightIn)
	wg.Wait()
	close(leftOut)
	close(rightOut)
	collectWG.Wait()
}
