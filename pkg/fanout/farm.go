package fanout

import (
	"context"
	"sync"

	"github.com/flowcore/dataflow/pkg/metrics"
	"github.com/flowcore/dataflow/pkg/microbatch"
	"github.com/flowcore/dataflow/pkg/stage"
)

// Farm runs len(Workers) copies of a Runner in parallel, fanning a single
// input edge out across them with Emitter and fanning their outputs back in
// with Collector. Every worker gets its own causal-FIFO input channel so
// control-token bracketing inside each worker stays correct; data is
// load-balanced across workers (Unordered mode) or dispatched in lockstep
// rotation (Ordered mode).
type Farm[In, Out any] struct {
	Workers []stage.Runner[In, Out]
	Mode    Mode

	// Sync selects how per-tag C_BEGIN/C_END travel through the farm:
	// broadcast to every worker (default) or targeted at the tag's owner,
	// for operators that partition per-tag state across workers.
	Sync SyncRouting

	// Label names this farm's logical stage in the counters it reports;
	// Metrics may be nil, which disables reporting.
	Label   string
	Metrics *metrics.Metrics
}

// New returns a Farm replicating the Runner produced by factory across n
// workers, using mode's dispatch/drain discipline.
func New[In, Out any](n int, factory func() stage.Runner[In, Out], mode Mode) *Farm[In, Out] {
	if n <= 0 {
		panic("fanout: Farm requires n > 0")
	}
	workers := make([]stage.Runner[In, Out], n)
	for i := range workers {
		workers[i] = factory()
	}
	return &Farm[In, Out]{Workers: workers, Mode: mode}
}

// Run implements stage.Runner.
func (f *Farm[In, Out]) Run(ctx context.Context, p stage.Params[In, Out]) {
	n := len(f.Workers)
	inCh := make([]chan *microbatch.Envelope[In], n)
	outCh := make([]chan *microbatch.Envelope[Out], n)
	for i := range inCh {
		inCh[i] = make(chan *microbatch.Envelope[In])
		outCh[i] = make(chan *microbatch.Envelope[Out])
	}

	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(idx int) {
			defer wg.Done()
			wp := &stage.WorkerParams[In, Out]{
				Index: p.StageIndex(),
				InCh:  inCh[idx],
				OutCh: outCh[idx],
				ErrCh: p.Error(),
			}
			f.Workers[idx].Run(ctx, wp)
		}(i)
	}

	collector := NewCollector[Out](n, f.Mode)
	emitter := NewEmitter[In](f.Mode)
	if f.Sync == TargetedSync {
		collector = NewTargetedSyncCollector[Out](n, f.Mode)
		emitter = NewTargetedSyncEmitter[In](f.Mode)
	}
	collector.Label, collector.Metrics = f.Label, f.Metrics

	var collectWG sync.WaitGroup
	collectWG.Add(1)
	go func() {
		defer collectWG.Done()
		collector.Run(ctx, outCh, p.Output())
	}()
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
			if !emitter.Dispatch(ctx, env, inCh) {
				break dispatch
			}
		}
	}

	for _, ch := range inCh {
		close(ch)
	}
	wg.Wait()
	for _, ch := range outCh {
		close(ch)
	}
	collectWG.Wait()
}
