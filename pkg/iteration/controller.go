package iteration

import (
	"context"
	"sync"

	"github.com/flowcore/dataflow/pkg/metrics"
	"github.com/flowcore/dataflow/pkg/microbatch"
	"github.com/flowcore/dataflow/pkg/stage"
)

// Controller is the iteration construct as a whole: Body runs once per
// round, Multiplexer mints each round's bracket, and Switch decides whether
// a round's result feeds the next round or is released downstream. It
// implements stage.Runner so a compiled Iterate term slots into a pipeline
// exactly like any other stage.
type Controller[T any] struct {
	Body      stage.Runner[T, T]
	Condition TerminationCondition

	// Metrics receives one ObserveIterationRound per executed round; it may
	// be nil, which disables reporting.
	Metrics *metrics.Metrics
}

// New returns a Controller running body once per round of cond.
func New[T any](body stage.Runner[T, T], cond TerminationCondition) *Controller[T] {
	return &Controller[T]{Body: body, Condition: cond}
}

// Run implements stage.Runner. The construct's outer edge is BAG-structured
// (a single logical dataset, not a per-tag stream), so Run buffers every
// data microbatch that arrives between BEGIN and END and drives the fixed
// number of rounds once the dataset is fully known, rather than running
// Multiplexer and Switch as a long-lived concurrent cycle: the latter would
// need the outer edge's terminal END to queue behind however many rounds of
// feedback are still in flight, an ordering plain channels offer no way to
// guarantee between independent producers.
func (ctl *Controller[T]) Run(ctx context.Context, p stage.Params[T, T]) {
	var pending []*microbatch.Microbatch[T]
	ambient := microbatch.NilTag
	for {
		select {
		case <-ctx.Done():
			return
		case env, ok := <-p.Input():
			if !ok {
				return
			}
			if env.IsControl() {
				switch env.Control.Kind {
				case microbatch.Begin:
					send(ctx, env, p.Output())
				case microbatch.End:
					ctl.runFixedIterations(ctx, p, ambient, pending)
					send(ctx, env, p.Output())
					return
				case microbatch.CStreamBegin:
					// The incoming bracket is absorbed, not forwarded: the
					// construct emits its own bracket around the released
					// round, under this same ambient tag.
					ambient = env.Control.Tag
				}
				continue
			}
			pending = append(pending, env.Batch)
		}
	}
}

func (ctl *Controller[T]) runFixedIterations(ctx context.Context, p stage.Params[T, T], ambient microbatch.Tag, batches []*microbatch.Microbatch[T]) {
	mux := NewMultiplexer[T]()
	sw := NewSwitch[T](ctl.Condition)
	sw.AmbientTag = ambient
	total := ctl.Condition.Total()

	current := batches
	for round := 0; round < total; round++ {
		ctl.Metrics.ObserveIterationRound()
		out := ctl.runRound(ctx, p, mux.NewRoundTag(), current)
		if sw.Releasing(round) {
			for _, mb := range out {
				sw.Rewrite(mb)
			}
			ctl.release(ctx, p, sw.AmbientTag, out)
			return
		}
		current = out
	}
}

// runRound drives one pass of Body over batches, retagged under tag, and
// collects the data microbatches it emits. The round's own C_BEGIN/C_END
// brackets are internal to the pass: Body observes them, but they never
// cross into the next round or downstream.
func (ctl *Controller[T]) runRound(ctx context.Context, p stage.Params[T, T], tag microbatch.Tag, batches []*microbatch.Microbatch[T]) []*microbatch.Microbatch[T] {
	in := make(chan *microbatch.Envelope[T])
	out := make(chan *microbatch.Envelope[T])

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		ctl.Body.Run(ctx, &stage.WorkerParams[T, T]{Index: p.StageIndex(), InCh: in, OutCh: out, ErrCh: p.Error()})
	}()
	go func() {
		wg.Wait()
		close(out)
	}()

	go func() {
		send(ctx, microbatch.ControlEnvelope[T](microbatch.CStreamBegin, tag), in)
		for _, mb := range batches {
			mb.Retag(tag)
			send(ctx, microbatch.Data(mb), in)
		}
		send(ctx, microbatch.ControlEnvelope[T](microbatch.CStreamEnd, tag), in)
		close(in)
	}()

	var result []*microbatch.Microbatch[T]
	for env := range out {
		if !env.IsControl() {
			result = append(result, env.Batch)
		}
	}
	wg.Wait()
	return result
}

func (ctl *Controller[T]) release(ctx context.Context, p stage.Params[T, T], tag microbatch.Tag, batches []*microbatch.Microbatch[T]) {
	send(ctx, microbatch.ControlEnvelope[T](microbatch.CStreamBegin, tag), p.Output())
	for _, mb := range batches {
		send(ctx, microbatch.Data(mb), p.Output())
	}
	send(ctx, microbatch.ControlEnvelope[T](microbatch.CStreamEnd, tag), p.Output())
}
