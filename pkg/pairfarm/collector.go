package pairfarm

import (
	"context"

	"github.com/flowcore/dataflow/pkg/fanout"
	"github.com/flowcore/dataflow/pkg/metrics"
	"github.com/flowcore/dataflow/pkg/microbatch"
)

// Collector merges a pair farm's Left and Right output edges into one.
// Top-level BEGIN/END are coalesced across both sides (each must arrive
// twice before it is forwarded once), but per-tag C_BEGIN/C_END pass
// through uncoalesced: a tag's segment is produced by exactly one side, so
// there is never a second arrival to wait for. On each C_BEGIN(tag) the
// collector forwards the token and then immediately a FromLeft or
// FromRight origin marker naming the side it arrived on.
type Collector[T any] struct {
	coalescer *fanout.Coalescer

	// Label names the pair construct in the counters this collector
	// reports; Metrics may be nil, which disables reporting.
	Label   string
	Metrics *metrics.Metrics
}

// NewCollector returns a Collector for a two-worker pair farm.
func NewCollector[T any]() *Collector[T] {
	return &Collector[T]{coalescer: fanout.NewCoalescer(2)}
}

type sided[T any] struct {
	side Side
	env  *microbatch.Envelope[T]
}

// Run merges leftCh/rightCh into out until both are closed or ctx is done.
// It does not close out; the caller does that once Run returns.
func (co *Collector[T]) Run(ctx context.Context, leftCh, rightCh chan *microbatch.Envelope[T], out chan<- *microbatch.Envelope[T]) {
	merged := make(chan sided[T])
	done := make(chan struct{}, 2)

	pump := func(side Side, ch chan *microbatch.Envelope[T]) {
		for {
			select {
			case env, ok := <-ch:
				if !ok {
					done <- struct{}{}
					return
				}
				select {
				case merged <- sided[T]{side: side, env: env}:
				case <-ctx.Done():
					done <- struct{}{}
					return
				}
			case <-ctx.Done():
				done <- struct{}{}
				return
			}
		}
	}
	go pump(ToLeft, leftCh)
	go pump(ToRight, rightCh)
	go func() {
		<-done
		<-done
		close(merged)
	}()

	for {
		select {
		case item, ok := <-merged:
			if !ok {
				return
			}
			co.forward(ctx, item.side, item.env, out)
		case <-ctx.Done():
			return
		}
	}
}

func (co *Collector[T]) forward(ctx context.Context, side Side, env *microbatch.Envelope[T], out chan<- *microbatch.Envelope[T]) {
	if !env.IsControl() {
		co.Metrics.ObserveBatchOut(co.Label)
		fanout.Send(ctx, env, out)
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
		co.sendSync(ctx, env, out)
		originKind := microbatch.FromLeft
		if side == ToRight {
			originKind = microbatch.FromRight
		}
		co.sendSync(ctx, microbatch.ControlEnvelope[T](originKind, env.Control.Tag), out)
	case microbatch.CStreamEnd:
		co.sendSync(ctx, env, out)
	default:
		fanout.Send(ctx, env, out)
	}
}

// sendSync forwards a sync token downstream, counting it.
func (co *Collector[T]) sendSync(ctx context.Context, env *microbatch.Envelope[T], out chan<- *microbatch.Envelope[T]) {
	co.Metrics.ObserveCoalesced(env.Control.Kind.String())
	fanout.Send(ctx, env, out)
}
