package kernels

import (
	"context"

	"github.com/flowcore/dataflow/pkg/compiler"
	"github.com/flowcore/dataflow/pkg/microbatch"
	"github.com/flowcore/dataflow/pkg/stage"
)

// KeyFunc extracts the grouping key PReduce accumulates by.
type KeyFunc func(Item) string

// CombineFunc folds item into the running accumulator for its key. It must
// be associative and commutative since the order items arrive in across
// microbatches and workers is not guaranteed.
type CombineFunc func(acc, item Item) Item

// PReduce is a PREDUCE-classed operator: it accumulates items per key under
// a tag and emits the accumulated KV pairs only once that tag's stream
// closes, owning its own C_BEGIN/C_END bracket instead of passing through
// the upstream one (a reducer emits its own stream boundary on C_END, so
// default sync forwarding is suppressed).
//
// Pardeg is always reported as 1: correctly combining p independent
// parallel partial accumulations back into one result needs a dedicated
// COMBINE stage the compiler's generic Operator replication does not insert
// on its own. Until a DSL layer wires that combiner in, a PReduce instance
// always runs as the single accumulator of record, keeping the fold result
// independent of parallelism; callers still parallelise the Map/FlatMap
// stages feeding it.
type PReduce struct {
	Key     KeyFunc
	Zero    func() Item
	Combine CombineFunc
}

func (r *PReduce) Pardeg() int { return 1 }
func (r *PReduce) OperatorClass() compiler.OperatorClass { return compiler.ClassPReduce }

func (r *PReduce) MakeStage(p int, st compiler.StructureType) stage.Runner[Item, Item] {
	return &accumulateRunner{key: r.Key, zero: r.Zero, combine: r.Combine}
}

// Reduce is a REDUCE-classed operator: the un-keyed counterpart of PReduce,
// folding every item under a tag into a single accumulator (every item
// maps to the same key).
type Reduce struct {
	Zero    func() Item
	Combine CombineFunc
}

func (r *Reduce) Pardeg() int { return 1 }
func (r *Reduce) OperatorClass() compiler.OperatorClass { return compiler.ClassReduce }

func (r *Reduce) MakeStage(p int, st compiler.StructureType) stage.Runner[Item, Item] {
	return &accumulateRunner{key: func(Item) string { return "" }, zero: r.Zero, combine: r.Combine, unkeyed: true}
}

// accumulateRunner is the shared Reduce/PReduce runner. It is a bare
// stage.Runner rather than a stage.Stage because emitting on C_END needs
// direct access to the output edge, which stage.Stage's sync callbacks
// (ctx, tag only) do not expose.
type accumulateRunner struct {
	key     KeyFunc
	zero    func() Item
	combine CombineFunc
	unkeyed bool

	// accs is keyed by stream tag: segments of distinct tags may interleave
	// on the input edge (one tag's opening never waits on another's close),
	// so each gets its own accumulator, flushed on its own C_END.
	accs map[microbatch.Tag]map[string]Item
}

func (r *accumulateRunner) Run(ctx context.Context, p stage.Params[Item, Item]) {
	for {
		select {
		case <-ctx.Done():
			return
		case env, ok := <-p.Input():
			if !ok {
				return
			}
			if !env.IsControl() {
				r.accumulate(env.Batch)
				continue
			}
			switch env.Control.Kind {
			case microbatch.Begin, microbatch.End:
				sendEnvelope(ctx, p, env)
				if env.Control.Kind == microbatch.End {
					return
				}
			case microbatch.CStreamBegin:
				r.segment(env.Control.Tag)
			case microbatch.CStreamEnd:
				r.flush(ctx, p, env.Control.Tag)
			}
		}
	}
}

func (r *accumulateRunner) segment(tag microbatch.Tag) map[string]Item {
	if r.accs == nil {
		r.accs = make(map[microbatch.Tag]map[string]Item)
	}
	acc, ok := r.accs[tag]
	if !ok {
		acc = make(map[string]Item)
		r.accs[tag] = acc
	}
	return acc
}

func (r *accumulateRunner) accumulate(mb *microbatch.Microbatch[Item]) {
	acc := r.segment(mb.Tag())
	for _, slot := range mb.Items() {
		k := r.key(slot.Item)
		cur, ok := acc[k]
		if !ok {
			cur = r.zero()
		}
		acc[k] = r.combine(cur, slot.Item)
	}
}

func (r *accumulateRunner) flush(ctx context.Context, p stage.Params[Item, Item], tag microbatch.Tag) {
	acc := r.accs[tag]
	delete(r.accs, tag)

	sendEnvelope(ctx, p, microbatch.ControlEnvelope[Item](microbatch.CStreamBegin, tag))
	if len(acc) > 0 {
		mb := microbatch.NewMicrobatch[Item](tag, len(acc))
		for k, v := range acc {
			if r.unkeyed {
				mb.Append(v, microbatch.TokenDesc{})
			} else {
				mb.Append(KV{Key: k, Value: v}, microbatch.TokenDesc{Hint: k})
			}
		}
		sendEnvelope(ctx, p, microbatch.Data(mb))
	}
	sendEnvelope(ctx, p, microbatch.ControlEnvelope[Item](microbatch.CStreamEnd, tag))
}

func sendEnvelope(ctx context.Context, p stage.Params[Item, Item], env *microbatch.Envelope[Item]) {
	select {
	case p.Output() <- env:
	case <-ctx.Done():
	}
}
