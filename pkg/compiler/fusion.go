package compiler

import (
	"context"

	"github.com/flowcore/dataflow/pkg/metrics"
	"github.com/flowcore/dataflow/pkg/microbatch"
	"github.com/flowcore/dataflow/pkg/stage"
)

// recognisedPair reports whether a and b form one of the recognised
// fusable operator sequences: a map feeding a reduce or per-key reduce needs no
// intervening stage boundary since both run per-item/per-key in the same
// worker.
func recognisedPair(a, b OperatorClass) bool {
	if a != ClassUMap {
		return false
	}
	return b == ClassReduce || b == ClassPReduce
}

// fuseKernels composes two kernels into one: every output of first is fed
// into second before being re-emitted, so the pair runs as a single Process
// call with no intermediate channel hop.
func fuseKernels[T any](first, second stage.Kernel[T, T]) stage.Kernel[T, T] {
	return stage.KernelFunc[T, T](func(ctx context.Context, mb *microbatch.Microbatch[T], emit func(*microbatch.Microbatch[T])) error {
		var innerErr error
		err := first.Process(ctx, mb, func(mid *microbatch.Microbatch[T]) {
			if innerErr != nil {
				return
			}
			if err := second.Process(ctx, mid, emit); err != nil {
				innerErr = err
			}
		})
		if err != nil {
			return err
		}
		return innerErr
	})
}

// compileChain compiles a To term's children, attempting to fuse adjacent
// unary operators that form a recognisedPair and whose Pardeg is 1 (fusing
// across a parallel boundary would require re-deriving the farm's own
// emitter/collector semantics, which the compiler leaves alone), falling
// back to per-term recursion otherwise.
func compileChain[T any](children []Term[T], st StructureType, m *metrics.Metrics) (stage.Runner[T, T], error) {
	var runners []stage.Runner[T, T]
	i := 0
	for i < len(children) {
		if i+1 < len(children) {
			if fused, ok := tryFuse[T](children[i], children[i+1]); ok {
				runners = append(runners, fused)
				i += 2
				continue
			}
		}
		r, err := CompileWith(children[i], st, m)
		if err != nil {
			return nil, err
		}
		runners = append(runners, r)
		i++
	}
	if len(runners) == 0 {
		return stage.New[T, T](passthroughKernel[T]()), nil
	}
	return newChain(runners), nil
}

func tryFuse[T any](a, b Term[T]) (stage.Runner[T, T], bool) {
	opA, okA := a.(Operator[T])
	opB, okB := b.(Operator[T])
	if !okA || !okB {
		return nil, false
	}
	if opA.Op.Pardeg() > 1 || opB.Op.Pardeg() > 1 {
		return nil, false
	}
	if !recognisedPair(opA.Op.OperatorClass(), opB.Op.OperatorClass()) {
		return nil, false
	}
	fa, okFa := opA.Op.(Fusable[T])
	fb, okFb := opB.Op.(Fusable[T])
	if !okFa || !okFb {
		return nil, false
	}
	return stage.New[T, T](fuseKernels(fa.Kernel(), fb.Kernel())), true
}
