// Package kernels provides the concrete external collaborators the
// dataflow core stays agnostic of: Map/FlatMap/Reduce/PReduce/JoinFlatMap
// operator adapters and file/socket/stdio sources and sinks. The core
// never imports this package; cmd/wordcount wires it together with
// pkg/compiler and pkg/executor the way a DSL layer would.
//
// The pipeline element type is the package-level Item (an alias for any):
// the core does no schema/type negotiation, so a single pipeline
// Term[Item] carries whatever heterogeneous values a multi-step
// Map/FlatMap/Reduce composition produces, a different type at each
// step, type-erased rather than statically resolved.
package kernels

import (
	"context"

	"github.com/flowcore/dataflow/pkg/compiler"
	"github.com/flowcore/dataflow/pkg/microbatch"
	"github.com/flowcore/dataflow/pkg/stage"
)

// Item is the element type every kernel in this package operates on.
type Item = any

// KV is a key/value pair, the shape PReduce and JoinFlatMap group and
// combine by Key.
type KV struct {
	Key   string
	Value Item
}

// MapFunc is a pure unary transform applied independently to every item.
type MapFunc func(Item) Item

// Map is a UMAP-classed operator: Kernel exposes the raw transform so the
// compiler's peephole fusion pass can splice it directly into a following
// Fusable reduce without a channel hop. This package's PReduce and Reduce
// are not Fusable, so a Map followed by one of them runs as two stages.
type Map struct {
	F      MapFunc
	Degree int
}

// Pardeg implements compiler.UnaryOperator.
func (m *Map) Pardeg() int {
	if m.Degree <= 0 {
		return 1
	}
	return m.Degree
}

// OperatorClass implements compiler.UnaryOperator.
func (m *Map) OperatorClass() compiler.OperatorClass { return compiler.ClassUMap }

// Kernel implements compiler.Fusable.
func (m *Map) Kernel() stage.Kernel[Item, Item] {
	f := m.F
	return stage.KernelFunc[Item, Item](func(_ context.Context, mb *microbatch.Microbatch[Item], emit func(*microbatch.Microbatch[Item])) error {
		out := microbatch.NewMicrobatch[Item](mb.Tag(), mb.Len())
		for _, slot := range mb.Items() {
			out.Append(f(slot.Item), slot.Desc)
		}
		emit(out)
		return nil
	})
}

// MakeStage implements compiler.UnaryOperator.
func (m *Map) MakeStage(p int, st compiler.StructureType) stage.Runner[Item, Item] {
	return stage.New[Item, Item](m.Kernel())
}

// FlatMapFunc transforms one item into zero or more output items.
type FlatMapFunc func(Item) []Item

// FlatMap is a FLATMAP-classed operator applying F independently to every
// item and re-batching its (possibly empty) results.
type FlatMap struct {
	F      FlatMapFunc
	Degree int
}

func (fm *FlatMap) Pardeg() int {
	if fm.Degree <= 0 {
		return 1
	}
	return fm.Degree
}

func (fm *FlatMap) OperatorClass() compiler.OperatorClass { return compiler.ClassFlatMap }

func (fm *FlatMap) MakeStage(p int, st compiler.StructureType) stage.Runner[Item, Item] {
	f := fm.F
	return stage.New[Item, Item](stage.KernelFunc[Item, Item](func(_ context.Context, mb *microbatch.Microbatch[Item], emit func(*microbatch.Microbatch[Item])) error {
		cap := microbatch.Capacity()
		out := microbatch.NewMicrobatch[Item](mb.Tag(), cap)
		flush := func() {
			if out.Len() > 0 {
				emit(out)
				out = microbatch.NewMicrobatch[Item](mb.Tag(), cap)
			}
		}
		for _, slot := range mb.Items() {
			for _, item := range f(slot.Item) {
				if out.Full() {
					flush()
				}
				out.Append(item, slot.Desc)
			}
		}
		flush()
		return nil
	}))
}
