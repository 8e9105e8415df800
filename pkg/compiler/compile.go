package compiler

import (
	"github.com/flowcore/dataflow/pkg/iteration"
	"github.com/flowcore/dataflow/pkg/metrics"
	"github.com/flowcore/dataflow/pkg/pairfarm"
	"github.com/flowcore/dataflow/pkg/stage"
)

// Compile walks term and returns the wired stage.Runner it describes.
func Compile[T any](term Term[T], st StructureType) (stage.Runner[T, T], error) {
	return CompileWith[T](term, st, nil)
}

// CompileWith is Compile with a metrics bundle threaded into every farm,
// pair farm and iteration controller the walk produces, labeled by
// operator class; m may be nil, which disables reporting.
func CompileWith[T any](term Term[T], st StructureType, m *metrics.Metrics) (stage.Runner[T, T], error) {
	switch t := term.(type) {
	case Empty[T]:
		return stage.New[T, T](passthroughKernel[T]()), nil

	case Operator[T]:
		p := t.Op.Pardeg()
		return replicate(p, st, t.Op.OperatorClass(), m, func() stage.Runner[T, T] {
			return t.Op.MakeStage(p, st)
		}), nil

	case To[T]:
		return compileChain(t.Children, st, m)

	case Pair[T]:
		return compilePair(t, st, m)

	case Iterate[T]:
		body, err := CompileWith(t.Body, st, m)
		if err != nil {
			return nil, err
		}
		ctl := iteration.New(body, t.Condition.Clone())
		ctl.Metrics = m
		return ctl, nil

	case MultiTo[T]:
		return nil, ErrUnsupportedTerm

	case Merge[T]:
		return nil, ErrUnsupportedTerm

	default:
		return nil, ErrUnsupportedTerm
	}
}

func compilePair[T any](t Pair[T], st StructureType, m *metrics.Metrics) (stage.Runner[T, T], error) {
	left, err := CompileWith(t.Left, st, m)
	if err != nil {
		return nil, err
	}
	right, err := CompileWith(t.Right, st, m)
	if err != nil {
		return nil, err
	}

	mode := pairfarm.ToNone
	switch {
	case t.Left.inDeg() == 1:
		mode = pairfarm.ToLeft
	case t.Right.inDeg() == 1:
		mode = pairfarm.ToRight
	}

	farm := pairfarm.New(left, right, mode)
	farm.Label = t.Op.OperatorClass().String()
	farm.Metrics = m

	p := t.Op.Pardeg()
	leftInput := mode == pairfarm.ToLeft
	final := replicate(p, st, t.Op.OperatorClass(), m, func() stage.Runner[T, T] {
		return t.Op.MakeStage(p, leftInput, st)
	})

	return newChain([]stage.Runner[T, T]{farm, final}), nil
}
