package compiler

import "github.com/flowcore/dataflow/pkg/stage"

// UnaryOperator is the operator factory contract a unary pipeline term
// adapts: Pardeg reports the declared parallelism degree,
// OperatorClass tags the operator for fusion matching, and MakeStage builds
// one replica's runner, told its own parallelism degree and the structural
// discipline (STREAM/BAG) of the edge it will run on.
type UnaryOperator[T any] interface {
	Pardeg() int
	OperatorClass() OperatorClass
	MakeStage(p int, st StructureType) stage.Runner[T, T]
}

// BinaryOperator is the two-sided counterpart used by Pair: leftInput
// tells the built stage which side of the pair farm owns the construct's
// shared external edge.
type BinaryOperator[T any] interface {
	Pardeg() int
	OperatorClass() OperatorClass
	MakeStage(p int, leftInput bool, st StructureType) stage.Runner[T, T]
}

// Fusable is implemented by a UnaryOperator that can be merged with an
// adjacent, compatible operator into a single stage by the compiler's
// peephole fusion pass. Operators that don't implement it are never fused;
// fusion is opt-in, not a structural guarantee.
type Fusable[T any] interface {
	Kernel() stage.Kernel[T, T]
}
