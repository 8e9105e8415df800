// Package compiler walks a pipeline term and produces the wired stage
// network it describes, chaining, fusing, pairing and iterating stages.
package compiler

import "github.com/flowcore/dataflow/pkg/iteration"

// StructureType is the structural discipline of the data flowing through a
// stage: STREAM data is ordered and bracketed into non-empty microbatch
// windows; BAG data is unordered and may be freely batched.
type StructureType int

const (
	Stream StructureType = iota
	Bag
)

func (s StructureType) String() string {
	if s == Stream {
		return "STREAM"
	}
	return "BAG"
}

// OperatorClass tags a unary or binary operator for compiler fusion
// matching.
type OperatorClass int

const (
	ClassInput OperatorClass = iota
	ClassOutput
	ClassUMap
	ClassFlatMap
	ClassReduce
	ClassPReduce
	ClassJoinFlatMap
	ClassCombine
)

func (c OperatorClass) String() string {
	switch c {
	case ClassInput:
		return "INPUT"
	case ClassOutput:
		return "OUTPUT"
	case ClassUMap:
		return "UMAP"
	case ClassFlatMap:
		return "FLATMAP"
	case ClassReduce:
		return "REDUCE"
	case ClassPReduce:
		return "PREDUCE"
	case ClassJoinFlatMap:
		return "JOIN_FLATMAP"
	case ClassCombine:
		return "COMBINE"
	default:
		return "UNKNOWN"
	}
}

// Term is the recursive pipeline algebra the compiler walks: EMPTY
// (identity), OPERATOR, TO (linear chain), PAIR (binary operator), ITERATE,
// and the reserved MULTITO/MERGE variants.
type Term[T any] interface {
	// inDeg reports whether this term requires input from its enclosing
	// edge (1) or is self-contained, e.g. rooted at an INPUT operator (0).
	inDeg() int
}

// Empty is the identity term: data passes through unchanged.
type Empty[T any] struct{}

func (Empty[T]) inDeg() int { return 1 }

// Operator wraps a single unary operator factory.
type Operator[T any] struct {
	Op UnaryOperator[T]
}

func (o Operator[T]) inDeg() int {
	if o.Op.OperatorClass() == ClassInput {
		return 0
	}
	return 1
}

// To chains sub-terms linearly.
type To[T any] struct {
	Children []Term[T]
}

func (t To[T]) inDeg() int {
	if len(t.Children) == 0 {
		return 1
	}
	return t.Children[0].inDeg()
}

// Pair is a binary operator over two sub-terms, at most one of which draws
// data from the construct's shared external edge.
type Pair[T any] struct {
	Op          BinaryOperator[T]
	Left, Right Term[T]
}

func (Pair[T]) inDeg() int { return 1 }

// Iterate loops Body over the rounds Condition prescribes.
type Iterate[T any] struct {
	Body      Term[T]
	Condition iteration.TerminationCondition
}

func (it Iterate[T]) inDeg() int { return it.Body.inDeg() }

// MultiTo and Merge are reserved: the compiler rejects them until their
// semantics are settled.
type MultiTo[T any] struct{ Children []Term[T] }

func (MultiTo[T]) inDeg() int { return 1 }

type Merge[T any] struct{ Children []Term[T] }

func (Merge[T]) inDeg() int { return 1 }
