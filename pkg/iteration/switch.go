package iteration

import "github.com/flowcore/dataflow/pkg/microbatch"

// Switch decides, round by round, whether a completed round is redirected
// back to the loop body (Releasing returns false) or released downstream
// (Releasing returns true), and rewrites the released round's tag back to
// the ambient tag the construct was entered under.
type Switch[T any] struct {
	Condition  TerminationCondition
	AmbientTag microbatch.Tag
}

// NewSwitch returns a Switch releasing on the final round of cond, tagging
// released output with the nil ambient tag by default.
func NewSwitch[T any](cond TerminationCondition) *Switch[T] {
	return &Switch[T]{Condition: cond, AmbientTag: microbatch.NilTag}
}

// Releasing reports whether round (0-indexed) is the last one.
func (sw *Switch[T]) Releasing(round int) bool {
	return round == sw.Condition.Total()-1
}

// Rewrite retags mb with AmbientTag, undoing the per-round tag Multiplexer
// minted, right before the data leaves the iteration construct for good.
func (sw *Switch[T]) Rewrite(mb *microbatch.Microbatch[T]) {
	mb.Retag(sw.AmbientTag)
}
