package iteration

import (
	"context"

	"github.com/flowcore/dataflow/pkg/microbatch"
)

// Multiplexer mints a fresh Tag for every round an iteration construct
// opens, uniformly whether the round's data originated on the construct's
// outer edge or was redirected back from a non-final round: each round gets
// its own C_BEGIN/C_END bracket so the loop body sees an ordinary per-tag
// stream segment on every pass.
type Multiplexer[T any] struct{}

// NewMultiplexer returns a Multiplexer.
func NewMultiplexer[T any]() *Multiplexer[T] { return &Multiplexer[T]{} }

// NewRoundTag mints the Tag for the next round.
func (m *Multiplexer[T]) NewRoundTag() microbatch.Tag { return microbatch.NewTag() }

func send[T any](ctx context.Context, env *microbatch.Envelope[T], out chan<- *microbatch.Envelope[T]) {
	select {
	case out <- env:
	case <-ctx.Done():
	}
}
