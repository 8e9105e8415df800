// Package pairfarm implements the binary-operator fan-out/fan-in fabric: two
// worker pipelines (Left, Right) sharing a single external input edge, with
// an origin-tracking collector that follows each per-tag stream's C_BEGIN
// with a FromLeft/FromRight control token so the downstream binary operator
// knows which side just opened.
package pairfarm

import (
	"context"

	"github.com/flowcore/dataflow/pkg/microbatch"
)

// Side selects which of the two worker pipelines owns the farm's single
// external input edge.
type Side int

const (
	// ToLeft routes the farm's external input to the Left worker; Right is
	// expected to be self-fed from its own source.
	ToLeft Side = iota
	// ToRight routes the farm's external input to the Right worker; Left is
	// expected to be self-fed from its own source.
	ToRight
	// ToNone is used when both workers are self-fed and the farm has no
	// legitimate external input at all; any data or per-tag stream sync
	// that arrives on that edge is a programming error in the compiled
	// pipeline, not a runtime condition to recover from.
	ToNone
)

// Emitter routes the pair farm's single external input edge to whichever
// side Mode designates. Top-level BEGIN/END always broadcast to both
// workers since both need their lifecycle brackets regardless of which one
// receives data; per-tag C_BEGIN/C_END and data microbatches go only to the
// designated side.
type Emitter[T any] struct {
	Mode Side
}

// NewEmitter returns an Emitter routing data and per-tag sync to mode.
func NewEmitter[T any](mode Side) *Emitter[T] {
	return &Emitter[T]{Mode: mode}
}

// Dispatch sends env to leftCh and/or rightCh according to Mode. It returns
// false if ctx is canceled before the required sends complete.
func (e *Emitter[T]) Dispatch(ctx context.Context, env *microbatch.Envelope[T], leftCh, rightCh chan *microbatch.Envelope[T]) bool {
	if env.IsControl() {
		switch env.Control.Kind {
		case microbatch.Begin, microbatch.End:
			return e.broadcast(ctx, env, leftCh, rightCh)
		case microbatch.CStreamBegin, microbatch.CStreamEnd:
			if e.Mode == ToNone {
				panic("pairfarm: per-tag stream sync reached an input-less pipe")
			}
			return e.route(ctx, env, leftCh, rightCh)
		default:
			return e.route(ctx, env, leftCh, rightCh)
		}
	}

	if e.Mode == ToNone {
		panic("pairfarm: data reached an input-less pipe")
	}
	return e.route(ctx, env, leftCh, rightCh)
}

func (e *Emitter[T]) broadcast(ctx context.Context, env *microbatch.Envelope[T], leftCh, rightCh chan *microbatch.Envelope[T]) bool {
	select {
	case leftCh <- env:
	case <-ctx.Done():
		return false
	}
	select {
	case rightCh <- env:
	case <-ctx.Done():
		return false
	}
	return true
}

func (e *Emitter[T]) route(ctx context.Context, env *microbatch.Envelope[T], leftCh, rightCh chan *microbatch.Envelope[T]) bool {
	target := leftCh
	if e.Mode == ToRight {
		target = rightCh
	}
	select {
	case target <- env:
		return true
	case <-ctx.Done():
		return false
	}
}
