package stage

import (
	"context"

	"github.com/flowcore/dataflow/pkg/microbatch"
	"golang.org/x/xerrors"
)

// SyncCallback is invoked around default propagation (after for BEGIN,
// before for END; see Run) so user code can observe sync boundaries
// without overriding propagation.
type SyncCallback func(ctx context.Context)

// CStreamCallback is the tagged counterpart of SyncCallback.
type CStreamCallback func(ctx context.Context, tag microbatch.Tag)

// Stage is the default Runner: a select loop over a single input edge
// that dispatches data microbatches to Kernel and control tokens to one of
// four hooks:
//
//   - BEGIN:   forward once, then invoke OnBegin.
//   - END:     invoke OnEnd, then forward once.
//   - C_BEGIN: forward (if PropagateCStreamSync), then invoke
//     OnCStreamBegin.
//   - C_END:   invoke OnCStreamEnd, then forward (if PropagateCStreamSync).
//
// PropagateCStreamSync defaults to true (a plain pass-through filter); a
// stage that emits its own stream boundary on C_END (e.g. a per-key
// reducer) sets it to false to suppress the default forwarding.
type Stage[In, Out any] struct {
	Kernel               Kernel[In, Out]
	OnBegin              SyncCallback
	OnEnd                SyncCallback
	OnCStreamBegin       CStreamCallback
	OnCStreamEnd         CStreamCallback
	PropagateCStreamSync bool
}

// New returns a Stage wrapping kernel with the default pass-through sync
// behavior.
func New[In, Out any](kernel Kernel[In, Out]) *Stage[In, Out] {
	return &Stage[In, Out]{Kernel: kernel, PropagateCStreamSync: true}
}

// Run implements Runner.
func (s *Stage[In, Out]) Run(ctx context.Context, p Params[In, Out]) {
	for {
		select {
		case <-ctx.Done():
			return
		case env, ok := <-p.Input():
			if !ok {
				return
			}
			if env.IsControl() {
				s.handleControl(ctx, p, env.Control)
			} else if err := s.handleData(ctx, p, env.Batch); err != nil {
				EmitError(xerrors.Errorf("stage %d: %w", p.StageIndex(), err), p.Error())
				return
			}
		}
	}
}

func (s *Stage[In, Out]) handleData(ctx context.Context, p Params[In, Out], mb *microbatch.Microbatch[In]) error {
	return s.Kernel.Process(ctx, mb, func(out *microbatch.Microbatch[Out]) {
		select {
		case p.Output() <- microbatch.Data(out):
		case <-ctx.Done():
		}
	})
}

func (s *Stage[In, Out]) forward(ctx context.Context, p Params[In, Out], kind microbatch.ControlKind, tag microbatch.Tag) {
	select {
	case p.Output() <- microbatch.ControlEnvelope[Out](kind, tag):
	case <-ctx.Done():
	}
}

func (s *Stage[In, Out]) handleControl(ctx context.Context, p Params[In, Out], c *microbatch.Control) {
	switch c.Kind {
	case microbatch.Begin:
		s.forward(ctx, p, microbatch.Begin, c.Tag)
		if s.OnBegin != nil {
			s.OnBegin(ctx)
		}
	case microbatch.End:
		if s.OnEnd != nil {
			s.OnEnd(ctx)
		}
		s.forward(ctx, p, microbatch.End, c.Tag)
	case microbatch.CStreamBegin:
		if s.PropagateCStreamSync {
			s.forward(ctx, p, microbatch.CStreamBegin, c.Tag)
		}
		if s.OnCStreamBegin != nil {
			s.OnCStreamBegin(ctx, c.Tag)
		}
	case microbatch.CStreamEnd:
		if s.OnCStreamEnd != nil {
			s.OnCStreamEnd(ctx, c.Tag)
		}
		if s.PropagateCStreamSync {
			s.forward(ctx, p, microbatch.CStreamEnd, c.Tag)
		}
	case microbatch.FromLeft:
		s.forward(ctx, p, c.Kind, c.Tag)
		if oa, ok := interface{}(s.Kernel).(OriginAware); ok {
			oa.TagOrigin(c.Tag, true)
		}
	case microbatch.FromRight:
		s.forward(ctx, p, c.Kind, c.Tag)
		if oa, ok := interface{}(s.Kernel).(OriginAware); ok {
			oa.TagOrigin(c.Tag, false)
		}
	}
}

// OriginAware is implemented by a binary operator's Kernel when it needs to
// know which side of a pairfarm a per-tag stream originated from. Stage
// checks for this interface after forwarding FromLeft/FromRight so the
// kernel can track per-tag origin without Kernel.Process itself having to
// see control tokens.
type OriginAware interface {
	TagOrigin(tag microbatch.Tag, left bool)
}
