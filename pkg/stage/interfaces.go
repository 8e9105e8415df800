// Package stage implements the base contract every dataflow worker runs:
// a single-input single-output loop consuming a mixed stream of data
// microbatches and control tokens, with hooks for the data kernel, sync
// handling and sync forwarding.
package stage

import (
	"context"

	"github.com/flowcore/dataflow/pkg/microbatch"
)

// Kernel processes one data microbatch and emits zero or more output
// microbatches via emit. Kernels are expected to be total over their
// declared input type; a returned error is fatal to the pipeline.
type Kernel[In, Out any] interface {
	Process(ctx context.Context, mb *microbatch.Microbatch[In], emit func(*microbatch.Microbatch[Out])) error
}

// KernelFunc adapts a plain function to the Kernel interface.
type KernelFunc[In, Out any] func(ctx context.Context, mb *microbatch.Microbatch[In], emit func(*microbatch.Microbatch[Out])) error

// Process calls f.
func (f KernelFunc[In, Out]) Process(ctx context.Context, mb *microbatch.Microbatch[In], emit func(*microbatch.Microbatch[Out])) error {
	return f(ctx, mb, emit)
}

// Params encapsulates the information required to run a stage: its input,
// output and error channels, plus its position (used for error context;
// every worker of a farm reports the farm's own index).
type Params[In, Out any] interface {
	StageIndex() int
	Input() <-chan *microbatch.Envelope[In]
	Output() chan<- *microbatch.Envelope[Out]
	Error() chan<- error
}

// Runner is implemented by anything that can be strung together to form a
// stage of a pipeline: plain stages, farms, pair farms and iteration
// controllers alike.
type Runner[In, Out any] interface {
	// Run blocks until the input channel closes, ctx is canceled, or a
	// fatal error is reported via Params.Error(). It must not close
	// Params.Output(); the caller does that once Run returns.
	Run(ctx context.Context, params Params[In, Out])
}

// WorkerParams is the concrete Params implementation used to wire a single
// worker goroutine to its input/output/error channels.
type WorkerParams[In, Out any] struct {
	Index int
	InCh  <-chan *microbatch.Envelope[In]
	OutCh chan<- *microbatch.Envelope[Out]
	ErrCh chan<- error
}

func (p *WorkerParams[In, Out]) StageIndex() int { return p.Index }
func (p *WorkerParams[In, Out]) Input() <-chan *microbatch.Envelope[In] { return p.InCh }
func (p *WorkerParams[In, Out]) Output() chan<- *microbatch.Envelope[Out] { return p.OutCh }
func (p *WorkerParams[In, Out]) Error() chan<- error { return p.ErrCh }

// EmitError attempts to queue err onto a buffered error channel without
// blocking; if the channel is full the error is dropped.
func EmitError(err error, errCh chan<- error) {
	select {
	case errCh <- err:
	default:
	}
}
