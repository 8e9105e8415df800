// Package executor implements the top-level pipeline lifecycle: compile
// the pipeline term, start every stage, offload BEGIN then END into the
// network's shared input edge, await both echoes on its output edge, and
// join every stage.
//
// Sources and sinks are themselves compiled INPUT/OUTPUT-classed operators
// (pkg/kernels), not parameters to Run: the executor only ever offloads
// the two top-level sync tokens onto the network's external edge, never
// data.
package executor

import (
	"context"
	"sync"

	"github.com/flowcore/dataflow/pkg/compiler"
	"github.com/flowcore/dataflow/pkg/metrics"
	"github.com/flowcore/dataflow/pkg/microbatch"
	"github.com/flowcore/dataflow/pkg/stage"
	multierror "github.com/hashicorp/go-multierror"
	"github.com/sirupsen/logrus"
	"golang.org/x/xerrors"
)

// Executor owns a compiled stage network end to end: it is constructed from
// a pipeline Term, and Run drives exactly one execution of it.
type Executor[T any] struct {
	network stage.Runner[T, T]
	logger  *logrus.Entry
	metrics *metrics.Metrics
}

// New compiles term and returns an Executor ready to Run it. The microbatch
// capacity singleton is initialized here, the first time any
// Executor is constructed in the process; later calls observe whatever
// capacity won that race, MBSIZE env override included.
func New[T any](term compiler.Term[T], st compiler.StructureType, cfg Config) (*Executor[T], error) {
	cfg.validate()
	microbatch.InitCapacity(cfg.MBSize)

	m := metrics.New(cfg.Registerer)
	network, err := compiler.CompileWith(term, st, m)
	if err != nil {
		return nil, xerrors.Errorf("executor: compile: %w", err)
	}

	return &Executor[T]{
		network: network,
		logger:  cfg.Logger,
		metrics: m,
	}, nil
}

// Run starts the compiled network, offloads BEGIN then END into its shared
// input edge, closes that edge, awaits the BEGIN and END echoes on the
// output edge, and joins the network goroutine. Any fatal stage error is
// returned wrapped in a multierror; a network that closes its output edge
// without ever echoing both sync tokens is reported as an error too, since
// a missing sync echo indicates an upstream bug.
func (ex *Executor[T]) Run(ctx context.Context) error {
	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	inCh := make(chan *microbatch.Envelope[T])
	outCh := make(chan *microbatch.Envelope[T])
	errCh := make(chan error, 16)

	var netWG sync.WaitGroup
	netWG.Add(1)
	go func() {
		defer netWG.Done()
		ex.network.Run(runCtx, &stage.WorkerParams[T, T]{InCh: inCh, OutCh: outCh, ErrCh: errCh})
	}()
	go func() {
		netWG.Wait()
		close(outCh)
	}()

	go ex.offload(runCtx, inCh)

	// Fold every stage error into one result as it arrives, canceling the
	// shared context on the first so a failed worker cannot leave the rest
	// of the network blocked on its edges.
	var result error
	monitorDone := make(chan struct{})
	go func() {
		defer close(monitorDone)
		for e := range errCh {
			result = multierror.Append(result, e)
			cancel()
		}
	}()

	drainErrCh := make(chan error, 1)
	go func() {
		drainErrCh <- ex.drain(runCtx, outCh)
	}()

	drainErr := <-drainErrCh
	netWG.Wait()
	close(errCh)
	<-monitorDone

	if drainErr != nil {
		result = multierror.Append(result, xerrors.Errorf("executor: %w", drainErr))
	}
	return result
}

// offload sends BEGIN then END into inCh, then closes it to mark the end
// of the external stream.
func (ex *Executor[T]) offload(ctx context.Context, inCh chan<- *microbatch.Envelope[T]) {
	defer close(inCh)
	ex.logger.Debug("executor: offloading BEGIN")
	if !sendOrDone(ctx, inCh, microbatch.ControlEnvelope[T](microbatch.Begin, microbatch.NilTag)) {
		return
	}
	ex.logger.Debug("executor: offloading END")
	sendOrDone(ctx, inCh, microbatch.ControlEnvelope[T](microbatch.End, microbatch.NilTag))
}

// drain awaits exactly two sync outputs, BEGIN echo then END echo, off the
// network's output edge, consuming (and counting) whatever data microbatches
// arrive in between. It returns once the output edge closes.
func (ex *Executor[T]) drain(ctx context.Context, outCh <-chan *microbatch.Envelope[T]) error {
	sawBegin, sawEnd := false, false
	for env := range outCh {
		if !env.IsControl() {
			ex.metrics.ObserveBatchOut("pipeline")
			continue
		}
		switch env.Control.Kind {
		case microbatch.Begin:
			sawBegin = true
			ex.logger.Debug("executor: BEGIN echo observed")
		case microbatch.End:
			sawEnd = true
			ex.logger.Debug("executor: END echo observed")
		}
	}
	if !sawBegin || !sawEnd {
		return xerrors.New("pipeline closed its output edge before echoing both BEGIN and END")
	}
	return nil
}

func sendOrDone[T any](ctx context.Context, ch chan<- *microbatch.Envelope[T], env *microbatch.Envelope[T]) bool {
	select {
	case ch <- env:
		return true
	case <-ctx.Done():
		return false
	}
}
