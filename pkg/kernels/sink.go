package kernels

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"

	"github.com/flowcore/dataflow/pkg/compiler"
	"github.com/flowcore/dataflow/pkg/microbatch"
	"github.com/flowcore/dataflow/pkg/stage"
	"golang.org/x/xerrors"
)

// LineSink is an OUTPUT-classed operator writing one text line per item it
// receives: the writer opens on BEGIN, is flushed and closed on END, and
// the stage never re-emits data.
type LineSink struct {
	open func() (io.WriteCloser, error)
}

// WriteToDisk writes every item (formatted with fmt.Sprint) as a line of path.
func WriteToDisk(path string) *LineSink {
	return &LineSink{open: func() (io.WriteCloser, error) { return os.Create(path) }}
}

// WriteToStdout writes every item as a line on standard output.
func WriteToStdout() *LineSink {
	return &LineSink{open: func() (io.WriteCloser, error) { return nopWriteCloser{os.Stdout}, nil }}
}

func (s *LineSink) Pardeg() int { return 1 }
func (s *LineSink) OperatorClass() compiler.OperatorClass { return compiler.ClassOutput }

func (s *LineSink) MakeStage(p int, st compiler.StructureType) stage.Runner[Item, Item] {
	r := &lineSinkRunner{sink: s}
	st2 := stage.New[Item, Item](stage.KernelFunc[Item, Item](r.process))
	st2.OnBegin = r.open
	st2.OnEnd = r.close
	return st2
}

type lineSinkRunner struct {
	sink *LineSink
	w    *bufio.Writer
	rc   io.WriteCloser
	err  error
}

func (r *lineSinkRunner) open(ctx context.Context) {
	rc, err := r.sink.open()
	if err != nil {
		r.err = xerrors.Errorf("kernels: open sink: %w", err)
		return
	}
	r.rc = rc
	r.w = bufio.NewWriter(rc)
}

func (r *lineSinkRunner) process(_ context.Context, mb *microbatch.Microbatch[Item], _ func(*microbatch.Microbatch[Item])) error {
	if r.err != nil {
		return r.err
	}
	if r.w == nil {
		return nil
	}
	for _, slot := range mb.Items() {
		if _, err := fmt.Fprintln(r.w, slot.Item); err != nil {
			return xerrors.Errorf("kernels: write line: %w", err)
		}
	}
	return nil
}

func (r *lineSinkRunner) close(ctx context.Context) {
	if r.w != nil {
		r.w.Flush()
	}
	if r.rc != nil {
		r.rc.Close()
	}
}

type nopWriteCloser struct{ io.Writer }

func (nopWriteCloser) Close() error { return nil }
