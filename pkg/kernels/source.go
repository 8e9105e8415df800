package kernels

import (
	"bufio"
	"context"
	"io"
	"net"
	"os"

	"github.com/flowcore/dataflow/pkg/compiler"
	"github.com/flowcore/dataflow/pkg/microbatch"
	"github.com/flowcore/dataflow/pkg/stage"
	"golang.org/x/xerrors"
)

// LineSource is an INPUT-classed operator reading newline-delimited text.
// It ignores its upstream data edge (inDeg()==0, ClassInput) and produces
// its own freshly-tagged stream segment once it sees BEGIN, self-driving
// off the broadcast lifecycle tokens rather than consuming upstream data.
type LineSource struct {
	open func() (io.ReadCloser, error)
	bag  bool
}

// ReadFromFile yields an unordered (BAG) collection of lines.
func ReadFromFile(path string) *LineSource {
	return &LineSource{open: func() (io.ReadCloser, error) { return os.Open(path) }, bag: true}
}

// ReadFromStdin yields an unordered (BAG) collection of lines.
func ReadFromStdin() *LineSource {
	return &LineSource{open: func() (io.ReadCloser, error) { return io.NopCloser(os.Stdin), nil }, bag: true}
}

// ReadFromSocket yields an ordered (STREAM) collection of lines received
// over a TCP connection.
func ReadFromSocket(address string) *LineSource {
	return &LineSource{
		open: func() (io.ReadCloser, error) { return net.Dial("tcp", address) },
		bag:  false,
	}
}

func (s *LineSource) Pardeg() int { return 1 }
func (s *LineSource) OperatorClass() compiler.OperatorClass { return compiler.ClassInput }

// Structure reports the structural discipline of the collection this source
// yields: BAG for file and stdin input, STREAM for socket input.
func (s *LineSource) Structure() compiler.StructureType {
	if s.bag {
		return compiler.Bag
	}
	return compiler.Stream
}

func (s *LineSource) MakeStage(p int, st compiler.StructureType) stage.Runner[Item, Item] {
	return &lineSourceRunner{src: s}
}

type lineSourceRunner struct{ src *LineSource }

func (r *lineSourceRunner) Run(ctx context.Context, p stage.Params[Item, Item]) {
	for {
		select {
		case <-ctx.Done():
			return
		case env, ok := <-p.Input():
			if !ok {
				return
			}
			if !env.IsControl() {
				continue
			}
			switch env.Control.Kind {
			case microbatch.Begin:
				sendEnvelope(ctx, p, microbatch.ControlEnvelope[Item](microbatch.Begin, env.Control.Tag))
				r.emit(ctx, p)
			case microbatch.End:
				sendEnvelope(ctx, p, microbatch.ControlEnvelope[Item](microbatch.End, env.Control.Tag))
				return
			}
		}
	}
}

// emit drives one c-stream segment: a fresh tag is minted per segment (the
// nil tag belongs to the top-level BEGIN/END pair alone), so two sources
// feeding the two sides of a pair farm open distinguishable segments.
func (r *lineSourceRunner) emit(ctx context.Context, p stage.Params[Item, Item]) {
	tag := microbatch.NewTag()
	rc, err := r.src.open()
	if err != nil {
		stage.EmitError(xerrors.Errorf("kernels: open source: %w", err), p.Error())
		sendEnvelope(ctx, p, microbatch.ControlEnvelope[Item](microbatch.CStreamBegin, tag))
		sendEnvelope(ctx, p, microbatch.ControlEnvelope[Item](microbatch.CStreamEnd, tag))
		return
	}
	defer rc.Close()

	sendEnvelope(ctx, p, microbatch.ControlEnvelope[Item](microbatch.CStreamBegin, tag))

	capacity := microbatch.Capacity()
	mb := microbatch.NewMicrobatch[Item](tag, capacity)
	flush := func() {
		if mb.Len() > 0 {
			sendEnvelope(ctx, p, microbatch.Data(mb))
		}
		mb = microbatch.NewMicrobatch[Item](tag, capacity)
	}

	scanner := bufio.NewScanner(rc)
	for scanner.Scan() {
		if mb.Full() {
			flush()
		}
		mb.Append(scanner.Text(), microbatch.TokenDesc{})
	}
	flush()
	if err := scanner.Err(); err != nil {
		stage.EmitError(xerrors.Errorf("kernels: scan source: %w", err), p.Error())
	}

	sendEnvelope(ctx, p, microbatch.ControlEnvelope[Item](microbatch.CStreamEnd, tag))
}
