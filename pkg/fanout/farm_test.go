package fanout_test

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/flowcore/dataflow/pkg/fanout"
	"github.com/flowcore/dataflow/pkg/metrics"
	"github.com/flowcore/dataflow/pkg/microbatch"
	"github.com/flowcore/dataflow/pkg/stage"
	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
	gc "gopkg.in/check.v1"
)

var _ = gc.Suite(new(FarmTestSuite))

type FarmTestSuite struct{}

type farmParams struct {
	idx   int
	inCh  chan *microbatch.Envelope[int]
	outCh chan *microbatch.Envelope[int]
	errCh chan error
}

func (p *farmParams) StageIndex() int { return p.idx }
func (p *farmParams) Input() <-chan *microbatch.Envelope[int] { return p.inCh }
func (p *farmParams) Output() chan<- *microbatch.Envelope[int] { return p.outCh }
func (p *farmParams) Error() chan<- error { return p.errCh }

func (s *FarmTestSuite) TestFarmFansOutDataAndDedupesControl(c *gc.C) {
	var processed int64
	factory := func() stage.Runner[int, int] {
		return stage.New[int, int](stage.KernelFunc[int, int](
			func(ctx context.Context, mb *microbatch.Microbatch[int], emit func(*microbatch.Microbatch[int])) error {
				atomic.AddInt64(&processed, int64(mb.Len()))
				out := microbatch.NewMicrobatch[int](mb.Tag(), mb.Capacity())
				for _, slot := range mb.Items() {
					out.Append(slot.Item, slot.Desc)
				}
				emit(out)
				return nil
			}))
	}
	farm := fanout.New[int, int](4, factory, fanout.Unordered)

	p := &farmParams{
		inCh:  make(chan *microbatch.Envelope[int], 32),
		outCh: make(chan *microbatch.Envelope[int], 32),
		errCh: make(chan error, 4),
	}

	p.inCh <- microbatch.ControlEnvelope[int](microbatch.Begin, microbatch.NilTag)
	for i := 0; i < 20; i++ {
		mb := microbatch.NewMicrobatch[int](microbatch.NilTag, 1)
		mb.Append(i, microbatch.TokenDesc{})
		p.inCh <- microbatch.Data(mb)
	}
	p.inCh <- microbatch.ControlEnvelope[int](microbatch.End, microbatch.NilTag)
	close(p.inCh)

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		farm.Run(context.Background(), p)
		close(p.outCh)
	}()

	var dataCount, beginCount, endCount int
	for env := range p.outCh {
		if env.IsControl() {
			switch env.Control.Kind {
			case microbatch.Begin:
				beginCount++
			case microbatch.End:
				endCount++
			}
			continue
		}
		dataCount += env.Batch.Len()
	}
	wg.Wait()

	c.Assert(beginCount, gc.Equals, 1)
	c.Assert(endCount, gc.Equals, 1)
	c.Assert(dataCount, gc.Equals, 20)
	c.Assert(int(atomic.LoadInt64(&processed)), gc.Equals, 20)
}

func (s *FarmTestSuite) TestOrderedFarmPreservesGlobalFIFO(c *gc.C) {
	identity := func() stage.Runner[int, int] {
		return stage.New[int, int](stage.KernelFunc[int, int](
			func(ctx context.Context, mb *microbatch.Microbatch[int], emit func(*microbatch.Microbatch[int])) error {
				emit(mb)
				return nil
			}))
	}
	farm := fanout.New[int, int](4, identity, fanout.Ordered)

	p := &farmParams{
		inCh:  make(chan *microbatch.Envelope[int], 64),
		outCh: make(chan *microbatch.Envelope[int], 64),
		errCh: make(chan error, 4),
	}

	p.inCh <- microbatch.ControlEnvelope[int](microbatch.Begin, microbatch.NilTag)
	const n = 40
	for i := 0; i < n; i++ {
		mb := microbatch.NewMicrobatch[int](microbatch.NilTag, 1)
		mb.Append(i, microbatch.TokenDesc{})
		p.inCh <- microbatch.Data(mb)
	}
	p.inCh <- microbatch.ControlEnvelope[int](microbatch.End, microbatch.NilTag)
	close(p.inCh)

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		farm.Run(context.Background(), p)
		close(p.outCh)
	}()

	var order []int
	beginCount, endCount := 0, 0
	for env := range p.outCh {
		if env.IsControl() {
			switch env.Control.Kind {
			case microbatch.Begin:
				beginCount++
			case microbatch.End:
				endCount++
			}
			continue
		}
		for _, slot := range env.Batch.Items() {
			order = append(order, slot.Item)
		}
	}
	wg.Wait()

	c.Assert(beginCount, gc.Equals, 1)
	c.Assert(endCount, gc.Equals, 1)
	c.Assert(order, gc.HasLen, n)
	for i, v := range order {
		c.Assert(v, gc.Equals, i)
	}
}

func (s *FarmTestSuite) TestFarmReportsCounters(c *gc.C) {
	identity := func() stage.Runner[int, int] {
		return stage.New[int, int](stage.KernelFunc[int, int](
			func(ctx context.Context, mb *microbatch.Microbatch[int], emit func(*microbatch.Microbatch[int])) error {
				emit(mb)
				return nil
			}))
	}
	farm := fanout.New[int, int](2, identity, fanout.Unordered)
	farm.Label = "UMAP"
	farm.Metrics = metrics.New(nil)

	p := &farmParams{
		inCh:  make(chan *microbatch.Envelope[int], 16),
		outCh: make(chan *microbatch.Envelope[int], 16),
		errCh: make(chan error, 2),
	}
	p.inCh <- microbatch.ControlEnvelope[int](microbatch.Begin, microbatch.NilTag)
	for i := 0; i < 5; i++ {
		mb := microbatch.NewMicrobatch[int](microbatch.NilTag, 1)
		mb.Append(i, microbatch.TokenDesc{})
		p.inCh <- microbatch.Data(mb)
	}
	p.inCh <- microbatch.ControlEnvelope[int](microbatch.End, microbatch.NilTag)
	close(p.inCh)

	done := make(chan struct{})
	go func() {
		farm.Run(context.Background(), p)
		close(p.outCh)
		close(done)
	}()
	<-done
	for range p.outCh {
	}

	c.Assert(counterValue(c, farm.Metrics.BatchesIn, "UMAP"), gc.Equals, 5.0)
	c.Assert(counterValue(c, farm.Metrics.BatchesOut, "UMAP"), gc.Equals, 5.0)
	c.Assert(counterValue(c, farm.Metrics.SyncCoalesced, "BEGIN"), gc.Equals, 1.0)
	c.Assert(counterValue(c, farm.Metrics.SyncCoalesced, "END"), gc.Equals, 1.0)
}

func counterValue(c *gc.C, vec *prometheus.CounterVec, label string) float64 {
	metric := &dto.Metric{}
	c.Assert(vec.WithLabelValues(label).Write(metric), gc.IsNil)
	return metric.GetCounter().GetValue()
}
