package fanout_test

import (
	"context"

	"github.com/flowcore/dataflow/pkg/fanout"
	"github.com/flowcore/dataflow/pkg/microbatch"
	gc "gopkg.in/check.v1"
)

var _ = gc.Suite(new(EmitterTestSuite))

type EmitterTestSuite struct{}

func (s *EmitterTestSuite) TestControlIsBroadcastToAllWorkers(c *gc.C) {
	e := fanout.NewEmitter[int](fanout.Unordered)
	chs := make([]chan *microbatch.Envelope[int], 3)
	for i := range chs {
		chs[i] = make(chan *microbatch.Envelope[int], 1)
	}
	env := microbatch.ControlEnvelope[int](microbatch.Begin, microbatch.NilTag)

	ok := e.Dispatch(context.Background(), env, chs)
	c.Assert(ok, gc.Equals, true)
	for _, ch := range chs {
		c.Assert(<-ch, gc.Equals, env)
	}
}

func (s *EmitterTestSuite) TestDataIsLoadBalancedRoundRobin(c *gc.C) {
	e := fanout.NewEmitter[int](fanout.Unordered)
	chs := make([]chan *microbatch.Envelope[int], 3)
	for i := range chs {
		chs[i] = make(chan *microbatch.Envelope[int], 1)
	}

	seen := make([]int, 3)
	for i := 0; i < 3; i++ {
		mb := microbatch.NewMicrobatch[int](microbatch.NilTag, 1)
		mb.Append(i, microbatch.TokenDesc{})
		env := microbatch.Data(mb)
		c.Assert(e.Dispatch(context.Background(), env, chs), gc.Equals, true)
		for idx, ch := range chs {
			select {
			case <-ch:
				seen[idx]++
			default:
			}
		}
	}

	for _, n := range seen {
		c.Assert(n, gc.Equals, 1)
	}
}

func (s *EmitterTestSuite) TestDataFallsBackToBlockingSendWhenAllBusy(c *gc.C) {
	e := fanout.NewEmitter[int](fanout.Unordered)
	chs := []chan *microbatch.Envelope[int]{make(chan *microbatch.Envelope[int])}

	mb := microbatch.NewMicrobatch[int](microbatch.NilTag, 1)
	mb.Append(1, microbatch.TokenDesc{})
	env := microbatch.Data(mb)

	done := make(chan bool, 1)
	go func() { done <- e.Dispatch(context.Background(), env, chs) }()

	received := <-chs[0]
	c.Assert(received, gc.Equals, env)
	c.Assert(<-done, gc.Equals, true)
}

func (s *EmitterTestSuite) TestDispatchReturnsFalseWhenContextCanceled(c *gc.C) {
	e := fanout.NewEmitter[int](fanout.Unordered)
	chs := []chan *microbatch.Envelope[int]{make(chan *microbatch.Envelope[int])}

	mb := microbatch.NewMicrobatch[int](microbatch.NilTag, 1)
	mb.Append(1, microbatch.TokenDesc{})
	env := microbatch.Data(mb)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	c.Assert(e.Dispatch(ctx, env, chs), gc.Equals, false)
}

func (s *EmitterTestSuite) TestOrderedDispatchNeverSkipsABusyWorker(c *gc.C) {
	e := fanout.NewEmitter[int](fanout.Ordered)
	chs := make([]chan *microbatch.Envelope[int], 3)
	for i := range chs {
		chs[i] = make(chan *microbatch.Envelope[int])
	}

	mb := microbatch.NewMicrobatch[int](microbatch.NilTag, 1)
	mb.Append(1, microbatch.TokenDesc{})
	env := microbatch.Data(mb)

	done := make(chan bool, 1)
	go func() { done <- e.Dispatch(context.Background(), env, chs) }()

	// Strict round-robin must wait on worker 0 specifically, never fall
	// through to an idle worker 1 or 2.
	select {
	case <-chs[1]:
		c.Fatalf("ordered dispatch skipped worker 0 for worker 1")
	case received := <-chs[0]:
		c.Assert(received, gc.Equals, env)
	}
	c.Assert(<-done, gc.Equals, true)
}

func (s *EmitterTestSuite) TestTargetedSyncRoutesCStreamToSingleWorker(c *gc.C) {
	e := fanout.NewTargetedSyncEmitter[int](fanout.Unordered)
	chs := make([]chan *microbatch.Envelope[int], 4)
	for i := range chs {
		chs[i] = make(chan *microbatch.Envelope[int], 2)
	}
	tag := microbatch.NewTag()
	owner := fanout.TagWorker(tag, len(chs))

	c.Assert(e.Dispatch(context.Background(), microbatch.ControlEnvelope[int](microbatch.CStreamBegin, tag), chs), gc.Equals, true)
	c.Assert(e.Dispatch(context.Background(), microbatch.ControlEnvelope[int](microbatch.CStreamEnd, tag), chs), gc.Equals, true)

	for i, ch := range chs {
		if i == owner {
			begin := <-ch
			c.Assert(begin.Control.Kind, gc.Equals, microbatch.CStreamBegin)
			end := <-ch
			c.Assert(end.Control.Kind, gc.Equals, microbatch.CStreamEnd)
			continue
		}
		select {
		case env := <-ch:
			c.Fatalf("worker %d unexpectedly received %v", i, env.Control.Kind)
		default:
		}
	}
}

func (s *EmitterTestSuite) TestTargetedSyncStillBroadcastsBeginEnd(c *gc.C) {
	e := fanout.NewTargetedSyncEmitter[int](fanout.Unordered)
	chs := make([]chan *microbatch.Envelope[int], 3)
	for i := range chs {
		chs[i] = make(chan *microbatch.Envelope[int], 1)
	}
	env := microbatch.ControlEnvelope[int](microbatch.Begin, microbatch.NilTag)
	c.Assert(e.Dispatch(context.Background(), env, chs), gc.Equals, true)
	for _, ch := range chs {
		c.Assert(<-ch, gc.Equals, env)
	}
}

func (s *EmitterTestSuite) TestTagWorkerIsStable(c *gc.C) {
	tag := microbatch.NewTag()
	first := fanout.TagWorker(tag, 8)
	for i := 0; i < 10; i++ {
		c.Assert(fanout.TagWorker(tag, 8), gc.Equals, first)
	}
	c.Assert(first >= 0 && first < 8, gc.Equals, true)
}
