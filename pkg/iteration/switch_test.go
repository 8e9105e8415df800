package iteration_test

import (
	"github.com/flowcore/dataflow/pkg/iteration"
	"github.com/flowcore/dataflow/pkg/microbatch"
	gc "gopkg.in/check.v1"
)

var _ = gc.Suite(new(SwitchTestSuite))

type SwitchTestSuite struct{}

func (s *SwitchTestSuite) TestReleasingOnlyOnLastRound(c *gc.C) {
	sw := iteration.NewSwitch[int](iteration.FixedIterations{Iterations: 3})
	c.Assert(sw.Releasing(0), gc.Equals, false)
	c.Assert(sw.Releasing(1), gc.Equals, false)
	c.Assert(sw.Releasing(2), gc.Equals, true)
}

func (s *SwitchTestSuite) TestRewriteSetsAmbientTag(c *gc.C) {
	sw := iteration.NewSwitch[int](iteration.FixedIterations{Iterations: 1})
	ambient := microbatch.NewTag()
	sw.AmbientTag = ambient

	mb := microbatch.NewMicrobatch[int](microbatch.NewTag(), 2)
	sw.Rewrite(mb)
	c.Assert(mb.Tag(), gc.Equals, ambient)
}

func (s *SwitchTestSuite) TestSingleIterationReleasesImmediately(c *gc.C) {
	sw := iteration.NewSwitch[int](iteration.FixedIterations{Iterations: 1})
	c.Assert(sw.Releasing(0), gc.Equals, true)
}
