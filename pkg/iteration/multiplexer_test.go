package iteration_test

import (
	"github.com/flowcore/dataflow/pkg/iteration"
	gc "gopkg.in/check.v1"
)

var _ = gc.Suite(new(MultiplexerTestSuite))

type MultiplexerTestSuite struct{}

func (s *MultiplexerTestSuite) TestNewRoundTagMintsDistinctTags(c *gc.C) {
	mux := iteration.NewMultiplexer[int]()
	t1 := mux.NewRoundTag()
	t2 := mux.NewRoundTag()
	c.Assert(t1.IsNil(), gc.Equals, false)
	c.Assert(t1 == t2, gc.Equals, false)
}
