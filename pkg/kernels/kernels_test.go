package kernels_test

import (
	"context"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"testing"

	"github.com/flowcore/dataflow/pkg/compiler"
	"github.com/flowcore/dataflow/pkg/executor"
	"github.com/flowcore/dataflow/pkg/iteration"
	"github.com/flowcore/dataflow/pkg/kernels"
	"github.com/flowcore/dataflow/pkg/microbatch"
	"github.com/flowcore/dataflow/pkg/stage"
	gc "gopkg.in/check.v1"
)

func Test(t *testing.T) { gc.TestingT(t) }

var _ = gc.Suite(new(KernelsTestSuite))

type KernelsTestSuite struct{}

// sliceSource is a minimal INPUT-classed operator feeding a closed slice of
// items into a pipeline, the same shape as pkg/executor's own test fixture.
type sliceSource struct{ items []kernels.Item }

func (sliceSource) Pardeg() int { return 1 }
func (sliceSource) OperatorClass() compiler.OperatorClass { return compiler.ClassInput }
func (s sliceSource) MakeStage(p int, st compiler.StructureType) stage.Runner[kernels.Item, kernels.Item] {
	return &sliceSourceRunner{items: s.items}
}

type sliceSourceRunner struct{ items []kernels.Item }

func (r *sliceSourceRunner) Run(ctx context.Context, p stage.Params[kernels.Item, kernels.Item]) {
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
				tag := microbatch.NewTag()
				emit(ctx, p, microbatch.ControlEnvelope[kernels.Item](microbatch.Begin, microbatch.NilTag))
				emit(ctx, p, microbatch.ControlEnvelope[kernels.Item](microbatch.CStreamBegin, tag))
				mb := microbatch.NewMicrobatch[kernels.Item](tag, max(len(r.items), 1))
				for _, item := range r.items {
					mb.Append(item, microbatch.TokenDesc{})
				}
				emit(ctx, p, microbatch.Data(mb))
				emit(ctx, p, microbatch.ControlEnvelope[kernels.Item](microbatch.CStreamEnd, tag))
			case microbatch.End:
				emit(ctx, p, microbatch.ControlEnvelope[kernels.Item](microbatch.End, microbatch.NilTag))
				return
			}
		}
	}
}

func emit(ctx context.Context, p stage.Params[kernels.Item, kernels.Item], env *microbatch.Envelope[kernels.Item]) {
	select {
	case p.Output() <- env:
	case <-ctx.Done():
	}
}

func max(a, b int) int {
	if a > b {
		return a
	}
	return b
}

// collectingSink is a minimal OUTPUT-classed operator recording every item
// it sees via collect.
type collectingSink struct{ collect func(kernels.Item) }

func (*collectingSink) Pardeg() int { return 1 }
func (*collectingSink) OperatorClass() compiler.OperatorClass { return compiler.ClassOutput }
func (s *collectingSink) MakeStage(p int, st compiler.StructureType) stage.Runner[kernels.Item, kernels.Item] {
	return stage.New[kernels.Item, kernels.Item](stage.KernelFunc[kernels.Item, kernels.Item](
		func(_ context.Context, mb *microbatch.Microbatch[kernels.Item], _ func(*microbatch.Microbatch[kernels.Item])) error {
			for _, slot := range mb.Items() {
				s.collect(slot.Item)
			}
			return nil
		}))
}

func (s *KernelsTestSuite) TestWordCountScenario(c *gc.C) {
	lines := []string{"a b a", "c a b"}

	split := &kernels.FlatMap{F: func(item kernels.Item) []kernels.Item {
		return toItems(strings.Fields(item.(string)))
	}}
	pair := &kernels.Map{F: func(item kernels.Item) kernels.Item {
		return kernels.KV{Key: item.(string), Value: 1}
	}}
	count := &kernels.PReduce{
		Key:     func(item kernels.Item) string { return item.(kernels.KV).Key },
		Zero:    func() kernels.Item { return 0 },
		Combine: func(acc, item kernels.Item) kernels.Item { return acc.(int) + item.(kernels.KV).Value.(int) },
	}

	var collected []kernels.KV
	sink := &collectingSink{collect: func(item kernels.Item) {
		collected = append(collected, item.(kernels.KV))
	}}

	term := compiler.To[kernels.Item]{Children: []compiler.Term[kernels.Item]{
		compiler.Operator[kernels.Item]{Op: sliceSource{items: toItems(lines)}},
		compiler.Operator[kernels.Item]{Op: split},
		compiler.Operator[kernels.Item]{Op: pair},
		compiler.Operator[kernels.Item]{Op: count},
		compiler.Operator[kernels.Item]{Op: sink},
	}}

	ex, err := executor.New[kernels.Item](term, compiler.Bag, executor.Config{MBSize: 4})
	c.Assert(err, gc.IsNil)
	c.Assert(ex.Run(context.Background()), gc.IsNil)

	got := map[string]int{}
	for _, kv := range collected {
		got[kv.Key] = kv.Value.(int)
	}
	c.Assert(got, gc.DeepEquals, map[string]int{"a": 3, "b": 2, "c": 1})
}

func (s *KernelsTestSuite) TestJoinFlatMapEvenSumFilter(c *gc.C) {
	join := &kernels.JoinFlatMap{
		Key: func(item kernels.Item) string { return item.(kernels.KV).Key },
		Join: func(left, right kernels.Item) (kernels.Item, bool) {
			l, r := left.(kernels.KV).Value.(int), right.(kernels.KV).Value.(int)
			sum := l + r
			return sum, sum%2 == 0
		},
	}

	var collected []int
	sink := &collectingSink{collect: func(item kernels.Item) { collected = append(collected, item.(int)) }}

	left := sliceSource{items: toItems([]kernels.KV{{Key: "a", Value: 1}, {Key: "b", Value: 2}})}
	right := sliceSource{items: toItems([]kernels.KV{{Key: "a", Value: 3}, {Key: "b", Value: 5}})}

	term := compiler.To[kernels.Item]{Children: []compiler.Term[kernels.Item]{
		compiler.Pair[kernels.Item]{
			Op:    join,
			Left:  compiler.Operator[kernels.Item]{Op: left},
			Right: compiler.Operator[kernels.Item]{Op: right},
		},
		compiler.Operator[kernels.Item]{Op: sink},
	}}

	ex, err := executor.New[kernels.Item](term, compiler.Bag, executor.Config{MBSize: 4})
	c.Assert(err, gc.IsNil)
	c.Assert(ex.Run(context.Background()), gc.IsNil)

	sort.Ints(collected)
	c.Assert(collected, gc.DeepEquals, []int{4})
}

func toItems[T any](in []T) []kernels.Item {
	out := make([]kernels.Item, len(in))
	for i, v := range in {
		out[i] = v
	}
	return out
}

func (s *KernelsTestSuite) TestFixedIterationDuplicatesEachRound(c *gc.C) {
	duplicate := &kernels.FlatMap{F: func(item kernels.Item) []kernels.Item {
		return []kernels.Item{item, item}
	}}

	var collected []kernels.KV
	sink := &collectingSink{collect: func(item kernels.Item) {
		collected = append(collected, item.(kernels.KV))
	}}

	term := compiler.To[kernels.Item]{Children: []compiler.Term[kernels.Item]{
		compiler.Operator[kernels.Item]{Op: sliceSource{items: toItems([]kernels.KV{{Key: "a", Value: 1}})}},
		compiler.Iterate[kernels.Item]{
			Body:      compiler.Operator[kernels.Item]{Op: duplicate},
			Condition: iteration.FixedIterations{Iterations: 3},
		},
		compiler.Operator[kernels.Item]{Op: sink},
	}}

	ex, err := executor.New[kernels.Item](term, compiler.Bag, executor.Config{MBSize: 8})
	c.Assert(err, gc.IsNil)
	c.Assert(ex.Run(context.Background()), gc.IsNil)

	c.Assert(collected, gc.HasLen, 8) // 2^3
	for _, kv := range collected {
		c.Assert(kv.Key, gc.Equals, "a")
	}
}

func (s *KernelsTestSuite) TestWordCountParallelismInvariance(c *gc.C) {
	lines := []string{"a b a", "c a b", "d a c a", "b d"}
	want := s.runWordCount(c, lines, 1)
	for _, pardeg := range []int{4, 16} {
		c.Assert(s.runWordCount(c, lines, pardeg), gc.DeepEquals, want)
	}
}

func (s *KernelsTestSuite) runWordCount(c *gc.C, lines []string, pardeg int) map[string]int {
	split := &kernels.FlatMap{
		F:      func(item kernels.Item) []kernels.Item { return toItems(strings.Fields(item.(string))) },
		Degree: pardeg,
	}
	pair := &kernels.Map{
		F:      func(item kernels.Item) kernels.Item { return kernels.KV{Key: item.(string), Value: 1} },
		Degree: pardeg,
	}
	count := &kernels.PReduce{
		Key:     func(item kernels.Item) string { return item.(kernels.KV).Key },
		Zero:    func() kernels.Item { return 0 },
		Combine: func(acc, item kernels.Item) kernels.Item { return acc.(int) + item.(kernels.KV).Value.(int) },
	}

	got := map[string]int{}
	sink := &collectingSink{collect: func(item kernels.Item) {
		kv := item.(kernels.KV)
		got[kv.Key] = kv.Value.(int)
	}}

	term := compiler.To[kernels.Item]{Children: []compiler.Term[kernels.Item]{
		compiler.Operator[kernels.Item]{Op: sliceSource{items: toItems(lines)}},
		compiler.Operator[kernels.Item]{Op: split},
		compiler.Operator[kernels.Item]{Op: pair},
		compiler.Operator[kernels.Item]{Op: count},
		compiler.Operator[kernels.Item]{Op: sink},
	}}

	ex, err := executor.New[kernels.Item](term, compiler.Bag, executor.Config{MBSize: 4})
	c.Assert(err, gc.IsNil)
	c.Assert(ex.Run(context.Background()), gc.IsNil)
	return got
}

func (s *KernelsTestSuite) TestFileRoundTripAcrossMicrobatchSizes(c *gc.C) {
	lines := []string{"x", "y", "z"}
	dir := c.MkDir()
	in := filepath.Join(dir, "in.txt")
	c.Assert(os.WriteFile(in, []byte(strings.Join(lines, "\n")+"\n"), 0o600), gc.IsNil)

	for _, mbSize := range []int{1, 1024} {
		microbatch.ResetCapacityForTest()
		out := filepath.Join(dir, "out.txt")

		term := compiler.To[kernels.Item]{Children: []compiler.Term[kernels.Item]{
			compiler.Operator[kernels.Item]{Op: kernels.ReadFromFile(in)},
			compiler.Operator[kernels.Item]{Op: kernels.WriteToDisk(out)},
		}}
		ex, err := executor.New[kernels.Item](term, compiler.Bag, executor.Config{MBSize: mbSize})
		c.Assert(err, gc.IsNil)
		c.Assert(ex.Run(context.Background()), gc.IsNil)

		raw, err := os.ReadFile(out)
		c.Assert(err, gc.IsNil)
		got := strings.Fields(string(raw))
		sort.Strings(got)
		c.Assert(got, gc.DeepEquals, lines)
	}
	microbatch.ResetCapacityForTest()
}

func (s *KernelsTestSuite) TestSourceDeclaresItsStructure(c *gc.C) {
	c.Assert(kernels.ReadFromFile("in.txt").Structure(), gc.Equals, compiler.Bag)
	c.Assert(kernels.ReadFromStdin().Structure(), gc.Equals, compiler.Bag)
	c.Assert(kernels.ReadFromSocket("localhost:9999").Structure(), gc.Equals, compiler.Stream)
}
