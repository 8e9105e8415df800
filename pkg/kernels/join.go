package kernels

import (
	"context"

	"github.com/flowcore/dataflow/pkg/compiler"
	"github.com/flowcore/dataflow/pkg/microbatch"
	"github.com/flowcore/dataflow/pkg/stage"
)

// JoinFunc combines a matched left/right pair under the same key. keep is
// false to drop the pair.
type JoinFunc func(left, right Item) (result Item, keep bool)

// JoinFlatMap is a JOIN_FLATMAP-classed binary operator: it matches items
// from its two input sides by Key and emits Join's result for every pair
// that currently has a value on both sides. It implements
// stage.OriginAware so pkg/stage's control-token dispatch can tell it
// which side a data microbatch just arrived from, per the
// FromLeft/FromRight markers the pair farm's collector decorates each tag
// segment with.
type JoinFlatMap struct {
	Key  KeyFunc
	Join JoinFunc
}

func (j *JoinFlatMap) Pardeg() int { return 1 }
func (j *JoinFlatMap) OperatorClass() compiler.OperatorClass { return compiler.ClassJoinFlatMap }

func (j *JoinFlatMap) MakeStage(p int, leftInput bool, st compiler.StructureType) stage.Runner[Item, Item] {
	k := &joinKernel{
		op:     j,
		origin: make(map[microbatch.Tag]bool),
		left:   make(map[string]Item),
		right:  make(map[string]Item),
	}
	return stage.New[Item, Item](k)
}

// joinKernel is the stateful accumulator backing JoinFlatMap. The origin
// map classifies each tag's segment by the FromLeft/FromRight marker the
// pair collector decorated it with; the side tables span tags, since the
// left and right segments of a pair farm arrive under distinct tags and
// their items still have to meet. A new instance is built per MakeStage
// call so independent pair-farm replicas never share state.
type joinKernel struct {
	op     *JoinFlatMap
	origin map[microbatch.Tag]bool
	left   map[string]Item
	right  map[string]Item
}

// TagOrigin implements stage.OriginAware.
func (k *joinKernel) TagOrigin(tag microbatch.Tag, left bool) {
	k.origin[tag] = left
}

// Process implements stage.Kernel.
func (k *joinKernel) Process(_ context.Context, mb *microbatch.Microbatch[Item], emit func(*microbatch.Microbatch[Item])) error {
	tag := mb.Tag()
	left := k.origin[tag]

	mine, other := k.right, k.left
	if left {
		mine, other = k.left, k.right
	}

	out := microbatch.NewMicrobatch[Item](tag, mb.Len())
	flush := func() {
		if out.Len() > 0 {
			emit(out)
			out = microbatch.NewMicrobatch[Item](tag, mb.Len())
		}
	}
	for _, slot := range mb.Items() {
		key := k.op.Key(slot.Item)
		mine[key] = slot.Item
		otherVal, ok := other[key]
		if !ok {
			continue
		}
		var result Item
		var keep bool
		if left {
			result, keep = k.op.Join(slot.Item, otherVal)
		} else {
			result, keep = k.op.Join(otherVal, slot.Item)
		}
		if !keep {
			continue
		}
		if out.Full() {
			flush()
		}
		out.Append(result, slot.Desc)
	}
	flush()
	return nil
}
