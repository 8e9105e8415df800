package microbatch

import "github.com/google/uuid"

// Tag identifies a logical stream. Every microbatch and every control token
// carries one. The well-known NilTag designates the top-level pipeline
// stream; nested iterations allocate fresh tags via NewTag.
type Tag struct {
	id string
}

// NilTag is the tag of the top-level pipeline stream. BEGIN and END always
// carry NilTag.
var NilTag = Tag{}

// NewTag allocates a fresh stream tag, used when opening a new iteration
// round or a new join segment. Tags only need to be unique across the run,
// so a random identifier avoids a shared counter that every call site would
// otherwise have to synchronize on.
func NewTag() Tag {
	return Tag{id: uuid.NewString()}
}

// IsNil reports whether t is the top-level stream tag.
func (t Tag) IsNil() bool { return t == NilTag }

func (t Tag) String() string {
	if t.IsNil() {
		return "<nil-tag>"
	}
	return t.id
}
