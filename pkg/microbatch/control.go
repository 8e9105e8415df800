package microbatch

// ControlKind is the sentinel carried by a control token. Sentinels are
// modeled as a sum-type (enum) instead of pointer identity or strings, so
// equality is ordinary variant matching.
type ControlKind int

const (
	// Begin brackets the entire execution. Carries NilTag.
	Begin ControlKind = iota
	// End brackets the entire execution. Carries NilTag.
	End
	// CStreamBegin opens a stream segment under a tag.
	CStreamBegin
	// CStreamEnd closes a stream segment under a tag.
	CStreamEnd
	// FromLeft is injected by a pair collector immediately after
	// CStreamBegin to say the segment originated from the left sub-pipeline.
	FromLeft
	// FromRight is the right-hand counterpart of FromLeft.
	FromRight
)

func (k ControlKind) String() string {
	switch k {
	case Begin:
		return "BEGIN"
	case End:
		return "END"
	case CStreamBegin:
		return "C_BEGIN"
	case CStreamEnd:
		return "C_END"
	case FromLeft:
		return "FROM_LEFT"
	case FromRight:
		return "FROM_RIGHT"
	default:
		return "UNKNOWN"
	}
}

// Control is a control token: a distinguished microbatch whose payload is a
// sentinel, bracketing either the whole execution (Begin/End, NilTag) or a
// tagged stream segment (CStreamBegin/CStreamEnd, FromLeft/FromRight).
type Control struct {
	Kind ControlKind
	Tag  Tag
}

// NewControl builds a control token for tag.
func NewControl(kind ControlKind, tag Tag) *Control {
	return &Control{Kind: kind, Tag: tag}
}
