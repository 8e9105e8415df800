package fanout

// Mode selects the dispatch/drain discipline an Emitter/Collector pair
// uses: Ordered reproduces a STREAM's global FIFO across p workers (strict
// round-robin dispatch, matching round-robin drain); Unordered
// load-balances a BAG where element order is irrelevant (work-stealing
// dispatch, arrival-order collector).
type Mode int

const (
	Unordered Mode = iota
	Ordered
)

// SyncRouting selects how an Emitter forwards per-tag C_BEGIN/C_END across
// a farm's workers: BroadcastSync duplicates them to every worker;
// TargetedSync delivers them only to the worker holding state for the tag,
// the variant key-partitioned stages declare through their operator class.
// Top-level BEGIN/END are broadcast under either routing.
type SyncRouting int

const (
	BroadcastSync SyncRouting = iota
	TargetedSync
)
