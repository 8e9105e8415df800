// Package fanout implements the parallel fan-out/fan-in fabric that spreads
// a single edge across p worker copies of a stage and merges their outputs
// back into one, re-serializing the control-token stream along the way.
package fanout

import "github.com/flowcore/dataflow/pkg/microbatch"

// Coalescer implements the sync-token arithmetic used to merge p parallel
// copies of the control stream back into one. Each top-level BEGIN/END is
// forwarded exactly once, on the LAST of the p arrivals. A per-tag
// CStreamBegin is forwarded on the FIRST arrival ("anticipated forwarding"),
// while a per-tag CStreamEnd is forwarded on the LAST arrival ("delayed
// forwarding"): the downstream segment opens as soon as any worker has
// data for it and closes only once every worker is done with it.
type Coalescer struct {
	parallelism     int
	cstreamExpected int
	beginSeen       int
	endSeen         int
	cstreamBegin    map[microbatch.Tag]int
	cstreamEnd      map[microbatch.Tag]int
}

// NewCoalescer returns a Coalescer tracking parallelism independent arrivals
// per sync boundary, assuming per-tag sync was broadcast to every worker.
func NewCoalescer(parallelism int) *Coalescer {
	return newCoalescer(parallelism, parallelism)
}

// NewTargetedCoalescer returns a Coalescer for a farm whose emitter routes
// per-tag sync to the single worker owning the tag (TargetedSync): each
// C_BEGIN/C_END then arrives exactly once, while the broadcast BEGIN/END
// arithmetic is unchanged.
func NewTargetedCoalescer(parallelism int) *Coalescer {
	return newCoalescer(parallelism, 1)
}

func newCoalescer(parallelism, cstreamExpected int) *Coalescer {
	if parallelism <= 0 {
		panic("fanout: NewCoalescer requires parallelism > 0")
	}
	return &Coalescer{
		parallelism:     parallelism,
		cstreamExpected: cstreamExpected,
		cstreamBegin:    make(map[microbatch.Tag]int),
		cstreamEnd:      make(map[microbatch.Tag]int),
	}
}

// Begin records one of the p BEGIN arrivals and reports whether it is the
// last, in which case the caller forwards a single BEGIN downstream.
func (co *Coalescer) Begin() bool {
	co.beginSeen++
	return co.beginSeen == co.parallelism
}

// End records one of the p END arrivals and reports whether it is the last.
func (co *Coalescer) End() bool {
	co.endSeen++
	return co.endSeen == co.parallelism
}

// CStreamBegin records one of the p C_BEGIN arrivals for tag and reports
// whether it is the first.
func (co *Coalescer) CStreamBegin(tag microbatch.Tag) bool {
	co.cstreamBegin[tag]++
	return co.cstreamBegin[tag] == 1
}

// CStreamEnd records one of the p C_END arrivals for tag and reports
// whether it is the last, clearing the bookkeeping for tag when it is.
func (co *Coalescer) CStreamEnd(tag microbatch.Tag) bool {
	co.cstreamEnd[tag]++
	last := co.cstreamEnd[tag] == co.cstreamExpected
	if last {
		delete(co.cstreamBegin, tag)
		delete(co.cstreamEnd, tag)
	}
	return last
}
