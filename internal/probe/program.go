package probe

import (
	"github.com/pgpathwatch/pgpathwatch/internal/pglayout"
)

// Emitter receives finished records. The transport never blocks a probe
// invocation: under backpressure it drops instead.
type Emitter interface {
	Emit(ev *RawEvent)
}

// Clock returns monotonic nanoseconds, standing in for the kernel clock the
// BPF programs use.
type Clock func() uint64

// Program is the Go model of the three BPF probe bodies. Every exported
// method corresponds to one uprobe invocation: it runs to completion, reads
// only through the supplied Memory, and writes only to the emitter and the
// relation store. Invocations for different processes may run concurrently;
// each invocation's scratch state lives on its own stack frame, mirroring
// the per-CPU scratch slots of the kernel implementation.
type Program struct {
	fields pglayout.FieldOffsets
	rels   *RelStore
	out    Emitter
	now    Clock
}

// NewProgram wires a probe program against a resolved layout. rels carries
// relation identities across invocations; out receives every record.
func NewProgram(fields pglayout.FieldOffsets, rels *RelStore, out Emitter, now Clock) *Program {
	return &Program{fields: fields, rels: rels, out: out, now: now}
}

// Rels exposes the correlation store, shared with other probe instances
// tracing the same session.
func (p *Program) Rels() *RelStore { return p.rels }

func (p *Program) extractor(pid uint32, mem Memory) *extractor {
	return &extractor{fields: p.fields, mem: mem, rels: p.rels, pid: pid}
}

// rteKindRelation is the range-table entry kind for plain table references.
const rteKindRelation = 0

// SetRelPathlist is the relation-registration probe. It fires once per base
// relation as the planner starts building its candidate list and records the
// relation object's stable identity. Non-table range-table entries
// (subqueries, joins, functions) are skipped. It emits nothing.
func (p *Program) SetRelPathlist(pid uint32, mem Memory, relAddr uint64, tableIndex uint32, rteAddr uint64) {
	if relAddr == 0 || rteAddr == 0 || tableIndex == 0 {
		return
	}
	x := p.extractor(pid, mem)

	kind, ok := readU32(mem, rteAddr+x.fields.RTEKind)
	if !ok || kind != rteKindRelation {
		return
	}
	oid, ok := readU32(mem, rteAddr+x.fields.RTEOID)
	if !ok {
		return
	}
	// Last write wins: pointer reuse across planning episodes is a known
	// limitation, not detected here. Lookups corroborate with the table
	// index before trusting an entry.
	p.rels.Put(RelKey{PID: pid, RelAddr: relAddr}, RelMeta{Index: tableIndex, OID: oid})
}

// AddPath is the candidate-path probe. It fires once per alternative the
// planner considers for a relation and emits one CANDIDATE_ADDED record,
// plus one per wrapped sub-path so that wrapper nodes that never surface as
// top-level candidates remain visible in the stream.
func (p *Program) AddPath(pid uint32, mem Memory, relAddr, pathAddr uint64) {
	if relAddr == 0 || pathAddr == 0 {
		return
	}
	x := p.extractor(pid, mem)

	var ev RawEvent
	ev.PID = pid
	ev.Kind = KindCandidateAdded
	ev.Timestamp = p.now()

	outer, inner, ok := x.fillFromPath(pathAddr, &ev)
	if !ok {
		return
	}

	// Prefer the relation passed as the function argument over the path's
	// cached parent pointer: for a few alternatives the path is evaluated
	// before its parent linkage is fully set.
	ev.ParentRelAddr = relAddr
	if index, oid := x.relIdentity(relAddr); index != 0 {
		ev.RelIndex = index
		ev.RelOID = oid
		// A resolved base relation rules out the join interpretation.
		ev.JoinCategory = 0
		ev.OuterCategory, ev.InnerCategory = 0, 0
		ev.OuterIndex, ev.InnerIndex = 0, 0
		ev.OuterOID, ev.InnerOID = 0, 0
	}
	p.out.Emit(&ev)

	for _, sub := range [2]uint64{outer, inner} {
		if sub == 0 {
			continue
		}
		var child RawEvent
		child.PID = pid
		child.Kind = KindCandidateAdded
		child.Timestamp = p.now()
		if _, _, ok := x.fillFromPath(sub, &child); ok {
			p.out.Emit(&child)
		}
	}
}

// CreatePlan is the chosen-plan probe. It fires once per finalized plan with
// the root of the selected path tree and emits one CHOSEN record per visited
// node. The traversal is iterative with a fixed stack of MaxPlanNodes slots
// and at most MaxPlanNodes iterations; deeper trees are truncated silently.
// Sub-paths are pushed outer first, then inner.
func (p *Program) CreatePlan(pid uint32, mem Memory, rootAddr uint64) {
	if rootAddr == 0 {
		return
	}
	x := p.extractor(pid, mem)

	var stack [MaxPlanNodes]uint64
	sp := 0
	stack[sp] = rootAddr
	sp++

	for iter := 0; iter < MaxPlanNodes; iter++ {
		if sp <= 0 {
			break
		}
		sp--
		cur := stack[sp]
		if cur == 0 {
			continue
		}

		var ev RawEvent
		ev.PID = pid
		ev.Kind = KindChosen
		ev.Timestamp = p.now()

		outer, inner, ok := x.fillFromPath(cur, &ev)
		if !ok {
			continue
		}
		p.out.Emit(&ev)

		if outer != 0 && sp < MaxPlanNodes {
			stack[sp] = outer
			sp++
		}
		if inner != 0 && sp < MaxPlanNodes {
			stack[sp] = inner
			sp++
		}
	}
}
