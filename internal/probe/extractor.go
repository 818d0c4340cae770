package probe

import "github.com/pgpathwatch/pgpathwatch/internal/pglayout"

// joinCategoryMax is the highest valid join category code. Values beyond it
// mean the bytes at the join offsets were not join fields at all.
const joinCategoryMax = 8

// extractor reads typed fields out of one process's path objects using the
// resolved layout. One extractor serves a single probe invocation; it holds
// no state beyond its inputs.
type extractor struct {
	fields pglayout.FieldOffsets
	mem    Memory
	rels   *RelStore
	pid    uint32
}

// relIdentity resolves the identity of the relation object at relAddr: the
// table index is read directly from the object, and the catalog identifier
// comes from the correlation store only when the stored table index matches
// the one just read. The address is a hint, not a proof; the index match
// guards against the same address having been reused for another relation.
func (x *extractor) relIdentity(relAddr uint64) (index, oid uint32) {
	if relAddr == 0 {
		return 0, 0
	}
	index, ok := readU32(x.mem, relAddr+x.fields.RelIndex)
	if !ok {
		return 0, 0
	}
	meta, found := x.rels.Lookup(RelKey{PID: x.pid, RelAddr: relAddr})
	if found && index != 0 && meta.Index == index {
		oid = meta.OID
	}
	return index, oid
}

// pathRelIdentity resolves the identity of the relation owning the path at
// pathAddr through the path's parent pointer.
func (x *extractor) pathRelIdentity(pathAddr uint64) (relAddr uint64, index, oid uint32) {
	relAddr, ok := readU64(x.mem, pathAddr+x.fields.PathParent)
	if !ok || relAddr == 0 {
		return 0, 0, 0
	}
	index, oid = x.relIdentity(relAddr)
	return relAddr, index, oid
}

// fillFromPath populates ev from the path object at pathAddr and reports the
// wrapped outer/inner sub-paths when the path is a join. It returns false
// when the object is unreadable, in which case the invocation emits nothing
// for this path.
//
// The scan/join branch below is the central decoding rule: join fields are
// read only when the path's parent relation is unresolved (index 0). A path
// either scans one base relation or joins two sub-paths, never both, and on
// scan paths the join offsets cover memory used for other purposes.
func (x *extractor) fillFromPath(pathAddr uint64, ev *RawEvent) (outer, inner uint64, ok bool) {
	if pathAddr == 0 {
		return 0, 0, false
	}
	ev.PathAddr = pathAddr

	category, ok := readU32(x.mem, pathAddr+x.fields.PathCategory)
	if !ok {
		return 0, 0, false
	}
	ev.Category = category

	rows, ok := readU64(x.mem, pathAddr+x.fields.PathRows)
	if !ok {
		return 0, 0, false
	}
	startup, ok := readU64(x.mem, pathAddr+x.fields.PathStartupCost)
	if !ok {
		return 0, 0, false
	}
	total, ok := readU64(x.mem, pathAddr+x.fields.PathTotalCost)
	if !ok {
		return 0, 0, false
	}
	ev.RowBits = rows
	ev.StartupCostBits = startup
	ev.TotalCostBits = total

	relAddr, index, oid := x.pathRelIdentity(pathAddr)
	ev.ParentRelAddr = relAddr
	ev.RelIndex = index
	ev.RelOID = oid

	if index != 0 {
		return 0, 0, true
	}

	joinCat, ok := readU32(x.mem, pathAddr+x.fields.JoinCategory)
	if !ok {
		return 0, 0, true
	}
	outer, _ = readU64(x.mem, pathAddr+x.fields.JoinOuter)
	inner, _ = readU64(x.mem, pathAddr+x.fields.JoinInner)
	ev.OuterAddr = outer
	ev.InnerAddr = inner

	if joinCat > joinCategoryMax {
		return outer, inner, true
	}
	// The planner's join categories start at 0 (inner join). The wire
	// reserves 0 for "not a join", so codes are shifted up by one.
	ev.JoinCategory = joinCat + 1
	if outer != 0 {
		if cat, ok := readU32(x.mem, outer+x.fields.PathCategory); ok {
			ev.OuterCategory = cat
		}
		_, ev.OuterIndex, ev.OuterOID = x.pathRelIdentity(outer)
	}
	if inner != 0 {
		if cat, ok := readU32(x.mem, inner+x.fields.PathCategory); ok {
			ev.InnerCategory = cat
		}
		_, ev.InnerIndex, ev.InnerOID = x.pathRelIdentity(inner)
	}
	return outer, inner, true
}
