// Package pglayout resolves everything about a target PostgreSQL binary that
// the probes need and that is not a stable ABI: the addresses of the three
// instrumented planner functions and the offsets of the struct fields the
// probes read. A layout is resolved once per trace session and is immutable
// afterwards; it is injected into the BPF programs as load-time constants,
// never compiled in.
package pglayout

import "fmt"

// Instrumented function names inside the postgres binary.
const (
	SymAddPath        = "add_path"
	SymSetRelPathlist = "set_rel_pathlist"
	SymCreatePlan     = "create_plan"
)

// FuncAddrs holds the virtual addresses (ELF vaddr, not file offsets) of the
// instrumented functions.
type FuncAddrs struct {
	AddPath        uint64
	SetRelPathlist uint64
	CreatePlan     uint64
}

// FieldOffsets is the per-version table of struct member offsets read by the
// probes. Offsets are in bytes from the start of the containing object.
type FieldOffsets struct {
	// Path fields.
	PathCategory    uint64 `yaml:"path_category"` // Path.pathtype
	PathParent      uint64 `yaml:"path_parent"`   // Path.parent (RelOptInfo*)
	PathRows        uint64 `yaml:"path_rows"`
	PathStartupCost uint64 `yaml:"path_startup_cost"`
	PathTotalCost   uint64 `yaml:"path_total_cost"`

	// JoinPath fields. Only valid to read when the path's parent relation
	// is unresolved; on scan paths this memory holds unrelated data.
	JoinCategory uint64 `yaml:"join_category"` // JoinPath.jointype
	JoinOuter    uint64 `yaml:"join_outer"`    // JoinPath.outerjoinpath
	JoinInner    uint64 `yaml:"join_inner"`    // JoinPath.innerjoinpath

	// RelOptInfo fields.
	RelIndex uint64 `yaml:"rel_index"` // RelOptInfo.relid (range-table index)

	// RangeTblEntry fields.
	RTEKind uint64 `yaml:"rte_kind"` // RangeTblEntry.rtekind
	RTEOID  uint64 `yaml:"rte_oid"`  // RangeTblEntry.relid (catalog OID)
}

// StructLayout is the resolved layout for one target binary.
type StructLayout struct {
	// MajorVersion is the detected PostgreSQL major version, 0 when the
	// binary carried DWARF and version detection was unnecessary.
	MajorVersion int

	// Source records where the field offsets came from ("dwarf" or
	// "builtin"), for diagnostics only.
	Source string

	Funcs  FuncAddrs
	Fields FieldOffsets
}

func (l *StructLayout) String() string {
	return fmt.Sprintf("layout{version=%d source=%s add_path=%#x set_rel_pathlist=%#x create_plan=%#x}",
		l.MajorVersion, l.Source, l.Funcs.AddPath, l.Funcs.SetRelPathlist, l.Funcs.CreatePlan)
}
