// Package probe defines the record format shared between the BPF programs in
// bpf/ and the user-space pipeline, together with a Go model of the in-kernel
// extraction logic. The model is the authoritative statement of the probe
// semantics: the C programs mirror it instruction for instruction, and the
// property tests in this package execute it against synthetic process images,
// which the verifier-constrained C cannot do.
package probe

import (
	"bytes"
	"encoding/binary"
	"fmt"
)

// EventKind discriminates the externally visible record types. Relation
// registration never leaves the kernel, so it has no kind here.
type EventKind uint32

const (
	// KindCandidateAdded marks one alternative considered by the planner.
	KindCandidateAdded EventKind = 1
	// KindChosen marks one node of the finally selected path tree.
	KindChosen EventKind = 2
)

func (k EventKind) String() string {
	switch k {
	case KindCandidateAdded:
		return "candidate_added"
	case KindChosen:
		return "chosen"
	default:
		return fmt.Sprintf("unknown(%d)", uint32(k))
	}
}

const (
	// QueryTextLen bounds the optional query string carried in a record.
	QueryTextLen = 256

	// RawEventSize is the exact wire size of one record. The C struct is
	// laid out so that a plain memcpy of it round-trips through Decode.
	RawEventSize = 112 + QueryTextLen

	// MaxPlanNodes bounds the chosen-plan traversal. It is both the stack
	// capacity and the iteration limit of the in-kernel DFS; trees with
	// more nodes are truncated, not an error.
	MaxPlanNodes = 16

	// RelStoreCapacity matches the in-kernel hash map size.
	RelStoreCapacity = 8192
)

// RawEvent is the fixed-size record emitted by the probes. All multi-byte
// fields are little-endian on the wire. Cost and row fields carry raw
// IEEE-754 bit patterns: the probe context cannot do floating-point
// arithmetic, so interpretation is deferred to the reconstructor.
type RawEvent struct {
	PID       uint32
	Kind      EventKind
	Timestamp uint64 // monotonic nanoseconds

	PathAddr      uint64
	ParentRelAddr uint64
	OuterAddr     uint64
	InnerAddr     uint64

	StartupCostBits uint64
	TotalCostBits   uint64
	RowBits         uint64

	Category uint32
	RelIndex uint32 // parent relation's range-table index, 0 for joins
	RelOID   uint32 // resolved catalog identifier, 0 when unresolved

	JoinCategory  uint32 // planner join category + 1; 0 when not a join
	OuterCategory uint32
	InnerCategory uint32
	OuterIndex    uint32
	InnerIndex    uint32
	OuterOID      uint32
	InnerOID      uint32

	QueryText [QueryTextLen]byte
}

// Query returns the bounded query text as a string, empty when unset.
func (e *RawEvent) Query() string {
	i := bytes.IndexByte(e.QueryText[:], 0)
	if i < 0 {
		i = len(e.QueryText)
	}
	return string(e.QueryText[:i])
}

// SetQuery stores s truncated to the wire bound.
func (e *RawEvent) SetQuery(s string) {
	e.QueryText = [QueryTextLen]byte{}
	copy(e.QueryText[:QueryTextLen-1], s)
}

// Encode appends the wire representation of e to dst and returns the
// extended slice.
func (e *RawEvent) Encode(dst []byte) []byte {
	var b [RawEventSize]byte
	le := binary.LittleEndian

	le.PutUint32(b[0:], e.PID)
	le.PutUint32(b[4:], uint32(e.Kind))
	le.PutUint64(b[8:], e.Timestamp)
	le.PutUint64(b[16:], e.PathAddr)
	le.PutUint64(b[24:], e.ParentRelAddr)
	le.PutUint64(b[32:], e.OuterAddr)
	le.PutUint64(b[40:], e.InnerAddr)
	le.PutUint64(b[48:], e.StartupCostBits)
	le.PutUint64(b[56:], e.TotalCostBits)
	le.PutUint64(b[64:], e.RowBits)
	le.PutUint32(b[72:], e.Category)
	le.PutUint32(b[76:], e.RelIndex)
	le.PutUint32(b[80:], e.RelOID)
	le.PutUint32(b[84:], e.JoinCategory)
	le.PutUint32(b[88:], e.OuterCategory)
	le.PutUint32(b[92:], e.InnerCategory)
	le.PutUint32(b[96:], e.OuterIndex)
	le.PutUint32(b[100:], e.InnerIndex)
	le.PutUint32(b[104:], e.OuterOID)
	le.PutUint32(b[108:], e.InnerOID)
	copy(b[112:], e.QueryText[:])

	return append(dst, b[:]...)
}

// Decode parses one wire record into e. Records shorter than RawEventSize
// are rejected; longer ones are permitted because perf ring samples are
// padded to 8 bytes by the kernel.
func (e *RawEvent) Decode(b []byte) error {
	if len(b) < RawEventSize {
		return fmt.Errorf("short plan event record: %d bytes, want %d", len(b), RawEventSize)
	}
	le := binary.LittleEndian

	e.PID = le.Uint32(b[0:])
	e.Kind = EventKind(le.Uint32(b[4:]))
	e.Timestamp = le.Uint64(b[8:])
	e.PathAddr = le.Uint64(b[16:])
	e.ParentRelAddr = le.Uint64(b[24:])
	e.OuterAddr = le.Uint64(b[32:])
	e.InnerAddr = le.Uint64(b[40:])
	e.StartupCostBits = le.Uint64(b[48:])
	e.TotalCostBits = le.Uint64(b[56:])
	e.RowBits = le.Uint64(b[64:])
	e.Category = le.Uint32(b[72:])
	e.RelIndex = le.Uint32(b[76:])
	e.RelOID = le.Uint32(b[80:])
	e.JoinCategory = le.Uint32(b[84:])
	e.OuterCategory = le.Uint32(b[88:])
	e.InnerCategory = le.Uint32(b[92:])
	e.OuterIndex = le.Uint32(b[96:])
	e.InnerIndex = le.Uint32(b[100:])
	e.OuterOID = le.Uint32(b[104:])
	e.InnerOID = le.Uint32(b[108:])
	copy(e.QueryText[:], b[112:112+QueryTextLen])

	return nil
}
