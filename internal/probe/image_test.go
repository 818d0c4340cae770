package probe

import (
	"encoding/binary"
	"fmt"
	"math"

	"github.com/pgpathwatch/pgpathwatch/internal/pglayout"
)

// testFields is a fixed layout for synthetic images. Values are arbitrary
// but distinct so off-by-one reads surface as wrong data, not coincidence.
var testFields = pglayout.FieldOffsets{
	PathCategory:    4,
	PathParent:      8,
	PathRows:        40,
	PathStartupCost: 48,
	PathTotalCost:   56,
	JoinCategory:    72,
	JoinOuter:       80,
	JoinInner:       88,
	RelIndex:        104,
	RTEKind:         4,
	RTEOID:          24,
}

const objectSize = 128

// image is a synthetic process address space built from fixed-size objects.
type image struct {
	segs map[uint64][]byte
}

func newImage() *image {
	return &image{segs: make(map[uint64][]byte)}
}

func (im *image) ReadAt(addr uint64, buf []byte) error {
	for base, seg := range im.segs {
		if addr >= base && addr+uint64(len(buf)) <= base+uint64(len(seg)) {
			copy(buf, seg[addr-base:])
			return nil
		}
	}
	return fmt.Errorf("unmapped read at %#x", addr)
}

func (im *image) object(addr uint64) []byte {
	if seg, ok := im.segs[addr]; ok {
		return seg
	}
	seg := make([]byte, objectSize)
	im.segs[addr] = seg
	return seg
}

// drop unmaps the object at addr, simulating memory reuse by the traced
// process.
func (im *image) drop(addr uint64) {
	delete(im.segs, addr)
}

func (im *image) putU32(addr uint64, off uint64, v uint32) {
	binary.LittleEndian.PutUint32(im.object(addr)[off:], v)
}

func (im *image) putU64(addr uint64, off uint64, v uint64) {
	binary.LittleEndian.PutUint64(im.object(addr)[off:], v)
}

// rel places a relation object carrying its range-table index.
func (im *image) rel(addr uint64, index uint32) {
	im.putU32(addr, testFields.RelIndex, index)
}

// rte places a range-table entry of the given kind and catalog OID.
func (im *image) rte(addr uint64, kind, oid uint32) {
	im.putU32(addr, testFields.RTEKind, kind)
	im.putU32(addr, testFields.RTEOID, oid)
}

// scanPath places a path owned by the relation at parent.
func (im *image) scanPath(addr uint64, category uint32, parent uint64, startup, total, rows float64) {
	im.putU32(addr, testFields.PathCategory, category)
	im.putU64(addr, testFields.PathParent, parent)
	im.putU64(addr, testFields.PathStartupCost, math.Float64bits(startup))
	im.putU64(addr, testFields.PathTotalCost, math.Float64bits(total))
	im.putU64(addr, testFields.PathRows, math.Float64bits(rows))
}

// joinPath places a join path wrapping outer and inner sub-paths. parent is
// usually 0 or a join relation whose index is 0.
func (im *image) joinPath(addr uint64, category, joinCat uint32, parent, outer, inner uint64, startup, total, rows float64) {
	im.scanPath(addr, category, parent, startup, total, rows)
	im.putU32(addr, testFields.JoinCategory, joinCat)
	im.putU64(addr, testFields.JoinOuter, outer)
	im.putU64(addr, testFields.JoinInner, inner)
}

// collector buffers emitted records in order.
type collector struct {
	events []RawEvent
}

func (c *collector) Emit(ev *RawEvent) {
	c.events = append(c.events, *ev)
}

func (c *collector) kinds() []EventKind {
	out := make([]EventKind, len(c.events))
	for i := range c.events {
		out[i] = c.events[i].Kind
	}
	return out
}

// testClock returns a strictly increasing clock starting at start.
func testClock(start uint64) Clock {
	t := start
	return func() uint64 {
		t++
		return t
	}
}

func newTestProgram(out Emitter) *Program {
	return NewProgram(testFields, NewRelStore(0), out, testClock(1000))
}
