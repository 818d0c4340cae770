// End-to-end scenarios: probe model through the bounded transport into the
// reconstructor, the same wiring the tracer uses at runtime. This file is an
// external test package because transport and reconstruct both import probe.
package probe_test

import (
	"context"
	"encoding/binary"
	"fmt"
	"math"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pgpathwatch/pgpathwatch/internal/pglayout"
	"github.com/pgpathwatch/pgpathwatch/internal/probe"
	"github.com/pgpathwatch/pgpathwatch/internal/reconstruct"
	"github.com/pgpathwatch/pgpathwatch/internal/transport"
	"github.com/pgpathwatch/pgpathwatch/internal/util"
)

var scenarioFields = pglayout.FieldOffsets{
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

// backend is one synthetic planning episode: an address space plus the probe
// program attached to it.
type backend struct {
	pid  uint32
	segs map[uint64][]byte
	prog *probe.Program
}

func newBackend(pid uint32, out probe.Emitter) *backend {
	b := &backend{pid: pid, segs: make(map[uint64][]byte)}
	ts := uint64(0)
	b.prog = probe.NewProgram(scenarioFields, probe.NewRelStore(0), out, func() uint64 {
		ts += 1000
		return ts
	})
	return b
}

func (b *backend) ReadAt(addr uint64, buf []byte) error {
	for base, seg := range b.segs {
		if addr >= base && addr+uint64(len(buf)) <= base+uint64(len(seg)) {
			copy(buf, seg[addr-base:])
			return nil
		}
	}
	return fmt.Errorf("unmapped read at %#x", addr)
}

func (b *backend) obj(addr uint64) []byte {
	if seg, ok := b.segs[addr]; ok {
		return seg
	}
	seg := make([]byte, 128)
	b.segs[addr] = seg
	return seg
}

// table lays down a relation, its range-table entry, and registers it.
func (b *backend) table(relAddr, rteAddr uint64, index, oid uint32) {
	binary.LittleEndian.PutUint32(b.obj(relAddr)[scenarioFields.RelIndex:], index)
	binary.LittleEndian.PutUint32(b.obj(rteAddr)[scenarioFields.RTEKind:], 0)
	binary.LittleEndian.PutUint32(b.obj(rteAddr)[scenarioFields.RTEOID:], oid)
	b.prog.SetRelPathlist(b.pid, b, relAddr, index, rteAddr)
}

func (b *backend) scan(addr uint64, category uint32, parent uint64, startup, total, rows float64) {
	seg := b.obj(addr)
	le := binary.LittleEndian
	le.PutUint32(seg[scenarioFields.PathCategory:], category)
	le.PutUint64(seg[scenarioFields.PathParent:], parent)
	le.PutUint64(seg[scenarioFields.PathStartupCost:], math.Float64bits(startup))
	le.PutUint64(seg[scenarioFields.PathTotalCost:], math.Float64bits(total))
	le.PutUint64(seg[scenarioFields.PathRows:], math.Float64bits(rows))
}

func (b *backend) join(addr uint64, category, joinCat uint32, outer, inner uint64, startup, total, rows float64) {
	b.scan(addr, category, 0, startup, total, rows)
	seg := b.obj(addr)
	le := binary.LittleEndian
	le.PutUint32(seg[scenarioFields.JoinCategory:], joinCat)
	le.PutUint64(seg[scenarioFields.JoinOuter:], outer)
	le.PutUint64(seg[scenarioFields.JoinInner:], inner)
}

// drain closes the ring and runs a reconstructor over everything buffered.
func drain(t *testing.T, ring *transport.Ring, opts ...reconstruct.Option) []*reconstruct.PlanAlternative {
	t.Helper()
	require.NoError(t, ring.Close())

	var alts []*reconstruct.PlanAlternative
	sink := reconstruct.SinkFunc(func(_ context.Context, alt *reconstruct.PlanAlternative) error {
		alts = append(alts, alt)
		return nil
	})
	recon := reconstruct.New(util.TestLogger(t), prometheus.NewRegistry(), ring, sink, opts...)
	require.NoError(t, recon.Run(context.Background()))
	return alts
}

const (
	catSeqScan   = 37
	catIndexScan = 38
	catHashJoin  = 32
)

func TestScenarioSimpleScan(t *testing.T) {
	ring := transport.NewRing(64)
	b := newBackend(501, ring)

	const (
		accounts    = uint64(0x10000)
		accountsRTE = uint64(0x20000)
		seqPath     = uint64(0x30000)
	)
	b.table(accounts, accountsRTE, 1, 16384)
	b.scan(seqPath, catSeqScan, accounts, 0.0, 22.5, 100000.0)

	b.prog.AddPath(b.pid, b, accounts, seqPath)
	b.prog.CreatePlan(b.pid, b, seqPath)

	alts := drain(t, ring)
	require.Len(t, alts, 2)

	cand, chosen := alts[0], alts[1]
	assert.False(t, cand.Chosen)
	assert.True(t, chosen.Chosen)
	assert.Equal(t, uint64(1), cand.Seq)
	assert.Equal(t, uint64(2), chosen.Seq)

	for _, alt := range alts {
		assert.Equal(t, uint32(501), alt.PID)
		assert.Equal(t, seqPath, alt.PathAddr)
		assert.Equal(t, uint32(catSeqScan), alt.Category)
		assert.Equal(t, reconstruct.RelIdentity{Index: 1, OID: 16384}, alt.Relation)
		assert.InDelta(t, 22.5, alt.TotalCost, 0)
		assert.InDelta(t, 100000.0, alt.Rows, 0)
		assert.Nil(t, alt.JoinCategory)
	}
}

func TestScenarioIndexLookupBeatsSeqScan(t *testing.T) {
	ring := transport.NewRing(64)
	b := newBackend(502, ring)

	const (
		accounts    = uint64(0x10000)
		accountsRTE = uint64(0x20000)
		seqPath     = uint64(0x30000)
		idxPath     = uint64(0x31000)
	)
	b.table(accounts, accountsRTE, 1, 16384)
	b.scan(seqPath, catSeqScan, accounts, 0.0, 2890.0, 100000.0)
	b.scan(idxPath, catIndexScan, accounts, 0.42, 8.44, 1.0)

	b.prog.AddPath(b.pid, b, accounts, seqPath)
	b.prog.AddPath(b.pid, b, accounts, idxPath)
	b.prog.CreatePlan(b.pid, b, idxPath)

	alts := drain(t, ring)
	require.Len(t, alts, 3)

	byAddr := map[uint64]*reconstruct.PlanAlternative{}
	for _, alt := range alts[:2] {
		require.False(t, alt.Chosen)
		byAddr[alt.PathAddr] = alt
	}
	chosen := alts[2]
	require.True(t, chosen.Chosen)

	// The winner is the cheaper candidate and the chosen record agrees with
	// it field for field.
	assert.Less(t, byAddr[idxPath].TotalCost, byAddr[seqPath].TotalCost)
	assert.Equal(t, uint32(catIndexScan), chosen.Category)
	assert.Equal(t, byAddr[idxPath].TotalCost, chosen.TotalCost)
	assert.Equal(t, byAddr[idxPath].Relation, chosen.Relation)
}

func TestScenarioTwoTableJoin(t *testing.T) {
	ring := transport.NewRing(64)
	b := newBackend(503, ring)

	const (
		accounts    = uint64(0x10000)
		branches    = uint64(0x11000)
		joinRel     = uint64(0x12000)
		accountsRTE = uint64(0x20000)
		branchesRTE = uint64(0x21000)
		accScan     = uint64(0x30000)
		brScan      = uint64(0x31000)
		hashJoin    = uint64(0x32000)
	)
	b.table(accounts, accountsRTE, 1, 16384)
	b.table(branches, branchesRTE, 2, 16390)
	b.obj(joinRel) // join relation, table index stays 0

	b.scan(accScan, catSeqScan, accounts, 0.0, 2890.0, 100000.0)
	b.scan(brScan, catSeqScan, branches, 0.0, 1.1, 10.0)
	b.join(hashJoin, catHashJoin, 0, brScan, accScan, 1.23, 3200.0, 100000.0)

	b.prog.AddPath(b.pid, b, accounts, accScan)
	b.prog.AddPath(b.pid, b, branches, brScan)
	b.prog.AddPath(b.pid, b, joinRel, hashJoin)
	b.prog.CreatePlan(b.pid, b, hashJoin)

	alts := drain(t, ring)
	// 2 scan candidates + (join candidate with 2 synthesized children) +
	// 3 chosen nodes.
	require.Len(t, alts, 8)

	joinCand := alts[2]
	require.Nil(t, alts[0].JoinCategory)
	require.Nil(t, alts[1].JoinCategory)
	require.NotNil(t, joinCand.JoinCategory)
	assert.False(t, joinCand.Chosen)
	assert.Equal(t, uint32(0), *joinCand.JoinCategory) // inner join
	require.NotNil(t, joinCand.Outer)
	require.NotNil(t, joinCand.Inner)
	assert.Equal(t, brScan, joinCand.Outer.Addr)
	assert.Equal(t, accScan, joinCand.Inner.Addr)
	assert.Equal(t, reconstruct.RelIdentity{Index: 2, OID: 16390}, joinCand.Outer.Relation)
	assert.Equal(t, reconstruct.RelIdentity{Index: 1, OID: 16384}, joinCand.Inner.Relation)

	chosen := alts[5:]
	for _, alt := range chosen {
		assert.True(t, alt.Chosen)
	}
	// Root first, then the inner subtree, then the outer one.
	assert.Equal(t, hashJoin, chosen[0].PathAddr)
	assert.Equal(t, accScan, chosen[1].PathAddr)
	assert.Equal(t, brScan, chosen[2].PathAddr)
	assert.Equal(t, reconstruct.RelIdentity{Index: 1, OID: 16384}, chosen[1].Relation)
	assert.Equal(t, reconstruct.RelIdentity{Index: 2, OID: 16390}, chosen[2].Relation)
}

func TestScenarioPIDFilter(t *testing.T) {
	ring := transport.NewRing(64)
	one := newBackend(601, ring)
	two := newBackend(602, ring)

	for _, b := range []*backend{one, two} {
		b.table(0x10000, 0x20000, 1, 16384)
		b.scan(0x30000, catSeqScan, 0x10000, 0, 10, 1)
		b.prog.AddPath(b.pid, b, 0x10000, 0x30000)
	}

	alts := drain(t, ring, reconstruct.WithPIDFilter([]uint32{602}))
	require.Len(t, alts, 1)
	assert.Equal(t, uint32(602), alts[0].PID)
	// Sequence numbers count delivered records, not raw ones.
	assert.Equal(t, uint64(1), alts[0].Seq)
}
