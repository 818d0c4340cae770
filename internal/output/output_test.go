package output

import (
	"bytes"
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pgpathwatch/pgpathwatch/internal/nodetag"
	"github.com/pgpathwatch/pgpathwatch/internal/reconstruct"
)

func scanAlt() *reconstruct.PlanAlternative {
	return &reconstruct.PlanAlternative{
		Seq:         1,
		PID:         4242,
		Kind:        "candidate_added",
		Category:    37,
		StartupCost: 0.42,
		TotalCost:   22.5,
		Rows:        1000,
		Relation:    reconstruct.RelIdentity{Index: 1, OID: 16384},
	}
}

func TestConsoleScanLine(t *testing.T) {
	var buf bytes.Buffer
	c := NewConsole(&buf, nodetag.Builtin(), nil)

	require.NoError(t, c.Write(context.Background(), scanAlt()))

	line := buf.String()
	assert.Contains(t, line, "[PID 4242]")
	assert.Contains(t, line, "CANDIDATE: T_SeqScan")
	assert.Contains(t, line, "startup=0.42")
	assert.Contains(t, line, "total=22.50")
	assert.Contains(t, line, "rows=1000")
	assert.Contains(t, line, "rti=1 oid=16384")
	assert.NotContains(t, line, "join=")
}

func TestConsoleChosenMarker(t *testing.T) {
	var buf bytes.Buffer
	c := NewConsole(&buf, nodetag.Builtin(), nil)

	alt := scanAlt()
	alt.Kind = "chosen"
	alt.Chosen = true
	require.NoError(t, c.Write(context.Background(), alt))

	assert.Contains(t, buf.String(), "CHOSEN")
	assert.NotContains(t, buf.String(), "CANDIDATE")
}

func TestConsoleUnresolvedOID(t *testing.T) {
	var buf bytes.Buffer
	c := NewConsole(&buf, nodetag.Builtin(), nil)

	alt := scanAlt()
	alt.Relation.OID = 0
	require.NoError(t, c.Write(context.Background(), alt))

	// An unresolved identifier must be surfaced, not rendered as oid=0.
	assert.Contains(t, buf.String(), "oid=unresolved")
}

func TestConsoleJoinLine(t *testing.T) {
	var buf bytes.Buffer
	c := NewConsole(&buf, nodetag.Builtin(), nil)

	joinCat := uint32(0)
	alt := &reconstruct.PlanAlternative{
		PID:          4242,
		Kind:         "candidate_added",
		Category:     13,
		TotalCost:    3200,
		Rows:         100000,
		JoinCategory: &joinCat,
		Outer: &reconstruct.JoinSide{
			Addr:     0x30000,
			Category: 37,
			Relation: reconstruct.RelIdentity{Index: 2, OID: 16390},
		},
		Inner: &reconstruct.JoinSide{
			Addr:     0x31000,
			Category: 38,
			Relation: reconstruct.RelIdentity{Index: 1, OID: 16384},
		},
	}
	require.NoError(t, c.Write(context.Background(), alt))

	line := buf.String()
	assert.Contains(t, line, "T_HashPath")
	assert.Contains(t, line, "join=JOIN_INNER")
	assert.Contains(t, line, "outer=T_SeqScan rti=2 oid=16390")
	assert.Contains(t, line, "inner=T_IndexScan rti=1 oid=16384")
}

func TestConsoleQueryText(t *testing.T) {
	var buf bytes.Buffer
	c := NewConsole(&buf, nodetag.Builtin(), nil)

	alt := scanAlt()
	alt.Query = "select * from t"
	require.NoError(t, c.Write(context.Background(), alt))
	assert.Contains(t, buf.String(), `"select * from t"`)
}

func TestJSONLines(t *testing.T) {
	var buf bytes.Buffer
	j := NewJSON(&buf)

	require.NoError(t, j.Write(context.Background(), scanAlt()))
	require.NoError(t, j.Write(context.Background(), scanAlt()))

	lines := bytes.Split(bytes.TrimSpace(buf.Bytes()), []byte("\n"))
	require.Len(t, lines, 2)
	for _, line := range lines {
		var got reconstruct.PlanAlternative
		require.NoError(t, json.Unmarshal(line, &got))
		assert.Equal(t, uint32(4242), got.PID)
		assert.Equal(t, reconstruct.RelIdentity{Index: 1, OID: 16384}, got.Relation)
	}
}

func TestBanner(t *testing.T) {
	var buf bytes.Buffer
	Banner(&buf, "/usr/lib/postgresql/16/bin/postgres", []uint32{101, 102})
	out := buf.String()
	assert.Contains(t, out, "/usr/lib/postgresql/16/bin/postgres")
	assert.Contains(t, out, "PIDs: 101, 102")

	buf.Reset()
	Banner(&buf, "/usr/bin/postgres", nil)
	assert.Contains(t, buf.String(), "all processes")
}
