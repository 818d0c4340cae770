// Package output renders the decoded trace. It sits strictly downstream of
// the reconstructor: records arrive in order and are written in order, one
// line per alternative.
package output

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/fatih/color"

	"github.com/pgpathwatch/pgpathwatch/internal/catalog"
	"github.com/pgpathwatch/pgpathwatch/internal/nodetag"
	"github.com/pgpathwatch/pgpathwatch/internal/reconstruct"
)

var chosenMarker = color.New(color.FgGreen, color.Bold)

// Console writes one human-readable line per alternative.
type Console struct {
	mu      sync.Mutex
	w       io.Writer
	tags    *nodetag.Table
	catalog *catalog.Resolver
	start   time.Time
}

// NewConsole returns a console sink labeling categories through tags and,
// when resolver is non-nil, annotating OIDs with relation names.
func NewConsole(w io.Writer, tags *nodetag.Table, resolver *catalog.Resolver) *Console {
	return &Console{w: w, tags: tags, catalog: resolver, start: time.Now()}
}

// Write implements reconstruct.Sink.
func (c *Console) Write(ctx context.Context, alt *reconstruct.PlanAlternative) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	ts := c.start.Add(alt.Elapsed).Format("15:04:05.000")

	var b strings.Builder
	fmt.Fprintf(&b, "[%s] [PID %d] ", ts, alt.PID)
	if alt.Chosen {
		fmt.Fprintf(&b, "%s: ", chosenMarker.Sprint("CHOSEN"))
	} else {
		b.WriteString("CANDIDATE: ")
	}
	fmt.Fprintf(&b, "%s (startup=%.2f, total=%.2f, rows=%.0f",
		c.tags.Name(alt.Category), alt.StartupCost, alt.TotalCost, alt.Rows)

	if alt.Relation.Index != 0 {
		fmt.Fprintf(&b, ", rti=%d", alt.Relation.Index)
		b.WriteString(c.relation(ctx, alt.Relation))
	}
	if alt.JoinCategory != nil {
		fmt.Fprintf(&b, ", join=%s", nodetag.JoinName(*alt.JoinCategory))
		if alt.Outer != nil && alt.Outer.Addr != 0 {
			fmt.Fprintf(&b, ", outer=%s rti=%d%s",
				c.tags.Name(alt.Outer.Category), alt.Outer.Relation.Index, c.relation(ctx, alt.Outer.Relation))
		}
		if alt.Inner != nil && alt.Inner.Addr != 0 {
			fmt.Fprintf(&b, ", inner=%s rti=%d%s",
				c.tags.Name(alt.Inner.Category), alt.Inner.Relation.Index, c.relation(ctx, alt.Inner.Relation))
		}
	}
	b.WriteString(")")
	if alt.Query != "" {
		fmt.Fprintf(&b, " %q", alt.Query)
	}
	b.WriteString("\n")

	_, err := io.WriteString(c.w, b.String())
	return err
}

// relation renders the catalog side of an identity. Unresolved identifiers
// stay visible as oid=0 rather than being masked.
func (c *Console) relation(ctx context.Context, rel reconstruct.RelIdentity) string {
	if rel.OID == 0 {
		return " oid=unresolved"
	}
	if name, ok := c.catalog.Name(ctx, rel.OID); ok {
		return fmt.Sprintf(" oid=%d (%s)", rel.OID, name)
	}
	return fmt.Sprintf(" oid=%d", rel.OID)
}

// Banner prints the session header the way the interactive tool announces
// itself. JSON mode omits it.
func Banner(w io.Writer, binary string, pids []uint32) {
	rule := strings.Repeat("=", 80)
	fmt.Fprintln(w, rule)
	fmt.Fprintln(w, "pgpathwatch - PostgreSQL plan alternatives tracer")
	fmt.Fprintf(w, "Binary: %s\n", binary)
	if len(pids) > 0 {
		strs := make([]string, len(pids))
		for i, pid := range pids {
			strs[i] = fmt.Sprint(pid)
		}
		fmt.Fprintf(w, "PIDs: %s\n", strings.Join(strs, ", "))
	} else {
		fmt.Fprintln(w, "Tracing all processes running this binary")
	}
	fmt.Fprintln(w, rule)
}

// JSON writes one JSON object per line per alternative.
type JSON struct {
	mu  sync.Mutex
	enc *json.Encoder
}

// NewJSON returns a JSON-lines sink.
func NewJSON(w io.Writer) *JSON {
	return &JSON{enc: json.NewEncoder(w)}
}

// Write implements reconstruct.Sink.
func (j *JSON) Write(_ context.Context, alt *reconstruct.PlanAlternative) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.enc.Encode(alt)
}
