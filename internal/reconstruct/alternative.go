// Package reconstruct turns the raw probe event stream back into a
// structured plan-alternatives trace. All numeric interpretation of the raw
// bit patterns happens here, outside the probe execution context.
package reconstruct

import (
	"math"
	"time"

	"github.com/pgpathwatch/pgpathwatch/internal/probe"
)

// RelIdentity names one side of a reconstructed observation: the relation's
// range-table index and its catalog identifier. OID 0 means unresolved;
// downstream layers must surface that as unresolved, not as a zero result.
type RelIdentity struct {
	Index uint32 `json:"index"`
	OID   uint32 `json:"oid"`
}

// JoinSide describes one wrapped sub-path of a join candidate.
type JoinSide struct {
	Addr     uint64      `json:"addr"`
	Category uint32      `json:"category"`
	Relation RelIdentity `json:"relation"`
}

// PlanAlternative is one decoded CANDIDATE_ADDED or CHOSEN observation.
// Category and join category stay opaque numeric codes; attaching
// human-readable labels is the output layer's concern. Immutable once
// decoded.
type PlanAlternative struct {
	Seq       uint64        `json:"seq"`
	PID       uint32        `json:"pid"`
	Kind      string        `json:"event"`
	Chosen    bool          `json:"chosen"`
	Timestamp uint64        `json:"timestamp_ns"`
	Elapsed   time.Duration `json:"elapsed_ns"`

	PathAddr uint64 `json:"path_addr"`
	Category uint32 `json:"category"`

	StartupCost float64 `json:"startup_cost"`
	TotalCost   float64 `json:"total_cost"`
	Rows        float64 `json:"rows"`

	Relation RelIdentity `json:"relation"`

	// JoinCategory is the planner's join category code when the path joins
	// two sub-paths; nil otherwise.
	JoinCategory *uint32   `json:"join_category,omitempty"`
	Outer        *JoinSide `json:"outer,omitempty"`
	Inner        *JoinSide `json:"inner,omitempty"`

	Query string `json:"query,omitempty"`
}

// Decode converts one raw event. sessionStart is the timestamp of the first
// record of the session and anchors the session-relative Elapsed field.
func Decode(ev *probe.RawEvent, seq uint64, sessionStart uint64) *PlanAlternative {
	alt := &PlanAlternative{
		Seq:         seq,
		PID:         ev.PID,
		Kind:        ev.Kind.String(),
		Chosen:      ev.Kind == probe.KindChosen,
		Timestamp:   ev.Timestamp,
		Elapsed:     time.Duration(ev.Timestamp - sessionStart),
		PathAddr:    ev.PathAddr,
		Category:    ev.Category,
		StartupCost: math.Float64frombits(ev.StartupCostBits),
		TotalCost:   math.Float64frombits(ev.TotalCostBits),
		Rows:        math.Float64frombits(ev.RowBits),
		Relation:    RelIdentity{Index: ev.RelIndex, OID: ev.RelOID},
		Query:       ev.Query(),
	}
	if ev.JoinCategory != 0 {
		cat := ev.JoinCategory - 1
		alt.JoinCategory = &cat
		alt.Outer = &JoinSide{
			Addr:     ev.OuterAddr,
			Category: ev.OuterCategory,
			Relation: RelIdentity{Index: ev.OuterIndex, OID: ev.OuterOID},
		}
		alt.Inner = &JoinSide{
			Addr:     ev.InnerAddr,
			Category: ev.InnerCategory,
			Relation: RelIdentity{Index: ev.InnerIndex, OID: ev.InnerOID},
		}
	}
	return alt
}
