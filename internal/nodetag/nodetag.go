// Package nodetag maps the planner's numeric category codes to names. The
// codes are not a stable ABI: every PostgreSQL release regenerates its node
// tag enumeration, so labeling prefers a nodetags.h file taken from the
// traced server's source tree. A builtin table for recent releases serves
// as fallback. Labels are presentation only; the trace itself carries the
// raw codes.
package nodetag

import (
	"bufio"
	"fmt"
	"os"
	"regexp"
	"strconv"
	"strings"
)

// Table resolves category codes to node tag names.
type Table struct {
	byValue map[uint32]string
}

// Name returns the tag name for code, or "Unknown(code)" when absent.
func (t *Table) Name(code uint32) string {
	if t != nil {
		if name, ok := t.byValue[code]; ok {
			return name
		}
	}
	return fmt.Sprintf("Unknown(%d)", code)
}

// Len reports the number of known tags.
func (t *Table) Len() int {
	if t == nil {
		return 0
	}
	return len(t.byValue)
}

// Builtin returns the compiled-in table of path node tags.
func Builtin() *Table {
	byValue := make(map[uint32]string, len(builtinTags))
	for name, value := range builtinTags {
		byValue[value] = name
	}
	return &Table{byValue: byValue}
}

// tagLine matches both the generated nodetags.h form "T_SeqScan = 18," and
// plain enumerator lines "T_SeqScan," whose value is positional.
var tagLine = regexp.MustCompile(`^\s*(T_[A-Za-z0-9_]+)\s*(?:=\s*(\d+)\s*)?,?\s*$`)

// LoadFile parses a nodetags.h (or equivalent enum listing) into a table.
func LoadFile(path string) (*Table, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open nodetags file: %w", err)
	}
	defer f.Close()

	byValue := make(map[uint32]string)
	next := uint32(0)
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if i := strings.Index(line, "//"); i >= 0 {
			line = line[:i]
		}
		m := tagLine.FindStringSubmatch(line)
		if m == nil {
			continue
		}
		value := next
		if m[2] != "" {
			v, err := strconv.ParseUint(m[2], 10, 32)
			if err != nil {
				return nil, fmt.Errorf("bad tag value in %q: %w", line, err)
			}
			value = uint32(v)
		}
		byValue[value] = m[1]
		next = value + 1
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("read nodetags file: %w", err)
	}
	if len(byValue) == 0 {
		return nil, fmt.Errorf("no node tags found in %s", path)
	}
	return &Table{byValue: byValue}, nil
}

// JoinName returns the name of a planner join category code.
func JoinName(code uint32) string {
	if int(code) < len(joinNames) {
		return joinNames[code]
	}
	return fmt.Sprintf("Unknown(%d)", code)
}

var joinNames = []string{
	"JOIN_INNER",
	"JOIN_LEFT",
	"JOIN_FULL",
	"JOIN_RIGHT",
	"JOIN_SEMI",
	"JOIN_ANTI",
	"JOIN_RIGHT_ANTI",
	"JOIN_UNIQUE_OUTER",
	"JOIN_UNIQUE_INNER",
}

// Path node tags as enumerated by recent releases. Only used when no
// nodetags.h is supplied.
var builtinTags = map[string]uint32{
	"T_Invalid":             0,
	"T_Path":                1,
	"T_IndexPath":           2,
	"T_BitmapHeapPath":      3,
	"T_BitmapAndPath":       4,
	"T_BitmapOrPath":        5,
	"T_TidPath":             6,
	"T_TidRangePath":        7,
	"T_SubqueryScanPath":    8,
	"T_ForeignPath":         9,
	"T_CustomPath":          10,
	"T_NestPath":            11,
	"T_MergePath":           12,
	"T_HashPath":            13,
	"T_AppendPath":          14,
	"T_MergeAppendPath":     15,
	"T_GroupResultPath":     16,
	"T_MaterialPath":        17,
	"T_MemoizePath":         18,
	"T_UniquePath":          19,
	"T_GatherPath":          20,
	"T_GatherMergePath":     21,
	"T_ProjectionPath":      22,
	"T_ProjectSetPath":      23,
	"T_SortPath":            24,
	"T_IncrementalSortPath": 25,
	"T_GroupPath":           26,
	"T_UpperUniquePath":     27,
	"T_AggPath":             28,
	"T_GroupingSetsPath":    29,
	"T_MinMaxAggPath":       30,
	"T_WindowAggPath":       31,
	"T_SetOpPath":           32,
	"T_RecursiveUnionPath":  33,
	"T_LockRowsPath":        34,
	"T_ModifyTablePath":     35,
	"T_LimitPath":           36,
	"T_SeqScan":             37,
	"T_IndexScan":           38,
	"T_IndexOnlyScan":       39,
	"T_BitmapHeapScan":      40,
	"T_NestLoop":            41,
	"T_MergeJoin":           42,
	"T_HashJoin":            43,
	"T_Material":            44,
	"T_Sort":                45,
	"T_Agg":                 46,
	"T_Limit":               47,
}
