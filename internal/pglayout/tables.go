package pglayout

import (
	_ "embed"
	"fmt"

	"gopkg.in/yaml.v3"
)

// Builtin offset tables for release builds without debug info, keyed by
// PostgreSQL major version. New versions are added by extending the data
// file, not by code changes.
//
//go:embed tables.yaml
var builtinTablesRaw []byte

var builtinTables = mustParseTables(builtinTablesRaw)

func mustParseTables(raw []byte) map[int]FieldOffsets {
	var tables map[int]FieldOffsets
	if err := yaml.Unmarshal(raw, &tables); err != nil {
		panic(fmt.Sprintf("pglayout: bad embedded offset tables: %v", err))
	}
	return tables
}

// builtinFields returns the builtin offsets for a major version, if known.
func builtinFields(major int) (FieldOffsets, bool) {
	f, ok := builtinTables[major]
	return f, ok
}

// SupportedVersions lists the major versions covered by the builtin tables.
func SupportedVersions() []int {
	out := make([]int, 0, len(builtinTables))
	for v := range builtinTables {
		out = append(out, v)
	}
	return out
}
