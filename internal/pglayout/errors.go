package pglayout

import "fmt"

// SymbolNotFoundError is fatal: one of the instrumented functions is absent
// from the binary's symbol tables, which means the binary was stripped or
// built without the symbols the probes require.
type SymbolNotFoundError struct {
	Symbol string
	Binary string
}

func (e *SymbolNotFoundError) Error() string {
	return fmt.Sprintf("symbol %q not found in %s (stripped binary or missing debug info?)", e.Symbol, e.Binary)
}

// UnsupportedLayoutError is fatal: the binary has no DWARF to derive field
// offsets from and no builtin table covers the detected major version.
type UnsupportedLayoutError struct {
	MajorVersion int
}

func (e *UnsupportedLayoutError) Error() string {
	if e.MajorVersion == 0 {
		return "no struct layout available: binary has no usable debug info and its version could not be detected"
	}
	return fmt.Sprintf("no struct layout known for PostgreSQL %d and binary has no usable debug info", e.MajorVersion)
}
