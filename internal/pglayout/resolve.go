package pglayout

import (
	"bytes"
	"debug/dwarf"
	"debug/elf"
	"errors"
	"fmt"
	"io"

	"github.com/go-kit/log"
	"github.com/go-kit/log/level"
)

// Resolve derives the layout for the binary at binPath. Function addresses
// always come from the ELF symbol tables. Field offsets come from DWARF when
// the binary carries usable debug info, otherwise from the builtin
// per-major-version tables.
func Resolve(logger log.Logger, binPath string) (*StructLayout, error) {
	if logger == nil {
		logger = log.NewNopLogger()
	}

	f, err := elf.Open(binPath)
	if err != nil {
		return nil, fmt.Errorf("open target binary: %w", err)
	}
	defer f.Close()

	funcs, err := resolveFuncs(f, binPath)
	if err != nil {
		return nil, err
	}

	layout := &StructLayout{Funcs: *funcs}

	fields, err := fieldsFromDWARF(f)
	if err == nil {
		layout.Fields = *fields
		layout.Source = "dwarf"
		layout.MajorVersion = detectMajorVersion(f)
		level.Debug(logger).Log("msg", "resolved struct layout from debug info", "layout", layout)
		return layout, nil
	}
	level.Debug(logger).Log("msg", "no usable debug info, trying builtin tables", "err", err)

	major := detectMajorVersion(f)
	builtin, ok := builtinFields(major)
	if !ok {
		return nil, &UnsupportedLayoutError{MajorVersion: major}
	}
	layout.Fields = builtin
	layout.Source = "builtin"
	layout.MajorVersion = major
	level.Debug(logger).Log("msg", "resolved struct layout from builtin table", "layout", layout)
	return layout, nil
}

func resolveFuncs(f *elf.File, binPath string) (*FuncAddrs, error) {
	syms, err := f.Symbols()
	if err != nil && !errors.Is(err, elf.ErrNoSymbols) {
		return nil, fmt.Errorf("read symbol table: %w", err)
	}
	dyn, err := f.DynamicSymbols()
	if err != nil && !errors.Is(err, elf.ErrNoSymbols) {
		return nil, fmt.Errorf("read dynamic symbol table: %w", err)
	}

	byName := make(map[string]uint64, 3)
	for _, tab := range [][]elf.Symbol{syms, dyn} {
		for _, s := range tab {
			if elf.ST_TYPE(s.Info) != elf.STT_FUNC || s.Value == 0 {
				continue
			}
			switch s.Name {
			case SymAddPath, SymSetRelPathlist, SymCreatePlan:
				if _, ok := byName[s.Name]; !ok {
					byName[s.Name] = s.Value
				}
			}
		}
	}

	var out FuncAddrs
	for _, want := range []struct {
		name string
		dst  *uint64
	}{
		{SymAddPath, &out.AddPath},
		{SymSetRelPathlist, &out.SetRelPathlist},
		{SymCreatePlan, &out.CreatePlan},
	} {
		addr, ok := byName[want.name]
		if !ok {
			return nil, &SymbolNotFoundError{Symbol: want.name, Binary: binPath}
		}
		*want.dst = addr
	}
	return &out, nil
}

// memberOffsets walks the DWARF type info once and collects member offsets
// for every struct named in want, as map[struct][member]offset.
func memberOffsets(d *dwarf.Data, want map[string][]string) (map[string]map[string]uint64, error) {
	found := make(map[string]map[string]uint64, len(want))
	r := d.Reader()
	for {
		e, err := r.Next()
		if err != nil {
			return nil, err
		}
		if e == nil {
			break
		}
		if e.Tag != dwarf.TagStructType {
			continue
		}
		name, _ := e.Val(dwarf.AttrName).(string)
		members, interested := want[name]
		if !interested || found[name] != nil {
			if !e.Children {
				continue
			}
			r.SkipChildren()
			continue
		}

		offs := make(map[string]uint64, len(members))
		for {
			child, err := r.Next()
			if err != nil {
				return nil, err
			}
			if child == nil || child.Tag == 0 {
				break
			}
			if child.Tag != dwarf.TagMember {
				r.SkipChildren()
				continue
			}
			mname, _ := child.Val(dwarf.AttrName).(string)
			for _, m := range members {
				if m != mname {
					continue
				}
				loc, ok := child.Val(dwarf.AttrDataMemberLoc).(int64)
				if !ok {
					return nil, fmt.Errorf("member %s.%s has no data member location", name, mname)
				}
				offs[mname] = uint64(loc)
			}
		}
		found[name] = offs
	}
	return found, nil
}

func fieldsFromDWARF(f *elf.File) (*FieldOffsets, error) {
	d, err := f.DWARF()
	if err != nil {
		return nil, fmt.Errorf("load dwarf: %w", err)
	}

	structs, err := memberOffsets(d, map[string][]string{
		"Path":          {"pathtype", "parent", "rows", "startup_cost", "total_cost"},
		"JoinPath":      {"jointype", "outerjoinpath", "innerjoinpath"},
		"RelOptInfo":    {"relid"},
		"RangeTblEntry": {"rtekind", "relid"},
	})
	if err != nil {
		return nil, fmt.Errorf("walk dwarf: %w", err)
	}

	get := func(st, member string) (uint64, error) {
		offs, ok := structs[st]
		if !ok {
			return 0, fmt.Errorf("struct %s not in debug info", st)
		}
		off, ok := offs[member]
		if !ok {
			return 0, fmt.Errorf("member %s.%s not in debug info", st, member)
		}
		return off, nil
	}

	var out FieldOffsets
	var firstErr error
	set := func(dst *uint64, st, member string) {
		v, err := get(st, member)
		if err != nil && firstErr == nil {
			firstErr = err
		}
		*dst = v
	}
	set(&out.PathCategory, "Path", "pathtype")
	set(&out.PathParent, "Path", "parent")
	set(&out.PathRows, "Path", "rows")
	set(&out.PathStartupCost, "Path", "startup_cost")
	set(&out.PathTotalCost, "Path", "total_cost")
	set(&out.JoinCategory, "JoinPath", "jointype")
	set(&out.JoinOuter, "JoinPath", "outerjoinpath")
	set(&out.JoinInner, "JoinPath", "innerjoinpath")
	set(&out.RelIndex, "RelOptInfo", "relid")
	set(&out.RTEKind, "RangeTblEntry", "rtekind")
	set(&out.RTEOID, "RangeTblEntry", "relid")
	if firstErr != nil {
		return nil, firstErr
	}
	return &out, nil
}

// detectMajorVersion scans the binary's read-only data for the embedded
// "PostgreSQL N." version banner. Returns 0 when no banner is found.
func detectMajorVersion(f *elf.File) int {
	const marker = "PostgreSQL "
	for _, name := range []string{".rodata", ".data.rel.ro"} {
		sec := f.Section(name)
		if sec == nil {
			continue
		}
		data, err := io.ReadAll(io.LimitReader(sec.Open(), 64<<20))
		if err != nil {
			continue
		}
		for off := 0; ; {
			i := bytes.Index(data[off:], []byte(marker))
			if i < 0 {
				break
			}
			rest := data[off+i+len(marker):]
			if v := leadingInt(rest); v > 0 {
				return v
			}
			off += i + len(marker)
		}
	}
	return 0
}

func leadingInt(b []byte) int {
	v := 0
	seen := false
	for _, c := range b {
		if c < '0' || c > '9' {
			break
		}
		v = v*10 + int(c-'0')
		seen = true
		if v > 1000 {
			return 0
		}
	}
	if !seen {
		return 0
	}
	return v
}
