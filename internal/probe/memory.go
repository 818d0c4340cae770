package probe

import "encoding/binary"

// Memory is a read-only view of a traced process's address space. The
// in-kernel implementation is bpf_probe_read_user; tests supply a synthetic
// image. Reads may fail at any time because the traced process owns the
// memory; a failed read aborts the current probe invocation silently.
type Memory interface {
	ReadAt(addr uint64, buf []byte) error
}

func readU32(m Memory, addr uint64) (uint32, bool) {
	var b [4]byte
	if err := m.ReadAt(addr, b[:]); err != nil {
		return 0, false
	}
	return binary.LittleEndian.Uint32(b[:]), true
}

func readU64(m Memory, addr uint64) (uint64, bool) {
	var b [8]byte
	if err := m.ReadAt(addr, b[:]); err != nil {
		return 0, false
	}
	return binary.LittleEndian.Uint64(b[:]), true
}
