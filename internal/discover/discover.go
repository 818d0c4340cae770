// Package discover enumerates running processes executing a given binary.
// Used for operator feedback before attach and to sanity-check explicit PID
// filters; the probes themselves are binary-scoped, not PID-scoped.
package discover

import (
	"fmt"
	"path/filepath"

	"github.com/prometheus/procfs"
)

// Instances returns the PIDs of all live processes whose executable
// resolves to binPath.
func Instances(binPath string) ([]uint32, error) {
	abs, err := filepath.EvalSymlinks(binPath)
	if err != nil {
		abs = binPath
	}

	fs, err := procfs.NewDefaultFS()
	if err != nil {
		return nil, fmt.Errorf("open procfs: %w", err)
	}
	procs, err := fs.AllProcs()
	if err != nil {
		return nil, fmt.Errorf("list processes: %w", err)
	}

	var pids []uint32
	for _, p := range procs {
		exe, err := p.Executable()
		if err != nil {
			// Not ours to read, or already gone.
			continue
		}
		if exe == abs || exe == binPath {
			pids = append(pids, uint32(p.PID))
		}
	}
	return pids, nil
}
