// Package proc reads per-process resource usage from /proc for the status
// display. On platforms without /proc the sampler fails and callers leave
// the columns empty.
package proc

import (
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/pkg/errors"
)

// Stats is a point-in-time resource sample for one process.
type Stats struct {
	PID       int    `json:"pid"`
	MemoryMB  int64  `json:"memory_mb"`
	VirtualMB int64  `json:"virtual_mb"`
	State     string `json:"state"`
	Threads   int    `json:"threads"`
}

// Sample reads /proc/[pid]/stat for one live process.
func Sample(pid int) (*Stats, error) {
	if pid <= 0 {
		return nil, errors.New("invalid PID")
	}

	path := filepath.Join("/proc", strconv.Itoa(pid), "stat")
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrap(err, "read stat file")
	}

	// Format: pid (comm) state ... The comm field may contain spaces and
	// parentheses, so parse from the last ')'.
	content := string(data)
	closeParen := strings.LastIndex(content, ")")
	if closeParen < 0 {
		return nil, errors.New("malformed stat file: no closing paren")
	}
	fields := strings.Fields(strings.TrimSpace(content[closeParen+1:]))
	if len(fields) < 22 {
		return nil, errors.Errorf("malformed stat file: expected 22+ fields, got %d", len(fields))
	}

	// 0-based indices after comm: 0 state, 17 num_threads, 20 vsize, 21 rss.
	threads, err := strconv.Atoi(fields[17])
	if err != nil {
		return nil, errors.Wrap(err, "parse num_threads")
	}
	vsize, err := strconv.ParseUint(fields[20], 10, 64)
	if err != nil {
		return nil, errors.Wrap(err, "parse vsize")
	}
	rss, err := strconv.ParseInt(fields[21], 10, 64)
	if err != nil {
		return nil, errors.Wrap(err, "parse rss")
	}

	pageSize := int64(os.Getpagesize())
	return &Stats{
		PID:       pid,
		MemoryMB:  rss * pageSize / (1024 * 1024),
		VirtualMB: int64(vsize) / (1024 * 1024),
		State:     string(fields[0][0]),
		Threads:   threads,
	}, nil
}
