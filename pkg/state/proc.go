package state

import (
	"bytes"
	stderrors "errors"
	"fmt"
	"os"
	"syscall"
)

// ProcessAlive reports whether pid refers to a live process. It is the
// single liveness primitive behind stale-lock and stale-marker detection:
// a signal-0 probe, with EPERM counting as alive and zombies as dead.
// Best-effort only; PID reuse can yield a false positive.
func ProcessAlive(pid int) bool {
	if pid <= 0 {
		return false
	}
	if isZombie(pid) {
		return false
	}
	err := syscall.Kill(pid, 0)
	if err == nil {
		return true
	}
	if stderrors.Is(err, syscall.EPERM) {
		return true
	}
	return false
}

func isZombie(pid int) bool {
	path := fmt.Sprintf("/proc/%d/stat", pid)
	b, err := os.ReadFile(path)
	if err != nil {
		return false
	}
	// Format: pid (comm) state ...
	// We want the state character after the closing ')'.
	i := bytes.LastIndexByte(b, ')')
	if i < 0 {
		return false
	}
	rest := bytes.TrimSpace(b[i+1:])
	fields := bytes.Fields(rest)
	if len(fields) < 1 || len(fields[0]) < 1 {
		return false
	}
	return fields[0][0] == 'Z'
}
