package backend

import (
	"context"
	"os"
	"os/exec"
	"path/filepath"
	"syscall"
	"time"

	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"

	"github.com/go-go-golems/devloop/pkg/engine"
	"github.com/go-go-golems/devloop/pkg/state"
)

// ProcessBackend runs native services as OS processes in their own process
// group, with stdout/stderr captured to timestamped log files. Started
// processes are recorded in the state store so later invocations can find
// them again.
type ProcessBackend struct {
	Root            string
	Store           *state.Store
	ShutdownTimeout time.Duration
}

var _ engine.Backend = (*ProcessBackend)(nil)

func (b *ProcessBackend) Start(ctx context.Context, spec engine.ServiceSpec) (engine.Handle, error) {
	if len(spec.Command) == 0 {
		return engine.Handle{}, errors.Errorf("service %q missing command", spec.Name)
	}
	if err := os.MkdirAll(state.LogsDir(b.Root), 0o755); err != nil {
		return engine.Handle{}, errors.Wrap(err, "mkdir logs dir")
	}

	cwd := b.Root
	if spec.Cwd != "" {
		if filepath.IsAbs(spec.Cwd) {
			cwd = spec.Cwd
		} else {
			cwd = filepath.Join(b.Root, spec.Cwd)
		}
	}

	ts := time.Now().Format("20060102-150405")
	stdoutPath := filepath.Join(state.LogsDir(b.Root), spec.Name+"-"+ts+".stdout.log")
	stderrPath := filepath.Join(state.LogsDir(b.Root), spec.Name+"-"+ts+".stderr.log")

	stdoutFile, err := os.OpenFile(stdoutPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o600)
	if err != nil {
		return engine.Handle{}, errors.Wrap(err, "open stdout log")
	}
	defer func() { _ = stdoutFile.Close() }()

	stderrFile, err := os.OpenFile(stderrPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o600)
	if err != nil {
		return engine.Handle{}, errors.Wrap(err, "open stderr log")
	}
	defer func() { _ = stderrFile.Close() }()

	// No CommandContext here: the service must outlive this invocation, so
	// it is not tied to the caller's context.
	// #nosec G204 -- command comes from the project's own config.
	cmd := exec.Command(spec.Command[0], spec.Command[1:]...)
	cmd.Dir = cwd
	cmd.Env = mergeEnv(os.Environ(), spec.Env)
	cmd.Stdout = stdoutFile
	cmd.Stderr = stderrFile
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}

	if err := cmd.Start(); err != nil {
		return engine.Handle{}, errors.Wrap(err, "start service")
	}

	pid := cmd.Process.Pid
	startedAt := time.Now()
	go func() { _ = cmd.Wait() }()

	rec := state.ServiceRecord{
		Name:      spec.Name,
		PID:       pid,
		Command:   spec.Command,
		Cwd:       cwd,
		Env:       state.SanitizeEnv(spec.Env),
		StdoutLog: stdoutPath,
		StderrLog: stderrPath,
		StartedAt: startedAt,
	}
	if err := b.Store.Put(rec); err != nil {
		_ = terminatePIDGroup(context.Background(), pid, time.Second)
		return engine.Handle{}, errors.Wrap(err, "record started service")
	}
	return engine.Handle{PID: pid, StartedAt: startedAt}, nil
}

func (b *ProcessBackend) Stop(ctx context.Context, name string) error {
	rec, ok, err := b.Store.Get(name)
	if err != nil {
		return err
	}
	if !ok {
		return nil
	}
	if rec.PID > 0 {
		if err := terminatePIDGroup(ctx, rec.PID, b.ShutdownTimeout); err != nil {
			return err
		}
	}
	return b.Store.Delete(name)
}

func (b *ProcessBackend) QueryStatus(ctx context.Context, name string) (engine.Observation, error) {
	rec, ok, err := b.Store.Get(name)
	if err != nil {
		return engine.Observation{}, err
	}
	if !ok {
		return engine.Observation{}, nil
	}
	return engine.Observation{
		Present:   true,
		Running:   state.ProcessAlive(rec.PID),
		PID:       rec.PID,
		StartedAt: rec.StartedAt,
	}, nil
}

func mergeEnv(base []string, extra map[string]string) []string {
	if len(extra) == 0 {
		return base
	}
	out := append([]string{}, base...)
	for k, v := range extra {
		out = append(out, k+"="+v)
	}
	return out
}

// terminatePIDGroup sends SIGTERM to the process group and escalates to
// SIGKILL when the process outlives the timeout.
func terminatePIDGroup(ctx context.Context, pid int, timeout time.Duration) error {
	if pid <= 0 {
		return nil
	}
	pgid, err := syscall.Getpgid(pid)
	if err == nil {
		_ = syscall.Kill(-pgid, syscall.SIGTERM)
	} else {
		_ = syscall.Kill(pid, syscall.SIGTERM)
	}

	if deadline, ok := ctx.Deadline(); ok {
		if remaining := time.Until(deadline); remaining < timeout {
			timeout = remaining
		}
	}

	t := time.NewTicker(100 * time.Millisecond)
	defer t.Stop()

	termDeadline := time.Now().Add(timeout)
	for {
		if !state.ProcessAlive(pid) {
			return nil
		}
		if time.Now().After(termDeadline) {
			break
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-t.C:
		}
	}

	log.Warn().Int("pid", pid).Msg("SIGTERM timeout, escalating to SIGKILL")
	if err == nil {
		_ = syscall.Kill(-pgid, syscall.SIGKILL)
	} else {
		_ = syscall.Kill(pid, syscall.SIGKILL)
	}

	killDeadline := time.Now().Add(2 * time.Second)
	for state.ProcessAlive(pid) && time.Now().Before(killDeadline) {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-t.C:
		}
	}

	if state.ProcessAlive(pid) {
		return errors.New("failed to stop service")
	}
	return nil
}
