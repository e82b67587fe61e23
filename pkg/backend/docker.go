package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"os/exec"
	"strings"
	"time"

	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
	"github.com/sethvargo/go-retry"

	"github.com/go-go-golems/devloop/pkg/engine"
)

// CommandRunner executes one CLI invocation and returns its stdout. Injected
// for tests; the default shells out to the docker binary.
type CommandRunner func(ctx context.Context, name string, args ...string) ([]byte, error)

// DockerBackend drives container services through the docker CLI. Container
// names are prefixed with the project so several projects can share a
// daemon. Inspect calls are retried with capped exponential backoff to ride
// over transient daemon hiccups; starts are never retried here, the executor
// surfaces them as action failures.
type DockerBackend struct {
	Project string
	Run     CommandRunner
}

var _ engine.Backend = (*DockerBackend)(nil)

func NewDockerBackend(project string) *DockerBackend {
	return &DockerBackend{
		Project: project,
		Run:     runCommand,
	}
}

func runCommand(ctx context.Context, name string, args ...string) ([]byte, error) {
	cmd := exec.CommandContext(ctx, name, args...)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		return nil, errors.Wrapf(err, "%s %s: %s", name, strings.Join(args, " "), strings.TrimSpace(stderr.String()))
	}
	return stdout.Bytes(), nil
}

func (b *DockerBackend) containerName(service string) string {
	return "devloop-" + b.Project + "-" + service
}

func (b *DockerBackend) Start(ctx context.Context, spec engine.ServiceSpec) (engine.Handle, error) {
	if spec.Image == "" {
		return engine.Handle{}, errors.Errorf("service %q missing image", spec.Name)
	}

	name := b.containerName(spec.Name)
	// A leftover stopped container with our name blocks a fresh run.
	_, _ = b.Run(ctx, "docker", "rm", "-f", name)

	args := []string{"run", "-d", "--name", name}
	for k, v := range spec.Env {
		args = append(args, "--env", k+"="+v)
	}
	args = append(args, spec.Image)
	args = append(args, spec.Command...)

	out, err := b.Run(ctx, "docker", args...)
	if err != nil {
		return engine.Handle{}, errors.Wrapf(err, "docker run %s", spec.Name)
	}
	id := strings.TrimSpace(string(out))
	log.Debug().Str("service", spec.Name).Str("container", id).Msg("container started")
	return engine.Handle{ID: id, StartedAt: time.Now()}, nil
}

func (b *DockerBackend) Stop(ctx context.Context, service string) error {
	name := b.containerName(service)
	if _, err := b.Run(ctx, "docker", "stop", name); err != nil {
		if isNotFound(err) {
			return nil
		}
		return errors.Wrapf(err, "docker stop %s", service)
	}
	// Removal is best-effort; a lingering stopped container is cleaned up
	// by the next start.
	if _, err := b.Run(ctx, "docker", "rm", name); err != nil {
		log.Debug().Str("service", service).Err(err).Msg("docker rm failed")
	}
	return nil
}

// containerState mirrors the fields of docker inspect's .State we consume.
type containerState struct {
	Running   bool   `json:"Running"`
	Pid       int    `json:"Pid"`
	StartedAt string `json:"StartedAt"`
}

func (b *DockerBackend) QueryStatus(ctx context.Context, service string) (engine.Observation, error) {
	name := b.containerName(service)

	var out []byte
	backoff := retry.WithMaxRetries(3, retry.NewExponential(100*time.Millisecond))
	err := retry.Do(ctx, backoff, func(ctx context.Context) error {
		var runErr error
		out, runErr = b.Run(ctx, "docker", "inspect", "--format", "{{json .State}}", name)
		if runErr == nil {
			return nil
		}
		if isNotFound(runErr) {
			return runErr
		}
		return retry.RetryableError(runErr)
	})
	if err != nil {
		if isNotFound(err) {
			return engine.Observation{}, nil
		}
		return engine.Observation{}, errors.Wrapf(err, "docker inspect %s", service)
	}

	var st containerState
	if err := json.Unmarshal(bytes.TrimSpace(out), &st); err != nil {
		return engine.Observation{}, errors.Wrapf(err, "parse inspect output for %s", service)
	}

	obs := engine.Observation{Present: true, Running: st.Running, PID: st.Pid}
	if t, err := time.Parse(time.RFC3339Nano, st.StartedAt); err == nil {
		obs.StartedAt = t
	}
	return obs, nil
}

func isNotFound(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	return strings.Contains(msg, "No such object") || strings.Contains(msg, "No such container")
}
