// Package compose drives the single-host container engine through the docker
// CLI. Commands are executed with captured stdout/stderr so failures always
// carry the engine's own diagnostics.
package compose

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os/exec"
	"strings"
	"time"

	"deploycheck/pkg/logging"
)

// execCommand allows mocking of exec.CommandContext for testing.
var execCommand = exec.CommandContext

const subsystem = "Compose"

// runDocker executes a docker CLI invocation and returns captured stdout.
// Stderr is folded into the error on failure.
func runDocker(ctx context.Context, args ...string) (string, error) {
	cmd := execCommand(ctx, "docker", args...)

	var stdoutBuf, stderrBuf bytes.Buffer
	cmd.Stdout = &stdoutBuf
	cmd.Stderr = &stderrBuf

	logging.Debug(subsystem, "Running: docker %s", strings.Join(args, " "))
	if err := cmd.Run(); err != nil {
		return stdoutBuf.String(), fmt.Errorf("'docker %s' failed: %w. Stderr: %s",
			strings.Join(args, " "), err, strings.TrimSpace(stderrBuf.String()))
	}
	return stdoutBuf.String(), nil
}

// Available verifies the docker CLI is present and the daemon answers.
func Available(ctx context.Context) error {
	if _, err := runDocker(ctx, "info", "--format", "{{.ServerVersion}}"); err != nil {
		return fmt.Errorf("docker engine not available: %w", err)
	}
	return nil
}

// BuildImage builds the workload image from the given context directory.
// Rebuilding an unchanged context is a cache hit, so re-runs are idempotent.
func BuildImage(ctx context.Context, contextDir, tag string) error {
	if _, err := runDocker(ctx, "build", "-t", tag, contextDir); err != nil {
		return err
	}
	return nil
}

// PushImage pushes the built image to its registry.
func PushImage(ctx context.Context, tag string) error {
	if _, err := runDocker(ctx, "push", tag); err != nil {
		return err
	}
	return nil
}

// composeArgs builds the common `docker compose` argument prefix.
func composeArgs(file, project string, rest ...string) []string {
	args := []string{"compose"}
	if file != "" {
		args = append(args, "-f", file)
	}
	if project != "" {
		args = append(args, "-p", project)
	}
	return append(args, rest...)
}

// Up brings the compose project up in the background. `up -d` has
// create-or-update semantics: an already-running unchanged service is left
// alone, a changed one is recreated in place.
func Up(ctx context.Context, file, project string) error {
	if _, err := runDocker(ctx, composeArgs(file, project, "up", "-d")...); err != nil {
		return err
	}
	return nil
}

// PSEntry is one service container as reported by `docker compose ps`.
type PSEntry struct {
	ID        string `json:"ID"`
	Name      string `json:"Name"`
	Service   string `json:"Service"`
	State     string `json:"State"`
	Health    string `json:"Health"`
	CreatedAt string `json:"CreatedAt"`
}

// Created parses the entry's creation timestamp, best effort. Compose prints
// it in Go's default time format; a zero time is returned if it ever changes.
func (e PSEntry) Created() time.Time {
	for _, layout := range []string{"2006-01-02 15:04:05 -0700 MST", time.RFC3339Nano, time.RFC3339} {
		if t, err := time.Parse(layout, e.CreatedAt); err == nil {
			return t
		}
	}
	return time.Time{}
}

// PS lists the containers of one compose service. Depending on the compose
// version the JSON output is either an array or one object per line, so both
// shapes are accepted.
func PS(ctx context.Context, file, project, service string) ([]PSEntry, error) {
	args := composeArgs(file, project, "ps", "--format", "json")
	if service != "" {
		args = append(args, service)
	}
	out, err := runDocker(ctx, args...)
	if err != nil {
		return nil, err
	}
	return parsePS(out)
}

func parsePS(out string) ([]PSEntry, error) {
	trimmed := strings.TrimSpace(out)
	if trimmed == "" {
		return nil, nil
	}

	if strings.HasPrefix(trimmed, "[") {
		var entries []PSEntry
		if err := json.Unmarshal([]byte(trimmed), &entries); err != nil {
			return nil, fmt.Errorf("failed to parse compose ps output: %w", err)
		}
		return entries, nil
	}

	var entries []PSEntry
	for _, line := range strings.Split(trimmed, "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		var entry PSEntry
		if err := json.Unmarshal([]byte(line), &entry); err != nil {
			return nil, fmt.Errorf("failed to parse compose ps line %q: %w", line, err)
		}
		entries = append(entries, entry)
	}
	return entries, nil
}

// Port resolves the host address a container port is published on, e.g.
// "127.0.0.1:8080". Wildcard bindings are rewritten to the loopback address
// since that is where the checks connect.
func Port(ctx context.Context, container string, containerPort int) (string, error) {
	out, err := runDocker(ctx, "port", container, fmt.Sprintf("%d/tcp", containerPort))
	if err != nil {
		return "", err
	}
	lines := strings.Split(strings.TrimSpace(out), "\n")
	if len(lines) == 0 || strings.TrimSpace(lines[0]) == "" {
		return "", fmt.Errorf("container %q does not publish port %d", container, containerPort)
	}
	addr := strings.TrimSpace(lines[0])
	addr = strings.Replace(addr, "0.0.0.0:", "127.0.0.1:", 1)
	addr = strings.Replace(addr, "[::]:", "127.0.0.1:", 1)
	return addr, nil
}

// Exec runs a command inside the named container and returns captured stdout.
func Exec(ctx context.Context, container string, command []string) (string, error) {
	args := append([]string{"exec", container}, command...)
	return runDocker(ctx, args...)
}

// ContainerInfo is the subset of `docker inspect` output the security and
// readiness checks consume.
type ContainerInfo struct {
	ID      string    `json:"Id"`
	Created time.Time `json:"Created"`
	State   struct {
		Running bool   `json:"Running"`
		Status  string `json:"Status"`
	} `json:"State"`
	Config struct {
		User string `json:"User"`
	} `json:"Config"`
	HostConfig struct {
		ReadonlyRootfs bool     `json:"ReadonlyRootfs"`
		CapDrop        []string `json:"CapDrop"`
		Privileged     bool     `json:"Privileged"`
	} `json:"HostConfig"`
}

// Inspect returns the parsed inspect data for one container.
func Inspect(ctx context.Context, container string) (*ContainerInfo, error) {
	out, err := runDocker(ctx, "inspect", container)
	if err != nil {
		return nil, err
	}
	var infos []ContainerInfo
	if err := json.Unmarshal([]byte(out), &infos); err != nil {
		return nil, fmt.Errorf("failed to parse docker inspect output for %q: %w", container, err)
	}
	if len(infos) == 0 {
		return nil, fmt.Errorf("docker inspect returned no data for %q", container)
	}
	return &infos[0], nil
}
