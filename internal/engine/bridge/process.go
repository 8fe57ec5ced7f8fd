package bridge

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"log/slog"
	"os/exec"
	"strings"
	"time"
)

// HostConfig describes the engine host binary to spawn.
type HostConfig struct {
	// Path of the host executable (e.g. "fxhost").
	Path string
	Args []string
	// CallTimeout bounds every round trip; zero disables it.
	CallTimeout time.Duration
	// StopTimeout bounds the wait for a clean exit on Close (default 2s).
	StopTimeout time.Duration
}

// Dial starts the host process and returns a Client speaking to it over the
// process stdin/stdout. Host stderr is re-logged through slog. Close stops
// the host: stdin is closed and the process is killed if it does not exit
// within StopTimeout.
func Dial(ctx context.Context, cfg HostConfig) (*Client, error) {
	if cfg.Path == "" {
		return nil, fmt.Errorf("host path is required")
	}
	if cfg.StopTimeout <= 0 {
		cfg.StopTimeout = 2 * time.Second
	}

	cmd := exec.CommandContext(ctx, cfg.Path, cfg.Args...)

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, fmt.Errorf("failed to create stdin pipe: %w", err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("failed to create stdout pipe: %w", err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return nil, fmt.Errorf("failed to create stderr pipe: %w", err)
	}

	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("failed to start engine host: %w", err)
	}

	pid := cmd.Process.Pid
	slog.Info("bridge: engine host spawned", "path", cfg.Path, "pid", pid)

	stderrDone := make(chan struct{})
	go func() {
		defer close(stderrDone)
		logStderr(stderr, pid)
	}()

	exited := make(chan error, 1)
	go func() {
		<-stderrDone
		exited <- cmd.Wait()
	}()

	c := NewClient(stdout, stdin, cfg.CallTimeout)
	c.onClose = func() error {
		select {
		case err := <-exited:
			slog.Info("bridge: engine host exited", "pid", pid, "error", err)
			return nil
		case <-time.After(cfg.StopTimeout):
			slog.Warn("bridge: engine host stop timeout, force killing", "pid", pid)
			if err := cmd.Process.Kill(); err != nil {
				return fmt.Errorf("kill engine host: %w", err)
			}
			<-exited
			return nil
		}
	}
	return c, nil
}

// logStderr re-logs host stderr lines, mapping their level.
func logStderr(r io.Reader, pid int) {
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		line := scanner.Text()
		switch {
		case containsAny(line, "level=ERROR", "[ERROR]", `"level":"ERROR"`):
			slog.Error("engine host error", "pid", pid, "log", line)
		case containsAny(line, "level=WARN", "[WARN", `"level":"WARN"`):
			slog.Warn("engine host warning", "pid", pid, "log", line)
		case containsAny(line, "level=INFO", "[INFO]", `"level":"INFO"`):
			slog.Info("engine host log", "pid", pid, "log", line)
		default:
			slog.Debug("engine host log", "pid", pid, "log", line)
		}
	}
	if err := scanner.Err(); err != nil {
		slog.Error("bridge: error reading engine host stderr", "pid", pid, "error", err)
	}
}

func containsAny(s string, substrs ...string) bool {
	for _, sub := range substrs {
		if strings.Contains(s, sub) {
			return true
		}
	}
	return false
}
