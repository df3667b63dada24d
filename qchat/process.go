package qchat

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"strings"
	"syscall"
	"time"

	"github.com/marutaku/qchat-core/config"
)

// quitCommand is the in-band shutdown directive q chat understands.
const quitCommand = "/quit"

// shutdownWait is how long each shutdown escalation step waits before moving
// to the next one (quit directive → SIGTERM → SIGKILL).
const shutdownWait = 2 * time.Second

// childProcess owns the spawned q chat process: its command handle, stdin
// pipe, and exit monitoring. Output is owned by the relay, not here.
type childProcess struct {
	cmd   *exec.Cmd
	stdin io.WriteCloser
	log   *slog.Logger

	// waitDone is closed by the monitor goroutine when cmd.Wait returns.
	// The monitor is the sole caller of cmd.Wait; shutdown coordinates via
	// this channel instead of calling Wait a second time.
	waitDone chan struct{}
}

// buildArgs constructs the q chat invocation from the configuration:
// "chat --trust-tools=<comma-list>" with fs_read always trusted.
func buildArgs(cfg config.Config) []string {
	return []string{
		"chat",
		"--trust-tools=" + strings.Join(cfg.TrustedTools(), ","),
	}
}

// buildEnv returns the child environment: the parent environment with
// Q_LOG_LEVEL applied and interactive-friendly TERM/LANG/LC_ALL values
// defaulted only when absent.
func buildEnv(cfg config.Config) []string {
	env := os.Environ()
	if cfg.LogLevel != "" {
		env = setEnv(env, "Q_LOG_LEVEL", cfg.LogLevel)
	}
	env = setEnvIfAbsent(env, "TERM", "xterm-256color")
	env = setEnvIfAbsent(env, "LANG", "C.UTF-8")
	env = setEnvIfAbsent(env, "LC_ALL", "C.UTF-8")
	return env
}

// setEnv sets key to value in env, replacing an existing entry.
func setEnv(env []string, key, value string) []string {
	prefix := key + "="
	for i, kv := range env {
		if strings.HasPrefix(kv, prefix) {
			env[i] = prefix + value
			return env
		}
	}
	return append(env, prefix+value)
}

// setEnvIfAbsent sets key to value only when env has no entry for it.
func setEnvIfAbsent(env []string, key, value string) []string {
	prefix := key + "="
	for _, kv := range env {
		if strings.HasPrefix(kv, prefix) {
			return env
		}
	}
	return append(env, prefix+value)
}

// spawn starts the q chat child with stdin piped and stderr merged into
// stdout. The returned reader is the combined output stream; the caller
// hands it to the relay.
func spawn(cfg config.Config, log *slog.Logger) (*childProcess, io.ReadCloser, error) {
	if err := os.MkdirAll(cfg.WorkDir, 0755); err != nil {
		return nil, nil, fmt.Errorf("failed to create working directory %s: %w", cfg.WorkDir, err)
	}

	cmd := exec.Command(cfg.Binary, buildArgs(cfg)...)
	cmd.Dir = cfg.WorkDir
	cmd.Env = buildEnv(cfg)

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, nil, fmt.Errorf("failed to get stdin pipe: %w", err)
	}

	// Merge stderr into stdout through one pipe so the relay sees a single
	// ordered stream, the same way the child would print to a terminal.
	pr, pw, err := os.Pipe()
	if err != nil {
		stdin.Close()
		return nil, nil, fmt.Errorf("failed to create output pipe: %w", err)
	}
	cmd.Stdout = pw
	cmd.Stderr = pw

	if err := cmd.Start(); err != nil {
		stdin.Close()
		pr.Close()
		pw.Close()
		return nil, nil, fmt.Errorf("failed to start %s: %w", cfg.Binary, err)
	}
	// Parent keeps only the read end; the child holds the write end open
	// until it exits, which gives the relay its EOF.
	pw.Close()

	log.Info("process started", "pid", cmd.Process.Pid, "workDir", cfg.WorkDir)

	p := &childProcess{
		cmd:      cmd,
		stdin:    stdin,
		log:      log,
		waitDone: make(chan struct{}),
	}
	go p.monitorExit()

	return p, pr, nil
}

// monitorExit is the sole caller of cmd.Wait. It reaps the child and closes
// waitDone so shutdown can coordinate without a double Wait.
func (p *childProcess) monitorExit() {
	err := p.cmd.Wait()
	p.log.Debug("process exited", "error", err)
	close(p.waitDone)
}

// writeLine writes s plus a newline to the child's stdin.
func (p *childProcess) writeLine(s string) error {
	if _, err := io.WriteString(p.stdin, s+"\n"); err != nil {
		return fmt.Errorf("failed to write to stdin: %w", err)
	}
	return nil
}

// alive reports whether the child has not yet been reaped.
func (p *childProcess) alive() bool {
	select {
	case <-p.waitDone:
		return false
	default:
		return true
	}
}

// shutdown stops the child: quit directive, then SIGTERM, then SIGKILL, each
// followed by a bounded wait. Every step swallows errors since the process
// may already be gone; the whole sequence is safe to run on a dead child.
func (p *childProcess) shutdown() {
	if p.writeLine(quitCommand) == nil {
		p.log.Debug("sent quit directive")
	}
	if p.waitExit(shutdownWait) {
		p.stdin.Close()
		return
	}

	p.log.Debug("process still alive after quit, sending SIGTERM")
	p.cmd.Process.Signal(syscall.SIGTERM)
	if p.waitExit(shutdownWait) {
		p.stdin.Close()
		return
	}

	p.log.Debug("process still alive after SIGTERM, killing")
	p.cmd.Process.Kill()
	<-p.waitDone
	p.stdin.Close()
}

// waitExit waits up to d for the child to be reaped.
func (p *childProcess) waitExit(d time.Duration) bool {
	select {
	case <-p.waitDone:
		return true
	case <-time.After(d):
		return false
	}
}
