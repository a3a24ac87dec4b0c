// Package action runs the operator's allow-command for an accepted knock.
//
// The command is a template with a single placeholder, {ip}, replaced by the
// knocker's address, and is executed with "sh -c". Typical templates:
//
//	iptables -I INPUT -s {ip} -p tcp --dport 22 -j ACCEPT
//	nft add element inet filter knocked { {ip} }
//
// An optional revoke-command is run the same way once the revoke timeout
// elapses. A repeated knock from the same address resets that timer.
package action

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"os/exec"
	"strings"
	"sync"
	"time"
)

// Placeholder is replaced by the knocker's IP in command templates.
const Placeholder = "{ip}"

// Result describes one command execution.
type Result struct {
	Command  string
	ExitCode int
	Stdout   string
	Stderr   string
}

// Executor runs a shell command line. Tests substitute a fake.
type Executor func(ctx context.Context, command string) (*Result, error)

// Options configures a Runner.
type Options struct {
	// AllowCommand is the template run for every accepted knock.
	AllowCommand string

	// RevokeCommand, if set, is run RevokeAfter after the last knock from
	// an address.
	RevokeCommand string

	// RevokeAfter is the revoke delay. Zero disables revocation.
	RevokeAfter time.Duration

	// Exec runs expanded commands. Defaults to ShellExecutor.
	Exec Executor

	// Log is the structured logger.
	Log *slog.Logger
}

// Runner executes allow and revoke commands.
type Runner struct {
	opts   Options
	mu     sync.Mutex
	timers map[string]*time.Timer // keyed by IP string
}

// NewRunner returns a Runner for opts.
func NewRunner(opts Options) *Runner {
	if opts.Exec == nil {
		opts.Exec = ShellExecutor
	}
	if opts.Log == nil {
		opts.Log = slog.Default()
	}
	return &Runner{opts: opts, timers: make(map[string]*time.Timer)}
}

// Expand substitutes ip for every Placeholder in template.
func Expand(template string, ip net.IP) string {
	return strings.ReplaceAll(template, Placeholder, ip.String())
}

// Allow runs the allow-command for ip and, if revocation is configured,
// schedules the revoke-command. A non-zero exit status is reported as an
// error alongside the Result.
func (r *Runner) Allow(ctx context.Context, ip net.IP) (*Result, error) {
	if ip == nil {
		return nil, errors.New("allow: nil IP")
	}
	if r.opts.AllowCommand == "" {
		return nil, errors.New("allow: no command configured")
	}

	res, err := r.run(ctx, "allow", r.opts.AllowCommand, ip)
	if err != nil {
		return res, err
	}
	r.scheduleRevoke(ip)
	return res, nil
}

func (r *Runner) run(ctx context.Context, kind, template string, ip net.IP) (*Result, error) {
	cmd := Expand(template, ip)
	res, err := r.opts.Exec(ctx, cmd)
	if err != nil {
		r.opts.Log.Error(kind+" command failed", "ip", ip, "command", cmd, "err", err)
		return res, fmt.Errorf("%s command: %w", kind, err)
	}
	r.opts.Log.Info(kind+" command finished",
		"ip", ip,
		"command", cmd,
		"exit_code", res.ExitCode,
		"stdout", res.Stdout,
		"stderr", res.Stderr,
	)
	if res.ExitCode != 0 {
		return res, fmt.Errorf("%s command exited with status %d", kind, res.ExitCode)
	}
	return res, nil
}

func (r *Runner) scheduleRevoke(ip net.IP) {
	if r.opts.RevokeCommand == "" || r.opts.RevokeAfter <= 0 {
		return
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.scheduleLocked(ip)
}

// scheduleLocked arms or re-arms the revoke timer for ip. r.mu must be held.
func (r *Runner) scheduleLocked(ip net.IP) {
	key := ip.String()

	if t, ok := r.timers[key]; ok && t.Stop() {
		t.Reset(r.opts.RevokeAfter)
		r.opts.Log.Info("revoke timer reset", "ip", ip, "after", r.opts.RevokeAfter)
		return
	}

	// Either no timer exists or the old one has already fired and its
	// callback is waiting on r.mu. Replacing the map entry makes that
	// callback a no-op.
	var t *time.Timer
	t = time.AfterFunc(r.opts.RevokeAfter, func() {
		r.mu.Lock()
		if r.timers[key] != t {
			r.mu.Unlock()
			return
		}
		delete(r.timers, key)
		r.mu.Unlock()
		_, _ = r.run(context.Background(), "revoke", r.opts.RevokeCommand, ip)
	})
	r.timers[key] = t
}

// Pending returns the number of scheduled revocations.
func (r *Runner) Pending() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.timers)
}

// Shutdown cancels all revoke timers and runs their revoke-commands now, so
// no address stays allowed after the door stops.
func (r *Runner) Shutdown(ctx context.Context) {
	r.mu.Lock()
	var due []net.IP
	for key, t := range r.timers {
		// A timer that already fired has a callback blocked on r.mu; it
		// finds its entry gone and leaves the revoke to us.
		t.Stop()
		due = append(due, net.ParseIP(key))
		delete(r.timers, key)
	}
	r.mu.Unlock()

	for _, ip := range due {
		_, _ = r.run(ctx, "revoke", r.opts.RevokeCommand, ip)
	}
}

// ShellExecutor runs command with "sh -c", capturing stdout and stderr. A
// non-zero exit status is reported in Result.ExitCode, not as an error.
func ShellExecutor(ctx context.Context, command string) (*Result, error) {
	var stdout, stderr bytes.Buffer
	c := exec.CommandContext(ctx, "sh", "-c", command)
	c.Stdout = &stdout
	c.Stderr = &stderr

	err := c.Run()
	res := &Result{
		Command: command,
		Stdout:  strings.TrimSpace(stdout.String()),
		Stderr:  strings.TrimSpace(stderr.String()),
	}
	var exitErr *exec.ExitError
	switch {
	case err == nil:
	case errors.As(err, &exitErr):
		res.ExitCode = exitErr.ExitCode()
	default:
		return res, err
	}
	return res, nil
}
