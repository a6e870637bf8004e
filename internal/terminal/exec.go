package terminal

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os/exec"
	"sync"
	"time"
)

var (
	// ErrIdleTimeout is returned when a command produced no output for
	// longer than the idle timeout.
	ErrIdleTimeout = errors.New("terminal: command idle too long")

	// ErrTotalTimeout is returned when a command ran longer than the total
	// timeout.
	ErrTotalTimeout = errors.New("terminal: command ran too long")
)

// ExecLauncher runs commands as child processes of sp via "sh -c", streaming
// their output to Output. Zero timeouts mean no limit.
type ExecLauncher struct {
	Output       io.Writer
	IdleTimeout  time.Duration
	TotalTimeout time.Duration

	// Shell defaults to "sh".
	Shell string
}

// Open returns a session that runs commands in cwd.
func (l *ExecLauncher) Open(_ context.Context, cwd, label string) (Session, error) {
	return &execSession{launcher: l, cwd: cwd, label: label}, nil
}

type execSession struct {
	launcher *ExecLauncher
	cwd      string
	label    string
}

// Run blocks until the command exits or a timeout fires.
func (s *execSession) Run(ctx context.Context, command string) error {
	l := s.launcher
	shell := l.Shell
	if shell == "" {
		shell = "sh"
	}

	ctx, cancel := context.WithCancelCause(ctx)
	defer cancel(nil)
	if l.TotalTimeout > 0 {
		var stop context.CancelFunc
		ctx, stop = context.WithTimeoutCause(ctx, l.TotalTimeout, ErrTotalTimeout)
		defer stop()
	}

	out := &activityWriter{w: l.Output, last: time.Now()}
	cmd := exec.CommandContext(ctx, shell, "-c", command)
	cmd.Dir = s.cwd
	cmd.Stdout = out
	cmd.Stderr = out
	cmd.WaitDelay = time.Second

	if err := cmd.Start(); err != nil {
		return fmt.Errorf("start %s: %w", s.label, err)
	}

	done := make(chan struct{})
	defer close(done)
	if l.IdleTimeout > 0 {
		go watchIdle(out, l.IdleTimeout, done, func() { cancel(ErrIdleTimeout) })
	}

	if err := cmd.Wait(); err != nil {
		if cause := context.Cause(ctx); cause != nil {
			return fmt.Errorf("%s: %w", s.label, cause)
		}
		return fmt.Errorf("%s: %w", s.label, err)
	}
	return nil
}

// watchIdle calls kill once out has been silent for longer than idle.
func watchIdle(out *activityWriter, idle time.Duration, done <-chan struct{}, kill func()) {
	tick := idle / 4
	if tick < 10*time.Millisecond {
		tick = 10 * time.Millisecond
	}
	t := time.NewTicker(tick)
	defer t.Stop()
	for {
		select {
		case <-done:
			return
		case <-t.C:
			if out.silentFor() > idle {
				kill()
				return
			}
		}
	}
}

// activityWriter forwards writes and remembers when the last one happened.
type activityWriter struct {
	mu   sync.Mutex
	w    io.Writer
	last time.Time
}

func (a *activityWriter) Write(p []byte) (int, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.last = time.Now()
	if a.w == nil {
		return len(p), nil
	}
	return a.w.Write(p)
}

func (a *activityWriter) silentFor() time.Duration {
	a.mu.Lock()
	defer a.mu.Unlock()
	return time.Since(a.last)
}
