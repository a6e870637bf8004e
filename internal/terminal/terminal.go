// Package terminal opens terminal sessions and runs agent commands in them.
// A Launcher opens a Session in a working directory; the Session runs shell
// command lines. Adapters cover a plain subprocess, tmux, and iTerm2.
package terminal

import (
	"context"
	"fmt"
	"os/exec"
	"strings"
	"time"
)

// Launcher opens a terminal session rooted at cwd, titled label.
type Launcher interface {
	Open(ctx context.Context, cwd, label string) (Session, error)
}

// Session runs shell command lines in an open terminal.
type Session interface {
	Run(ctx context.Context, command string) error
}

// Kinds accepted by New.
const (
	KindExec  = "exec"
	KindTmux  = "tmux"
	KindITerm = "iterm"
)

// Options configures the launcher built by New.
type Options struct {
	Exec ExecLauncher
	Tmux TmuxLauncher
}

// New returns the launcher for kind. An empty kind selects the subprocess
// launcher.
func New(kind string, opts Options) (Launcher, error) {
	switch strings.ToLower(kind) {
	case "", KindExec:
		l := opts.Exec
		return &l, nil
	case KindTmux:
		l := opts.Tmux
		return &l, nil
	case KindITerm:
		return &ITermLauncher{}, nil
	}
	return nil, fmt.Errorf("unknown terminal kind %q (want exec, tmux or iterm)", kind)
}

// runFunc runs an external command and returns its combined output.
type runFunc func(ctx context.Context, name string, args ...string) ([]byte, error)

func runCommand(ctx context.Context, name string, args ...string) ([]byte, error) {
	return exec.CommandContext(ctx, name, args...).CombinedOutput()
}

// ParseDuration parses a config duration, treating "" and "0" as no limit.
func ParseDuration(s string) (time.Duration, error) {
	s = strings.TrimSpace(s)
	if s == "" || s == "0" {
		return 0, nil
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0, fmt.Errorf("parse duration %q: %w", s, err)
	}
	return d, nil
}
