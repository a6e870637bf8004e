package terminal

import (
	"context"
	"fmt"
	"strings"
)

// TmuxLauncher opens one detached tmux session per label. When Socket is set
// the sessions live on that server instead of the user's default one.
type TmuxLauncher struct {
	Socket string

	run runFunc
}

func (l *TmuxLauncher) runner() runFunc {
	if l.run != nil {
		return l.run
	}
	return runCommand
}

func (l *TmuxLauncher) args(args ...string) []string {
	if l.Socket == "" {
		return args
	}
	return append([]string{"-S", l.Socket}, args...)
}

// Open creates the session if it does not exist yet; an existing session
// with the same name is reused.
func (l *TmuxLauncher) Open(ctx context.Context, cwd, label string) (Session, error) {
	name := SessionName(label)
	run := l.runner()

	if _, err := run(ctx, "tmux", l.args("has-session", "-t", name)...); err == nil {
		return &tmuxSession{launcher: l, name: name}, nil
	}
	if out, err := run(ctx, "tmux", l.args("new-session", "-d", "-s", name, "-c", cwd)...); err != nil {
		return nil, fmt.Errorf("tmux new-session %q: %w (%s)", name, err, strings.TrimSpace(string(out)))
	}
	return &tmuxSession{launcher: l, name: name}, nil
}

type tmuxSession struct {
	launcher *TmuxLauncher
	name     string
}

// Run types command into the session and presses Enter. It returns once
// tmux accepted the keys; the command keeps running in the session.
func (s *tmuxSession) Run(ctx context.Context, command string) error {
	l := s.launcher
	out, err := l.runner()(ctx, "tmux", l.args("send-keys", "-t", s.name, "-l", command)...)
	if err != nil {
		return fmt.Errorf("tmux send-keys %q: %w (%s)", s.name, err, strings.TrimSpace(string(out)))
	}
	out, err = l.runner()(ctx, "tmux", l.args("send-keys", "-t", s.name, "Enter")...)
	if err != nil {
		return fmt.Errorf("tmux send-keys %q: %w (%s)", s.name, err, strings.TrimSpace(string(out)))
	}
	return nil
}

// SessionName makes label usable as a tmux session name, which may not
// contain '.' or ':'.
func SessionName(label string) string {
	r := strings.NewReplacer(".", "_", ":", "-", " ", "_")
	name := r.Replace(strings.TrimSpace(label))
	if name == "" {
		return "sp"
	}
	return name
}
