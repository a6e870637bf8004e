package terminal

import (
	"context"
	"fmt"
	"strings"
)

// ITermLauncher opens a new iTerm2 window per session through osascript.
// macOS only.
type ITermLauncher struct {
	run runFunc
}

// Open only records cwd and label; the window is created on Run.
func (l *ITermLauncher) Open(_ context.Context, cwd, label string) (Session, error) {
	return &itermSession{launcher: l, cwd: cwd, label: label}, nil
}

type itermSession struct {
	launcher *ITermLauncher
	cwd      string
	label    string
}

func (s *itermSession) Run(ctx context.Context, command string) error {
	run := s.launcher.run
	if run == nil {
		run = runCommand
	}
	out, err := run(ctx, "osascript", "-e", itermScript(s.cwd, s.label, command))
	if err != nil {
		return fmt.Errorf("launch iTerm: %w (output: %s)", err, string(out))
	}
	return nil
}

// itermScript builds the AppleScript that opens a named window, changes to
// cwd and runs command.
func itermScript(cwd, label, command string) string {
	esc := strings.NewReplacer(`\`, `\\`, `"`, `\"`)
	path := strings.ReplaceAll(cwd, `'`, `'\''`)
	return fmt.Sprintf(`tell application "iTerm2"
	activate
	set newWindow to (create window with default profile)
	tell current session of newWindow
		set name to "%s"
		write text "%s"
	end tell
end tell`, esc.Replace(label), esc.Replace("cd '"+path+"' && "+command))
}
