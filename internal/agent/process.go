package agent

import (
	"os/exec"
	"path/filepath"
	"strings"
)

// ProcessDetector checks whether an agent process is running in a directory.
type ProcessDetector interface {
	IsRunning(binary, dir string) bool
}

// OSProcessDetector detects agent processes using pgrep + lsof (macOS/Linux).
type OSProcessDetector struct{}

// IsRunning returns true if a process named binary has its cwd at or under dir.
func (d *OSProcessDetector) IsRunning(binary, dir string) bool {
	absDir, err := filepath.Abs(dir)
	if err != nil {
		return false
	}

	out, err := exec.Command("pgrep", "-x", binary).Output()
	if err != nil {
		return false // pgrep not found or no matches
	}

	for pid := range strings.FieldsSeq(strings.TrimSpace(string(out))) {
		cwd := getCwd(pid)
		if cwd == "" {
			continue
		}
		absCwd, err := filepath.Abs(cwd)
		if err != nil {
			continue
		}
		if within(absCwd, absDir) {
			return true
		}
	}
	return false
}

func within(path, dir string) bool {
	return path == dir || strings.HasPrefix(path, dir+string(filepath.Separator))
}

// getCwd resolves the current working directory of a process via lsof.
func getCwd(pid string) string {
	out, err := exec.Command("lsof", "-a", "-p", pid, "-d", "cwd", "-Fn").Output()
	if err != nil {
		return ""
	}
	return parseLsofCwd(string(out))
}

func parseLsofCwd(out string) string {
	for line := range strings.SplitSeq(out, "\n") {
		if strings.HasPrefix(line, "n") && !strings.HasPrefix(line, "n ") {
			return line[1:]
		}
	}
	return ""
}
