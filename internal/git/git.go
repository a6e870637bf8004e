package git

import (
	"fmt"
	"os/exec"
	"strings"
)

// Client defines the git operations dispatch needs. All methods take the
// directory to run in.
type Client interface {
	RepoRoot(path string) (string, error)
	CurrentBranch(path string) (string, error)
	LastCommitHash(path string) (string, error)
	IsDirty(path string) (bool, error)
}

// RealClient implements Client using real git commands.
type RealClient struct{}

// NewClient returns a new RealClient.
func NewClient() *RealClient {
	return &RealClient{}
}

func gitCmd(path string, args ...string) (string, error) {
	fullArgs := append([]string{"-C", path}, args...)
	out, err := exec.Command("git", fullArgs...).Output()
	if err != nil {
		if exitErr, ok := err.(*exec.ExitError); ok {
			return "", fmt.Errorf("git %s: %s", strings.Join(args, " "), strings.TrimSpace(string(exitErr.Stderr)))
		}
		return "", fmt.Errorf("git %s: %w", strings.Join(args, " "), err)
	}
	return strings.TrimSpace(string(out)), nil
}

func (c *RealClient) RepoRoot(path string) (string, error) {
	return gitCmd(path, "rev-parse", "--show-toplevel")
}

func (c *RealClient) CurrentBranch(path string) (string, error) {
	return gitCmd(path, "rev-parse", "--abbrev-ref", "HEAD")
}

func (c *RealClient) LastCommitHash(path string) (string, error) {
	return gitCmd(path, "log", "-1", "--format=%h")
}

func (c *RealClient) IsDirty(path string) (bool, error) {
	out, err := gitCmd(path, "status", "--porcelain")
	if err != nil {
		return false, err
	}
	return out != "", nil
}

// BranchName derives a branch name for work on an issue, e.g.
// "PROJ-12-fix-login-crash".
func BranchName(key, summary string) string {
	var sb strings.Builder
	sb.WriteString(key)
	words := 0
	dash := true
	for _, r := range strings.ToLower(summary) {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9':
			if dash {
				if words == 6 {
					return sb.String()
				}
				sb.WriteByte('-')
				words++
				dash = false
			}
			sb.WriteRune(r)
		default:
			dash = true
		}
	}
	return sb.String()
}
