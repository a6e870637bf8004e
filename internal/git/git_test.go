package git

import (
	"os"
	"os/exec"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// initTestRepo creates a git repo in dir with a user config so commits work on CI.
func initTestRepo(t *testing.T, dir string) {
	t.Helper()
	cmds := [][]string{
		{"git", "-C", dir, "init"},
		{"git", "-C", dir, "config", "user.email", "test@test.com"},
		{"git", "-C", dir, "config", "user.name", "Test"},
	}
	for _, args := range cmds {
		require.NoError(t, exec.Command(args[0], args[1:]...).Run())
	}
}

func commit(t *testing.T, dir, file string) {
	t.Helper()
	require.NoError(t, os.WriteFile(filepath.Join(dir, file), []byte("x"), 0644))
	require.NoError(t, exec.Command("git", "-C", dir, "add", file).Run())
	require.NoError(t, exec.Command("git", "-C", dir, "commit", "-m", "add "+file).Run())
}

func TestRealClient_RepoRootFromSubdir(t *testing.T) {
	if _, err := exec.LookPath("git"); err != nil {
		t.Skip("git not installed")
	}
	dir, err := filepath.EvalSymlinks(t.TempDir())
	require.NoError(t, err)
	initTestRepo(t, dir)
	sub := filepath.Join(dir, "a", "b")
	require.NoError(t, os.MkdirAll(sub, 0755))

	root, err := NewClient().RepoRoot(sub)
	require.NoError(t, err)
	assert.Equal(t, dir, root)
}

func TestRealClient_NotARepo(t *testing.T) {
	if _, err := exec.LookPath("git"); err != nil {
		t.Skip("git not installed")
	}
	_, err := NewClient().RepoRoot(t.TempDir())
	assert.Error(t, err)
}

func TestRealClient_CommitAndDirty(t *testing.T) {
	if _, err := exec.LookPath("git"); err != nil {
		t.Skip("git not installed")
	}
	dir := t.TempDir()
	initTestRepo(t, dir)
	commit(t, dir, "README.md")

	c := NewClient()
	hash, err := c.LastCommitHash(dir)
	require.NoError(t, err)
	assert.NotEmpty(t, hash)

	branch, err := c.CurrentBranch(dir)
	require.NoError(t, err)
	assert.NotEmpty(t, branch)

	dirty, err := c.IsDirty(dir)
	require.NoError(t, err)
	assert.False(t, dirty)

	require.NoError(t, os.WriteFile(filepath.Join(dir, "new.txt"), []byte("y"), 0644))
	dirty, err = c.IsDirty(dir)
	require.NoError(t, err)
	assert.True(t, dirty)
}

func TestBranchName(t *testing.T) {
	tests := []struct {
		key, summary, want string
	}{
		{"PROJ-12", "Fix login crash", "PROJ-12-fix-login-crash"},
		{"PROJ-1", "  Add: OAuth2 (Google) support!! ", "PROJ-1-add-oauth2-google-support"},
		{"PROJ-3", "", "PROJ-3"},
		{"PROJ-4", "one two three four five six seven eight", "PROJ-4-one-two-three-four-five-six"},
	}
	for _, tt := range tests {
		t.Run(tt.want, func(t *testing.T) {
			assert.Equal(t, tt.want, BranchName(tt.key, tt.summary))
		})
	}
}
