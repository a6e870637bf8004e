package agent

import (
	"errors"
	"testing"

	"github.com/joescharf/sprintpilot/internal/models"
	"github.com/stretchr/testify/assert"
)

// mockGitClient implements git.Client for testing EnrichDispatchWithGitInfo.
type mockGitClient struct {
	branch string
	hash   string
	err    error
}

func (m *mockGitClient) RepoRoot(path string) (string, error)      { return path, m.err }
func (m *mockGitClient) CurrentBranch(path string) (string, error) { return m.branch, m.err }
func (m *mockGitClient) LastCommitHash(path string) (string, error) {
	return m.hash, m.err
}
func (m *mockGitClient) IsDirty(path string) (bool, error) { return false, m.err }

func TestEnrichDispatchWithGitInfo_SetsFields(t *testing.T) {
	d := &models.Dispatch{ID: "d-1", WorkDir: "/tmp/repo"}
	EnrichDispatchWithGitInfo(d, &mockGitClient{branch: "PROJ-1-fix", hash: "abc1234"})

	assert.Equal(t, "PROJ-1-fix", d.Branch)
	assert.Equal(t, "abc1234", d.BaseCommit)
}

func TestEnrichDispatchWithGitInfo_IgnoresErrors(t *testing.T) {
	d := &models.Dispatch{ID: "d-1", WorkDir: "/tmp/repo", Branch: "keep"}
	EnrichDispatchWithGitInfo(d, &mockGitClient{err: errors.New("not a repo")})

	assert.Equal(t, "keep", d.Branch)
	assert.Empty(t, d.BaseCommit)
}

func TestEnrichDispatchWithGitInfo_NoWorkDir(t *testing.T) {
	d := &models.Dispatch{ID: "d-1"}
	EnrichDispatchWithGitInfo(d, &mockGitClient{branch: "main"})
	assert.Empty(t, d.Branch)

	EnrichDispatchWithGitInfo(&models.Dispatch{WorkDir: "/x"}, nil)
}

func TestParseLsofCwd(t *testing.T) {
	out := "p123\nfcwd\nn/Users/dev/repo\n"
	assert.Equal(t, "/Users/dev/repo", parseLsofCwd(out))
	assert.Empty(t, parseLsofCwd("p1\n"))
}

func TestWithin(t *testing.T) {
	assert.True(t, within("/a/b", "/a/b"))
	assert.True(t, within("/a/b/c", "/a/b"))
	assert.False(t, within("/a/bc", "/a/b"))
}
