package agent

import (
	"github.com/joescharf/sprintpilot/internal/git"
	"github.com/joescharf/sprintpilot/internal/models"
)

// EnrichDispatchWithGitInfo records the branch and HEAD commit of the
// dispatch's working directory. Best-effort: errors are silently ignored.
func EnrichDispatchWithGitInfo(d *models.Dispatch, gc git.Client) {
	if d.WorkDir == "" || gc == nil {
		return
	}
	if branch, err := gc.CurrentBranch(d.WorkDir); err == nil {
		d.Branch = branch
	}
	if hash, err := gc.LastCommitHash(d.WorkDir); err == nil {
		d.BaseCommit = hash
	}
}
