package cmd

import (
	"context"
	"errors"
	"testing"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/joescharf/sprintpilot/internal/edit"
	"github.com/joescharf/sprintpilot/internal/models"
	"github.com/joescharf/sprintpilot/internal/tracker"
)

type recordingUpdater struct {
	updates     []tracker.IssueUpdate
	transitions []string
	err         error
}

func (r *recordingUpdater) UpdateIssue(_ context.Context, _ string, u tracker.IssueUpdate) error {
	r.updates = append(r.updates, u)
	return r.err
}

func (r *recordingUpdater) TransitionIssue(_ context.Context, _, status string) error {
	r.transitions = append(r.transitions, status)
	return r.err
}

func TestIssueTypeRef(t *testing.T) {
	assert.Equal(t, models.IssueType{ID: "10001"}, issueTypeRef("10001"))
	assert.Equal(t, models.IssueType{Name: "Bug"}, issueTypeRef("Bug"))
}

func TestNextStatuses(t *testing.T) {
	assert.Equal(t, []string{"In Progress", "Done"}, nextStatuses("To Do", []string{"To Do", "In Progress", "Done"}))
	assert.Nil(t, nextStatuses("Done", []string{"Done"}))
	assert.Nil(t, nextStatuses("Done", nil))
}

func TestTruncate(t *testing.T) {
	assert.Equal(t, "short", truncate("short", 10))
	assert.Equal(t, "abcd…", truncate("abcdefgh", 5))
}

func TestProjectArg(t *testing.T) {
	testEnv(t)

	_, err := projectArg("")
	assert.Error(t, err)

	viper.Set("jira.project", "CORE")
	p, err := projectArg("")
	require.NoError(t, err)
	assert.Equal(t, "CORE", p)

	p, err = projectArg("WEB")
	require.NoError(t, err)
	assert.Equal(t, "WEB", p)
}

func TestCommitField(t *testing.T) {
	ctx := context.Background()
	pts := 3.0
	issue := &models.Issue{
		Key:         "PROJ-1",
		Summary:     "Old",
		Status:      "To Do",
		StoryPoints: &pts,
		Assignee:    &models.UserRef{AccountID: "acc-1", DisplayName: "Ada"},
	}
	up := &recordingUpdater{}
	fields := edit.BindIssue(issue, up, edit.Options{})

	f, err := commitField(ctx, fields, "summary", "New")
	require.NoError(t, err)
	_, err = f.Wait(ctx)
	require.NoError(t, err)
	assert.Equal(t, "New", issue.Summary)

	f, err = commitField(ctx, fields, "points", "5")
	require.NoError(t, err)
	_, err = f.Wait(ctx)
	require.NoError(t, err)
	assert.Equal(t, "5", fieldValue(issue, "points"))

	f, err = commitField(ctx, fields, "assignee", "-")
	require.NoError(t, err)
	_, err = f.Wait(ctx)
	require.NoError(t, err)
	assert.Nil(t, issue.Assignee)

	f, err = commitField(ctx, fields, "status", "Done")
	require.NoError(t, err)
	_, err = f.Wait(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"Done"}, up.transitions)

	require.Len(t, up.updates, 3)
	assert.Equal(t, "", *up.updates[2].Assignee)
}

func TestCommitField_Invalid(t *testing.T) {
	ctx := context.Background()
	fields := edit.BindIssue(&models.Issue{Key: "PROJ-1"}, &recordingUpdater{}, edit.Options{})

	_, err := commitField(ctx, fields, "points", "many")
	assert.Error(t, err)

	_, err = commitField(ctx, fields, "summary", " ")
	assert.Error(t, err)

	_, err = commitField(ctx, fields, "labels", "x")
	assert.ErrorContains(t, err, "unknown field")
}

func TestCommitField_RollsBack(t *testing.T) {
	ctx := context.Background()
	issue := &models.Issue{Key: "PROJ-1", Parent: &models.ParentRef{Key: "PROJ-9"}}
	up := &recordingUpdater{err: errors.New("rejected")}

	var notified string
	fields := edit.BindIssue(issue, up, edit.Options{
		Notify: func(field string, err error) { notified = field },
	})

	f, err := commitField(ctx, fields, "parent", "PROJ-2")
	require.NoError(t, err)
	_, err = f.Wait(ctx)
	require.Error(t, err)

	assert.Equal(t, "PROJ-9", fieldValue(issue, "parent"))
	assert.Equal(t, edit.FieldParent, notified)
}
