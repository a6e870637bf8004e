package edit

import (
	"context"
	"errors"

	"github.com/joescharf/sprintpilot/internal/models"
	"github.com/joescharf/sprintpilot/internal/tracker"
)

// Updater is the part of the tracker client the issue fields write through.
type Updater interface {
	UpdateIssue(ctx context.Context, key string, u tracker.IssueUpdate) error
	TransitionIssue(ctx context.Context, key, status string) error
}

// ErrEmptyAssignee is returned when an assignee ref has neither an account id
// nor a display name.
var ErrEmptyAssignee = errors.New("edit: assignee has no account id or name")

// Field names used by IssueFields.
const (
	FieldSummary     = "summary"
	FieldStatus      = "status"
	FieldDescription = "description"
	FieldStoryPoints = "storyPoints"
	FieldAssignee    = "assignee"
	FieldParent      = "parent"
)

// IssueFields holds one controller per editable issue field. Each commit
// sends only its own field.
type IssueFields struct {
	Summary     *Field[string]
	Status      *Field[string]
	Description *Field[string]
	StoryPoints *Field[*float64]

	// Assignee is sent by account id when the ref has one, otherwise
	// resolved by display name; nil unassigns.
	Assignee *Field[*models.UserRef]

	// Parent is sent by key; nil removes the parent.
	Parent *Field[*models.ParentRef]
}

// BindIssue wires field controllers to issue. Locally the controllers read
// and write issue directly, so callers must not mutate it concurrently.
func BindIssue(issue *models.Issue, up Updater, opts Options) *IssueFields {
	update := func(ctx context.Context, u tracker.IssueUpdate) error {
		return up.UpdateIssue(ctx, issue.Key, u)
	}

	return &IssueFields{
		Summary: NewField(FieldSummary,
			func() string { return issue.Summary },
			func(v string) { issue.Summary = v },
			func(ctx context.Context, v string) error {
				return update(ctx, tracker.IssueUpdate{Summary: &v})
			}, opts),

		Status: NewField(FieldStatus,
			func() string { return issue.Status },
			func(v string) { issue.Status = v },
			func(ctx context.Context, v string) error {
				return up.TransitionIssue(ctx, issue.Key, v)
			}, opts),

		Description: NewField(FieldDescription,
			func() string { return issue.Description },
			func(v string) { issue.Description = v },
			func(ctx context.Context, v string) error {
				return update(ctx, tracker.IssueUpdate{Description: &v})
			}, opts),

		StoryPoints: NewField(FieldStoryPoints,
			func() *float64 { return issue.StoryPoints },
			func(v *float64) { issue.StoryPoints = v },
			func(ctx context.Context, v *float64) error {
				return update(ctx, tracker.IssueUpdate{SetStoryPoints: true, StoryPoints: v})
			}, opts),

		Assignee: NewField(FieldAssignee,
			func() *models.UserRef { return issue.Assignee },
			func(v *models.UserRef) { issue.Assignee = v },
			func(ctx context.Context, v *models.UserRef) error {
				switch {
				case v == nil:
					name := ""
					return update(ctx, tracker.IssueUpdate{Assignee: &name})
				case v.AccountID != "":
					return update(ctx, tracker.IssueUpdate{AssigneeAccountID: v.AccountID})
				case v.DisplayName != "":
					name := v.DisplayName
					return update(ctx, tracker.IssueUpdate{Assignee: &name})
				default:
					return ErrEmptyAssignee
				}
			}, opts),

		Parent: NewField(FieldParent,
			func() *models.ParentRef { return issue.Parent },
			func(v *models.ParentRef) { issue.Parent = v },
			func(ctx context.Context, v *models.ParentRef) error {
				key := ""
				if v != nil {
					key = v.Key
				}
				return update(ctx, tracker.IssueUpdate{Parent: &key})
			}, opts),
	}
}
