package tracker

import (
	"encoding/json"
	"fmt"

	"github.com/joescharf/sprintpilot/internal/adf"
	"github.com/joescharf/sprintpilot/internal/models"
)

// Response shapes. Only the fields the client reads are declared.

type sprintJSON struct {
	ID            int    `json:"id"`
	Name          string `json:"name"`
	State         string `json:"state"`
	OriginBoardID int    `json:"originBoardId"`
}

type sprintPage struct {
	Values []sprintJSON `json:"values"`
}

type issueJSON struct {
	ID     string                     `json:"id"`
	Key    string                     `json:"key"`
	Fields map[string]json.RawMessage `json:"fields"`
}

type issuePage struct {
	Issues []issueJSON `json:"issues"`
}

type namedJSON struct {
	ID      string `json:"id"`
	Name    string `json:"name"`
	IconURL string `json:"iconUrl"`
}

type userJSON struct {
	AccountID    string `json:"accountId"`
	DisplayName  string `json:"displayName"`
	EmailAddress string `json:"emailAddress"`
	Active       bool   `json:"active"`
}

type parentJSON struct {
	Key    string `json:"key"`
	Fields struct {
		Summary string `json:"summary"`
	} `json:"fields"`
}

type projectRefJSON struct {
	ID  string `json:"id"`
	Key string `json:"key"`
}

type transitionJSON struct {
	ID   string `json:"id"`
	Name string `json:"name"`
	To   struct {
		Name string `json:"name"`
	} `json:"to"`
}

type transitionsJSON struct {
	Transitions []transitionJSON `json:"transitions"`
}

type issueTypeJSON struct {
	ID             string `json:"id"`
	Name           string `json:"name"`
	Subtask        bool   `json:"subtask"`
	HierarchyLevel int    `json:"hierarchyLevel"`
}

type createdJSON struct {
	ID  string `json:"id"`
	Key string `json:"key"`
}

func (u userJSON) ref() *models.UserRef {
	return &models.UserRef{
		AccountID:   u.AccountID,
		DisplayName: u.DisplayName,
		Email:       u.EmailAddress,
	}
}

// issueFields lists the fields requested for issue lists.
func (c *Client) issueFields() []string {
	fields := []string{
		"summary", "description", "status", "assignee", "reporter",
		"priority", "issuetype", "parent", "project", "sprint",
		c.storyPointsField, c.sprintField,
	}
	if c.epicColorField != "" {
		fields = append(fields, c.epicColorField)
	}
	return fields
}

// decodeField unmarshals one field. Absent and null fields leave dst untouched.
func decodeField(fields map[string]json.RawMessage, name string, dst any) error {
	raw, ok := fields[name]
	if !ok || len(raw) == 0 || string(raw) == "null" {
		return nil
	}
	if err := json.Unmarshal(raw, dst); err != nil {
		return fmt.Errorf("field %s: %w", name, err)
	}
	return nil
}

// toIssue maps a raw issue onto models.Issue. Typed fields that fail to
// decode make the whole issue fail; the description is decoded leniently.
func (c *Client) toIssue(raw issueJSON) (*models.Issue, error) {
	issue := &models.Issue{Key: raw.Key}
	f := raw.Fields
	if f == nil {
		return issue, nil
	}

	if err := decodeField(f, "summary", &issue.Summary); err != nil {
		return nil, err
	}
	issue.Description = adf.Decode(f["description"])

	var status, priority, itype namedJSON
	if err := decodeField(f, "status", &status); err != nil {
		return nil, err
	}
	issue.Status = status.Name

	if err := decodeField(f, "priority", &priority); err != nil {
		return nil, err
	}
	if priority.Name != "" {
		issue.Priority = &models.Priority{Name: priority.Name, IconURL: priority.IconURL}
	}

	if err := decodeField(f, "issuetype", &itype); err != nil {
		return nil, err
	}
	issue.Type = models.IssueType{ID: itype.ID, Name: itype.Name}

	var assignee, reporter *userJSON
	if err := decodeField(f, "assignee", &assignee); err != nil {
		return nil, err
	}
	if assignee != nil {
		issue.Assignee = assignee.ref()
	}
	if err := decodeField(f, "reporter", &reporter); err != nil {
		return nil, err
	}
	if reporter != nil {
		issue.Reporter = reporter.ref()
	}

	var parent *parentJSON
	if err := decodeField(f, "parent", &parent); err != nil {
		return nil, err
	}
	if parent != nil && parent.Key != "" {
		issue.Parent = &models.ParentRef{Key: parent.Key, Summary: parent.Fields.Summary}
	}

	var project projectRefJSON
	if err := decodeField(f, "project", &project); err != nil {
		return nil, err
	}
	issue.ProjectKey = project.Key

	var points *float64
	if err := decodeField(f, c.storyPointsField, &points); err != nil {
		return nil, err
	}
	issue.StoryPoints = points

	sprint, err := c.decodeSprint(f)
	if err != nil {
		return nil, err
	}
	issue.Sprint = sprint

	return issue, nil
}

// decodeSprint reads the agile "sprint" field, falling back to the sprint
// custom field, which holds every sprint the issue has been in. The open one
// wins; otherwise the last entry.
func (c *Client) decodeSprint(f map[string]json.RawMessage) (*models.SprintRef, error) {
	var single *sprintJSON
	if err := decodeField(f, "sprint", &single); err != nil {
		return nil, err
	}
	if single != nil && single.ID != 0 {
		return &models.SprintRef{ID: single.ID, Name: single.Name}, nil
	}

	var many []sprintJSON
	if err := decodeField(f, c.sprintField, &many); err != nil {
		return nil, err
	}
	if len(many) == 0 {
		return nil, nil
	}
	pick := many[len(many)-1]
	for _, s := range many {
		if s.State != string(models.SprintStateClosed) {
			pick = s
			break
		}
	}
	return &models.SprintRef{ID: pick.ID, Name: pick.Name}, nil
}

func (c *Client) toIssues(path string, raw []issueJSON) ([]*models.Issue, error) {
	issues := make([]*models.Issue, 0, len(raw))
	for _, r := range raw {
		issue, err := c.toIssue(r)
		if err != nil {
			return nil, &DecodeError{Path: path, Err: fmt.Errorf("issue %s: %w", r.Key, err)}
		}
		issues = append(issues, issue)
	}
	return issues, nil
}
