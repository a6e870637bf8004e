package models

// UserRef identifies a tracker user. Writes need AccountID; the UI shows DisplayName.
type UserRef struct {
	AccountID   string `json:"accountId,omitempty"`
	DisplayName string `json:"displayName"`
	Email       string `json:"email,omitempty"`
}

// Priority is an issue priority as reported by the tracker.
type Priority struct {
	Name    string `json:"name"`
	IconURL string `json:"iconUrl,omitempty"`
}

// IssueType is the kind of work an issue tracks (Bug, Story, Task, ...).
// ID is preferred over Name when both are present.
type IssueType struct {
	ID   string `json:"id,omitempty"`
	Name string `json:"name"`
}

// SprintRef is the sprint an issue belongs to or is being created in.
type SprintRef struct {
	ID   int    `json:"id"`
	Name string `json:"name,omitempty"`
}

// ParentRef points at an issue's parent or epic.
type ParentRef struct {
	Key     string `json:"key"`
	Summary string `json:"summary,omitempty"`
	Color   string `json:"color,omitempty"`
}

// Issue is a tracker issue. Key is assigned by the server and never changes
// once set; every other field can be updated independently.
type Issue struct {
	Key         string     `json:"key"`
	Summary     string     `json:"summary"`
	Description string     `json:"description,omitempty"` // plain text
	Status      string     `json:"status,omitempty"`
	Assignee    *UserRef   `json:"assignee,omitempty"`
	Reporter    *UserRef   `json:"reporter,omitempty"`
	Priority    *Priority  `json:"priority,omitempty"`
	Type        IssueType  `json:"issueType"`
	Sprint      *SprintRef `json:"sprint,omitempty"`
	Parent      *ParentRef `json:"parent,omitempty"`
	StoryPoints *float64   `json:"storyPoints,omitempty"`
	ProjectKey  string     `json:"projectKey,omitempty"`
}

// AssigneeName returns the assignee's display name or "" when unassigned.
func (i *Issue) AssigneeName() string {
	if i.Assignee == nil {
		return ""
	}
	return i.Assignee.DisplayName
}

// ParentKey returns the parent key or "" when the issue has no parent.
func (i *Issue) ParentKey() string {
	if i.Parent == nil {
		return ""
	}
	return i.Parent.Key
}
