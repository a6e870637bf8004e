package models

import "time"

// DispatchStatus represents the state of an agent dispatch.
type DispatchStatus string

const (
	DispatchStatusLaunched  DispatchStatus = "launched"
	DispatchStatusCompleted DispatchStatus = "completed"
	DispatchStatusFailed    DispatchStatus = "failed"
	DispatchStatusAbandoned DispatchStatus = "abandoned"
)

// Open reports whether the dispatch has not reached a final status.
func (s DispatchStatus) Open() bool {
	return s == DispatchStatusLaunched
}

// Dispatch records an issue handed to an AI agent running in a terminal.
type Dispatch struct {
	ID       string `json:"id"`
	IssueKey string `json:"issueKey"`
	Agent    string `json:"agent"`
	Command  string `json:"command"`
	WorkDir  string `json:"workDir"`
	Terminal string `json:"terminal,omitempty"`
	Label    string `json:"label"`

	// Branch and BaseCommit describe the repo state at launch.
	Branch     string `json:"branch,omitempty"`
	BaseCommit string `json:"baseCommit,omitempty"`

	Status    DispatchStatus `json:"status"`
	Error     string         `json:"error,omitempty"`
	StartedAt time.Time      `json:"startedAt"`
	EndedAt   *time.Time     `json:"endedAt,omitempty"`
}
