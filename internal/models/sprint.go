package models

// SprintState is the lifecycle state of a sprint.
type SprintState string

const (
	SprintStateActive SprintState = "active"
	SprintStateFuture SprintState = "future"
	SprintStateClosed SprintState = "closed"
)

// Sprint is a time-boxed grouping of issues on a board.
type Sprint struct {
	ID      int         `json:"id"`
	Name    string      `json:"name"`
	State   SprintState `json:"state"`
	BoardID int         `json:"boardId"`
}
