package tracker

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFetchIssueStatuses_CurrentFirstAndDeduplicated(t *testing.T) {
	f := newFakeTracker(t)
	f.json("GET", "/rest/api/3/issue/PROJ-1", 200, `{"key":"PROJ-1","fields":{"status":{"name":"To Do"}}}`)
	f.json("GET", "/rest/api/3/issue/PROJ-1/transitions", 200, `{"transitions":[
		{"id":"11","name":"Back to backlog","to":{"name":"To Do"}},
		{"id":"21","name":"Start","to":{"name":"In Progress"}},
		{"id":"31","name":"Finish","to":{"name":"Done"}},
		{"id":"41","name":"Reopen","to":{"name":"In Progress"}}
	]}`)

	statuses, err := f.client(Config{}).FetchIssueStatuses(context.Background(), "PROJ-1")
	require.NoError(t, err)
	assert.Equal(t, []string{"To Do", "In Progress", "Done"}, statuses)

	reqs := f.requests("GET", "/rest/api/3/issue/PROJ-1")
	require.Len(t, reqs, 1)
	assert.Equal(t, "status", reqs[0].Query["fields"][0])
}

func TestFetchIssueStatuses_EmptyCurrentStatus(t *testing.T) {
	f := newFakeTracker(t)
	f.json("GET", "/rest/api/3/issue/PROJ-1", 200, `{"key":"PROJ-1","fields":{}}`)
	f.json("GET", "/rest/api/3/issue/PROJ-1/transitions", 200, `{"transitions":[{"id":"1","name":"Done"}]}`)

	statuses, err := f.client(Config{}).FetchIssueStatuses(context.Background(), "PROJ-1")
	require.NoError(t, err)
	assert.Equal(t, []string{"Done"}, statuses)
}

func TestTransitionIssue_MatchesByTargetName(t *testing.T) {
	f := newFakeTracker(t)
	f.json("GET", "/rest/api/3/issue/PROJ-1/transitions", 200, `{"transitions":[
		{"id":"21","name":"Start","to":{"name":"In Progress"}},
		{"id":"31","name":"Finish","to":{"name":"Done"}}
	]}`)
	f.json("POST", "/rest/api/3/issue/PROJ-1/transitions", 204, ``)

	require.NoError(t, f.client(Config{}).TransitionIssue(context.Background(), "PROJ-1", "Done"))

	post := f.requests("POST", "/rest/api/3/issue/PROJ-1/transitions")
	require.Len(t, post, 1)
	assert.Equal(t, map[string]any{"id": "31"}, post[0].Body["transition"])
}

func TestTransitionIssue_NoMatchIsSilentNoop(t *testing.T) {
	f := newFakeTracker(t)
	f.json("GET", "/rest/api/3/issue/PROJ-1/transitions", 200, `{"transitions":[{"id":"21","name":"Start","to":{"name":"In Progress"}}]}`)

	err := f.client(Config{}).TransitionIssue(context.Background(), "PROJ-1", "done")
	require.NoError(t, err, "match is exact and case-sensitive")
	assert.Empty(t, f.requests("POST", "/rest/api/3/issue/PROJ-1/transitions"))
}

func TestTransitionIssue_StrictModeFails(t *testing.T) {
	f := newFakeTracker(t)
	f.json("GET", "/rest/api/3/issue/PROJ-1/transitions", 200, `{"transitions":[]}`)

	err := f.client(Config{StrictTransitions: true}).TransitionIssue(context.Background(), "PROJ-1", "Done")
	assert.ErrorIs(t, err, ErrNoTransition)
}
