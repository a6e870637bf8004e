package tracker

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
)

func (c *Client) transitions(ctx context.Context, key string) ([]transitionJSON, error) {
	path := "rest/api/3/issue/" + url.PathEscape(key) + "/transitions"
	var resp transitionsJSON
	if err := c.do(ctx, http.MethodGet, path, nil, nil, &resp); err != nil {
		return nil, err
	}
	return resp.Transitions, nil
}

// FetchIssueStatuses returns the statuses the issue can be put in: its
// current status first, then each transition target, without duplicates.
func (c *Client) FetchIssueStatuses(ctx context.Context, key string) ([]string, error) {
	path := "rest/api/3/issue/" + url.PathEscape(key)
	var raw issueJSON
	if err := c.do(ctx, http.MethodGet, path, url.Values{"fields": {"status"}}, nil, &raw); err != nil {
		return nil, err
	}
	var current namedJSON
	if err := decodeField(raw.Fields, "status", &current); err != nil {
		return nil, &DecodeError{Path: path, Err: err}
	}

	ts, err := c.transitions(ctx, key)
	if err != nil {
		return nil, err
	}

	seen := make(map[string]bool)
	var statuses []string
	add := func(name string) {
		if name == "" || seen[name] {
			return
		}
		seen[name] = true
		statuses = append(statuses, name)
	}
	add(current.Name)
	for _, t := range ts {
		add(targetName(t))
	}
	return statuses, nil
}

func targetName(t transitionJSON) string {
	if t.To.Name != "" {
		return t.To.Name
	}
	return t.Name
}

// TransitionIssue moves the issue to the status named target. The target
// must match a transition's destination or name exactly. When nothing
// matches the call logs a warning and returns nil, unless the client was
// built with StrictTransitions, in which case it returns ErrNoTransition.
func (c *Client) TransitionIssue(ctx context.Context, key, target string) error {
	ts, err := c.transitions(ctx, key)
	if err != nil {
		return err
	}

	var id string
	for _, t := range ts {
		if t.To.Name == target || t.Name == target {
			id = t.ID
			break
		}
	}
	if id == "" {
		if c.strict {
			return fmt.Errorf("%w: %s -> %q", ErrNoTransition, key, target)
		}
		c.logger.Warn("tracker: no transition matches status, nothing changed",
			"key", key, "status", target)
		return nil
	}

	path := "rest/api/3/issue/" + url.PathEscape(key) + "/transitions"
	body := map[string]any{"transition": map[string]string{"id": id}}
	return c.do(ctx, http.MethodPost, path, nil, body, nil)
}
