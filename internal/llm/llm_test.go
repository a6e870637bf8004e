package llm

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/joescharf/sprintpilot/internal/models"
)

func TestBuildBriefPrompt(t *testing.T) {
	t.Run("with all fields", func(t *testing.T) {
		issue := &models.Issue{
			Key:         "PROJ-7",
			Summary:     "Fix login crash",
			Description: "Clicking login with an empty password crashes the page",
			Status:      "To Do",
			Type:        models.IssueType{Name: "Bug"},
			Parent:      &models.ParentRef{Key: "PROJ-1", Summary: "Auth"},
		}
		system, user := buildBriefPrompt(issue)

		assert.Contains(t, system, "AI coding agent")
		assert.Contains(t, system, "plain text")

		assert.Contains(t, user, "Issue PROJ-7: Fix login crash")
		assert.Contains(t, user, "Type: Bug")
		assert.Contains(t, user, "Epic: PROJ-1 Auth")
		assert.Contains(t, user, "empty password")
	})

	t.Run("summary only", func(t *testing.T) {
		_, user := buildBriefPrompt(&models.Issue{Key: "PROJ-8", Summary: "Add dark mode"})

		assert.Contains(t, user, "Add dark mode")
		assert.NotContains(t, user, "Description:")
		assert.NotContains(t, user, "Epic:")
	})
}

func TestBuildDraftPrompt(t *testing.T) {
	t.Run("with types", func(t *testing.T) {
		system, user := buildDraftPrompt("login broken on safari", []string{"Bug", "Story"})

		assert.Contains(t, system, `"summary"`)
		assert.Contains(t, system, `"type"`)
		assert.Contains(t, system, "JSON")
		assert.Contains(t, user, "Allowed types: Bug, Story")
		assert.Contains(t, user, "login broken on safari")
	})

	t.Run("without types", func(t *testing.T) {
		_, user := buildDraftPrompt("notes", nil)
		assert.NotContains(t, user, "Allowed types")
	})
}

func TestStripFence(t *testing.T) {
	tests := []struct {
		name, in, want string
	}{
		{"plain", "  hello  ", "hello"},
		{"json fence", "```json\n{\"a\":1}\n```", `{"a":1}`},
		{"bare fence", "```\ntext\n```\n", "text"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, stripFence(tt.in))
		})
	}
}

func TestNewClient_DefaultModel(t *testing.T) {
	c := NewClient("", "")
	assert.Equal(t, DefaultModel, string(c.model))
}
