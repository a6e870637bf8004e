package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"github.com/joescharf/sprintpilot/internal/models"
)

// DefaultModel is used when no model is configured.
const DefaultModel = "claude-sonnet-4-5"

// Client wraps the Anthropic API for agent briefs and issue drafting.
type Client struct {
	api   *anthropic.Client
	model anthropic.Model
}

// NewClient creates an LLM client with the given API key and model.
func NewClient(apiKey, model string) *Client {
	opts := []option.RequestOption{}
	if apiKey != "" {
		opts = append(opts, option.WithAPIKey(apiKey))
	}
	if model == "" {
		model = DefaultModel
	}
	client := anthropic.NewClient(opts...)
	return &Client{
		api:   &client,
		model: anthropic.Model(model),
	}
}

// complete sends one system + user exchange and returns the response text
// with any markdown fencing removed.
func (c *Client) complete(ctx context.Context, system, user string, maxTokens int64) (string, error) {
	msg, err := c.api.Messages.New(ctx, anthropic.MessageNewParams{
		Model:     c.model,
		MaxTokens: maxTokens,
		System: []anthropic.TextBlockParam{
			{Text: system},
		},
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(user)),
		},
	})
	if err != nil {
		return "", fmt.Errorf("anthropic API call: %w", err)
	}

	var text string
	for _, block := range msg.Content {
		if block.Type == "text" {
			text = block.Text
			break
		}
	}
	if text == "" {
		return "", fmt.Errorf("no text content in API response")
	}
	return stripFence(text), nil
}

// stripFence removes a surrounding ``` block if present.
func stripFence(text string) string {
	text = strings.TrimSpace(text)
	if strings.HasPrefix(text, "```") {
		lines := strings.SplitN(text, "\n", 2)
		if len(lines) > 1 {
			text = lines[1]
		}
		if idx := strings.LastIndex(text, "```"); idx >= 0 {
			text = text[:idx]
		}
		text = strings.TrimSpace(text)
	}
	return text
}

// buildBriefPrompt constructs the system and user prompts for an agent brief.
func buildBriefPrompt(issue *models.Issue) (system string, user string) {
	system = `You write implementation briefs for an AI coding agent that works inside a git repository. Given a tracker issue, reply with plain text only:

- One sentence restating the goal.
- 3-8 short bullet points covering the approach, likely affected areas, and acceptance criteria.

Rules:
- No markdown headings, no code fences
- Do not invent requirements the issue does not imply
- If the issue is vague, say what to clarify first`

	var sb strings.Builder
	fmt.Fprintf(&sb, "Issue %s: %s\n", issue.Key, issue.Summary)
	if issue.Type.Name != "" {
		fmt.Fprintf(&sb, "Type: %s\n", issue.Type.Name)
	}
	if issue.Status != "" {
		fmt.Fprintf(&sb, "Status: %s\n", issue.Status)
	}
	if key := issue.ParentKey(); key != "" {
		fmt.Fprintf(&sb, "Epic: %s %s\n", key, issue.Parent.Summary)
	}
	if issue.Description != "" {
		sb.WriteString("\nDescription:\n")
		sb.WriteString(issue.Description)
		sb.WriteString("\n")
	}
	user = sb.String()
	return
}

// AgentBrief asks the LLM for a short implementation brief for issue.
func (c *Client) AgentBrief(ctx context.Context, issue *models.Issue) (string, error) {
	system, user := buildBriefPrompt(issue)
	return c.complete(ctx, system, user, 1024)
}

// DraftedIssue is an issue proposed by the LLM from free-form notes.
type DraftedIssue struct {
	Summary     string `json:"summary"`
	Description string `json:"description"`
	Type        string `json:"type"`
	Priority    string `json:"priority"`
}

// buildDraftPrompt constructs the system and user prompts for issue drafting.
func buildDraftPrompt(notes string, types []string) (system string, user string) {
	system = `You turn rough notes into a single tracker issue. Return ONLY a JSON object with these fields:
- "summary": concise issue title, under 80 characters
- "description": 1-5 sentences describing the problem or feature and how to verify it
- "type": the issue type name
- "priority": one of "Lowest", "Low", "Medium", "High", "Highest"

Rules:
- Pick "type" from the allowed types list when one is given
- Default priority to "Medium" unless the notes suggest otherwise
- Return valid JSON only, no markdown fencing or explanation`

	var sb strings.Builder
	if len(types) > 0 {
		sb.WriteString("Allowed types: ")
		sb.WriteString(strings.Join(types, ", "))
		sb.WriteString("\n\n")
	}
	sb.WriteString("Notes:\n\n")
	sb.WriteString(notes)
	user = sb.String()
	return
}

// DraftIssue turns free-form notes into issue fields.
func (c *Client) DraftIssue(ctx context.Context, notes string, types []string) (*DraftedIssue, error) {
	system, user := buildDraftPrompt(notes, types)
	text, err := c.complete(ctx, system, user, 2048)
	if err != nil {
		return nil, err
	}

	var draft DraftedIssue
	if err := json.Unmarshal([]byte(text), &draft); err != nil {
		return nil, fmt.Errorf("parse LLM response as JSON: %w\nraw response: %s", err, text)
	}
	if draft.Summary == "" {
		return nil, fmt.Errorf("LLM draft has no summary")
	}
	return &draft, nil
}
