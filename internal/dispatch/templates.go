package dispatch

import (
	"fmt"
	"maps"
	"slices"
	"strings"
	"text/template"
)

// Agent describes how to launch one coding agent CLI.
type Agent struct {
	Name string

	// Binary is the process name looked for when checking whether the agent
	// already runs in the working directory.
	Binary string

	// Command is a text/template rendered with TemplateData.
	Command string
}

// BuiltinAgents are available without configuration.
var BuiltinAgents = map[string]Agent{
	"claude": {Name: "claude", Binary: "claude", Command: `claude {{shq .Prompt}}`},
	"codex":  {Name: "codex", Binary: "codex", Command: `codex {{shq .Prompt}}`},
	"gemini": {Name: "gemini", Binary: "gemini", Command: `gemini -i {{shq .Prompt}}`},
	"cursor": {Name: "cursor", Binary: "cursor-agent", Command: `cursor-agent {{shq .Prompt}}`},
}

// DefaultAgent is used when a request names no agent.
const DefaultAgent = "claude"

// TemplateData is what agent command templates can reference.
type TemplateData struct {
	Key         string
	Summary     string
	Description string
	Type        string
	Status      string
	URL         string
	Brief       string
	WorkDir     string

	// Prompt is the rendered default prompt for the issue.
	Prompt string
}

const promptTemplate = `Resolve {{.Key}}: {{.Summary}}
{{- if .URL}}
Issue: {{.URL}}{{end}}
{{- if .Type}}
Type: {{.Type}}{{end}}
{{- if .Description}}

{{.Description}}{{end}}
{{- if .Brief}}

Implementation brief:
{{.Brief}}{{end}}`

var funcs = template.FuncMap{"shq": shq}

// shq quotes s for a POSIX shell.
func shq(s string) string {
	if s == "" {
		return "''"
	}
	return "'" + strings.ReplaceAll(s, "'", `'\''`) + "'"
}

// Agents merges configured command templates over the built-ins. The binary
// of a configured agent is the first word of its command.
func Agents(overrides map[string]string) map[string]Agent {
	out := maps.Clone(BuiltinAgents)
	for name, cmd := range overrides {
		cmd = strings.TrimSpace(cmd)
		if cmd == "" {
			continue
		}
		a := Agent{Name: name, Command: cmd}
		if f := strings.Fields(cmd); len(f) > 0 {
			a.Binary = f[0]
		}
		out[name] = a
	}
	return out
}

// AgentNames lists agent names in sorted order.
func AgentNames(agents map[string]Agent) []string {
	return slices.Sorted(maps.Keys(agents))
}

// Render fills in data.Prompt and renders the agent's command line.
func (a Agent) Render(data TemplateData) (string, error) {
	prompt, err := execute("prompt", promptTemplate, data)
	if err != nil {
		return "", err
	}
	data.Prompt = prompt

	cmd, err := execute(a.Name, a.Command, data)
	if err != nil {
		return "", err
	}
	cmd = strings.TrimSpace(cmd)
	if cmd == "" {
		return "", fmt.Errorf("agent %s: command template rendered empty", a.Name)
	}
	return cmd, nil
}

func execute(name, text string, data TemplateData) (string, error) {
	tmpl, err := template.New(name).Funcs(funcs).Option("missingkey=error").Parse(text)
	if err != nil {
		return "", fmt.Errorf("parse %s template: %w", name, err)
	}
	var sb strings.Builder
	if err := tmpl.Execute(&sb, data); err != nil {
		return "", fmt.Errorf("render %s template: %w", name, err)
	}
	return sb.String(), nil
}
