package cmd

import (
	"bytes"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"text/template"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

var configForce bool

// configDirFunc returns the config directory path, replaceable in tests.
var configDirFunc = defaultConfigDir

func defaultConfigDir() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, ".config", "sprintpilot"), nil
}

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Show or manage configuration",
	Long: `Show or manage sp configuration.

Running bare 'sp config' is the same as 'sp config show'.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return configShowRun()
	},
}

var configInitCmd = &cobra.Command{
	Use:   "init",
	Short: "Create config file with commented defaults",
	RunE: func(cmd *cobra.Command, args []string) error {
		return configInitRun()
	},
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show effective configuration with sources",
	RunE: func(cmd *cobra.Command, args []string) error {
		return configShowRun()
	},
}

var configEditCmd = &cobra.Command{
	Use:   "edit",
	Short: "Open config file in $EDITOR",
	RunE: func(cmd *cobra.Command, args []string) error {
		return configEditRun()
	},
}

func init() {
	configInitCmd.Flags().BoolVar(&configForce, "force", false, "Overwrite existing config file")
	configCmd.AddCommand(configInitCmd)
	configCmd.AddCommand(configShowCmd)
	configCmd.AddCommand(configEditCmd)
	rootCmd.AddCommand(configCmd)
}

// configTemplate is the template for generating config.yaml with comments.
const configTemplate = `# sprintpilot configuration
# See: sp config show (for effective values and sources)

# SQLite database for dispatch history (default: ~/.config/sprintpilot/sprintpilot.db)
# db_path: {{ .DBPath }}

# Port for 'sp serve' (default: 8787)
# port: {{ .Port }}

# Tracker site (Jira Cloud)
jira:
  base_url: "{{ .BaseURL }}"
  username: "{{ .Username }}"
  # API token; prefer SP_JIRA_API_TOKEN in the environment or a .env file
  api_token: ""
  # Default project key for new issues
  project: "{{ .Project }}"
  # Default board id for 'sp sprint list'
  board: {{ .Board }}
  # Custom field ids vary per site
  story_points_field: "{{ .StoryPointsField }}"
  # epic_color_field: customfield_10017
  # Fail instead of warning when no transition reaches a status
  strict_transitions: false

# Agent dispatch
agent:
  # Agent used when none is named: claude, codex, gemini or cursor
  default: "{{ .AgentDefault }}"
  # Override a command template:
  # templates:
  #   claude: claude --model opus {{ "{{" }} shq .Prompt {{ "}}" }}

# Where dispatched agents run: exec, tmux or iterm
terminal:
  kind: "{{ .TerminalKind }}"
  # Limits for the exec terminal, e.g. 10m; empty means none
  idle_timeout: ""
  total_timeout: ""

# Optional implementation briefs (ANTHROPIC_API_KEY also works)
anthropic:
  api_key: ""
  model: ""

# Optional usage logging endpoint
accesslog:
  endpoint: ""
  app_name: "sprintpilot"
`

type configTemplateData struct {
	DBPath           string
	Port             int
	BaseURL          string
	Username         string
	Project          string
	Board            int
	StoryPointsField string
	AgentDefault     string
	TerminalKind     string
}

func configFilePath() (string, error) {
	dir, err := configDirFunc()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "config.yaml"), nil
}

func configInitRun() error {
	cfgPath, err := configFilePath()
	if err != nil {
		return err
	}

	// Check if file already exists
	if _, err := os.Stat(cfgPath); err == nil {
		if !configForce {
			return fmt.Errorf("config file already exists: %s (use --force to overwrite)", cfgPath)
		}
		ui.Warning("Overwriting existing config file")
	}

	// Build template data from current viper values
	data := configTemplateData{
		DBPath:           viper.GetString("db_path"),
		Port:             viper.GetInt("port"),
		BaseURL:          viper.GetString("jira.base_url"),
		Username:         viper.GetString("jira.username"),
		Project:          viper.GetString("jira.project"),
		Board:            viper.GetInt("jira.board"),
		StoryPointsField: viper.GetString("jira.story_points_field"),
		AgentDefault:     viper.GetString("agent.default"),
		TerminalKind:     viper.GetString("terminal.kind"),
	}

	tmpl, err := template.New("config").Parse(configTemplate)
	if err != nil {
		return fmt.Errorf("template parse error: %w", err)
	}

	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, data); err != nil {
		return fmt.Errorf("template execute error: %w", err)
	}

	if dryRun {
		ui.DryRunMsg("Would create config file: %s", cfgPath)
		fmt.Fprintln(ui.Out)
		fmt.Fprint(ui.Out, buf.String())
		return nil
	}

	// Create config directory
	dir := filepath.Dir(cfgPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	if err := os.WriteFile(cfgPath, buf.Bytes(), 0644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	ui.Success("Config file created: %s", cfgPath)
	fmt.Fprintln(ui.Out)
	fmt.Fprint(ui.Out, buf.String())
	return nil
}

// configKeyInfo describes a config key for display purposes.
type configKeyInfo struct {
	Key    string
	EnvVar string
	Secret bool
}

var configKeys = []configKeyInfo{
	{Key: "db_path", EnvVar: "SP_DB_PATH"},
	{Key: "port", EnvVar: "SP_PORT"},
	{Key: "jira.base_url", EnvVar: "SP_JIRA_BASE_URL"},
	{Key: "jira.username", EnvVar: "SP_JIRA_USERNAME"},
	{Key: "jira.api_token", EnvVar: "SP_JIRA_API_TOKEN", Secret: true},
	{Key: "jira.project", EnvVar: "SP_JIRA_PROJECT"},
	{Key: "jira.board", EnvVar: "SP_JIRA_BOARD"},
	{Key: "jira.story_points_field", EnvVar: "SP_JIRA_STORY_POINTS_FIELD"},
	{Key: "jira.sprint_field", EnvVar: "SP_JIRA_SPRINT_FIELD"},
	{Key: "jira.epic_color_field", EnvVar: "SP_JIRA_EPIC_COLOR_FIELD"},
	{Key: "jira.strict_transitions", EnvVar: "SP_JIRA_STRICT_TRANSITIONS"},
	{Key: "agent.default", EnvVar: "SP_AGENT_DEFAULT"},
	{Key: "terminal.kind", EnvVar: "SP_TERMINAL_KIND"},
	{Key: "terminal.idle_timeout", EnvVar: "SP_TERMINAL_IDLE_TIMEOUT"},
	{Key: "terminal.total_timeout", EnvVar: "SP_TERMINAL_TOTAL_TIMEOUT"},
	{Key: "anthropic.api_key", EnvVar: "SP_ANTHROPIC_API_KEY", Secret: true},
	{Key: "anthropic.model", EnvVar: "SP_ANTHROPIC_MODEL"},
	{Key: "accesslog.endpoint", EnvVar: "SP_ACCESSLOG_ENDPOINT"},
	{Key: "accesslog.app_name", EnvVar: "SP_ACCESSLOG_APP_NAME"},
}

func configShowRun() error {
	cfgPath, err := configFilePath()
	if err != nil {
		return err
	}

	// Check if config file exists
	if _, err := os.Stat(cfgPath); err == nil {
		ui.Info("Config file: %s", cfgPath)
	} else {
		ui.Info("Config file: (none)")
	}
	fmt.Fprintln(ui.Out)

	// Read config file values to determine file source
	fileValues := readConfigFileValues(cfgPath)

	for _, k := range configKeys {
		val := viper.Get(k.Key)
		if k.Secret {
			val = maskSecret(viper.GetString(k.Key))
		}
		source := detectSource(k.Key, k.EnvVar, fileValues)
		fmt.Fprintf(ui.Out, "  %-26s %v  %s\n", k.Key, val, source)
	}

	return nil
}

// maskSecret hides all but the last four characters of a credential.
func maskSecret(v string) string {
	if v == "" {
		return ""
	}
	if len(v) <= 4 {
		return "****"
	}
	return "****" + v[len(v)-4:]
}

// readConfigFileValues reads the raw YAML file and returns a flat map of keys present in it.
func readConfigFileValues(path string) map[string]bool {
	result := make(map[string]bool)

	data, err := os.ReadFile(path)
	if err != nil {
		return result
	}

	var parsed map[string]any
	if err := yaml.Unmarshal(data, &parsed); err != nil {
		return result
	}

	// Flatten nested keys with dot notation
	flattenKeys("", parsed, result)
	return result
}

// flattenKeys recursively flattens a nested map to dot-notation keys.
func flattenKeys(prefix string, m map[string]any, result map[string]bool) {
	for key, val := range m {
		fullKey := key
		if prefix != "" {
			fullKey = prefix + "." + key
		}
		if nested, ok := val.(map[string]any); ok {
			flattenKeys(fullKey, nested, result)
		} else {
			result[fullKey] = true
		}
	}
}

// detectSource determines where a config value is coming from.
func detectSource(key, envVar string, fileValues map[string]bool) string {
	if _, ok := os.LookupEnv(envVar); ok {
		return fmt.Sprintf("(env: %s)", envVar)
	}
	if fileValues[key] {
		return "(file)"
	}
	return "(default)"
}

func configEditRun() error {
	editor := os.Getenv("EDITOR")
	if editor == "" {
		editor = os.Getenv("VISUAL")
	}
	if editor == "" {
		return fmt.Errorf("$EDITOR is not set; set it to your preferred editor (e.g. export EDITOR=vim)")
	}

	cfgPath, err := configFilePath()
	if err != nil {
		return err
	}

	if _, err := os.Stat(cfgPath); os.IsNotExist(err) {
		return fmt.Errorf("config file not found: %s (run 'sp config init' first)", cfgPath)
	}

	if dryRun {
		ui.DryRunMsg("Would open %s in %s", cfgPath, editor)
		return nil
	}

	editCmd := exec.Command(editor, cfgPath)
	editCmd.Stdin = os.Stdin
	editCmd.Stdout = os.Stdout
	editCmd.Stderr = os.Stderr
	return editCmd.Run()
}
