package config

import (
	"os"
	"path/filepath"
	"time"

	"github.com/m4xw311/tandem/errors"
	"gopkg.in/yaml.v3"
)

// DirName is the per-user and per-project configuration directory.
const DirName = ".tandem"

type FilesystemAccess struct {
	// Roots bounds every file tool. Empty means the working directory.
	Roots    []string `yaml:"roots"`
	Hidden   []string `yaml:"hidden"`
	ReadOnly []string `yaml:"read_only"`
}

type MCPServer struct {
	Name    string   `yaml:"name"`
	Command string   `yaml:"command"`
	Args    []string `yaml:"args"`
}

type Toolset struct {
	Name  string   `yaml:"name"`
	Tools []string `yaml:"tools"`
}

// Retry mirrors llm.RetryPolicy in YAML form. Zero values take the policy
// defaults.
type Retry struct {
	MaxRetries *int          `yaml:"max_retries"`
	BaseDelay  time.Duration `yaml:"base_delay"`
	MaxDelay   time.Duration `yaml:"max_delay"`
	Multiplier float64       `yaml:"multiplier"`
	Jitter     *bool         `yaml:"jitter"`
}

// Worker describes one delegate agent in supervisor mode.
type Worker struct {
	Name         string `yaml:"name"`
	Description  string `yaml:"description"`
	SystemPrompt string `yaml:"system_prompt"`
	Toolset      string `yaml:"toolset"`
	Interactive  bool   `yaml:"interactive"`
}

type Config struct {
	LLMClient     string  `yaml:"llm"`
	Model         string  `yaml:"model"`
	BaseURL       string  `yaml:"base_url"`
	Stream        bool    `yaml:"stream"`
	SystemPrompt  string  `yaml:"system_prompt"`
	MaxIterations int     `yaml:"max_iterations"`
	MaxTokens     int64   `yaml:"max_tokens"`
	Temperature   float64 `yaml:"temperature"`

	LogLevel       string        `yaml:"log_level"`
	SessionTimeout time.Duration `yaml:"session_timeout"`
	CommandTimeout time.Duration `yaml:"command_timeout"`

	Toolsets             []Toolset        `yaml:"toolsets"`
	AdditionalMCPServers []MCPServer      `yaml:"additional_mcp_servers"`
	AllowedCommands      []string         `yaml:"allowed_commands"`
	BlockedCommands      []string         `yaml:"blocked_commands"`
	FilesystemAccess     FilesystemAccess `yaml:"filesystem_access"`

	// AutoApprove maps an operation category (write, execute) to glob
	// patterns whose matching calls skip confirmation.
	AutoApprove map[string][]string `yaml:"auto_approve"`

	// Python is the interpreter python_repl runs snippets with.
	Python string `yaml:"python"`
	// TavilyAPIKey enables search_web. TAVILY_API_KEY overrides it.
	TavilyAPIKey string `yaml:"tavily_api_key"`

	Retry   Retry    `yaml:"retry"`
	Workers []Worker `yaml:"workers"`
}

// Defaults returns the configuration used before any file is read.
func Defaults() *Config {
	return &Config{
		SystemPrompt:   "You are a helpful coding assistant.",
		MaxIterations:  50,
		MaxTokens:      4096,
		LogLevel:       "warn",
		SessionTimeout: time.Hour,
		CommandTimeout: 60 * time.Second,
		Python:         "python3",
		FilesystemAccess: FilesystemAccess{
			Hidden: []string{DirName, DirName + "/**"},
		},
		Toolsets: []Toolset{
			{Name: "default", Tools: []string{"read_file", "write_file", "list_directory", "run_command", "ask_user", "calculator"}},
			{Name: "research", Tools: []string{"read_file", "list_directory", "search_web", "python_repl", "calculator", "ask_user"}},
			{Name: "data", Tools: []string{
				"read_file", "list_directory", "ask_user", "calculator", "python_repl",
				"load_dataset", "list_datasets", "remove_dataset", "clear_datasets",
				"dataset_head", "dataset_tail", "dataset_sample", "dataset_info", "dataset_describe",
				"dataset_value_counts", "dataset_select_columns", "dataset_filter", "dataset_sort",
				"dataset_groupby_agg", "export_dataset",
			}},
		},
	}
}

// LoadConfig loads configuration from the user's home directory and the current
// working directory, with the latter taking precedence. Environment variables
// LLM_PROVIDER, LLM_MODEL and TANDEM_LOG_LEVEL override both files.
func LoadConfig() (*Config, error) {
	cfg := Defaults()

	home, err := os.UserHomeDir()
	if err == nil {
		userConfigPath := filepath.Join(home, DirName, "config.yaml")
		if _, err := os.Stat(userConfigPath); err == nil {
			if err := loadFromFile(userConfigPath, cfg); err != nil {
				return nil, errors.Wrapf(err, "error loading user config")
			}
		}
	}

	wd, err := os.Getwd()
	if err != nil {
		return nil, errors.Wrapf(err, "could not get working directory")
	}
	projectConfigPath := filepath.Join(wd, DirName, "config.yaml")
	if _, err := os.Stat(projectConfigPath); err == nil {
		if err := loadFromFile(projectConfigPath, cfg); err != nil {
			return nil, errors.Wrapf(err, "error loading project config")
		}
	}

	cfg.applyEnv()
	return cfg, nil
}

// Parse decodes YAML on top of the defaults.
func Parse(data []byte) (*Config, error) {
	cfg := Defaults()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, errors.Wrapf(err, "invalid config")
	}
	return cfg, nil
}

func loadFromFile(path string, cfg *Config) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	// Fields present in the YAML replace earlier values; project config
	// therefore overrides user config key by key.
	return yaml.Unmarshal(data, cfg)
}

func (c *Config) applyEnv() {
	if v := os.Getenv("LLM_PROVIDER"); v != "" {
		c.LLMClient = v
	}
	if v := os.Getenv("LLM_MODEL"); v != "" {
		c.Model = v
	}
	if v := os.Getenv("TANDEM_LOG_LEVEL"); v != "" {
		c.LogLevel = v
	}
	if v := os.Getenv("TAVILY_API_KEY"); v != "" {
		c.TavilyAPIKey = v
	}
}

// GetToolset finds a toolset by name. Returns the "default" toolset if the
// named one is not found or if an empty name is provided.
func (c *Config) GetToolset(name string) (*Toolset, error) {
	if name == "" {
		name = "default"
	}
	for i := range c.Toolsets {
		if c.Toolsets[i].Name == name {
			return &c.Toolsets[i], nil
		}
	}
	if name == "default" {
		return nil, errors.New("mandatory 'default' toolset not found in configuration")
	}
	return c.GetToolset("default")
}

// GetWorker returns the worker definition with the given name.
func (c *Config) GetWorker(name string) (*Worker, bool) {
	for i := range c.Workers {
		if c.Workers[i].Name == name {
			return &c.Workers[i], true
		}
	}
	return nil, false
}
