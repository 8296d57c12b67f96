package common

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/pelletier/go-toml/v2"
)

type Config struct {
	Collector CollectorConfig `toml:"collector"`
	Storage   StorageConfig   `toml:"storage"`
	Output    OutputConfig    `toml:"output"`
	Logging   LoggingConfig   `toml:"logging"`
}

type CollectorConfig struct {
	Name        string `toml:"name"`
	Environment string `toml:"environment"`
	Port        int    `toml:"port"`
	// PortalConfig is the path to the JSON document describing the portal
	// (login URL, selectors, table navigation steps, browser options).
	PortalConfig string `toml:"portal_config"`
}

type StorageConfig struct {
	DatabasePath string `toml:"database_path"`
	BackupDir    string `toml:"backup_dir"`
}

type OutputConfig struct {
	WorkbookPath string `toml:"workbook_path"`
	TemplatePath string `toml:"template_path"`
}

type LoggingConfig struct {
	Level      string `toml:"level"`
	Format     string `toml:"format"`
	Output     string `toml:"output"`
	MaxSize    int    `toml:"max_size"`
	MaxBackups int    `toml:"max_backups"`
}

func DefaultConfig() *Config {
	execPath, _ := os.Executable()
	execDir := filepath.Dir(execPath)
	execName := filepath.Base(execPath)
	execName = execName[:len(execName)-len(filepath.Ext(execName))]

	return &Config{
		Collector: CollectorConfig{
			Name:         execName,
			Environment:  "development",
			Port:         8080,
			PortalConfig: "config.json",
		},
		Storage: StorageConfig{
			DatabasePath: filepath.Join(execDir, "data", execName+".db"),
			BackupDir:    "./backups",
		},
		Output: OutputConfig{
			WorkbookPath: filepath.Join("output", "Datos Splynx.xlsx"),
			TemplatePath: "",
		},
		Logging: LoggingConfig{
			Level:      "info",
			Format:     "text",
			Output:     "both",
			MaxSize:    100,
			MaxBackups: 3,
		},
	}
}

func LoadConfig(configFile string) (*Config, error) {
	config := DefaultConfig()

	if configFile == "" {
		execPath, _ := os.Executable()
		execDir := filepath.Dir(execPath)
		execName := filepath.Base(execPath)
		execName = execName[:len(execName)-len(filepath.Ext(execName))]

		possiblePaths := []string{
			filepath.Join(execDir, execName+".toml"),
			filepath.Join(execDir, "config.toml"),
			"config.toml",
		}

		for _, path := range possiblePaths {
			if _, err := os.Stat(path); err == nil {
				configFile = path
				break
			}
		}

		if configFile == "" {
			return config, nil
		}
	}

	data, err := os.ReadFile(configFile)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file %s: %w", configFile, err)
	}

	if err := toml.Unmarshal(data, config); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	applyEnvOverrides(config)

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return config, nil
}

func applyEnvOverrides(config *Config) {
	if dbPath := os.Getenv("DATABASE_PATH"); dbPath != "" {
		config.Storage.DatabasePath = dbPath
	}
	if backupDir := os.Getenv("BACKUP_DIR"); backupDir != "" {
		config.Storage.BackupDir = backupDir
	}
	if workbook := os.Getenv("WORKBOOK_PATH"); workbook != "" {
		config.Output.WorkbookPath = workbook
	}
	if portal := os.Getenv("PORTAL_CONFIG"); portal != "" {
		config.Collector.PortalConfig = portal
	}

	if logLevel := os.Getenv("LOG_LEVEL"); logLevel != "" {
		config.Logging.Level = logLevel
	}
	if logFormat := os.Getenv("LOG_FORMAT"); logFormat != "" {
		config.Logging.Format = logFormat
	}
	if logOutput := os.Getenv("LOG_OUTPUT"); logOutput != "" {
		config.Logging.Output = logOutput
	}

	if port := os.Getenv("SERVER_PORT"); port != "" {
		if portNum, err := strconv.Atoi(port); err == nil {
			config.Collector.Port = portNum
		}
	}
}

func (c *Config) Validate() error {
	if c.Storage.DatabasePath == "" {
		return fmt.Errorf("storage database_path is required")
	}

	if c.Output.WorkbookPath == "" {
		return fmt.Errorf("output workbook_path is required")
	}

	if c.Collector.Port <= 0 {
		c.Collector.Port = 8080
	}

	validLogLevels := []string{"debug", "info", "warn", "error", "fatal", "panic"}
	validLevel := false
	for _, level := range validLogLevels {
		if c.Logging.Level == level {
			validLevel = true
			break
		}
	}
	if !validLevel {
		return fmt.Errorf("invalid log level: %s", c.Logging.Level)
	}

	validOutputs := []string{"console", "file", "both"}
	validOutput := false
	for _, output := range validOutputs {
		if c.Logging.Output == output {
			validOutput = true
			break
		}
	}
	if !validOutput {
		return fmt.Errorf("invalid log output: %s", c.Logging.Output)
	}

	return nil
}

func (c *Config) IsProduction() bool {
	return c.Collector.Environment == "production"
}

// PortalConfig describes the target portal: login URL, credential field
// selectors, per-table navigation step lists and browser launch options.
// Consumed as opaque structured input; selectors are strings (or string
// lists) with "||"-separated fallback candidates.
type PortalConfig struct {
	LoginURL  string                 `json:"login_url"`
	Selectors map[string]string      `json:"selectors"`
	Tables    map[string]TableConfig `json:"tables"`
	Browser   BrowserConfig          `json:"browser"`
}

type TableConfig struct {
	Steps    []Step `json:"steps"`
	Selector string `json:"selector"`
}

type BrowserConfig struct {
	Channel  string `json:"channel"`
	Headless bool   `json:"headless"`
}

// Step is one navigation action before extraction. In JSON it is either a
// bare selector string (meaning click) or an object:
//
//	{"action": "fill", "selector": "...", "text": "...", "timeout_ms": 5000}
type Step struct {
	Action    string
	Selectors []string
	Text      string
	Key       string
	TimeoutMS int
}

func (s *Step) UnmarshalJSON(data []byte) error {
	var raw string
	if err := json.Unmarshal(data, &raw); err == nil {
		s.Action = "click"
		s.Selectors = SplitCandidates(raw)
		return nil
	}

	var obj struct {
		Action    string          `json:"action"`
		Selector  json.RawMessage `json:"selector"`
		Text      string          `json:"text"`
		Key       string          `json:"key"`
		TimeoutMS int             `json:"timeout_ms"`
	}
	if err := json.Unmarshal(data, &obj); err != nil {
		return fmt.Errorf("invalid step: %w", err)
	}

	s.Action = strings.ToLower(strings.TrimSpace(obj.Action))
	if s.Action == "" {
		s.Action = "click"
	}
	s.Text = obj.Text
	s.Key = obj.Key
	if s.Key == "" {
		s.Key = "Enter"
	}
	s.TimeoutMS = obj.TimeoutMS

	if len(obj.Selector) > 0 {
		var sel string
		if err := json.Unmarshal(obj.Selector, &sel); err == nil {
			s.Selectors = SplitCandidates(sel)
		} else {
			var sels []string
			if err := json.Unmarshal(obj.Selector, &sels); err != nil {
				return fmt.Errorf("step selector must be a string or string list: %w", err)
			}
			for _, one := range sels {
				s.Selectors = append(s.Selectors, SplitCandidates(one)...)
			}
		}
	}
	return nil
}

// ClickStep builds a click step from a "||"-separated candidate string.
func ClickStep(selector string) Step {
	return Step{Action: "click", Selectors: SplitCandidates(selector)}
}

// FillStep builds a fill step from a "||"-separated candidate string.
func FillStep(selector, text string) Step {
	return Step{Action: "fill", Selectors: SplitCandidates(selector), Text: text}
}

// SplitCandidates splits a selector string on "||" into trimmed, non-empty
// fallback candidates.
func SplitCandidates(selector string) []string {
	var out []string
	for _, part := range strings.Split(selector, "||") {
		if trimmed := strings.TrimSpace(part); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}

// RenderText expands the date macros the portal config may embed in fill
// steps: {today:%d/%m/%Y} and {month_start:%d/%m/%Y}.
func RenderText(text string, now time.Time) string {
	monthStart := time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, now.Location())
	rendered := strings.ReplaceAll(text, "{today:%d/%m/%Y}", now.Format("02/01/2006"))
	rendered = strings.ReplaceAll(rendered, "{month_start:%d/%m/%Y}", monthStart.Format("02/01/2006"))
	return rendered
}

func LoadPortalConfig(path string) (*PortalConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read portal config %s: %w", path, err)
	}

	cfg := &PortalConfig{}
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse portal config: %w", err)
	}

	if cfg.LoginURL == "" {
		return nil, fmt.Errorf("portal config: login_url is required")
	}
	if cfg.Browser.Channel == "" {
		cfg.Browser.Channel = "msedge"
	}
	if cfg.Selectors == nil {
		cfg.Selectors = map[string]string{}
	}
	if cfg.Tables == nil {
		cfg.Tables = map[string]TableConfig{}
	}
	return cfg, nil
}
