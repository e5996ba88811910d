package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

const (
	// WorkspaceDirName is the directory name for project-level tourbot config.
	WorkspaceDirName = ".browsertour"
	// WorkspaceConfigFile is the config file name inside the workspace directory.
	WorkspaceConfigFile = "config.yaml"
	// MaxSearchDepth limits how many parent directories to walk when discovering a workspace.
	MaxSearchDepth = 10
)

// WorkspaceOptions controls workspace discovery behavior.
type WorkspaceOptions struct {
	// Disable skips workspace discovery entirely (-no-workspace flag).
	Disable bool
	// ExplicitDir uses this directory as workspace root instead of walking up (-workspace-dir flag).
	ExplicitDir string
}

// Config captures all tunable settings for tourbot.
type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Browser  BrowserConfig  `yaml:"browser"`
	Tour     TourConfig     `yaml:"tour"`
	MCP      MCPConfig      `yaml:"mcp"`
	Mangle   MangleConfig   `yaml:"mangle"`
	Recorder RecorderConfig `yaml:"recorder"`
	Metrics  MetricsConfig  `yaml:"metrics"`
}

type ServerConfig struct {
	Name    string `yaml:"name"`
	Version string `yaml:"version"`
	// LogFile enables JSON logging to a rotating file. Empty logs to stderr only.
	LogFile string `yaml:"log_file"`
	// LogMaxSizeMB is the size at which the log file rotates (default: 10).
	LogMaxSizeMB int `yaml:"log_max_size_mb"`
}

// BrowserConfig configures how we attach to or launch Chrome for Rod.
type BrowserConfig struct {
	// Control endpoint for Rod (e.g., ws://localhost:9222). Takes precedence over launch.
	DebuggerURL string `yaml:"debugger_url"`
	// Optional launch command (e.g., ["chrome", "--disable-gpu"]). Empty lets Rod find or download a browser.
	Launch []string `yaml:"launch"`
	// Headless controls whether Chrome runs in headless mode (default: true).
	Headless *bool `yaml:"headless"`
	// Default navigation timeout (e.g., "15s").
	DefaultNavigationTimeout string `yaml:"default_navigation_timeout"`
	// SlowMotion delays every input action (e.g., "250ms"). Empty disables it.
	SlowMotion string `yaml:"slow_motion"`
	// UserAgent overrides the browser user agent.
	UserAgent string `yaml:"user_agent"`
	// IgnoreCertErrors accepts self-signed and otherwise invalid certificates.
	IgnoreCertErrors bool `yaml:"ignore_cert_errors"`
	// Viewport width for the tour page (default: 1920).
	ViewportWidth int `yaml:"viewport_width"`
	// Viewport height for the tour page (default: 1080).
	ViewportHeight int `yaml:"viewport_height"`
}

// TourConfig controls how a tour is run.
type TourConfig struct {
	// SettleDelay is the pause after every batch before reactive matching (default: 750ms).
	SettleDelay string `yaml:"settle_delay"`
	// CloseDelay keeps the browser open after the run (e.g., "5s").
	CloseDelay string `yaml:"close_delay"`
	// StopOnError aborts the run on the first dispatch failure.
	StopOnError bool `yaml:"stop_on_error"`
	Debug       bool `yaml:"debug"`
	// Output is the result file. Empty writes the result to stdout.
	Output string `yaml:"output"`
	// Deny removes commands from the default allow list.
	Deny []string `yaml:"deny"`
}

type MCPConfig struct {
	// When set, starts an SSE server on this port instead of stdio-only.
	SSEPort int `yaml:"sse_port"`
}

// MangleConfig controls the run journal.
type MangleConfig struct {
	Enable bool `yaml:"enable"`
	// SchemaPath replaces the embedded journal schema when set.
	SchemaPath      string `yaml:"schema_path"`
	FactBufferLimit int    `yaml:"fact_buffer_limit"`
}

// RecorderConfig controls the JSONL run trace.
type RecorderConfig struct {
	Enable bool   `yaml:"enable"`
	Dir    string `yaml:"dir"`
	// MaxFiles is how many trace files are kept (default: 3).
	MaxFiles int `yaml:"max_files"`
}

// MetricsConfig controls the Prometheus collectors.
type MetricsConfig struct {
	Enable    bool   `yaml:"enable"`
	Namespace string `yaml:"namespace"`
}

// DefaultConfig provides reasonable defaults for local development.
func DefaultConfig() Config {
	return Config{
		Server: ServerConfig{
			Name:         "tourbot",
			Version:      "0.3.0",
			LogMaxSizeMB: 10,
		},
		Browser: BrowserConfig{
			DefaultNavigationTimeout: "15s",
			ViewportWidth:            1920,
			ViewportHeight:           1080,
		},
		Tour: TourConfig{
			SettleDelay: "750ms",
		},
		MCP: MCPConfig{
			SSEPort: 0,
		},
		Mangle: MangleConfig{
			Enable:          true,
			FactBufferLimit: 4096,
		},
		Recorder: RecorderConfig{
			Enable:   false,
			Dir:      "data/traces",
			MaxFiles: 3,
		},
		Metrics: MetricsConfig{
			Enable:    true,
			Namespace: "tourbot",
		},
	}
}

// Load reads YAML config from disk and overlays defaults.
func Load(path string) (Config, error) {
	cfg := DefaultConfig()

	if path == "" {
		return cfg, errors.New("config path is required")
	}

	raw, err := os.ReadFile(path)
	if err != nil {
		return cfg, err
	}

	if err := yaml.Unmarshal(raw, &cfg); err != nil {
		return cfg, err
	}

	return cfg, cfg.Validate()
}

// DiscoverWorkspace walks up from startDir looking for a .browsertour/config.yaml file.
// Returns the workspace root directory (parent of .browsertour/) or empty string if not found.
func DiscoverWorkspace(startDir string) (string, error) {
	dir, err := filepath.Abs(startDir)
	if err != nil {
		return "", fmt.Errorf("resolving start directory: %w", err)
	}

	for i := 0; i < MaxSearchDepth; i++ {
		candidate := filepath.Join(dir, WorkspaceDirName, WorkspaceConfigFile)
		if _, err := os.Stat(candidate); err == nil {
			return dir, nil
		}

		parent := filepath.Dir(dir)
		if parent == dir {
			break
		}
		dir = parent
	}

	return "", nil
}

// LoadWithWorkspace implements multi-layer config merge:
//
//	DefaultConfig() <- .browsertour/config.yaml <- explicit -config <- CLI flags
//
// Returns the merged config and the workspace directory (empty if none found).
func LoadWithWorkspace(explicitConfig string, opts WorkspaceOptions) (Config, string, error) {
	cfg := DefaultConfig()
	wsDir := ""

	if !opts.Disable {
		var err error
		if opts.ExplicitDir != "" {
			candidate := filepath.Join(opts.ExplicitDir, WorkspaceDirName, WorkspaceConfigFile)
			if _, statErr := os.Stat(candidate); statErr == nil {
				wsDir = opts.ExplicitDir
			}
		} else {
			cwd, cwdErr := os.Getwd()
			if cwdErr != nil {
				return cfg, "", fmt.Errorf("getting working directory: %w", cwdErr)
			}
			wsDir, err = DiscoverWorkspace(cwd)
			if err != nil {
				return cfg, "", fmt.Errorf("discovering workspace: %w", err)
			}
		}

		if wsDir != "" {
			wsConfigPath := filepath.Join(wsDir, WorkspaceDirName, WorkspaceConfigFile)
			raw, err := os.ReadFile(wsConfigPath)
			if err != nil {
				return cfg, "", fmt.Errorf("reading workspace config %s: %w", wsConfigPath, err)
			}
			if err := yaml.Unmarshal(raw, &cfg); err != nil {
				return cfg, "", fmt.Errorf("parsing workspace config %s: %w", wsConfigPath, err)
			}
			cfg = resolveWorkspacePaths(cfg, wsDir)
		}
	}

	if explicitConfig != "" {
		raw, err := os.ReadFile(explicitConfig)
		if err != nil {
			return cfg, wsDir, fmt.Errorf("reading explicit config %s: %w", explicitConfig, err)
		}
		if err := yaml.Unmarshal(raw, &cfg); err != nil {
			return cfg, wsDir, fmt.Errorf("parsing explicit config %s: %w", explicitConfig, err)
		}
	}

	return cfg, wsDir, cfg.Validate()
}

// InitWorkspace creates a .browsertour/ directory with template files at root.
func InitWorkspace(root string) error {
	wsDir := filepath.Join(root, WorkspaceDirName)

	if _, err := os.Stat(wsDir); err == nil {
		return fmt.Errorf("workspace directory already exists: %s", wsDir)
	}

	dirs := []string{
		wsDir,
		filepath.Join(wsDir, "tours"),
		filepath.Join(wsDir, "data"),
	}
	for _, d := range dirs {
		if err := os.MkdirAll(d, 0755); err != nil {
			return fmt.Errorf("creating directory %s: %w", d, err)
		}
	}

	templateConfig := `# tourbot project-level configuration
# Values here override defaults but are overridden by -config and CLI flags.

# tour:
#   settle_delay: "750ms"
#   close_delay: "0s"
#   stop_on_error: false
#   deny:
#     - evaluate

# browser:
#   headless: false
#   viewport_width: 1280
#   viewport_height: 720

# recorder:
#   enable: true
#   dir: "data/traces"
`
	configPath := filepath.Join(wsDir, WorkspaceConfigFile)
	if err := os.WriteFile(configPath, []byte(templateConfig), 0644); err != nil {
		return fmt.Errorf("writing config template: %w", err)
	}

	gitignoreContent := "# Runtime data (logs, traces, results) - do not version control\ndata/\n"
	gitignorePath := filepath.Join(wsDir, ".gitignore")
	if err := os.WriteFile(gitignorePath, []byte(gitignoreContent), 0644); err != nil {
		return fmt.Errorf("writing .gitignore: %w", err)
	}

	return nil
}

// resolveWorkspacePaths resolves relative paths in the config against the workspace directory.
func resolveWorkspacePaths(cfg Config, wsDir string) Config {
	resolve := func(p string) string {
		if p == "" || filepath.IsAbs(p) {
			return p
		}
		return filepath.Join(wsDir, p)
	}

	cfg.Server.LogFile = resolve(cfg.Server.LogFile)
	cfg.Mangle.SchemaPath = resolve(cfg.Mangle.SchemaPath)
	cfg.Recorder.Dir = resolve(cfg.Recorder.Dir)
	cfg.Tour.Output = resolve(cfg.Tour.Output)
	return cfg
}

// Validate ensures required fields exist so a run can start deterministically.
func (c *Config) Validate() error {
	if c.Server.Name == "" {
		return errors.New("server.name is required")
	}
	for _, d := range []struct{ name, raw string }{
		{"browser.default_navigation_timeout", c.Browser.DefaultNavigationTimeout},
		{"browser.slow_motion", c.Browser.SlowMotion},
		{"tour.settle_delay", c.Tour.SettleDelay},
		{"tour.close_delay", c.Tour.CloseDelay},
	} {
		if d.raw == "" {
			continue
		}
		parsed, err := time.ParseDuration(d.raw)
		if err != nil {
			return fmt.Errorf("%s: %w", d.name, err)
		}
		if parsed < 0 {
			return fmt.Errorf("%s must not be negative", d.name)
		}
	}
	if c.Browser.ViewportWidth < 0 || c.Browser.ViewportHeight < 0 {
		return errors.New("browser viewport must not be negative")
	}
	if c.MCP.SSEPort < 0 || c.MCP.SSEPort > 65535 {
		return fmt.Errorf("mcp.sse_port %d out of range", c.MCP.SSEPort)
	}
	if c.Recorder.Enable && c.Recorder.Dir == "" {
		return errors.New("recorder.dir is required when the recorder is enabled")
	}
	if c.Metrics.Enable && c.Metrics.Namespace == "" {
		return errors.New("metrics.namespace is required when metrics are enabled")
	}
	return nil
}

func parseDuration(raw string, fallback time.Duration) time.Duration {
	if raw == "" {
		return fallback
	}
	d, err := time.ParseDuration(raw)
	if err != nil || d < 0 {
		return fallback
	}
	return d
}

// NavigationTimeout returns the parsed navigation timeout with a sane default.
func (b BrowserConfig) NavigationTimeout() time.Duration {
	return parseDuration(b.DefaultNavigationTimeout, 15*time.Second)
}

// SlowMotionDelay returns the per-action delay, zero when unset.
func (b BrowserConfig) SlowMotionDelay() time.Duration {
	return parseDuration(b.SlowMotion, 0)
}

// IsHeadless returns whether Chrome should run in headless mode (default: true).
func (b BrowserConfig) IsHeadless() bool {
	if b.Headless == nil {
		return true
	}
	return *b.Headless
}

// GetViewportWidth returns the viewport width with a sane default.
func (b BrowserConfig) GetViewportWidth() int {
	if b.ViewportWidth <= 0 {
		return 1920
	}
	return b.ViewportWidth
}

// GetViewportHeight returns the viewport height with a sane default.
func (b BrowserConfig) GetViewportHeight() int {
	if b.ViewportHeight <= 0 {
		return 1080
	}
	return b.ViewportHeight
}

// GetSettleDelay returns the post-batch settle delay (default: 750ms).
func (t TourConfig) GetSettleDelay() time.Duration {
	return parseDuration(t.SettleDelay, 750*time.Millisecond)
}

// GetCloseDelay returns how long the browser stays open after a run.
func (t TourConfig) GetCloseDelay() time.Duration {
	return parseDuration(t.CloseDelay, 0)
}

// GetMaxFiles returns the trace retention count (default: 3).
func (r RecorderConfig) GetMaxFiles() int {
	if r.MaxFiles <= 0 {
		return 3
	}
	return r.MaxFiles
}
