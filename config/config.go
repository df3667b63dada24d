// Package config holds the session configuration for driving q chat: which
// capabilities are pre-trusted, where the child runs, how chatty its logs
// are, and the timing thresholds the turn engine works with.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/marutaku/qchat-core/paths"
)

// Capability tokens understood by q chat's --trust-tools flag.
const (
	ToolFSRead      = "fs_read"
	ToolFSWrite     = "fs_write"
	ToolExecuteBash = "execute_bash"
)

// ValidLogLevels are the values q chat accepts for Q_LOG_LEVEL.
var ValidLogLevels = []string{"error", "warn", "info", "debug", "trace"}

// Timeouts are the turn engine's timing thresholds. They are
// environment-sensitive heuristics, so they are configuration rather than
// constants; DefaultTimeouts matches observed q chat behavior.
type Timeouts struct {
	// Startup is how long Start waits for the idle prompt before returning
	// whatever banner output accumulated (fail open).
	Startup time.Duration `yaml:"startup"`
	// StartupQuiet is the silence required after the banner prompt before
	// the session is declared ready; the child may still be flushing.
	StartupQuiet time.Duration `yaml:"startup_quiet"`
	// Poll bounds each wait on the raw output queue.
	Poll time.Duration `yaml:"poll"`
	// PromptQuiet is the silence required after an idle prompt is seen
	// before a turn is declared done.
	PromptQuiet time.Duration `yaml:"prompt_quiet"`
	// DoneSilence ends a turn that produced real output but whose prompt
	// was never recognized.
	DoneSilence time.Duration `yaml:"done_silence"`
	// KickSilence is how long a turn may stay completely silent before a
	// single blank line is written to coax the child.
	KickSilence time.Duration `yaml:"kick_silence"`
	// Turn is the hard wall-clock deadline for one turn.
	Turn time.Duration `yaml:"turn"`
}

// DefaultTimeouts returns the standard thresholds.
func DefaultTimeouts() Timeouts {
	return Timeouts{
		Startup:      20 * time.Second,
		StartupQuiet: 700 * time.Millisecond,
		Poll:         time.Second,
		PromptQuiet:  500 * time.Millisecond,
		DoneSilence:  5 * time.Second,
		KickSilence:  3 * time.Second,
		Turn:         60 * time.Second,
	}
}

// Config describes one q chat session. The zero value is not usable;
// construct via Default or ApplyDefaults.
type Config struct {
	// Binary is the resolved path (or PATH-relative name) of the q
	// executable. Resolution is the caller's concern.
	Binary string `yaml:"binary,omitempty"`
	// WorkDir is the child's working directory. Created if missing.
	WorkDir string `yaml:"work_dir,omitempty"`
	// TrustWrite pre-trusts the fs_write capability. fs_read is always
	// trusted and never configurable.
	TrustWrite bool `yaml:"trust_fs_write"`
	// TrustExecute pre-trusts the execute_bash capability.
	TrustExecute bool `yaml:"trust_execute_bash"`
	// LogLevel sets Q_LOG_LEVEL in the child's environment.
	LogLevel string `yaml:"q_log_level,omitempty"`
	// Debug enables the per-session diagnostic transcript.
	Debug bool `yaml:"debug,omitempty"`

	Timeouts Timeouts `yaml:"timeouts,omitempty"`
}

// Default returns a Config with every field at its standard value.
func Default() Config {
	cfg := Config{
		Binary:   "q",
		LogLevel: "info",
		Timeouts: DefaultTimeouts(),
	}
	if dir, err := paths.DefaultWorkDir(); err == nil {
		cfg.WorkDir = dir
	}
	return cfg
}

// ApplyDefaults fills unset fields in place. Zero timeout thresholds fall
// back to their defaults individually, so a caller can override just one.
func (c *Config) ApplyDefaults() {
	if c.Binary == "" {
		c.Binary = "q"
	}
	if c.WorkDir == "" {
		if dir, err := paths.DefaultWorkDir(); err == nil {
			c.WorkDir = dir
		}
	}
	if c.LogLevel == "" {
		c.LogLevel = "info"
	}
	def := DefaultTimeouts()
	if c.Timeouts.Startup <= 0 {
		c.Timeouts.Startup = def.Startup
	}
	if c.Timeouts.StartupQuiet <= 0 {
		c.Timeouts.StartupQuiet = def.StartupQuiet
	}
	if c.Timeouts.Poll <= 0 {
		c.Timeouts.Poll = def.Poll
	}
	if c.Timeouts.PromptQuiet <= 0 {
		c.Timeouts.PromptQuiet = def.PromptQuiet
	}
	if c.Timeouts.DoneSilence <= 0 {
		c.Timeouts.DoneSilence = def.DoneSilence
	}
	if c.Timeouts.KickSilence <= 0 {
		c.Timeouts.KickSilence = def.KickSilence
	}
	if c.Timeouts.Turn <= 0 {
		c.Timeouts.Turn = def.Turn
	}
}

// Validate checks field values after defaults have been applied.
func (c Config) Validate() error {
	if c.Binary == "" {
		return fmt.Errorf("binary must not be empty")
	}
	if c.WorkDir == "" {
		return fmt.Errorf("work_dir must not be empty")
	}
	if !slices.Contains(ValidLogLevels, c.LogLevel) {
		return fmt.Errorf("invalid q_log_level %q (valid: %v)", c.LogLevel, ValidLogLevels)
	}
	return nil
}

// TrustedTools returns the capability names for --trust-tools. fs_read is
// always present.
func (c Config) TrustedTools() []string {
	tools := []string{ToolFSRead}
	if c.TrustWrite {
		tools = append(tools, ToolFSWrite)
	}
	if c.TrustExecute {
		tools = append(tools, ToolExecuteBash)
	}
	return tools
}

// SameIdentity reports whether two configs describe the same session
// identity: trusted capabilities, log verbosity, and working directory. A
// session cannot be reconfigured in place; when the identity differs the
// caller must construct a new session.
func (c Config) SameIdentity(other Config) bool {
	return c.TrustWrite == other.TrustWrite &&
		c.TrustExecute == other.TrustExecute &&
		c.LogLevel == other.LogLevel &&
		c.WorkDir == other.WorkDir
}

// Load reads a Config from a YAML file, applying defaults and validating.
// A missing file yields the default configuration.
func Load(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return Default(), nil
	}
	if err != nil {
		return Config{}, fmt.Errorf("failed to read config: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("failed to parse config: %w", err)
	}
	cfg.ApplyDefaults()
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Save writes the Config as YAML, creating parent directories as needed.
func (c Config) Save(path string) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}
	return os.WriteFile(path, data, 0644)
}
