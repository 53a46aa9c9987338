// Package config holds the session settings: timing windows, channel
// capacities, send behavior, and the optional prompt override. Settings are
// resolved once at startup (file, then flags) and immutable afterwards.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"

	"gopkg.in/yaml.v3"
)

// Defaults and floors for the timing windows. The floors keep a typo like
// `auto_voice_idle_ms: 12` from arming capture while the child is mid-write.
const (
	DefaultAutoVoiceIdleMs  = 1200
	MinAutoVoiceIdleMs      = 100
	DefaultTranscriptIdleMs = 250
	MinTranscriptIdleMs     = 50

	DefaultQueueCapacity = 5
	DefaultWriterChannel = 512
	DefaultInputChannel  = 256
	DefaultPtyChannel    = 100
	DefaultTerm          = "xterm-256color"
	DefaultSendMode      = "auto"
)

// Config is the full settings surface. Yaml keys match the config file;
// every field has a flag mirror on the run command.
type Config struct {
	AutoVoiceIdleMs  int    `yaml:"auto_voice_idle_ms"`
	TranscriptIdleMs int    `yaml:"transcript_idle_ms"`
	QueueCapacity    int    `yaml:"queue_capacity"`
	WriterChannel    int    `yaml:"writer_channel_capacity"`
	InputChannel     int    `yaml:"input_channel_capacity"`
	PtyChannel       int    `yaml:"pty_channel_capacity"`
	PromptRegex      string `yaml:"prompt_regex"`
	SendMode         string `yaml:"send_mode"`
	AutoVoice        bool   `yaml:"auto_voice"`
	Term             string `yaml:"term"`
	LogPath          string `yaml:"log_path"`
	LogTranscripts   bool   `yaml:"log_transcripts"`

	// External voice pipeline. Both must be set for capture to work; the
	// engine runs without voice otherwise.
	RecordCmd     string `yaml:"record_cmd"`
	TranscribeCmd string `yaml:"transcribe_cmd"`
}

// Default returns a Config with every field at its default.
func Default() *Config {
	return &Config{
		AutoVoiceIdleMs:  DefaultAutoVoiceIdleMs,
		TranscriptIdleMs: DefaultTranscriptIdleMs,
		QueueCapacity:    DefaultQueueCapacity,
		WriterChannel:    DefaultWriterChannel,
		InputChannel:     DefaultInputChannel,
		PtyChannel:       DefaultPtyChannel,
		SendMode:         DefaultSendMode,
		Term:             DefaultTerm,
	}
}

// DefaultPath returns the per-user config file location.
func DefaultPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(".", ".voxterm.yaml")
	}
	return filepath.Join(home, ".config", "voxterm", "config.yaml")
}

// Load reads the config from the default path.
// If the file does not exist, it returns the defaults with no error.
func Load() (*Config, error) {
	return LoadFrom(DefaultPath())
}

// LoadFrom reads the config from the given path. Missing file means
// defaults; a present file only overrides the keys it sets.
func LoadFrom(path string) (*Config, error) {
	cfg := Default()
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return nil, err
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return cfg, nil
}

// Validate rejects values the session cannot run with. Timing floors clamp
// silently; structural nonsense is an error.
func (c *Config) Validate() error {
	if c.AutoVoiceIdleMs < MinAutoVoiceIdleMs {
		c.AutoVoiceIdleMs = MinAutoVoiceIdleMs
	}
	if c.TranscriptIdleMs < MinTranscriptIdleMs {
		c.TranscriptIdleMs = MinTranscriptIdleMs
	}
	if c.QueueCapacity < 1 {
		return fmt.Errorf("queue_capacity must be at least 1, got %d", c.QueueCapacity)
	}
	if c.WriterChannel < 1 || c.InputChannel < 1 || c.PtyChannel < 1 {
		return fmt.Errorf("channel capacities must be positive")
	}
	switch c.SendMode {
	case "auto", "insert":
	default:
		return fmt.Errorf("send_mode must be auto or insert, got %q", c.SendMode)
	}
	if c.PromptRegex != "" {
		if _, err := regexp.Compile(c.PromptRegex); err != nil {
			return fmt.Errorf("prompt_regex: %w", err)
		}
	}
	if c.Term == "" {
		c.Term = DefaultTerm
	}
	return nil
}

// CompiledPromptRegex returns the override pattern, or nil when learning is
// in effect. Call only after Validate.
func (c *Config) CompiledPromptRegex() *regexp.Regexp {
	if c.PromptRegex == "" {
		return nil
	}
	return regexp.MustCompile(c.PromptRegex)
}
