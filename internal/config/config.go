package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/audiolibrelab/mixcapture/internal/audio"
	"github.com/audiolibrelab/mixcapture/internal/encoder"
	"github.com/spf13/viper"
)

// RootConfig is the file layout: global sections plus named profiles
type RootConfig struct {
	ActiveProfile string              `mapstructure:"active_profile" yaml:"active_profile"`
	Audio         *AudioConfig        `mapstructure:"audio,omitempty" yaml:"audio,omitempty"`
	Monitor       *MonitorConfig      `mapstructure:"monitor,omitempty" yaml:"monitor,omitempty"`
	Output        *OutputConfig       `mapstructure:"output,omitempty" yaml:"output,omitempty"`
	Server        *ServerConfig       `mapstructure:"server,omitempty" yaml:"server,omitempty"`
	Profiles      map[string]*Profile `mapstructure:"profiles" yaml:"profiles"`
}

// Profile selects what to capture and how loud
type Profile struct {
	Capture CaptureConfig `mapstructure:"capture" yaml:"capture"`
	Gains   GainConfig    `mapstructure:"gains" yaml:"gains"`
	Output  OutputConfig  `mapstructure:"output" yaml:"output"`
}

// Config is the resolved configuration used by the application
type Config struct {
	Audio   AudioConfig   `mapstructure:"audio" yaml:"audio"`
	Capture CaptureConfig `mapstructure:"capture" yaml:"capture"`
	Gains   GainConfig    `mapstructure:"gains" yaml:"gains"`
	Monitor MonitorConfig `mapstructure:"monitor" yaml:"monitor"`
	Output  OutputConfig  `mapstructure:"output" yaml:"output"`
	Server  ServerConfig  `mapstructure:"server" yaml:"server"`

	// Name of the profile the config was resolved from
	Profile string `mapstructure:"-" yaml:"profile,omitempty"`
}

type AudioConfig struct {
	Backend    string `mapstructure:"backend" yaml:"backend"` // "auto", "malgo", "pipewire"
	SampleRate int    `mapstructure:"sample_rate" yaml:"sample_rate"`
	Channels   int    `mapstructure:"channels" yaml:"channels"`
	BitDepth   int    `mapstructure:"bit_depth" yaml:"bit_depth"`
	Format     string `mapstructure:"format" yaml:"format"`
}

type CaptureConfig struct {
	Source     string `mapstructure:"source" yaml:"source"`         // "microphone", "system", "both"
	Microphone string `mapstructure:"microphone" yaml:"microphone"` // device id or name, empty for default
	System     string `mapstructure:"system" yaml:"system"`         // desktop source id
}

// GainConfig holds per-input gains. Nil means unity.
type GainConfig struct {
	Microphone *float64 `mapstructure:"microphone,omitempty" yaml:"microphone,omitempty"`
	System     *float64 `mapstructure:"system,omitempty" yaml:"system,omitempty"`
}

type MonitorConfig struct {
	FPS int `mapstructure:"fps" yaml:"fps"`
}

type OutputConfig struct {
	Directory string `mapstructure:"directory" yaml:"directory"`
}

type ServerConfig struct {
	Port string `mapstructure:"port" yaml:"port"`
}

// Default returns the built-in configuration
func Default() *Config {
	return &Config{
		Audio: AudioConfig{
			Backend:    "auto",
			SampleRate: 44100,
			Channels:   2,
			BitDepth:   16,
			Format:     "wav",
		},
		Capture: CaptureConfig{
			Source: string(audio.SourceMicrophone),
		},
		Monitor: MonitorConfig{FPS: 60},
		Output: OutputConfig{
			Directory: filepath.Join(os.Getenv("HOME"), "Audio", "MixCapture"),
		},
		Server:  ServerConfig{Port: "8080"},
		Profile: "default",
	}
}

// DefaultPath is where the config file is looked up when none is given
func DefaultPath() string {
	return os.ExpandEnv("$HOME/.config/mixcapture.yaml")
}

// LoadWithProfile reads configFile and resolves a profile on top of the
// defaults. An empty profile selects active_profile, then "default".
// A missing file yields the defaults unless a profile was requested.
func LoadWithProfile(configFile, profile string) (*Config, error) {
	if configFile == "" {
		configFile = DefaultPath()
	}

	if _, err := os.Stat(configFile); errors.Is(err, os.ErrNotExist) {
		if profile != "" && profile != "default" {
			return nil, fmt.Errorf("configuration profile '%s' requested but %s does not exist", profile, configFile)
		}
		slog.Debug("No config file, using defaults", "path", configFile)
		cfg := Default()
		cfg.Output.Directory = expandPath(cfg.Output.Directory)
		return cfg, nil
	}

	root, err := ReadRootConfig(configFile)
	if err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	name := profile
	if name == "" {
		name = root.ActiveProfile
	}
	if name == "" {
		name = "default"
	}

	selected, exists := root.Profiles[name]
	if !exists && name != "default" {
		return nil, fmt.Errorf("configuration profile '%s' not found", name)
	}

	cfg := Default()
	applyGlobals(cfg, root)

	// Named profiles inherit from the default profile
	if name != "default" {
		if base, ok := root.Profiles["default"]; ok {
			cfg = mergeProfile(cfg, base)
		}
	}
	if selected != nil {
		cfg = mergeProfile(cfg, selected)
	}
	cfg.Profile = name
	cfg.Output.Directory = expandPath(cfg.Output.Directory)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return cfg, nil
}

// ReadRootConfig parses the file without resolving a profile
func ReadRootConfig(configFile string) (*RootConfig, error) {
	v := viper.New()
	v.SetConfigFile(configFile)
	v.SetEnvPrefix("MIXCAPTURE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("error reading config file %s: %w", configFile, err)
	}

	var root RootConfig
	if err := v.Unmarshal(&root); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}

	for name, p := range root.Profiles {
		if p == nil {
			continue
		}
		if err := validateCapture(p.Capture); err != nil {
			return nil, fmt.Errorf("invalid profile '%s': %w", name, err)
		}
	}

	return &root, nil
}

// UpdateActiveProfile rewrites active_profile in the config file
func UpdateActiveProfile(configFile, name string) error {
	if configFile == "" {
		return fmt.Errorf("no config file specified")
	}

	root, err := ReadRootConfig(configFile)
	if err != nil {
		return err
	}
	if _, ok := root.Profiles[name]; !ok && name != "default" {
		return fmt.Errorf("configuration profile '%s' not found", name)
	}

	// Separate viper instance so the active config is left untouched
	v := viper.New()
	v.SetConfigFile(configFile)
	if err := v.ReadInConfig(); err != nil {
		return fmt.Errorf("error reading config file %s: %w", configFile, err)
	}
	v.Set("active_profile", name)
	if err := v.WriteConfig(); err != nil {
		return fmt.Errorf("error writing config file %s: %w", configFile, err)
	}

	return nil
}

// EncoderFormat returns the output format for recordings
func (c *Config) EncoderFormat() encoder.Format {
	return encoder.Format{
		SampleRate: c.Audio.SampleRate,
		Channels:   c.Audio.Channels,
		BitDepth:   c.Audio.BitDepth,
	}
}

// CaptureSource returns the parsed capture selection
func (c *Config) CaptureSource() (audio.Source, error) {
	return audio.ParseSource(c.Capture.Source)
}

// GainValue resolves an optional gain, nil meaning unity
func GainValue(g *float64) float64 {
	if g == nil {
		return 1
	}
	return *g
}

// Validate checks every section and returns the first problem found
func (c *Config) Validate() error {
	switch strings.ToLower(c.Audio.Backend) {
	case "", "auto", "malgo", "pipewire":
	default:
		return fmt.Errorf("audio backend must be 'auto', 'malgo' or 'pipewire', got: %s", c.Audio.Backend)
	}
	if !strings.EqualFold(c.Audio.Format, "wav") {
		return fmt.Errorf("audio format must be 'wav', got: %s", c.Audio.Format)
	}
	if err := c.EncoderFormat().Validate(); err != nil {
		return fmt.Errorf("audio: %w", err)
	}

	if err := validateCapture(c.Capture); err != nil {
		return err
	}

	for name, g := range map[string]*float64{"microphone": c.Gains.Microphone, "system": c.Gains.System} {
		if g != nil && (*g < 0 || *g > 10) {
			return fmt.Errorf("gains.%s must be between 0 and 10, got: %.2f", name, *g)
		}
	}

	if c.Monitor.FPS < 1 || c.Monitor.FPS > 240 {
		return fmt.Errorf("monitor fps must be between 1 and 240, got: %d", c.Monitor.FPS)
	}

	if c.Output.Directory == "" {
		return fmt.Errorf("output directory must be set")
	}

	if port, err := strconv.Atoi(c.Server.Port); err != nil || port < 1 || port > 65535 {
		return fmt.Errorf("server port must be a number between 1 and 65535, got: %s", c.Server.Port)
	}

	return nil
}

func validateCapture(c CaptureConfig) error {
	if c.Source == "" {
		return nil
	}
	if _, err := audio.ParseSource(c.Source); err != nil {
		return fmt.Errorf("capture: %w", err)
	}
	return nil
}

// applyGlobals copies the non-zero global sections over the defaults
func applyGlobals(cfg *Config, root *RootConfig) {
	if a := root.Audio; a != nil {
		if a.Backend != "" {
			cfg.Audio.Backend = a.Backend
		}
		if a.SampleRate != 0 {
			cfg.Audio.SampleRate = a.SampleRate
		}
		if a.Channels != 0 {
			cfg.Audio.Channels = a.Channels
		}
		if a.BitDepth != 0 {
			cfg.Audio.BitDepth = a.BitDepth
		}
		if a.Format != "" {
			cfg.Audio.Format = a.Format
		}
	}
	if root.Monitor != nil && root.Monitor.FPS != 0 {
		cfg.Monitor.FPS = root.Monitor.FPS
	}
	if root.Output != nil && root.Output.Directory != "" {
		cfg.Output.Directory = root.Output.Directory
	}
	if root.Server != nil && root.Server.Port != "" {
		cfg.Server.Port = root.Server.Port
	}
}

// mergeProfile overlays the set fields of a profile onto base
func mergeProfile(base *Config, p *Profile) *Config {
	result := *base

	if p.Capture.Source != "" {
		result.Capture.Source = p.Capture.Source
	}
	if p.Capture.Microphone != "" {
		result.Capture.Microphone = p.Capture.Microphone
	}
	if p.Capture.System != "" {
		result.Capture.System = p.Capture.System
	}

	// Explicit zero gains are kept
	if p.Gains.Microphone != nil {
		v := *p.Gains.Microphone
		result.Gains.Microphone = &v
	}
	if p.Gains.System != nil {
		v := *p.Gains.System
		result.Gains.System = &v
	}

	if p.Output.Directory != "" {
		result.Output.Directory = p.Output.Directory
	}

	return &result
}

func expandPath(path string) string {
	if strings.HasPrefix(path, "~/") {
		homeDir, _ := os.UserHomeDir()
		return filepath.Join(homeDir, path[2:])
	}
	return path
}
