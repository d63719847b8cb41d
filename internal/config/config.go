package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
)

// EnvPrefix is the prefix for environment overrides (e.g. SHUTTER_LOG_LEVEL).
const EnvPrefix = "SHUTTER_"

// Config holds application configuration.
//
// Every field can be set in baseDir/config.json or through a SHUTTER_*
// environment variable. Environment values win over the file.
type Config struct {
	// SearchEndpoint is the directory search URL; the query is sent as ?q=.
	SearchEndpoint string `json:"search_endpoint,omitempty" env:"SEARCH_ENDPOINT"`

	// SearchTimeoutMS bounds a single directory request.
	SearchTimeoutMS int `json:"search_timeout_ms,omitempty" env:"SEARCH_TIMEOUT_MS"`

	// SearchDebounceMS is the quiet period after the last keystroke before a lookup.
	SearchDebounceMS int `json:"search_debounce_ms,omitempty" env:"SEARCH_DEBOUNCE_MS"`

	// LookupRPS and LookupBurst configure the client-side lookup limiter.
	// A zero LookupRPS disables limiting.
	LookupRPS   float64 `json:"lookup_rps,omitempty" env:"LOOKUP_RPS"`
	LookupBurst int     `json:"lookup_burst,omitempty" env:"LOOKUP_BURST"`

	// SwitchCooldownMS is the window after a facing switch during which
	// further switches are ignored.
	SwitchCooldownMS int `json:"switch_cooldown_ms,omitempty" env:"SWITCH_COOLDOWN_MS"`

	// MuteAudio records video without the microphone track.
	MuteAudio bool `json:"mute_audio,omitempty" env:"MUTE_AUDIO"`

	// VideoCodec is passed to the device when recording.
	VideoCodec string `json:"video_codec,omitempty" env:"VIDEO_CODEC"`

	// MediaDir is where the filesystem device writes captures.
	// Relative paths are resolved against the base directory.
	MediaDir string `json:"media_dir,omitempty" env:"MEDIA_DIR"`

	// CameraPermission is the authorization outcome reported by the
	// filesystem device: granted, denied or restricted.
	CameraPermission string `json:"camera_permission,omitempty" env:"CAMERA_PERMISSION"`

	// LogLevel is one of debug, info, warn, error.
	LogLevel string `json:"log_level,omitempty" env:"LOG_LEVEL"`

	// DBMaxOpenConns limits the maximum number of open database connections.
	// 0 means use sql.DB default (unlimited).
	DBMaxOpenConns int `json:"db_max_open_conns,omitempty" env:"DB_MAX_OPEN_CONNS"`

	// DBMaxIdleConns limits the maximum number of idle database connections.
	DBMaxIdleConns int `json:"db_max_idle_conns,omitempty" env:"DB_MAX_IDLE_CONNS"`

	// DisabledTools is a list of MCP tool names to exclude from registration.
	DisabledTools []string `json:"disabled_tools,omitempty" env:"DISABLED_TOOLS" envSeparator:","`
}

// DefaultConfig returns the default configuration.
func DefaultConfig() *Config {
	return &Config{
		SearchEndpoint:   "https://dummyjson.com/users/search",
		SearchTimeoutMS:  10000,
		SearchDebounceMS: 300,
		LookupRPS:        5,
		LookupBurst:      5,
		SwitchCooldownMS: 350,
		VideoCodec:       "h264",
		MediaDir:         "media",
		CameraPermission: "granted",
		LogLevel:         "info",
	}
}

// Load loads configuration from baseDir/config.json, then applies SHUTTER_*
// environment overrides and validates the result.
// Returns default config if the file doesn't exist.
// The baseDir parameter allows tests to use t.TempDir() instead of ~/.shutter.
func Load(baseDir string) (*Config, error) {
	fileCfg, err := loadFileRaw(filepath.Join(baseDir, "config.json"))
	if err != nil {
		return nil, err
	}

	envCfg, err := loadEnv()
	if err != nil {
		return nil, err
	}

	cfg := Merge(Merge(DefaultConfig(), fileCfg), envCfg)
	if cfg.MediaDir != "" && !filepath.IsAbs(cfg.MediaDir) {
		cfg.MediaDir = filepath.Join(baseDir, cfg.MediaDir)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// loadFileRaw loads configuration from a specific file path.
// Returns zero-valued config if the file doesn't exist (not defaults).
func loadFileRaw(configPath string) (*Config, error) {
	data, err := os.ReadFile(configPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return &Config{}, nil
		}
		return nil, err
	}

	cfg := &Config{}
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse %s: %w", configPath, err)
	}

	return cfg, nil
}

// loadEnv reads SHUTTER_* variables into a zero-valued config.
func loadEnv() (*Config, error) {
	cfg := &Config{}
	if err := env.ParseWithOptions(cfg, env.Options{Prefix: EnvPrefix}); err != nil {
		return nil, fmt.Errorf("parse environment: %w", err)
	}
	return cfg, nil
}

// Validate rejects out-of-range values.
func (c *Config) Validate() error {
	switch strings.ToLower(c.LogLevel) {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("log_level must be one of: debug, info, warn, error (got %q)", c.LogLevel)
	}
	switch c.CameraPermission {
	case "granted", "denied", "restricted":
	default:
		return fmt.Errorf("camera_permission must be one of: granted, denied, restricted (got %q)", c.CameraPermission)
	}
	if strings.TrimSpace(c.SearchEndpoint) == "" {
		return errors.New("search_endpoint must not be empty")
	}
	if c.SearchTimeoutMS < 0 || c.SearchDebounceMS < 0 || c.SwitchCooldownMS < 0 {
		return errors.New("durations must not be negative")
	}
	if c.LookupRPS < 0 {
		return errors.New("lookup_rps must be >= 0")
	}
	if c.LookupBurst < 0 {
		return errors.New("lookup_burst must be >= 0")
	}
	return nil
}

// SearchTimeout returns the per-request directory timeout.
func (c *Config) SearchTimeout() time.Duration {
	return time.Duration(c.SearchTimeoutMS) * time.Millisecond
}

// SearchDebounce returns the debounce window.
func (c *Config) SearchDebounce() time.Duration {
	return time.Duration(c.SearchDebounceMS) * time.Millisecond
}

// SwitchCooldown returns the facing switch cooldown.
func (c *Config) SwitchCooldown() time.Duration {
	return time.Duration(c.SwitchCooldownMS) * time.Millisecond
}

// Merge combines base and overlay configs.
// Overlay values take precedence for scalars; arrays are merged and deduplicated.
func Merge(base, overlay *Config) *Config {
	result := &Config{
		SearchEndpoint:   pickString(overlay.SearchEndpoint, base.SearchEndpoint),
		SearchTimeoutMS:  pickInt(overlay.SearchTimeoutMS, base.SearchTimeoutMS),
		SearchDebounceMS: pickInt(overlay.SearchDebounceMS, base.SearchDebounceMS),
		LookupBurst:      pickInt(overlay.LookupBurst, base.LookupBurst),
		SwitchCooldownMS: pickInt(overlay.SwitchCooldownMS, base.SwitchCooldownMS),
		VideoCodec:       pickString(overlay.VideoCodec, base.VideoCodec),
		MediaDir:         pickString(overlay.MediaDir, base.MediaDir),
		CameraPermission: pickString(overlay.CameraPermission, base.CameraPermission),
		LogLevel:         pickString(overlay.LogLevel, base.LogLevel),
		DBMaxOpenConns:   pickInt(overlay.DBMaxOpenConns, base.DBMaxOpenConns),
		DBMaxIdleConns:   pickInt(overlay.DBMaxIdleConns, base.DBMaxIdleConns),
	}

	result.LookupRPS = overlay.LookupRPS
	if result.LookupRPS == 0 {
		result.LookupRPS = base.LookupRPS
	}

	// Booleans: overlay wins if true, else base
	result.MuteAudio = base.MuteAudio || overlay.MuteAudio

	result.DisabledTools = mergeStringSlice(base.DisabledTools, overlay.DisabledTools)

	return result
}

func pickString(overlay, base string) string {
	if strings.TrimSpace(overlay) != "" {
		return strings.TrimSpace(overlay)
	}
	return base
}

func pickInt(overlay, base int) int {
	if overlay != 0 {
		return overlay
	}
	return base
}

// mergeStringSlice combines two slices, trims whitespace, and removes duplicates.
func mergeStringSlice(a, b []string) []string {
	seen := make(map[string]bool)
	result := make([]string, 0, len(a)+len(b))

	for _, s := range append(append([]string{}, a...), b...) {
		s = strings.TrimSpace(s)
		if s != "" && !seen[s] {
			seen[s] = true
			result = append(result, s)
		}
	}

	if len(result) == 0 {
		return nil
	}
	return result
}
