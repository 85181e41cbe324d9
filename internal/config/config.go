package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
)

// TargetConfig is one delivery format the transcode pipeline produces.
type TargetConfig struct {
	Codec   string `json:"codec"`
	Bitrate string `json:"bitrate"`
}

// Config holds application configuration
type Config struct {
	EnginePath        string         `json:"engine_path"`  // ffmpeg binary name or path
	DataDir           string         `json:"data_dir"`     // artifacts and engine workspace
	AudioDeviceID     int            `json:"audio_device_id"`
	SampleRates       []int          `json:"sample_rates"` // capture preference order
	Targets           []TargetConfig `json:"targets"`
	LibraryURL        string         `json:"library_url"`
	NormalizeFromHost string         `json:"normalize_from_host"`
	NormalizeToHost   string         `json:"normalize_to_host"`
	PreferredVariants []string       `json:"preferred_variants"`
	ServerHost        string         `json:"server_host"`
	ServerPort        int            `json:"server_port"`
	MaxRecordTime     int            `json:"max_record_time"` // seconds
	mu                sync.RWMutex
}

// DefaultConfig returns the default configuration
func DefaultConfig() *Config {
	return &Config{
		EnginePath:        "ffmpeg",
		DataDir:           "", // empty means the platform user-config dir
		AudioDeviceID:     -1, // -1 means use system default device
		SampleRates:       []int{16000, 44100, 48000},
		Targets:           []TargetConfig{{Codec: "aac", Bitrate: "128k"}},
		LibraryURL:        "http://127.0.0.1:18600",
		PreferredVariants: []string{"aac", "opus", "mp3"},
		ServerHost:        "127.0.0.1",
		ServerPort:        18600,
		MaxRecordTime:     300,
	}
}

// Load loads configuration from the specified path
func Load(path string) (*Config, error) {
	// If file doesn't exist, return default config
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return DefaultConfig(), nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	config := DefaultConfig()
	if err := json.Unmarshal(data, config); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	return config, nil
}

// Save saves configuration to the specified path
func (c *Config) Save(path string) error {
	c.mu.RLock()
	defer c.mu.RUnlock()

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}

// GetConfigPath returns the default configuration file path
func GetConfigPath() string {
	dir, err := os.UserConfigDir()
	if err != nil {
		dir = "."
	}
	return filepath.Join(dir, "memovox", "config.json")
}

// ResolveDataDir returns the configured data directory, falling back to the
// platform user-config dir.
func (c *Config) ResolveDataDir() string {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if c.DataDir != "" {
		expanded, err := ExpandPath(c.DataDir)
		if err == nil {
			return expanded
		}
	}

	dir, err := os.UserConfigDir()
	if err != nil {
		dir = "."
	}
	return filepath.Join(dir, "memovox")
}

// ArtifactDir returns the directory for local playable addresses.
func (c *Config) ArtifactDir() string {
	return filepath.Join(c.ResolveDataDir(), "artifacts")
}

// EngineWorkDir returns the codec engine's private workspace.
func (c *Config) EngineWorkDir() string {
	return filepath.Join(c.ResolveDataDir(), "engine")
}

// Update updates configuration fields
func (c *Config) Update(updates map[string]interface{}) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	for key, value := range updates {
		switch key {
		case "engine_path":
			if v, ok := value.(string); ok {
				if v == "" {
					return fmt.Errorf("engine_path cannot be empty")
				}
				c.EnginePath = v
			}
		case "data_dir":
			if v, ok := value.(string); ok {
				c.DataDir = v
			}
		case "audio_device_id":
			if v, ok := value.(float64); ok {
				c.AudioDeviceID = int(v)
			}
		case "library_url":
			if v, ok := value.(string); ok {
				c.LibraryURL = v
			}
		case "normalize_from_host":
			if v, ok := value.(string); ok {
				c.NormalizeFromHost = v
			}
		case "normalize_to_host":
			if v, ok := value.(string); ok {
				c.NormalizeToHost = v
			}
		case "server_host":
			if v, ok := value.(string); ok {
				c.ServerHost = v
			}
		case "server_port":
			if v, ok := value.(float64); ok {
				c.ServerPort = int(v)
			}
		case "max_record_time":
			if v, ok := value.(float64); ok {
				c.MaxRecordTime = int(v)
			}
		case "targets":
			if list, ok := value.([]interface{}); ok {
				var targets []TargetConfig
				for _, item := range list {
					m, ok := item.(map[string]interface{})
					if !ok {
						return fmt.Errorf("invalid target entry: %v", item)
					}
					target := TargetConfig{}
					if codec, ok := m["codec"].(string); ok {
						target.Codec = codec
					}
					if bitrate, ok := m["bitrate"].(string); ok {
						target.Bitrate = bitrate
					}
					if target.Codec == "" {
						return fmt.Errorf("target entry missing codec: %v", item)
					}
					targets = append(targets, target)
				}
				c.Targets = targets
			}
		case "preferred_variants":
			if list, ok := value.([]interface{}); ok {
				var variants []string
				for _, item := range list {
					if v, ok := item.(string); ok {
						variants = append(variants, v)
					}
				}
				c.PreferredVariants = variants
			}
		}
	}

	return nil
}

// Clone creates a deep copy of the configuration
func (c *Config) Clone() *Config {
	c.mu.RLock()
	defer c.mu.RUnlock()

	return &Config{
		EnginePath:        c.EnginePath,
		DataDir:           c.DataDir,
		AudioDeviceID:     c.AudioDeviceID,
		SampleRates:       append([]int(nil), c.SampleRates...),
		Targets:           append([]TargetConfig(nil), c.Targets...),
		LibraryURL:        c.LibraryURL,
		NormalizeFromHost: c.NormalizeFromHost,
		NormalizeToHost:   c.NormalizeToHost,
		PreferredVariants: append([]string(nil), c.PreferredVariants...),
		ServerHost:        c.ServerHost,
		ServerPort:        c.ServerPort,
		MaxRecordTime:     c.MaxRecordTime,
	}
}

// Validate validates all configuration fields
func (c *Config) Validate() error {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if c.EnginePath == "" {
		return fmt.Errorf("engine_path cannot be empty")
	}

	if len(c.Targets) == 0 {
		return fmt.Errorf("at least one transcode target is required")
	}
	for _, target := range c.Targets {
		if target.Codec == "" {
			return fmt.Errorf("transcode target missing codec")
		}
	}

	if len(c.SampleRates) == 0 {
		return fmt.Errorf("at least one capture sample rate is required")
	}
	for _, rate := range c.SampleRates {
		if rate <= 0 {
			return fmt.Errorf("invalid sample rate: %d", rate)
		}
	}

	if c.LibraryURL == "" {
		return fmt.Errorf("library_url cannot be empty")
	}

	if c.ServerPort < 0 || c.ServerPort > 65535 {
		return fmt.Errorf("invalid server_port: %d", c.ServerPort)
	}

	if c.MaxRecordTime <= 0 || c.MaxRecordTime > 3600 {
		return fmt.Errorf("invalid max_record_time: %d (must be between 1 and 3600 seconds)", c.MaxRecordTime)
	}

	return nil
}

// ExpandPath expands ~ to home directory in file paths
func ExpandPath(path string) (string, error) {
	if path == "" {
		return "", nil
	}

	if strings.HasPrefix(path, "~/") {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("failed to get home directory: %w", err)
		}
		return filepath.Join(homeDir, path[2:]), nil
	}

	absPath, err := filepath.Abs(path)
	if err != nil {
		return "", fmt.Errorf("failed to get absolute path: %w", err)
	}

	return absPath, nil
}
