package config

import (
	"fmt"
	"os"
	"strings"

	"github.com/BurntSushi/toml"
)

// Config represents the main application configuration structure
// containing all configuration sections
type Config struct {
	Server        ServerConfig        `toml:"server"`        // HTTP server settings
	Logging       LoggingConfig       `toml:"logging"`       // Application logging settings
	Storage       StorageConfig       `toml:"storage"`       // Caption persistence settings
	Twilio        TwilioConfig        `toml:"twilio"`        // Telephony provider settings
	Transcription TranscriptionConfig `toml:"transcription"` // Live transcription settings
	Translation   TranslationConfig   `toml:"translation"`   // Caption translation settings
	Events        EventsConfig        `toml:"events"`        // Kafka caption-event publishing
	Metrics       MetricsConfig       `toml:"metrics"`       // Prometheus metrics settings
}

// ServerConfig contains HTTP server configuration settings
type ServerConfig struct {
	Port               int      `toml:"port"`                  // Primary HTTP port for the server
	Host               string   `toml:"host"`                  // Host address to bind to (e.g., 127.0.0.1 for localhost only, 0.0.0.0 for all interfaces)
	CORSAllowedOrigins []string `toml:"cors_allowed_origins"`  // List of origins allowed for CORS requests (use ["*"] for all origins)
	ReadTimeoutSecs    int      `toml:"read_timeout_seconds"`  // Maximum duration for reading the entire request (0 = no timeout)
	WriteTimeoutSecs   int      `toml:"write_timeout_seconds"` // Maximum duration for writing the response (0 = no timeout, recommended for streaming)
	IdleTimeoutSecs    int      `toml:"idle_timeout_seconds"`  // Maximum duration to wait for the next request when keep-alives are enabled
	AdditionalPorts    []int    `toml:"additional_ports"`      // Additional HTTP ports to listen on (useful for multiple interfaces)
	PublicBaseURL      string   `toml:"public_base_url"`       // Externally reachable base URL (e.g., the ngrok tunnel) used in status callbacks and signature validation
}

// LoggingConfig contains application logging configuration
type LoggingConfig struct {
	Level  string `toml:"level"`  // Log level: "debug", "info", "warn", or "error"
	Format string `toml:"format"` // Log format: "json" (structured) or "console" (human-readable)
}

// StorageConfig contains caption persistence configuration
type StorageConfig struct {
	Type           string `toml:"type"`             // Storage backend type (currently only "sqlite" is supported)
	SQLiteBasePath string `toml:"sqlite_base_path"` // Base path for SQLite database files (filename is generated as caption-relay-YYYY-MM-DD.db)
}

// TwilioConfig contains telephony provider settings
type TwilioConfig struct {
	AccountSID         string `toml:"account_sid"`         // Twilio account SID
	AuthToken          string `toml:"auth_token"`          // Twilio auth token (also signs status callbacks)
	APIBaseURL         string `toml:"api_base_url"`        // Optional REST API base override, defaults to https://api.twilio.com/2010-04-01
	CallerID           string `toml:"caller_id"`           // Caller id used when dialing phone numbers
	ValidateSignatures bool   `toml:"validate_signatures"` // Verify X-Twilio-Signature on TwiML requests
	TimeoutSeconds     int    `toml:"timeout_seconds"`     // HTTP timeout for REST API requests
}

// TranscriptionConfig contains live transcription settings
type TranscriptionConfig struct {
	LanguageCode string `toml:"language_code"` // Language passed to the provider's transcription start (e.g., "en-US")
	TTSVoice     string `toml:"tts_voice"`     // Voice used for text-to-speech injection (e.g., "alice")
}

// TranslationConfig contains settings for server-side caption translation
type TranslationConfig struct {
	Enabled        bool   `toml:"enabled"`         // Enable translation of final captions
	APIKey         string `toml:"api_key"`         // Gemini API key
	Model          string `toml:"model"`           // Gemini model (e.g., "gemini-2.0-flash")
	TargetLanguage string `toml:"target_language"` // BCP-47 tag captions are translated into (e.g., "hi-IN")
	TimeoutSeconds int    `toml:"timeout_seconds"` // Per-request timeout
}

// EventsConfig contains settings for publishing caption events to Kafka
type EventsConfig struct {
	Enabled bool     `toml:"enabled"` // Enable caption-event publishing
	Brokers []string `toml:"brokers"` // Kafka broker addresses
	Topic   string   `toml:"topic"`   // Topic final captions are published to
}

// MetricsConfig contains Prometheus metrics settings
type MetricsConfig struct {
	Enabled bool   `toml:"enabled"` // Expose Prometheus metrics
	Path    string `toml:"path"`    // Metrics endpoint path (default /metrics)
}

// Load loads the configuration from the specified file path
func Load(path string) (*Config, error) {
	var config Config

	if _, err := os.Stat(path); os.IsNotExist(err) {
		return nil, fmt.Errorf("config file not found: %s", path)
	}

	if _, err := toml.DecodeFile(path, &config); err != nil {
		return nil, fmt.Errorf("failed to decode config file: %w", err)
	}

	return &config, nil
}

// LoadWithFallback loads the configuration by checking multiple locations in order of preference
func LoadWithFallback(preferredPath string) (*Config, error) {
	searchPaths := []string{
		preferredPath,         // User-specified path (if provided)
		"configs/config.toml", // configs/ folder
		"config.toml",         // Root directory
	}

	uniquePaths := make([]string, 0, len(searchPaths))
	seen := make(map[string]bool)
	for _, path := range searchPaths {
		if path != "" && !seen[path] {
			uniquePaths = append(uniquePaths, path)
			seen[path] = true
		}
	}

	var lastErr error
	for _, path := range uniquePaths {
		if _, err := os.Stat(path); err == nil {
			config, err := Load(path)
			if err != nil {
				lastErr = fmt.Errorf("failed to load config from %s: %w", path, err)
				continue
			}
			return config, nil
		}
		lastErr = fmt.Errorf("config file not found: %s", path)
	}

	return nil, fmt.Errorf("config file not found in any of the expected locations: %v. Last error: %w", uniquePaths, lastErr)
}

// Validate validates the configuration and applies defaults
func (c *Config) Validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid server port: %d", c.Server.Port)
	}
	portsSeen := make(map[int]bool)
	portsSeen[c.Server.Port] = true
	for _, p := range c.Server.AdditionalPorts {
		if p <= 0 || p > 65535 {
			return fmt.Errorf("invalid additional server port: %d", p)
		}
		if portsSeen[p] {
			return fmt.Errorf("duplicate port configured: %d (primary or additional)", p)
		}
		portsSeen[p] = true
	}

	if c.Server.PublicBaseURL != "" {
		c.Server.PublicBaseURL = strings.TrimRight(c.Server.PublicBaseURL, "/")
	}

	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}

	if c.Storage.Type == "" {
		c.Storage.Type = "sqlite"
	}
	if c.Storage.Type != "sqlite" {
		return fmt.Errorf("unsupported storage type: %s", c.Storage.Type)
	}
	if c.Storage.SQLiteBasePath == "" {
		c.Storage.SQLiteBasePath = "data"
	}

	if c.Twilio.APIBaseURL == "" {
		c.Twilio.APIBaseURL = "https://api.twilio.com/2010-04-01"
	}
	c.Twilio.APIBaseURL = strings.TrimRight(c.Twilio.APIBaseURL, "/")
	if c.Twilio.TimeoutSeconds <= 0 {
		c.Twilio.TimeoutSeconds = 30
	}
	if c.Twilio.ValidateSignatures && c.Twilio.AuthToken == "" {
		return fmt.Errorf("twilio auth_token is required when validate_signatures is enabled")
	}

	if c.Transcription.LanguageCode == "" {
		c.Transcription.LanguageCode = "en-US"
	}
	if c.Transcription.TTSVoice == "" {
		c.Transcription.TTSVoice = "alice"
	}

	if c.Translation.Enabled {
		if c.Translation.APIKey == "" {
			return fmt.Errorf("translation api_key is required when translation is enabled")
		}
		if c.Translation.Model == "" {
			c.Translation.Model = "gemini-2.0-flash"
		}
		if c.Translation.TargetLanguage == "" {
			return fmt.Errorf("translation target_language is required when translation is enabled")
		}
		if c.Translation.TimeoutSeconds <= 0 {
			c.Translation.TimeoutSeconds = 15
		}
	}

	if c.Events.Enabled {
		if len(c.Events.Brokers) == 0 {
			return fmt.Errorf("events brokers are required when event publishing is enabled")
		}
		if c.Events.Topic == "" {
			c.Events.Topic = "captions.final"
		}
	}

	if c.Metrics.Enabled && c.Metrics.Path == "" {
		c.Metrics.Path = "/metrics"
	}

	return nil
}

// StatusCallbackURL returns the absolute URL the provider posts transcription
// results to, or the bare path when no public base URL is configured.
func (c *Config) StatusCallbackURL() string {
	if c.Server.PublicBaseURL == "" {
		return "/transcription"
	}
	return c.Server.PublicBaseURL + "/transcription"
}
