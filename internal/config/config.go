package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"
)

// Config represents the main application configuration structure
// containing all configuration sections
type Config struct {
	Server      ServerConfig      `toml:"server" yaml:"server"`           // HTTP server settings
	Logging     LoggingConfig     `toml:"logging" yaml:"logging"`         // Application logging settings
	Storage     StorageConfig     `toml:"storage" yaml:"storage"`         // Transcript history settings
	Transcriber TranscriberConfig `toml:"transcriber" yaml:"transcriber"` // Default transcription settings
	Engine      EngineConfig      `toml:"engine" yaml:"engine"`           // Inference provider and model cache
	OpenAI      OpenAIConfig      `toml:"openai" yaml:"openai"`           // OpenAI audio API settings
	Gemini      GeminiConfig      `toml:"gemini" yaml:"gemini"`           // Gemini API settings
	WhisperCpp  WhisperCppConfig  `toml:"whispercpp" yaml:"whispercpp"`   // Local whisper.cpp settings
	Acquisition AcquisitionConfig `toml:"acquisition" yaml:"acquisition"` // Audio upload and download settings
}

// ServerConfig contains HTTP server configuration settings
type ServerConfig struct {
	Port               int      `toml:"port" yaml:"port"`                                   // Primary HTTP port for the server
	Host               string   `toml:"host" yaml:"host"`                                   // Host address to bind to
	CORSAllowedOrigins []string `toml:"cors_allowed_origins" yaml:"cors_allowed_origins"`   // Origins allowed for CORS requests (use ["*"] for all origins)
	ReadTimeoutSecs    int      `toml:"read_timeout_seconds" yaml:"read_timeout_seconds"`   // Maximum duration for reading the entire request (0 = no timeout)
	WriteTimeoutSecs   int      `toml:"write_timeout_seconds" yaml:"write_timeout_seconds"` // Maximum duration for writing the response (0 = no timeout)
	IdleTimeoutSecs    int      `toml:"idle_timeout_seconds" yaml:"idle_timeout_seconds"`   // Keep-alive idle timeout
	StaticFilesDir     string   `toml:"static_files_dir" yaml:"static_files_dir"`           // Directory to serve the web UI from; empty disables it
	MaxUploadMB        int      `toml:"max_upload_mb" yaml:"max_upload_mb"`                 // Largest accepted multipart upload
}

// LoggingConfig contains application logging configuration
type LoggingConfig struct {
	Level  string `toml:"level" yaml:"level"`   // Log level: "debug", "info", "warn", or "error"
	Format string `toml:"format" yaml:"format"` // Log format: "json" (structured) or "console" (human-readable)
}

// StorageConfig contains transcript history configuration
type StorageConfig struct {
	Enabled    bool   `toml:"enabled" yaml:"enabled"`         // Persist completed transcripts
	SQLitePath string `toml:"sqlite_path" yaml:"sqlite_path"` // Database file
	PageSize   int    `toml:"page_size" yaml:"page_size"`     // Default page size for /api/transcripts
}

// TranscriberConfig holds the defaults applied to requests that leave a
// setting empty, plus the sliding window geometry
type TranscriberConfig struct {
	Model        string  `toml:"model" yaml:"model"`
	Multilingual bool    `toml:"multilingual" yaml:"multilingual"`
	Quantized    bool    `toml:"quantized" yaml:"quantized"`
	Subtask      string  `toml:"subtask" yaml:"subtask"`
	Language     string  `toml:"language" yaml:"language"`
	SamplingRate int     `toml:"sampling_rate" yaml:"sampling_rate"`
	ChunkLength  float64 `toml:"chunk_length_s" yaml:"chunk_length_s"`
	StrideLength float64 `toml:"stride_length_s" yaml:"stride_length_s"`
	EventBuffer  int     `toml:"event_buffer" yaml:"event_buffer"` // Worker event channel capacity
}

// EngineConfig selects the inference provider
type EngineConfig struct {
	Provider       string `toml:"provider" yaml:"provider"`               // "openai", "gemini" or "whispercpp"
	ModelCacheDir  string `toml:"model_cache_dir" yaml:"model_cache_dir"` // Where model artifacts are downloaded to
	HubBaseURL     string `toml:"hub_base_url" yaml:"hub_base_url"`       // Model artifact host
	HubTimeoutSecs int    `toml:"hub_timeout_seconds" yaml:"hub_timeout_seconds"`
}

// OpenAIConfig contains OpenAI audio API settings
type OpenAIConfig struct {
	APIKey      string `toml:"api_key" yaml:"api_key"`   // Falls back to OPENAI_API_KEY
	BaseURL     string `toml:"base_url" yaml:"base_url"` // Falls back to OPENAI_API_BASE, then https://api.openai.com
	Model       string `toml:"model" yaml:"model"`       // Remote model name, default "whisper-1"
	TimeoutSecs int    `toml:"timeout_seconds" yaml:"timeout_seconds"`
}

// GeminiConfig contains Gemini API settings
type GeminiConfig struct {
	APIKey      string `toml:"api_key" yaml:"api_key"` // Falls back to GEMINI_API_KEY
	BaseURL     string `toml:"base_url" yaml:"base_url"`
	Model       string `toml:"model" yaml:"model"`
	TimeoutSecs int    `toml:"timeout_seconds" yaml:"timeout_seconds"`
}

// WhisperCppConfig contains local inference settings
type WhisperCppConfig struct {
	Repo            string `toml:"repo" yaml:"repo"`                         // Repository holding ggml-*.bin files
	QuantizedSuffix string `toml:"quantized_suffix" yaml:"quantized_suffix"` // e.g. "q5_1"
	Threads         int    `toml:"threads" yaml:"threads"`                   // 0 uses every CPU
}

// AcquisitionConfig contains audio upload and download settings
type AcquisitionConfig struct {
	FFmpegPath          string `toml:"ffmpeg_path" yaml:"ffmpeg_path"`                     // Empty disables non-WAV decoding
	FFmpegTimeoutSecs   int    `toml:"ffmpeg_timeout_seconds" yaml:"ffmpeg_timeout_seconds"`
	MaxDownloadMB       int    `toml:"max_download_mb" yaml:"max_download_mb"`
	DownloadTimeoutSecs int    `toml:"download_timeout_seconds" yaml:"download_timeout_seconds"`
	DefaultAudioURL     string `toml:"default_audio_url" yaml:"default_audio_url"` // Sample offered by the UI
}

const (
	ProviderOpenAI     = "openai"
	ProviderGemini     = "gemini"
	ProviderWhisperCpp = "whispercpp"
)

// Load loads the configuration from the specified file path. Files ending
// in .yaml or .yml are decoded as YAML, everything else as TOML.
func Load(path string) (*Config, error) {
	var config Config

	// Check if the file exists
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return nil, fmt.Errorf("config file not found: %s", path)
	}

	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, &config); err != nil {
			return nil, fmt.Errorf("failed to decode config file: %w", err)
		}
	default:
		if _, err := toml.DecodeFile(path, &config); err != nil {
			return nil, fmt.Errorf("failed to decode config file: %w", err)
		}
	}

	config.ApplyEnv()
	return &config, nil
}

// LoadWithFallback loads the configuration by checking multiple locations in order of preference
func LoadWithFallback(preferredPath string) (*Config, error) {
	// List of paths to check in order of preference
	searchPaths := []string{
		preferredPath,         // User-specified path (if provided)
		"configs/config.toml", // configs/ folder
		"config.toml",         // Root directory
	}

	// Remove duplicates while preserving order
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

// ApplyEnv fills empty secrets and endpoints from the environment
func (c *Config) ApplyEnv() {
	if c.OpenAI.APIKey == "" {
		c.OpenAI.APIKey = os.Getenv("OPENAI_API_KEY")
	}
	if c.OpenAI.BaseURL == "" {
		c.OpenAI.BaseURL = os.Getenv("OPENAI_API_BASE")
	}
	if c.Gemini.APIKey == "" {
		c.Gemini.APIKey = os.Getenv("GEMINI_API_KEY")
	}
}

// Validate fills defaults and validates the configuration
func (c *Config) Validate() error {
	// Validate server config
	if c.Server.Port == 0 {
		c.Server.Port = 8080
	}
	if c.Server.Port < 0 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid server port: %d", c.Server.Port)
	}
	if c.Server.Host == "" {
		c.Server.Host = "0.0.0.0"
	}
	if c.Server.IdleTimeoutSecs == 0 {
		c.Server.IdleTimeoutSecs = 60
	}
	if c.Server.MaxUploadMB <= 0 {
		c.Server.MaxUploadMB = 100
	}
	if c.Server.StaticFilesDir != "" {
		if _, err := os.Stat(c.Server.StaticFilesDir); os.IsNotExist(err) {
			return fmt.Errorf("static files directory does not exist: %s", c.Server.StaticFilesDir)
		}
	}

	// Validate logging config
	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	switch c.Logging.Level {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("invalid log level: %s (must be 'debug', 'info', 'warn', or 'error')", c.Logging.Level)
	}
	if c.Logging.Format == "" {
		c.Logging.Format = "json"
	}
	if c.Logging.Format != "json" && c.Logging.Format != "console" {
		return fmt.Errorf("invalid log format: %s (must be 'json' or 'console')", c.Logging.Format)
	}

	// Validate storage config
	if c.Storage.SQLitePath == "" {
		c.Storage.SQLitePath = "data/whisper-web.db"
	}
	if c.Storage.PageSize <= 0 {
		c.Storage.PageSize = 50
	}

	if err := c.ValidateTranscriber(); err != nil {
		return err
	}

	// Validate engine config
	if c.Engine.Provider == "" {
		c.Engine.Provider = ProviderOpenAI
	}
	switch c.Engine.Provider {
	case ProviderOpenAI:
		if c.OpenAI.APIKey == "" {
			return fmt.Errorf("openai provider requires an API key (openai.api_key or OPENAI_API_KEY)")
		}
	case ProviderGemini:
		if c.Gemini.APIKey == "" {
			return fmt.Errorf("gemini provider requires an API key (gemini.api_key or GEMINI_API_KEY)")
		}
	case ProviderWhisperCpp:
	default:
		return fmt.Errorf("invalid engine provider: %s (must be 'openai', 'gemini', or 'whispercpp')", c.Engine.Provider)
	}
	if c.Engine.ModelCacheDir == "" {
		c.Engine.ModelCacheDir = "models"
	}
	if c.Engine.HubTimeoutSecs <= 0 {
		c.Engine.HubTimeoutSecs = 600
	}
	if c.WhisperCpp.Threads < 0 {
		return fmt.Errorf("invalid whispercpp threads: %d", c.WhisperCpp.Threads)
	}

	// Validate acquisition config
	if c.Acquisition.MaxDownloadMB <= 0 {
		c.Acquisition.MaxDownloadMB = 200
	}
	if c.Acquisition.DownloadTimeoutSecs <= 0 {
		c.Acquisition.DownloadTimeoutSecs = 120
	}
	if c.Acquisition.FFmpegTimeoutSecs <= 0 {
		c.Acquisition.FFmpegTimeoutSecs = 300
	}

	return nil
}

// ValidateTranscriber validates the default request settings and the window geometry
func (c *Config) ValidateTranscriber() error {
	t := &c.Transcriber
	if t.Model == "" {
		t.Model = "Xenova/whisper-tiny"
	}
	if t.Subtask == "" {
		t.Subtask = "transcribe"
	}
	if t.Subtask != "transcribe" && t.Subtask != "translate" {
		return fmt.Errorf("invalid subtask: %s (must be 'transcribe' or 'translate')", t.Subtask)
	}
	if t.Language == "" {
		t.Language = "auto"
	}
	if t.SamplingRate == 0 {
		t.SamplingRate = 16000
	}
	if t.SamplingRate != 16000 {
		return fmt.Errorf("invalid sampling_rate: %d (whisper models expect 16000)", t.SamplingRate)
	}
	if t.ChunkLength == 0 {
		t.ChunkLength = 30
	}
	if t.StrideLength == 0 {
		t.StrideLength = 5
	}
	if t.ChunkLength <= 0 || t.StrideLength < 0 || t.ChunkLength-2*t.StrideLength <= 0 {
		return fmt.Errorf("invalid window geometry: chunk %.1fs with stride %.1fs", t.ChunkLength, t.StrideLength)
	}
	if t.EventBuffer <= 0 {
		t.EventBuffer = 64
	}
	return nil
}

// Seconds converts a whole number of seconds from the config to a duration
func Seconds(n int) time.Duration {
	return time.Duration(n) * time.Second
}
