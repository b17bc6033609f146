// Package config provides file-based configuration with environment overrides.
package config

import (
	"encoding/xml"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// AppConfig represents the root configuration structure
type AppConfig struct {
	XMLName xml.Name `xml:"JudgmentsOCR" yaml:"-"`

	// Server configuration
	Server ServerConfig `xml:"Server" yaml:"server"`

	// Remote API configuration
	Backend BackendConfig `xml:"Backend" yaml:"backend"`

	// Staging configuration for selected files
	Staging StagingConfig `xml:"Staging" yaml:"staging"`

	// Form session configuration
	Sessions SessionsConfig `xml:"Sessions" yaml:"sessions"`

	// Advanced options
	Advanced AdvancedConfig `xml:"Advanced" yaml:"advanced"`
}

// ServerConfig contains HTTP server settings
type ServerConfig struct {
	Port         int    `xml:"Port" yaml:"port"`
	BindAddress  string `xml:"BindAddress" yaml:"bindAddress"`
	ReadTimeout  int    `xml:"ReadTimeoutSeconds" yaml:"readTimeoutSeconds"`
	WriteTimeout int    `xml:"WriteTimeoutSeconds" yaml:"writeTimeoutSeconds"`
	IdleTimeout  int    `xml:"IdleTimeoutSeconds" yaml:"idleTimeoutSeconds"`
	BodyLimit    string `xml:"BodyLimit" yaml:"bodyLimit"`
}

// BackendConfig describes the remote judgements/OCR API.
type BackendConfig struct {
	BaseURL        string `xml:"BaseURL" yaml:"baseURL"`
	JudgementsPath string `xml:"JudgementsPath" yaml:"judgementsPath"`
	OCRPath        string `xml:"OCRPath" yaml:"ocrPath"`
	TimeoutSeconds int    `xml:"TimeoutSeconds" yaml:"timeoutSeconds"`
}

// StagingConfig contains settings for files held between selection and submit
type StagingConfig struct {
	Directory      string `xml:"Directory" yaml:"directory"`
	MaxUploadFiles int    `xml:"MaxUploadFiles" yaml:"maxUploadFiles"`
	MaxImageMB     int    `xml:"MaxImageMB" yaml:"maxImageMB"`
}

// SessionsConfig contains form session settings
type SessionsConfig struct {
	CookieName             string `xml:"CookieName" yaml:"cookieName"`
	SecureCookie           bool   `xml:"SecureCookie" yaml:"secureCookie"`
	TimeoutMinutes         int    `xml:"TimeoutMinutes" yaml:"timeoutMinutes"`
	CleanupIntervalMinutes int    `xml:"CleanupIntervalMinutes" yaml:"cleanupIntervalMinutes"`
	MaxSessions            int    `xml:"MaxSessions" yaml:"maxSessions"`
}

// AdvancedConfig contains advanced/tuning options
type AdvancedConfig struct {
	LogLevel             string  `xml:"LogLevel" yaml:"logLevel"`
	LogFormat            string  `xml:"LogFormat" yaml:"logFormat"`
	EnableRequestLogging bool    `xml:"EnableRequestLogging" yaml:"enableRequestLogging"`
	EnableMetrics        bool    `xml:"EnableMetrics" yaml:"enableMetrics"`
	EnableCompression    bool    `xml:"EnableCompression" yaml:"enableCompression"`
	RateLimitPerSecond   float64 `xml:"RateLimitPerSecond" yaml:"rateLimitPerSecond"`
}

// DefaultConfig returns the default configuration
func DefaultConfig() *AppConfig {
	return &AppConfig{
		Server: ServerConfig{
			Port:         3000,
			BindAddress:  "0.0.0.0",
			ReadTimeout:  60,
			WriteTimeout: 60,
			IdleTimeout:  120,
			BodyLimit:    "200M",
		},
		Backend: BackendConfig{
			BaseURL:        "http://localhost:8000",
			JudgementsPath: "/v1/api/ai/upload_judgements",
			OCRPath:        "/ocr",
			TimeoutSeconds: 120,
		},
		Staging: StagingConfig{
			Directory:      "./data/staging",
			MaxUploadFiles: 100,
			MaxImageMB:     20,
		},
		Sessions: SessionsConfig{
			CookieName:             "judgments_ocr_session",
			SecureCookie:           false,
			TimeoutMinutes:         30,
			CleanupIntervalMinutes: 5,
			MaxSessions:            1000,
		},
		Advanced: AdvancedConfig{
			LogLevel:             "info",
			LogFormat:            "json",
			EnableRequestLogging: true,
			EnableMetrics:        true,
			EnableCompression:    true,
			RateLimitPerSecond:   20,
		},
	}
}

// LoadConfig loads configuration from an XML or YAML file. A missing file is
// created with defaults.
func LoadConfig(configPath string) (*AppConfig, error) {
	config := DefaultConfig()

	if _, err := os.Stat(configPath); os.IsNotExist(err) {
		if err := config.Save(configPath); err != nil {
			return nil, fmt.Errorf("failed to create default config: %w", err)
		}
	} else {
		data, err := os.ReadFile(configPath)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}

		if isYAML(configPath) {
			err = yaml.Unmarshal(data, config)
		} else {
			err = xml.Unmarshal(data, config)
		}
		if err != nil {
			return nil, fmt.Errorf("failed to parse config file: %w", err)
		}
	}

	// Apply environment variable overrides
	config.applyEnvironmentOverrides()

	// Resolve relative paths
	config.resolvePaths(filepath.Dir(configPath))

	if err := config.Validate(); err != nil {
		return nil, err
	}

	return config, nil
}

// Save saves the configuration to an XML or YAML file, chosen by extension
func (c *AppConfig) Save(configPath string) error {
	var content []byte
	if isYAML(configPath) {
		output, err := yaml.Marshal(c)
		if err != nil {
			return fmt.Errorf("failed to marshal config: %w", err)
		}
		content = append([]byte("# Judgments & OCR front end configuration\n"), output...)
	} else {
		output, err := xml.MarshalIndent(c, "", "  ")
		if err != nil {
			return fmt.Errorf("failed to marshal config: %w", err)
		}
		header := []byte(xml.Header + "\n<!-- Judgments & OCR front end configuration -->\n<!-- This file is auto-generated on first run -->\n\n")
		content = append(header, output...)
	}

	if err := os.WriteFile(configPath, content, 0644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}

// Validate checks settings the server cannot start without
func (c *AppConfig) Validate() error {
	u, err := url.Parse(c.Backend.BaseURL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return fmt.Errorf("backend base URL must be an absolute http(s) URL, got %q", c.Backend.BaseURL)
	}
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid server port %d", c.Server.Port)
	}
	if c.Backend.TimeoutSeconds <= 0 {
		return fmt.Errorf("backend timeout must be positive")
	}
	if c.Sessions.TimeoutMinutes <= 0 || c.Sessions.CleanupIntervalMinutes <= 0 {
		return fmt.Errorf("session timeout and cleanup interval must be positive")
	}
	if c.Staging.MaxImageMB <= 0 {
		return fmt.Errorf("maximum image size must be positive")
	}
	if c.Sessions.CookieName == "" {
		return fmt.Errorf("session cookie name must not be empty")
	}
	return nil
}

// applyEnvironmentOverrides allows environment variables to override config values
func (c *AppConfig) applyEnvironmentOverrides() {
	// PORT override
	if port := os.Getenv("PORT"); port != "" {
		if p, err := strconv.Atoi(port); err == nil {
			c.Server.Port = p
		}
	}

	// API_BASE_URL is the single base URL of the remote API
	if base := os.Getenv("API_BASE_URL"); base != "" {
		c.Backend.BaseURL = base
	}

	if dir := os.Getenv("STAGING_DIR"); dir != "" {
		c.Staging.Directory = dir
	}

	if level := os.Getenv("LOG_LEVEL"); level != "" {
		c.Advanced.LogLevel = level
	}

	c.Backend.BaseURL = strings.TrimRight(c.Backend.BaseURL, "/")
}

// resolvePaths converts relative paths to absolute based on config file location
func (c *AppConfig) resolvePaths(configDir string) {
	if !filepath.IsAbs(c.Staging.Directory) {
		c.Staging.Directory = filepath.Join(configDir, c.Staging.Directory)
	}
}

// GetServerAddr returns the server bind address
func (c *AppConfig) GetServerAddr() string {
	return fmt.Sprintf("%s:%d", c.Server.BindAddress, c.Server.Port)
}

// BackendTimeout returns the remote API timeout
func (c *AppConfig) BackendTimeout() time.Duration {
	return time.Duration(c.Backend.TimeoutSeconds) * time.Second
}

// MaxImageBytes returns the largest OCR image accepted
func (c *AppConfig) MaxImageBytes() int64 {
	return int64(c.Staging.MaxImageMB) << 20
}

// SessionTimeout returns the idle timeout of a form session
func (c *AppConfig) SessionTimeout() time.Duration {
	return time.Duration(c.Sessions.TimeoutMinutes) * time.Minute
}

// CleanupInterval returns how often expired sessions are swept
func (c *AppConfig) CleanupInterval() time.Duration {
	return time.Duration(c.Sessions.CleanupIntervalMinutes) * time.Minute
}

func isYAML(path string) bool {
	ext := strings.ToLower(filepath.Ext(path))
	return ext == ".yaml" || ext == ".yml"
}
