// Package config provides configuration management for the clipper.
// Configuration is loaded from environment variables with sensible defaults.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"
)

const (
	// Default values
	DefaultPort          = 8788
	DefaultLogLevel      = "info"
	DefaultDataDir       = ".heimdex-clipper"
	DefaultFFmpeg        = "ffmpeg"
	DefaultSkipSeconds   = 10
	DefaultExportFormat  = "mp4"
	DefaultExportTimeout = 1800 // seconds

	// Environment variable names
	EnvPort          = "HEIMDEX_CLIPPER_PORT"
	EnvLogLevel      = "HEIMDEX_CLIPPER_LOG_LEVEL"
	EnvDataDir       = "HEIMDEX_CLIPPER_DATA_DIR"
	EnvExportDir     = "HEIMDEX_CLIPPER_EXPORT_DIR"
	EnvFFmpeg        = "HEIMDEX_CLIPPER_FFMPEG"
	EnvSkipSeconds   = "HEIMDEX_CLIPPER_SKIP_SECONDS"
	EnvExportFormat  = "HEIMDEX_CLIPPER_EXPORT_FORMAT"
	EnvExportTimeout = "HEIMDEX_CLIPPER_EXPORT_TIMEOUT"
	EnvHeadless      = "HEIMDEX_CLIPPER_HEADLESS"

	// Database filename
	DBFilename = "clipper.db"
)

// Config defines the application configuration interface
type Config interface {
	Port() int
	LogLevel() string
	DataDir() string
	DBPath() string
	MediaDir() string
	ExportDir() string
	FFmpegPath() string
	SkipSeconds() float64
	ExportFormat() string
	ExportTimeout() time.Duration
	Headless() bool
}

// EnvConfig reads configuration from environment variables
type EnvConfig struct {
	port          int
	logLevel      string
	dataDir       string
	exportDir     string
	ffmpeg        string
	skipSeconds   float64
	exportFormat  string
	exportTimeout time.Duration
	headless      bool
}

// New creates a new EnvConfig with defaults and environment variable overrides
func New() (*EnvConfig, error) {
	cfg := &EnvConfig{
		port:          DefaultPort,
		logLevel:      DefaultLogLevel,
		dataDir:       defaultDataDir(),
		ffmpeg:        DefaultFFmpeg,
		skipSeconds:   DefaultSkipSeconds,
		exportFormat:  DefaultExportFormat,
		exportTimeout: DefaultExportTimeout * time.Second,
	}

	if p := os.Getenv(EnvPort); p != "" {
		port, err := strconv.Atoi(p)
		if err != nil {
			return nil, fmt.Errorf("invalid %s: %w", EnvPort, err)
		}
		if port < 1 || port > 65535 {
			return nil, fmt.Errorf("invalid %s: port must be between 1 and 65535", EnvPort)
		}
		cfg.port = port
	}

	if ll := os.Getenv(EnvLogLevel); ll != "" {
		cfg.logLevel = ll
	}

	if dd := os.Getenv(EnvDataDir); dd != "" {
		cfg.dataDir = dd
	}

	cfg.exportDir = os.Getenv(EnvExportDir)

	if ff := os.Getenv(EnvFFmpeg); ff != "" {
		cfg.ffmpeg = ff
	}

	if s := os.Getenv(EnvSkipSeconds); s != "" {
		secs, err := strconv.ParseFloat(s, 64)
		if err != nil || secs <= 0 {
			return nil, fmt.Errorf("invalid %s: must be a positive number of seconds", EnvSkipSeconds)
		}
		cfg.skipSeconds = secs
	}

	if f := os.Getenv(EnvExportFormat); f != "" {
		cfg.exportFormat = strings.ToLower(strings.TrimPrefix(f, "."))
	}

	if s := os.Getenv(EnvExportTimeout); s != "" {
		secs, err := strconv.Atoi(s)
		if err != nil || secs <= 0 {
			return nil, fmt.Errorf("invalid %s: must be a positive number of seconds", EnvExportTimeout)
		}
		cfg.exportTimeout = time.Duration(secs) * time.Second
	}

	if h := os.Getenv(EnvHeadless); h != "" {
		headless, err := strconv.ParseBool(h)
		if err != nil {
			return nil, fmt.Errorf("invalid %s: %w", EnvHeadless, err)
		}
		cfg.headless = headless
	}

	return cfg, nil
}

// Port returns the HTTP server port
func (c *EnvConfig) Port() int {
	return c.port
}

// LogLevel returns the log level (debug, info, warn, error)
func (c *EnvConfig) LogLevel() string {
	return c.logLevel
}

// DataDir returns the data directory path
func (c *EnvConfig) DataDir() string {
	return c.dataDir
}

// DBPath returns the full path to the SQLite database file
func (c *EnvConfig) DBPath() string {
	return filepath.Join(c.dataDir, DBFilename)
}

// MediaDir holds uploaded videos.
func (c *EnvConfig) MediaDir() string {
	return filepath.Join(c.dataDir, "media")
}

// ExportDir returns where clip artifacts and edit lists are written.
func (c *EnvConfig) ExportDir() string {
	if c.exportDir != "" {
		return c.exportDir
	}
	return filepath.Join(c.dataDir, "exports")
}

func (c *EnvConfig) FFmpegPath() string {
	return c.ffmpeg
}

func (c *EnvConfig) SkipSeconds() float64 {
	return c.skipSeconds
}

func (c *EnvConfig) ExportFormat() string {
	return c.exportFormat
}

func (c *EnvConfig) ExportTimeout() time.Duration {
	return c.exportTimeout
}

// Headless disables the system tray.
func (c *EnvConfig) Headless() bool {
	return c.headless
}

// SetHeadless lets command line flags override the environment.
func (c *EnvConfig) SetHeadless(v bool) {
	c.headless = v
}

// SetPort lets command line flags override the environment.
func (c *EnvConfig) SetPort(p int) {
	c.port = p
}

// defaultDataDir returns the default data directory path
func defaultDataDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		// Fallback to current directory if home is not available
		return DefaultDataDir
	}
	return filepath.Join(home, DefaultDataDir)
}

// Version information (set at build time via ldflags)
var (
	Version   = "0.1.0"
	BuildTime = "unknown"
	GitCommit = "unknown"
)
