// Package config loads settings for the designcheck command from an optional
// YAML file, a .env file and DESIGNCHECK_* environment variables, in that
// order of increasing precedence.
package config

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	designcheck "github.com/anatolykoptev/go-designcheck"
	"github.com/goccy/go-yaml"
	"github.com/joho/godotenv"
)

const envPrefix = "DESIGNCHECK_"

type Config struct {
	Server ServerConfig `yaml:"server"`
	Store  StoreConfig  `yaml:"store"`
	Engine EngineConfig `yaml:"engine"`
	Files  FilesConfig  `yaml:"files"`
	Log    LogConfig    `yaml:"log"`
}

type ServerConfig struct {
	Host           string `yaml:"host"`
	Port           string `yaml:"port"`
	MaxUploadBytes int64  `yaml:"max_upload_bytes"`
}

// StoreConfig selects the corpus record store. Driver is "sqlite", "mongo"
// or empty for none.
type StoreConfig struct {
	Driver          string `yaml:"driver"`
	Path            string `yaml:"path"`
	MongoURI        string `yaml:"mongo_uri"`
	MongoDatabase   string `yaml:"mongo_database"`
	MongoCollection string `yaml:"mongo_collection"`
}

type EngineConfig struct {
	Threshold          int    `yaml:"threshold"`
	ReferenceThreshold int    `yaml:"reference_threshold"`
	Algorithm          string `yaml:"algorithm"`
	MaxConcurrency     int    `yaml:"max_concurrency"`
	ExtractTimeout     string `yaml:"extract_timeout"` // Go duration, e.g. "30s"
	SVGMaxSize         int    `yaml:"svg_max_size"`
	RenderDPI          int    `yaml:"render_dpi"`
	Renderer           string `yaml:"renderer"` // "auto", "pdftoppm" or "ghostscript"
	RendererPath       string `yaml:"renderer_path"`
	ApplyOrientation   bool   `yaml:"apply_orientation"`
	StrictUnsupported  bool   `yaml:"strict_unsupported"`
}

// FilesConfig configures where raw files and previews are read from. A
// BaseURL selects the HTTP store; otherwise files come from Root.
type FilesConfig struct {
	Root      string `yaml:"root"`
	BaseURL   string `yaml:"base_url"`
	MaxBytes  int64  `yaml:"max_bytes"`
	UserAgent string `yaml:"user_agent"`
}

type LogConfig struct {
	Level  string `yaml:"level"`  // debug, info, warn, error
	Format string `yaml:"format"` // text or json
}

// Default returns the settings used when nothing is configured.
func Default() *Config {
	return &Config{
		Server: ServerConfig{Host: "0.0.0.0", Port: "8080", MaxUploadBytes: 64 << 20},
		Engine: EngineConfig{
			Threshold:          designcheck.DefaultThreshold,
			ReferenceThreshold: designcheck.DefaultReferenceThreshold,
			Algorithm:          "median",
			ExtractTimeout:     designcheck.DefaultExtractTimeout.String(),
			Renderer:           "auto",
		},
		Log: LogConfig{Level: "info", Format: "text"},
	}
}

// Load reads path (optional; empty skips the file), then .env, then the
// environment.
func Load(path string) (*Config, error) {
	return load(path, ".env")
}

func load(path string, envFiles ...string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file '%s': %w", path, err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse YAML config '%s': %w", path, err)
		}
	}

	// Load .env files if they exist (for local development); real
	// environment variables win.
	for _, f := range envFiles {
		_ = godotenv.Load(f)
	}
	cfg.applyEnv()

	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}
	return cfg, nil
}

func (c *Config) applyEnv() {
	c.Server.Host = getEnvOrDefault("HOST", c.Server.Host)
	c.Server.Port = getEnvOrDefault("PORT", c.Server.Port)
	c.Server.MaxUploadBytes = getEnvAsInt64("MAX_UPLOAD_BYTES", c.Server.MaxUploadBytes)

	c.Store.Driver = getEnvOrDefault("STORE_DRIVER", c.Store.Driver)
	c.Store.Path = getEnvOrDefault("STORE_PATH", c.Store.Path)
	c.Store.MongoURI = getEnvOrDefault("MONGODB_URI", c.Store.MongoURI)
	c.Store.MongoDatabase = getEnvOrDefault("MONGODB_DATABASE", c.Store.MongoDatabase)
	c.Store.MongoCollection = getEnvOrDefault("MONGODB_COLLECTION", c.Store.MongoCollection)

	c.Engine.Threshold = getEnvAsInt("THRESHOLD", c.Engine.Threshold)
	c.Engine.ReferenceThreshold = getEnvAsInt("REFERENCE_THRESHOLD", c.Engine.ReferenceThreshold)
	c.Engine.Algorithm = getEnvOrDefault("ALGORITHM", c.Engine.Algorithm)
	c.Engine.MaxConcurrency = getEnvAsInt("MAX_CONCURRENCY", c.Engine.MaxConcurrency)
	c.Engine.ExtractTimeout = getEnvOrDefault("EXTRACT_TIMEOUT", c.Engine.ExtractTimeout)
	c.Engine.SVGMaxSize = getEnvAsInt("SVG_MAX_SIZE", c.Engine.SVGMaxSize)
	c.Engine.RenderDPI = getEnvAsInt("RENDER_DPI", c.Engine.RenderDPI)
	c.Engine.Renderer = getEnvOrDefault("RENDERER", c.Engine.Renderer)
	c.Engine.RendererPath = getEnvOrDefault("RENDERER_PATH", c.Engine.RendererPath)
	c.Engine.ApplyOrientation = getEnvAsBool("APPLY_ORIENTATION", c.Engine.ApplyOrientation)
	c.Engine.StrictUnsupported = getEnvAsBool("STRICT_UNSUPPORTED", c.Engine.StrictUnsupported)

	c.Files.Root = getEnvOrDefault("FILES_ROOT", c.Files.Root)
	c.Files.BaseURL = getEnvOrDefault("FILES_BASE_URL", c.Files.BaseURL)
	c.Files.MaxBytes = getEnvAsInt64("FILES_MAX_BYTES", c.Files.MaxBytes)
	c.Files.UserAgent = getEnvOrDefault("FILES_USER_AGENT", c.Files.UserAgent)

	c.Log.Level = getEnvOrDefault("LOG_LEVEL", c.Log.Level)
	c.Log.Format = getEnvOrDefault("LOG_FORMAT", c.Log.Format)
}

func (c *Config) validate() error {
	if c.Engine.Threshold < 0 {
		return fmt.Errorf("engine.threshold must be >= 0, got %d", c.Engine.Threshold)
	}
	if c.Engine.ReferenceThreshold < 0 {
		return fmt.Errorf("engine.reference_threshold must be >= 0, got %d", c.Engine.ReferenceThreshold)
	}
	if c.Engine.Threshold > designcheck.FingerprintBits || c.Engine.ReferenceThreshold > designcheck.FingerprintBits {
		return fmt.Errorf("thresholds must be <= %d bits", designcheck.FingerprintBits)
	}
	if _, err := designcheck.ParseAlgorithm(c.Engine.Algorithm); err != nil {
		return err
	}
	if _, err := c.Engine.Timeout(); err != nil {
		return err
	}
	switch strings.ToLower(c.Engine.Renderer) {
	case "", "auto", "pdftoppm", "ghostscript", "gs":
	default:
		return fmt.Errorf("engine.renderer %q is not one of auto, pdftoppm, ghostscript", c.Engine.Renderer)
	}
	switch c.Store.Driver {
	case "":
	case "sqlite":
		if c.Store.Path == "" {
			return fmt.Errorf("store.path is required for the sqlite store")
		}
	case "mongo":
		if c.Store.MongoURI == "" || c.Store.MongoDatabase == "" {
			return fmt.Errorf("store.mongo_uri and store.mongo_database are required for the mongo store")
		}
	default:
		return fmt.Errorf("store.driver %q is not one of sqlite, mongo", c.Store.Driver)
	}
	if _, err := parseLevel(c.Log.Level); err != nil {
		return err
	}
	return nil
}

// ValidateServe checks the settings the HTTP server needs on top of
// validate: request paths must resolve under files.root or files.base_url,
// never against the host filesystem as given.
func (c *Config) ValidateServe() error {
	if c.Files.Root == "" && c.Files.BaseURL == "" {
		return fmt.Errorf("files.root or files.base_url is required to serve")
	}
	return nil
}

// Timeout parses ExtractTimeout; empty means the engine default.
func (e EngineConfig) Timeout() (time.Duration, error) {
	if e.ExtractTimeout == "" {
		return 0, nil
	}
	d, err := time.ParseDuration(e.ExtractTimeout)
	if err != nil {
		return 0, fmt.Errorf("engine.extract_timeout: %w", err)
	}
	if d < 0 {
		return 0, fmt.Errorf("engine.extract_timeout must not be negative")
	}
	return d, nil
}

// DesignCheck builds the engine configuration, its file store and renderer.
func (c *Config) DesignCheck() (*designcheck.Config, error) {
	algo, err := designcheck.ParseAlgorithm(c.Engine.Algorithm)
	if err != nil {
		return nil, err
	}
	timeout, err := c.Engine.Timeout()
	if err != nil {
		return nil, err
	}

	dc := &designcheck.Config{
		Algorithm:         algo,
		ExtractTimeout:    timeout,
		MaxConcurrency:    c.Engine.MaxConcurrency,
		SVGMaxSize:        c.Engine.SVGMaxSize,
		RenderDPI:         c.Engine.RenderDPI,
		ApplyOrientation:  c.Engine.ApplyOrientation,
		StrictUnsupported: c.Engine.StrictUnsupported,
		OnPanic: func(tag string, r any) {
			slog.Error("designcheck: recovered panic", "tag", tag, "panic", fmt.Sprint(r))
		},
	}

	if c.Files.BaseURL != "" {
		dc.Files = designcheck.HTTPStore{
			BaseURL:   c.Files.BaseURL,
			MaxBytes:  c.Files.MaxBytes,
			UserAgent: c.Files.UserAgent,
		}
	} else {
		dc.Files = designcheck.DirStore{Root: c.Files.Root, MaxBytes: c.Files.MaxBytes}
	}

	switch strings.ToLower(c.Engine.Renderer) {
	case "pdftoppm":
		dc.Renderer = designcheck.PdftoppmRenderer{Path: c.Engine.RendererPath}
	case "ghostscript", "gs":
		dc.Renderer = designcheck.GhostscriptRenderer{Path: c.Engine.RendererPath}
	}
	return dc, nil
}

// NewLogger returns a slog logger writing to w in the configured format and level.
func (l LogConfig) NewLogger(w io.Writer) *slog.Logger {
	level, err := parseLevel(l.Level)
	if err != nil {
		level = slog.LevelInfo
	}
	opts := &slog.HandlerOptions{Level: level}
	if strings.EqualFold(l.Format, "json") {
		return slog.New(slog.NewJSONHandler(w, opts))
	}
	return slog.New(slog.NewTextHandler(w, opts))
}

func parseLevel(s string) (slog.Level, error) {
	var level slog.Level
	if s == "" {
		return slog.LevelInfo, nil
	}
	if err := level.UnmarshalText([]byte(s)); err != nil {
		return 0, fmt.Errorf("log.level: %w", err)
	}
	return level, nil
}

func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(envPrefix + key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	if value := os.Getenv(envPrefix + key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func getEnvAsInt64(key string, defaultValue int64) int64 {
	if value := os.Getenv(envPrefix + key); value != "" {
		if intValue, err := strconv.ParseInt(value, 10, 64); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func getEnvAsBool(key string, defaultValue bool) bool {
	if value := os.Getenv(envPrefix + key); value != "" {
		if b, err := strconv.ParseBool(value); err == nil {
			return b
		}
	}
	return defaultValue
}
