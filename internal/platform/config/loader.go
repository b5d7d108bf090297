package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// EnvConfigPath names the environment variable that points at the config file.
const EnvConfigPath = "FACECAM_CONFIG"

var defaultSearchPaths = []string{".config.yaml", "config.yaml"}

// Loader reads the YAML config file, overlays environment overrides and validates the result.
type Loader struct {
	useDotEnv bool
	path      string
	lookupEnv func(string) (string, bool)
}

// NewLoader creates a loader that searches the default locations.
func NewLoader() *Loader {
	return &Loader{
		useDotEnv: true,
		lookupEnv: os.LookupEnv,
	}
}

// WithDotEnv toggles loading variables from a .env file before reading config.
func (l *Loader) WithDotEnv(enabled bool) *Loader {
	l.useDotEnv = enabled
	return l
}

// WithPath pins the config file instead of searching for one.
func (l *Loader) WithPath(path string) *Loader {
	l.path = path
	return l
}

// Result captures the loaded configuration and its origin path.
type Result struct {
	Config *Config
	Path   string
}

// Load builds the effective configuration. Missing files fall back to defaults
// unless a path was pinned explicitly.
func (l *Loader) Load() (*Result, error) {
	if l.useDotEnv {
		// a missing .env is normal outside development
		_ = godotenv.Load()
	}

	cfg := DefaultConfig()
	path, err := l.resolvePath()
	if err != nil {
		return nil, err
	}

	if path != "" {
		if err := decodeFile(path, cfg); err != nil {
			return nil, err
		}
	}

	if err := l.applyEnv(cfg); err != nil {
		return nil, err
	}
	if err := l.validate(cfg); err != nil {
		return nil, err
	}

	return &Result{Config: cfg, Path: path}, nil
}

func (l *Loader) resolvePath() (string, error) {
	explicit := l.path
	if explicit == "" {
		if v, ok := l.lookupEnv(EnvConfigPath); ok {
			explicit = strings.TrimSpace(v)
		}
	}
	if explicit != "" {
		if _, err := os.Stat(explicit); err != nil {
			return "", fmt.Errorf("config file %s: %w", explicit, err)
		}
		return explicit, nil
	}

	for _, candidate := range defaultSearchPaths {
		if _, err := os.Stat(candidate); err == nil {
			return candidate, nil
		}
	}
	return "", nil
}

func decodeFile(path string, cfg *Config) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("parse config %s: %w", path, err)
	}
	return nil
}

func (l *Loader) applyEnv(cfg *Config) error {
	if v, ok := l.lookupEnv("FACECAM_PORT"); ok && v != "" {
		port, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("FACECAM_PORT: %w", err)
		}
		cfg.Server.Port = port
	}
	if v, ok := l.lookupEnv("FACECAM_LOG_LEVEL"); ok && v != "" {
		cfg.Log.Level = v
	}
	if v, ok := l.lookupEnv("FACECAM_CAMERA_DEVICE"); ok && v != "" {
		device, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("FACECAM_CAMERA_DEVICE: %w", err)
		}
		cfg.Capture.Device = device
		cfg.Capture.Enabled = true
	}
	if v, ok := l.lookupEnv("FACECAM_JOURNAL_DRIVER"); ok && v != "" {
		cfg.Journal.Driver = strings.ToLower(v)
	}
	if v, ok := l.lookupEnv("FACECAM_REDIS_ADDR"); ok && v != "" {
		cfg.Journal.Redis.Addr = v
	}
	return nil
}

func (l *Loader) validate(cfg *Config) error {
	var errs []error

	if cfg.Server.Port <= 0 || cfg.Server.Port > 65535 {
		errs = append(errs, fmt.Errorf("server.port out of range: %d", cfg.Server.Port))
	}
	if p := cfg.Transport.WebSocket.Port; p < 0 || p > 65535 {
		errs = append(errs, fmt.Errorf("transport.websocket.port out of range: %d", p))
	}
	if !strings.HasPrefix(cfg.Transport.WebSocket.Path, "/") {
		errs = append(errs, fmt.Errorf("transport.websocket.path must start with /: %q", cfg.Transport.WebSocket.Path))
	}
	if cfg.Vision.TargetWidth <= 0 || cfg.Vision.TargetHeight <= 0 {
		errs = append(errs, fmt.Errorf("vision target size must be positive: %dx%d", cfg.Vision.TargetWidth, cfg.Vision.TargetHeight))
	}
	if q := cfg.Vision.JPEGQuality; q < 1 || q > 100 {
		errs = append(errs, fmt.Errorf("vision.jpeg_quality must be 1..100: %d", q))
	}
	if cfg.Vision.DetectTimeout <= 0 {
		errs = append(errs, fmt.Errorf("vision.detect_timeout must be positive"))
	}
	if formats := cfg.Vision.Security.AllowedFormats; len(formats) > 0 && !allowsJPEG(formats) {
		// every reply is a JPEG data-URL and clients send those back
		errs = append(errs, fmt.Errorf("vision.security.allowed_formats must include jpeg: %v", formats))
	}
	switch cfg.Vision.Detector {
	case "cascade", "none":
	default:
		errs = append(errs, fmt.Errorf("unsupported vision.detector: %q", cfg.Vision.Detector))
	}
	switch cfg.Journal.Driver {
	case "memory", "sqlite", "redis":
	default:
		errs = append(errs, fmt.Errorf("unsupported journal.driver: %q", cfg.Journal.Driver))
	}

	return errors.Join(errs...)
}

func allowsJPEG(formats []string) bool {
	for _, f := range formats {
		switch strings.ToLower(strings.TrimSpace(f)) {
		case "jpeg", "jpg":
			return true
		}
	}
	return false
}
