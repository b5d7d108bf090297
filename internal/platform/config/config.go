package config

import (
	"time"
)

type Config struct {
	Server    ServerConfig    `yaml:"server" mapstructure:"server"`
	Log       LogConfig       `yaml:"log" mapstructure:"log"`
	Web       WebConfig       `yaml:"web" mapstructure:"web"`
	Transport TransportConfig `yaml:"transport" mapstructure:"transport"`
	Vision    VisionConfig    `yaml:"vision" mapstructure:"vision"`
	Capture   CaptureConfig   `yaml:"capture" mapstructure:"capture"`
	Journal   JournalConfig   `yaml:"journal" mapstructure:"journal"`
}

type ServerConfig struct {
	IP   string `yaml:"ip" mapstructure:"ip"`
	Port int    `yaml:"port" mapstructure:"port"`
}

type LogConfig struct {
	Level string `yaml:"log_level" mapstructure:"log_level"`
	Dir   string `yaml:"log_dir" mapstructure:"log_dir"`
	File  string `yaml:"log_file" mapstructure:"log_file"`
}

type WebConfig struct {
	StaticDir string `yaml:"static_dir" mapstructure:"static_dir"`
	Index     string `yaml:"index" mapstructure:"index"`
	Favicon   string `yaml:"favicon" mapstructure:"favicon"`
}

type TransportConfig struct {
	WebSocket WebSocketConfig `yaml:"websocket" mapstructure:"websocket"`
}

// WebSocketConfig describes the per-connection socket path. Port 0 mounts the
// socket on the HTTP server; any other value starts a dedicated listener.
type WebSocketConfig struct {
	Path             string        `yaml:"path" mapstructure:"path"`
	IP               string        `yaml:"ip" mapstructure:"ip"`
	Port             int           `yaml:"port" mapstructure:"port"`
	HandshakeTimeout time.Duration `yaml:"handshake_timeout" mapstructure:"handshake_timeout"`
	ReadLimit        int64         `yaml:"read_limit" mapstructure:"read_limit"`
	IdleTimeout      time.Duration `yaml:"idle_timeout" mapstructure:"idle_timeout"`
}

type VisionConfig struct {
	TargetWidth             int            `yaml:"target_width" mapstructure:"target_width"`
	TargetHeight            int            `yaml:"target_height" mapstructure:"target_height"`
	JPEGQuality             int            `yaml:"jpeg_quality" mapstructure:"jpeg_quality"`
	DetectTimeout           time.Duration  `yaml:"detect_timeout" mapstructure:"detect_timeout"`
	MaxConcurrentDetections int            `yaml:"max_concurrent_detections" mapstructure:"max_concurrent_detections"`
	Detector                string         `yaml:"detector" mapstructure:"detector"`
	Cascade                 CascadeConfig  `yaml:"cascade" mapstructure:"cascade"`
	Security                SecurityConfig `yaml:"security" mapstructure:"security"`
}

type CascadeConfig struct {
	Path         string  `yaml:"path" mapstructure:"path"`
	ScaleFactor  float64 `yaml:"scale_factor" mapstructure:"scale_factor"`
	MinNeighbors int     `yaml:"min_neighbors" mapstructure:"min_neighbors"`
	MinSize      int     `yaml:"min_size" mapstructure:"min_size"`
}

type SecurityConfig struct {
	MaxFileSize    int64    `yaml:"max_file_size" mapstructure:"max_file_size"`
	MaxPixels      int64    `yaml:"max_pixels" mapstructure:"max_pixels"`
	MaxWidth       int      `yaml:"max_width" mapstructure:"max_width"`
	MaxHeight      int      `yaml:"max_height" mapstructure:"max_height"`
	AllowedFormats []string `yaml:"allowed_formats" mapstructure:"allowed_formats"`
	EnableDeepScan bool     `yaml:"enable_deep_scan" mapstructure:"enable_deep_scan"`
}

type CaptureConfig struct {
	Enabled                bool          `yaml:"enabled" mapstructure:"enabled"`
	Device                 int           `yaml:"device" mapstructure:"device"`
	Width                  int           `yaml:"width" mapstructure:"width"`
	Height                 int           `yaml:"height" mapstructure:"height"`
	StreamQuality          int           `yaml:"stream_quality" mapstructure:"stream_quality"`
	ReopenAfterFailures    int           `yaml:"reopen_after_failures" mapstructure:"reopen_after_failures"`
	UnhealthyAfterFailures int           `yaml:"unhealthy_after_failures" mapstructure:"unhealthy_after_failures"`
	BackoffInitial         time.Duration `yaml:"backoff_initial" mapstructure:"backoff_initial"`
	BackoffMax             time.Duration `yaml:"backoff_max" mapstructure:"backoff_max"`
}

type JournalConfig struct {
	Driver   string             `yaml:"driver" mapstructure:"driver"`
	TTL      time.Duration      `yaml:"ttl" mapstructure:"ttl"`
	Capacity int                `yaml:"capacity" mapstructure:"capacity"`
	Cleanup  time.Duration      `yaml:"cleanup_interval" mapstructure:"cleanup_interval"`
	SQLite   JournalSQLiteStore `yaml:"sqlite,omitempty" mapstructure:"sqlite"`
	Redis    JournalRedisStore  `yaml:"redis,omitempty" mapstructure:"redis"`
}

type JournalSQLiteStore struct {
	Path string `yaml:"path" mapstructure:"path"`
}

type JournalRedisStore struct {
	Addr     string `yaml:"addr" mapstructure:"addr"`
	Username string `yaml:"username,omitempty" mapstructure:"username"`
	Password string `yaml:"password,omitempty" mapstructure:"password"`
	DB       int    `yaml:"db,omitempty" mapstructure:"db"`
	Prefix   string `yaml:"prefix,omitempty" mapstructure:"prefix"`
}
