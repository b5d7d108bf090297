package config

import (
	"runtime"
	"time"
)

// DefaultConfig returns the configuration used when no file overrides it.
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			IP:   "0.0.0.0",
			Port: 5000,
		},
		Log: LogConfig{
			Level: "INFO",
			Dir:   "data/logs",
			File:  "server.log",
		},
		Web: WebConfig{
			StaticDir: "./web",
			Index:     "index.html",
			Favicon:   "static/favicon.ico",
		},
		Transport: TransportConfig{
			WebSocket: WebSocketConfig{
				Path:             "/ws",
				IP:               "0.0.0.0",
				Port:             0,
				HandshakeTimeout: 10 * time.Second,
				ReadLimit:        8 << 20,
				IdleTimeout:      2 * time.Minute,
			},
		},
		Vision: VisionConfig{
			TargetWidth:             640,
			TargetHeight:            360,
			JPEGQuality:             90,
			DetectTimeout:           2 * time.Second,
			MaxConcurrentDetections: runtime.NumCPU(),
			Detector:                "cascade",
			Cascade: CascadeConfig{
				Path:         "data/haarcascade_frontalface_default.xml",
				ScaleFactor:  1.1,
				MinNeighbors: 5,
				MinSize:      30,
			},
			Security: SecurityConfig{
				MaxFileSize:    5 * 1024 * 1024,
				MaxPixels:      16777216,
				MaxWidth:       4096,
				MaxHeight:      4096,
				AllowedFormats: []string{"jpeg", "jpg", "png", "webp", "gif"},
				EnableDeepScan: true,
			},
		},
		Capture: CaptureConfig{
			Enabled:                false,
			Device:                 0,
			Width:                  640,
			Height:                 480,
			StreamQuality:          80,
			ReopenAfterFailures:    5,
			UnhealthyAfterFailures: 10,
			BackoffInitial:         500 * time.Millisecond,
			BackoffMax:             10 * time.Second,
		},
		Journal: JournalConfig{
			Driver:   "memory",
			TTL:      24 * time.Hour,
			Capacity: 1000,
			Cleanup:  10 * time.Minute,
			SQLite: JournalSQLiteStore{
				Path: "data/facecam.db",
			},
			Redis: JournalRedisStore{
				Addr:   "127.0.0.1:6379",
				Prefix: "facecam:journal",
			},
		},
	}
}
