// Package config loads the static engine configuration: host/port binding,
// the shared frame queue size, capture defaults, and the ambient
// buffer/timeout/logging/limit tuning every subsystem reads from.
package config

import (
	"fmt"
	"net"
	"os"

	"github.com/BurntSushi/toml"
	"go.uber.org/zap"
)

// Config is the root engine configuration, decoded from a TOML file with
// defaults filled in first (same shape as the teacher's Config/LoadConfig).
type Config struct {
	Server   ServerConfig  `toml:"server" json:"server"`
	Ingest   IngestConfig  `toml:"ingest" json:"ingest"`
	Buffers  BufferConfig  `toml:"buffers" json:"buffers"`
	Timeouts TimeoutConfig `toml:"timeouts" json:"timeouts"`
	Logging  LoggingConfig `toml:"logging" json:"logging"`
	Limits   LimitConfig   `toml:"limits" json:"limits"`
}

// ServerConfig holds HTTP bind/advertise settings.
type ServerConfig struct {
	Host         string `toml:"host" json:"host"`
	Port         int    `toml:"port" json:"port"`
	AdvertisedIP string `toml:"advertised_ip" json:"advertised_ip"` // auto-detected if empty
}

// IngestConfig holds Layer 1 capture defaults (spec.md §6).
type IngestConfig struct {
	DefaultTargetFPS int `toml:"default_target_fps" json:"default_target_fps"`
	MaxSources       int `toml:"max_sources" json:"max_sources"`
	FrameQueueSize   int `toml:"frame_queue_size" json:"frame_queue_size"`
	JPEGQuality      int `toml:"jpeg_quality" json:"jpeg_quality"`
	DefaultWidth     int `toml:"default_width" json:"default_width"`
	DefaultHeight    int `toml:"default_height" json:"default_height"`
}

// BufferConfig holds channel buffer sizes not already covered by
// IngestConfig.FrameQueueSize. See DESIGN.md for why frame/status buffering
// isn't duplicated here.
type BufferConfig struct {
	RelayChannelSize int `toml:"relay_channel_size" json:"relay_channel_size"`
}

// TimeoutConfig holds timeout and delay settings.
type TimeoutConfig struct {
	DefaultReconnectDelayS float64 `toml:"default_reconnect_delay_s" json:"default_reconnect_delay_s"`
	DefaultTimeoutS        float64 `toml:"default_timeout_s" json:"default_timeout_s"`
	ShutdownTimeoutSeconds int     `toml:"shutdown_timeout_seconds" json:"shutdown_timeout_seconds"`
	StatusPushIntervalS    float64 `toml:"status_push_interval_s" json:"status_push_interval_s"`
	MJPEGStreamHz          int     `toml:"mjpeg_stream_hz" json:"mjpeg_stream_hz"`
}

// LoggingConfig holds logging interval settings.
type LoggingConfig struct {
	Level            string `toml:"level" json:"level"`
	StatsLogInterval int    `toml:"stats_log_interval_seconds" json:"stats_log_interval_seconds"`
}

// LimitConfig holds resource limit settings.
type LimitConfig struct {
	MaxLogFiles      int `toml:"max_log_files" json:"max_log_files"`
	MaxPayloadSizeMB int `toml:"max_payload_size_mb" json:"max_payload_size_mb"`
}

func defaults() *Config {
	return &Config{
		Server: ServerConfig{
			Host: "0.0.0.0",
			Port: 8080,
		},
		Ingest: IngestConfig{
			DefaultTargetFPS: 10,
			MaxSources:       10,
			FrameQueueSize:   30,
			JPEGQuality:      80,
			DefaultWidth:     640,
			DefaultHeight:    480,
		},
		Buffers: BufferConfig{
			RelayChannelSize: 10,
		},
		Timeouts: TimeoutConfig{
			DefaultReconnectDelayS: 5.0,
			DefaultTimeoutS:        10.0,
			ShutdownTimeoutSeconds: 30,
			StatusPushIntervalS:    2.0,
			MJPEGStreamHz:          15,
		},
		Logging: LoggingConfig{
			Level:            "info",
			StatsLogInterval: 60,
		},
		Limits: LimitConfig{
			MaxLogFiles:      20,
			MaxPayloadSizeMB: 8,
		},
	}
}

// LoadConfig loads configuration from a TOML file, falling back to
// defaults for any file that doesn't exist. ARGUS_HOST and
// ARGUS_ADVERTISED_IP environment variables override the corresponding
// fields after decode, mirroring the teacher's PI_IP convention.
func LoadConfig(configPath string) (*Config, error) {
	logger, _ := zap.NewProduction()
	defer logger.Sync()

	cfg := defaults()

	if _, err := os.Stat(configPath); err == nil {
		if _, err := toml.DecodeFile(configPath, cfg); err != nil {
			return nil, fmt.Errorf("decode config file: %w", err)
		}
		logger.Info("config loaded from file", zap.String("path", configPath))
	} else {
		logger.Info("config file not found, using defaults", zap.String("path", configPath))
	}

	if v := os.Getenv("ARGUS_HOST"); v != "" {
		cfg.Server.Host = v
	}
	if v := os.Getenv("ARGUS_ADVERTISED_IP"); v != "" {
		cfg.Server.AdvertisedIP = v
	}

	if cfg.Server.AdvertisedIP == "" {
		if ip := getLocalIP(); ip != "" {
			cfg.Server.AdvertisedIP = ip
			logger.Info("auto-detected advertised ip", zap.String("ip", ip))
		} else {
			cfg.Server.AdvertisedIP = "localhost"
			logger.Warn("could not detect local ip, using localhost")
		}
	}

	return cfg, nil
}

func getLocalIP() string {
	conn, err := net.Dial("udp", "8.8.8.8:80")
	if err != nil {
		return ""
	}
	defer conn.Close()

	localAddr := conn.LocalAddr().(*net.UDPAddr)
	return localAddr.IP.String()
}

// SaveConfig writes the current configuration to a TOML file.
func SaveConfig(cfg *Config, configPath string) error {
	file, err := os.Create(configPath)
	if err != nil {
		return fmt.Errorf("create config file: %w", err)
	}
	defer file.Close()

	encoder := toml.NewEncoder(file)
	if err := encoder.Encode(cfg); err != nil {
		return fmt.Errorf("encode config: %w", err)
	}
	return nil
}
