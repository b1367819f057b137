package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v2"
)

type Config struct {
	Node struct {
		Username string `yaml:"username"`
		DataDir  string `yaml:"data_dir"`
	} `yaml:"node"`

	Discovery struct {
		BroadcastPort     int           `yaml:"broadcast_port"`
		BroadcastInterval time.Duration `yaml:"broadcast_interval"`
		PruneInterval     time.Duration `yaml:"prune_interval"`
		PeerTTL           time.Duration `yaml:"peer_ttl"`
	} `yaml:"discovery"`

	Transport struct {
		ListenPort  int           `yaml:"listen_port"`
		DialTimeout time.Duration `yaml:"dial_timeout"`
	} `yaml:"transport"`

	Calling struct {
		ControlPort int `yaml:"control_port"`
		AudioPort   int `yaml:"audio_port"`
		VideoPort   int `yaml:"video_port"`
	} `yaml:"calling"`

	Media struct {
		AudioFrameSamples int `yaml:"audio_frame_samples"`
		VideoWidth        int `yaml:"video_width"`
		VideoHeight       int `yaml:"video_height"`
		VideoFPS          int `yaml:"video_fps"`
		JPEGQuality       int `yaml:"jpeg_quality"`
		ChunkThreshold    int `yaml:"chunk_threshold"`
	} `yaml:"media"`

	Hub struct {
		Address           string        `yaml:"address"`
		PingInterval      time.Duration `yaml:"ping_interval"`
		PongTimeout       time.Duration `yaml:"pong_timeout"`
		MessagesPerSecond float64       `yaml:"messages_per_second"`
		Burst             int           `yaml:"burst"`
	} `yaml:"hub"`

	History struct {
		Backend string `yaml:"backend"` // memory | file | redis

		Redis struct {
			Address  string `yaml:"address"`
			Password string `yaml:"password"`
			DB       int    `yaml:"db"`
			PoolSize int    `yaml:"pool_size"`
		} `yaml:"redis"`
	} `yaml:"history"`

	API struct {
		Enabled           bool    `yaml:"enabled"`
		Address           string  `yaml:"address"`
		RequestsPerSecond float64 `yaml:"requests_per_second"`
		Burst             int     `yaml:"burst"`
	} `yaml:"api"`

	Monitoring struct {
		PrometheusEnabled bool `yaml:"prometheus_enabled"`
		PrometheusPort    int  `yaml:"prometheus_port"`
	} `yaml:"monitoring"`

	Logging struct {
		Level string `yaml:"level"`
	} `yaml:"logging"`
}

// Validate checks that configuration values are within acceptable ranges.
func (c *Config) Validate() error {
	// Node
	if c.Node.Username == "" {
		return fmt.Errorf("node.username must not be empty")
	}
	if c.Node.DataDir == "" {
		return fmt.Errorf("node.data_dir must not be empty")
	}

	// Discovery
	if c.Discovery.BroadcastPort <= 0 || c.Discovery.BroadcastPort > 65535 {
		return fmt.Errorf("discovery.broadcast_port must be in 1..65535")
	}
	if c.Discovery.BroadcastInterval <= 0 {
		return fmt.Errorf("discovery.broadcast_interval must be > 0")
	}
	if c.Discovery.PruneInterval <= 0 {
		return fmt.Errorf("discovery.prune_interval must be > 0")
	}
	if c.Discovery.PeerTTL <= c.Discovery.BroadcastInterval {
		return fmt.Errorf("discovery.peer_ttl must be greater than discovery.broadcast_interval")
	}

	// Transport
	if c.Transport.ListenPort <= 0 || c.Transport.ListenPort > 65535 {
		return fmt.Errorf("transport.listen_port must be in 1..65535")
	}
	if c.Transport.DialTimeout <= 0 {
		return fmt.Errorf("transport.dial_timeout must be > 0")
	}

	// Calling
	if c.Calling.ControlPort <= 0 || c.Calling.ControlPort > 65535 {
		return fmt.Errorf("calling.control_port must be in 1..65535")
	}
	if c.Calling.AudioPort <= 0 || c.Calling.AudioPort > 65535 {
		return fmt.Errorf("calling.audio_port must be in 1..65535")
	}
	if c.Calling.VideoPort <= 0 || c.Calling.VideoPort > 65535 {
		return fmt.Errorf("calling.video_port must be in 1..65535")
	}
	if c.Calling.AudioPort == c.Calling.VideoPort ||
		c.Calling.AudioPort == c.Calling.ControlPort ||
		c.Calling.VideoPort == c.Calling.ControlPort {
		return fmt.Errorf("calling ports must be distinct")
	}

	// Media
	if c.Media.AudioFrameSamples <= 0 {
		return fmt.Errorf("media.audio_frame_samples must be > 0")
	}
	if c.Media.VideoWidth <= 0 || c.Media.VideoHeight <= 0 {
		return fmt.Errorf("media.video_width and media.video_height must be > 0")
	}
	if c.Media.VideoFPS <= 0 {
		return fmt.Errorf("media.video_fps must be > 0")
	}
	if c.Media.JPEGQuality <= 0 || c.Media.JPEGQuality > 100 {
		return fmt.Errorf("media.jpeg_quality must be in 1..100")
	}
	if c.Media.ChunkThreshold <= 0 || c.Media.ChunkThreshold > 65000 {
		return fmt.Errorf("media.chunk_threshold must be in 1..65000")
	}

	// Hub
	if c.Hub.Address == "" {
		return fmt.Errorf("hub.address must not be empty")
	}
	if c.Hub.PingInterval <= 0 {
		return fmt.Errorf("hub.ping_interval must be > 0")
	}
	if c.Hub.PongTimeout <= 0 {
		return fmt.Errorf("hub.pong_timeout must be > 0")
	}
	if c.Hub.MessagesPerSecond <= 0 {
		return fmt.Errorf("hub.messages_per_second must be > 0")
	}
	if c.Hub.Burst <= 0 {
		return fmt.Errorf("hub.burst must be > 0")
	}

	// History
	switch c.History.Backend {
	case "memory", "file":
	case "redis":
		if c.History.Redis.Address == "" {
			return fmt.Errorf("history.redis.address must not be empty when backend=redis")
		}
		if c.History.Redis.PoolSize <= 0 {
			return fmt.Errorf("history.redis.pool_size must be > 0 when backend=redis")
		}
	default:
		return fmt.Errorf("history.backend must be one of memory, file, redis")
	}

	// API
	if c.API.Enabled {
		if c.API.Address == "" {
			return fmt.Errorf("api.address must not be empty when api.enabled=true")
		}
		if c.API.RequestsPerSecond <= 0 {
			return fmt.Errorf("api.requests_per_second must be > 0 when api.enabled=true")
		}
		if c.API.Burst <= 0 {
			return fmt.Errorf("api.burst must be > 0 when api.enabled=true")
		}
	}

	// Monitoring
	if c.Monitoring.PrometheusEnabled && c.Monitoring.PrometheusPort <= 0 {
		return fmt.Errorf("monitoring.prometheus_port must be > 0 when prometheus_enabled=true")
	}

	// Logging
	if c.Logging.Level == "" {
		return fmt.Errorf("logging.level must not be empty")
	}

	return nil
}

// Load reads configuration from a YAML file and validates it. A missing file
// yields the defaults.
func Load(configPath string) (*Config, error) {
	if _, err := os.Stat(configPath); os.IsNotExist(err) {
		return DefaultConfig(), nil
	}
	return LoadStrict(configPath)
}

// LoadStrict is Load for a path the operator named explicitly: a missing
// file is an error, never silent defaults.
func LoadStrict(configPath string) (*Config, error) {
	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file %s: %w", configPath, err)
	}

	cfg := DefaultConfig()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config yaml: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// DefaultConfig returns configuration with sane defaults.
func DefaultConfig() *Config {
	cfg := &Config{}

	cfg.Node.Username = "anonymous"
	cfg.Node.DataDir = "data"

	cfg.Discovery.BroadcastPort = 50000
	cfg.Discovery.BroadcastInterval = 2 * time.Second
	cfg.Discovery.PruneInterval = 10 * time.Second
	cfg.Discovery.PeerTTL = 30 * time.Second

	cfg.Transport.ListenPort = 12345
	cfg.Transport.DialTimeout = 5 * time.Second

	cfg.Calling.AudioPort = 13000
	cfg.Calling.VideoPort = 13001
	cfg.Calling.ControlPort = 13002

	cfg.Media.AudioFrameSamples = 1024
	cfg.Media.VideoWidth = 640
	cfg.Media.VideoHeight = 480
	cfg.Media.VideoFPS = 15
	cfg.Media.JPEGQuality = 80
	cfg.Media.ChunkThreshold = 60000

	cfg.Hub.Address = ":12346"
	cfg.Hub.PingInterval = 20 * time.Second
	cfg.Hub.PongTimeout = 40 * time.Second
	cfg.Hub.MessagesPerSecond = 50
	cfg.Hub.Burst = 100

	cfg.History.Backend = "file"
	cfg.History.Redis.Address = "localhost:6379"
	cfg.History.Redis.PoolSize = 10

	cfg.API.Enabled = false
	cfg.API.Address = ":8080"
	cfg.API.RequestsPerSecond = 20
	cfg.API.Burst = 40

	cfg.Monitoring.PrometheusEnabled = false
	cfg.Monitoring.PrometheusPort = 9090

	cfg.Logging.Level = "info"

	return cfg
}
