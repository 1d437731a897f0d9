package config

import "time"

// ServerConfig is the root configuration for a liveserver instance.
type ServerConfig struct {
	Instance  InstanceConfig  `yaml:"instance"`
	Listen    ListenConfig    `yaml:"listen"`
	Auth      AuthConfig      `yaml:"auth"`
	Rooms     RoomsConfig     `yaml:"rooms"`
	RateLimit RateLimitConfig `yaml:"rate_limit"`
	Queue     QueueConfig     `yaml:"queue"`
	Relay     RelayConfig     `yaml:"relay"`
	Archive   ArchiveConfig   `yaml:"archive"`
	Metrics   MetricsConfig   `yaml:"metrics"`
}

// InstanceConfig identifies this server process. The ID is stamped onto
// relayed messages so peers can discard echoes of their own publishes.
type InstanceConfig struct {
	ID string `yaml:"id"`
}

// ListenConfig holds WebSocket ingress settings.
type ListenConfig struct {
	Addr              string        `yaml:"addr"`
	ReadLimit         int64         `yaml:"read_limit"`
	WriteTimeout      time.Duration `yaml:"write_timeout"`
	PongTimeout       time.Duration `yaml:"pong_timeout"`
	PingInterval      time.Duration `yaml:"ping_interval"`
	SendBuffer        int           `yaml:"send_buffer"`
	HandshakeTimeout  time.Duration `yaml:"handshake_timeout"`
	HeartbeatInterval time.Duration `yaml:"heartbeat_interval"`
}

// AuthConfig holds token validation settings.
type AuthConfig struct {
	JWTSecret string `yaml:"jwt_secret"`
}

// RoomsConfig holds room membership settings.
type RoomsConfig struct {
	Capacity int `yaml:"capacity"`
}

// RateLimitConfig holds the per-connection fixed-window limiter settings.
type RateLimitConfig struct {
	Events      int           `yaml:"events"`
	Window      time.Duration `yaml:"window"`
	IdleTimeout time.Duration `yaml:"idle_timeout"`
}

// QueueConfig holds priority queue and flush scheduler settings.
type QueueConfig struct {
	MaxDepth      int           `yaml:"max_depth"`
	BatchSize     int           `yaml:"batch_size"`
	FlushInterval time.Duration `yaml:"flush_interval"`
	MessageTTL    time.Duration `yaml:"message_ttl"`
}

// RelayConfig holds pub/sub broker settings.
type RelayConfig struct {
	URL            string        `yaml:"url"`
	Channel        string        `yaml:"channel"`
	User           string        `yaml:"user"`
	Password       string        `yaml:"password"`
	PublishBuffer  int           `yaml:"publish_buffer"`
	RetryBaseDelay time.Duration `yaml:"retry_base_delay"`
	RetryMaxDelay  time.Duration `yaml:"retry_max_delay"`
}

// ArchiveConfig holds the delivered-event archive settings.
type ArchiveConfig struct {
	Enabled       bool          `yaml:"enabled"`
	Database      DBConfig      `yaml:"database"`
	BatchSize     int           `yaml:"batch_size"`
	FlushInterval time.Duration `yaml:"flush_interval"`
	BufferSize    int           `yaml:"buffer_size"`
}

// DBConfig holds a single database connection.
type DBConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	Name     string `yaml:"name"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
	SSLMode  string `yaml:"ssl_mode"`
	MaxConns int    `yaml:"max_conns"`
	MinConns int    `yaml:"min_conns"`
}

// MetricsConfig holds the health/metrics HTTP endpoint settings.
type MetricsConfig struct {
	Port int    `yaml:"port"`
	Path string `yaml:"path"`
}
