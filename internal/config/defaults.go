package config

import "time"

// Default values for optional configuration fields.
const (
	DefaultListenAddr        = ":8080"
	DefaultReadLimit         = 64 * 1024
	DefaultWriteTimeout      = 5 * time.Second
	DefaultPongTimeout       = 60 * time.Second
	DefaultHandshakeTimeout  = 10 * time.Second
	DefaultHeartbeatInterval = 90 * time.Second
	DefaultSendBuffer        = 64

	DefaultRoomCapacity = 500

	DefaultRateLimitEvents = 10
	DefaultRateLimitWindow = 1 * time.Second
	DefaultBucketIdleTime  = 60 * time.Second

	DefaultQueueMaxDepth  = 10000
	DefaultFlushBatchSize = 10
	DefaultFlushInterval  = 10 * time.Millisecond
	DefaultMessageTTL     = 30 * time.Second

	DefaultRelayURL       = "nats://localhost:4222"
	DefaultRelayChannel   = "league-live.events"
	DefaultPublishBuffer  = 1024
	DefaultRetryBaseDelay = 1 * time.Second
	DefaultRetryMaxDelay  = 30 * time.Second

	DefaultArchiveBatchSize  = 500
	DefaultArchiveFlushEvery = 1 * time.Second
	DefaultArchiveBuffer     = 5000
	DefaultDBPort            = 5432
	DefaultDBSSLMode         = "prefer"
	DefaultMaxConns          = 4
	DefaultMinConns          = 1

	DefaultMetricsPort = 9090
	DefaultMetricsPath = "/metrics"
)

func (c *ServerConfig) applyDefaults() {
	// Listen defaults
	if c.Listen.Addr == "" {
		c.Listen.Addr = DefaultListenAddr
	}
	if c.Listen.ReadLimit == 0 {
		c.Listen.ReadLimit = DefaultReadLimit
	}
	if c.Listen.WriteTimeout == 0 {
		c.Listen.WriteTimeout = DefaultWriteTimeout
	}
	if c.Listen.PongTimeout == 0 {
		c.Listen.PongTimeout = DefaultPongTimeout
	}
	if c.Listen.PingInterval == 0 {
		// Must fire before the pong deadline expires.
		c.Listen.PingInterval = c.Listen.PongTimeout * 9 / 10
	}
	if c.Listen.SendBuffer == 0 {
		c.Listen.SendBuffer = DefaultSendBuffer
	}
	if c.Listen.HandshakeTimeout == 0 {
		c.Listen.HandshakeTimeout = DefaultHandshakeTimeout
	}
	if c.Listen.HeartbeatInterval == 0 {
		c.Listen.HeartbeatInterval = DefaultHeartbeatInterval
	}

	// Rooms defaults
	if c.Rooms.Capacity == 0 {
		c.Rooms.Capacity = DefaultRoomCapacity
	}

	// Rate limit defaults
	if c.RateLimit.Events == 0 {
		c.RateLimit.Events = DefaultRateLimitEvents
	}
	if c.RateLimit.Window == 0 {
		c.RateLimit.Window = DefaultRateLimitWindow
	}
	if c.RateLimit.IdleTimeout == 0 {
		c.RateLimit.IdleTimeout = DefaultBucketIdleTime
	}

	// Queue defaults
	if c.Queue.MaxDepth == 0 {
		c.Queue.MaxDepth = DefaultQueueMaxDepth
	}
	if c.Queue.BatchSize == 0 {
		c.Queue.BatchSize = DefaultFlushBatchSize
	}
	if c.Queue.FlushInterval == 0 {
		c.Queue.FlushInterval = DefaultFlushInterval
	}
	if c.Queue.MessageTTL == 0 {
		c.Queue.MessageTTL = DefaultMessageTTL
	}

	// Relay defaults
	if c.Relay.URL == "" {
		c.Relay.URL = DefaultRelayURL
	}
	if c.Relay.Channel == "" {
		c.Relay.Channel = DefaultRelayChannel
	}
	if c.Relay.PublishBuffer == 0 {
		c.Relay.PublishBuffer = DefaultPublishBuffer
	}
	if c.Relay.RetryBaseDelay == 0 {
		c.Relay.RetryBaseDelay = DefaultRetryBaseDelay
	}
	if c.Relay.RetryMaxDelay == 0 {
		c.Relay.RetryMaxDelay = DefaultRetryMaxDelay
	}

	// Archive defaults
	if c.Archive.BatchSize == 0 {
		c.Archive.BatchSize = DefaultArchiveBatchSize
	}
	if c.Archive.FlushInterval == 0 {
		c.Archive.FlushInterval = DefaultArchiveFlushEvery
	}
	if c.Archive.BufferSize == 0 {
		c.Archive.BufferSize = DefaultArchiveBuffer
	}
	applyDBDefaults(&c.Archive.Database)

	// Metrics defaults
	if c.Metrics.Port == 0 {
		c.Metrics.Port = DefaultMetricsPort
	}
	if c.Metrics.Path == "" {
		c.Metrics.Path = DefaultMetricsPath
	}
}

func applyDBDefaults(db *DBConfig) {
	if db.Port == 0 {
		db.Port = DefaultDBPort
	}
	if db.SSLMode == "" {
		db.SSLMode = DefaultDBSSLMode
	}
	if db.MaxConns == 0 {
		db.MaxConns = DefaultMaxConns
	}
	if db.MinConns == 0 {
		db.MinConns = DefaultMinConns
	}
}
