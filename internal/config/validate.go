package config

import (
	"errors"
	"fmt"
)

// Validate checks that all required fields are set and values are valid.
func (c *ServerConfig) Validate() error {
	if c.Instance.ID == "" {
		return errors.New("instance.id is required")
	}

	if c.Auth.JWTSecret == "" {
		return errors.New("auth.jwt_secret is required")
	}

	if c.Rooms.Capacity < 1 {
		return errors.New("rooms.capacity must be >= 1")
	}

	if c.RateLimit.Events < 1 {
		return errors.New("rate_limit.events must be >= 1")
	}
	if c.RateLimit.Window <= 0 {
		return errors.New("rate_limit.window must be > 0")
	}

	if c.Queue.MaxDepth < 1 {
		return errors.New("queue.max_depth must be >= 1")
	}
	if c.Queue.BatchSize < 1 {
		return errors.New("queue.batch_size must be >= 1")
	}
	if c.Queue.BatchSize > c.Queue.MaxDepth {
		return fmt.Errorf("queue.batch_size (%d) must not exceed queue.max_depth (%d)",
			c.Queue.BatchSize, c.Queue.MaxDepth)
	}

	if c.Listen.PingInterval >= c.Listen.PongTimeout {
		return fmt.Errorf("listen.ping_interval (%s) must be shorter than listen.pong_timeout (%s)",
			c.Listen.PingInterval, c.Listen.PongTimeout)
	}

	if c.Archive.Enabled {
		if err := c.Archive.Database.validate("archive.database"); err != nil {
			return err
		}
	}

	if c.Metrics.Port < 1 || c.Metrics.Port > 65535 {
		return fmt.Errorf("metrics.port must be between 1 and 65535, got %d", c.Metrics.Port)
	}

	return nil
}

func (db *DBConfig) validate(prefix string) error {
	if db.Host == "" {
		return fmt.Errorf("%s.host is required", prefix)
	}
	if db.Name == "" {
		return fmt.Errorf("%s.name is required", prefix)
	}
	if db.User == "" {
		return fmt.Errorf("%s.user is required", prefix)
	}
	if db.MaxConns < 1 {
		return fmt.Errorf("%s.max_conns must be >= 1", prefix)
	}
	if db.MinConns < 0 {
		return fmt.Errorf("%s.min_conns must be >= 0", prefix)
	}
	if db.MinConns > db.MaxConns {
		return fmt.Errorf("%s.min_conns must not exceed max_conns", prefix)
	}
	return nil
}
