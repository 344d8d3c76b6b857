package config

import "time"

// Default values for optional configuration fields.
const (
	DefaultDBPort               = 5432
	DefaultDBSSLMode            = "prefer"
	DefaultMaxConns             = 10
	DefaultMinConns             = 2
	DefaultMaxReconnectAttempts = 10
	DefaultReconnectInterval    = 1 * time.Second
	DefaultReconnectMultiplier  = 1.0
	DefaultReconnectMaxInterval = 60 * time.Second
	DefaultPingInterval         = 30 * time.Second
	DefaultWriteTimeout         = 5 * time.Second
	DefaultRequestTimeout       = 10 * time.Second
	DefaultBatchSize            = 500
	DefaultFlushInterval        = 1 * time.Second
	DefaultBufferSize           = 10000
)

func (c *GathererConfig) applyDefaults() {
	// Stream defaults
	if c.Stream.MaxReconnectAttempts == 0 {
		c.Stream.MaxReconnectAttempts = DefaultMaxReconnectAttempts
	}
	if c.Stream.ReconnectInterval == 0 {
		c.Stream.ReconnectInterval = DefaultReconnectInterval
	}
	if c.Stream.ReconnectMultiplier == 0 {
		c.Stream.ReconnectMultiplier = DefaultReconnectMultiplier
	}
	if c.Stream.ReconnectMaxInterval == 0 {
		c.Stream.ReconnectMaxInterval = DefaultReconnectMaxInterval
	}
	if c.Stream.PingInterval == 0 {
		c.Stream.PingInterval = DefaultPingInterval
	}
	if c.Stream.WriteTimeout == 0 {
		c.Stream.WriteTimeout = DefaultWriteTimeout
	}
	if c.Stream.RequestTimeout == 0 {
		c.Stream.RequestTimeout = DefaultRequestTimeout
	}

	// Database defaults
	db := &c.Database.Postgres
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

	// Archive defaults
	if c.Archive.BatchSize == 0 {
		c.Archive.BatchSize = DefaultBatchSize
	}
	if c.Archive.FlushInterval == 0 {
		c.Archive.FlushInterval = DefaultFlushInterval
	}
	if c.Archive.BufferSize == 0 {
		c.Archive.BufferSize = DefaultBufferSize
	}
}
