package config

import "time"

// Default values for optional configuration fields.
const (
	DefaultInstanceID     = "panel"
	DefaultTransportURL   = "ws://127.0.0.1:8000/ws"
	DefaultDriver         = "gorilla"
	DefaultConnectTimeout = 5 * time.Second
	DefaultBackoffBase    = 1 * time.Second
	DefaultBackoffMax     = 30 * time.Second
	DefaultBackoffGrowth  = 1.5
	DefaultMaxAttempts    = 10
	DefaultCooldown       = 60 * time.Second
	DefaultMaxPending     = 1024
	DefaultWriteTimeout   = 5 * time.Second
	DefaultRestURL        = "http://127.0.0.1:8000"
	DefaultAPITimeout     = 10 * time.Second
	DefaultMaxRetries     = 3
	DefaultPollInterval   = 30 * time.Second
	DefaultPollWorkers    = 4
	DefaultStateDriver    = "none"
	DefaultSQLitePath     = "panel-state.db"
	DefaultDBPort         = 5432
	DefaultDBSSLMode      = "prefer"
	DefaultMaxConns       = 4
	DefaultMinConns       = 1
	DefaultBatchSize      = 100
	DefaultFlushInterval  = 1 * time.Second
	DefaultBufferSize     = 1000
	DefaultHubListen      = ":8000"
	DefaultHubPath        = "/ws"
	DefaultPingInterval   = 30 * time.Second
	DefaultPongTimeout    = 10 * time.Second
	DefaultSendBuffer     = 256
	DefaultMetricsPort    = 9090
	DefaultMetricsPath    = "/metrics"
	DefaultLogLevel       = "info"
	DefaultLogFormat      = "text"
	DefaultLogOutput      = "stdout"
	DefaultLogMaxSizeMB   = 50
	DefaultLogMaxBackups  = 5
	DefaultLogMaxAgeDays  = 28
)

// DefaultPollServices returns the backend services polled for status.
func DefaultPollServices() []string {
	return []string{"spotify", "bluetooth", "snapcast"}
}

func (c *PanelConfig) applyDefaults() {
	if c.Instance.ID == "" {
		c.Instance.ID = DefaultInstanceID
	}

	// Transport defaults
	t := &c.Transport
	if t.URL == "" {
		t.URL = DefaultTransportURL
	}
	if t.Driver == "" {
		t.Driver = DefaultDriver
	}
	if t.ConnectTimeout == 0 {
		t.ConnectTimeout = DefaultConnectTimeout
	}
	if t.BackoffBase == 0 {
		t.BackoffBase = DefaultBackoffBase
	}
	if t.BackoffMax == 0 {
		t.BackoffMax = DefaultBackoffMax
	}
	if t.BackoffGrowth == 0 {
		t.BackoffGrowth = DefaultBackoffGrowth
	}
	if t.MaxAttempts == 0 {
		t.MaxAttempts = DefaultMaxAttempts
	}
	if t.Cooldown == 0 {
		t.Cooldown = DefaultCooldown
	}
	if t.MaxPending == nil {
		n := DefaultMaxPending
		t.MaxPending = &n
	}
	if t.WriteTimeout == 0 {
		t.WriteTimeout = DefaultWriteTimeout
	}

	// API defaults
	if c.API.RestURL == "" {
		c.API.RestURL = DefaultRestURL
	}
	if c.API.Timeout == 0 {
		c.API.Timeout = DefaultAPITimeout
	}
	if c.API.MaxRetries == 0 {
		c.API.MaxRetries = DefaultMaxRetries
	}
	if c.API.Poll.Interval == 0 {
		c.API.Poll.Interval = DefaultPollInterval
	}
	if len(c.API.Poll.Services) == 0 {
		c.API.Poll.Services = DefaultPollServices()
	}
	if c.API.Poll.Concurrency == 0 {
		c.API.Poll.Concurrency = DefaultPollWorkers
	}

	// State defaults
	if c.State.Driver == "" {
		c.State.Driver = DefaultStateDriver
	}
	if c.State.SQLitePath == "" {
		c.State.SQLitePath = DefaultSQLitePath
	}
	applyDBDefaults(&c.State.Postgres)
	if c.State.BatchSize == 0 {
		c.State.BatchSize = DefaultBatchSize
	}
	if c.State.FlushInterval == 0 {
		c.State.FlushInterval = DefaultFlushInterval
	}
	if c.State.BufferSize == 0 {
		c.State.BufferSize = DefaultBufferSize
	}

	// Hub defaults
	if c.Hub.Listen == "" {
		c.Hub.Listen = DefaultHubListen
	}
	if c.Hub.Path == "" {
		c.Hub.Path = DefaultHubPath
	}
	if c.Hub.PingInterval == 0 {
		c.Hub.PingInterval = DefaultPingInterval
	}
	if c.Hub.PongTimeout == 0 {
		c.Hub.PongTimeout = DefaultPongTimeout
	}
	if c.Hub.SendBuffer == 0 {
		c.Hub.SendBuffer = DefaultSendBuffer
	}

	// Metrics defaults
	if c.Metrics.Port == 0 {
		c.Metrics.Port = DefaultMetricsPort
	}
	if c.Metrics.Path == "" {
		c.Metrics.Path = DefaultMetricsPath
	}

	// Log defaults
	if c.Log.Level == "" {
		c.Log.Level = DefaultLogLevel
	}
	if c.Log.Format == "" {
		c.Log.Format = DefaultLogFormat
	}
	if c.Log.Output == "" {
		c.Log.Output = DefaultLogOutput
	}
	if c.Log.Rotation.MaxSizeMB == 0 {
		c.Log.Rotation.MaxSizeMB = DefaultLogMaxSizeMB
	}
	if c.Log.Rotation.MaxBackups == 0 {
		c.Log.Rotation.MaxBackups = DefaultLogMaxBackups
	}
	if c.Log.Rotation.MaxAgeDays == 0 {
		c.Log.Rotation.MaxAgeDays = DefaultLogMaxAgeDays
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
