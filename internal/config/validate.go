package config

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
)

// Validate checks that all required fields are set and values are valid.
func (c *PanelConfig) Validate() error {
	if c.Instance.ID == "" {
		return errors.New("instance.id is required")
	}

	if err := c.Transport.validate("transport"); err != nil {
		return err
	}

	if c.API.RestURL == "" {
		return errors.New("api.rest_url is required")
	}
	if c.API.MaxRetries < 0 {
		return errors.New("api.max_retries must be >= 0")
	}
	if !c.API.Poll.Disabled {
		if c.API.Poll.Interval <= 0 {
			return errors.New("api.poll.interval must be > 0")
		}
		if c.API.Poll.Concurrency < 1 {
			return errors.New("api.poll.concurrency must be >= 1")
		}
		for i, svc := range c.API.Poll.Services {
			if svc == "" {
				return fmt.Errorf("api.poll.services[%d] is empty", i)
			}
		}
	}

	if err := c.State.validate("state"); err != nil {
		return err
	}

	if !strings.HasPrefix(c.Hub.Path, "/") {
		return fmt.Errorf("hub.path must start with /, got %q", c.Hub.Path)
	}
	if c.Hub.PingInterval <= 0 {
		return errors.New("hub.ping_interval must be > 0")
	}
	if c.Hub.PongTimeout <= 0 {
		return errors.New("hub.pong_timeout must be > 0")
	}
	if c.Hub.SendBuffer < 1 {
		return errors.New("hub.send_buffer must be >= 1")
	}

	if c.Metrics.Port < 1 || c.Metrics.Port > 65535 {
		return errors.New("metrics.port must be between 1 and 65535")
	}

	switch c.Log.Level {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("log.level must be one of debug, info, warn, error, got %q", c.Log.Level)
	}
	switch c.Log.Format {
	case "text", "json":
	default:
		return fmt.Errorf("log.format must be text or json, got %q", c.Log.Format)
	}

	return nil
}

func (t *TransportConfig) validate(prefix string) error {
	u, err := url.Parse(t.URL)
	if err != nil {
		return fmt.Errorf("%s.url is invalid: %w", prefix, err)
	}
	if u.Scheme != "ws" && u.Scheme != "wss" {
		return fmt.Errorf("%s.url must use ws or wss, got %q", prefix, t.URL)
	}
	switch t.Driver {
	case "gorilla", "coder":
	default:
		return fmt.Errorf("%s.driver must be gorilla or coder, got %q", prefix, t.Driver)
	}
	if t.BackoffBase <= 0 {
		return fmt.Errorf("%s.backoff_base must be > 0", prefix)
	}
	if t.BackoffMax < t.BackoffBase {
		return fmt.Errorf("%s.backoff_max (%s) cannot be less than backoff_base (%s)", prefix, t.BackoffMax, t.BackoffBase)
	}
	if t.BackoffGrowth <= 1 {
		return fmt.Errorf("%s.backoff_growth must be > 1", prefix)
	}
	if t.MaxAttempts < 1 {
		return fmt.Errorf("%s.max_attempts must be >= 1", prefix)
	}
	if t.MaxPending != nil && *t.MaxPending < 0 {
		return fmt.Errorf("%s.max_pending must be >= 0", prefix)
	}
	if t.ReadTimeout < 0 {
		return fmt.Errorf("%s.read_timeout must be >= 0", prefix)
	}
	return nil
}

func (s *StateConfig) validate(prefix string) error {
	switch s.Driver {
	case "none":
		return nil
	case "sqlite":
		if s.SQLitePath == "" {
			return fmt.Errorf("%s.sqlite_path is required", prefix)
		}
	case "postgres":
		if err := s.Postgres.validate(prefix + ".postgres"); err != nil {
			return err
		}
	default:
		return fmt.Errorf("%s.driver must be none, postgres, or sqlite, got %q", prefix, s.Driver)
	}

	if s.BatchSize < 1 {
		return fmt.Errorf("%s.batch_size must be >= 1", prefix)
	}
	if s.BufferSize < 1 {
		return fmt.Errorf("%s.buffer_size must be >= 1", prefix)
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
	if db.Password == "" {
		return fmt.Errorf("%s.password is required", prefix)
	}
	if db.MaxConns < 1 {
		return fmt.Errorf("%s.max_conns must be >= 1", prefix)
	}
	if db.MinConns < 0 {
		return fmt.Errorf("%s.min_conns must be >= 0", prefix)
	}
	if db.MinConns > db.MaxConns {
		return fmt.Errorf("%s.min_conns (%d) cannot exceed max_conns (%d)", prefix, db.MinConns, db.MaxConns)
	}
	return nil
}
