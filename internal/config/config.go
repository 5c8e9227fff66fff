package config

import "time"

// PanelConfig is the root configuration for a panel or hub instance.
type PanelConfig struct {
	Instance  InstanceConfig  `yaml:"instance"`
	Transport TransportConfig `yaml:"transport"`
	API       APIConfig       `yaml:"api"`
	State     StateConfig     `yaml:"state"`
	Hub       HubConfig       `yaml:"hub"`
	Metrics   MetricsConfig   `yaml:"metrics"`
	Log       LogConfig       `yaml:"log"`
}

// InstanceConfig identifies this process.
type InstanceConfig struct {
	ID string `yaml:"id"`
}

// TransportConfig holds the backend websocket connection settings.
type TransportConfig struct {
	URL            string        `yaml:"url"`
	Driver         string        `yaml:"driver"` // gorilla or coder
	ConnectTimeout time.Duration `yaml:"connect_timeout"`
	BackoffBase    time.Duration `yaml:"backoff_base"`
	BackoffMax     time.Duration `yaml:"backoff_max"`
	BackoffGrowth  float64       `yaml:"backoff_growth"`
	MaxAttempts    int           `yaml:"max_attempts"`
	Cooldown       time.Duration `yaml:"cooldown"`
	MaxPending     *int          `yaml:"max_pending"` // nil = default, 0 = unbounded
	ReadTimeout    time.Duration `yaml:"read_timeout"`
	WriteTimeout   time.Duration `yaml:"write_timeout"`
}

// APIConfig holds the backend REST control API settings.
type APIConfig struct {
	RestURL    string        `yaml:"rest_url"`
	Timeout    time.Duration `yaml:"timeout"`
	MaxRetries int           `yaml:"max_retries"`
	Poll       PollConfig    `yaml:"poll"`
}

// PollConfig controls periodic service status polling over REST.
type PollConfig struct {
	Disabled    bool          `yaml:"disabled"`
	Interval    time.Duration `yaml:"interval"`
	Services    []string      `yaml:"services"`
	Concurrency int           `yaml:"concurrency"`
}

// StateConfig selects where last-known channel state is persisted.
type StateConfig struct {
	Driver        string        `yaml:"driver"` // none, postgres, or sqlite
	SQLitePath    string        `yaml:"sqlite_path"`
	Postgres      DBConfig      `yaml:"postgres"`
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

// HubConfig holds the far-end websocket hub settings.
type HubConfig struct {
	Listen       string        `yaml:"listen"`
	Path         string        `yaml:"path"`
	PingInterval time.Duration `yaml:"ping_interval"`
	PongTimeout  time.Duration `yaml:"pong_timeout"`
	SendBuffer   int           `yaml:"send_buffer"`
}

// MetricsConfig holds Prometheus metrics settings.
type MetricsConfig struct {
	Port int    `yaml:"port"`
	Path string `yaml:"path"`
}

// LogConfig holds logging settings.
type LogConfig struct {
	Level    string         `yaml:"level"`  // debug, info, warn, error
	Format   string         `yaml:"format"` // text or json
	Output   string         `yaml:"output"` // stdout, stderr, or a file path
	Rotation RotationConfig `yaml:"rotation"`
}

// RotationConfig controls log file rotation when Output is a file.
type RotationConfig struct {
	MaxSizeMB  int  `yaml:"max_size_mb"`
	MaxBackups int  `yaml:"max_backups"`
	MaxAgeDays int  `yaml:"max_age_days"`
	Compress   bool `yaml:"compress"`
}
