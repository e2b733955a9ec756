package store

import "time"

// Config aggregates per backend configuration
type Config struct {
	AppName string

	PG   PGConfig
	CH   CHConfig
	NATS NATSConfig
	RDS  RedisConfig
}

// PGConfig configures postgres connectivity and tracing
type PGConfig struct {
	Enabled     bool
	URL         string
	MaxConns    int32
	LogSQL      bool
	SlowQueryMs int

	// Guard/boot knobs, not read by openPG, which uses fixed values
	// (20 attempts, 3s ping timeout, backoff from 150ms doubling to 2s):
	ConnectRetries int
	PingTimeout    time.Duration
}

// CHConfig configures clickhouse connectivity
type CHConfig struct {
	Enabled bool
	URL     string
	LogSQL  bool

	ClientName string
	ClientTag  string

	InsertChunk int
	MaxRetries  int
	RetryBaseMs int
}

// NATSConfig configures nats connectivity
type NATSConfig struct {
	Enabled   bool
	URL       string
	JetStream bool
}

// RedisConfig configures redis connectivity
type RedisConfig struct {
	Enabled bool
	Addr    string
	DB      int
}
