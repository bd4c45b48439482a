package config

import "time"

type Config struct {
	Service  *ServiceConfig
	Redis    *RedisConfig
	Postgres *PostgresConfig
	WS       *WSConfig
	Call     *CallConfig
	Worker   *WorkerConfig
	Logger   *LoggerConfig
	Tracer   *TracerConfig
	Auth     *AuthConfig
}

type ServiceConfig struct {
	Name            string
	Env             string
	Add             string
	ShutdownTimeout time.Duration
}

type RedisConfig struct {
	URL          string
	ClientName   string
	DialTimeout  time.Duration
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	PoolSize     int
	MinIdleConns int
	PingTimeout  time.Duration
}

type PostgresConfig struct {
	DSN             string
	AppName         string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
	ConnMaxIdleTime time.Duration
	PingTimeout     time.Duration
}

// WSConfig tunes every socket connection.
type WSConfig struct {
	HeartbeatInterval time.Duration
	PresenceTTL       time.Duration
	SendBuffer        int
	ReadLimit         int64
	WriteTimeout      time.Duration
}

type CallConfig struct {
	StrictLedger bool
	RingTimeout  time.Duration // 0 disables
}

type WorkerConfig struct {
	NotifyGroup string
}

type LoggerConfig struct {
	Level  string
	Format string
}

type TracerConfig struct {
	Address string // empty disables the OTLP exporter
}

type AuthConfig struct {
	Secret   string
	TokenTTL time.Duration
}
