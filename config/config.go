// Package config loads the server's startup configuration from flags and
// environment variables in layers: defaults first, then flags, then
// environment variables override both.
//
// Field groups are organized by component (databases, maxmemory/eviction,
// persistence/durable log, replication, cron frequency, client limits) via
// a ServerConfig struct, DefaultServerConfig(), LoadConfigFromFlags(), and
// a set of getEnv*/To*Config() helpers.
package config

import (
	"flag"
	"os"
	"strconv"
	"time"
)

// ServerConfig holds every tunable the reactor needs at startup.
type ServerConfig struct {
	// Network
	ListenAddr string
	UnixSocket string

	// Keyspace
	Databases int

	// Memory / eviction
	MaxMemoryBytes  int64
	EvictionPolicy  string // "noeviction", "allkeys-lru", "allkeys-lfu", "volatile-lru", "volatile-lfu", "volatile-ttl"
	MaxClientsMem   int64
	ClientRateLimit float64 // tokens/sec per client, feeds golang.org/x/time/rate
	ClientBurst     int

	// Cron
	HZ          int
	ClientHZMax int

	// Persistence / durable log
	AppendOnly      bool
	AppendFsync     string // "always", "everysec", "no"
	DurableLogPath  string
	DurableLogMySQLDSN string

	// Replication fan-out
	ReplicaAMQPURL      string
	ReplicaExchangeName string

	// Auth
	RequirePass string

	// Admin/protected commands
	EnableDebugCommand  bool
	EnableProtectedMode bool

	// Shutdown
	ShutdownTimeout time.Duration

	// Client maintenance
	ClientIdleTimeout time.Duration

	// Logging
	LogFormat string // "legacy" or "logfmt"
	LogLevel  string

	// Process
	PIDFile    string
	MetricsAddr string // empty disables the /metrics HTTP endpoint

	// Reconnect (durable-log / replica transports), mirroring the
	// teacher's client.ReconnectConfig shape.
	ReconnectEnabled           bool
	ReconnectMaxAttempts       int
	ReconnectInitialInterval   time.Duration
	ReconnectMaxInterval       time.Duration
	ReconnectBackoffMultiplier float64
	ReconnectResetInterval     time.Duration
}

// DefaultServerConfig returns the built-in defaults, applied before flags
// and environment variables are consulted.
func DefaultServerConfig() *ServerConfig {
	return &ServerConfig{
		ListenAddr: "127.0.0.1:6399",
		UnixSocket: "",

		Databases: 16,

		MaxMemoryBytes:  0, // 0 = unlimited
		EvictionPolicy:  "noeviction",
		MaxClientsMem:   0,
		ClientRateLimit: 0, // 0 = unlimited
		ClientBurst:     100,

		HZ:          10,
		ClientHZMax: 100,

		AppendOnly:      false,
		AppendFsync:     "everysec",
		DurableLogPath:  "kvcore.aof",
		DurableLogMySQLDSN: "",

		ReplicaAMQPURL:      "",
		ReplicaExchangeName: "kvcore.replication",

		RequirePass: "",

		EnableDebugCommand:  false,
		EnableProtectedMode: true,

		ShutdownTimeout: 10 * time.Second,

		ClientIdleTimeout: 0, // 0 = disabled

		LogFormat: "legacy",
		LogLevel:  "notice",

		PIDFile:     "",
		MetricsAddr: "",

		ReconnectEnabled:           true,
		ReconnectMaxAttempts:       5,
		ReconnectInitialInterval:   time.Second,
		ReconnectMaxInterval:       30 * time.Second,
		ReconnectBackoffMultiplier: 2.0,
		ReconnectResetInterval:     time.Hour,
	}
}

// LoadConfigFromFlags builds a ServerConfig from built-in defaults,
// command-line flags, then environment variable overrides — in that
// precedence order.
func LoadConfigFromFlags() *ServerConfig {
	c := DefaultServerConfig()

	flag.StringVar(&c.ListenAddr, "listen", c.ListenAddr, "TCP listen address")
	flag.StringVar(&c.UnixSocket, "unixsocket", c.UnixSocket, "Unix socket path (empty disables)")
	flag.IntVar(&c.Databases, "databases", c.Databases, "Number of logically numbered databases")

	flag.Int64Var(&c.MaxMemoryBytes, "maxmemory", c.MaxMemoryBytes, "Maximum memory in bytes (0 = unlimited)")
	flag.StringVar(&c.EvictionPolicy, "maxmemory-policy", c.EvictionPolicy, "Eviction policy")
	flag.Int64Var(&c.MaxClientsMem, "maxmemory-clients", c.MaxClientsMem, "Maximum total client buffer memory in bytes")
	flag.Float64Var(&c.ClientRateLimit, "client-rate-limit", c.ClientRateLimit, "Per-client command rate limit (tokens/sec, 0 = unlimited)")
	flag.IntVar(&c.ClientBurst, "client-rate-burst", c.ClientBurst, "Per-client rate limiter burst size")

	flag.IntVar(&c.HZ, "hz", c.HZ, "server-cron frequency (ticks per second)")
	flag.IntVar(&c.ClientHZMax, "client-hz-max", c.ClientHZMax, "client-cron maximum frequency (ticks per second)")

	flag.BoolVar(&c.AppendOnly, "appendonly", c.AppendOnly, "Enable the durable log (AOF-equivalent)")
	flag.StringVar(&c.AppendFsync, "appendfsync", c.AppendFsync, "Durable log fsync policy: always, everysec, no")
	flag.StringVar(&c.DurableLogPath, "dir-aof", c.DurableLogPath, "Durable log file path")
	flag.StringVar(&c.DurableLogMySQLDSN, "durablelog-mysql-dsn", c.DurableLogMySQLDSN, "MySQL DSN for the durable-log audit sink (empty disables)")

	flag.StringVar(&c.ReplicaAMQPURL, "replica-amqp-url", c.ReplicaAMQPURL, "AMQP broker URL for replica fan-out (empty disables)")
	flag.StringVar(&c.ReplicaExchangeName, "replica-exchange", c.ReplicaExchangeName, "AMQP exchange used for replica fan-out")

	flag.StringVar(&c.RequirePass, "requirepass", c.RequirePass, "Require clients to AUTH with this password")

	flag.BoolVar(&c.EnableDebugCommand, "enable-debug-command", c.EnableDebugCommand, "Allow DEBUG on non-local connections")
	flag.BoolVar(&c.EnableProtectedMode, "protected-mode", c.EnableProtectedMode, "Refuse non-local connections without a password")

	flag.DurationVar(&c.ShutdownTimeout, "shutdown-timeout", c.ShutdownTimeout, "Graceful shutdown grace period")
	flag.DurationVar(&c.ClientIdleTimeout, "timeout", c.ClientIdleTimeout, "Client idle timeout (0 disables)")

	flag.StringVar(&c.LogFormat, "log-format", c.LogFormat, "Log line format: legacy or logfmt")
	flag.StringVar(&c.LogLevel, "loglevel", c.LogLevel, "Log level: debug, verbose, notice, warning")

	flag.StringVar(&c.PIDFile, "pidfile", c.PIDFile, "Path to write the process pid file (empty disables)")
	flag.StringVar(&c.MetricsAddr, "metrics-addr", c.MetricsAddr, "Address to serve /metrics on (empty disables)")

	flag.BoolVar(&c.ReconnectEnabled, "reconnect-enabled", c.ReconnectEnabled, "Enable transport reconnection logic")
	flag.IntVar(&c.ReconnectMaxAttempts, "reconnect-max-attempts", c.ReconnectMaxAttempts, "Maximum reconnection attempts")
	flag.DurationVar(&c.ReconnectInitialInterval, "reconnect-initial-interval", c.ReconnectInitialInterval, "Initial reconnect backoff interval")
	flag.DurationVar(&c.ReconnectMaxInterval, "reconnect-max-interval", c.ReconnectMaxInterval, "Maximum reconnect backoff interval")
	flag.Float64Var(&c.ReconnectBackoffMultiplier, "reconnect-backoff-multiplier", c.ReconnectBackoffMultiplier, "Reconnect backoff multiplier")
	flag.DurationVar(&c.ReconnectResetInterval, "reconnect-reset-interval", c.ReconnectResetInterval, "Interval after which backoff resets")

	flag.Parse()

	c.ListenAddr = getEnv("KVCORE_LISTEN", c.ListenAddr)
	c.UnixSocket = getEnv("KVCORE_UNIXSOCKET", c.UnixSocket)
	c.Databases = getEnvInt("KVCORE_DATABASES", c.Databases)

	c.MaxMemoryBytes = getEnvInt64("KVCORE_MAXMEMORY", c.MaxMemoryBytes)
	c.EvictionPolicy = getEnv("KVCORE_MAXMEMORY_POLICY", c.EvictionPolicy)
	c.MaxClientsMem = getEnvInt64("KVCORE_MAXMEMORY_CLIENTS", c.MaxClientsMem)
	c.ClientRateLimit = getEnvFloat64("KVCORE_CLIENT_RATE_LIMIT", c.ClientRateLimit)
	c.ClientBurst = getEnvInt("KVCORE_CLIENT_RATE_BURST", c.ClientBurst)

	c.HZ = getEnvInt("KVCORE_HZ", c.HZ)
	c.ClientHZMax = getEnvInt("KVCORE_CLIENT_HZ_MAX", c.ClientHZMax)

	c.AppendOnly = getEnvBool("KVCORE_APPENDONLY", c.AppendOnly)
	c.AppendFsync = getEnv("KVCORE_APPENDFSYNC", c.AppendFsync)
	c.DurableLogPath = getEnv("KVCORE_AOF_PATH", c.DurableLogPath)
	c.DurableLogMySQLDSN = getEnv("KVCORE_DURABLELOG_MYSQL_DSN", c.DurableLogMySQLDSN)

	c.ReplicaAMQPURL = getEnv("KVCORE_REPLICA_AMQP_URL", c.ReplicaAMQPURL)
	c.ReplicaExchangeName = getEnv("KVCORE_REPLICA_EXCHANGE", c.ReplicaExchangeName)

	c.RequirePass = getEnv("KVCORE_REQUIREPASS", c.RequirePass)

	c.EnableDebugCommand = getEnvBool("KVCORE_ENABLE_DEBUG_COMMAND", c.EnableDebugCommand)
	c.EnableProtectedMode = getEnvBool("KVCORE_PROTECTED_MODE", c.EnableProtectedMode)

	c.ShutdownTimeout = getEnvDuration("KVCORE_SHUTDOWN_TIMEOUT", c.ShutdownTimeout)
	c.ClientIdleTimeout = getEnvDuration("KVCORE_TIMEOUT", c.ClientIdleTimeout)

	c.LogFormat = getEnv("KVCORE_LOG_FORMAT", c.LogFormat)
	c.LogLevel = getEnv("KVCORE_LOGLEVEL", c.LogLevel)

	c.PIDFile = getEnv("KVCORE_PIDFILE", c.PIDFile)
	c.MetricsAddr = getEnv("KVCORE_METRICS_ADDR", c.MetricsAddr)

	c.ReconnectEnabled = getEnvBool("KVCORE_RECONNECT_ENABLED", c.ReconnectEnabled)
	c.ReconnectMaxAttempts = getEnvInt("KVCORE_RECONNECT_MAX_ATTEMPTS", c.ReconnectMaxAttempts)
	c.ReconnectInitialInterval = getEnvDuration("KVCORE_RECONNECT_INITIAL_INTERVAL", c.ReconnectInitialInterval)
	c.ReconnectMaxInterval = getEnvDuration("KVCORE_RECONNECT_MAX_INTERVAL", c.ReconnectMaxInterval)
	c.ReconnectBackoffMultiplier = getEnvFloat64("KVCORE_RECONNECT_BACKOFF_MULTIPLIER", c.ReconnectBackoffMultiplier)
	c.ReconnectResetInterval = getEnvDuration("KVCORE_RECONNECT_RESET_INTERVAL", c.ReconnectResetInterval)

	return c
}

func getEnv(key, defaultValue string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if v := os.Getenv(key); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return defaultValue
}

func getEnvInt64(key string, defaultValue int64) int64 {
	if v := os.Getenv(key); v != "" {
		if i, err := strconv.ParseInt(v, 10, 64); err == nil {
			return i
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return defaultValue
}

func getEnvFloat64(key string, defaultValue float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return defaultValue
}
