package app

import "time"

// Config contains all runtime configuration loaded from environment variables.
type Config struct {
	ServerURL string
	WSURL     string

	LogLevel  string
	LogPretty bool

	TypingInactivity time.Duration
	UndoWindow       time.Duration

	SendQueueSize     int
	WriteTimeout      time.Duration
	HeartbeatInterval time.Duration
	HeartbeatTimeout  time.Duration
	ReconnectMin      time.Duration
	ReconnectMax      time.Duration

	// DatabaseURL enables the optional local message archive when set.
	DatabaseURL string
	DBSchema    string
	DBMaxConns  int32
	DBMinConns  int32

	// MetricsAddr enables the Prometheus endpoint when set (e.g. ":9090").
	MetricsAddr string
}

// LoadConfig loads Config from environment variables with defaults.
func LoadConfig() Config {
	return Config{
		ServerURL: EnvString("CHATLINK_SERVER_URL", "http://127.0.0.1:8080"),
		WSURL:     EnvString("CHATLINK_WS_URL", "ws://127.0.0.1:8080/ws"),

		LogLevel:  EnvString("CHATLINK_LOG_LEVEL", "info"),
		LogPretty: EnvBool("CHATLINK_LOG_PRETTY", false),

		TypingInactivity: EnvDuration("CHATLINK_TYPING_INACTIVITY", 3*time.Second),
		UndoWindow:       EnvDuration("CHATLINK_UNDO_WINDOW", 5*time.Second),

		SendQueueSize:     EnvInt("CHATLINK_WS_SEND_QUEUE", 256),
		WriteTimeout:      EnvDuration("CHATLINK_WS_WRITE_TIMEOUT", 5*time.Second),
		HeartbeatInterval: EnvDuration("CHATLINK_WS_HEARTBEAT_INTERVAL", 25*time.Second),
		HeartbeatTimeout:  EnvDuration("CHATLINK_WS_HEARTBEAT_TIMEOUT", 5*time.Second),
		ReconnectMin:      EnvDuration("CHATLINK_WS_RECONNECT_MIN", 500*time.Millisecond),
		ReconnectMax:      EnvDuration("CHATLINK_WS_RECONNECT_MAX", 30*time.Second),

		DatabaseURL: EnvString("CHATLINK_DATABASE_URL", ""),
		DBSchema:    EnvString("CHATLINK_DB_SCHEMA", "chatlink"),
		DBMaxConns:  EnvInt32("CHATLINK_DB_MAX_CONNS", 4),
		DBMinConns:  EnvInt32("CHATLINK_DB_MIN_CONNS", 0),

		MetricsAddr: EnvString("CHATLINK_METRICS_ADDR", ""),
	}
}
