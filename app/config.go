package app

import (
	"github.com/gobuffalo/nulls"
	"github.com/lefinal/royale-server/errors"
	"github.com/lefinal/royale-server/interaction"
	"github.com/lefinal/royale-server/session"
	"go.uber.org/zap/zapcore"
)

// Config is the configuration needed in order to boot an App.
type Config struct {
	// DBConn is the connection string for the PostgreSQL database.
	DBConn string `json:"db_conn"`
	// MaxDBConnections is the maximum number of database connections. If not
	// set, defaultMaxDBConnections is used.
	MaxDBConnections nulls.Int32 `json:"max_db_connections"`
	// ServeAddr is the address the web server listens on for websocket
	// connections and REST requests.
	ServeAddr string `json:"serve_addr"`
	// MQTTAddr is the address of the MQTT server. If not set, no operator channel
	// is available and log entries are not published.
	MQTTAddr nulls.String `json:"mqtt_addr"`
	// MQTTClientID is the client id to use for the MQTT connection.
	MQTTClientID nulls.String `json:"mqtt_client_id"`
	// Log is the logging configuration.
	Log LogConfig `json:"log"`
	// Session holds the gameplay constants for the session.
	Session session.Config `json:"session"`
	// Interaction configures the revive interaction of each player.
	Interaction interaction.Config `json:"interaction"`
	// GroundLevel is the height of the ground for the world.
	GroundLevel float64 `json:"ground_level"`
}

// LogConfig is the configuration for logging.
type LogConfig struct {
	// StdoutLogLevel is the minimum level for logging to stdout.
	StdoutLogLevel zapcore.Level `json:"stdout_log_level"`
	// PublishLogLevel is the minimum level for log entries to publish via MQTT.
	PublishLogLevel zapcore.Level `json:"publish_log_level"`
	// HighPriorityOutput is the optional file for warnings and errors.
	HighPriorityOutput nulls.String `json:"high_priority_output"`
	// DebugOutput is the optional file for all log entries.
	DebugOutput nulls.String `json:"debug_output"`
	// MaxSize is the maximum size in megabytes of log files before they get
	// rotated.
	MaxSize int `json:"max_size"`
	// KeepDays is the number of days to keep rotated log files.
	KeepDays int `json:"keep_days"`
	// SystemDebugStatsInterval is the interval in seconds for logging session and
	// system stats. Disabled if not set or zero.
	SystemDebugStatsInterval nulls.Int `json:"system_debug_stats_interval"`
}

// DefaultConfig returns the Config with defaults for everything except
// DBConn.
func DefaultConfig() Config {
	return Config{
		ServeAddr: ":8080",
		Log: LogConfig{
			StdoutLogLevel:  zapcore.InfoLevel,
			PublishLogLevel: zapcore.InfoLevel,
			MaxSize:         64,
			KeepDays:        14,
		},
		Session:     session.DefaultConfig(),
		Interaction: interaction.DefaultConfig(),
	}
}

// ValidateConfig validates the given Config.
func ValidateConfig(config Config) error {
	if config.DBConn == "" {
		return errors.NewInternalError("missing db connection string", nil)
	}
	if config.MaxDBConnections.Valid && config.MaxDBConnections.Int32 < 1 {
		return errors.NewInternalError("max db connections must be positive",
			errors.Details{"was": config.MaxDBConnections.Int32})
	}
	if config.ServeAddr == "" {
		return errors.NewInternalError("missing serve addr", nil)
	}
	if config.MQTTAddr.Valid && config.MQTTAddr.String == "" {
		return errors.NewInternalError("mqtt addr must not be empty if set", nil)
	}
	if (config.Log.HighPriorityOutput.Valid || config.Log.DebugOutput.Valid) && config.Log.MaxSize < 1 {
		return errors.NewInternalError("max log file size must be positive", errors.Details{"was": config.Log.MaxSize})
	}
	if config.Log.SystemDebugStatsInterval.Valid && config.Log.SystemDebugStatsInterval.Int < 0 {
		return errors.NewInternalError("system debug stats interval must not be negative",
			errors.Details{"was": config.Log.SystemDebugStatsInterval.Int})
	}
	if config.Session.TickRate < 1 {
		return errors.NewInternalError("tick rate must be positive", errors.Details{"was": config.Session.TickRate})
	}
	if config.Session.MaxTeams < 1 {
		return errors.NewInternalError("max teams must be positive", errors.Details{"was": config.Session.MaxTeams})
	}
	if !config.Session.Mode.Valid() {
		return errors.NewInternalError("invalid team mode", errors.Details{"was": int(config.Session.Mode)})
	}
	if config.Interaction.PollInterval <= 0 {
		return errors.NewInternalError("interaction poll interval must be positive",
			errors.Details{"was": config.Interaction.PollInterval.String()})
	}
	return nil
}
