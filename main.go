package main

import (
	"context"
	"encoding/json"
	"fmt"
	"github.com/caarlos0/env/v11"
	"github.com/lefinal/royale-server/app"
	"github.com/lefinal/royale-server/errors"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"os"
	"os/signal"
	"syscall"
)

// bootstrapEnv is read from environment variables before loading the config
// file.
type bootstrapEnv struct {
	// ConfigPath is the path to the JSON config file.
	ConfigPath string `env:"ROYALE_CONFIG" envDefault:"config.json"`
	// LogLevel overrides the stdout log level from the config file.
	LogLevel string `env:"ROYALE_LOG_LEVEL"`
}

func main() {
	fallbackLogger, _ := zap.NewProduction()
	config, err := loadConfig()
	if err != nil {
		errors.Log(fallbackLogger, errors.Wrap(err, "load config", nil))
		os.Exit(1)
	}
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()
	err = app.NewApp(config).Boot(ctx)
	if err != nil {
		errors.Log(fallbackLogger, err)
		os.Exit(1)
	}
}

// loadConfig reads bootstrapEnv and loads the app.Config from the referenced
// file.
func loadConfig() (app.Config, error) {
	var bootstrap bootstrapEnv
	if err := env.Parse(&bootstrap); err != nil {
		return app.Config{}, errors.NewInternalErrorFromErr(err, "parse env", nil)
	}
	config := app.DefaultConfig()
	raw, err := os.ReadFile(bootstrap.ConfigPath)
	if err != nil {
		return app.Config{}, errors.NewInternalErrorFromErr(err, "read config file",
			errors.Details{"path": bootstrap.ConfigPath})
	}
	if err = json.Unmarshal(raw, &config); err != nil {
		return app.Config{}, errors.NewJSONError(err, fmt.Sprintf("parse config file %s", bootstrap.ConfigPath), false)
	}
	if bootstrap.LogLevel != "" {
		var level zapcore.Level
		if err = level.UnmarshalText([]byte(bootstrap.LogLevel)); err != nil {
			return app.Config{}, errors.NewInternalErrorFromErr(err, "parse log level",
				errors.Details{"was": bootstrap.LogLevel})
		}
		config.Log.StdoutLogLevel = level
	}
	return config, nil
}
