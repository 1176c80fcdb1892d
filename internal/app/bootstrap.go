package app

import (
	"fmt"
	"io"
	"os"

	"mcpconnect/internal/config"
	"mcpconnect/pkg/logging"
)

// Application owns the loaded configuration and the initialized services.
//
// Example usage:
//
//	application, err := app.NewApplication(app.NewConfig(false, true, ""))
//	if err != nil {
//	    return err
//	}
//	defer application.Close()
//	discovery, err := application.Services().ToolExec.DiscoverTools(ctx, userID)
type Application struct {
	config   *Config
	services *Services
}

// NewApplication loads configuration, configures logging and initializes
// all services. An empty cfg.ConfigPath means ~/.config/mcpconnect.
func NewApplication(cfg *Config) (*Application, error) {
	var logOutput io.Writer = os.Stderr
	if cfg.Quiet {
		logOutput = io.Discard
	}
	// Provisional logging so config loading can report problems.
	logging.InitForCLI(levelFor(cfg, ""), logOutput)

	if cfg.Settings == nil {
		path := cfg.ConfigPath
		if path == "" {
			defaultPath, err := config.GetDefaultConfigPath()
			if err != nil {
				return nil, err
			}
			path = defaultPath
		}
		settings, err := config.LoadConfig(path)
		if err != nil {
			logging.Error("Bootstrap", err, "Failed to load configuration from %s", path)
			return nil, fmt.Errorf("failed to load configuration from %s: %w", path, err)
		}
		cfg.Settings = &settings
	}

	level := levelFor(cfg, cfg.Settings.LogLevel)
	if cfg.Server {
		logging.InitForServer(level, logOutput, cfg.Settings.API.JSONLogs)
	} else {
		logging.InitForCLI(level, logOutput)
	}

	services, err := InitializeServices(*cfg.Settings)
	if err != nil {
		logging.Error("Bootstrap", err, "Failed to initialize services")
		return nil, fmt.Errorf("failed to initialize services: %w", err)
	}

	return &Application{config: cfg, services: services}, nil
}

// Services returns the initialized components.
func (a *Application) Services() *Services {
	return a.services
}

// Close releases the stores.
func (a *Application) Close() error {
	return a.services.Close()
}

func levelFor(cfg *Config, configured string) logging.LogLevel {
	if cfg.Debug {
		return logging.LevelDebug
	}
	return logging.ParseLevel(configured)
}
