package cli

import (
	"os"
	"strings"
	"time"

	"classquiz/internal/app"
	"classquiz/internal/config"
	"classquiz/internal/infra/httpstore"
	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
)

var (
	port       string
	configPath string
	logLevel   string
)

// Execute runs the CLI.
func Execute() error {
	// best-effort: a missing .env is normal outside local development
	_ = godotenv.Load()
	return newRootCmd().Execute()
}

func newRootCmd() *cobra.Command {
	envPort := os.Getenv("PORT")
	envConfig := os.Getenv("CONFIG_PATH")
	if envConfig == "" {
		envConfig = "config/config.yaml"
	}

	cmd := &cobra.Command{
		Use:           "classquiz",
		Short:         "Live classroom quiz: shared session store, host and player consoles",
		SilenceUsage:  true,
		SilenceErrors: false,
	}

	cmd.PersistentFlags().StringVar(&port, "port", envPort, "port to listen on (serve)")
	cmd.PersistentFlags().StringVar(&configPath, "config", envConfig, "path to YAML config")
	cmd.PersistentFlags().StringVar(&logLevel, "log-level", os.Getenv("LOG_LEVEL"), "log level override")
	cmd.AddCommand(NewServeCmd(&configPath, &port))
	cmd.AddCommand(NewMigrateCmd(&configPath))
	cmd.AddCommand(NewHostCmd(&configPath))
	cmd.AddCommand(NewPlayCmd(&configPath))
	return cmd
}

// loadConfig reads the config file and builds the console logger.
func loadConfig(path string) (config.Config, zerolog.Logger, error) {
	cfg, err := config.Load(path)
	if err != nil {
		return cfg, zerolog.Nop(), err
	}
	level := cfg.Log.Level
	if logLevel != "" {
		level = logLevel
	}
	return cfg, newLogger(level), nil
}

func newLogger(level string) zerolog.Logger {
	lvl, err := zerolog.ParseLevel(strings.ToLower(level))
	if err != nil || level == "" {
		lvl = zerolog.InfoLevel
	}
	return zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.Kitchen}).
		Level(lvl).
		With().
		Timestamp().
		Logger()
}

func cadenceFromConfig(cfg config.Config) app.Cadence {
	d := app.DefaultCadence()
	return app.Cadence{
		Lobby:       config.Duration(cfg.Poll.Lobby, d.Lobby),
		HostRoster:  config.Duration(cfg.Poll.HostRoster, d.HostRoster),
		HostAnswers: config.Duration(cfg.Poll.HostAnswers, d.HostAnswers),
		PlayerState: config.Duration(cfg.Poll.PlayerState, d.PlayerState),
		Result:      config.Duration(cfg.Poll.Result, d.Result),
	}
}

func storeClient(cfg config.Config) *httpstore.Client {
	url := cfg.Store.URL
	if url == "" {
		url = "http://localhost:8080"
	}
	return httpstore.NewClient(url, config.Duration(cfg.Store.Timeout, httpstore.DefaultTimeout))
}
