package main

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
	"github.com/synthome/cmdbus/config"
	"github.com/synthome/cmdbus/src/daemon"
	"github.com/synthome/cmdbus/src/service"
)

var (
	flagConfig     string
	flagAddr       string
	flagMaxClients int
	flagLogLevel   string
)

func main() {
	root := &cobra.Command{
		Use:   "cmdbusd",
		Short: "Persistent-connection command bus daemon",
		Long: `cmdbusd accepts long-lived WebSocket connections, keeps them alive
with heartbeats, and routes typed messages to registered handler daemons.`,
	}
	root.PersistentFlags().StringVarP(&flagConfig, "config", "c", "", "config file path")
	root.PersistentFlags().StringVar(&flagLogLevel, "log-level", "info", "log level (trace|debug|info|warn|error)")

	serve := &cobra.Command{
		Use:   "serve",
		Short: "Start the command bus daemon",
		RunE:  runServe,
	}
	serve.Flags().StringVar(&flagAddr, "addr", "", "listen address (overrides config)")
	serve.Flags().IntVar(&flagMaxClients, "max-clients", 0, "maximum concurrent clients (overrides config)")
	root.AddCommand(serve)

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func runServe(cmd *cobra.Command, _ []string) error {
	logger := newLogger(flagLogLevel)

	cfg, err := config.Load(flagConfig)
	if err != nil {
		return err
	}
	if flagAddr != "" {
		cfg.Addr = flagAddr
	}
	if flagMaxClients > 0 {
		cfg.MaxClients = flagMaxClients
	}

	d := daemon.New(cfg, logger)
	svc := service.New(d, logger)
	if err := svc.RegisterDaemon("core", service.NewCoreDaemon(svc)); err != nil {
		return err
	}

	if err := d.Start(); err != nil {
		return err
	}
	logger.Info().
		Str("addr", d.Addr()).
		Int("max_clients", cfg.MaxClients).
		Msg("command bus listening")

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigCh
	logger.Info().Str("signal", sig.String()).Msg("shutting down")

	return d.Stop()
}

func newLogger(level string) zerolog.Logger {
	lvl, err := zerolog.ParseLevel(level)
	if err != nil {
		lvl = zerolog.InfoLevel
	}
	return zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.Kitchen}).
		Level(lvl).
		With().Timestamp().Logger()
}
