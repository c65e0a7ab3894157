package main

import (
	"os"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/artwise/artwise/internal/config"
	"github.com/artwise/artwise/internal/observability"
)

var version = "dev" // set via ldflags at build time

var rootCmd = &cobra.Command{
	Use:   "artwise",
	Short: "Realtime voice conversations about artworks",
	Long: `artwise runs the credential and billing backend for realtime artwork
conversations, and a terminal client that talks to it.`,
	Version:       version,
	SilenceErrors: true,
	SilenceUsage:  true,
}

func init() {
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(talkCmd)
}

func loadConfig() (config.Config, zerolog.Logger, error) {
	cfg, err := config.Load()
	if err != nil {
		return config.Config{}, zerolog.Nop(), err
	}
	return cfg, observability.NewLogger(cfg.LogLevel, cfg.LogFormat, os.Stderr), nil
}
