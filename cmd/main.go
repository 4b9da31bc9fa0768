package main

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"multimodal-rag/internal/config"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

const configFilePath = "./configs/config.yaml"

type rootOptions struct {
	configPath string
	logLevel   string
}

func main() {
	setupLogger("info")

	opts := &rootOptions{}
	root := &cobra.Command{
		Use:           "multimodal-rag",
		Short:         "Question answering over PDFs, including the content of their images",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVarP(&opts.configPath, "config", "c", configFilePath, "path to the YAML config file")
	root.PersistentFlags().StringVar(&opts.logLevel, "log-level", "", "override log.level (debug, info, warn, error)")

	root.AddCommand(
		ingestCMD(opts),
		askCMD(opts),
		uploadCMD(opts),
		serveCMD(opts),
		configCMD(opts),
		indexCMD(opts),
	)

	if err := root.Execute(); err != nil {
		log.Error().Err(err).Msg("Command failed")
		os.Exit(1)
	}
}

func setupLogger(level string) {
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	lvl, err := zerolog.ParseLevel(strings.ToLower(level))
	if err != nil || level == "" {
		lvl = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(lvl)
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: time.RFC3339}).With().Caller().Logger()
}

// loadConfig reads and validates the config, then applies its log level.
func loadConfig(opts *rootOptions) (*config.Config, error) {
	cfg, err := config.LoadConfig(opts.configPath)
	if err != nil {
		return nil, err
	}
	if opts.logLevel != "" {
		cfg.Log.Level = opts.logLevel
	}
	setupLogger(cfg.Log.Level)

	if verrs := cfg.Validate(); len(verrs) > 0 {
		errs := make([]error, len(verrs))
		for i, v := range verrs {
			errs[i] = v
		}
		return nil, fmt.Errorf("invalid config %s: %w", opts.configPath, errors.Join(errs...))
	}
	log.Debug().Str("config", opts.configPath).Msg("Loaded config")
	return cfg, nil
}
