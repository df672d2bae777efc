package main

import (
	"errors"
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/MrWong99/shabda/internal/config"
)

const defaultConfigPath = "config.yaml"

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "shabda",
		Short:         "Shabda repairs Devanagari speech transcripts against a vocabulary",
		Long:          `Shabda keeps a Devanagari vocabulary in a prefix trie and replaces unknown transcript tokens with the vocabulary word a language model finds most plausible.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().String("config", defaultConfigPath, "path to the YAML configuration file")

	root.AddCommand(
		newServeCmd(),
		newBuildCmd(),
		newMergeCmd(),
		newCheckCmd(),
		newSuggestCmd(),
		newExtractCmd(),
	)
	return root
}

// loadConfig reads the file named by --config. When the flag was left at its
// default and the file does not exist, the default configuration is used so
// the vocabulary tools work without a config file.
func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	path, _ := cmd.Flags().GetString("config")
	cfg, err := config.Load(path)
	if err == nil {
		return cfg, nil
	}
	if errors.Is(err, os.ErrNotExist) && !cmd.Flags().Changed("config") {
		cfg = &config.Config{}
		config.ApplyDefaults(cfg)
		return cfg, nil
	}
	if errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("config file %q not found, copy configs/example.yaml to get started", path)
	}
	return nil, err
}

// newLogger returns a text logger writing to stderr whose level can be
// changed through lv.
func newLogger(level config.LogLevel, lv *slog.LevelVar) *slog.Logger {
	switch level {
	case config.LogDebug:
		lv.Set(slog.LevelDebug)
	case config.LogWarn:
		lv.Set(slog.LevelWarn)
	case config.LogError:
		lv.Set(slog.LevelError)
	default:
		lv.Set(slog.LevelInfo)
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: lv}))
}
