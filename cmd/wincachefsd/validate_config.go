package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/wincachefs/wincachefs/internal/config"
)

var validateConfigCommand = &cobra.Command{
	Use:   "validate-config <path>",
	Short: "Load a config file and report whether it passes validation",
	Args:  cobra.ExactArgs(1),
	RunE:  runValidateConfig,
}

func runValidateConfig(cmd *cobra.Command, args []string) error {
	cfg := config.NewDefault()
	if err := cfg.LoadFromFile(args[0]); err != nil {
		return err
	}
	if err := cfg.LoadFromEnv(); err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid: %w", err)
	}

	fmt.Printf("ok: %d compiler root(s), %d MB budget, %d download thread(s)\n",
		len(cfg.Compilers), cfg.Global.TotalCacheSizeMB, cfg.Global.DownloadThreads)
	return nil
}
