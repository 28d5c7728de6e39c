package main

import (
	"CardDetServer/config"
	"errors"
	"os"

	"github.com/spf13/cobra"
)

const defaultConfigPath = "config.yaml"

func newRootCommand() *cobra.Command {
	var configFlag string

	rootCmd := &cobra.Command{
		Use:           "carddet",
		Short:         "Card detection server and offline scanner",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmd.Help()
		},
	}
	rootCmd.PersistentFlags().StringVarP(&configFlag, "config", "c", defaultConfigPath, "Configuration file path")

	load := func(cmd *cobra.Command) (config.Config, error) {
		return loadConfig(configFlag, cmd.Flags().Changed("config"))
	}
	rootCmd.AddCommand(newServeCommand(load))
	rootCmd.AddCommand(newScanCommand(load))
	return rootCmd
}

type configLoader func(cmd *cobra.Command) (config.Config, error)

// loadConfig reads path. A missing file is only an error when the path was
// given explicitly; otherwise the defaults apply.
func loadConfig(path string, explicit bool) (config.Config, error) {
	if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) && !explicit {
		cfg := config.Default()
		return cfg, cfg.Validate()
	}
	return config.Load(path)
}
