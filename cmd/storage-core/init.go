package main

import (
	"os"

	"github.com/spf13/cobra"

	"github.com/wdcore/engine/logger"
	"github.com/wdcore/engine/server/conf"
)

func newInitCmd(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "init",
		Short: "Create the data directory a storage core instance will run against",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := conf.Load(*configPath)
			if err != nil {
				return err
			}
			if err := os.MkdirAll(cfg.DataDir, 0755); err != nil {
				return err
			}
			logger.Infof("storage-core init: data directory ready at %s", cfg.DataDir)
			return nil
		},
	}
}
