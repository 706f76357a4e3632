package cmd

import (
	"context"
	"fmt"

	"github.com/ardanlabs/conf/v3"
	"github.com/spf13/cobra"

	"runchainnet/internal/config"
	"runchainnet/internal/logger"
	"runchainnet/internal/node"
)

// build is set via -ldflags at release build time.
var build = "develop"

var startCmd = &cobra.Command{
	Use:   "start",
	Short: "Start a miner node and join the gossip network",
	RunE: func(cmd *cobra.Command, args []string) error {
		log, err := logger.New("NODE")
		if err != nil {
			return fmt.Errorf("constructing logger: %w", err)
		}
		defer log.Sync()

		cfg, help, err := config.Parse(build)
		if err != nil {
			return err
		}
		if help != "" {
			fmt.Println(help)
			return nil
		}

		out, err := conf.String(&cfg)
		if err != nil {
			return fmt.Errorf("rendering config: %w", err)
		}
		log.Infow("startup", "config", out)

		ctx := cmd.Context()
		if ctx == nil {
			ctx = context.Background()
		}

		n, err := node.New(ctx, log, cfg)
		if err != nil {
			return fmt.Errorf("constructing node: %w", err)
		}
		return n.Run(ctx)
	},
}

func init() {
	rootCmd.AddCommand(startCmd)
}
