package main

import (
	"encoding/json"
	"os"

	"github.com/spf13/cobra"

	"mangashell/internal/ipc"
	"mangashell/internal/rpc"
	"mangashell/internal/rpc/grpcbridge"
)

var popularCmd = &cobra.Command{
	Use:   "popular",
	Short: "Fetch popular titles through a running backend",
	RunE: func(cmd *cobra.Command, args []string) error {
		token, err := bridgeToken()
		if err != nil {
			return err
		}
		transport, err := grpcbridge.Dial(cfg.BridgeAddr, token)
		if err != nil {
			return err
		}
		defer transport.Close()

		client := rpc.NewClient(transport, logger.Named("rpc"))
		titles, err := rpc.Call(cmd.Context(), client, ipc.PopularTitles, rpc.NoInput{})
		if err != nil {
			return err
		}

		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(titles)
	},
}
