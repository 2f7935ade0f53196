package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/lzjever/remote-workspace/internal/healthrpc"
)

var healthCmd = &cobra.Command{
	Use:   "health",
	Short: "Show reconciliation health of the workspace daemon",
	Run: func(cmd *cobra.Command, args []string) {
		ctx, cancel := requestContext()
		defer cancel()

		resp, err := daemonClient().ReconcileHealth(ctx)
		if err != nil {
			fail(err)
		}
		printResult(resp)
	},
}

var healthGRPCCmd = &cobra.Command{
	Use:   "grpc",
	Short: "Query the daemon's gRPC health service",
	Run: func(cmd *cobra.Command, args []string) {
		ctx, cancel := requestContext()
		defer cancel()

		client, err := healthrpc.NewClient(grpcAddr)
		if err != nil {
			fail(err)
		}
		defer client.Close()

		for _, service := range []string{"", healthrpc.ReconcilerService} {
			status, err := client.Check(ctx, service)
			if err != nil {
				fail(err)
			}
			name := service
			if name == "" {
				name = "(process)"
			}
			fmt.Printf("%s: %s\n", name, status)
		}
	},
}

func init() {
	healthCmd.AddCommand(healthGRPCCmd)
	rootCmd.AddCommand(healthCmd)
}
