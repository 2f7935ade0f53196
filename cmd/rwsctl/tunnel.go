package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

var tunnelCmd = &cobra.Command{
	Use:   "tunnel",
	Short: "SSH tunnel commands (served by the client host)",
}

var tunnelSwitchCmd = &cobra.Command{
	Use:   "switch <id>",
	Short: "Forward the workspace's configured ports, replacing any active tunnel",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		ctx, cancel := requestContext()
		defer cancel()

		host := hostClient()
		ws, err := findWorkspace(ctx, host, args[0])
		if err != nil {
			fail(err)
		}
		if err := host.SwitchTunnel(ctx, ws); err != nil {
			fail(err)
		}
		fmt.Printf("Tunnel switched to %s.\n", ws.ID)
	},
}

var tunnelStopCmd = &cobra.Command{
	Use:   "stop",
	Short: "Stop the active tunnel",
	Run: func(cmd *cobra.Command, args []string) {
		ctx, cancel := requestContext()
		defer cancel()

		if err := hostClient().Untunnel(ctx); err != nil {
			fail(err)
		}
		fmt.Println("Tunnel stopped.")
	},
}

var tunnelActiveCmd = &cobra.Command{
	Use:   "active",
	Short: "Show the workspace of the active tunnel",
	Run: func(cmd *cobra.Command, args []string) {
		ctx, cancel := requestContext()
		defer cancel()

		id, err := hostClient().ActiveTunnel(ctx)
		if err != nil {
			fail(err)
		}
		if id == "" {
			fmt.Println("No active tunnel.")
			return
		}
		fmt.Println(id)
	},
}

func init() {
	tunnelCmd.AddCommand(tunnelSwitchCmd, tunnelStopCmd, tunnelActiveCmd)
	rootCmd.AddCommand(tunnelCmd)
}
