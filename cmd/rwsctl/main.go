package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/lzjever/remote-workspace/internal/apiclient"
)

var (
	apiURL   string
	hostURL  string
	grpcAddr string
	output   string
	timeout  time.Duration
)

var rootCmd = &cobra.Command{
	Use:   "rwsctl",
	Short: "rwsctl - remote workspace command line tool",
	Long:  `rwsctl manages remote workspaces through the workspace daemon and the local client host.`,
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&apiURL, "api-url", "a", "http://localhost:8080", "Workspace daemon URL")
	rootCmd.PersistentFlags().StringVar(&hostURL, "host-url", "http://127.0.0.1:8022", "Client host URL")
	rootCmd.PersistentFlags().StringVar(&grpcAddr, "grpc-addr", "localhost:7070", "Workspace daemon gRPC health address")
	rootCmd.PersistentFlags().StringVarP(&output, "output", "o", "table", "Output format (table, json)")
	rootCmd.PersistentFlags().DurationVar(&timeout, "timeout", 30*time.Second, "Request timeout")
}

func daemonClient() *apiclient.Client { return apiclient.New(apiURL, nil) }

func hostClient() *apiclient.Client { return apiclient.New(hostURL, nil) }

func requestContext() (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), timeout)
}

func fail(err error) {
	fmt.Fprintf(os.Stderr, "Error: %v\n", err)
	os.Exit(1)
}
