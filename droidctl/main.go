// droidctl is the command line client of the task store.
//
// Usage:
//
//	droidctl [--store-url URL] [--json] <command> <subcommand> [flags]
//
// Commands:
//
//	run   Manage runs
//	task  Manage tasks
//	work  Claim and execute tasks of a run
//
// Authentication uses the DROIDHUB_INTERNAL_KEY env var when set; otherwise
// a client-credentials grant configured through DROIDCTL_TOKEN_URL,
// DROIDCTL_CLIENT_ID and DROIDCTL_CLIENT_SECRET.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/droidhub-labs/droidhub-go/internal/cli"
	"github.com/droidhub-labs/droidhub-go/internal/platform/env"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var storeURL string
	var jsonOutput bool

	rootCmd := &cobra.Command{
		Use:           "droidctl",
		Short:         "droidctl — task store command line client",
		Version:       cli.Version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.PersistentFlags().StringVar(&storeURL, "store-url", env.String("DROIDHUB_STORE_URL", "http://localhost:8080"), "Store URL")
	rootCmd.PersistentFlags().BoolVar(&jsonOutput, "json", false, "Output in JSON format")

	clientFn := func() *cli.Client {
		return cli.NewClient(ctx, storeURL, cli.Credentials{
			InternalKey:  env.String("DROIDHUB_INTERNAL_KEY", ""),
			TokenURL:     env.String("DROIDCTL_TOKEN_URL", ""),
			ClientID:     env.String("DROIDCTL_CLIENT_ID", ""),
			ClientSecret: env.String("DROIDCTL_CLIENT_SECRET", ""),
			Scopes:       env.Strings("DROIDCTL_SCOPES"),
		})
	}
	outputFn := func() *cli.Output { return cli.NewOutput(jsonOutput) }

	rootCmd.AddCommand(
		cli.NewRunCmd(clientFn, outputFn),
		cli.NewTaskCmd(clientFn, outputFn),
		cli.NewWorkCmd(clientFn, outputFn),
	)

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}
