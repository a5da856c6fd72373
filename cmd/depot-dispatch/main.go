// Depot Dispatch
// Operator client for the fertilizer depot: tank monitoring, route steps
// driven by QR scans and urgent replenishment planning
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"

	"github.com/agsys/depot-dispatch/internal/cloud"
)

const version = "0.1.0"

var (
	configFile string
	verbose    bool

	rootCmd = &cobra.Command{
		Use:           "depot-dispatch",
		Short:         "Depot Dispatch",
		Long:          "Operator client for the fertilizer depot. Monitors tank levels, walks workers through their delivery routes from QR scans and plans urgent refills.",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	versionCmd = &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("Depot Dispatch v%s\n", version)
		},
	}
)

func init() {
	rootCmd.PersistentFlags().StringVarP(&configFile, "config", "c", "", "Configuration file or directory (default ./config.yaml or ~/.depot-dispatch/config.yaml)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Enable debug logging")

	rootCmd.AddCommand(versionCmd)
	addSessionCommands(rootCmd)
	addStateCommands(rootCmd)
	addFlowCommands(rootCmd)
	addPlanningCommands(rootCmd)
	addReportCommands(rootCmd)
	addServiceCommands(rootCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// withApp opens the app for the duration of fn. A session the server
// no longer accepts is cleared locally before the error is reported.
func withApp(fn func(ctx context.Context, a *app) error) error {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	a, err := openApp(ctx)
	if err != nil {
		return err
	}
	defer a.close(context.Background())

	err = fn(ctx, a)
	if errors.Is(err, cloud.ErrAuthExpired) {
		if cerr := a.store.ClearAll(ctx); cerr != nil {
			a.log.WithError(cerr).Error("failed to clear session")
		}
		return errors.New("session expired, log in again")
	}
	if msg, ok := cloud.IsRejected(err); ok {
		return errors.New(msg)
	}
	return err
}
