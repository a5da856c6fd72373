package main

import (
	"context"
	"fmt"
	"os"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"

	"github.com/agsys/depot-dispatch/internal/flow"
	"github.com/agsys/depot-dispatch/internal/session"
)

var (
	loginPassword string
	loginAdmin    bool
)

func addSessionCommands(root *cobra.Command) {
	loginCmd := &cobra.Command{
		Use:   "login [username]",
		Short: "Log in as a worker or admin",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			password := loginPassword
			if password == "" {
				password = os.Getenv("DEPOT_PASSWORD")
			}
			if password == "" {
				return errors.New("password required (--password or DEPOT_PASSWORD)")
			}
			return withApp(func(ctx context.Context, a *app) error {
				var out *flow.Outcome
				var err error
				if loginAdmin {
					out, err = a.flow.LoginAdmin(ctx, args[0], password)
				} else {
					out, err = a.flow.Login(ctx, args[0], password)
				}
				if err != nil {
					return err
				}
				fmt.Printf("Logged in as %s\n", args[0])
				printOutcome(out)
				return nil
			})
		},
	}
	loginCmd.Flags().StringVarP(&loginPassword, "password", "p", "", "Password (or DEPOT_PASSWORD)")
	loginCmd.Flags().BoolVar(&loginAdmin, "admin", false, "Log in as an admin")

	logoutCmd := &cobra.Command{
		Use:   "logout",
		Short: "End the server session and clear local session state",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(func(ctx context.Context, a *app) error {
				if err := a.client.Logout(ctx); err != nil {
					a.log.WithError(err).Warn("server logout failed, clearing local session anyway")
				}
				if err := a.store.ClearAll(ctx); err != nil {
					return err
				}
				fmt.Println("Logged out")
				return nil
			})
		},
	}

	statusCmd := &cobra.Command{
		Use:   "status",
		Short: "Show the session and reconcile it with the server",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(func(ctx context.Context, a *app) error {
				if _, err := a.dash.CheckAuth(ctx); err != nil {
					a.log.WithError(err).Warn("could not reach server, showing local session")
				}
				return printSession(ctx, a.store)
			})
		},
	}

	root.AddCommand(loginCmd)
	root.AddCommand(logoutCmd)
	root.AddCommand(statusCmd)
}

func printSession(ctx context.Context, store *session.Store) error {
	id, ok := store.Current(ctx)
	if !ok {
		fmt.Println("Not logged in")
	} else {
		fmt.Printf("User:         %s (%s)\n", id.User, id.Role)
		fmt.Printf("Since:        %s\n", id.Since.Local().Format("2006-01-02 15:04:05"))
	}
	if routeID, ok := store.ActiveRouteID(ctx); ok {
		fmt.Printf("Active route: %s\n", routeID)
	}
	if raw, ok := store.PendingScan.Peek(ctx); ok {
		fmt.Printf("Pending scan: %s\n", raw)
	}
	if notice, ok := store.FlowNotice.Peek(ctx); ok {
		fmt.Printf("Notice:       %s\n", notice)
	}
	return nil
}
