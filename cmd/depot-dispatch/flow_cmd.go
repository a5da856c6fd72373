package main

import (
	"context"
	"fmt"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"

	"github.com/agsys/depot-dispatch/internal/qr"
)

var (
	completeLiters       float64
	completeNote         string
	completeDeliveryNote string
	returnWarehouse      string
)

func addFlowCommands(root *cobra.Command) {
	scanCmd := &cobra.Command{
		Use:   "scan [payload]",
		Short: "Apply a scanned QR (truck, center or warehouse label)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(func(ctx context.Context, a *app) error {
				out, err := a.flow.HandleScan(ctx, args[0])
				if err != nil {
					return err
				}
				printOutcome(out)
				return nil
			})
		},
	}

	resumeCmd := &cobra.Command{
		Use:   "resume",
		Short: "Apply the saved scan, if any, and show the next step",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(func(ctx context.Context, a *app) error {
				out, err := a.flow.Resume(ctx)
				if err != nil {
					return err
				}
				printOutcome(out)
				return nil
			})
		},
	}

	claimCmd := &cobra.Command{
		Use:   "claim [truck-id]",
		Short: "Start the planned route of a truck",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(func(ctx context.Context, a *app) error {
				out, err := a.flow.Claim(ctx, args[0])
				if err != nil {
					return err
				}
				printOutcome(out)
				return nil
			})
		},
	}

	completeCmd := &cobra.Command{
		Use:   "complete",
		Short: "Close the current stop with the delivered liters",
		RunE: func(cmd *cobra.Command, args []string) error {
			liters, note := completeLiters, completeNote
			if completeDeliveryNote != "" {
				dn, ok := qr.ParseDeliveryNote(completeDeliveryNote)
				if !ok {
					return errors.New("delivery note QR not recognized")
				}
				if !cmd.Flags().Changed("liters") {
					liters = dn.LoadL
				}
				if note == "" {
					note = dn.Note
				}
			} else if !cmd.Flags().Changed("liters") {
				return errors.New("--liters or --delivery-note is required")
			}
			return withApp(func(ctx context.Context, a *app) error {
				out, err := a.flow.CompleteStop(ctx, liters, note)
				if err != nil {
					return err
				}
				printOutcome(out)
				return nil
			})
		},
	}
	completeCmd.Flags().Float64VarP(&completeLiters, "liters", "l", 0, "Liters delivered")
	completeCmd.Flags().StringVarP(&completeNote, "note", "n", "", "Delivery note text")
	completeCmd.Flags().StringVar(&completeDeliveryNote, "delivery-note", "", "Scanned delivery note QR (JSON or query string)")

	returnCmd := &cobra.Command{
		Use:   "return",
		Short: "Record arrival back at the warehouse and close the route",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(func(ctx context.Context, a *app) error {
				out, err := a.flow.ArriveWarehouse(ctx, qr.Warehouse{ID: returnWarehouse})
				if err != nil {
					return err
				}
				printOutcome(out)
				if out.Route != nil && out.Route.Finalized() {
					fmt.Printf("Delivered %.0f L in total\n", out.Route.TotalDelivered)
				}
				return nil
			})
		},
	}
	returnCmd.Flags().StringVar(&returnWarehouse, "warehouse", qr.DefaultWarehouseID, "Warehouse id")

	root.AddCommand(scanCmd)
	root.AddCommand(resumeCmd)
	root.AddCommand(claimCmd)
	root.AddCommand(completeCmd)
	root.AddCommand(returnCmd)
}
