package cli

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"inventory-ledger/internal/app"
	"inventory-ledger/internal/core"
)

// Connector opens the application service. The returned func releases it.
type Connector func(ctx context.Context) (app.ApplicationService, func(), error)

// Migrator runs schema migrations against the configured database.
type Migrator interface {
	Up() error
	Down() error
	Version() (version uint, dirty bool, err error)
}

// Deps is everything the command tree needs from main.
type Deps struct {
	Connect  Connector
	Migrator Migrator
	Out      io.Writer
}

// NewRootCommand builds the ledgerctl command tree.
func NewRootCommand(deps Deps) *cobra.Command {
	if deps.Out == nil {
		deps.Out = os.Stdout
	}
	root := &cobra.Command{
		Use:           "ledgerctl",
		Short:         "Operate the inventory reservation ledger",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.SetOut(deps.Out)

	root.AddCommand(
		migrateCommand(deps),
		auditCommand(deps, false),
		auditCommand(deps, true),
		reservationCommand(deps, "reserve", "Reserve stock for an order",
			func(svc app.ApplicationService) reservationOp { return svc.ReserveOrder }),
		reservationCommand(deps, "retry", "Retry a FAILED reservation",
			func(svc app.ApplicationService) reservationOp { return svc.RetryReservation }),
		reservationCommand(deps, "release", "Release an order's reservations",
			func(svc app.ApplicationService) reservationOp { return svc.ReleaseOrder }),
		reservationCommand(deps, "dispatch", "Deduct an order's reserved stock on dispatch",
			func(svc app.ApplicationService) reservationOp { return svc.DispatchOrder }),
	)
	return root
}

func migrateCommand(deps Deps) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Manage the database schema",
	}
	cmd.AddCommand(
		&cobra.Command{
			Use:   "up",
			Short: "Apply all pending migrations",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, _ []string) error {
				if err := deps.Migrator.Up(); err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), "Schema is up to date.")
				return nil
			},
		},
		&cobra.Command{
			Use:   "down",
			Short: "Roll back every migration",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, _ []string) error {
				if err := deps.Migrator.Down(); err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), "Schema rolled back.")
				return nil
			},
		},
		&cobra.Command{
			Use:   "version",
			Short: "Print the applied schema version",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, _ []string) error {
				v, dirty, err := deps.Migrator.Version()
				if err != nil {
					return err
				}
				suffix := ""
				if dirty {
					suffix = " (dirty)"
				}
				fmt.Fprintf(cmd.OutOrStdout(), "version %d%s\n", v, suffix)
				return nil
			},
		},
	)
	return cmd
}

func auditCommand(deps Deps, reconcile bool) *cobra.Command {
	use, short := "audit", "Report reserved counts that disagree with reservations"
	if reconcile {
		use, short = "reconcile", "Rewrite drifted reserved counts from reservations"
	}
	return &cobra.Command{
		Use:   use,
		Short: short,
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			svc, closeFn, err := deps.Connect(cmd.Context())
			if err != nil {
				return err
			}
			defer closeFn()

			result, err := svc.RunAudit(cmd.Context(), reconcile)
			if err != nil {
				return err
			}
			printAudit(cmd.OutOrStdout(), result)
			return nil
		},
	}
}

type reservationOp func(ctx context.Context, orderID int) (*app.ReservationResult, error)

func reservationCommand(deps Deps, use, short string, pick func(app.ApplicationService) reservationOp) *cobra.Command {
	return &cobra.Command{
		Use:   use + " <order-id>",
		Short: short,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			orderID, err := strconv.Atoi(args[0])
			if err != nil || orderID <= 0 {
				return fmt.Errorf("invalid order id %q", args[0])
			}
			svc, closeFn, err := deps.Connect(cmd.Context())
			if err != nil {
				return err
			}
			defer closeFn()

			result, err := pick(svc)(cmd.Context(), orderID)
			if result != nil {
				enc := json.NewEncoder(cmd.OutOrStdout())
				enc.SetIndent("", "  ")
				_ = enc.Encode(result)
			}
			if errors.Is(err, core.ErrInsufficientStock) {
				return fmt.Errorf("order %d left FAILED: %w", orderID, err)
			}
			return err
		},
	}
}

func printAudit(w io.Writer, result *app.AuditResult) {
	title := "RESERVATION AUDIT"
	if result.Reconciled {
		title = "RESERVATION RECONCILE"
	}
	fmt.Fprintln(w)
	fmt.Fprintln(w, strings.Repeat("=", 46))
	fmt.Fprintf(w, "  %-42s\n", title)
	fmt.Fprintln(w, strings.Repeat("=", 46))
	if len(result.Drift) == 0 {
		fmt.Fprintln(w, "  No drift: every reserved count matches.")
		fmt.Fprintln(w, strings.Repeat("=", 46))
		return
	}
	fmt.Fprintf(w, "  %-14s %12s %12s\n", "STOCK RECORD", "RECORDED", "EXPECTED")
	fmt.Fprintln(w, strings.Repeat("-", 46))
	for _, d := range result.Drift {
		fmt.Fprintf(w, "  %-14d %12d %12d\n", d.StockRecordID, d.Recorded, d.Expected)
	}
	fmt.Fprintln(w, strings.Repeat("=", 46))
	if !result.Reconciled {
		fmt.Fprintln(w, "  Run 'ledgerctl reconcile' to repair.")
	}
}
