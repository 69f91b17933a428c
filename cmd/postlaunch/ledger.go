package main

import (
	"errors"
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/sawpanic/postlaunch/internal/domain/launch"
	"github.com/sawpanic/postlaunch/internal/infrastructure/db"
	"github.com/sawpanic/postlaunch/internal/persistence"
)

func newLedgerCmd(c *cli) *cobra.Command {
	var asJSON bool
	ledgerCmd := &cobra.Command{
		Use:   "ledger",
		Short: "Inspect the launch ledger",
	}
	ledgerCmd.PersistentFlags().BoolVar(&asJSON, "json", false, "print JSON instead of a table")

	var filter persistence.ListFilter
	listCmd := &cobra.Command{
		Use:   "list",
		Short: "List confirmed launches, newest first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withLedger(cmd, c, func(l persistence.Ledger) error {
				recs, err := l.List(cmd.Context(), filter)
				if err != nil {
					return err
				}
				if asJSON {
					return writeJSON(cmd.OutOrStdout(), recs)
				}
				return printRecords(cmd.OutOrStdout(), recs)
			})
		},
	}
	listCmd.Flags().StringVar(&filter.AgentID, "agent", "", "only launches of this agent")
	listCmd.Flags().IntVar(&filter.Limit, "limit", 50, "maximum rows")
	listCmd.Flags().IntVar(&filter.Offset, "offset", 0, "rows to skip")

	var byPost, bySymbol bool
	showCmd := &cobra.Command{
		Use:   "show ID",
		Short: "Show one launch by asset id, or by post id or symbol",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withLedger(cmd, c, func(l persistence.Ledger) error {
				var rec launch.Record
				var err error
				switch {
				case byPost:
					rec, err = l.ByPost(cmd.Context(), args[0])
				case bySymbol:
					rec, err = l.BySymbol(cmd.Context(), args[0])
				default:
					rec, err = l.ByAsset(cmd.Context(), args[0])
				}
				if errors.Is(err, persistence.ErrNotFound) {
					return fmt.Errorf("no launch found for %q", args[0])
				}
				if err != nil {
					return err
				}
				return writeJSON(cmd.OutOrStdout(), rec)
			})
		},
	}
	showCmd.Flags().BoolVar(&byPost, "post", false, "look up by source post id")
	showCmd.Flags().BoolVar(&bySymbol, "symbol", false, "look up by symbol")
	showCmd.MarkFlagsMutuallyExclusive("post", "symbol")

	stalledCmd := &cobra.Command{
		Use:   "stalled",
		Short: "List launches whose asset may exist but was never confirmed",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withLedger(cmd, c, func(l persistence.Ledger) error {
				res, err := l.ListReservations(cmd.Context(), persistence.StatusStalled)
				if err != nil {
					return err
				}
				if asJSON {
					return writeJSON(cmd.OutOrStdout(), res)
				}
				return printReservations(cmd.OutOrStdout(), res)
			})
		},
	}

	ledgerCmd.AddCommand(listCmd, showCmd, stalledCmd)
	return ledgerCmd
}

// withLedger opens only the ledger, so inspection works without collaborator
// endpoints or a signing key
func withLedger(cmd *cobra.Command, c *cli, fn func(persistence.Ledger) error) error {
	m, err := db.NewManager(cmd.Context(), c.cfg.Ledger)
	if err != nil {
		return err
	}
	defer m.Close()
	return fn(m.Ledger())
}

func printRecords(w io.Writer, recs []launch.Record) error {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "CREATED\tSYMBOL\tASSET\tAGENT\tPOST\tPROOF")
	for _, r := range recs {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%s\n",
			r.CreatedAt.Format(time.RFC3339), r.Symbol, r.AssetID, r.AgentID, r.SourcePostID, r.BroadcastProof)
	}
	return tw.Flush()
}

func printReservations(w io.Writer, res []persistence.Reservation) error {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "UPDATED\tPOST\tAGENT\tSYMBOL\tASSET\tDETAIL")
	for _, r := range res {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%s\n",
			r.UpdatedAt.Format(time.RFC3339), r.PostID, r.AgentID, r.Symbol, r.AssetID, r.Detail)
	}
	return tw.Flush()
}
