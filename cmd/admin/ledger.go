package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/adamscao/breakglass/internal/ledger"
)

func newLedgerCmd(g *globals) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "ledger",
		Short: "Inspect the audit ledger",
	}

	verifyCmd := &cobra.Command{
		Use:   "verify",
		Short: "Recompute every hash in the ledger chain",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := g.openStorage(cmd.Context())
			if err != nil {
				return err
			}
			defer a.Close()

			res, err := a.Ledger.VerifyChain(cmd.Context())
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if !res.Valid {
				fmt.Fprintf(out, "Ledger BROKEN at sequence %d: %s\n", res.BrokenAt, res.Reason)
				return fmt.Errorf("ledger verification failed")
			}
			seq, hash := a.Ledger.Head()
			fmt.Fprintf(out, "Ledger valid: %d entries\n", res.Entries)
			fmt.Fprintf(out, "Head: %d %s\n", seq, hash)
			return nil
		},
	}

	var exportPath string
	exportCmd := &cobra.Command{
		Use:   "export",
		Short: "Export the ledger as JSON Lines",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := g.openStorage(cmd.Context())
			if err != nil {
				return err
			}
			defer a.Close()

			n, err := a.Ledger.Export(cmd.Context(), exportPath)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Exported %d entries to %s\n", n, exportPath)
			return nil
		},
	}
	exportCmd.Flags().StringVarP(&exportPath, "output", "o", "", "Output file (required)")
	exportCmd.MarkFlagRequired("output")

	var (
		eventType string
		subject   string
		limit     int
	)
	listCmd := &cobra.Command{
		Use:   "list",
		Short: "List ledger entries",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := g.openStorage(cmd.Context())
			if err != nil {
				return err
			}
			defer a.Close()

			entries, err := a.Ledger.Entries(cmd.Context(), ledger.Query{
				Type:    ledger.EventType(eventType),
				Subject: subject,
				Limit:   limit,
			})
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if len(entries) == 0 {
				fmt.Fprintln(out, "No entries found")
				return nil
			}
			fmt.Fprintf(out, "%-8s %-20s %-30s %-28s %s\n", "Seq", "Time", "Type", "Subject", "Tx")
			fmt.Fprintln(out, "--------------------------------------------------------------------------------------------------------------")
			for _, e := range entries {
				fmt.Fprintf(out, "%-8d %-20s %-30s %-28s %s\n",
					e.Sequence,
					e.Timestamp.Format("2006-01-02 15:04:05"),
					e.Type,
					e.Subject,
					e.TransactionID,
				)
			}
			return nil
		},
	}
	listCmd.Flags().StringVar(&eventType, "type", "", "Only entries of this event type")
	listCmd.Flags().StringVar(&subject, "subject", "", "Only entries for this request or report")
	listCmd.Flags().IntVar(&limit, "limit", 0, "Show only the latest N entries")

	cmd.AddCommand(verifyCmd, exportCmd, listCmd)
	return cmd
}
