package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/adamscao/breakglass/internal/credential"
	"github.com/adamscao/breakglass/internal/models"
)

func newRequestsCmd(g *globals) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "requests",
		Short: "Manage credential requests",
	}

	var (
		status    string
		emergency bool
		open      bool
	)
	listCmd := &cobra.Command{
		Use:   "list",
		Short: "List credential requests",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := g.openServices(cmd.Context())
			if err != nil {
				return err
			}
			defer a.Close()

			reqs, err := a.Manager.List(cmd.Context(), credential.ListFilter{
				Status:        models.RequestStatus(status),
				EmergencyOnly: emergency,
				OpenOnly:      open,
			})
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if len(reqs) == 0 {
				fmt.Fprintln(out, "No requests found")
				return nil
			}

			fmt.Fprintf(out, "\nTotal requests: %d\n\n", len(reqs))
			fmt.Fprintf(out, "%-28s %-10s %-9s %-16s %-24s %s\n", "ID", "Status", "Emergency", "Requester", "Target", "Created")
			fmt.Fprintln(out, "----------------------------------------------------------------------------------------------------------")
			for _, r := range reqs {
				emergencyStr := "No"
				if r.Emergency {
					emergencyStr = "Yes"
				}
				fmt.Fprintf(out, "%-28s %-10s %-9s %-16s %-24s %s\n",
					r.ID,
					r.Status,
					emergencyStr,
					r.RequesterID,
					r.VaultID+"/"+r.Path,
					r.CreatedAt.Format("2006-01-02 15:04:05"),
				)
			}
			return nil
		},
	}
	listCmd.Flags().StringVar(&status, "status", "", "Only requests with this status")
	listCmd.Flags().BoolVar(&emergency, "emergency", false, "Only emergency requests")
	listCmd.Flags().BoolVar(&open, "open", false, "Only pending and approved requests")

	var (
		approverID string
		reason     string
	)
	denyCmd := &cobra.Command{
		Use:   "deny <request-id>",
		Short: "Deny a pending request",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := g.openServices(cmd.Context())
			if err != nil {
				return err
			}
			defer a.Close()

			if err := a.Manager.Deny(cmd.Context(), args[0], approverID, reason); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Request %s denied\n", args[0])
			return nil
		},
	}
	denyCmd.Flags().StringVar(&approverID, "approver-id", "", "Approver recording the denial (required)")
	denyCmd.Flags().StringVar(&reason, "reason", "", "Reason for the denial")
	denyCmd.MarkFlagRequired("approver-id")

	var actorID string
	revokeCmd := &cobra.Command{
		Use:   "revoke <request-id>",
		Short: "Revoke the unredeemed token of an approved request",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := g.openServices(cmd.Context())
			if err != nil {
				return err
			}
			defer a.Close()

			if err := a.Manager.RevokeToken(cmd.Context(), args[0], actorID); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Token for request %s revoked\n", args[0])
			return nil
		},
	}
	revokeCmd.Flags().StringVar(&actorID, "actor-id", "", "Operator revoking the token (required)")
	revokeCmd.MarkFlagRequired("actor-id")

	expireCmd := &cobra.Command{
		Use:   "expire",
		Short: "Expire stale pending requests now",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := g.openServices(cmd.Context())
			if err != nil {
				return err
			}
			defer a.Close()

			n, err := a.Manager.ExpireStale(cmd.Context())
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Expired %d requests\n", n)
			return nil
		},
	}

	cmd.AddCommand(listCmd, denyCmd, revokeCmd, expireCmd)
	return cmd
}
