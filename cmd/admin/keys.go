package main

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/adamscao/breakglass/internal/api/handlers"
	"github.com/adamscao/breakglass/internal/signature"
	"github.com/adamscao/breakglass/pkg/sshutil"
)

func newKeygenCmd() *cobra.Command {
	var (
		privatePath string
		publicPath  string
		pass        string
		workFactor  int
	)
	cmd := &cobra.Command{
		Use:   "keygen",
		Short: "Generate a passphrase-protected Ed25519 key pair",
		Long: "Generate an Ed25519 key pair. The private key is encrypted with the passphrase; " +
			"the public key is written in authorized_keys format. Use it for the service signing key " +
			"or for an approver key whose .pub file goes into the approvers directory.",
		RunE: func(cmd *cobra.Command, args []string) error {
			p, err := passphrase(pass)
			if err != nil {
				return err
			}
			if publicPath == "" {
				publicPath = privatePath + ".pub"
			}
			if _, err := os.Stat(privatePath); err == nil {
				return fmt.Errorf("refusing to overwrite existing key %s", privatePath)
			}

			priv, pub, err := signature.GenerateKeyPair()
			if err != nil {
				return err
			}
			if err := signature.NewKeyStore(workFactor).SavePrivateKey(priv, privatePath, p); err != nil {
				return err
			}
			if err := signature.SavePublicKey(pub, publicPath); err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Private key: %s\n", privatePath)
			fmt.Fprintf(out, "Public key:  %s\n", publicPath)
			fmt.Fprintf(out, "Fingerprint: %s\n", signature.Fingerprint(pub))
			return nil
		},
	}
	cmd.Flags().StringVar(&privatePath, "private", "", "Private key output path (required)")
	cmd.Flags().StringVar(&publicPath, "public", "", "Public key output path (default <private>.pub)")
	cmd.Flags().StringVar(&pass, "passphrase", "", "Key passphrase (default $"+passphraseEnv+")")
	cmd.Flags().IntVar(&workFactor, "work-factor", 0, "scrypt work factor, 0 for the default")
	cmd.MarkFlagRequired("private")
	return cmd
}

func newSignApprovalCmd() *cobra.Command {
	var (
		keyPath    string
		pass       string
		requestID  string
		approverID string
		ttl        time.Duration
	)
	cmd := &cobra.Command{
		Use:   "sign-approval",
		Short: "Sign an approval for a credential request",
		Long:  "Sign an approval offline and print the JSON body for POST /api/v1/requests/:id/approve",
		RunE: func(cmd *cobra.Command, args []string) error {
			p, err := passphrase(pass)
			if err != nil {
				return err
			}
			key, err := signature.NewKeyStore(0).LoadPrivateKey(keyPath, p)
			if err != nil {
				return err
			}

			signed := signature.SignApproval(key, requestID, time.Now())
			body := handlers.ApproveRequestBody{
				ApproverID: approverID,
				Signature:  signed.Signature,
				ApprovedAt: signed.ApprovedAt,
				TTLSeconds: int(ttl / time.Second),
			}
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(body)
		},
	}
	cmd.Flags().StringVar(&keyPath, "key", "", "Approver private key path (required)")
	cmd.Flags().StringVar(&pass, "passphrase", "", "Key passphrase (default $"+passphraseEnv+")")
	cmd.Flags().StringVar(&requestID, "request-id", "", "Request to approve (required)")
	cmd.Flags().StringVar(&approverID, "approver-id", "", "Approver id, the basename of the approver's .pub file (required)")
	cmd.Flags().DurationVar(&ttl, "ttl", 0, "Requested token lifetime, 0 for the server default")
	cmd.MarkFlagRequired("key")
	cmd.MarkFlagRequired("request-id")
	cmd.MarkFlagRequired("approver-id")
	return cmd
}

func newFingerprintCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "fingerprint <public-key-file>",
		Short: "Print the SHA256 fingerprint of a public key",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := os.ReadFile(args[0])
			if err != nil {
				return fmt.Errorf("failed to read public key: %w", err)
			}
			fp, err := sshutil.GetFingerprint(strings.TrimSpace(string(data)))
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), fp)
			return nil
		},
	}
}
