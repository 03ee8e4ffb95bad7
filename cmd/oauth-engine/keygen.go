package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/giantswarm/oauth-engine/signer"
)

func newKeygenCommand() *cobra.Command {
	var algorithm string

	cmd := &cobra.Command{
		Use:   "keygen",
		Short: "Generate a signing key for OAUTH_ENGINE_SIGNING_KEY",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			key, err := signer.GenerateKey(algorithm)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), key)
			return nil
		},
	}
	cmd.Flags().StringVar(&algorithm, "algorithm", signer.AlgorithmHS256, "HS256 or EdDSA")
	return cmd
}
