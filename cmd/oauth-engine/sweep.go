package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

func newSweepCommand(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "sweep",
		Short: "Delete expired authorization codes and refresh tokens once",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			engine, _, err := opts.openEngine(cmd.Context())
			if err != nil {
				return err
			}
			defer engine.Close()

			result, err := engine.Sweeper.SweepOnce(cmd.Context())
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "removed %d authorization codes, %d refresh tokens\n",
				result.AuthCodes, result.RefreshTokens)
			return nil
		},
	}
}
