package main

import (
	"encoding/json"
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/giantswarm/oauth-engine/server"
	"github.com/giantswarm/oauth-engine/storage"
)

func newClientCommand(opts *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "client",
		Short: "Manage registered clients",
	}
	cmd.AddCommand(
		newClientCreateCommand(opts),
		newClientDeleteCommand(opts),
		newClientListCommand(opts),
	)
	return cmd
}

// clientOutput is what `client create` prints. The secret is shown once.
type clientOutput struct {
	ID           string   `json:"id"`
	ClientID     string   `json:"client_id"`
	ClientSecret string   `json:"client_secret,omitempty"`
	Name         string   `json:"name"`
	RedirectURI  string   `json:"redirect_uri,omitempty"`
	Locked       bool     `json:"redirect_uri_locked,omitempty"`
	Type         string   `json:"client_type"`
	Scopes       []string `json:"scopes,omitempty"`
	GrantTypes   []string `json:"grant_types,omitempty"`
}

func newClientCreateCommand(opts *rootOptions) *cobra.Command {
	reg := &server.ClientRegistration{}

	cmd := &cobra.Command{
		Use:   "create",
		Short: "Register a client and print its credentials",
		RunE: func(cmd *cobra.Command, _ []string) error {
			engine, _, err := opts.openEngine(cmd.Context())
			if err != nil {
				return err
			}
			defer engine.Close()

			client, secret, err := engine.Server.RegisterClient(cmd.Context(), reg)
			if err != nil {
				return err
			}

			out := clientOutput{
				ID:           client.ID,
				ClientID:     client.PublicIdentifier,
				ClientSecret: secret,
				Name:         client.Name,
				RedirectURI:  client.RedirectURI,
				Locked:       client.RedirectURILocked,
				Type:         clientType(client),
				Scopes:       client.Scopes.Strings(),
				GrantTypes:   client.GrantTypes,
			}
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(out)
		},
	}

	f := cmd.Flags()
	f.StringVar(&reg.Name, "name", "", "display name (required)")
	f.StringVar(&reg.RedirectURI, "redirect-uri", "", "registered redirect URI")
	f.BoolVar(&reg.RedirectURILocked, "lock-redirect-uri", false, "only accept the registered redirect URI")
	f.BoolVar(&reg.Public, "public", false, "register a public client without a secret")
	f.StringSliceVar(&reg.Scopes, "scopes", nil, "allowed scopes (default: every supported scope)")
	f.StringSliceVar(&reg.GrantTypes, "grants", nil, "allowed grant types (default: every enabled grant)")
	_ = cmd.MarkFlagRequired("name")
	return cmd
}

func newClientDeleteCommand(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "delete <id|client_id>",
		Short: "Delete a client and revoke everything issued to it",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			engine, _, err := opts.openEngine(cmd.Context())
			if err != nil {
				return err
			}
			defer engine.Close()

			client, err := engine.Server.GetClient(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			if _, err := engine.Server.DeleteClient(cmd.Context(), client.ID); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "deleted client %s (%s)\n", client.PublicIdentifier, client.Name)
			return nil
		},
	}
}

func newClientListCommand(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List registered clients",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			engine, _, err := opts.openEngine(cmd.Context())
			if err != nil {
				return err
			}
			defer engine.Close()

			clients, err := engine.Server.ListClients(cmd.Context())
			if err != nil {
				return err
			}
			return printClients(cmd.OutOrStdout(), clients)
		},
	}
}

func printClients(w io.Writer, clients []*storage.Client) error {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "CLIENT_ID\tNAME\tTYPE\tREDIRECT_URI\tCREATED")
	for _, c := range clients {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\n",
			c.PublicIdentifier, c.Name, clientType(c), c.RedirectURI, c.CreatedAt.Format("2006-01-02T15:04:05Z"))
	}
	return tw.Flush()
}

func clientType(c *storage.Client) string {
	if c.IsPublic() {
		return server.ClientTypePublic
	}
	return server.ClientTypeConfidential
}
