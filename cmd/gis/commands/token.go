package commands

import (
	"fmt"

	"github.com/spf13/cobra"
)

// NewTokenCommand creates the token command group.
func NewTokenCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "token",
		Short: "Manage access tokens",
		Long:  "Inspect and refresh the access token for the current portal",
	}

	cmd.AddCommand(newTokenGetCommand())
	cmd.AddCommand(newTokenRefreshCommand())

	return cmd
}

func newTokenGetCommand() *cobra.Command {
	var show bool

	cmd := &cobra.Command{
		Use:   "get",
		Short: "Print the current access token",
		Long:  "Obtain a valid access token, refreshing transparently if expired",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			client, err := createClient(ctx)
			if err != nil {
				return err
			}

			token, err := client.GetToken(ctx)
			if err != nil {
				return fmt.Errorf("failed to get token: %w", err)
			}

			display := token
			if !show {
				display = maskSecret(token)
			}

			type tokenInfo struct {
				Token string `json:"token" yaml:"token"`
			}

			return renderOutput(tokenInfo{Token: display}, [][]string{{"Token", display}})
		},
	}

	cmd.Flags().BoolVar(&show, "show", false, "print the token unmasked")

	return cmd
}

func newTokenRefreshCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "refresh",
		Short: "Force a token refresh",
		Long:  "Refresh the access token regardless of remaining validity",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			client, err := createClient(ctx)
			if err != nil {
				return err
			}

			if err := client.RefreshCredentials(ctx); err != nil {
				return fmt.Errorf("failed to refresh credentials: %w", err)
			}

			cmd.Println("Token refreshed")

			return nil
		},
	}
}
