package commands

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"
)

// NewPortalCommand creates the portal command group.
func NewPortalCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "portal",
		Short: "Inspect the portal",
		Long:  "Query portal-level metadata",
	}

	cmd.AddCommand(newPortalSelfCommand())

	return cmd
}

func newPortalSelfCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "self",
		Short: "Show the portal self-describe document",
		Long:  "Fetch and display the portal's self-describe metadata",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			client, err := createClient(ctx)
			if err != nil {
				return err
			}

			self, err := client.GetPortalSelf(ctx)
			if err != nil {
				return fmt.Errorf("failed to get portal info: %w", err)
			}

			rows := [][]string{
				{"ID", self.ID},
				{"Name", self.Name},
				{"Hostname", self.PortalHostname},
				{"Version", self.CurrentVersion},
				{"Is Portal", strconv.FormatBool(self.IsPortal)},
				{"All SSL", strconv.FormatBool(self.AllSSL)},
			}
			if self.User != nil {
				rows = append(rows, []string{"User", self.User.Username})
			}

			return renderOutput(self, rows)
		},
	}
}

// NewUserCommand creates the user command group.
func NewUserCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "user",
		Short: "Inspect the authenticated user",
		Long:  "Query the authenticated user's profile",
	}

	cmd.AddCommand(newUserSelfCommand())

	return cmd
}

func newUserSelfCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "self",
		Short: "Show the authenticated user's profile",
		Long:  "Fetch and display the authenticated user's community profile",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			client, err := createClient(ctx)
			if err != nil {
				return err
			}

			user, err := client.Users().Self(ctx)
			if err != nil {
				return fmt.Errorf("failed to get user profile: %w", err)
			}

			rows := [][]string{
				{"Username", user.Username},
				{"Full Name", user.FullName},
				{"Email", user.Email},
				{"Role", user.Role},
				{"Org ID", user.OrgID},
			}

			return renderOutput(user, rows)
		},
	}
}
