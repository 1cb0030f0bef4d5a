package commands

import (
	"bufio"
	"fmt"
	"os"
	"strings"
	"syscall"

	"github.com/geoworks-io/gisapi/internal/auth"
	"github.com/geoworks-io/gisapi/pkg/gisapi"
	"github.com/geoworks-io/gisapi/pkg/gisclient"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"golang.org/x/term"
)

// NewLoginCommand creates the login command
func NewLoginCommand() *cobra.Command {
	var (
		portal       string
		username     string
		password     string
		clientID     string
		clientSecret string
		apiKey       string
	)

	cmd := &cobra.Command{
		Use:   "login",
		Short: "Login to a GIS portal",
		Long:  "Authenticate against a portal's token endpoint and store the session",
		RunE: func(cmd *cobra.Command, args []string) error {
			if portal == "" {
				portal = viper.GetString("portal")
			}

			if portal == "" {
				reader := bufio.NewReader(os.Stdin)
				fmt.Print("Portal URL: ")
				portal, _ = reader.ReadString('\n')
				portal = strings.TrimSpace(portal)
			}

			if portal == "" {
				return ErrPortalRequired
			}

			config := &gisapi.Config{
				Portal:        portal,
				SkipTLSVerify: viper.GetBool("skip_ssl_validation"),
				Logger:        newCLILogger(),
			}

			switch {
			case apiKey != "":
				config.APIKey = apiKey
			case clientID != "" && clientSecret != "":
				config.ClientID = clientID
				config.ClientSecret = clientSecret
			default:
				if username == "" {
					reader := bufio.NewReader(os.Stdin)
					fmt.Print("Username: ")
					username, _ = reader.ReadString('\n')
					username = strings.TrimSpace(username)
				}

				if username == "" {
					return ErrUsernameRequired
				}

				if password == "" {
					fmt.Print("Password: ")
					bytePassword, err := term.ReadPassword(int(syscall.Stdin))
					if err != nil {
						return fmt.Errorf("failed to read password: %w", err)
					}
					password = string(bytePassword)
					fmt.Println()
				}

				config.Username = username
				config.Password = password
			}

			ctx := cmd.Context()

			client, err := gisclient.New(ctx, config)
			if err != nil {
				return fmt.Errorf("failed to create client: %w", err)
			}

			// Verify the credentials by minting a token
			if _, err := client.GetToken(ctx); err != nil {
				return fmt.Errorf("failed to authenticate: %w", err)
			}

			portalConfig := &PortalConfig{
				Username: username,
				APIKey:   apiKey,
				TokenURL: config.TokenURL,
			}

			// Persist the refresh token when the portal issued one so later
			// invocations can renew sessions without a password.
			if holder, ok := client.(interface{ TokenManager() auth.TokenManager }); ok {
				if manager, ok := holder.TokenManager().(*auth.PortalTokenManager); ok {
					if token := manager.CurrentToken(); token != nil {
						portalConfig.RefreshToken = token.RefreshToken
						if portalConfig.Username == "" {
							portalConfig.Username = token.Username
						}
					}
				}
			}

			configStruct := loadConfig()
			if configStruct.Portals == nil {
				configStruct.Portals = make(map[string]*PortalConfig)
			}

			configStruct.Portals[portal] = portalConfig
			configStruct.CurrentPortal = portal

			if err := saveConfigStruct(configStruct); err != nil {
				return fmt.Errorf("failed to save configuration: %w", err)
			}

			if portalConfig.Username != "" {
				cmd.Printf("Logged in to %s as %s\n", portal, portalConfig.Username)
			} else {
				cmd.Printf("Logged in to %s\n", portal)
			}

			return nil
		},
	}

	cmd.Flags().StringVar(&portal, "portal", "", "portal sharing API URL")
	cmd.Flags().StringVarP(&username, "username", "u", "", "username")
	cmd.Flags().StringVar(&password, "password", "", "password (prompted if not provided)")
	cmd.Flags().StringVar(&clientID, "client-id", "", "OAuth client ID")
	cmd.Flags().StringVar(&clientSecret, "client-secret", "", "OAuth client secret")
	cmd.Flags().StringVar(&apiKey, "api-key", "", "API key credential")

	return cmd
}

// NewLogoutCommand creates the logout command
func NewLogoutCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "logout",
		Short: "Logout from the current portal",
		Long:  "Remove stored credentials for the current portal",
		RunE: func(cmd *cobra.Command, args []string) error {
			config := loadConfig()
			if config.CurrentPortal == "" {
				return ErrNoStoredCredentials
			}

			portal := config.CurrentPortal
			delete(config.Portals, portal)
			config.CurrentPortal = ""

			if err := saveConfigStruct(config); err != nil {
				return fmt.Errorf("failed to save configuration: %w", err)
			}

			cmd.Printf("Logged out of %s\n", portal)

			return nil
		},
	}
}
