package commands

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/geoworks-io/gisapi/internal/constants"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

// Config represents the CLI configuration.
type Config struct {
	// Per-portal configuration, keyed by portal URL
	Portals       map[string]*PortalConfig `json:"portals,omitempty"        yaml:"portals,omitempty"`
	CurrentPortal string                   `json:"current_portal,omitempty" yaml:"current_portal,omitempty"`

	// Global settings
	Output string `json:"output" yaml:"output"`
}

// PortalConfig holds stored credentials and endpoints for one portal.
// Passwords are never persisted; only the refresh token survives a login.
type PortalConfig struct {
	Username     string `json:"username,omitempty"      yaml:"username,omitempty"`
	RefreshToken string `json:"refresh_token,omitempty" yaml:"refresh_token,omitempty"`
	TokenURL     string `json:"token_url,omitempty"     yaml:"token_url,omitempty"`
	APIKey       string `json:"api_key,omitempty"       yaml:"api_key,omitempty"`
}

func loadConfig() *Config {
	config := &Config{
		Output:        viper.GetString("output"),
		CurrentPortal: viper.GetString("current_portal"),
		Portals:       make(map[string]*PortalConfig),
	}

	portalsRaw := viper.GetStringMap("portals")
	for portal, raw := range portalsRaw {
		portalMap, ok := raw.(map[string]interface{})
		if !ok {
			continue
		}

		portalConfig := &PortalConfig{}

		fields := map[string]*string{
			"username":      &portalConfig.Username,
			"refresh_token": &portalConfig.RefreshToken,
			"token_url":     &portalConfig.TokenURL,
			"api_key":       &portalConfig.APIKey,
		}
		for key, field := range fields {
			if value, ok := portalMap[key].(string); ok {
				*field = value
			}
		}

		config.Portals[portal] = portalConfig
	}

	return config
}

func saveConfigStruct(config *Config) error {
	configFile := viper.ConfigFileUsed()
	if configFile == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return fmt.Errorf("failed to get user home directory: %w", err)
		}

		configDir := filepath.Join(home, ".gis")

		err = os.MkdirAll(configDir, constants.ConfigDirPerm)
		if err != nil {
			return fmt.Errorf("failed to create config directory: %w", err)
		}

		configFile = filepath.Join(configDir, "config.yml")
	}

	data, err := yaml.Marshal(config)
	if err != nil {
		return fmt.Errorf("failed to marshal configuration: %w", err)
	}

	if err := os.WriteFile(configFile, data, constants.ConfigFilePerm); err != nil {
		return fmt.Errorf("failed to write configuration: %w", err)
	}

	return nil
}

// NewConfigCommand creates the config command group.
func NewConfigCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Manage CLI configuration",
		Long:  "Manage GIS CLI configuration including portals and settings",
	}

	cmd.AddCommand(newConfigShowCommand())
	cmd.AddCommand(newConfigSetCommand())
	cmd.AddCommand(newConfigUnsetCommand())

	return cmd
}

func newConfigShowCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "show",
		Short: "Show current configuration",
		Long:  "Display the current CLI configuration with secrets masked",
		RunE: func(cmd *cobra.Command, args []string) error {
			config := loadConfig()

			for _, portal := range config.Portals {
				portal.RefreshToken = maskSecret(portal.RefreshToken)
				portal.APIKey = maskSecret(portal.APIKey)
			}

			rows := [][]string{
				{"Current Portal", config.CurrentPortal},
				{"Output", config.Output},
			}
			for url, portal := range config.Portals {
				rows = append(rows, []string{"Portal", url + " (user: " + portal.Username + ")"})
			}

			return renderOutput(config, rows)
		},
	}
}

func newConfigSetCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "set <key> <value>",
		Short: "Set a configuration value",
		Long:  "Set a global configuration value (current_portal, output)",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			key, value := args[0], args[1]

			config := loadConfig()

			switch key {
			case "current_portal":
				config.CurrentPortal = value
			case "output":
				config.Output = value
			default:
				return fmt.Errorf("%w: %s", ErrUnknownConfigKey, key)
			}

			if err := saveConfigStruct(config); err != nil {
				return err
			}

			cmd.Printf("Set %s to %s\n", key, value)

			return nil
		},
	}
}

func newConfigUnsetCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "unset <key>",
		Short: "Unset a configuration value",
		Long:  "Clear a global configuration value (current_portal, output)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			key := args[0]

			config := loadConfig()

			switch key {
			case "current_portal":
				config.CurrentPortal = ""
			case "output":
				config.Output = ""
			default:
				return fmt.Errorf("%w: %s", ErrUnknownConfigKey, key)
			}

			if err := saveConfigStruct(config); err != nil {
				return err
			}

			cmd.Printf("Unset %s\n", key)

			return nil
		},
	}
}
