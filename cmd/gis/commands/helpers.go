package commands

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"

	"github.com/geoworks-io/gisapi/internal/constants"
	"github.com/geoworks-io/gisapi/pkg/gisapi"
	"github.com/geoworks-io/gisapi/pkg/gisclient"
	"github.com/olekukonko/tablewriter"
	"github.com/rs/zerolog"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

// Static errors for err113 compliance.
var (
	ErrPortalRequired      = errors.New("portal URL is required (use --portal, GIS_PORTAL, or 'gis login')")
	ErrNoStoredCredentials = errors.New("no stored credentials, run 'gis login' first")
	ErrUnknownConfigKey    = errors.New("unknown configuration key")
	ErrUsernameRequired    = errors.New("username is required")
	ErrJobParamFormat      = errors.New("job parameters must be key=value pairs")
)

// renderOutput writes v to stdout in the format selected by the global
// --output flag. The table fallback is a two-column property table built by
// the caller via rows.
func renderOutput(v interface{}, rows [][]string) error {
	switch viper.GetString("output") {
	case constants.FormatJSON:
		encoder := json.NewEncoder(os.Stdout)
		encoder.SetIndent("", "  ")

		return encoder.Encode(v)
	case constants.FormatYAML:
		encoder := yaml.NewEncoder(os.Stdout)

		return encoder.Encode(v)
	default:
		table := tablewriter.NewWriter(os.Stdout)
		table.Header("Property", "Value")

		for _, row := range rows {
			_ = table.Append(row[0], row[1])
		}

		if err := table.Render(); err != nil {
			return fmt.Errorf("failed to render table: %w", err)
		}

		return nil
	}
}

// zerologAdapter bridges zerolog to the SDK's Logger interface.
type zerologAdapter struct {
	log zerolog.Logger
}

func newCLILogger() gisapi.Logger {
	level := zerolog.WarnLevel
	if viper.GetBool("verbose") {
		level = zerolog.DebugLevel
	}

	log := zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr}).
		Level(level).
		With().Timestamp().Logger()

	return &zerologAdapter{log: log}
}

func (z *zerologAdapter) emit(event *zerolog.Event, msg string, fields map[string]interface{}) {
	event.Fields(fields).Msg(msg)
}

func (z *zerologAdapter) Debug(msg string, fields map[string]interface{}) {
	z.emit(z.log.Debug(), msg, fields)
}

func (z *zerologAdapter) Info(msg string, fields map[string]interface{}) {
	z.emit(z.log.Info(), msg, fields)
}

func (z *zerologAdapter) Warn(msg string, fields map[string]interface{}) {
	z.emit(z.log.Warn(), msg, fields)
}

func (z *zerologAdapter) Error(msg string, fields map[string]interface{}) {
	z.emit(z.log.Error(), msg, fields)
}

// createClient builds an SDK client from flags, environment, and the saved
// configuration for the current portal.
func createClient(ctx context.Context) (gisapi.Client, error) {
	config := loadConfig()

	portal := viper.GetString("portal")
	if portal == "" {
		portal = config.CurrentPortal
	}

	if portal == "" {
		return nil, ErrPortalRequired
	}

	clientConfig := &gisapi.Config{
		Portal:        portal,
		APIKey:        viper.GetString("api_key"),
		SkipTLSVerify: viper.GetBool("skip_ssl_validation"),
		Debug:         viper.GetBool("verbose"),
		Logger:        newCLILogger(),
	}

	if stored, ok := config.Portals[portal]; ok {
		if clientConfig.APIKey == "" {
			clientConfig.APIKey = stored.APIKey
		}

		clientConfig.Username = stored.Username
		clientConfig.RefreshToken = stored.RefreshToken
		clientConfig.TokenURL = stored.TokenURL
	}

	client, err := gisclient.New(ctx, clientConfig)
	if err != nil {
		return nil, fmt.Errorf("creating client: %w", err)
	}

	return client, nil
}

func maskSecret(s string) string {
	if s == "" {
		return ""
	}

	return constants.MaskedSecret
}
