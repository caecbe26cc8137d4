package commands

import (
	"fmt"
	"strings"

	"github.com/rs/zerolog"
	"github.com/savaki/authsession/internal/cache"
	"github.com/savaki/authsession/internal/config"
	"github.com/savaki/authsession/internal/di"
	"github.com/savaki/authsession/internal/services"
	"github.com/urfave/cli/v2"
	"gopkg.in/yaml.v3"
)

type resolvedConfig struct {
	Provider          string `yaml:"provider"`
	Domain            string `yaml:"domain,omitempty"`
	ClientID          string `yaml:"client_id"`
	Environment       string `yaml:"environment"`
	Production        bool   `yaml:"production"`
	RedirectURI       string `yaml:"redirect_uri"`
	LogoutURI         string `yaml:"logout_uri"`
	BasePath          string `yaml:"base_path"`
	Scope             string `yaml:"scope"`
	Audience          string `yaml:"audience,omitempty"`
	CacheLocation     string `yaml:"cache_location"`
	CachePath         string `yaml:"cache_path,omitempty"`
	UseRefreshTokens  bool   `yaml:"use_refresh_tokens"`
	AllowedEmails     string `yaml:"allowed_emails,omitempty"`
	SessionSecretName string `yaml:"session_secret_name,omitempty"`
}

func newResolvedConfig(cfg *config.Config) resolvedConfig {
	r := resolvedConfig{
		Provider:          cfg.Provider,
		Domain:            cfg.Domain,
		ClientID:          cfg.ClientID,
		Environment:       cfg.Environment,
		Production:        cfg.IsProduction(),
		RedirectURI:       cfg.RedirectURI,
		LogoutURI:         cfg.LogoutURI,
		BasePath:          cfg.BasePath,
		Scope:             cfg.Scope,
		Audience:          cfg.Audience,
		CacheLocation:     string(cfg.CacheLocation),
		UseRefreshTokens:  cfg.UseRefreshTokens,
		AllowedEmails:     cfg.AllowedEmails,
		SessionSecretName: cfg.SessionSecretName,
	}
	if cfg.CacheLocation == cache.LocalStorage {
		r.CachePath = cfg.CachePath
	}
	return r
}

// ConfigCommand inspects configuration.
func ConfigCommand(logger *zerolog.Logger) *cli.Command {
	return &cli.Command{
		Name:  "config",
		Usage: "Inspect the resolved configuration",
		Subcommands: []*cli.Command{
			{
				Name:  "show",
				Usage: "Print the configuration after every layer is applied",
				Action: func(c *cli.Context) error {
					container, err := newContainer(c, logger)
					if err != nil {
						return fmt.Errorf("failed to setup DI container: %w", err)
					}
					cfg, err := di.Get[*config.Config](container)
					if err != nil {
						return err
					}

					enc := yaml.NewEncoder(c.App.Writer)
					enc.SetIndent(2)
					if err := enc.Encode(newResolvedConfig(cfg)); err != nil {
						return fmt.Errorf("failed to encode configuration: %w", err)
					}
					return enc.Close()
				},
			},
			{
				Name:      "param",
				Usage:     "Print a single parameter from the parameter store",
				ArgsUsage: "<name>",
				Action: func(c *cli.Context) error {
					name := strings.TrimSpace(c.Args().First())
					if name == "" {
						return cli.Exit("parameter name is required", 2)
					}

					container, err := newContainer(c, logger)
					if err != nil {
						return fmt.Errorf("failed to setup DI container: %w", err)
					}
					store, err := di.Get[services.ParameterStore](container)
					if err != nil {
						return err
					}

					value, err := store.GetParameter(c.Context, name)
					if err != nil {
						return err
					}
					fmt.Fprintln(c.App.Writer, value)
					return nil
				},
			},
		},
	}
}

// KeysCommand manages the local session key file.
func KeysCommand(logger *zerolog.Logger) *cli.Command {
	return &cli.Command{
		Name:  "keys",
		Usage: "Manage session keys",
		Subcommands: []*cli.Command{
			{
				Name:  "rotate",
				Usage: "Prepend a new session key, keeping the most recent versions",
				Description: `Tokens sealed with older keys stay readable while those keys are kept.
Keys held in Secrets Manager are rotated through the rotation protocol; the
local key file is rewritten in place.`,
				Flags: []cli.Flag{
					&cli.IntFlag{
						Name:  "keep",
						Usage: "number of key versions to keep (local key file only)",
						Value: services.DefaultKeepVersions,
					},
				},
				Action: func(c *cli.Context) error {
					container, err := newContainer(c, logger)
					if err != nil {
						return fmt.Errorf("failed to setup DI container: %w", err)
					}
					provider, err := di.Get[services.KeyProvider](container)
					if err != nil {
						return err
					}

					switch p := provider.(type) {
					case *services.FileKeyService:
						if err := p.Rotate(c.Context, c.Int("keep")); err != nil {
							return err
						}
					case *services.SessionKeyService:
						rotator, err := di.Get[*services.SecretRotator](container)
						if err != nil {
							return err
						}
						if err := rotator.Rotate(c.Context, p.SecretName()); err != nil {
							return err
						}
					default:
						return cli.Exit("session keys cannot be rotated from here", 1)
					}

					fmt.Fprintln(c.App.Writer, "Session keys rotated.")
					return nil
				},
			},
		},
	}
}

// parseParams splits key=value pairs.
func parseParams(pairs []string) (map[string]string, error) {
	if len(pairs) == 0 {
		return nil, nil
	}
	params := make(map[string]string, len(pairs))
	for _, pair := range pairs {
		key, value, ok := strings.Cut(pair, "=")
		if !ok || key == "" {
			return nil, fmt.Errorf("invalid parameter %q, expected key=value", pair)
		}
		params[key] = value
	}
	return params, nil
}
