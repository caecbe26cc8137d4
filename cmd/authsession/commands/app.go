// Package commands implements the authsession command line.
package commands

import (
	"github.com/rs/zerolog"
	"github.com/savaki/authsession/internal/di"
	"github.com/urfave/cli/v2"
)

const defaultConfigFile = "authsession.yaml"

// NewApp returns the authsession application.
func NewApp(logger *zerolog.Logger) *cli.App {
	return &cli.App{
		Name:  "authsession",
		Usage: "Hosted login sessions for a static site",
		Description: `Signs a user in against a hosted identity provider (Auth0 or Google CIAM)
and keeps the session in a local token cache.

Configuration is layered: defaults, then the YAML file, then environment
variables (or SSM Parameter Store under /<env>/authsession/).`,
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "env",
				Aliases: []string{"e"},
				Usage:   "environment name; prd, prod and production select the production origin",
				Value:   "dev",
				EnvVars: []string{"ENV", "ENVIRONMENT"},
			},
			&cli.StringFlag{
				Name:    "config",
				Aliases: []string{"c"},
				Usage:   "YAML configuration file",
				Value:   defaultConfigFile,
				EnvVars: []string{"AUTHSESSION_CONFIG"},
			},
			&cli.BoolFlag{
				Name:    "disable-ssm",
				Usage:   "read parameters from the environment instead of SSM Parameter Store",
				Value:   true,
				EnvVars: []string{"DISABLE_SSM"},
			},
		},
		Commands: []*cli.Command{
			ServeCommand(logger),
			LoginCommand(logger),
			CallbackCommand(logger),
			LogoutCommand(logger),
			StatusCommand(logger),
			TokenCommand(logger),
			WhoamiCommand(logger),
			ConfigCommand(logger),
			KeysCommand(logger),
		},
	}
}

// newContainer builds the container from the global flags. An explicitly
// named config file must exist; the default one is optional.
func newContainer(c *cli.Context, logger *zerolog.Logger) (di.Container, error) {
	return di.New(c.String("env"),
		di.WithContext(c.Context),
		di.WithLogger(*logger),
		di.WithConfigFile(c.String("config"), c.IsSet("config")),
		di.WithDisableSSM(c.Bool("disable-ssm")),
	)
}
