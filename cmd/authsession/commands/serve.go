package commands

import (
	"fmt"

	"github.com/rs/zerolog"
	"github.com/savaki/authsession/internal/config"
	"github.com/savaki/authsession/internal/di"
	"github.com/savaki/authsession/internal/server"
	"github.com/urfave/cli/v2"
)

// ServeCommand hosts the page locally.
func ServeCommand(logger *zerolog.Logger) *cli.Command {
	return &cli.Command{
		Name:  "serve",
		Usage: "Serve the site page with login, logout and token routes",
		Description: `Every page load completes a pending login callback, strips the code and
state parameters from the URL and renders the session state.

Routes (relative to the base path):
  GET {base}            page
  GET {base}login       start login
  GET {base}logout      end the session
  GET {base}api/token   access token as JSON, 401 when signed out
  GET {base}api/user    user profile as JSON, 401 when signed out`,
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "addr",
				Usage:   "listen address",
				Value:   "localhost:4321",
				EnvVars: []string{"AUTHSESSION_ADDR"},
			},
		},
		Action: func(c *cli.Context) error {
			container, err := newContainer(c, logger)
			if err != nil {
				return fmt.Errorf("failed to setup DI container: %w", err)
			}

			cfg, err := di.Get[*config.Config](container)
			if err != nil {
				return err
			}
			handler, err := di.Get[*server.Handler](container)
			if err != nil {
				return err
			}

			addr := c.String("addr")
			logger.Info().
				Str("addr", addr).
				Str("env", cfg.Environment).
				Str("base_path", cfg.BasePath).
				Str("redirect_uri", cfg.RedirectURI).
				Msg("Starting HTTP server")

			return server.ListenAndServe(c.Context, addr, handler.NewRouter(*logger))
		},
	}
}
