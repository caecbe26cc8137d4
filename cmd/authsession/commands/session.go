package commands

import (
	"encoding/json"
	"fmt"
	"io"

	"github.com/rs/zerolog"
	"github.com/savaki/authsession/internal/auth"
	"github.com/savaki/authsession/internal/config"
	"github.com/savaki/authsession/internal/di"
	"github.com/savaki/authsession/internal/errors"
	"github.com/savaki/authsession/internal/location"
	"github.com/savaki/authsession/internal/session"
	"github.com/urfave/cli/v2"
)

// LoginCommand prints the hosted login URL. The browser ends up on the
// redirect URI, which is then passed to the callback command.
func LoginCommand(logger *zerolog.Logger) *cli.Command {
	return &cli.Command{
		Name:  "login",
		Usage: "Start a login and print the hosted login URL",
		Flags: []cli.Flag{
			&cli.StringSliceFlag{
				Name:  "param",
				Usage: "extra authorize parameter as key=value, e.g. screen_hint=signup",
			},
		},
		Action: func(c *cli.Context) error {
			facade, cfg, err := resolveSession(c, logger)
			if err != nil {
				return err
			}

			params, err := parseParams(c.StringSlice("param"))
			if err != nil {
				return err
			}
			if len(params) > 0 {
				facade = session.New(facade.Client, session.Options{
					RedirectURI: cfg.RedirectURI,
					LogoutURI:   cfg.LogoutURI,
					Audience:    cfg.Audience,
					LoginParams: params,
				})
			}

			loc, err := location.NewTerminal(cfg.RedirectURI, c.App.Writer)
			if err != nil {
				return err
			}

			facade.Login(location.WithContext(c.Context, loc))
			if len(loc.Assigned()) == 0 {
				return fmt.Errorf("failed to start login: %w", errors.ErrLoginRequired)
			}

			fmt.Fprintf(c.App.Writer, "After signing in, copy the address your browser lands on and run:\n\n  %s callback --url '<address>'\n", c.App.Name)
			return nil
		},
	}
}

// CallbackCommand completes a login from the redirect URL.
func CallbackCommand(logger *zerolog.Logger) *cli.Command {
	return &cli.Command{
		Name:  "callback",
		Usage: "Complete a login from the URL the identity provider redirected to",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:     "url",
				Usage:    "redirect URL including the code and state parameters",
				Required: true,
			},
		},
		Action: func(c *cli.Context) error {
			facade, _, err := resolveSession(c, logger)
			if err != nil {
				return err
			}

			loc, err := location.NewStatic(c.String("url"))
			if err != nil {
				return err
			}
			if !location.HasCallbackParams(loc.Query()) {
				return fmt.Errorf("%w: url has no code and state parameters", errors.ErrMissingTransaction)
			}

			state := facade.Init(location.WithContext(c.Context, loc))
			if !state.Authenticated {
				return fmt.Errorf("sign in did not complete: %w", errors.ErrLoginRequired)
			}
			return printState(c.App.Writer, state)
		},
	}
}

// LogoutCommand ends the session.
func LogoutCommand(logger *zerolog.Logger) *cli.Command {
	return &cli.Command{
		Name:  "logout",
		Usage: "Clear the local session and print the provider logout URL",
		Flags: []cli.Flag{
			&cli.BoolFlag{
				Name:  "local",
				Usage: "only clear the local token cache",
			},
		},
		Action: func(c *cli.Context) error {
			facade, cfg, err := resolveSession(c, logger)
			if err != nil {
				return err
			}

			if c.Bool("local") {
				client, err := facade.Client(c.Context)
				if err != nil {
					return err
				}
				if err := client.Logout(c.Context, auth.LogoutOptions{LocalOnly: true}); err != nil {
					return err
				}
				fmt.Fprintln(c.App.Writer, "Local session cleared.")
				return nil
			}

			loc, err := location.NewTerminal(cfg.RedirectURI, c.App.Writer)
			if err != nil {
				return err
			}
			facade.Logout(location.WithContext(c.Context, loc))
			return nil
		},
	}
}

// StatusCommand reports the session state as JSON.
func StatusCommand(logger *zerolog.Logger) *cli.Command {
	return &cli.Command{
		Name:  "status",
		Usage: "Print whether a user is signed in",
		Action: func(c *cli.Context) error {
			facade, cfg, err := resolveSession(c, logger)
			if err != nil {
				return err
			}

			loc, err := location.NewStatic(cfg.RedirectURI)
			if err != nil {
				return err
			}
			return printState(c.App.Writer, facade.Init(location.WithContext(c.Context, loc)))
		},
	}
}

// TokenCommand prints an access token, refreshing it when needed.
func TokenCommand(logger *zerolog.Logger) *cli.Command {
	return &cli.Command{
		Name:  "token",
		Usage: "Print an access token without user interaction",
		Action: func(c *cli.Context) error {
			facade, _, err := resolveSession(c, logger)
			if err != nil {
				return err
			}

			token, ok := facade.Token(c.Context)
			if !ok {
				return errors.ErrLoginRequired
			}
			fmt.Fprintln(c.App.Writer, token)
			return nil
		},
	}
}

// WhoamiCommand prints the signed in user's profile.
func WhoamiCommand(logger *zerolog.Logger) *cli.Command {
	return &cli.Command{
		Name:  "whoami",
		Usage: "Print the signed in user's profile",
		Action: func(c *cli.Context) error {
			facade, _, err := resolveSession(c, logger)
			if err != nil {
				return err
			}

			user := facade.User(c.Context)
			if user == nil {
				return errors.ErrLoginRequired
			}
			return printJSON(c.App.Writer, user)
		},
	}
}

func resolveSession(c *cli.Context, logger *zerolog.Logger) (*session.Facade, *config.Config, error) {
	container, err := newContainer(c, logger)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to setup DI container: %w", err)
	}

	cfg, err := di.Get[*config.Config](container)
	if err != nil {
		return nil, nil, err
	}
	facade, err := di.Get[*session.Facade](container)
	if err != nil {
		return nil, nil, err
	}
	return facade, cfg, nil
}

func printState(w io.Writer, state session.State) error {
	return printJSON(w, state)
}

func printJSON(w io.Writer, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal output: %w", err)
	}
	_, err = fmt.Fprintln(w, string(data))
	return err
}
