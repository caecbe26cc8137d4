// Command rotator is the Secrets Manager rotation function for the session
// key secret. Outside Lambda it rotates on demand.
package main

import (
	"context"
	"fmt"
	"os"

	"github.com/aws/aws-lambda-go/lambda"
	"github.com/aws/aws-sdk-go-v2/service/secretsmanager"
	"github.com/rs/zerolog"
	"github.com/savaki/authsession/internal/di"
	"github.com/savaki/authsession/internal/services"
	"github.com/urfave/cli/v2"
)

func newRotator(ctx context.Context) (*services.SecretRotator, error) {
	cfg, err := di.ProvideAWSConfig(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}
	return services.NewSecretRotator(secretsmanager.NewFromConfig(cfg)), nil
}

func secretIDFlag() cli.Flag {
	return &cli.StringFlag{
		Name:     "secret-id",
		Usage:    "Secret ID to rotate",
		Required: true,
		EnvVars:  []string{"SECRET_ID", "AUTHSESSION_SESSION_SECRET_NAME"},
	}
}

func main() {
	logger := di.ProvideLogger().With().Str("lambda", "rotator").Logger()
	ctx := logger.WithContext(context.Background())

	if os.Getenv("AWS_LAMBDA_RUNTIME_API") != "" {
		rotator, err := newRotator(ctx)
		if err != nil {
			logger.Error().Err(err).Msg("Failed to create rotator")
			os.Exit(1)
		}

		lambda.Start(func(ctx context.Context, event services.RotationEvent) error {
			ctx = logger.WithContext(ctx)
			zerolog.Ctx(ctx).Info().Str("step", event.Step).Str("secret_id", event.SecretId).Msg("Handling rotation step")
			return rotator.HandleRotation(ctx, event)
		})
		return
	}

	app := &cli.App{
		Name:           "rotator",
		Usage:          "Secrets Manager rotation function for session keys",
		DefaultCommand: "rotate",
		Commands: []*cli.Command{
			{
				Name:  "rotate",
				Usage: "Manually trigger a rotation",
				Flags: []cli.Flag{secretIDFlag()},
				Action: func(c *cli.Context) error {
					rotator, err := newRotator(c.Context)
					if err != nil {
						return err
					}
					if err := rotator.Rotate(c.Context, c.String("secret-id")); err != nil {
						return err
					}
					fmt.Fprintln(c.App.Writer, "Rotation completed successfully")
					return nil
				},
			},
			{
				Name:  "cancel-rotation",
				Usage: "Cancel a pending rotation",
				Flags: []cli.Flag{
					secretIDFlag(),
					&cli.StringFlag{
						Name:     "version-id",
						Usage:    "Version ID of the pending rotation to cancel",
						Required: true,
					},
				},
				Action: func(c *cli.Context) error {
					rotator, err := newRotator(c.Context)
					if err != nil {
						return err
					}
					if err := rotator.CancelRotation(c.Context, c.String("secret-id"), c.String("version-id")); err != nil {
						return err
					}
					fmt.Fprintln(c.App.Writer, "Successfully cancelled pending rotation")
					return nil
				},
			},
		},
	}

	if err := app.RunContext(ctx, os.Args); err != nil {
		logger.Error().Err(err).Msg("Application error")
		os.Exit(1)
	}
}
