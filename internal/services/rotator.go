package services

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/secretsmanager"
	"github.com/gorilla/securecookie"
	"github.com/rs/zerolog"
	"github.com/segmentio/ksuid"
)

const (
	stageCurrent = "AWSCURRENT"
	stagePending = "AWSPENDING"

	// DefaultKeepVersions is how many key versions survive a rotation.
	DefaultKeepVersions = 3
)

// RotationEvent is the payload Secrets Manager sends a rotation function.
type RotationEvent struct {
	Step               string `json:"Step"`
	SecretId           string `json:"SecretId"`
	ClientRequestToken string `json:"ClientRequestToken"`
}

// SecretsRotationAPI is the subset of the Secrets Manager client used by
// SecretRotator.
type SecretsRotationAPI interface {
	SecretsManagerAPI
	PutSecretValue(ctx context.Context, params *secretsmanager.PutSecretValueInput, optFns ...func(*secretsmanager.Options)) (*secretsmanager.PutSecretValueOutput, error)
	DescribeSecret(ctx context.Context, params *secretsmanager.DescribeSecretInput, optFns ...func(*secretsmanager.Options)) (*secretsmanager.DescribeSecretOutput, error)
	UpdateSecretVersionStage(ctx context.Context, params *secretsmanager.UpdateSecretVersionStageInput, optFns ...func(*secretsmanager.Options)) (*secretsmanager.UpdateSecretVersionStageOutput, error)
}

// SecretRotator rotates the session key secret: each rotation prepends a new
// key and keeps the most recent versions so sealed tokens stay readable.
type SecretRotator struct {
	client SecretsRotationAPI
	keep   int
	now    func() time.Time
}

// NewSecretRotator returns a rotator keeping DefaultKeepVersions versions.
func NewSecretRotator(client SecretsRotationAPI) *SecretRotator {
	return &SecretRotator{
		client: client,
		keep:   DefaultKeepVersions,
		now:    time.Now,
	}
}

// HandleRotation runs one step of the Secrets Manager rotation protocol.
func (r *SecretRotator) HandleRotation(ctx context.Context, event RotationEvent) error {
	switch event.Step {
	case "createSecret":
		return r.createSecret(ctx, event)
	case "setSecret":
		return nil
	case "testSecret":
		return r.testSecret(ctx, event)
	case "finishSecret":
		return r.finishSecret(ctx, event)
	default:
		return fmt.Errorf("unknown rotation step: %s", event.Step)
	}
}

// Rotate runs every rotation step for secretID.
func (r *SecretRotator) Rotate(ctx context.Context, secretID string) error {
	token := "manual-" + ksuid.New().String()
	for _, step := range []string{"createSecret", "setSecret", "testSecret", "finishSecret"} {
		event := RotationEvent{
			Step:               step,
			SecretId:           secretID,
			ClientRequestToken: token,
		}
		if err := r.HandleRotation(ctx, event); err != nil {
			return fmt.Errorf("%s step failed: %w", step, err)
		}
	}
	return nil
}

func (r *SecretRotator) createSecret(ctx context.Context, event RotationEvent) error {
	logger := zerolog.Ctx(ctx)

	var versions []SecretVersion
	current, err := r.client.GetSecretValue(ctx, &secretsmanager.GetSecretValueInput{
		SecretId: aws.String(event.SecretId),
	})
	switch {
	case err != nil:
		logger.Warn().Err(err).Msg("Failed to get current secret - starting fresh")
	case current.SecretString == nil || *current.SecretString == "":
		logger.Warn().Msg("Secret is empty - starting fresh")
	default:
		if err := json.Unmarshal([]byte(*current.SecretString), &versions); err != nil {
			logger.Warn().Err(err).Msg("Current secret is corrupt (invalid JSON) - overwriting with fresh secret")
			versions = nil
		}
	}

	versions = rotateVersions(ctx, versions, newSecretVersion(r.now()), r.keep)

	secretJSON, err := json.Marshal(versions)
	if err != nil {
		return fmt.Errorf("failed to marshal secret: %w", err)
	}

	logger.Info().Int("version_count", len(versions)).Msg("Creating secret with valid versions")

	_, err = r.client.PutSecretValue(ctx, &secretsmanager.PutSecretValueInput{
		SecretId:           aws.String(event.SecretId),
		SecretString:       aws.String(string(secretJSON)),
		ClientRequestToken: aws.String(event.ClientRequestToken),
		VersionStages:      []string{stagePending},
	})
	if err != nil {
		return fmt.Errorf("failed to put secret value: %w", err)
	}
	return nil
}

func (r *SecretRotator) testSecret(ctx context.Context, event RotationEvent) error {
	output, err := r.client.GetSecretValue(ctx, &secretsmanager.GetSecretValueInput{
		SecretId:     aws.String(event.SecretId),
		VersionStage: aws.String(stagePending),
	})
	if err != nil {
		return fmt.Errorf("failed to get pending secret: %w", err)
	}
	if output.SecretString == nil {
		return fmt.Errorf("pending secret %s has no string value", event.SecretId)
	}

	keys, err := decodeVersions(ctx, event.SecretId, []byte(*output.SecretString))
	if err != nil {
		return fmt.Errorf("pending secret is invalid: %w", err)
	}
	zerolog.Ctx(ctx).Debug().Int("key_count", len(keys)).Msg("Pending secret verified")
	return nil
}

func (r *SecretRotator) finishSecret(ctx context.Context, event RotationEvent) error {
	described, err := r.client.DescribeSecret(ctx, &secretsmanager.DescribeSecretInput{
		SecretId: aws.String(event.SecretId),
	})
	if err != nil {
		return fmt.Errorf("failed to describe secret: %w", err)
	}

	var currentVersion string
	for versionID, stages := range described.VersionIdsToStages {
		for _, stage := range stages {
			if stage == stageCurrent {
				currentVersion = versionID
			}
		}
	}
	if currentVersion == event.ClientRequestToken {
		return nil
	}

	input := &secretsmanager.UpdateSecretVersionStageInput{
		SecretId:        aws.String(event.SecretId),
		VersionStage:    aws.String(stageCurrent),
		MoveToVersionId: aws.String(event.ClientRequestToken),
	}
	if currentVersion != "" {
		input.RemoveFromVersionId = aws.String(currentVersion)
	}
	if _, err := r.client.UpdateSecretVersionStage(ctx, input); err != nil {
		return fmt.Errorf("failed to update version stage: %w", err)
	}
	return nil
}

func newSecretVersion(now time.Time) SecretVersion {
	return SecretVersion{
		Secret:    base64.StdEncoding.EncodeToString(securecookie.GenerateRandomKey(KeyLength)),
		Timestamp: now.UTC().Format(time.RFC3339),
	}
}

// rotateVersions drops invalid versions, prepends next and keeps at most keep.
func rotateVersions(ctx context.Context, versions []SecretVersion, next SecretVersion, keep int) []SecretVersion {
	logger := zerolog.Ctx(ctx)

	valid := []SecretVersion{next}
	for i, v := range versions {
		decoded, err := base64.StdEncoding.DecodeString(v.Secret)
		if err != nil {
			logger.Warn().Err(err).Int("index", i).Msg("Secret is not valid base64 - discarding")
			continue
		}
		if len(decoded) != KeyLength {
			logger.Warn().Int("index", i).Int("length", len(decoded)).Msg("Secret has invalid length - discarding")
			continue
		}
		valid = append(valid, v)
	}

	if keep > 0 && len(valid) > keep {
		valid = valid[:keep]
	}
	return valid
}

// CancelRotation removes the pending stage from versionID.
func (r *SecretRotator) CancelRotation(ctx context.Context, secretID, versionID string) error {
	_, err := r.client.UpdateSecretVersionStage(ctx, &secretsmanager.UpdateSecretVersionStageInput{
		SecretId:            aws.String(secretID),
		VersionStage:        aws.String(stagePending),
		RemoveFromVersionId: aws.String(versionID),
	})
	if err != nil {
		return fmt.Errorf("failed to remove %s stage: %w", stagePending, err)
	}
	return nil
}
