package services

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/secretsmanager"
	"github.com/rs/zerolog"
	"github.com/savaki/authsession/internal/errors"
)

// KeyLength is the size of every session key (AES-256).
const KeyLength = 32

// SecretVersion represents a single rotated secret version
type SecretVersion struct {
	Secret    string `json:"secret"`
	Timestamp string `json:"timestamp"`
}

// KeyProvider supplies the keys used to seal the token cache and the page
// host's cookies, newest first.
type KeyProvider interface {
	GetSessionKeys(ctx context.Context) ([][]byte, error)
}

// SecretsManagerAPI is the subset of the Secrets Manager client used here.
type SecretsManagerAPI interface {
	GetSecretValue(ctx context.Context, params *secretsmanager.GetSecretValueInput, optFns ...func(*secretsmanager.Options)) (*secretsmanager.GetSecretValueOutput, error)
}

// SessionKeyService provides session keys from Secrets Manager. The secret
// holds a JSON array of SecretVersion, most recent first.
type SessionKeyService struct {
	client     SecretsManagerAPI
	secretName string

	once sync.Once
	keys [][]byte
	err  error
}

// NewSessionKeyService creates a new session key service
func NewSessionKeyService(client SecretsManagerAPI, secretName string) *SessionKeyService {
	return &SessionKeyService{
		client:     client,
		secretName: secretName,
	}
}

// SecretName names the Secrets Manager secret holding the keys.
func (s *SessionKeyService) SecretName() string {
	return s.secretName
}

// GetSessionKeys returns the keys, fetching them once per process.
func (s *SessionKeyService) GetSessionKeys(ctx context.Context) ([][]byte, error) {
	s.once.Do(func() {
		s.keys, s.err = s.fetchSessionKeys(ctx)
	})
	return s.keys, s.err
}

func (s *SessionKeyService) fetchSessionKeys(ctx context.Context) ([][]byte, error) {
	logger := zerolog.Ctx(ctx)

	logger.Info().Str("secret_name", s.secretName).Msg("Fetching session keys from Secrets Manager")

	result, err := s.client.GetSecretValue(ctx, &secretsmanager.GetSecretValueInput{
		SecretId: aws.String(s.secretName),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to get secret %s: %w", s.secretName, err)
	}

	if result.SecretString == nil {
		return nil, fmt.Errorf("secret %s has no string value", s.secretName)
	}

	return decodeVersions(ctx, s.secretName, []byte(*result.SecretString))
}

// FileKeyService keeps session keys in a local file, generating one key on
// first use. It stands in for Secrets Manager during local development.
type FileKeyService struct {
	path string
	now  func() time.Time

	mu   sync.Mutex
	keys [][]byte
}

// NewFileKeyService creates a key service backed by path.
func NewFileKeyService(path string) *FileKeyService {
	return &FileKeyService{
		path: path,
		now:  time.Now,
	}
}

// GetSessionKeys reads the key file, creating it when missing.
func (f *FileKeyService) GetSessionKeys(ctx context.Context) ([][]byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.keys != nil {
		return f.keys, nil
	}

	data, err := os.ReadFile(f.path)
	if os.IsNotExist(err) {
		data, err = f.generate(ctx)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read session keys %s: %w", f.path, err)
	}

	keys, err := decodeVersions(ctx, f.path, data)
	if err != nil {
		return nil, err
	}
	f.keys = keys
	return keys, nil
}

// Rotate prepends a freshly generated key, keeping at most keep versions.
func (f *FileKeyService) Rotate(ctx context.Context, keep int) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	var versions []SecretVersion
	if data, err := os.ReadFile(f.path); err == nil {
		if err := json.Unmarshal(data, &versions); err != nil {
			return fmt.Errorf("failed to unmarshal secret versions: %w", err)
		}
	} else if !os.IsNotExist(err) {
		return fmt.Errorf("failed to read session keys %s: %w", f.path, err)
	}

	versions = rotateVersions(ctx, versions, newSecretVersion(f.now()), keep)

	if _, err := f.write(versions); err != nil {
		return err
	}
	f.keys = nil

	zerolog.Ctx(ctx).Info().Str("path", f.path).Int("key_count", len(versions)).Msg("Rotated session keys")
	return nil
}

func (f *FileKeyService) generate(ctx context.Context) ([]byte, error) {
	zerolog.Ctx(ctx).Info().Str("path", f.path).Msg("Generating local session key")
	return f.write([]SecretVersion{newSecretVersion(f.now())})
}

func (f *FileKeyService) write(versions []SecretVersion) ([]byte, error) {
	data, err := json.Marshal(versions)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal secret versions: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(f.path), 0o700); err != nil {
		return nil, fmt.Errorf("failed to create key directory: %w", err)
	}
	if err := os.WriteFile(f.path, data, 0o600); err != nil {
		return nil, fmt.Errorf("failed to write session keys %s: %w", f.path, err)
	}
	return data, nil
}

// decodeVersions parses a JSON array of versions, skipping entries that are
// not valid base64 or not KeyLength bytes long.
func decodeVersions(ctx context.Context, name string, data []byte) ([][]byte, error) {
	logger := zerolog.Ctx(ctx)

	var versions []SecretVersion
	if err := json.Unmarshal(data, &versions); err != nil {
		return nil, fmt.Errorf("failed to unmarshal secret versions: %w", err)
	}

	keys := make([][]byte, 0, len(versions))
	for i, version := range versions {
		decoded, err := base64.StdEncoding.DecodeString(version.Secret)
		if err != nil {
			logger.Warn().
				Int("index", i).
				Str("timestamp", version.Timestamp).
				Err(err).
				Msg("Failed to decode secret version, skipping")
			continue
		}

		if len(decoded) != KeyLength {
			logger.Warn().
				Int("index", i).
				Int("length", len(decoded)).
				Str("timestamp", version.Timestamp).
				Msg("Secret version has invalid length, skipping")
			continue
		}

		keys = append(keys, decoded)
	}

	if len(keys) == 0 {
		return nil, fmt.Errorf("%w in %s", errors.ErrNoSessionKeys, name)
	}

	logger.Debug().Int("key_count", len(keys)).Msg("Loaded session keys")

	return keys, nil
}
