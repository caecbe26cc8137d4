package cache

import (
	"context"
	"fmt"

	"github.com/gorilla/securecookie"
)

// EncryptedCache seals values with AES before handing them to the wrapped
// Cache. Keys are tried newest first, so older keys keep decrypting entries
// written before a rotation.
type EncryptedCache struct {
	next   Cache
	codecs []securecookie.Codec
}

// NewEncryptedCache wraps next. Each key must be 16, 24 or 32 bytes.
func NewEncryptedCache(next Cache, keys [][]byte) (*EncryptedCache, error) {
	if len(keys) == 0 {
		return nil, fmt.Errorf("at least one encryption key is required")
	}

	codecs := make([]securecookie.Codec, 0, len(keys))
	for i, key := range keys {
		switch len(key) {
		case 16, 24, 32:
		default:
			return nil, fmt.Errorf("encryption key %d has invalid length %d", i, len(key))
		}
		sc := securecookie.New(key, key).
			MaxAge(0).
			MaxLength(0).
			SetSerializer(securecookie.NopEncoder{})
		codecs = append(codecs, sc)
	}

	return &EncryptedCache{next: next, codecs: codecs}, nil
}

func (e *EncryptedCache) Get(ctx context.Context, key string) ([]byte, error) {
	sealed, err := e.next.Get(ctx, key)
	if err != nil {
		return nil, err
	}

	var value []byte
	if err := securecookie.DecodeMulti(key, string(sealed), &value, e.codecs...); err != nil {
		return nil, fmt.Errorf("failed to decrypt cache entry %s: %w", key, err)
	}
	return value, nil
}

func (e *EncryptedCache) Set(ctx context.Context, key string, value []byte) error {
	sealed, err := securecookie.EncodeMulti(key, value, e.codecs...)
	if err != nil {
		return fmt.Errorf("failed to encrypt cache entry %s: %w", key, err)
	}
	return e.next.Set(ctx, key, []byte(sealed))
}

func (e *EncryptedCache) Delete(ctx context.Context, key string) error {
	return e.next.Delete(ctx, key)
}
