package auth

import (
	"crypto/rand"
	"crypto/rsa"
	"errors"
	"fmt"
	"os"

	jwt "github.com/golang-jwt/jwt/v5"
	"go.uber.org/zap"

	"github.com/spec-kit/admissions-auth/internal/config"
)

// ErrKeyUnavailable is returned when key material was never initialized.
var ErrKeyUnavailable = errors.New("signing key unavailable")

// KeyStore holds the active asymmetric keypair used to sign and verify
// tokens. The pair is fixed at construction; there is no rotation at runtime.
type KeyStore struct {
	private *rsa.PrivateKey
	public  *rsa.PublicKey
}

// NewKeyStore wraps an existing private key.
func NewKeyStore(private *rsa.PrivateKey) *KeyStore {
	if private == nil {
		return &KeyStore{}
	}
	return &KeyStore{private: private, public: &private.PublicKey}
}

// LoadKeyStore builds a KeyStore from configuration: inline PEM first, then a
// key file. With neither configured it generates an ephemeral keypair so
// local development works out of the box; tokens do not survive a restart in
// that mode.
func LoadKeyStore(cfg config.AuthConfig, logger *zap.Logger) (*KeyStore, error) {
	if cfg.PrivateKeyPEM != "" {
		key, err := jwt.ParseRSAPrivateKeyFromPEM([]byte(cfg.PrivateKeyPEM))
		if err != nil {
			return nil, fmt.Errorf("parse AUTH_PRIVATE_KEY_PEM: %w", err)
		}
		return NewKeyStore(key), nil
	}

	if cfg.PrivateKeyPath != "" {
		pem, err := os.ReadFile(cfg.PrivateKeyPath)
		if err != nil {
			return nil, fmt.Errorf("read key file %s: %w", cfg.PrivateKeyPath, err)
		}
		key, err := jwt.ParseRSAPrivateKeyFromPEM(pem)
		if err != nil {
			return nil, fmt.Errorf("parse key file %s: %w", cfg.PrivateKeyPath, err)
		}
		return NewKeyStore(key), nil
	}

	logger.Warn("no signing key configured; generating ephemeral keypair")
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		return nil, fmt.Errorf("generate keypair: %w", err)
	}
	return NewKeyStore(key), nil
}

// PrivateKey returns the signing key.
func (k *KeyStore) PrivateKey() (*rsa.PrivateKey, error) {
	if k == nil || k.private == nil {
		return nil, ErrKeyUnavailable
	}
	return k.private, nil
}

// PublicKey returns the verification key.
func (k *KeyStore) PublicKey() (*rsa.PublicKey, error) {
	if k == nil || k.public == nil {
		return nil, ErrKeyUnavailable
	}
	return k.public, nil
}
