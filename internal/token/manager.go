package token

import (
	"crypto"
	"crypto/ecdsa"
	"crypto/rand"
	"crypto/rsa"
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"food-auth-service/internal/config"
)

var (
	// ErrMissingSigningKey is returned at sign time when no secret or key is configured.
	ErrMissingSigningKey = errors.New("access token signing key is not configured")
	ErrInvalidToken      = errors.New("invalid access token")
)

// Claims is the access token payload.
type Claims struct {
	jwt.RegisteredClaims
	PhoneNumber string `json:"phoneNumber"`
	SessionID   string `json:"sid,omitempty"`
}

// Manager signs and verifies stateless access tokens.
type Manager struct {
	method    jwt.SigningMethod
	signKey   interface{}
	verifyKey interface{}
	issuer    string
	ttl       time.Duration
	now       func() time.Time
}

// NewManager picks RS256/ES256 when a private key file is configured, HS256 otherwise.
// A missing secret is not an error here; Issue reports it.
func NewManager(cfg config.AuthConfig) (*Manager, error) {
	m := &Manager{
		issuer: cfg.Issuer,
		ttl:    cfg.AccessTTL,
		now:    time.Now,
	}

	if cfg.JWTPrivateKeyFile != "" {
		if err := m.loadKeyPair(cfg.JWTPrivateKeyFile, cfg.JWTPublicKeyFile); err != nil {
			return nil, err
		}
		return m, nil
	}

	m.method = jwt.SigningMethodHS256
	if cfg.JWTSecret != "" {
		m.signKey = []byte(cfg.JWTSecret)
		m.verifyKey = []byte(cfg.JWTSecret)
	}
	return m, nil
}

func (m *Manager) loadKeyPair(privatePath, publicPath string) error {
	privatePEM, err := os.ReadFile(privatePath)
	if err != nil {
		return fmt.Errorf("failed to read JWT private key: %w", err)
	}

	var signer crypto.Signer
	if key, err := jwt.ParseRSAPrivateKeyFromPEM(privatePEM); err == nil {
		signer = key
	} else if key, err := jwt.ParseECPrivateKeyFromPEM(privatePEM); err == nil {
		signer = key
	} else {
		return fmt.Errorf("unsupported JWT private key: %w", err)
	}

	public := signer.Public()
	if publicPath != "" {
		publicPEM, err := os.ReadFile(publicPath)
		if err != nil {
			return fmt.Errorf("failed to read JWT public key: %w", err)
		}
		if key, err := jwt.ParseRSAPublicKeyFromPEM(publicPEM); err == nil {
			public = key
		} else if key, err := jwt.ParseECPublicKeyFromPEM(publicPEM); err == nil {
			public = key
		} else {
			return fmt.Errorf("unsupported JWT public key: %w", err)
		}
	}

	switch public.(type) {
	case *rsa.PublicKey:
		m.method = jwt.SigningMethodRS256
	case *ecdsa.PublicKey:
		m.method = jwt.SigningMethodES256
	default:
		return errors.New("unsupported JWT key type")
	}

	m.signKey = signer
	m.verifyKey = public
	return nil
}

// TTL is the lifetime of issued tokens.
func (m *Manager) TTL() time.Duration {
	return m.ttl
}

// Issue signs a token for userID with expiry now+TTL.
func (m *Manager) Issue(userID, phoneNumber, sessionID string) (string, time.Time, error) {
	if m.signKey == nil {
		return "", time.Time{}, ErrMissingSigningKey
	}

	jti, err := generateJTI()
	if err != nil {
		return "", time.Time{}, err
	}

	now := m.now().UTC()
	expiresAt := now.Add(m.ttl)
	claims := Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        jti,
			Subject:   userID,
			Issuer:    m.issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(expiresAt),
		},
		PhoneNumber: phoneNumber,
		SessionID:   sessionID,
	}

	signed, err := jwt.NewWithClaims(m.method, claims).SignedString(m.signKey)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("failed to sign access token: %w", err)
	}
	return signed, expiresAt, nil
}

// Verify checks signature, issuer and expiry. It never touches a store.
func (m *Manager) Verify(tokenString string) (*Claims, error) {
	if m.verifyKey == nil {
		return nil, ErrMissingSigningKey
	}

	claims := &Claims{}
	parsed, err := jwt.ParseWithClaims(tokenString, claims,
		func(*jwt.Token) (interface{}, error) { return m.verifyKey, nil },
		jwt.WithValidMethods([]string{m.method.Alg()}),
		jwt.WithIssuer(m.issuer),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(m.now),
	)
	if err != nil || !parsed.Valid || claims.Subject == "" {
		return nil, ErrInvalidToken
	}
	return claims, nil
}

func generateJTI() (string, error) {
	b := make([]byte, 16)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}
