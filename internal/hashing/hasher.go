package hashing

import (
	"crypto/rand"
	"crypto/subtle"
	"encoding/base64"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"food-auth-service/internal/config"
	"food-auth-service/internal/util"

	"go.uber.org/zap"
	"golang.org/x/crypto/argon2"
)

var (
	ErrInvalidHash         = errors.New("invalid hash format")
	ErrIncompatibleVersion = errors.New("incompatible argon2 version")
	ErrUnknownPepper       = errors.New("pepper version not found")
)

const (
	algorithm = "argon2id-v1"

	purposeOTP     = "otp"
	purposeRefresh = "refresh"
)

type Argon2Params struct {
	Memory      uint32
	Iterations  uint32
	Parallelism uint8
	SaltLength  uint32
	KeyLength   uint32
}

type Pepper struct {
	Value     string
	CreatedAt time.Time
	Version   int
}

// Hasher hashes short secrets with Argon2id, a versioned pepper and a purpose tag.
type Hasher struct {
	params        Argon2Params
	currentPepper *Pepper
	oldPeppers    []*Pepper
	mu            sync.RWMutex
}

// HashResult is the decoded form of a stored hash.
type HashResult struct {
	Hash          string `json:"hash"`
	Salt          string `json:"salt"`
	PepperVersion int    `json:"pepper_version"`
	Algorithm     string `json:"algorithm"`
	Memory        uint32 `json:"memory"`
	Iterations    uint32 `json:"iterations"`
	Parallelism   uint8  `json:"parallelism"`
}

func NewHasher(cfg *config.Config) *Hasher {
	params := Argon2Params{
		Memory:      uint32(cfg.Hashing.Argon2MemoryCost),
		Iterations:  uint32(cfg.Hashing.Argon2TimeCost),
		Parallelism: uint8(cfg.Hashing.Argon2Parallelism),
		SaltLength:  16,
		KeyLength:   32,
	}
	if params.Memory == 0 {
		params.Memory = 19 * 1024
	}
	if params.Iterations == 0 {
		params.Iterations = 2
	}
	if params.Parallelism == 0 {
		params.Parallelism = 1
	}

	h := &Hasher{params: params}

	if len(cfg.Hashing.Peppers) == 0 {
		util.Warn("No peppers configured, using an ephemeral pepper; stored hashes will not survive a restart")
		h.addPepper(randomPepper())
	}
	for _, value := range cfg.Hashing.Peppers {
		h.addPepper(value)
	}

	return h
}

func randomPepper() string {
	pepperBytes := make([]byte, 32)
	if _, err := rand.Read(pepperBytes); err != nil {
		util.Fatal("Failed to generate pepper", zap.Error(err))
	}
	return base64.RawURLEncoding.EncodeToString(pepperBytes)
}

// addPepper makes value the current pepper and keeps the previous ones for verification.
func (h *Hasher) addPepper(value string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.currentPepper != nil {
		h.oldPeppers = append(h.oldPeppers, h.currentPepper)
	}

	h.currentPepper = &Pepper{
		Value:     value,
		CreatedAt: time.Now(),
		Version:   len(h.oldPeppers) + 1,
	}

	util.Debug("Pepper registered", zap.Int("version", h.currentPepper.Version))
}

func (h *Hasher) HashOTP(otp string) (string, error) {
	return h.hash(otp, purposeOTP)
}

func (h *Hasher) VerifyOTP(otp, encoded string) (bool, error) {
	return h.verify(otp, encoded, purposeOTP)
}

func (h *Hasher) HashRefreshSecret(secret string) (string, error) {
	return h.hash(secret, purposeRefresh)
}

func (h *Hasher) VerifyRefreshSecret(secret, encoded string) (bool, error) {
	return h.verify(secret, encoded, purposeRefresh)
}

func (h *Hasher) hash(data, purpose string) (string, error) {
	result, err := h.hashWithPepper(data, purpose)
	if err != nil {
		return "", err
	}
	return result.Encode(), nil
}

func (h *Hasher) verify(data, encoded, purpose string) (bool, error) {
	result, err := ParseHashResult(encoded)
	if err != nil {
		return false, err
	}
	return h.verifyWithPepper(data, result, purpose)
}

func (h *Hasher) hashWithPepper(data, purpose string) (*HashResult, error) {
	h.mu.RLock()
	pepper := h.currentPepper
	h.mu.RUnlock()

	salt := make([]byte, h.params.SaltLength)
	if _, err := rand.Read(salt); err != nil {
		return nil, fmt.Errorf("failed to generate salt: %w", err)
	}

	// Purpose keeps an OTP hash from ever verifying as a refresh secret.
	contextualData := data + pepper.Value + purpose

	hash := argon2.IDKey(
		[]byte(contextualData),
		salt,
		h.params.Iterations,
		h.params.Memory,
		h.params.Parallelism,
		h.params.KeyLength,
	)

	return &HashResult{
		Hash:          base64.RawURLEncoding.EncodeToString(hash),
		Salt:          base64.RawURLEncoding.EncodeToString(salt),
		PepperVersion: pepper.Version,
		Algorithm:     algorithm,
		Memory:        h.params.Memory,
		Iterations:    h.params.Iterations,
		Parallelism:   h.params.Parallelism,
	}, nil
}

func (h *Hasher) verifyWithPepper(data string, hashResult *HashResult, purpose string) (bool, error) {
	if hashResult.Algorithm != algorithm {
		return false, ErrIncompatibleVersion
	}

	pepper, err := h.getPepper(hashResult.PepperVersion)
	if err != nil {
		return false, err
	}

	salt, err := base64.RawURLEncoding.DecodeString(hashResult.Salt)
	if err != nil {
		return false, ErrInvalidHash
	}

	expectedHash, err := base64.RawURLEncoding.DecodeString(hashResult.Hash)
	if err != nil {
		return false, ErrInvalidHash
	}

	computedHash := argon2.IDKey(
		[]byte(data+pepper+purpose),
		salt,
		hashResult.Iterations,
		hashResult.Memory,
		hashResult.Parallelism,
		uint32(len(expectedHash)),
	)

	return subtle.ConstantTimeCompare(computedHash, expectedHash) == 1, nil
}

func (h *Hasher) getPepper(version int) (string, error) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	if h.currentPepper != nil && h.currentPepper.Version == version {
		return h.currentPepper.Value, nil
	}

	for _, pepper := range h.oldPeppers {
		if pepper.Version == version {
			return pepper.Value, nil
		}
	}

	return "", ErrUnknownPepper
}

// CurrentPepperVersion is exposed for health reporting.
func (h *Hasher) CurrentPepperVersion() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.currentPepper.Version
}

// Encode renders the result as
// argon2id-v1$p=<pepper>$m=<memory>,t=<iterations>,l=<parallelism>$<salt>$<hash>.
func (r *HashResult) Encode() string {
	return fmt.Sprintf("%s$p=%d$m=%d,t=%d,l=%d$%s$%s",
		r.Algorithm, r.PepperVersion, r.Memory, r.Iterations, r.Parallelism, r.Salt, r.Hash)
}

func ParseHashResult(encoded string) (*HashResult, error) {
	parts := strings.Split(encoded, "$")
	if len(parts) != 5 {
		return nil, ErrInvalidHash
	}
	if parts[0] != algorithm {
		return nil, ErrIncompatibleVersion
	}

	result := &HashResult{Algorithm: parts[0], Salt: parts[3], Hash: parts[4]}

	version, ok := strings.CutPrefix(parts[1], "p=")
	if !ok {
		return nil, ErrInvalidHash
	}
	pv, err := strconv.Atoi(version)
	if err != nil {
		return nil, ErrInvalidHash
	}
	result.PepperVersion = pv

	var memory, iterations uint32
	var parallelism uint8
	if _, err := fmt.Sscanf(parts[2], "m=%d,t=%d,l=%d", &memory, &iterations, &parallelism); err != nil {
		return nil, ErrInvalidHash
	}
	if memory == 0 || iterations == 0 || parallelism == 0 {
		return nil, ErrInvalidHash
	}
	result.Memory, result.Iterations, result.Parallelism = memory, iterations, parallelism

	return result, nil
}
