package security

import (
	"bytes"
	"context"
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/goliatone/go-billing-connect/core"
)

const (
	envelopePrefix    = "billing.secret.v1:"
	envelopeAlgorithm = "aes-256-gcm"
)

type Option func(*AppKeySecretProvider)

// AppKeySecretProvider encrypts credential payloads at rest with a
// single application key using AES-256-GCM. Envelopes carry key id and
// version so a future key rotation can route decryption, and the
// metadata is bound into the cipher as additional data: an envelope
// whose header was edited after sealing does not decrypt.
//
// Decrypt failures surface as TOKEN_DECRYPTION_FAILED so callers route
// straight to re-authorization instead of retrying.
type AppKeySecretProvider struct {
	key     []byte
	keyID   string
	version int
}

type envelope struct {
	KeyID      string `json:"kid"`
	Version    int    `json:"ver"`
	Algorithm  string `json:"alg"`
	Nonce      string `json:"nonce"`
	Ciphertext string `json:"ciphertext"`
}

// additionalData is the authenticated header: sealing and opening must
// agree on it byte for byte.
func (e envelope) additionalData() []byte {
	return []byte(fmt.Sprintf("%s|%d|%s", e.KeyID, e.Version, e.Algorithm))
}

func WithKeyID(id string) Option {
	return func(provider *AppKeySecretProvider) {
		trimmed := strings.TrimSpace(id)
		if trimmed != "" {
			provider.keyID = trimmed
		}
	}
}

func WithVersion(version int) Option {
	return func(provider *AppKeySecretProvider) {
		if version > 0 {
			provider.version = version
		}
	}
}

func NewAppKeySecretProvider(keyMaterial []byte, opts ...Option) (*AppKeySecretProvider, error) {
	key := bytes.TrimSpace(keyMaterial)
	if len(key) == 0 {
		return nil, fmt.Errorf("security: key material is required")
	}
	normalized := normalizeKey(key)
	provider := &AppKeySecretProvider{
		key:     normalized,
		keyID:   "app-key",
		version: 1,
	}
	for _, opt := range opts {
		if opt == nil {
			continue
		}
		opt(provider)
	}
	return provider, nil
}

func NewAppKeySecretProviderFromString(key string, opts ...Option) (*AppKeySecretProvider, error) {
	return NewAppKeySecretProvider([]byte(key), opts...)
}

// Encrypt seals plaintext into a prefixed JSON envelope. Empty
// plaintext round-trips: the sealed payload is then just the GCM tag.
func (p *AppKeySecretProvider) Encrypt(_ context.Context, plaintext []byte) ([]byte, error) {
	if p == nil {
		return nil, fmt.Errorf("security: secret provider is nil")
	}
	gcm, err := p.cipher()
	if err != nil {
		return nil, err
	}

	nonce := make([]byte, gcm.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, fmt.Errorf("security: nonce generation failed: %w", err)
	}

	sealed := envelope{
		KeyID:     p.keyID,
		Version:   p.version,
		Algorithm: envelopeAlgorithm,
		Nonce:     base64.StdEncoding.EncodeToString(nonce),
	}
	sealed.Ciphertext = base64.StdEncoding.EncodeToString(
		gcm.Seal(nil, nonce, plaintext, sealed.additionalData()),
	)
	data, err := json.Marshal(sealed)
	if err != nil {
		return nil, fmt.Errorf("security: encode envelope: %w", err)
	}

	prefixed := append([]byte(envelopePrefix), data...)
	return prefixed, nil
}

func (p *AppKeySecretProvider) Decrypt(_ context.Context, ciphertext []byte) ([]byte, error) {
	if p == nil {
		return nil, fmt.Errorf("security: secret provider is nil")
	}
	if len(ciphertext) == 0 {
		return nil, core.NewDecryptionFailed("security: ciphertext is required")
	}

	payload := string(ciphertext)
	if !strings.HasPrefix(payload, envelopePrefix) {
		return nil, core.NewDecryptionFailed("security: payload is not a recognized secret envelope")
	}
	payload = strings.TrimPrefix(payload, envelopePrefix)

	var parsed envelope
	if err := json.Unmarshal([]byte(payload), &parsed); err != nil {
		return nil, core.NewDecryptionFailed("security: envelope is not valid JSON")
	}

	if parsed.Algorithm != envelopeAlgorithm {
		return nil, core.NewDecryptionFailed(
			fmt.Sprintf("security: unsupported envelope algorithm %q", parsed.Algorithm),
		)
	}
	if parsed.KeyID != "" && parsed.KeyID != p.keyID {
		return nil, core.NewDecryptionFailed(
			fmt.Sprintf("security: key id mismatch: got %q want %q", parsed.KeyID, p.keyID),
		)
	}
	if parsed.Version > 0 && parsed.Version != p.version {
		return nil, core.NewDecryptionFailed(
			fmt.Sprintf("security: key version mismatch: got %d want %d", parsed.Version, p.version),
		)
	}

	nonce, err := base64.StdEncoding.DecodeString(parsed.Nonce)
	if err != nil {
		return nil, core.NewDecryptionFailed("security: envelope nonce is not valid base64")
	}
	encryptedPayload, err := base64.StdEncoding.DecodeString(parsed.Ciphertext)
	if err != nil {
		return nil, core.NewDecryptionFailed("security: envelope ciphertext is not valid base64")
	}

	gcm, err := p.cipher()
	if err != nil {
		return nil, err
	}
	if len(nonce) != gcm.NonceSize() {
		return nil, core.NewDecryptionFailed("security: envelope nonce has the wrong size")
	}

	plaintext, err := gcm.Open(nil, nonce, encryptedPayload, parsed.additionalData())
	if err != nil {
		return nil, core.NewDecryptionFailed("security: payload failed authenticated decryption")
	}
	return plaintext, nil
}

func (p *AppKeySecretProvider) cipher() (cipher.AEAD, error) {
	block, err := aes.NewCipher(p.key)
	if err != nil {
		return nil, fmt.Errorf("security: create cipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("security: create gcm: %w", err)
	}
	return gcm, nil
}

func (p *AppKeySecretProvider) KeyID() string {
	if p == nil {
		return ""
	}
	return p.keyID
}

func (p *AppKeySecretProvider) Version() int {
	if p == nil {
		return 0
	}
	return p.version
}

func normalizeKey(value []byte) []byte {
	if len(value) == 16 || len(value) == 24 || len(value) == 32 {
		key := make([]byte, len(value))
		copy(key, value)
		return key
	}
	sum := sha256.Sum256(value)
	key := make([]byte, len(sum))
	copy(key, sum[:])
	return key
}

var _ core.SecretProvider = (*AppKeySecretProvider)(nil)
