package core

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

const (
	CredentialPayloadFormatJSONV1 = "token_pair_json"
	CredentialPayloadVersionV1    = 1
)

// CredentialCodec serializes a decrypted credential into the payload
// the secret provider encrypts at rest.
type CredentialCodec interface {
	Format() string
	Version() int
	Encode(credential ActiveCredential) ([]byte, error)
	Decode(payload []byte) (ActiveCredential, error)
}

type JSONCredentialCodec struct{}

func (JSONCredentialCodec) Format() string {
	return CredentialPayloadFormatJSONV1
}

func (JSONCredentialCodec) Version() int {
	return CredentialPayloadVersionV1
}

type jsonCredentialPayload struct {
	ConnectionID string     `json:"connection_id,omitempty"`
	TokenType    string     `json:"token_type,omitempty"`
	AccessToken  string     `json:"access_token,omitempty"`
	RefreshToken string     `json:"refresh_token,omitempty"`
	ExpiresAt    *time.Time `json:"expires_at,omitempty"`
	Refreshable  bool       `json:"refreshable"`
}

func (JSONCredentialCodec) Encode(credential ActiveCredential) ([]byte, error) {
	payload := jsonCredentialPayload{
		ConnectionID: strings.TrimSpace(credential.ConnectionID),
		TokenType:    strings.TrimSpace(credential.TokenType),
		AccessToken:  credential.AccessToken,
		RefreshToken: credential.RefreshToken,
		ExpiresAt:    cloneTimePointer(credential.ExpiresAt),
		Refreshable:  credential.Refreshable,
	}
	encoded, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("core: encode credential payload: %w", err)
	}
	return encoded, nil
}

func (JSONCredentialCodec) Decode(payload []byte) (ActiveCredential, error) {
	if len(payload) == 0 {
		return ActiveCredential{}, fmt.Errorf("core: credential payload is empty")
	}
	decoded := jsonCredentialPayload{}
	if err := json.Unmarshal(payload, &decoded); err != nil {
		return ActiveCredential{}, fmt.Errorf("core: decode credential payload: %w", err)
	}
	return ActiveCredential{
		ConnectionID: strings.TrimSpace(decoded.ConnectionID),
		TokenType:    strings.TrimSpace(decoded.TokenType),
		AccessToken:  decoded.AccessToken,
		RefreshToken: decoded.RefreshToken,
		ExpiresAt:    cloneTimePointer(decoded.ExpiresAt),
		Refreshable:  decoded.Refreshable,
	}, nil
}

func cloneTimePointer(value *time.Time) *time.Time {
	if value == nil {
		return nil
	}
	clone := value.UTC()
	return &clone
}
