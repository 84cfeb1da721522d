package auth

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"log/slog"
)

// CredentialSet identifies one OAuth2 application registration. Tenants
// configured with equal credential sets share tokens and quota.
type CredentialSet struct {
	ClientID     string
	ClientSecret string
	Region       string
}

// Key returns a stable identity for the credential set that is safe to
// log and store. The secret participates in the hash but cannot be
// recovered from it.
func (c CredentialSet) Key() string {
	h := sha256.New()
	h.Write([]byte(c.ClientID))
	h.Write([]byte{0})
	h.Write([]byte(c.ClientSecret))
	h.Write([]byte{0})
	h.Write([]byte(c.Region))
	return hex.EncodeToString(h.Sum(nil)[:12])
}

// Validate checks that all fields are present
func (c CredentialSet) Validate() error {
	if c.ClientID == "" {
		return fmt.Errorf("client ID cannot be empty")
	}
	if c.ClientSecret == "" {
		return fmt.Errorf("client secret cannot be empty")
	}
	if c.Region == "" {
		return fmt.Errorf("region cannot be empty")
	}
	return nil
}

// LogValue keeps the client secret out of structured logs.
func (c CredentialSet) LogValue() slog.Value {
	return slog.GroupValue(
		slog.String("client_id", c.ClientID),
		slog.String("region", c.Region),
		slog.String("key", c.Key()),
	)
}
