package model

import "time"

// Credential is a stored third-party credential owned by a single user.
// Service identifies the external system ("github", "slack", "postgres") and
// Type the auth kind used with it. The secret material itself lives only in
// Encrypted, an opaque sealed blob; it is never persisted or exposed in
// plaintext.
type Credential struct {
	ID                 string
	OwnerID            string
	Service            string
	Type               AuthKind
	Name               string
	Encrypted          string
	Valid              bool
	LastValidatedAt    *time.Time
	LastError          string
	EngineCredentialID string
	CreatedAt          time.Time
	UpdatedAt          time.Time
	LastUsedAt         *time.Time
}

// Provisioned reports whether the credential has been pushed to the
// workflow execution engine.
func (c *Credential) Provisioned() bool {
	return c.EngineCredentialID != ""
}

// DecryptedCredential pairs a credential record with its decrypted payload.
// It exists only in memory; the payload must never be written back to
// storage or included in API responses.
type DecryptedCredential struct {
	Credential
	Payload map[string]any
}
