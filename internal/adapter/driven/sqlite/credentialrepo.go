package sqlite

import (
	"context"
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"database/sql"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/google/uuid"
	"golang.org/x/crypto/scrypt"

	"github.com/canvasflow/authvault/internal/domain/model"
	"github.com/canvasflow/authvault/internal/domain/port/driven"
)

// Compile-time interface satisfaction check.
var _ driven.CredentialStore = (*CredentialRepo)(nil)

// kdfSalt is the fixed application-scoped salt for deriving the AES key
// from the master secret. Changing it orphans every stored ciphertext.
const kdfSalt = "authvault.credentials.v1"

// minMasterSecretLen is the minimum acceptable master secret length in
// bytes. Secrets are human-provisioned; shorter values give scrypt too
// little to work with.
const minMasterSecretLen = 16

// CredentialRepo is the SQLite implementation of the CredentialStore port.
// Payloads are serialized to JSON and sealed with AES-256-GCM before write;
// the nonce (12 bytes) is prepended to the ciphertext and the whole blob is
// base64-encoded into a single TEXT column.
type CredentialRepo struct {
	db  *DB
	key []byte
}

// NewCredentialRepo derives the 32-byte AES-256 key from the master secret
// with scrypt and returns the repo. A missing or short secret is a
// *model.ConfigError; the service must not start without usable encryption.
func NewCredentialRepo(db *DB, masterSecret string) (*CredentialRepo, error) {
	if len(masterSecret) < minMasterSecretLen {
		return nil, &model.ConfigError{
			Msg: fmt.Sprintf("master secret must be at least %d bytes", minMasterSecretLen),
		}
	}

	key, err := scrypt.Key([]byte(masterSecret), []byte(kdfSalt), 32768, 8, 1, 32)
	if err != nil {
		return nil, fmt.Errorf("derive encryption key: %w", err)
	}

	return &CredentialRepo{db: db, key: key}, nil
}

const credentialColumns = `id, owner_id, service, kind, name, payload, valid,
	last_validated_at, last_error, engine_credential_id, created_at, updated_at, last_used_at`

// Create encrypts the payload and inserts a new credential record.
func (r *CredentialRepo) Create(ctx context.Context, ownerID, service string, kind model.AuthKind, name string, payload map[string]any) (*model.Credential, error) {
	encrypted, err := r.encryptPayload(payload)
	if err != nil {
		return nil, err
	}

	id := uuid.NewString()
	const query = `INSERT INTO credentials (id, owner_id, service, kind, name, payload)
		VALUES (?, ?, ?, ?, ?, ?)`
	if _, err := r.db.Writer.ExecContext(ctx, query, id, ownerID, service, string(kind), name, encrypted); err != nil {
		return nil, fmt.Errorf("insert credential for %q: %w", service, err)
	}

	return r.Get(ctx, id)
}

// Get returns the encrypted record without touching the payload.
func (r *CredentialRepo) Get(ctx context.Context, id string) (*model.Credential, error) {
	query := `SELECT ` + credentialColumns + ` FROM credentials WHERE id = ?`
	cred, err := scanCredential(r.db.Reader.QueryRowContext(ctx, query, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, model.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get credential %s: %w", id, err)
	}
	return cred, nil
}

// GetDecrypted returns the record together with its decrypted payload.
func (r *CredentialRepo) GetDecrypted(ctx context.Context, id string) (*model.DecryptedCredential, error) {
	cred, err := r.Get(ctx, id)
	if err != nil {
		return nil, err
	}

	payload, err := r.decryptPayload(cred.Encrypted)
	if err != nil {
		return nil, &model.DecryptionError{ID: id, Err: err}
	}

	return &model.DecryptedCredential{Credential: *cred, Payload: payload}, nil
}

// ListByOwner returns the owner's credentials, newest first.
func (r *CredentialRepo) ListByOwner(ctx context.Context, ownerID string, validOnly bool) ([]model.Credential, error) {
	query := `SELECT ` + credentialColumns + ` FROM credentials WHERE owner_id = ?`
	if validOnly {
		query += ` AND valid = 1`
	}
	query += ` ORDER BY created_at DESC, rowid DESC`

	return r.list(ctx, query, ownerID)
}

// ListByKind returns every credential of the given auth kind.
func (r *CredentialRepo) ListByKind(ctx context.Context, kind model.AuthKind) ([]model.Credential, error) {
	query := `SELECT ` + credentialColumns + ` FROM credentials WHERE kind = ? ORDER BY created_at DESC, rowid DESC`
	return r.list(ctx, query, string(kind))
}

// FindByOwnerAndService returns the owner's newest credential for a service.
func (r *CredentialRepo) FindByOwnerAndService(ctx context.Context, ownerID, service string) (*model.Credential, error) {
	query := `SELECT ` + credentialColumns + ` FROM credentials
		WHERE owner_id = ? AND service = ? ORDER BY created_at DESC, rowid DESC LIMIT 1`
	cred, err := scanCredential(r.db.Reader.QueryRowContext(ctx, query, ownerID, service))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, model.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("find credential for %q/%q: %w", ownerID, service, err)
	}
	return cred, nil
}

// FindByOwnerServiceAndType returns the owner's newest credential for a
// service restricted to one auth kind.
func (r *CredentialRepo) FindByOwnerServiceAndType(ctx context.Context, ownerID, service string, kind model.AuthKind) (*model.Credential, error) {
	query := `SELECT ` + credentialColumns + ` FROM credentials
		WHERE owner_id = ? AND service = ? AND kind = ? ORDER BY created_at DESC, rowid DESC LIMIT 1`
	cred, err := scanCredential(r.db.Reader.QueryRowContext(ctx, query, ownerID, service, string(kind)))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, model.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("find %s credential for %q/%q: %w", kind, ownerID, service, err)
	}
	return cred, nil
}

// UpdatePayload re-encrypts and replaces the stored payload. The fresh
// nonce guarantees the new blob differs from the old even for identical
// payloads.
func (r *CredentialRepo) UpdatePayload(ctx context.Context, id string, payload map[string]any) error {
	encrypted, err := r.encryptPayload(payload)
	if err != nil {
		return err
	}

	const query = `UPDATE credentials SET payload = ?, updated_at = CURRENT_TIMESTAMP WHERE id = ?`
	return r.exec(ctx, query, encrypted, id)
}

// MarkValid records a successful validation, clearing any prior error.
func (r *CredentialRepo) MarkValid(ctx context.Context, id string) error {
	const query = `UPDATE credentials SET valid = 1, last_error = '',
		last_validated_at = CURRENT_TIMESTAMP, updated_at = CURRENT_TIMESTAMP WHERE id = ?`
	return r.exec(ctx, query, id)
}

// MarkInvalid records a failed validation or refresh with the reason.
func (r *CredentialRepo) MarkInvalid(ctx context.Context, id, reason string) error {
	const query = `UPDATE credentials SET valid = 0, last_error = ?,
		last_validated_at = CURRENT_TIMESTAMP, updated_at = CURRENT_TIMESTAMP WHERE id = ?`
	return r.exec(ctx, query, reason, id)
}

// SetEngineCredentialID stores the id assigned by the execution engine.
// Provisioning hands the credential to the engine, so the last-used stamp
// moves with it.
func (r *CredentialRepo) SetEngineCredentialID(ctx context.Context, id, engineID string) error {
	const query = `UPDATE credentials SET engine_credential_id = ?,
		last_used_at = CURRENT_TIMESTAMP, updated_at = CURRENT_TIMESTAMP WHERE id = ?`
	return r.exec(ctx, query, engineID, id)
}

// Delete removes the credential.
func (r *CredentialRepo) Delete(ctx context.Context, id string) error {
	const query = `DELETE FROM credentials WHERE id = ?`
	return r.exec(ctx, query, id)
}

func (r *CredentialRepo) list(ctx context.Context, query string, args ...any) ([]model.Credential, error) {
	rows, err := r.db.Reader.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list credentials: %w", err)
	}
	defer rows.Close()

	var creds []model.Credential
	for rows.Next() {
		cred, err := scanCredential(rows)
		if err != nil {
			return nil, fmt.Errorf("scan credential: %w", err)
		}
		creds = append(creds, *cred)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate credentials: %w", err)
	}

	return creds, nil
}

// exec runs a write that must touch exactly one row, mapping a zero-row
// result to model.ErrNotFound.
func (r *CredentialRepo) exec(ctx context.Context, query string, args ...any) error {
	res, err := r.db.Writer.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("update credential: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if n == 0 {
		return model.ErrNotFound
	}
	return nil
}

// scanner is satisfied by both *sql.Row and *sql.Rows.
type scanner interface {
	Scan(dest ...any) error
}

func scanCredential(s scanner) (*model.Credential, error) {
	var cred model.Credential
	var kind string
	var lastValidatedAt, lastUsedAt sql.NullString
	var createdAt, updatedAt string

	err := s.Scan(&cred.ID, &cred.OwnerID, &cred.Service, &kind, &cred.Name,
		&cred.Encrypted, &cred.Valid, &lastValidatedAt, &cred.LastError,
		&cred.EngineCredentialID, &createdAt, &updatedAt, &lastUsedAt)
	if err != nil {
		return nil, err
	}
	cred.Type = model.AuthKind(kind)

	if cred.CreatedAt, err = parseTime(createdAt); err != nil {
		return nil, fmt.Errorf("parse created_at: %w", err)
	}
	if cred.UpdatedAt, err = parseTime(updatedAt); err != nil {
		return nil, fmt.Errorf("parse updated_at: %w", err)
	}
	if cred.LastValidatedAt, err = parseNullableTime(lastValidatedAt); err != nil {
		return nil, fmt.Errorf("parse last_validated_at: %w", err)
	}
	if cred.LastUsedAt, err = parseNullableTime(lastUsedAt); err != nil {
		return nil, fmt.Errorf("parse last_used_at: %w", err)
	}

	return &cred, nil
}

// encryptPayload serializes the payload to JSON and seals it with
// AES-256-GCM. The returned string is base64(nonce || ciphertext || tag).
func (r *CredentialRepo) encryptPayload(payload map[string]any) (string, error) {
	if payload == nil {
		payload = map[string]any{}
	}
	plaintext, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("marshal payload: %w", err)
	}

	block, err := aes.NewCipher(r.key)
	if err != nil {
		return "", fmt.Errorf("aes.NewCipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return "", fmt.Errorf("cipher.NewGCM: %w", err)
	}

	nonce := make([]byte, gcm.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return "", fmt.Errorf("rand nonce: %w", err)
	}

	// Seal appends the ciphertext to nonce, producing: nonce || ciphertext || tag.
	ciphertext := gcm.Seal(nonce, nonce, plaintext, nil)
	return base64.StdEncoding.EncodeToString(ciphertext), nil
}

// decryptPayload opens a sealed blob. Every failure mode reports
// model.ErrDecryptFailed; the stage detail rides along for logs.
func (r *CredentialRepo) decryptPayload(encoded string) (map[string]any, error) {
	data, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return nil, fmt.Errorf("%w: base64 decode: %v", model.ErrDecryptFailed, err)
	}

	block, err := aes.NewCipher(r.key)
	if err != nil {
		return nil, fmt.Errorf("aes.NewCipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("cipher.NewGCM: %w", err)
	}

	nonceSize := gcm.NonceSize()
	if len(data) < nonceSize {
		return nil, fmt.Errorf("%w: ciphertext too short", model.ErrDecryptFailed)
	}

	nonce, ciphertext := data[:nonceSize], data[nonceSize:]
	plaintext, err := gcm.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", model.ErrDecryptFailed, err)
	}

	var payload map[string]any
	if err := json.Unmarshal(plaintext, &payload); err != nil {
		return nil, fmt.Errorf("%w: malformed payload: %v", model.ErrDecryptFailed, err)
	}

	return payload, nil
}

// parseTime tries multiple SQLite datetime formats.
func parseTime(s string) (time.Time, error) {
	formats := []string{
		"2006-01-02T15:04:05Z",
		"2006-01-02 15:04:05",
		"2006-01-02T15:04:05",
		"2006-01-02 15:04:05.000",
		time.RFC3339,
		time.RFC3339Nano,
	}

	for _, format := range formats {
		if t, err := time.Parse(format, s); err == nil {
			return t, nil
		}
	}

	return time.Time{}, fmt.Errorf("unrecognized time format: %s", s)
}

func parseNullableTime(ns sql.NullString) (*time.Time, error) {
	if !ns.Valid || ns.String == "" {
		return nil, nil
	}
	t, err := parseTime(ns.String)
	if err != nil {
		return nil, err
	}
	return &t, nil
}
