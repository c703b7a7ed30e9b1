package sqlite

import (
	"context"
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"database/sql"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/nomorepassword/bclient/internal/domain/model"
	"github.com/nomorepassword/bclient/internal/domain/port/driven"
)

// Compile-time interface satisfaction check.
var _ driven.CredentialStore = (*CredentialRepo)(nil)

// CredentialRepo is the SQLite implementation of the CredentialStore port interface.
// Passwords are encrypted with AES-256-GCM before write and decrypted after read.
type CredentialRepo struct {
	db  *DB
	key []byte // 32-byte AES-256 key; nil when encryption is disabled.
}

// NewCredentialRepo creates a new CredentialRepo. key must be 32 bytes for AES-256-GCM,
// or nil to disable credential storage (all operations will return ErrEncryptionKeyNotSet).
func NewCredentialRepo(db *DB, key []byte) *CredentialRepo {
	return &CredentialRepo{db: db, key: key}
}

const credentialColumns = `owner_id, owner_username, target_site, target_account, password,
	email, first_name, last_name, location, auto_generated, created_at`

const upsertCredentialQuery = `INSERT INTO credentials (` + credentialColumns + `)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	ON CONFLICT (owner_id, owner_username, target_site, target_account) DO UPDATE SET
		password = excluded.password,
		email = excluded.email,
		first_name = excluded.first_name,
		last_name = excluded.last_name,
		location = excluded.location,
		auto_generated = excluded.auto_generated`

// Upsert stores or replaces the credential identified by its full key. The
// original created_at is kept on update.
func (r *CredentialRepo) Upsert(ctx context.Context, cred model.Credential) error {
	args, err := r.upsertArgs(cred)
	if err != nil {
		return err
	}

	if _, err := r.db.Writer.ExecContext(ctx, upsertCredentialQuery, args...); err != nil {
		return fmt.Errorf("upsert credential %s/%s: %w", cred.TargetSite, cred.TargetAccount, err)
	}
	return nil
}

// ReplaceGenerated removes the owner's auto-generated credentials for the site
// and stores cred, in one transaction.
func (r *CredentialRepo) ReplaceGenerated(ctx context.Context, cred model.Credential) error {
	args, err := r.upsertArgs(cred)
	if err != nil {
		return err
	}

	const deleteQuery = `DELETE FROM credentials
		WHERE owner_id = ? AND owner_username = ? AND target_site = ? AND auto_generated = 1`

	return r.db.withTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, deleteQuery, cred.OwnerID, cred.OwnerUsername, cred.TargetSite); err != nil {
			return fmt.Errorf("delete generated credentials for %s: %w", cred.TargetSite, err)
		}
		if _, err := tx.ExecContext(ctx, upsertCredentialQuery, args...); err != nil {
			return fmt.Errorf("insert generated credential %s/%s: %w", cred.TargetSite, cred.TargetAccount, err)
		}
		return nil
	})
}

// Get returns the newest credential for the owner and site, or (nil, nil).
func (r *CredentialRepo) Get(ctx context.Context, ownerID, ownerUsername, targetSite string) (*model.Credential, error) {
	if r.key == nil {
		return nil, driven.ErrEncryptionKeyNotSet
	}

	query := `SELECT ` + credentialColumns + ` FROM credentials
		WHERE owner_id = ? AND owner_username = ? AND target_site = ?
		ORDER BY created_at DESC, rowid DESC LIMIT 1`

	cred, err := r.scanCredential(r.db.Reader.QueryRowContext(ctx, query, ownerID, ownerUsername, targetSite))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get credential for %s: %w", targetSite, err)
	}
	return cred, nil
}

// List returns every credential the owner holds for the site, newest first.
func (r *CredentialRepo) List(ctx context.Context, ownerID, ownerUsername, targetSite string) ([]model.Credential, error) {
	if r.key == nil {
		return nil, driven.ErrEncryptionKeyNotSet
	}

	query := `SELECT ` + credentialColumns + ` FROM credentials
		WHERE owner_id = ? AND owner_username = ? AND target_site = ?
		ORDER BY created_at DESC, rowid DESC`

	rows, err := r.db.Reader.QueryContext(ctx, query, ownerID, ownerUsername, targetSite)
	if err != nil {
		return nil, fmt.Errorf("list credentials: %w", err)
	}
	defer rows.Close()

	var creds []model.Credential
	for rows.Next() {
		cred, err := r.scanCredential(rows)
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

// Delete removes the credential identified by the full key.
func (r *CredentialRepo) Delete(ctx context.Context, ownerID, ownerUsername, targetSite, targetAccount string) error {
	const query = `DELETE FROM credentials
		WHERE owner_id = ? AND owner_username = ? AND target_site = ? AND target_account = ?`
	_, err := r.db.Writer.ExecContext(ctx, query, ownerID, ownerUsername, targetSite, targetAccount)
	if err != nil {
		return fmt.Errorf("delete credential %s/%s: %w", targetSite, targetAccount, err)
	}
	return nil
}

func (r *CredentialRepo) upsertArgs(cred model.Credential) ([]any, error) {
	if cred.TargetAccount == "" {
		return nil, errors.New("credential target account is required")
	}

	encrypted, err := r.encrypt(cred.Password)
	if err != nil {
		return nil, err
	}

	createdAt := cred.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now()
	}

	return []any{
		cred.OwnerID, cred.OwnerUsername, cred.TargetSite, cred.TargetAccount, encrypted,
		cred.Email, cred.FirstName, cred.LastName, cred.Location,
		boolToInt(cred.AutoGenerated), formatTime(createdAt),
	}, nil
}

func (r *CredentialRepo) scanCredential(s scanner) (*model.Credential, error) {
	var cred model.Credential
	var encrypted, createdAt string
	var autoGenerated int

	err := s.Scan(
		&cred.OwnerID, &cred.OwnerUsername, &cred.TargetSite, &cred.TargetAccount, &encrypted,
		&cred.Email, &cred.FirstName, &cred.LastName, &cred.Location, &autoGenerated, &createdAt,
	)
	if err != nil {
		return nil, err
	}

	cred.Password, err = r.decrypt(encrypted)
	if err != nil {
		return nil, fmt.Errorf("decrypt credential %s/%s: %w", cred.TargetSite, cred.TargetAccount, err)
	}
	cred.AutoGenerated = autoGenerated == 1

	cred.CreatedAt, err = parseTime(createdAt)
	if err != nil {
		return nil, fmt.Errorf("parse created_at: %w", err)
	}

	return &cred, nil
}

// encrypt encrypts plaintext using AES-256-GCM and returns a base64-encoded string
// containing the nonce (12 bytes) prepended to the ciphertext.
func (r *CredentialRepo) encrypt(plaintext string) (string, error) {
	if r.key == nil {
		return "", driven.ErrEncryptionKeyNotSet
	}

	gcm, err := r.gcm()
	if err != nil {
		return "", err
	}

	nonce := make([]byte, gcm.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return "", fmt.Errorf("rand nonce: %w", err)
	}

	// Seal appends the ciphertext to nonce, producing: nonce || ciphertext || tag.
	ciphertext := gcm.Seal(nonce, nonce, []byte(plaintext), nil)
	return base64.StdEncoding.EncodeToString(ciphertext), nil
}

// decrypt decrypts a base64-encoded AES-256-GCM ciphertext.
func (r *CredentialRepo) decrypt(encoded string) (string, error) {
	data, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return "", fmt.Errorf("base64 decode: %w", err)
	}

	gcm, err := r.gcm()
	if err != nil {
		return "", err
	}

	nonceSize := gcm.NonceSize()
	if len(data) < nonceSize {
		return "", errors.New("ciphertext too short")
	}

	nonce, ciphertext := data[:nonceSize], data[nonceSize:]
	plaintext, err := gcm.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return "", fmt.Errorf("gcm.Open: %w", err)
	}

	return string(plaintext), nil
}

func (r *CredentialRepo) gcm() (cipher.AEAD, error) {
	block, err := aes.NewCipher(r.key)
	if err != nil {
		return nil, fmt.Errorf("aes.NewCipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("cipher.NewGCM: %w", err)
	}
	return gcm, nil
}
