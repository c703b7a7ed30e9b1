package driven

import (
	"context"
	"errors"

	"github.com/nomorepassword/bclient/internal/domain/model"
)

// ErrEncryptionKeyNotSet is returned by CredentialStore operations when the
// adapter was constructed without an encryption key.
var ErrEncryptionKeyNotSet = errors.New("encryption key not configured: set BCLIENT_SECRET_KEY")

// CredentialStore defines the driven port for target-site credential persistence.
// The adapter is responsible for encrypting passwords at rest; this interface
// operates on plaintext values at the domain boundary.
type CredentialStore interface {
	// Upsert stores or replaces the credential identified by its full key.
	Upsert(ctx context.Context, cred model.Credential) error

	// ReplaceGenerated atomically removes every auto-generated credential the
	// owner holds for cred.TargetSite and stores cred in their place.
	ReplaceGenerated(ctx context.Context, cred model.Credential) error

	// Get returns the most recently created credential the owner holds for the
	// site. Returns (nil, nil) when none exists.
	Get(ctx context.Context, ownerID, ownerUsername, targetSite string) (*model.Credential, error)

	// List returns every credential the owner holds for the site, newest first.
	List(ctx context.Context, ownerID, ownerUsername, targetSite string) ([]model.Credential, error)

	// Delete removes the credential identified by the full key. Deleting a
	// missing credential is not an error.
	Delete(ctx context.Context, ownerID, ownerUsername, targetSite, targetAccount string) error
}
