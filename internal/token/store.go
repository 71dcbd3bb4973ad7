package token

import (
	"context"
	"errors"

	"github.com/sbienstock98/BBS-QBO-Pipeline/internal/model"
)

var (
	// ErrNotFound is returned when no credential exists for a tenant.
	ErrNotFound = errors.New("no credential stored for tenant")

	// ErrReconsentRequired is returned when the refresh token itself was
	// rejected by the OAuth endpoint. The tenant must re-run the consent
	// flow before it can be extracted again.
	ErrReconsentRequired = errors.New("refresh token rejected, tenant re-consent required")
)

// Store persists OAuth credentials per tenant. Implementations (encrypted
// local files, remote secret vault) are interchangeable; the core only
// depends on this interface.
type Store interface {
	Get(ctx context.Context, clientID string) (model.Credential, error)
	Put(ctx context.Context, clientID string, cred model.Credential) error
}
