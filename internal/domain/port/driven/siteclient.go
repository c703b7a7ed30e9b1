package driven

import (
	"context"
	"errors"

	"github.com/nomorepassword/bclient/internal/domain/model"
)

// Sentinel errors returned by SiteClient implementations.
var (
	// ErrInvalidCredentials indicates the target site rejected the account/password.
	ErrInvalidCredentials = errors.New("target site rejected credentials")

	// ErrRedirectLoop indicates the redirect chain exceeded the hop limit.
	ErrRedirectLoop = errors.New("too many redirects")

	// ErrUnknownSite indicates no site table entry matches the requested site.
	ErrUnknownSite = errors.New("unknown target site")

	// ErrRegistrationRejected indicates the site refused a signup.
	ErrRegistrationRejected = errors.New("target site rejected registration")
)

// LoginResult is the outcome of a login attempt. Success with Degraded set
// means the site accepted the login but did not confirm the identity.
type LoginResult struct {
	Success     bool
	SessionData string
	Identity    model.Identity
	Degraded    bool
}

// RegisterResult is the outcome of a signup attempt. Structured is true when
// the site answered with a machine-readable acknowledgement rather than HTML.
type RegisterResult struct {
	Success    bool
	Structured bool
	Message    string
	Identity   model.Identity
}

// SiteClient defines the driven port for talking to target sites.
type SiteClient interface {
	// Resolve maps a requested site key to its site table entry.
	Resolve(site string) (model.Site, error)

	// Login returns ErrInvalidCredentials when the site rejects the account.
	Login(ctx context.Context, site model.Site, account, password string) (LoginResult, error)

	// Register returns ErrRegistrationRejected when the site refuses the profile.
	Register(ctx context.Context, site model.Site, profile model.Profile) (RegisterResult, error)
}
