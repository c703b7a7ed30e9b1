package application

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"strconv"
	"time"

	"github.com/nomorepassword/bclient/internal/domain/model"
	"github.com/nomorepassword/bclient/internal/domain/port/driven"
)

// GeneratedPasswordLength is the length of passwords created for auto-registration.
const GeneratedPasswordLength = 16

// generatedEmailDomain hosts the placeholder addresses of generated accounts.
const generatedEmailDomain = "nomorepassword.local"

// maxStoredAttempts bounds the stored credentials tried by one bind so a
// stale store cannot trip the site's lockout.
const maxStoredAttempts = 3

// SessionRefresher renews an owner's stored session on demand.
type SessionRefresher interface {
	RefreshOwner(ctx context.Context, ownerID string) error
}

// BindRequest asks the broker to produce, refresh or clear a target-site
// session for an owner.
type BindRequest struct {
	OwnerID       string
	OwnerUsername string
	TargetSite    string
	NodeID        string
	Operation     model.Operation
	AutoRefresh   bool
	Account       string
	Password      string
	// Callback is the client's local API. When zero the last cached address
	// for the owner is used.
	Callback model.NodeAddress
}

// SessionInfo describes the session handed to the client.
type SessionInfo struct {
	Payload         model.SessionPayload
	TargetSite      string
	TargetAccount   string
	AutoRefresh     bool
	RefreshDeadline time.Time
}

// RelayStatus reports whether the result reached the client's callback.
type RelayStatus struct {
	Pushed  bool
	Address string
	Error   string
}

// BindOutcome is the result of a successful bind request. Partial failures
// such as an undelivered push are reported here rather than as errors.
type BindOutcome struct {
	Operation     model.Operation
	LoginSuccess  bool
	Registered    bool
	TargetAccount string
	Session       *SessionInfo
	Degraded      bool
	Cleared       int64
	Relay         RelayStatus
	Message       string
}

// QueryResult answers whether an owner has a stored session.
type QueryResult struct {
	HasCookie bool
	Message   string
	Session   *SessionInfo
	Relay     RelayStatus
}

// BindService drives bind requests through the credential store, the target
// site and the session relay.
type BindService struct {
	sites      driven.SiteClient
	creds      driven.CredentialStore
	sessions   driven.SessionStore
	relay      driven.SessionRelay
	addrs      driven.AddressCache
	refresher  SessionRefresher
	sessionTTL time.Duration
	now        func() time.Time
	logger     *slog.Logger
}

// NewBindService creates a BindService. refresher may be nil, in which case
// auto_refresh requests are stored but not refreshed immediately.
func NewBindService(
	sites driven.SiteClient,
	creds driven.CredentialStore,
	sessions driven.SessionStore,
	relay driven.SessionRelay,
	addrs driven.AddressCache,
	refresher SessionRefresher,
	sessionTTL time.Duration,
	logger *slog.Logger,
) *BindService {
	return &BindService{
		sites:      sites,
		creds:      creds,
		sessions:   sessions,
		relay:      relay,
		addrs:      addrs,
		refresher:  refresher,
		sessionTTL: sessionTTL,
		now:        time.Now,
		logger:     logger,
	}
}

// Bind runs one bind request. The returned error is always an *Error.
func (s *BindService) Bind(ctx context.Context, req BindRequest) (*BindOutcome, error) {
	if !req.Operation.Valid() {
		return nil, structuralError("unsupported_operation",
			fmt.Sprintf("unsupported request_type %d", int(req.Operation)), ErrUnsupportedOperation)
	}
	if req.OwnerID == "" {
		return nil, structuralError("invalid_request", "user_id is required", nil)
	}

	if !req.Callback.IsZero() {
		s.addrs.Put(req.OwnerID, req.Callback)
	}

	log := s.logger.With("owner_id", req.OwnerID, "operation", req.Operation.String())

	if req.Operation == model.OpClearCookies {
		return s.clearCookies(ctx, req, log)
	}

	site, err := s.sites.Resolve(req.TargetSite)
	if err != nil {
		return nil, structuralError("unknown_site", fmt.Sprintf("no target site configured for %q", req.TargetSite), err)
	}

	if req.Operation == model.OpAutoRegister {
		return s.autoRegister(ctx, req, site, log)
	}
	return s.bindExisting(ctx, req, site, log)
}

func (s *BindService) autoRegister(ctx context.Context, req BindRequest, site model.Site, log *slog.Logger) (*BindOutcome, error) {
	existing, err := s.creds.Get(ctx, req.OwnerID, req.OwnerUsername, site.Name)
	if err != nil {
		return nil, systemError("load stored credential", err)
	}

	if existing != nil {
		res, err := s.sites.Login(ctx, site, existing.TargetAccount, existing.Password)
		if err == nil {
			log.Info("stored credential still valid", "site", site.Name)
			return s.completeLogin(ctx, req, site, existing.TargetAccount, res, log)
		}
		log.Warn("stored credential login failed, registering new account", "site", site.Name, "error", err)
	}

	password, err := GeneratePassword(GeneratedPasswordLength)
	if err != nil {
		return nil, systemError("generate password", err)
	}
	account := GenerateUsername(req.OwnerID)
	cred := model.Credential{
		OwnerID:       req.OwnerID,
		OwnerUsername: req.OwnerUsername,
		TargetSite:    site.Name,
		TargetAccount: account,
		Password:      password,
		Email:         account + "@" + generatedEmailDomain,
		FirstName:     req.OwnerUsername,
		LastName:      "User",
		AutoGenerated: true,
	}

	reg, err := s.sites.Register(ctx, site, cred.Profile())
	if err != nil {
		if errors.Is(err, driven.ErrRegistrationRejected) {
			return nil, userError("registration_rejected", "the target site refused the new account",
				"try again, or bind an existing account instead", err)
		}
		return nil, siteError("registration", err)
	}
	log.Info("registered target-site account", "site", site.Name, "account", account, "structured", reg.Structured)

	if err := s.creds.ReplaceGenerated(ctx, cred); err != nil {
		return nil, systemError("store generated credential", err)
	}

	res, err := s.sites.Login(ctx, site, account, password)
	if err != nil {
		log.Warn("login after registration failed", "site", site.Name, "error", err)
		return &BindOutcome{
			Operation:     req.Operation,
			Registered:    true,
			TargetAccount: account,
			Message:       "account registered; no session could be obtained yet",
		}, nil
	}

	out, err := s.completeLogin(ctx, req, site, account, res, log)
	if err != nil {
		return nil, err
	}
	out.Registered = true
	return out, nil
}

func (s *BindService) bindExisting(ctx context.Context, req BindRequest, site model.Site, log *slog.Logger) (*BindOutcome, error) {
	account, password := req.Account, req.Password
	explicit := account != "" && password != ""

	if !explicit {
		return s.bindStored(ctx, req, site, log)
	}

	res, err := s.sites.Login(ctx, site, account, password)
	if err != nil {
		if errors.Is(err, driven.ErrInvalidCredentials) {
			return nil, userError("invalid_credentials", "the target site rejected the account or password",
				"check the account name and password", err)
		}
		return nil, siteError("login", err)
	}

	cred := model.Credential{
		OwnerID:       req.OwnerID,
		OwnerUsername: req.OwnerUsername,
		TargetSite:    site.Name,
		TargetAccount: account,
		Password:      password,
	}
	if err := s.creds.Upsert(ctx, cred); err != nil {
		return nil, systemError("store credential", err)
	}

	return s.completeLogin(ctx, req, site, account, res, log)
}

// bindStored logs in with the owner's stored credentials, newest first, and
// stops at the first one the site accepts. A credential the site rejects is
// deleted. At most maxStoredAttempts credentials are tried per request.
func (s *BindService) bindStored(ctx context.Context, req BindRequest, site model.Site, log *slog.Logger) (*BindOutcome, error) {
	stored, err := s.creds.List(ctx, req.OwnerID, req.OwnerUsername, site.Name)
	if err != nil {
		return nil, systemError("load stored credentials", err)
	}
	if len(stored) == 0 {
		return nil, userError("no_account_data", "no account or password supplied and none stored",
			"enter the account and password for the target site", nil)
	}
	if len(stored) > maxStoredAttempts {
		stored = stored[:maxStoredAttempts]
	}

	var rejected error
	for _, cred := range stored {
		res, err := s.sites.Login(ctx, site, cred.TargetAccount, cred.Password)
		if err == nil {
			return s.completeLogin(ctx, req, site, cred.TargetAccount, res, log)
		}
		if !errors.Is(err, driven.ErrInvalidCredentials) {
			return nil, siteError("login", err)
		}
		rejected = err
		log.Warn("stored credential rejected; deleting it", "target_account", cred.TargetAccount)
		if err := s.creds.Delete(ctx, req.OwnerID, req.OwnerUsername, site.Name, cred.TargetAccount); err != nil {
			return nil, systemError("delete rejected credential", err)
		}
	}

	return nil, userError("stored_credentials_rejected", "the stored credential was rejected by the target site",
		"enter the current account and password for the target site", rejected)
}

// completeLogin persists the session from a successful login and pushes it.
func (s *BindService) completeLogin(ctx context.Context, req BindRequest, site model.Site, account string, res driven.LoginResult, log *slog.Logger) (*BindOutcome, error) {
	now := s.now()

	payload := model.SessionPayload{
		Version:     model.SessionPayloadVersion,
		SessionData: res.SessionData,
		Timestamp:   now,
		Degraded:    res.Degraded,
	}
	if !res.Degraded {
		payload.UserID = res.Identity.UserID
		payload.Username = res.Identity.Username
		payload.Role = res.Identity.Role
		if payload.Username == "" {
			payload.Username = account
		}
	}
	if err := payload.Validate(); err != nil {
		return nil, structuralError("invalid_session", "the target site returned an unusable session", err)
	}

	sess := model.Session{
		OwnerID:         req.OwnerID,
		OwnerUsername:   req.OwnerUsername,
		TargetSite:      site.Name,
		TargetAccount:   account,
		Payload:         payload,
		AutoRefresh:     req.AutoRefresh,
		RefreshDeadline: now.Add(s.sessionTTL),
		UpdatedAt:       now,
	}
	if err := s.sessions.Upsert(ctx, sess); err != nil {
		return nil, systemError("store session", err)
	}

	if req.AutoRefresh && s.refresher != nil {
		if err := s.refresher.RefreshOwner(ctx, req.OwnerID); err != nil {
			log.Warn("immediate session refresh failed", "error", err)
		}
	}

	info := &SessionInfo{
		Payload:         payload,
		TargetSite:      site.Name,
		TargetAccount:   account,
		AutoRefresh:     req.AutoRefresh,
		RefreshDeadline: sess.RefreshDeadline,
	}

	out := &BindOutcome{
		Operation:     req.Operation,
		LoginSuccess:  true,
		TargetAccount: account,
		Session:       info,
		Degraded:      res.Degraded,
	}
	out.Relay = s.pushSession(ctx, req.OwnerID, req.OwnerUsername, req.Callback, site, payload, log)
	if res.Degraded {
		out.Message = "logged in, but the target site did not confirm the identity"
	}
	return out, nil
}

func (s *BindService) clearCookies(ctx context.Context, req BindRequest, log *slog.Logger) (*BindOutcome, error) {
	n, err := s.sessions.DeleteAll(ctx, req.OwnerID)
	if err != nil {
		return nil, systemError("delete sessions", err)
	}
	log.Info("sessions cleared", "count", n)

	relay := s.withCallback(req.OwnerID, req.Callback, log, func(addr model.NodeAddress) error {
		return s.relay.PushLogout(ctx, addr, req.OwnerID, req.OwnerUsername)
	})

	return &BindOutcome{
		Operation: req.Operation,
		Cleared:   n,
		Relay:     relay,
		Message:   fmt.Sprintf("removed %d session(s)", n),
	}, nil
}

// QueryCookie reports whether ownerID has a stored session and, if so, pushes
// it to callback (or the cached callback address).
func (s *BindService) QueryCookie(ctx context.Context, ownerID string, callback model.NodeAddress) (*QueryResult, error) {
	if ownerID == "" {
		return nil, structuralError("invalid_request", "user_id is required", nil)
	}
	if !callback.IsZero() {
		s.addrs.Put(ownerID, callback)
	}

	sess, err := s.sessions.GetLatest(ctx, ownerID)
	if err != nil {
		if errors.Is(err, model.ErrInvalidPayload) {
			return nil, structuralError("invalid_session", "the stored session is unreadable", err)
		}
		return nil, systemError("load session", err)
	}
	if sess == nil {
		return &QueryResult{HasCookie: false, Message: "no stored session for user"}, nil
	}

	log := s.logger.With("owner_id", ownerID)

	site, err := s.sites.Resolve(sess.TargetSite)
	if err != nil {
		log.Warn("stored session names unknown site", "site", sess.TargetSite, "error", err)
		site = model.Site{Name: sess.TargetSite}
	}

	res := &QueryResult{
		HasCookie: true,
		Message:   "stored session found",
		Session: &SessionInfo{
			Payload:         sess.Payload,
			TargetSite:      sess.TargetSite,
			TargetAccount:   sess.TargetAccount,
			AutoRefresh:     sess.AutoRefresh,
			RefreshDeadline: sess.RefreshDeadline,
		},
	}
	res.Relay = s.pushSession(ctx, ownerID, sess.OwnerUsername, callback, site, sess.Payload, log)
	return res, nil
}

func (s *BindService) pushSession(ctx context.Context, ownerID, ownerUsername string, callback model.NodeAddress, site model.Site, payload model.SessionPayload, log *slog.Logger) RelayStatus {
	push := driven.CookiePush{
		UserID:              ownerID,
		Username:            ownerUsername,
		CompleteSessionData: payload,
		NSNURL:              site.BaseURL,
		NSNPort:             sitePort(site.BaseURL),
	}
	return s.withCallback(ownerID, callback, log, func(addr model.NodeAddress) error {
		return s.relay.PushSession(ctx, addr, push)
	})
}

// withCallback resolves the owner's callback address and runs send against
// it. Failures are logged and reported, never returned.
func (s *BindService) withCallback(ownerID string, callback model.NodeAddress, log *slog.Logger, send func(model.NodeAddress) error) RelayStatus {
	addr := callback
	if addr.IsZero() {
		cached, ok := s.addrs.Get(ownerID)
		if !ok {
			return RelayStatus{Error: "no callback address known for user"}
		}
		addr = cached
	}

	status := RelayStatus{Address: addr.BaseURL()}
	if err := send(addr); err != nil {
		log.Warn("relay to client failed", "address", status.Address, "error", err)
		status.Error = err.Error()
		return status
	}
	status.Pushed = true
	return status
}

// siteError classifies a non-credential failure talking to a target site.
func siteError(step string, err error) *Error {
	if errors.Is(err, driven.ErrRedirectLoop) {
		return transientError("redirect_loop", fmt.Sprintf("target site %s redirected too many times", step), err)
	}
	return transientError("target_unreachable", fmt.Sprintf("target site %s failed", step), err)
}

func sitePort(baseURL string) int {
	u, err := url.Parse(baseURL)
	if err != nil {
		return 0
	}
	if p := u.Port(); p != "" {
		n, _ := strconv.Atoi(p)
		return n
	}
	switch u.Scheme {
	case "https":
		return 443
	case "http":
		return 80
	}
	return 0
}
