package application_test

import (
	"context"
	"io"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/nomorepassword/bclient/internal/domain/model"
	"github.com/nomorepassword/bclient/internal/domain/port/driven"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// --- SiteClient ---

type fakeSite struct {
	accounts    map[string]string // account -> password
	whoamiFails bool
	rejectReg   bool
	registerErr error
	registered  []model.Profile
	logins      int
}

func newFakeSite() *fakeSite {
	return &fakeSite{accounts: map[string]string{"traveller1": "Password1!"}}
}

func (f *fakeSite) Resolve(site string) (model.Site, error) {
	if site == "unknown" {
		return model.Site{}, driven.ErrUnknownSite
	}
	return model.Site{Name: "nsn", BaseURL: "http://localhost:5000", LoginPath: "/login"}, nil
}

func (f *fakeSite) Login(_ context.Context, _ model.Site, account, password string) (driven.LoginResult, error) {
	f.logins++
	if pw, ok := f.accounts[account]; !ok || pw != password {
		return driven.LoginResult{}, driven.ErrInvalidCredentials
	}
	res := driven.LoginResult{Success: true, SessionData: "session=" + account}
	if f.whoamiFails {
		res.Degraded = true
		return res, nil
	}
	res.Identity = model.Identity{UserID: "id-" + account, Username: account, Role: "traveller"}
	return res, nil
}

func (f *fakeSite) Register(_ context.Context, _ model.Site, p model.Profile) (driven.RegisterResult, error) {
	if f.registerErr != nil {
		return driven.RegisterResult{}, f.registerErr
	}
	if f.rejectReg {
		return driven.RegisterResult{}, driven.ErrRegistrationRejected
	}
	f.registered = append(f.registered, p)
	f.accounts[p.Username] = p.Password
	return driven.RegisterResult{Success: true, Structured: true}, nil
}

// --- CredentialStore ---

type memCreds struct {
	rows []model.Credential
}

func sameOwnerSite(c model.Credential, ownerID, ownerUsername, site string) bool {
	return c.OwnerID == ownerID && c.OwnerUsername == ownerUsername && c.TargetSite == site
}

func (m *memCreds) Upsert(_ context.Context, cred model.Credential) error {
	for i, c := range m.rows {
		if sameOwnerSite(c, cred.OwnerID, cred.OwnerUsername, cred.TargetSite) && c.TargetAccount == cred.TargetAccount {
			cred.CreatedAt = c.CreatedAt
			m.rows[i] = cred
			return nil
		}
	}
	cred.CreatedAt = time.Now()
	m.rows = append(m.rows, cred)
	return nil
}

func (m *memCreds) ReplaceGenerated(ctx context.Context, cred model.Credential) error {
	kept := m.rows[:0]
	for _, c := range m.rows {
		if sameOwnerSite(c, cred.OwnerID, cred.OwnerUsername, cred.TargetSite) && c.AutoGenerated {
			continue
		}
		kept = append(kept, c)
	}
	m.rows = kept
	return m.Upsert(ctx, cred)
}

func (m *memCreds) Get(ctx context.Context, ownerID, ownerUsername, site string) (*model.Credential, error) {
	list, _ := m.List(ctx, ownerID, ownerUsername, site)
	if len(list) == 0 {
		return nil, nil
	}
	return &list[0], nil
}

func (m *memCreds) List(_ context.Context, ownerID, ownerUsername, site string) ([]model.Credential, error) {
	var out []model.Credential
	for i := len(m.rows) - 1; i >= 0; i-- {
		if sameOwnerSite(m.rows[i], ownerID, ownerUsername, site) {
			out = append(out, m.rows[i])
		}
	}
	return out, nil
}

func (m *memCreds) Delete(_ context.Context, ownerID, ownerUsername, site, account string) error {
	kept := m.rows[:0]
	for _, c := range m.rows {
		if sameOwnerSite(c, ownerID, ownerUsername, site) && c.TargetAccount == account {
			continue
		}
		kept = append(kept, c)
	}
	m.rows = kept
	return nil
}

// --- SessionStore ---

type sessionKey struct{ ownerID, ownerUsername string }

type memSessions struct {
	mu      sync.Mutex
	rows    map[sessionKey]model.Session
	corrupt []driven.StoredSession
}

func newMemSessions() *memSessions {
	return &memSessions{rows: make(map[sessionKey]model.Session)}
}

func (m *memSessions) Upsert(_ context.Context, s model.Session) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if s.UpdatedAt.IsZero() {
		s.UpdatedAt = time.Now()
	}
	m.rows[sessionKey{s.OwnerID, s.OwnerUsername}] = s
	return nil
}

func (m *memSessions) GetLatest(_ context.Context, ownerID string) (*model.Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var latest *model.Session
	for k, s := range m.rows {
		if k.ownerID != ownerID {
			continue
		}
		if latest == nil || s.UpdatedAt.After(latest.UpdatedAt) {
			s := s
			latest = &s
		}
	}
	return latest, nil
}

func (m *memSessions) DeleteAll(_ context.Context, ownerID string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var n int64
	for k := range m.rows {
		if k.ownerID == ownerID {
			delete(m.rows, k)
			n++
		}
	}
	return n, nil
}

func (m *memSessions) Renew(_ context.Context, s model.Session, prev time.Time) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	k := sessionKey{s.OwnerID, s.OwnerUsername}
	cur, ok := m.rows[k]
	if !ok || !cur.UpdatedAt.Equal(prev) {
		return false, nil
	}
	cur.Payload = s.Payload
	cur.RefreshDeadline = s.RefreshDeadline
	cur.UpdatedAt = s.UpdatedAt
	m.rows[k] = cur
	return true, nil
}

func (m *memSessions) ListAutoRefresh(_ context.Context) ([]driven.StoredSession, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []driven.StoredSession
	for _, s := range m.rows {
		if s.AutoRefresh {
			out = append(out, driven.StoredSession{Session: s})
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Session.OwnerID < out[j].Session.OwnerID })
	return append(out, m.corrupt...), nil
}

func (m *memSessions) get(ownerID, ownerUsername string) (model.Session, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.rows[sessionKey{ownerID, ownerUsername}]
	return s, ok
}

// --- SessionRelay / AddressCache ---

type sessionPush struct {
	addr model.NodeAddress
	push driven.CookiePush
}

type fakeRelay struct {
	pushes  []sessionPush
	logouts []model.NodeAddress
	err     error
}

func (f *fakeRelay) PushSession(_ context.Context, addr model.NodeAddress, push driven.CookiePush) error {
	if f.err != nil {
		return f.err
	}
	f.pushes = append(f.pushes, sessionPush{addr: addr, push: push})
	return nil
}

func (f *fakeRelay) PushLogout(_ context.Context, addr model.NodeAddress, _, _ string) error {
	if f.err != nil {
		return f.err
	}
	f.logouts = append(f.logouts, addr)
	return nil
}

type mapAddrs map[string]model.NodeAddress

func (m mapAddrs) Put(ownerID string, addr model.NodeAddress) { m[ownerID] = addr }

func (m mapAddrs) Get(ownerID string) (model.NodeAddress, bool) {
	a, ok := m[ownerID]
	return a, ok
}

// --- NodeStore / MailboxStore / PeerForwarder ---

type nodeKey struct {
	level model.NodeLevel
	scope model.Scope
}

type memNodes struct {
	rows map[nodeKey]model.NodeRecord
}

func newMemNodes() *memNodes {
	return &memNodes{rows: make(map[nodeKey]model.NodeRecord)}
}

func (m *memNodes) Get(_ context.Context, level model.NodeLevel, scope model.Scope) (*model.NodeRecord, error) {
	rec, ok := m.rows[nodeKey{level, scope.At(level)}]
	if !ok {
		return nil, nil
	}
	return &rec, nil
}

func (m *memNodes) Upsert(_ context.Context, rec model.NodeRecord) error {
	rec.Scope = rec.Scope.At(rec.Level)
	m.rows[nodeKey{rec.Level, rec.Scope}] = rec
	return nil
}

func (m *memNodes) InsertIfAbsent(ctx context.Context, rec model.NodeRecord) (*model.NodeRecord, error) {
	rec.Scope = rec.Scope.At(rec.Level)
	k := nodeKey{rec.Level, rec.Scope}
	if _, ok := m.rows[k]; !ok {
		m.rows[k] = rec
	}
	return m.Get(ctx, rec.Level, rec.Scope)
}

func (m *memNodes) Touch(_ context.Context, nodeID string, at time.Time) (int64, error) {
	var n int64
	for k, r := range m.rows {
		if r.NodeID == nodeID {
			r.LastRefresh = at
			m.rows[k] = r
			n++
		}
	}
	return n, nil
}

func (m *memNodes) ListByLevel(_ context.Context, level model.NodeLevel, prefix model.Scope) ([]model.NodeRecord, error) {
	var out []model.NodeRecord
	for k, r := range m.rows {
		if k.level != level {
			continue
		}
		if prefix.DomainID != "" && r.Scope.DomainID != prefix.DomainID {
			continue
		}
		if prefix.ClusterID != "" && r.Scope.ClusterID != prefix.ClusterID {
			continue
		}
		out = append(out, r)
	}
	return out, nil
}

type memMailbox struct {
	msgs []model.PendingMessage
}

func (m *memMailbox) Enqueue(_ context.Context, msg model.PendingMessage) error {
	m.msgs = append(m.msgs, msg)
	return nil
}

func (m *memMailbox) ListPending(_ context.Context, to string) ([]model.PendingMessage, error) {
	out := []model.PendingMessage{}
	for _, msg := range m.msgs {
		if msg.ToNodeID == to {
			out = append(out, msg)
		}
	}
	return out, nil
}

func (m *memMailbox) CountPending(ctx context.Context, to string) (int, error) {
	msgs, _ := m.ListPending(ctx, to)
	return len(msgs), nil
}

func (m *memMailbox) Ack(_ context.Context, id string) error {
	for i, msg := range m.msgs {
		if msg.ID == id {
			m.msgs = append(m.msgs[:i], m.msgs[i+1:]...)
			return nil
		}
	}
	return driven.ErrMessageNotFound
}

type forwardCall struct {
	target model.NodeAddress
	reg    driven.NodeRegistration
}

type fakePeers struct {
	calls []forwardCall
	err   error
}

func (f *fakePeers) ForwardRegistration(_ context.Context, target model.NodeAddress, reg driven.NodeRegistration) error {
	f.calls = append(f.calls, forwardCall{target: target, reg: reg})
	return f.err
}
