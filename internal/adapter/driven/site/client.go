package site

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/microcosm-cc/bluemonday"

	"github.com/nomorepassword/bclient/internal/domain/model"
	"github.com/nomorepassword/bclient/internal/domain/port/driven"
)

// Compile-time interface satisfaction check.
var _ driven.SiteClient = (*Client)(nil)

const (
	maxRedirects = 5
	maxBodyBytes = 1 << 20
)

// Markers searched for in unstructured signup responses.
var (
	rejectionMarkers = []string{"already exists", "already registered", "taken"}
	successMarkers   = []string{"registration successful", "successfully registered", "account created", "welcome"}
)

// Client implements driven.SiteClient over plain HTTP. Redirects are followed
// by hand so cookies set on intermediate hops are kept.
type Client struct {
	table  *Table
	http   *http.Client
	strict *bluemonday.Policy
	logger *slog.Logger
}

// NewClient creates a Client for the sites in table. Every request, including
// each redirect hop, is bounded by timeout.
func NewClient(table *Table, timeout time.Duration, logger *slog.Logger) *Client {
	return NewClientWithHTTPClient(table, &http.Client{Timeout: timeout}, logger)
}

// NewClientWithHTTPClient creates a Client around a caller-supplied http.Client.
// Its redirect policy is replaced so that redirects reach the hop loop.
func NewClientWithHTTPClient(table *Table, httpClient *http.Client, logger *slog.Logger) *Client {
	hc := *httpClient
	hc.Jar = nil
	hc.CheckRedirect = func(*http.Request, []*http.Request) error {
		return http.ErrUseLastResponse
	}
	return &Client{
		table:  table,
		http:   &hc,
		strict: bluemonday.StrictPolicy(),
		logger: logger,
	}
}

// Resolve maps a requested site key to its table entry.
func (c *Client) Resolve(site string) (model.Site, error) {
	return c.table.Resolve(site)
}

// Login posts the account to the site's login endpoint, then asks the whoami
// endpoint who the new session belongs to.
func (c *Client) Login(ctx context.Context, site model.Site, account, password string) (driven.LoginResult, error) {
	form := url.Values{}
	form.Set("username", account)
	form.Set("password", password)

	final, jar, err := c.post(ctx, site.BaseURL+site.LoginPath, form)
	if err != nil {
		return driven.LoginResult{}, fmt.Errorf("login to %s: %w", site.Name, err)
	}

	if final.status >= http.StatusBadRequest || jar.empty() {
		return driven.LoginResult{}, driven.ErrInvalidCredentials
	}
	if ack, ok := parseAck(final); ok {
		if !ack.success {
			return driven.LoginResult{}, driven.ErrInvalidCredentials
		}
	} else if samePath(final.url, site.LoginPath) {
		// The login form was rendered again.
		return driven.LoginResult{}, driven.ErrInvalidCredentials
	}

	result := driven.LoginResult{Success: true, SessionData: jar.header()}

	identity, err := c.whoami(ctx, site, jar)
	if err != nil {
		c.logger.Warn("login identity not confirmed", "site", site.Name, "error", err)
		result.Degraded = true
		return result, nil
	}
	result.Identity = identity
	return result, nil
}

// Register submits profile to the site's signup endpoint. A JSON
// {success, message} body decides the outcome when present; otherwise the
// final location and page text are inspected.
func (c *Client) Register(ctx context.Context, site model.Site, profile model.Profile) (driven.RegisterResult, error) {
	form := url.Values{}
	form.Set("username", profile.Username)
	form.Set("password", profile.Password)
	form.Set("confirm_password", profile.Password)
	form.Set("email", profile.Email)
	form.Set("first_name", profile.FirstName)
	form.Set("last_name", profile.LastName)
	form.Set("location", profile.Location)

	final, _, err := c.post(ctx, site.BaseURL+site.SignupPath, form)
	if err != nil {
		return driven.RegisterResult{}, fmt.Errorf("register on %s: %w", site.Name, err)
	}

	if ack, ok := parseAck(final); ok {
		if !ack.success {
			return driven.RegisterResult{}, fmt.Errorf("%w: %s", driven.ErrRegistrationRejected, ack.message)
		}
		return driven.RegisterResult{Success: true, Structured: true, Message: ack.message, Identity: ack.identity}, nil
	}

	text := strings.ToLower(c.strict.Sanitize(string(final.body)))

	if final.status < http.StatusBadRequest && samePath(final.url, site.LoginPath) {
		return driven.RegisterResult{Success: true, Message: "redirected to login"}, nil
	}
	for _, m := range rejectionMarkers {
		if strings.Contains(text, m) {
			return driven.RegisterResult{}, fmt.Errorf("%w: response mentions %q", driven.ErrRegistrationRejected, m)
		}
	}
	if final.status >= http.StatusBadRequest {
		return driven.RegisterResult{}, fmt.Errorf("register on %s: status %d", site.Name, final.status)
	}
	for _, m := range successMarkers {
		if strings.Contains(text, m) {
			return driven.RegisterResult{Success: true, Message: m}, nil
		}
	}
	return driven.RegisterResult{}, fmt.Errorf("%w: unrecognized signup response", driven.ErrRegistrationRejected)
}

type response struct {
	status      int
	url         *url.URL
	contentType string
	body        []byte
}

// post sends a form and follows up to maxRedirects redirects, returning the
// final response and every cookie collected on the way.
func (c *Client) post(ctx context.Context, target string, form url.Values) (*response, *cookieJar, error) {
	u, err := url.Parse(target)
	if err != nil {
		return nil, nil, fmt.Errorf("parse url: %w", err)
	}

	jar := newCookieJar()
	method := http.MethodPost
	body := []byte(form.Encode())

	for hop := 0; ; hop++ {
		resp, err := c.do(ctx, method, u, body, jar)
		if err != nil {
			return nil, nil, err
		}

		if !isRedirect(resp.status) {
			return resp.response, jar, nil
		}
		if hop >= maxRedirects {
			return nil, nil, driven.ErrRedirectLoop
		}

		loc := resp.location
		if loc == "" {
			return nil, nil, fmt.Errorf("redirect %d without Location", resp.status)
		}
		next, err := u.Parse(loc)
		if err != nil {
			return nil, nil, fmt.Errorf("parse redirect location: %w", err)
		}
		u = next

		if resp.status != http.StatusTemporaryRedirect && resp.status != http.StatusPermanentRedirect {
			method = http.MethodGet
			body = nil
		}
	}
}

type hopResponse struct {
	*response
	location string
}

func (c *Client) do(ctx context.Context, method string, u *url.URL, body []byte, jar *cookieJar) (hopResponse, error) {
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}

	req, err := http.NewRequestWithContext(ctx, method, u.String(), reader)
	if err != nil {
		return hopResponse{}, fmt.Errorf("build request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	}
	req.Header.Set("Accept", "application/json, text/html;q=0.9")
	if h := jar.header(); h != "" {
		req.Header.Set("Cookie", h)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return hopResponse{}, fmt.Errorf("%s %s: %w", method, u.Path, err)
	}
	defer resp.Body.Close()

	jar.absorb(resp.Cookies())

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return hopResponse{}, fmt.Errorf("read %s body: %w", u.Path, err)
	}

	return hopResponse{
		response: &response{
			status:      resp.StatusCode,
			url:         u,
			contentType: resp.Header.Get("Content-Type"),
			body:        data,
		},
		location: resp.Header.Get("Location"),
	}, nil
}

type whoamiBody struct {
	UserID   json.RawMessage `json:"user_id"`
	ID       json.RawMessage `json:"id"`
	Username string          `json:"username"`
	Role     string          `json:"role"`
	User     *whoamiBody     `json:"user"`
}

func (w whoamiBody) identity() model.Identity {
	if w.User != nil {
		return w.User.identity()
	}
	id := rawID(w.UserID)
	if id == "" {
		id = rawID(w.ID)
	}
	return model.Identity{UserID: id, Username: w.Username, Role: w.Role}
}

func (c *Client) whoami(ctx context.Context, site model.Site, jar *cookieJar) (model.Identity, error) {
	u, err := url.Parse(site.BaseURL + site.WhoamiPath)
	if err != nil {
		return model.Identity{}, fmt.Errorf("parse whoami url: %w", err)
	}

	resp, err := c.do(ctx, http.MethodGet, u, nil, jar)
	if err != nil {
		return model.Identity{}, err
	}
	if resp.status != http.StatusOK {
		return model.Identity{}, fmt.Errorf("whoami returned status %d", resp.status)
	}

	var body whoamiBody
	if err := json.Unmarshal(resp.body, &body); err != nil {
		return model.Identity{}, fmt.Errorf("decode whoami: %w", err)
	}
	identity := body.identity()
	if identity.UserID == "" && identity.Username == "" {
		return model.Identity{}, errors.New("whoami response carries no identity")
	}
	return identity, nil
}

type ack struct {
	success  bool
	message  string
	identity model.Identity
}

// parseAck reads a JSON {success, message} acknowledgement. ok is false when
// the body is not JSON or has no success field.
func parseAck(r *response) (ack, bool) {
	mediaType, _, _ := mime.ParseMediaType(r.contentType)
	if mediaType != "application/json" {
		return ack{}, false
	}
	var body struct {
		Success *bool  `json:"success"`
		Message string `json:"message"`
		Error   string `json:"error"`
		whoamiBody
	}
	if err := json.Unmarshal(r.body, &body); err != nil || body.Success == nil {
		return ack{}, false
	}
	msg := body.Message
	if msg == "" {
		msg = body.Error
	}
	return ack{success: *body.Success, message: msg, identity: body.whoamiBody.identity()}, true
}

func rawID(raw json.RawMessage) string {
	if len(raw) == 0 || string(raw) == "null" {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	var n json.Number
	if err := json.Unmarshal(raw, &n); err == nil {
		return n.String()
	}
	return ""
}

func isRedirect(status int) bool {
	switch status {
	case http.StatusMovedPermanently, http.StatusFound, http.StatusSeeOther,
		http.StatusTemporaryRedirect, http.StatusPermanentRedirect:
		return true
	}
	return false
}

func samePath(u *url.URL, path string) bool {
	return strings.TrimRight(u.Path, "/") == strings.TrimRight(path, "/")
}

// cookieJar accumulates cookies across redirect hops in first-seen order.
type cookieJar struct {
	names  []string
	values map[string]string
}

func newCookieJar() *cookieJar {
	return &cookieJar{values: make(map[string]string)}
}

func (j *cookieJar) absorb(cookies []*http.Cookie) {
	for _, ck := range cookies {
		if ck.MaxAge < 0 || (!ck.Expires.IsZero() && ck.Expires.Before(time.Now())) {
			j.remove(ck.Name)
			continue
		}
		if _, ok := j.values[ck.Name]; !ok {
			j.names = append(j.names, ck.Name)
		}
		j.values[ck.Name] = ck.Value
	}
}

func (j *cookieJar) remove(name string) {
	if _, ok := j.values[name]; !ok {
		return
	}
	delete(j.values, name)
	for i, n := range j.names {
		if n == name {
			j.names = append(j.names[:i], j.names[i+1:]...)
			break
		}
	}
}

func (j *cookieJar) empty() bool {
	return len(j.names) == 0
}

// header renders the jar as a Cookie header value.
func (j *cookieJar) header() string {
	parts := make([]string, 0, len(j.names))
	for _, n := range j.names {
		parts = append(parts, n+"="+j.values[n])
	}
	return strings.Join(parts, "; ")
}
