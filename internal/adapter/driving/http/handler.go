package httphandler

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/nomorepassword/bclient/internal/application"
	"github.com/nomorepassword/bclient/internal/domain/model"
	"github.com/nomorepassword/bclient/internal/domain/port/driven"
)

// maxBodyBytes bounds every JSON request body.
const maxBodyBytes = 1 << 20

// Binder runs bind and cookie-query requests.
type Binder interface {
	Bind(ctx context.Context, req application.BindRequest) (*application.BindOutcome, error)
	QueryCookie(ctx context.Context, ownerID string, callback model.NodeAddress) (*application.QueryResult, error)
}

// NodeDirectory serves node registration, scope resolution and the mailbox.
type NodeDirectory interface {
	RegisterNode(ctx context.Context, reg driven.NodeRegistration) (*application.RegisterAck, error)
	ForwardToScope(ctx context.Context, level model.NodeLevel, scope model.Scope, info driven.NodeRegistration) (*application.Resolution, error)
	RegisterChannel(ctx context.Context, scope model.Scope, info driven.NodeRegistration) (*application.ChannelResolution, error)
	Heartbeat(ctx context.Context, nodeID, status string, prefix model.Scope) (*application.HeartbeatResult, error)
	TransferAuthority(ctx context.Context, req application.TransferRequest) (*application.TransferResult, error)
	MainNodes(ctx context.Context, scope model.Scope) (*application.MainNodes, error)
	SendMessage(ctx context.Context, toNodeID, messageType string, payload any) (string, error)
	PendingMessages(ctx context.Context, nodeID string) ([]model.PendingMessage, error)
	AckMessage(ctx context.Context, messageID string) error
}

// Sweeper runs an on-demand auto-refresh pass.
type Sweeper interface {
	Sweep(ctx context.Context) (application.SweepResult, error)
}

// Handler is the HTTP driving adapter that serves the broker API.
type Handler struct {
	binder  Binder
	nodes   NodeDirectory
	sweeper Sweeper
	logger  *slog.Logger
}

// NewHandler creates a Handler with all required dependencies.
func NewHandler(binder Binder, nodes NodeDirectory, sweeper Sweeper, logger *slog.Logger) *Handler {
	return &Handler{
		binder:  binder,
		nodes:   nodes,
		sweeper: sweeper,
		logger:  logger,
	}
}

// NewServeMux creates an http.Handler with all routes registered and wrapped
// with logging and recovery middleware.
func NewServeMux(h *Handler, logger *slog.Logger) http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("POST /bind", h.Bind)
	mux.HandleFunc("POST /api/query-cookie", h.QueryCookie)
	mux.HandleFunc("POST /api/refresh", h.Refresh)

	mux.HandleFunc("POST /api/nodes/register", h.RegisterNode)
	mux.HandleFunc("POST /api/nodes/transfer", h.TransferAuthority)
	mux.HandleFunc("POST /api/forward/{level}", h.ForwardToScope)
	mux.HandleFunc("POST /api/register/channel", h.RegisterChannel)
	mux.HandleFunc("POST /api/heartbeat", h.Heartbeat)
	mux.HandleFunc("GET /api/main-node", h.MainNode)

	mux.HandleFunc("POST /api/messages", h.SendMessage)
	mux.HandleFunc("GET /api/messages", h.PendingMessages)
	mux.HandleFunc("POST /api/messages/{id}/ack", h.AckMessage)

	mux.HandleFunc("GET /health", h.Health)

	// Recovery innermost so panics are caught before logging.
	wrapped := recoveryMiddleware(logger, mux)
	wrapped = bodyLimitMiddleware(maxBodyBytes, wrapped)
	wrapped = loggingMiddleware(logger, wrapped)

	return wrapped
}

// decode reads a JSON body into v. It writes a 400 and returns false when the
// body is malformed.
func decode(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return false
	}
	return true
}

// fail renders an application error. System failures are logged here; the
// client sees only a generic message.
func (h *Handler) fail(w http.ResponseWriter, r *http.Request, err error) {
	appErr := application.AsError(err)
	if appErr.Kind == application.KindSystem {
		h.logger.Error("request failed", "path", r.URL.Path, "error", err)
	}
	writeJSON(w, statusFor(appErr.Kind), toErrorResponse(appErr))
}

// Bind handles POST /bind.
func (h *Handler) Bind(w http.ResponseWriter, r *http.Request) {
	var req BindRequest
	if !decode(w, r, &req) {
		return
	}
	if !req.RequestType.set {
		h.fail(w, r, &application.Error{
			Kind:       application.KindStructural,
			Type:       "unsupported_operation",
			Message:    "request_type is required",
			Suggestion: "send request_type 0 (auto register), 1 (bind existing user) or 2 (clear cookies)",
			Err:        application.ErrUnsupportedOperation,
		})
		return
	}

	out, err := h.binder.Bind(r.Context(), application.BindRequest{
		OwnerID:       req.UserID,
		OwnerUsername: req.UserName,
		TargetSite:    req.DomainID,
		NodeID:        req.NodeID,
		Operation:     model.Operation(req.RequestType.value),
		AutoRefresh:   req.AutoRefresh,
		Account:       req.Account,
		Password:      req.Password,
		Callback:      model.NodeAddress{IPAddress: req.IPAddress, Port: int(req.Port)},
	})
	if err != nil {
		h.fail(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, toBindResponse(out))
}

// QueryCookie handles POST /api/query-cookie.
func (h *Handler) QueryCookie(w http.ResponseWriter, r *http.Request) {
	var req QueryCookieRequest
	if !decode(w, r, &req) {
		return
	}

	res, err := h.binder.QueryCookie(r.Context(), req.UserID,
		model.NodeAddress{IPAddress: req.IPAddress, Port: int(req.Port)})
	if err != nil {
		h.fail(w, r, err)
		return
	}

	resp := QueryCookieResponse{
		Success:     true,
		HasCookie:   res.HasCookie,
		Message:     res.Message,
		SessionInfo: toSessionInfoResponse(res.Session),
	}
	if res.HasCookie {
		relay := toRelayResponse(res.Relay)
		resp.Relay = &relay
	}
	writeJSON(w, http.StatusOK, resp)
}

// Refresh handles POST /api/refresh by running one auto-refresh sweep.
func (h *Handler) Refresh(w http.ResponseWriter, r *http.Request) {
	res, err := h.sweeper.Sweep(r.Context())
	if err != nil {
		h.fail(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, RefreshResponse{
		Success:    true,
		Total:      res.Total,
		Refreshed:  res.Refreshed,
		Skipped:    res.Skipped,
		Failed:     res.Failed,
		DurationMS: res.Duration.Milliseconds(),
	})
}

// Health returns a simple health check response.
func (h *Handler) Health(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, HealthResponse{
		Status: "ok",
		Time:   time.Now().UTC().Format(time.RFC3339),
	})
}
