// This file implements the single-endpoint Streamable-HTTP-style transport
// described by §4.1, generalized from the teacher's HTTPServer (which wrapped
// a stdio-first Server with a thin HTTP shim) into the sole transport this
// service offers.
package mcp

import (
	"encoding/json"
	"io"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"strings"

	"github.com/docserver-mcp/docserver/internal/metrics"
	"github.com/docserver-mcp/docserver/internal/session"
)

// MaxBodyBytes is the default maximum accepted request body size (§4.1, §6).
const MaxBodyBytes = 2 * 1024 * 1024 // 2 MiB

// SecurityConfig controls the origin/host/binding safeguards described in
// §4.1 and §7.
type SecurityConfig struct {
	// AllowedOrigins is the strict-origin allow-list. When
	// StrictOriginValidation is on, a request whose Origin is not in this
	// list is rejected (with an empty list, every Origin is rejected);
	// requests without an Origin header are not checked.
	AllowedOrigins []string
	// StrictOriginValidation enables rejecting non-allow-listed Origins.
	StrictOriginValidation bool
	// AllowedHosts is used for DNS-rebinding protection when Origin is
	// present: the request Host must appear in this list.
	AllowedHosts []string
	// CORSOrigin is the permissive CORS origin echoed back, independent of
	// strict origin validation (§4.1: "CORS is permissive by configuration").
	CORSOrigin string
}

// HTTPServer serves the single /mcp endpoint plus the health family.
type HTTPServer struct {
	dispatcher *Dispatcher
	sessions   *session.Manager
	security   SecurityConfig
	maxBody    int64
	logger     *slog.Logger
	health     *HealthChecker
}

// NewHTTPServer constructs the transport over an already-built dispatcher
// and session manager.
func NewHTTPServer(dispatcher *Dispatcher, sessions *session.Manager, security SecurityConfig, health *HealthChecker, logger *slog.Logger) *HTTPServer {
	return &HTTPServer{
		dispatcher: dispatcher,
		sessions:   sessions,
		security:   security,
		maxBody:    MaxBodyBytes,
		logger:     logger,
		health:     health,
	}
}

// Handler builds the mux: /mcp plus the health endpoint family.
func (h *HTTPServer) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/mcp", h.handleMCP)
	mux.HandleFunc("/health", h.handleHealth)
	mux.HandleFunc("/health/live", h.handleHealthLive)
	mux.HandleFunc("/health/ready", h.handleHealthReady)
	mux.HandleFunc("/health/detailed", h.handleHealthDetailed)
	return mux
}

func (h *HTTPServer) handleMCP(w http.ResponseWriter, r *http.Request) {
	metrics.RequestsTotal.Inc()
	h.setSecurityHeaders(w)
	h.setCORS(w, r)

	if r.Method == http.MethodOptions {
		w.WriteHeader(http.StatusNoContent)
		return
	}

	switch r.Method {
	case http.MethodPost:
		h.handlePost(w, r)
	case http.MethodDelete:
		h.handleDelete(w, r)
	case http.MethodGet:
		metrics.MethodNotAllowedTotal.Inc()
		w.Header().Set("Allow", "POST, DELETE, OPTIONS")
		h.writeTransportError(w, newErrorWithStatus(KindMethodNotAllowed, http.StatusMethodNotAllowed, "Method Not Allowed"))
	default:
		metrics.MethodNotAllowedTotal.Inc()
		w.Header().Set("Allow", "POST, DELETE, OPTIONS")
		h.writeTransportError(w, newErrorWithStatus(KindMethodNotAllowed, http.StatusMethodNotAllowed, "Method Not Allowed"))
	}
}

func (h *HTTPServer) handlePost(w http.ResponseWriter, r *http.Request) {
	if err := h.validateProtocolVersion(r); err != nil {
		metrics.ProtocolVersionErrors.Inc()
		h.writeTransportError(w, err)
		return
	}

	if err := h.validateContentType(r); err != nil {
		h.writeTransportError(w, err)
		return
	}

	if err := h.validateAccept(r); err != nil {
		h.writeTransportError(w, err)
		return
	}

	if err := h.validateSecurity(r); err != nil {
		metrics.SecurityValidationErrors.Inc()
		h.writeTransportError(w, err)
		return
	}

	if r.ContentLength > h.maxBody {
		h.writeTransportError(w, newError(KindPayloadTooLarge, "Payload Too Large"))
		return
	}

	body, err := io.ReadAll(io.LimitReader(r.Body, h.maxBody+1))
	if err != nil {
		h.writeTransportError(w, newErrorWithStatus(KindInternal, http.StatusInternalServerError, "failed to read request body"))
		return
	}
	defer r.Body.Close()

	if int64(len(body)) > h.maxBody {
		h.writeTransportError(w, newError(KindPayloadTooLarge, "Payload Too Large"))
		return
	}

	var peek struct {
		ID     json.RawMessage `json:"id,omitempty"`
		Method string          `json:"method,omitempty"`
	}
	if err := json.Unmarshal(body, &peek); err != nil {
		metrics.JSONParseErrors.Inc()
		h.writeTransportError(w, newError(KindJSONParse, "Invalid JSON"))
		return
	}

	sess, sessErr := h.resolveSession(r, peek.Method)
	if sessErr != nil {
		h.writeTransportError(w, sessErr)
		return
	}

	resp := h.dispatcher.HandleMessage(r.Context(), body)

	// A session is minted whenever the request didn't resolve to an
	// existing one — on initialize (§8 S1) and equally when a supplied
	// Mcp-Session-Id was missing, unknown, or expired (§8 S4 request 3):
	// the prior id is simply no longer valid and a fresh one takes over.
	if sess == nil && resp != nil && resp.Error == nil {
		created, err := h.sessions.Create(session.ClientInfo{
			UserAgent: r.UserAgent(),
			Origin:    r.Header.Get("Origin"),
			RemoteIP:  clientIP(r),
		})
		if err != nil {
			h.writeTransportError(w, newErrorWithStatus(KindInternal, http.StatusInternalServerError, err.Error()))
			return
		}
		sess = created
		metrics.SessionsCreated.Inc()
	}

	w.Header().Set("MCP-Protocol-Version", ProtocolVersion)
	if sess != nil {
		w.Header().Set("Mcp-Session-Id", sess.ID)
	}

	if resp == nil {
		w.WriteHeader(http.StatusAccepted)
		return
	}

	metrics.PostRequestsSuccess.Inc()
	h.writeJSON(w, http.StatusOK, resp)
}

// resolveSession validates an incoming Mcp-Session-Id header against the
// session manager. A missing header is permitted (stateless call). A
// present-but-unknown-or-expired id is treated the same way: the caller
// mints a replacement session rather than failing the request (§8 S4).
// A session that IS found but was bound to a different protocol version
// is a hard error for every method except initialize, since this server
// supports exactly one version.
func (h *HTTPServer) resolveSession(r *http.Request, method string) (*session.Session, *Error) {
	id := r.Header.Get("Mcp-Session-Id")
	if id == "" {
		return nil, nil
	}

	sess, err := h.sessions.Refresh(id)
	if err != nil {
		return nil, nil
	}

	if method != "initialize" && sess.ProtocolVersion != ProtocolVersion {
		return nil, newError(KindSession, "session protocol version mismatch")
	}

	return sess, nil
}

func (h *HTTPServer) handleDelete(w http.ResponseWriter, r *http.Request) {
	id := r.Header.Get("Mcp-Session-Id")
	if id == "" {
		h.writeTransportError(w, newError(KindSession, "Mcp-Session-Id header required"))
		return
	}

	if err := h.sessions.Delete(id); err != nil {
		h.writeTransportError(w, newErrorWithStatus(KindSession, http.StatusNotFound, "session not found"))
		return
	}

	metrics.SessionsDeleted.Inc()
	w.Header().Set("MCP-Protocol-Version", ProtocolVersion)
	w.WriteHeader(http.StatusNoContent)
}

func (h *HTTPServer) validateProtocolVersion(r *http.Request) *Error {
	v := r.Header.Get("MCP-Protocol-Version")
	if v == "" {
		return newError(KindProtocolVersion, "MCP-Protocol-Version header is required")
	}
	if v != ProtocolVersion {
		return newError(KindProtocolVersion, "unsupported MCP-Protocol-Version: "+v)
	}
	return nil
}

func (h *HTTPServer) validateContentType(r *http.Request) *Error {
	ct := r.Header.Get("Content-Type")
	if ct == "" {
		return newError(KindContentType, "Content-Type header is required")
	}
	token := strings.TrimSpace(strings.SplitN(ct, ";", 2)[0])
	if !strings.EqualFold(token, "application/json") {
		return newErrorWithStatus(KindContentType, http.StatusUnsupportedMediaType, "Content-Type must be application/json")
	}
	return nil
}

func (h *HTTPServer) validateAccept(r *http.Request) *Error {
	accept := r.Header.Get("Accept")
	if accept == "" {
		return nil // missing Accept is permissive, per §4.1 and Open Questions
	}
	for _, part := range strings.Split(accept, ",") {
		token := strings.TrimSpace(strings.SplitN(part, ";", 2)[0])
		if token == "*/*" || token == "application/*" || strings.EqualFold(token, "application/json") {
			return nil
		}
	}
	return newErrorWithStatus(KindAcceptHeader, http.StatusNotAcceptable, "Accept header is not compatible with application/json")
}

// validateSecurity enforces Origin allow-listing and Origin/Host
// DNS-rebinding protection (§4.1, §7).
func (h *HTTPServer) validateSecurity(r *http.Request) *Error {
	origin := r.Header.Get("Origin")
	if origin == "" {
		return nil
	}

	if h.security.StrictOriginValidation && !originAllowed(origin, h.security.AllowedOrigins) {
		return newError(KindSecurity, "origin not allowed")
	}

	if len(h.security.AllowedHosts) > 0 {
		host := r.Host
		if !hostAllowed(host, h.security.AllowedHosts) {
			return newError(KindSecurity, "request Host does not match the expected binding (possible DNS rebinding)")
		}
	}

	return nil
}

func originAllowed(origin string, allowed []string) bool {
	for _, a := range allowed {
		if strings.EqualFold(a, origin) {
			return true
		}
	}
	return false
}

func hostAllowed(host string, allowed []string) bool {
	h, _, err := net.SplitHostPort(host)
	if err != nil {
		h = host
	}
	for _, a := range allowed {
		if strings.EqualFold(a, h) || strings.EqualFold(a, host) {
			return true
		}
	}
	return false
}

func clientIP(r *http.Request) string {
	h, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return h
}

// setSecurityHeaders attaches the fixed security headers to every response.
func (h *HTTPServer) setSecurityHeaders(w http.ResponseWriter) {
	w.Header().Set("X-Content-Type-Options", "nosniff")
	w.Header().Set("X-Frame-Options", "DENY")
	w.Header().Set("X-XSS-Protection", "1; mode=block")
	w.Header().Set("Referrer-Policy", "strict-origin-when-cross-origin")
}

// setCORS sets permissive CORS headers independent of strict origin
// validation, matching §4.1's "CORS is permissive by configuration."
func (h *HTTPServer) setCORS(w http.ResponseWriter, r *http.Request) {
	origin := r.Header.Get("Origin")
	if origin == "" {
		return
	}

	if h.security.CORSOrigin == "*" {
		w.Header().Set("Access-Control-Allow-Origin", "*")
	} else if originAllowed(origin, strings.Split(h.security.CORSOrigin, ",")) {
		w.Header().Set("Access-Control-Allow-Origin", origin)
	}

	w.Header().Set("Access-Control-Allow-Methods", "POST, DELETE, OPTIONS")
	w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Accept, MCP-Protocol-Version, Mcp-Session-Id")
	w.Header().Set("Access-Control-Expose-Headers", "Mcp-Session-Id, MCP-Protocol-Version")
}

func (h *HTTPServer) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		h.logger.Error("failed to write JSON response", "error", err)
	}
}

func (h *HTTPServer) writeTransportError(w http.ResponseWriter, e *Error) {
	if e.Kind == KindInternal {
		metrics.InternalErrors.Inc()
	}
	w.Header().Set("MCP-Protocol-Version", ProtocolVersion)
	h.writeJSON(w, e.Status(), e.Response())
}

// ParsePort is a small helper used by the server bootstrap to validate the
// configured port before binding.
func ParsePort(s string) (int, error) {
	return strconv.Atoi(s)
}
