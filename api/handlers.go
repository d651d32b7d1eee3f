/*
handlers.go - HTTP API handlers for the access request service

PURPOSE:
  Exposes the access engine via REST API. Handles HTTP request/response,
  JSON serialization and input validation, and delegates to the engine.

ENDPOINTS:
  Auth:
    POST   /auth/login                  Email/password login, returns token
    POST   /auth/logout                 End the current session

  Catalog:
    GET    /modules                     List catalog modules
    GET    /accesses                    Caller's active accesses

  Requests:
    POST   /requests                    Create (adjudicated immediately)
    GET    /requests                    Search caller's requests, paged
    GET    /requests/{protocol}         Request details with history
    POST   /requests/{protocol}/cancel  Cancel an active request
    POST   /requests/renew              Renew a request near expiry

  Health:
    GET    /api/uptime                  Uptime

  Demo (only with a Catalog writer):
    GET    /api/scenarios               List demo scenarios
    POST   /api/scenarios/load          Load a demo scenario

REQUEST FLOW:
  1. RequireSession resolves the bearer token to a user
  2. Parse and validate input (sizes, formats)
  3. Call the engine
  4. Serialize response
  5. Map errors to status codes

ERROR HANDLING:
  Errors are returned as ErrorResponse with:
  - 400: Validation errors, precondition failures
  - 401: Missing, unknown or expired token
  - 404: Unknown module or request
  - 409: Demo scenario already loaded
  - 500: Internal errors
  A denied request is not an error: 201 with status NEGADO.

SEE ALSO:
  - dto.go: Request/response data structures
  - server.go: Router setup and middleware
  - scenarios.go: Demo scenario loaders
*/
package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/go-chi/chi/v5"
	"github.com/warp/access-engine/access"
	"github.com/warp/access-engine/auth"
	"github.com/warp/access-engine/seed"
)

// Input limits.
const (
	MaxModulesPerRequest = 3
	MinJustificationLen  = 20
	MaxJustificationLen  = 500
	MinCancelReasonLen   = 10
	MaxCancelReasonLen   = 200
	DefaultPageSize      = 10
	MaxPageSize          = 100
)

const dateLayout = "2006-01-02"

// =============================================================================
// HANDLER CONTEXT
// =============================================================================

// Handler holds all dependencies for HTTP handlers.
type Handler struct {
	Engine   *access.Engine
	Users    access.UserRepository
	Auth     auth.Authenticator
	Sessions *auth.Sessions

	// Catalog enables demo scenarios when set.
	Catalog seed.CatalogWriter

	StartedAt time.Time
	Now       func() time.Time
}

// NewHandler creates a handler serving engine, with logins checked against
// users.
func NewHandler(engine *access.Engine, users access.UserRepository, sessions *auth.Sessions) *Handler {
	return &Handler{
		Engine:    engine,
		Users:     users,
		Auth:      auth.Authenticator{Users: users},
		Sessions:  sessions,
		StartedAt: time.Now(),
		Now:       time.Now,
	}
}

// =============================================================================
// AUTH HANDLERS
// =============================================================================

// Login exchanges an email and password for a session token.
func (h *Handler) Login(w http.ResponseWriter, r *http.Request) {
	var req LoginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid JSON")
		return
	}
	if req.Email == "" || req.Password == "" {
		writeError(w, http.StatusBadRequest, "Email and password are required")
		return
	}

	user, err := h.Auth.Authenticate(r.Context(), req.Email, req.Password)
	if errors.Is(err, auth.ErrInvalidCredentials) {
		writeError(w, http.StatusUnauthorized, "Invalid email or password")
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	writeJSON(w, http.StatusOK, LoginResponse{
		AccessToken: h.Sessions.Create(user.Email),
		Name:        user.Name,
		Email:       user.Email,
	})
}

// Logout ends the caller's session.
func (h *Handler) Logout(w http.ResponseWriter, r *http.Request) {
	h.Sessions.Invalidate(sessionToken(r))
	w.WriteHeader(http.StatusNoContent)
}

// =============================================================================
// CATALOG HANDLERS
// =============================================================================

// ListModules returns the module catalog.
func (h *Handler) ListModules(w http.ResponseWriter, r *http.Request) {
	modules, err := h.Engine.ListModules(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	dtos := make([]ModuleDTO, len(modules))
	for i, m := range modules {
		dtos[i] = toModuleDTO(m)
	}
	writeJSON(w, http.StatusOK, dtos)
}

// ListAccesses returns the caller's active accesses.
func (h *Handler) ListAccesses(w http.ResponseWriter, r *http.Request) {
	accesses, err := h.Engine.ActiveAccesses(r.Context(), sessionUser(r).ID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	dtos := make([]AccessDTO, len(accesses))
	for i, a := range accesses {
		dtos[i] = toAccessDTO(a)
	}
	writeJSON(w, http.StatusOK, dtos)
}

// =============================================================================
// REQUEST HANDLERS
// =============================================================================

// CreateRequest submits a new access request.
// POST /requests
func (h *Handler) CreateRequest(w http.ResponseWriter, r *http.Request) {
	var req CreateRequestRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid JSON")
		return
	}
	if len(req.Modules) == 0 {
		writeError(w, http.StatusBadRequest, "At least one module is required")
		return
	}
	if len(req.Modules) > MaxModulesPerRequest {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("Must select between 1 and %d modules", MaxModulesPerRequest))
		return
	}
	if strings.TrimSpace(req.Justification) == "" {
		writeError(w, http.StatusBadRequest, "Justification is required")
		return
	}
	if n := utf8.RuneCountInString(req.Justification); n < MinJustificationLen || n > MaxJustificationLen {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("Justification must be between %d and %d characters",
			MinJustificationLen, MaxJustificationLen))
		return
	}

	res, err := h.Engine.CreateRequest(r.Context(), sessionUser(r).ID, req.Modules, req.Justification, req.Urgent)
	if err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, toCreateResponse(res))
}

// SearchRequests lists the caller's requests, filtered and paged.
// GET /requests?search=&status=&startDate=&endDate=&urgent=&page=&size=
func (h *Handler) SearchRequests(w http.ResponseWriter, r *http.Request) {
	filter, page, size, msg := parseSearch(r)
	if msg != "" {
		writeError(w, http.StatusBadRequest, msg)
		return
	}

	requests, err := h.Engine.SearchRequests(r.Context(), sessionUser(r).ID, filter)
	if err != nil {
		writeEngineError(w, err)
		return
	}

	total := len(requests)
	// page*size overflows for huge pages; anything past the end is empty.
	from := total
	if page <= total/size {
		from = min(page*size, total)
	}
	to := min(from+size, total)

	content := make([]RequestSummaryDTO, 0, to-from)
	for _, req := range requests[from:to] {
		content = append(content, toSummaryDTO(req))
	}

	writeJSON(w, http.StatusOK, PagedResponse[RequestSummaryDTO]{
		Content:       content,
		Page:          page,
		Size:          size,
		TotalElements: total,
		TotalPages:    (total + size - 1) / size,
	})
}

// parseSearch reads the search query. A non-empty message means the query
// is invalid.
func parseSearch(r *http.Request) (filter access.SearchFilter, page, size int, msg string) {
	q := r.URL.Query()

	page, size = 0, DefaultPageSize
	if v := q.Get("page"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return filter, 0, 0, "Page number must be an integer"
		}
		page = n
	}
	if page < 0 {
		return filter, 0, 0, "Page number must be greater than or equal to 0"
	}
	if v := q.Get("size"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return filter, 0, 0, "Page size must be an integer"
		}
		size = n
	}
	if size < 1 || size > MaxPageSize {
		return filter, 0, 0, fmt.Sprintf("Page size must be between 1 and %d", MaxPageSize)
	}

	filter.Search = strings.TrimSpace(q.Get("search"))

	if status := q.Get("status"); status != "" {
		switch access.RequestStatus(strings.ToUpper(status)) {
		case access.RequestActive, access.RequestDenied, access.RequestCancelled:
			filter.Status = status
		default:
			return filter, 0, 0, "Status must be one of: ATIVO, NEGADO, CANCELADO"
		}
	}

	if v := q.Get("startDate"); v != "" {
		day, err := time.Parse(dateLayout, v)
		if err != nil {
			return filter, 0, 0, "Invalid start date format. Expected format: YYYY-MM-DD"
		}
		filter.StartDate = &day
	}
	if v := q.Get("endDate"); v != "" {
		day, err := time.Parse(dateLayout, v)
		if err != nil {
			return filter, 0, 0, "Invalid end date format. Expected format: YYYY-MM-DD"
		}
		end := day.Add(24*time.Hour - time.Nanosecond)
		filter.EndDate = &end
	}

	if v := q.Get("urgent"); v != "" {
		urgent, err := strconv.ParseBool(v)
		if err != nil {
			return filter, 0, 0, "Urgent must be true or false"
		}
		filter.Urgent = &urgent
	}

	return filter, page, size, ""
}

// GetRequest returns one of the caller's requests.
// GET /requests/{protocol}
func (h *Handler) GetRequest(w http.ResponseWriter, r *http.Request) {
	protocol, ok := protocolParam(w, r)
	if !ok {
		return
	}

	req, err := h.Engine.FindRequestByProtocol(r.Context(), sessionUser(r).ID, protocol)
	if err != nil {
		writeEngineError(w, err)
		return
	}
	if req == nil {
		writeError(w, http.StatusNotFound, "Request not found")
		return
	}
	writeJSON(w, http.StatusOK, toDetailsDTO(*req))
}

// CancelRequest cancels one of the caller's active requests.
// POST /requests/{protocol}/cancel
func (h *Handler) CancelRequest(w http.ResponseWriter, r *http.Request) {
	protocol, ok := protocolParam(w, r)
	if !ok {
		return
	}

	var req CancelRequestRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid JSON")
		return
	}
	if strings.TrimSpace(req.Reason) == "" {
		writeError(w, http.StatusBadRequest, "Cancellation reason is required")
		return
	}
	if n := utf8.RuneCountInString(req.Reason); n < MinCancelReasonLen || n > MaxCancelReasonLen {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("Cancellation reason must be between %d and %d characters",
			MinCancelReasonLen, MaxCancelReasonLen))
		return
	}

	cancelled, err := h.Engine.CancelRequest(r.Context(), sessionUser(r).ID, protocol, req.Reason)
	if err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toDetailsDTO(*cancelled))
}

// RenewRequest renews one of the caller's requests close to expiry.
// POST /requests/renew
func (h *Handler) RenewRequest(w http.ResponseWriter, r *http.Request) {
	var req RenewRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid JSON")
		return
	}
	if strings.TrimSpace(req.RequestProtocol) == "" {
		writeError(w, http.StatusBadRequest, "Request protocol is required")
		return
	}

	res, err := h.Engine.RenewAccess(r.Context(), sessionUser(r).ID, req.RequestProtocol)
	if err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, toCreateResponse(res))
}

func protocolParam(w http.ResponseWriter, r *http.Request) (string, bool) {
	protocol := chi.URLParam(r, "protocol")
	if !access.ProtocolPattern.MatchString(protocol) {
		writeError(w, http.StatusBadRequest, "Invalid protocol format. Expected format: SOL-YYYYMMDD-NNNN")
		return "", false
	}
	return protocol, true
}

// =============================================================================
// HEALTH
// =============================================================================

// Uptime reports how long the server has been running.
// GET /api/uptime
func (h *Handler) Uptime(w http.ResponseWriter, r *http.Request) {
	uptime := h.Now().Sub(h.StartedAt)
	writeJSON(w, http.StatusOK, UptimeResponse{
		Status:          "ok",
		UptimeSeconds:   int64(uptime / time.Second),
		UptimeFormatted: formatUptime(uptime),
		StartTime:       h.StartedAt.UTC().Format(time.RFC3339),
	})
}

func formatUptime(d time.Duration) string {
	total := int64(d / time.Second)
	days := total / 86400
	hours := total / 3600 % 24
	minutes := total / 60 % 60
	seconds := total % 60
	return fmt.Sprintf("%dd %dh %dm %ds", days, hours, minutes, seconds)
}

// =============================================================================
// HELPERS
// =============================================================================

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, ErrorResponse{
		Error:   http.StatusText(status),
		Message: message,
		Status:  status,
	})
}

// writeEngineError maps engine errors to status codes.
func writeEngineError(w http.ResponseWriter, err error) {
	switch {
	case access.IsNotFound(err):
		writeError(w, http.StatusNotFound, err.Error())
	case access.IsPreconditionFailed(err):
		writeError(w, http.StatusBadRequest, err.Error())
	default:
		writeError(w, http.StatusInternalServerError, err.Error())
	}
}
