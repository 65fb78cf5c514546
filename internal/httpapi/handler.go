package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"expvar"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	qrcode "github.com/skip2/go-qrcode"

	"servicedesk/internal/auth"
	"servicedesk/internal/logging"
	"servicedesk/internal/models"
	"servicedesk/internal/queue"
	"servicedesk/internal/store"
)

// TicketService is the slice of queue.Service the API drives.
type TicketService interface {
	Ping(ctx context.Context) error
	CreateTicket(ctx context.Context, input store.CreateTicketInput) (models.Ticket, bool, error)
	GetTicket(ctx context.Context, ticketID string) (models.Ticket, error)
	UpdateStatus(ctx context.Context, input store.TransitionInput) (models.Ticket, error)
	Claim(ctx context.Context, input store.ClaimInput) (models.Ticket, error)
	FollowUp(ctx context.Context, input store.FollowUpInput) (models.Ticket, bool, error)
	Queue(ctx context.Context, serviceID string) ([]models.QueuePosition, error)
	Position(ctx context.Context, ticketID string) (queue.TicketStatus, error)
	History(ctx context.Context, ticketID string) ([]models.HistoryEntry, error)
	Services(ctx context.Context) ([]models.Service, error)
}

type Authenticator interface {
	Login(ctx context.Context, email, password string) (auth.Session, error)
}

type Options struct {
	Tokens        TokenParser
	Authenticator Authenticator
	Limiter       *RateLimiter
	Logger        *logging.Logger
	PublicBaseURL string
	// Realtime is mounted under /realtime/ and Events on /events.
	Realtime http.Handler
	Events   http.Handler
}

type Handler struct {
	service       TicketService
	tokens        TokenParser
	authenticator Authenticator
	limiter       *RateLimiter
	logger        *logging.Logger
	publicBaseURL string
	realtime      http.Handler
	events        http.Handler
}

type errorResponse struct {
	RequestID string        `json:"request_id"`
	Error     responseError `json:"error"`
}

type responseError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// kioskTicket is what anonymous callers see of a ticket. Staff fields such
// as the assignee, notes and customer stay out of it.
type kioskTicket struct {
	TicketID     string     `json:"ticket_id"`
	TicketNumber string     `json:"ticket_number"`
	ServiceID    string     `json:"service_id"`
	Status       string     `json:"status"`
	Position     int        `json:"position,omitempty"`
	Ahead        int        `json:"ahead"`
	CreatedAt    time.Time  `json:"created_at"`
	UpdatedAt    time.Time  `json:"updated_at"`
	ResolvedAt   *time.Time `json:"resolved_at,omitempty"`
	StatusURL    string     `json:"status_url,omitempty"`
}

func kioskView(status queue.TicketStatus) kioskTicket {
	return kioskTicket{
		TicketID:     status.Ticket.TicketID,
		TicketNumber: status.Ticket.TicketNumber,
		ServiceID:    status.Ticket.ServiceID,
		Status:       status.Ticket.Status,
		Position:     status.Position,
		Ahead:        status.Ahead,
		CreatedAt:    status.Ticket.CreatedAt,
		UpdatedAt:    status.Ticket.UpdatedAt,
		ResolvedAt:   status.Ticket.ResolvedAt,
	}
}

func NewHandler(service TicketService, options Options) *Handler {
	return &Handler{
		service:       service,
		tokens:        options.Tokens,
		authenticator: options.Authenticator,
		limiter:       options.Limiter,
		logger:        options.Logger,
		publicBaseURL: strings.TrimRight(options.PublicBaseURL, "/"),
		realtime:      options.Realtime,
		events:        options.Events,
	}
}

func (h *Handler) Routes() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(LoggingMiddleware(h.logger))
	r.Use(middleware.Recoverer)
	if h.limiter != nil {
		r.Use(h.limiter.Middleware)
	}

	r.Get("/healthz", h.handleHealth)
	r.Handle("/metrics", expvar.Handler())
	r.Get("/services", h.handleServices)
	r.Post("/auth/login", h.handleLogin)

	r.Route("/kiosk", func(r chi.Router) {
		if h.limiter != nil {
			r.Use(h.limiter.KioskMiddleware)
		}
		r.Post("/tickets", h.handleKioskCreate)
		r.Get("/tickets/{ticketID}", h.handleKioskStatus)
		r.Get("/tickets/{ticketID}/qr", h.handleKioskQR)
	})

	r.Group(func(r chi.Router) {
		r.Use(AuthMiddleware(h.tokens))
		r.Use(RequireRole(auth.RoleCustomerService))
		r.Post("/tickets", h.handleCreateTicket)
		r.Get("/tickets/{ticketID}", h.handleGetTicket)
		r.Patch("/tickets/{ticketID}/status", h.handleUpdateStatus)
		r.Post("/tickets/{ticketID}/follow-up", h.handleFollowUp)
		r.Get("/tickets/{ticketID}/history", h.handleHistory)
		r.Post("/queue/{serviceID}/claim", h.handleClaim)
		r.Get("/queue/{serviceID}", h.handleQueue)
	})

	if h.realtime != nil {
		r.Handle("/realtime/*", h.realtime)
	}
	if h.events != nil {
		r.Handle("/events", h.events)
	}
	return r
}

func (h *Handler) handleHealth(w http.ResponseWriter, r *http.Request) {
	if err := h.service.Ping(r.Context()); err != nil {
		h.writeServiceError(w, r, "", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (h *Handler) handleServices(w http.ResponseWriter, r *http.Request) {
	services, err := h.service.Services(r.Context())
	if err != nil {
		h.writeServiceError(w, r, "", err)
		return
	}
	writeJSON(w, http.StatusOK, services)
}

func (h *Handler) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := decodeRequest(r, &req, false); err != nil {
		h.writeServiceError(w, r, "", err)
		return
	}
	session, err := h.authenticator.Login(r.Context(), req.Email, req.Password)
	if err != nil {
		h.writeServiceError(w, r, "", err)
		return
	}
	writeJSON(w, http.StatusOK, session)
}

func (h *Handler) handleKioskCreate(w http.ResponseWriter, r *http.Request) {
	var req kioskTicketRequest
	if err := decodeRequest(r, &req, false); err != nil {
		h.writeServiceError(w, r, req.RequestID, err)
		return
	}

	ticket, created, err := h.service.CreateTicket(r.Context(), store.CreateTicketInput{
		RequestID:  req.RequestID,
		Kind:       models.KindQueue,
		ServiceID:  req.ServiceID,
		CustomerID: req.CustomerID,
		Actor:      "kiosk",
		CreatedAt:  time.Now().UTC(),
	})
	if err != nil {
		h.writeServiceError(w, r, req.RequestID, err)
		return
	}
	status, err := h.service.Position(r.Context(), ticket.TicketID)
	if err != nil {
		status = queue.TicketStatus{Ticket: ticket}
	}

	code := http.StatusOK
	if created {
		code = http.StatusCreated
	}
	view := kioskView(status)
	view.StatusURL = h.statusURL(ticket.TicketID)
	writeJSON(w, code, view)
}

func (h *Handler) handleKioskStatus(w http.ResponseWriter, r *http.Request) {
	status, err := h.service.Position(r.Context(), chi.URLParam(r, "ticketID"))
	if err != nil {
		h.writeServiceError(w, r, "", err)
		return
	}
	writeJSON(w, http.StatusOK, kioskView(status))
}

func (h *Handler) handleKioskQR(w http.ResponseWriter, r *http.Request) {
	ticket, err := h.service.GetTicket(r.Context(), chi.URLParam(r, "ticketID"))
	if err != nil {
		h.writeServiceError(w, r, "", err)
		return
	}
	png, err := qrcode.Encode(h.statusURL(ticket.TicketID), qrcode.Medium, 256)
	if err != nil {
		h.writeServiceError(w, r, "", err)
		return
	}
	w.Header().Set("Content-Type", "image/png")
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(png)
}

func (h *Handler) statusURL(ticketID string) string {
	return h.publicBaseURL + "/kiosk/tickets/" + ticketID
}

func (h *Handler) handleCreateTicket(w http.ResponseWriter, r *http.Request) {
	var req createTicketRequest
	if err := decodeRequest(r, &req, false); err != nil {
		h.writeServiceError(w, r, req.RequestID, err)
		return
	}

	ticket, created, err := h.service.CreateTicket(r.Context(), store.CreateTicketInput{
		RequestID:  req.RequestID,
		Kind:       req.Kind,
		ServiceID:  req.ServiceID,
		CustomerID: req.CustomerID,
		Title:      req.Title,
		Notes:      req.Notes,
		Actor:      actorFromRequest(r),
		CreatedAt:  time.Now().UTC(),
	})
	if err != nil {
		h.writeServiceError(w, r, req.RequestID, err)
		return
	}
	code := http.StatusOK
	if created {
		code = http.StatusCreated
	}
	writeJSON(w, code, ticket)
}

func (h *Handler) handleGetTicket(w http.ResponseWriter, r *http.Request) {
	ticket, err := h.service.GetTicket(r.Context(), chi.URLParam(r, "ticketID"))
	if err != nil {
		h.writeServiceError(w, r, "", err)
		return
	}
	writeJSON(w, http.StatusOK, ticket)
}

func (h *Handler) handleUpdateStatus(w http.ResponseWriter, r *http.Request) {
	var req updateStatusRequest
	if err := decodeRequest(r, &req, false); err != nil {
		h.writeServiceError(w, r, req.RequestID, err)
		return
	}
	identity, _ := identityFromContext(r.Context())

	ticket, err := h.service.UpdateStatus(r.Context(), store.TransitionInput{
		RequestID:      req.RequestID,
		TicketID:       chi.URLParam(r, "ticketID"),
		ToStatus:       req.Status,
		ExpectedStatus: req.ExpectedStatus,
		Actor:          actorFromRequest(r),
		Assignee:       identity.UserID,
		Privileged:     identity.Role.Allows(auth.RoleSupervisor),
		Notes:          req.Notes,
		Reason:         req.Reason,
		OccurredAt:     time.Now().UTC(),
	})
	if err != nil {
		h.writeServiceError(w, r, req.RequestID, err)
		return
	}
	writeJSON(w, http.StatusOK, ticket)
}

func (h *Handler) handleFollowUp(w http.ResponseWriter, r *http.Request) {
	var req followUpRequest
	if err := decodeRequest(r, &req, true); err != nil {
		h.writeServiceError(w, r, req.RequestID, err)
		return
	}
	child, created, err := h.service.FollowUp(r.Context(), store.FollowUpInput{
		RequestID: req.RequestID,
		TicketID:  chi.URLParam(r, "ticketID"),
		Actor:     actorFromRequest(r),
		Notes:     req.Notes,
		CreatedAt: time.Now().UTC(),
	})
	if err != nil {
		h.writeServiceError(w, r, req.RequestID, err)
		return
	}
	code := http.StatusOK
	if created {
		code = http.StatusCreated
	}
	writeJSON(w, code, child)
}

func (h *Handler) handleHistory(w http.ResponseWriter, r *http.Request) {
	entries, err := h.service.History(r.Context(), chi.URLParam(r, "ticketID"))
	if err != nil {
		h.writeServiceError(w, r, "", err)
		return
	}
	writeJSON(w, http.StatusOK, entries)
}

func (h *Handler) handleClaim(w http.ResponseWriter, r *http.Request) {
	var req claimRequest
	if err := decodeRequest(r, &req, true); err != nil {
		h.writeServiceError(w, r, req.RequestID, err)
		return
	}
	ticket, err := h.service.Claim(r.Context(), store.ClaimInput{
		RequestID: req.RequestID,
		ServiceID: chi.URLParam(r, "serviceID"),
		Actor:     actorFromRequest(r),
		Assignee:  assigneeFromRequest(r),
		ClaimedAt: time.Now().UTC(),
	})
	if errors.Is(err, store.ErrQueueEmpty) {
		w.WriteHeader(http.StatusNoContent)
		return
	}
	if err != nil {
		h.writeServiceError(w, r, req.RequestID, err)
		return
	}
	writeJSON(w, http.StatusOK, ticket)
}

func (h *Handler) handleQueue(w http.ResponseWriter, r *http.Request) {
	line, err := h.service.Queue(r.Context(), chi.URLParam(r, "serviceID"))
	if err != nil {
		h.writeServiceError(w, r, "", err)
		return
	}
	writeJSON(w, http.StatusOK, line)
}

func (h *Handler) writeServiceError(w http.ResponseWriter, r *http.Request, requestID string, err error) {
	if requestID == "" {
		requestID = requestIDFromRequest(r)
	}
	status, code, msg := mapError(err)
	if status == http.StatusServiceUnavailable {
		w.Header().Set("Retry-After", "1")
	}
	if status == http.StatusInternalServerError {
		h.logger.Errorf("http", "%s %s failed: %v", r.Method, r.URL.Path, err)
	}
	writeError(w, requestID, status, code, msg)
}

func mapError(err error) (int, string, string) {
	var verr *store.ValidationError
	switch {
	case errors.Is(err, errInvalidJSON):
		return http.StatusBadRequest, "invalid_json", "invalid JSON payload"
	case errors.As(err, &verr):
		return http.StatusBadRequest, "validation_error", verr.Error()
	case errors.Is(err, store.ErrInvalidTransition):
		return http.StatusConflict, "invalid_transition", "ticket state does not allow this transition"
	case errors.Is(err, store.ErrLostRace):
		return http.StatusConflict, "conflict_lost_race", "ticket was changed by another actor, reload and retry"
	case errors.Is(err, store.ErrTicketNotFound):
		return http.StatusNotFound, "ticket_not_found", "ticket not found"
	case errors.Is(err, store.ErrServiceNotFound):
		return http.StatusNotFound, "service_not_found", "service not found"
	case errors.Is(err, store.ErrCustomerNotFound):
		return http.StatusNotFound, "customer_not_found", "customer not found"
	case errors.Is(err, store.ErrForbidden):
		return http.StatusForbidden, "forbidden", "supervisor role required"
	case errors.Is(err, auth.ErrInvalidCredentials):
		return http.StatusUnauthorized, "invalid_credentials", "invalid email or password"
	case errors.Is(err, store.ErrUnavailable):
		return http.StatusServiceUnavailable, "store_unavailable", "store unavailable, retry later"
	default:
		return http.StatusInternalServerError, "internal_error", "internal server error"
	}
}

func requestIDFromRequest(r *http.Request) string {
	if id := strings.TrimSpace(r.Header.Get("X-Request-ID")); id != "" {
		return id
	}
	return middleware.GetReqID(r.Context())
}

func writeError(w http.ResponseWriter, requestID string, status int, code, message string) {
	writeJSON(w, status, errorResponse{
		RequestID: requestID,
		Error: responseError{
			Code:    code,
			Message: message,
		},
	})
}

func writeJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if payload == nil {
		return
	}
	_ = json.NewEncoder(w).Encode(payload)
}
