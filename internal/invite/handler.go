// ABOUTME: Admin invite endpoints: create (upsert + notify) and read by email
// ABOUTME: Mounted behind the admin guard; every ledger access goes through store.InviteStore

package invite

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"net/url"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/2389/asobi-gateway/internal/httpx"
	"github.com/2389/asobi-gateway/internal/notify"
	"github.com/2389/asobi-gateway/internal/store"
)

// DefaultExpiresInDays applies when a create request omits expires_in_days.
const DefaultExpiresInDays = 7

// StatusUnknown is reported for records stored without a status.
const StatusUnknown = "unknown"

// Notifier queues an invite notification without blocking the response.
type Notifier interface {
	Dispatch(ctx context.Context, msg notify.Message) string
}

// CreateRequest is the body of POST /admin/invites.
type CreateRequest struct {
	Email         string  `json:"email" validate:"required,email"`
	ExpiresInDays *int    `json:"expires_in_days" validate:"omitempty,gt=0,lte=36500"`
	Note          *string `json:"note" validate:"omitempty,max=2000"`

	// expiresNull is set when the body carries "expires_in_days": null.
	expiresNull bool
}

// UnmarshalJSON decodes the request, noting an explicit null expiry so it can
// be rejected instead of falling back to the default.
func (c *CreateRequest) UnmarshalJSON(data []byte) error {
	type plain CreateRequest
	if err := json.Unmarshal(data, (*plain)(c)); err != nil {
		return err
	}

	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	v, ok := raw["expires_in_days"]
	c.expiresNull = ok && bytes.Equal(bytes.TrimSpace(v), []byte("null"))
	return nil
}

// View is the public representation of an invite.
type View struct {
	Email     string    `json:"email"`
	ExpiresAt time.Time `json:"expires_at"`
	Status    string    `json:"status"`
	Note      *string   `json:"note"`
}

// NewView projects a ledger record, defaulting an absent status to "unknown".
func NewView(r *store.InviteRecord) View {
	status := string(r.Status)
	if status == "" {
		status = StatusUnknown
	}
	return View{
		Email:     r.Email,
		ExpiresAt: r.ExpiresAt.UTC(),
		Status:    status,
		Note:      r.Note,
	}
}

// Handler serves the invite endpoints.
type Handler struct {
	store    store.InviteStore
	notifier Notifier
	logger   *slog.Logger
	validate *validator.Validate
	now      func() time.Time
}

// Option configures a Handler.
type Option func(*Handler)

// WithClock replaces time.Now, for tests.
func WithClock(now func() time.Time) Option {
	return func(h *Handler) { h.now = now }
}

// NewHandler creates the invite handler.
func NewHandler(s store.InviteStore, n Notifier, logger *slog.Logger, opts ...Option) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	h := &Handler{
		store:    s,
		notifier: n,
		logger:   logger.With("component", "invite"),
		validate: validator.New(validator.WithRequiredStructEnabled()),
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Routes returns a router with the invite endpoints, relative to the admin prefix.
func (h *Handler) Routes() chi.Router {
	r := chi.NewRouter()
	r.Post("/invites", h.Create)
	r.Get("/invites/{email}", h.Get)
	return r
}

// Create handles POST /invites.
func (h *Handler) Create(w http.ResponseWriter, r *http.Request) {
	var req CreateRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.RespondError(w, err)
		return
	}

	if err := h.validateRequest(&req); err != nil {
		httpx.RespondError(w, err)
		return
	}

	days := DefaultExpiresInDays
	if req.ExpiresInDays != nil {
		days = *req.ExpiresInDays
	}

	now := h.now().UTC()
	record := &store.InviteRecord{
		Email:     req.Email,
		Status:    store.InviteStatusPending,
		Note:      req.Note,
		CreatedAt: now,
		ExpiresAt: now.Add(time.Duration(days) * 24 * time.Hour),
	}

	if err := h.store.UpsertInvite(r.Context(), record); err != nil {
		h.logger.Error("failed to store invite", "email", req.Email, "error", err)
		httpx.RespondError(w, httpx.Wrap(httpx.ErrDependency, "internal error", err))
		return
	}

	if h.notifier != nil {
		msg := notify.BuildInviteMessage(record.Email, record.ExpiresAt, record.Note)
		dispatchID := h.notifier.Dispatch(r.Context(), msg)
		h.logger.Debug("invite notification queued", "email", record.Email, "dispatch_id", dispatchID)
	}

	h.logger.Info("invite created for "+record.Email, "email", record.Email, "expires_at", record.ExpiresAt)
	httpx.JSON(w, http.StatusOK, NewView(record))
}

// Get handles GET /invites/{email}.
func (h *Handler) Get(w http.ResponseWriter, r *http.Request) {
	email := chi.URLParam(r, "email")
	if decoded, err := url.PathUnescape(email); err == nil {
		email = decoded
	}

	record, err := h.store.GetInvite(r.Context(), email)
	if errors.Is(err, store.ErrNotFound) {
		httpx.RespondError(w, httpx.Reason(httpx.ErrNotFound, "not found"))
		return
	}
	if err != nil {
		h.logger.Error("failed to read invite", "email", email, "error", err)
		httpx.RespondError(w, httpx.Wrap(httpx.ErrDependency, "internal error", err))
		return
	}

	httpx.JSON(w, http.StatusOK, NewView(record))
}

func (h *Handler) validateRequest(req *CreateRequest) error {
	fields := make(map[string]string)
	if err := h.validate.Struct(req); err != nil {
		var fieldErrs validator.ValidationErrors
		if !errors.As(err, &fieldErrs) {
			return httpx.Wrap(httpx.ErrBadRequest, "invalid request body", err)
		}
		for _, fe := range fieldErrs {
			fields[jsonFieldName(fe.Field())] = fieldMessage(fe)
		}
	}
	if req.expiresNull {
		fields["expires_in_days"] = "must not be null"
	}

	if len(fields) == 0 {
		return nil
	}
	return &httpx.ValidationError{Fields: fields}
}

func jsonFieldName(field string) string {
	switch field {
	case "Email":
		return "email"
	case "ExpiresInDays":
		return "expires_in_days"
	case "Note":
		return "note"
	default:
		return field
	}
}

func fieldMessage(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return "is required"
	case "email":
		return "must be a valid email address"
	case "gt":
		return "must be greater than " + fe.Param()
	case "lte":
		return "must be at most " + fe.Param()
	case "max":
		return "must be at most " + fe.Param() + " characters"
	default:
		return "is invalid"
	}
}
