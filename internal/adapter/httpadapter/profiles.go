package httpadapter

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	sharedobs "github.com/couchcryptid/storm-data-shared/observability"
	"github.com/google/uuid"

	"github.com/couchcryptid/quake-alert-service/internal/domain"
	"github.com/couchcryptid/quake-alert-service/internal/profile"
)

// UserIDHeader carries the authenticated owner, set by the gateway.
const UserIDHeader = "X-User-ID"

type profileService interface {
	Create(ctx context.Context, ownerID uuid.UUID, p domain.NotificationProfile) (domain.NotificationProfile, error)
	Update(ctx context.Context, ownerID, id uuid.UUID, p domain.NotificationProfile) (domain.NotificationProfile, error)
	SetActive(ctx context.Context, ownerID, id uuid.UUID, active bool) (domain.NotificationProfile, error)
	Delete(ctx context.Context, ownerID, id uuid.UUID) error
	Get(ctx context.Context, ownerID, id uuid.UUID) (domain.NotificationProfile, error)
	List(ctx context.Context, ownerID uuid.UUID) ([]domain.NotificationProfile, error)
}

// ProfileHandler serves /v1/profiles.
type ProfileHandler struct {
	svc    profileService
	logger *slog.Logger
}

func NewProfileHandler(svc profileService, logger *slog.Logger) *ProfileHandler {
	return &ProfileHandler{svc: svc, logger: logger.With("component", "profile_api")}
}

// profileRequest is the create/update body. Omitted magnitude and location
// default to the widest filter. An omitted is_active is true on create and
// keeps the stored state on update.
type profileRequest struct {
	Name      string                 `json:"name"`
	IsActive  *bool                  `json:"is_active"`
	Sources   []string               `json:"sources"`
	Magnitude *domain.MagnitudeRange `json:"magnitude_range"`
	Location  *domain.LocationScope  `json:"location"`
}

func (req profileRequest) toDomain(defaultActive bool) (domain.NotificationProfile, error) {
	sources, err := domain.ParseSourceSelection(req.Sources)
	if err != nil {
		return domain.NotificationProfile{}, err
	}
	p := domain.NotificationProfile{
		Name:      req.Name,
		IsActive:  defaultActive,
		Sources:   sources,
		Magnitude: domain.FullMagnitudeRange(),
		Location:  domain.AllLocations(),
	}
	if req.IsActive != nil {
		p.IsActive = *req.IsActive
	}
	if req.Magnitude != nil {
		p.Magnitude = *req.Magnitude
	}
	if req.Location != nil {
		p.Location = *req.Location
	}
	return p, nil
}

type listResponse struct {
	Profiles []domain.NotificationProfile `json:"profiles"`
}

// List handles GET /v1/profiles.
func (h *ProfileHandler) List(w http.ResponseWriter, r *http.Request) {
	owner, ok := ownerID(w, r)
	if !ok {
		return
	}
	profiles, err := h.svc.List(r.Context(), owner)
	if err != nil {
		h.handleError(w, r, err)
		return
	}
	if profiles == nil {
		profiles = []domain.NotificationProfile{}
	}
	sharedobs.WriteJSON(w, http.StatusOK, listResponse{Profiles: profiles})
}

// Create handles POST /v1/profiles.
func (h *ProfileHandler) Create(w http.ResponseWriter, r *http.Request) {
	owner, ok := ownerID(w, r)
	if !ok {
		return
	}
	req, ok := decode(w, r)
	if !ok {
		return
	}
	p, err := req.toDomain(true)
	if err != nil {
		h.handleError(w, r, err)
		return
	}
	created, err := h.svc.Create(r.Context(), owner, p)
	if err != nil {
		h.handleError(w, r, err)
		return
	}
	sharedobs.WriteJSON(w, http.StatusCreated, created)
}

// Get handles GET /v1/profiles/{id}.
func (h *ProfileHandler) Get(w http.ResponseWriter, r *http.Request) {
	owner, id, ok := ownerAndID(w, r)
	if !ok {
		return
	}
	p, err := h.svc.Get(r.Context(), owner, id)
	if err != nil {
		h.handleError(w, r, err)
		return
	}
	sharedobs.WriteJSON(w, http.StatusOK, p)
}

// Update handles PUT /v1/profiles/{id}.
func (h *ProfileHandler) Update(w http.ResponseWriter, r *http.Request) {
	owner, id, ok := ownerAndID(w, r)
	if !ok {
		return
	}
	req, ok := decode(w, r)
	if !ok {
		return
	}
	active := false
	if req.IsActive == nil {
		current, err := h.svc.Get(r.Context(), owner, id)
		if err != nil {
			h.handleError(w, r, err)
			return
		}
		active = current.IsActive
	}
	p, err := req.toDomain(active)
	if err != nil {
		h.handleError(w, r, err)
		return
	}
	updated, err := h.svc.Update(r.Context(), owner, id, p)
	if err != nil {
		h.handleError(w, r, err)
		return
	}
	sharedobs.WriteJSON(w, http.StatusOK, updated)
}

// Delete handles DELETE /v1/profiles/{id}.
func (h *ProfileHandler) Delete(w http.ResponseWriter, r *http.Request) {
	owner, id, ok := ownerAndID(w, r)
	if !ok {
		return
	}
	if err := h.svc.Delete(r.Context(), owner, id); err != nil {
		h.handleError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// Activate handles POST /v1/profiles/{id}/activate.
func (h *ProfileHandler) Activate(w http.ResponseWriter, r *http.Request) {
	h.setActive(w, r, true)
}

// Deactivate handles POST /v1/profiles/{id}/deactivate.
func (h *ProfileHandler) Deactivate(w http.ResponseWriter, r *http.Request) {
	h.setActive(w, r, false)
}

func (h *ProfileHandler) setActive(w http.ResponseWriter, r *http.Request, active bool) {
	owner, id, ok := ownerAndID(w, r)
	if !ok {
		return
	}
	p, err := h.svc.SetActive(r.Context(), owner, id, active)
	if err != nil {
		h.handleError(w, r, err)
		return
	}
	sharedobs.WriteJSON(w, http.StatusOK, p)
}

func decode(w http.ResponseWriter, r *http.Request) (profileRequest, bool) {
	var req profileRequest
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, 64<<10))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return profileRequest{}, false
	}
	return req, true
}

func (h *ProfileHandler) handleError(w http.ResponseWriter, r *http.Request, err error) {
	var ve *domain.ValidationError
	switch {
	case errors.As(err, &ve):
		sharedobs.WriteJSON(w, http.StatusBadRequest, map[string]any{"error": "validation failed", "fields": ve.Errors})
	case errors.Is(err, domain.ErrValidation):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, profile.ErrLimitExceeded):
		writeError(w, http.StatusForbidden, err.Error())
	case errors.Is(err, domain.ErrNotFound):
		writeError(w, http.StatusNotFound, "profile not found")
	case errors.Is(err, domain.ErrAlreadyExists):
		writeError(w, http.StatusConflict, "profile already exists")
	default:
		h.logger.ErrorContext(r.Context(), "profile request failed", "error", err)
		writeError(w, http.StatusInternalServerError, "internal server error")
	}
}

func ownerID(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	owner, err := uuid.Parse(r.Header.Get(UserIDHeader))
	if err != nil || owner == uuid.Nil {
		writeError(w, http.StatusUnauthorized, "missing or invalid "+UserIDHeader)
		return uuid.Nil, false
	}
	return owner, true
}

func ownerAndID(w http.ResponseWriter, r *http.Request) (uuid.UUID, uuid.UUID, bool) {
	owner, ok := ownerID(w, r)
	if !ok {
		return uuid.Nil, uuid.Nil, false
	}
	id, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid profile id")
		return uuid.Nil, uuid.Nil, false
	}
	return owner, id, true
}
