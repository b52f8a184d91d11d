// Package handlers contains the HTTP handlers for the Fairweather API.
//
// Handlers decode and validate requests, delegate to a service interface
// defined next to the handler, and render responses through core helpers.
package handlers

import (
	"context"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"fairweather/internal/alternatives"
	"fairweather/internal/core"
	"fairweather/internal/events"
	"fairweather/internal/types"
)

const (
	defaultUpcomingDays = 7
	maxUpcomingDays     = 30
	maxListLimit        = 500
)

// EventService is the subset of events.Service used by EventHandler.
type EventService interface {
	Create(ctx context.Context, req events.CreateRequest) (*types.Event, error)
	Get(ctx context.Context, id string) (*types.Event, error)
	List(ctx context.Context, filter types.EventFilter) ([]*types.Event, error)
	ListUpcoming(ctx context.Context, from, to time.Time) ([]*types.Event, error)
	Update(ctx context.Context, id string, req events.UpdateRequest) (*types.Event, error)
	Delete(ctx context.Context, id string) error
	WeatherCheck(ctx context.Context, id string) (*types.Event, error)
	Alternatives(ctx context.Context, id string, opts events.AlternativesOptions) (*alternatives.Result, error)
}

// CreateEventRequest is the body of POST /v1/events.
type CreateEventRequest struct {
	Name        string `json:"name" validate:"required,max=200"`
	Location    string `json:"location" validate:"required,location_name"`
	Date        string `json:"date" validate:"required,event_date"`
	EventType   string `json:"event_type" validate:"omitempty,event_type"`
	Description string `json:"description" validate:"max=2000"`
}

// UpdateEventRequest is the body of PATCH /v1/events/{id}. Absent fields are
// left unchanged.
type UpdateEventRequest struct {
	Name        *string `json:"name" validate:"omitempty,max=200"`
	Location    *string `json:"location" validate:"omitempty,location_name"`
	Date        *string `json:"date" validate:"omitempty,event_date"`
	EventType   *string `json:"event_type" validate:"omitempty,event_type"`
	Description *string `json:"description" validate:"omitempty,max=2000"`
}

// EventHandler maps the /v1/events endpoints onto EventService.
type EventHandler struct {
	service   EventService
	validator *core.Validator
	logger    *slog.Logger
	clock     types.Clock
}

// NewEventHandler creates an EventHandler.
func NewEventHandler(svc EventService, val *core.Validator, logger *slog.Logger) *EventHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &EventHandler{
		service:   svc,
		validator: val,
		logger:    logger,
		clock:     types.RealClock{},
	}
}

// RegisterRoutes mounts the event endpoints.
func (h *EventHandler) RegisterRoutes(r chi.Router) {
	r.Post("/", h.HandleCreate)
	r.Get("/", h.HandleList)
	r.Get("/upcoming", h.HandleUpcoming)
	r.Get("/{id}", h.HandleGet)
	r.Patch("/{id}", h.HandleUpdate)
	r.Delete("/{id}", h.HandleDelete)
	r.Post("/{id}/weather-check", h.HandleWeatherCheck)
	r.Get("/{id}/alternatives", h.HandleAlternatives)
}

// HandleCreate handles POST /v1/events.
func (h *EventHandler) HandleCreate(w http.ResponseWriter, r *http.Request) {
	var req CreateEventRequest
	if err := core.DecodeJSON(w, r, &req); err != nil {
		core.Error(w, r, err)
		return
	}
	if err := h.validator.ValidateStruct(req); err != nil {
		core.Error(w, r, err)
		return
	}
	date, err := types.ParseDate(req.Date)
	if err != nil {
		core.Error(w, r, err)
		return
	}

	e, err := h.service.Create(r.Context(), events.CreateRequest{
		Name:        req.Name,
		Location:    req.Location,
		Date:        date,
		EventType:   types.EventType(strings.TrimSpace(req.EventType)),
		Description: req.Description,
	})
	if err != nil {
		h.fail(w, r, "create event", err)
		return
	}
	core.Data(w, r, http.StatusCreated, e)
}

// HandleList handles GET /v1/events?from=&to=&limit=.
func (h *EventHandler) HandleList(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	var filter types.EventFilter
	var err error

	if s := q.Get("from"); s != "" {
		if filter.From, err = types.ParseDate(s); err != nil {
			core.Error(w, r, err)
			return
		}
	}
	if s := q.Get("to"); s != "" {
		if filter.To, err = types.ParseDate(s); err != nil {
			core.Error(w, r, err)
			return
		}
	}
	if filter.Limit, err = intParam(q.Get("limit"), 0, 0, maxListLimit, "limit", types.ErrCodeValidationFailed); err != nil {
		core.Error(w, r, err)
		return
	}

	list, err := h.service.List(r.Context(), filter)
	if err != nil {
		h.fail(w, r, "list events", err)
		return
	}
	core.List(w, r, list)
}

// HandleUpcoming handles GET /v1/events/upcoming?days=.
func (h *EventHandler) HandleUpcoming(w http.ResponseWriter, r *http.Request) {
	days, err := intParam(r.URL.Query().Get("days"), defaultUpcomingDays, 1, maxUpcomingDays, "days", types.ErrCodeValidationFailed)
	if err != nil {
		core.Error(w, r, err)
		return
	}
	now := h.clock.Now()
	list, err := h.service.ListUpcoming(r.Context(), now, now.Add(time.Duration(days)*24*time.Hour))
	if err != nil {
		h.fail(w, r, "list upcoming events", err)
		return
	}
	core.List(w, r, list)
}

// HandleGet handles GET /v1/events/{id}.
func (h *EventHandler) HandleGet(w http.ResponseWriter, r *http.Request) {
	e, err := h.service.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.fail(w, r, "get event", err)
		return
	}
	core.Data(w, r, http.StatusOK, e)
}

// HandleUpdate handles PATCH /v1/events/{id}.
func (h *EventHandler) HandleUpdate(w http.ResponseWriter, r *http.Request) {
	var req UpdateEventRequest
	if err := core.DecodeJSON(w, r, &req); err != nil {
		core.Error(w, r, err)
		return
	}
	if err := h.validator.ValidateStruct(req); err != nil {
		core.Error(w, r, err)
		return
	}

	upd := events.UpdateRequest{
		Name:        req.Name,
		Location:    req.Location,
		Description: req.Description,
	}
	if req.Date != nil {
		date, err := types.ParseDate(*req.Date)
		if err != nil {
			core.Error(w, r, err)
			return
		}
		upd.Date = &date
	}
	if req.EventType != nil {
		et := types.EventType(strings.TrimSpace(*req.EventType))
		upd.EventType = &et
	}

	e, err := h.service.Update(r.Context(), chi.URLParam(r, "id"), upd)
	if err != nil {
		h.fail(w, r, "update event", err)
		return
	}
	core.Data(w, r, http.StatusOK, e)
}

// HandleDelete handles DELETE /v1/events/{id}.
func (h *EventHandler) HandleDelete(w http.ResponseWriter, r *http.Request) {
	if err := h.service.Delete(r.Context(), chi.URLParam(r, "id")); err != nil {
		h.fail(w, r, "delete event", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// HandleWeatherCheck handles POST /v1/events/{id}/weather-check.
func (h *EventHandler) HandleWeatherCheck(w http.ResponseWriter, r *http.Request) {
	e, err := h.service.WeatherCheck(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.fail(w, r, "weather check", err)
		return
	}
	core.Data(w, r, http.StatusOK, e)
}

// HandleAlternatives handles
// GET /v1/events/{id}/alternatives?window_days=&min_improvement=&limit=.
// A partial search is still a 200 and carries a warning in meta.
func (h *EventHandler) HandleAlternatives(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	var opts events.AlternativesOptions

	if s := q.Get("window_days"); s != "" {
		n, err := intParam(s, 0, 1, alternatives.MaxWindowDays, "window_days", types.ErrCodeValidationWindow)
		if err != nil {
			core.Error(w, r, err)
			return
		}
		opts.WindowDays = &n
	}
	if s := q.Get("min_improvement"); s != "" {
		v, err := strconv.ParseFloat(s, 64)
		if err != nil || v < 0 {
			core.Error(w, r, types.NewAppErrorWithDetails(types.ErrCodeValidationImprovement,
				"min_improvement must be a non-negative number", err,
				map[string]any{"min_improvement": s}))
			return
		}
		opts.MinImprovement = &v
	}
	if s := q.Get("limit"); s != "" {
		n, err := intParam(s, 0, 0, maxListLimit, "limit", types.ErrCodeValidationFailed)
		if err != nil {
			core.Error(w, r, err)
			return
		}
		opts.Limit = &n
	}

	res, err := h.service.Alternatives(r.Context(), chi.URLParam(r, "id"), opts)
	if err != nil {
		h.fail(w, r, "find alternatives", err)
		return
	}

	resp := core.APIResponse{Data: res}
	if res.Partial {
		resp.Meta = &core.ResponseMeta{Count: len(res.Alternatives), Warnings: []string{
			"search did not finish before the deadline; results cover completed dates only",
		}}
	}
	core.JSON(w, r, http.StatusOK, resp)
}

// fail renders err and logs anything that is not a client error.
func (h *EventHandler) fail(w http.ResponseWriter, r *http.Request, op string, err error) {
	logFailure(h.logger, r, op, err)
	core.Error(w, r, err)
}

func logFailure(logger *slog.Logger, r *http.Request, op string, err error) {
	status := http.StatusInternalServerError
	if code := types.CodeOf(err); code != "" {
		status = code.HTTPStatus()
	}
	if status < http.StatusInternalServerError {
		return
	}
	logger.ErrorContext(r.Context(), op+" failed",
		"error", err,
		"request_id", types.GetRequestID(r.Context()),
	)
}

// intParam parses an optional integer query parameter within [lo, hi].
func intParam(raw string, def, lo, hi int, name string, code types.ErrorCode) (int, error) {
	if raw == "" {
		return def, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < lo || n > hi {
		return 0, types.NewAppErrorWithDetails(code,
			name+" must be an integer between "+strconv.Itoa(lo)+" and "+strconv.Itoa(hi), err,
			map[string]any{name: raw})
	}
	return n, nil
}
