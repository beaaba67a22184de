// Package api exposes the predict and strategy pipelines as JSON over HTTP.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-playground/validator/v10"
	"github.com/sirupsen/logrus"

	"github.com/yourusername/rally-coach/internal/datasource"
	"github.com/yourusername/rally-coach/internal/metrics"
	"github.com/yourusername/rally-coach/internal/models"
	"github.com/yourusername/rally-coach/internal/service"
)

const maxBodyBytes = 1 << 20

var validate = validator.New()

// Coach runs the two pipelines the API serves
type Coach interface {
	Predict(ctx context.Context, req service.PredictRequest) (*service.PredictionResult, error)
	Strategy(ctx context.Context, req service.StrategyRequest) (*service.StrategyResult, error)
}

// PredictRequest is the body of POST /predict
type PredictRequest struct {
	PlayerA string `json:"a" validate:"required"`
	PlayerB string `json:"b" validate:"required,nefield=PlayerA"`
	Mode    string `json:"mode" validate:"omitempty,oneof=mock real"`
	Window  int    `json:"window" validate:"omitempty,min=1,max=500"`
	AsOf    string `json:"as_of"`
	RunID   string `json:"run_id" validate:"omitempty,max=120"`
}

// StrategyRequest is the body of POST /strategy
type StrategyRequest struct {
	PredictRequest
	Budget        float64 `json:"budget" validate:"omitempty,gt=0,lte=2"`
	MaxCandidates int     `json:"max_candidates" validate:"gte=0"`
}

// ErrorResponse is written for every failed request
type ErrorResponse struct {
	Error  string `json:"error"`
	Stage  string `json:"stage,omitempty"`
	RunDir string `json:"run_dir,omitempty"`
}

// Handler serves /predict and /strategy. Each engine mode has its own coach;
// a request without a mode uses the default one.
type Handler struct {
	coaches     map[models.EngineMode]Coach
	defaultMode models.EngineMode
	timeout     time.Duration
	logger      *logrus.Entry
}

// NewHandler creates the API handler. timeout bounds a single pipeline run.
func NewHandler(coaches map[models.EngineMode]Coach, defaultMode models.EngineMode, timeout time.Duration, log *logrus.Logger) *Handler {
	return &Handler{
		coaches:     coaches,
		defaultMode: defaultMode,
		timeout:     timeout,
		logger:      log.WithField("component", "api"),
	}
}

// Router returns the chi router serving the API
func (h *Handler) Router() chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Post("/predict", h.handlePredict)
	r.Post("/strategy", h.handleStrategy)
	r.MethodNotAllowed(func(w http.ResponseWriter, req *http.Request) {
		w.Header().Set("Allow", http.MethodPost)
		h.respond(w, strings.TrimPrefix(req.URL.Path, "/"), http.StatusMethodNotAllowed, ErrorResponse{Error: "method not allowed"})
	})
	return r
}

// Routes returns the API endpoints keyed by path, for mounting on another mux
func (h *Handler) Routes() map[string]http.Handler {
	r := h.Router()
	return map[string]http.Handler{
		"/predict":  r,
		"/strategy": r,
	}
}

func (h *Handler) handlePredict(w http.ResponseWriter, r *http.Request) {
	var req PredictRequest
	if !h.decode(w, r, "predict", &req) {
		return
	}
	coach, asOf, ok := h.prepare(w, "predict", req)
	if !ok {
		return
	}

	ctx, cancel := h.runContext(r.Context())
	defer cancel()

	res, err := coach.Predict(ctx, service.PredictRequest{
		PlayerA: req.PlayerA,
		PlayerB: req.PlayerB,
		Window:  req.Window,
		AsOf:    asOf,
		RunID:   req.RunID,
	})
	if err != nil {
		h.fail(r.Context(), w, "predict", err)
		return
	}
	h.respond(w, "predict", http.StatusOK, res)
}

func (h *Handler) handleStrategy(w http.ResponseWriter, r *http.Request) {
	var req StrategyRequest
	if !h.decode(w, r, "strategy", &req) {
		return
	}
	coach, asOf, ok := h.prepare(w, "strategy", req.PredictRequest)
	if !ok {
		return
	}

	ctx, cancel := h.runContext(r.Context())
	defer cancel()

	res, err := coach.Strategy(ctx, service.StrategyRequest{
		PlayerA:       req.PlayerA,
		PlayerB:       req.PlayerB,
		Window:        req.Window,
		AsOf:          asOf,
		RunID:         req.RunID,
		Budget:        req.Budget,
		MaxCandidates: req.MaxCandidates,
	})
	if err != nil {
		h.fail(r.Context(), w, "strategy", err)
		return
	}
	h.respond(w, "strategy", http.StatusOK, res)
}

// decode reads a JSON body into v and validates it
func (h *Handler) decode(w http.ResponseWriter, r *http.Request, endpoint string, v interface{}) bool {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		h.respond(w, endpoint, http.StatusBadRequest, ErrorResponse{Error: fmt.Sprintf("invalid request body: %v", err)})
		return false
	}
	if err := validate.Struct(v); err != nil {
		h.respond(w, endpoint, http.StatusBadRequest, ErrorResponse{Error: formatValidationErrors(err)})
		return false
	}
	return true
}

// prepare picks the coach for the requested mode and parses the cutoff date
func (h *Handler) prepare(w http.ResponseWriter, endpoint string, req PredictRequest) (Coach, time.Time, bool) {
	mode := h.defaultMode
	if req.Mode != "" {
		mode = models.EngineMode(req.Mode)
	}
	coach, ok := h.coaches[mode]
	if !ok {
		h.respond(w, endpoint, http.StatusBadRequest, ErrorResponse{Error: fmt.Sprintf("engine mode %q is not enabled on this server", mode)})
		return nil, time.Time{}, false
	}

	var asOf time.Time
	if req.AsOf != "" {
		t, err := datasource.ParseMatchDate(req.AsOf)
		if err != nil {
			h.respond(w, endpoint, http.StatusBadRequest, ErrorResponse{Error: fmt.Sprintf("invalid as_of %q: %v", req.AsOf, err)})
			return nil, time.Time{}, false
		}
		asOf = t
	}
	return coach, asOf, true
}

func (h *Handler) runContext(parent context.Context) (context.Context, context.CancelFunc) {
	if h.timeout <= 0 {
		return context.WithCancel(parent)
	}
	return context.WithTimeout(parent, h.timeout)
}

func (h *Handler) fail(ctx context.Context, w http.ResponseWriter, endpoint string, err error) {
	resp := ErrorResponse{Error: err.Error()}
	var stageErr *models.StageError
	if errors.As(err, &stageErr) {
		resp.Stage = string(stageErr.Stage)
		resp.RunDir = stageErr.RunDir
	}

	status := statusFor(err)
	entry := h.logger.WithError(err).WithFields(logrus.Fields{
		"request_id": middleware.GetReqID(ctx),
		"endpoint":   endpoint,
		"status":     status,
		"stage":      resp.Stage,
	})
	if status >= http.StatusInternalServerError {
		entry.Error("Request failed")
	} else {
		entry.Warn("Request rejected")
	}
	h.respond(w, endpoint, status, resp)
}

// statusFor maps pipeline failures onto HTTP status codes
func statusFor(err error) int {
	switch {
	case errors.Is(err, models.ErrResolution):
		return http.StatusNotFound
	case errors.Is(err, models.ErrModelValidation):
		return http.StatusUnprocessableEntity
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, models.ErrEngineTimeout):
		return http.StatusGatewayTimeout
	case errors.Is(err, models.ErrEngineNotFound), errors.Is(err, models.ErrEngineFailed),
		errors.Is(err, models.ErrEmptyEngineOutput), errors.Is(err, models.ErrUnparsableOutput):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

func (h *Handler) respond(w http.ResponseWriter, endpoint string, status int, v interface{}) {
	metrics.RecordAPIRequest(endpoint, status)
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		h.logger.WithError(err).Warn("Failed to encode response")
	}
}

func formatValidationErrors(err error) string {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return err.Error()
	}
	msgs := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		if fe.Param() != "" {
			msgs = append(msgs, fmt.Sprintf("%s failed '%s=%s'", fe.Field(), fe.Tag(), fe.Param()))
		} else {
			msgs = append(msgs, fmt.Sprintf("%s failed '%s'", fe.Field(), fe.Tag()))
		}
	}
	return strings.Join(msgs, "; ")
}
