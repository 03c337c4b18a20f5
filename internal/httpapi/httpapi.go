// Package httpapi exposes synthesize requests over HTTP, together with health
// and metrics endpoints.
package httpapi

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/book-expert/logger"
	"github.com/book-expert/snr9816-service/internal/core"
	"github.com/book-expert/snr9816-service/internal/observability"
	"github.com/book-expert/snr9816-service/internal/synth"
	"github.com/google/uuid"
)

// Routes.
const (
	routeIndex   = "GET /{$}"
	routeTTSGet  = "GET /v1/tts/snr9816"
	routeTTSPost = "POST /v1/tts/snr9816"
	routeHealth  = "GET /health"
	routeMetrics = "GET /metrics"
)

// Form fields.
const (
	fieldText   = "text"
	fieldVolume = "volume"
	fieldSpeed  = "speed"
	fieldTone   = "tone"
	fieldNotify = "notify"
)

const (
	transportName         = "http"
	bodyOK                = "OK"
	contentTypeHeader     = "Content-Type"
	contentTypeJSON       = "application/json"
	serviceName           = "snr9816-service"
	defaultRequestTimeout = 30 * time.Second
)

// Handler serves the HTTP API.
type Handler struct {
	synthesizer    core.Synthesizer
	health         core.HealthChecker
	requestTimeout time.Duration
	log            *logger.Logger
}

// HealthStatus is the body returned by the health endpoint.
type HealthStatus struct {
	Status    string `json:"status"`
	Service   string `json:"service"`
	Timestamp string `json:"timestamp"`
	Message   string `json:"message,omitempty"`
}

// NewHandler creates a Handler. A zero requestTimeout uses 30 seconds.
func NewHandler(
	synthesizer core.Synthesizer,
	health core.HealthChecker,
	requestTimeout time.Duration,
	log *logger.Logger,
) *Handler {
	if requestTimeout <= 0 {
		requestTimeout = defaultRequestTimeout
	}

	return &Handler{
		synthesizer:    synthesizer,
		health:         health,
		requestTimeout: requestTimeout,
		log:            log,
	}
}

// Routes returns the request multiplexer.
func (h *Handler) Routes() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc(routeIndex, h.handleIndex)
	mux.HandleFunc(routeTTSGet, h.handleIndex)
	mux.HandleFunc(routeTTSPost, h.handleSynthesize)
	mux.HandleFunc(routeHealth, h.handleHealth)
	mux.Handle(routeMetrics, observability.Handler())

	return mux
}

// NewServer wraps handler in an http.Server listening on addr. The write
// timeout leaves room for a request that waits out its full deadline.
func NewServer(addr string, handler *Handler) *http.Server {
	return &http.Server{
		Addr:              addr,
		Handler:           handler.Routes(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      handler.requestTimeout + 15*time.Second,
		IdleTimeout:       60 * time.Second,
	}
}

func (h *Handler) handleIndex(w http.ResponseWriter, _ *http.Request) {
	writeText(w, http.StatusOK, bodyOK)
}

func (h *Handler) handleSynthesize(w http.ResponseWriter, r *http.Request) {
	started := time.Now()

	req, err := parseForm(r)
	if err == nil {
		// A client that disconnects does not abort a command already queued
		// for the module; only the request deadline does.
		ctx, cancel := context.WithTimeout(context.WithoutCancel(r.Context()), h.requestTimeout)
		err = h.synthesizer.Synthesize(ctx, req)

		cancel()
	}

	outcome, _ := synth.Outcome(err)
	observability.RecordRequest(transportName, outcome, started)

	if err != nil {
		h.log.Error("Failed to synthesize request %s: %v", req.RequestID, err)
		writeText(w, statusFor(outcome), err.Error())

		return
	}

	writeText(w, http.StatusOK, bodyOK)
}

func (h *Handler) handleHealth(w http.ResponseWriter, _ *http.Request) {
	status := HealthStatus{
		Status:    "healthy",
		Service:   serviceName,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	}
	code := http.StatusOK

	err := h.health.Healthy()
	if err != nil {
		status.Status = "unhealthy"
		status.Message = err.Error()
		code = http.StatusServiceUnavailable
	}

	w.Header().Set(contentTypeHeader, contentTypeJSON)
	w.WriteHeader(code)

	encodeErr := json.NewEncoder(w).Encode(status)
	if encodeErr != nil {
		h.log.Warn("Failed to write health response: %v", encodeErr)
	}
}

func parseForm(r *http.Request) (core.SynthesizeRequest, error) {
	req := core.SynthesizeRequest{RequestID: uuid.NewString()}

	err := r.ParseForm()
	if err != nil {
		return req, fmt.Errorf("%w: %w", synth.ErrInvalidRequest, err)
	}

	req.Text = r.PostForm.Get(fieldText)
	req.NotifyTag = r.PostForm.Get(fieldNotify)

	fields := []struct {
		name  string
		value **int
	}{
		{name: fieldVolume, value: &req.Volume},
		{name: fieldSpeed, value: &req.Speed},
		{name: fieldTone, value: &req.Tone},
	}

	for _, field := range fields {
		raw := r.PostForm.Get(field.name)
		if raw == "" {
			continue
		}

		parsed, convErr := strconv.Atoi(raw)
		if convErr != nil {
			return req, fmt.Errorf("%w: %s: %w", synth.ErrInvalidRequest, field.name, convErr)
		}

		*field.value = &parsed
	}

	return req, nil
}

func statusFor(outcome string) int {
	switch outcome {
	case observability.OutcomeInvalid:
		return http.StatusBadRequest
	case observability.OutcomeUnresponsive:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func writeText(w http.ResponseWriter, code int, body string) {
	w.Header().Set(contentTypeHeader, "text/plain; charset=utf-8")
	w.WriteHeader(code)
	_, _ = w.Write([]byte(body))
}
