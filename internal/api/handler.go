package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/opensource-finance/cadence/internal/bus"
	"github.com/opensource-finance/cadence/internal/cache"
	"github.com/opensource-finance/cadence/internal/domain"
	"github.com/opensource-finance/cadence/internal/verifier"
)

const maxBodyBytes = 64 << 10

// Handler holds dependencies for API handlers.
type Handler struct {
	service *verifier.Service
	store   domain.SampleStore
	cache   domain.Cache
	bus     domain.EventBus
	tracker Tracker
	version string
}

// NewHandler creates a new API handler.
func NewHandler(deps Deps, version string) *Handler {
	return &Handler{
		service: deps.Service,
		store:   deps.Store,
		cache:   deps.Cache,
		bus:     deps.Bus,
		tracker: deps.Tracker,
		version: version,
	}
}

// SampleRequest is the body of the account sample endpoints.
type SampleRequest struct {
	Keystroke string `json:"keystroke"`
}

// FormRequest is the body sent by the browser capture page.
type FormRequest struct {
	Email     string `json:"email"`
	Keystroke string `json:"keystroke"`
}

// DecisionResponse is returned by submit and verify.
type DecisionResponse struct {
	Msg            string         `json:"msg"`
	Acc            float64        `json:"acc"`
	VerificationID string         `json:"verificationId"`
	Outcome        domain.Outcome `json:"outcome"`
	Threshold      float64        `json:"threshold"`
	Distance       float64        `json:"observedDistance"`
	HistorySize    int            `json:"historySize"`
	TraceID        string         `json:"traceId,omitempty"`
}

// ProfileResponse describes an account profile.
type ProfileResponse struct {
	AccountID   string                    `json:"accountId"`
	Samples     int                       `json:"samples"`
	Keystrokes  int                       `json:"keystrokes"`
	Threshold   float64                   `json:"threshold"`
	Centroid    map[string][]float64      `json:"centroid,omitempty"`
	Dispersion  map[string][]float64      `json:"dispersion,omitempty"`
	Fingerprint *domain.DeviceFingerprint `json:"fingerprint,omitempty"`
}

// Submit handles POST /accounts/{id}/samples. With ?async=true the sample is
// queued for the worker and 202 is returned.
func (h *Handler) Submit(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	tenantID := GetTenantID(ctx)
	accountID := chi.URLParam(r, "id")

	var req SampleRequest
	if !decodeBody(w, r, &req) {
		return
	}

	if async, _ := strconv.ParseBool(r.URL.Query().Get("async")); async {
		h.enqueue(w, r, tenantID, accountID, req.Keystroke)
		return
	}

	res, err := h.service.Submit(ctx, tenantID, accountID, req.Keystroke)
	if err != nil {
		writeServiceError(w, "submit", err)
		return
	}
	writeJSON(w, http.StatusOK, decisionResponse(res, GetTraceID(ctx)))
}

func (h *Handler) enqueue(w http.ResponseWriter, r *http.Request, tenantID, accountID, raw string) {
	if h.bus == nil {
		writeError(w, http.StatusServiceUnavailable, "asynchronous processing is disabled")
		return
	}
	if accountID == "" || raw == "" {
		writeError(w, http.StatusBadRequest, "account id and keystroke are required")
		return
	}
	if h.tracker != nil {
		if err := h.tracker.Track(tenantID); err != nil {
			slog.Error("failed to track tenant", "tenant_id", tenantID, "error", err)
			writeError(w, http.StatusServiceUnavailable, "worker unavailable")
			return
		}
	}

	traceID := GetTraceID(r.Context())
	msg := domain.SampleMessage{AccountID: accountID, Keystroke: raw, TraceID: traceID}
	if err := bus.PublishJSON(r.Context(), h.bus, tenantID, domain.TopicSampleSubmitted, msg); err != nil {
		slog.Error("failed to queue sample", "account_id", accountID, "error", err)
		writeError(w, http.StatusServiceUnavailable, "failed to queue sample")
		return
	}

	writeJSON(w, http.StatusAccepted, map[string]string{
		"status":  "queued",
		"traceId": traceID,
	})
}

// Authenticate handles POST /accounts/{id}/verify.
func (h *Handler) Authenticate(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req SampleRequest
	if !decodeBody(w, r, &req) {
		return
	}

	res, err := h.service.Authenticate(ctx, GetTenantID(ctx), chi.URLParam(r, "id"), req.Keystroke)
	if err != nil {
		writeServiceError(w, "verify", err)
		return
	}
	writeJSON(w, http.StatusOK, decisionResponse(res, GetTraceID(ctx)))
}

// Enroll handles POST /accounts/{id}/enroll. The sample is stored without
// being scored.
func (h *Handler) Enroll(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req SampleRequest
	if !decodeBody(w, r, &req) {
		return
	}

	if err := h.service.Enroll(ctx, GetTenantID(ctx), chi.URLParam(r, "id"), req.Keystroke); err != nil {
		writeServiceError(w, "enroll", err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]string{"status": "enrolled"})
}

// ResetHistory handles DELETE /accounts/{id}/samples.
func (h *Handler) ResetHistory(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	n, err := h.service.Reset(ctx, GetTenantID(ctx), chi.URLParam(r, "id"))
	if err != nil {
		writeServiceError(w, "reset", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]int64{"deleted": n})
}

// GetProfile handles GET /accounts/{id}/profile.
func (h *Handler) GetProfile(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	accountID := chi.URLParam(r, "id")

	p, err := h.service.Verifier().BuildProfile(ctx, GetTenantID(ctx), accountID)
	if err != nil {
		writeServiceError(w, "profile", err)
		return
	}

	resp := ProfileResponse{
		AccountID:  accountID,
		Samples:    p.Samples,
		Keystrokes: p.Keystrokes,
		Threshold:  p.Threshold,
	}
	if !p.Empty() {
		resp.Centroid = make(map[string][]float64, domain.NumChannels)
		resp.Dispersion = make(map[string][]float64, domain.NumChannels)
		for _, c := range domain.Channels {
			resp.Centroid[c.String()] = p.Centroid[c]
			resp.Dispersion[c.String()] = p.Dispersion[c]
		}
		fp := p.Fingerprint
		resp.Fingerprint = &fp
	}
	writeJSON(w, http.StatusOK, resp)
}

// GetVerification handles GET /verifications/{id}.
func (h *Handler) GetVerification(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	id := chi.URLParam(r, "id")

	v, err := h.service.Verification(ctx, GetTenantID(ctx), id)
	if err != nil {
		writeServiceError(w, "get verification", err)
		return
	}
	writeJSON(w, http.StatusOK, v)
}

// GetPolicy handles GET /policy.
func (h *Handler) GetPolicy(w http.ResponseWriter, r *http.Request) {
	cfg := h.service.Policy().Config()
	writeJSON(w, http.StatusOK, map[string]string{
		"verify": cfg.Verify,
		"accept": cfg.Accept,
		"adapt":  cfg.Adapt,
	})
}

// UpdatePolicy handles PUT /policy. Omitted expressions revert to defaults.
// An invalid expression leaves the active policy unchanged.
func (h *Handler) UpdatePolicy(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Verify string `json:"verify"`
		Accept string `json:"accept"`
		Adapt  string `json:"adapt"`
	}
	if !decodeBody(w, r, &req) {
		return
	}

	err := h.service.Policy().Reload(domain.PolicyConfig{
		Verify: req.Verify,
		Accept: req.Accept,
		Adapt:  req.Adapt,
	})
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	slog.Info("policy reloaded", "tenant_id", GetTenantID(r.Context()))
	h.GetPolicy(w, r)
}

// AddData handles POST /addData from the capture page: {"msg": "Added"|"Inconsistent"}.
func (h *Handler) AddData(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req FormRequest
	if !decodeBody(w, r, &req) {
		return
	}

	res, err := h.service.Submit(ctx, GetTenantID(ctx), req.Email, req.Keystroke)
	if err != nil {
		writeServiceError(w, "addData", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"msg": res.Decision})
}

// Predict handles POST /predict from the capture page: {"msg", "acc"}.
func (h *Handler) Predict(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req FormRequest
	if !decodeBody(w, r, &req) {
		return
	}

	res, err := h.service.Authenticate(ctx, GetTenantID(ctx), req.Email, req.Keystroke)
	if err != nil {
		writeServiceError(w, "predict", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"msg": res.Decision,
		"acc": res.Confidence,
	})
}

// Health reports component health; it always answers 200.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	status := "healthy"
	components := map[string]string{}

	check := func(name string, ping func() error) {
		if err := ping(); err != nil {
			components[name] = err.Error()
			status = "degraded"
			return
		}
		components[name] = "ok"
	}

	if h.store != nil {
		check("store", func() error { return h.store.Ping(ctx) })
	}
	if h.cache != nil {
		check("cache", func() error { return h.cache.Ping(ctx) })
	}
	if h.bus != nil {
		check("bus", func() error { return h.bus.Ping(ctx) })
	}

	resp := map[string]any{
		"status":     status,
		"version":    h.version,
		"components": components,
	}
	if s, ok := h.cache.(interface{ Stats() cache.Stats }); ok {
		resp["cache"] = s.Stats()
	}
	writeJSON(w, http.StatusOK, resp)
}

// Ready answers 503 until the sample store is reachable.
func (h *Handler) Ready(w http.ResponseWriter, r *http.Request) {
	if h.store == nil || h.store.Ping(r.Context()) != nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"ready": "false"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"ready": "true"})
}

func decisionResponse(res *domain.Verification, traceID string) DecisionResponse {
	if res.TraceID != "" {
		traceID = res.TraceID
	}
	return DecisionResponse{
		Msg:            res.Decision,
		Acc:            res.Confidence,
		VerificationID: res.ID,
		Outcome:        res.Outcome,
		Threshold:      res.Threshold,
		Distance:       res.ObservedDistance,
		HistorySize:    res.HistorySize,
		TraceID:        traceID,
	}
}

func decodeBody(w http.ResponseWriter, r *http.Request, v any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON request body")
		return false
	}
	return true
}

// writeServiceError maps the error taxonomy onto HTTP status codes.
func writeServiceError(w http.ResponseWriter, op string, err error) {
	switch {
	case errors.Is(err, domain.ErrParse), errors.Is(err, domain.ErrInvalidInput):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, domain.ErrProfileInconsistency):
		writeError(w, http.StatusUnprocessableEntity, err.Error())
	case errors.Is(err, domain.ErrNotFound):
		writeError(w, http.StatusNotFound, "not found")
	case errors.Is(err, domain.ErrStore):
		slog.Error(op+" failed", "error", err)
		writeError(w, http.StatusServiceUnavailable, "store unavailable")
	default:
		slog.Error(op+" failed", "error", err)
		writeError(w, http.StatusInternalServerError, "internal server error")
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}
