package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/kayquelen/tiktoktracking/internal/relay"
	"github.com/kayquelen/tiktoktracking/internal/store"
	"github.com/kayquelen/tiktoktracking/internal/stripe"
	"github.com/kayquelen/tiktoktracking/internal/tiktok"
)

// maxBodyBytes bounds inbound webhook and API bodies.
const maxBodyBytes = 1 << 20

// logPageSize is how many delivery outcomes the logs endpoint returns.
const logPageSize = 50

// Prober checks pixel credentials against the upstream API.
type Prober interface {
	TestConnectivity(ctx context.Context, pixelCode, accessToken string) (*tiktok.ProbeResult, error)
}

// Handler holds all HTTP handler dependencies.
type Handler struct {
	pipe   *relay.Pipeline
	st     store.Store
	prober Prober
	mux    *http.ServeMux
}

// New creates an HTTP handler and registers all routes.
func New(pipe *relay.Pipeline, st store.Store, prober Prober) http.Handler {
	h := &Handler{pipe: pipe, st: st, prober: prober, mux: http.NewServeMux()}

	h.mux.HandleFunc("POST /webhook/stripe", h.stripeWebhook)
	h.mux.HandleFunc("POST /webhook/stripe/test", h.stripeWebhookTest)
	h.mux.HandleFunc("GET /api/pixels", h.listPixels)
	h.mux.HandleFunc("POST /api/pixels", h.createPixel)
	h.mux.HandleFunc("PUT /api/pixels/{manager_id}", h.updatePixel)
	h.mux.HandleFunc("GET /api/pixels/{manager_id}/logs", h.pixelLogs)
	h.mux.HandleFunc("POST /api/pixels/{manager_id}/test-connectivity", h.testConnectivity)
	h.mux.HandleFunc("GET /api/stats", h.stats)
	h.mux.HandleFunc("GET /healthz", h.healthz)
	h.mux.HandleFunc("GET /readyz", h.readyz)
	h.mux.Handle("GET /metrics", promhttp.Handler())

	return loggingMiddleware(h.mux)
}

// webhookResponse flattens the pipeline result into the acknowledgment body.
type webhookResponse struct {
	Success bool   `json:"success"`
	Message string `json:"message,omitempty"`
	*relay.Result
}

// POST /webhook/stripe — the full relay pipeline.
func (h *Handler) stripeWebhook(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err != nil {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("read body: %s", err))
		return
	}
	res := h.pipe.Process(r.Context(), body, r.Header.Get(stripe.SignatureHeader))
	writeJSON(w, statusFor(res.Disposition), webhookResponse{
		Success: res.Disposition == relay.Delivered || res.Disposition == relay.Ignored,
		Message: messageFor(res.Disposition),
		Result:  res,
	})
}

// POST /webhook/stripe/test — dry run: no delivery, no log entry.
func (h *Handler) stripeWebhookTest(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err != nil {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("read body: %s", err))
		return
	}
	res := h.pipe.DryRun(r.Context(), body, r.Header.Get(stripe.SignatureHeader))
	writeJSON(w, statusFor(res.Disposition), webhookResponse{
		Success: res.Disposition == relay.Accepted || res.Disposition == relay.Ignored,
		Message: messageFor(res.Disposition),
		Result:  res,
	})
}

func statusFor(d relay.Disposition) int {
	switch d {
	case relay.Delivered, relay.Ignored, relay.Accepted:
		return http.StatusOK
	case relay.InvalidSignature, relay.MalformedPayload, relay.MissingManager:
		return http.StatusBadRequest
	case relay.UnknownManager:
		return http.StatusNotFound
	case relay.DeliveryFailed:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

func messageFor(d relay.Disposition) string {
	switch d {
	case relay.Delivered:
		return "event delivered"
	case relay.Ignored:
		return "event ignored"
	case relay.Accepted:
		return "event accepted (dry run)"
	}
	return ""
}

// createPixelRequest is the registration body.
type createPixelRequest struct {
	ManagerID   string `json:"manager_id"`
	PixelID     string `json:"pixel_id"`
	AccessToken string `json:"access_token"`
	DisplayName string `json:"display_name"`
}

// POST /api/pixels — register a new pixel credential.
func (h *Handler) createPixel(w http.ResponseWriter, r *http.Request) {
	var req createPixelRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid JSON: %s", err))
		return
	}
	if req.ManagerID == "" || req.PixelID == "" || req.AccessToken == "" {
		writeError(w, http.StatusBadRequest, "manager_id, pixel_id and access_token are required")
		return
	}
	if req.DisplayName == "" {
		req.DisplayName = "Pixel " + req.ManagerID
	}

	cred := &store.PixelCredential{
		ManagerID:   req.ManagerID,
		PixelID:     req.PixelID,
		AccessToken: req.AccessToken,
		DisplayName: req.DisplayName,
	}
	if err := h.st.CreateCredential(r.Context(), cred); err != nil {
		switch {
		case errors.Is(err, store.ErrDuplicate):
			writeError(w, http.StatusConflict, "manager id already exists")
		case errors.Is(err, store.ErrUnsupported):
			writeError(w, http.StatusNotImplemented, "credential backend is read-only")
		default:
			writeError(w, http.StatusInternalServerError, err.Error())
		}
		return
	}
	writeJSON(w, http.StatusCreated, map[string]interface{}{
		"success": true,
		"pixel":   cred,
	})
}

// PUT /api/pixels/{manager_id} — rotate credential fields.
func (h *Handler) updatePixel(w http.ResponseWriter, r *http.Request) {
	managerID := r.PathValue("manager_id")

	var req createPixelRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid JSON: %s", err))
		return
	}

	cred, err := h.st.UpdateCredential(r.Context(), managerID, store.CredentialUpdate{
		PixelID:     req.PixelID,
		AccessToken: req.AccessToken,
		DisplayName: req.DisplayName,
	})
	if err != nil {
		switch {
		case errors.Is(err, store.ErrNotFound):
			writeError(w, http.StatusNotFound, "pixel not found for manager "+managerID)
		case errors.Is(err, store.ErrUnsupported):
			writeError(w, http.StatusNotImplemented, "credential backend is read-only")
		default:
			writeError(w, http.StatusInternalServerError, err.Error())
		}
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"success": true,
		"pixel":   cred,
	})
}

// GET /api/pixels — list active credentials.
func (h *Handler) listPixels(w http.ResponseWriter, r *http.Request) {
	creds, err := h.st.ListCredentials(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"success": true,
		"pixels":  creds,
		"total":   len(creds),
	})
}

// GET /api/pixels/{manager_id}/logs — recent delivery outcomes.
func (h *Handler) pixelLogs(w http.ResponseWriter, r *http.Request) {
	managerID := r.PathValue("manager_id")
	cred, err := h.st.Lookup(r.Context(), managerID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			writeError(w, http.StatusNotFound, "pixel not found for manager "+managerID)
			return
		}
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	outcomes, err := h.st.RecentOutcomes(r.Context(), cred.PixelID, logPageSize)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"success": true,
		"logs":    outcomes,
		"total":   len(outcomes),
	})
}

// POST /api/pixels/{manager_id}/test-connectivity — probe the upstream API.
func (h *Handler) testConnectivity(w http.ResponseWriter, r *http.Request) {
	managerID := r.PathValue("manager_id")
	cred, err := h.st.Lookup(r.Context(), managerID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			writeError(w, http.StatusNotFound, "pixel not found for manager "+managerID)
			return
		}
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	probe, err := h.prober.TestConnectivity(r.Context(), cred.PixelID, cred.AccessToken)
	if err != nil {
		writeError(w, http.StatusBadGateway, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"success": true,
		"probe":   probe,
	})
}

// GET /api/stats — aggregate delivery statistics.
func (h *Handler) stats(w http.ResponseWriter, r *http.Request) {
	stats, err := h.st.Stats(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"success": true,
		"stats":   stats,
	})
}

// GET /healthz — always 200 (liveness probe).
func (h *Handler) healthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// GET /readyz — 503 while the credential backend is unreachable.
func (h *Handler) readyz(w http.ResponseWriter, r *http.Request) {
	if err := h.st.Ping(r.Context()); err != nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{
			"status": "unavailable",
			"error":  err.Error(),
		})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}
