package billinghttp

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/creatorshop/billing/pkg/billing"
)

// Webhook payloads are small; cap the body so a misbehaving sender can't
// hold a connection open streaming data.
const webhookBodyLimit = 1 << 20

// Handler exposes the billing service over HTTP.
type Handler struct {
	svc      *billing.Service
	gate     *billing.FeatureGate
	verifier *TokenVerifier
	log      *slog.Logger
}

// NewHandler creates the HTTP handler for the billing endpoints.
func NewHandler(svc *billing.Service, gate *billing.FeatureGate, verifier *TokenVerifier, log *slog.Logger) *Handler {
	if log == nil {
		log = slog.Default()
	}
	return &Handler{svc: svc, gate: gate, verifier: verifier, log: log}
}

// Router mounts the billing endpoints.
func (h *Handler) Router() chi.Router {
	r := chi.NewRouter()
	r.Post("/checkout", h.createCheckout)
	r.Post("/webhook", h.handleWebhook)
	r.Get("/status", h.status)
	r.Get("/features/{feature}", h.checkFeature)
	return r
}

type checkoutRequest struct {
	PriceID    string `json:"price_id"`
	SuccessURL string `json:"success_url,omitempty"`
	CancelURL  string `json:"cancel_url,omitempty"`
	UserID     string `json:"user_id,omitempty"`
}

type checkoutResponse struct {
	URL string `json:"url"`
}

// createCheckout authenticates the caller, resolves the price, and returns
// the hosted checkout URL. No retries: on failure the user sees the error
// and may re-initiate.
func (h *Handler) createCheckout(w http.ResponseWriter, r *http.Request) {
	var req checkoutRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	// The user ID may be supplied directly by trusted internal callers;
	// everyone else must present a valid bearer token.
	var userID uuid.UUID
	if req.UserID != "" {
		parsed, err := uuid.Parse(req.UserID)
		if err != nil {
			respondError(w, http.StatusBadRequest, "invalid user ID")
			return
		}
		userID = parsed
	} else {
		authenticated, err := h.verifier.UserID(r)
		if err != nil {
			respondError(w, http.StatusUnauthorized, "authentication required")
			return
		}
		userID = authenticated
	}

	session, err := h.svc.CreateCheckout(r.Context(), userID, req.PriceID, req.SuccessURL, req.CancelURL)
	if err != nil {
		switch {
		case errors.Is(err, billing.ErrMissingPriceID), errors.Is(err, billing.ErrUnknownPriceID):
			respondError(w, http.StatusBadRequest, err.Error())
		case errors.Is(err, billing.ErrProvider):
			// Propagate the provider's message so the user can act on it.
			respondError(w, http.StatusBadRequest, err.Error())
		default:
			h.log.ErrorContext(r.Context(), "checkout failed", "user_id", userID, "error", err)
			respondError(w, http.StatusInternalServerError, "checkout failed")
		}
		return
	}

	respondJSON(w, http.StatusOK, checkoutResponse{URL: session.URL})
}

// handleWebhook ingests a signed provider event. Bad signatures answer 400
// with zero state mutated; transition failures answer 500 so the provider
// redelivers the whole event.
func (h *Handler) handleWebhook(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, webhookBodyLimit)
	payload, err := io.ReadAll(r.Body)
	if err != nil {
		respondError(w, http.StatusBadRequest, "failed to read request body")
		return
	}

	signature := r.Header.Get("Stripe-Signature")
	if signature == "" {
		respondError(w, http.StatusBadRequest, "invalid signature")
		return
	}

	if err := h.svc.HandleWebhook(r.Context(), payload, signature); err != nil {
		if errors.Is(err, billing.ErrInvalidSignature) {
			h.log.WarnContext(r.Context(), "webhook signature rejected")
			respondError(w, http.StatusBadRequest, "invalid signature")
			return
		}
		h.log.ErrorContext(r.Context(), "webhook processing failed", "error", err)
		respondError(w, http.StatusInternalServerError, "webhook processing failed")
		return
	}

	respondJSON(w, http.StatusOK, map[string]bool{"received": true})
}

// status returns the caller's derived billing summary.
func (h *Handler) status(w http.ResponseWriter, r *http.Request) {
	userID, err := h.verifier.UserID(r)
	if err != nil {
		respondError(w, http.StatusUnauthorized, "authentication required")
		return
	}

	summary, err := h.svc.Summary(r.Context(), userID)
	if err != nil {
		h.log.ErrorContext(r.Context(), "status read failed", "user_id", userID, "error", err)
		respondError(w, http.StatusInternalServerError, "failed to load subscription status")
		return
	}

	respondJSON(w, http.StatusOK, summary)
}

// checkFeature answers whether the caller currently holds a feature grant.
// The gate fails closed, so any backend error reads as denied here too.
func (h *Handler) checkFeature(w http.ResponseWriter, r *http.Request) {
	userID, err := h.verifier.UserID(r)
	if err != nil {
		respondError(w, http.StatusUnauthorized, "authentication required")
		return
	}

	feature := billing.Feature(chi.URLParam(r, "feature"))
	granted, err := h.gate.Allowed(r.Context(), userID, feature)
	if err != nil {
		h.log.ErrorContext(r.Context(), "feature check failed",
			"user_id", userID,
			"feature", feature,
			"error", err)
		granted = false
	}

	respondJSON(w, http.StatusOK, map[string]bool{"granted": granted})
}

func respondJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func respondError(w http.ResponseWriter, status int, msg string) {
	respondJSON(w, status, map[string]string{"error": msg})
}
