package api

import (
	"errors"
	"io"
	"net/http"

	"github.com/hackgods/practice-feedback/internal/billing"
	"github.com/hackgods/practice-feedback/internal/practitioner"
)

const maxWebhookBytes = 64 << 10

func checkoutHandler(svc BillingService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req CheckoutRequest
		if !decodeJSON(w, r, &req) {
			return
		}

		url, err := svc.Checkout(r.Context(), identity(r).UserID, req.Tier)
		if err != nil {
			handleBillingError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, RedirectResponse{URL: url})
	}
}

func portalHandler(svc BillingService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		url, err := svc.Portal(r.Context(), identity(r).UserID)
		if err != nil {
			handleBillingError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, RedirectResponse{URL: url})
	}
}

func billingWebhookHandler(svc BillingService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		payload, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxWebhookBytes))
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_request_body", "could not read payload")
			return
		}

		if err := svc.HandleWebhook(r.Context(), payload, r.Header.Get("Stripe-Signature")); err != nil {
			handleBillingError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]bool{"received": true})
	}
}

func handleBillingError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, billing.ErrInvalidSignature):
		writeError(w, http.StatusBadRequest, "invalid_signature", err.Error())
	case errors.Is(err, billing.ErrUnknownTier):
		writeError(w, http.StatusBadRequest, "unknown_tier", err.Error())
	case errors.Is(err, billing.ErrNoCustomer):
		writeError(w, http.StatusConflict, "no_billing_account", err.Error())
	case errors.Is(err, practitioner.ErrPractitionerNotFound):
		writeError(w, http.StatusNotFound, "practitioner_not_found", practitioner.ErrPractitionerNotFound.Error())
	case errors.Is(err, billing.ErrProviderFailure):
		writeError(w, http.StatusBadGateway, "billing_unavailable", billing.ErrProviderFailure.Error())
	default:
		writeError(w, http.StatusInternalServerError, "internal_error", "unexpected error")
	}
}
