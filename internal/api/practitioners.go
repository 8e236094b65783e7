package api

import (
	"errors"
	"net/http"

	"github.com/hackgods/practice-feedback/internal/practitioner"
)

func getProfileHandler(svc PractitionerService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		p, err := svc.Profile(r.Context(), identity(r).UserID)
		if err != nil {
			handlePractitionerError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, toPractitionerResponse(p))
	}
}

func onboardHandler(svc PractitionerService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req OnboardRequest
		if !decodeJSON(w, r, &req) {
			return
		}

		id := identity(r)
		p, err := svc.Onboard(r.Context(), id.UserID, id.Email, practitioner.OnboardInput{
			Name:      req.Name,
			Specialty: req.Specialty,
		})
		if err != nil {
			handlePractitionerError(w, err)
			return
		}
		writeJSON(w, http.StatusCreated, toPractitionerResponse(p))
	}
}

func updateProfileHandler(svc PractitionerService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req UpdateProfileRequest
		if !decodeJSON(w, r, &req) {
			return
		}

		p, err := svc.UpdateProfile(r.Context(), identity(r).UserID, practitioner.ProfileInput{
			Name:      req.Name,
			Specialty: req.Specialty,
			Address:   req.Address,
			Postcode:  req.Postcode,
		})
		if err != nil {
			handlePractitionerError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, toPractitionerResponse(p))
	}
}

func referHandler(svc PractitionerService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req ReferralRequest
		if !decodeJSON(w, r, &req) {
			return
		}

		ref, err := svc.Refer(r.Context(), identity(r).UserID, req.Email)
		if err != nil {
			handlePractitionerError(w, err)
			return
		}
		writeJSON(w, http.StatusCreated, ReferralResponse{ID: ref.ID, Email: ref.Email, CreatedAt: ref.CreatedAt})
	}
}

func listReferralsHandler(svc PractitionerService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		refs, err := svc.Referrals(r.Context(), identity(r).UserID)
		if err != nil {
			handlePractitionerError(w, err)
			return
		}

		resp := make([]ReferralResponse, 0, len(refs))
		for _, ref := range refs {
			resp = append(resp, ReferralResponse{ID: ref.ID, Email: ref.Email, CreatedAt: ref.CreatedAt})
		}
		writeJSON(w, http.StatusOK, resp)
	}
}

func listPractitionersHandler(svc PractitionerService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		limit, offset := pagination(r)
		list, err := svc.ListAll(r.Context(), limit, offset)
		if err != nil {
			handlePractitionerError(w, err)
			return
		}

		resp := make([]PractitionerResponse, 0, len(list))
		for i := range list {
			resp = append(resp, toPractitionerResponse(&list[i]))
		}
		writeJSON(w, http.StatusOK, resp)
	}
}

func handlePractitionerError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, practitioner.ErrPractitionerNotFound):
		writeError(w, http.StatusNotFound, "practitioner_not_found", practitioner.ErrPractitionerNotFound.Error())
	case errors.Is(err, practitioner.ErrAlreadyOnboarded):
		writeError(w, http.StatusConflict, "already_onboarded", err.Error())
	case errors.Is(err, practitioner.ErrInvalidProfile):
		writeError(w, http.StatusBadRequest, "invalid_profile", err.Error())
	case errors.Is(err, practitioner.ErrAddressNotFound):
		writeError(w, http.StatusUnprocessableEntity, "address_not_found", err.Error())
	case errors.Is(err, practitioner.ErrInvalidReferral):
		writeError(w, http.StatusBadRequest, "invalid_referral", err.Error())
	case errors.Is(err, practitioner.ErrGeocoderUnavailable):
		writeError(w, http.StatusBadGateway, "geocoder_unavailable", practitioner.ErrGeocoderUnavailable.Error())
	case errors.Is(err, practitioner.ErrEmailFailed):
		writeError(w, http.StatusBadGateway, "email_failed", practitioner.ErrEmailFailed.Error())
	default:
		writeError(w, http.StatusInternalServerError, "internal_error", "unexpected error")
	}
}
