package api

import (
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/hackgods/practice-feedback/internal/practitioner"
	"github.com/hackgods/practice-feedback/internal/questionnaire"
)

func issueQuestionnaireHandler(svc QuestionnaireService, practitioners PractitionerService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req IssueQuestionnaireRequest
		if !decodeJSON(w, r, &req) {
			return
		}

		id := identity(r)
		p, err := practitioners.Profile(r.Context(), id.UserID)
		if err != nil {
			if errors.Is(err, practitioner.ErrPractitionerNotFound) {
				writeError(w, http.StatusConflict, "onboarding_required", "complete onboarding before sending questionnaires")
				return
			}
			writeError(w, http.StatusInternalServerError, "internal_error", "unexpected error")
			return
		}

		q, err := svc.Issue(r.Context(), id.UserID, p.Name, questionnaire.IssueInput{
			Title:        req.Title,
			Questions:    fromQuestions(req.Questions),
			PathologyRef: req.PathologyRef,
			ReviewURL:    req.ReviewURL,
			PatientEmail: req.PatientEmail,
			SendAt:       req.SendAt,
		})
		if err != nil {
			handleQuestionnaireError(w, err)
			return
		}
		writeJSON(w, http.StatusCreated, toQuestionnaireResponse(q))
	}
}

func listQuestionnairesHandler(svc QuestionnaireService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		limit, offset := pagination(r)
		list, err := svc.List(r.Context(), identity(r).UserID, limit, offset)
		if err != nil {
			handleQuestionnaireError(w, err)
			return
		}

		resp := make([]QuestionnaireResponse, 0, len(list))
		for i := range list {
			resp = append(resp, toQuestionnaireResponse(&list[i]))
		}
		writeJSON(w, http.StatusOK, resp)
	}
}

func questionnaireStatsHandler(svc QuestionnaireService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		stats, err := svc.Stats(r.Context(), identity(r).UserID)
		if err != nil {
			handleQuestionnaireError(w, err)
			return
		}

		counts := make(map[string]int, len(stats.Counts))
		for status, n := range stats.Counts {
			counts[string(status)] = n
		}
		writeJSON(w, http.StatusOK, StatsResponse{Counts: counts, AverageScore: stats.AverageScore})
	}
}

func cancelScheduleHandler(svc QuestionnaireService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := questionnaireID(w, r)
		if !ok {
			return
		}
		if err := svc.CancelScheduled(r.Context(), identity(r).UserID, id); err != nil {
			handleQuestionnaireError(w, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}

func viewResponseHandler(svc QuestionnaireService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := questionnaireID(w, r)
		if !ok {
			return
		}
		resp, err := svc.ViewResponse(identity(r).UserID, id)
		if err != nil {
			handleQuestionnaireError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, ResponseView{
			QuestionnaireID: resp.QuestionnaireID,
			Answers:         resp.Answers,
			SubmittedAt:     resp.SubmittedAt,
			ViewedAt:        resp.ViewedAt,
			ExpiresAt:       resp.ExpiresAt,
		})
	}
}

func getPublicQuestionnaireHandler(svc QuestionnaireService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := questionnaireID(w, r)
		if !ok {
			return
		}
		q, err := svc.Get(r.Context(), id)
		if err != nil {
			handleQuestionnaireError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, PublicQuestionnaireResponse{
			ID:           q.ID,
			Title:        q.Title,
			Questions:    toQuestions(q.Questions),
			PathologyRef: q.PathologyRef,
			ExpiresAt:    q.ExpiresAt,
		})
	}
}

func submitResponseHandler(svc QuestionnaireService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := questionnaireID(w, r)
		if !ok {
			return
		}
		var req SubmitAnswersRequest
		if !decodeJSON(w, r, &req) {
			return
		}

		res, err := svc.Submit(r.Context(), id, req.Answers)
		if err != nil {
			handleQuestionnaireError(w, err)
			return
		}
		writeJSON(w, http.StatusCreated, SubmitAnswersResponse{Average: res.Average, RedirectURL: res.RedirectURL})
	}
}

func questionnaireID(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		// unknown and malformed ids look the same to the caller
		writeError(w, http.StatusNotFound, "questionnaire_not_found", questionnaire.ErrQuestionnaireNotFound.Error())
		return uuid.Nil, false
	}
	return id, true
}

func handleQuestionnaireError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, questionnaire.ErrQuestionnaireNotFound):
		writeError(w, http.StatusNotFound, "questionnaire_not_found", questionnaire.ErrQuestionnaireNotFound.Error())
	case errors.Is(err, questionnaire.ErrResponseNotFound):
		writeError(w, http.StatusNotFound, "response_not_found", err.Error())
	case errors.Is(err, questionnaire.ErrNothingScheduled):
		writeError(w, http.StatusConflict, "nothing_scheduled", err.Error())
	case errors.Is(err, questionnaire.ErrInvalidQuestionnaire):
		writeError(w, http.StatusBadRequest, "invalid_questionnaire", err.Error())
	case errors.Is(err, questionnaire.ErrInvalidAnswers):
		writeError(w, http.StatusBadRequest, "invalid_answers", err.Error())
	case errors.Is(err, questionnaire.ErrEmailFailed):
		writeError(w, http.StatusBadGateway, "email_failed", questionnaire.ErrEmailFailed.Error())
	default:
		writeError(w, http.StatusInternalServerError, "internal_error", "unexpected error")
	}
}
