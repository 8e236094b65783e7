package api

import (
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/hackgods/practice-feedback/internal/consultation"
)

func createNoteHandler(svc NoteService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req CreateNoteRequest
		if !decodeJSON(w, r, &req) {
			return
		}

		n, err := svc.Create(identity(r).UserID, req.PatientRef, req.Text)
		if err != nil {
			handleNoteError(w, err)
			return
		}
		writeJSON(w, http.StatusCreated, toNoteResponse(n))
	}
}

func getNoteHandler(svc NoteService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		n, err := svc.Get(identity(r).UserID, chi.URLParam(r, "id"))
		if err != nil {
			handleNoteError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, toNoteResponse(n))
	}
}

func deleteNoteHandler(svc NoteService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := svc.Delete(identity(r).UserID, chi.URLParam(r, "id")); err != nil {
			handleNoteError(w, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}

func handleNoteError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, consultation.ErrNoteNotFound):
		writeError(w, http.StatusNotFound, "note_not_found", err.Error())
	case errors.Is(err, consultation.ErrInvalidNote):
		writeError(w, http.StatusBadRequest, "invalid_note", err.Error())
	case errors.Is(err, consultation.ErrNoteTooLong):
		writeError(w, http.StatusRequestEntityTooLarge, "note_too_long", err.Error())
	default:
		writeError(w, http.StatusInternalServerError, "internal_error", "unexpected error")
	}
}
