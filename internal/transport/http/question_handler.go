package http

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"timed-quiz-service/internal/domain"
)

// ListQuestions returns the question bank for the admin view, correct answers included.
func (h *RESTHandler) ListQuestions(w http.ResponseWriter, r *http.Request) {
	questions, err := h.service.ListQuestions(r.Context())
	if err != nil {
		h.log.WithError(err).Error("failed to load questions")
		http.Error(w, "failed to load questions", http.StatusInternalServerError)
		return
	}
	if questions == nil {
		questions = []domain.Question{}
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"questions": questions})
}

func (h *RESTHandler) CreateQuestion(w http.ResponseWriter, r *http.Request) {
	var q domain.Question
	if err := json.NewDecoder(r.Body).Decode(&q); err != nil {
		http.Error(w, "invalid question payload", http.StatusBadRequest)
		return
	}
	created, err := h.service.CreateQuestion(r.Context(), q)
	if err != nil {
		h.questionError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, created)
}

func (h *RESTHandler) UpdateQuestion(w http.ResponseWriter, r *http.Request) {
	var q domain.Question
	if err := json.NewDecoder(r.Body).Decode(&q); err != nil {
		http.Error(w, "invalid question payload", http.StatusBadRequest)
		return
	}
	id := chi.URLParam(r, "questionID")
	if q.ID != "" && q.ID != id {
		http.Error(w, "question id does not match path", http.StatusBadRequest)
		return
	}
	updated, err := h.service.UpdateQuestion(r.Context(), id, q)
	if err != nil {
		h.questionError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, updated)
}

func (h *RESTHandler) DeleteQuestion(w http.ResponseWriter, r *http.Request) {
	if err := h.service.DeleteQuestion(r.Context(), chi.URLParam(r, "questionID")); err != nil {
		h.questionError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *RESTHandler) questionError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, domain.ErrInvalidQuestion):
		http.Error(w, err.Error(), http.StatusBadRequest)
	case errors.Is(err, domain.ErrQuestionNotFound):
		http.Error(w, "question not found", http.StatusNotFound)
	case errors.Is(err, domain.ErrQuestionExists):
		http.Error(w, "question already exists", http.StatusConflict)
	default:
		h.log.WithError(err).Error("question bank write failed")
		http.Error(w, "failed to save question", http.StatusInternalServerError)
	}
}
