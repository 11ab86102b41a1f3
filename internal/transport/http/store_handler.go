package http

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"classquiz/internal/app"
	"classquiz/internal/domain"
	"github.com/julienschmidt/httprouter"
	"github.com/rs/zerolog"
)

// StoreHandler exposes an app.SessionStore over HTTP so host and player consoles on
// different machines share one session record.
type StoreHandler struct {
	store     app.SessionStore
	questions app.QuestionWriter
	logger    zerolog.Logger
}

// NewStoreHandler wires the store API. questions may be nil, which disables authoring.
func NewStoreHandler(store app.SessionStore, questions app.QuestionWriter, logger zerolog.Logger) *StoreHandler {
	return &StoreHandler{store: store, questions: questions, logger: logger}
}

type envelope[T any] struct {
	Success bool   `json:"success"`
	Data    T      `json:"data,omitempty"`
	Error   string `json:"error,omitempty"`
	Code    string `json:"code,omitempty"`
}

type joinRequest struct {
	Name      string `json:"name"`
	SessionID string `json:"sessionId"`
}

// Routes returns the router serving the store API.
func (h *StoreHandler) Routes() http.Handler {
	mux := httprouter.New()
	mux.GET("/healthz", func(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
		w.Write([]byte("ok"))
	})
	mux.GET("/api/state", h.getState)
	mux.PUT("/api/state", h.setState)
	mux.POST("/api/session/reset", h.reset)
	mux.GET("/api/roster", h.getRoster)
	mux.POST("/api/roster", h.join)
	mux.GET("/api/questions", h.getQuestions)
	mux.POST("/api/questions", h.saveQuestion)
	mux.GET("/api/answers/:question", h.getAnswers)
	mux.POST("/api/answers", h.submit)

	mux.PanicHandler = func(w http.ResponseWriter, r *http.Request, i any) {
		h.logger.Error().Interface("panic", i).Str("path", r.URL.Path).Msg("handler panicked")
		writeJSON(w, http.StatusInternalServerError, envelope[any]{Error: "internal error", Code: "internal"})
	}
	return h.logRequests(mux)
}

func (h *StoreHandler) getState(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	rec, err := h.store.GetGameState(r.Context())
	respond(w, rec, err)
}

func (h *StoreHandler) setState(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	var rec domain.GameStateRecord
	if !decode(w, r, &rec) {
		return
	}
	stored, err := h.store.SetGameState(r.Context(), rec)
	respond(w, stored, err)
}

func (h *StoreHandler) reset(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	err := h.store.ResetSession(r.Context())
	respond(w, struct{}{}, err)
}

func (h *StoreHandler) getRoster(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	roster, err := h.store.GetRoster(r.Context(), r.URL.Query().Get("sessionId"))
	respond(w, roster, err)
}

func (h *StoreHandler) join(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	var req joinRequest
	if !decode(w, r, &req) {
		return
	}
	p, err := h.store.AddParticipant(r.Context(), req.Name, req.SessionID)
	respond(w, p, err)
}

func (h *StoreHandler) getQuestions(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	qs, err := h.store.GetQuestions(r.Context())
	respond(w, qs, err)
}

func (h *StoreHandler) saveQuestion(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	if h.questions == nil {
		respond(w, domain.Question{}, domain.ErrQuestionsLocked)
		return
	}
	var q domain.Question
	if !decode(w, r, &q) {
		return
	}
	state, err := h.store.GetGameState(r.Context())
	if err != nil {
		respond(w, domain.Question{}, err)
		return
	}
	// Questions are frozen once a session leaves the lobby.
	if !state.Empty() && state.Phase != domain.PhaseWaiting && state.Phase != domain.PhaseLobby {
		respond(w, domain.Question{}, fmt.Errorf("edit in %s: %w", state.Phase, domain.ErrQuestionsLocked))
		return
	}
	saved, err := h.questions.SaveQuestion(r.Context(), q)
	respond(w, saved, err)
}

func (h *StoreHandler) getAnswers(w http.ResponseWriter, r *http.Request, p httprouter.Params) {
	answers, err := h.store.GetAnswers(r.Context(), p.ByName("question"), r.URL.Query().Get("sessionId"))
	respond(w, answers, err)
}

func (h *StoreHandler) submit(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	var sub domain.AnswerSubmission
	if !decode(w, r, &sub) {
		return
	}
	res, err := h.store.SubmitAnswer(r.Context(), sub)
	if errors.Is(err, domain.ErrPartialSubmit) {
		h.logger.Error().Err(err).
			Str("participant_id", sub.ParticipantID).
			Str("question_id", sub.QuestionID).
			Msg("answer stored without score update")
	}
	respond(w, res, err)
}

func (h *StoreHandler) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)
		h.logger.Debug().
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", rec.status).
			Dur("took", time.Since(start)).
			Msg("request served")
	})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

func decode(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		writeJSON(w, http.StatusBadRequest, envelope[any]{Error: "invalid request body", Code: "bad_request"})
		return false
	}
	return true
}

// respond writes data, or the error mapped to its status and code. A partial submit still
// carries the stored result.
func respond[T any](w http.ResponseWriter, data T, err error) {
	if err == nil {
		writeJSON(w, http.StatusOK, envelope[T]{Success: true, Data: data})
		return
	}
	status, code := ErrorCode(err)
	env := envelope[T]{Error: err.Error(), Code: code}
	if errors.Is(err, domain.ErrPartialSubmit) {
		env.Data = data
	}
	writeJSON(w, status, env)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
