package server

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/appforge/appforge/pkg/domain"
)

// sessionView is the REST representation of a session: the persisted record
// plus live loop state when the session is running.
type sessionView struct {
	domain.SessionRecord
	Status     domain.Status `json:"status"`
	WorkingDir string        `json:"working_dir"`
	PreviewURL string        `json:"preview_url,omitempty"`
}

func (s *Server) viewOf(rec domain.SessionRecord) sessionView {
	view := sessionView{SessionRecord: rec, Status: domain.StatusIdle, WorkingDir: rec.WorkingDir}
	if sess, err := s.registry.Get(rec.ID); err == nil {
		view.Status = sess.Status()
		view.WorkingDir = sess.WorkingDir()
		view.PreviewURL = sess.PreviewURL()
	}
	return view
}

// --- Sessions ---

func (s *Server) handleListSessions(w http.ResponseWriter, r *http.Request) {
	recs, err := s.sessions.ListSessions(r.Context())
	if err != nil {
		s.errorResponse(w, http.StatusInternalServerError, err)
		return
	}
	views := make([]sessionView, 0, len(recs))
	for _, rec := range recs {
		views = append(views, s.viewOf(rec))
	}
	s.jsonResponse(w, http.StatusOK, views)
}

func (s *Server) handleCreateSession(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Name  string `json:"name"`
		Model string `json:"model"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.errorResponse(w, http.StatusBadRequest, err)
		return
	}

	sess, err := s.registry.Create(r.Context(), req.Name, req.Model)
	if err != nil {
		status := http.StatusInternalServerError
		if errors.Is(err, ErrMaxSessions) {
			status = http.StatusTooManyRequests
		}
		s.errorResponse(w, status, err)
		return
	}

	rec, err := s.sessions.GetSession(r.Context(), sess.ID())
	if err != nil {
		s.errorResponse(w, http.StatusInternalServerError, err)
		return
	}
	s.jsonResponse(w, http.StatusCreated, s.viewOf(*rec))
}

func (s *Server) handleGetSession(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	rec, err := s.sessions.GetSession(r.Context(), id)
	if err != nil {
		s.errorResponse(w, http.StatusNotFound, err)
		return
	}
	s.jsonResponse(w, http.StatusOK, s.viewOf(*rec))
}

func (s *Server) handleDeleteSession(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if err := s.registry.Remove(id); err != nil && !errors.Is(err, ErrSessionNotFound) {
		s.errorResponse(w, http.StatusInternalServerError, err)
		return
	}
	if err := s.sessions.DeleteSession(r.Context(), id); err != nil {
		s.errorResponse(w, http.StatusInternalServerError, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// --- Transcript ---

func (s *Server) handleGetMessages(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	msgs, err := s.messages.GetMessages(r.Context(), id, 0)
	if err != nil {
		s.errorResponse(w, http.StatusInternalServerError, err)
		return
	}
	if msgs == nil {
		msgs = []domain.Message{}
	}
	s.jsonResponse(w, http.StatusOK, msgs)
}

// --- Models ---

func (s *Server) handleListModels(w http.ResponseWriter, r *http.Request) {
	models, err := s.provider.List(r.Context())
	if err != nil {
		s.errorResponse(w, http.StatusInternalServerError, err)
		return
	}
	s.jsonResponse(w, http.StatusOK, models)
}

// --- Health ---

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.jsonResponse(w, http.StatusOK, map[string]string{"status": "ok"})
}
