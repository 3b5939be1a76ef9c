package api

import (
	"net/http"

	"github.com/go-chi/chi/v5/middleware"
	"golang.org/x/crypto/bcrypt"

	"github.com/MJE43/arcade-scoregate/internal/protocol"
)

func (s *Server) handleStart(w http.ResponseWriter, r *http.Request) {
	var req startRequest
	if err := s.decodeJSON(w, r, &req); err != nil {
		s.errorHandler.HandleError(w, r, err)
		return
	}

	ticket, err := s.svc.Start(r.Context(), req.PlayerIdentity)
	if err != nil {
		s.errorHandler.HandleError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, ticket)
}

func (s *Server) handleSubmit(w http.ResponseWriter, r *http.Request) {
	var sub protocol.Submission
	if err := s.decodeJSON(w, r, &sub); err != nil {
		s.errorHandler.HandleError(w, r, err)
		return
	}

	s.securityLogger.LogSubmission(middleware.GetReqID(r.Context()), sub, r.RemoteAddr)

	res, err := s.svc.Submit(r.Context(), sub)
	if err != nil {
		s.errorHandler.HandleError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, res)
}

func (s *Server) handleLeaderboard(w http.ResponseWriter, r *http.Request) {
	standings, err := s.svc.Leaderboard(r.Context(), s.leaderboardLimit)
	if err != nil {
		s.errorHandler.HandleError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, standings)
}

func (s *Server) handleUserScore(w http.ResponseWriter, r *http.Request) {
	best, err := s.svc.HighestScore(r.Context(), r.URL.Query().Get("playerIdentity"))
	if err != nil {
		s.errorHandler.HandleError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, highestScoreResponse{HighestScore: best})
}

func (s *Server) handleSessionCleanup(w http.ResponseWriter, r *http.Request) {
	removed, err := s.svc.Sessions().Cleanup(r.Context())
	if err != nil {
		s.errorHandler.HandleError(w, r, &protocol.StorageError{Op: "cleanup sessions", Err: err})
		return
	}
	s.logger.Printf("sessions_cleaned request_id=%s removed=%d", middleware.GetReqID(r.Context()), removed)
	s.writeJSON(w, http.StatusOK, cleanupResponse{Removed: removed})
}

// requireAdmin checks X-Admin-Token against the configured bcrypt hash.
func (s *Server) requireAdmin(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requestID := middleware.GetReqID(r.Context())
		if len(s.adminTokenHash) == 0 {
			s.errorHandler.HandleStatus(w, r, http.StatusNotFound, ErrTypeAdminDisabled, "Admin endpoints are disabled", "")
			return
		}

		token := r.Header.Get("X-Admin-Token")
		authorized := token != "" && bcrypt.CompareHashAndPassword(s.adminTokenHash, []byte(token)) == nil
		s.securityLogger.LogAdminCall(requestID, r.URL.Path, authorized, r.RemoteAddr)
		if !authorized {
			s.errorHandler.HandleStatus(w, r, http.StatusUnauthorized, ErrTypeUnauthorized, "Invalid admin token", "")
			return
		}
		next.ServeHTTP(w, r)
	})
}
