package web

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/url"

	"github.com/sloppy/orangesage/internal/finding"
	"github.com/sloppy/orangesage/internal/orchestrator"
)

func (s *Server) jsonResponse(w http.ResponseWriter, data interface{}, status int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if data != nil {
		json.NewEncoder(w).Encode(data)
	}
}

func (s *Server) errorResponse(w http.ResponseWriter, err error, status int) {
	http.Error(w, err.Error(), status)
}

func (s *Server) badRequest(w http.ResponseWriter, err error) {
	s.errorResponse(w, err, http.StatusBadRequest)
}

func (s *Server) serverError(w http.ResponseWriter, err error) {
	s.Logger.Error("request failed", "error", err)
	s.errorResponse(w, err, http.StatusInternalServerError)
}

// statusFor maps orchestration errors onto HTTP status codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, orchestrator.ErrScanNotFound),
		errors.Is(err, orchestrator.ErrProjectNotFound),
		errors.Is(err, orchestrator.ErrTargetNotFound),
		errors.Is(err, orchestrator.ErrFindingNotFound):
		return http.StatusNotFound
	case errors.Is(err, orchestrator.ErrUnauthorized):
		return http.StatusForbidden
	case errors.Is(err, orchestrator.ErrInvalidTransition):
		return http.StatusConflict
	case errors.Is(err, orchestrator.ErrUnsupportedFormat),
		errors.Is(err, orchestrator.ErrInvalidInput),
		errors.Is(err, finding.ErrInvalidStatus),
		errors.Is(err, finding.ErrInvalidSeverity):
		return http.StatusBadRequest
	case errors.Is(err, orchestrator.ErrShuttingDown):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// orchError writes err with the status it maps to.
func (s *Server) orchError(w http.ResponseWriter, err error) {
	status := statusFor(err)
	if status == http.StatusInternalServerError {
		s.serverError(w, err)
		return
	}
	s.errorResponse(w, err, status)
}

// csrfGuard rejects state-changing requests whose Origin is not this host.
// Requests without an Origin header (CLI clients) pass.
func csrfGuard(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.Method {
		case http.MethodGet, http.MethodHead, http.MethodOptions:
			next.ServeHTTP(w, r)
			return
		}
		if origin := r.Header.Get("Origin"); origin != "" {
			u, err := url.Parse(origin)
			if err != nil || u.Host != r.Host {
				http.Error(w, "cross-origin request rejected", http.StatusForbidden)
				return
			}
		}
		next.ServeHTTP(w, r)
	})
}
