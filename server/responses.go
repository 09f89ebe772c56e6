package server

import (
	"encoding/json"
	"net/http"

	"github.com/jrsteele09/go-bff-server/gate"
	bfferrors "github.com/jrsteele09/go-bff-server/internal/errors"
	"github.com/rs/zerolog"
)

const contentTypeJSON = "application/json; charset=utf-8"

type errorPageData struct {
	AppName   string
	Status    int
	Title     string
	Message   string
	Retry     string
	RequestID string
}

// writeError renders err for the caller: a status and a small JSON body for
// API calls, an HTML page for browser navigations.
func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := bfferrors.StatusCode(err)

	event := zerolog.Ctx(r.Context()).Debug()
	if status >= http.StatusInternalServerError {
		event = zerolog.Ctx(r.Context()).Error()
	}
	event.Err(err).Int("status", status).Msg("request failed")

	w.Header().Set("Cache-Control", "no-store")
	if gate.Classify(r, s.config.GetAPIPrefix()) == gate.KindAPI {
		writeJSONError(w, bfferrors.Code(err), http.StatusText(status), status)
		return
	}

	data := errorPageData{
		AppName:   s.config.GetAppName(),
		Status:    status,
		Title:     http.StatusText(status),
		Message:   userMessage(err),
		RequestID: w.Header().Get(headerRequestID),
	}
	if status == http.StatusBadRequest || status == http.StatusUnauthorized || status == http.StatusForbidden {
		data.Retry = RouteLogin
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(status)
	_ = s.pages.errorPage.Execute(w, data)
}

// userMessage never includes the error text, which may carry IdP detail
func userMessage(err error) string {
	switch {
	case bfferrors.Is(err, bfferrors.ErrUpstreamTimeout):
		return "A service took too long to respond. Please try again."
	case bfferrors.Is(err, bfferrors.ErrInvalidState):
		return "This sign-in attempt is no longer valid. Please start again."
	case bfferrors.Is(err, bfferrors.ErrAuthorizationDenied):
		return "Sign-in was cancelled or refused by the identity provider."
	case bfferrors.Is(err, bfferrors.ErrInvalidIDToken), bfferrors.Is(err, bfferrors.ErrTokenExchangeFailed):
		return "Sign-in could not be completed."
	case bfferrors.Is(err, bfferrors.ErrCsrfValidationFailed):
		return "The request could not be verified."
	case bfferrors.Is(err, bfferrors.ErrUpstreamUnavailable):
		return "A service is unavailable. Please try again later."
	case bfferrors.Is(err, bfferrors.ErrNotFound):
		return "The page you requested does not exist."
	case bfferrors.Is(err, bfferrors.ErrSessionNotFound), bfferrors.Is(err, bfferrors.ErrRefreshFailed):
		return "Your session has ended. Please sign in again."
	default:
		return "Something went wrong."
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", contentTypeJSON)
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeJSONError(w http.ResponseWriter, errorCode, description string, statusCode int) {
	writeJSON(w, statusCode, map[string]string{
		"error":             errorCode,
		"error_description": description,
	})
}
