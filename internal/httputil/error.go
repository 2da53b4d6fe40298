package httputil

import (
	"context"
	"errors"
	"log/slog"
	"net/http"

	"github.com/AdamBeresnev/bracket-engine/internal/apperror"
	"github.com/AdamBeresnev/bracket-engine/internal/service"
)

type errorBody struct {
	Error string `json:"error"`
	Kind  string `json:"kind,omitempty"`
}

var domainStatus = []struct {
	err    error
	status int
}{
	{service.ErrTournamentNotFound, http.StatusNotFound},
	{service.ErrMatchNotFound, http.StatusNotFound},

	{service.ErrInvalidInput, http.StatusBadRequest},
	{service.ErrUnsupportedCapacity, http.StatusBadRequest},
	{service.ErrInvalidDeadline, http.StatusBadRequest},
	{service.ErrInvalidWinner, http.StatusBadRequest},

	{service.ErrTournamentCancelled, http.StatusConflict},
	{service.ErrTournamentFinished, http.StatusConflict},
	{service.ErrNotInRegistration, http.StatusConflict},
	{service.ErrRegistrationClosed, http.StatusConflict},
	{service.ErrTournamentFull, http.StatusConflict},
	{service.ErrTooFewParticipants, http.StatusConflict},
	{service.ErrBracketNotGenerated, http.StatusConflict},
	{service.ErrMatchNotPending, http.StatusConflict},
	{service.ErrMatchNotReady, http.StatusConflict},
	{service.ErrMatchNotStarted, http.StatusConflict},
	{service.ErrWinnerConflict, http.StatusConflict},
}

// StatusFor picks the response status for an error returned by the services.
func StatusFor(err error) int {
	for _, d := range domainStatus {
		if errors.Is(err, d.err) {
			return d.status
		}
	}

	switch apperror.KindOf(err) {
	case apperror.KindConnectionFailed, apperror.KindPoolExhausted, apperror.KindFallbackFailed:
		return http.StatusServiceUnavailable
	case apperror.KindTimeout:
		return http.StatusGatewayTimeout
	case apperror.KindNotFound:
		return http.StatusNotFound
	case apperror.KindValidation:
		return http.StatusBadRequest
	case apperror.KindPermissionDenied:
		return http.StatusForbidden
	case apperror.KindRateLimited:
		return http.StatusTooManyRequests
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return http.StatusGatewayTimeout
	}
	return http.StatusInternalServerError
}

// Error writes err as a JSON body. Storage failures are shown through their
// catalog message, the driver error only goes to the log.
func Error(w http.ResponseWriter, msg string, err error) {
	status := StatusFor(err)
	body := errorBody{Error: err.Error()}

	var appErr *apperror.Error
	if errors.As(err, &appErr) {
		body.Error = appErr.UserMessage()
		body.Kind = appErr.Kind.String()
	} else if status == http.StatusInternalServerError {
		body.Error = "Internal Server Error"
	}

	if status >= http.StatusInternalServerError {
		slog.Error(msg, "status", status, "error", err)
	} else {
		slog.Warn(msg, "status", status, "error", err)
	}
	WriteJSON(w, status, body)
}

func BadRequest(w http.ResponseWriter, msg string, err error) {
	if err != nil {
		slog.Warn("bad request", "message", msg, "error", err)
	} else {
		slog.Warn("bad request", "message", msg)
	}
	WriteJSON(w, http.StatusBadRequest, errorBody{Error: msg})
}
