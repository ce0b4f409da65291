package types

import (
	"errors"
	"net/http"

	"github.com/DoyleJ11/quiz-competition-backend/internal/chat"
	"github.com/DoyleJ11/quiz-competition-backend/internal/engine"
	"github.com/DoyleJ11/quiz-competition-backend/internal/identity"
	"github.com/DoyleJ11/quiz-competition-backend/internal/session"
)

// ErrBadRequest marks a request body or message that could not be decoded.
var ErrBadRequest = errors.New("bad request")

// Classify maps a domain error to an HTTP status and a stable error code.
// Order matters: ErrRoomNotJoinable wraps ErrNotFound.
func Classify(err error) (int, string) {
	switch {
	case errors.Is(err, engine.ErrRoomNotJoinable):
		return http.StatusNotFound, "room_not_joinable"
	case errors.Is(err, engine.ErrNotFound):
		return http.StatusNotFound, "not_found"
	case errors.Is(err, engine.ErrAlreadyStarted):
		return http.StatusConflict, "already_started"
	case errors.Is(err, engine.ErrNotStarted):
		return http.StatusConflict, "not_started"
	case errors.Is(err, engine.ErrAlreadyRecorded):
		return http.StatusConflict, "already_recorded"
	case errors.Is(err, engine.ErrQuorumNotMet):
		return http.StatusConflict, "quorum_not_met"
	case errors.Is(err, session.ErrRequestPending):
		return http.StatusConflict, "request_pending"
	case errors.Is(err, engine.ErrInsufficientQuestions):
		return http.StatusUnprocessableEntity, "insufficient_questions"
	case errors.Is(err, engine.ErrPermissionDenied):
		return http.StatusForbidden, "permission_denied"
	case errors.Is(err, engine.ErrNotParticipant):
		return http.StatusForbidden, "not_participant"
	case errors.Is(err, engine.ErrTransientStore):
		return http.StatusServiceUnavailable, "transient_store_failure"
	case errors.Is(err, identity.ErrUnauthenticated):
		return http.StatusUnauthorized, "unauthenticated"
	case errors.Is(err, ErrBadRequest),
		errors.Is(err, engine.ErrInvalidParams),
		errors.Is(err, engine.ErrInvalidTeam),
		errors.Is(err, chat.ErrEmptyMessage),
		errors.Is(err, session.ErrInvalidOption),
		errors.Is(err, session.ErrFinished),
		errors.Is(err, session.ErrNotFinished):
		return http.StatusBadRequest, "invalid_request"
	default:
		return http.StatusInternalServerError, "internal"
	}
}

// NewErrorBody classifies err. Internal errors do not leak their text.
func NewErrorBody(err error) (int, ErrorBody) {
	status, code := Classify(err)
	msg := err.Error()
	if status == http.StatusInternalServerError {
		msg = "internal error"
	}
	return status, ErrorBody{Error: code, Message: msg}
}
