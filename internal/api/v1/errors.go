package v1

import (
	"context"
	"errors"
	"net/http"

	"github.com/danielgtaylor/huma/v2"
	"github.com/rs/zerolog/log"

	"github.com/gosuda/boardsync/internal/board"
	"github.com/gosuda/boardsync/internal/domain"
	"github.com/gosuda/boardsync/internal/server/middleware"
)

// ConflictError is the 409 body of a rejected save. Board is the stored
// document the client should adopt before retrying.
type ConflictError struct {
	Title  string        `json:"title"`
	Status int           `json:"status"`
	Detail string        `json:"detail"`
	Board  *domain.Board `json:"board"`
}

func (e *ConflictError) Error() string  { return e.Detail }
func (e *ConflictError) GetStatus() int { return e.Status }

func newConflictError(b *domain.Board) *ConflictError {
	return &ConflictError{
		Title:  http.StatusText(http.StatusConflict),
		Status: http.StatusConflict,
		Detail: "board was modified by another client",
		Board:  b,
	}
}

var invalidInputMessages = []error{
	board.ErrMalformedBody,
	board.ErrEmailRequired,
	board.ErrInvalidAction,
	board.ErrAlreadyOwner,
	board.ErrAlreadyEditor,
}

// toHTTPError maps service errors to Huma errors. Unexpected errors are
// logged and reported without detail.
func toHTTPError(op, boardID string, err error) error {
	var conflict *board.ConflictError
	switch {
	case errors.As(err, &conflict):
		return newConflictError(conflict.Board)
	case errors.Is(err, domain.ErrForbidden):
		return huma.Error403Forbidden("access denied")
	case errors.Is(err, domain.ErrNotFound):
		return huma.Error404NotFound("not found")
	case errors.Is(err, domain.ErrUnauthorized):
		return huma.Error401Unauthorized("not authenticated")
	case errors.Is(err, domain.ErrInvalidInput):
		for _, known := range invalidInputMessages {
			if errors.Is(err, known) {
				return huma.Error400BadRequest(publicMessage(known))
			}
		}
		return huma.Error400BadRequest("invalid request")
	}

	log.Error().Err(err).Str("op", op).Str("board_id", boardID).Msg("api: request failed")
	return huma.Error500InternalServerError("internal server error")
}

// publicMessage strips the sentinel prefix from a known rejection.
func publicMessage(err error) string {
	msg := err.Error()
	prefix := domain.ErrInvalidInput.Error() + ": "
	if len(msg) > len(prefix) && msg[:len(prefix)] == prefix {
		return msg[len(prefix):]
	}
	return msg
}

func identity(ctx context.Context) (domain.Identity, error) {
	id, ok := middleware.IdentityFromContext(ctx)
	if !ok {
		return domain.Identity{}, huma.Error401Unauthorized("not authenticated")
	}
	return id, nil
}
