package handlers

import (
	"errors"
	"net/http"

	"github.com/thereayou/wizard-rooms/internal/handlers/dto"
	"github.com/thereayou/wizard-rooms/internal/services"
)

// userError переводит ошибку в свободный текст для клиента.
// Внутренние ошибки наружу не уходят.
func userError(err error) string {
	switch {
	case errors.Is(err, services.ErrRoomNotFound):
		return "room not found"
	case errors.Is(err, services.ErrInvalidRoomCode):
		return "invalid room code"
	case errors.Is(err, services.ErrInvalidUserName):
		return "invalid user name"
	case errors.Is(err, services.ErrWrongPassword):
		return "wrong room password"
	case errors.Is(err, services.ErrNotInRoom):
		return "you are not in this room"
	case errors.Is(err, services.ErrNotHost):
		return "only the host can do this"
	case errors.Is(err, services.ErrInvalidPayload):
		return "invalid payload"
	case errors.Is(err, dto.ErrMalformedMessage):
		return "malformed message"
	default:
		return "internal error"
	}
}

func httpStatus(err error) int {
	switch {
	case errors.Is(err, services.ErrRoomNotFound):
		return http.StatusNotFound
	case errors.Is(err, services.ErrNotInRoom), errors.Is(err, services.ErrNotHost), errors.Is(err, services.ErrWrongPassword):
		return http.StatusForbidden
	case errors.Is(err, services.ErrInvalidRoomCode),
		errors.Is(err, services.ErrInvalidUserName),
		errors.Is(err, services.ErrInvalidPayload),
		errors.Is(err, dto.ErrMalformedMessage):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

// isClientError - ошибка вызвана запросом, а не сервером
func isClientError(err error) bool {
	return httpStatus(err) < http.StatusInternalServerError
}
