package response

import (
	"errors"
	"net/http"

	"hsync/entity"
)

// StatusOf maps a domain error to the HTTP status returned to the caller
func StatusOf(err error) int {
	switch {
	case err == nil:
		return http.StatusOK
	case errors.Is(err, entity.ErrInsufficientBalance):
		return http.StatusPaymentRequired
	case errors.Is(err, entity.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, entity.ErrForbidden):
		return http.StatusForbidden
	case errors.Is(err, entity.ErrBatchLimit):
		return http.StatusBadRequest
	case errors.Is(err, entity.ErrOrderNotPending),
		errors.Is(err, entity.ErrDuplicateOrder),
		errors.Is(err, entity.ErrProfileInactive),
		errors.Is(err, entity.ErrResellerInactive):
		return http.StatusConflict
	case errors.Is(err, entity.ErrUnavailable),
		errors.Is(err, entity.ErrCodeExhausted):
		return http.StatusServiceUnavailable
	}
	return http.StatusInternalServerError
}

// Failed is an error answer carrying what was done before the failure,
// like the vouchers of a batch that stopped midway
func Failed(message string, data interface{}) Response {
	r := Error(message)
	r.Data = data
	return r
}
