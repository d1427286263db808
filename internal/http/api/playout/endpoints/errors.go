package endpoints

import (
	"errors"
	"net/http"

	"github.com/rs/zerolog/log"

	"github.com/Nixie-Tech-LLC/playout/internal/http/api"
	"github.com/Nixie-Tech-LLC/playout/internal/model"
	"github.com/Nixie-Tech-LLC/playout/internal/playout"
	"github.com/Nixie-Tech-LLC/playout/internal/processor"
	"github.com/Nixie-Tech-LLC/playout/internal/shunt"
)

// toAPIError maps service errors onto HTTP status codes.
func toAPIError(err error, what string) *api.Error {
	var ve *playout.ValidationError
	switch {
	case errors.As(err, &ve):
		return &api.Error{Code: http.StatusBadRequest, Message: ve.Error()}
	case errors.Is(err, processor.ErrMissingData):
		return &api.Error{Code: http.StatusBadRequest, Message: err.Error()}
	case errors.Is(err, model.ErrNotFound):
		return &api.Error{Code: http.StatusNotFound, Message: what + " not found"}
	case errors.Is(err, shunt.ErrSchedulingConflict):
		return &api.Error{Code: http.StatusConflict, Message: err.Error()}
	case errors.Is(err, processor.ErrProcessorNotFound), errors.Is(err, processor.ErrTooDeep):
		return &api.Error{Code: http.StatusInternalServerError, Message: err.Error()}
	}
	log.Error().Err(err).Msgf("[api] %s request failed", what)
	return &api.Error{Code: http.StatusInternalServerError, Message: "internal error"}
}

func badRequest(err error) *api.Error {
	return &api.Error{Code: http.StatusBadRequest, Message: err.Error()}
}
