package handler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	validation "github.com/go-ozzo/ozzo-validation/v4"

	"osmlevels/internal/config"
	"osmlevels/internal/domain"
	"osmlevels/internal/httputil"
	"osmlevels/internal/service/hierarchy"
)

// handleError converts domain errors to HTTP responses
func handleError(w http.ResponseWriter, logger *slog.Logger, err error) {
	switch {
	case errors.Is(err, domain.ErrValidation):
		httputil.RespondError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, domain.ErrNotFound):
		httputil.RespondError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, hierarchy.ErrClosed):
		httputil.RespondError(w, http.StatusGone, "session closed")
	case errors.Is(err, domain.ErrFetchFailure):
		httputil.RespondError(w, http.StatusBadGateway, err.Error())
	case errors.Is(err, context.DeadlineExceeded):
		httputil.RespondError(w, http.StatusGatewayTimeout, "level backend timed out")
	default:
		logger.Error("unhandled error", "error", err)
		httputil.RespondError(w, http.StatusInternalServerError, "internal server error")
	}
}

// validationError marks an ozzo error as a domain validation failure
func validationError(err error) error {
	return fmt.Errorf("%w: %v", domain.ErrValidation, err)
}

// treeIDParam reads and validates the {treeId} path segment
func treeIDParam(r *http.Request) (string, error) {
	treeID := r.PathValue("treeId")
	err := validation.Validate(treeID,
		validation.Required.Error("tree id is required"),
		validation.Length(1, config.MaxTreeIDLength),
	)
	if err != nil {
		return "", validationError(err)
	}
	return treeID, nil
}

// decode parses the body and runs the request's own validation
func decode(w http.ResponseWriter, r *http.Request, dest validation.Validatable) error {
	if err := httputil.ParseJSON(w, r, dest); err != nil {
		return validationError(err)
	}
	if err := dest.Validate(); err != nil {
		return validationError(err)
	}
	return nil
}

func sessionNotFound(kind, id string) error {
	return &domain.NotFoundError{Message: fmt.Sprintf("%s %q not found", kind, id)}
}
