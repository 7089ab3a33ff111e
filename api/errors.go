package api

import (
	"errors"
	"net/http"

	"github.com/labstack/echo/v4"
	log "github.com/sirupsen/logrus"

	"taskboard-api/domain"
)

type messageResponse struct {
	Message string `json:"message"`
}

type validationResponse struct {
	Errors []domain.FieldError `json:"errors"`
}

// respondError maps a service error to its HTTP response. NotFound never
// reveals whether the resource exists for someone else, and store failures
// never leak their cause.
func respondError(c echo.Context, err error) error {
	metrics := metricsFrom(c)

	var verr *domain.ValidationError
	switch {
	case errors.As(err, &verr):
		metrics.Fail("validation", err)
		return c.JSON(http.StatusBadRequest, validationResponse{Errors: verr.Fields})
	case errors.Is(err, domain.ErrBoardNotFound):
		metrics.Fail("not_found", err)
		return c.JSON(http.StatusNotFound, messageResponse{Message: "Board not found"})
	case errors.Is(err, domain.ErrTodoNotFound):
		metrics.Fail("not_found", err)
		return c.JSON(http.StatusNotFound, messageResponse{Message: "Todo not found"})
	case errors.Is(err, domain.ErrNotFound):
		metrics.Fail("not_found", err)
		return c.JSON(http.StatusNotFound, messageResponse{Message: "Not found"})
	default:
		metrics.Fail("storage", err)
		log.WithError(err).WithFields(log.Fields{
			"method": c.Request().Method,
			"route":  c.Path(),
			"user":   userID(c),
		}).Error("request failed")
		return c.JSON(http.StatusInternalServerError, messageResponse{Message: "Server error"})
	}
}
