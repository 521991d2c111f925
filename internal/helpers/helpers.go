package helpers

import (
	"net/http"

	"github.com/labstack/echo/v4"
)

func InputError(e echo.Context, custom *string) error {
	msg := "InvalidRequest"
	if custom != nil {
		msg = *custom
	}
	return genericError(e, http.StatusBadRequest, msg)
}

func NotFoundError(e echo.Context, custom *string) error {
	msg := "NotFound"
	if custom != nil {
		msg = *custom
	}
	return genericError(e, http.StatusNotFound, msg)
}

func BadGatewayError(e echo.Context, suffix *string) error {
	msg := "Upstream node error"
	if suffix != nil {
		msg += ". " + *suffix
	}
	return genericError(e, http.StatusBadGateway, msg)
}

func TimeoutError(e echo.Context) error {
	return genericError(e, http.StatusGatewayTimeout, "Resolution timed out")
}

func ServerError(e echo.Context, suffix *string) error {
	msg := "Internal server error"
	if suffix != nil {
		msg += ". " + *suffix
	}
	return genericError(e, http.StatusInternalServerError, msg)
}

func genericError(e echo.Context, code int, msg string) error {
	return e.JSON(code, map[string]string{
		"error": msg,
	})
}
