package server

import (
	"github.com/Azure/go-autorest/autorest/to"
	"github.com/labstack/echo/v4"
	"github.com/lacchain/lac1resolver/internal/helpers"
)

type ComLac1AdminBustCacheRequest struct {
	Did string `query:"did" validate:"required,lac1-did"`
}

func (s *Server) handleAdminBustCache(e echo.Context) error {
	var req ComLac1AdminBustCacheRequest
	// Bind only reads the query string of GET requests
	if err := (&echo.DefaultBinder{}).BindQueryParams(e, &req); err != nil {
		s.logger.Error("error binding", "error", err)
		return helpers.InputError(e, nil)
	}

	if err := e.Validate(req); err != nil {
		return helpers.InputError(e, to.StringPtr("invalidDid"))
	}

	if err := s.passport.BustDoc(e.Request().Context(), req.Did); err != nil {
		s.logger.Error("error busting cached document", "did", req.Did, "error", err)
		return helpers.ServerError(e, nil)
	}

	s.logger.Info("busted cached document", "did", req.Did)

	return e.JSON(200, map[string]string{
		"did": req.Did,
	})
}
