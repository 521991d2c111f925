package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/url"
	"strings"

	"github.com/Azure/go-autorest/autorest/to"
	"github.com/labstack/echo/v4"
	"github.com/lacchain/lac1resolver/identity"
	"github.com/lacchain/lac1resolver/internal/helpers"
	"github.com/lacchain/lac1resolver/lac1"
	"github.com/lacchain/lac1resolver/registry"
)

const DidDocContentType = "application/did+ld+json"

type ComLac1ResolveRequest struct {
	Did  string `param:"did" validate:"required"`
	Mode string `query:"mode" validate:"omitempty,oneof=reference explicit"`
}

func (s *Server) handleResolve(e echo.Context) error {
	var req ComLac1ResolveRequest
	if err := e.Bind(&req); err != nil {
		s.logger.Error("error binding", "error", err)
		return helpers.InputError(e, nil)
	}

	if err := e.Validate(req); err != nil {
		return helpers.InputError(e, to.StringPtr("InvalidMode"))
	}

	did, err := url.PathUnescape(req.Did)
	if err != nil {
		return helpers.InputError(e, to.StringPtr("invalidDid"))
	}

	ctx := e.Request().Context()
	if strings.Contains(e.Request().Header.Get("Cache-Control"), "no-cache") {
		ctx = identity.WithSkipCache(ctx)
	}

	doc, err := s.passport.FetchDoc(ctx, did, identity.Mode(req.Mode))
	if err != nil {
		return s.resolveError(e, did, err)
	}

	b, err := json.Marshal(doc)
	if err != nil {
		s.logger.Error("error marshaling document", "did", did, "error", err)
		return helpers.ServerError(e, nil)
	}

	return e.Blob(200, DidDocContentType, b)
}

// resolveError maps resolution failures onto HTTP responses.
func (s *Server) resolveError(e echo.Context, did string, err error) error {
	switch {
	case errors.Is(err, context.Canceled):
		// the client went away, nobody is left to answer
		s.logger.Debug("resolution abandoned by client", "did", did)
		return nil
	case errors.Is(err, lac1.ErrUnsupportedDIDType):
		return helpers.InputError(e, to.StringPtr("unsupportedDidType"))
	case errors.Is(err, lac1.ErrInvalidDID):
		return helpers.InputError(e, to.StringPtr("invalidDid"))
	case errors.Is(err, identity.ErrNetworkNotConfigured):
		return helpers.NotFoundError(e, to.StringPtr("networkNotConfigured"))
	case errors.Is(err, context.DeadlineExceeded):
		s.logger.Warn("resolution timed out", "did", did)
		return helpers.TimeoutError(e)
	case errors.Is(err, registry.ErrTransport):
		s.logger.Error("error reading registry", "did", did, "error", err)
		return helpers.BadGatewayError(e, nil)
	}

	s.logger.Error("error resolving did", "did", did, "error", err)
	return helpers.ServerError(e, nil)
}
