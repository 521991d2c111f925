package server

import (
	"errors"

	"github.com/Azure/go-autorest/autorest/to"
	"github.com/ethereum/go-ethereum/common"
	"github.com/labstack/echo/v4"
	"github.com/lacchain/lac1resolver/identity"
	"github.com/lacchain/lac1resolver/internal/helpers"
	"github.com/lacchain/lac1resolver/lac1"
)

type ComLac1EncodeRequest struct {
	Address  string `query:"address" validate:"required,eth-address"`
	Registry string `query:"registry" validate:"required,eth-address"`
	ChainID  string `query:"chainId" validate:"required,hex-chain-id"`
	Version  uint16 `query:"version"`
}

type ComLac1EncodeResponse struct {
	Did string `json:"did"`
}

func (s *Server) handleEncode(e echo.Context) error {
	var req ComLac1EncodeRequest
	if err := e.Bind(&req); err != nil {
		s.logger.Error("error binding", "error", err)
		return helpers.InputError(e, nil)
	}

	if err := e.Validate(req); err != nil {
		var verr ValidationError
		if errors.As(err, &verr) {
			return helpers.InputError(e, to.StringPtr("Invalid"+verr.Field))
		}
		return helpers.InputError(e, nil)
	}

	did, err := lac1.Encode(lac1.TypeCode, req.ChainID, common.HexToAddress(req.Address), common.HexToAddress(req.Registry), req.Version)
	if err != nil {
		return helpers.InputError(e, to.StringPtr("InvalidChainID"))
	}

	return e.JSON(200, ComLac1EncodeResponse{Did: did})
}

type ComLac1DecodeRequest struct {
	Did string `query:"did" validate:"required"`
}

func (s *Server) handleDecode(e echo.Context) error {
	var req ComLac1DecodeRequest
	if err := e.Bind(&req); err != nil {
		s.logger.Error("error binding", "error", err)
		return helpers.InputError(e, nil)
	}

	if err := e.Validate(req); err != nil {
		return helpers.InputError(e, to.StringPtr("invalidDid"))
	}

	id, err := identity.ParseDID(req.Did)
	if err != nil {
		return s.resolveError(e, req.Did, err)
	}

	return e.JSON(200, id)
}
