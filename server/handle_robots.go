package server

import "github.com/labstack/echo/v4"

func (s *Server) handleRobots(e echo.Context) error {
	return e.String(200, "User-agent: *\nDisallow: /1.0/\nDisallow: /admin/")
}

func (s *Server) handleRoot(e echo.Context) error {
	return e.String(200, "This is a did:lac1 resolver. Resolve identifiers at /1.0/identifiers/{did}")
}
