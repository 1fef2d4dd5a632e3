package api

import (
	"crypto/subtle"
	"net/http"

	echo "github.com/labstack/echo/v5"

	"github.com/helmsman-ai/helmsman/pkg/apperr"
)

// LoginRequest is the body of POST /auth/login.
type LoginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

// LoginResponse reports the authenticated role. No tokens are issued; the
// deployment fronts the server with a proxy for anything stronger.
type LoginResponse struct {
	Success  bool   `json:"success"`
	Role     string `json:"role"`
	Username string `json:"username"`
}

// loginHandler checks credentials against the environment-provided pairs.
// With no admin credentials configured the server is guest-only: admin
// logins fail closed.
func (s *Server) loginHandler(c *echo.Context) error {
	var req LoginRequest
	if err := c.Bind(&req); err != nil {
		return badRequest(c, "invalid request body")
	}
	if req.Username == "" || req.Password == "" {
		return badRequest(c, "username and password are required")
	}

	auth := s.cfg.Auth
	if match(req, auth.AdminUser, auth.AdminPassword) {
		return c.JSON(http.StatusOK, &LoginResponse{Success: true, Role: "admin", Username: req.Username})
	}
	if match(req, auth.GuestUser, auth.GuestPassword) {
		return c.JSON(http.StatusOK, &LoginResponse{Success: true, Role: "guest", Username: req.Username})
	}
	return fail(c, apperr.New(apperr.CodeAuthFailed, "invalid credentials"))
}

// match compares in constant time. Unset credential pairs never match.
func match(req LoginRequest, user, password string) bool {
	if user == "" || password == "" {
		return false
	}
	userOK := subtle.ConstantTimeCompare([]byte(req.Username), []byte(user)) == 1
	passOK := subtle.ConstantTimeCompare([]byte(req.Password), []byte(password)) == 1
	return userOK && passOK
}
