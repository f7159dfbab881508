package server

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/smarttutor-systems/trustcore/internal/alerts"
	"github.com/smarttutor-systems/trustcore/internal/handlers"
	"github.com/smarttutor-systems/trustcore/internal/middleware"
)

// NewRouter wires the HTTP surface. Login, register and validate are
// public; two-factor management requires a session; analytics and
// incident endpoints require a privileged role.
func NewRouter(
	auth *handlers.AuthHandler,
	security *handlers.SecurityHandler,
	hub *alerts.Hub,
	authMW *middleware.AuthMiddleware,
) http.Handler {
	mux := http.NewServeMux()

	// Public authentication endpoints
	mux.HandleFunc("POST /api/v1/auth/register", auth.Register)
	mux.HandleFunc("POST /api/v1/auth/login", auth.Login)
	mux.HandleFunc("POST /api/v1/auth/validate", auth.ValidateToken)

	// Two-factor management (session required)
	mux.HandleFunc("POST /api/v1/auth/2fa/setup", authMW.RequireAuth(auth.Setup2FA))
	mux.HandleFunc("POST /api/v1/auth/2fa/verify", authMW.RequireAuth(auth.Verify2FA))

	// Operator endpoints
	mux.HandleFunc("GET /api/v1/security/report", authMW.RequirePrivileged(security.RiskReport))
	mux.HandleFunc("GET /api/v1/security/stats", authMW.RequirePrivileged(security.Stats))
	mux.HandleFunc("GET /api/v1/security/incidents", authMW.RequirePrivileged(security.Incidents))

	// Live alert stream; the socket authenticates itself in-band.
	mux.HandleFunc("/ws/alerts", hub.ServeWS)

	mux.Handle("GET /metrics", promhttp.Handler())
	mux.HandleFunc("GET /healthz", auth.HealthCheck)

	return middleware.RequestID(mux)
}
