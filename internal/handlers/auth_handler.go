package handlers

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/smarttutor-systems/trustcore/internal/credentials"
	"github.com/smarttutor-systems/trustcore/internal/httputil"
	"github.com/smarttutor-systems/trustcore/internal/middleware"
	"github.com/smarttutor-systems/trustcore/internal/models"
	"github.com/smarttutor-systems/trustcore/internal/repository"
	"github.com/smarttutor-systems/trustcore/internal/service"
	"github.com/smarttutor-systems/trustcore/internal/twofactor"
)

type AuthHandler struct {
	service *service.AuthService
}

func NewAuthHandler(service *service.AuthService) *AuthHandler {
	return &AuthHandler{service: service}
}

func requestMeta(r *http.Request) service.RequestMeta {
	return service.RequestMeta{
		IPAddress: httputil.GetClientIP(r),
		UserAgent: r.Header.Get("User-Agent"),
		Location:  httputil.GetClientLocation(r),
	}
}

func (h *AuthHandler) Register(w http.ResponseWriter, r *http.Request) {
	var req models.RegisterRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httputil.WriteError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	user, err := h.service.Register(r.Context(), &req, requestMeta(r))
	if err != nil {
		var policyErr *credentials.PolicyError
		switch {
		case errors.As(err, &policyErr):
			httputil.WriteJSON(w, http.StatusBadRequest, models.ErrorResponse{
				Status:  "error",
				Message: "password does not meet the policy",
				Meta:    map[string]string{"violations": policyErr.Error()},
			})
		case errors.Is(err, repository.ErrUserExists):
			httputil.WriteError(w, http.StatusConflict, "account already exists")
		case errors.Is(err, service.ErrInvalidEmail):
			httputil.WriteError(w, http.StatusBadRequest, "a valid email address is required")
		default:
			httputil.WriteError(w, http.StatusInternalServerError, "internal server error")
		}
		return
	}

	httputil.WriteJSON(w, http.StatusCreated, user)
}

func (h *AuthHandler) Login(w http.ResponseWriter, r *http.Request) {
	var req models.LoginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httputil.WriteError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	resp, err := h.service.Login(r.Context(), &req, requestMeta(r))
	if err != nil {
		switch {
		case errors.Is(err, service.ErrRateLimited):
			httputil.WriteError(w, http.StatusTooManyRequests, "too many requests")
		case errors.Is(err, service.ErrAddressBlocked):
			httputil.WriteError(w, http.StatusForbidden, "access denied")
		case errors.Is(err, credentials.ErrAccountLocked):
			httputil.WriteError(w, http.StatusLocked, "account temporarily locked")
		case errors.Is(err, service.ErrTwoFactorRequired):
			httputil.WriteJSON(w, http.StatusUnauthorized, models.ErrorResponse{
				Status:  "error",
				Message: "two-factor code required",
				Meta:    map[string]string{"reason": "totp_required"},
			})
		case errors.Is(err, credentials.ErrInvalidCredentials),
			errors.Is(err, twofactor.ErrInvalidCode),
			errors.Is(err, service.ErrAccountInactive):
			httputil.WriteError(w, http.StatusUnauthorized, "invalid credentials")
		default:
			httputil.WriteError(w, http.StatusInternalServerError, "login failed")
		}
		return
	}

	httputil.WriteJSON(w, http.StatusOK, resp)
}

func (h *AuthHandler) ValidateToken(w http.ResponseWriter, r *http.Request) {
	var req models.ValidateTokenRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httputil.WriteError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	resp, err := h.service.ValidateToken(r.Context(), req.Token)
	if err != nil {
		httputil.WriteError(w, http.StatusInternalServerError, "validation failed")
		return
	}
	httputil.WriteJSON(w, http.StatusOK, resp)
}

func (h *AuthHandler) Setup2FA(w http.ResponseWriter, r *http.Request) {
	userID := middleware.GetUserID(r.Context())
	resp, err := h.service.Setup2FA(r.Context(), userID)
	if err != nil {
		httputil.WriteError(w, http.StatusInternalServerError, "two-factor setup failed")
		return
	}
	httputil.WriteJSON(w, http.StatusOK, resp)
}

func (h *AuthHandler) Verify2FA(w http.ResponseWriter, r *http.Request) {
	var req models.TwoFactorVerifyRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httputil.WriteError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	userID := middleware.GetUserID(r.Context())
	if err := h.service.Confirm2FA(r.Context(), userID, req.Code, requestMeta(r)); err != nil {
		switch {
		case errors.Is(err, twofactor.ErrNotEnrolled):
			httputil.WriteError(w, http.StatusBadRequest, "no pending enrollment")
		case errors.Is(err, twofactor.ErrInvalidCode):
			httputil.WriteError(w, http.StatusUnauthorized, "invalid code")
		default:
			httputil.WriteError(w, http.StatusInternalServerError, "two-factor verification failed")
		}
		return
	}
	httputil.WriteJSON(w, http.StatusOK, map[string]bool{"enabled": true})
}

func (h *AuthHandler) HealthCheck(w http.ResponseWriter, r *http.Request) {
	httputil.WriteJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
