package handler

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"food-auth-service/internal/service"
	"food-auth-service/internal/util"
)

type requestOTPBody struct {
	PhoneNumber string `json:"phoneNumber"`
}

type verifyOTPBody struct {
	PhoneNumber string `json:"phoneNumber"`
	Code        string `json:"code"`
	RequestID   string `json:"requestId"`
	Name        string `json:"name"`
}

type refreshBody struct {
	RefreshToken string `json:"refreshToken"`
}

type successBody struct {
	Success bool `json:"success"`
}

// AuthHandler exposes the auth orchestrator over HTTP.
type AuthHandler struct {
	auth   *service.AuthService
	logger *zap.Logger
}

func NewAuthHandler(auth *service.AuthService, logger *zap.Logger) *AuthHandler {
	return &AuthHandler{
		auth:   auth,
		logger: logger,
	}
}

// RegisterPublicRoutes mounts the routes that need no access token. The limiters wrap
// the code endpoints and may be nil.
func (h *AuthHandler) RegisterPublicRoutes(router chi.Router, otpLimit, verifyLimit func(http.Handler) http.Handler) {
	router.Route("/auth", func(r chi.Router) {
		r.With(optional(otpLimit)).Post("/request-otp", h.RequestOTP)
		r.With(optional(verifyLimit)).Post("/verify-otp", h.VerifyOTP)
		r.Post("/refresh", h.Refresh)
	})
}

// RegisterProtectedRoutes mounts the routes behind the bearer middleware.
func (h *AuthHandler) RegisterProtectedRoutes(router chi.Router) {
	router.Post("/auth/logout", h.Logout)
}

func optional(mw func(http.Handler) http.Handler) func(http.Handler) http.Handler {
	if mw == nil {
		return func(next http.Handler) http.Handler { return next }
	}
	return mw
}

func (h *AuthHandler) RequestOTP(w http.ResponseWriter, r *http.Request) {
	var body requestOTPBody
	if err := decodeJSON(w, r, &body); err != nil {
		respondWithError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if body.PhoneNumber == "" {
		respondWithError(w, http.StatusBadRequest, "phoneNumber is required")
		return
	}

	challenge, err := h.auth.RequestOTP(r.Context(), body.PhoneNumber)
	if err != nil {
		writeServiceError(w, h.logger, err)
		return
	}

	respondWithJSON(w, http.StatusOK, challenge)
}

func (h *AuthHandler) VerifyOTP(w http.ResponseWriter, r *http.Request) {
	startTime := time.Now()

	var body verifyOTPBody
	if err := decodeJSON(w, r, &body); err != nil {
		respondWithError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if body.PhoneNumber == "" || body.Code == "" {
		respondWithError(w, http.StatusBadRequest, "phoneNumber and code are required")
		return
	}

	resp, err := h.auth.VerifyOTP(r.Context(), service.VerifyOTPRequest{
		PhoneNumber:      body.PhoneNumber,
		Code:             body.Code,
		RequestID:        body.RequestID,
		Name:             body.Name,
		ClientDescriptor: r.UserAgent(),
	})
	if err != nil {
		writeServiceError(w, h.logger, err)
		return
	}

	respondWithJSON(w, http.StatusOK, resp)
	h.logger.Info("User signed in via HTTP",
		util.String("user_id", resp.User.ID),
		util.Duration("duration", time.Since(startTime)),
	)
}

func (h *AuthHandler) Refresh(w http.ResponseWriter, r *http.Request) {
	var body refreshBody
	if err := decodeJSON(w, r, &body); err != nil {
		respondWithError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if body.RefreshToken == "" {
		respondWithError(w, http.StatusBadRequest, "refreshToken is required")
		return
	}

	tokens, err := h.auth.RefreshTokens(r.Context(), body.RefreshToken, r.UserAgent())
	if err != nil {
		writeServiceError(w, h.logger, err)
		return
	}

	respondWithJSON(w, http.StatusOK, tokens)
}

// Logout revokes the posted refresh token's session, or all of the caller's
// sessions when the body carries none.
func (h *AuthHandler) Logout(w http.ResponseWriter, r *http.Request) {
	claims, ok := ClaimsFromContext(r.Context())
	if !ok {
		respondWithError(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	var body refreshBody
	if err := decodeJSON(w, r, &body); err != nil {
		respondWithError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	if err := h.auth.Logout(r.Context(), body.RefreshToken, claims.Subject); err != nil {
		writeServiceError(w, h.logger, err)
		return
	}

	respondWithJSON(w, http.StatusOK, successBody{Success: true})
}
