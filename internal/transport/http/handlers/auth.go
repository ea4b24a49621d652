package handlers

import (
	"errors"
	"math"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/koshcoop/society-security/internal/transport/http/middleware"
	"github.com/koshcoop/society-security/internal/usecase"
)

// AuthHandler exposes login and second-factor endpoints.
type AuthHandler struct {
	login     *usecase.LoginService
	twoFactor *usecase.TwoFactorService
	sessions  *usecase.SessionService
}

// NewAuthHandler constructs AuthHandler.
func NewAuthHandler(login *usecase.LoginService, twoFactor *usecase.TwoFactorService, sessions *usecase.SessionService) *AuthHandler {
	return &AuthHandler{
		login:     login,
		twoFactor: twoFactor,
		sessions:  sessions,
	}
}

// RegisterRoutes binds authentication routes, applying optional middleware ahead of the credential endpoints.
func (h *AuthHandler) RegisterRoutes(r *gin.RouterGroup, authMiddleware gin.HandlerFunc, rateLimits ...gin.HandlerFunc) {
	withLimit := func(handler gin.HandlerFunc) []gin.HandlerFunc {
		chain := append([]gin.HandlerFunc{}, rateLimits...)
		return append(chain, handler)
	}

	r.POST("/login", withLimit(h.loginHandler)...)
	r.POST("/2fa/verify", withLimit(h.verifyTwoFactor)...)
	r.POST("/2fa/resend", withLimit(h.resendTwoFactor)...)
	r.POST("/logout", authMiddleware, h.logout)
}

func (h *AuthHandler) loginHandler(c *gin.Context) {
	var req LoginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, NewErrorResponse(c, "invalid login payload"))
		return
	}

	ip, ua := clientMeta(c)
	result, err := h.login.Authenticate(c.Request.Context(), req.Identifier, req.Password, ip, ua)
	if err != nil {
		respondLoginError(c, err)
		return
	}

	h.respondLoginResult(c, result)
}

func (h *AuthHandler) verifyTwoFactor(c *gin.Context) {
	var req TwoFactorVerifyRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, NewErrorResponse(c, "invalid verification payload"))
		return
	}

	ip, ua := clientMeta(c)
	result, err := h.twoFactor.Verify(c.Request.Context(), req.Identifier, req.Code, ip, ua)
	if err != nil {
		respondLoginError(c, err)
		return
	}

	h.respondLoginResult(c, result)
}

func (h *AuthHandler) resendTwoFactor(c *gin.Context) {
	var req TwoFactorResendRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, NewErrorResponse(c, "invalid resend payload"))
		return
	}

	result, err := h.twoFactor.Resend(c.Request.Context(), req.Identifier)
	if err != nil {
		respondLoginError(c, err)
		return
	}

	c.JSON(http.StatusOK, DeliveryResponse{
		Message:   "verification code sent",
		EmailSent: result.Receipt.EmailSent,
		SMSSent:   result.Receipt.SMSSent,
	})
}

func (h *AuthHandler) logout(c *gin.Context) {
	sessionID := middleware.SessionID(c)
	if sessionID == "" {
		c.JSON(http.StatusUnauthorized, NewErrorResponse(c, "authentication required"))
		return
	}

	accountID := middleware.AccountID(c)
	if err := h.sessions.Revoke(c.Request.Context(), sessionID, usecase.SessionEndRevoked, &accountID); err != nil {
		if errors.Is(err, usecase.ErrSessionRevoked) {
			c.JSON(http.StatusOK, MessageResponse{Message: "logged out"})
			return
		}
		c.JSON(http.StatusInternalServerError, NewErrorResponse(c, "logout failed"))
		return
	}

	c.JSON(http.StatusOK, MessageResponse{Message: "logged out"})
}

func (h *AuthHandler) respondLoginResult(c *gin.Context, result *usecase.LoginResult) {
	if result.TwoFactorRequired {
		c.JSON(http.StatusOK, TwoFactorPendingResponse{
			Message:          "verification code sent",
			TwoFactorPending: true,
			Delivery:         string(result.Delivery),
			EmailSent:        result.Receipt.EmailSent,
			SMSSent:          result.Receipt.SMSSent,
			ExpiresIn:        int(result.OTPExpiresIn.Seconds()),
			Account:          newAccountSummary(result.Account),
		})
		return
	}

	c.JSON(http.StatusOK, LoginResponse{
		AccessToken: result.AccessToken,
		TokenType:   "Bearer",
		ExpiresIn:   int(result.ExpiresIn.Seconds()),
		Account:     newAccountSummary(result.Account),
		Session:     newSessionSummary(*result.Session),
	})
}

// respondLoginError maps authentication errors onto the API contract:
// locked accounts answer 423, spent or lapsed codes answer 410, everything
// credential-shaped answers an enumeration-safe 401.
func respondLoginError(c *gin.Context, err error) {
	var locked *usecase.AccountLockedError
	if errors.As(err, &locked) {
		resp := NewErrorResponse(c, "account is locked")
		resp.Permanent = &locked.Permanent
		if !locked.Permanent {
			seconds := int(math.Ceil(locked.RetryAfter.Seconds()))
			resp.RetryAfterSeconds = &seconds
		}
		c.JSON(http.StatusLocked, resp)
		return
	}

	var rejected *usecase.CredentialsRejectedError
	if errors.As(err, &rejected) {
		resp := NewErrorResponse(c, "invalid credentials")
		resp.AttemptsRemaining = &rejected.AttemptsRemaining
		c.JSON(http.StatusUnauthorized, resp)
		return
	}

	var otpRejected *usecase.OTPRejectedError
	if errors.As(err, &otpRejected) {
		resp := NewErrorResponse(c, "invalid verification code")
		resp.AttemptsRemaining = &otpRejected.AttemptsRemaining
		c.JSON(http.StatusUnauthorized, resp)
		return
	}

	switch {
	case errors.Is(err, usecase.ErrInvalidCredentials):
		c.JSON(http.StatusUnauthorized, NewErrorResponse(c, "invalid credentials"))
	case errors.Is(err, usecase.ErrNoPendingChallenge):
		c.JSON(http.StatusUnauthorized, NewErrorResponse(c, "no pending verification"))
	case errors.Is(err, usecase.ErrOTPExpired):
		c.JSON(http.StatusGone, NewErrorResponse(c, "verification code expired"))
	case errors.Is(err, usecase.ErrOTPExhausted):
		c.JSON(http.StatusTooManyRequests, NewErrorResponse(c, "verification code attempts exhausted"))
	default:
		c.JSON(http.StatusInternalServerError, NewErrorResponse(c, "authentication failed"))
	}
}

func clientMeta(c *gin.Context) (ip, userAgent *string) {
	if v := c.ClientIP(); v != "" {
		ip = &v
	}
	if v := c.Request.UserAgent(); v != "" {
		userAgent = &v
	}
	return ip, userAgent
}
