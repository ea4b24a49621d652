package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/koshcoop/society-security/internal/infra/security"
	"github.com/koshcoop/society-security/internal/repository"
	"github.com/koshcoop/society-security/internal/transport/http/middleware"
	"github.com/koshcoop/society-security/internal/usecase"
)

// UnlockHandler exposes the unlock workflow: admin endpoints that start it
// and member-facing endpoints that walk it to completion.
type UnlockHandler struct {
	unlock *usecase.UnlockService
}

// NewUnlockHandler constructs UnlockHandler.
func NewUnlockHandler(unlock *usecase.UnlockService) *UnlockHandler {
	return &UnlockHandler{unlock: unlock}
}

// RegisterAdminRoutes binds the admin-side endpoints. The group must already
// carry authentication and rank middleware.
func (h *UnlockHandler) RegisterAdminRoutes(r *gin.RouterGroup) {
	r.POST("/unlock/:accountId", h.initiate)
	r.POST("/lock/:accountId", h.lock)
}

// RegisterMemberRoutes binds the anonymous member-side endpoints.
func (h *UnlockHandler) RegisterMemberRoutes(r *gin.RouterGroup, rateLimits ...gin.HandlerFunc) {
	withLimit := func(handler gin.HandlerFunc) []gin.HandlerFunc {
		chain := append([]gin.HandlerFunc{}, rateLimits...)
		return append(chain, handler)
	}

	r.GET("/verify-token/:token", h.verifyToken)
	r.POST("/verify-otp/:token", withLimit(h.verifyOTP)...)
	r.POST("/verify-otp", withLimit(h.verifyOTPDirect)...)
	r.POST("/resend-otp/:token", withLimit(h.resendOTP)...)
	r.POST("/reset-password/:token", withLimit(h.resetPassword)...)
}

func (h *UnlockHandler) initiate(c *gin.Context) {
	var req UnlockInitiateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, NewErrorResponse(c, "invalid unlock payload"))
		return
	}

	adminID := middleware.AccountID(c)
	ticket, err := h.unlock.Initiate(c.Request.Context(), adminID, c.Param("accountId"), req.Reason)
	if err != nil {
		respondUnlockError(c, err)
		return
	}

	c.JSON(http.StatusCreated, UnlockInitiateResponse{
		AccountID:      ticket.AccountID,
		UnlockToken:    ticket.Token,
		TokenExpiresAt: ticket.TokenExpiresAt,
		OTPExpiresAt:   ticket.OTPExpiresAt,
		EmailSent:      ticket.Receipt.EmailSent,
		SMSSent:        ticket.Receipt.SMSSent,
	})
}

func (h *UnlockHandler) lock(c *gin.Context) {
	var req AdminLockRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, NewErrorResponse(c, "invalid lock payload"))
		return
	}

	adminID := middleware.AccountID(c)
	if err := h.unlock.AdminLock(c.Request.Context(), adminID, c.Param("accountId"), req.Until, req.Reason); err != nil {
		respondUnlockError(c, err)
		return
	}

	c.JSON(http.StatusOK, MessageResponse{Message: "account locked"})
}

func (h *UnlockHandler) verifyToken(c *gin.Context) {
	status, err := h.unlock.VerifyToken(c.Request.Context(), c.Param("token"))
	if err != nil {
		respondUnlockError(c, err)
		return
	}

	c.JSON(http.StatusOK, UnlockStatusResponse{
		AccountID:    status.AccountID,
		Username:     status.Username,
		Stage:        string(status.Stage),
		OTPExpiresAt: status.OTPExpiresAt,
	})
}

func (h *UnlockHandler) verifyOTP(c *gin.Context) {
	var req UnlockVerifyOTPRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, NewErrorResponse(c, "invalid verification payload"))
		return
	}

	grant, err := h.unlock.VerifyOTP(c.Request.Context(), c.Param("token"), req.Code)
	if err != nil {
		respondUnlockError(c, err)
		return
	}

	c.JSON(http.StatusOK, ResetGrantResponse{
		ResetToken: grant.ResetToken,
		ExpiresAt:  grant.ExpiresAt,
	})
}

func (h *UnlockHandler) verifyOTPDirect(c *gin.Context) {
	var req UnlockVerifyOTPDirectRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, NewErrorResponse(c, "invalid verification payload"))
		return
	}

	grant, err := h.unlock.VerifyOTPDirect(c.Request.Context(), req.Identifier, req.Code)
	if err != nil {
		respondUnlockError(c, err)
		return
	}

	c.JSON(http.StatusOK, ResetGrantResponse{
		ResetToken: grant.ResetToken,
		ExpiresAt:  grant.ExpiresAt,
	})
}

func (h *UnlockHandler) resendOTP(c *gin.Context) {
	receipt, err := h.unlock.ResendOTP(c.Request.Context(), c.Param("token"))
	if err != nil {
		respondUnlockError(c, err)
		return
	}

	c.JSON(http.StatusOK, DeliveryResponse{
		Message:   "verification code sent",
		EmailSent: receipt.EmailSent,
		SMSSent:   receipt.SMSSent,
	})
}

func (h *UnlockHandler) resetPassword(c *gin.Context) {
	var req ResetPasswordRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, NewErrorResponse(c, "invalid password payload"))
		return
	}

	if err := h.unlock.ResetPassword(c.Request.Context(), c.Param("token"), req.NewPassword); err != nil {
		respondUnlockError(c, err)
		return
	}

	c.JSON(http.StatusOK, MessageResponse{Message: "password updated, account unlocked"})
}

func respondUnlockError(c *gin.Context, err error) {
	var policyErr *security.PasswordPolicyError
	if errors.As(err, &policyErr) {
		c.JSON(http.StatusBadRequest, NewErrorResponse(c, policyErr.Message))
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
	case errors.Is(err, usecase.ErrUnlockNotPermitted):
		c.JSON(http.StatusForbidden, NewErrorResponse(c, "insufficient rank for this account"))
	case errors.Is(err, usecase.ErrReasonTooShort):
		c.JSON(http.StatusBadRequest, NewErrorResponse(c, "a meaningful reason is required"))
	case errors.Is(err, usecase.ErrAccountNotLocked):
		c.JSON(http.StatusConflict, NewErrorResponse(c, "account is not locked"))
	case errors.Is(err, repository.ErrNotFound):
		c.JSON(http.StatusNotFound, NewErrorResponse(c, "account not found"))
	case errors.Is(err, usecase.ErrInvalidUnlockToken):
		c.JSON(http.StatusNotFound, NewErrorResponse(c, "unlock token not recognized"))
	case errors.Is(err, usecase.ErrUnlockTokenExpired):
		c.JSON(http.StatusGone, NewErrorResponse(c, "unlock token expired"))
	case errors.Is(err, usecase.ErrNoPendingChallenge):
		c.JSON(http.StatusUnauthorized, NewErrorResponse(c, "no pending verification"))
	case errors.Is(err, usecase.ErrOTPExpired):
		c.JSON(http.StatusGone, NewErrorResponse(c, "verification code expired"))
	case errors.Is(err, usecase.ErrOTPExhausted):
		c.JSON(http.StatusTooManyRequests, NewErrorResponse(c, "verification code attempts exhausted"))
	case errors.Is(err, usecase.ErrInvalidResetToken):
		c.JSON(http.StatusUnauthorized, NewErrorResponse(c, "reset token not recognized"))
	case errors.Is(err, usecase.ErrResetTokenExpired):
		c.JSON(http.StatusGone, NewErrorResponse(c, "reset token expired"))
	case errors.Is(err, usecase.ErrPasswordReused):
		c.JSON(http.StatusConflict, NewErrorResponse(c, "password was used recently"))
	default:
		c.JSON(http.StatusInternalServerError, NewErrorResponse(c, "unlock operation failed"))
	}
}
