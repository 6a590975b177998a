package handlers

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"github.com/travelcore/booking-core/internal/services"
	"github.com/travelcore/booking-core/internal/utils"
)

// CodeVerifier issues and checks one-time codes
type CodeVerifier interface {
	RequestCode(ctx context.Context, in services.RequestCodeInput) (*services.CodeRequestResult, error)
	VerifyCode(ctx context.Context, in services.VerifyCodeInput) (*services.IdentityToken, error)
}

// VerificationHandler handles guest identity verification
type VerificationHandler struct {
	verifier CodeVerifier
	logger   *logrus.Logger
}

// NewVerificationHandler creates a new verification handler
func NewVerificationHandler(verifier CodeVerifier, logger *logrus.Logger) *VerificationHandler {
	return &VerificationHandler{verifier: verifier, logger: logger}
}

// RequestCodeRequest represents the request to send a code
type RequestCodeRequest struct {
	Identifier string `json:"identifier" binding:"required"`
}

// RequestCodeResponse represents the response after sending a code
type RequestCodeResponse struct {
	Message   string    `json:"message"`
	SessionID uuid.UUID `json:"session_id"`
	Channel   string    `json:"channel"`
	ExpiresAt time.Time `json:"expires_at"`
	ExpiresIn int       `json:"expires_in_seconds"`
	DevCode   string    `json:"dev_code,omitempty"`
}

// VerifyCodeRequest represents the request to verify a code
type VerifyCodeRequest struct {
	Identifier string `json:"identifier" binding:"required"`
	Code       string `json:"code" binding:"required,numeric"`
}

// VerifyCodeResponse carries the identity token for checkout
type VerifyCodeResponse struct {
	IdentityToken string    `json:"identity_token"`
	Identifier    string    `json:"identifier"`
	ExpiresAt     time.Time `json:"expires_at"`
	ExpiresIn     int       `json:"expires_in_seconds"`
}

// RequestCode handles POST /api/v1/verification/request
func (h *VerificationHandler) RequestCode(c *gin.Context) {
	var req RequestCodeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		bindingError(c, err)
		return
	}

	result, err := h.verifier.RequestCode(c.Request.Context(), services.RequestCodeInput{
		Identifier: req.Identifier,
		IPAddress:  utils.GetRealIP(c),
		UserAgent:  utils.GetUserAgent(c),
	})
	if err != nil {
		respondError(c, h.logger, err)
		return
	}

	c.JSON(http.StatusAccepted, RequestCodeResponse{
		Message:   "Verification code sent",
		SessionID: result.SessionID,
		Channel:   result.Channel,
		ExpiresAt: result.ExpiresAt,
		ExpiresIn: int(time.Until(result.ExpiresAt).Seconds()),
		DevCode:   result.DevCode,
	})
}

// VerifyCode handles POST /api/v1/verification/verify
func (h *VerificationHandler) VerifyCode(c *gin.Context) {
	var req VerifyCodeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		bindingError(c, err)
		return
	}

	token, err := h.verifier.VerifyCode(c.Request.Context(), services.VerifyCodeInput{
		Identifier: req.Identifier,
		Code:       req.Code,
		IPAddress:  utils.GetRealIP(c),
		UserAgent:  utils.GetUserAgent(c),
	})
	if err != nil {
		respondError(c, h.logger, err)
		return
	}

	c.JSON(http.StatusOK, VerifyCodeResponse{
		IdentityToken: token.Token,
		Identifier:    token.Identifier,
		ExpiresAt:     token.ExpiresAt,
		ExpiresIn:     int(time.Until(token.ExpiresAt).Seconds()),
	})
}
