package server

import (
	"errors"
	"net/http"

	"github.com/MarcoPoloResearchLab/inkwell/internal/accounts"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

type registerRequestPayload struct {
	Email       string `json:"email"`
	Password    string `json:"password"`
	DisplayName string `json:"displayName"`
}

type loginRequestPayload struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type userPayload struct {
	UserID      string `json:"userId"`
	Email       string `json:"email"`
	DisplayName string `json:"displayName"`
}

type credentialsResponsePayload struct {
	Success bool        `json:"success"`
	Token   string      `json:"token"`
	User    userPayload `json:"user"`
}

func (h *httpHandler) handleRegister(c *gin.Context) {
	var request registerRequestPayload
	if err := c.ShouldBindJSON(&request); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"success": false, "error": "invalid_request"})
		return
	}

	credentials, err := h.accounts.Register(c.Request.Context(), request.Email, request.Password, request.DisplayName)
	switch {
	case errors.Is(err, accounts.ErrInvalidEmail), errors.Is(err, accounts.ErrWeakPassword):
		c.JSON(http.StatusBadRequest, gin.H{"success": false, "error": err.Error()})
		return
	case errors.Is(err, accounts.ErrEmailTaken):
		c.JSON(http.StatusConflict, gin.H{"success": false, "error": "email_taken"})
		return
	case err != nil:
		h.logger.Error("registration failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"success": false, "error": "registration_failed"})
		return
	}

	c.JSON(http.StatusCreated, credentialsResponse(credentials))
}

func (h *httpHandler) handleLogin(c *gin.Context) {
	var request loginRequestPayload
	if err := c.ShouldBindJSON(&request); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"success": false, "error": "invalid_request"})
		return
	}

	credentials, err := h.accounts.Login(c.Request.Context(), request.Email, request.Password)
	if errors.Is(err, accounts.ErrInvalidCredentials) {
		c.JSON(http.StatusUnauthorized, gin.H{"success": false, "error": "invalid_credentials"})
		return
	}
	if err != nil {
		h.logger.Error("login failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"success": false, "error": "login_failed"})
		return
	}

	c.JSON(http.StatusOK, credentialsResponse(credentials))
}

func (h *httpHandler) handleLogout(c *gin.Context) {
	token, ok := bearerToken(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"success": false, "error": errInvalidAuthorization.Error()})
		return
	}
	if err := h.accounts.Logout(c.Request.Context(), token); err != nil {
		h.logger.Error("logout failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"success": false, "error": "logout_failed"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true})
}

func credentialsResponse(credentials accounts.Credentials) credentialsResponsePayload {
	return credentialsResponsePayload{
		Success: true,
		Token:   credentials.Token,
		User: userPayload{
			UserID:      credentials.User.UserID,
			Email:       credentials.User.Email,
			DisplayName: credentials.User.DisplayName,
		},
	}
}
