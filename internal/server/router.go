package server

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/MarcoPoloResearchLab/inkwell/internal/accounts"
	"github.com/MarcoPoloResearchLab/inkwell/internal/metrics"
	"github.com/MarcoPoloResearchLab/inkwell/internal/sync"
	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

const userIDContextKey = "inkwell_user_id"

var (
	errMissingAccountsService = errors.New("accounts service dependency required")
	errMissingSyncService     = errors.New("sync service dependency required")
	errInvalidAuthorization   = errors.New("authorization header missing or invalid")
)

// AccountsService resolves bearer credentials and manages accounts.
type AccountsService interface {
	Register(ctx context.Context, email, password, displayName string) (accounts.Credentials, error)
	Login(ctx context.Context, email, password string) (accounts.Credentials, error)
	Logout(ctx context.Context, token string) error
	Resolve(ctx context.Context, token string) (string, error)
}

// Pinger reports whether the backing store is reachable.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Dependencies wires the HTTP layer to its collaborators.
type Dependencies struct {
	Accounts AccountsService
	Sync     *sync.Service
	Metrics  *metrics.Registry
	Pinger   Pinger
	Logger   *zap.Logger
}

// NewHTTPHandler builds the full route table.
func NewHTTPHandler(deps Dependencies) (http.Handler, error) {
	if deps.Accounts == nil {
		return nil, errMissingAccountsService
	}
	if deps.Sync == nil {
		return nil, errMissingSyncService
	}

	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	router := gin.New()
	router.Use(gin.Recovery())
	if deps.Metrics != nil {
		router.Use(deps.Metrics.Middleware())
	}
	router.Use(cors.New(cors.Config{
		AllowOrigins: []string{"*"},
		AllowMethods: []string{http.MethodGet, http.MethodPost, http.MethodDelete, http.MethodOptions},
		AllowHeaders: []string{"Authorization", "Content-Type"},
		MaxAge:       12 * time.Hour,
	}))

	handler := &httpHandler{
		accounts:    deps.Accounts,
		syncService: deps.Sync,
		pinger:      deps.Pinger,
		logger:      logger,
	}

	router.GET("/health", handler.handleHealth)
	if deps.Metrics != nil {
		router.GET("/metrics", deps.Metrics.Handler())
	}

	router.POST("/auth/register", handler.handleRegister)
	router.POST("/auth/login", handler.handleLogin)
	router.POST("/auth/logout", handler.handleLogout)

	protected := router.Group("/")
	protected.Use(handler.authorizeRequest)
	protected.POST("/sync", handler.handleSave)
	protected.GET("/sync/stats", handler.handleStats)
	protected.GET("/sync/:threadId", handler.handleLoad)
	protected.GET("/sync/:threadId/history", handler.handleHistory)
	protected.POST("/sync/:threadId/restore", handler.handleRestore)
	protected.DELETE("/sync/:threadId", handler.handleDelete)

	return router, nil
}

type httpHandler struct {
	accounts    AccountsService
	syncService *sync.Service
	pinger      Pinger
	logger      *zap.Logger
}

func (h *httpHandler) handleHealth(c *gin.Context) {
	if h.pinger != nil {
		if err := h.pinger.Ping(c.Request.Context()); err != nil {
			h.logger.Error("health check database ping failed", zap.Error(err))
			c.JSON(http.StatusServiceUnavailable, gin.H{"status": "degraded"})
			return
		}
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (h *httpHandler) authorizeRequest(c *gin.Context) {
	token, ok := bearerToken(c)
	if !ok {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"success": false, "error": errInvalidAuthorization.Error()})
		return
	}
	userID, err := h.accounts.Resolve(c.Request.Context(), token)
	if err != nil {
		if !errors.Is(err, accounts.ErrInvalidSession) {
			h.logger.Error("session resolution failed", zap.Error(err))
		}
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"success": false, "error": "unauthorized"})
		return
	}
	c.Set(userIDContextKey, userID)
	c.Next()
}

func bearerToken(c *gin.Context) (string, bool) {
	header := c.GetHeader("Authorization")
	if !strings.HasPrefix(header, "Bearer ") {
		return "", false
	}
	token := strings.TrimSpace(strings.TrimPrefix(header, "Bearer "))
	if token == "" {
		return "", false
	}
	return token, true
}

func (h *httpHandler) requestUserID(c *gin.Context) (sync.UserID, bool) {
	raw := c.GetString(userIDContextKey)
	userID, err := sync.NewUserID(raw)
	if err != nil {
		c.JSON(http.StatusUnauthorized, gin.H{"success": false, "error": "unauthorized"})
		return "", false
	}
	return userID, true
}
