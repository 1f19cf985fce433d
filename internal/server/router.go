package server

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/pelilauta/sidekick/internal/trigger"
	"go.uber.org/zap"
)

const relayIDContextKey = "sidekick_relay_id"

var (
	errMissingTokenValidator = errors.New("webhook token validator dependency required")
	errMissingRegistry       = errors.New("trigger registry dependency required")
)

// WebhookTokenValidator checks the bearer token the relay presents.
type WebhookTokenValidator interface {
	Validate(token string) (string, error)
}

// Dependencies wires the HTTP layer.
type Dependencies struct {
	Tokens   WebhookTokenValidator
	Registry *trigger.Registry
	Logger   *zap.Logger
}

// NewHTTPHandler builds the gin handler exposing the events webhook.
func NewHTTPHandler(deps Dependencies) (http.Handler, error) {
	if deps.Tokens == nil {
		return nil, errMissingTokenValidator
	}
	if deps.Registry == nil {
		return nil, errMissingRegistry
	}

	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(cors.New(cors.Config{
		AllowOrigins: []string{"*"},
		AllowMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowHeaders: []string{"Authorization", "Content-Type"},
		MaxAge:       12 * time.Hour,
	}))

	handler := &httpHandler{
		tokens:   deps.Tokens,
		registry: deps.Registry,
		logger:   logger,
	}

	router.GET("/healthz", handler.handleHealth)

	protected := router.Group("/")
	protected.Use(handler.authorizeRequest)
	protected.POST("/events", handler.handleEvent)

	return router, nil
}

type httpHandler struct {
	tokens   WebhookTokenValidator
	registry *trigger.Registry
	logger   *zap.Logger
}

func (h *httpHandler) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (h *httpHandler) authorizeRequest(c *gin.Context) {
	header := c.GetHeader("Authorization")
	token, found := strings.CutPrefix(header, "Bearer ")
	if !found || strings.TrimSpace(token) == "" {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}

	relayID, err := h.tokens.Validate(strings.TrimSpace(token))
	if err != nil {
		h.logger.Warn("webhook token validation failed", zap.Error(err))
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}

	c.Set(relayIDContextKey, relayID)
	c.Next()
}

type eventPayload struct {
	Path string         `json:"path"`
	Kind string         `json:"kind"`
	Data map[string]any `json:"data"`
}

// handleEvent dispatches one document-change event into the trigger
// registry. A handler failure returns 500 so the relay redelivers per its
// own retry policy; malformed events return 400 and are not worth retrying.
func (h *httpHandler) handleEvent(c *gin.Context) {
	var request eventPayload
	if err := c.ShouldBindJSON(&request); err != nil || strings.TrimSpace(request.Path) == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}

	kind, err := trigger.ParseKind(request.Kind)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_kind"})
		return
	}

	if err := h.registry.Dispatch(c.Request.Context(), request.Path, kind, request.Data); err != nil {
		h.logger.Error("event dispatch failed",
			zap.String("path", request.Path),
			zap.String("kind", string(kind)),
			zap.String("relay", c.GetString(relayIDContextKey)),
			zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "dispatch_failed"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"status": "processed"})
}
