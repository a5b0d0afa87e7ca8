// Package server exposes the sync relay over HTTP.
package server

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/MarcoPoloResearchLab/driverhelper/internal/ledger"
	"github.com/MarcoPoloResearchLab/driverhelper/internal/syncclient"
	"github.com/MarcoPoloResearchLab/driverhelper/internal/syncqueue"
	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"go.uber.org/zap"
)

const deviceIDContextKey = "driverhelper_device_id"

// DeviceIDHeader names the device when the relay runs without token auth.
const DeviceIDHeader = "X-Device-ID"

var (
	errMissingBackend       = errors.New("ledger or upstream forwarder dependency required")
	errInvalidAuthorization = errors.New("authorization header missing or invalid")
)

// TokenValidator resolves a bearer token to a device id.
type TokenValidator interface {
	ValidateToken(token string) (string, error)
}

// BatchApplier reconciles a batch into local storage.
type BatchApplier interface {
	ApplyBatch(ctx context.Context, device string, items []syncqueue.Item) (ledger.BatchResult, error)
}

// Forwarder relays a batch to another sync endpoint.
type Forwarder interface {
	Push(ctx context.Context, items []syncqueue.Item) (syncclient.Acknowledgment, error)
}

// Dependencies wires the relay. Forwarder takes precedence over Ledger when
// both are set. Tokens is optional; without it every request is accepted.
type Dependencies struct {
	Tokens    TokenValidator
	Ledger    BatchApplier
	Forwarder Forwarder
	Logger    *zap.Logger
}

func NewHTTPHandler(deps Dependencies) (http.Handler, error) {
	if deps.Ledger == nil && deps.Forwarder == nil {
		return nil, errMissingBackend
	}
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(corsMiddleware())

	handler := &httpHandler{
		tokens:    deps.Tokens,
		ledger:    deps.Ledger,
		forwarder: deps.Forwarder,
		logger:    logger,
	}

	router.GET("/healthz", handler.handleHealth)

	api := router.Group("/api")
	api.Use(handler.authorizeRequest)
	api.POST("/sync", handler.handleSync)

	return router, nil
}

func corsMiddleware() gin.HandlerFunc {
	return cors.New(cors.Config{
		AllowOrigins: []string{"*"},
		AllowMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowHeaders: []string{"Authorization", "Content-Type", DeviceIDHeader},
		MaxAge:       12 * time.Hour,
	})
}

type httpHandler struct {
	tokens    TokenValidator
	ledger    BatchApplier
	forwarder Forwarder
	logger    *zap.Logger
}

type syncRequestPayload struct {
	Items *[]syncItemPayload `json:"items"`
}

type syncItemPayload struct {
	ID        string    `json:"id"`
	TableName string    `json:"table_name"`
	RecordID  string    `json:"record_id"`
	Action    string    `json:"action"`
	Payload   string    `json:"payload"`
	CreatedAt time.Time `json:"created_at"`
}

type syncResponsePayload struct {
	SyncedIDs []string `json:"syncedIds"`
}

func (h *httpHandler) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (h *httpHandler) handleSync(c *gin.Context) {
	var request syncRequestPayload
	if err := c.ShouldBindJSON(&request); err != nil || request.Items == nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}
	if len(*request.Items) == 0 {
		c.JSON(http.StatusOK, syncResponsePayload{SyncedIDs: []string{}})
		return
	}

	items := make([]syncqueue.Item, 0, len(*request.Items))
	for _, payload := range *request.Items {
		action, err := syncqueue.ParseAction(payload.Action)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_action"})
			return
		}
		item := syncqueue.Item{
			ID:        payload.ID,
			Table:     payload.TableName,
			RecordID:  payload.RecordID,
			Action:    action,
			Payload:   payload.Payload,
			CreatedAt: payload.CreatedAt,
		}
		if err := item.Validate(); err != nil {
			h.logger.Debug("sync batch rejected", zap.String("item_id", item.ID), zap.Error(err))
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_item"})
			return
		}
		items = append(items, item)
	}

	if h.forwarder != nil {
		h.forward(c, items)
		return
	}

	device := c.GetString(deviceIDContextKey)
	result, err := h.ledger.ApplyBatch(c.Request.Context(), device, items)
	if err != nil {
		if errors.Is(err, syncqueue.ErrInvalidItem) || errors.Is(err, syncqueue.ErrInvalidAction) {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_item"})
			return
		}
		h.logger.Error("failed to apply sync batch", zap.String("device", device), zap.Error(err))
		response := gin.H{"error": "sync_failed"}
		var serviceErr *ledger.ServiceError
		if errors.As(err, &serviceErr) {
			response["code"] = serviceErr.Code()
		}
		c.JSON(http.StatusInternalServerError, response)
		return
	}

	c.JSON(http.StatusOK, syncResponsePayload{SyncedIDs: result.SyncedIDs})
}

// forward relays the batch upstream and passes the acknowledgment through.
// An upstream answer without a list acknowledges the whole batch.
func (h *httpHandler) forward(c *gin.Context, items []syncqueue.Item) {
	ack, err := h.forwarder.Push(c.Request.Context(), items)
	if err != nil {
		h.logger.Warn("upstream sync failed", zap.Int("items", len(items)), zap.Error(err))
		c.JSON(http.StatusBadGateway, gin.H{"error": "upstream_sync_failed"})
		return
	}
	ids := ack.IDs
	if !ack.Listed {
		ids = make([]string, 0, len(items))
		for _, item := range items {
			ids = append(ids, item.ID)
		}
	}
	if ids == nil {
		ids = []string{}
	}
	c.JSON(http.StatusOK, syncResponsePayload{SyncedIDs: ids})
}

func (h *httpHandler) authorizeRequest(c *gin.Context) {
	if h.tokens == nil {
		c.Set(deviceIDContextKey, strings.TrimSpace(c.GetHeader(DeviceIDHeader)))
		c.Next()
		return
	}

	header := c.GetHeader("Authorization")
	if !strings.HasPrefix(header, "Bearer ") {
		h.logger.Debug("sync request rejected", zap.Error(errInvalidAuthorization))
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}
	token := strings.TrimSpace(strings.TrimPrefix(header, "Bearer "))
	if token == "" {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}
	device, err := h.tokens.ValidateToken(token)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			h.logger.Info("token validation failed", zap.Error(err))
		} else {
			h.logger.Warn("token validation failed", zap.Error(err))
		}
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}
	c.Set(deviceIDContextKey, device)
	c.Next()
}
