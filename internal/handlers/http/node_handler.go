package http

import (
	"context"
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"lanlink/internal/core/domain"
	"lanlink/internal/core/ports"
	"lanlink/internal/infrastructure/monitoring"
	"lanlink/internal/infrastructure/registry"
)

// TextSender is the slice of the message transport the API needs.
type TextSender interface {
	SendText(ctx context.Context, peerIP, content string) error
}

// NodeHandler is the REST surface over one node: peers, history, stored
// files and outbound sends.
type NodeHandler struct {
	registry       *registry.PeerRegistry
	history        ports.MessageHistory
	files          ports.FileStore
	sender         TextSender
	health         *monitoring.HealthChecker
	metricsEnabled bool
	logger         *zap.SugaredLogger
}

func NewNodeHandler(
	reg *registry.PeerRegistry,
	history ports.MessageHistory,
	files ports.FileStore,
	sender TextSender,
	health *monitoring.HealthChecker,
	metricsEnabled bool,
	logger *zap.SugaredLogger,
) *NodeHandler {
	return &NodeHandler{
		registry:       reg,
		history:        history,
		files:          files,
		sender:         sender,
		health:         health,
		metricsEnabled: metricsEnabled,
		logger:         logger,
	}
}

func (h *NodeHandler) SetupRoutes(router *gin.Engine) {
	api := router.Group("/api")
	{
		api.GET("/peers", h.ListPeers)
		api.GET("/messages/:peer", h.GetMessages)
		api.POST("/messages/:peer/read", h.MarkMessagesRead)
		api.GET("/files", h.ListFiles)
		api.DELETE("/files/:name", h.DeleteFile)
		api.POST("/send", h.SendText)
	}

	router.GET("/health", h.Health)
	if h.metricsEnabled {
		router.GET("/metrics", gin.WrapH(promhttp.Handler()))
	}
}

func (h *NodeHandler) ListPeers(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"peers": h.registry.Snapshot(),
	})
}

func (h *NodeHandler) GetMessages(c *gin.Context) {
	peerIP := c.Param("peer")

	limit := 0
	if raw := c.Query("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed < 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "limit must be a non-negative integer"})
			return
		}
		limit = parsed
	}

	messages, err := h.history.Query(c.Request.Context(), peerIP, limit)
	if err != nil {
		h.logger.Errorw("history query failed", "peer", peerIP, "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	stats, err := h.history.Stats(c.Request.Context(), peerIP)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"messages": messages,
		"stats":    stats,
	})
}

func (h *NodeHandler) MarkMessagesRead(c *gin.Context) {
	peerIP := c.Param("peer")

	if err := h.history.MarkRead(c.Request.Context(), peerIP); err != nil {
		h.logger.Errorw("mark read failed", "peer", peerIP, "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (h *NodeHandler) ListFiles(c *gin.Context) {
	infos, err := h.files.List()
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"files": infos})
}

func (h *NodeHandler) DeleteFile(c *gin.Context) {
	name := c.Param("name")

	err := h.files.Delete(name)
	if errors.Is(err, domain.ErrFileNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": "file not found"})
		return
	}
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "deleted"})
}

func (h *NodeHandler) SendText(c *gin.Context) {
	var req struct {
		Peer    string `json:"peer" binding:"required"`
		Content string `json:"content" binding:"required"`
	}
	if err := c.BindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	err := h.sender.SendText(c.Request.Context(), req.Peer, req.Content)
	switch {
	case errors.Is(err, domain.ErrPeerUnknown):
		c.JSON(http.StatusNotFound, gin.H{"error": "peer not discovered"})
	case errors.Is(err, domain.ErrUnreachable):
		c.JSON(http.StatusBadGateway, gin.H{"error": "peer unreachable"})
	case err != nil:
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
	default:
		c.JSON(http.StatusOK, gin.H{"status": "sent"})
	}
}

func (h *NodeHandler) Health(c *gin.Context) {
	status := h.health.CheckAll(c.Request.Context())
	code := http.StatusOK
	if status.Status != "healthy" {
		code = http.StatusServiceUnavailable
	}
	c.JSON(code, status)
}
