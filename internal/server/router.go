package server

import (
	"context"
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/db3-network/db3-go/internal/address"
	"github.com/db3-network/db3-go/internal/devnode"
	"github.com/db3-network/db3-go/internal/nonce"
	"github.com/db3-network/db3-go/internal/transport"
	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

const maxSubmissionBytes = 8 << 20

var errMissingNode = errors.New("node service dependency required")

// Node is the service behind the HTTP surface.
type Node interface {
	Submit(ctx context.Context, submission transport.Submission) (transport.Response, error)
	Nonce(ctx context.Context, account address.Address) (uint64, error)
	MutationHeader(ctx context.Context, id string) (transport.MutationHeader, error)
	ScanMutationHeaders(ctx context.Context, start, limit int) ([]transport.MutationHeader, error)
	Status(ctx context.Context) (transport.NodeStatus, error)
}

type Dependencies struct {
	Node              Node
	Realtime          *RealtimeDispatcher
	HeartbeatInterval time.Duration
	Logger            *zap.Logger
}

func NewHTTPHandler(deps Dependencies) (http.Handler, error) {
	if deps.Node == nil {
		return nil, errMissingNode
	}

	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(corsMiddleware())

	realtime := deps.Realtime
	if realtime == nil {
		realtime = NewRealtimeDispatcher()
	}
	heartbeat := deps.HeartbeatInterval
	if heartbeat <= 0 {
		heartbeat = defaultHeartbeatInterval
	}

	handler := &httpHandler{node: deps.Node, realtime: realtime, heartbeat: heartbeat, logger: logger}

	v2 := router.Group("/v2")
	v2.POST("/mutations", handler.handleSubmit)
	v2.GET("/mutations", handler.handleScanHeaders)
	v2.GET("/mutations/:id", handler.handleGetHeader)
	v2.GET("/accounts/:address/nonce", handler.handleGetNonce)
	v2.GET("/status", handler.handleStatus)
	v2.GET("/databases/:address/events", handler.handleDatabaseEvents)

	return router, nil
}

func corsMiddleware() gin.HandlerFunc {
	return cors.New(cors.Config{
		AllowOrigins: []string{"*"},
		AllowMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowHeaders: []string{"Content-Type"},
		MaxAge:       12 * time.Hour,
	})
}

type httpHandler struct {
	node      Node
	realtime  *RealtimeDispatcher
	heartbeat time.Duration
	logger    *zap.Logger
}

func (h *httpHandler) handleSubmit(c *gin.Context) {
	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, maxSubmissionBytes)

	var request transport.Submission
	if err := c.ShouldBindJSON(&request); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}

	response, err := h.node.Submit(c.Request.Context(), request)
	if err != nil {
		h.logger.Error("failed to apply submission", zap.Error(err))
		writeServiceError(c, "submit_failed", err)
		return
	}
	if response.Accepted() {
		h.publishAccepted(c.Request.Context(), response.ID)
	}
	c.JSON(http.StatusOK, response)
}

func (h *httpHandler) publishAccepted(ctx context.Context, mutationID string) {
	if h.realtime == nil {
		return
	}
	header, err := h.node.MutationHeader(ctx, mutationID)
	if err != nil {
		h.logger.Warn("accepted mutation header unavailable for realtime", zap.String("mutation_id", mutationID), zap.Error(err))
		return
	}
	database, err := address.FromHex(header.DatabaseAddress)
	if err != nil {
		h.logger.Warn("accepted mutation has no database address", zap.String("mutation_id", mutationID), zap.Error(err))
		return
	}
	dropped := h.realtime.Publish(RealtimeMessage{
		Database:   database,
		EventType:  RealtimeEventMutationAccepted,
		MutationID: header.ID,
		Action:     header.Action,
		Sender:     header.Sender,
		Block:      header.Block,
		Timestamp:  header.CreatedAt,
	})
	if dropped > 0 {
		h.logger.Debug("slow event subscribers missed a mutation",
			zap.String("database_address", database.String()),
			zap.String("mutation_id", header.ID),
			zap.Int("dropped", dropped))
	}
}

func (h *httpHandler) handleDatabaseEvents(c *gin.Context) {
	database, err := address.FromHex(c.Param("address"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_address"})
		return
	}

	ctx := c.Request.Context()
	stream, cleanup := h.realtime.Subscribe(ctx, database)
	defer cleanup()

	c.Header("Content-Type", "text/event-stream")
	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")
	c.Header("X-Accel-Buffering", "no")

	ticker := time.NewTicker(h.heartbeat)
	defer ticker.Stop()

	c.SSEvent(realtimeEventHeartbeat, gin.H{"source": realtimeSourceNode})
	c.Writer.Flush()
	c.Stream(func(_ io.Writer) bool {
		select {
		case <-ctx.Done():
			return false
		case message, ok := <-stream:
			if !ok {
				return false
			}
			c.SSEvent(message.EventType, message)
			return true
		case <-ticker.C:
			c.SSEvent(realtimeEventHeartbeat, gin.H{"source": realtimeSourceNode})
			return true
		}
	})
}

func (h *httpHandler) handleGetNonce(c *gin.Context) {
	account, err := address.FromHex(c.Param("address"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_address"})
		return
	}
	next, err := h.node.Nonce(c.Request.Context(), account)
	if err != nil {
		h.logger.Error("failed to load nonce", zap.String("address", account.String()), zap.Error(err))
		writeServiceError(c, "nonce_failed", err)
		return
	}
	c.JSON(http.StatusOK, transport.NonceResponse{Nonce: nonce.FormatNonce(next)})
}

func (h *httpHandler) handleGetHeader(c *gin.Context) {
	id := strings.TrimSpace(c.Param("id"))
	header, err := h.node.MutationHeader(c.Request.Context(), id)
	if errors.Is(err, devnode.ErrMutationNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": "not_found"})
		return
	}
	if err != nil {
		h.logger.Error("failed to load mutation header", zap.String("mutation_id", id), zap.Error(err))
		writeServiceError(c, "header_failed", err)
		return
	}
	c.JSON(http.StatusOK, header)
}

func (h *httpHandler) handleScanHeaders(c *gin.Context) {
	start, err := parseQueryInt(c, "start", 0)
	if err != nil || start < 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_start"})
		return
	}
	limit, err := parseQueryInt(c, "limit", 0)
	if err != nil || limit < 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_limit"})
		return
	}

	headers, err := h.node.ScanMutationHeaders(c.Request.Context(), start, limit)
	if err != nil {
		h.logger.Error("failed to scan mutation headers", zap.Error(err))
		writeServiceError(c, "scan_failed", err)
		return
	}
	c.JSON(http.StatusOK, transport.HeadersResponse{Headers: headers})
}

func (h *httpHandler) handleStatus(c *gin.Context) {
	status, err := h.node.Status(c.Request.Context())
	if err != nil {
		h.logger.Error("failed to load node status", zap.Error(err))
		writeServiceError(c, "status_failed", err)
		return
	}
	c.JSON(http.StatusOK, status)
}

func parseQueryInt(c *gin.Context, key string, fallback int) (int, error) {
	raw := strings.TrimSpace(c.Query(key))
	if raw == "" {
		return fallback, nil
	}
	return strconv.Atoi(raw)
}

type codedError interface {
	Code() string
}

func writeServiceError(c *gin.Context, label string, err error) {
	body := gin.H{"error": label}
	var coded codedError
	if errors.As(err, &coded) {
		body["code"] = coded.Code()
	}
	c.JSON(http.StatusInternalServerError, body)
}
