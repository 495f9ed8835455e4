// Package httpapi exposes the conversation service over HTTP with gin.
package httpapi

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/meikuraledutech/chatrelay"
	"github.com/meikuraledutech/chatrelay/conversation"
	"github.com/sirupsen/logrus"
)

const (
	msgMessageRequired        = "Message is required"
	msgMessageSessionRequired = "Message and sessionId are required"
	msgServerError            = "Server error"
)

// Turner runs chat turns. *conversation.Service implements it.
type Turner interface {
	HandleTurn(ctx context.Context, sessionID, message string) (*conversation.Reply, error)
	Ask(ctx context.Context, message string) (*conversation.Reply, error)
}

// Pinger reports store health.
type Pinger interface {
	Ping(ctx context.Context) error
}

type chatRequest struct {
	SessionID string `json:"sessionId"`
	Message   string `json:"message"`
}

type chatResponse struct {
	Response  string `json:"response"`
	SessionID string `json:"sessionId,omitempty"`
}

type handler struct {
	turner Turner
	pinger Pinger
	mode   string
	log    logrus.FieldLogger
}

// New builds the router. mode is chatrelay.ModeSession or chatrelay.ModeStateless.
func New(turner Turner, pinger Pinger, mode string, log logrus.FieldLogger) *gin.Engine {
	h := &handler{turner: turner, pinger: pinger, mode: mode, log: log}

	r := gin.New()
	r.Use(gin.Recovery(), requestLogger(log))
	r.POST("/chat", h.chat)
	r.GET("/healthz", h.healthz)
	return r
}

func (h *handler) chat(c *gin.Context) {
	var req chatRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": h.requiredMessage()})
		return
	}

	var (
		reply *conversation.Reply
		err   error
	)
	if h.mode == chatrelay.ModeStateless {
		reply, err = h.turner.Ask(c.Request.Context(), req.Message)
	} else {
		reply, err = h.turner.HandleTurn(c.Request.Context(), req.SessionID, req.Message)
	}

	if err != nil {
		var ve *chatrelay.ValidationError
		if errors.As(err, &ve) {
			c.JSON(http.StatusBadRequest, gin.H{"error": h.requiredMessage()})
			return
		}
		// Detail stays in the logs.
		c.Set("error_kind", chatrelay.Kind(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": msgServerError})
		return
	}

	c.JSON(http.StatusOK, chatResponse{Response: reply.Content, SessionID: reply.SessionID})
}

func (h *handler) requiredMessage() string {
	if h.mode == chatrelay.ModeStateless {
		return msgMessageRequired
	}
	return msgMessageSessionRequired
}

func (h *handler) healthz(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
	defer cancel()

	if err := h.pinger.Ping(ctx); err != nil {
		h.log.WithError(err).Warn("health check failed")
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "unavailable"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// requestLogger tags each request with an ID and logs one line per request.
func requestLogger(log logrus.FieldLogger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		requestID := c.GetHeader("X-Request-ID")
		if requestID == "" {
			requestID = uuid.NewString()
		}
		c.Header("X-Request-ID", requestID)

		c.Next()

		fields := logrus.Fields{
			"request_id": requestID,
			"method":     c.Request.Method,
			"path":       c.FullPath(),
			"status":     c.Writer.Status(),
			"latency":    time.Since(start),
		}
		if kind, ok := c.Get("error_kind"); ok {
			fields["error_kind"] = kind
		}

		entry := log.WithFields(fields)
		if c.Writer.Status() >= http.StatusInternalServerError {
			entry.Error("request failed")
			return
		}
		entry.Info("request handled")
	}
}
