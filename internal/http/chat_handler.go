package http

import (
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"course-chat/internal/domain"
	"course-chat/internal/llm"
	"course-chat/internal/observability"
	"course-chat/internal/service"
	"course-chat/internal/stream"
)

// ChatHandler transmite respuestas del modelo como texto plano fragmentado.
type ChatHandler struct {
	logger  *zap.Logger
	gateway llm.Gateway
	limiter service.ChatRateLimiter
	metrics *observability.StreamingMetrics
}

// NewChatHandler crea el handler. limiter y metrics son opcionales.
func NewChatHandler(
	logger *zap.Logger,
	gateway llm.Gateway,
	limiter service.ChatRateLimiter,
	metrics *observability.StreamingMetrics,
) *ChatHandler {
	return &ChatHandler{
		logger:  logger,
		gateway: gateway,
		limiter: limiter,
		metrics: metrics,
	}
}

// Ask maneja POST /chat. Los errores previos al primer byte se responden con
// JSON; una falla posterior solo puede señalarse con el trailer X-Stream-Status.
func (h *ChatHandler) Ask(c *gin.Context) {
	start := time.Now()
	userID, ok := requireUser(c)
	if !ok {
		return
	}

	var req struct {
		Question string `json:"question"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		h.logger.Warn("invalid chat request", zap.Error(err))
		h.metrics.RecordError(observability.EndpointChat, observability.ErrorCodeValidation)
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request"})
		return
	}

	if h.limiter != nil && !h.limiter.Allow(userID) {
		h.metrics.RecordError(observability.EndpointChat, observability.ErrorCodeRateLimited)
		writeError(c, h.logger, "chat", domain.ErrRateLimited)
		return
	}

	answer, err := h.gateway.StreamAnswer(c.Request.Context(), req.Question)
	if err != nil {
		code := observability.ErrorCodeGateway
		if errors.Is(err, domain.ErrValidation) {
			code = observability.ErrorCodeValidation
		}
		h.metrics.RecordError(observability.EndpointChat, code)
		h.metrics.RecordRequest(observability.EndpointChat, false)
		writeError(c, h.logger, "open answer stream", err)
		return
	}
	defer answer.Close()

	h.metrics.StreamStarted(observability.EndpointChat)
	success := false
	defer func() {
		h.metrics.StreamEnded(observability.EndpointChat, time.Since(start), success)
		h.metrics.RecordRequest(observability.EndpointChat, success)
	}()

	w := c.Writer
	header := w.Header()
	header.Set("Content-Type", "text/plain; charset=utf-8")
	header.Set("Cache-Control", "no-cache")
	header.Set("X-Content-Type-Options", "nosniff")
	header.Set("Trailer", stream.StatusTrailer)
	w.WriteHeader(http.StatusOK)
	w.WriteHeaderNow()

	fragments := 0
	for {
		frag, err := answer.Recv()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			h.logger.Warn("answer stream interrupted",
				zap.String("user_id", userID),
				zap.Int("fragments", fragments),
				zap.Error(err),
			)
			h.metrics.RecordError(observability.EndpointChat, observability.ErrorCodeMidStream)
			status := stream.StatusError
			if errors.Is(err, stream.ErrTimeout) {
				status = stream.StatusTimeout
			}
			header.Set(stream.StatusTrailer, status)
			return
		}
		if fragments == 0 {
			h.metrics.RecordTimeToFirstToken(observability.EndpointChat, time.Since(start))
		}
		if _, err := io.WriteString(w, frag); err != nil {
			h.logger.Info("client disconnected", zap.String("user_id", userID), zap.Error(err))
			h.metrics.RecordError(observability.EndpointChat, observability.ErrorCodeDisconnect)
			return
		}
		w.Flush()
		fragments++
		h.metrics.RecordFragment(observability.EndpointChat)
	}

	header.Set(stream.StatusTrailer, stream.StatusComplete)
	success = true
	h.logger.Debug("answer stream complete",
		zap.String("user_id", userID),
		zap.Int("fragments", fragments),
		zap.Duration("duration", time.Since(start)),
	)
}
