package http

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
	"go.uber.org/zap"

	"course-chat/internal/service"
)

// Handlers agrupa los handlers que monta NewRouter. Metrics es opcional.
type Handlers struct {
	Chat     *ChatHandler
	Sessions *SessionHandler
	Messages *MessageHandler
	Courses  *CourseHandler
	Users    *UserHandler
	Health   *HealthHandler
	Metrics  http.Handler
}

// NewRouter configura el router de Gin con middlewares y rutas.
func NewRouter(logger *zap.Logger, serviceName string, jwtSvc *service.JWTService, h Handlers) *gin.Engine {
	r := gin.New()

	r.Use(otelgin.Middleware(serviceName), zapLoggerMiddleware(logger), gin.Recovery(), jsonContentTypeMiddleware())

	r.GET("/healthz", h.Health.Check)
	if h.Metrics != nil {
		r.GET("/metrics", gin.WrapH(h.Metrics))
	}

	api := r.Group("/", RequireBearer(logger, jwtSvc))

	api.POST("/chat", h.Chat.Ask)

	chat := api.Group("/chat")
	chat.GET("/sessions", h.Sessions.List)
	chat.POST("/sessions", h.Sessions.GetOrCreate)
	chat.POST("/sessions/new", h.Sessions.Create)
	chat.PUT("/sessions/:id", h.Sessions.Rename)
	chat.DELETE("/sessions/:id", h.Sessions.Delete)
	chat.GET("/messages", h.Messages.List)
	chat.POST("/messages", h.Messages.Create)

	api.GET("/courses", h.Courses.List)
	api.GET("/courses/:id", h.Courses.Get)

	api.POST("/users/me", h.Users.EnsureMe)

	return r
}

// zapLoggerMiddleware crea un middleware simple de logging con zap.
func zapLoggerMiddleware(logger *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		latency := time.Since(start)
		logger.Info("request",
			zap.String("method", c.Request.Method),
			zap.String("path", c.Request.URL.Path),
			zap.Int("status", c.Writer.Status()),
			zap.Duration("latency", latency),
			zap.String("client_ip", c.ClientIP()),
		)
	}
}

// jsonContentTypeMiddleware fija Content-Type: application/json por defecto;
// los handlers de streaming lo sobrescriben.
func jsonContentTypeMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Writer.Header().Set("Content-Type", "application/json")
		c.Next()
	}
}
