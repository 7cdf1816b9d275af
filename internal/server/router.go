package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/MarcoPoloResearchLab/moviereviews/backend/internal/movies"
	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/gin-gonic/gin/binding"
	"github.com/google/uuid"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

const (
	requestIDHeader          = "X-Request-ID"
	requestIDContextKey      = "moviereviews_request_id"
	consistencyWarningHeader = "X-Consistency-Warning"
	consistencyWarningStale  = "average_rating_stale"

	errorInvalidRequest = "invalid_request"
	errorNotFound       = "not_found"
	errorStorageFailure = "storage_failure"

	reasonInvalidRequest = "invalid_request"

	defaultHealthTimeout     = 2 * time.Second
	defaultHeartbeatInterval = 15 * time.Second
)

var (
	errMissingMovieService  = errors.New("movie service dependency required")
	errMissingReviewService = errors.New("review service dependency required")
	errMissingRealtime      = errors.New("realtime dispatcher dependency required")
)

// HealthCheck reports whether the backing store is reachable.
type HealthCheck func(ctx context.Context) error

type Dependencies struct {
	MovieService      *movies.MovieService
	ReviewService     *movies.ReviewService
	Realtime          *RealtimeDispatcher
	HealthCheck       HealthCheck
	Logger            *zap.Logger
	CORSOrigins       []string
	HeartbeatInterval time.Duration
}

func NewHTTPHandler(deps Dependencies) (http.Handler, error) {
	if deps.MovieService == nil {
		return nil, errMissingMovieService
	}
	if deps.ReviewService == nil {
		return nil, errMissingReviewService
	}
	if deps.Realtime == nil {
		return nil, errMissingRealtime
	}

	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	heartbeat := deps.HeartbeatInterval
	if heartbeat <= 0 {
		heartbeat = defaultHeartbeatInterval
	}

	binding.EnableDecoderDisallowUnknownFields = true

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(requestIDMiddleware())
	router.Use(requestLogMiddleware(logger))
	router.Use(corsMiddleware(deps.CORSOrigins...))

	handler := &httpHandler{
		movieService:      deps.MovieService,
		reviewService:     deps.ReviewService,
		realtime:          deps.Realtime,
		healthCheck:       deps.HealthCheck,
		logger:            logger,
		heartbeatInterval: heartbeat,
	}

	router.GET("/healthz", handler.handleHealth)

	router.GET("/movies", handler.handleListMovies)
	router.POST("/movies", handler.handleCreateMovie)
	router.PUT("/movies", handler.handleUpdateMovie)
	router.DELETE("/movies", handler.handleDeleteMovie)
	router.GET("/movies/events", handler.handleRatingEvents)

	router.GET("/reviews", handler.handleListReviews)
	router.POST("/reviews", handler.handleCreateReview)
	router.PUT("/reviews", handler.handleUpdateReview)
	router.DELETE("/reviews", handler.handleDeleteReview)

	return router, nil
}

type httpHandler struct {
	movieService      *movies.MovieService
	reviewService     *movies.ReviewService
	realtime          *RealtimeDispatcher
	healthCheck       HealthCheck
	logger            *zap.Logger
	heartbeatInterval time.Duration
}

func corsMiddleware(origins ...string) gin.HandlerFunc {
	cfg := cors.Config{
		AllowMethods:  []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodDelete, http.MethodOptions},
		AllowHeaders:  []string{"Content-Type", requestIDHeader},
		ExposeHeaders: []string{requestIDHeader, consistencyWarningHeader},
		MaxAge:        12 * time.Hour,
	}
	allowAll := len(origins) == 0
	for _, origin := range origins {
		if origin == "*" {
			allowAll = true
		}
	}
	if allowAll {
		cfg.AllowAllOrigins = true
	} else {
		cfg.AllowOrigins = origins
	}
	return cors.New(cfg)
}

func requestIDMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		requestID := c.GetHeader(requestIDHeader)
		if requestID == "" || len(requestID) > 128 {
			requestID = newRequestID()
		}
		c.Set(requestIDContextKey, requestID)
		c.Header(requestIDHeader, requestID)
		c.Next()
	}
}

func newRequestID() string {
	value, err := uuid.NewV7()
	if err != nil {
		return uuid.NewString()
	}
	return value.String()
}

func requestLogMiddleware(logger *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		started := time.Now()
		c.Next()
		status := c.Writer.Status()
		level := zapcore.InfoLevel
		if status >= http.StatusInternalServerError {
			level = zapcore.WarnLevel
		}
		logger.Log(level, "http request",
			zap.String("method", c.Request.Method),
			zap.String("path", c.Request.URL.Path),
			zap.Int("status", status),
			zap.Duration("latency", time.Since(started)),
			zap.String("request_id", c.GetString(requestIDContextKey)))
	}
}

func (h *httpHandler) respondInvalidRequest(c *gin.Context, operation string, err error) {
	h.logger.Debug("rejected request body",
		zap.String("operation", operation),
		zap.String("request_id", c.GetString(requestIDContextKey)),
		zap.Error(err))
	c.JSON(http.StatusBadRequest, gin.H{
		"error": errorInvalidRequest,
		"code":  fmt.Sprintf("%s.%s", operation, reasonInvalidRequest),
	})
}

func (h *httpHandler) respondError(c *gin.Context, err error) {
	code := ""
	var serviceErr *movies.ServiceError
	if errors.As(err, &serviceErr) {
		code = serviceErr.Code()
	}
	switch {
	case errors.Is(err, movies.ErrValidation):
		c.JSON(http.StatusBadRequest, gin.H{"error": errorInvalidRequest, "code": code})
	case errors.Is(err, movies.ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": errorNotFound, "code": code})
	default:
		h.logger.Error("request failed",
			zap.String("code", code),
			zap.String("request_id", c.GetString(requestIDContextKey)),
			zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": errorStorageFailure, "code": code})
	}
}

func (h *httpHandler) handleHealth(c *gin.Context) {
	if h.healthCheck == nil {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
		return
	}
	ctx, cancel := context.WithTimeout(c.Request.Context(), defaultHealthTimeout)
	defer cancel()
	if err := h.healthCheck(ctx); err != nil {
		h.logger.Warn("health check failed", zap.Error(err))
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "unavailable"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}
