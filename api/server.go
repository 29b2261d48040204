// Package api exposes scan triggers and the scan audit trail over HTTP.
package api

import (
	"context"
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/pevans/asinscan/fetcher"
	"github.com/pevans/asinscan/scan"
	"github.com/pevans/asinscan/storage"
)

// DefaultListLimit caps list endpoints when no limit is given.
const DefaultListLimit = 100

// Scanner runs a synchronous scan of one identifier.
type Scanner interface {
	RunOne(ctx context.Context, identifier string) (int, error)
}

// Trigger starts a detached batch run.
type Trigger interface {
	Trigger(limit int) (string, error)
}

// Store is the read side used by the list endpoints.
type Store interface {
	ListScanLogs(ctx context.Context, filter storage.ScanLogFilter) ([]storage.ScanLogEntry, error)
	ListMatchRecords(ctx context.Context, filter storage.MatchFilter) ([]storage.MatchRecord, error)
}

// Server represents the HTTP API server.
type Server struct {
	scanner Scanner
	trigger Trigger
	store   Store
	metrics http.Handler
	logger  *zap.Logger
}

// NewServer creates a new API server. metrics may be nil, in which case
// /metrics is not routed.
func NewServer(scanner Scanner, trigger Trigger, store Store, metrics http.Handler, logger *zap.Logger) *Server {
	return &Server{
		scanner: scanner,
		trigger: trigger,
		store:   store,
		metrics: metrics,
		logger:  logger,
	}
}

// SetupRouter configures the Gin router with all routes.
func (s *Server) SetupRouter() *gin.Engine {
	router := gin.New()
	router.Use(gin.Recovery(), s.requestLogger())

	// Add CORS middleware
	router.Use(func(c *gin.Context) {
		c.Header("Access-Control-Allow-Origin", "*")
		c.Header("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		c.Header("Access-Control-Allow-Headers", "Content-Type, Authorization")

		if c.Request.Method == "OPTIONS" {
			c.AbortWithStatus(http.StatusOK)
			return
		}

		c.Next()
	})

	api := router.Group("/api/v1")
	api.POST("/scans", s.HandleTriggerBatch)
	api.POST("/scans/:identifier", s.HandleScanOne)
	api.GET("/scan-logs", s.HandleListScanLogs)
	api.GET("/matches", s.HandleListMatches)

	if s.metrics != nil {
		router.GET("/metrics", gin.WrapH(s.metrics))
	}

	return router
}

// requestLogger logs each request through zap instead of gin's writer.
func (s *Server) requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()
		s.logger.Debug("HTTP request",
			zap.String("method", c.Request.Method),
			zap.String("path", c.FullPath()),
			zap.Int("status", c.Writer.Status()))
	}
}

// ScanResponse represents the response for POST /api/v1/scans/{identifier}.
type ScanResponse struct {
	Identifier string `json:"identifier"`
	Matches    int    `json:"matches"`
}

// TriggerResponse represents the response for POST /api/v1/scans.
type TriggerResponse struct {
	RunID string `json:"run_id"`
}

// ListScanLogsResponse represents the response for GET /api/v1/scan-logs.
type ListScanLogsResponse struct {
	ScanLogs []storage.ScanLogEntry `json:"scan_logs"`
	Total    int                    `json:"total"`
}

// ListMatchesResponse represents the response for GET /api/v1/matches.
type ListMatchesResponse struct {
	Matches []storage.MatchRecord `json:"matches"`
	Total   int                   `json:"total"`
}

// errorResponse creates a standardized error response.
func errorResponse(code, message string) gin.H {
	return gin.H{
		"error": gin.H{
			"code":    code,
			"message": message,
		},
	}
}

// handleError maps domain errors to HTTP responses.
func (s *Server) handleError(c *gin.Context, err error) {
	var fetchErr *fetcher.FetchError

	switch {
	case errors.As(err, &fetchErr):
		c.JSON(http.StatusBadGateway, errorResponse("fetch_failed", err.Error()))
	case errors.Is(err, scan.ErrBatchRunning):
		c.JSON(http.StatusConflict, errorResponse("conflict", err.Error()))
	default:
		s.logger.Error("Request failed", zap.String("path", c.FullPath()), zap.Error(err))
		c.JSON(http.StatusInternalServerError, errorResponse("internal_error", "Failed to process request"))
	}
}

// queryLimit reads ?limit=, falling back to def. It reports false after
// writing a 400 response.
func queryLimit(c *gin.Context, def int) (int, bool) {
	raw := c.Query("limit")
	if raw == "" {
		return def, true
	}

	limit, err := strconv.Atoi(raw)
	if err != nil || limit < 0 {
		c.JSON(http.StatusBadRequest, errorResponse("bad_request", "limit must be a non-negative integer"))
		return 0, false
	}

	return limit, true
}

// HandleScanOne handles POST /api/v1/scans/{identifier}.
func (s *Server) HandleScanOne(c *gin.Context) {
	identifier := c.Param("identifier")

	matches, err := s.scanner.RunOne(c.Request.Context(), identifier)
	if err != nil {
		s.handleError(c, err)
		return
	}

	c.JSON(http.StatusOK, ScanResponse{Identifier: identifier, Matches: matches})
}

// HandleTriggerBatch handles POST /api/v1/scans. The batch runs detached;
// poll /api/v1/scan-logs for its run id.
func (s *Server) HandleTriggerBatch(c *gin.Context) {
	limit, ok := queryLimit(c, 0)
	if !ok {
		return
	}

	runID, err := s.trigger.Trigger(limit)
	if err != nil {
		s.handleError(c, err)
		return
	}

	c.JSON(http.StatusAccepted, TriggerResponse{RunID: runID})
}

// HandleListScanLogs handles GET /api/v1/scan-logs.
func (s *Server) HandleListScanLogs(c *gin.Context) {
	limit, ok := queryLimit(c, DefaultListLimit)
	if !ok {
		return
	}

	logs, err := s.store.ListScanLogs(c.Request.Context(), storage.ScanLogFilter{
		RunID: c.Query("run_id"),
		Limit: limit,
	})
	if err != nil {
		s.handleError(c, err)
		return
	}
	if logs == nil {
		logs = []storage.ScanLogEntry{}
	}

	c.JSON(http.StatusOK, ListScanLogsResponse{ScanLogs: logs, Total: len(logs)})
}

// HandleListMatches handles GET /api/v1/matches.
func (s *Server) HandleListMatches(c *gin.Context) {
	limit, ok := queryLimit(c, DefaultListLimit)
	if !ok {
		return
	}

	records, err := s.store.ListMatchRecords(c.Request.Context(), storage.MatchFilter{
		Identifier: c.Query("identifier"),
		Limit:      limit,
	})
	if err != nil {
		s.handleError(c, err)
		return
	}
	if records == nil {
		records = []storage.MatchRecord{}
	}

	c.JSON(http.StatusOK, ListMatchesResponse{Matches: records, Total: len(records)})
}
