// Package api serves a read-only HTTP view of a catalog database.
package api

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/pahproject/catalogdb/internal/histogram"
	"github.com/pahproject/catalogdb/internal/metrics"
	"github.com/pahproject/catalogdb/internal/storage"
	"github.com/pahproject/catalogdb/pkg/types"
)

// Catalog is the read side of a catalog database
type Catalog interface {
	Path() string
	Ping(ctx context.Context) error
	Tables(ctx context.Context) ([]string, error)
	Columns(ctx context.Context, table string) ([]types.ColumnInfo, error)
	CountRows(ctx context.Context, table string) (int64, error)
	ColumnValues(ctx context.Context, table, column string) ([]float64, error)
	ListFiles(ctx context.Context, limit, offset int) ([]types.FileRecord, error)
	ListOverlaps(ctx context.Context, table string) ([]types.OverlapRecord, error)
}

// Handler handles HTTP API requests
type Handler struct {
	catalog   Catalog
	version   string
	histogram histogram.Options
	started   time.Time
}

// NewHandler creates a new API handler. defaults supplies the histogram
// threshold and bin count when a request does not.
func NewHandler(catalog Catalog, version string, defaults histogram.Options) *Handler {
	return &Handler{
		catalog:   catalog,
		version:   version,
		histogram: defaults,
		started:   time.Now(),
	}
}

// SetupRoutes configures the API routes
func SetupRoutes(router *gin.Engine, handler *Handler) {
	api := router.Group("/api/v1")
	{
		api.GET("/tables", handler.ListTables)
		api.GET("/tables/:table/columns", handler.ListColumns)
		api.GET("/tables/:table/histogram", handler.GetHistogram)
		api.GET("/tables/:table/overlaps", handler.ListOverlaps)
		api.GET("/files", handler.ListFiles)
		api.GET("/files/count", handler.CountFiles)
	}

	router.GET("/health", handler.HealthCheck)
	router.GET("/metrics", gin.WrapH(metrics.Handler()))
}

// ListTables returns every table with its row count
func (h *Handler) ListTables(c *gin.Context) {
	ctx := c.Request.Context()

	names, err := h.catalog.Tables(ctx)
	if err != nil {
		respondError(c, err)
		return
	}

	tables := make([]types.TableSummary, 0, len(names))
	for _, name := range names {
		rows, err := h.catalog.CountRows(ctx, name)
		if err != nil {
			respondError(c, err)
			return
		}
		tables = append(tables, types.TableSummary{Name: name, Rows: rows})
	}

	c.JSON(http.StatusOK, gin.H{"tables": tables})
}

// ListColumns returns the live columns of a table
func (h *Handler) ListColumns(c *gin.Context) {
	table := c.Param("table")

	cols, err := h.catalog.Columns(c.Request.Context(), table)
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"table": table, "columns": cols})
}

// CountFiles returns the number of catalogued files
func (h *Handler) CountFiles(c *gin.Context) {
	count, err := h.catalog.CountRows(c.Request.Context(), storage.FilesTableName)
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"table": storage.FilesTableName, "count": count})
}

// ListFiles returns one page of catalogued files. The store caps limit.
func (h *Handler) ListFiles(c *gin.Context) {
	limit, err := strconv.Atoi(c.DefaultQuery("limit", "100"))
	if err != nil || limit <= 0 {
		badRequest(c, "limit must be a positive integer")
		return
	}
	offset, err := strconv.Atoi(c.DefaultQuery("offset", "0"))
	if err != nil || offset < 0 {
		badRequest(c, "offset must be a non-negative integer")
		return
	}

	files, err := h.catalog.ListFiles(c.Request.Context(), limit, offset)
	if err != nil {
		respondError(c, err)
		return
	}
	if files == nil {
		files = []types.FileRecord{}
	}

	c.JSON(http.StatusOK, gin.H{"files": files, "limit": limit, "offset": offset})
}

// ListOverlaps returns every row of an overlaps-shaped table
func (h *Handler) ListOverlaps(c *gin.Context) {
	table := c.Param("table")

	overlaps, err := h.catalog.ListOverlaps(c.Request.Context(), table)
	if err != nil {
		respondError(c, err)
		return
	}
	if overlaps == nil {
		overlaps = []types.OverlapRecord{}
	}

	c.JSON(http.StatusOK, gin.H{"table": table, "overlaps": overlaps})
}

// GetHistogram bins the values of a numeric column, file1_id by default
func (h *Handler) GetHistogram(c *gin.Context) {
	opts := h.histogram
	column := c.DefaultQuery("column", histogram.DefaultColumn)

	if raw := c.Query("threshold"); raw != "" {
		v, err := strconv.ParseInt(raw, 10, 64)
		if err != nil || v < 0 {
			badRequest(c, "threshold must be a non-negative integer")
			return
		}
		opts.Threshold = v
	}
	if raw := c.Query("bins"); raw != "" {
		v, err := strconv.Atoi(raw)
		if err != nil || v <= 0 || v > 100000 {
			badRequest(c, "bins must be an integer between 1 and 100000")
			return
		}
		opts.Bins = v
	}

	values, err := h.catalog.ColumnValues(c.Request.Context(), c.Param("table"), column)
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, histogram.Compute(values, opts))
}

// HealthCheck provides service health information
func (h *Handler) HealthCheck(c *gin.Context) {
	response := types.HealthResponse{
		Status:    "healthy",
		Timestamp: time.Now(),
		Version:   h.version,
		Uptime:    time.Since(h.started).Round(time.Second).String(),
		Database:  h.catalog.Path(),
	}

	if err := h.catalog.Ping(c.Request.Context()); err != nil {
		response.Status = "unhealthy"
		c.JSON(http.StatusServiceUnavailable, response)
		return
	}

	c.JSON(http.StatusOK, response)
}

func badRequest(c *gin.Context, message string) {
	c.JSON(http.StatusBadRequest, types.ErrorResponse{
		Error:   "invalid request",
		Message: message,
		Code:    http.StatusBadRequest,
	})
}

// respondError maps storage errors onto HTTP status codes
func respondError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, storage.ErrTableNotFound), errors.Is(err, storage.ErrColumnNotFound):
		c.JSON(http.StatusNotFound, types.ErrorResponse{
			Error:   "not found",
			Message: err.Error(),
			Code:    http.StatusNotFound,
		})
	case errors.Is(err, storage.ErrInvalidIdentifier):
		badRequest(c, err.Error())
	default:
		c.JSON(http.StatusInternalServerError, types.ErrorResponse{
			Error:   "query failed",
			Message: err.Error(),
			Code:    http.StatusInternalServerError,
		})
	}
}
