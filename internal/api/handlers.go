package api

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"deepguard/internal/models"
	"deepguard/internal/service/scan"
	"deepguard/internal/worker"
)

// Scanner runs the scan pipeline for uploads and links.
type Scanner interface {
	ScanUpload(ctx context.Context, kind models.MediaKind, filename string, body io.Reader) (*models.ScanResult, error)
	ScanLink(ctx context.Context, pageURL string) (*models.ScanResult, error)
}

// HistoryLister returns recent scan records.
type HistoryLister interface {
	List(ctx context.Context, limit int) ([]*models.ScanRecord, error)
}

// Dispatcher bounds the number of scans running at once.
type Dispatcher interface {
	Submit(ctx context.Context, key string, fn worker.Task) error
	Stats() (running, idle int)
}

// Pinger reports whether a backing service is reachable.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Options tunes request handling. Zero values disable the corresponding limit.
type Options struct {
	MaxUploadBytes int64
	ScanTimeout    time.Duration
	Cache          Pinger
}

// Handler wires HTTP routes to the scan and history services.
type Handler struct {
	scans     Scanner
	history   HistoryLister
	workers   Dispatcher
	cache     Pinger
	maxUpload int64
	timeout   time.Duration
}

// NewHandler constructs a Handler instance. history and workers may be nil.
func NewHandler(scans Scanner, history HistoryLister, workers Dispatcher, opts Options) *Handler {
	return &Handler{
		scans:     scans,
		history:   history,
		workers:   workers,
		cache:     opts.Cache,
		maxUpload: opts.MaxUploadBytes,
		timeout:   opts.ScanTimeout,
	}
}

// RegisterRoutes attaches all HTTP routes to the router.
func (h *Handler) RegisterRoutes(router *gin.Engine) {
	router.POST("/image/scan", h.scanUpload(models.MediaImage))
	router.POST("/audio/scan", h.scanUpload(models.MediaAudio))
	router.POST("/video/scan", h.scanUpload(models.MediaVideo))
	router.POST("/link/scan", h.scanLink)
	router.GET("/history", h.listHistory)
	router.GET("/healthz", h.healthz)
}

func (h *Handler) scanUpload(kind models.MediaKind) gin.HandlerFunc {
	return func(c *gin.Context) {
		if h.maxUpload > 0 {
			c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, h.maxUpload)
		}
		if err := c.Request.ParseMultipartForm(32 << 20); err != nil {
			var tooLarge *http.MaxBytesError
			if errors.As(err, &tooLarge) {
				c.JSON(http.StatusRequestEntityTooLarge, gin.H{"error": "file too large"})
				return
			}
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid multipart form"})
			return
		}
		defer c.Request.MultipartForm.RemoveAll()

		file, err := c.FormFile("file")
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "file is required"})
			return
		}
		if h.maxUpload > 0 && file.Size > h.maxUpload {
			c.JSON(http.StatusRequestEntityTooLarge, gin.H{"error": "file too large"})
			return
		}
		src, err := file.Open()
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "open file failed"})
			return
		}
		defer src.Close()

		var result *models.ScanResult
		err = h.run(c, func(ctx context.Context) error {
			var scanErr error
			result, scanErr = h.scans.ScanUpload(ctx, kind, file.Filename, src)
			return scanErr
		})
		if err != nil {
			h.writeError(c, kind, err)
			return
		}

		probabilityKey := "deepfake_probability"
		if kind == models.MediaAudio {
			probabilityKey = "voice_clone_probability"
		}
		c.JSON(http.StatusOK, gin.H{
			"status":          result.Status,
			probabilityKey:    result.Probability,
			"model_breakdown": result.Breakdown,
		})
	}
}

type linkRequest struct {
	URL string `json:"url" form:"url"`
}

func (h *Handler) scanLink(c *gin.Context) {
	pageURL := linkFromRequest(c)
	if pageURL == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "url is required"})
		return
	}

	var result *models.ScanResult
	err := h.run(c, func(ctx context.Context) error {
		var scanErr error
		result, scanErr = h.scans.ScanLink(ctx, pageURL)
		return scanErr
	})
	if err != nil {
		h.writeError(c, models.MediaUnknown, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"status":               result.Status,
		"media_type":           result.Kind,
		"deepfake_probability": result.Probability,
		"details":              result.Breakdown,
	})
}

// linkFromRequest reads url from the query string, then a form field, then a JSON body.
func linkFromRequest(c *gin.Context) string {
	if v := strings.TrimSpace(c.Query("url")); v != "" {
		return v
	}
	if v := strings.TrimSpace(c.PostForm("url")); v != "" {
		return v
	}
	if strings.HasPrefix(c.ContentType(), "application/json") {
		var req linkRequest
		if err := c.ShouldBindJSON(&req); err == nil {
			return strings.TrimSpace(req.URL)
		}
	}
	return ""
}

func (h *Handler) listHistory(c *gin.Context) {
	if h.history == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "history unavailable"})
		return
	}
	limit := 0
	if raw := c.Query("limit"); raw != "" {
		v, err := strconv.Atoi(raw)
		if err != nil || v <= 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid limit"})
			return
		}
		limit = v
	}
	records, err := h.history.List(c.Request.Context(), limit)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "load history failed"})
		return
	}
	if records == nil {
		records = []*models.ScanRecord{}
	}
	c.JSON(http.StatusOK, gin.H{"items": records})
}

func (h *Handler) healthz(c *gin.Context) {
	resp := gin.H{"status": "ok"}
	if h.workers != nil {
		running, idle := h.workers.Stats()
		resp["workers"] = gin.H{"running": running, "idle": idle}
	}
	if h.cache != nil {
		ctx, cancel := context.WithTimeout(c.Request.Context(), time.Second)
		defer cancel()
		resp["cache"] = "ok"
		if err := h.cache.Ping(ctx); err != nil {
			resp["cache"] = "unavailable"
		}
	}
	c.JSON(http.StatusOK, resp)
}

// run executes fn under the scan timeout, on the worker pool when one is configured.
// Scans are keyed by client IP so one client cannot starve the others.
func (h *Handler) run(c *gin.Context, fn worker.Task) error {
	ctx := c.Request.Context()
	if h.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, h.timeout)
		defer cancel()
	}
	if h.workers == nil {
		return fn(ctx)
	}
	return h.workers.Submit(ctx, c.ClientIP(), fn)
}

func (h *Handler) writeError(c *gin.Context, kind models.MediaKind, err error) {
	status, msg := errorResponse(kind, err)
	c.JSON(status, gin.H{"error": msg})
}

func errorResponse(kind models.MediaKind, err error) (int, string) {
	switch {
	case errors.Is(err, scan.ErrInvalidFormat):
		return http.StatusBadRequest, fmt.Sprintf("Invalid %s format", kind)
	case errors.Is(err, scan.ErrUnresolvableLink):
		return http.StatusBadRequest, "could not extract media from link"
	case errors.Is(err, scan.ErrUnknownMediaType):
		return http.StatusBadRequest, "unknown media type"
	case errors.Is(err, scan.ErrDownloadFailed):
		return http.StatusBadRequest, "failed to download media"
	case errors.Is(err, scan.ErrUnsupportedMediaType):
		return http.StatusBadRequest, "unsupported media type"
	case errors.Is(err, scan.ErrFileTooLarge):
		return http.StatusRequestEntityTooLarge, "file too large"
	case errors.Is(err, scan.ErrInferenceUnavailable):
		return http.StatusServiceUnavailable, "inference unavailable"
	case errors.Is(err, worker.ErrDispatcherBusy):
		return http.StatusTooManyRequests, "server is busy, please retry"
	case errors.Is(err, worker.ErrDispatcherClosed):
		return http.StatusServiceUnavailable, "server is shutting down"
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout, "scan timed out"
	}
	return http.StatusInternalServerError, "scan failed"
}
