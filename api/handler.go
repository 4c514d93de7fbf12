package api

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"net/http"
	"path/filepath"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/mem"

	"pdfextract/config"
	"pdfextract/extract"
	"pdfextract/task"
	"pdfextract/worker"
)

type Handler struct {
	store    task.Store
	queue    task.Queue
	pool     *worker.Pool
	pipeline *extract.Pipeline
	cfg      *config.Config
	log      zerolog.Logger
	started  time.Time
}

func NewHandler(store task.Store, queue task.Queue, pool *worker.Pool, pipeline *extract.Pipeline, cfg *config.Config, log zerolog.Logger) *Handler {
	return &Handler{
		store:    store,
		queue:    queue,
		pool:     pool,
		pipeline: pipeline,
		cfg:      cfg,
		log:      log.With().Str("component", "api").Logger(),
		started:  time.Now(),
	}
}

// handleSubmitDocument accepts a PDF upload and queues it for extraction.
func (h *Handler) handleSubmitDocument(c *gin.Context) {
	fileHeader, err := c.FormFile("file")
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "No file provided. Upload a PDF under the 'file' form field."})
		return
	}

	if ext := strings.ToLower(filepath.Ext(fileHeader.Filename)); ext != ".pdf" {
		c.JSON(http.StatusBadRequest, gin.H{"error": fmt.Sprintf("Unsupported file type %q. Only PDF files are accepted.", ext)})
		return
	}

	if h.cfg.MaxFileSize > 0 && fileHeader.Size > h.cfg.MaxFileSize {
		c.JSON(http.StatusRequestEntityTooLarge, gin.H{
			"error": fmt.Sprintf("File too large: %d bytes (limit %d)", fileHeader.Size, h.cfg.MaxFileSize),
		})
		return
	}

	f, err := fileHeader.Open()
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Could not read uploaded file"})
		return
	}
	defer f.Close()

	data, err := io.ReadAll(f)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Could not read uploaded file"})
		return
	}

	if len(data) == 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Uploaded file is empty"})
		return
	}

	// Cheap magic-byte check up front so obvious non-PDFs are rejected
	// synchronously instead of burning a queue slot.
	if !bytes.HasPrefix(data, []byte("%PDF-")) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "File does not look like a PDF (missing %PDF header)"})
		return
	}

	ctx := c.Request.Context()
	t, err := h.store.Create(ctx, fileHeader.Filename, fileHeader.Size)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to create task", "details": err.Error()})
		return
	}

	if err := h.store.PutPayload(ctx, t.ID, data); err != nil {
		_ = h.store.Delete(ctx, t.ID)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to store document", "details": err.Error()})
		return
	}

	if err := h.queue.Enqueue(ctx, t.ID); err != nil {
		// A rejected submission leaves no trace behind.
		_ = h.store.DeletePayload(ctx, t.ID)
		_ = h.store.Delete(ctx, t.ID)
		if errors.Is(err, task.ErrQueueFull) {
			c.JSON(http.StatusServiceUnavailable, gin.H{"error": "Server is at capacity, try again later"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to enqueue task", "details": err.Error()})
		return
	}

	h.log.Info().Str("task_id", t.ID).Str("filename", t.Filename).Int64("size", t.Size).Msg("document accepted")
	c.JSON(http.StatusAccepted, gin.H{
		"task_id":  t.ID,
		"status":   t.Status,
		"message":  "Document accepted for processing",
		"filename": t.Filename,
		"size":     t.Size,
	})
}

// handleGetTask reports current status and progress of one task.
func (h *Handler) handleGetTask(c *gin.Context) {
	t, err := h.store.Get(c.Request.Context(), c.Param("taskId"))
	if err != nil {
		if errors.Is(err, task.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "Task not found"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, t)
}

// handleGetResult returns the extraction result for a completed task.
// For tasks still in flight it reports their status instead.
func (h *Handler) handleGetResult(c *gin.Context) {
	t, err := h.store.Get(c.Request.Context(), c.Param("taskId"))
	if err != nil {
		if errors.Is(err, task.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "Task not found"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	switch t.Status {
	case task.StatusCompleted:
		c.JSON(http.StatusOK, gin.H{
			"task_id":      t.ID,
			"filename":     t.Filename,
			"backend_used": t.Backend,
			"result":       t.Result,
		})
	case task.StatusFailed:
		c.JSON(http.StatusOK, gin.H{
			"task_id": t.ID,
			"status":  t.Status,
			"error":   t.Error,
		})
	default:
		c.JSON(http.StatusAccepted, gin.H{
			"task_id":  t.ID,
			"status":   t.Status,
			"progress": t.Progress,
			"message":  t.Message,
		})
	}
}

// handleListTasks lists all live task records.
func (h *Handler) handleListTasks(c *gin.Context) {
	tasks, err := h.store.List(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"tasks": tasks, "count": len(tasks)})
}

// handleDeleteTask removes a task record and its stored document.
func (h *Handler) handleDeleteTask(c *gin.Context) {
	id := c.Param("taskId")
	ctx := c.Request.Context()

	if err := h.store.Delete(ctx, id); err != nil {
		if errors.Is(err, task.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "Task not found"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	_ = h.store.DeletePayload(ctx, id)

	c.JSON(http.StatusOK, gin.H{"message": "Task deleted", "task_id": id})
}

// handleWorkerStats exposes the advisory per-worker counters.
func (h *Handler) handleWorkerStats(c *gin.Context) {
	c.JSON(http.StatusOK, h.pool.Stats())
}

// handleQueueStatus reports queue depth against capacity.
func (h *Handler) handleQueueStatus(c *gin.Context) {
	size, err := h.queue.Size(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"size": size, "capacity": h.queue.Capacity()})
}

// handleQueueClear drops all pending task ids. Records of the dropped
// tasks stay queued until they expire; this is an operator escape hatch.
func (h *Handler) handleQueueClear(c *gin.Context) {
	n, err := h.queue.Clear(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	h.log.Warn().Int("dropped", n).Msg("queue cleared")
	c.JSON(http.StatusOK, gin.H{"message": "Queue cleared", "dropped": n})
}

// handleHealth checks store connectivity and samples host load.
func (h *Handler) handleHealth(c *gin.Context) {
	status := "healthy"
	storeStatus := "connected"
	code := http.StatusOK
	if err := h.store.Ping(c.Request.Context()); err != nil {
		status = "degraded"
		storeStatus = fmt.Sprintf("unavailable: %v", err)
		code = http.StatusServiceUnavailable
	}

	system := gin.H{}
	if pct, err := cpu.Percent(0, false); err == nil && len(pct) > 0 {
		system["cpu_percent"] = pct[0]
	}
	if vm, err := mem.VirtualMemory(); err == nil {
		system["memory_percent"] = vm.UsedPercent
		system["memory_available"] = vm.Available
	}

	queueSize, _ := h.queue.Size(c.Request.Context())
	stats := h.pool.Stats()

	c.JSON(code, gin.H{
		"status":         status,
		"store":          storeStatus,
		"uptime_seconds": time.Since(h.started).Seconds(),
		"workers":        stats.ActiveWorkers,
		"queue_size":     queueSize,
		"system":         system,
	})
}

// handleRoot describes the service and its extraction chain.
func (h *Handler) handleRoot(c *gin.Context) {
	var backends []gin.H
	for _, d := range h.pipeline.Descriptors() {
		backends = append(backends, gin.H{
			"name":       d.Name,
			"capability": d.Capability,
			"terminal":   d.Terminal,
		})
	}

	c.JSON(http.StatusOK, gin.H{
		"service":  "pdfextract",
		"backends": backends,
		"endpoints": gin.H{
			"submit":  "POST /api/v1/documents",
			"status":  "GET /api/v1/tasks/:taskId",
			"result":  "GET /api/v1/tasks/:taskId/result",
			"tasks":   "GET /api/v1/tasks",
			"delete":  "DELETE /api/v1/tasks/:taskId",
			"workers": "GET /api/v1/workers",
			"queue":   "GET /api/v1/queue",
			"health":  "GET /health",
		},
	})
}
