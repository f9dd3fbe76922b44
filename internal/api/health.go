package api

import (
	"net/http"
	"time"

	"github.com/speaklab/practice-engine/internal/database"
	"github.com/speaklab/practice-engine/internal/worker"
)

// QueueStatser reports scoring queue state for the health check.
type QueueStatser interface {
	Stats() worker.QueueStats
}

type HealthResponse struct {
	Status        string            `json:"status"`
	Version       string            `json:"version"`
	UptimeSeconds int64             `json:"uptime_seconds"`
	Checks        map[string]string `json:"checks"`
	Queue         worker.QueueStats `json:"queue"`
}

type HealthHandler struct {
	db        *database.DB
	queue     QueueStatser
	version   string
	startTime time.Time
}

func NewHealthHandler(db *database.DB, queue QueueStatser, version string, startTime time.Time) *HealthHandler {
	return &HealthHandler{
		db:        db,
		queue:     queue,
		version:   version,
		startTime: startTime,
	}
}

func (h *HealthHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	resp := HealthResponse{
		Status:        "ok",
		Version:       h.version,
		UptimeSeconds: int64(time.Since(h.startTime).Seconds()),
		Checks:        map[string]string{},
	}

	if h.db != nil {
		if err := h.db.HealthCheck(r.Context()); err != nil {
			resp.Status = "degraded"
			resp.Checks["database"] = "down: " + err.Error()
		} else {
			resp.Checks["database"] = "ok"
		}
	}

	if h.queue != nil {
		resp.Queue = h.queue.Stats()
	}

	status := http.StatusOK
	if resp.Status != "ok" {
		status = http.StatusServiceUnavailable
	}
	WriteJSON(w, status, resp)
}
