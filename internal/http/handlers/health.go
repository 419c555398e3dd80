package handlers

import (
	"context"
	"fmt"
	"net/http"
	"runtime"
	"time"

	"points_ledger/internal/connection"

	"github.com/gin-gonic/gin"
)

// Pinger is the reachability check of the transactional store.
type Pinger interface {
	Ping(ctx context.Context) error
}

// ConnectionState reports the connection monitor's view.
type ConnectionState interface {
	State() connection.State
}

// HealthHandler handles health check endpoints
type HealthHandler struct {
	store     Pinger
	conn      ConnectionState
	startTime time.Time
	version   string
}

// NewHealthHandler creates a new health handler
func NewHealthHandler(store Pinger, conn ConnectionState, version string) *HealthHandler {
	return &HealthHandler{
		store:     store,
		conn:      conn,
		startTime: time.Now(),
		version:   version,
	}
}

// HealthResponse represents health check response
type HealthResponse struct {
	Status    string            `json:"status"`
	Mode      connection.Mode   `json:"mode,omitempty"`
	Version   string            `json:"version,omitempty"`
	Uptime    string            `json:"uptime,omitempty"`
	Timestamp string            `json:"timestamp"`
	Checks    map[string]string `json:"checks,omitempty"`
}

// Liveness reports that the process is up.
func (h *HealthHandler) Liveness(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// Readiness reports store health and the connection mode.
func (h *HealthHandler) Readiness(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 5*time.Second)
	defer cancel()

	checks := make(map[string]string)
	allHealthy := true

	// Store check
	if err := h.store.Ping(ctx); err != nil {
		checks["store"] = "unhealthy: " + err.Error()
		allHealthy = false
	} else {
		checks["store"] = "healthy"
	}

	var mode connection.Mode
	if h.conn != nil {
		st := h.conn.State()
		mode = st.Mode
		checks["connection_retries"] = fmt.Sprintf("%d", st.RetryCount)
		if st.LastConnectedAt != nil {
			checks["last_connected_at"] = st.LastConnectedAt.UTC().Format(time.RFC3339)
		}
	}

	// Memory check
	var m runtime.MemStats
	runtime.ReadMemStats(&m)
	checks["memory_alloc_mb"] = formatMB(m.Alloc)

	status := "healthy"
	statusCode := http.StatusOK
	if !allHealthy {
		status = "unhealthy"
		statusCode = http.StatusServiceUnavailable
	}

	c.JSON(statusCode, HealthResponse{
		Status:    status,
		Mode:      mode,
		Version:   h.version,
		Uptime:    time.Since(h.startTime).Round(time.Second).String(),
		Timestamp: time.Now().UTC().Format(time.RFC3339),
		Checks:    checks,
	})
}

// Health reports ok while the ledger can accept writes, which includes the
// degraded mode where writes are queued locally.
func (h *HealthHandler) Health(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 3*time.Second)
	defer cancel()

	body := gin.H{"status": "ok", "version": h.version}
	if err := h.store.Ping(ctx); err != nil {
		body["status"] = "degraded"
		body["error"] = "store unavailable"
	}
	if h.conn != nil {
		body["mode"] = h.conn.State().Mode
	}
	c.JSON(http.StatusOK, body)
}

func formatMB(bytes uint64) string {
	mb := float64(bytes) / 1024 / 1024
	return fmt.Sprintf("%.2f", mb)
}
