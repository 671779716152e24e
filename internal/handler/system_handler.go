package handler

import (
	"encoding/json"
	"fmt"
	"net/http"
	"runtime"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-tutor/internal/response"
)

const statsInterval = 7 * time.Second

// SessionCounter reports the number of live sessions.
type SessionCounter interface {
	Len() int
}

// SystemHandler serves liveness and runtime stats.
type SystemHandler struct {
	sessions  SessionCounter
	startTime time.Time
	interval  time.Duration
	log       zerolog.Logger
}

func NewSystemHandler(sessions SessionCounter, log zerolog.Logger) *SystemHandler {
	return &SystemHandler{
		sessions:  sessions,
		startTime: time.Now(),
		interval:  statsInterval,
		log:       log.With().Str("component", "system_handler").Logger(),
	}
}

type systemStats struct {
	Timestamp int64  `json:"timestamp"`
	Uptime    string `json:"uptime"`
	Sessions  int    `json:"sessions"`

	Goroutines int    `json:"goroutines"`
	HeapAlloc  uint64 `json:"heap_alloc"`
	HeapSys    uint64 `json:"heap_sys"`
	NumGC      uint32 `json:"num_gc"`
	GoVersion  string `json:"go_version"`
	NumCPU     int    `json:"num_cpu"`
}

// Health godoc
// GET /health
func (h *SystemHandler) Health(c *gin.Context) {
	response.Success(c, http.StatusOK, gin.H{
		"status":   "ok",
		"uptime":   formatDuration(time.Since(h.startTime)),
		"sessions": h.sessions.Len(),
	})
}

// StatsSSE godoc
// GET /api/v1/system/stats
// Streams runtime stats as server-sent events until the client leaves.
func (h *SystemHandler) StatsSSE(c *gin.Context) {
	reqCtx := c.Request.Context()

	c.Writer.Header().Set("Content-Type", "text/event-stream")
	c.Writer.Header().Set("Cache-Control", "no-cache")
	c.Writer.Header().Set("Connection", "keep-alive")

	h.log.Debug().Msg("Stats stream opened")

	ticker := time.NewTicker(h.interval)
	defer ticker.Stop()

	h.writeStats(c)
	for {
		select {
		case <-reqCtx.Done():
			h.log.Debug().Msg("Stats stream closed")
			return
		case <-ticker.C:
			h.writeStats(c)
		}
	}
}

func (h *SystemHandler) writeStats(c *gin.Context) {
	data, err := json.Marshal(h.collect())
	if err != nil {
		return
	}
	_, _ = c.Writer.Write([]byte("data: "))
	_, _ = c.Writer.Write(data)
	_, _ = c.Writer.Write([]byte("\n\n"))
	c.Writer.Flush()
}

func (h *SystemHandler) collect() systemStats {
	var ms runtime.MemStats
	runtime.ReadMemStats(&ms)

	return systemStats{
		Timestamp:  time.Now().Unix(),
		Uptime:     formatDuration(time.Since(h.startTime)),
		Sessions:   h.sessions.Len(),
		Goroutines: runtime.NumGoroutine(),
		HeapAlloc:  ms.HeapAlloc,
		HeapSys:    ms.Sys,
		NumGC:      ms.NumGC,
		GoVersion:  runtime.Version(),
		NumCPU:     runtime.NumCPU(),
	}
}

func formatDuration(d time.Duration) string {
	d = d.Round(time.Second)
	days := int(d.Hours()) / 24
	hours := int(d.Hours()) % 24
	minutes := int(d.Minutes()) % 60
	seconds := int(d.Seconds()) % 60

	if days > 0 {
		return fmt.Sprintf("%dd %dh %dm", days, hours, minutes)
	}
	if hours > 0 {
		return fmt.Sprintf("%dh %dm %ds", hours, minutes, seconds)
	}
	return fmt.Sprintf("%dm %ds", minutes, seconds)
}
