package webapi

import (
	"context"
	"net/http"
	"runtime"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/mem"

	"facecam-server/internal/domain/capture"
	"facecam-server/internal/domain/journal"
	platformerrors "facecam-server/internal/platform/errors"
	"facecam-server/internal/platform/observability"
	httptransport "facecam-server/internal/transport/http"
	"facecam-server/internal/utils"
)

const (
	DefaultDetectionsLimit = 50
	MaxDetectionsLimit     = 500
)

// CaptureStatus is satisfied by *capture.Loop.
type CaptureStatus interface {
	Health() capture.Health
}

// SessionCounter is satisfied by *ws.Hub.
type SessionCounter interface {
	Count() int
}

// Dependencies are the components reported on. Capture may be nil when the
// camera is disabled.
type Dependencies struct {
	Journal  journal.Store
	Capture  CaptureStatus
	Sessions SessionCounter
}

// Service exposes health and the detection journal.
type Service struct {
	logger    *utils.Logger
	deps      Dependencies
	startedAt time.Time
}

func NewService(deps Dependencies, logger *utils.Logger) (*Service, error) {
	if deps.Journal == nil {
		return nil, platformerrors.New(platformerrors.KindConfig, "webapi.new", "journal is required")
	}
	return &Service{
		logger:    logger,
		deps:      deps,
		startedAt: time.Now(),
	}, nil
}

// Register mounts the webapi routes.
func (s *Service) Register(ctx context.Context, router *gin.RouterGroup) error {
	router.GET("/health", s.handleHealth)
	router.GET("/detections", s.handleDetections)
	s.logger.InfoTag("HTTP", "webapi routes registered")
	return nil
}

type hostStats struct {
	CPUPercent    float64 `json:"cpu_percent"`
	MemoryPercent float64 `json:"memory_percent"`
	MemoryUsed    uint64  `json:"memory_used"`
	MemoryTotal   uint64  `json:"memory_total"`
	Goroutines    int     `json:"goroutines"`
}

// HealthReport is the data of GET /api/health.
type HealthReport struct {
	Status    string                                 `json:"status"`
	Uptime    string                                 `json:"uptime"`
	Capture   *capture.Health                        `json:"capture,omitempty"`
	Sockets   int                                    `json:"sockets"`
	Journal   map[string]any                         `json:"journal,omitempty"`
	Host      hostStats                              `json:"host"`
	Telemetry map[string]observability.MetricSummary `json:"telemetry,omitempty"`
}

// handleHealth reports capture, socket, journal and host state.
// @Summary Service health
// @Description Returns 503 while the capture device is degraded
// @Tags System
// @Produce json
// @Success 200 {object} httptransport.APIResponse{data=HealthReport}
// @Failure 503 {object} httptransport.APIResponse{data=HealthReport}
// @Router /health [get]
func (s *Service) handleHealth(c *gin.Context) {
	ctx := c.Request.Context()
	report := HealthReport{
		Status: "ok",
		Uptime: time.Since(s.startedAt).Round(time.Second).String(),
		Host:   s.hostStats(ctx),
	}

	if s.deps.Capture != nil {
		h := s.deps.Capture.Health()
		report.Capture = &h
		if h.State == capture.StateDegraded {
			report.Status = "degraded"
		}
	}
	if s.deps.Sessions != nil {
		report.Sockets = s.deps.Sessions.Count()
	}
	if stats, err := s.deps.Journal.Stats(ctx); err != nil {
		s.logger.WarnTag("HTTP", "journal stats: %v", err)
	} else {
		report.Journal = stats
	}
	report.Telemetry = observability.Snapshot()

	if report.Status != "ok" {
		httptransport.RespondError(c, http.StatusServiceUnavailable, report.Status, report)
		return
	}
	httptransport.RespondSuccess(c, http.StatusOK, report, "")
}

func (s *Service) hostStats(ctx context.Context) hostStats {
	stats := hostStats{Goroutines: runtime.NumGoroutine()}
	if pct, err := cpu.PercentWithContext(ctx, 0, false); err == nil && len(pct) > 0 {
		stats.CPUPercent = pct[0]
	}
	if vm, err := mem.VirtualMemoryWithContext(ctx); err == nil {
		stats.MemoryPercent = vm.UsedPercent
		stats.MemoryUsed = vm.Used
		stats.MemoryTotal = vm.Total
	}
	return stats
}

// handleDetections lists the newest journal records.
// @Summary Recent detections
// @Tags Journal
// @Produce json
// @Param limit query int false "records to return (default 50, max 500)"
// @Success 200 {object} httptransport.APIResponse
// @Failure 400 {object} httptransport.APIResponse
// @Failure 500 {object} httptransport.APIResponse
// @Router /detections [get]
func (s *Service) handleDetections(c *gin.Context) {
	limit := DefaultDetectionsLimit
	if raw := c.Query("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			httptransport.RespondError(c, http.StatusBadRequest, "limit must be a positive integer", nil)
			return
		}
		limit = utils.ClampInt(n, 1, MaxDetectionsLimit)
	}

	records, err := s.deps.Journal.Recent(c.Request.Context(), limit)
	if err != nil {
		_ = c.Error(err)
		httptransport.RespondError(c, http.StatusInternalServerError, "journal unavailable", nil)
		return
	}
	httptransport.RespondSuccess(c, http.StatusOK, gin.H{
		"count":   len(records),
		"records": records,
	}, "")
}
