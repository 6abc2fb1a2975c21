package httpapi

import (
	"net/http"
	"runtime"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/host"
	"github.com/shirou/gopsutil/v3/mem"
)

var processStart = time.Now()

// adminStatus reports process and host health for operators.
func (h *handler) adminStatus(c *gin.Context) {
	ctx := c.Request.Context()

	resp := gin.H{
		"uptime_seconds": int64(time.Since(processStart).Seconds()),
		"goroutines":     runtime.NumGoroutine(),
		"go_version":     runtime.Version(),
	}

	if percents, err := cpu.PercentWithContext(ctx, 0, false); err == nil && len(percents) > 0 {
		resp["cpu_percent"] = percents[0]
	}
	if vm, err := mem.VirtualMemoryWithContext(ctx); err == nil {
		resp["memory"] = gin.H{
			"total_bytes": vm.Total,
			"used_bytes":  vm.Used,
			"percent":     vm.UsedPercent,
		}
	}
	if info, err := host.InfoWithContext(ctx); err == nil {
		resp["host"] = gin.H{
			"hostname": info.Hostname,
			"os":       info.OS,
			"platform": info.Platform,
		}
	}

	c.JSON(http.StatusOK, resp)
}

// adminAudit returns the most recent mutating requests.
func (h *handler) adminAudit(c *gin.Context) {
	limit := 0
	if raw := c.Query("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "limit must be an integer"})
			return
		}
		limit = parsed
	}
	c.JSON(http.StatusOK, gin.H{"entries": h.audit.listLimit(limit)})
}
