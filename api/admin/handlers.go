package admin

import (
	"net/http"
	"sort"

	"github.com/gin-gonic/gin"

	"github.com/Humphrey-He/hguard/pkg/breaker"
)

// handler 持有路由处理函数
type handler struct {
	deps Deps
}

// health reports "degraded" while any breaker is not closed. The status code
// stays 200 because the process itself is serving.
//
// health 在任一熔断器未关闭时报告"degraded"，进程本身仍在服务，因此状态码保持200。
func (h *handler) health(c *gin.Context) {
	var open []string
	for name, st := range h.deps.Breakers.Stats() {
		if st.State != breaker.Closed.String() {
			open = append(open, name)
		}
	}
	sort.Strings(open)

	status := "ok"
	if len(open) > 0 {
		status = "degraded"
	}
	c.JSON(http.StatusOK, gin.H{"status": status, "unhealthy_breakers": open})
}

func (h *handler) stats(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"cache":       h.deps.Cache.Stats(),
		"breakers":    h.deps.Breakers.Stats(),
		"executor":    h.deps.Executor.Stats(),
		"coordinator": h.deps.Coordinator.Stats(),
	})
}

func (h *handler) cacheStats(c *gin.Context) {
	c.JSON(http.StatusOK, h.deps.Cache.Stats())
}

func (h *handler) cacheMemory(c *gin.Context) {
	c.JSON(http.StatusOK, h.deps.Cache.MemoryUsage())
}

// clearCache 清空存储并重置协调器计数
func (h *handler) clearCache(c *gin.Context) {
	h.deps.Coordinator.ClearCache()
	c.JSON(http.StatusOK, gin.H{"cleared": true})
}

func (h *handler) invalidate(c *gin.Context) {
	key := c.Param("key")
	if !h.deps.Coordinator.Invalidate(key) {
		c.JSON(http.StatusNotFound, gin.H{"error": "key not found", "key": key})
		return
	}
	c.JSON(http.StatusOK, gin.H{"deleted": key})
}

func (h *handler) saveSnapshot(c *gin.Context) {
	if err := h.deps.Cache.SaveSnapshot(""); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"saved": true, "entries": h.deps.Cache.Stats().EntryCount})
}

func (h *handler) cleanup(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"removed": h.deps.Cache.Cleanup()})
}

func (h *handler) breakers(c *gin.Context) {
	c.JSON(http.StatusOK, h.deps.Breakers.Stats())
}

func (h *handler) breaker(c *gin.Context) {
	cb, ok := h.deps.Breakers.Get(c.Param("name"))
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "breaker not found"})
		return
	}
	c.JSON(http.StatusOK, cb.Stats())
}

// breakerAction 手动控制熔断器：open、close或reset
func (h *handler) breakerAction(c *gin.Context) {
	cb, ok := h.deps.Breakers.Get(c.Param("name"))
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "breaker not found"})
		return
	}
	switch c.Param("action") {
	case "open":
		cb.ForceOpen()
	case "close":
		cb.ForceClose()
	case "reset":
		cb.Reset()
	default:
		c.JSON(http.StatusBadRequest, gin.H{"error": "action must be one of: open, close, reset"})
		return
	}
	c.JSON(http.StatusOK, cb.Stats())
}

func (h *handler) executorStats(c *gin.Context) {
	c.JSON(http.StatusOK, h.deps.Executor.Stats())
}

type rateRequest struct {
	RatePerSecond *int `json:"rate_per_second" binding:"required"`
}

// setRate 修改执行器速率，0表示不限速
func (h *handler) setRate(c *gin.Context) {
	var req rateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if *req.RatePerSecond < 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "rate_per_second must be >= 0"})
		return
	}
	h.deps.Executor.SetRateLimit(*req.RatePerSecond)
	c.JSON(http.StatusOK, h.deps.Executor.Stats())
}

func (h *handler) coordinatorStats(c *gin.Context) {
	c.JSON(http.StatusOK, h.deps.Coordinator.Stats())
}
