package handlers

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
)

// window reads ?window= as a day count. Absent means the service default;
// out-of-range values are clamped by the service.
func window(c *gin.Context) (int, bool) {
	raw := c.Query("window")
	if raw == "" {
		return 0, true
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "window must be an integer number of days")
		return 0, false
	}
	return n, true
}

// GetRisk godoc
// @ID          getRiskSnapshot
// @Summary     Abandonment risk per active routine
// @Tags        Analytics
// @Produce     json
// @Param       window  query  int  false "Days (7..60)"  default(14)
// @Success     200  {object}  analytics.RiskSnapshot
// @Failure     400  {object}  handlers.ErrorResponse
// @Router      /analytics/risk [get]
func (h *Handlers) GetRisk(c *gin.Context) {
	n, valid := window(c)
	if !valid {
		return
	}
	snap, err := h.analyticsSvc.Risk(c.Request.Context(), userID(c), n)
	if err != nil {
		failService(c, err)
		return
	}
	ok(c, http.StatusOK, snap)
}

// GetHeatmap godoc
// @ID          getHeatmap
// @Summary     Success rate by weekday and hour
// @Tags        Analytics
// @Produce     json
// @Param       window  query  int  false "Days (1..120)"  default(30)
// @Success     200  {object}  analytics.Heatmap
// @Failure     400  {object}  handlers.ErrorResponse
// @Router      /analytics/heatmap [get]
func (h *Handlers) GetHeatmap(c *gin.Context) {
	n, valid := window(c)
	if !valid {
		return
	}
	hm, err := h.analyticsSvc.Heatmap(c.Request.Context(), userID(c), n)
	if err != nil {
		failService(c, err)
		return
	}
	ok(c, http.StatusOK, hm)
}

// GetSummary godoc
// @ID          getSummary
// @Summary     Per-routine state counts and success rate
// @Tags        Analytics
// @Produce     json
// @Param       window  query  int  false "Days (1..120)"  default(30)
// @Success     200  {object}  analytics.Summary
// @Failure     400  {object}  handlers.ErrorResponse
// @Router      /analytics/summary [get]
func (h *Handlers) GetSummary(c *gin.Context) {
	n, valid := window(c)
	if !valid {
		return
	}
	sum, err := h.analyticsSvc.Summary(c.Request.Context(), userID(c), n)
	if err != nil {
		failService(c, err)
		return
	}
	ok(c, http.StatusOK, sum)
}
