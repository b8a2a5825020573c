package apihttp

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/yanun0323/errors"
	"github.com/yanun0323/logs"

	"github.com/CrisisCore-Systems/Autotrader-sub001/internal/aggregator"
	"github.com/CrisisCore-Systems/Autotrader-sub001/internal/audit"
	"github.com/CrisisCore-Systems/Autotrader-sub001/internal/codec"
	"github.com/CrisisCore-Systems/Autotrader-sub001/internal/index"
	"github.com/CrisisCore-Systems/Autotrader-sub001/internal/obs"
	"github.com/CrisisCore-Systems/Autotrader-sub001/internal/schema"
	"github.com/CrisisCore-Systems/Autotrader-sub001/pkg/exception"
)

const (
	maxIngestBody      = 1 << 20
	defaultRecentCount = 100
)

type handler struct {
	store   *audit.Store
	agg     *aggregator.Aggregator
	index   *index.Index
	metrics *obs.Metrics
	now     func() time.Time
}

// Register mounts the API routes on group.
func (h *handler) Register(group *gin.RouterGroup) {
	group.GET("/snapshot", h.handleSnapshot)
	group.GET("/series", h.handleSeries)
	group.GET("/equity", h.handleEquity)
	group.GET("/events", h.handleQueryEvents)
	group.POST("/events", h.handleIngest)
	group.GET("/events/recent", h.handleRecent)
	group.GET("/trades/:signal_id", h.handleTradeHistory)
	group.GET("/reports/compliance", h.handleCompliance)
	group.GET("/export/:event_type", h.handleExport)
	group.POST("/circuit-breaker/reset", h.handleBreakerReset)
	group.POST("/aggregator/reset", h.handleAggregatorReset)
}

func (h *handler) handleSnapshot(c *gin.Context) {
	c.JSON(http.StatusOK, h.agg.Snapshot())
}

func (h *handler) handleSeries(c *gin.Context) {
	c.JSON(http.StatusOK, h.agg.MetricsAsGrafanaSeries())
}

func (h *handler) handleEquity(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"points": h.agg.EquityCurve()})
}

func (h *handler) handleQueryEvents(c *gin.Context) {
	f, err := parseFilter(c)
	if err != nil {
		abort(c, err)
		return
	}

	source := strings.ToLower(c.DefaultQuery("source", "disk"))
	var events []schema.Envelope
	switch source {
	case "disk":
		events, err = h.store.QueryEvents(c.Request.Context(), f)
	case "index":
		if h.index == nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"error": "sql index is not enabled"})
			return
		}
		events, err = h.index.Find(c.Request.Context(), f)
	default:
		err = errors.Wrapf(exception.ErrInvalidArgument, "unknown source %q", source)
	}
	if err != nil {
		abort(c, err)
		return
	}
	writeEvents(c, events)
}

func (h *handler) handleRecent(c *gin.Context) {
	count, err := strconv.Atoi(c.DefaultQuery("count", strconv.Itoa(defaultRecentCount)))
	if err != nil {
		abort(c, errors.Wrap(exception.ErrInvalidArgument, "invalid count"))
		return
	}
	writeEvents(c, h.store.RecentEvents(count))
}

func (h *handler) handleIngest(c *gin.Context) {
	body, err := io.ReadAll(http.MaxBytesReader(c.Writer, c.Request.Body, maxIngestBody))
	if err != nil {
		c.JSON(http.StatusRequestEntityTooLarge, gin.H{"error": err.Error()})
		return
	}
	env, err := codec.DecodeLine(body)
	if err != nil {
		h.metrics.IncValidationError()
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	stamped := h.store.Record(env)
	h.agg.Apply(stamped)
	c.JSON(http.StatusCreated, gin.H{
		"seq":        stamped.Seq(),
		"event_id":   stamped.ID(),
		"event_type": stamped.Type(),
	})
}

func (h *handler) handleTradeHistory(c *gin.Context) {
	history, err := h.store.ReconstructTradeHistory(c.Request.Context(), c.Param("signal_id"))
	if err != nil {
		abort(c, err)
		return
	}
	c.JSON(http.StatusOK, history)
}

func (h *handler) handleCompliance(c *gin.Context) {
	start, err := audit.ParseBound(c.Query("start"), false)
	if err != nil {
		abort(c, err)
		return
	}
	end, err := audit.ParseBound(c.Query("end"), true)
	if err != nil {
		abort(c, err)
		return
	}
	report, err := h.store.ComplianceReport(c.Request.Context(), start, end)
	if err != nil {
		abort(c, err)
		return
	}
	c.JSON(http.StatusOK, report)
}

func (h *handler) handleExport(c *gin.Context) {
	eventType, ok := schema.ParseEventType(c.Param("event_type"))
	if !ok {
		abort(c, errors.Wrapf(exception.ErrInvalidArgument, "unknown event type %q", c.Param("event_type")))
		return
	}
	start, err := audit.ParseBound(c.Query("start"), false)
	if err != nil {
		abort(c, err)
		return
	}
	end, err := audit.ParseBound(c.Query("end"), true)
	if err != nil {
		abort(c, err)
		return
	}
	table, err := h.store.ExportTable(c.Request.Context(), eventType, start, end)
	if err != nil {
		abort(c, err)
		return
	}
	c.Header("Content-Type", "text/csv; charset=utf-8")
	c.Header("Content-Disposition", fmt.Sprintf("attachment; filename=%q", string(eventType)+".csv"))
	c.Status(http.StatusOK)
	if err := table.WriteCSV(c.Writer); err != nil {
		logs.Errorf("write csv export, err: %+v", err)
	}
}

type resetRequest struct {
	Actor  string `json:"actor" binding:"required"`
	Reason string `json:"reason" binding:"required"`
}

func (h *handler) handleBreakerReset(c *gin.Context) {
	var req resetRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if !h.recordReset(c, schema.ComponentCircuitBreaker, req) {
		return
	}
	status := h.agg.Snapshot().CircuitBreaker
	wasActive := status.LastReset != nil && status.LastReset.WasActive
	c.JSON(http.StatusOK, gin.H{
		"was_active":      wasActive,
		"circuit_breaker": status,
	})
}

// handleAggregatorReset clears every dashboard metric. The audit trail keeps
// the reset, so a recovered aggregator starts over at the same point.
func (h *handler) handleAggregatorReset(c *gin.Context) {
	var req resetRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if !h.recordReset(c, schema.ComponentAggregator, req) {
		return
	}
	logs.Warnf("dashboard metrics reset by %s, reason: %s", req.Actor, req.Reason)
	c.JSON(http.StatusOK, h.agg.Snapshot())
}

// recordReset stores the reset and applies it through the same path replay
// uses.
func (h *handler) recordReset(c *gin.Context, component string, req resetRequest) bool {
	env, err := schema.NewEnvelope(schema.SystemEvent{
		Timestamp: h.now().UTC(),
		Component: component,
		Action:    schema.ActionReset,
		Actor:     req.Actor,
		Message:   req.Reason,
	})
	if err != nil {
		h.metrics.IncValidationError()
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return false
	}
	h.agg.Apply(h.store.Record(env))
	return true
}

func writeEvents(c *gin.Context, events []schema.Envelope) {
	raw, err := codec.RawMessages(events)
	if err != nil {
		abort(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"count": len(raw), "events": raw})
}

func parseFilter(c *gin.Context) (audit.Filter, error) {
	var f audit.Filter
	if v := c.Query("event_type"); v != "" {
		t, ok := schema.ParseEventType(v)
		if !ok {
			return f, errors.Wrapf(exception.ErrInvalidArgument, "unknown event type %q", v)
		}
		f.EventType = t
	}
	var err error
	if f.Start, err = audit.ParseBound(c.Query("start"), false); err != nil {
		return f, err
	}
	if f.End, err = audit.ParseBound(c.Query("end"), true); err != nil {
		return f, err
	}
	f.Instrument = c.Query("instrument")
	f.SignalID = c.Query("signal_id")
	f.OrderID = c.Query("order_id")
	if v := c.Query("limit"); v != "" {
		if f.Limit, err = strconv.Atoi(v); err != nil {
			return f, errors.Wrap(exception.ErrInvalidArgument, "invalid limit")
		}
	}
	return f, f.Validate()
}

func abort(c *gin.Context, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, exception.ErrInvalidArgument):
		status = http.StatusBadRequest
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		status = http.StatusServiceUnavailable
	default:
		logs.Errorf("api request %s failed, err: %+v", c.Request.URL.Path, err)
	}
	c.JSON(status, gin.H{"error": err.Error()})
}
