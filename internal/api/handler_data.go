package api

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"harvester-telemetry-backend/internal/store"
)

var (
	errMissingParams = errors.New("Missing required query parameters: type, start, end")
	errInvalidParams = errors.New("Invalid parameter format")
)

type dataPoint struct {
	Type      int       `json:"type"`
	Module    []float64 `json:"module"`
	Timestamp int64     `json:"timestamp"`
}

// historyQuery reads type, start and end (ms epoch) and an optional limit.
// The dashboard expects the full capped window when no limit is given.
func historyQuery(c *gin.Context) (store.HistoryQuery, error) {
	typ, start, end := c.Query("type"), c.Query("start"), c.Query("end")
	if typ == "" || start == "" || end == "" {
		return store.HistoryQuery{}, errMissingParams
	}

	q := store.HistoryQuery{Limit: store.MaxHistoryLimit}
	var err error
	if q.Type, err = strconv.Atoi(typ); err != nil {
		return store.HistoryQuery{}, errInvalidParams
	}
	if q.Start, err = parseMillis(start); err != nil {
		return store.HistoryQuery{}, errInvalidParams
	}
	if q.End, err = parseMillis(end); err != nil {
		return store.HistoryQuery{}, errInvalidParams
	}
	if l := c.Query("limit"); l != "" {
		if q.Limit, err = strconv.Atoi(l); err != nil || q.Limit <= 0 {
			return store.HistoryQuery{}, errInvalidParams
		}
	}
	return q, nil
}

func parseMillis(s string) (time.Time, error) {
	ms, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return time.Time{}, err
	}
	return time.UnixMilli(ms).UTC(), nil
}

// GetData handles GET /api/data.
func (h *Handler) GetData(c *gin.Context) {
	q, err := historyQuery(c)
	if err != nil {
		fail(c, http.StatusBadRequest, err.Error())
		return
	}

	readings, err := h.store.QueryHistory(c.Request.Context(), q)
	if err != nil {
		h.internalError(c, err, "Failed to query history")
		return
	}

	points := make([]dataPoint, 0, len(readings))
	for _, r := range readings {
		points = append(points, dataPoint{
			Type:      r.Type,
			Module:    r.Channels,
			Timestamp: r.CapturedAt.UnixMilli(),
		})
	}
	ok(c, http.StatusOK, points)
}

// GetSeries handles GET /api/series: the same window as /api/data, labeled with the channel config.
func (h *Handler) GetSeries(c *gin.Context) {
	q, err := historyQuery(c)
	if err != nil {
		fail(c, http.StatusBadRequest, err.Error())
		return
	}

	series, err := h.store.QuerySeries(c.Request.Context(), q)
	if err != nil {
		h.internalError(c, err, "Failed to query series")
		return
	}
	ok(c, http.StatusOK, series)
}
