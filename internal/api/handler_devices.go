package api

import (
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"harvester-telemetry-backend/internal/model"
	"harvester-telemetry-backend/internal/store"
)

type createDeviceRequest struct {
	DeviceID int64  `json:"deviceId"`
	Name     string `json:"name"`
	Status   string `json:"status"`
}

type updateDeviceRequest struct {
	Name   *string `json:"name"`
	Status *string `json:"status"`
}

func validStatus(s string) bool {
	return s == model.DeviceOnline || s == model.DeviceOffline
}

// deviceID parses the :id path parameter. It aborts with 400 and returns false on failure.
func deviceID(c *gin.Context) (int64, bool) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil || id <= 0 {
		fail(c, http.StatusBadRequest, "Invalid device id")
		return 0, false
	}
	return id, true
}

// ListDevices handles GET /api/devices.
func (h *Handler) ListDevices(c *gin.Context) {
	devices, err := h.store.ListDevices(c.Request.Context())
	if err != nil {
		h.internalError(c, err, "Failed to list devices")
		return
	}
	ok(c, http.StatusOK, devices)
}

// GetDevice handles GET /api/devices/:id.
func (h *Handler) GetDevice(c *gin.Context) {
	id, valid := deviceID(c)
	if !valid {
		return
	}

	detail, err := h.store.GetDevice(c.Request.Context(), id)
	if errors.Is(err, store.ErrNotFound) {
		fail(c, http.StatusNotFound, "Device not found")
		return
	}
	if err != nil {
		h.internalError(c, err, "Failed to load device")
		return
	}
	ok(c, http.StatusOK, detail)
}

// CreateDevice handles POST /api/devices.
func (h *Handler) CreateDevice(c *gin.Context) {
	var req createDeviceRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, "Invalid request body")
		return
	}
	if req.DeviceID <= 0 {
		fail(c, http.StatusBadRequest, "deviceId must be a positive integer")
		return
	}
	if req.Status != "" && !validStatus(req.Status) {
		fail(c, http.StatusBadRequest, "status must be online or offline")
		return
	}

	name := strings.TrimSpace(req.Name)
	if name == "" {
		name = store.DefaultDeviceName(req.DeviceID)
	}

	device, err := h.store.CreateDevice(c.Request.Context(), model.Device{
		DeviceID: req.DeviceID,
		Name:     name,
		Status:   req.Status,
	})
	if errors.Is(err, store.ErrConflict) {
		fail(c, http.StatusConflict, "Device already exists")
		return
	}
	if err != nil {
		h.internalError(c, err, "Failed to create device")
		return
	}

	if h.subscriber != nil {
		if err := h.subscriber.SubscribeDevice(device.DeviceID); err != nil {
			h.log.Warn().Err(err).Int64("device_id", device.DeviceID).Msg("upstream subscribe failed")
		}
	}
	ok(c, http.StatusCreated, device)
}

// UpdateDevice handles PUT /api/devices/:id.
func (h *Handler) UpdateDevice(c *gin.Context) {
	id, valid := deviceID(c)
	if !valid {
		return
	}

	var req updateDeviceRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, "Invalid request body")
		return
	}
	if req.Status != nil && !validStatus(*req.Status) {
		fail(c, http.StatusBadRequest, "status must be online or offline")
		return
	}
	if req.Name != nil {
		trimmed := strings.TrimSpace(*req.Name)
		if trimmed == "" {
			fail(c, http.StatusBadRequest, "name must not be empty")
			return
		}
		req.Name = &trimmed
	}

	device, err := h.store.UpdateDevice(c.Request.Context(), id, store.DeviceUpdate{Name: req.Name, Status: req.Status})
	if errors.Is(err, store.ErrNotFound) {
		fail(c, http.StatusNotFound, "Device not found")
		return
	}
	if err != nil {
		h.internalError(c, err, "Failed to update device")
		return
	}
	ok(c, http.StatusOK, device)
}

// DeleteDevice handles DELETE /api/devices/:id.
func (h *Handler) DeleteDevice(c *gin.Context) {
	id, valid := deviceID(c)
	if !valid {
		return
	}

	err := h.store.DeleteDevice(c.Request.Context(), id)
	if errors.Is(err, store.ErrNotFound) {
		fail(c, http.StatusNotFound, "Device not found")
		return
	}
	if err != nil {
		h.internalError(c, err, "Failed to delete device")
		return
	}
	c.JSON(http.StatusOK, response{Success: true, Message: "Device deleted"})
}

// GetRealtime handles GET /api/devices/:id/realtime.
func (h *Handler) GetRealtime(c *gin.Context) {
	id, valid := deviceID(c)
	if !valid {
		return
	}

	reading, err := h.store.LatestReading(c.Request.Context(), id)
	if errors.Is(err, store.ErrNotFound) {
		fail(c, http.StatusNotFound, "No data for device")
		return
	}
	if err != nil {
		h.internalError(c, err, "Failed to load latest reading")
		return
	}
	ok(c, http.StatusOK, reading)
}

// GetDeviceHistory handles GET /api/devices/:id/history.
func (h *Handler) GetDeviceHistory(c *gin.Context) {
	id, valid := deviceID(c)
	if !valid {
		return
	}

	q := store.DeviceHistoryQuery{DeviceID: id}
	var err error
	if q.Start, err = parseTimeParam(c.Query("startTime")); err != nil {
		fail(c, http.StatusBadRequest, errInvalidParams.Error())
		return
	}
	if q.End, err = parseTimeParam(c.Query("endTime")); err != nil {
		fail(c, http.StatusBadRequest, errInvalidParams.Error())
		return
	}
	if l := c.Query("limit"); l != "" {
		if q.Limit, err = strconv.Atoi(l); err != nil || q.Limit <= 0 {
			fail(c, http.StatusBadRequest, errInvalidParams.Error())
			return
		}
	}

	readings, err := h.store.DeviceHistory(c.Request.Context(), q)
	if err != nil {
		h.internalError(c, err, "Failed to query device history")
		return
	}
	ok(c, http.StatusOK, readings)
}

// parseTimeParam accepts RFC3339 or a millisecond epoch. Empty yields the zero time.
func parseTimeParam(s string) (time.Time, error) {
	if s == "" {
		return time.Time{}, nil
	}
	if t, err := parseMillis(s); err == nil {
		return t, nil
	}
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return time.Time{}, err
	}
	return t.UTC(), nil
}
