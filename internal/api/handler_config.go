package api

import (
	"fmt"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"harvester-telemetry-backend/internal/model"
	"harvester-telemetry-backend/internal/parse"
)

// channelConfigEntry is one element of the POST /api/config body. Pointer fields
// distinguish a missing key from a zero value.
type channelConfigEntry struct {
	Type   *int     `json:"type"`
	Name   *string  `json:"name"`
	Module []string `json:"module"`
}

type channelConfigView struct {
	Type   int      `json:"type"`
	Name   string   `json:"name"`
	Module []string `json:"module"`
}

// GetConfig handles GET /api/config.
func (h *Handler) GetConfig(c *gin.Context) {
	configs, err := h.store.ListChannelConfigs(c.Request.Context())
	if err != nil {
		h.internalError(c, err, "Failed to load configuration")
		return
	}

	views := make([]channelConfigView, 0, len(configs))
	for _, cfg := range configs {
		names := []string(cfg.ChannelNames)
		if names == nil {
			names = []string{}
		}
		views = append(views, channelConfigView{Type: cfg.Type, Name: cfg.Name, Module: names})
	}
	ok(c, http.StatusOK, views)
}

// PostConfig handles POST /api/config. Types in the body are created or replaced;
// types not mentioned are kept.
func (h *Handler) PostConfig(c *gin.Context) {
	var entries []channelConfigEntry
	if err := c.ShouldBindJSON(&entries); err != nil || entries == nil {
		fail(c, http.StatusBadRequest, "Invalid request body, array expected")
		return
	}

	configs, err := validateChannelConfigs(entries)
	if err != nil {
		fail(c, http.StatusBadRequest, err.Error())
		return
	}

	if err := h.store.SaveChannelConfigs(c.Request.Context(), configs); err != nil {
		h.internalError(c, err, "Failed to save configuration")
		return
	}
	if h.cache != nil {
		h.cache.Flush()
	}

	h.log.Info().Int("count", len(configs)).Msg("channel configuration saved")
	c.JSON(http.StatusOK, response{Success: true, Message: "Configuration saved successfully"})
}

func validateChannelConfigs(entries []channelConfigEntry) ([]model.ChannelConfig, error) {
	seen := make(map[int]bool, len(entries))
	configs := make([]model.ChannelConfig, 0, len(entries))
	for i, e := range entries {
		switch {
		case e.Type == nil:
			return nil, fmt.Errorf("entry %d: type is required", i)
		case *e.Type <= 0:
			return nil, fmt.Errorf("entry %d: type must be a positive integer", i)
		case e.Name == nil || strings.TrimSpace(*e.Name) == "":
			return nil, fmt.Errorf("entry %d: name is required", i)
		case e.Module == nil:
			return nil, fmt.Errorf("entry %d: module is required", i)
		case len(e.Module) > parse.ChannelCount:
			return nil, fmt.Errorf("entry %d: module has %d names, at most %d allowed", i, len(e.Module), parse.ChannelCount)
		case seen[*e.Type]:
			return nil, fmt.Errorf("entry %d: duplicate type %d", i, *e.Type)
		}
		seen[*e.Type] = true
		configs = append(configs, model.ChannelConfig{
			Type:         *e.Type,
			Name:         strings.TrimSpace(*e.Name),
			ChannelNames: e.Module,
		})
	}
	return configs, nil
}
