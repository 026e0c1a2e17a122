package store

import (
	"context"
	"fmt"

	"harvester-telemetry-backend/internal/model"
	"harvester-telemetry-backend/internal/parse"
)

// Series is a labeled, time-ordered view of the readings of one type.
type Series struct {
	Type     int           `json:"type"`
	Name     string        `json:"name"`
	Labeled  bool          `json:"labeled"` // false when no channel config exists for Type
	Channels []string      `json:"channels"`
	Points   []SeriesPoint `json:"points"`
}

// SeriesPoint is one reading in a Series. Timestamp is milliseconds since the epoch.
type SeriesPoint struct {
	Timestamp int64     `json:"timestamp"`
	Values    []float64 `json:"values"`
}

// QuerySeries runs QueryHistory and labels the result with the type's channel config.
func (s *gormStore) QuerySeries(ctx context.Context, q HistoryQuery) (Series, error) {
	readings, err := s.QueryHistory(ctx, q)
	if err != nil {
		return Series{}, err
	}

	var configs []model.ChannelConfig
	if err := s.db.WithContext(ctx).Where("type = ?", q.Type).Limit(1).Find(&configs).Error; err != nil {
		return Series{}, fmt.Errorf("failed to load channel config for type %d: %w", q.Type, err)
	}

	var cfg *model.ChannelConfig
	if len(configs) > 0 {
		cfg = &configs[0]
	}
	return BuildSeries(q.Type, cfg, readings), nil
}

// BuildSeries labels readings with cfg. A nil cfg yields generated names for every channel.
func BuildSeries(typ int, cfg *model.ChannelConfig, readings []model.Reading) Series {
	series := Series{
		Type:   typ,
		Name:   fmt.Sprintf("Type %d", typ),
		Points: make([]SeriesPoint, 0, len(readings)),
	}

	var names []string
	if cfg != nil {
		series.Labeled = true
		series.Name = cfg.Name
		names = cfg.ChannelNames
	}

	width := parse.ChannelCount
	if len(names) > width {
		width = len(names)
	}
	series.Channels = make([]string, width)
	for i := range series.Channels {
		if i < len(names) && names[i] != "" {
			series.Channels[i] = names[i]
		} else {
			series.Channels[i] = fmt.Sprintf("Channel %d", i+1)
		}
	}

	for _, r := range readings {
		series.Points = append(series.Points, SeriesPoint{
			Timestamp: r.CapturedAt.UnixMilli(),
			Values:    r.Channels,
		})
	}
	return series
}
