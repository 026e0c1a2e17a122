package store

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"harvester-telemetry-backend/internal/model"
)

// WriteReading appends a reading. An empty ID is filled with a new UUID.
func (s *gormStore) WriteReading(ctx context.Context, r *model.Reading) error {
	if r.ID == "" {
		r.ID = uuid.NewString()
	}
	r.CapturedAt = r.CapturedAt.UTC()
	if err := s.db.WithContext(ctx).Create(r).Error; err != nil {
		return fmt.Errorf("failed to write reading for device %d: %w", r.DeviceID, err)
	}
	return nil
}

// QueryHistory returns readings of q.Type with Start <= capturedAt <= End, oldest first.
func (s *gormStore) QueryHistory(ctx context.Context, q HistoryQuery) ([]model.Reading, error) {
	readings := make([]model.Reading, 0)
	err := s.db.WithContext(ctx).
		Where("type = ? AND captured_at >= ? AND captured_at <= ?", q.Type, q.Start.UTC(), q.End.UTC()).
		Order("captured_at ASC").
		Limit(clampLimit(q.Limit)).
		Find(&readings).Error
	if err != nil {
		return nil, fmt.Errorf("failed to query history for type %d: %w", q.Type, err)
	}
	return readings, nil
}

// LatestReading returns the most recent reading of a device.
func (s *gormStore) LatestReading(ctx context.Context, deviceID int64) (model.Reading, error) {
	var r model.Reading
	err := s.db.WithContext(ctx).
		Where("device_id = ?", deviceID).
		Order("captured_at DESC").
		Take(&r).Error
	if err != nil {
		return model.Reading{}, notFound(err)
	}
	return r, nil
}

// DeviceHistory returns the newest q.Limit readings of a device in range, oldest first.
func (s *gormStore) DeviceHistory(ctx context.Context, q DeviceHistoryQuery) ([]model.Reading, error) {
	tx := s.db.WithContext(ctx).Where("device_id = ?", q.DeviceID)
	if !q.Start.IsZero() {
		tx = tx.Where("captured_at >= ?", q.Start.UTC())
	}
	if !q.End.IsZero() {
		tx = tx.Where("captured_at <= ?", q.End.UTC())
	}

	readings := make([]model.Reading, 0)
	if err := tx.Order("captured_at DESC").Limit(clampLimit(q.Limit)).Find(&readings).Error; err != nil {
		return nil, fmt.Errorf("failed to query history for device %d: %w", q.DeviceID, err)
	}

	for i, j := 0, len(readings)-1; i < j; i, j = i+1, j-1 {
		readings[i], readings[j] = readings[j], readings[i]
	}
	return readings, nil
}
