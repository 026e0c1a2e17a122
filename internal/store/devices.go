package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"harvester-telemetry-backend/internal/model"
)

// DefaultDeviceName is the name given to a device created by its first reading.
func DefaultDeviceName(deviceID int64) string {
	return fmt.Sprintf("设备 #%d", deviceID)
}

// UpsertDevice creates the device if it is unseen, otherwise marks it online.
func (s *gormStore) UpsertDevice(ctx context.Context, deviceID int64) (model.Device, error) {
	now := time.Now().UTC()
	device := model.Device{
		DeviceID:  deviceID,
		Name:      DefaultDeviceName(deviceID),
		Status:    model.DeviceOnline,
		CreatedAt: now,
		UpdatedAt: now,
	}

	db := s.db.WithContext(ctx)
	if err := db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "device_id"}},
		DoUpdates: clause.AssignmentColumns([]string{"status", "updated_at"}),
	}).Create(&device).Error; err != nil {
		return model.Device{}, fmt.Errorf("failed to upsert device %d: %w", deviceID, err)
	}

	if err := db.Take(&device, "device_id = ?", deviceID).Error; err != nil {
		return model.Device{}, fmt.Errorf("failed to reload device %d: %w", deviceID, err)
	}
	return device, nil
}

// ListDevices returns every device, newest first.
func (s *gormStore) ListDevices(ctx context.Context) ([]model.Device, error) {
	devices := make([]model.Device, 0)
	if err := s.db.WithContext(ctx).Order("created_at DESC").Find(&devices).Error; err != nil {
		return nil, fmt.Errorf("failed to list devices: %w", err)
	}
	return devices, nil
}

func (s *gormStore) GetDevice(ctx context.Context, deviceID int64) (DeviceDetail, error) {
	var detail DeviceDetail
	db := s.db.WithContext(ctx)
	if err := db.Take(&detail.Device, "device_id = ?", deviceID).Error; err != nil {
		return DeviceDetail{}, notFound(err)
	}
	if err := db.Model(&model.Reading{}).Where("device_id = ?", deviceID).Count(&detail.ReadingCount).Error; err != nil {
		return DeviceDetail{}, fmt.Errorf("failed to count readings for device %d: %w", deviceID, err)
	}
	return detail, nil
}

// CreateDevice registers a device ahead of its first reading. Status defaults to offline.
func (s *gormStore) CreateDevice(ctx context.Context, d model.Device) (model.Device, error) {
	if d.Status == "" {
		d.Status = model.DeviceOffline
	}
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var existing model.Device
		err := tx.Take(&existing, "device_id = ?", d.DeviceID).Error
		switch {
		case err == nil:
			return ErrConflict
		case !errors.Is(err, gorm.ErrRecordNotFound):
			return err
		}
		return tx.Create(&d).Error
	})
	if err != nil {
		if errors.Is(err, ErrConflict) || errors.Is(err, gorm.ErrDuplicatedKey) || s.deviceExists(ctx, d.DeviceID) {
			return model.Device{}, ErrConflict
		}
		return model.Device{}, fmt.Errorf("failed to create device %d: %w", d.DeviceID, err)
	}
	return d, nil
}

// deviceExists reports whether the row is present now. It catches an insert by the
// ingest path that landed between the existence check and Create.
func (s *gormStore) deviceExists(ctx context.Context, deviceID int64) bool {
	var n int64
	err := s.db.WithContext(ctx).Model(&model.Device{}).Where("device_id = ?", deviceID).Count(&n).Error
	return err == nil && n > 0
}

func (s *gormStore) UpdateDevice(ctx context.Context, deviceID int64, u DeviceUpdate) (model.Device, error) {
	var device model.Device
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Take(&device, "device_id = ?", deviceID).Error; err != nil {
			return notFound(err)
		}
		updates := map[string]any{}
		if u.Name != nil {
			updates["name"] = *u.Name
		}
		if u.Status != nil {
			updates["status"] = *u.Status
		}
		if len(updates) == 0 {
			return nil
		}
		if err := tx.Model(&device).Updates(updates).Error; err != nil {
			return err
		}
		return tx.Take(&device, "device_id = ?", deviceID).Error
	})
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return model.Device{}, err
		}
		return model.Device{}, fmt.Errorf("failed to update device %d: %w", deviceID, err)
	}
	return device, nil
}

// DeleteDevice removes the device record. Its readings are kept.
func (s *gormStore) DeleteDevice(ctx context.Context, deviceID int64) error {
	res := s.db.WithContext(ctx).Delete(&model.Device{}, "device_id = ?", deviceID)
	if res.Error != nil {
		return fmt.Errorf("failed to delete device %d: %w", deviceID, res.Error)
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}
