package model

import (
	"time"

	"gorm.io/datatypes"
)

// Reading is one decoded telemetry sample. Rows are append-only.
type Reading struct {
	ID         string                       `gorm:"primaryKey;size:36" json:"id"`
	DeviceID   int64                        `gorm:"not null;index:idx_readings_device_captured,priority:1" json:"deviceId"`
	Type       int                          `gorm:"not null;index:idx_readings_type_captured,priority:1" json:"type"`
	Channels   datatypes.JSONSlice[float64] `gorm:"column:module;not null" json:"module"`
	ClientID   string                       `gorm:"size:256" json:"clientId,omitempty"`
	Topic      string                       `gorm:"size:256" json:"topic,omitempty"`
	CapturedAt time.Time                    `gorm:"primaryKey;not null;index:idx_readings_device_captured,priority:2;index:idx_readings_type_captured,priority:2" json:"capturedAt"` // Part of the key so the table can become a hypertable
}
