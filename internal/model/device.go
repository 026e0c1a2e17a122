package model

import "time"

// Device status values.
const (
	DeviceOnline  = "online"
	DeviceOffline = "offline"
)

// Device represents a harvester known to the system.
type Device struct {
	DeviceID  int64     `gorm:"primaryKey;autoIncrement:false" json:"deviceId"` // Device-assigned ID
	Name      string    `gorm:"size:256;not null" json:"name"`
	Status    string    `gorm:"size:16;not null" json:"status"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}
