package model

import (
	"time"

	"gorm.io/datatypes"
)

// ChannelConfig maps a reading type to its display name and channel labels.
type ChannelConfig struct {
	Type         int                         `gorm:"primaryKey;autoIncrement:false" json:"type"`
	Name         string                      `gorm:"size:128;not null" json:"name"`
	ChannelNames datatypes.JSONSlice[string] `gorm:"column:channel_names;not null" json:"module"`
	CreatedAt    time.Time                   `json:"-"`
	UpdatedAt    time.Time                   `json:"-"`
}
