package store

import (
	"context"
	"fmt"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"harvester-telemetry-backend/internal/model"
)

// ListChannelConfigs returns all channel configs ordered by type.
func (s *gormStore) ListChannelConfigs(ctx context.Context) ([]model.ChannelConfig, error) {
	configs := make([]model.ChannelConfig, 0)
	if err := s.db.WithContext(ctx).Order("type ASC").Find(&configs).Error; err != nil {
		return nil, fmt.Errorf("failed to list channel configs: %w", err)
	}
	return configs, nil
}

// SaveChannelConfigs upserts each config by type in one transaction.
// Types not present in configs are left untouched.
func (s *gormStore) SaveChannelConfigs(ctx context.Context, configs []model.ChannelConfig) error {
	if len(configs) == 0 {
		return nil
	}
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		for i := range configs {
			if err := tx.Clauses(clause.OnConflict{
				Columns:   []clause.Column{{Name: "type"}},
				DoUpdates: clause.AssignmentColumns([]string{"name", "channel_names", "updated_at"}),
			}).Create(&configs[i]).Error; err != nil {
				return fmt.Errorf("failed to save channel config for type %d: %w", configs[i].Type, err)
			}
		}
		return nil
	})
}
