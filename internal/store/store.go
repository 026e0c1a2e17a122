package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"

	"harvester-telemetry-backend/internal/model"
)

const (
	// DefaultHistoryLimit is used when a caller does not ask for a row count.
	DefaultHistoryLimit = 100
	// MaxHistoryLimit caps every history query.
	MaxHistoryLimit = 5000
)

var (
	ErrNotFound = errors.New("store: not found")
	ErrConflict = errors.New("store: already exists")
)

// Store defines the interface for all database operations.
type Store interface {
	// Ingest write path.
	UpsertDevice(ctx context.Context, deviceID int64) (model.Device, error)
	WriteReading(ctx context.Context, r *model.Reading) error

	// Query path.
	QueryHistory(ctx context.Context, q HistoryQuery) ([]model.Reading, error)
	QuerySeries(ctx context.Context, q HistoryQuery) (Series, error)
	LatestReading(ctx context.Context, deviceID int64) (model.Reading, error)
	DeviceHistory(ctx context.Context, q DeviceHistoryQuery) ([]model.Reading, error)

	ListChannelConfigs(ctx context.Context) ([]model.ChannelConfig, error)
	SaveChannelConfigs(ctx context.Context, configs []model.ChannelConfig) error

	ListDevices(ctx context.Context) ([]model.Device, error)
	GetDevice(ctx context.Context, deviceID int64) (DeviceDetail, error)
	CreateDevice(ctx context.Context, d model.Device) (model.Device, error)
	UpdateDevice(ctx context.Context, deviceID int64, u DeviceUpdate) (model.Device, error)
	DeleteDevice(ctx context.Context, deviceID int64) error

	Ping(ctx context.Context) error
}

// HistoryQuery selects readings of one type within an inclusive time range.
type HistoryQuery struct {
	Type  int
	Start time.Time
	End   time.Time
	Limit int
}

// DeviceHistoryQuery selects one device's readings. Zero Start or End leaves that side open.
type DeviceHistoryQuery struct {
	DeviceID int64
	Start    time.Time
	End      time.Time
	Limit    int
}

// DeviceDetail is a device together with how many readings it has reported.
type DeviceDetail struct {
	model.Device
	ReadingCount int64 `json:"readingCount"`
}

// DeviceUpdate carries the mutable device fields; nil fields are left as they are.
type DeviceUpdate struct {
	Name   *string
	Status *string
}

// gormStore implements the Store interface using GORM.
type gormStore struct {
	db *gorm.DB
}

// NewGormStore creates a new GORM-backed store.
func NewGormStore(db *gorm.DB) Store {
	return &gormStore{db: db}
}

func (s *gormStore) Ping(ctx context.Context) error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return fmt.Errorf("failed to get sql.DB: %w", err)
	}
	return sqlDB.PingContext(ctx)
}

// clampLimit applies the default and the hard cap to a caller-supplied row count.
func clampLimit(limit int) int {
	switch {
	case limit <= 0:
		return DefaultHistoryLimit
	case limit > MaxHistoryLimit:
		return MaxHistoryLimit
	default:
		return limit
	}
}

func notFound(err error) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return ErrNotFound
	}
	return err
}
