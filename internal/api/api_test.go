package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"harvester-telemetry-backend/config"
	"harvester-telemetry-backend/internal/db"
	"harvester-telemetry-backend/internal/model"
	"harvester-telemetry-backend/internal/mw"
	"harvester-telemetry-backend/internal/store"
)

var base = time.Date(2025, 3, 1, 8, 0, 0, 0, time.UTC)

var testServerConfig = config.ServerConfig{
	RateLimitPerSec: 1000,
	RateLimitBurst:  1000,
	CacheTTLSeconds: 60,
	CORSOrigins:     []string{"*"},
}

type envelope struct {
	Success bool            `json:"success"`
	Data    json.RawMessage `json:"data"`
	Message string          `json:"message"`
	Error   string          `json:"error"`
}

type recordingSubscriber struct {
	ids []int64
}

func (r *recordingSubscriber) SubscribeDevice(id int64) error {
	r.ids = append(r.ids, id)
	return nil
}

func init() {
	gin.SetMode(gin.TestMode)
}

func setupRouter(t *testing.T, sub DeviceSubscriber) (*gin.Engine, store.Store, *gorm.DB) {
	t.Helper()
	dsn := "file:" + uuid.NewString() + "?mode=memory&cache=shared"
	gormDB, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{Logger: logger.Default.LogMode(logger.Silent)})
	require.NoError(t, err)

	sqlDB, err := gormDB.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { sqlDB.Close() })

	require.NoError(t, db.Migrate(gormDB))
	s := store.NewGormStore(gormDB)
	return NewRouter(s, testServerConfig, sub, zerolog.Nop()), s, gormDB
}

func do(t *testing.T, r *gin.Engine, method, path, body string) (*httptest.ResponseRecorder, envelope) {
	t.Helper()
	var reader *bytes.Reader
	if body != "" {
		reader = bytes.NewReader([]byte(body))
	} else {
		reader = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, reader)
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	var env envelope
	if w.Body.Len() > 0 {
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &env), w.Body.String())
	}
	return w, env
}

func zeros() []float64 {
	return make([]float64, 18)
}

func TestConfig_SaveMergesAndLists(t *testing.T) {
	r, _, _ := setupRouter(t, nil)

	w, env := do(t, r, http.MethodPost, "/api/config", `[{"type":1,"name":"M1","module":["I","V"]}]`)
	require.Equal(t, http.StatusOK, w.Code)
	assert.True(t, env.Success)
	assert.Equal(t, "Configuration saved successfully", env.Message)

	w, _ = do(t, r, http.MethodPost, "/api/config", `[{"type":2,"name":"M2","module":["T"]}]`)
	require.Equal(t, http.StatusOK, w.Code)

	w, env = do(t, r, http.MethodGet, "/api/config", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `[
		{"type":1,"name":"M1","module":["I","V"]},
		{"type":2,"name":"M2","module":["T"]}
	]`, string(env.Data))
}

func TestConfig_CacheFlushedOnSave(t *testing.T) {
	r, _, _ := setupRouter(t, nil)

	w, _ := do(t, r, http.MethodGet, "/api/config", "")
	assert.Equal(t, "MISS", w.Header().Get(mw.CacheHeader))
	w, env := do(t, r, http.MethodGet, "/api/config", "")
	assert.Equal(t, "HIT", w.Header().Get(mw.CacheHeader))
	assert.JSONEq(t, `[]`, string(env.Data))

	w, _ = do(t, r, http.MethodPost, "/api/config", `[{"type":1,"name":"M1","module":["I"]}]`)
	require.Equal(t, http.StatusOK, w.Code)

	w, env = do(t, r, http.MethodGet, "/api/config", "")
	assert.Equal(t, "MISS", w.Header().Get(mw.CacheHeader))
	assert.JSONEq(t, `[{"type":1,"name":"M1","module":["I"]}]`, string(env.Data))
}

func TestConfig_RejectsInvalidBodies(t *testing.T) {
	r, s, _ := setupRouter(t, nil)

	tests := []struct {
		name string
		body string
	}{
		{"not an array", `{"type":1,"name":"M1","module":[]}`},
		{"malformed", `[{"type":1,`},
		{"null", `null`},
		{"string", `"config"`},
		{"missing type", `[{"name":"M1","module":[]}]`},
		{"zero type", `[{"type":0,"name":"M1","module":[]}]`},
		{"missing name", `[{"type":1,"module":[]}]`},
		{"blank name", `[{"type":1,"name":"  ","module":[]}]`},
		{"missing module", `[{"type":1,"name":"M1"}]`},
		{"too many names", `[{"type":1,"name":"M1","module":["a","b","c","d","e","f","g","h","i","j","k","l","m","n","o","p","q","r","s"]}]`},
		{"duplicate type", `[{"type":1,"name":"A","module":[]},{"type":1,"name":"B","module":[]}]`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w, env := do(t, r, http.MethodPost, "/api/config", tt.body)
			assert.Equal(t, http.StatusBadRequest, w.Code)
			assert.False(t, env.Success)
			assert.NotEmpty(t, env.Error)
		})
	}

	configs, err := s.ListChannelConfigs(context.Background())
	require.NoError(t, err)
	assert.Empty(t, configs)
}

func TestConfig_SaveFailure(t *testing.T) {
	r, _, gormDB := setupRouter(t, nil)
	sqlDB, err := gormDB.DB()
	require.NoError(t, err)
	require.NoError(t, sqlDB.Close())

	w, env := do(t, r, http.MethodPost, "/api/config", `[{"type":1,"name":"M1","module":[]}]`)
	assert.Equal(t, http.StatusInternalServerError, w.Code)
	assert.False(t, env.Success)
}

func TestData_ParameterValidation(t *testing.T) {
	r, _, _ := setupRouter(t, nil)

	tests := []struct {
		name  string
		query string
		want  string
	}{
		{"no params", "", "Missing required query parameters: type, start, end"},
		{"missing end", "?type=1&start=0", "Missing required query parameters: type, start, end"},
		{"bad type", "?type=x&start=0&end=1", "Invalid parameter format"},
		{"bad start", "?type=1&start=yesterday&end=1", "Invalid parameter format"},
		{"bad limit", "?type=1&start=0&end=1&limit=-3", "Invalid parameter format"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w, env := do(t, r, http.MethodGet, "/api/data"+tt.query, "")
			assert.Equal(t, http.StatusBadRequest, w.Code)
			assert.Equal(t, tt.want, env.Error)
		})
	}
}

func TestData_ReturnsWindowAscending(t *testing.T) {
	r, s, _ := setupRouter(t, nil)
	ctx := context.Background()

	for _, m := range []int{2, 0, 1, 5} {
		require.NoError(t, s.WriteReading(ctx, &model.Reading{
			DeviceID:   1001,
			Type:       1,
			Channels:   zeros(),
			CapturedAt: base.Add(time.Duration(m) * time.Minute),
		}))
	}

	start := base.UnixMilli()
	end := base.Add(2 * time.Minute).UnixMilli()
	path := "/api/data?type=1&start=" + strconv.FormatInt(start, 10) + "&end=" + strconv.FormatInt(end, 10)
	w, env := do(t, r, http.MethodGet, path, "")
	require.Equal(t, http.StatusOK, w.Code)

	var points []dataPoint
	require.NoError(t, json.Unmarshal(env.Data, &points))
	require.Len(t, points, 3)
	for i, p := range points {
		assert.Equal(t, 1, p.Type)
		assert.Len(t, p.Module, 18)
		assert.Equal(t, base.Add(time.Duration(i)*time.Minute).UnixMilli(), p.Timestamp)
	}

	w, env = do(t, r, http.MethodGet, "/api/data?type=2&start=0&end="+strconv.FormatInt(end, 10), "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `[]`, string(env.Data))
}

func TestSeries_LabelsChannels(t *testing.T) {
	r, s, _ := setupRouter(t, nil)
	ctx := context.Background()

	require.NoError(t, s.SaveChannelConfigs(ctx, []model.ChannelConfig{{Type: 1, Name: "Engine", ChannelNames: []string{"RPM"}}}))
	require.NoError(t, s.WriteReading(ctx, &model.Reading{DeviceID: 7, Type: 1, Channels: zeros(), CapturedAt: base}))

	w, env := do(t, r, http.MethodGet, "/api/series?type=1&start=0&end="+strconv.FormatInt(base.UnixMilli(), 10), "")
	require.Equal(t, http.StatusOK, w.Code)

	var series store.Series
	require.NoError(t, json.Unmarshal(env.Data, &series))
	assert.Equal(t, "Engine", series.Name)
	require.Len(t, series.Channels, 18)
	assert.Equal(t, "RPM", series.Channels[0])
	assert.Len(t, series.Points, 1)
}

func TestRealtime(t *testing.T) {
	r, s, _ := setupRouter(t, nil)

	w, env := do(t, r, http.MethodGet, "/api/devices/1001/realtime", "")
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.False(t, env.Success)

	w, _ = do(t, r, http.MethodGet, "/api/devices/abc/realtime", "")
	assert.Equal(t, http.StatusBadRequest, w.Code)

	ctx := context.Background()
	require.NoError(t, s.WriteReading(ctx, &model.Reading{DeviceID: 1001, Type: 1, Channels: zeros(), CapturedAt: base}))
	require.NoError(t, s.WriteReading(ctx, &model.Reading{DeviceID: 1001, Type: 2, Channels: zeros(), CapturedAt: base.Add(time.Second)}))

	w, env = do(t, r, http.MethodGet, "/api/devices/1001/realtime", "")
	require.Equal(t, http.StatusOK, w.Code)
	var reading model.Reading
	require.NoError(t, json.Unmarshal(env.Data, &reading))
	assert.Equal(t, int64(1001), reading.DeviceID)
	assert.Equal(t, 2, reading.Type)
}

func TestDeviceHistory(t *testing.T) {
	r, s, _ := setupRouter(t, nil)
	ctx := context.Background()

	for m := 0; m < 5; m++ {
		require.NoError(t, s.WriteReading(ctx, &model.Reading{
			DeviceID:   9,
			Type:       1,
			Channels:   zeros(),
			CapturedAt: base.Add(time.Duration(m) * time.Minute),
		}))
	}

	w, env := do(t, r, http.MethodGet, "/api/devices/9/history?limit=2", "")
	require.Equal(t, http.StatusOK, w.Code)
	var readings []model.Reading
	require.NoError(t, json.Unmarshal(env.Data, &readings))
	require.Len(t, readings, 2)
	assert.True(t, readings[0].CapturedAt.Equal(base.Add(3*time.Minute)))
	assert.True(t, readings[1].CapturedAt.Equal(base.Add(4*time.Minute)))

	start := base.Add(time.Minute).Format(time.RFC3339)
	end := strconv.FormatInt(base.Add(2*time.Minute).UnixMilli(), 10)
	w, env = do(t, r, http.MethodGet, "/api/devices/9/history?startTime="+start+"&endTime="+end, "")
	require.Equal(t, http.StatusOK, w.Code)
	require.NoError(t, json.Unmarshal(env.Data, &readings))
	assert.Len(t, readings, 2)

	w, _ = do(t, r, http.MethodGet, "/api/devices/9/history?startTime=soon", "")
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestDeviceCRUD(t *testing.T) {
	sub := &recordingSubscriber{}
	r, _, _ := setupRouter(t, sub)

	w, env := do(t, r, http.MethodPost, "/api/devices", `{"deviceId":42,"name":"Field A"}`)
	require.Equal(t, http.StatusCreated, w.Code)
	var device model.Device
	require.NoError(t, json.Unmarshal(env.Data, &device))
	assert.Equal(t, "Field A", device.Name)
	assert.Equal(t, model.DeviceOffline, device.Status)
	assert.Equal(t, []int64{42}, sub.ids)

	w, _ = do(t, r, http.MethodPost, "/api/devices", `{"deviceId":42}`)
	assert.Equal(t, http.StatusConflict, w.Code)

	w, _ = do(t, r, http.MethodPost, "/api/devices", `{"deviceId":0}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w, env = do(t, r, http.MethodPost, "/api/devices", `{"deviceId":43}`)
	require.Equal(t, http.StatusCreated, w.Code)
	require.NoError(t, json.Unmarshal(env.Data, &device))
	assert.Equal(t, store.DefaultDeviceName(43), device.Name)

	w, env = do(t, r, http.MethodGet, "/api/devices", "")
	require.Equal(t, http.StatusOK, w.Code)
	var devices []model.Device
	require.NoError(t, json.Unmarshal(env.Data, &devices))
	assert.Len(t, devices, 2)

	w, env = do(t, r, http.MethodGet, "/api/devices/42", "")
	require.Equal(t, http.StatusOK, w.Code)
	var detail store.DeviceDetail
	require.NoError(t, json.Unmarshal(env.Data, &detail))
	assert.Equal(t, int64(42), detail.DeviceID)
	assert.Zero(t, detail.ReadingCount)

	w, _ = do(t, r, http.MethodPut, "/api/devices/42", `{"status":"broken"}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w, env = do(t, r, http.MethodPut, "/api/devices/42", `{"name":"Field B","status":"online"}`)
	require.Equal(t, http.StatusOK, w.Code)
	require.NoError(t, json.Unmarshal(env.Data, &device))
	assert.Equal(t, "Field B", device.Name)
	assert.Equal(t, model.DeviceOnline, device.Status)

	w, _ = do(t, r, http.MethodPut, "/api/devices/77", `{"name":"ghost"}`)
	assert.Equal(t, http.StatusNotFound, w.Code)

	w, env = do(t, r, http.MethodDelete, "/api/devices/42", "")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.True(t, env.Success)

	w, _ = do(t, r, http.MethodDelete, "/api/devices/42", "")
	assert.Equal(t, http.StatusNotFound, w.Code)
	w, _ = do(t, r, http.MethodGet, "/api/devices/42", "")
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestHealth(t *testing.T) {
	r, _, gormDB := setupRouter(t, nil)

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/health", nil))
	require.Equal(t, http.StatusOK, w.Code)
	var body map[string]string
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, "ok", body["status"])
	assert.NotEmpty(t, body["timestamp"])

	sqlDB, err := gormDB.DB()
	require.NoError(t, err)
	require.NoError(t, sqlDB.Close())

	w = httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, "degraded", body["status"])
}

func TestMetricsEndpoint(t *testing.T) {
	r, _, _ := setupRouter(t, nil)

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "go_goroutines")
}
