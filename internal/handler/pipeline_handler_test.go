package handler

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"traffic-vision-go/internal/aggregator"
	"traffic-vision-go/internal/model"
	"traffic-vision-go/internal/pipeline"
	"traffic-vision-go/pkg/models"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeMetricRepo отдает заранее подготовленные минутные метрики
type fakeMetricRepo struct {
	metrics []*model.MinuteMetric
	err     error
}

func (r *fakeMetricRepo) SaveMinuteMetrics(timestamp time.Time, counts map[string]int, trafficState string, riskCount int) error {
	return r.err
}

func (r *fakeMetricRepo) ListByRange(start, end time.Time) ([]*model.MinuteMetric, error) {
	return r.metrics, r.err
}

func (r *fakeMetricRepo) ListByDate(date time.Time) ([]*model.MinuteMetric, error) {
	return r.metrics, r.err
}

// nopStore отбрасывает минутные метрики
type nopStore struct{}

func (nopStore) SaveMinuteMetrics(time.Time, map[string]int, string, int) error { return nil }

func newTestRouter(t *testing.T, repo *fakeMetricRepo, videoDir string) (*gin.Engine, *pipeline.Pipeline) {
	t.Helper()
	gin.SetMode(gin.TestMode)

	logger := logrus.New()
	logger.SetLevel(logrus.PanicLevel)

	agg := aggregator.New(nopStore{}, aggregator.DefaultRetention, logger)
	pipe := pipeline.New(nil, nil, agg, pipeline.Options{FrameSkip: 1, MaxLost: 30, IoUThreshold: 0.3}, logger)

	h := NewPipelineHandler(pipe, repo, nil, videoDir, logger)
	router := gin.New()
	h.RegisterRoutes(router)
	return router, pipe
}

func TestGetRealtimeMetricsEmptyBeforeFirstFrame(t *testing.T) {
	router, _ := newTestRouter(t, &fakeMetricRepo{}, t.TempDir())

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/api/v1/metrics/realtime", nil)
	router.ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, "{}", w.Body.String())
}

func TestGetMetricsHistoryDecodesStoredCounts(t *testing.T) {
	ts := time.Date(2026, 8, 26, 10, 0, 0, 0, time.UTC)
	repo := &fakeMetricRepo{metrics: []*model.MinuteMetric{
		{ID: 1, Timestamp: ts, Counts: `{"Car":3,"Bus":1}`, TrafficState: "moderate"},
		{ID: 2, Timestamp: ts.Add(time.Minute), Counts: `не json`, TrafficState: "fluid"},
	}}
	router, _ := newTestRouter(t, repo, t.TempDir())

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/api/v1/metrics/history", nil)
	router.ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)

	var history []map[string]interface{}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &history))

	// Запись с некорректным JSON счетчиков пропущена
	require.Len(t, history, 1)
	assert.Equal(t, "moderate", history[0]["traffic_state"])
}

func TestGetMetricsHistoryRejectsBadTimeRange(t *testing.T) {
	router, _ := newTestRouter(t, &fakeMetricRepo{}, t.TempDir())

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/api/v1/metrics/history?start=вчера", nil)
	router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestListVideosReturnsSortedBasenames(t *testing.T) {
	dir := t.TempDir()
	for _, name := range []string{"b.mp4", "a.mp4", "readme.txt"} {
		require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte("x"), 0o644))
	}
	router, _ := newTestRouter(t, &fakeMetricRepo{}, dir)

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/api/v1/videos", nil)
	router.ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)

	var resp struct {
		Videos []string `json:"videos"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, []string{"a.mp4", "b.mp4"}, resp.Videos)
}

func TestSelectVideoValidation(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "ok.mp4"), []byte("x"), 0o644))

	tests := []struct {
		name string
		body string
		want int
	}{
		{"без имени", `{}`, http.StatusBadRequest},
		{"выход из каталога", `{"name":"../etc/passwd"}`, http.StatusBadRequest},
		{"не mp4", `{"name":"ok.txt"}`, http.StatusNotFound},
		{"несуществующий файл", `{"name":"missing.mp4"}`, http.StatusNotFound},
		{"существующий файл", `{"name":"ok.mp4"}`, http.StatusOK},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			router, _ := newTestRouter(t, &fakeMetricRepo{}, dir)

			w := httptest.NewRecorder()
			req := httptest.NewRequest(http.MethodPost, "/api/v1/videos/select",
				bytes.NewBufferString(tt.body))
			req.Header.Set("Content-Type", "application/json")
			router.ServeHTTP(w, req)

			assert.Equal(t, tt.want, w.Code)
		})
	}
}

func TestSetROIAcceptsDegeneratePolygon(t *testing.T) {
	router, _ := newTestRouter(t, &fakeMetricRepo{}, t.TempDir())

	// Полигон из двух точек принимается и трактуется как отключение фильтрации
	body, err := json.Marshal(setROIRequest{Polygon: []models.Point{{X: 1, Y: 1}, {X: 2, Y: 2}}})
	require.NoError(t, err)

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/api/v1/roi", bytes.NewBuffer(body))
	req.Header.Set("Content-Type", "application/json")
	router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
}

func TestPlaceholderSafeUnderConcurrentRequests(t *testing.T) {
	logger := logrus.New()
	logger.SetLevel(logrus.PanicLevel)

	agg := aggregator.New(nopStore{}, aggregator.DefaultRetention, logger)
	pipe := pipeline.New(nil, nil, agg, pipeline.Options{FrameSkip: 1, MaxLost: 30, IoUThreshold: 0.3}, logger)
	h := NewPipelineHandler(pipe, &fakeMetricRepo{}, nil, t.TempDir(), logger)

	// Конвейер еще ничего не опубликовал: все горутины строят заглушку
	const clients = 16
	results := make([][]byte, clients)

	var wg sync.WaitGroup
	for i := 0; i < clients; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i] = h.placeholder()
		}(i)
	}
	wg.Wait()

	require.NotEmpty(t, results[0])
	for i := 1; i < clients; i++ {
		// Все читатели видят один и тот же полностью построенный буфер
		assert.Equal(t, results[0], results[i])
	}
}

func TestDailyReportEscapesStoredFields(t *testing.T) {
	ts := time.Date(2026, 8, 26, 10, 0, 0, 0, time.UTC)
	repo := &fakeMetricRepo{metrics: []*model.MinuteMetric{
		{ID: 1, Timestamp: ts, Counts: `<script>alert(1)</script>`, TrafficState: `<b>fluid</b>`},
	}}
	router, _ := newTestRouter(t, repo, t.TempDir())

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/api/v1/reports/daily?date=2026-08-26", nil)
	router.ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)
	assert.NotContains(t, w.Body.String(), "<script>")
	assert.Contains(t, w.Body.String(), "&lt;script&gt;alert(1)&lt;/script&gt;")
	assert.Contains(t, w.Body.String(), "&lt;b&gt;fluid&lt;/b&gt;")
}

func TestDailyReportRendersHTML(t *testing.T) {
	ts := time.Date(2026, 8, 26, 10, 0, 0, 0, time.UTC)
	repo := &fakeMetricRepo{metrics: []*model.MinuteMetric{
		{ID: 1, Timestamp: ts, Counts: `{"Car":3}`, TrafficState: "fluid"},
	}}
	router, _ := newTestRouter(t, repo, t.TempDir())

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/api/v1/reports/daily?date=2026-08-26", nil)
	router.ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Header().Get("Content-Type"), "text/html")
	assert.Contains(t, w.Body.String(), "Traffic Report for 2026-08-26")
	assert.Contains(t, w.Body.String(), "10:00")
}
