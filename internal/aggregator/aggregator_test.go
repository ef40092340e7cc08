package aggregator

import (
	"errors"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// savedMetric фиксирует один вызов SaveMinuteMetrics
type savedMetric struct {
	timestamp    time.Time
	counts       map[string]int
	trafficState string
	riskCount    int
}

// fakeStore накапливает сохраненные метрики в памяти
type fakeStore struct {
	saved []savedMetric
	err   error
}

func (s *fakeStore) SaveMinuteMetrics(timestamp time.Time, counts map[string]int, trafficState string, riskCount int) error {
	if s.err != nil {
		return s.err
	}
	s.saved = append(s.saved, savedMetric{
		timestamp:    timestamp,
		counts:       counts,
		trafficState: trafficState,
		riskCount:    riskCount,
	})
	return nil
}

func testLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetLevel(logrus.PanicLevel)
	return logger
}

func TestTrafficStateThresholds(t *testing.T) {
	tests := []struct {
		name   string
		counts map[string]int
		want   string
	}{
		{"пустые счетчики", map[string]int{}, StateFluid},
		{"4 машины - score 4", map[string]int{"Car": 4}, StateFluid},
		{"10 машин - score 10", map[string]int{"Car": 10}, StateModerate},
		{"6 автобусов - score 15", map[string]int{"Bus": 6}, StateSaturated},
		{"граница 5 - moderate", map[string]int{"Car": 5}, StateModerate},
		{"смешанный поток", map[string]int{"Car": 3, "Truck": 2, "Person": 5}, StateModerate},
		{"неизвестный класс не учитывается", map[string]int{"unknown": 100}, StateFluid},
		{"пешеходы и велосипеды", map[string]int{"Person": 10, "Bicycle": 5}, StateFluid},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, TrafficState(tt.counts))
		})
	}
}

func TestRecordFrameAccumulatesWithinMinute(t *testing.T) {
	store := &fakeStore{}
	agg := New(store, DefaultRetention, testLogger())

	base := time.Date(2026, 8, 26, 12, 30, 10, 0, time.UTC)
	agg.RecordFrame(base, map[string]int{"Car": 2, "Bus": 1})
	agg.RecordFrame(base.Add(20*time.Second), map[string]int{"Car": 3})

	// Обе записи попали в одну минутную корзину
	assert.Equal(t, 1, agg.BucketCount())

	// Следующая минута открывает новую корзину
	agg.RecordFrame(base.Add(time.Minute), map[string]int{"Car": 1})
	assert.Equal(t, 2, agg.BucketCount())
}

func TestFlushIfDuePersistsCompletedMinute(t *testing.T) {
	store := &fakeStore{}
	agg := New(store, DefaultRetention, testLogger())

	now := time.Now().UTC().Add(90 * time.Second)
	agg.RecordFrame(now, map[string]int{"Car": 2})
	agg.RecordFrame(now, map[string]int{"Car": 3, "Bus": 1})

	agg.FlushIfDue(now)

	require.Len(t, store.saved, 1)
	assert.Equal(t, now.Truncate(time.Minute), store.saved[0].timestamp)
	assert.Equal(t, map[string]int{"Car": 5, "Bus": 1}, store.saved[0].counts)
	assert.Equal(t, StateModerate, store.saved[0].trafficState)
	assert.Equal(t, 0, store.saved[0].riskCount)
}

func TestFlushIfDueRespectsMinuteBoundary(t *testing.T) {
	store := &fakeStore{}
	agg := New(store, DefaultRetention, testLogger())

	// Меньше минуты с момента создания: сброс не выполняется
	agg.RecordFrame(time.Now().UTC(), map[string]int{"Car": 1})
	agg.FlushIfDue(time.Now().UTC().Add(30 * time.Second))

	assert.Empty(t, store.saved)
}

func TestFlushEvictsBucketsPastRetention(t *testing.T) {
	store := &fakeStore{}
	agg := New(store, 2*time.Hour, testLogger())

	now := time.Now().UTC().Add(2 * time.Minute)
	agg.RecordFrame(now.Add(-3*time.Hour), map[string]int{"Car": 1})
	agg.RecordFrame(now, map[string]int{"Car": 1})
	require.Equal(t, 2, agg.BucketCount())

	agg.FlushIfDue(now)

	// Корзина старше окна хранения вытеснена
	assert.Equal(t, 1, agg.BucketCount())
}

func TestFlushErrorDoesNotPanic(t *testing.T) {
	store := &fakeStore{err: errors.New("база недоступна")}
	agg := New(store, DefaultRetention, testLogger())

	now := time.Now().UTC().Add(2 * time.Minute)
	agg.RecordFrame(now, map[string]int{"Car": 1})

	assert.NotPanics(t, func() {
		agg.FlushIfDue(now)
	})
}

func TestResetClearsBuckets(t *testing.T) {
	store := &fakeStore{}
	agg := New(store, DefaultRetention, testLogger())

	agg.RecordFrame(time.Now().UTC(), map[string]int{"Car": 1})
	require.Equal(t, 1, agg.BucketCount())

	agg.Reset()

	assert.Equal(t, 0, agg.BucketCount())
}
