package aggregator

import (
	"time"

	"github.com/sirupsen/logrus"
)

// Метки состояния трафика
const (
	StateFluid     = "fluid"
	StateModerate  = "moderate"
	StateSaturated = "saturated"
)

// Пороги взвешенной суммы для классификации загруженности
const (
	moderateThreshold  = 5.0
	saturatedThreshold = 15.0
)

// DefaultRetention окно хранения минутных корзин в памяти
const DefaultRetention = 2 * time.Hour

// classWeights веса классов для оценки загруженности; неизвестные классы — 0
var classWeights = map[string]float64{
	"Car":        1.0,
	"Bus":        2.5,
	"Truck":      2.0,
	"Motorcycle": 0.5,
	"Bicycle":    0.3,
	"Person":     0.2,
}

// TrafficState вычисляет метку загруженности по взвешенной сумме счетчиков.
// Это эвристический классификатор с фиксированными порогами, а не
// статистическая модель.
func TrafficState(counts map[string]int) string {
	score := 0.0
	for cls, cnt := range counts {
		score += float64(cnt) * classWeights[cls]
	}

	switch {
	case score < moderateThreshold:
		return StateFluid
	case score < saturatedThreshold:
		return StateModerate
	default:
		return StateSaturated
	}
}

// MetricStore определяет контракт внешнего хранилища минутных метрик.
// Запись выполняется без повторов: ошибка логируется и не прерывает конвейер.
type MetricStore interface {
	SaveMinuteMetrics(timestamp time.Time, counts map[string]int, trafficState string, riskCount int) error
}

// Aggregator накапливает посчитанные за цикл счетчики в минутные корзины
// и раз в минуту сбрасывает завершенную корзину во внешнее хранилище.
// Не потокобезопасен: все вызовы выполняет рабочий цикл конвейера.
type Aggregator struct {
	store     MetricStore
	logger    *logrus.Logger
	retention time.Duration
	buckets   map[time.Time]map[string]int
	lastFlush time.Time
}

// New создает новый агрегатор с заданным окном хранения
func New(store MetricStore, retention time.Duration, logger *logrus.Logger) *Aggregator {
	return &Aggregator{
		store:     store,
		logger:    logger,
		retention: retention,
		buckets:   make(map[time.Time]map[string]int),
		lastFlush: time.Now().UTC(),
	}
}

// RecordFrame добавляет счетчики текущего цикла в корзину текущей минуты
func (a *Aggregator) RecordFrame(now time.Time, counts map[string]int) {
	key := now.Truncate(time.Minute)
	bucket, ok := a.buckets[key]
	if !ok {
		bucket = make(map[string]int)
		a.buckets[key] = bucket
	}
	for cls, cnt := range counts {
		bucket[cls] += cnt
	}
}

// FlushIfDue раз в прошедшую минутную границу сохраняет корзину текущей
// минуты во внешнее хранилище и вытесняет корзины старше окна хранения.
func (a *Aggregator) FlushIfDue(now time.Time) {
	if now.Sub(a.lastFlush) < time.Minute {
		return
	}
	a.lastFlush = now

	key := now.Truncate(time.Minute)
	counts := a.buckets[key]
	if counts == nil {
		counts = map[string]int{}
	}

	state := TrafficState(counts)
	// Счетчик рисков зарезервирован: пока всегда 0
	if err := a.store.SaveMinuteMetrics(key, counts, state, 0); err != nil {
		a.logger.Errorf("Ошибка сохранения минутных метрик: %v", err)
	}

	a.evict(now)
}

// evict удаляет корзины старше окна хранения, ограничивая память
func (a *Aggregator) evict(now time.Time) {
	cutoff := now.Add(-a.retention)
	for key := range a.buckets {
		if key.Before(cutoff) {
			delete(a.buckets, key)
		}
	}
}

// Reset очищает накопленные корзины; вызывается при смене видеоисточника
func (a *Aggregator) Reset() {
	a.buckets = make(map[time.Time]map[string]int)
}

// BucketCount возвращает число корзин в памяти
func (a *Aggregator) BucketCount() int {
	return len(a.buckets)
}
