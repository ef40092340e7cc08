package handler

import (
	"net/http"
	"sync"
	"time"

	"traffic-vision-go/internal/pipeline"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"
)

// broadcastInterval период рассылки метрик подключенным клиентам
const broadcastInterval = 200 * time.Millisecond

// ConnectionManager управляет WebSocket подключениями и рассылкой метрик
type ConnectionManager struct {
	pipeline *pipeline.Pipeline
	logger   *logrus.Logger
	upgrader websocket.Upgrader

	mu      sync.Mutex
	clients map[string]*websocket.Conn // ключ — ID подключения

	stop chan struct{}
	wg   sync.WaitGroup
}

// NewConnectionManager создает новый менеджер WebSocket подключений
func NewConnectionManager(p *pipeline.Pipeline, logger *logrus.Logger) *ConnectionManager {
	return &ConnectionManager{
		pipeline: p,
		logger:   logger,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			// Дашборд обслуживается с другого origin
			CheckOrigin: func(r *http.Request) bool { return true },
		},
		clients: make(map[string]*websocket.Conn),
		stop:    make(chan struct{}),
	}
}

// RegisterRoutes регистрирует WebSocket маршрут
func (m *ConnectionManager) RegisterRoutes(router *gin.Engine) {
	router.GET("/ws", m.HandleWS)
}

// HandleWS обновляет соединение до WebSocket и держит его до отключения клиента
func (m *ConnectionManager) HandleWS(c *gin.Context) {
	conn, err := m.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		m.logger.Errorf("Ошибка обновления соединения до WebSocket: %v", err)
		return
	}

	clientID := uuid.New().String()

	m.mu.Lock()
	m.clients[clientID] = conn
	total := len(m.clients)
	m.mu.Unlock()

	m.logger.Infof("WebSocket клиент %s подключен (всего %d)", clientID, total)

	// Читаем до ошибки, только чтобы заметить закрытие соединения клиентом
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			break
		}
	}

	m.disconnect(clientID)
}

// disconnect удаляет клиента и закрывает его соединение
func (m *ConnectionManager) disconnect(clientID string) {
	m.mu.Lock()
	conn, ok := m.clients[clientID]
	delete(m.clients, clientID)
	m.mu.Unlock()

	if ok {
		conn.Close()
		m.logger.Infof("WebSocket клиент %s отключен", clientID)
	}
}

// Broadcast отправляет сообщение всем подключенным клиентам.
// Клиенты с ошибкой записи отключаются.
func (m *ConnectionManager) Broadcast(message interface{}) {
	m.mu.Lock()
	conns := make(map[string]*websocket.Conn, len(m.clients))
	for id, conn := range m.clients {
		conns[id] = conn
	}
	m.mu.Unlock()

	for id, conn := range conns {
		if err := conn.WriteJSON(message); err != nil {
			m.logger.Debugf("Ошибка отправки клиенту %s: %v", id, err)
			m.disconnect(id)
		}
	}
}

// Start запускает фоновую рассылку последних метрик конвейера
func (m *ConnectionManager) Start() {
	m.wg.Add(1)
	go func() {
		defer m.wg.Done()

		ticker := time.NewTicker(broadcastInterval)
		defer ticker.Stop()

		var lastFrame int64 = -1

		for {
			select {
			case <-m.stop:
				return
			case <-ticker.C:
				snapshot, ok := m.pipeline.LatestMetrics()
				if !ok || snapshot.Frame == lastFrame {
					continue
				}
				lastFrame = snapshot.Frame
				m.Broadcast(snapshot)
			}
		}
	}()
}

// Stop останавливает рассылку и закрывает все подключения
func (m *ConnectionManager) Stop() {
	close(m.stop)
	m.wg.Wait()

	m.mu.Lock()
	for id, conn := range m.clients {
		conn.Close()
		delete(m.clients, id)
	}
	m.mu.Unlock()
}
