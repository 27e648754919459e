package websocket

import (
	"encoding/json"
	"log"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gofiber/contrib/websocket"
	"github.com/google/uuid"

	"github.com/rajivgeraev/bazario-api/internal/models"
)

const (
	// Максимальное время ожидания pong от клиента
	pongWait = 60 * time.Second

	// Интервал отправки ping клиенту
	pingPeriod = (pongWait * 9) / 10

	// Время ожидания записи в соединение
	writeWait = 10 * time.Second

	// Максимальный размер входящего кадра
	maxMessageSize = 64 * 1024

	// Размер буфера исходящих сообщений
	sendBufferSize = 256
)

// SessionState представляет состояние сессии соединения
type SessionState int32

const (
	// StateConnecting: транспорт подключен, учетные данные еще не проверены
	StateConnecting SessionState = iota
	// StateAuthenticated: личность установлена, регистрация присутствия идет
	StateAuthenticated
	// StateActive: сессия принимает события
	StateActive
	// StateClosed: терминальное состояние; соединение невалидно и не переиспользуется
	StateClosed
)

// Client представляет собой отдельное WebSocket соединение.
// Каждое соединение обслуживается одним логическим потоком чтения
// (readPump) и одним потоком записи (writePump).
type Client struct {
	ID     uuid.UUID
	UserID uuid.UUID
	User   *models.User

	conn      *websocket.Conn
	send      chan []byte
	manager   *Manager
	state     atomic.Int32
	closeOnce sync.Once
	done      chan struct{}
}

// newClient создает новый экземпляр Client для аутентифицированного пользователя
func newClient(user *models.User, conn *websocket.Conn, manager *Manager) *Client {
	c := &Client{
		ID:      uuid.New(),
		UserID:  user.ID,
		User:    user,
		conn:    conn,
		send:    make(chan []byte, sendBufferSize),
		manager: manager,
		done:    make(chan struct{}),
	}
	c.state.Store(int32(StateConnecting))
	return c
}

// State возвращает текущее состояние сессии
func (c *Client) State() SessionState {
	return SessionState(c.state.Load())
}

func (c *Client) setState(s SessionState) {
	c.state.Store(int32(s))
}

// Send ставит событие в очередь отправки клиенту. Возвращает false,
// если сессия закрыта или клиент не успевает читать; в последнем
// случае соединение закрывается (медленный потребитель).
func (c *Client) Send(event OutboundEvent) bool {
	if c.State() == StateClosed {
		return false
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}

	data, err := json.Marshal(event)
	if err != nil {
		log.Printf("Error marshaling event: %v", err)
		return false
	}

	select {
	case c.send <- data:
		return true
	default:
		// Канал заполнен, клиент слишком медленный: закрываем соединение
		log.Printf("Send channel full for client %s, closing connection", c.ID)
		c.close()
		return false
	}
}

// sendError отправляет типизированное событие ошибки. Соединение при
// этом не закрывается: отклоненная операция не фатальна для сессии.
func (c *Client) sendError(message string) {
	c.Send(OutboundEvent{Type: EventError, Error: message})
}

// readPump обрабатывает входящие кадры соединения. Блокируется до
// отключения транспорта; завершение всегда приводит к очистке сессии.
func (c *Client) readPump() {
	defer c.close()

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, message, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				log.Printf("Unexpected close error: %v", err)
			}
			break
		}
		c.manager.handleInbound(c, message)
	}
}

// writePump отправляет сообщения клиенту и поддерживает соединение ping-ами
func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.close()
	}()

	for {
		select {
		case message := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				log.Printf("Error writing message: %v", err)
				return
			}
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case <-c.done:
			return
		}
	}
}

// close переводит сессию в терминальное состояние и снимает все ее
// следы в реестре присутствия и комнатах. Идемпотентна: транспортное
// отключение может гоняться с прикладным разлогином.
func (c *Client) close() {
	c.closeOnce.Do(func() {
		c.setState(StateClosed)
		close(c.done)
		if c.conn != nil {
			c.conn.Close()
		}
		if c.manager != nil {
			c.manager.removeClient(c)
		}
	})
}
