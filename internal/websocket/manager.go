package websocket

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"sync"
	"time"

	"github.com/gofiber/contrib/websocket"
	"github.com/google/uuid"

	"github.com/rajivgeraev/bazario-api/internal/models"
)

// authTimeout ограничивает время проверки учетных данных при подключении
const authTimeout = 5 * time.Second

// IdentityVerifier разрешает учетные данные соединения в пользователя
type IdentityVerifier interface {
	Verify(ctx context.Context, token string) (*models.User, error)
}

// UserStatusStore сохраняет переходы онлайн/оффлайн пользователя
type UserStatusStore interface {
	SetUserOnline(ctx context.Context, userID uuid.UUID, online bool) error
}

// Manager представляет центральную точку хаба: владеет реестром присутствия,
// менеджером комнат и диспетчером, создается при старте процесса и
// останавливается при завершении. Состояние не переживает перезапуск.
type Manager struct {
	verifier   IdentityVerifier
	users      UserStatusStore
	presence   *PresenceRegistry
	rooms      *RoomManager
	dispatcher *Dispatcher

	clientsMutex sync.RWMutex
	clients      map[uuid.UUID]*Client

	// statusMutex сериализует записи статуса, statusSeq хранит номер
	// последнего примененного перехода пользователя: запоздавший хук
	// не должен затереть более поздний статус в хранилище.
	statusMutex sync.Mutex
	statusSeq   map[uuid.UUID]uint64

	ctx    context.Context
	cancel context.CancelFunc
}

// NewManager создает новый экземпляр Manager
func NewManager(verifier IdentityVerifier, store Store, users UserStatusStore, participants ParticipantResolver) *Manager {
	ctx, cancel := context.WithCancel(context.Background())

	presence := NewPresenceRegistry()
	rooms := NewRoomManager(participants)

	m := &Manager{
		verifier:   verifier,
		users:      users,
		presence:   presence,
		rooms:      rooms,
		dispatcher: NewDispatcher(store, presence, rooms, participants),
		clients:    make(map[uuid.UUID]*Client),
		statusSeq:  make(map[uuid.UUID]uint64),
		ctx:        ctx,
		cancel:     cancel,
	}

	// Переходы присутствия фиксируются в хранилище: флаг онлайн и
	// время последней активности меняет только хаб
	presence.OnOnline = func(userID uuid.UUID, seq uint64) { m.persistUserStatus(userID, true, seq) }
	presence.OnOffline = func(userID uuid.UUID, seq uint64) { m.persistUserStatus(userID, false, seq) }

	return m
}

// Dispatcher возвращает диспетчер событий хаба; REST-маршруты
// отправляют сообщения и создают переписки через него
func (m *Manager) Dispatcher() *Dispatcher {
	return m.dispatcher
}

// HandleConnection обслуживает одно WebSocket соединение: проверка
// учетных данных, регистрация присутствия, цикл чтения событий.
// Учетные данные передаются только при установке соединения
// (query-параметр token), повторной аутентификации в сессии нет.
func (m *Manager) HandleConnection(conn *websocket.Conn) {
	ctx, cancel := context.WithTimeout(m.ctx, authTimeout)
	user, err := m.verifier.Verify(ctx, conn.Query("token"))
	cancel()
	if err != nil {
		// Ошибка аутентификации фатальна: сообщаем и закрываем,
		// не создавая никакого состояния в хабе
		log.Printf("WebSocket authentication failed: %v", err)
		payload, _ := json.Marshal(OutboundEvent{
			Type:      EventError,
			Error:     "Ошибка аутентификации",
			Timestamp: time.Now(),
		})
		conn.WriteMessage(websocket.TextMessage, payload)
		conn.Close()
		return
	}

	client := newClient(user, conn, m)
	client.setState(StateAuthenticated)

	m.addClient(client)
	client.setState(StateActive)

	client.Send(OutboundEvent{Type: EventConnected, Payload: ConnectedPayload{User: user}})

	go client.writePump()
	client.readPump()
}

// handleInbound разбирает входящий кадр и передает событие диспетчеру.
// Отклоненная операция отвечает событием error, соединение остается
// открытым.
func (m *Manager) handleInbound(c *Client, raw []byte) {
	if c.State() != StateActive {
		c.sendError("Сессия не активна")
		return
	}

	event, err := DecodeInbound(raw)
	if err != nil {
		c.sendError(userMessage(err))
		return
	}

	switch ev := event.(type) {
	case JoinConversationEvent:
		if err := m.dispatcher.JoinConversation(m.ctx, c, ev.ConversationID); err != nil {
			c.sendError(userMessage(err))
		}
	case LeaveConversationEvent:
		m.dispatcher.LeaveConversation(c, ev.ConversationID)
	case SendMessageEvent:
		if _, err := m.dispatcher.SendMessage(m.ctx, c.UserID, ev.ConversationID, ev.Text); err != nil {
			c.sendError(userMessage(err))
		}
	case TypingEvent:
		m.dispatcher.Typing(c, ev.ConversationID, ev.IsTyping)
	}
}

// addClient регистрирует соединение в общем списке и в реестре присутствия
func (m *Manager) addClient(client *Client) {
	m.clientsMutex.Lock()
	m.clients[client.ID] = client
	m.clientsMutex.Unlock()

	m.presence.Register(client)

	log.Printf("WebSocket client %s connected for user %s", client.ID, client.UserID)
}

// removeClient снимает все следы соединения; вызывается из close()
// сессии и потому не более одного раза на соединение
func (m *Manager) removeClient(client *Client) {
	m.clientsMutex.Lock()
	delete(m.clients, client.ID)
	m.clientsMutex.Unlock()

	m.dispatcher.Disconnect(client)

	log.Printf("WebSocket client %s disconnected for user %s", client.ID, client.UserID)
}

// persistUserStatus записывает переход онлайн/оффлайн в хранилище.
// Переходы применяются строго в порядке номеров: хук, обогнанный
// более поздним переходом того же пользователя, пропускается, а
// записи выполняются под statusMutex, чтобы порядок не нарушился
// уже на стороне хранилища.
func (m *Manager) persistUserStatus(userID uuid.UUID, online bool, seq uint64) {
	if m.users == nil {
		return
	}

	m.statusMutex.Lock()
	defer m.statusMutex.Unlock()
	if seq <= m.statusSeq[userID] {
		return
	}
	m.statusSeq[userID] = seq

	ctx, cancel := context.WithTimeout(context.Background(), authTimeout)
	defer cancel()
	if err := m.users.SetUserOnline(ctx, userID, online); err != nil {
		log.Printf("Ошибка обновления статуса пользователя %s: %v", userID, err)
	}
}

// Shutdown корректно завершает работу хаба: закрывает все соединения
func (m *Manager) Shutdown() {
	m.cancel()

	m.clientsMutex.Lock()
	clients := make([]*Client, 0, len(m.clients))
	for _, client := range m.clients {
		clients = append(clients, client)
	}
	m.clientsMutex.Unlock()

	for _, client := range clients {
		client.close()
	}
}

// userMessage переводит типизированную ошибку в текст события error
func userMessage(err error) string {
	switch {
	case errors.Is(err, models.ErrNotAuthorized):
		return "Вы не участник этой переписки"
	case errors.Is(err, models.ErrNotFound):
		return "Переписка не найдена"
	case errors.Is(err, models.ErrValidation):
		return "Некорректные данные запроса"
	case errors.Is(err, models.ErrPersistence):
		return "Не удалось сохранить изменения, попробуйте позже"
	default:
		return "Внутренняя ошибка"
	}
}
