package websocket

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"

	"github.com/google/uuid"
	"golang.org/x/sync/singleflight"

	"github.com/rajivgeraev/bazario-api/internal/models"
)

// Store описывает контракт долговременного хранилища переписок и сообщений,
// каким его видит хаб. Реализуется db.ChatStore.
type Store interface {
	GetConversation(ctx context.Context, id uuid.UUID) (*models.Conversation, error)
	FindConversation(ctx context.Context, userA, userB uuid.UUID, productID *uuid.UUID) (*models.Conversation, error)
	CreateConversation(ctx context.Context, senderID, receiverID uuid.UUID, productID *uuid.UUID) (*models.Conversation, error)
	SaveMessage(ctx context.Context, conversationID, senderID uuid.UUID, text string) (*models.Message, error)
	MarkMessagesRead(ctx context.Context, conversationID, readerID uuid.UUID) error
}

// Dispatcher оркестрирует входящие события: сохраняет, обновляет
// реестр присутствия и комнаты, рассылает исходящие события нужным
// получателям. Ни одна операция не держит блокировку in-memory карт
// на время похода в хранилище.
type Dispatcher struct {
	store        Store
	presence     *PresenceRegistry
	rooms        *RoomManager
	participants ParticipantResolver

	// Сериализует конкурентное создание переписки по одному ключу
	// (пара участников, товар), чтобы не породить дубликаты.
	createGroup singleflight.Group
}

// NewDispatcher создает новый экземпляр Dispatcher
func NewDispatcher(store Store, presence *PresenceRegistry, rooms *RoomManager, participants ParticipantResolver) *Dispatcher {
	return &Dispatcher{
		store:        store,
		presence:     presence,
		rooms:        rooms,
		participants: participants,
	}
}

// SendMessage сохраняет сообщение и рассылает его. Порядок строгий:
// сначала запись в хранилище, потом рассылка. Сообщение не уходит
// клиентам, пока не сохранено. Рассылка best-effort и запись не
// откатывает.
//
// Полное событие new_message получают все соединения комнаты (включая
// другие устройства отправителя); участники, которые онлайн, но не
// подписаны на комнату, получают облегченное message_notification.
func (d *Dispatcher) SendMessage(ctx context.Context, senderID, conversationID uuid.UUID, text string) (*models.Message, error) {
	if strings.TrimSpace(text) == "" {
		return nil, fmt.Errorf("%w: текст сообщения не может быть пустым", models.ErrValidation)
	}

	participants, err := d.participants(ctx, conversationID)
	if err != nil {
		return nil, asPersistence(err)
	}
	if participants[0] != senderID && participants[1] != senderID {
		return nil, fmt.Errorf("%w: отправитель %s не участник переписки %s",
			models.ErrNotAuthorized, senderID, conversationID)
	}

	message, err := d.store.SaveMessage(ctx, conversationID, senderID, text)
	if err != nil {
		return nil, asPersistence(err)
	}

	// Полная рассылка подписанным на комнату соединениям
	members := d.rooms.MembersOf(conversationID)
	joinedUsers := make(map[uuid.UUID]bool, len(members))
	broadcast := OutboundEvent{Type: EventNewMessage, Payload: message}
	for _, member := range members {
		joinedUsers[member.UserID] = true
		member.Send(broadcast)
	}

	// Облегченное уведомление отсутствующим в комнате, но онлайн участникам
	notification := OutboundEvent{
		Type: EventMessageNotification,
		Payload: MessageNotificationPayload{
			ConversationID: conversationID,
			Message:        message,
		},
	}
	for _, participant := range participants {
		if participant == senderID || joinedUsers[participant] {
			continue
		}
		for _, conn := range d.presence.ConnectionsFor(participant) {
			conn.Send(notification)
		}
	}

	return message, nil
}

// Typing рассылает эфемерный сигнал набора текста остальным
// соединениям комнаты, исключая соединение отправителя (без эха).
// Ничего не сохраняет. Сигнал принимается только от соединения,
// подписанного на комнату (подписка уже проверила участие), иначе
// молча отбрасывается, как и при пустой комнате.
func (d *Dispatcher) Typing(client *Client, conversationID uuid.UUID, isTyping bool) {
	members := d.rooms.MembersOf(conversationID)
	joined := false
	for _, member := range members {
		if member.ID == client.ID {
			joined = true
			break
		}
	}
	if !joined {
		return
	}

	event := OutboundEvent{
		Type: EventUserTyping,
		Payload: UserTypingPayload{
			ConversationID: conversationID,
			UserID:         client.UserID,
			IsTyping:       isTyping,
		},
	}
	for _, member := range members {
		if member.ID == client.ID {
			continue
		}
		member.Send(event)
	}
}

// JoinConversation подписывает соединение на комнату переписки и
// отмечает прочитанными сообщения других участников. Провал отметки
// прочтения возвращается вызывающему как models.ErrPersistence;
// подписка при этом остается (повторный join безопасен и повторит
// отметку), чтобы отказ хранилища не выбивал соединение из комнаты,
// в которой оно уже состояло.
func (d *Dispatcher) JoinConversation(ctx context.Context, client *Client, conversationID uuid.UUID) error {
	if err := d.rooms.Join(ctx, conversationID, client); err != nil {
		return asPersistence(err)
	}

	if err := d.store.MarkMessagesRead(ctx, conversationID, client.UserID); err != nil {
		log.Printf("Ошибка обновления статуса прочтения в переписке %s: %v", conversationID, err)
		return asPersistence(err)
	}
	return nil
}

// LeaveConversation отписывает соединение от комнаты переписки
func (d *Dispatcher) LeaveConversation(client *Client, conversationID uuid.UUID) {
	d.rooms.Leave(conversationID, client)
}

// CreateOrGetConversation идемпотентно находит или создает переписку
// по ключу (пара участников, товар). Конкурентные вызовы по одному
// ключу сериализуются и получают одну и ту же переписку.
func (d *Dispatcher) CreateOrGetConversation(ctx context.Context, userID, recipientID uuid.UUID, productID *uuid.UUID) (*models.Conversation, error) {
	if userID == recipientID {
		return nil, fmt.Errorf("%w: нельзя создать переписку с самим собой", models.ErrValidation)
	}

	key := conversationKey(userID, recipientID, productID)
	v, err, _ := d.createGroup.Do(key, func() (any, error) {
		conv, err := d.store.FindConversation(ctx, userID, recipientID, productID)
		if err == nil {
			return conv, nil
		}
		if !errors.Is(err, models.ErrNotFound) {
			return nil, asPersistence(err)
		}
		conv, err = d.store.CreateConversation(ctx, userID, recipientID, productID)
		if err != nil {
			return nil, asPersistence(err)
		}
		return conv, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*models.Conversation), nil
}

// Disconnect снимает все следы соединения: выход из всех комнат и
// дерегистрация присутствия. Идемпотентна.
func (d *Dispatcher) Disconnect(client *Client) {
	d.rooms.LeaveAll(client)
	d.presence.Deregister(client)
}

// conversationKey строит канонический ключ (пара участников, товар):
// порядок участников не влияет на ключ
func conversationKey(a, b uuid.UUID, productID *uuid.UUID) string {
	lo, hi := a.String(), b.String()
	if lo > hi {
		lo, hi = hi, lo
	}
	product := ""
	if productID != nil {
		product = productID.String()
	}
	return lo + ":" + hi + ":" + product
}

// asPersistence пропускает типизированные ошибки хаба как есть, всё
// остальное считает отказом хранилища
func asPersistence(err error) error {
	if errors.Is(err, models.ErrNotFound) ||
		errors.Is(err, models.ErrNotAuthorized) ||
		errors.Is(err, models.ErrValidation) {
		return err
	}
	return fmt.Errorf("%w: %v", models.ErrPersistence, err)
}
