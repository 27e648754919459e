package websocket

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/rajivgeraev/bazario-api/internal/models"
)

// EventType определяет тип события WebSocket
type EventType string

// Исходящие события
const (
	EventConnected           EventType = "connected"
	EventNewMessage          EventType = "new_message"
	EventMessageNotification EventType = "message_notification"
	EventUserTyping          EventType = "user_typing"
	EventError               EventType = "error"
)

// Входящие события
const (
	EventJoinConversation  EventType = "join_conversation"
	EventLeaveConversation EventType = "leave_conversation"
	EventSendMessage       EventType = "send_message"
	EventTyping            EventType = "typing"
)

// Envelope представляет кадр протокола: тип события плюс полезная нагрузка
type Envelope struct {
	Type    EventType       `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// OutboundEvent представляет событие, отправляемое клиенту
type OutboundEvent struct {
	Type      EventType `json:"type"`
	Payload   any       `json:"payload,omitempty"`
	Error     string    `json:"error,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// ConnectedPayload отправляется сразу после успешной аутентификации
type ConnectedPayload struct {
	User *models.User `json:"user"`
}

// MessageNotificationPayload содержит облегченное уведомление для участников
// переписки, которые онлайн, но не подписаны на ее комнату
type MessageNotificationPayload struct {
	ConversationID uuid.UUID       `json:"conversation_id"`
	Message        *models.Message `json:"message"`
}

// UserTypingPayload содержит эфемерный сигнал набора текста
type UserTypingPayload struct {
	ConversationID uuid.UUID `json:"conversation_id"`
	UserID         uuid.UUID `json:"user_id"`
	IsTyping       bool      `json:"is_typing"`
}

// InboundEvent описывает закрытое множество входящих событий. Каждый вариант
// несет собственную типизированную нагрузку и обрабатывается
// исчерпывающим switch в сессии.
type InboundEvent interface {
	isInboundEvent()
}

// JoinConversationEvent подписывает соединение на комнату переписки
type JoinConversationEvent struct {
	ConversationID uuid.UUID `json:"conversation_id"`
}

// LeaveConversationEvent отписывает соединение от комнаты переписки
type LeaveConversationEvent struct {
	ConversationID uuid.UUID `json:"conversation_id"`
}

// SendMessageEvent отправляет сообщение в переписку
type SendMessageEvent struct {
	ConversationID uuid.UUID `json:"conversation_id"`
	Text           string    `json:"text"`
}

// TypingEvent сигнализирует начало/окончание набора текста
type TypingEvent struct {
	ConversationID uuid.UUID `json:"conversation_id"`
	IsTyping       bool      `json:"is_typing"`
}

func (JoinConversationEvent) isInboundEvent()  {}
func (LeaveConversationEvent) isInboundEvent() {}
func (SendMessageEvent) isInboundEvent()       {}
func (TypingEvent) isInboundEvent()            {}

// DecodeInbound разбирает кадр протокола в типизированное событие.
// Неизвестный тип или некорректная нагрузка дают models.ErrValidation.
func DecodeInbound(data []byte) (InboundEvent, error) {
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("%w: некорректный формат кадра", models.ErrValidation)
	}

	switch env.Type {
	case EventJoinConversation:
		var ev JoinConversationEvent
		if err := decodePayload(env.Payload, &ev); err != nil {
			return nil, err
		}
		return ev, nil
	case EventLeaveConversation:
		var ev LeaveConversationEvent
		if err := decodePayload(env.Payload, &ev); err != nil {
			return nil, err
		}
		return ev, nil
	case EventSendMessage:
		var ev SendMessageEvent
		if err := decodePayload(env.Payload, &ev); err != nil {
			return nil, err
		}
		return ev, nil
	case EventTyping:
		var ev TypingEvent
		if err := decodePayload(env.Payload, &ev); err != nil {
			return nil, err
		}
		return ev, nil
	default:
		return nil, fmt.Errorf("%w: неизвестный тип события %q", models.ErrValidation, env.Type)
	}
}

func decodePayload(raw json.RawMessage, dest any) error {
	if len(raw) == 0 {
		return fmt.Errorf("%w: отсутствует нагрузка события", models.ErrValidation)
	}
	if err := json.Unmarshal(raw, dest); err != nil {
		return fmt.Errorf("%w: некорректная нагрузка события", models.ErrValidation)
	}
	return nil
}
