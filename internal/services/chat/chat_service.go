package chat

import (
	"errors"
	"log"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"

	"github.com/rajivgeraev/bazario-api/internal/config"
	"github.com/rajivgeraev/bazario-api/internal/db"
	"github.com/rajivgeraev/bazario-api/internal/models"
	"github.com/rajivgeraev/bazario-api/internal/utils"
	"github.com/rajivgeraev/bazario-api/internal/websocket"
)

// ChatService представляет REST-сервис переписок. Все изменяющие
// операции проходят через диспетчер хаба, поэтому подключенные
// участники получают события в реальном времени и для REST-отправок.
type ChatService struct {
	cfg        *config.Config
	jwtService *utils.JWTService
	chats      *db.ChatStore
	users      *db.UserStore
	manager    *websocket.Manager
}

// NewChatService создает новый экземпляр ChatService
func NewChatService(cfg *config.Config, chats *db.ChatStore, users *db.UserStore, manager *websocket.Manager) *ChatService {
	return &ChatService{
		cfg:        cfg,
		jwtService: utils.NewJWTService(cfg.JWTSecret),
		chats:      chats,
		users:      users,
		manager:    manager,
	}
}

// GetConversations возвращает список переписок пользователя
func (s *ChatService) GetConversations(c *fiber.Ctx) error {
	userUUID, err := currentUserID(c)
	if err != nil {
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "Пользователь не авторизован"})
	}

	conversations, err := s.chats.ListConversations(c.Context(), userUUID)
	if err != nil {
		log.Printf("Ошибка запроса переписок: %v", err)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "Ошибка получения переписок"})
	}

	return c.JSON(fiber.Map{
		"conversations": conversations,
		"count":         len(conversations),
	})
}

// CreateConversation идемпотентно находит или создает переписку с
// получателем по поводу товара; опциональное первое сообщение сразу
// уходит через диспетчер
func (s *ChatService) CreateConversation(c *fiber.Ctx) error {
	userUUID, err := currentUserID(c)
	if err != nil {
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "Пользователь не авторизован"})
	}

	var requestData struct {
		RecipientID string `json:"recipient_id"`
		ProductID   string `json:"product_id,omitempty"`
		Message     string `json:"message,omitempty"`
	}

	if err := c.BodyParser(&requestData); err != nil {
		log.Printf("Ошибка чтения тела запроса: %v", err)
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "Неверный формат данных"})
	}

	if requestData.RecipientID == "" {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "ID получателя не указан"})
	}

	recipientUUID, err := uuid.Parse(requestData.RecipientID)
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "Неверный формат ID получателя"})
	}

	var productID *uuid.UUID
	if requestData.ProductID != "" {
		parsed, err := uuid.Parse(requestData.ProductID)
		if err != nil {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "Неверный формат ID товара"})
		}
		productID = &parsed
	}

	// Проверяем, существует ли получатель
	exists, err := s.users.UserExists(c.Context(), recipientUUID)
	if err != nil {
		log.Printf("Ошибка проверки существования получателя: %v", err)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "Ошибка проверки получателя"})
	}
	if !exists {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "Получатель не найден"})
	}

	conversation, err := s.manager.Dispatcher().CreateOrGetConversation(c.Context(), userUUID, recipientUUID, productID)
	if err != nil {
		return errorResponse(c, err)
	}

	var message *models.Message
	if requestData.Message != "" {
		message, err = s.manager.Dispatcher().SendMessage(c.Context(), userUUID, conversation.ID, requestData.Message)
		if err != nil {
			return errorResponse(c, err)
		}
	}

	return c.Status(fiber.StatusCreated).JSON(fiber.Map{
		"conversation": conversation,
		"message":      message,
		"success":      true,
	})
}

// GetMessages возвращает сообщения переписки в хронологическом
// порядке и отмечает прочитанными сообщения других участников
func (s *ChatService) GetMessages(c *fiber.Ctx) error {
	userUUID, err := currentUserID(c)
	if err != nil {
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "Пользователь не авторизован"})
	}

	conversationUUID, err := uuid.Parse(c.Params("id"))
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "Неверный формат ID переписки"})
	}

	// Проверяем, имеет ли пользователь доступ к этой переписке
	conversation, err := s.chats.GetConversation(c.Context(), conversationUUID)
	if err != nil {
		if errors.Is(err, models.ErrNotFound) {
			return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "Переписка не найдена"})
		}
		log.Printf("Ошибка проверки доступа к переписке: %v", err)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "Ошибка проверки доступа к переписке"})
	}
	if !conversation.HasParticipant(userUUID) {
		return c.Status(fiber.StatusForbidden).JSON(fiber.Map{"error": "У вас нет доступа к этой переписке"})
	}

	limit := 50 // Ограничение количества сообщений

	var before *uuid.UUID
	if beforeParam := c.Query("before"); beforeParam != "" {
		beforeUUID, err := uuid.Parse(beforeParam)
		if err != nil {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "Неверный формат ID сообщения"})
		}
		before = &beforeUUID
	}

	messages, err := s.chats.ListMessages(c.Context(), conversationUUID, limit, before)
	if err != nil {
		log.Printf("Ошибка запроса сообщений: %v", err)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "Ошибка получения сообщений"})
	}

	// Просмотр переписки отмечает чужие сообщения прочитанными
	if err := s.chats.MarkMessagesRead(c.Context(), conversationUUID, userUUID); err != nil {
		log.Printf("Ошибка обновления статуса прочтения: %v", err)
		// Не возвращаем ошибку, т.к. основная функциональность выполнена
	}

	return c.JSON(fiber.Map{
		"messages": messages,
		"has_more": len(messages) == limit,
	})
}

// SendMessage отправляет новое сообщение через диспетчер хаба:
// сообщение сохраняется и рассылается подключенным участникам
func (s *ChatService) SendMessage(c *fiber.Ctx) error {
	userUUID, err := currentUserID(c)
	if err != nil {
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "Пользователь не авторизован"})
	}

	conversationUUID, err := uuid.Parse(c.Params("id"))
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "Неверный формат ID переписки"})
	}

	var requestData struct {
		Text string `json:"text"`
	}
	if err := c.BodyParser(&requestData); err != nil {
		log.Printf("Ошибка чтения тела запроса: %v", err)
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "Неверный формат данных"})
	}

	message, err := s.manager.Dispatcher().SendMessage(c.Context(), userUUID, conversationUUID, requestData.Text)
	if err != nil {
		return errorResponse(c, err)
	}

	return c.Status(fiber.StatusCreated).JSON(fiber.Map{
		"message": message,
		"success": true,
	})
}

// GetUnreadCount возвращает общее число непрочитанных сообщений пользователя
func (s *ChatService) GetUnreadCount(c *fiber.Ctx) error {
	userUUID, err := currentUserID(c)
	if err != nil {
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "Пользователь не авторизован"})
	}

	count, err := s.chats.UnreadCount(c.Context(), userUUID)
	if err != nil {
		log.Printf("Ошибка подсчета непрочитанных сообщений: %v", err)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "Ошибка подсчета непрочитанных сообщений"})
	}

	return c.JSON(fiber.Map{
		"unread_count": count,
	})
}

// currentUserID извлекает ID пользователя, положенный middleware-ом
func currentUserID(c *fiber.Ctx) (uuid.UUID, error) {
	userID, ok := c.Locals("userID").(string)
	if !ok || userID == "" {
		return uuid.Nil, models.ErrAuth
	}
	return uuid.Parse(userID)
}

// errorResponse переводит типизированную ошибку диспетчера в HTTP-ответ
func errorResponse(c *fiber.Ctx, err error) error {
	switch {
	case errors.Is(err, models.ErrValidation):
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "Некорректные данные запроса"})
	case errors.Is(err, models.ErrNotAuthorized):
		return c.Status(fiber.StatusForbidden).JSON(fiber.Map{"error": "Вы не участник этой переписки"})
	case errors.Is(err, models.ErrNotFound):
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "Переписка не найдена"})
	default:
		log.Printf("Ошибка операции с перепиской: %v", err)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "Не удалось сохранить изменения, попробуйте позже"})
	}
}
