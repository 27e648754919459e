package chat

import (
	"github.com/gofiber/contrib/websocket"
	"github.com/gofiber/fiber/v2"

	"github.com/rajivgeraev/bazario-api/internal/middleware"
)

// SetupRoutes настраивает маршруты переписок и точку подключения хаба
func (s *ChatService) SetupRoutes(app *fiber.App) {
	// Группа для API переписок
	api := app.Group("/api")

	// Защищенные маршруты (требуют авторизации)
	api.Use(middleware.AuthMiddleware(s.jwtService))

	// Маршрут для получения всех переписок пользователя
	api.Get("/conversations", s.GetConversations)

	// Маршрут для создания (или поиска) переписки
	api.Post("/conversations", s.CreateConversation)

	// Маршрут для получения сообщений переписки
	api.Get("/conversations/:id/messages", s.GetMessages)

	// Маршрут для отправки сообщения
	api.Post("/conversations/:id/messages", s.SendMessage)

	// Маршрут для количества непрочитанных сообщений
	api.Get("/messages/unread", s.GetUnreadCount)

	// Точка подключения хаба: токен передается query-параметром,
	// проверяется самим хабом до создания какого-либо состояния
	app.Use("/ws", func(c *fiber.Ctx) error {
		if websocket.IsWebSocketUpgrade(c) {
			return c.Next()
		}
		return fiber.ErrUpgradeRequired
	})
	app.Get("/ws", websocket.New(s.manager.HandleConnection))
}
