package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/redis/go-redis/v9"

	"github.com/rajivgeraev/bazario-api/internal/auth"
	"github.com/rajivgeraev/bazario-api/internal/cache"
	"github.com/rajivgeraev/bazario-api/internal/config"
	"github.com/rajivgeraev/bazario-api/internal/db"
	"github.com/rajivgeraev/bazario-api/internal/services/chat"
	"github.com/rajivgeraev/bazario-api/internal/utils"
	ws "github.com/rajivgeraev/bazario-api/internal/websocket"
)

func main() {
	// Загружаем конфигурацию
	cfg := config.LoadConfig()

	// Инициализируем базу данных
	pool, err := db.Connect(cfg)
	if err != nil {
		log.Fatalf("❌ Ошибка при инициализации базы данных: %v", err)
	}
	defer pool.Close()

	chatStore := db.NewChatStore(pool)
	userStore := db.NewUserStore(pool)

	// Подключаемся к Redis (кэш участников переписок). Недоступный
	// Redis не мешает запуску: кэш деградирует до прямых запросов в базу
	redisClient := newRedisClient(cfg)

	participants := cache.NewParticipantCache(redisClient, chatStore)

	// Верификатор учетных данных подключений
	jwtService := utils.NewJWTService(cfg.JWTSecret)
	verifier := auth.NewVerifier(jwtService, userStore)

	// Хаб реального времени
	manager := ws.NewManager(verifier, chatStore, userStore, participants.Participants)
	defer manager.Shutdown()

	// Создаём экземпляр Fiber
	app := fiber.New(fiber.Config{
		AppName:      "Bazario Chat API",
		ErrorHandler: errorHandler,
	})

	// Добавляем middleware
	app.Use(recover.New())
	app.Use(logger.New())
	app.Use(cors.New(cors.Config{
		AllowOrigins: "*",
		AllowHeaders: "Origin, Content-Type, Accept, Authorization",
		AllowMethods: "GET,POST,PUT,DELETE,OPTIONS",
	}))

	app.Get("/health", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{"status": "healthy", "service": "bazario-chat"})
	})

	// Регистрируем маршруты
	chatService := chat.NewChatService(cfg, chatStore, userStore, manager)
	chatService.SetupRoutes(app)

	// Запускаем сервер и ждем сигнала завершения
	go func() {
		log.Printf("✅ Bazario Chat API запущен на порту %s", cfg.Port)
		if err := app.Listen(":" + cfg.Port); err != nil {
			log.Fatalf("❌ Ошибка запуска сервера: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Println("Завершение работы...")
	manager.Shutdown()
	if err := app.ShutdownWithTimeout(10 * time.Second); err != nil {
		log.Printf("Ошибка остановки сервера: %v", err)
	}
}

// newRedisClient создает клиент Redis и проверяет соединение
func newRedisClient(cfg *config.Config) *redis.Client {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.RedisConfig.Addr,
		Password: cfg.RedisConfig.Password,
		DB:       cfg.RedisConfig.DB,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		log.Printf("⚠️ Redis недоступен (%v), кэш участников отключен", err)
		return nil
	}

	log.Println("✅ Успешное подключение к Redis")
	return client
}

// errorHandler обрабатывает ошибки Fiber
func errorHandler(c *fiber.Ctx, err error) error {
	code := fiber.StatusInternalServerError

	// Проверяем, является ли ошибка из Fiber
	if e, ok := err.(*fiber.Error); ok {
		code = e.Code
	}

	// Отправляем ошибку в JSON
	return c.Status(code).JSON(fiber.Map{
		"error": err.Error(),
	})
}
