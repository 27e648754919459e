package db

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/rajivgeraev/bazario-api/internal/models"
)

// UserStore отвечает за данные пользователей, нужные хабу сообщений:
// профиль для гидрации API-ответов и статус онлайн/последней активности
type UserStore struct {
	pool *pgxpool.Pool
}

// NewUserStore создает новый экземпляр UserStore
func NewUserStore(pool *pgxpool.Pool) *UserStore {
	return &UserStore{pool: pool}
}

// GetUser возвращает пользователя по ID
func (s *UserStore) GetUser(ctx context.Context, userID uuid.UUID) (*models.User, error) {
	ctx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	var user models.User
	err := s.pool.QueryRow(ctx, `
        SELECT id, username, first_name, last_name, avatar_url, is_online, last_active_at
        FROM users
        WHERE id = $1
    `, userID).Scan(
		&user.ID,
		&user.Username,
		&user.FirstName,
		&user.LastName,
		&user.AvatarURL,
		&user.IsOnline,
		&user.LastActiveAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, models.ErrNotFound
		}
		return nil, fmt.Errorf("ошибка получения пользователя: %w", err)
	}
	return &user, nil
}

// UserExists проверяет, существует ли пользователь
func (s *UserStore) UserExists(ctx context.Context, userID uuid.UUID) (bool, error) {
	ctx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	var count int
	err := s.pool.QueryRow(ctx, "SELECT COUNT(*) FROM users WHERE id = $1", userID).Scan(&count)
	if err != nil {
		return false, fmt.Errorf("ошибка проверки существования пользователя: %w", err)
	}
	return count > 0, nil
}

// SetUserOnline обновляет флаг онлайн-статуса и время последней
// активности пользователя. Вызывается только хабом при первом
// подключении и последнем отключении пользователя.
func (s *UserStore) SetUserOnline(ctx context.Context, userID uuid.UUID, online bool) error {
	ctx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	_, err := s.pool.Exec(ctx, `
        UPDATE users
        SET is_online = $2, last_active_at = $3
        WHERE id = $1
    `, userID, online, time.Now())
	if err != nil {
		return fmt.Errorf("ошибка обновления статуса пользователя: %w", err)
	}
	return nil
}

// getUserInfo получает базовую информацию о пользователе для гидрации
// API-ответов; при ошибке возвращает nil, не прерывая основную выборку
func getUserInfo(ctx context.Context, pool *pgxpool.Pool, userID uuid.UUID) *models.User {
	var user models.User
	err := pool.QueryRow(ctx, `
        SELECT id, username, first_name, last_name, avatar_url
        FROM users
        WHERE id = $1
    `, userID).Scan(
		&user.ID,
		&user.Username,
		&user.FirstName,
		&user.LastName,
		&user.AvatarURL,
	)
	if err != nil {
		log.Printf("Ошибка получения данных пользователя %s: %v", userID, err)
		return nil
	}
	return &user
}
