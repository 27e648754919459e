package models

import (
	"time"

	"github.com/google/uuid"
)

// User представляет минимальную информацию о пользователе для API.
// Поля IsOnline и LastActiveAt изменяются только хабом сообщений
// при подключении/отключении, REST-маршруты их не трогают.
type User struct {
	ID           uuid.UUID  `json:"id"`
	Username     string     `json:"username,omitempty"`
	FirstName    string     `json:"first_name,omitempty"`
	LastName     string     `json:"last_name,omitempty"`
	AvatarURL    string     `json:"avatar_url,omitempty"`
	IsOnline     bool       `json:"is_online"`
	LastActiveAt *time.Time `json:"last_active_at,omitempty"`
}
