package auth

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/rajivgeraev/bazario-api/internal/models"
	"github.com/rajivgeraev/bazario-api/internal/utils"
)

// UserSource возвращает пользователя по ID; нужен верификатору, чтобы
// отсеять токены пользователей, которых уже нет в системе
type UserSource interface {
	GetUser(ctx context.Context, userID uuid.UUID) (*models.User, error)
}

// Verifier разрешает учетные данные соединения (JWT) в пользователя.
// Вызывается ровно один раз на попытку подключения, до создания
// какого-либо состояния в хабе.
type Verifier struct {
	jwtService *utils.JWTService
	users      UserSource
}

// NewVerifier создает новый экземпляр Verifier
func NewVerifier(jwtService *utils.JWTService, users UserSource) *Verifier {
	return &Verifier{jwtService: jwtService, users: users}
}

// Verify проверяет токен и возвращает пользователя. Любая проблема с
// токеном или отсутствие пользователя дают models.ErrAuth.
func (v *Verifier) Verify(ctx context.Context, token string) (*models.User, error) {
	if token == "" {
		return nil, fmt.Errorf("%w: токен отсутствует", models.ErrAuth)
	}

	userIDStr, err := v.jwtService.ExtractUserID(token)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", models.ErrAuth, err)
	}

	userID, err := uuid.Parse(userIDStr)
	if err != nil {
		return nil, fmt.Errorf("%w: некорректный ID пользователя", models.ErrAuth)
	}

	user, err := v.users.GetUser(ctx, userID)
	if err != nil {
		if errors.Is(err, models.ErrNotFound) {
			return nil, fmt.Errorf("%w: пользователь не найден", models.ErrAuth)
		}
		return nil, err
	}
	return user, nil
}
