package auth

import (
	"context"
	"errors"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rajivgeraev/bazario-api/internal/models"
	"github.com/rajivgeraev/bazario-api/internal/utils"
)

type fakeUserSource struct {
	users map[uuid.UUID]*models.User
	err   error
}

func (f *fakeUserSource) GetUser(ctx context.Context, userID uuid.UUID) (*models.User, error) {
	if f.err != nil {
		return nil, f.err
	}
	user, ok := f.users[userID]
	if !ok {
		return nil, models.ErrNotFound
	}
	return user, nil
}

func TestVerifyValidToken(t *testing.T) {
	jwtService := utils.NewJWTService("test-secret")
	user := &models.User{ID: uuid.New(), Username: "masha"}
	source := &fakeUserSource{users: map[uuid.UUID]*models.User{user.ID: user}}

	token, err := jwtService.GenerateToken(user.ID.String())
	require.NoError(t, err)

	got, err := NewVerifier(jwtService, source).Verify(context.Background(), token)
	require.NoError(t, err)
	assert.Equal(t, user, got)
}

func TestVerifyEmptyToken(t *testing.T) {
	v := NewVerifier(utils.NewJWTService("test-secret"), &fakeUserSource{})

	_, err := v.Verify(context.Background(), "")
	require.ErrorIs(t, err, models.ErrAuth)
}

func TestVerifyMalformedToken(t *testing.T) {
	v := NewVerifier(utils.NewJWTService("test-secret"), &fakeUserSource{})

	_, err := v.Verify(context.Background(), "not-a-jwt")
	require.ErrorIs(t, err, models.ErrAuth)
}

func TestVerifyUnknownUser(t *testing.T) {
	jwtService := utils.NewJWTService("test-secret")
	source := &fakeUserSource{users: map[uuid.UUID]*models.User{}}

	token, err := jwtService.GenerateToken(uuid.New().String())
	require.NoError(t, err)

	_, err = NewVerifier(jwtService, source).Verify(context.Background(), token)
	require.ErrorIs(t, err, models.ErrAuth)
}

func TestVerifyNonUUIDSubject(t *testing.T) {
	jwtService := utils.NewJWTService("test-secret")

	token, err := jwtService.GenerateToken("user-42")
	require.NoError(t, err)

	_, err = NewVerifier(jwtService, &fakeUserSource{}).Verify(context.Background(), token)
	require.ErrorIs(t, err, models.ErrAuth)
}

func TestVerifyStoreFailureIsNotAuthError(t *testing.T) {
	jwtService := utils.NewJWTService("test-secret")
	storeErr := errors.New("connection refused")
	source := &fakeUserSource{err: storeErr}

	token, err := jwtService.GenerateToken(uuid.New().String())
	require.NoError(t, err)

	_, err = NewVerifier(jwtService, source).Verify(context.Background(), token)
	require.Error(t, err)
	assert.NotErrorIs(t, err, models.ErrAuth)
	assert.ErrorIs(t, err, storeErr)
}
