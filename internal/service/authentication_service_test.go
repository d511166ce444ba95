package service_test

import (
	"context"
	"errors"
	"fmt"
	"realtime-chat-server/config"
	"realtime-chat-server/internal/model"
	"realtime-chat-server/internal/repository"
	"realtime-chat-server/internal/security"
	"realtime-chat-server/internal/service"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

// ===== MOCKS =====

type MockTokenStore struct {
	mock.Mock
}

func (m *MockTokenStore) SaveRefreshToken(ctx context.Context, token *model.RefreshToken) error {
	args := m.Called(ctx, token)
	return args.Error(0)
}

func (m *MockTokenStore) FindRefreshToken(ctx context.Context, uuid string) (*model.RefreshToken, error) {
	args := m.Called(ctx, uuid)
	if token, ok := args.Get(0).(*model.RefreshToken); ok {
		return token, args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *MockTokenStore) RevokeRefreshToken(ctx context.Context, uuid string) error {
	args := m.Called(ctx, uuid)
	return args.Error(0)
}

func (m *MockTokenStore) RevokeAllForUser(ctx context.Context, userUUID string) error {
	args := m.Called(ctx, userUUID)
	return args.Error(0)
}

func (m *MockTokenStore) BlacklistAccessToken(ctx context.Context, tokenUUID string, expireAt time.Time) error {
	args := m.Called(ctx, tokenUUID, expireAt)
	return args.Error(0)
}

func (m *MockTokenStore) IsAccessTokenBlacklisted(ctx context.Context, tokenUUID string) (bool, error) {
	args := m.Called(ctx, tokenUUID)
	return args.Bool(0), args.Error(1)
}

type MockJWTService struct {
	mock.Mock
}

func (m *MockJWTService) IssueTokenPair(user *model.User) (*model.TokensPair, *model.RefreshToken, error) {
	args := m.Called(user)
	var pair *model.TokensPair
	var token *model.RefreshToken
	if v, ok := args.Get(0).(*model.TokensPair); ok {
		pair = v
	}
	if v, ok := args.Get(1).(*model.RefreshToken); ok {
		token = v
	}
	return pair, token, args.Error(2)
}

func (m *MockJWTService) ValidateAccess(ctx context.Context, tokenString string) (*security.Claims, error) {
	args := m.Called(ctx, tokenString)
	if claims, ok := args.Get(0).(*security.Claims); ok {
		return claims, args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *MockJWTService) ValidateRefresh(ctx context.Context, tokenString string) (*security.Claims, error) {
	args := m.Called(ctx, tokenString)
	if claims, ok := args.Get(0).(*security.Claims); ok {
		return claims, args.Error(1)
	}
	return nil, args.Error(1)
}

type MockUserRepository struct {
	mock.Mock
}

func (m *MockUserRepository) FindByLogin(ctx context.Context, login string) (*model.User, error) {
	args := m.Called(ctx, login)
	if user, ok := args.Get(0).(*model.User); ok {
		return user, args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *MockUserRepository) FindByUUID(ctx context.Context, uuid string) (*model.User, error) {
	args := m.Called(ctx, uuid)
	if user, ok := args.Get(0).(*model.User); ok {
		return user, args.Error(1)
	}
	return nil, args.Error(1)
}

type MockRateLimiter struct {
	mock.Mock
}

func (m *MockRateLimiter) CheckAttempt(key string) (bool, int, time.Duration) {
	args := m.Called(key)
	return args.Bool(0), args.Int(1), args.Get(2).(time.Duration)
}

func (m *MockRateLimiter) RegisterFailure(key string) {
	m.Called(key)
}

func (m *MockRateLimiter) Reset(key string) {
	m.Called(key)
}

// ===== HELPERS =====

func newTestAuthService() (*service.AuthenticationService, *MockTokenStore, *MockJWTService, *MockUserRepository, *MockRateLimiter) {
	tokenStore := new(MockTokenStore)
	jwtService := new(MockJWTService)
	userRepository := new(MockUserRepository)
	limiter := new(MockRateLimiter)
	svc := service.NewAuthenticationService(tokenStore, jwtService, userRepository, limiter)
	return svc, tokenStore, jwtService, userRepository, limiter
}

func hashedUser(t *testing.T, password string) *model.User {
	t.Helper()
	hash, err := security.HashPassword(password)
	require.NoError(t, err)
	return &model.User{UUID: "u1", Login: "user1", Role: "member", PasswordHash: hash}
}

// ===== LOGIN =====

func TestLogin_Success(t *testing.T) {
	svc, tokenStore, jwtService, userRepository, limiter := newTestAuthService()

	user := hashedUser(t, "password123")
	pair := &model.TokensPair{AccessToken: "access", RefreshToken: "refresh"}
	entry := &model.RefreshToken{UUID: "r1", UserUUID: "u1"}

	limiter.On("CheckAttempt", mock.Anything).Return(true, 5, time.Duration(0))
	userRepository.On("FindByLogin", mock.Anything, "user1").Return(user, nil)
	jwtService.On("IssueTokenPair", user).Return(pair, entry, nil)
	tokenStore.On("SaveRefreshToken", mock.Anything, entry).Return(nil)
	limiter.On("Reset", mock.Anything).Return()

	got, err := svc.Login(context.Background(), "user1", "password123", "127.0.0.1")

	require.NoError(t, err)
	assert.Equal(t, "access", got.AccessToken)
	limiter.AssertCalled(t, "Reset", security.AttemptKey("user1", "127.0.0.1"))
	limiter.AssertNotCalled(t, "RegisterFailure", mock.Anything)
}

// Неизвестный логин и неверный пароль дают одну и ту же ошибку
func TestLogin_InvalidCredentials(t *testing.T) {
	svc, _, _, userRepository, limiter := newTestAuthService()

	user := hashedUser(t, "password123")

	limiter.On("CheckAttempt", mock.Anything).Return(true, 5, time.Duration(0))
	limiter.On("RegisterFailure", mock.Anything).Return()
	userRepository.On("FindByLogin", mock.Anything, "unknown").Return(nil, fmt.Errorf("пользователь не найден"))
	userRepository.On("FindByLogin", mock.Anything, "user1").Return(user, nil)

	_, errUnknown := svc.Login(context.Background(), "unknown", "password123", "127.0.0.1")
	_, errWrongPass := svc.Login(context.Background(), "user1", "wrong", "127.0.0.1")

	require.Error(t, errUnknown)
	require.Error(t, errWrongPass)
	assert.Equal(t, errUnknown.Error(), errWrongPass.Error())
	limiter.AssertNumberOfCalls(t, "RegisterFailure", 2)
}

func TestLogin_RateLimited(t *testing.T) {
	svc, _, _, userRepository, limiter := newTestAuthService()

	limiter.On("CheckAttempt", mock.Anything).Return(false, 0, 10*time.Minute)

	_, err := svc.Login(context.Background(), "user1", "password123", "127.0.0.1")

	require.Error(t, err)
	var rateErr *model.RateLimitedError
	require.True(t, errors.As(err, &rateErr))
	assert.Equal(t, 10*time.Minute, rateErr.RetryAfter)
	userRepository.AssertNotCalled(t, "FindByLogin", mock.Anything, mock.Anything)
}

// ===== ROTATE =====

func TestRotate_Success(t *testing.T) {
	svc, tokenStore, jwtService, userRepository, _ := newTestAuthService()

	user := &model.User{UUID: "u1", Login: "user1", Role: "member"}
	claims := &security.Claims{Kind: security.TokenKindRefresh}
	claims.Subject = "u1"
	claims.ID = "r1"

	newPair := &model.TokensPair{AccessToken: "access2", RefreshToken: "refresh2"}
	newEntry := &model.RefreshToken{UUID: "r2", UserUUID: "u1"}

	jwtService.On("ValidateRefresh", mock.Anything, "refresh1").Return(claims, nil)
	tokenStore.On("RevokeRefreshToken", mock.Anything, "r1").Return(nil)
	userRepository.On("FindByUUID", mock.Anything, "u1").Return(user, nil)
	jwtService.On("IssueTokenPair", user).Return(newPair, newEntry, nil)
	tokenStore.On("SaveRefreshToken", mock.Anything, newEntry).Return(nil)

	got, err := svc.Rotate(context.Background(), "refresh1")

	require.NoError(t, err)
	assert.Equal(t, "access2", got.AccessToken)
	assert.Equal(t, "refresh2", got.RefreshToken)
}

// Повторная ротация уже использованного токена отклоняется
func TestRotate_Reuse(t *testing.T) {
	svc, _, jwtService, _, _ := newTestAuthService()

	jwtService.On("ValidateRefresh", mock.Anything, "stolen").Return(nil, model.ErrRefreshReuse)

	_, err := svc.Rotate(context.Background(), "stolen")

	assert.ErrorIs(t, err, model.ErrRefreshReuse)
}

// Гонка двух одновременных ротаций: отзыв атомарен, второй участник проигрывает
func TestRotate_RevokeRace(t *testing.T) {
	svc, tokenStore, jwtService, userRepository, _ := newTestAuthService()

	claims := &security.Claims{Kind: security.TokenKindRefresh}
	claims.Subject = "u1"
	claims.ID = "r1"

	jwtService.On("ValidateRefresh", mock.Anything, "refresh1").Return(claims, nil)
	tokenStore.On("RevokeRefreshToken", mock.Anything, "r1").Return(model.ErrRefreshReuse)

	_, err := svc.Rotate(context.Background(), "refresh1")

	assert.ErrorIs(t, err, model.ErrRefreshReuse)
	userRepository.AssertNotCalled(t, "FindByUUID", mock.Anything, mock.Anything)
}

// ===== LOGOUT =====

func TestLogout_BlacklistsAccessAndRevokesRefresh(t *testing.T) {
	svc, tokenStore, jwtService, _, _ := newTestAuthService()

	expireAt := time.Now().Add(15 * time.Minute)
	accessClaims := &security.Claims{Kind: security.TokenKindAccess}
	accessClaims.Subject = "u1"
	accessClaims.ID = "a1"
	accessClaims.ExpiresAt = jwt.NewNumericDate(expireAt)

	refreshClaims := &security.Claims{Kind: security.TokenKindRefresh}
	refreshClaims.Subject = "u1"
	refreshClaims.ID = "r1"

	jwtService.On("ValidateAccess", mock.Anything, "access").Return(accessClaims, nil)
	jwtService.On("ValidateRefresh", mock.Anything, "refresh").Return(refreshClaims, nil)
	tokenStore.On("BlacklistAccessToken", mock.Anything, "a1", mock.Anything).Return(nil)
	tokenStore.On("RevokeRefreshToken", mock.Anything, "r1").Return(nil)

	err := svc.Logout(context.Background(), "access", "refresh")

	require.NoError(t, err)
	tokenStore.AssertCalled(t, "BlacklistAccessToken", mock.Anything, "a1", mock.Anything)
	tokenStore.AssertCalled(t, "RevokeRefreshToken", mock.Anything, "r1")
}

func TestLogout_InvalidAccessToken(t *testing.T) {
	svc, tokenStore, jwtService, _, _ := newTestAuthService()

	jwtService.On("ValidateAccess", mock.Anything, "bad").Return(nil, model.ErrInvalidToken)

	err := svc.Logout(context.Background(), "bad", "")

	assert.ErrorIs(t, err, model.ErrInvalidToken)
	tokenStore.AssertNotCalled(t, "BlacklistAccessToken", mock.Anything, mock.Anything, mock.Anything)
}

// ===== REVOKE ALL =====

func TestRevokeAllForUser(t *testing.T) {
	svc, tokenStore, _, _, _ := newTestAuthService()

	tokenStore.On("RevokeAllForUser", mock.Anything, "u1").Return(nil)

	err := svc.RevokeAllForUser(context.Background(), "u1")

	require.NoError(t, err)
	tokenStore.AssertCalled(t, "RevokeAllForUser", mock.Anything, "u1")
}

// ===== СКВОЗНАЯ РОТАЦИЯ =====

// Полная цепочка на реальных компонентах: login -> rotate -> повторная
// ротация исходного токена отклоняется, новый токен продолжает работать
func TestRotationChain_RealComponents(t *testing.T) {
	store := repository.NewMemoryTokenStore()
	jwtService := security.NewJWTService(&config.JWTConfig{
		SecretKey:       "test-secret",
		AccessTokenTTL:  "15m",
		RefreshTokenTTL: "168h",
		Issuer:          "realtime-chat-server",
		Audience:        "realtime-chat-client",
	}, store)

	user := hashedUser(t, "password123")
	userRepository := new(MockUserRepository)
	userRepository.On("FindByLogin", mock.Anything, "user1").Return(user, nil)
	userRepository.On("FindByUUID", mock.Anything, "u1").Return(user, nil)

	limiter := security.NewAttemptLimiter(5, time.Hour, 15*time.Minute)
	svc := service.NewAuthenticationService(store, jwtService, userRepository, limiter)

	ctx := context.Background()

	first, err := svc.Login(ctx, "user1", "password123", "127.0.0.1")
	require.NoError(t, err)

	second, err := svc.Rotate(ctx, first.RefreshToken)
	require.NoError(t, err)
	assert.NotEqual(t, first.RefreshToken, second.RefreshToken)

	// повторная ротация использованного токена
	_, err = svc.Rotate(ctx, first.RefreshToken)
	assert.ErrorIs(t, err, model.ErrRefreshReuse)

	// новый токен при этом остается рабочим
	third, err := svc.Rotate(ctx, second.RefreshToken)
	require.NoError(t, err)

	// отзыв всех сессий делает нерабочим и его
	require.NoError(t, svc.RevokeAllForUser(ctx, "u1"))
	_, err = svc.Rotate(ctx, third.RefreshToken)
	require.Error(t, err)
}
