package service

import (
	"context"
	"errors"
	"fmt"
	"log"
	"realtime-chat-server/internal/model"
	"realtime-chat-server/internal/ports"
	"realtime-chat-server/internal/security"
)

type AuthenticationService struct {
	tokenStore          ports.TokenStore
	jwtServiceInterface ports.JWTServiceInterface
	userRepository      ports.UserRepository
	loginLimiter        ports.RateLimiter
}

func NewAuthenticationService(
	tokenStore ports.TokenStore,
	jwtService ports.JWTServiceInterface,
	userRepository ports.UserRepository,
	loginLimiter ports.RateLimiter,
) *AuthenticationService {
	return &AuthenticationService{
		tokenStore,
		jwtService,
		userRepository,
		loginLimiter,
	}
}

// Login аутентифицирует пользователя и выдает пару токенов.
// Попытки считаются по ключу login:origin; успешный вход сбрасывает счетчик.
// Неверный логин и неверный пароль наружу неразличимы
func (s *AuthenticationService) Login(ctx context.Context, login, password, origin string) (*model.TokensPair, error) {
	key := security.AttemptKey(login, origin)

	allowed, _, retryAfter := s.loginLimiter.CheckAttempt(key)
	if !allowed {
		return nil, &model.RateLimitedError{RetryAfter: retryAfter}
	}

	user, err := s.userRepository.FindByLogin(ctx, login)
	if err != nil {
		s.loginLimiter.RegisterFailure(key)
		return nil, fmt.Errorf("неверный логин или пароль")
	}

	if !security.CheckPassword(password, user.PasswordHash) {
		s.loginLimiter.RegisterFailure(key)
		return nil, fmt.Errorf("неверный логин или пароль")
	}

	tokens, refreshToken, err := s.jwtServiceInterface.IssueTokenPair(user)
	if err != nil {
		return nil, fmt.Errorf("ошибка генерации токенов: %w", err)
	}

	if err := s.tokenStore.SaveRefreshToken(ctx, refreshToken); err != nil {
		return nil, fmt.Errorf("ошибка сохранения refresh токена: %w", err)
	}

	s.loginLimiter.Reset(key)

	return tokens, nil
}

// Rotate выполняет одноразовую ротацию refresh-токена:
//  1. Валидирует входящий refresh-токен по подписи и записи реестра.
//  2. Атомарно помечает использованный токен отозванным.
//  3. Выдает и регистрирует новую пару.
//
// Повторная ротация уже использованного токена - признак кражи:
// фиксируется в логе, вызывающей стороне уходит model.ErrRefreshReuse,
// который хендлер обязан показать как обычный невалидный токен
func (s *AuthenticationService) Rotate(ctx context.Context, refreshToken string) (*model.TokensPair, error) {
	claims, err := s.jwtServiceInterface.ValidateRefresh(ctx, refreshToken)
	if err != nil {
		if errors.Is(err, model.ErrRefreshReuse) {
			log.Printf("SECURITY: попытка повторной ротации refresh-токена")
		}
		return nil, err
	}

	if err := s.tokenStore.RevokeRefreshToken(ctx, claims.ID); err != nil {
		if errors.Is(err, model.ErrRefreshReuse) {
			log.Printf("SECURITY: гонка при ротации refresh-токена %s", claims.ID)
		}
		return nil, err
	}

	user, err := s.userRepository.FindByUUID(ctx, claims.Subject)
	if err != nil {
		return nil, fmt.Errorf("не удалось найти пользователя: %w", err)
	}

	tokensPair, newRefreshToken, err := s.jwtServiceInterface.IssueTokenPair(user)
	if err != nil {
		return nil, fmt.Errorf("ошибка генерации токенов: %w", err)
	}

	if err := s.tokenStore.SaveRefreshToken(ctx, newRefreshToken); err != nil {
		return nil, fmt.Errorf("не удалось сохранить refresh токен: %w", err)
	}

	return tokensPair, nil
}

// Logout завершает сессию: access-токен попадает в блэклист до своего
// естественного истечения, refresh-токен отзывается
func (s *AuthenticationService) Logout(ctx context.Context, accessToken, refreshToken string) error {
	claims, err := s.jwtServiceInterface.ValidateAccess(ctx, accessToken)
	if err != nil {
		return err
	}

	if err := s.tokenStore.BlacklistAccessToken(ctx, claims.ID, claims.ExpiresAt.Time); err != nil {
		return fmt.Errorf("не удалось добавить токен в блэклист: %w", err)
	}

	if refreshToken != "" {
		refreshClaims, err := s.jwtServiceInterface.ValidateRefresh(ctx, refreshToken)
		if err == nil {
			if err := s.tokenStore.RevokeRefreshToken(ctx, refreshClaims.ID); err != nil {
				log.Printf("не удалось отозвать refresh-токен при logout: %v", err)
			}
		}
	}

	return nil
}

// RevokeAllForUser отзывает все refresh-токены пользователя.
// Используется при смене пароля и "выйти на всех устройствах"
func (s *AuthenticationService) RevokeAllForUser(ctx context.Context, userUUID string) error {
	if err := s.tokenStore.RevokeAllForUser(ctx, userUUID); err != nil {
		return fmt.Errorf("не удалось отозвать токены пользователя: %w", err)
	}
	return nil
}
