package security

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"realtime-chat-server/config"
	"realtime-chat-server/internal/model"
	"realtime-chat-server/internal/util"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

type contextKey string

const (
	UserContextKey contextKey = "user"
)

const (
	TokenKindAccess  = "access"
	TokenKindRefresh = "refresh"
)

type Claims struct {
	Role string `json:"role,omitempty"`
	Kind string `json:"kind"`
	jwt.RegisteredClaims
}

// TokenStore : часть реестра токенов, нужная для валидации.
// Полный интерфейс живет в ports, здесь только читающие операции
type TokenStore interface {
	FindRefreshToken(ctx context.Context, uuid string) (*model.RefreshToken, error)
	IsAccessTokenBlacklisted(ctx context.Context, tokenUUID string) (bool, error)
}

type JWTService struct {
	*config.JWTConfig
	store TokenStore
}

func NewJWTService(cfg *config.JWTConfig, store TokenStore) *JWTService {
	return &JWTService{cfg, store}
}

// IssueTokenPair выдает пару access/refresh токенов для пользователя.
// Оба токена - подписанные JWT с полем kind; запись реестра для refresh-токена
// возвращается вызывающей стороне, она же отвечает за её сохранение
func (service *JWTService) IssueTokenPair(user *model.User) (*model.TokensPair, *model.RefreshToken, error) {
	now := time.Now()

	accessTTL, err := time.ParseDuration(service.AccessTokenTTL)
	if err != nil {
		return nil, nil, util.LogError("ошибка парсинга access_token_ttl", err)
	}
	refreshTTL, err := time.ParseDuration(service.RefreshTokenTTL)
	if err != nil {
		return nil, nil, util.LogError("ошибка парсинга refresh_token_ttl", err)
	}

	accessExpireAt := now.Add(accessTTL)
	refreshExpireAt := now.Add(refreshTTL)
	refreshUUID := uuid.New().String()

	accessToken, err := service.signToken(user, TokenKindAccess, uuid.New().String(), now, accessExpireAt)
	if err != nil {
		return nil, nil, util.LogError("ошибка подписи access токена", err)
	}

	refreshToken, err := service.signToken(user, TokenKindRefresh, refreshUUID, now, refreshExpireAt)
	if err != nil {
		return nil, nil, util.LogError("ошибка подписи refresh токена", err)
	}

	entry := &model.RefreshToken{
		UUID:      refreshUUID,
		UserUUID:  user.UUID,
		CreatedAt: now,
		ExpireAt:  refreshExpireAt,
	}

	return &model.TokensPair{
		AccessToken:     accessToken,
		RefreshToken:    refreshToken,
		AccessExpireAt:  accessExpireAt,
		RefreshExpireAt: refreshExpireAt,
	}, entry, nil
}

func (service *JWTService) signToken(user *model.User, kind string, tokenUUID string, issuedAt, expireAt time.Time) (string, error) {
	claims := Claims{
		Role: user.Role,
		Kind: kind,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   user.UUID,
			ID:        tokenUUID,
			Issuer:    service.Issuer,
			Audience:  jwt.ClaimStrings{service.Audience},
			IssuedAt:  jwt.NewNumericDate(issuedAt),
			ExpiresAt: jwt.NewNumericDate(expireAt),
		},
	}

	jwtToken := jwt.NewWithClaims(jwt.SigningMethodHS512, claims)
	return jwtToken.SignedString([]byte(service.SecretKey))
}

// parseClaims проверяет подпись, issuer, audience и срок действия токена
func (service *JWTService) parseClaims(jwtTokenStr string) (*Claims, error) {
	var claims = &Claims{}

	jwtToken, err := jwt.ParseWithClaims(jwtTokenStr, claims, func(token *jwt.Token) (interface{}, error) {
		if token.Header["alg"] != jwt.SigningMethodHS512.Alg() {
			return nil, fmt.Errorf("неверный способ подписи токена: %v", token.Header["alg"])
		}
		return []byte(service.SecretKey), nil
	}, jwt.WithIssuer(service.Issuer), jwt.WithAudience(service.Audience))

	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, fmt.Errorf("%w: %v", model.ErrTokenExpired, err)
		}
		return nil, fmt.Errorf("%w: %v", model.ErrInvalidToken, err)
	}
	if jwtToken.Valid == false {
		return nil, model.ErrInvalidToken
	}

	return claims, nil
}

// ValidateAccess валидирует access токен.
// Порядок: декодирование без доверия к полям - проверка блэклиста по jti -
// проверка подписи, issuer, audience, срока - проверка kind
func (service *JWTService) ValidateAccess(ctx context.Context, jwtTokenStr string) (*Claims, error) {
	if strings.TrimSpace(jwtTokenStr) == "" {
		return nil, model.ErrAuthenticationRequired
	}

	untrusted := &Claims{}
	if _, _, err := jwt.NewParser().ParseUnverified(jwtTokenStr, untrusted); err != nil {
		return nil, fmt.Errorf("%w: %v", model.ErrInvalidToken, err)
	}

	blacklisted, err := service.store.IsAccessTokenBlacklisted(ctx, untrusted.ID)
	if err != nil {
		return nil, util.LogError("ошибка проверки блэклиста", err)
	}
	if blacklisted {
		log.Printf("access токен %s находится в блэклисте", untrusted.ID)
		return nil, model.ErrInvalidToken
	}

	claims, err := service.parseClaims(jwtTokenStr)
	if err != nil {
		return nil, err
	}

	if claims.Kind != TokenKindAccess {
		log.Printf("токен %s имеет kind=%s, ожидался access", claims.ID, claims.Kind)
		return nil, model.ErrInvalidToken
	}

	return claims, nil
}

// ValidateRefresh валидирует refresh токен: помимо подписи требует живую
// (неотозванную и непросроченную) запись в реестре.
// Отозванная запись означает повторное использование - model.ErrRefreshReuse
func (service *JWTService) ValidateRefresh(ctx context.Context, jwtTokenStr string) (*Claims, error) {
	if strings.TrimSpace(jwtTokenStr) == "" {
		return nil, model.ErrAuthenticationRequired
	}

	claims, err := service.parseClaims(jwtTokenStr)
	if err != nil {
		return nil, err
	}

	if claims.Kind != TokenKindRefresh {
		log.Printf("токен %s имеет kind=%s, ожидался refresh", claims.ID, claims.Kind)
		return nil, model.ErrInvalidToken
	}

	entry, err := service.store.FindRefreshToken(ctx, claims.ID)
	if err != nil {
		return nil, fmt.Errorf("%w: запись реестра не найдена", model.ErrInvalidToken)
	}
	if entry.Revoked {
		return nil, model.ErrRefreshReuse
	}
	if time.Now().After(entry.ExpireAt) {
		return nil, model.ErrTokenExpired
	}

	return claims, nil
}

func JWTMiddleware(jwtService *JWTService) func(handler http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(writer http.ResponseWriter, request *http.Request) {
			authorizationHeader := request.Header.Get("Authorization")
			if !strings.HasPrefix(authorizationHeader, "Bearer ") {
				http.Error(writer, "unauthorized", http.StatusUnauthorized)
				return
			}

			token := strings.TrimPrefix(authorizationHeader, "Bearer ")

			claims, err := jwtService.ValidateAccess(request.Context(), token)
			if err != nil {
				log.Printf("невалидный токен: %v", err)
				http.Error(writer, "unauthorized", http.StatusUnauthorized)
				return
			}

			req := request.WithContext(context.WithValue(request.Context(), UserContextKey, claims))
			next.ServeHTTP(writer, req)
		})
	}
}

func GetClaimsFromContext(ctx context.Context) (*Claims, error) {
	claims, ok := ctx.Value(UserContextKey).(*Claims)
	if !ok || claims == nil {
		return nil, model.ErrAuthenticationRequired
	}
	return claims, nil
}
