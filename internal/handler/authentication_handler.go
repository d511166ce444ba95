package handler

import (
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"realtime-chat-server/internal/model"
	"realtime-chat-server/internal/model/requestresponse"
	"realtime-chat-server/internal/ports"
	"realtime-chat-server/internal/security"
	"strconv"
	"strings"
	"time"
)

const refreshCookieName = "refresh_token"

type AuthenticationHandler struct {
	ports.AuthenticationService
	connections ports.ConnectionCloser
}

func NewAuthenticationHandler(authenticationService ports.AuthenticationService, connections ports.ConnectionCloser) *AuthenticationHandler {
	return &AuthenticationHandler{authenticationService, connections}
}

// Login godoc
// @Summary Аутентификация пользователя
// @Description Получение access токена по логину и паролю; refresh токен уходит в HttpOnly cookie
// @Tags Authentication
// @Accept json
// @Produce json
// @Param body body requestresponse.LoginRequest true "Тело запроса"
// @Success 200 {object} requestresponse.LoginResponse "Успешная аутентификация"
// @Failure 400 {object} requestresponse.ErrorResponse "Некорректный JSON или пустые поля"
// @Failure 401 {object} requestresponse.ErrorResponse "Неверный логин или пароль"
// @Failure 429 {object} requestresponse.ErrorResponse "Превышен лимит попыток"
// @Failure 500 {object} requestresponse.ErrorResponse "Внутренняя ошибка сервера"
// @Router /api/auth [post]
func (h *AuthenticationHandler) Login(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	ctx := r.Context()

	var req requestresponse.LoginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		sendErrorResponse(w, 400, "некорректный JSON")
		return
	}

	if req.Login == "" || req.Password == "" {
		sendErrorResponse(w, 400, "login и password обязательны")
		return
	}

	tokens, err := h.AuthenticationService.Login(ctx, req.Login, req.Password, clientOrigin(r))
	if err != nil {
		log.Println(err)
		if rl, ok := model.IsRateLimited(err); ok {
			w.Header().Set("Retry-After", strconv.Itoa(int(rl.RetryAfter.Seconds())))
			sendErrorResponse(w, http.StatusTooManyRequests, "превышен лимит попыток")
			return
		}
		sendErrorResponse(w, http.StatusUnauthorized, "неверный логин или пароль")
		return
	}

	setRefreshCookie(w, tokens)

	resp := requestresponse.LoginResponse{}
	resp.Response.AccessToken = tokens.AccessToken
	resp.Response.AccessExpireAt = tokens.AccessExpireAt.UTC().Format(time.RFC3339)

	w.WriteHeader(200)
	json.NewEncoder(w).Encode(resp)
}

// RefreshToken godoc
// @Summary Ротация пары токенов
// @Description Одноразовая ротация: использованный refresh токен отзывается, выдается новая пара
// @Tags Authentication
// @Accept json
// @Produce json
// @Param body body requestresponse.RefreshTokenRequest false "Тело запроса (для браузера токен берется из cookie)"
// @Success 200 {object} requestresponse.RefreshTokenResponse "Новая пара токенов"
// @Failure 401 {object} requestresponse.ErrorResponse "Не удалось обновить токены"
// @Failure 500 {object} requestresponse.ErrorResponse "Внутренняя ошибка сервера"
// @Router /api/auth/refresh [post]
func (h *AuthenticationHandler) RefreshToken(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	ctx := r.Context()

	refreshToken := refreshTokenFromRequest(r)
	if refreshToken == "" {
		sendErrorResponse(w, 401, "refresh токен не представлен")
		return
	}

	tokensPair, err := h.AuthenticationService.Rotate(ctx, refreshToken)
	if err != nil {
		log.Println(err)
		// повторная ротация отвечает так же, как обычный невалидный
		// токен: наружу никакой разницы не видно
		switch {
		case errors.Is(err, model.ErrRefreshReuse),
			errors.Is(err, model.ErrInvalidToken),
			errors.Is(err, model.ErrTokenExpired),
			errors.Is(err, model.ErrAuthenticationRequired):
			sendErrorResponse(w, 401, "не удалось обновить токены")
		default:
			sendErrorResponse(w, 500, "внутренняя ошибка сервера")
		}
		return
	}

	setRefreshCookie(w, tokensPair)

	resp := requestresponse.RefreshTokenResponse{}
	resp.Response.AccessToken = tokensPair.AccessToken
	resp.Response.AccessExpireAt = tokensPair.AccessExpireAt.UTC().Format(time.RFC3339)

	w.WriteHeader(200)
	json.NewEncoder(w).Encode(resp)
}

// Logout godoc
// @Summary Завершение авторизованной сессии
// @Description Добавляет access токен в блэклист и отзывает refresh токен
// @Tags Authentication
// @Produce json
// @Param Authorization header string true "Bearer токен" default(Bearer <access_token>)
// @Success 200 {object} requestresponse.LogoutResponse
// @Failure 401 {object} requestresponse.ErrorResponse
// @Security ApiKeyAuth
// @Router /api/auth/logout [delete]
func (h *AuthenticationHandler) Logout(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	ctx := r.Context()

	accessToken := bearerToken(r)
	if accessToken == "" {
		sendErrorResponse(w, http.StatusUnauthorized, "требуется аутентификация")
		return
	}

	if err := h.AuthenticationService.Logout(ctx, accessToken, refreshTokenFromRequest(r)); err != nil {
		log.Println(err)
		sendErrorResponse(w, http.StatusUnauthorized, "невалидный токен")
		return
	}

	clearRefreshCookie(w)

	resp := requestresponse.LogoutResponse{}
	resp.Response.LoggedOut = true

	w.WriteHeader(http.StatusOK)
	if err := json.NewEncoder(w).Encode(resp); err != nil {
		log.Println("ошибка кодирования ответа:", err)
	}
}

// RevokeAll godoc
// @Summary Отзыв всех сессий пользователя
// @Description "Выйти на всех устройствах": отзывает каждый refresh токен вызывающего
// @Tags Authentication
// @Produce json
// @Param Authorization header string true "Bearer токен" default(Bearer <access_token>)
// @Success 200 {object} requestresponse.RevokeAllResponse
// @Failure 401 {object} requestresponse.ErrorResponse
// @Failure 500 {object} requestresponse.ErrorResponse
// @Security ApiKeyAuth
// @Router /api/auth/revoke-all [post]
func (h *AuthenticationHandler) RevokeAll(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	ctx := r.Context()

	claims, err := security.GetClaimsFromContext(ctx)
	if err != nil {
		sendErrorResponse(w, 401, "не авторизован")
		return
	}

	if err := h.AuthenticationService.RevokeAllForUser(ctx, claims.Subject); err != nil {
		log.Println(err)
		sendErrorResponse(w, 500, "внутренняя ошибка сервера")
		return
	}

	// живые соединения пользователя тоже разрываются;
	// отсутствие соединений - не ошибка
	if h.connections != nil {
		if err := h.connections.DisconnectUser(claims.Subject); err != nil && !errors.Is(err, model.ErrConnectionNotFound) {
			log.Println(err)
		}
	}

	clearRefreshCookie(w)

	resp := requestresponse.RevokeAllResponse{}
	resp.Response.Revoked = true

	w.WriteHeader(200)
	json.NewEncoder(w).Encode(resp)
}

func refreshTokenFromRequest(r *http.Request) string {
	if cookie, err := r.Cookie(refreshCookieName); err == nil && cookie.Value != "" {
		return cookie.Value
	}

	var req requestresponse.RefreshTokenRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err == nil {
		return req.RefreshToken
	}
	return ""
}

func bearerToken(r *http.Request) string {
	authorizationHeader := r.Header.Get("Authorization")
	if !strings.HasPrefix(authorizationHeader, "Bearer ") {
		return ""
	}
	return strings.TrimPrefix(authorizationHeader, "Bearer ")
}

func clientOrigin(r *http.Request) string {
	xForwardedFor := strings.TrimSpace(r.Header.Get("X-Forwarded-For"))
	if xForwardedFor != "" {
		parts := strings.Split(xForwardedFor, ",")
		if ip := strings.TrimSpace(parts[0]); ip != "" {
			return ip
		}
	}
	return r.RemoteAddr
}

// refresh токен передается только в HttpOnly cookie:
// скриптам страницы он недоступен
func setRefreshCookie(w http.ResponseWriter, tokens *model.TokensPair) {
	http.SetCookie(w, &http.Cookie{
		Name:     refreshCookieName,
		Value:    tokens.RefreshToken,
		Path:     "/api/auth",
		Expires:  tokens.RefreshExpireAt,
		HttpOnly: true,
		Secure:   true,
		SameSite: http.SameSiteStrictMode,
	})
}

func clearRefreshCookie(w http.ResponseWriter) {
	http.SetCookie(w, &http.Cookie{
		Name:     refreshCookieName,
		Value:    "",
		Path:     "/api/auth",
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   true,
		SameSite: http.SameSiteStrictMode,
	})
}

func sendErrorResponse(w http.ResponseWriter, statusCode int, message string) {
	w.WriteHeader(statusCode)
	json.NewEncoder(w).Encode(requestresponse.ErrorResponse{Error: message})
}
