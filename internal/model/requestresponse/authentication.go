package requestresponse

// LoginRequest : тело запроса на аутентификацию
type LoginRequest struct {
	Login    string `json:"login" example:"user1"`
	Password string `json:"password" example:"P@ssw0rd123"`
}

// LoginResponse : ответ на успешную аутентификацию
// refresh-токен уходит в HttpOnly cookie и в тело не попадает
type LoginResponse struct {
	Response struct {
		AccessToken    string `json:"access_token" example:"eyJhbGciOiJIUzI1NiIsInR5cCI6IkpXVCJ9..."`
		AccessExpireAt string `json:"access_expire_at" example:"2026-01-02T15:04:05Z"`
	} `json:"response"`
}

// RefreshTokenRequest : запрос на ротацию пары токенов
// поле опционально, для браузера токен берется из cookie
type RefreshTokenRequest struct {
	RefreshToken string `json:"refresh_token,omitempty" example:"eyJhbGciOiJIUzUxMiIsInR5cCI6IkpXVCJ9..."`
}

// RefreshTokenResponse : ответ на успешную ротацию
type RefreshTokenResponse struct {
	Response struct {
		AccessToken    string `json:"access_token" example:"eyJhbGciOiJIUzI1NiIsInR5cCI6IkpXVCJ9..."`
		AccessExpireAt string `json:"access_expire_at" example:"2026-01-02T15:04:05Z"`
	} `json:"response"`
}

// LogoutResponse : ответ на завершение сессии
type LogoutResponse struct {
	Response struct {
		LoggedOut bool `json:"logged_out" example:"true"`
	} `json:"response"`
}

// RevokeAllResponse : ответ на отзыв всех сессий пользователя
type RevokeAllResponse struct {
	Response struct {
		Revoked bool `json:"revoked" example:"true"`
	} `json:"response"`
}

// ErrorResponse : тело ошибки
type ErrorResponse struct {
	Error string `json:"error" example:"невалидный токен"`
}
