package model

import "time"

// RefreshToken : запись реестра refresh-токенов
// Токен считается активным, если он не отозван и не просрочен
type RefreshToken struct {
	UUID      string    `json:"uuid"`
	UserUUID  string    `json:"user_uuid"`
	CreatedAt time.Time `json:"created_at"`
	ExpireAt  time.Time `json:"expire_at"`
	Revoked   bool      `json:"revoked"`
}

func (t *RefreshToken) Active(now time.Time) bool {
	return !t.Revoked && now.Before(t.ExpireAt)
}

// TokensPair содержит пару access и refresh токенов
// swagger:model
type TokensPair struct {
	// Access токен (JWT)
	// example: eyJhbGciOiJIUzI1NiIsInR5cCI6IkpXVCJ9...
	AccessToken string `json:"accessToken"`

	// Refresh токен (JWT, одноразовый)
	// example: eyJhbGciOiJIUzUxMiIsInR5cCI6IkpXVCJ9...
	RefreshToken string `json:"refreshToken"`

	AccessExpireAt  time.Time `json:"accessExpireAt"`
	RefreshExpireAt time.Time `json:"refreshExpireAt"`
}
