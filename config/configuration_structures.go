package config

type DatabaseConfig struct {
	DSN string `yaml:"dsn"`
}

type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
}

type JWTConfig struct {
	SecretKey       string `yaml:"secret_key"`
	AccessTokenTTL  string `yaml:"access_token_ttl"`
	RefreshTokenTTL string `yaml:"refresh_token_ttl"`
	Issuer          string `yaml:"issuer"`
	Audience        string `yaml:"audience"`
}

type RateLimitConfig struct {
	MaxAttempts int    `yaml:"max_attempts"`
	Window      string `yaml:"window"`
	Lockout     string `yaml:"lockout"`
}

type TokenStoreConfig struct {
	// kind: memory (один процесс) или redis (общее хранилище для нескольких процессов)
	Kind          string `yaml:"kind"`
	SweepInterval string `yaml:"sweep_interval"`
}

type GatewayConfig struct {
	TypingTTL        string `yaml:"typing_ttl"`
	HandshakeTimeout string `yaml:"handshake_timeout"`
}
