package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"realtime-chat-server/config"
	_ "realtime-chat-server/docs"
	"realtime-chat-server/internal/fanout"
	"realtime-chat-server/internal/gateway"
	"realtime-chat-server/internal/handler"
	"realtime-chat-server/internal/ports"
	"realtime-chat-server/internal/repository"
	"realtime-chat-server/internal/security"
	"realtime-chat-server/internal/service"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	_ "github.com/lib/pq"
	httpSwagger "github.com/swaggo/http-swagger"
)

// @title Realtime-chat-server
// @version 1.0
// @description Сервис жизненного цикла токенов и шлюз постоянных соединений чата

// @host localhost:8080

// @securityDefinitions.apikey ApiKeyAuth
// @in header
// @name Authorization
func main() {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	cfg, err := config.LoadConfig("config.yaml")
	if err != nil {
		log.Fatalf("Ошибка загрузки конфигурации: %v", err)
	}

	db, err := config.SetupDatabase(cfg.DatabaseConfig.DSN)
	if err != nil {
		log.Fatalf("Не удалось подключиться к БД: %v", err)
	}
	defer func() {
		if err := db.Close(); err != nil {
			log.Printf("Ошибка при закрытии БД: %v", err)
		}
	}()

	// недоступный Redis не валит процесс: fan-out переходит в режим
	// одного процесса, реестр токенов остается в памяти
	redisClient, err := config.SetupRedis(&cfg.RedisConfig)
	if err != nil {
		log.Printf("ВНИМАНИЕ: Redis недоступен, продолжаем без брокера: %v", err)
		redisClient = nil
	} else {
		defer func() {
			if err := redisClient.Close(); err != nil {
				log.Printf("Ошибка при закрытии Redis: %v", err)
			}
		}()
	}

	srv, router := config.SetupServer(cfg.ServerAddr)

	tokenStore, validationStore := setupTokenStore(ctx, cfg, redisClient)

	jwtService := security.NewJWTService(&cfg.JWT, validationStore)
	loginLimiter := setupAttemptLimiter(&cfg.RateLimit)
	handshakeLimiter := setupAttemptLimiter(&cfg.RateLimit)

	userRepo := repository.NewUserRepository(db)
	membershipRepo := repository.NewMembershipRepository(db)

	adapter := fanout.NewAdapter(redisClient, uuid.New().String())
	defer adapter.Close()

	gw := gateway.NewGateway(
		jwtService,
		membershipRepo,
		userRepo,
		handshakeLimiter,
		adapter,
		parseDurationOrDie(cfg.Gateway.TypingTTL, "gateway.typing_ttl"),
		parseDurationOrDie(cfg.Gateway.HandshakeTimeout, "gateway.handshake_timeout"),
	)
	if err := gw.Start(ctx); err != nil {
		log.Fatalf("Не удалось подписаться на fan-out каналы: %v", err)
	}

	authService := service.NewAuthenticationService(tokenStore, jwtService, userRepo, loginLimiter)
	authHandler := handler.NewAuthenticationHandler(authService, gw)

	router.Get("/swagger/*", httpSwagger.WrapHandler)
	router.Handle("/ws", gw.Handler())

	setupAuthRoutes(router, authHandler, jwtService)

	runServer(ctx, srv)
}

func setupAuthRoutes(r chi.Router, h *handler.AuthenticationHandler, jwtService *security.JWTService) {
	r.Route("/api/auth", func(r chi.Router) {
		r.Post("/", h.Login)
		r.Post("/refresh", h.RefreshToken)
		r.Delete("/logout", h.Logout)

		r.Group(func(r chi.Router) {
			r.Use(security.JWTMiddleware(jwtService))
			r.Post("/revoke-all", h.RevokeAll)
		})
	})
}

func setupTokenStore(ctx context.Context, cfg *config.AppConfig, redisClient *config.RedisClient) (ports.TokenStore, security.TokenStore) {
	if cfg.TokenStore.Kind == "redis" && redisClient != nil {
		store := repository.NewRedisTokenStore(redisClient)
		return store, store
	}

	if cfg.TokenStore.Kind == "redis" {
		log.Printf("ВНИМАНИЕ: tokenStore.kind=redis, но Redis недоступен; реестр токенов будет в памяти процесса")
	}

	store := repository.NewMemoryTokenStore()
	store.StartSweeper(ctx, parseDurationOrDie(cfg.TokenStore.SweepInterval, "tokenStore.sweep_interval"))
	return store, store
}

func setupAttemptLimiter(cfg *config.RateLimitConfig) *security.AttemptLimiter {
	return security.NewAttemptLimiter(
		cfg.MaxAttempts,
		parseDurationOrDie(cfg.Window, "rateLimit.window"),
		parseDurationOrDie(cfg.Lockout, "rateLimit.lockout"),
	)
}

func parseDurationOrDie(value, name string) time.Duration {
	duration, err := time.ParseDuration(value)
	if err != nil {
		log.Fatalf("ошибка парсинга %s: %v", name, err)
	}
	return duration
}

func runServer(ctx context.Context, server *http.Server) {
	serverErrors := make(chan error, 1)
	go func() {
		log.Println("сервер запущен на " + server.Addr)
		serverErrors <- server.ListenAndServe()
	}()

	signalChannel := make(chan os.Signal, 1)
	signal.Notify(signalChannel, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-serverErrors:
		if err != nil {
			log.Fatalf("ошибка работы сервера: %v", err)
		}
	case sig := <-signalChannel:
		log.Printf("получен сигнал %v остановки работы сервера ", sig)
	}

	shutDownCtx, shutDownCancel := context.WithTimeout(ctx, 5*time.Second)
	defer shutDownCancel()

	if err := server.Shutdown(shutDownCtx); err != nil {
		log.Printf("ошибка при остановке сервера: %v", err)
	} else {
		log.Println("Сервер успешно остановлен")
	}
}
