package main

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"norvis/internal/api/v1/router"
	"norvis/internal/clock"
	"norvis/internal/config"
	"norvis/internal/crypto"
	"norvis/internal/database"
	"norvis/internal/logger"
	"norvis/internal/metrics"
	"norvis/internal/middleware"
	"norvis/internal/pgmq"
	"norvis/internal/provider"
	"norvis/internal/ratelimit"
	"norvis/internal/repository"
	"norvis/internal/service"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

func main() {
	if err := godotenv.Load(); err != nil {
		l := logger.New()
		l.Warn().Msg("Warning: no .env file found")
	}

	cfg, err := config.Load()
	if err != nil {
		l := logger.New()
		l.Fatal().Msgf("Error loading config: %v", err)
	}
	log := logger.NewWithLevel(cfg.LogLevel)
	log.Info().Str("environment", cfg.Environment).Msg("App environment loaded")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	db, err := database.Open(ctx, "pgx", database.PrepareDSN(cfg.DBConnectionString, cfg.IsDevelopment()), log)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to connect to database")
	}
	defer db.Close()

	m := metrics.New()

	limiter, err := newGuestLimiter(ctx, cfg, m, log)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to initialize guest rate limiter")
	}
	limiter.Start()
	defer limiter.Close()

	registry, closeKeys, err := newProviderRegistry(ctx, cfg, m, log)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to initialize AI providers")
	}
	defer closeKeys()

	userRepo := repository.NewUserRepo(db)
	quotaRepo := repository.NewQuotaRepo(db)
	chatRepo := repository.NewChatRepo(db)
	events := service.NewQueueEventPublisher(pgmq.New(db), cfg.NotificationQueueName)

	quotaSvc := service.NewQuotaService(quotaRepo, events, m, clock.Real(), cfg.QuotaLocation(), log)
	userSvc := service.NewUserService(userRepo, quotaSvc)
	chatSvc := service.NewChatService(chatRepo, quotaSvc, registry, cfg.DefaultModel, cfg.ProviderMaxTokens, log)
	guestSvc := service.NewGuestService(limiter, registry, cfg.GuestModel, cfg.ProviderMaxTokens, log)
	stripeSvc := service.NewStripeService(cfg, userRepo, quotaSvc, log)
	if cfg.StripeSecretKey == "" {
		log.Warn().Msg("STRIPE_SECRET_KEY not set; checkout is disabled")
	}

	clientIPs, err := middleware.NewClientIPResolver(cfg.TrustedProxies)
	if err != nil {
		log.Fatal().Err(err).Msg("Invalid TRUSTED_PROXIES")
	}

	handler := router.New(router.Services{
		Users:    userSvc,
		Chats:    chatSvc,
		Guests:   guestSvc,
		Quotas:   quotaSvc,
		Payments: stripeSvc,
	}, cfg.JWTSecret, cfg.CORSAllowedOrigins, clientIPs, db, m, log)

	srv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      handler,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 90 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		log.Info().Msgf("Server starting on port %s", cfg.Port)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal().Msgf("Listen: %s", err)
		}
	}()

	<-ctx.Done()
	log.Info().Msg("Shutdown signal received, exiting...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("Server forced to shutdown")
	}
	log.Info().Msg("Server shut down gracefully")
}

func newGuestLimiter(ctx context.Context, cfg *config.Config, m *metrics.Metrics, log zerolog.Logger) (*ratelimit.Limiter, error) {
	rlCfg := ratelimit.Config{
		MaxMessages:   cfg.GuestMaxMessages,
		Window:        cfg.GuestWindow,
		SweepInterval: cfg.GuestSweepInterval,
	}

	var store ratelimit.Store
	switch cfg.GuestLimitBackend {
	case "redis":
		client := redis.NewClient(&redis.Options{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		})
		if err := client.Ping(ctx).Err(); err != nil {
			_ = client.Close()
			return nil, err
		}
		store = ratelimit.NewRedisStore(client, rlCfg)
	default:
		store = ratelimit.NewMemoryStore(rlCfg)
	}
	log.Info().
		Str("backend", cfg.GuestLimitBackend).
		Int("max_messages", rlCfg.MaxMessages).
		Dur("window", rlCfg.Window).
		Msg("Guest rate limiter initialized")
	return ratelimit.NewLimiter(store, rlCfg, log, ratelimit.WithMetrics(m)), nil
}

// newProviderRegistry resolves vendor keys and registers every provider that
// has one. Models without a provider fail per request with ErrUnknownModel.
func newProviderRegistry(ctx context.Context, cfg *config.Config, m *metrics.Metrics, log zerolog.Logger) (*provider.Registry, func(), error) {
	cipher, err := crypto.NewKeyCipher(cfg.ProviderKeyEncryptionKey)
	if err != nil {
		return nil, nil, err
	}
	var keys service.ProviderKeySource = service.NewEnvKeySource(map[string]string{
		"openai":    cfg.OpenAIAPIKey,
		"anthropic": cfg.AnthropicAPIKey,
	}, cipher)
	closeKeys := func() {}
	if cfg.ProviderKeysFromSecretManager {
		sm, closeFn, err := service.NewSecretManagerKeySource(ctx, cfg.GCPProjectID, cipher, keys, log)
		if err != nil {
			return nil, nil, err
		}
		keys = sm
		closeKeys = func() { _ = closeFn() }
	}

	registry := provider.NewRegistry(m, log)
	type vendor struct {
		name     string
		build    func(key string) (provider.Provider, error)
		prefixes []string
	}
	vendors := []vendor{
		{"openai", func(key string) (provider.Provider, error) { return provider.NewOpenAI(key, cfg.OpenAIBaseURL) }, []string{"gpt-", "chatgpt-", "o1", "o3", "o4"}},
		{"anthropic", provider.NewAnthropic, []string{"claude-"}},
	}
	for _, v := range vendors {
		key, err := keys.ProviderKey(ctx, v.name)
		if err != nil {
			if errors.Is(err, service.ErrProviderKeyMissing) {
				log.Warn().Str("provider", v.name).Msg("No API key configured; provider disabled")
				continue
			}
			closeKeys()
			return nil, nil, err
		}
		p, err := v.build(key)
		if err != nil {
			closeKeys()
			return nil, nil, err
		}
		if err := registry.Register(p, v.prefixes...); err != nil {
			closeKeys()
			return nil, nil, err
		}
		log.Info().Str("provider", v.name).Strs("prefixes", v.prefixes).Msg("AI provider registered")
	}
	return registry, closeKeys, nil
}
