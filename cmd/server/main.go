package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"tokoledger/backend/internal/cache"
	"tokoledger/backend/internal/config"
	"tokoledger/backend/internal/domain"
	"tokoledger/backend/internal/httpapi"
	"tokoledger/backend/internal/logger"
	"tokoledger/backend/internal/service"
	"tokoledger/backend/internal/store"
	"tokoledger/backend/internal/store/memory"
	pgstore "tokoledger/backend/internal/store/postgres"
)

func main() {
	issueRole := flag.String("issue-token", "", "print a bearer token for the given role (cashier or admin) and exit")
	issueUser := flag.String("user", "kasir-1", "username embedded in an issued token")
	issueBranch := flag.String("branch", memory.SeedBranchID, "branch embedded in an issued token")
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config: %v\n", err)
		os.Exit(1)
	}
	log := logger.New(logger.Config{Env: cfg.Env, Level: cfg.Log.Level})

	if err := validateSecurityConfig(cfg.Server); err != nil {
		log.Fatal().Err(err).Msg("invalid security configuration")
	}
	auth := httpapi.NewAuthManager(cfg.Server.AuthSecret, time.Duration(cfg.Server.AccessTokenTTLMinutes)*time.Minute, cfg.Server.ManagerPIN)

	if *issueRole != "" {
		token, expiresAt, err := auth.IssueToken(domain.Actor{Username: *issueUser, Role: *issueRole, BranchID: *issueBranch})
		if err != nil {
			log.Fatal().Err(err).Msg("issue token")
		}
		fmt.Println(token)
		log.Info().Str("role", *issueRole).Time("expires_at", expiresAt).Msg("token issued")
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	closers := make([]func() error, 0, 2)
	repo, closeRepo, err := openRepository(ctx, cfg.Server, log)
	if err != nil {
		log.Fatal().Err(err).Msg("repository unavailable")
	}
	if closeRepo != nil {
		closers = append(closers, closeRepo)
	}

	catalogCache := cache.CatalogCache(cache.NewMemoryCatalogCache())
	if cfg.Redis.Addr != "" {
		redisCache := cache.NewRedisCatalogCache(cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB)
		if err := redisCache.Ping(ctx); err != nil {
			log.Warn().Err(err).Msg("redis unavailable, using in-process catalog cache")
			_ = redisCache.Close()
		} else {
			catalogCache = redisCache
			closers = append(closers, redisCache.Close)
			log.Info().Str("addr", cfg.Redis.Addr).Msg("cache: redis")
		}
	}

	svc := service.New(repo, catalogCache, cfg.Server.CatalogTTL(), log)
	api := httpapi.New(svc, auth, cfg.Server.AllowedOrigin, log)

	server := &http.Server{
		Addr:              cfg.Server.Address(),
		Handler:           api.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       10 * time.Second,
		WriteTimeout:      10 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	go func() {
		log.Info().Str("addr", cfg.Server.Address()).Msg("tokoledger backend listening")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal().Err(err).Msg("server error")
		}
	}()

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 8*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("shutdown error")
	}
	for _, closeFn := range closers {
		if err := closeFn(); err != nil {
			log.Error().Err(err).Msg("close error")
		}
	}
	log.Info().Msg("server stopped")
}

// openRepository picks postgres when DATABASE_URL is set and the seeded
// in-memory store otherwise. A configured but unreachable database is fatal.
func openRepository(ctx context.Context, cfg config.ServerConfig, log zerolog.Logger) (store.Repository, func() error, error) {
	if cfg.DatabaseURL == "" {
		log.Info().Msg("repository: in-memory demo data")
		return memory.NewSeeded(), nil, nil
	}

	pg, err := pgstore.New(ctx, cfg.DatabaseURL)
	if err != nil {
		return nil, nil, fmt.Errorf("postgres: %w", err)
	}
	if err := pg.Migrate(ctx); err != nil {
		_ = pg.Close()
		return nil, nil, fmt.Errorf("migrate: %w", err)
	}
	if cfg.SeedDemoData {
		if err := seedDemoData(ctx, pg); err != nil {
			_ = pg.Close()
			return nil, nil, fmt.Errorf("seed demo data: %w", err)
		}
		log.Info().Msg("demo data seeded")
	}
	log.Info().Msg("repository: postgres")
	return pg, pg.Close, nil
}

func seedDemoData(ctx context.Context, pg *pgstore.Store) error {
	for _, wh := range []string{memory.SeedWarehouseID, memory.SeedBackWarehouse} {
		if err := pg.UpsertWarehouse(ctx, wh, memory.SeedBranchID); err != nil {
			return err
		}
	}
	for _, p := range memory.SeedProducts() {
		if err := pg.UpsertProduct(ctx, p); err != nil {
			return err
		}
		if err := pg.SetStock(ctx, memory.SeedWarehouseID, p.ID, memory.SeedMainStock); err != nil {
			return err
		}
		if err := pg.SetStock(ctx, memory.SeedBackWarehouse, p.ID, memory.SeedBackStock); err != nil {
			return err
		}
	}
	return nil
}

func validateSecurityConfig(cfg config.ServerConfig) error {
	if len(cfg.AuthSecret) < 32 {
		return fmt.Errorf("AUTH_SECRET must be set and at least 32 characters")
	}
	if len(cfg.ManagerPIN) < 6 {
		return fmt.Errorf("MANAGER_PIN must be set and at least 6 digits")
	}
	if err := validatePINStrength(cfg.ManagerPIN); err != nil {
		return fmt.Errorf("MANAGER_PIN is too weak: %w", err)
	}
	return nil
}

// validatePINStrength rejects non-numeric, repeated-digit, sequential and
// commonly used PINs.
func validatePINStrength(pin string) error {
	for _, r := range pin {
		if r < '0' || r > '9' {
			return fmt.Errorf("PIN must be digits only")
		}
	}
	switch pin {
	case "121212", "112233", "123123", "159753", "147258":
		return fmt.Errorf("common PIN not allowed")
	}

	repeated := true
	ascending, descending := true, true
	for i := 1; i < len(pin); i++ {
		if pin[i] != pin[0] {
			repeated = false
		}
		step := int(pin[i]) - int(pin[i-1])
		ascending = ascending && step == 1
		descending = descending && step == -1
	}
	if repeated {
		return fmt.Errorf("repeated-digit PIN not allowed")
	}
	if ascending || descending {
		return fmt.Errorf("sequential PIN not allowed")
	}
	return nil
}
