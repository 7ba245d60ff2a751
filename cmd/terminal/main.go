package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"tokoledger/backend/internal/config"
	"tokoledger/backend/internal/domain"
	"tokoledger/backend/internal/engine"
	"tokoledger/backend/internal/localstore"
	"tokoledger/backend/internal/logger"
	"tokoledger/backend/internal/remote"
	"tokoledger/backend/internal/terminalapi"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config: %v\n", err)
		os.Exit(1)
	}
	log := logger.New(logger.Config{Env: cfg.Env, Level: cfg.Log.Level})
	if err := run(cfg, log); err != nil {
		log.Fatal().Err(err).Msg("terminal stopped with error")
	}
	log.Info().Msg("terminal stopped")
}

func run(cfg config.Config, log zerolog.Logger) error {
	tc := cfg.Terminal
	if tc.BackendToken == "" {
		return errors.New("TERMINAL_BACKEND_TOKEN must be set")
	}

	local, err := localstore.Open(tc.DataPath)
	if err != nil {
		return fmt.Errorf("open local store: %w", err)
	}
	defer func() {
		if err := local.Close(); err != nil {
			log.Error().Err(err).Msg("close local store")
		}
	}()

	backend := remote.New(tc.BackendURL, tc.BackendToken, tc.CallTimeout())
	sess := engine.Session{
		TenantID:    tc.TenantID,
		BranchID:    tc.BranchID,
		WarehouseID: tc.WarehouseID,
		CashierID:   tc.CashierID,
	}

	conn := engine.NewConnectivity(false)
	prober := engine.NewProber(backend, conn, tc.ProbeInterval(), tc.CallTimeout(), log)
	shifts := engine.NewShiftManager(backend, local, log)
	catalog := engine.NewCatalogCache(backend, local, conn, log)
	queue := engine.NewOfflineQueue(local)
	sales := engine.NewSaleEngine(backend, shifts, catalog, queue, conn, log)
	syncer := engine.NewSyncEngine(queue, sales, shifts, conn, sess, log)
	api := terminalapi.New(terminalapi.Engines{
		Shifts:    shifts,
		Sales:     sales,
		Documents: engine.NewDocumentEngine(backend, log),
		Catalog:   catalog,
		Sync:      syncer,
		Conn:      conn,
	}, sess, log)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if prober.ProbeOnce(ctx) {
		warmUp(ctx, api, shifts, catalog, log)
	}
	if pending, err := queue.PendingCount(ctx); err == nil && pending > 0 {
		log.Info().Int("pending", pending).Msg("offline sales awaiting sync")
	}

	server := &http.Server{
		Addr:              tc.Address(),
		Handler:           api.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       10 * time.Second,
		// Handlers may wait on a backend call of up to CallTimeout.
		WriteTimeout: tc.CallTimeout() + 5*time.Second,
		IdleTimeout:  60 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		prober.Run(gctx)
		return nil
	})
	g.Go(func() error {
		if err := syncer.Run(gctx); !errors.Is(err, context.Canceled) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		log.Info().Str("addr", tc.Address()).Str("backend", tc.BackendURL).Msg("terminal listening")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 8*time.Second)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	})
	return g.Wait()
}

// warmUp resumes the branch's open shift and refreshes the product snapshot.
// Failures only leave the terminal less prepared.
func warmUp(ctx context.Context, api *terminalapi.API, shifts *engine.ShiftManager, catalog *engine.CatalogCache, log zerolog.Logger) {
	sess := api.Session()
	shift, err := shifts.Resume(ctx, sess)
	switch {
	case err == nil:
		api.BindShift(shift.ID)
		log.Info().Str("shift_id", shift.ID).Msg("resumed open shift")
	case errors.Is(err, domain.ErrNotFound):
		log.Info().Str("branch_id", sess.BranchID).Msg("no open shift")
	default:
		log.Warn().Err(err).Msg("resume shift")
	}

	entries, err := catalog.Refresh(ctx, sess.WarehouseID, domain.CatalogFilter{})
	if err != nil {
		log.Warn().Err(err).Msg("catalog refresh")
		return
	}
	log.Info().Int("products", len(entries)).Msg("catalog snapshot refreshed")
}
