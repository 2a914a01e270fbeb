// Command syncd is the bootstrap entry point: it wires the Store,
// SyncCore, Transport, Outbox pump, Inbox listener, Maintenance
// scheduler, and control plane into the process-wide
// singletons the rest of the engine assumes, then runs them until a
// shutdown signal arrives.
package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/erauner12/syncwatch/internal/alarm"
	"github.com/erauner12/syncwatch/internal/config"
	"github.com/erauner12/syncwatch/internal/controlplane"
	"github.com/erauner12/syncwatch/internal/inbox"
	"github.com/erauner12/syncwatch/internal/maintenance"
	"github.com/erauner12/syncwatch/internal/outboxpump"
	"github.com/erauner12/syncwatch/internal/store"
	"github.com/erauner12/syncwatch/internal/synccore"
	"github.com/erauner12/syncwatch/internal/transport"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"
)

func main() {
	zerolog.TimeFieldFormat = time.RFC3339Nano
	log.Logger = log.With().Str("service", "syncwatch").Logger()

	cfg := config.FromEnv()
	if cfg.DevMode {
		log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: "15:04:05"})
	}
	if cfg.DatabaseURL == "" {
		log.Fatal().Msg("DATABASE_URL is required")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	s, err := store.Open(ctx, cfg.DatabaseURL)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to connect to postgres")
	}
	defer s.Close()

	if err := s.Migrate(ctx); err != nil {
		log.Fatal().Err(err).Msg("failed to migrate schema")
	}

	core := synccore.New(s, alarm.NoopScheduler{})

	bus, err := transport.NewKafkaBus(cfg.KafkaBrokers, cfg.KafkaTopic, "syncwatch-"+cfg.PeerLabelLocal)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to connect to kafka")
	}
	defer bus.Close()

	pump := outboxpump.New(s, core, bus, cfg.PeerLabelLocal, cfg.StuckThreshold, cfg.OutboxMaxAttempts)
	router := inbox.New(core, bus, cfg.PeerLabelLocal, cfg.PeerLabelPeer, cfg.OutboxMaxAttempts)
	maint := maintenance.New(s, pump, alarm.NoopScheduler{}, cfg.ProcessedOpTTL, cfg.TombstoneTTL)

	cp := controlplane.New(s, core, pump, maint, cfg.ControlSecret, cfg.DevMode)
	httpServer := &http.Server{
		Addr:         cfg.HTTPAddr,
		Handler:      cp,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error { return router.Listen(gctx) })
	g.Go(func() error {
		if err := router.RequestSync(gctx); err != nil {
			log.Warn().Err(err).Msg("syncd: initial sync request failed")
		}
		return nil
	})
	g.Go(func() error { return pump.Run(gctx, 30*time.Second) })
	g.Go(func() error { return maint.Run(gctx, cfg.MaintenanceInterval) })
	g.Go(func() error {
		log.Info().Str("addr", cfg.HTTPAddr).Msg("starting control plane")
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return err
		}
		return nil
	})

	<-gctx.Done()
	log.Info().Msg("shutting down gracefully...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("control plane shutdown error")
	}

	if err := g.Wait(); err != nil && err != context.Canceled {
		log.Error().Err(err).Msg("syncd: worker exited with error")
	}
	log.Info().Msg("syncd stopped")
}
