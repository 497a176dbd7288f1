package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"automatic/internal/auth"
	"automatic/internal/config"
	"automatic/internal/creds"
	"automatic/internal/engine"
	"automatic/internal/integrations/telegram"
	"automatic/internal/market"
	"automatic/internal/ops"
	"automatic/internal/pollstate"
	"automatic/internal/security/secretbox"
	"automatic/internal/session"
	"automatic/internal/status"
	storepkg "automatic/internal/store"
	"automatic/internal/store/memory"
	"automatic/internal/store/postgres"
	"automatic/internal/transport"
)

// envCredentials satisfies auth.CredentialSource from configuration. The
// interactive prompt is out of scope for the unattended agent.
type envCredentials struct {
	username string
	password string
}

func (c envCredentials) Credentials(ctx context.Context) (string, string, error) {
	if c.username == "" || c.password == "" {
		return "", "", errors.New("ACCOUNT_USERNAME and ACCOUNT_PASSWORD are not configured")
	}
	return c.username, c.password, nil
}

func main() {
	log := zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339}).
		With().Timestamp().Logger()

	if err := config.LoadDotEnv(".env"); err != nil {
		log.Warn().Err(err).Msg("failed to load .env")
	}
	cfg := config.Load()

	var st storepkg.Store
	if cfg.StoreMode == "postgres" && cfg.DatabaseURL != "" {
		pgStore, err := postgres.NewStore(cfg.DatabaseURL)
		if err != nil {
			log.Warn().Err(err).Msg("postgres store unavailable, falling back to memory store")
			st = memory.NewStore()
		} else {
			st = pgStore
		}
	} else {
		st = memory.NewStore()
	}

	var box *secretbox.Box
	if cfg.TokenEncryptionKey != "" {
		var err error
		box, err = secretbox.New(cfg.TokenEncryptionKey)
		if err != nil {
			log.Fatal().Err(err).Msg("invalid token encryption key")
		}
	} else {
		log.Warn().Msg("TOKEN_ENCRYPTION_KEY not set, renewal token will be stored unencrypted")
	}
	accounts := creds.NewFileStore(cfg.AccountFile, box)

	notifier := telegram.NewNotifier(cfg.TelegramBotToken, cfg.TelegramChatID)
	sessionStore := session.NewStore()
	authClient := auth.NewClient(
		cfg.AuthBaseURL,
		cfg.ObstaclePIN,
		cfg.AuthTimeout,
		cfg.AuthRateInterval,
		envCredentials{username: cfg.AccountUsername, password: cfg.AccountPassword},
		log,
	)
	trans := transport.NewClient(cfg.TransportBaseURL, cfg.OwnerIDs, cfg.TransportTimeout, log)

	checkpoint := pollstate.NewFile(cfg.PollStateFile)
	if blob, ok, err := checkpoint.Load(); err != nil {
		log.Warn().Err(err).Msg("could not load poll state")
	} else if ok {
		trans.RestorePollState(blob)
	}

	supervisor := session.NewSupervisor(
		sessionStore, authClient, trans, accounts, notifier, st,
		session.SupervisorConfig{
			RelogInterval:       cfg.RelogInterval,
			ProbeRetryDelay:     cfg.ProbeRetryDelay,
			SilentRenewOnExpiry: cfg.SilentRenewOnExpiry,
		},
		log,
	)

	marketClient := market.NewClient(
		cfg.MarketBaseURL, cfg.MarketAccessKey, cfg.MarketTimeout,
		cfg.MarketMaxRetries, cfg.MarketRetryBase, cfg.MarketRetryMax, log,
	)
	resolver := engine.NewResolver(trans, marketClient, log)
	classifier := engine.NewClassifier(cfg.AppID, cfg.AcceptGifts)
	eng := engine.New(classifier, resolver, st, checkpoint, supervisor, notifier, log)

	poller := status.NewPoller(cfg.SummaryURL, trans, st, cfg.SummaryInterval, log)
	opsServer := ops.NewServer(cfg, st, supervisor, notifier, log)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// The startup login publishes artifacts to the transport, which fetches
	// the remote API key. Without that key no offer handling is possible, so
	// a failure here halts the process.
	if err := supervisor.Start(ctx); err != nil {
		log.Fatal().Err(err).Msg("could not establish session")
	}

	httpServer := &http.Server{
		Addr:         cfg.ListenAddr,
		Handler:      opsServer.Router(),
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error { return supervisor.Run(ctx) })
	g.Go(func() error { return trans.Run(ctx) })
	g.Go(func() error { return eng.Run(ctx, trans.Events()) })
	if cfg.SummaryURL != "" {
		g.Go(func() error { return poller.Run(ctx) })
	}
	if cfg.MarketBaseURL != "" {
		g.Go(func() error { return marketClient.HeartbeatLoop(ctx) })
	}
	g.Go(func() error {
		log.Info().Str("addr", cfg.ListenAddr).Msg("ops API listening")
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return httpServer.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil {
		log.Fatal().Err(err).Msg("agent stopped")
	}
	log.Info().Msg("agent shut down")
}
