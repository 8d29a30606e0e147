package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/deep2look/bot/internal/api"
	"github.com/deep2look/bot/internal/config"
	"github.com/deep2look/bot/internal/db"
	"github.com/deep2look/bot/internal/logging"
	"github.com/deep2look/bot/internal/notify"
	"github.com/deep2look/bot/internal/perm"
	"github.com/deep2look/bot/internal/rate"
	"github.com/deep2look/bot/internal/relay"
	"github.com/deep2look/bot/internal/service"
	"github.com/deep2look/bot/internal/session"
	"github.com/deep2look/bot/internal/store"
	"github.com/deep2look/bot/internal/transport"
	"github.com/deep2look/bot/internal/transport/telegram"
	"github.com/deep2look/bot/internal/tree"
	"github.com/deep2look/bot/internal/util"
	"github.com/deep2look/bot/internal/version"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config: %v\n", err)
		os.Exit(1)
	}
	log := logging.New(logging.Options{Debug: cfg.Debug, Console: cfg.Debug})
	if err := run(cfg, log); err != nil {
		log.Fatal().Err(err).Msg("bot stopped")
	}
}

func run(cfg config.Config, log zerolog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	info := version.Current()
	log.Info().Stringer("version", info).Str("source", info.SourceRepo).Msg("starting")

	conn, dialect, err := openDB(cfg)
	if err != nil {
		return err
	}
	defer conn.Close()
	if err := db.Migrate(ctx, conn, dialect); err != nil {
		return fmt.Errorf("migrate: %w", err)
	}

	st := store.New(conn, dialect)
	if err := st.EnsureSuperAdmin(ctx, cfg.SuperAdminID); err != nil {
		return fmt.Errorf("ensure super admin: %w", err)
	}
	pm := perm.New(st, cfg.SuperAdminID, logging.Component(log, "perm"))
	tm := tree.NewManager(st, logging.Component(log, "tree"))
	if cfg.ContentSeedPath != "" {
		n, err := tm.SeedPath(ctx, cfg.ContentSeedPath, cfg.SuperAdminID)
		if err != nil {
			return fmt.Errorf("seed content: %w", err)
		}
		log.Info().Int("created", n).Str("path", cfg.ContentSeedPath).Msg("content seeded")
	}

	var (
		sessions     session.Store
		sessionProbe api.Pinger
	)
	if cfg.RedisURL != "" {
		rs, err := session.NewRedisStore(cfg.RedisURL, cfg.SessionIdleDuration())
		if err != nil {
			return fmt.Errorf("session store: %w", err)
		}
		defer rs.Close()
		sessions, sessionProbe = rs, rs
	} else {
		ms := session.NewMemoryStore(cfg.SessionIdleDuration())
		go ms.RunJanitor(ctx, time.Minute)
		sessions = ms
	}

	bot, err := telegram.New(cfg.BotToken, cfg.Debug, logging.Component(log, "telegram"))
	if err != nil {
		return fmt.Errorf("telegram: %w", err)
	}
	svc := service.New(service.Deps{
		Store:    st,
		Perm:     pm,
		Tree:     tm,
		Sessions: sessions,
		Sink:     bot,
		Relay:    relay.New(bot, st, cfg.BroadcastConcurrency, logging.Component(log, "relay")),
		Notifier: notify.NewSender(cfg, logging.Component(log, "notify")),
		Limiter:  rate.NewLimiter(cfg.EventRateLimit, time.Minute),
		BotName:  cfg.BotName,
		Log:      logging.Component(log, "service"),
	})
	submit := func(ev transport.Event) { svc.Submit(ev) }

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		svc.Run(ctx)
		return nil
	})

	if cfg.ListenAddr != "" {
		srv := &http.Server{
			Addr: cfg.ListenAddr,
			Handler: api.NewRouter(api.Deps{
				Config:   cfg,
				Store:    st,
				Sessions: sessionProbe,
				Submit:   submit,
				Log:      logging.Component(log, "http"),
			}),
			ReadHeaderTimeout: 5 * time.Second,
			ReadTimeout:       15 * time.Second,
			WriteTimeout:      15 * time.Second,
			IdleTimeout:       60 * time.Second,
		}
		g.Go(func() error {
			log.Info().Str("addr", cfg.ListenAddr).Msg("listening")
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("http server: %w", err)
			}
			return nil
		})
		g.Go(func() error {
			<-ctx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			return srv.Shutdown(shutdownCtx)
		})
	}

	if cfg.WebhookMode() {
		link := cfg.WebhookURL + "/telegram/" + util.WebhookSecret(cfg.BotToken)
		if err := bot.SetWebhook(link); err != nil {
			stop()
			_ = g.Wait()
			return err
		}
		log.Info().Str("url", cfg.WebhookURL+"/telegram/***").Msg("webhook registered")
	} else {
		g.Go(func() error {
			log.Info().Msg("polling for updates")
			return bot.Poll(ctx, submit)
		})
	}

	err = g.Wait()
	log.Info().Msg("shutdown complete")
	return err
}

func openDB(cfg config.Config) (*sql.DB, db.Dialect, error) {
	dialect, err := db.ParseDialect(cfg.DBDriver)
	if err != nil {
		return nil, "", err
	}
	if dialect == db.SQLite {
		conn, err := db.OpenSQLite(cfg.DBPath, cfg.DBMaxOpenConns, cfg.DBMaxIdleConns, cfg.DBConnMaxLifetime)
		if err != nil {
			return nil, "", fmt.Errorf("open sqlite: %w", err)
		}
		return conn, dialect, nil
	}
	conn, err := db.Open(dialect, cfg.DatabaseURL, cfg.DBMaxOpenConns, cfg.DBMaxIdleConns, cfg.DBConnMaxLifetime)
	if err != nil {
		return nil, "", fmt.Errorf("open %s: %w", dialect, err)
	}
	return conn, dialect, nil
}
