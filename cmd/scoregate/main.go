// Command scoregate serves the score submission API.
//
// Usage:
//
//	scoregate [-config scoregate.yaml] [-env .env]
//	scoregate hash-admin-token [-store keyring:scoregate/admin_token_hash] <token>
package main

import (
	"context"
	"database/sql"
	"errors"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"runtime"
	"strings"
	"syscall"
	"time"

	"golang.org/x/crypto/bcrypt"
	"golang.org/x/sync/errgroup"

	"github.com/MJE43/arcade-scoregate/internal/anticheat"
	"github.com/MJE43/arcade-scoregate/internal/api"
	"github.com/MJE43/arcade-scoregate/internal/config"
	"github.com/MJE43/arcade-scoregate/internal/database"
	"github.com/MJE43/arcade-scoregate/internal/leaderboard"
	pgboard "github.com/MJE43/arcade-scoregate/internal/leaderboard/postgres"
	litboard "github.com/MJE43/arcade-scoregate/internal/leaderboard/sqlite"
	"github.com/MJE43/arcade-scoregate/internal/protocol"
	"github.com/MJE43/arcade-scoregate/internal/secrets"
	"github.com/MJE43/arcade-scoregate/internal/session"
	pgsession "github.com/MJE43/arcade-scoregate/internal/session/postgres"
	litsession "github.com/MJE43/arcade-scoregate/internal/session/sqlite"
)

func main() {
	var err error
	if len(os.Args) > 1 && os.Args[1] == "hash-admin-token" {
		err = hashAdminToken(os.Args[2:])
	} else {
		err = run(os.Args[1:])
	}
	if err != nil {
		log.Fatalf("scoregate: %v", err)
	}
}

// stores bundles the backends chosen by configuration.
type stores struct {
	sessions session.Store
	board    leaderboard.Store
	db       *sql.DB
}

func (s stores) ping(ctx context.Context) error {
	if s.db == nil {
		return nil
	}
	return s.db.PingContext(ctx)
}

func (s stores) Close() error {
	errs := []error{s.sessions.Close(), s.board.Close()}
	if s.db != nil {
		errs = append(errs, s.db.Close())
	}
	return errors.Join(errs...)
}

func run(args []string) error {
	fs := flag.NewFlagSet("scoregate", flag.ContinueOnError)
	configPath := fs.String("config", "", "path to YAML config; defaults are used when empty")
	envFile := fs.String("env", ".env", "dotenv file loaded before the config is parsed")
	if err := fs.Parse(args); err != nil {
		return err
	}

	logger := log.New(os.Stdout, "[SCOREGATE] ", log.LstdFlags)
	logger.Printf("starting version=%s commit=%s go=%s", api.Version, api.GitCommit, runtime.Version())

	if err := config.LoadDotEnv(*envFile); err != nil {
		return err
	}

	cfg := config.Default()
	if *configPath != "" {
		loaded, err := config.Load(*configPath)
		if err != nil {
			return err
		}
		cfg = loaded
	}
	if err := cfg.ResolveSecrets(secrets.NewResolver(cfg.Secrets.FallbackPath)); err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	st, err := openStores(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer func() {
		if err := st.Close(); err != nil {
			logger.Printf("closing stores: %v", err)
		}
	}()

	rules := anticheat.NewAtomicRules(cfg.AntiCheat)
	logger.Printf("anticheat rules %s", cfg.AntiCheat)

	svc := protocol.NewService(st.sessions, st.board, rules, log.New(os.Stdout, "[PROTOCOL] ", log.LstdFlags))
	srv := api.NewServer(api.Options{
		Service:          svc,
		LeaderboardLimit: cfg.Leaderboard.Limit,
		AdminTokenHash:   cfg.Admin.TokenHash,
		AllowedOrigins:   cfg.Server.AllowedOrigins,
		RequestTimeout:   cfg.Server.RequestTimeout,
		Ready:            st.ping,
	})

	httpServer := &http.Server{
		Addr:         cfg.Server.Address,
		Handler:      srv.Routes(),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		logger.Printf("listening addr=%s storage=%s", cfg.Server.Address, cfg.Storage.Driver)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()
		logger.Printf("shutting down")
		return httpServer.Shutdown(shutdownCtx)
	})

	g.Go(func() error {
		return session.Sweep(gctx, st.sessions, cfg.Session.CleanupInterval, logger)
	})

	if *configPath != "" {
		watcher, err := config.NewRulesWatcher(*configPath, rules, logger)
		if err != nil {
			logger.Printf("rules hot reload disabled: %v", err)
		} else {
			g.Go(func() error { return watcher.Run(gctx) })
		}
	}

	return g.Wait()
}

func openStores(ctx context.Context, cfg config.Config, logger *log.Logger) (stores, error) {
	policy := session.Policy{TTL: cfg.Session.TTL}

	if cfg.Storage.Driver == config.DriverMemory {
		return stores{
			sessions: session.NewMemoryStore(policy),
			board:    leaderboard.NewMemoryStore(nil),
		}, nil
	}

	target := cfg.Storage.Path
	if cfg.Storage.Driver == config.DriverPostgres {
		target = cfg.Storage.DSN
	}

	connectCtx, cancel := context.WithTimeout(ctx, time.Minute)
	defer cancel()
	db, err := database.Open(connectCtx, cfg.Storage.Driver, target, database.Options{
		ConnectRetries: cfg.Storage.ConnectRetries,
		MaxOpenConns:   cfg.Storage.MaxOpenConns,
		Logger:         log.New(os.Stdout, "[DB] ", log.LstdFlags),
	})
	if err != nil {
		return stores{}, err
	}

	switch cfg.Storage.Driver {
	case config.DriverSQLite:
		logger.Printf("using sqlite path=%s", cfg.Storage.Path)
		return stores{sessions: litsession.New(db, policy), board: litboard.New(db, nil), db: db}, nil
	default:
		logger.Printf("using postgres")
		return stores{sessions: pgsession.New(db, policy), board: pgboard.New(db, nil), db: db}, nil
	}
}

// hashAdminToken prints the bcrypt hash of a token and optionally stores it
// under a keyring reference for use as admin.token_hash.
func hashAdminToken(args []string) error {
	fs := flag.NewFlagSet("hash-admin-token", flag.ContinueOnError)
	storeRef := fs.String("store", "", "keyring:service/key reference to save the hash under")
	fallback := fs.String("fallback", "", "fallback secrets file when no keyring is available")
	cost := fs.Int("cost", bcrypt.DefaultCost, "bcrypt cost")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if fs.NArg() != 1 || strings.TrimSpace(fs.Arg(0)) == "" {
		return errors.New("usage: scoregate hash-admin-token [-store keyring:service/key] <token>")
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(fs.Arg(0)), *cost)
	if err != nil {
		return fmt.Errorf("hashing token: %w", err)
	}

	if *storeRef == "" {
		fmt.Println(string(hash))
		return nil
	}

	service, key, err := secrets.ParseKeyringRef(*storeRef)
	if err != nil {
		return err
	}
	if err := secrets.NewResolver(*fallback).Set(service, key, string(hash)); err != nil {
		return err
	}
	fmt.Printf("stored; set admin.token_hash: %q\n", *storeRef)
	return nil
}
