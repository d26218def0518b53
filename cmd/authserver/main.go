// Command authserver serves the tokenauth HTTP API, and optionally a gRPC
// health endpoint behind the same bearer token checks. All configuration
// comes from the environment; see tokenauth.Config.
package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"cloud.google.com/go/datastore"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	ta "github.com/panyam/tokenauth"
	authgrpc "github.com/panyam/tokenauth/grpc"
	"github.com/panyam/tokenauth/oauth2"
	"github.com/panyam/tokenauth/stores/fs"
	"github.com/panyam/tokenauth/stores/gae"
	gormstore "github.com/panyam/tokenauth/stores/gorm"
	mongostore "github.com/panyam/tokenauth/stores/mongo"
)

func main() {
	cfg, err := ta.LoadConfig()
	if err != nil {
		log.Fatalf("load config: %v", err)
	}
	logger := newLogger(cfg)
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logger); err != nil {
		logger.Error("server exited", "error", err)
		os.Exit(1)
	}
}

func newLogger(cfg *ta.Config) *slog.Logger {
	opts := &slog.HandlerOptions{Level: cfg.SlogLevel()}
	if cfg.LogFormat == "json" {
		return slog.New(slog.NewJSONHandler(os.Stdout, opts))
	}
	return slog.New(slog.NewTextHandler(os.Stdout, opts))
}

// openStore connects the configured backend. The returned func releases it.
func openStore(ctx context.Context, cfg *ta.Config) (ta.Store, func(), error) {
	switch cfg.StoreBackend {
	case ta.BackendMongo:
		client, err := mongostore.Connect(ctx, cfg.MongoURI)
		if err != nil {
			return nil, nil, err
		}
		store := mongostore.NewStore(client.Database(cfg.MongoDatabase))
		store.TokenRetention = cfg.TokenRetention
		if err := store.EnsureIndexes(ctx); err != nil {
			client.Disconnect(context.Background())
			return nil, nil, fmt.Errorf("ensure indexes: %w", err)
		}
		return store, func() { client.Disconnect(context.Background()) }, nil

	case ta.BackendDatastore:
		client, err := datastore.NewClient(ctx, cfg.DatastoreProject)
		if err != nil {
			return nil, nil, fmt.Errorf("datastore client: %w", err)
		}
		return gae.NewStore(client, cfg.DatastoreNamespace), func() { client.Close() }, nil

	case ta.BackendGORM:
		db, err := gormstore.Open(cfg.DatabaseDriver, cfg.DatabaseDSN, nil)
		if err != nil {
			return nil, nil, err
		}
		if err := gormstore.AutoMigrate(db); err != nil {
			return nil, nil, fmt.Errorf("auto migrate: %w", err)
		}
		sqlDB, err := db.DB()
		if err != nil {
			return nil, nil, err
		}
		return gormstore.NewStore(db), func() { sqlDB.Close() }, nil

	case ta.BackendFS:
		return fs.NewStore(cfg.FSStoragePath), func() {}, nil
	}
	return nil, nil, fmt.Errorf("unknown store backend %q", cfg.StoreBackend)
}

func run(ctx context.Context, cfg *ta.Config, logger *slog.Logger) error {
	store, closeStore, err := openStore(ctx, cfg)
	if err != nil {
		return fmt.Errorf("open %s store: %w", cfg.StoreBackend, err)
	}
	defer closeStore()
	logger.Info("store ready", "backend", cfg.StoreBackend)

	creds := ta.NewCredentialStore(store, ta.NewPasswordHasher(cfg))
	creds.Logger = logger
	issuer := ta.NewTokenIssuer(cfg, store)
	notifier := &ta.LogNotifier{Logger: logger, ResetURL: cfg.ResetURL}

	svc := ta.NewAuthService(cfg, creds, issuer, notifier)
	svc.Logger = logger
	authz := &ta.Authorizer{
		Issuer:       issuer,
		Credentials:  creds,
		Providers:    oauth2.Providers(&http.Client{Timeout: cfg.OAuthTimeout}),
		Logger:       logger,
		OAuthTimeout: cfg.OAuthTimeout,
	}
	api := &ta.API{
		Auth:         svc,
		Authorizer:   authz,
		Logger:       logger,
		Prefix:       cfg.APIPrefix,
		StoreTimeout: cfg.StoreTimeout,
	}

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Port),
		Handler:           api.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	errc := make(chan error, 2)
	go func() {
		logger.Info("http listening", "addr", srv.Addr, "prefix", api.Prefix)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errc <- err
		}
	}()

	var gs *grpc.Server
	if cfg.GRPCPort > 0 {
		gs, err = serveGRPC(cfg, authz, logger, errc)
		if err != nil {
			return err
		}
	}

	go sweepTokens(ctx, issuer, cfg.CleanupInterval, logger)

	select {
	case <-ctx.Done():
		logger.Info("shutting down")
	case err := <-errc:
		return err
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if gs != nil {
		gs.GracefulStop()
	}
	return srv.Shutdown(shutdownCtx)
}

func serveGRPC(cfg *ta.Config, authz *ta.Authorizer, logger *slog.Logger, errc chan<- error) (*grpc.Server, error) {
	lis, err := net.Listen("tcp", fmt.Sprintf(":%d", cfg.GRPCPort))
	if err != nil {
		return nil, fmt.Errorf("grpc listen: %w", err)
	}
	ic := authgrpc.NewInterceptorConfig(authz,
		healthpb.Health_Check_FullMethodName,
		healthpb.Health_Watch_FullMethodName,
	)
	gs := grpc.NewServer(
		grpc.UnaryInterceptor(authgrpc.UnaryAuthInterceptor(ic)),
		grpc.StreamInterceptor(authgrpc.StreamAuthInterceptor(ic)),
	)
	healthpb.RegisterHealthServer(gs, health.NewServer())
	go func() {
		logger.Info("grpc listening", "addr", lis.Addr().String())
		if err := gs.Serve(lis); err != nil {
			errc <- err
		}
	}()
	return gs, nil
}

// sweepTokens periodically deletes tokens past the issuer's retention window
func sweepTokens(ctx context.Context, issuer *ta.TokenIssuer, every time.Duration, logger *slog.Logger) {
	if every <= 0 {
		return
	}
	ticker := time.NewTicker(every)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := issuer.PurgeExpiredTokens(ctx); err != nil {
				logger.Warn("token cleanup failed", "error", err)
			}
		}
	}
}
