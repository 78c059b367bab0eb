package main

import (
	"context"
	"database/sql"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "github.com/lib/pq"
	"golang.org/x/sync/errgroup"

	"vface/internal/chain"
	"vface/internal/consent"
	"vface/internal/fingerprint"
	"vface/internal/keystore"
	"vface/internal/matcher"
	"vface/internal/platform/config"
	"vface/internal/platform/httpserver"
	"vface/internal/platform/logger"
	"vface/internal/platform/metrics"
	platformredis "vface/internal/platform/redis"
	"vface/internal/registry"
	httptransport "vface/internal/transport/http"
	txcontext "vface/pkg/platform/tx"
)

// main wires the stores, services, and HTTP surface, then runs the server
// under an errgroup so a fatal component failure tears everything down.
func main() {
	cfg := config.FromEnv()
	log := logger.New()

	if err := run(cfg, log); err != nil {
		log.Error("server exited", "error", err.Error())
		os.Exit(1)
	}
}

func run(cfg config.Server, log *slog.Logger) error {
	keys, err := keystore.LoadOrGenerate(cfg.KeystorePath)
	if err != nil {
		return err
	}
	keyring, err := keys.Keyring()
	if err != nil {
		return err
	}

	m := metrics.New()

	var (
		registryStore registry.Store
		nonceStore    registry.NonceStore
		chainStore    chain.Store
		consentStore  consent.Store
		serviceOpts   []registry.Option
	)

	if cfg.PostgresURL != "" {
		db, err := sql.Open("postgres", cfg.PostgresURL)
		if err != nil {
			return err
		}
		defer db.Close()
		if err := db.Ping(); err != nil {
			return err
		}
		registryStore = registry.NewPostgresStore(db)
		nonceStore = registry.NewPostgresNonceStore(db)
		chainStore = chain.NewPostgresStore(db)
		consentStore = consent.NewPostgresStore(db)
		serviceOpts = append(serviceOpts, registry.WithTxRunner(
			func(ctx context.Context, fn func(context.Context) error) error {
				return txcontext.Run(ctx, db, fn)
			},
		))
		log.Info("using postgres stores")
	} else {
		registryStore = registry.NewInMemoryStore()
		nonceStore = registry.NewInMemoryNonceStore()
		chainStore = chain.NewInMemoryStore()
		consentStore = consent.NewInMemoryStore()
		log.Warn("no postgres url configured, using in-memory stores")
	}

	// A Redis nonce store supersedes the database one so multi-instance
	// deployments share replay state.
	redisClient, err := platformredis.New(cfg.Redis)
	if err != nil {
		return err
	}
	if redisClient != nil {
		defer redisClient.Close()
		nonceStore = registry.NewRedisNonceStore(redisClient.Client)
		log.Info("using redis nonce store")
	}

	engine := chain.NewEngine(chainStore, keys.SigningKey(), cfg.GenesisSeed, m)
	deriver := fingerprint.NewDeriver(cfg.VectorDim)
	index := matcher.NewLinearScanner(registryStore, keyring, log, m)

	registryService := registry.NewService(
		registryStore, nonceStore, index, deriver, keyring, engine, log, m,
		registry.Config{
			SybilThreshold:  cfg.SybilThreshold,
			SearchThreshold: cfg.SimilarityThreshold,
			ProofWindow:     cfg.RevokeProofWindow,
			NonceTTL:        cfg.NonceTTL,
		},
		append(serviceOpts, registry.WithKeyRotator(keys))...,
	)

	consentService := consent.NewService(
		consentStore, registryService, consent.NewSigner(keys.SigningKey()),
		log, m, cfg.MaxConsentDuration,
	)

	router := httptransport.NewRouter(httptransport.RouterConfig{
		Registry:       registryService,
		Consent:        consentService,
		Chain:          engine,
		Logger:         log,
		InternalSecret: cfg.InternalSecret,
	})
	srv := httpserver.New(cfg.Addr, router)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	group, ctx := errgroup.WithContext(ctx)
	group.Go(func() error {
		log.Info("starting vface server",
			"addr", cfg.Addr,
			"vector_dim", cfg.VectorDim,
			"chain_public_key", engine.PublicKeyHex(),
		)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	group.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		log.Info("shutting down")
		return srv.Shutdown(shutdownCtx)
	})

	return group.Wait()
}
