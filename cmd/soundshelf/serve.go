package main

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/justestif/soundshelf/internal/auth"
	"github.com/justestif/soundshelf/internal/config"
	"github.com/justestif/soundshelf/internal/db"
	"github.com/justestif/soundshelf/internal/ingest"
	"github.com/justestif/soundshelf/internal/logging/audit"
	"github.com/justestif/soundshelf/internal/metrics"
	"github.com/justestif/soundshelf/internal/quota"
	"github.com/justestif/soundshelf/internal/retry"
	"github.com/justestif/soundshelf/internal/sharing"
	"github.com/justestif/soundshelf/internal/storage"
	"github.com/justestif/soundshelf/internal/transcode"
	"github.com/justestif/soundshelf/internal/web"
)

// catalogStore is satisfied by both the PostgreSQL and in-memory catalogs.
type catalogStore interface {
	ingest.Catalog
	sharing.Catalog
}

type userStore interface {
	quota.Store
	web.UserProvisioner
}

func newServeCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP server",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, logger, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			server, cleanup, err := buildServer(cmd.Context(), cfg, logger)
			if err != nil {
				return err
			}
			defer cleanup()
			return server.Run()
		},
	}
}

// buildServer wires the stores, pipelines and HTTP server from cfg.
func buildServer(ctx context.Context, cfg *config.Config, logger zerolog.Logger) (*web.Server, func(), error) {
	m := metrics.Init(nil)
	cleanup := func() {}

	var (
		users   userStore
		catalog catalogStore
		codes   sharing.ShareCodes
		health  func(context.Context) error
	)
	if cfg.MemoryCatalog() {
		logger.Warn().Msg("no database_url configured, using the in-memory catalog")
		mem := db.NewMemory()
		users, catalog, codes = mem.Users(), mem.Catalog(), mem.ShareCodes()
	} else {
		database, err := db.New(ctx, cfg.DatabaseURL)
		if err != nil {
			return nil, nil, fmt.Errorf("connecting to database: %w", err)
		}
		users, catalog, codes = database.Users(), database.Catalog(), database.ShareCodes()
		health = database.Ping
		cleanup = database.Close
	}

	var objects storage.Store
	if cfg.MemoryStorage() {
		logger.Warn().Msg("no storage endpoint configured, using the in-memory object store")
		objects = storage.NewMemoryStore()
	} else {
		minioStore, err := storage.NewMinioStore(ctx, storage.MinioConfig{
			Endpoint:  cfg.Storage.Endpoint,
			AccessKey: cfg.Storage.AccessKey,
			SecretKey: cfg.Storage.SecretKey,
			Bucket:    cfg.Storage.Bucket,
			Region:    cfg.Storage.Region,
			UseSSL:    cfg.Storage.UseSSL,
		})
		if err != nil {
			cleanup()
			return nil, nil, err
		}
		objects = minioStore
	}
	objects = storage.NewRetryingStore(objects, retry.DefaultPolicy, m)

	resolver := storage.NewResolver(cfg.Storage.Bucket, cfg.Storage.PublicBaseURL, cfg.Storage.TokenBaseURL)
	ledger := quota.NewLedger(users, quota.WithLimit(cfg.Quota.LimitBytes), quota.WithMetrics(m))

	encoder := transcode.New(
		transcode.WithBinary(cfg.Transcode.Binary),
		transcode.WithScratchDir(cfg.Transcode.ScratchDir),
		transcode.WithTimeout(cfg.Transcode.TimeoutValue),
		transcode.WithMetrics(m),
	)
	pool := transcode.NewPool(cfg.Transcode.Workers, m)

	coordinator := ingest.New(catalog, objects, ledger, encoder, pool, resolver,
		ingest.WithMaxFiles(cfg.Transcode.MaxFiles),
		ingest.WithLogger(logger.With().Str("component", "ingest").Logger()),
		ingest.WithMetrics(m),
	)

	cascade := sharing.New(catalog, codes, objects, resolver,
		sharing.WithWorkers(cfg.Sharing.Workers),
		sharing.WithLogger(logger.With().Str("component", "sharing").Logger()),
		sharing.WithAudit(audit.NewLogger(logger)),
		sharing.WithMetrics(m),
	)

	verifier, err := auth.NewVerifier(cfg.Auth.JWTSecret, cfg.Auth.Issuer)
	if err != nil {
		cleanup()
		return nil, nil, err
	}

	server, err := web.NewServer(web.ServerConfig{
		Addr:           cfg.Addr,
		MaxUploadBytes: cfg.Transcode.MaxUploadBytes,
		Logger:         logger,
	}, web.Deps{
		Uploads:  coordinator,
		Sharing:  cascade,
		Users:    users,
		Verifier: verifier,
		Health:   health,
	})
	if err != nil {
		cleanup()
		return nil, nil, fmt.Errorf("creating server: %w", err)
	}

	logger.Info().
		Int64("quota_limit_bytes", cfg.Quota.LimitBytes).
		Int("transcode_workers", pool.Size()).
		Int("max_files", cfg.Transcode.MaxFiles).
		Msg("soundshelf configured")
	return server, cleanup, nil
}
