// Command vaultserver runs a single worker process of the server
// reconciliation and versioning core: content storage, metadata, conflict
// detection, and the HTTP API that fronts them.
package main

import (
	"context"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"github.com/vaultsync/vaultsync/internal/apiserver"
	"github.com/vaultsync/vaultsync/internal/chunkassembler"
	"github.com/vaultsync/vaultsync/internal/conflict"
	"github.com/vaultsync/vaultsync/internal/config"
	"github.com/vaultsync/vaultsync/internal/content"
	"github.com/vaultsync/vaultsync/internal/logging"
	"github.com/vaultsync/vaultsync/internal/metadata"
)

func main() {
	configPath := flag.String("config", "", "path to server config YAML (optional; env vars take precedence)")
	flag.Parse()

	cfg, err := config.LoadServerConfig(*configPath)
	if err != nil {
		panic(err)
	}

	log := logging.New(logging.Options{Component: "vaultserver", Level: cfg.LogLevel})
	log.Info().Str("host", cfg.Host).Int("port", cfg.Port).Str("storage_root", cfg.Storage.Root).Msg("starting")

	contentStore, err := content.New(cfg.Storage.FilesDir, cfg.Storage.VersionsDir)
	if err != nil {
		log.Fatal().Err(err).Msg("initializing content store")
	}

	metaStore, err := metadata.NewAt(filepath.Join(cfg.Storage.MetadataDir, "files"), cfg.Storage.ConflictsDir)
	if err != nil {
		log.Fatal().Err(err).Msg("initializing metadata store")
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if cfg.Archive.Enabled {
		archiver, err := content.NewArchiver(content.ArchiveConfig{
			StorageAccount:     cfg.Archive.StorageAccount,
			Container:          cfg.Archive.Container,
			ConnectionString:   cfg.Archive.ConnectionString,
			SASToken:           cfg.Archive.SASToken,
			UseManagedIdentity: cfg.Archive.UseManagedIdentity,
			TenantID:           cfg.Archive.TenantID,
			ClientID:           cfg.Archive.ClientID,
			ClientSecret:       cfg.Archive.ClientSecret,
		})
		if err != nil {
			log.Error().Err(err).Msg("archive tier disabled: initialization failed")
		} else {
			contentStore.AttachArchiver(archiver, cfg.Archive.MaxAgeForLocalVersions, cfg.Archive.MaxLocalVersionsPerFile)
			log.Info().Dur("interval", cfg.Archive.SweepInterval).Msg("cold-storage archive tier attached")
			go runSweepLoop(ctx, log, contentStore, metaStore, cfg.Archive.SweepInterval)
		}
	}

	chunkAssembler, err := chunkassembler.New(cfg.Storage.ChunksDir, contentStore, metaStore)
	if err != nil {
		log.Fatal().Err(err).Msg("initializing chunk assembler")
	}

	conflictEngine := conflict.New(contentStore, metaStore, config.SyncInterval)

	srv := apiserver.New(cfg.Host, cfg.Port, apiserver.Deps{
		Content:  contentStore,
		Meta:     metaStore,
		Chunks:   chunkAssembler,
		Conflict: conflictEngine,
		Log:      log,
	})

	go func() {
		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
		<-sigCh
		log.Info().Msg("shutdown signal received")
		cancel()

		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer shutdownCancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			log.Error().Err(err).Msg("error during shutdown")
		}
	}()

	log.Info().Msg("worker listening")
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		log.Fatal().Err(err).Msg("server error")
	}
	log.Info().Msg("worker stopped")
}

// runSweepLoop periodically archives and prunes version blobs beyond the
// configured per-file cap until ctx is canceled. Every worker sharing the
// storage root runs its own loop; Sweep is safe to call redundantly since
// it only ever removes blobs already copied to the archive tier.
func runSweepLoop(ctx context.Context, log zerolog.Logger, contentStore *content.Store, metaStore *metadata.Store, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			err := contentStore.SweepAll(ctx, func(name string) (int, bool) {
				latest, err := metaStore.GetLatest(name)
				if err != nil || latest == nil {
					return 0, false
				}
				return latest.Version, true
			})
			if err != nil {
				log.Error().Err(err).Msg("archive sweep encountered errors")
			}
		}
	}
}
