package cmd

import (
	"context"
	"fmt"

	gcsclient "cloud.google.com/go/storage"
	"go.uber.org/zap"

	"github.com/nokosaaan/fanart-viewer/internal/archive"
	archivegcs "github.com/nokosaaan/fanart-viewer/internal/archive/gcs"
	archivelocal "github.com/nokosaaan/fanart-viewer/internal/archive/local"
	"github.com/nokosaaan/fanart-viewer/internal/catalog"
	"github.com/nokosaaan/fanart-viewer/internal/catalog/memory"
	"github.com/nokosaaan/fanart-viewer/internal/catalog/postgres"
	"github.com/nokosaaan/fanart-viewer/internal/config"
	"github.com/nokosaaan/fanart-viewer/internal/importer"
	"github.com/nokosaaan/fanart-viewer/internal/metrics"
	"github.com/nokosaaan/fanart-viewer/internal/publish"
	pubsubpublisher "github.com/nokosaaan/fanart-viewer/internal/publish/pubsub"
	"github.com/nokosaaan/fanart-viewer/internal/resolve"
)

// services bundles the wired application components shared by commands.
type services struct {
	cfg      config.Config
	logger   *zap.Logger
	svc      *catalog.Service
	items    catalog.ItemStore
	previews catalog.PreviewStore
	legacy   importer.LegacyPreviewWriter
	cleanup  func()
}

// buildServices wires stores, resolver, publisher and archive from config.
// An empty db.dsn selects the in-memory store.
func buildServices(ctx context.Context, cfg config.Config, logger *zap.Logger) (*services, error) {
	metrics.Init()

	var (
		items    catalog.ItemStore
		previews catalog.PreviewStore
		legacy   importer.LegacyPreviewWriter
		closers  []func()
	)
	if cfg.DB.DSN != "" {
		store, err := postgres.NewStore(ctx, cfg.DB.DSN, logger.Named("db"))
		if err != nil {
			return nil, fmt.Errorf("connect database: %w", err)
		}
		closers = append(closers, store.Close)
		items, previews, legacy = store, store, store
	} else {
		logger.Info("db.dsn not set, using in-memory store")
		store := memory.NewStore()
		items, previews, legacy = store, store, store
	}

	resolver := buildResolver(cfg, logger)

	var opts []catalog.ServiceOption
	if cfg.Publisher.Topic != "" {
		pub, err := pubsubpublisher.New(ctx, cfg.Publisher.ProjectID, cfg.Publisher.Topic)
		if err != nil {
			return nil, fmt.Errorf("init publisher: %w", err)
		}
		closers = append(closers, func() {
			if err := pub.Close(); err != nil {
				logger.Warn("publisher close failed", zap.Error(err))
			}
		})
		opts = append(opts, catalog.WithPublisher(pub, cfg.Publisher.Topic))
	}

	blobs, blobCloser, err := buildArchive(ctx, cfg, logger)
	if err != nil {
		return nil, err
	}
	if blobCloser != nil {
		closers = append(closers, blobCloser)
	}
	opts = append(opts, catalog.WithArchive(blobs))

	svc := catalog.NewService(items, previews, resolver, logger.Named("catalog"), opts...)

	cleanup := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}
	return &services{
		cfg:      cfg,
		logger:   logger,
		svc:      svc,
		items:    items,
		previews: previews,
		legacy:   legacy,
		cleanup:  cleanup,
	}, nil
}

func buildResolver(cfg config.Config, logger *zap.Logger) *resolve.Resolver {
	fetcher := resolve.NewImageFetcher(cfg.FetchTimeout(), logger.Named("fetch"))
	direct := resolve.NewDirectStrategy(fetcher, logger.Named("direct"))
	twitter := resolve.NewTwitterAggregator(cfg.FetchTimeout(), cfg.Twitter.NitterBase, logger.Named("twitter"))
	scrape := resolve.NewScrapeStrategy(cfg.FetchTimeout(), fetcher, twitter, logger.Named("scrape"))
	api := resolve.NewAPIStrategy(cfg.Twitter.BearerToken, cfg.Twitter.Debug, fetcher, resolve.NewResponseCache(), logger.Named("api"))
	rendered := resolve.NewRenderedStrategy(resolve.RenderedConfig{
		Enabled:       cfg.Headless.Enabled,
		NavTimeout:    cfg.NavTimeout(),
		HostQPS:       cfg.Headless.HostQPS,
		PixivUsername: cfg.Pixiv.Username,
		PixivPassword: cfg.Pixiv.Password,
	}, fetcher, logger.Named("rendered"))
	return resolve.NewResolver(direct, scrape, api, rendered, logger.Named("resolver"))
}

func buildArchive(ctx context.Context, cfg config.Config, logger *zap.Logger) (archive.BlobStore, func(), error) {
	if !cfg.Archive.Enabled {
		return archive.NopStore{}, nil, nil
	}
	if cfg.Archive.GCSBucket != "" {
		client, err := gcsclient.NewClient(ctx)
		if err != nil {
			return nil, nil, fmt.Errorf("init gcs client: %w", err)
		}
		store, err := archivegcs.New(client, archivegcs.Config{Bucket: cfg.Archive.GCSBucket})
		if err != nil {
			return nil, nil, fmt.Errorf("init gcs archive: %w", err)
		}
		closer := func() {
			if err := client.Close(); err != nil {
				logger.Warn("gcs client close failed", zap.Error(err))
			}
		}
		return store, closer, nil
	}
	store, err := archivelocal.New(archivelocal.Config{BaseDir: cfg.Archive.Dir})
	if err != nil {
		return nil, nil, fmt.Errorf("init local archive: %w", err)
	}
	return store, nil, nil
}

var _ publish.Publisher = (*pubsubpublisher.Publisher)(nil)
