package app

import (
	"context"
	"net/http"

	"github.com/go-faster/errors"
	"go.uber.org/zap"

	"github.com/dulcetentacion/storefront/internal/domain/catalog"
	"github.com/dulcetentacion/storefront/internal/domain/image"
	"github.com/dulcetentacion/storefront/internal/storage/bolt"
	"github.com/dulcetentacion/storefront/internal/storage/cloudinary"
	"github.com/dulcetentacion/storefront/internal/storage/localfs"
	"github.com/dulcetentacion/storefront/internal/storage/postgres"
)

// CatalogStore is a catalog store that also supports whole-catalog restore.
type CatalogStore interface {
	catalog.Repository
	catalog.Restorer
}

// ImageBackend is an image store that can enumerate its objects.
type ImageBackend interface {
	image.Store
	image.Inventory
}

// OpenCatalog opens the catalog store selected by cfg and creates its
// schema. The returned func releases it.
func OpenCatalog(ctx context.Context, lg *zap.Logger, cfg *Config) (CatalogStore, func(), error) {
	switch cfg.Backend() {
	case BackendPostgres:
		pool, err := postgres.NewPool(ctx, cfg.DatabaseURL)
		if err != nil {
			return nil, nil, errors.Wrap(err, "create db pool")
		}
		if err := postgres.RunMigrations(ctx, pool); err != nil {
			pool.Close()
			return nil, nil, errors.Wrap(err, "run migrations")
		}
		lg.Info("Catalog store ready", zap.String("backend", BackendPostgres))
		return postgres.NewCatalogRepository(pool), pool.Close, nil
	default:
		repo, err := bolt.Open(cfg.DataFile)
		if err != nil {
			return nil, nil, errors.Wrap(err, "open data file")
		}
		lg.Info("Catalog store ready",
			zap.String("backend", BackendBolt),
			zap.String("path", repo.Path()),
		)
		return repo, func() {
			if err := repo.Close(); err != nil {
				lg.Warn("Close data file", zap.Error(err))
			}
		}, nil
	}
}

// Images is the configured image backend. Uploads and Dir are set for the
// local directory backend only.
type Images struct {
	Backend ImageBackend
	Uploads http.Handler
	Dir     string
	Name    string
}

// OpenImages creates the image backend selected by cfg.
func OpenImages(lg *zap.Logger, cfg *Config) (*Images, error) {
	if c := cfg.Images.Cloudinary; c.Enabled() {
		store, err := cloudinary.New(cloudinary.Config{
			CloudName: c.CloudName,
			APIKey:    c.APIKey,
			APISecret: c.APISecret,
			Folder:    c.Folder,
		})
		if err != nil {
			return nil, errors.Wrap(err, "create cloudinary store")
		}
		lg.Info("Image store ready",
			zap.String("backend", "cloudinary"),
			zap.String("folder", store.Folder()),
		)
		return &Images{Backend: store, Name: "cloudinary"}, nil
	}

	store, err := localfs.New(cfg.Images.Dir, cfg.Images.URLPrefix)
	if err != nil {
		return nil, errors.Wrap(err, "create local image store")
	}
	lg.Info("Image store ready",
		zap.String("backend", "local"),
		zap.String("dir", store.Dir()),
	)
	return &Images{
		Backend: store,
		Uploads: store.Handler(),
		Dir:     store.Dir(),
		Name:    "local",
	}, nil
}

// Guarded wraps the backend with the upload policy from cfg.
func (i *Images) Guarded(cfg *Config) image.Store {
	return image.Guard(i.Backend, image.Limits{
		MaxBytes:    cfg.Images.MaxBytes,
		Placeholder: cfg.Images.Placeholder,
	})
}
