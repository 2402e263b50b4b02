// Package bolt implements the catalog store on an embedded bbolt file. It is
// used when no database URL is configured.
package bolt

import (
	"context"
	"encoding/binary"
	"os"
	"path/filepath"
	"time"

	"github.com/go-faster/errors"
	"go.etcd.io/bbolt"

	"github.com/dulcetentacion/storefront/internal/domain/catalog"
)

var (
	bucketCategories    = []byte("categories")
	bucketCategoryNames = []byte("category_names")
	bucketProducts      = []byte("products")
	bucketPriceOptions  = []byte("price_options")

	allBuckets = [][]byte{bucketCategories, bucketCategoryNames, bucketProducts, bucketPriceOptions}
)

var (
	_ catalog.Repository = (*CatalogRepository)(nil)
	_ catalog.Restorer   = (*CatalogRepository)(nil)
)

// CatalogRepository implements catalog.Repository on a bbolt database. Every
// call outside InTx runs in its own transaction.
type CatalogRepository struct {
	db *bbolt.DB
}

// Open opens (creating when needed) the database file at path and makes sure
// every bucket exists.
func Open(path string) (*CatalogRepository, error) {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, errors.Wrap(err, "create data dir")
		}
	}

	db, err := bbolt.Open(path, 0o600, &bbolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, errors.Wrapf(err, "open %s", path)
	}

	err = db.Update(func(tx *bbolt.Tx) error {
		for _, name := range allBuckets {
			if _, err := tx.CreateBucketIfNotExists(name); err != nil {
				return errors.Wrapf(err, "create bucket %s", name)
			}
		}
		return nil
	})
	if err != nil {
		_ = db.Close()
		return nil, err
	}

	return &CatalogRepository{db: db}, nil
}

// Close releases the database file.
func (r *CatalogRepository) Close() error {
	return r.db.Close()
}

// Path returns the database file path.
func (r *CatalogRepository) Path() string {
	return r.db.Path()
}

// InTx runs fn in a read-write transaction that commits when fn returns nil.
func (r *CatalogRepository) InTx(ctx context.Context, fn func(q catalog.Queries) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return r.db.Update(func(tx *bbolt.Tx) error {
		return fn(&queries{tx: tx})
	})
}

// Ping checks the database file is open and readable.
func (r *CatalogRepository) Ping(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return r.db.View(func(tx *bbolt.Tx) error {
		if tx.Bucket(bucketProducts) == nil {
			return errors.New("products bucket missing")
		}
		return nil
	})
}

// Restore replaces every bucket with the snapshot content, keeping the
// snapshot identifiers. Bucket sequences continue after the largest id.
func (r *CatalogRepository) Restore(ctx context.Context, snap catalog.Snapshot) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return r.db.Update(func(tx *bbolt.Tx) error {
		for _, name := range allBuckets {
			if err := tx.DeleteBucket(name); err != nil && !errors.Is(err, bbolt.ErrBucketNotFound) {
				return errors.Wrapf(err, "drop bucket %s", name)
			}
			if _, err := tx.CreateBucket(name); err != nil {
				return errors.Wrapf(err, "create bucket %s", name)
			}
		}

		q := &queries{tx: tx}
		for _, c := range snap.Categories {
			if err := q.putCategory(categoryRecord{ID: c.ID, Name: c.Name}); err != nil {
				return err
			}
		}
		for _, p := range snap.Products {
			if err := q.put(bucketProducts, p.ID, productRecordOf(p)); err != nil {
				return err
			}
		}
		for _, o := range snap.PriceOptions {
			if err := q.put(bucketPriceOptions, o.ID, optionRecordOf(o)); err != nil {
				return err
			}
		}
		return nil
	})
}

// view runs fn in a read-only transaction.
func (r *CatalogRepository) view(ctx context.Context, fn func(q *queries) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return r.db.View(func(tx *bbolt.Tx) error {
		return fn(&queries{tx: tx})
	})
}

// update runs fn in a read-write transaction.
func (r *CatalogRepository) update(ctx context.Context, fn func(q *queries) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return r.db.Update(func(tx *bbolt.Tx) error {
		return fn(&queries{tx: tx})
	})
}

type categoryRecord struct {
	ID   int64  `json:"id"`
	Name string `json:"name"`
}

type productRecord struct {
	ID          int64  `json:"id"`
	CategoryID  *int64 `json:"category_id,omitempty"`
	Name        string `json:"name"`
	Description string `json:"description"`
	Image       string `json:"image"`
}

type optionRecord struct {
	ID        int64  `json:"id"`
	ProductID int64  `json:"product_id"`
	Label     string `json:"option_name"`
	Price     int64  `json:"price"`
}

func productRecordOf(p catalog.Product) productRecord {
	return productRecord{
		ID:          p.ID,
		CategoryID:  p.CategoryID,
		Name:        p.Name,
		Description: p.Description,
		Image:       p.Image,
	}
}

func (p productRecord) product() catalog.Product {
	return catalog.Product{
		ID:          p.ID,
		CategoryID:  p.CategoryID,
		Name:        p.Name,
		Description: p.Description,
		Image:       p.Image,
	}
}

func optionRecordOf(o catalog.PriceOption) optionRecord {
	return optionRecord{ID: o.ID, ProductID: o.ProductID, Label: o.Label, Price: o.Price}
}

func (o optionRecord) option() catalog.PriceOption {
	return catalog.PriceOption{ID: o.ID, ProductID: o.ProductID, Label: o.Label, Price: o.Price}
}

// key encodes ids big-endian so cursor order is id order.
func key(id int64) []byte {
	b := make([]byte, 8)
	binary.BigEndian.PutUint64(b, uint64(id))
	return b
}

func keyID(k []byte) int64 {
	return int64(binary.BigEndian.Uint64(k))
}
