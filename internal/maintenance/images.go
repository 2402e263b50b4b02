package maintenance

import (
	"context"
	"sort"
	"strings"

	"github.com/go-faster/errors"
	"go.uber.org/multierr"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/dulcetentacion/storefront/internal/domain/catalog"
	"github.com/dulcetentacion/storefront/internal/domain/image"
)

// ImageStatus classifies the image reference of a product.
type ImageStatus string

const (
	StatusStored      ImageStatus = "stored"
	StatusPlaceholder ImageStatus = "placeholder"
	StatusExternal    ImageStatus = "external"
	StatusMissing     ImageStatus = "missing"
	StatusDangling    ImageStatus = "dangling"
	StatusInvalid     ImageStatus = "invalid"
)

// Broken reports whether the product shows no usable image.
func (s ImageStatus) Broken() bool {
	switch s {
	case StatusMissing, StatusDangling, StatusInvalid:
		return true
	default:
		return false
	}
}

// ImageBackend is an image store that can enumerate its objects.
type ImageBackend interface {
	image.Store
	image.Inventory
}

// Images runs the image chores against one catalog store and one image
// backend.
type Images struct {
	store       catalog.Repository
	backend     ImageBackend
	placeholder string
	lg          *zap.Logger
}

// NewImages creates an Images.
func NewImages(store catalog.Repository, backend ImageBackend, placeholder string, lg *zap.Logger) *Images {
	if placeholder == "" {
		placeholder = image.Placeholder
	}
	if lg == nil {
		lg = zap.NewNop()
	}
	return &Images{store: store, backend: backend, placeholder: placeholder, lg: lg}
}

// scan fetches the products and the stored assets concurrently.
func (m *Images) scan(ctx context.Context) ([]catalog.Product, []image.Asset, error) {
	var (
		products []catalog.Product
		assets   []image.Asset
	)
	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		products, err = m.store.ListProducts(ctx)
		return errors.Wrap(err, "list products")
	})
	g.Go(func() error {
		var err error
		assets, err = m.backend.List(ctx)
		return errors.Wrap(err, "list images")
	})
	if err := g.Wait(); err != nil {
		return nil, nil, err
	}
	return products, assets, nil
}

// Classify returns the status of ref given the ids of the stored assets.
func (m *Images) Classify(ref string, stored map[string]struct{}) ImageStatus {
	ref = strings.TrimSpace(ref)
	switch {
	case ref == "":
		return StatusMissing
	case ref == m.placeholder || strings.Contains(strings.ToLower(ref), "placeholder"):
		return StatusPlaceholder
	}
	if id, ok := m.backend.Resolve(ref); ok {
		if _, found := stored[id]; found {
			return StatusStored
		}
		return StatusDangling
	}
	if strings.HasPrefix(ref, "http://") || strings.HasPrefix(ref, "https://") {
		return StatusExternal
	}
	return StatusInvalid
}

func assetIDs(assets []image.Asset) map[string]struct{} {
	ids := make(map[string]struct{}, len(assets))
	for _, a := range assets {
		ids[a.ID] = struct{}{}
	}
	return ids
}

// Orphans returns the stored assets no product references, ordered by id.
func (m *Images) Orphans(ctx context.Context) ([]image.Asset, error) {
	products, assets, err := m.scan(ctx)
	if err != nil {
		return nil, err
	}

	used := make(map[string]struct{}, len(products))
	for _, p := range products {
		if id, ok := m.backend.Resolve(p.Image); ok {
			used[id] = struct{}{}
		}
	}

	var orphans []image.Asset
	for _, a := range assets {
		if _, ok := used[a.ID]; !ok {
			orphans = append(orphans, a)
		}
	}
	sort.Slice(orphans, func(i, j int) bool { return orphans[i].ID < orphans[j].ID })
	return orphans, nil
}

// DeleteAssets removes the given assets and returns how many were deleted.
// It keeps going after a failure and reports the failures joined.
func (m *Images) DeleteAssets(ctx context.Context, assets []image.Asset) (int, error) {
	var (
		deleted int
		errs    error
	)
	for _, a := range assets {
		if err := ctx.Err(); err != nil {
			return deleted, err
		}
		if err := m.backend.Delete(ctx, a.Ref); err != nil {
			m.lg.Warn("Delete orphaned image", zap.String("id", a.ID), zap.Error(err))
			errs = multierr.Append(errs, errors.Wrapf(err, "delete %s", a.ID))
			continue
		}
		m.lg.Info("Deleted orphaned image", zap.String("id", a.ID))
		deleted++
	}
	return deleted, errs
}

// Repaired is a product whose image was reset to the placeholder.
type Repaired struct {
	Product  catalog.Product
	Status   ImageStatus
	Previous string
}

// Repair resets every broken product image to the placeholder in one
// transaction.
func (m *Images) Repair(ctx context.Context) ([]Repaired, error) {
	products, assets, err := m.scan(ctx)
	if err != nil {
		return nil, err
	}
	stored := assetIDs(assets)

	var fixed []Repaired
	for _, p := range products {
		if st := m.Classify(p.Image, stored); st.Broken() {
			fixed = append(fixed, Repaired{Product: p, Status: st, Previous: p.Image})
		}
	}
	if len(fixed) == 0 {
		return nil, nil
	}

	placeholder := m.placeholder
	err = m.store.InTx(ctx, func(q catalog.Queries) error {
		for i, r := range fixed {
			err := q.UpdateProduct(ctx, r.Product.ID, catalog.ProductUpdate{
				Name:        r.Product.Name,
				Description: r.Product.Description,
				Image:       &placeholder,
			})
			if err != nil {
				return errors.Wrapf(err, "update product %d", r.Product.ID)
			}
			fixed[i].Product.Image = placeholder
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	for _, r := range fixed {
		m.lg.Info("Reset product image",
			zap.Int64("product_id", r.Product.ID),
			zap.String("status", string(r.Status)),
			zap.String("previous", r.Previous),
		)
	}
	return fixed, nil
}

// ProductImage is the diagnosed image state of one product.
type ProductImage struct {
	ID     int64
	Name   string
	Image  string
	Status ImageStatus
}

// Diagnosis summarizes the image state of the catalog.
type Diagnosis struct {
	Products    []ProductImage
	Counts      map[ImageStatus]int
	Broken      int
	StoredTotal int
	Orphans     int
}

// Diagnose classifies every product image.
func (m *Images) Diagnose(ctx context.Context) (*Diagnosis, error) {
	products, assets, err := m.scan(ctx)
	if err != nil {
		return nil, err
	}
	stored := assetIDs(assets)

	d := &Diagnosis{
		Counts:      make(map[ImageStatus]int),
		StoredTotal: len(assets),
	}
	used := make(map[string]struct{}, len(products))
	for _, p := range products {
		st := m.Classify(p.Image, stored)
		d.Products = append(d.Products, ProductImage{ID: p.ID, Name: p.Name, Image: p.Image, Status: st})
		d.Counts[st]++
		if st.Broken() {
			d.Broken++
		}
		if id, ok := m.backend.Resolve(p.Image); ok {
			used[id] = struct{}{}
		}
	}
	for id := range stored {
		if _, ok := used[id]; !ok {
			d.Orphans++
		}
	}
	return d, nil
}
