package catalog

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
	"go.uber.org/zap"

	"github.com/dulcetentacion/storefront/internal/domain/image"
)

// AddProductRequest holds the input of the admin add action.
type AddProductRequest struct {
	CategoryID  *int64
	Name        string
	Description string
	Price       int64
	Image       *image.Upload
}

// AddProductResult holds the stored product and its price option. ImageErr
// is set when an upload was supplied but could not be stored and the
// placeholder was used instead.
type AddProductResult struct {
	Product  *Product
	Option   *PriceOption
	ImageErr error
}

// EditProductRequest holds the input of the admin edit action. A nil Image
// keeps the current product image.
type EditProductRequest struct {
	ID          int64
	Name        string
	Description string
	Price       int64
	Image       *image.Upload
}

// EditProductResult holds the product after the edit.
type EditProductResult struct {
	Product  *Product
	ImageErr error
}

// Options configures a Service.
type Options struct {
	// Placeholder is the image reference used when no stored image is
	// available. Defaults to image.Placeholder.
	Placeholder string
	Logger      *zap.Logger
	Meter       metric.Meter
}

// Service orchestrates the catalog store and the image store for the admin
// actions and the public read views.
type Service struct {
	repo        Repository
	images      image.Store
	placeholder string
	lg          *zap.Logger

	actions   metric.Int64Counter
	fallbacks metric.Int64Counter
}

// NewService creates a catalog Service.
func NewService(repo Repository, images image.Store, opts Options) (*Service, error) {
	if opts.Placeholder == "" {
		opts.Placeholder = image.Placeholder
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if opts.Meter == nil {
		opts.Meter = noop.NewMeterProvider().Meter("catalog")
	}

	actions, err := opts.Meter.Int64Counter("catalog.admin.actions",
		metric.WithDescription("Completed admin catalog actions"),
	)
	if err != nil {
		return nil, fmt.Errorf("create actions counter: %w", err)
	}
	fallbacks, err := opts.Meter.Int64Counter("catalog.image.fallbacks",
		metric.WithDescription("Uploads replaced by the placeholder image"),
	)
	if err != nil {
		return nil, fmt.Errorf("create fallbacks counter: %w", err)
	}

	return &Service{
		repo:        repo,
		images:      images,
		placeholder: opts.Placeholder,
		lg:          opts.Logger,
		actions:     actions,
		fallbacks:   fallbacks,
	}, nil
}

// Placeholder returns the placeholder image reference.
func (s *Service) Placeholder() string {
	return s.placeholder
}

// ParsePrice parses a price form value in minor currency units.
func ParsePrice(raw string) (int64, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return 0, &ValidationError{Field: "precio", Reason: "required"}
	}
	price, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return 0, &ValidationError{Field: "precio", Reason: "must be a whole number"}
	}
	if price < 0 {
		return 0, &ValidationError{Field: "precio", Reason: "must not be negative"}
	}
	return price, nil
}

func validateProduct(name string, price int64) error {
	if strings.TrimSpace(name) == "" {
		return &ValidationError{Field: "nombre", Reason: "required"}
	}
	if price < 0 {
		return &ValidationError{Field: "precio", Reason: "must not be negative"}
	}
	return nil
}

// imageIDs returns the ids of the stored images referenced by every product
// except skip.
func (s *Service) imageIDs(ctx context.Context, skip int64) (map[string]struct{}, error) {
	prods, err := s.repo.ListProducts(ctx)
	if err != nil {
		return nil, fmt.Errorf("list products: %w", err)
	}
	ids := make(map[string]struct{}, len(prods))
	for _, p := range prods {
		if p.ID == skip || p.Image == "" || p.Image == s.placeholder {
			continue
		}
		if id := image.RefID(p.Image); id != "" {
			ids[id] = struct{}{}
		}
	}
	return ids, nil
}

// storeImage stores up under the slug of name, suffixed when the slug is in
// taken. Any failure is logged and reported, never returned as a fatal
// error: the caller falls back.
func (s *Service) storeImage(ctx context.Context, name string, up *image.Upload, taken map[string]struct{}) (string, error) {
	ref, err := s.images.Put(ctx, *up, image.UniqueID(image.Slug(name), taken))
	if err != nil {
		s.lg.Warn("Image upload failed, using placeholder",
			zap.String("product", name),
			zap.String("filename", up.Filename),
			zap.Error(err),
		)
		s.fallbacks.Add(ctx, 1)
		return "", err
	}
	return ref, nil
}

// AddProduct validates the request, stores the image (falling back to the
// placeholder) and creates the product and its price option atomically.
func (s *Service) AddProduct(ctx context.Context, req AddProductRequest) (*AddProductResult, error) {
	name := strings.TrimSpace(req.Name)
	if err := validateProduct(name, req.Price); err != nil {
		return nil, err
	}

	result := &AddProductResult{}
	ref := s.placeholder
	if req.Image != nil {
		taken, err := s.imageIDs(ctx, 0)
		if err != nil {
			return nil, err
		}
		stored, err := s.storeImage(ctx, name, req.Image, taken)
		if err != nil {
			result.ImageErr = err
		} else {
			ref = stored
		}
	}

	p := Product{
		CategoryID:  req.CategoryID,
		Name:        name,
		Description: strings.TrimSpace(req.Description),
		Image:       ref,
	}
	opt := PriceOption{Label: DefaultOptionLabel, Price: req.Price}

	err := s.repo.InTx(ctx, func(q Queries) error {
		id, err := q.CreateProduct(ctx, NewProduct{
			CategoryID:  p.CategoryID,
			Name:        p.Name,
			Description: p.Description,
			Image:       p.Image,
		})
		if err != nil {
			return fmt.Errorf("create product: %w", err)
		}
		p.ID = id

		optID, err := q.CreatePriceOption(ctx, id, opt.Label, opt.Price)
		if err != nil {
			return fmt.Errorf("create price option: %w", err)
		}
		opt.ID = optID
		opt.ProductID = id
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.actions.Add(ctx, 1, metric.WithAttributes(attribute.String("action", "add")))
	result.Product = &p
	result.Option = &opt
	return result, nil
}

// EditProduct updates name, description and price of an existing product.
// The image is replaced only when a new upload is stored successfully;
// because the identifier derives from the product name, the new object
// overwrites the previous one when the name is unchanged. A product without
// a price option gets one.
func (s *Service) EditProduct(ctx context.Context, req EditProductRequest) (*EditProductResult, error) {
	name := strings.TrimSpace(req.Name)
	if err := validateProduct(name, req.Price); err != nil {
		return nil, err
	}

	current, err := s.repo.GetProduct(ctx, req.ID)
	if err != nil {
		return nil, fmt.Errorf("get product: %w", err)
	}

	result := &EditProductResult{}
	upd := ProductUpdate{
		Name:        name,
		Description: strings.TrimSpace(req.Description),
	}
	if req.Image != nil {
		taken, err := s.imageIDs(ctx, req.ID)
		if err != nil {
			return nil, err
		}
		ref, err := s.storeImage(ctx, name, req.Image, taken)
		if err != nil {
			result.ImageErr = err
		} else {
			upd.Image = &ref
		}
	}

	err = s.repo.InTx(ctx, func(q Queries) error {
		if err := q.UpdateProduct(ctx, req.ID, upd); err != nil {
			return fmt.Errorf("update product: %w", err)
		}
		if err := q.UpdatePrice(ctx, req.ID, req.Price); err != nil {
			return fmt.Errorf("update price: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	// The new object replaced the old one in place unless the id changed.
	if upd.Image != nil && image.RefID(*upd.Image) != image.RefID(current.Image) {
		s.releaseImage(ctx, req.ID, current.Image)
	}

	updated := *current
	updated.Name = upd.Name
	updated.Description = upd.Description
	if upd.Image != nil {
		updated.Image = *upd.Image
	}

	s.actions.Add(ctx, 1, metric.WithAttributes(attribute.String("action", "edit")))
	result.Product = &updated
	return result, nil
}

// DeleteProduct releases the product image and removes the product and its
// price options. Image deletion failures do not block the row removal. An
// image another product still references is kept.
func (s *Service) DeleteProduct(ctx context.Context, id int64) error {
	p, err := s.repo.GetProduct(ctx, id)
	if err != nil {
		return fmt.Errorf("get product: %w", err)
	}

	s.releaseImage(ctx, id, p.Image)

	err = s.repo.InTx(ctx, func(q Queries) error {
		return q.DeleteProduct(ctx, id)
	})
	if err != nil {
		return fmt.Errorf("delete product: %w", err)
	}

	s.actions.Add(ctx, 1, metric.WithAttributes(attribute.String("action", "delete")))
	return nil
}

// releaseImage deletes ref unless it is the placeholder or a product other
// than owner references the same image id.
func (s *Service) releaseImage(ctx context.Context, owner int64, ref string) {
	if ref == "" || ref == s.placeholder {
		return
	}
	ids, err := s.imageIDs(ctx, owner)
	if err != nil {
		s.lg.Warn("Image ownership check failed, leaving orphan",
			zap.String("image", ref),
			zap.Error(err),
		)
		return
	}
	if _, shared := ids[image.RefID(ref)]; shared {
		s.lg.Debug("Image still referenced, keeping", zap.String("image", ref))
		return
	}
	if err := s.images.Delete(ctx, ref); err != nil {
		s.lg.Warn("Image delete failed, leaving orphan",
			zap.String("image", ref),
			zap.Error(err),
		)
	}
}
