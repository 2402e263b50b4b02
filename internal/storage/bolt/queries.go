package bolt

import (
	"context"
	"encoding/json"

	"github.com/go-faster/errors"
	"go.etcd.io/bbolt"

	"github.com/dulcetentacion/storefront/internal/domain/catalog"
)

// queries implements catalog.Queries inside one bbolt transaction.
type queries struct {
	tx *bbolt.Tx
}

func (q *queries) put(bucket []byte, id int64, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return errors.Wrapf(err, "encode %s/%d", bucket, id)
	}
	b := q.tx.Bucket(bucket)
	if err := b.Put(key(id), data); err != nil {
		return errors.Wrapf(err, "put %s/%d", bucket, id)
	}
	if uint64(id) > b.Sequence() {
		if err := b.SetSequence(uint64(id)); err != nil {
			return errors.Wrapf(err, "advance %s sequence", bucket)
		}
	}
	return nil
}

func (q *queries) get(bucket []byte, id int64, v any) (bool, error) {
	data := q.tx.Bucket(bucket).Get(key(id))
	if data == nil {
		return false, nil
	}
	if err := json.Unmarshal(data, v); err != nil {
		return false, errors.Wrapf(err, "decode %s/%d", bucket, id)
	}
	return true, nil
}

func (q *queries) nextID(bucket []byte) (int64, error) {
	seq, err := q.tx.Bucket(bucket).NextSequence()
	if err != nil {
		return 0, errors.Wrapf(err, "next %s id", bucket)
	}
	return int64(seq), nil
}

func (q *queries) putCategory(c categoryRecord) error {
	if err := q.put(bucketCategories, c.ID, c); err != nil {
		return err
	}
	if err := q.tx.Bucket(bucketCategoryNames).Put([]byte(c.Name), key(c.ID)); err != nil {
		return errors.Wrapf(err, "index category %q", c.Name)
	}
	return nil
}

func (q *queries) options() ([]optionRecord, error) {
	var out []optionRecord
	err := q.tx.Bucket(bucketPriceOptions).ForEach(func(k, v []byte) error {
		var o optionRecord
		if err := json.Unmarshal(v, &o); err != nil {
			return errors.Wrapf(err, "decode price option %d", keyID(k))
		}
		out = append(out, o)
		return nil
	})
	return out, err
}

// CreateCategory inserts a category and returns its id.
func (q *queries) CreateCategory(_ context.Context, name string) (int64, error) {
	if name == "" {
		return 0, &catalog.ValidationError{Field: "nombre", Reason: "required"}
	}
	if q.tx.Bucket(bucketCategoryNames).Get([]byte(name)) != nil {
		return 0, &catalog.DuplicateNameError{Name: name}
	}
	id, err := q.nextID(bucketCategories)
	if err != nil {
		return 0, err
	}
	if err := q.putCategory(categoryRecord{ID: id, Name: name}); err != nil {
		return 0, err
	}
	return id, nil
}

// CreateProduct inserts a product and returns its id.
func (q *queries) CreateProduct(_ context.Context, p catalog.NewProduct) (int64, error) {
	if p.CategoryID != nil && q.tx.Bucket(bucketCategories).Get(key(*p.CategoryID)) == nil {
		return 0, catalog.ErrCategoryNotFound
	}
	id, err := q.nextID(bucketProducts)
	if err != nil {
		return 0, err
	}
	rec := productRecord{
		ID:          id,
		CategoryID:  p.CategoryID,
		Name:        p.Name,
		Description: p.Description,
		Image:       p.Image,
	}
	if err := q.put(bucketProducts, id, rec); err != nil {
		return 0, err
	}
	return id, nil
}

// CreatePriceOption inserts a price option and returns its id.
func (q *queries) CreatePriceOption(_ context.Context, productID int64, label string, price int64) (int64, error) {
	if q.tx.Bucket(bucketProducts).Get(key(productID)) == nil {
		return 0, catalog.ErrNotFound
	}
	id, err := q.nextID(bucketPriceOptions)
	if err != nil {
		return 0, err
	}
	rec := optionRecord{ID: id, ProductID: productID, Label: label, Price: price}
	if err := q.put(bucketPriceOptions, id, rec); err != nil {
		return 0, err
	}
	return id, nil
}

// UpdateProduct updates name and description, and the image when upd.Image
// is set.
func (q *queries) UpdateProduct(_ context.Context, id int64, upd catalog.ProductUpdate) error {
	var rec productRecord
	ok, err := q.get(bucketProducts, id, &rec)
	if err != nil {
		return err
	}
	if !ok {
		return catalog.ErrNotFound
	}
	rec.Name = upd.Name
	rec.Description = upd.Description
	if upd.Image != nil {
		rec.Image = *upd.Image
	}
	return q.put(bucketProducts, id, rec)
}

// UpdatePrice sets the price of every option of the product. A product
// without options gets a DefaultOptionLabel option.
func (q *queries) UpdatePrice(ctx context.Context, productID, price int64) error {
	opts, err := q.options()
	if err != nil {
		return err
	}
	updated := 0
	for _, o := range opts {
		if o.ProductID != productID {
			continue
		}
		o.Price = price
		if err := q.put(bucketPriceOptions, o.ID, o); err != nil {
			return err
		}
		updated++
	}
	if updated == 0 {
		_, err := q.CreatePriceOption(ctx, productID, catalog.DefaultOptionLabel, price)
		return err
	}
	return nil
}

// DeleteProduct removes the price options of the product, then the product.
// Deleting a missing product is not an error.
func (q *queries) DeleteProduct(_ context.Context, id int64) error {
	opts, err := q.options()
	if err != nil {
		return err
	}
	b := q.tx.Bucket(bucketPriceOptions)
	for _, o := range opts {
		if o.ProductID != id {
			continue
		}
		if err := b.Delete(key(o.ID)); err != nil {
			return errors.Wrapf(err, "delete price option %d", o.ID)
		}
	}
	if err := q.tx.Bucket(bucketProducts).Delete(key(id)); err != nil {
		return errors.Wrapf(err, "delete product %d", id)
	}
	return nil
}

// GetCategory returns a single category by id.
func (q *queries) GetCategory(_ context.Context, id int64) (*catalog.Category, error) {
	var rec categoryRecord
	ok, err := q.get(bucketCategories, id, &rec)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, catalog.ErrCategoryNotFound
	}
	return &catalog.Category{ID: rec.ID, Name: rec.Name}, nil
}

// GetProduct returns a single product by id.
func (q *queries) GetProduct(_ context.Context, id int64) (*catalog.Product, error) {
	var rec productRecord
	ok, err := q.get(bucketProducts, id, &rec)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, catalog.ErrNotFound
	}
	p := rec.product()
	return &p, nil
}

// ListCategories returns all categories ordered by id.
func (q *queries) ListCategories(context.Context) ([]catalog.Category, error) {
	out := []catalog.Category{}
	err := q.tx.Bucket(bucketCategories).ForEach(func(k, v []byte) error {
		var rec categoryRecord
		if err := json.Unmarshal(v, &rec); err != nil {
			return errors.Wrapf(err, "decode category %d", keyID(k))
		}
		out = append(out, catalog.Category{ID: rec.ID, Name: rec.Name})
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// ListProducts returns all products ordered by id.
func (q *queries) ListProducts(context.Context) ([]catalog.Product, error) {
	out := []catalog.Product{}
	err := q.tx.Bucket(bucketProducts).ForEach(func(k, v []byte) error {
		var rec productRecord
		if err := json.Unmarshal(v, &rec); err != nil {
			return errors.Wrapf(err, "decode product %d", keyID(k))
		}
		out = append(out, rec.product())
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// ListPriceOptions returns all price options ordered by id.
func (q *queries) ListPriceOptions(context.Context) ([]catalog.PriceOption, error) {
	recs, err := q.options()
	if err != nil {
		return nil, err
	}
	out := make([]catalog.PriceOption, 0, len(recs))
	for _, o := range recs {
		out = append(out, o.option())
	}
	return out, nil
}

// ListProductsWithPrice left-joins products to their price options, ordered
// by product id then option id. Cursor order is id order, so no sort is
// needed.
func (q *queries) ListProductsWithPrice(ctx context.Context) ([]catalog.ProductWithPrice, error) {
	prods, err := q.ListProducts(ctx)
	if err != nil {
		return nil, err
	}
	recs, err := q.options()
	if err != nil {
		return nil, err
	}
	byProduct := make(map[int64][]optionRecord, len(prods))
	for _, o := range recs {
		byProduct[o.ProductID] = append(byProduct[o.ProductID], o)
	}

	out := make([]catalog.ProductWithPrice, 0, len(prods))
	for _, p := range prods {
		opts := byProduct[p.ID]
		if len(opts) == 0 {
			out = append(out, catalog.ProductWithPrice{Product: p})
			continue
		}
		for _, o := range opts {
			optionID, price := o.ID, o.Price
			out = append(out, catalog.ProductWithPrice{Product: p, OptionID: &optionID, Price: &price})
		}
	}
	return out, nil
}

// CountProducts returns the number of products.
func (q *queries) CountProducts(context.Context) (int, error) {
	n := 0
	c := q.tx.Bucket(bucketProducts).Cursor()
	for k, _ := c.First(); k != nil; k, _ = c.Next() {
		n++
	}
	return n, nil
}

// Repository-level calls, each in its own transaction.

func (r *CatalogRepository) CreateCategory(ctx context.Context, name string) (id int64, err error) {
	err = r.update(ctx, func(q *queries) error {
		id, err = q.CreateCategory(ctx, name)
		return err
	})
	return id, err
}

func (r *CatalogRepository) CreateProduct(ctx context.Context, p catalog.NewProduct) (id int64, err error) {
	err = r.update(ctx, func(q *queries) error {
		id, err = q.CreateProduct(ctx, p)
		return err
	})
	return id, err
}

func (r *CatalogRepository) CreatePriceOption(ctx context.Context, productID int64, label string, price int64) (id int64, err error) {
	err = r.update(ctx, func(q *queries) error {
		id, err = q.CreatePriceOption(ctx, productID, label, price)
		return err
	})
	return id, err
}

func (r *CatalogRepository) UpdateProduct(ctx context.Context, id int64, upd catalog.ProductUpdate) error {
	return r.update(ctx, func(q *queries) error {
		return q.UpdateProduct(ctx, id, upd)
	})
}

func (r *CatalogRepository) UpdatePrice(ctx context.Context, productID, price int64) error {
	return r.update(ctx, func(q *queries) error {
		return q.UpdatePrice(ctx, productID, price)
	})
}

func (r *CatalogRepository) DeleteProduct(ctx context.Context, id int64) error {
	return r.update(ctx, func(q *queries) error {
		return q.DeleteProduct(ctx, id)
	})
}

func (r *CatalogRepository) GetCategory(ctx context.Context, id int64) (c *catalog.Category, err error) {
	err = r.view(ctx, func(q *queries) error {
		c, err = q.GetCategory(ctx, id)
		return err
	})
	return c, err
}

func (r *CatalogRepository) GetProduct(ctx context.Context, id int64) (p *catalog.Product, err error) {
	err = r.view(ctx, func(q *queries) error {
		p, err = q.GetProduct(ctx, id)
		return err
	})
	return p, err
}

func (r *CatalogRepository) ListCategories(ctx context.Context) (out []catalog.Category, err error) {
	err = r.view(ctx, func(q *queries) error {
		out, err = q.ListCategories(ctx)
		return err
	})
	return out, err
}

func (r *CatalogRepository) ListProducts(ctx context.Context) (out []catalog.Product, err error) {
	err = r.view(ctx, func(q *queries) error {
		out, err = q.ListProducts(ctx)
		return err
	})
	return out, err
}

func (r *CatalogRepository) ListPriceOptions(ctx context.Context) (out []catalog.PriceOption, err error) {
	err = r.view(ctx, func(q *queries) error {
		out, err = q.ListPriceOptions(ctx)
		return err
	})
	return out, err
}

func (r *CatalogRepository) ListProductsWithPrice(ctx context.Context) (out []catalog.ProductWithPrice, err error) {
	err = r.view(ctx, func(q *queries) error {
		out, err = q.ListProductsWithPrice(ctx)
		return err
	})
	return out, err
}

func (r *CatalogRepository) CountProducts(ctx context.Context) (n int, err error) {
	err = r.view(ctx, func(q *queries) error {
		n, err = q.CountProducts(ctx)
		return err
	})
	return n, err
}
