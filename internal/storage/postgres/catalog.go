package postgres

import (
	"context"
	"fmt"

	"github.com/go-faster/errors"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/dulcetentacion/storefront/internal/domain/catalog"
)

const (
	createCategorySQL    = `INSERT INTO categories (name) VALUES ($1) RETURNING id`
	createProductSQL     = `INSERT INTO products (category_id, name, description, image) VALUES ($1, $2, $3, $4) RETURNING id`
	createPriceOptionSQL = `INSERT INTO price_options (product_id, option_name, price) VALUES ($1, $2, $3) RETURNING id`

	updateProductSQL = `UPDATE products SET name = $2, description = $3, image = COALESCE($4, image)
		WHERE id = $1`
	updatePriceSQL = `UPDATE price_options SET price = $2 WHERE product_id = $1`

	deletePriceOptionsSQL = `DELETE FROM price_options WHERE product_id = $1`
	deleteProductSQL      = `DELETE FROM products WHERE id = $1`

	getCategorySQL = `SELECT id, name FROM categories WHERE id = $1`
	getProductSQL  = `SELECT id, category_id, name, description, image FROM products WHERE id = $1`

	listCategoriesSQL   = `SELECT id, name FROM categories ORDER BY id`
	listProductsSQL     = `SELECT id, category_id, name, description, image FROM products ORDER BY id`
	listPriceOptionsSQL = `SELECT id, product_id, option_name, price FROM price_options ORDER BY id`

	listProductsWithPriceSQL = `SELECT p.id, p.category_id, p.name, p.description, p.image, o.id, o.price
		FROM products p LEFT JOIN price_options o ON o.product_id = p.id
		ORDER BY p.id, o.id`

	countProductsSQL = `SELECT COUNT(*) FROM products`

	truncateSQL = `TRUNCATE price_options, products, categories`

	resetIdentitySQL = `SELECT setval(pg_get_serial_sequence('%[1]s', 'id'), COALESCE(MAX(id), 0) + 1, false) FROM %[1]s`
)

// PostgreSQL error codes mapped to catalog errors.
const (
	uniqueViolation     = "23505"
	foreignKeyViolation = "23503"
)

var (
	_ catalog.Repository = (*CatalogRepository)(nil)
	_ catalog.Restorer   = (*CatalogRepository)(nil)
)

// dbtx is satisfied by both *pgxpool.Pool and pgx.Tx.
type dbtx interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// CatalogRepository implements catalog.Repository backed by PostgreSQL.
type CatalogRepository struct {
	queries
	pool *pgxpool.Pool
}

// NewCatalogRepository returns a CatalogRepository that uses the given pool.
func NewCatalogRepository(pool *pgxpool.Pool) *CatalogRepository {
	return &CatalogRepository{queries: queries{db: pool}, pool: pool}
}

// InTx runs fn in a transaction that commits when fn returns nil.
func (r *CatalogRepository) InTx(ctx context.Context, fn func(q catalog.Queries) error) error {
	return pgx.BeginFunc(ctx, r.pool, func(tx pgx.Tx) error {
		return fn(&queries{db: tx})
	})
}

// Ping checks connectivity to the database.
func (r *CatalogRepository) Ping(ctx context.Context) error {
	return r.pool.Ping(ctx)
}

// Restore replaces every row with the snapshot content, keeping the
// snapshot identifiers, and moves the identity sequences past them.
func (r *CatalogRepository) Restore(ctx context.Context, snap catalog.Snapshot) error {
	return pgx.BeginFunc(ctx, r.pool, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, truncateSQL); err != nil {
			return fmt.Errorf("truncating catalog: %w", err)
		}

		_, err := tx.CopyFrom(ctx, pgx.Identifier{"categories"}, []string{"id", "name"},
			pgx.CopyFromSlice(len(snap.Categories), func(i int) ([]any, error) {
				c := snap.Categories[i]
				return []any{c.ID, c.Name}, nil
			}),
		)
		if err != nil {
			return fmt.Errorf("restoring categories: %w", err)
		}

		_, err = tx.CopyFrom(ctx, pgx.Identifier{"products"},
			[]string{"id", "category_id", "name", "description", "image"},
			pgx.CopyFromSlice(len(snap.Products), func(i int) ([]any, error) {
				p := snap.Products[i]
				return []any{p.ID, p.CategoryID, p.Name, p.Description, p.Image}, nil
			}),
		)
		if err != nil {
			return fmt.Errorf("restoring products: %w", err)
		}

		_, err = tx.CopyFrom(ctx, pgx.Identifier{"price_options"},
			[]string{"id", "product_id", "option_name", "price"},
			pgx.CopyFromSlice(len(snap.PriceOptions), func(i int) ([]any, error) {
				o := snap.PriceOptions[i]
				return []any{o.ID, o.ProductID, o.Label, o.Price}, nil
			}),
		)
		if err != nil {
			return fmt.Errorf("restoring price options: %w", err)
		}

		for _, table := range []string{"categories", "products", "price_options"} {
			if _, err := tx.Exec(ctx, fmt.Sprintf(resetIdentitySQL, table)); err != nil {
				return fmt.Errorf("resetting %s identity: %w", table, err)
			}
		}
		return nil
	})
}

type queries struct {
	db dbtx
}

// CreateCategory inserts a category and returns its id.
func (q *queries) CreateCategory(ctx context.Context, name string) (int64, error) {
	if name == "" {
		return 0, &catalog.ValidationError{Field: "nombre", Reason: "required"}
	}
	var id int64
	if err := q.db.QueryRow(ctx, createCategorySQL, name).Scan(&id); err != nil {
		if isCode(err, uniqueViolation) {
			return 0, &catalog.DuplicateNameError{Name: name}
		}
		return 0, fmt.Errorf("creating category %q: %w", name, err)
	}
	return id, nil
}

// CreateProduct inserts a product and returns its id.
func (q *queries) CreateProduct(ctx context.Context, p catalog.NewProduct) (int64, error) {
	var id int64
	err := q.db.QueryRow(ctx, createProductSQL, p.CategoryID, p.Name, p.Description, p.Image).Scan(&id)
	if err != nil {
		if isCode(err, foreignKeyViolation) {
			return 0, catalog.ErrCategoryNotFound
		}
		return 0, fmt.Errorf("creating product %q: %w", p.Name, err)
	}
	return id, nil
}

// CreatePriceOption inserts a price option and returns its id.
func (q *queries) CreatePriceOption(ctx context.Context, productID int64, label string, price int64) (int64, error) {
	var id int64
	err := q.db.QueryRow(ctx, createPriceOptionSQL, productID, label, price).Scan(&id)
	if err != nil {
		if isCode(err, foreignKeyViolation) {
			return 0, catalog.ErrNotFound
		}
		return 0, fmt.Errorf("creating price option for product %d: %w", productID, err)
	}
	return id, nil
}

// UpdateProduct updates name and description, and the image when upd.Image
// is set.
func (q *queries) UpdateProduct(ctx context.Context, id int64, upd catalog.ProductUpdate) error {
	tag, err := q.db.Exec(ctx, updateProductSQL, id, upd.Name, upd.Description, upd.Image)
	if err != nil {
		return fmt.Errorf("updating product %d: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return catalog.ErrNotFound
	}
	return nil
}

// UpdatePrice sets the price of every option of the product. A product
// without options gets a DefaultOptionLabel option.
func (q *queries) UpdatePrice(ctx context.Context, productID, price int64) error {
	tag, err := q.db.Exec(ctx, updatePriceSQL, productID, price)
	if err != nil {
		return fmt.Errorf("updating price of product %d: %w", productID, err)
	}
	if tag.RowsAffected() == 0 {
		_, err := q.CreatePriceOption(ctx, productID, catalog.DefaultOptionLabel, price)
		return err
	}
	return nil
}

// DeleteProduct removes the price options of the product, then the product.
// Deleting a missing product is not an error.
func (q *queries) DeleteProduct(ctx context.Context, id int64) error {
	if _, err := q.db.Exec(ctx, deletePriceOptionsSQL, id); err != nil {
		return fmt.Errorf("deleting price options of product %d: %w", id, err)
	}
	if _, err := q.db.Exec(ctx, deleteProductSQL, id); err != nil {
		return fmt.Errorf("deleting product %d: %w", id, err)
	}
	return nil
}

// GetCategory returns a single category by id.
func (q *queries) GetCategory(ctx context.Context, id int64) (*catalog.Category, error) {
	rows, err := q.db.Query(ctx, getCategorySQL, id)
	if err != nil {
		return nil, fmt.Errorf("getting category %d: %w", id, err)
	}
	c, err := pgx.CollectExactlyOneRow(rows, scanCategory)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, catalog.ErrCategoryNotFound
		}
		return nil, fmt.Errorf("getting category %d: %w", id, err)
	}
	return &c, nil
}

// GetProduct returns a single product by id.
func (q *queries) GetProduct(ctx context.Context, id int64) (*catalog.Product, error) {
	rows, err := q.db.Query(ctx, getProductSQL, id)
	if err != nil {
		return nil, fmt.Errorf("getting product %d: %w", id, err)
	}
	p, err := pgx.CollectExactlyOneRow(rows, scanProduct)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, catalog.ErrNotFound
		}
		return nil, fmt.Errorf("getting product %d: %w", id, err)
	}
	return &p, nil
}

// ListCategories returns all categories ordered by id.
func (q *queries) ListCategories(ctx context.Context) ([]catalog.Category, error) {
	rows, err := q.db.Query(ctx, listCategoriesSQL)
	if err != nil {
		return nil, fmt.Errorf("listing categories: %w", err)
	}
	return pgx.CollectRows(rows, scanCategory)
}

// ListProducts returns all products ordered by id.
func (q *queries) ListProducts(ctx context.Context) ([]catalog.Product, error) {
	rows, err := q.db.Query(ctx, listProductsSQL)
	if err != nil {
		return nil, fmt.Errorf("listing products: %w", err)
	}
	return pgx.CollectRows(rows, scanProduct)
}

// ListPriceOptions returns all price options ordered by id.
func (q *queries) ListPriceOptions(ctx context.Context) ([]catalog.PriceOption, error) {
	rows, err := q.db.Query(ctx, listPriceOptionsSQL)
	if err != nil {
		return nil, fmt.Errorf("listing price options: %w", err)
	}
	return pgx.CollectRows(rows, scanPriceOption)
}

// ListProductsWithPrice returns the products left-joined with their price
// options.
func (q *queries) ListProductsWithPrice(ctx context.Context) ([]catalog.ProductWithPrice, error) {
	rows, err := q.db.Query(ctx, listProductsWithPriceSQL)
	if err != nil {
		return nil, fmt.Errorf("listing products with price: %w", err)
	}
	return pgx.CollectRows(rows, func(row pgx.CollectableRow) (catalog.ProductWithPrice, error) {
		var p catalog.ProductWithPrice
		err := row.Scan(&p.ID, &p.CategoryID, &p.Name, &p.Description, &p.Image, &p.OptionID, &p.Price)
		return p, err
	})
}

// CountProducts returns the number of products.
func (q *queries) CountProducts(ctx context.Context) (int, error) {
	var n int64
	if err := q.db.QueryRow(ctx, countProductsSQL).Scan(&n); err != nil {
		return 0, fmt.Errorf("counting products: %w", err)
	}
	return int(n), nil
}

func scanCategory(row pgx.CollectableRow) (catalog.Category, error) {
	var c catalog.Category
	err := row.Scan(&c.ID, &c.Name)
	return c, err
}

func scanProduct(row pgx.CollectableRow) (catalog.Product, error) {
	var p catalog.Product
	err := row.Scan(&p.ID, &p.CategoryID, &p.Name, &p.Description, &p.Image)
	return p, err
}

func scanPriceOption(row pgx.CollectableRow) (catalog.PriceOption, error) {
	var o catalog.PriceOption
	err := row.Scan(&o.ID, &o.ProductID, &o.Label, &o.Price)
	return o, err
}

func isCode(err error, code string) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == code
}
