// Package catalog holds the product catalog model: categories, products and
// their price options, the storage contract every backend implements, and the
// service that orchestrates catalog writes with the image store.
package catalog

import "context"

// DefaultOptionLabel is the label of the single price option every product
// carries.
const DefaultOptionLabel = "Precio"

// Category is a named grouping of products.
type Category struct {
	ID   int64
	Name string
}

// Product is a sellable catalog item. Image is never empty: it holds either
// the placeholder reference or a reference returned by the image store.
type Product struct {
	ID          int64
	CategoryID  *int64
	Name        string
	Description string
	Image       string
}

// PriceOption is a named price variant of a product. Price is expressed in
// minor currency units.
type PriceOption struct {
	ID        int64
	ProductID int64
	Label     string
	Price     int64
}

// ProductWithPrice is one row of the products-to-options left join. OptionID
// and Price are nil for products without a price option.
type ProductWithPrice struct {
	Product
	OptionID *int64
	Price    *int64
}

// NewProduct holds the fields required to insert a product.
type NewProduct struct {
	CategoryID  *int64
	Name        string
	Description string
	Image       string
}

// ProductUpdate holds the mutable product fields. A nil Image leaves the
// stored image untouched.
type ProductUpdate struct {
	Name        string
	Description string
	Image       *string
}

// Snapshot is the complete content of a catalog store.
type Snapshot struct {
	Categories   []Category
	Products     []Product
	PriceOptions []PriceOption
}

// Queries lists the catalog operations available both on a store and inside
// one of its transactions. All list operations return rows ordered by id.
type Queries interface {
	CreateCategory(ctx context.Context, name string) (int64, error)
	CreateProduct(ctx context.Context, p NewProduct) (int64, error)
	CreatePriceOption(ctx context.Context, productID int64, label string, price int64) (int64, error)
	UpdateProduct(ctx context.Context, id int64, upd ProductUpdate) error
	UpdatePrice(ctx context.Context, productID, price int64) error
	DeleteProduct(ctx context.Context, id int64) error

	GetCategory(ctx context.Context, id int64) (*Category, error)
	GetProduct(ctx context.Context, id int64) (*Product, error)
	ListCategories(ctx context.Context) ([]Category, error)
	ListProducts(ctx context.Context) ([]Product, error)
	ListPriceOptions(ctx context.Context) ([]PriceOption, error)
	ListProductsWithPrice(ctx context.Context) ([]ProductWithPrice, error)
	CountProducts(ctx context.Context) (int, error)
}

// Repository is a catalog store. InTx runs fn inside a single transaction:
// the transaction commits when fn returns nil and rolls back otherwise.
type Repository interface {
	Queries
	InTx(ctx context.Context, fn func(q Queries) error) error
	Ping(ctx context.Context) error
}

// Restorer replaces the whole content of a catalog store with a snapshot,
// preserving row identifiers.
type Restorer interface {
	Restore(ctx context.Context, snap Snapshot) error
}

// TakeSnapshot reads every row of the store inside one transaction.
func TakeSnapshot(ctx context.Context, repo Repository) (*Snapshot, error) {
	var snap Snapshot
	err := repo.InTx(ctx, func(q Queries) error {
		var err error
		if snap.Categories, err = q.ListCategories(ctx); err != nil {
			return err
		}
		if snap.Products, err = q.ListProducts(ctx); err != nil {
			return err
		}
		snap.PriceOptions, err = q.ListPriceOptions(ctx)
		return err
	})
	if err != nil {
		return nil, err
	}
	return &snap, nil
}
