package catalog

import (
	"context"
	"fmt"
)

// MenuItem is a product with its price options.
type MenuItem struct {
	Product Product
	Options []PriceOption
}

// MenuSection groups the items of one category.
type MenuSection struct {
	Category Category
	Items    []MenuItem
}

// Menu is the public catalog view. The raw lists are kept alongside the
// grouped sections so templates can render either shape.
type Menu struct {
	Categories   []Category
	Products     []Product
	PriceOptions []PriceOption

	Sections []MenuSection
	// Uncategorized holds products without a category or whose category
	// no longer exists.
	Uncategorized []MenuItem
}

// AdminListing is the admin editor view.
type AdminListing struct {
	Products   []ProductWithPrice
	Categories []Category
}

// Menu fetches categories, products and price options and groups options
// under products under categories. Empty categories are kept.
func (s *Service) Menu(ctx context.Context) (*Menu, error) {
	cats, err := s.repo.ListCategories(ctx)
	if err != nil {
		return nil, fmt.Errorf("list categories: %w", err)
	}
	prods, err := s.repo.ListProducts(ctx)
	if err != nil {
		return nil, fmt.Errorf("list products: %w", err)
	}
	opts, err := s.repo.ListPriceOptions(ctx)
	if err != nil {
		return nil, fmt.Errorf("list price options: %w", err)
	}
	return BuildMenu(cats, prods, opts), nil
}

// BuildMenu groups raw catalog rows into menu sections, preserving the
// order of the input slices.
func BuildMenu(cats []Category, prods []Product, opts []PriceOption) *Menu {
	byProduct := make(map[int64][]PriceOption, len(prods))
	for _, o := range opts {
		byProduct[o.ProductID] = append(byProduct[o.ProductID], o)
	}

	m := &Menu{
		Categories:   cats,
		Products:     prods,
		PriceOptions: opts,
		Sections:     make([]MenuSection, len(cats)),
	}
	sectionOf := make(map[int64]int, len(cats))
	for i, c := range cats {
		m.Sections[i] = MenuSection{Category: c}
		sectionOf[c.ID] = i
	}

	for _, p := range prods {
		item := MenuItem{Product: p, Options: byProduct[p.ID]}
		if p.CategoryID != nil {
			if i, ok := sectionOf[*p.CategoryID]; ok {
				m.Sections[i].Items = append(m.Sections[i].Items, item)
				continue
			}
		}
		m.Uncategorized = append(m.Uncategorized, item)
	}
	return m
}

// AdminListing returns every product joined with its price and the list of
// categories for the add form.
func (s *Service) AdminListing(ctx context.Context) (*AdminListing, error) {
	prods, err := s.repo.ListProductsWithPrice(ctx)
	if err != nil {
		return nil, fmt.Errorf("list products with price: %w", err)
	}
	cats, err := s.repo.ListCategories(ctx)
	if err != nil {
		return nil, fmt.Errorf("list categories: %w", err)
	}
	return &AdminListing{Products: prods, Categories: cats}, nil
}
