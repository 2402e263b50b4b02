package catalog

import (
	"context"
	"encoding/json"
	"fmt"
)

// SeedCatalog is the static starter catalog inserted into an empty store.
type SeedCatalog struct {
	Categories []SeedCategory `json:"categories"`
}

// SeedCategory is a category with its starter products.
type SeedCategory struct {
	Name     string        `json:"name"`
	Products []SeedProduct `json:"products"`
}

// SeedProduct is a starter product. Image may be empty, in which case the
// placeholder is used.
type SeedProduct struct {
	Name        string `json:"name"`
	Description string `json:"description"`
	Price       int64  `json:"price"`
	Image       string `json:"image,omitempty"`
}

// ParseSeed decodes a JSON seed catalog.
func ParseSeed(data []byte) (*SeedCatalog, error) {
	var sc SeedCatalog
	if err := json.Unmarshal(data, &sc); err != nil {
		return nil, fmt.Errorf("parse seed catalog: %w", err)
	}
	return &sc, nil
}

// Seed inserts sc into repo if and only if the store holds no products. It
// reports whether anything was inserted. The check and the inserts run in
// one transaction, so a failed seed leaves the store empty and is retried on
// the next start.
func Seed(ctx context.Context, repo Repository, sc *SeedCatalog, placeholder string) (bool, error) {
	inserted := false
	err := repo.InTx(ctx, func(q Queries) error {
		n, err := q.CountProducts(ctx)
		if err != nil {
			return fmt.Errorf("count products: %w", err)
		}
		if n > 0 {
			return nil
		}

		existing, err := q.ListCategories(ctx)
		if err != nil {
			return fmt.Errorf("list categories: %w", err)
		}
		byName := make(map[string]int64, len(existing))
		for _, c := range existing {
			byName[c.Name] = c.ID
		}

		for _, cat := range sc.Categories {
			catID, ok := byName[cat.Name]
			if !ok {
				catID, err = q.CreateCategory(ctx, cat.Name)
				if err != nil {
					return fmt.Errorf("create category %q: %w", cat.Name, err)
				}
				byName[cat.Name] = catID
			}

			for _, sp := range cat.Products {
				img := sp.Image
				if img == "" {
					img = placeholder
				}
				id, err := q.CreateProduct(ctx, NewProduct{
					CategoryID:  &catID,
					Name:        sp.Name,
					Description: sp.Description,
					Image:       img,
				})
				if err != nil {
					return fmt.Errorf("create product %q: %w", sp.Name, err)
				}
				if _, err := q.CreatePriceOption(ctx, id, DefaultOptionLabel, sp.Price); err != nil {
					return fmt.Errorf("create price option for %q: %w", sp.Name, err)
				}
			}
		}
		inserted = true
		return nil
	})
	if err != nil {
		return false, err
	}
	return inserted, nil
}
