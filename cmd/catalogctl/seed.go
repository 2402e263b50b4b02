package main

import (
	"os"

	"github.com/go-faster/errors"
	"github.com/spf13/cobra"

	"github.com/dulcetentacion/storefront/db"
	"github.com/dulcetentacion/storefront/internal/domain/catalog"
)

func newSeedCmd(e *env) *cobra.Command {
	var file string
	cmd := &cobra.Command{
		Use:   "seed",
		Short: "Load the starter catalog into an empty store",
		Long: `Load the starter catalog into the store when it holds no products.

The embedded catalog is used unless --file names a JSON file of the same
shape. A store that already has products is left untouched.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			data := db.SeedCatalog
			if file != "" {
				var err error
				if data, err = os.ReadFile(file); err != nil {
					return errors.Wrap(err, "read seed file")
				}
			}
			sc, err := catalog.ParseSeed(data)
			if err != nil {
				return err
			}

			ctx := cmd.Context()
			store, err := e.catalog(ctx)
			if err != nil {
				return err
			}
			inserted, err := catalog.Seed(ctx, store, sc, e.cfg.Images.Placeholder)
			if err != nil {
				return err
			}
			if !inserted {
				e.out.Warning("Catalog already has products, nothing seeded")
				return nil
			}
			n := 0
			for _, c := range sc.Categories {
				n += len(c.Products)
			}
			e.out.Success("Seeded %d categories and %d products", len(sc.Categories), n)
			return nil
		},
	}
	cmd.Flags().StringVar(&file, "file", "", "JSON seed file (defaults to the embedded catalog)")
	return cmd
}
