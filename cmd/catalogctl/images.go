package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

func newImagesCmd(e *env) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "images",
		Short: "Inspect and clean up product images",
	}
	cmd.AddCommand(newOrphansCmd(e), newRepairCmd(e))
	return cmd
}

func newOrphansCmd(e *env) *cobra.Command {
	var (
		del bool
		yes bool
	)
	cmd := &cobra.Command{
		Use:   "orphans",
		Short: "List stored images no product uses",
		Long: `List stored images that no product references.

Nothing is deleted unless --delete is given.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			imgs, backend, err := e.images(ctx)
			if err != nil {
				return err
			}
			orphans, err := imgs.Orphans(ctx)
			if err != nil {
				return err
			}

			e.out.Section(fmt.Sprintf("Orphaned images (%s)", backend.Name))
			if len(orphans) == 0 {
				e.out.Success("No orphaned images")
				return nil
			}
			for _, a := range orphans {
				e.out.Muted("  %s  %s", a.ID, a.Ref)
			}
			if !del {
				e.out.Warning("%d orphaned images; run with --delete to remove them", len(orphans))
				return nil
			}
			if !yes && !confirm(cmd, fmt.Sprintf("Delete %d images?", len(orphans))) {
				e.out.Muted("Nothing deleted")
				return nil
			}
			n, err := imgs.DeleteAssets(ctx, orphans)
			e.out.Success("Deleted %d of %d orphaned images", n, len(orphans))
			return err
		},
	}
	cmd.Flags().BoolVar(&del, "delete", false, "Delete the orphaned images")
	cmd.Flags().BoolVarP(&yes, "yes", "y", false, "Do not ask for confirmation")
	return cmd
}

func newRepairCmd(e *env) *cobra.Command {
	return &cobra.Command{
		Use:   "repair",
		Short: "Reset broken product images to the placeholder",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			imgs, _, err := e.images(ctx)
			if err != nil {
				return err
			}
			fixed, err := imgs.Repair(ctx)
			if err != nil {
				return err
			}
			if len(fixed) == 0 {
				e.out.Success("No broken images")
				return nil
			}
			for _, r := range fixed {
				e.out.Muted("  [%d] %s (%s) %q", r.Product.ID, r.Product.Name, r.Status, r.Previous)
			}
			e.out.Success("%d product images reset to the placeholder", len(fixed))
			return nil
		},
	}
}

func newDiagnoseCmd(e *env) *cobra.Command {
	return &cobra.Command{
		Use:   "diagnose",
		Short: "Report the catalog and image store state",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			imgs, backend, err := e.images(ctx)
			if err != nil {
				return err
			}
			d, err := imgs.Diagnose(ctx)
			if err != nil {
				return err
			}
			e.out.Muted("Catalog store: %s", e.cfg.Backend())
			if !e.cfg.Images.Cloudinary.Enabled() {
				e.out.Muted("Cloudinary not configured, using %s", backend.Dir)
			}
			e.out.Diagnosis(d, backend.Name)
			return nil
		},
	}
}
