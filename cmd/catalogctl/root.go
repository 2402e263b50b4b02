package main

import (
	"context"

	"github.com/go-faster/errors"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/dulcetentacion/storefront/internal/app"
	"github.com/dulcetentacion/storefront/internal/maintenance"
)

// env is the state shared by every subcommand.
type env struct {
	cfg     *app.Config
	lg      *zap.Logger
	out     *maintenance.Printer
	closers []func()
}

func (e *env) close() {
	for i := len(e.closers) - 1; i >= 0; i-- {
		e.closers[i]()
	}
	if e.lg != nil {
		_ = e.lg.Sync()
	}
}

func (e *env) catalog(ctx context.Context) (app.CatalogStore, error) {
	store, closeStore, err := app.OpenCatalog(ctx, e.lg, e.cfg)
	if err != nil {
		return nil, err
	}
	e.closers = append(e.closers, closeStore)
	return store, nil
}

func (e *env) images(ctx context.Context) (*maintenance.Images, *app.Images, error) {
	store, err := e.catalog(ctx)
	if err != nil {
		return nil, nil, err
	}
	imgs, err := app.OpenImages(e.lg, e.cfg)
	if err != nil {
		return nil, nil, err
	}
	return maintenance.NewImages(store, imgs.Backend, e.cfg.Images.Placeholder, e.lg), imgs, nil
}

func newRootCmd(e *env) *cobra.Command {
	var (
		databaseURL string
		dataFile    string
		backupDir   string
		verbose     bool
	)

	root := &cobra.Command{
		Use:   "catalogctl",
		Short: "Dulce Tentación catalog maintenance",
		Long: `catalogctl runs maintenance tasks against the storefront catalog.

It reads the same configuration as the server (DULCE_ environment variables,
.env, config.yaml) and works on whichever catalog store and image store that
configuration selects.`,
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := app.LoadToolConfig()
			if err != nil {
				return err
			}
			if databaseURL != "" {
				cfg.DatabaseURL = databaseURL
			}
			if dataFile != "" {
				cfg.DataFile = dataFile
			}
			if backupDir != "" {
				cfg.BackupDir = backupDir
			}

			zcfg := zap.NewDevelopmentConfig()
			if !verbose {
				zcfg.Level = zap.NewAtomicLevelAt(zap.WarnLevel)
			}
			lg, err := zcfg.Build()
			if err != nil {
				return errors.Wrap(err, "create logger")
			}

			e.cfg = cfg
			e.lg = lg
			e.out = maintenance.NewPrinter(cmd.OutOrStdout())
			return nil
		},
	}

	root.PersistentFlags().StringVar(&databaseURL, "database-url", "", "PostgreSQL connection URL (overrides configuration)")
	root.PersistentFlags().StringVar(&dataFile, "data-file", "", "Embedded catalog store file (overrides configuration)")
	root.PersistentFlags().StringVar(&backupDir, "backup-dir", "", "Backup directory (overrides configuration)")
	root.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Verbose logging")

	root.AddCommand(
		newBackupCmd(e),
		newBackupsCmd(e),
		newRestoreCmd(e),
		newImagesCmd(e),
		newDiagnoseCmd(e),
		newSeedCmd(e),
	)
	return root
}
