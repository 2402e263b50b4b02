// Package maintenance implements the offline catalog chores: backups and
// restores, orphaned image cleanup, image repair and diagnostics.
package maintenance

import (
	"context"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/go-faster/errors"
	"github.com/klauspost/pgzip"

	"github.com/dulcetentacion/storefront/internal/domain/catalog"
)

const (
	backupPrefix = "catalog_backup_"
	backupSuffix = ".json.gz"
	backupLayout = "20060102_150405"

	// KeepBackups is the backup count above which callers are warned to
	// prune old files.
	KeepBackups = 5
)

// Store is the catalog store as used by backups.
type Store interface {
	catalog.Repository
	catalog.Restorer
}

// BackupInfo describes one backup file.
type BackupInfo struct {
	Name      string
	Path      string
	Size      int64
	CreatedAt time.Time
}

// Backups manages the backup files of a directory.
type Backups struct {
	dir string
	now func() time.Time
}

// NewBackups returns a Backups over dir.
func NewBackups(dir string) *Backups {
	return &Backups{dir: dir, now: time.Now}
}

// Dir returns the backup directory.
func (b *Backups) Dir() string { return b.dir }

// Create writes a compressed snapshot of the store to
// catalog_backup_YYYYMMDD_HHMMSS.json.gz.
func (b *Backups) Create(ctx context.Context, store catalog.Repository) (*BackupInfo, error) {
	snap, err := catalog.TakeSnapshot(ctx, store)
	if err != nil {
		return nil, errors.Wrap(err, "snapshot catalog")
	}
	if err := os.MkdirAll(b.dir, 0o755); err != nil {
		return nil, errors.Wrap(err, "create backup dir")
	}

	// Names have second resolution; never overwrite an existing backup.
	now := b.now().Truncate(time.Second)
	name := backupPrefix + now.Format(backupLayout) + backupSuffix
	path := filepath.Join(b.dir, name)
	for exists(path) {
		now = now.Add(time.Second)
		name = backupPrefix + now.Format(backupLayout) + backupSuffix
		path = filepath.Join(b.dir, name)
	}

	tmp, err := os.CreateTemp(b.dir, ".backup-*")
	if err != nil {
		return nil, errors.Wrap(err, "create temp file")
	}
	defer func() { _ = os.Remove(tmp.Name()) }()

	gz := pgzip.NewWriter(tmp)
	if err := EncodeSnapshot(gz, snap, now); err != nil {
		_ = tmp.Close()
		return nil, err
	}
	if err := gz.Close(); err != nil {
		_ = tmp.Close()
		return nil, errors.Wrap(err, "compress backup")
	}
	if err := tmp.Close(); err != nil {
		return nil, errors.Wrap(err, "close backup")
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return nil, errors.Wrap(err, "rename backup")
	}

	info, err := os.Stat(path)
	if err != nil {
		return nil, errors.Wrap(err, "stat backup")
	}
	return &BackupInfo{Name: name, Path: path, Size: info.Size(), CreatedAt: now}, nil
}

// List returns the backups of the directory, newest first. A missing
// directory has no backups.
func (b *Backups) List() ([]BackupInfo, error) {
	entries, err := os.ReadDir(b.dir)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, errors.Wrap(err, "read backup dir")
	}

	var out []BackupInfo
	for _, e := range entries {
		created, ok := parseBackupName(e.Name())
		if !ok || e.IsDir() {
			continue
		}
		info, err := e.Info()
		if err != nil {
			return nil, errors.Wrapf(err, "stat %s", e.Name())
		}
		out = append(out, BackupInfo{
			Name:      e.Name(),
			Path:      filepath.Join(b.dir, e.Name()),
			Size:      info.Size(),
			CreatedAt: created,
		})
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.After(out[j].CreatedAt)
		}
		return out[i].Name > out[j].Name
	})
	return out, nil
}

// Load reads the snapshot stored in the named backup.
func (b *Backups) Load(name string) (*catalog.Snapshot, error) {
	if _, ok := parseBackupName(name); !ok || name != filepath.Base(name) {
		return nil, errors.Errorf("invalid backup name %q", name)
	}
	f, err := os.Open(filepath.Join(b.dir, name))
	if err != nil {
		return nil, errors.Wrap(err, "open backup")
	}
	defer func() { _ = f.Close() }()

	gz, err := pgzip.NewReader(f)
	if err != nil {
		return nil, errors.Wrap(err, "create gzip reader")
	}
	defer func() { _ = gz.Close() }()

	return DecodeSnapshot(gz)
}

// Restore replaces the store content with the named backup. A backup of
// the current content is written first and returned.
func (b *Backups) Restore(ctx context.Context, store Store, name string) (*BackupInfo, error) {
	snap, err := b.Load(name)
	if err != nil {
		return nil, err
	}
	safety, err := b.Create(ctx, store)
	if err != nil {
		return nil, errors.Wrap(err, "safety backup")
	}
	if err := store.Restore(ctx, *snap); err != nil {
		return safety, errors.Wrap(err, "restore")
	}
	return safety, nil
}

func exists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

func parseBackupName(name string) (time.Time, bool) {
	stamp, ok := strings.CutPrefix(name, backupPrefix)
	if !ok {
		return time.Time{}, false
	}
	stamp, ok = strings.CutSuffix(stamp, backupSuffix)
	if !ok {
		return time.Time{}, false
	}
	t, err := time.ParseInLocation(backupLayout, stamp, time.Local)
	if err != nil {
		return time.Time{}, false
	}
	return t, true
}
