// Package localfs stores product images as files in a local directory and
// serves them over HTTP.
package localfs

import (
	"context"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"github.com/go-faster/errors"

	"github.com/dulcetentacion/storefront/internal/domain/image"
)

// DefaultURLPrefix is the path the upload directory is served under.
const DefaultURLPrefix = "/uploads/"

var (
	_ image.Store     = (*Store)(nil)
	_ image.Inventory = (*Store)(nil)
)

// Store keeps one file per image id: <dir>/<id>.<ext>. References are
// <prefix><id>.<ext>.
type Store struct {
	dir    string
	prefix string
}

// New creates the directory when missing and returns a Store over it.
func New(dir, urlPrefix string) (*Store, error) {
	if urlPrefix == "" {
		urlPrefix = DefaultURLPrefix
	}
	if !strings.HasSuffix(urlPrefix, "/") {
		urlPrefix += "/"
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, errors.Wrap(err, "create upload dir")
	}
	return &Store{dir: dir, prefix: urlPrefix}, nil
}

// Dir returns the upload directory.
func (s *Store) Dir() string { return s.dir }

// Put writes the upload as <id>.<ext>, removing files stored under the same
// id with another extension.
func (s *Store) Put(_ context.Context, up image.Upload, id string) (string, error) {
	if id == "" || id != filepath.Base(id) || strings.HasPrefix(id, ".") {
		return "", errors.Errorf("invalid image id %q", id)
	}
	ext := image.Ext(up.Filename)
	if ext == "" {
		return "", errors.Errorf("upload %q has no extension", up.Filename)
	}
	name := id + "." + ext

	tmp, err := os.CreateTemp(s.dir, ".upload-*")
	if err != nil {
		return "", errors.Wrap(err, "create temp file")
	}
	defer func() { _ = os.Remove(tmp.Name()) }()

	if _, err := tmp.Write(up.Data); err != nil {
		_ = tmp.Close()
		return "", errors.Wrap(err, "write image")
	}
	if err := tmp.Close(); err != nil {
		return "", errors.Wrap(err, "close image")
	}
	if err := os.Chmod(tmp.Name(), 0o644); err != nil {
		return "", errors.Wrap(err, "chmod image")
	}
	if err := os.Rename(tmp.Name(), filepath.Join(s.dir, name)); err != nil {
		return "", errors.Wrap(err, "rename image")
	}

	if err := s.removeSiblings(id, name); err != nil {
		return "", err
	}
	return s.prefix + name, nil
}

func (s *Store) removeSiblings(id, keep string) error {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return errors.Wrap(err, "read upload dir")
	}
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || name == keep || idOf(name) != id {
			continue
		}
		if err := os.Remove(filepath.Join(s.dir, name)); err != nil && !os.IsNotExist(err) {
			return errors.Wrapf(err, "remove %s", name)
		}
	}
	return nil
}

// Delete removes the file behind ref. References outside the prefix and
// missing files are ignored.
func (s *Store) Delete(_ context.Context, ref string) error {
	name, ok := s.fileName(ref)
	if !ok {
		return nil
	}
	if err := os.Remove(filepath.Join(s.dir, name)); err != nil && !os.IsNotExist(err) {
		return errors.Wrapf(err, "remove %s", name)
	}
	return nil
}

// List returns every image file in the directory.
func (s *Store) List(context.Context) ([]image.Asset, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return nil, errors.Wrap(err, "read upload dir")
	}
	var assets []image.Asset
	for _, e := range entries {
		if e.IsDir() || strings.HasPrefix(e.Name(), ".") {
			continue
		}
		info, err := e.Info()
		if err != nil {
			if os.IsNotExist(err) {
				continue
			}
			return nil, errors.Wrapf(err, "stat %s", e.Name())
		}
		assets = append(assets, image.Asset{
			ID:        idOf(e.Name()),
			Ref:       s.prefix + e.Name(),
			Bytes:     info.Size(),
			CreatedAt: info.ModTime(),
		})
	}
	return assets, nil
}

// Resolve returns the image id behind a reference produced by this store.
func (s *Store) Resolve(ref string) (string, bool) {
	name, ok := s.fileName(ref)
	if !ok {
		return "", false
	}
	return idOf(name), true
}

// Exists reports whether the file behind ref is present.
func (s *Store) Exists(ref string) bool {
	name, ok := s.fileName(ref)
	if !ok {
		return false
	}
	info, err := os.Stat(filepath.Join(s.dir, name))
	return err == nil && !info.IsDir()
}

// Handler serves the directory under the URL prefix. Responses are marked
// no-cache since an id keeps its URL when the image is replaced.
func (s *Store) Handler() http.Handler {
	fs := http.StripPrefix(s.prefix, http.FileServer(http.Dir(s.dir)))
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if strings.HasSuffix(r.URL.Path, "/") {
			http.NotFound(w, r)
			return
		}
		w.Header().Set("Cache-Control", "no-cache")
		fs.ServeHTTP(w, r)
	})
}

func (s *Store) fileName(ref string) (string, bool) {
	rest, ok := strings.CutPrefix(ref, s.prefix)
	if !ok || rest == "" {
		return "", false
	}
	name := filepath.Base(rest)
	if name != rest || strings.HasPrefix(name, ".") {
		return "", false
	}
	return name, true
}

func idOf(name string) string {
	return strings.TrimSuffix(name, filepath.Ext(name))
}
