package image

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/go-faster/errors"
)

// allowedExts is the upload extension allow-list.
var allowedExts = map[string]struct{}{
	"png":  {},
	"jpg":  {},
	"jpeg": {},
	"gif":  {},
	"webp": {},
}

// Limits configures the checks applied by Guard.
type Limits struct {
	// MaxBytes is the largest accepted upload. Zero means DefaultMaxBytes.
	MaxBytes int64
	// Placeholder is the sentinel reference Delete ignores. Empty means
	// the package Placeholder.
	Placeholder string
}

// Ext returns the lowercase extension of filename without the dot.
func Ext(filename string) string {
	return strings.ToLower(strings.TrimPrefix(filepath.Ext(filename), "."))
}

// Validate checks the upload against the size limit and the extension
// allow-list and returns its normalized extension.
func Validate(up Upload, maxBytes int64) (string, error) {
	if maxBytes <= 0 {
		maxBytes = DefaultMaxBytes
	}
	if size := int64(len(up.Data)); size > maxBytes {
		return "", &PayloadTooLargeError{Size: size, Limit: maxBytes}
	}
	ext := Ext(up.Filename)
	if _, ok := allowedExts[ext]; !ok {
		return "", &UnsupportedFormatError{Ext: ext}
	}
	return ext, nil
}

// GenerateID returns a time based identifier for uploads that have no
// natural name.
func GenerateID(now time.Time) string {
	return fmt.Sprintf("prod_%d", now.UnixNano())
}

type guard struct {
	next   Store
	limits Limits
	now    func() time.Time
}

// Guard wraps a backend store with the upload policy: uploads are validated
// before they reach the backend, an empty id is replaced by a generated one,
// placeholder deletions are skipped, and backend failures are reported as
// *StoreUnavailableError.
func Guard(next Store, limits Limits) Store {
	if limits.MaxBytes <= 0 {
		limits.MaxBytes = DefaultMaxBytes
	}
	if limits.Placeholder == "" {
		limits.Placeholder = Placeholder
	}
	return &guard{next: next, limits: limits, now: time.Now}
}

func (g *guard) Put(ctx context.Context, up Upload, id string) (string, error) {
	if _, err := Validate(up, g.limits.MaxBytes); err != nil {
		return "", err
	}
	if id == "" {
		id = GenerateID(g.now())
	}
	ref, err := g.next.Put(ctx, up, id)
	if err != nil {
		return "", unavailable("put", err)
	}
	if ref == "" {
		return "", &StoreUnavailableError{Op: "put", Err: errors.New("backend returned empty reference")}
	}
	return ref, nil
}

func (g *guard) Delete(ctx context.Context, ref string) error {
	if ref == "" || ref == g.limits.Placeholder {
		return nil
	}
	if err := g.next.Delete(ctx, ref); err != nil {
		return unavailable("delete", err)
	}
	return nil
}

func unavailable(op string, err error) error {
	var sue *StoreUnavailableError
	if errors.As(err, &sue) {
		return err
	}
	return &StoreUnavailableError{Op: op, Err: err}
}
