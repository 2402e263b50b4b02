// Package image defines the product image store contract and the policy
// applied to every upload: identifier derivation, size limit and the
// extension allow-list.
package image

import (
	"context"
	"fmt"
	"time"
)

// Placeholder is the default image reference used when a product has no
// stored image.
const Placeholder = "https://via.placeholder.com/300x300.png?text=Sin+Imagen"

// DefaultMaxBytes is the default upload size limit (5 MiB).
const DefaultMaxBytes = 5 << 20

// Upload is an image file received from a client.
type Upload struct {
	Filename string
	Data     []byte
}

// Asset describes an object held by an image store.
type Asset struct {
	ID        string
	Ref       string
	Bytes     int64
	CreatedAt time.Time
}

// Store persists product images. Put stores the upload under id, replacing
// any previous object with the same id, and returns a durable reference.
// Delete removes the object behind ref and is a no-op for unknown refs.
type Store interface {
	Put(ctx context.Context, up Upload, id string) (string, error)
	Delete(ctx context.Context, ref string) error
}

// Inventory is implemented by stores that can enumerate their objects.
// Resolve maps a product image reference to the id of the object it points
// to, reporting false for references the store does not own.
type Inventory interface {
	List(ctx context.Context) ([]Asset, error)
	Resolve(ref string) (string, bool)
}

// PayloadTooLargeError is returned for uploads above the configured limit.
type PayloadTooLargeError struct {
	Size  int64
	Limit int64
}

func (e *PayloadTooLargeError) Error() string {
	return fmt.Sprintf("image is %d bytes, limit is %d", e.Size, e.Limit)
}

// UnsupportedFormatError is returned for uploads whose extension is not in
// the allow-list.
type UnsupportedFormatError struct {
	Ext string
}

func (e *UnsupportedFormatError) Error() string {
	if e.Ext == "" {
		return "image has no extension"
	}
	return fmt.Sprintf("image format %q is not supported", e.Ext)
}

// StoreUnavailableError wraps a failure of the image backend.
type StoreUnavailableError struct {
	Op  string
	Err error
}

func (e *StoreUnavailableError) Error() string {
	return fmt.Sprintf("image store %s: %v", e.Op, e.Err)
}

func (e *StoreUnavailableError) Unwrap() error {
	return e.Err
}
