// Package cloudinary stores product images in a Cloudinary folder.
package cloudinary

import (
	"bytes"
	"context"
	"net/url"
	"regexp"
	"strings"

	sdk "github.com/cloudinary/cloudinary-go/v2"
	"github.com/cloudinary/cloudinary-go/v2/api"
	"github.com/cloudinary/cloudinary-go/v2/api/admin"
	"github.com/cloudinary/cloudinary-go/v2/api/uploader"
	"github.com/go-faster/errors"

	"github.com/dulcetentacion/storefront/internal/domain/image"
)

// DefaultFolder is the folder product images are uploaded to.
const DefaultFolder = "dulce_tentacion"

// assetsPageSize is the largest page the Admin API returns.
const assetsPageSize = 500

var (
	_ image.Store     = (*Store)(nil)
	_ image.Inventory = (*Store)(nil)
)

// Config holds the account credentials.
type Config struct {
	CloudName string
	APIKey    string
	APISecret string
	Folder    string
}

// client is the subset of the Cloudinary SDK the store uses.
type client interface {
	Upload(ctx context.Context, data []byte, publicID string) (string, error)
	Destroy(ctx context.Context, publicID string) error
	Assets(ctx context.Context, prefix, cursor string) ([]api.BriefAssetResult, string, error)
}

// Store implements image.Store on Cloudinary. References are the secure
// delivery URLs returned on upload.
type Store struct {
	client client
	folder string
}

// New creates a Store from account credentials.
func New(cfg Config) (*Store, error) {
	if cfg.CloudName == "" || cfg.APIKey == "" || cfg.APISecret == "" {
		return nil, errors.New("cloudinary credentials are incomplete")
	}
	cld, err := sdk.NewFromParams(cfg.CloudName, cfg.APIKey, cfg.APISecret)
	if err != nil {
		return nil, errors.Wrap(err, "create cloudinary client")
	}
	return newStore(&sdkClient{cld: cld}, cfg.Folder), nil
}

func newStore(c client, folder string) *Store {
	folder = strings.Trim(folder, "/")
	if folder == "" {
		folder = DefaultFolder
	}
	return &Store{client: c, folder: folder}
}

// Folder returns the folder images are stored in.
func (s *Store) Folder() string { return s.folder }

// Put uploads the image as <folder>/<id>, overwriting and invalidating any
// previous version.
func (s *Store) Put(ctx context.Context, up image.Upload, id string) (string, error) {
	if id == "" || strings.Contains(id, "/") {
		return "", errors.Errorf("invalid image id %q", id)
	}
	ref, err := s.client.Upload(ctx, up.Data, s.folder+"/"+id)
	if err != nil {
		return "", errors.Wrapf(err, "upload %s", id)
	}
	return ref, nil
}

// Delete destroys the asset behind a Cloudinary delivery URL. Other
// references are ignored.
func (s *Store) Delete(ctx context.Context, ref string) error {
	publicID, ok := PublicID(ref)
	if !ok {
		return nil
	}
	if err := s.client.Destroy(ctx, publicID); err != nil {
		return errors.Wrapf(err, "destroy %s", publicID)
	}
	return nil
}

// List pages through every image in the folder.
func (s *Store) List(ctx context.Context) ([]image.Asset, error) {
	prefix := s.folder + "/"
	var (
		assets []image.Asset
		cursor string
	)
	for {
		page, next, err := s.client.Assets(ctx, prefix, cursor)
		if err != nil {
			return nil, errors.Wrap(err, "list assets")
		}
		for _, a := range page {
			assets = append(assets, image.Asset{
				ID:        strings.TrimPrefix(a.PublicID, prefix),
				Ref:       a.SecureURL,
				Bytes:     int64(a.Bytes),
				CreatedAt: a.CreatedAt,
			})
		}
		if next == "" {
			return assets, nil
		}
		cursor = next
	}
}

// Resolve returns the image id of a delivery URL pointing into the folder.
func (s *Store) Resolve(ref string) (string, bool) {
	publicID, ok := PublicID(ref)
	if !ok {
		return "", false
	}
	return strings.CutPrefix(publicID, s.folder+"/")
}

var versionSegment = regexp.MustCompile(`^v\d+$`)

// PublicID extracts the public id from a Cloudinary delivery URL of the form
// https://res.cloudinary.com/<cloud>/image/upload/[v<version>/]<public_id>.<ext>.
func PublicID(ref string) (string, bool) {
	u, err := url.Parse(ref)
	if err != nil || !deliveryHost(u.Hostname()) {
		return "", false
	}
	_, rest, ok := strings.Cut(u.Path, "/upload/")
	if !ok {
		return "", false
	}
	segments := strings.Split(rest, "/")
	if len(segments) > 1 && versionSegment.MatchString(segments[0]) {
		segments = segments[1:]
	}
	publicID := strings.Join(segments, "/")
	if i := strings.LastIndex(publicID, "."); i > strings.LastIndex(publicID, "/") {
		publicID = publicID[:i]
	}
	if publicID == "" {
		return "", false
	}
	return publicID, true
}

// deliveryHost reports whether host is cloudinary.com or one of its
// subdomains.
func deliveryHost(host string) bool {
	host = strings.ToLower(host)
	return host == "cloudinary.com" || strings.HasSuffix(host, ".cloudinary.com")
}

// sdkClient adapts the Cloudinary SDK to client.
type sdkClient struct {
	cld *sdk.Cloudinary
}

func (c *sdkClient) Upload(ctx context.Context, data []byte, publicID string) (string, error) {
	resp, err := c.cld.Upload.Upload(ctx, bytes.NewReader(data), uploader.UploadParams{
		PublicID:   publicID,
		Overwrite:  api.Bool(true),
		Invalidate: api.Bool(true),
	})
	if err != nil {
		return "", err
	}
	if resp.Error.Message != "" {
		return "", errors.New(resp.Error.Message)
	}
	return resp.SecureURL, nil
}

func (c *sdkClient) Destroy(ctx context.Context, publicID string) error {
	resp, err := c.cld.Upload.Destroy(ctx, uploader.DestroyParams{
		PublicID:   publicID,
		Invalidate: api.Bool(true),
	})
	if err != nil {
		return err
	}
	if resp.Error.Message != "" {
		return errors.New(resp.Error.Message)
	}
	return nil
}

func (c *sdkClient) Assets(ctx context.Context, prefix, cursor string) ([]api.BriefAssetResult, string, error) {
	resp, err := c.cld.Admin.Assets(ctx, admin.AssetsParams{
		DeliveryType: "upload",
		Prefix:       prefix,
		MaxResults:   assetsPageSize,
		NextCursor:   cursor,
	})
	if err != nil {
		return nil, "", err
	}
	if resp.Error.Message != "" {
		return nil, "", errors.New(resp.Error.Message)
	}
	return resp.Assets, resp.NextCursor, nil
}
