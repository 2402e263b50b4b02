package maintenance

import (
	"io"
	"time"

	"github.com/go-faster/errors"
	"github.com/go-faster/jx"

	"github.com/dulcetentacion/storefront/internal/domain/catalog"
)

// snapshotVersion is written into every backup and checked on load.
const snapshotVersion = 1

// EncodeSnapshot writes snap as a JSON document.
func EncodeSnapshot(w io.Writer, snap *catalog.Snapshot, createdAt time.Time) error {
	e := jx.GetEncoder()
	defer jx.PutEncoder(e)

	e.Obj(func(e *jx.Encoder) {
		e.Field("version", func(e *jx.Encoder) { e.Int(snapshotVersion) })
		e.Field("created_at", func(e *jx.Encoder) { e.Str(createdAt.UTC().Format(time.RFC3339)) })
		e.Field("categories", func(e *jx.Encoder) {
			e.Arr(func(e *jx.Encoder) {
				for _, c := range snap.Categories {
					e.Obj(func(e *jx.Encoder) {
						e.Field("id", func(e *jx.Encoder) { e.Int64(c.ID) })
						e.Field("name", func(e *jx.Encoder) { e.Str(c.Name) })
					})
				}
			})
		})
		e.Field("products", func(e *jx.Encoder) {
			e.Arr(func(e *jx.Encoder) {
				for _, p := range snap.Products {
					e.Obj(func(e *jx.Encoder) {
						e.Field("id", func(e *jx.Encoder) { e.Int64(p.ID) })
						e.Field("category_id", func(e *jx.Encoder) {
							if p.CategoryID == nil {
								e.Null()
								return
							}
							e.Int64(*p.CategoryID)
						})
						e.Field("name", func(e *jx.Encoder) { e.Str(p.Name) })
						e.Field("description", func(e *jx.Encoder) { e.Str(p.Description) })
						e.Field("image", func(e *jx.Encoder) { e.Str(p.Image) })
					})
				}
			})
		})
		e.Field("price_options", func(e *jx.Encoder) {
			e.Arr(func(e *jx.Encoder) {
				for _, o := range snap.PriceOptions {
					e.Obj(func(e *jx.Encoder) {
						e.Field("id", func(e *jx.Encoder) { e.Int64(o.ID) })
						e.Field("product_id", func(e *jx.Encoder) { e.Int64(o.ProductID) })
						e.Field("label", func(e *jx.Encoder) { e.Str(o.Label) })
						e.Field("price", func(e *jx.Encoder) { e.Int64(o.Price) })
					})
				}
			})
		})
	})

	if _, err := e.WriteTo(w); err != nil {
		return errors.Wrap(err, "write snapshot")
	}
	return nil
}

// DecodeSnapshot reads a document written by EncodeSnapshot.
func DecodeSnapshot(r io.Reader) (*catalog.Snapshot, error) {
	var (
		snap    catalog.Snapshot
		version int
	)
	d := jx.Decode(r, 32*1024)
	err := d.Obj(func(d *jx.Decoder, key string) error {
		switch key {
		case "version":
			v, err := d.Int()
			version = v
			return err
		case "categories":
			return d.Arr(func(d *jx.Decoder) error {
				var c catalog.Category
				if err := d.Obj(func(d *jx.Decoder, key string) error {
					var err error
					switch key {
					case "id":
						c.ID, err = d.Int64()
					case "name":
						c.Name, err = d.Str()
					default:
						err = d.Skip()
					}
					return err
				}); err != nil {
					return err
				}
				snap.Categories = append(snap.Categories, c)
				return nil
			})
		case "products":
			return d.Arr(func(d *jx.Decoder) error {
				var p catalog.Product
				if err := d.Obj(func(d *jx.Decoder, key string) error {
					var err error
					switch key {
					case "id":
						p.ID, err = d.Int64()
					case "category_id":
						if d.Next() == jx.Null {
							return d.Null()
						}
						var id int64
						id, err = d.Int64()
						p.CategoryID = &id
					case "name":
						p.Name, err = d.Str()
					case "description":
						p.Description, err = d.Str()
					case "image":
						p.Image, err = d.Str()
					default:
						err = d.Skip()
					}
					return err
				}); err != nil {
					return err
				}
				snap.Products = append(snap.Products, p)
				return nil
			})
		case "price_options":
			return d.Arr(func(d *jx.Decoder) error {
				var o catalog.PriceOption
				if err := d.Obj(func(d *jx.Decoder, key string) error {
					var err error
					switch key {
					case "id":
						o.ID, err = d.Int64()
					case "product_id":
						o.ProductID, err = d.Int64()
					case "label":
						o.Label, err = d.Str()
					case "price":
						o.Price, err = d.Int64()
					default:
						err = d.Skip()
					}
					return err
				}); err != nil {
					return err
				}
				snap.PriceOptions = append(snap.PriceOptions, o)
				return nil
			})
		default:
			return d.Skip()
		}
	})
	if err != nil {
		return nil, errors.Wrap(err, "decode snapshot")
	}
	if version != snapshotVersion {
		return nil, errors.Errorf("unsupported snapshot version %d", version)
	}
	return &snap, nil
}
