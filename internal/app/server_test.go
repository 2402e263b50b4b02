package app

import (
	"bytes"
	"context"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/cookiejar"
	"net/http/httptest"
	"net/url"
	"path/filepath"
	"testing"
	"time"

	"github.com/go-faster/jx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	metricnoop "go.opentelemetry.io/otel/metric/noop"
	tracenoop "go.opentelemetry.io/otel/trace/noop"
	"go.uber.org/zap"

	"github.com/dulcetentacion/storefront/internal/domain/image"
	"github.com/dulcetentacion/storefront/pkg/httpmiddleware"
)

func testConfig(t *testing.T) *Config {
	dir := t.TempDir()
	return &Config{
		DataFile:      filepath.Join(dir, "catalog.db"),
		AdminPassword: "secreto",
		SessionSecret: "0123456789abcdef0123456789abcdef",
		BodyLimit:     32 << 20,
		Images: ImagesConfig{
			Dir:         filepath.Join(dir, "uploads"),
			URLPrefix:   "/uploads/",
			MaxBytes:    1 << 20,
			Placeholder: image.Placeholder,
		},
		LoginRateLimit: RateLimitConfig{Max: 5, Window: time.Minute},
	}
}

// startServer wires the application over the embedded store and serves it
// with httptest.
func startServer(t *testing.T, cfg *Config) (*httptest.Server, *http.Client) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	s, err := newServer(ctx, zap.NewNop(), cfg, tracenoop.NewTracerProvider(), metricnoop.NewMeterProvider())
	require.NoError(t, err)
	t.Cleanup(s.close)

	s.health.Start(ctx, time.Hour)
	t.Cleanup(s.health.Stop)
	s.health.SetReady(true)

	srv := httptest.NewServer(s.handler)
	t.Cleanup(srv.Close)

	jar, err := cookiejar.New(nil)
	require.NoError(t, err)
	return srv, &http.Client{
		Jar: jar,
		CheckRedirect: func(*http.Request, []*http.Request) error {
			return http.ErrUseLastResponse
		},
	}
}

func body(t *testing.T, resp *http.Response) string {
	t.Helper()
	defer func() { _ = resp.Body.Close() }()
	b, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return string(b)
}

func menuProducts(t *testing.T, doc string) map[string]string {
	t.Helper()
	images := map[string]string{}
	collect := func(d *jx.Decoder) error {
		return d.Arr(func(d *jx.Decoder) error {
			var name, img string
			if err := d.Obj(func(d *jx.Decoder, key string) error {
				var err error
				switch key {
				case "name":
					name, err = d.Str()
				case "image":
					img, err = d.Str()
				default:
					err = d.Skip()
				}
				return err
			}); err != nil {
				return err
			}
			images[name] = img
			return nil
		})
	}
	require.NoError(t, jx.DecodeStr(doc).Obj(func(d *jx.Decoder, key string) error {
		switch key {
		case "categories":
			return d.Arr(func(d *jx.Decoder) error {
				return d.Obj(func(d *jx.Decoder, key string) error {
					if key == "products" {
						return collect(d)
					}
					return d.Skip()
				})
			})
		case "uncategorized":
			return collect(d)
		default:
			return d.Skip()
		}
	}))
	return images
}

func TestServer_Health(t *testing.T) {
	srv, client := startServer(t, testConfig(t))

	for _, path := range []string{"/livez", "/readyz"} {
		resp, err := client.Get(srv.URL + path)
		require.NoError(t, err)
		assert.JSONEq(t, `{"status":"ok"}`, body(t, resp), path)
		assert.Equal(t, http.StatusOK, resp.StatusCode, path)
	}
}

func TestServer_RequestID(t *testing.T) {
	srv, client := startServer(t, testConfig(t))

	resp, err := client.Get(srv.URL + "/")
	require.NoError(t, err)
	_ = body(t, resp)
	assert.NotEmpty(t, resp.Header.Get(httpmiddleware.RequestIDHeader))

	req, err := http.NewRequest(http.MethodGet, srv.URL+"/", nil)
	require.NoError(t, err)
	req.Header.Set(httpmiddleware.RequestIDHeader, "abc-123")
	resp, err = client.Do(req)
	require.NoError(t, err)
	_ = body(t, resp)
	assert.Equal(t, "abc-123", resp.Header.Get(httpmiddleware.RequestIDHeader))
}

func TestServer_SeededMenu(t *testing.T) {
	cfg := testConfig(t)
	srv, client := startServer(t, cfg)

	resp, err := client.Get(srv.URL + "/api/menu")
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	products := menuProducts(t, body(t, resp))

	assert.Len(t, products, 9)
	assert.Equal(t, image.Placeholder, products["Brownie con Helado"])

	resp, err = client.Get(srv.URL + "/menu")
	require.NoError(t, err)
	page := body(t, resp)
	for _, name := range []string{"General", "Obleas", "Fresas con Crema", "Postres", "Bebidas"} {
		assert.Contains(t, page, name)
	}
}

func TestServer_SeedRunsOnce(t *testing.T) {
	cfg := testConfig(t)

	ctx := context.Background()
	for range 2 {
		s, err := newServer(ctx, zap.NewNop(), cfg, tracenoop.NewTracerProvider(), metricnoop.NewMeterProvider())
		require.NoError(t, err)
		s.close()
	}

	srv, client := startServer(t, cfg)
	resp, err := client.Get(srv.URL + "/api/menu")
	require.NoError(t, err)
	assert.Len(t, menuProducts(t, body(t, resp)), 9)
}

func TestServer_AdminAddWithImage(t *testing.T) {
	srv, client := startServer(t, testConfig(t))

	resp, err := client.PostForm(srv.URL+"/login", url.Values{"password": {"secreto"}})
	require.NoError(t, err)
	_ = body(t, resp)
	require.Equal(t, http.StatusSeeOther, resp.StatusCode)

	var form bytes.Buffer
	mw := multipart.NewWriter(&form)
	require.NoError(t, mw.WriteField("action", "add"))
	require.NoError(t, mw.WriteField("nombre", "Torta de Café"))
	require.NoError(t, mw.WriteField("precio", "38000"))
	fw, err := mw.CreateFormFile("imagen", "torta.PNG")
	require.NoError(t, err)
	_, err = fw.Write([]byte("\x89PNG fake"))
	require.NoError(t, err)
	require.NoError(t, mw.Close())

	resp, err = client.Post(srv.URL+"/editserver", mw.FormDataContentType(), &form)
	require.NoError(t, err)
	_ = body(t, resp)
	require.Equal(t, http.StatusSeeOther, resp.StatusCode)

	resp, err = client.Get(srv.URL + "/api/menu")
	require.NoError(t, err)
	ref := menuProducts(t, body(t, resp))["Torta de Café"]
	assert.Equal(t, "/uploads/torta_de_cafe.png", ref)

	resp, err = client.Get(srv.URL + ref)
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "\x89PNG fake", body(t, resp))
}

func TestServer_EditorRequiresLogin(t *testing.T) {
	srv, client := startServer(t, testConfig(t))

	resp, err := client.Get(srv.URL + "/editserver")
	require.NoError(t, err)
	_ = body(t, resp)
	assert.Equal(t, http.StatusSeeOther, resp.StatusCode)
	assert.Equal(t, "/login", resp.Header.Get("Location"))
}
