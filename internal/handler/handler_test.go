package handler

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/cookiejar"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/go-faster/errors"
	"github.com/go-faster/jx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/dulcetentacion/storefront/internal/domain/catalog"
	"github.com/dulcetentacion/storefront/internal/domain/image"
)

// --- Mock implementations ---

type mockCatalog struct {
	menu    *catalog.Menu
	listing *catalog.AdminListing
	readErr error

	addReq  *catalog.AddProductRequest
	addRes  *catalog.AddProductResult
	editReq *catalog.EditProductRequest
	editRes *catalog.EditProductResult
	deleted []int64
	err     error
}

func (m *mockCatalog) Menu(context.Context) (*catalog.Menu, error) {
	return m.menu, m.readErr
}

func (m *mockCatalog) AdminListing(context.Context) (*catalog.AdminListing, error) {
	return m.listing, m.readErr
}

func (m *mockCatalog) AddProduct(_ context.Context, req catalog.AddProductRequest) (*catalog.AddProductResult, error) {
	m.addReq = &req
	if m.err != nil {
		return nil, m.err
	}
	if m.addRes != nil {
		return m.addRes, nil
	}
	return &catalog.AddProductResult{Product: &catalog.Product{ID: 1, Name: req.Name}}, nil
}

func (m *mockCatalog) EditProduct(_ context.Context, req catalog.EditProductRequest) (*catalog.EditProductResult, error) {
	m.editReq = &req
	if m.err != nil {
		return nil, m.err
	}
	if m.editRes != nil {
		return m.editRes, nil
	}
	return &catalog.EditProductResult{Product: &catalog.Product{ID: req.ID, Name: req.Name}}, nil
}

func (m *mockCatalog) DeleteProduct(_ context.Context, id int64) error {
	if m.err != nil {
		return m.err
	}
	m.deleted = append(m.deleted, id)
	return nil
}

// --- Helpers ---

const testPassword = "secreto"

func ptr[T any](v T) *T { return &v }

func testMenu() *catalog.Menu {
	cats := []catalog.Category{{ID: 1, Name: "Obleas"}, {ID: 2, Name: "Tortas"}}
	prods := []catalog.Product{
		{ID: 1, CategoryID: ptr[int64](1), Name: "Oblea Clásica", Description: "Arequipe", Image: "/uploads/oblea.png"},
		{ID: 2, Name: "Brownie", Image: image.Placeholder},
	}
	opts := []catalog.PriceOption{
		{ID: 1, ProductID: 1, Label: catalog.DefaultOptionLabel, Price: 12000},
		{ID: 2, ProductID: 2, Label: catalog.DefaultOptionLabel, Price: 4500},
	}
	return catalog.BuildMenu(cats, prods, opts)
}

func newTestServer(t *testing.T, c Catalog, mutate ...func(*Config)) (*httptest.Server, *http.Client) {
	t.Helper()

	hash, err := bcrypt.GenerateFromPassword([]byte(testPassword), bcrypt.MinCost)
	require.NoError(t, err)

	cfg := Config{
		SessionSecret:  []byte("0123456789abcdef0123456789abcdef"),
		PasswordHash:   hash,
		MaxUploadBytes: 5 << 20,
		LoginAttempts:  5,
		LoginWindow:    time.Minute,
	}
	for _, f := range mutate {
		f(&cfg)
	}
	h, err := New(c, cfg)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	srv := httptest.NewServer(h.Routes(ctx))
	t.Cleanup(srv.Close)

	jar, err := cookiejar.New(nil)
	require.NoError(t, err)
	client := &http.Client{
		Jar: jar,
		CheckRedirect: func(*http.Request, []*http.Request) error {
			return http.ErrUseLastResponse
		},
	}
	return srv, client
}

func readBody(t *testing.T, resp *http.Response) string {
	t.Helper()
	defer func() { _ = resp.Body.Close() }()
	b, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return string(b)
}

func get(t *testing.T, client *http.Client, u string) (*http.Response, string) {
	t.Helper()
	resp, err := client.Get(u)
	require.NoError(t, err)
	return resp, readBody(t, resp)
}

func loginAs(t *testing.T, srv *httptest.Server, client *http.Client) {
	t.Helper()
	resp, err := client.PostForm(srv.URL+"/login", url.Values{"password": {testPassword}})
	require.NoError(t, err)
	_ = readBody(t, resp)
	require.Equal(t, http.StatusSeeOther, resp.StatusCode)
	require.Equal(t, "/editserver", resp.Header.Get("Location"))
}

// postEditor submits a multipart editor form and returns the flash page
// rendered after following the redirect.
func postEditor(t *testing.T, srv *httptest.Server, client *http.Client, fields map[string]string, file *image.Upload) string {
	t.Helper()

	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	for k, v := range fields {
		require.NoError(t, mw.WriteField(k, v))
	}
	if file != nil {
		fw, err := mw.CreateFormFile("imagen", file.Filename)
		require.NoError(t, err)
		_, err = fw.Write(file.Data)
		require.NoError(t, err)
	}
	require.NoError(t, mw.Close())

	resp, err := client.Post(srv.URL+"/editserver", mw.FormDataContentType(), &body)
	require.NoError(t, err)
	_ = readBody(t, resp)
	require.Equal(t, http.StatusSeeOther, resp.StatusCode)
	require.Equal(t, "/editserver", resp.Header.Get("Location"))

	resp, page := get(t, client, srv.URL+"/editserver")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	return page
}

// --- Tests ---

func TestNew_RequiresSecrets(t *testing.T) {
	_, err := New(&mockCatalog{}, Config{PasswordHash: []byte("x")})
	require.Error(t, err)

	_, err = New(&mockCatalog{}, Config{SessionSecret: []byte("x")})
	require.Error(t, err)
}

func TestPublicPages(t *testing.T) {
	srv, client := newTestServer(t, &mockCatalog{menu: testMenu()})

	tests := []struct {
		path string
		want string
	}{
		{"/", "Dulce Tentación"},
		{"/carrito", "Carrito"},
		{"/info", "Información"},
		{"/contacto", "Contacto"},
		{"/login", `name="password"`},
		{"/static/style.css", "body"},
	}
	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			resp, body := get(t, client, srv.URL+tt.path)
			assert.Equal(t, http.StatusOK, resp.StatusCode)
			assert.Contains(t, body, tt.want)
		})
	}
}

func TestPublicPages_NoSessionCookie(t *testing.T) {
	srv, client := newTestServer(t, &mockCatalog{menu: &catalog.Menu{}})

	for _, path := range []string{"/", "/menu", "/info", "/login"} {
		resp, _ := get(t, client, srv.URL+path)
		assert.Equal(t, http.StatusOK, resp.StatusCode, path)
		assert.Empty(t, resp.Header.Values("Set-Cookie"), path)
	}
}

func TestNotFound(t *testing.T) {
	srv, client := newTestServer(t, &mockCatalog{})

	resp, _ := get(t, client, srv.URL+"/no-existe")
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestMenuPage(t *testing.T) {
	srv, client := newTestServer(t, &mockCatalog{menu: testMenu()})

	resp, body := get(t, client, srv.URL+"/menu")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, body, "Obleas")
	assert.Contains(t, body, "Oblea Clásica")
	assert.Contains(t, body, "$12.000")
	assert.Contains(t, body, "Brownie")
	assert.Contains(t, body, "$4.500")
	// Empty category is still listed.
	assert.Contains(t, body, "Tortas")
	assert.Contains(t, body, `data-option="1"`)
}

func TestMenuPage_Error(t *testing.T) {
	srv, client := newTestServer(t, &mockCatalog{readErr: errors.New("db down")})

	resp, _ := get(t, client, srv.URL+"/menu")
	assert.Equal(t, http.StatusInternalServerError, resp.StatusCode)
}

func TestAPIMenu(t *testing.T) {
	srv, client := newTestServer(t, &mockCatalog{menu: testMenu()})

	resp, body := get(t, client, srv.URL+"/api/menu")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "application/json", resp.Header.Get("Content-Type"))

	var (
		categories []string
		products   []string
		prices     []int64
	)
	d := jx.DecodeStr(body)
	require.NoError(t, d.Obj(func(d *jx.Decoder, key string) error {
		switch key {
		case "categories":
			return d.Arr(func(d *jx.Decoder) error {
				return d.Obj(func(d *jx.Decoder, key string) error {
					switch key {
					case "name":
						name, err := d.Str()
						categories = append(categories, name)
						return err
					case "products":
						return decodeProducts(d, &products, &prices)
					default:
						return d.Skip()
					}
				})
			})
		case "uncategorized":
			return decodeProducts(d, &products, &prices)
		default:
			return d.Skip()
		}
	}))

	assert.Equal(t, []string{"Obleas", "Tortas"}, categories)
	assert.Equal(t, []string{"Oblea Clásica", "Brownie"}, products)
	assert.Equal(t, []int64{12000, 4500}, prices)
}

func decodeProducts(d *jx.Decoder, names *[]string, prices *[]int64) error {
	return d.Arr(func(d *jx.Decoder) error {
		return d.Obj(func(d *jx.Decoder, key string) error {
			switch key {
			case "name":
				name, err := d.Str()
				*names = append(*names, name)
				return err
			case "options":
				return d.Arr(func(d *jx.Decoder) error {
					return d.Obj(func(d *jx.Decoder, key string) error {
						if key != "price" {
							return d.Skip()
						}
						p, err := d.Int64()
						*prices = append(*prices, p)
						return err
					})
				})
			default:
				return d.Skip()
			}
		})
	})
}

func TestAPIMenu_Error(t *testing.T) {
	srv, client := newTestServer(t, &mockCatalog{readErr: errors.New("db down")})

	resp, body := get(t, client, srv.URL+"/api/menu")
	assert.Equal(t, http.StatusInternalServerError, resp.StatusCode)
	assert.JSONEq(t, `{"error":"menu unavailable"}`, body)
}

func TestEditor_RequiresLogin(t *testing.T) {
	srv, client := newTestServer(t, &mockCatalog{listing: &catalog.AdminListing{}})

	resp, _ := get(t, client, srv.URL+"/editserver")
	assert.Equal(t, http.StatusSeeOther, resp.StatusCode)
	assert.Equal(t, "/login", resp.Header.Get("Location"))

	resp, err := client.PostForm(srv.URL+"/editserver", url.Values{"action": {"delete"}, "producto_id": {"1"}})
	require.NoError(t, err)
	_ = readBody(t, resp)
	assert.Equal(t, http.StatusSeeOther, resp.StatusCode)
	assert.Equal(t, "/login", resp.Header.Get("Location"))
}

func TestLogin(t *testing.T) {
	listing := &catalog.AdminListing{
		Products: []catalog.ProductWithPrice{
			{Product: catalog.Product{ID: 7, Name: "Oblea", Image: image.Placeholder}, OptionID: ptr[int64](3), Price: ptr[int64](12000)},
			{Product: catalog.Product{ID: 8, Name: "Sin precio", Image: image.Placeholder}},
		},
		Categories: []catalog.Category{{ID: 1, Name: "Obleas"}},
	}
	srv, client := newTestServer(t, &mockCatalog{listing: listing})

	t.Run("WrongPassword", func(t *testing.T) {
		resp, err := client.PostForm(srv.URL+"/login", url.Values{"password": {"nope"}})
		require.NoError(t, err)
		body := readBody(t, resp)
		assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
		assert.Contains(t, body, "Contraseña incorrecta")

		resp, _ = get(t, client, srv.URL+"/editserver")
		assert.Equal(t, http.StatusSeeOther, resp.StatusCode)
	})

	t.Run("Success", func(t *testing.T) {
		loginAs(t, srv, client)

		resp, body := get(t, client, srv.URL+"/editserver")
		require.Equal(t, http.StatusOK, resp.StatusCode)
		assert.Contains(t, body, "Oblea")
		assert.Contains(t, body, "$12.000")
		assert.Contains(t, body, "Sin precio")
		assert.Contains(t, body, "Obleas")

		// Already logged in: the login page forwards to the editor.
		resp, _ = get(t, client, srv.URL+"/login")
		assert.Equal(t, http.StatusSeeOther, resp.StatusCode)
		assert.Equal(t, "/editserver", resp.Header.Get("Location"))
	})

	t.Run("Logout", func(t *testing.T) {
		resp, _ := get(t, client, srv.URL+"/logout")
		assert.Equal(t, http.StatusSeeOther, resp.StatusCode)

		resp, _ = get(t, client, srv.URL+"/editserver")
		assert.Equal(t, http.StatusSeeOther, resp.StatusCode)
		assert.Equal(t, "/login", resp.Header.Get("Location"))
	})
}

func TestLogin_RateLimited(t *testing.T) {
	srv, client := newTestServer(t, &mockCatalog{}, func(c *Config) {
		c.LoginAttempts = 2
		c.LoginWindow = time.Hour
	})

	for range 2 {
		resp, err := client.PostForm(srv.URL+"/login", url.Values{"password": {"nope"}})
		require.NoError(t, err)
		_ = readBody(t, resp)
		require.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	}

	resp, err := client.PostForm(srv.URL+"/login", url.Values{"password": {testPassword}})
	require.NoError(t, err)
	body := readBody(t, resp)
	assert.Equal(t, http.StatusTooManyRequests, resp.StatusCode)
	assert.NotEmpty(t, resp.Header.Get("Retry-After"))
	assert.Contains(t, body, "Demasiados intentos")
}

func TestLogin_RateLimitIgnoresForwardedFor(t *testing.T) {
	srv, client := newTestServer(t, &mockCatalog{}, func(c *Config) {
		c.LoginAttempts = 2
		c.LoginWindow = time.Hour
	})

	codes := make([]int, 0, 4)
	for i := range 4 {
		req, err := http.NewRequest(http.MethodPost, srv.URL+"/login", strings.NewReader("password=nope"))
		require.NoError(t, err)
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
		req.Header.Set("X-Forwarded-For", fmt.Sprintf("203.0.113.%d", i+1))
		resp, err := client.Do(req)
		require.NoError(t, err)
		_ = readBody(t, resp)
		codes = append(codes, resp.StatusCode)
	}
	assert.Equal(t, []int{
		http.StatusUnauthorized,
		http.StatusUnauthorized,
		http.StatusTooManyRequests,
		http.StatusTooManyRequests,
	}, codes)
}

func TestEditor_Add(t *testing.T) {
	m := &mockCatalog{listing: &catalog.AdminListing{}}
	srv, client := newTestServer(t, m)
	loginAs(t, srv, client)

	page := postEditor(t, srv, client, map[string]string{
		"action":       "add",
		"nombre":       "Torta de Chocolate",
		"descripcion":  "Húmeda",
		"precio":       "45000",
		"categoria_id": "2",
	}, &image.Upload{Filename: "torta.png", Data: []byte("png-bytes")})

	require.NotNil(t, m.addReq)
	assert.Equal(t, "Torta de Chocolate", m.addReq.Name)
	assert.Equal(t, "Húmeda", m.addReq.Description)
	assert.Equal(t, int64(45000), m.addReq.Price)
	require.NotNil(t, m.addReq.CategoryID)
	assert.Equal(t, int64(2), *m.addReq.CategoryID)
	require.NotNil(t, m.addReq.Image)
	assert.Equal(t, "torta.png", m.addReq.Image.Filename)
	assert.Equal(t, []byte("png-bytes"), m.addReq.Image.Data)

	assert.Contains(t, page, "Torta de Chocolate")
	assert.Contains(t, page, "agregado")

	// Flashes are shown once.
	_, page = get(t, client, srv.URL+"/editserver")
	assert.NotContains(t, page, "agregado")
}

func TestEditor_AddWithoutImage(t *testing.T) {
	m := &mockCatalog{listing: &catalog.AdminListing{}}
	srv, client := newTestServer(t, m)
	loginAs(t, srv, client)

	postEditor(t, srv, client, map[string]string{
		"action": "add",
		"nombre": "Brownie",
		"precio": "4500",
	}, nil)

	require.NotNil(t, m.addReq)
	assert.Nil(t, m.addReq.Image)
	assert.Nil(t, m.addReq.CategoryID)
}

func TestEditor_AddImageFallback(t *testing.T) {
	m := &mockCatalog{
		listing: &catalog.AdminListing{},
		addRes: &catalog.AddProductResult{
			Product:  &catalog.Product{ID: 3, Name: "Brownie", Image: image.Placeholder},
			ImageErr: &image.PayloadTooLargeError{Size: 6 << 20, Limit: 5 << 20},
		},
	}
	srv, client := newTestServer(t, m)
	loginAs(t, srv, client)

	page := postEditor(t, srv, client, map[string]string{
		"action": "add",
		"nombre": "Brownie",
		"precio": "4500",
	}, &image.Upload{Filename: "big.png", Data: []byte("x")})

	assert.Contains(t, page, "imagen por defecto")
	assert.Contains(t, page, "supera 5 MB")
}

func TestEditor_Errors(t *testing.T) {
	tests := []struct {
		name   string
		fields map[string]string
		err    error
		want   string
	}{
		{
			name:   "BadPrice",
			fields: map[string]string{"action": "add", "nombre": "X", "precio": "doce"},
			want:   "Campo precio",
		},
		{
			name:   "NegativePrice",
			fields: map[string]string{"action": "add", "nombre": "X", "precio": "-1"},
			want:   "Campo precio",
		},
		{
			name:   "BadCategory",
			fields: map[string]string{"action": "add", "nombre": "X", "precio": "1", "categoria_id": "abc"},
			want:   "Campo categoria_id",
		},
		{
			name:   "MissingCategory",
			fields: map[string]string{"action": "add", "nombre": "X", "precio": "1", "categoria_id": "99"},
			err:    catalog.ErrCategoryNotFound,
			want:   "Categoría no encontrada",
		},
		{
			name:   "Validation",
			fields: map[string]string{"action": "add", "nombre": " ", "precio": "1"},
			err:    &catalog.ValidationError{Field: "nombre", Reason: "required"},
			want:   "Campo nombre: required",
		},
		{
			name:   "EditMissingID",
			fields: map[string]string{"action": "edit", "nombre": "X", "precio": "1"},
			want:   "Campo producto_id",
		},
		{
			name:   "EditNotFound",
			fields: map[string]string{"action": "edit", "producto_id": "99", "nombre": "X", "precio": "1"},
			err:    catalog.ErrNotFound,
			want:   "Producto no encontrado",
		},
		{
			name:   "DeleteBadID",
			fields: map[string]string{"action": "delete", "producto_id": "0"},
			want:   "Campo producto_id",
		},
		{
			name:   "Unexpected",
			fields: map[string]string{"action": "delete", "producto_id": "4"},
			err:    errors.New("connection reset"),
			want:   "No se pudo completar",
		},
		{
			name:   "UnknownAction",
			fields: map[string]string{"action": "rename"},
			want:   "Acción desconocida",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := &mockCatalog{listing: &catalog.AdminListing{}, err: tt.err}
			srv, client := newTestServer(t, m)
			loginAs(t, srv, client)

			page := postEditor(t, srv, client, tt.fields, nil)
			assert.Contains(t, page, tt.want)
			assert.Contains(t, page, "flash-error")
		})
	}
}

func TestEditor_Edit(t *testing.T) {
	m := &mockCatalog{listing: &catalog.AdminListing{}}
	srv, client := newTestServer(t, m)
	loginAs(t, srv, client)

	page := postEditor(t, srv, client, map[string]string{
		"action":      "edit",
		"producto_id": "5",
		"nombre":      "Oblea Especial",
		"descripcion": "Con queso",
		"precio":      "15000",
	}, nil)

	require.NotNil(t, m.editReq)
	assert.Equal(t, int64(5), m.editReq.ID)
	assert.Equal(t, "Oblea Especial", m.editReq.Name)
	assert.Equal(t, "Con queso", m.editReq.Description)
	assert.Equal(t, int64(15000), m.editReq.Price)
	assert.Nil(t, m.editReq.Image)
	assert.Contains(t, page, "actualizado")
}

func TestEditor_Delete(t *testing.T) {
	m := &mockCatalog{listing: &catalog.AdminListing{}}
	srv, client := newTestServer(t, m)
	loginAs(t, srv, client)

	// Plain urlencoded forms are accepted too.
	resp, err := client.PostForm(srv.URL+"/editserver", url.Values{
		"action":      {"delete"},
		"producto_id": {"9"},
	})
	require.NoError(t, err)
	_ = readBody(t, resp)
	require.Equal(t, http.StatusSeeOther, resp.StatusCode)

	assert.Equal(t, []int64{9}, m.deleted)
	_, page := get(t, client, srv.URL+"/editserver")
	assert.Contains(t, page, "Producto eliminado")
}

func TestEditor_BodyLimit(t *testing.T) {
	m := &mockCatalog{listing: &catalog.AdminListing{}}
	srv, client := newTestServer(t, m, func(c *Config) {
		c.BodyLimit = 1 << 10
	})
	loginAs(t, srv, client)

	page := postEditor(t, srv, client, map[string]string{
		"action": "add",
		"nombre": "Grande",
		"precio": "1",
	}, &image.Upload{Filename: "big.png", Data: bytes.Repeat([]byte("a"), 4<<10)})

	assert.Nil(t, m.addReq)
	assert.Contains(t, page, "demasiado grande")
}

func TestUploadsMounted(t *testing.T) {
	uploads := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, "img:"+strings.TrimPrefix(r.URL.Path, "/uploads/"))
	})
	srv, client := newTestServer(t, &mockCatalog{}, func(c *Config) {
		c.Uploads = uploads
	})

	resp, body := get(t, client, srv.URL+"/uploads/abc.png")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "img:abc.png", body)
}

func TestFormatPrice(t *testing.T) {
	tests := []struct {
		in   int64
		want string
	}{
		{0, "$0"},
		{999, "$999"},
		{1000, "$1.000"},
		{12000, "$12.000"},
		{1234567, "$1.234.567"},
		{-4500, "-$4.500"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, formatPrice(tt.in))
	}
}
