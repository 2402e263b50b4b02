// Package handler serves the storefront pages, the JSON menu and the admin
// editor over HTTP.
package handler

import (
	"context"
	"embed"
	"io/fs"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-faster/errors"
	"github.com/gorilla/sessions"

	"github.com/dulcetentacion/storefront/internal/domain/catalog"
	"github.com/dulcetentacion/storefront/pkg/httpmiddleware"
)

//go:embed static
var staticFS embed.FS

// Catalog is the catalog service as used by the handlers.
type Catalog interface {
	Menu(ctx context.Context) (*catalog.Menu, error)
	AdminListing(ctx context.Context) (*catalog.AdminListing, error)
	AddProduct(ctx context.Context, req catalog.AddProductRequest) (*catalog.AddProductResult, error)
	EditProduct(ctx context.Context, req catalog.EditProductRequest) (*catalog.EditProductResult, error)
	DeleteProduct(ctx context.Context, id int64) error
}

// Config holds the handler settings.
type Config struct {
	// SessionSecret signs the session cookie.
	SessionSecret []byte
	// PasswordHash is the bcrypt hash of the admin password.
	PasswordHash []byte
	// SecureCookie marks the session cookie Secure.
	SecureCookie bool
	// MaxUploadBytes is the image limit shown in the editor.
	MaxUploadBytes int64
	// BodyLimit caps editor request bodies. Images between MaxUploadBytes
	// and BodyLimit still save the product with the placeholder.
	BodyLimit int64
	// LoginAttempts and LoginWindow limit POST /login per client.
	LoginAttempts int
	LoginWindow   time.Duration
	// TrustProxy keys the login limiter on X-Forwarded-For instead of the
	// connection address.
	TrustProxy bool
	// Uploads serves stored images under UploadsPrefix when set.
	Uploads       http.Handler
	UploadsPrefix string
}

// Handler holds the dependencies of the HTTP handlers.
type Handler struct {
	catalog   Catalog
	sessions  sessions.Store
	password  []byte
	pages     *pages
	maxUpload int64
	bodyLimit int64

	loginAttempts int
	loginWindow   time.Duration
	trustProxy    bool
	uploads       http.Handler
	uploadsPrefix string
}

// New creates a Handler.
func New(c Catalog, cfg Config) (*Handler, error) {
	if len(cfg.SessionSecret) == 0 {
		return nil, errors.New("session secret is required")
	}
	if len(cfg.PasswordHash) == 0 {
		return nil, errors.New("admin password hash is required")
	}
	if cfg.BodyLimit <= 0 {
		cfg.BodyLimit = 32 << 20
	}
	if cfg.UploadsPrefix == "" {
		cfg.UploadsPrefix = "/uploads/"
	}

	p, err := parsePages()
	if err != nil {
		return nil, errors.Wrap(err, "parse templates")
	}

	store := sessions.NewCookieStore(cfg.SessionSecret)
	store.Options = &sessions.Options{
		Path:     "/",
		MaxAge:   int((7 * 24 * time.Hour).Seconds()),
		HttpOnly: true,
		Secure:   cfg.SecureCookie,
		SameSite: http.SameSiteLaxMode,
	}

	return &Handler{
		catalog:   c,
		sessions:  store,
		password:  cfg.PasswordHash,
		pages:     p,
		maxUpload: cfg.MaxUploadBytes,
		bodyLimit: cfg.BodyLimit,

		loginAttempts: max(cfg.LoginAttempts, 1),
		loginWindow:   max(cfg.LoginWindow, time.Second),
		trustProxy:    cfg.TrustProxy,
		uploads:       cfg.Uploads,
		uploadsPrefix: cfg.UploadsPrefix,
	}, nil
}

// Routes returns the router with every storefront route. Health endpoints
// are mounted by the caller. ctx bounds the login limiter sweeper.
func (h *Handler) Routes(ctx context.Context) *chi.Mux {
	r := chi.NewRouter()

	r.Get("/", h.static("index", "Inicio"))
	r.Get("/menu", h.menu)
	r.Get("/carrito", h.static("carrito", "Carrito"))
	r.Get("/info", h.static("info", "Información"))
	r.Get("/contacto", h.static("contacto", "Contacto"))
	r.Get("/api/menu", h.apiMenu)

	loginLimit := httpmiddleware.RateLimit(ctx, httpmiddleware.RateLimitConfig{
		Max:            h.loginAttempts,
		Window:         h.loginWindow,
		TrustForwarded: h.trustProxy,
		OnLimit:        http.HandlerFunc(h.loginLimited),
	})
	r.Get("/login", h.loginForm)
	r.With(loginLimit).Post("/login", h.login)
	r.Get("/logout", h.logout)

	r.Group(func(r chi.Router) {
		r.Use(h.requireAdmin)
		r.Get("/editserver", h.editor)
		r.Post("/editserver", h.editorAction)
	})

	assets, _ := fs.Sub(staticFS, "static")
	r.Handle("/static/*", http.StripPrefix("/static/", http.FileServer(http.FS(assets))))
	if h.uploads != nil {
		r.Handle(strings.TrimSuffix(h.uploadsPrefix, "/")+"/*", h.uploads)
	}

	r.NotFound(h.notFound)
	return r
}
