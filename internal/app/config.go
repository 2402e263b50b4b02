package app

import (
	"os"
	"time"

	"github.com/cristalhq/aconfig"
	"github.com/cristalhq/aconfig/aconfigyaml"
	"github.com/go-faster/errors"
	"github.com/gorilla/securecookie"
	"github.com/joho/godotenv"
	"golang.org/x/crypto/bcrypt"

	"github.com/dulcetentacion/storefront/internal/domain/image"
)

const defaultAddr = "0.0.0.0:8080"

// Catalog store backends.
const (
	BackendPostgres = "postgres"
	BackendBolt     = "bolt"
)

// Config holds the complete application configuration, loadable from
// environment variables (DULCE_ prefix), flags, or YAML config files.
type Config struct {
	Addr              string `default:"0.0.0.0:8080" usage:"HTTP listen address"`
	DatabaseURL       string `usage:"PostgreSQL connection URL; empty selects the embedded store" flag:"database-url"`
	DataFile          string `default:"data/catalog.db" usage:"Embedded catalog store file" flag:"data-file"`
	AdminPassword     string `usage:"Admin password (DULCE_ADMIN_PASSWORD or ADMIN_PASSWORD)" flag:"admin-password"`
	AdminPasswordHash string `usage:"Bcrypt hash of the admin password, preferred over AdminPassword" flag:"admin-password-hash"`
	SessionSecret     string `usage:"Session cookie signing key (DULCE_SESSION_SECRET or SECRET_KEY)" flag:"session-secret"`
	SecureCookie      bool   `default:"false" usage:"Mark the session cookie Secure" flag:"secure-cookie"`
	BodyLimit         int64  `default:"33554432" usage:"Maximum admin request body in bytes" flag:"body-limit"`
	BackupDir         string `default:"backups" usage:"Directory for catalog backups" flag:"backup-dir"`
	TrustProxy        bool   `default:"false" usage:"Trust X-Forwarded-For from a reverse proxy for login rate limiting" flag:"trust-proxy"`
	Images            ImagesConfig
	LoginRateLimit    RateLimitConfig
	Graceful          GracefulConfig
}

// ImagesConfig selects and configures the image store. Cloudinary is used
// when all its credentials are set, the local directory otherwise.
type ImagesConfig struct {
	Dir         string `default:"data/uploads" usage:"Local image directory"`
	URLPrefix   string `default:"/uploads/" usage:"URL path local images are served under" flag:"images-url-prefix"`
	MaxBytes    int64  `default:"5242880" usage:"Maximum image size in bytes" flag:"images-max-bytes"`
	Placeholder string `usage:"Placeholder image reference"`
	Cloudinary  CloudinaryConfig
}

// CloudinaryConfig holds the Cloudinary account credentials.
type CloudinaryConfig struct {
	CloudName string `usage:"Cloudinary cloud name (CLOUDINARY_CLOUD_NAME)" flag:"cloudinary-cloud-name"`
	APIKey    string `usage:"Cloudinary API key (CLOUDINARY_API_KEY)" flag:"cloudinary-api-key"`
	APISecret string `usage:"Cloudinary API secret (CLOUDINARY_API_SECRET)" flag:"cloudinary-api-secret"`
	Folder    string `default:"dulce_tentacion" usage:"Cloudinary folder for product images" flag:"cloudinary-folder"`
}

// Enabled reports whether all credentials are set.
func (c CloudinaryConfig) Enabled() bool {
	return c.CloudName != "" && c.APIKey != "" && c.APISecret != ""
}

// RateLimitConfig controls the per-client login attempt limiter.
type RateLimitConfig struct {
	Max    int           `default:"5" usage:"Max login attempts per window"`
	Window time.Duration `default:"1m" usage:"Login rate limit window"`
}

// GracefulConfig controls graceful shutdown timing.
type GracefulConfig struct {
	ReadinessDelay  time.Duration `default:"3s"  usage:"Delay after readiness=false before shutdown" flag:"readiness-delay"`
	ShutdownTimeout time.Duration `default:"15s" usage:"Maximum shutdown duration" flag:"shutdown-timeout"`
}

// LoadConfig loads the server configuration from a .env file, environment
// variables, YAML config files and flags, and applies platform defaults.
func LoadConfig() (*Config, error) {
	cfg, err := load(false)
	if err != nil {
		return nil, err
	}
	if cfg.AdminPassword == "" && cfg.AdminPasswordHash == "" {
		return nil, errors.New("admin password is required: set DULCE_ADMIN_PASSWORD, ADMIN_PASSWORD or DULCE_ADMIN_PASSWORD_HASH")
	}
	return cfg, nil
}

// LoadToolConfig loads the configuration for command line tools. Flags are
// left to the tool and no admin password is required.
func LoadToolConfig() (*Config, error) {
	return load(true)
}

func load(skipFlags bool) (*Config, error) {
	// A missing .env is fine; real environment variables win.
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, errors.Wrap(err, "load .env")
	}

	var cfg Config
	loader := aconfig.LoaderFor(&cfg, aconfig.Config{
		EnvPrefix: "DULCE",
		SkipFlags: skipFlags,
		Files:     []string{"config.yaml", "/etc/dulce/config.yaml"},
		FileDecoders: map[string]aconfig.FileDecoder{
			".yaml": aconfigyaml.New(),
		},
	})
	if err := loader.Load(); err != nil {
		return nil, errors.Wrap(err, "load config")
	}
	cfg.applyPlatformDefaults()
	return &cfg, nil
}

// applyPlatformDefaults maps the unprefixed variables set by hosting
// platforms (DATABASE_URL, PORT, SECRET_KEY, ...) to the configuration.
func (c *Config) applyPlatformDefaults() {
	fill := func(dst *string, env string) {
		if *dst != "" {
			return
		}
		if v := os.Getenv(env); v != "" {
			*dst = v
		}
	}
	fill(&c.DatabaseURL, "DATABASE_URL")
	fill(&c.AdminPassword, "ADMIN_PASSWORD")
	fill(&c.SessionSecret, "SECRET_KEY")
	fill(&c.Images.Cloudinary.CloudName, "CLOUDINARY_CLOUD_NAME")
	fill(&c.Images.Cloudinary.APIKey, "CLOUDINARY_API_KEY")
	fill(&c.Images.Cloudinary.APISecret, "CLOUDINARY_API_SECRET")

	if port := os.Getenv("PORT"); port != "" && c.Addr == defaultAddr {
		c.Addr = "0.0.0.0:" + port
	}
	if c.Images.Placeholder == "" {
		c.Images.Placeholder = image.Placeholder
	}
}

// Backend returns the catalog store backend selected by the configuration.
func (c *Config) Backend() string {
	if c.DatabaseURL != "" {
		return BackendPostgres
	}
	return BackendBolt
}

// PasswordHash returns the bcrypt hash of the admin password, hashing the
// plain password when no hash is configured.
func (c *Config) PasswordHash() ([]byte, error) {
	if c.AdminPasswordHash != "" {
		if _, err := bcrypt.Cost([]byte(c.AdminPasswordHash)); err != nil {
			return nil, errors.Wrap(err, "invalid admin password hash")
		}
		return []byte(c.AdminPasswordHash), nil
	}
	if c.AdminPassword == "" {
		return nil, errors.New("admin password is not set")
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(c.AdminPassword), bcrypt.DefaultCost)
	if err != nil {
		return nil, errors.Wrap(err, "hash admin password")
	}
	return hash, nil
}

// SessionKey returns the session signing key. The second result is true
// when no secret was configured and a random key was generated, which
// invalidates sessions on every restart.
func (c *Config) SessionKey() ([]byte, bool) {
	if c.SessionSecret != "" {
		return []byte(c.SessionSecret), false
	}
	return securecookie.GenerateRandomKey(32), true
}
