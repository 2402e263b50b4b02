package handler

import (
	"bytes"
	"embed"
	"html/template"
	"net/http"
	"strconv"

	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/zctx"
	"go.uber.org/zap"
)

//go:embed templates
var templateFS embed.FS

var pageNames = []string{"index", "menu", "carrito", "info", "contacto", "login", "editserver"}

// view is the data every page receives.
type view struct {
	Title   string
	Admin   bool
	Notices []string
	Errors  []string
	Data    any
}

type pages struct {
	byName map[string]*template.Template
}

var funcs = template.FuncMap{
	"price": formatPrice,
	"deref": func(p *int64) int64 {
		if p == nil {
			return 0
		}
		return *p
	},
}

func parsePages() (*pages, error) {
	p := &pages{byName: make(map[string]*template.Template, len(pageNames))}
	for _, name := range pageNames {
		t, err := template.New(name).Funcs(funcs).ParseFS(templateFS,
			"templates/layout.html",
			"templates/"+name+".html",
		)
		if err != nil {
			return nil, errors.Wrapf(err, "parse %s", name)
		}
		p.byName[name] = t
	}
	return p, nil
}

// formatPrice renders minor units with thousands separators: 12000 -> $12.000.
func formatPrice(v int64) string {
	neg := v < 0
	if neg {
		v = -v
	}
	digits := strconv.FormatInt(v, 10)
	var b []byte
	for i := range len(digits) {
		if i > 0 && (len(digits)-i)%3 == 0 {
			b = append(b, '.')
		}
		b = append(b, digits[i])
	}
	if neg {
		return "-$" + string(b)
	}
	return "$" + string(b)
}

// render executes the page into a buffer so template errors never produce a
// half-written response.
func (h *Handler) render(w http.ResponseWriter, r *http.Request, status int, name string, v view) {
	t, ok := h.pages.byName[name]
	if !ok {
		zctx.From(r.Context()).Error("Unknown page", zap.String("page", name))
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}

	sess := h.session(r)
	v.Admin = isAdmin(sess)
	notices := flashes(sess, flashNotice)
	errs := flashes(sess, flashError)
	v.Notices = append(v.Notices, notices...)
	v.Errors = append(v.Errors, errs...)
	// Anonymous visitors get no cookie until something is stored.
	if !sess.IsNew || len(notices)+len(errs) > 0 {
		if err := sess.Save(r, w); err != nil {
			zctx.From(r.Context()).Warn("Save session", zap.Error(err))
		}
	}

	var buf bytes.Buffer
	if err := t.ExecuteTemplate(&buf, "layout", v); err != nil {
		zctx.From(r.Context()).Error("Render page", zap.String("page", name), zap.Error(err))
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(status)
	_, _ = w.Write(buf.Bytes())
}

func (h *Handler) notFound(w http.ResponseWriter, _ *http.Request) {
	http.Error(w, "Página no encontrada", http.StatusNotFound)
}
